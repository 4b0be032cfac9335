package models

import (
	"time"

	"gorm.io/gorm"
)

// AppUser is a local snapshot of the profile service user, kept fresh by the sync worker.
// Only the fields needed to address notifications are mirrored.
type AppUser struct {
	ID              string    `gorm:"primaryKey;type:uuid" json:"id"`
	ExternalUserID  string    `gorm:"uniqueIndex;not null" json:"external_user_id"` // profile service id, used everywhere else as "user id"
	Username        string    `gorm:"index;not null" json:"username"`
	DisplayName     string    `json:"display_name"`
	ProfileImageRef *string   `json:"profile_image_ref,omitempty"` // object key in the media bucket or an absolute URL
	CreatedAt       time.Time `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt       time.Time `json:"updated_at" gorm:"autoUpdateTime"`

	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"`
}
