package models

import "time"

type NotificationType string

const (
	NotificationIntimacyLevelUp NotificationType = "intimacy_level_up"
)

// Notification is an in-app inbox entry. Push delivery is best effort on top of it.
type Notification struct {
	ID     string           `gorm:"primaryKey;type:uuid" json:"id"`
	UserID string           `gorm:"not null;index:idx_notifications_user_created,priority:1" json:"user_id"`
	Type   NotificationType `gorm:"type:varchar(32);not null" json:"type"`
	Title  string           `gorm:"not null" json:"title"`
	Body   string           `gorm:"type:text" json:"body"`

	// The other participant of the event this notification is about.
	PeerUserID      string `gorm:"index" json:"peer_user_id,omitempty"`
	PeerDisplayName string `json:"peer_display_name,omitempty"`
	PeerImageURL    string `gorm:"type:text" json:"peer_image_url,omitempty"`
	Level           int    `json:"level,omitempty"`

	Read      bool       `gorm:"not null;default:false;index" json:"read"`
	ReadAt    *time.Time `json:"read_at,omitempty"`
	CreatedAt time.Time  `gorm:"index:idx_notifications_user_created,priority:2" json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
}
