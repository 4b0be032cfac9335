package services

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"

	"loci-server/models"
)

// UserIdentity is what other services need to address or display a user.
type UserIdentity struct {
	ID              string `json:"id"`
	Username        string `json:"username"`
	DisplayName     string `json:"display_name"`
	ProfileImageRef string `json:"profile_image_ref,omitempty"`
}

// UserDirectory answers identity lookups from the local user mirror.
type UserDirectory struct {
	DB *gorm.DB
}

func NewUserDirectory(db *gorm.DB) *UserDirectory {
	return &UserDirectory{DB: db}
}

// ResolveUser looks a user up by profile-service id.
func (d *UserDirectory) ResolveUser(ctx context.Context, id string) (*UserIdentity, error) {
	var u models.AppUser
	err := d.DB.WithContext(ctx).Where("external_user_id = ?", id).First(&u).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrUserNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("resolve user %s: %w", id, err)
	}

	ident := &UserIdentity{
		ID:          u.ExternalUserID,
		Username:    u.Username,
		DisplayName: u.DisplayName,
	}
	if ident.DisplayName == "" {
		ident.DisplayName = u.Username
	}
	if u.ProfileImageRef != nil {
		ident.ProfileImageRef = *u.ProfileImageRef
	}
	return ident, nil
}

// Exists returns ErrUserNotFound naming the first id that is not mirrored.
func (d *UserDirectory) Exists(ctx context.Context, ids ...string) error {
	if len(ids) == 0 {
		return nil
	}
	var found []string
	if err := d.DB.WithContext(ctx).Model(&models.AppUser{}).
		Where("external_user_id IN ?", ids).
		Pluck("external_user_id", &found).Error; err != nil {
		return fmt.Errorf("check users: %w", err)
	}

	seen := make(map[string]struct{}, len(found))
	for _, id := range found {
		seen[id] = struct{}{}
	}
	for _, id := range ids {
		if _, ok := seen[id]; !ok {
			return fmt.Errorf("%w: %s", ErrUserNotFound, id)
		}
	}
	return nil
}
