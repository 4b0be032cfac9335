package workers

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
	"golang.org/x/text/unicode/norm"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"loci-server/models"
	"loci-server/utils"
)

// RemoteProfile is one entry of the profile service change feed.
type RemoteProfile struct {
	ExternalID        string    `json:"external_id"`
	Username          string    `json:"username"`
	DisplayName       *string   `json:"display_name,omitempty"`
	FirstName         *string   `json:"first_name,omitempty"`
	LastName          *string   `json:"last_name,omitempty"`
	ProfilePictureURL *string   `json:"profile_picture_url,omitempty"`
	AccountStatus     string    `json:"account_status"`
	CreatedAt         time.Time `json:"created_at"`
	UpdatedAt         time.Time `json:"updated_at"`
}

type profileChangesResponse struct {
	Users []RemoteProfile `json:"users"`
}

// UserSyncWorker mirrors profile service users into app_users.
type UserSyncWorker struct {
	db           *gorm.DB
	interval     time.Duration
	baseURL      string
	endpointPath string
	serviceToken string
	httpClient   *http.Client
}

func NewUserSyncWorker(db *gorm.DB, syncServiceBaseURL, serviceToken string, interval time.Duration) *UserSyncWorker {
	if interval <= 0 {
		interval = time.Minute
	}
	return &UserSyncWorker{
		db:           db,
		interval:     interval,
		baseURL:      syncServiceBaseURL,
		endpointPath: "/api/v1/public/profiles",
		serviceToken: serviceToken,
		httpClient:   utils.NewHTTPClient(30 * time.Second),
	}
}

func (w *UserSyncWorker) Start(ctx context.Context) {
	log.Info("🔁 Starting user sync worker (sync-service → app_users)…")
	go w.run(ctx)
}

func (w *UserSyncWorker) run(ctx context.Context) {
	if _, err := w.SyncOnce(ctx); err != nil {
		log.WithError(err).Warn("[SYNC] ⚠️ initial sync failed")
	}

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if _, err := w.SyncOnce(ctx); err != nil {
				log.WithError(err).Error("[SYNC] ❌ sync batch failed")
			}
		case <-ctx.Done():
			log.Info("⏹️ User sync worker stopped")
			return
		}
	}
}

// lastSyncTime is the newest mirrored updated_at, or the epoch on an empty table.
func (w *UserSyncWorker) lastSyncTime(ctx context.Context) time.Time {
	var latest models.AppUser
	err := w.db.WithContext(ctx).Unscoped().Order("updated_at DESC").Select("updated_at").Take(&latest).Error
	if err != nil || latest.UpdatedAt.IsZero() {
		return time.Unix(0, 0).UTC()
	}
	return latest.UpdatedAt
}

// SyncOnce pulls one batch of changes and upserts them. It returns the number of rows written.
func (w *UserSyncWorker) SyncOnce(ctx context.Context) (int, error) {
	since := w.lastSyncTime(ctx)
	profiles, err := w.fetch(ctx, since)
	if err != nil {
		return 0, err
	}
	if len(profiles) == 0 {
		log.Debugf("[SYNC] no user changes since %s", since.Format(time.RFC3339))
		return 0, nil
	}

	var upserted, failed int
	for _, p := range profiles {
		if p.ExternalID == "" {
			failed++
			continue
		}
		if err := w.upsert(ctx, toAppUser(p)); err != nil {
			failed++
			log.WithError(err).WithFields(log.Fields{
				"external_id": p.ExternalID,
				"username":    p.Username,
			}).Warn("[SYNC] ⚠️ failed to upsert app_user")
			continue
		}
		upserted++
	}

	log.Infof("[SYNC] ✅ synced %d user(s) (%d upserted, %d errors)", len(profiles), upserted, failed)
	return upserted, nil
}

func (w *UserSyncWorker) fetch(ctx context.Context, since time.Time) ([]RemoteProfile, error) {
	base, err := url.Parse(w.baseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid sync service URL %q: %w", w.baseURL, err)
	}
	endpoint := base.JoinPath(w.endpointPath)
	q := endpoint.Query()
	q.Set("since", since.UTC().Format(time.RFC3339))
	endpoint.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint.String(), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("X-Service-Token", w.serviceToken)

	resp, err := w.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("sync service request failed: %w", err)
	}
	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("sync service returned %d: %s", resp.StatusCode, string(body))
	}

	var out profileChangesResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("failed to decode sync service response: %w", err)
	}
	return out.Users, nil
}

func (w *UserSyncWorker) upsert(ctx context.Context, u models.AppUser) error {
	return w.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "external_user_id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"username", "display_name", "profile_image_ref", "updated_at", "deleted_at",
		}),
	}).Create(&u).Error
}

func toAppUser(p RemoteProfile) models.AppUser {
	u := models.AppUser{
		ID:              uuid.NewString(),
		ExternalUserID:  p.ExternalID,
		Username:        norm.NFC.String(strings.TrimSpace(p.Username)),
		DisplayName:     displayName(p),
		ProfileImageRef: p.ProfilePictureURL,
		CreatedAt:       p.CreatedAt.UTC(),
		UpdatedAt:       p.UpdatedAt.UTC(),
	}
	switch p.AccountStatus {
	case "deactivated", "deleted", "suspended":
		u.DeletedAt = gorm.DeletedAt{Time: p.UpdatedAt.UTC(), Valid: true}
	}
	return u
}

// displayName prefers the explicit display name, then "first last", then the username.
// Korean names arrive from iOS decomposed; NFC keeps them comparable.
func displayName(p RemoteProfile) string {
	if p.DisplayName != nil && strings.TrimSpace(*p.DisplayName) != "" {
		return norm.NFC.String(strings.TrimSpace(*p.DisplayName))
	}
	var parts []string
	for _, s := range []*string{p.FirstName, p.LastName} {
		if s != nil && strings.TrimSpace(*s) != "" {
			parts = append(parts, strings.TrimSpace(*s))
		}
	}
	if len(parts) > 0 {
		return norm.NFC.String(strings.Join(parts, " "))
	}
	return norm.NFC.String(strings.TrimSpace(p.Username))
}
