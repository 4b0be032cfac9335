package services

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"loci-server/metrics"
	"loci-server/models"
)

// ImageURLResolver turns a stored profile image reference into a URL a client can load.
type ImageURLResolver interface {
	ResolveImageURL(ctx context.Context, ref string) (string, error)
}

type NotificationService struct {
	DB     *gorm.DB
	Users  *UserDirectory
	Push   PushSender
	Images ImageURLResolver // optional

	StreamInterval time.Duration
}

func NewNotificationService(db *gorm.DB, users *UserDirectory, push PushSender, images ImageURLResolver) *NotificationService {
	if push == nil {
		push = LogPushSender{}
	}
	return &NotificationService{
		DB:             db,
		Users:          users,
		Push:           push,
		Images:         images,
		StreamInterval: 2 * time.Second,
	}
}

type NotificationPage struct {
	Notifications []models.Notification `json:"notifications"`
	Page          int                   `json:"page"`
	Size          int                   `json:"size"`
	TotalItems    int64                 `json:"total_items"`
	TotalPages    int                   `json:"total_pages"`
}

// NotifyLevelUp stores one inbox entry per participant, each describing the other
// participant, then pushes them. A participant missing from the mirror gets no entry;
// the other one is still notified. Push failures are logged and do not fail the call.
func (s *NotificationService) NotifyLevelUp(ctx context.Context, signal LevelUpSignal) error {
	actor, err := s.participant(ctx, signal.ActorID)
	if err != nil {
		metrics.RecordNotification(metrics.NotifyFailed)
		return err
	}
	target, err := s.participant(ctx, signal.TargetID)
	if err != nil {
		metrics.RecordNotification(metrics.NotifyFailed)
		return err
	}
	if actor == nil && target == nil {
		metrics.RecordNotification(metrics.NotifyFailed)
		return fmt.Errorf("%w: %s and %s", ErrUserNotFound, signal.ActorID, signal.TargetID)
	}

	var notes []models.Notification
	if target != nil {
		notes = append(notes, s.levelUpNotification(ctx, target.ID, peerOrPlaceholder(actor, signal.ActorID), signal.NewLevel))
	}
	if actor != nil {
		notes = append(notes, s.levelUpNotification(ctx, actor.ID, peerOrPlaceholder(target, signal.TargetID), signal.NewLevel))
	}
	if err := s.DB.WithContext(ctx).Create(&notes).Error; err != nil {
		metrics.RecordNotification(metrics.NotifyFailed)
		return fmt.Errorf("store level-up notifications: %w", err)
	}

	for _, n := range notes {
		metrics.RecordNotification(metrics.NotifyStored)

		msg := PushMessage{
			UserID: n.UserID,
			Title:  n.Title,
			Body:   n.Body,
			Data: map[string]string{
				"type":            string(n.Type),
				"notification_id": n.ID,
				"peer_user_id":    n.PeerUserID,
				"level":           strconv.Itoa(n.Level),
			},
		}
		if err := s.Push.Send(ctx, msg); err != nil {
			metrics.RecordNotification(metrics.NotifyPushFailed)
			log.WithError(err).WithField("user", n.UserID).Warn("[PUSH] ⚠️ level-up push failed")
			continue
		}
		metrics.RecordNotification(metrics.NotifyPushed)
	}
	return nil
}

// participant returns nil without error when the user is not (or no longer) mirrored.
func (s *NotificationService) participant(ctx context.Context, id string) (*UserIdentity, error) {
	ident, err := s.Users.ResolveUser(ctx, id)
	if errors.Is(err, ErrUserNotFound) {
		log.WithField("user", id).Warn("[NOTIFY] ⚠️ level-up participant not found, skipping their notification")
		return nil, nil
	}
	return ident, err
}

func peerOrPlaceholder(ident *UserIdentity, id string) *UserIdentity {
	if ident != nil {
		return ident
	}
	return &UserIdentity{ID: id}
}

func (s *NotificationService) levelUpNotification(ctx context.Context, recipientID string, peer *UserIdentity, level int) models.Notification {
	return models.Notification{
		ID:              uuid.NewString(),
		UserID:          recipientID,
		Type:            models.NotificationIntimacyLevelUp,
		Title:           "Intimacy level up!",
		Body:            fmt.Sprintf("You and %s reached intimacy level %d", peerName(peer), level),
		PeerUserID:      peer.ID,
		PeerDisplayName: peer.DisplayName,
		PeerImageURL:    s.imageURL(ctx, peer.ProfileImageRef),
		Level:           level,
	}
}

func peerName(peer *UserIdentity) string {
	if peer.DisplayName == "" {
		return "a friend"
	}
	return peer.DisplayName
}

// imageURL degrades to the raw reference when presigning fails.
func (s *NotificationService) imageURL(ctx context.Context, ref string) string {
	if ref == "" || s.Images == nil {
		return ref
	}
	url, err := s.Images.ResolveImageURL(ctx, ref)
	if err != nil {
		log.WithError(err).WithField("ref", ref).Warn("[NOTIFY] could not resolve profile image")
		return ref
	}
	return url
}

// List returns the user's notifications, newest first.
func (s *NotificationService) List(ctx context.Context, userID string, page, size int) (*NotificationPage, error) {
	if page < 1 {
		page = 1
	}
	if size < 1 || size > 100 {
		size = 20
	}

	q := s.DB.WithContext(ctx).Model(&models.Notification{}).
		Where("user_id = ?", userID).
		Session(&gorm.Session{})

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, fmt.Errorf("count notifications: %w", err)
	}

	var items []models.Notification
	if err := q.Order("created_at DESC").
		Limit(size).Offset((page - 1) * size).
		Find(&items).Error; err != nil {
		return nil, fmt.Errorf("list notifications: %w", err)
	}

	return &NotificationPage{
		Notifications: items,
		Page:          page,
		Size:          size,
		TotalItems:    total,
		TotalPages:    int((total + int64(size) - 1) / int64(size)),
	}, nil
}

func (s *NotificationService) UnreadCount(ctx context.Context, userID string) (int64, error) {
	var n int64
	err := s.DB.WithContext(ctx).Model(&models.Notification{}).
		Where("user_id = ? AND read = ?", userID, false).
		Count(&n).Error
	if err != nil {
		return 0, fmt.Errorf("count unread notifications: %w", err)
	}
	return n, nil
}

// MarkRead is idempotent. Another user's notification reads as not found.
func (s *NotificationService) MarkRead(ctx context.Context, userID, id string) (*models.Notification, error) {
	db := s.DB.WithContext(ctx)

	var n models.Notification
	err := db.Where("id = ? AND user_id = ?", id, userID).First(&n).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotificationNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load notification: %w", err)
	}
	if n.Read {
		return &n, nil
	}

	now := time.Now().UTC()
	if err := db.Model(&n).Updates(map[string]interface{}{"read": true, "read_at": now}).Error; err != nil {
		return nil, fmt.Errorf("mark notification read: %w", err)
	}
	n.Read = true
	n.ReadAt = &now
	return &n, nil
}

// PurgeRead deletes read notifications created before cutoff.
func (s *NotificationService) PurgeRead(ctx context.Context, cutoff time.Time) (int64, error) {
	res := s.DB.WithContext(ctx).
		Where("read = ? AND created_at < ?", true, cutoff.UTC()).
		Delete(&models.Notification{})
	if res.Error != nil {
		return 0, fmt.Errorf("purge notifications: %w", res.Error)
	}
	return res.RowsAffected, nil
}

// newSince returns notifications for userID created after the cursor, oldest first.
func (s *NotificationService) newSince(userID string, cursor time.Time) ([]models.Notification, error) {
	var items []models.Notification
	err := s.DB.
		Where("user_id = ? AND created_at > ?", userID, cursor.UTC()).
		Order("created_at ASC").
		Find(&items).Error
	return items, err
}

// StreamUserNotificationsSSE streams new inbox entries for the authenticated user.
func (s *NotificationService) StreamUserNotificationsSSE(c *fiber.Ctx) error {
	userID, _ := c.Locals("user_id").(string)
	if userID == "" {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "unauthenticated"})
	}

	c.Set("Content-Type", "text/event-stream")
	c.Set("Cache-Control", "no-cache")
	c.Set("Connection", "keep-alive")
	c.Set("X-Accel-Buffering", "no")

	interval := s.StreamInterval
	if interval <= 0 {
		interval = 2 * time.Second
	}

	c.Context().SetBodyStreamWriter(func(w *bufio.Writer) {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		cursor := time.Now().UTC()

		w.WriteString(":\n\n")
		if err := w.Flush(); err != nil {
			return
		}

		for {
			select {
			case <-ticker.C:
				items, err := s.newSince(userID, cursor)
				if err != nil {
					log.WithError(err).WithField("user", userID).Warn("[SSE] notification query failed")
					continue
				}
				if len(items) == 0 {
					// keepalive so proxies do not cut the stream
					w.WriteString(":\n\n")
				} else {
					cursor = items[len(items)-1].CreatedAt
					for _, n := range items {
						payload, _ := json.Marshal(n)
						fmt.Fprintf(w, "event: notification\ndata: %s\n\n", payload)
					}
				}
				if err := w.Flush(); err != nil {
					return
				}
			case <-c.Context().Done():
				return
			}
		}
	})
	return nil
}
