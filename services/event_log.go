package services

import (
	"fmt"
	"time"

	"gorm.io/gorm"

	"loci-server/models"
)

// EventLog is the append-only record of accepted interactions. Every rate-limit
// predicate is answered from it; there is no separate counter table.
//
// Methods take the *gorm.DB to run on so the engine can keep them inside its transaction.
type EventLog struct{}

func NewEventLog() *EventLog {
	return &EventLog{}
}

func (l *EventLog) Append(tx *gorm.DB, event *models.InteractionEvent) error {
	if err := tx.Create(event).Error; err != nil {
		return fmt.Errorf("append interaction event: %w", err)
	}
	return nil
}

// HasFriendMadeEvent is true once FRIEND_MADE was accepted between the two users,
// in either direction.
func (l *EventLog) HasFriendMadeEvent(tx *gorm.DB, u1, u2 string) (bool, error) {
	return l.exists(tx.Model(&models.InteractionEvent{}).
		Where("type = ?", models.InteractionFriendMade).
		Where("((actor_id = ? AND target_id = ?) OR (actor_id = ? AND target_id = ?))", u1, u2, u2, u1))
}

// HasDailyEvent checks the exact (actor, target, type) ordering inside [dayStart, dayEnd).
func (l *EventLog) HasDailyEvent(tx *gorm.DB, actorID, targetID string, kind models.InteractionType, dayStart, dayEnd time.Time) (bool, error) {
	return l.exists(tx.Model(&models.InteractionEvent{}).
		Where("actor_id = ? AND target_id = ? AND type = ?", actorID, targetID, kind).
		Where("occurred_at >= ? AND occurred_at < ?", dayStart.UTC(), dayEnd.UTC()))
}

// HasRecentVisit checks for a VISIT with the same ordered pair and token at or after since.
func (l *EventLog) HasRecentVisit(tx *gorm.DB, actorID, targetID, token string, since time.Time) (bool, error) {
	return l.exists(tx.Model(&models.InteractionEvent{}).
		Where("actor_id = ? AND target_id = ? AND type = ?", actorID, targetID, models.InteractionVisit).
		Where("correlation_token = ?", token).
		Where("occurred_at >= ?", since.UTC()))
}

// ListPairEvents pages through events between two users in either direction, newest first.
func (l *EventLog) ListPairEvents(db *gorm.DB, u1, u2 string, page, size int) ([]models.InteractionEvent, int64, error) {
	q := db.Model(&models.InteractionEvent{}).
		Where("(actor_id = ? AND target_id = ?) OR (actor_id = ? AND target_id = ?)", u1, u2, u2, u1).
		Session(&gorm.Session{})

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("count pair events: %w", err)
	}

	var events []models.InteractionEvent
	if err := q.Order("occurred_at DESC").
		Limit(size).Offset((page - 1) * size).
		Find(&events).Error; err != nil {
		return nil, 0, fmt.Errorf("list pair events: %w", err)
	}
	return events, total, nil
}

func (l *EventLog) exists(q *gorm.DB) (bool, error) {
	var ids []string
	if err := q.Limit(1).Pluck("id", &ids).Error; err != nil {
		return false, fmt.Errorf("query interaction events: %w", err)
	}
	return len(ids) > 0, nil
}
