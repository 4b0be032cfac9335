package services

import (
	"context"
	"errors"
	"fmt"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"loci-server/metrics"
	"loci-server/models"
)

// VisitCooldown is how long a (visitor, owner, token) triple stays spent.
const VisitCooldown = 7 * 24 * time.Hour

// LevelUpSignal is emitted once per accepted event that raised a pair's level.
type LevelUpSignal struct {
	ActorID  string `json:"actor_id"`
	TargetID string `json:"target_id"`
	NewLevel int    `json:"new_level"`
}

// LevelUpPublisher must not block the caller.
type LevelUpPublisher interface {
	Publish(signal LevelUpSignal)
}

type noopPublisher struct{}

func (noopPublisher) Publish(LevelUpSignal) {}

// IntimacyDetail is what a user sees about their relationship with someone else.
type IntimacyDetail struct {
	Level              int    `json:"level"`
	CumulativeScore    int64  `json:"cumulative_score"`
	NextLevelThreshold *int64 `json:"next_level_threshold,omitempty"`
	UserTotalLevel     int64  `json:"user_total_level"`
}

type PairHistory struct {
	Events     []models.InteractionEvent `json:"events"`
	Page       int                       `json:"page"`
	Size       int                       `json:"size"`
	TotalItems int64                     `json:"total_items"`
	TotalPages int                       `json:"total_pages"`
}

type IntimacyService struct {
	DB       *gorm.DB
	Levels   *LevelTable
	Events   *EventLog
	Ledger   *ScoreLedger
	Location *time.Location
	Now      func() time.Time

	publisher LevelUpPublisher
	locks     pairLocks
}

func NewIntimacyService(db *gorm.DB, levels *LevelTable, publisher LevelUpPublisher, loc *time.Location) *IntimacyService {
	if levels == nil {
		levels = DefaultLevelTable
	}
	if publisher == nil {
		publisher = noopPublisher{}
	}
	if loc == nil {
		loc = time.UTC
	}
	return &IntimacyService{
		DB:        db,
		Levels:    levels,
		Events:    NewEventLog(),
		Ledger:    NewScoreLedger(levels),
		Location:  loc,
		Now:       time.Now,
		publisher: publisher,
	}
}

// Accrue processes one interaction trigger. A throttled or self-directed trigger is
// not an error: it returns nil and changes nothing.
func (s *IntimacyService) Accrue(ctx context.Context, actorID, targetID string, kind models.InteractionType, correlationToken string) error {
	if actorID == targetID {
		metrics.RecordAccrual(string(kind), metrics.OutcomeSelf)
		return nil
	}
	points, ok := kind.Points()
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownInteractionType, kind)
	}
	if kind == models.InteractionVisit && correlationToken == "" {
		return ErrCorrelationTokenRequired
	}
	if utf8.RuneCountInString(correlationToken) > models.MaxCorrelationTokenLength {
		return ErrCorrelationTokenTooLong
	}

	unlock := s.locks.lock(CanonicalPair(actorID, targetID))
	defer unlock()

	now := s.Now().UTC()
	var (
		limited bool
		signal  *LevelUpSignal
	)

	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		pair, err := s.Ledger.GetOrCreate(tx, actorID, targetID)
		if err != nil {
			return err
		}

		limited, err = s.rateLimited(tx, actorID, targetID, kind, correlationToken, now)
		if err != nil || limited {
			return err
		}

		oldLevel, newLevel, err := s.Ledger.AddScore(tx, pair, points, now)
		if err != nil {
			return err
		}

		event := &models.InteractionEvent{
			ID:            uuid.NewString(),
			ActorID:       actorID,
			TargetID:      targetID,
			Type:          kind,
			PointsAwarded: points,
			OccurredAt:    now,
		}
		if correlationToken != "" {
			event.CorrelationToken = &correlationToken
		}
		if err := s.Events.Append(tx, event); err != nil {
			return err
		}

		if newLevel > oldLevel {
			signal = &LevelUpSignal{ActorID: actorID, TargetID: targetID, NewLevel: newLevel}
		}
		return nil
	})
	if err != nil {
		log.WithError(err).WithFields(log.Fields{
			"actor":  actorID,
			"target": targetID,
			"type":   kind,
		}).Error("[INTIMACY] ❌ accrual failed")
		return fmt.Errorf("accrue %s %s->%s: %w", kind, actorID, targetID, err)
	}

	if limited {
		metrics.RecordAccrual(string(kind), metrics.OutcomeThrottled)
		log.WithFields(log.Fields{"actor": actorID, "target": targetID, "type": kind}).
			Debug("[INTIMACY] throttled")
		return nil
	}
	metrics.RecordAccrual(string(kind), metrics.OutcomeAccepted)

	if signal != nil {
		metrics.RecordLevelUp(signal.NewLevel)
		log.WithFields(log.Fields{
			"actor":  actorID,
			"target": targetID,
			"level":  signal.NewLevel,
		}).Info("[INTIMACY] 🎉 pair levelled up")
		s.publisher.Publish(*signal)
	}
	return nil
}

func (s *IntimacyService) rateLimited(tx *gorm.DB, actorID, targetID string, kind models.InteractionType, token string, now time.Time) (bool, error) {
	switch kind {
	case models.InteractionFriendMade:
		// once per pair, in either direction
		return s.Events.HasFriendMadeEvent(tx, actorID, targetID)
	case models.InteractionReaction, models.InteractionComment, models.InteractionCollaborator:
		start, end := s.dayWindow(now)
		return s.Events.HasDailyEvent(tx, actorID, targetID, kind, start, end)
	case models.InteractionVisit:
		return s.Events.HasRecentVisit(tx, actorID, targetID, token, now.Add(-VisitCooldown))
	default:
		return false, nil
	}
}

// dayWindow is the calendar day containing now in the reference time zone.
func (s *IntimacyService) dayWindow(now time.Time) (start, end time.Time) {
	local := now.In(s.Location)
	start = time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, s.Location)
	return start, start.AddDate(0, 0, 1)
}

// Detail reports the requester's relationship with otherID. Pairs that never
// interacted read as level 1, score 0.
func (s *IntimacyService) Detail(ctx context.Context, requesterID, otherID string) (*IntimacyDetail, error) {
	db := s.DB.WithContext(ctx)
	detail := &IntimacyDetail{Level: s.Levels.MinLevel()}

	if requesterID != otherID {
		pair, err := s.Ledger.Find(db, requesterID, otherID)
		switch {
		case err == nil:
			detail.Level = pair.Level
			detail.CumulativeScore = pair.CumulativeScore
		case errors.Is(err, gorm.ErrRecordNotFound):
		default:
			return nil, err
		}
	}

	if next, ok := s.Levels.NextThreshold(detail.Level); ok {
		detail.NextLevelThreshold = &next
	}

	total, err := s.Ledger.SumLevelsForUser(db, requesterID)
	if err != nil {
		return nil, err
	}
	detail.UserTotalLevel = total
	return detail, nil
}

func (s *IntimacyService) TotalLevel(ctx context.Context, userID string) (int64, error) {
	return s.Ledger.SumLevelsForUser(s.DB.WithContext(ctx), userID)
}

// History pages through the events exchanged by a pair, newest first.
func (s *IntimacyService) History(ctx context.Context, u1, u2 string, page, size int) (*PairHistory, error) {
	if page < 1 {
		page = 1
	}
	if size < 1 || size > 100 {
		size = 20
	}

	events, total, err := s.Events.ListPairEvents(s.DB.WithContext(ctx), u1, u2, page, size)
	if err != nil {
		return nil, err
	}
	return &PairHistory{
		Events:     events,
		Page:       page,
		Size:       size,
		TotalItems: total,
		TotalPages: int((total + int64(size) - 1) / int64(size)),
	}, nil
}

// RefreshLevelGauge snapshots pairs-by-level into the metrics gauge.
func (s *IntimacyService) RefreshLevelGauge(ctx context.Context) error {
	rows, err := s.Ledger.CountByLevel(s.DB.WithContext(ctx))
	if err != nil {
		return err
	}
	counts := make(map[int]int64, len(rows))
	for _, r := range rows {
		counts[r.Level] = r.Pairs
	}
	metrics.SetPairsByLevel(counts)
	return nil
}
