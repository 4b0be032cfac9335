package models

import (
	"strings"
	"time"
)

// InteractionType is a social action that earns intimacy points for a pair of users.
type InteractionType string

const (
	InteractionFriendMade   InteractionType = "FRIEND_MADE"
	InteractionReaction     InteractionType = "REACTION"
	InteractionComment      InteractionType = "COMMENT"
	InteractionVisit        InteractionType = "VISIT"
	InteractionCollaborator InteractionType = "COLLABORATOR"
	InteractionNudge        InteractionType = "NUDGE"
)

var interactionPoints = map[InteractionType]int64{
	InteractionFriendMade:   50,
	InteractionCollaborator: 50,
	InteractionVisit:        30,
	InteractionComment:      10,
	InteractionReaction:     5,
	InteractionNudge:        1,
}

// Points returns the fixed award for the type; ok is false for unknown types.
func (t InteractionType) Points() (points int64, ok bool) {
	points, ok = interactionPoints[t]
	return points, ok
}

func (t InteractionType) Valid() bool {
	_, ok := interactionPoints[t]
	return ok
}

// ParseInteractionType accepts any casing ("visit", "Visit", "VISIT").
func ParseInteractionType(s string) (InteractionType, bool) {
	t := InteractionType(strings.ToUpper(strings.TrimSpace(s)))
	return t, t.Valid()
}

// ScorePair is the intimacy ledger row for one unordered pair of users.
// UserLow < UserHigh always holds, so (A,B) and (B,A) resolve to the same row.
type ScorePair struct {
	ID              string     `gorm:"primaryKey;type:uuid" json:"id"`
	UserLow         string     `gorm:"not null;uniqueIndex:idx_score_pairs_users,priority:1" json:"user_low"`
	UserHigh        string     `gorm:"not null;uniqueIndex:idx_score_pairs_users,priority:2;index" json:"user_high"`
	CumulativeScore int64      `gorm:"not null;default:0" json:"cumulative_score"`
	Level           int        `gorm:"not null;default:1;index" json:"level"`
	LastLevelUpAt   *time.Time `json:"last_level_up_at,omitempty"`
	CreatedAt       time.Time  `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt       time.Time  `json:"updated_at" gorm:"autoUpdateTime"`
}

// MaxCorrelationTokenLength matches the correlation_token column width, counted in characters.
const MaxCorrelationTokenLength = 128

// InteractionEvent is one accepted scoring event. Rows are append-only: they are the
// audit trail and the only source the rate limits are computed from.
type InteractionEvent struct {
	ID               string          `gorm:"primaryKey;type:uuid" json:"id"`
	ActorID          string          `gorm:"not null;index:idx_interaction_events_lookup,priority:1" json:"actor_id"`
	TargetID         string          `gorm:"not null;index:idx_interaction_events_lookup,priority:2;index" json:"target_id"`
	Type             InteractionType `gorm:"type:varchar(32);not null;index:idx_interaction_events_lookup,priority:3" json:"type"`
	PointsAwarded    int64           `gorm:"not null" json:"points_awarded"`
	CorrelationToken *string         `gorm:"type:varchar(128)" json:"correlation_token,omitempty"`
	OccurredAt       time.Time       `gorm:"not null;index:idx_interaction_events_lookup,priority:4" json:"occurred_at"`
}
