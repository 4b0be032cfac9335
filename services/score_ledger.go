package services

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"loci-server/models"
)

// ScoreLedger owns the score_pairs table: one row per unordered pair of users.
type ScoreLedger struct {
	Levels *LevelTable
}

func NewScoreLedger(levels *LevelTable) *ScoreLedger {
	return &ScoreLedger{Levels: levels}
}

// CanonicalPair orders two user ids so both directions address the same row.
func CanonicalPair(u1, u2 string) (low, high string) {
	if u1 < u2 {
		return u1, u2
	}
	return u2, u1
}

// GetOrCreate returns the pair row, creating it at score 0 / level 1 when missing.
// On postgres the row is locked FOR UPDATE until tx ends.
func (l *ScoreLedger) GetOrCreate(tx *gorm.DB, u1, u2 string) (*models.ScorePair, error) {
	low, high := CanonicalPair(u1, u2)

	pair, err := l.findForUpdate(tx, low, high)
	if err == nil {
		return pair, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("load score pair: %w", err)
	}
	return l.insertOrLoad(tx, low, high)
}

// insertOrLoad inserts a fresh row; if a concurrent writer won the unique
// (user_low, user_high) constraint first, the winner's row is returned instead.
func (l *ScoreLedger) insertOrLoad(tx *gorm.DB, low, high string) (*models.ScorePair, error) {
	pair := models.ScorePair{
		ID:              uuid.NewString(),
		UserLow:         low,
		UserHigh:        high,
		CumulativeScore: 0,
		Level:           l.Levels.MinLevel(),
	}

	res := tx.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_low"}, {Name: "user_high"}},
		DoNothing: true,
	}).Create(&pair)
	if res.Error != nil {
		return nil, fmt.Errorf("create score pair: %w", res.Error)
	}
	if res.RowsAffected == 1 {
		return &pair, nil
	}

	winner, err := l.findForUpdate(tx, low, high)
	if err != nil {
		return nil, fmt.Errorf("reload score pair after conflict: %w", err)
	}
	return winner, nil
}

func (l *ScoreLedger) findForUpdate(tx *gorm.DB, low, high string) (*models.ScorePair, error) {
	q := tx
	if tx.Dialector.Name() == "postgres" {
		q = q.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	var pair models.ScorePair
	if err := q.Where("user_low = ? AND user_high = ?", low, high).First(&pair).Error; err != nil {
		return nil, err
	}
	return &pair, nil
}

// AddScore adds points and recomputes the level. The write is guarded on the score
// that was read, so a concurrent writer turns into ErrStaleScorePair instead of a lost update.
func (l *ScoreLedger) AddScore(tx *gorm.DB, pair *models.ScorePair, points int64, now time.Time) (oldLevel, newLevel int, err error) {
	oldLevel = pair.Level
	if points <= 0 {
		return oldLevel, oldLevel, fmt.Errorf("%w: got %d", ErrInvalidPoints, points)
	}

	newScore := pair.CumulativeScore + points
	newLevel = l.Levels.LevelFor(newScore)

	updates := map[string]interface{}{
		"cumulative_score": newScore,
		"level":            newLevel,
		"updated_at":       now,
	}
	if newLevel > oldLevel {
		updates["last_level_up_at"] = now
	}

	res := tx.Model(&models.ScorePair{}).
		Where("id = ? AND cumulative_score = ?", pair.ID, pair.CumulativeScore).
		Updates(updates)
	if res.Error != nil {
		return oldLevel, oldLevel, fmt.Errorf("update score pair: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return oldLevel, oldLevel, ErrStaleScorePair
	}

	pair.CumulativeScore = newScore
	pair.Level = newLevel
	pair.UpdatedAt = now
	if newLevel > oldLevel {
		pair.LastLevelUpAt = &now
	}
	return oldLevel, newLevel, nil
}

// Find returns gorm.ErrRecordNotFound (wrapped) when the pair never interacted.
func (l *ScoreLedger) Find(db *gorm.DB, u1, u2 string) (*models.ScorePair, error) {
	low, high := CanonicalPair(u1, u2)
	var pair models.ScorePair
	if err := db.Where("user_low = ? AND user_high = ?", low, high).First(&pair).Error; err != nil {
		return nil, fmt.Errorf("find score pair: %w", err)
	}
	return &pair, nil
}

// SumLevelsForUser is the "total relationship level" shown on profiles.
func (l *ScoreLedger) SumLevelsForUser(db *gorm.DB, userID string) (int64, error) {
	var total int64
	err := db.Model(&models.ScorePair{}).
		Select("COALESCE(SUM(level), 0)").
		Where("user_low = ? OR user_high = ?", userID, userID).
		Scan(&total).Error
	if err != nil {
		return 0, fmt.Errorf("sum levels for %s: %w", userID, err)
	}
	return total, nil
}

type LevelCount struct {
	Level int
	Pairs int64
}

// CountByLevel feeds the pairs-by-level gauge.
func (l *ScoreLedger) CountByLevel(db *gorm.DB) ([]LevelCount, error) {
	var rows []LevelCount
	err := db.Model(&models.ScorePair{}).
		Select("level, COUNT(*) AS pairs").
		Group("level").
		Order("level").
		Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("count pairs by level: %w", err)
	}
	return rows, nil
}
