package services

import (
	"errors"

	"github.com/jackc/pgx/v5/pgconn"
)

// Intimacy
var (
	ErrUnknownInteractionType   = errors.New("unknown interaction type")
	ErrCorrelationTokenRequired = errors.New("correlation token is required for VISIT")
	ErrCorrelationTokenTooLong  = errors.New("correlation token is too long")
	ErrInvalidPoints            = errors.New("points must be positive")
	// ErrStaleScorePair means the row changed between read and write.
	ErrStaleScorePair = errors.New("score pair was modified concurrently")
)

// Users / notifications
var (
	ErrUserNotFound         = errors.New("user not found")
	ErrNotificationNotFound = errors.New("notification not found")
)

// IsRetryable reports whether the caller may safely repeat the whole operation.
// Nothing inside the service retries on its own.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrStaleScorePair) {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "40001", "40P01": // serialization_failure, deadlock_detected
			return true
		}
	}
	return false
}
