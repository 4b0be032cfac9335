package services

import (
	"context"
	"time"

	"github.com/go-co-op/gocron/v2"
	log "github.com/sirupsen/logrus"
)

// StartMaintenanceScheduler registers the periodic jobs and starts them.
// The caller owns Shutdown.
func StartMaintenanceScheduler(intimacy *IntimacyService, notifications *NotificationService, retention time.Duration) (gocron.Scheduler, error) {
	sched, err := gocron.NewScheduler(gocron.WithLocation(intimacy.Location))
	if err != nil {
		return nil, err
	}

	// Every hour: drop read notifications past retention
	if _, err := sched.NewJob(
		gocron.DurationJob(1*time.Hour),
		gocron.NewTask(func() {
			cutoff := time.Now().Add(-retention)
			n, err := notifications.PurgeRead(context.Background(), cutoff)
			if err != nil {
				log.WithError(err).Error("[SCHEDULER] notification purge failed")
				return
			}
			if n > 0 {
				log.Infof("[SCHEDULER] 🧹 purged %d read notification(s) older than %s", n, cutoff.Format(time.RFC3339))
			}
		}),
		gocron.WithName("notification-retention"),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	); err != nil {
		return nil, err
	}

	// Every minute: pairs-by-level gauge
	if _, err := sched.NewJob(
		gocron.DurationJob(1*time.Minute),
		gocron.NewTask(func() {
			if err := intimacy.RefreshLevelGauge(context.Background()); err != nil {
				log.WithError(err).Warn("[SCHEDULER] level gauge refresh failed")
			}
		}),
		gocron.WithName("intimacy-level-gauge"),
		gocron.WithStartAt(gocron.WithStartImmediately()),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	); err != nil {
		return nil, err
	}

	sched.Start()
	return sched, nil
}
