// workers/scheduler.go
package workers

import (
	"log"
	"time"

	"github.com/go-co-op/gocron/v2"

	"reward-sync-system/services"
)

// StartScheduler wires the time-driven triggers: the periodic flush kick, the
// daily streak staleness sweep, and the synced-event retention purge. The
// scheduler is the single timing authority; the flush worker itself only
// enforces single-flight.
func StartScheduler(
	flush *FlushWorker,
	streaks *services.StreakService,
	outbox *services.OutboxService,
	flushInterval time.Duration,
	retention time.Duration,
) (gocron.Scheduler, error) {
	sched, err := gocron.NewScheduler()
	if err != nil {
		return nil, err
	}

	_, err = sched.NewJob(
		gocron.DurationJob(flushInterval),
		gocron.NewTask(flush.Kick),
	)
	if err != nil {
		return nil, err
	}

	_, err = sched.NewJob(
		gocron.DurationJob(24*time.Hour),
		gocron.NewTask(streaks.SweepStale),
	)
	if err != nil {
		return nil, err
	}

	_, err = sched.NewJob(
		gocron.DurationJob(time.Hour),
		gocron.NewTask(func() {
			purged, err := outbox.PurgeSynced(retention)
			if err != nil {
				log.Printf("[Scheduler] purge error: %v", err)
				return
			}
			if purged > 0 {
				log.Printf("[Scheduler] 🧹 purged %d synced event(s)", purged)
			}
		}),
	)
	if err != nil {
		return nil, err
	}

	sched.Start()
	return sched, nil
}
