// services/scheduler.go
package services

import (
	"github.com/go-co-op/gocron/v2"
	"github.com/rotisserie/eris"
	"github.com/rs/zerolog/log"
)

// startScheduler registers the periodic waiting room scan. The one-shot
// promotion jobs added by schedulePromotion share this scheduler.
func (q *QueueService) startScheduler() error {
	sched, err := gocron.NewScheduler(gocron.WithClock(q.clock))
	if err != nil {
		return eris.Wrap(err, "create queue scheduler")
	}

	// Every scan interval: bot-fill stale entries, retry promotions
	_, err = sched.NewJob(
		gocron.DurationJob(q.cfg.ScanInterval),
		gocron.NewTask(func() {
			if err := q.Scan(q.baseCtx); err != nil {
				log.Error().Err(err).Msg("[Scheduler] waiting room scan failed")
			}
		}),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		_ = sched.Shutdown()
		return eris.Wrap(err, "register waiting room scan")
	}

	sched.Start()
	q.sched = sched
	log.Info().Dur("interval", q.cfg.ScanInterval).Msg("[Scheduler] waiting room scan started")
	return nil
}
