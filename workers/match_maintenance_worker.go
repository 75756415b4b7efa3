package workers

import (
	"context"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
)

// MatchMaintainer is the slice of MatchService the worker drives.
type MatchMaintainer interface {
	ArchiveFinished(ctx context.Context, limit int) (int, error)
	RecoverStaleRolls(ctx context.Context, olderThan time.Duration, limit int) (int, error)
}

// MatchMaintenanceWorker retries archiving of finished matches and commits
// rolls whose claimer crashed before committing.
type MatchMaintenanceWorker struct {
	matches        MatchMaintainer
	clock          clockwork.Clock
	interval       time.Duration
	staleRollAfter time.Duration
	batchSize      int
}

func NewMatchMaintenanceWorker(matches MatchMaintainer, clock clockwork.Clock, interval, staleRollAfter time.Duration) *MatchMaintenanceWorker {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if interval <= 0 {
		interval = 20 * time.Second
	}
	return &MatchMaintenanceWorker{
		matches:        matches,
		clock:          clock,
		interval:       interval,
		staleRollAfter: staleRollAfter,
		batchSize:      50,
	}
}

func (w *MatchMaintenanceWorker) Start(ctx context.Context) {
	log.Info().Dur("every", w.interval).Msg("🔁 [WORKER] starting match maintenance")
	go w.run(ctx)
}

func (w *MatchMaintenanceWorker) run(ctx context.Context) {
	ticker := w.clock.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("⏹️ [WORKER] match maintenance stopped")
			return
		case <-ticker.Chan():
			w.RunOnce(ctx)
		}
	}
}

// RunOnce does one maintenance pass. Failures are logged and retried next tick.
func (w *MatchMaintenanceWorker) RunOnce(ctx context.Context) {
	recovered, err := w.matches.RecoverStaleRolls(ctx, w.staleRollAfter, w.batchSize)
	if err != nil {
		log.Error().Err(err).Msg("❌ [WORKER] stale roll scan failed")
	} else if recovered > 0 {
		log.Info().Int("count", recovered).Msg("🎲 [WORKER] recovered stale rolls")
	}

	archived, err := w.matches.ArchiveFinished(ctx, w.batchSize)
	if err != nil {
		log.Error().Err(err).Msg("❌ [WORKER] archive scan failed")
	} else if archived > 0 {
		log.Info().Int("count", archived).Msg("📦 [WORKER] archived finished matches")
	}
}
