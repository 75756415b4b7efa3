package workers

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeMaintainer struct {
	mu         sync.Mutex
	archives   int
	recoveries int
	olderThan  time.Duration
	limit      int
	archiveErr error
}

func (f *fakeMaintainer) ArchiveFinished(_ context.Context, limit int) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.archives++
	f.limit = limit
	return 2, f.archiveErr
}

func (f *fakeMaintainer) RecoverStaleRolls(_ context.Context, olderThan time.Duration, limit int) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.recoveries++
	f.olderThan = olderThan
	return 1, nil
}

func (f *fakeMaintainer) counts() (int, int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.archives, f.recoveries
}

func TestMatchMaintenanceWorker_RunOnce(t *testing.T) {
	m := &fakeMaintainer{}
	w := NewMatchMaintenanceWorker(m, clockwork.NewFakeClock(), time.Minute, 15*time.Second)

	w.RunOnce(context.Background())
	archives, recoveries := m.counts()
	assert.Equal(t, 1, archives)
	assert.Equal(t, 1, recoveries)
	assert.Equal(t, 15*time.Second, m.olderThan)
	assert.Equal(t, 50, m.limit)
}

func TestMatchMaintenanceWorker_ErrorsDoNotStopThePass(t *testing.T) {
	m := &fakeMaintainer{archiveErr: errors.New("db down")}
	w := NewMatchMaintenanceWorker(m, clockwork.NewFakeClock(), time.Minute, time.Second)

	assert.NotPanics(t, func() { w.RunOnce(context.Background()) })
	w.RunOnce(context.Background())
	archives, _ := m.counts()
	assert.Equal(t, 2, archives)
}

func TestMatchMaintenanceWorker_TicksOnInterval(t *testing.T) {
	m := &fakeMaintainer{}
	clock := clockwork.NewFakeClock()
	w := NewMatchMaintenanceWorker(m, clock, 20*time.Second, time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	w.Start(ctx)

	require.NoError(t, clock.BlockUntilContext(ctx, 1))
	archives, _ := m.counts()
	assert.Zero(t, archives, "nothing runs before the first tick")

	clock.Advance(20 * time.Second)
	require.Eventually(t, func() bool {
		a, _ := m.counts()
		return a == 1
	}, 2*time.Second, 10*time.Millisecond)

	clock.Advance(20 * time.Second)
	require.Eventually(t, func() bool {
		a, _ := m.counts()
		return a == 2
	}, 2*time.Second, 10*time.Millisecond)
}
