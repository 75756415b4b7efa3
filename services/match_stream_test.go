package services

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"dice-duel/models"
)

func next(t *testing.T, ch <-chan StreamEvent) StreamEvent {
	t.Helper()
	select {
	case ev, ok := <-ch:
		require.True(t, ok, "stream closed early")
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("no stream event")
		return StreamEvent{}
	}
}

func requireClosed(t *testing.T, ch <-chan StreamEvent) {
	t.Helper()
	select {
	case ev, ok := <-ch:
		require.False(t, ok, "unexpected %s event", ev.Type)
	case <-time.After(2 * time.Second):
		t.Fatal("stream left open")
	}
}

func TestMatchStream_NotFoundAfterGrace(t *testing.T) {
	env := newTestEnv(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	stream := NewMatchStream(env.matches, env.clock, 3*time.Second, time.Second)

	events := stream.Open(ctx, "missing")
	for i := 0; i < 3; i++ {
		require.NoError(t, env.clock.BlockUntilContext(ctx, 1))
		env.clock.Advance(time.Second)
	}

	assert.Equal(t, StreamNotFound, next(t, events).Type)
	requireClosed(t, events)
}

func TestMatchStream_WaitsForLateMatch(t *testing.T) {
	env := newTestEnv(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	stream := NewMatchStream(env.matches, env.clock, 10*time.Second, time.Second)

	env.dice.Push(2)
	m, err := env.matches.BuildMatch(ctx, "late", models.GameModeClassic, player("alice"), player("bob"))
	require.NoError(t, err)

	events := stream.Open(ctx, "late")
	require.NoError(t, env.clock.BlockUntilContext(ctx, 1))
	require.NoError(t, env.store.Create(ctx, m))
	env.clock.Advance(time.Second)

	ev := next(t, events)
	assert.Equal(t, StreamSnapshot, ev.Type)
	assert.Equal(t, "late", ev.Match.ID)
}

func TestMatchStream_ArchivedMatch(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	m := env.startedMatch(t, models.GameModeSingleRoll)

	_, err := env.store.Mutate(ctx, m.ID, func(_ *gorm.DB, m *models.Match) error {
		m.HostData.PlayerScore = 55
		return nil
	})
	require.NoError(t, err)
	env.dice.Push(6, 6)
	_, err = env.matches.RollDice(ctx, m.ID, "alice")
	require.NoError(t, err)

	stream := NewMatchStream(env.matches, env.clock, time.Second, time.Second)
	events := stream.Open(ctx, m.ID)
	ev := next(t, events)
	assert.Equal(t, StreamArchived, ev.Type)
	require.NotNil(t, ev.Match.Winner)
	assert.Equal(t, "alice", *ev.Match.Winner)
	requireClosed(t, events)
}

func TestMatchStream_SnapshotsUntilGameOver(t *testing.T) {
	env := newTestEnv(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	m := env.startedMatch(t, models.GameModeClassic)
	stream := NewMatchStream(env.matches, env.clock, time.Second, time.Second)

	events := stream.Open(ctx, m.ID)
	first := next(t, events)
	require.Equal(t, StreamSnapshot, first.Type)
	assert.Equal(t, m.Version, first.Match.Version)

	_, err := env.store.Mutate(ctx, m.ID, func(_ *gorm.DB, m *models.Match) error {
		m.HostData.PlayerScore = 96
		return nil
	})
	require.NoError(t, err)

	env.dice.Push(2, 2)
	_, err = env.matches.RollDice(ctx, m.ID, "alice")
	require.NoError(t, err)
	_, err = env.matches.BankScore(ctx, m.ID, "alice")
	require.NoError(t, err)

	var last StreamEvent
	version := first.Match.Version
	for {
		ev, ok := <-events
		if !ok {
			break
		}
		require.Equal(t, StreamSnapshot, ev.Type)
		assert.Greater(t, ev.Match.Version, version)
		version = ev.Match.Version
		last = ev
	}
	require.NotNil(t, last.Match)
	assert.Equal(t, models.PhaseGameOver, last.Match.GamePhase)
	assert.Equal(t, 100, last.Match.HostData.PlayerScore)
}

func TestMatchStream_ClosesOnCancel(t *testing.T) {
	env := newTestEnv(t)
	ctx, cancel := context.WithCancel(context.Background())
	m := env.startedMatch(t, models.GameModeClassic)
	stream := NewMatchStream(env.matches, env.clock, time.Second, time.Second)

	events := stream.Open(ctx, m.ID)
	next(t, events)
	cancel()
	requireClosed(t, events)
	assert.Eventually(t, func() bool {
		return env.matches.Broadcaster().SubscriberCount(m.ID) == 0
	}, 2*time.Second, 10*time.Millisecond)
}
