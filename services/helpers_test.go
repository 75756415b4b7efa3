package services

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"dice-duel/dice"
	"dice-duel/engine"
	"dice-duel/models"
)

var testEpoch = time.Date(2025, 3, 14, 12, 0, 0, 0, time.UTC)

// newTestDB opens a private in-memory database. One connection keeps every
// statement on the same memory store.
func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		TranslateError: true,
		Logger:         logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	require.NoError(t, db.AutoMigrate(
		&models.WaitingRoomEntry{},
		&models.Match{},
		&models.MatchHistory{},
		&models.UserAbility{},
		&models.Loadout{},
		&models.AbilityUsage{},
	))
	return db
}

type testEnv struct {
	db        *gorm.DB
	clock     *clockwork.FakeClock
	dice      *dice.Sequence
	store     *MatchStore
	abilities *AbilityService
	matches   *MatchService
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	db := newTestDB(t)
	clock := clockwork.NewFakeClockAt(testEpoch)
	seq := dice.NewSequence()
	store := NewMatchStore(db, 3)
	abilities := NewAbilityService(db, 10)
	matches := NewMatchService(MatchDeps{
		Store:     store,
		Resolver:  engine.NewResolver(engine.DefaultRules()),
		Roller:    seq,
		Abilities: abilities,
		Clock:     clock,
	})
	return &testEnv{db: db, clock: clock, dice: seq, store: store, abilities: abilities, matches: matches}
}

func player(id string) models.QueuePlayer {
	return models.QueuePlayer{PlayerID: id, DisplayName: id}
}

// newMatch creates a classic match in which the host chooses turn order.
func (e *testEnv) newMatch(t *testing.T, mode models.GameMode) *models.Match {
	t.Helper()
	e.dice.Push(2) // even: host seat chooses
	m, err := e.matches.CreateMatch(context.Background(), mode, player("alice"), player("bob"))
	require.NoError(t, err)
	require.Equal(t, models.SeatHost, m.TurnDecider)
	return m
}

// startedMatch creates a match and resolves turn order so alice rolls first.
func (e *testEnv) startedMatch(t *testing.T, mode models.GameMode) *models.Match {
	t.Helper()
	m := e.newMatch(t, mode)
	e.dice.Push(4)
	m, err := e.matches.MakeTurnDeciderChoice(context.Background(), m.ID, "alice", models.ParityEven)
	require.NoError(t, err)
	require.True(t, m.HostData.TurnActive)
	return m
}
