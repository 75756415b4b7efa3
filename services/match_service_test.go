package services

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"dice-duel/engine"
	"dice-duel/models"
)

func TestMatchService_EndToEnd(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	m := env.newMatch(t, models.GameModeClassic)
	assert.Equal(t, models.MatchStatusWaiting, m.Status)
	assert.Equal(t, models.PhaseTurnDecider, m.GamePhase)
	assert.Equal(t, 3, m.HostData.AuraBalance)

	// Only the chooser may pick parity; the die is drawn either way.
	env.dice.Push(6)
	_, err := env.matches.MakeTurnDeciderChoice(ctx, m.ID, "bob", models.ParityOdd)
	assert.ErrorIs(t, err, engine.ErrNotChooser)

	env.dice.Push(4)
	m, err = env.matches.MakeTurnDeciderChoice(ctx, m.ID, "alice", models.ParityEven)
	require.NoError(t, err)
	assert.Equal(t, models.PhaseGameplay, m.GamePhase)
	assert.Equal(t, models.MatchStatusActive, m.Status)
	require.NotNil(t, m.TurnDeciderDieValue)
	assert.Equal(t, 4, *m.TurnDeciderDieValue)
	assert.True(t, m.HostData.TurnActive)
	assert.False(t, m.OpponentData.TurnActive)

	env.dice.Push(1)
	_, err = env.matches.MakeTurnDeciderChoice(ctx, m.ID, "alice", models.ParityOdd)
	assert.ErrorIs(t, err, engine.ErrDeciderResolved)

	_, err = env.matches.RollDice(ctx, m.ID, "bob")
	assert.ErrorIs(t, err, engine.ErrNotYourTurn)

	env.dice.Push(3, 5)
	m, err = env.matches.RollDice(ctx, m.ID, "alice")
	require.NoError(t, err)
	assert.Equal(t, 3, m.DiceOne)
	assert.Equal(t, 5, m.DiceTwo)
	assert.Equal(t, 8, m.TurnScore)
	assert.False(t, m.IsRolling)

	m, err = env.matches.BankScore(ctx, m.ID, "alice")
	require.NoError(t, err)
	assert.Equal(t, 8, m.HostData.PlayerScore)
	assert.Equal(t, 4, m.HostData.AuraBalance)
	assert.Equal(t, 0, m.TurnScore)
	assert.False(t, m.HostData.TurnActive)
	assert.True(t, m.OpponentData.TurnActive)

	env.dice.Push(1, 4)
	m, err = env.matches.RollDice(ctx, m.ID, "bob")
	require.NoError(t, err)
	assert.Equal(t, 0, m.OpponentData.PlayerScore)
	assert.Equal(t, 0, m.TurnScore)
	assert.True(t, m.HostData.TurnActive, "a bust passes the turn")
	assert.Equal(t, 1, m.OpponentData.Stats.BustCount)

	_, err = env.matches.BankScore(ctx, m.ID, "alice")
	assert.ErrorIs(t, err, engine.ErrNothingToBank)
}

func TestMatchService_WinArchivesMatch(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	m := env.startedMatch(t, models.GameModeClassic)

	_, err := env.store.Mutate(ctx, m.ID, func(_ *gorm.DB, m *models.Match) error {
		m.HostData.PlayerScore = 96
		return nil
	})
	require.NoError(t, err)

	env.dice.Push(4, 4)
	_, err = env.matches.RollDice(ctx, m.ID, "alice")
	require.NoError(t, err)

	final, err := env.matches.BankScore(ctx, m.ID, "alice")
	require.NoError(t, err)
	assert.Equal(t, 104, final.HostData.PlayerScore)
	assert.Equal(t, models.PhaseGameOver, final.GamePhase)
	assert.Equal(t, models.MatchStatusCompleted, final.Status)
	require.NotNil(t, final.Winner)
	assert.Equal(t, "alice", *final.Winner)

	_, err = env.store.Get(ctx, m.ID)
	assert.ErrorIs(t, err, engine.ErrMatchNotFound, "finished matches leave the live table")

	snapshot, err := env.matches.GetMatch(ctx, m.ID)
	require.NoError(t, err)
	assert.Equal(t, 104, snapshot.HostData.PlayerScore)
	assert.Equal(t, "alice", *snapshot.Winner)

	_, err = env.matches.RollDice(ctx, m.ID, "bob")
	assert.ErrorIs(t, err, engine.ErrMatchOver)
}

func TestMatchService_SingleRollAutoBanks(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	m := env.startedMatch(t, models.GameModeSingleRoll)

	env.dice.Push(6, 5)
	m, err := env.matches.RollDice(ctx, m.ID, "alice")
	require.NoError(t, err)
	assert.Equal(t, 11, m.HostData.PlayerScore)
	assert.True(t, m.OpponentData.TurnActive)

	_, err = env.matches.BankScore(ctx, m.ID, "bob")
	assert.ErrorIs(t, err, engine.ErrBankingDisabled)
}

func TestMatchService_AbilityIntentIsIdempotent(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	m := env.startedMatch(t, models.GameModeClassic)

	intent := AbilityIntent{MatchID: m.ID, PlayerID: "alice", AbilityID: "focus", IntentID: "intent-1"}

	_, err := env.matches.UseAbility(ctx, AbilityIntent{MatchID: m.ID, PlayerID: "alice", AbilityID: "focus"})
	assert.ErrorIs(t, err, engine.ErrMissingIntentID)

	first, err := env.matches.UseAbility(ctx, intent)
	require.NoError(t, err)
	assert.Equal(t, 2, first.TurnScore)
	assert.Equal(t, 2, first.HostData.AuraBalance)

	replay, err := env.matches.UseAbility(ctx, intent)
	require.NoError(t, err)
	assert.Equal(t, first.Version, replay.Version, "a replayed intent changes nothing")
	assert.Equal(t, 2, replay.HostData.AuraBalance)

	reused := intent
	reused.AbilityID = "aura_shield"
	_, err = env.matches.UseAbility(ctx, reused)
	assert.ErrorIs(t, err, engine.ErrIntentReused)

	again := intent
	again.IntentID = "intent-2"
	_, err = env.matches.UseAbility(ctx, again)
	assert.ErrorIs(t, err, engine.ErrOnCooldown)

	var usages int64
	require.NoError(t, env.db.Model(&models.AbilityUsage{}).Count(&usages).Error)
	assert.Equal(t, int64(1), usages)
}

func TestMatchService_WinningAbilityReplayReturnsFinalSnapshot(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	m := env.startedMatch(t, models.GameModeNoBank)

	_, err := env.store.Mutate(ctx, m.ID, func(_ *gorm.DB, m *models.Match) error {
		m.TurnScore = 38
		return nil
	})
	require.NoError(t, err)

	intent := AbilityIntent{MatchID: m.ID, PlayerID: "alice", AbilityID: "focus", IntentID: "win-1"}
	final, err := env.matches.UseAbility(ctx, intent)
	require.NoError(t, err)
	require.Equal(t, models.PhaseGameOver, final.GamePhase)

	_, err = env.store.Get(ctx, m.ID)
	require.ErrorIs(t, err, engine.ErrMatchNotFound)

	replay, err := env.matches.UseAbility(ctx, intent)
	require.NoError(t, err)
	assert.Equal(t, models.PhaseGameOver, replay.GamePhase)
	require.NotNil(t, replay.Winner)
	assert.Equal(t, "alice", *replay.Winner)
	assert.Equal(t, final.HostData.AuraBalance, replay.HostData.AuraBalance)

	fresh := intent
	fresh.IntentID = "win-2"
	_, err = env.matches.UseAbility(ctx, fresh)
	assert.ErrorIs(t, err, engine.ErrMatchOver, "a new intent on a finished match is still rejected")

	var usages int64
	require.NoError(t, env.db.Model(&models.AbilityUsage{}).Count(&usages).Error)
	assert.Equal(t, int64(1), usages)
}

func TestMatchService_AbilityRequiresUnlockAndLoadout(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	m := env.startedMatch(t, models.GameModeClassic)
	_, err := env.matches.UseAbility(ctx, AbilityIntent{MatchID: m.ID, PlayerID: "alice", AbilityID: "score_surge", IntentID: "a"})
	assert.ErrorIs(t, err, engine.ErrAbilityNotUnlocked)

	_, err = env.abilities.Unlock(ctx, "alice", "score_surge")
	require.NoError(t, err)
	_, err = env.matches.UseAbility(ctx, AbilityIntent{MatchID: m.ID, PlayerID: "alice", AbilityID: "score_surge", IntentID: "b"})
	assert.ErrorIs(t, err, engine.ErrAbilityNotEquipped, "the loadout is fixed when the match starts")

	_, err = env.abilities.SaveLoadout(ctx, "alice", map[models.AbilityCategory]string{models.CategoryTactical: "score_surge"})
	require.NoError(t, err)

	m2 := env.startedMatch(t, models.GameModeClassic)
	assert.Contains(t, m2.HostData.EquippedAbilities, "score_surge")

	m2, err = env.matches.UseAbility(ctx, AbilityIntent{MatchID: m2.ID, PlayerID: "alice", AbilityID: "score_surge", IntentID: "c"})
	require.NoError(t, err)
	assert.Equal(t, 5, m2.TurnScore)
	assert.Equal(t, 0, m2.HostData.AuraBalance)

	_, err = env.matches.UseAbility(ctx, AbilityIntent{MatchID: m2.ID, PlayerID: "alice", AbilityID: "focus", IntentID: "d"})
	assert.ErrorIs(t, err, engine.ErrInsufficientAura)
}

func TestMatchService_RollSettleKeepsRollInFlight(t *testing.T) {
	env := newTestEnv(t)
	env.matches.rollSettle = 2 * time.Second
	ctx := context.Background()
	m := env.startedMatch(t, models.GameModeClassic)

	env.dice.Push(2, 3)
	done := make(chan *models.Match, 1)
	go func() {
		rolled, err := env.matches.RollDice(ctx, m.ID, "alice")
		assert.NoError(t, err)
		done <- rolled
	}()

	require.NoError(t, env.clock.BlockUntilContext(ctx, 1))
	inFlight, err := env.matches.GetMatch(ctx, m.ID)
	require.NoError(t, err)
	assert.True(t, inFlight.IsRolling)

	_, err = env.matches.BankScore(ctx, m.ID, "alice")
	assert.ErrorIs(t, err, engine.ErrRollInFlight)
	_, err = env.matches.RollDice(ctx, m.ID, "alice")
	assert.ErrorIs(t, err, engine.ErrRollInFlight)

	env.clock.Advance(2 * time.Second)
	rolled := <-done
	assert.Equal(t, 5, rolled.TurnScore)
	assert.False(t, rolled.IsRolling)
}

func TestMatchService_RecoverStaleRolls(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	m := env.startedMatch(t, models.GameModeClassic)

	_, err := env.store.Mutate(ctx, m.ID, func(_ *gorm.DB, m *models.Match) error {
		since := env.clock.Now()
		m.IsRolling = true
		m.RollingSince = &since
		return nil
	})
	require.NoError(t, err)

	n, err := env.matches.RecoverStaleRolls(ctx, 15*time.Second, 10)
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	env.clock.Advance(time.Minute)
	env.dice.Push(2, 2)
	n, err = env.matches.RecoverStaleRolls(ctx, 15*time.Second, 10)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	recovered, err := env.matches.GetMatch(ctx, m.ID)
	require.NoError(t, err)
	assert.False(t, recovered.IsRolling)
	assert.Equal(t, 4, recovered.TurnScore)
}

func TestMatchService_PublishesCommittedSnapshots(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	m := env.startedMatch(t, models.GameModeClassic)

	updates, cancel := env.matches.Broadcaster().Subscribe(m.ID)
	defer cancel()

	env.dice.Push(2, 2)
	_, err := env.matches.RollDice(ctx, m.ID, "alice")
	require.NoError(t, err)

	// Roll claim, then commit.
	claim := <-updates
	assert.True(t, claim.IsRolling)
	commit := <-updates
	assert.Equal(t, 4, commit.TurnScore)
	assert.Greater(t, commit.Version, claim.Version)

	// Rejections publish nothing.
	_, err = env.matches.BankScore(ctx, m.ID, "bob")
	require.Error(t, err)
	select {
	case extra := <-updates:
		t.Fatalf("unexpected snapshot v%d", extra.Version)
	default:
	}
}
