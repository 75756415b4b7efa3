package services

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"dice-duel/engine"
	"dice-duel/models"
	"dice-duel/scoring"
)

type BotActionKind string

const (
	BotChoose BotActionKind = "choose"
	BotRoll   BotActionKind = "roll"
	BotBank   BotActionKind = "bank"
)

// BotAction is the next intent a synthesized player submits.
type BotAction struct {
	PlayerID string
	Kind     BotActionKind
	Choice   models.Parity
}

// BotMatches is the slice of MatchService the bot driver plays through.
type BotMatches interface {
	Broadcaster() *Broadcaster
	GetMatch(ctx context.Context, id string) (*models.Match, error)
	MakeTurnDeciderChoice(ctx context.Context, matchID, playerID string, choice models.Parity) (*models.Match, error)
	RollDice(ctx context.Context, matchID, playerID string) (*models.Match, error)
	BankScore(ctx context.Context, matchID, playerID string) (*models.Match, error)
}

// BotDriver plays synthesized opponents. It watches every snapshot and, when
// a bot is due to act, submits the intent after a human-looking pause.
type BotDriver struct {
	matches BotMatches
	clock   clockwork.Clock
	delay   time.Duration
	bankAt  int

	maxTries   uint
	newBackOff func() backoff.BackOff

	mu      sync.Mutex
	rng     *rand.Rand
	actedOn map[string]int64
}

func NewBotDriver(matches BotMatches, clock clockwork.Clock, delay time.Duration, bankAt int, seed int64) *BotDriver {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if bankAt <= 0 {
		bankAt = 20
	}
	return &BotDriver{
		matches:  matches,
		clock:    clock,
		delay:    delay,
		bankAt:   bankAt,
		maxTries: 3,
		newBackOff: func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = 100 * time.Millisecond
			b.MaxInterval = time.Second
			return b
		},
		rng:     rand.New(rand.NewSource(seed)),
		actedOn: make(map[string]int64),
	}
}

// Start subscribes to all matches until ctx is done.
func (d *BotDriver) Start(ctx context.Context) {
	cancel := d.matches.Broadcaster().SubscribeFunc(AllMatches, func(m models.Match) {
		if ctx.Err() == nil {
			d.consider(ctx, m)
		}
	})
	go func() {
		<-ctx.Done()
		cancel()
	}()
	log.Info().Dur("delay", d.delay).Int("bank_at", d.bankAt).Msg("[BOT] driver started")
}

// Decide picks the bot's next intent for snapshot m, if a bot is due.
func (d *BotDriver) Decide(m models.Match) (BotAction, bool) {
	switch m.GamePhase {
	case models.PhaseTurnDecider:
		chooser := m.Seat(m.TurnDecider)
		if chooser == nil || !chooser.IsBot || m.TurnDeciderChoice != nil {
			return BotAction{}, false
		}
		d.mu.Lock()
		choice := models.ParityOdd
		if d.rng.Intn(2) == 0 {
			choice = models.ParityEven
		}
		d.mu.Unlock()
		return BotAction{PlayerID: chooser.PlayerID, Kind: BotChoose, Choice: choice}, true

	case models.PhaseGameplay:
		active := m.ActivePlayer()
		if active == nil || !active.IsBot || m.IsRolling {
			return BotAction{}, false
		}
		mode, err := scoring.ModeFor(m.GameMode)
		if err != nil {
			return BotAction{}, false
		}
		if mode.AllowsBank() && m.TurnScore > 0 &&
			(m.TurnScore >= d.bankAt || mode.HasWon(active.PlayerScore+m.TurnScore, 0)) {
			return BotAction{PlayerID: active.PlayerID, Kind: BotBank}, true
		}
		return BotAction{PlayerID: active.PlayerID, Kind: BotRoll}, true
	}
	return BotAction{}, false
}

func (d *BotDriver) consider(ctx context.Context, m models.Match) {
	if m.GamePhase == models.PhaseGameOver {
		d.mu.Lock()
		delete(d.actedOn, m.ID)
		d.mu.Unlock()
		return
	}
	action, ok := d.Decide(m)
	if !ok {
		return
	}

	d.mu.Lock()
	if v, seen := d.actedOn[m.ID]; seen && v >= m.Version {
		d.mu.Unlock()
		return
	}
	d.actedOn[m.ID] = m.Version
	d.mu.Unlock()

	matchID, version := m.ID, m.Version
	d.clock.AfterFunc(d.delay, func() {
		d.run(ctx, matchID, version, action)
	})
}

// run submits action, retrying transient failures. When the retries run out
// the match is re-read after another delay, since no new snapshot will
// arrive while the bot still owes a move.
func (d *BotDriver) run(ctx context.Context, matchID string, version int64, action BotAction) {
	if ctx.Err() != nil {
		return
	}
	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		err := d.Act(ctx, matchID, action)
		if err != nil && engine.IsRejection(err) {
			return struct{}{}, backoff.Permanent(err)
		}
		return struct{}{}, err
	}, backoff.WithBackOff(d.newBackOff()), backoff.WithMaxTries(d.maxTries))
	if err == nil {
		return
	}
	var perm *backoff.PermanentError
	if errors.As(err, &perm) {
		err = perm.Unwrap()
	}
	if engine.IsRejection(err) {
		log.Debug().Err(err).Str("match_id", matchID).Str("action", string(action.Kind)).Msg("[BOT] intent rejected, snapshot was stale")
		return
	}
	if ctx.Err() != nil {
		return
	}
	log.Warn().Err(err).Str("match_id", matchID).Str("action", string(action.Kind)).Msg("[BOT] intent failed, rechecking match")
	d.forget(matchID, version)
	d.clock.AfterFunc(d.delay, func() { d.recheck(ctx, matchID) })
}

func (d *BotDriver) recheck(ctx context.Context, matchID string) {
	if ctx.Err() != nil {
		return
	}
	m, err := d.matches.GetMatch(ctx, matchID)
	if err != nil {
		if engine.IsRejection(err) {
			return
		}
		log.Warn().Err(err).Str("match_id", matchID).Msg("[BOT] reload failed, rechecking match")
		d.clock.AfterFunc(d.delay, func() { d.recheck(ctx, matchID) })
		return
	}
	d.consider(ctx, *m)
}

// forget clears the acted-on mark so the same snapshot version can be
// played again.
func (d *BotDriver) forget(matchID string, version int64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if v, ok := d.actedOn[matchID]; ok && v == version {
		delete(d.actedOn, matchID)
	}
}

// Act submits action on behalf of the bot.
func (d *BotDriver) Act(ctx context.Context, matchID string, action BotAction) error {
	var err error
	switch action.Kind {
	case BotChoose:
		_, err = d.matches.MakeTurnDeciderChoice(ctx, matchID, action.PlayerID, action.Choice)
	case BotRoll:
		_, err = d.matches.RollDice(ctx, matchID, action.PlayerID)
	case BotBank:
		_, err = d.matches.BankScore(ctx, matchID, action.PlayerID)
	}
	return err
}
