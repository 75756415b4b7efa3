package services

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"dice-duel/dice"
	"dice-duel/engine"
	"dice-duel/models"
)

// MatchDeps wires a MatchService.
type MatchDeps struct {
	Store       *MatchStore
	Resolver    *engine.Resolver
	Roller      dice.Roller
	Abilities   *AbilityService
	Broadcaster *Broadcaster
	Telemetry   *Telemetry
	Clock       clockwork.Clock
	// RollSettle is how long a claimed roll stays in flight before the dice
	// are committed; clients animate during it.
	RollSettle time.Duration
}

// MatchService turns player intents into committed, broadcast match updates.
type MatchService struct {
	store       *MatchStore
	resolver    *engine.Resolver
	roller      dice.Roller
	abilities   *AbilityService
	broadcaster *Broadcaster
	telemetry   *Telemetry
	clock       clockwork.Clock
	rollSettle  time.Duration
}

func NewMatchService(d MatchDeps) *MatchService {
	if d.Clock == nil {
		d.Clock = clockwork.NewRealClock()
	}
	if d.Resolver == nil {
		d.Resolver = engine.NewResolver(engine.DefaultRules())
	}
	if d.Broadcaster == nil {
		d.Broadcaster = NewBroadcaster(nil)
	}
	return &MatchService{
		store:       d.Store,
		resolver:    d.Resolver,
		roller:      d.Roller,
		abilities:   d.Abilities,
		broadcaster: d.Broadcaster,
		telemetry:   d.Telemetry,
		clock:       d.Clock,
		rollSettle:  d.RollSettle,
	}
}

func (s *MatchService) Broadcaster() *Broadcaster { return s.broadcaster }

// BuildMatch prepares a match record without storing it. The parity chooser
// is drawn uniformly from the two seats.
func (s *MatchService) BuildMatch(ctx context.Context, id string, mode models.GameMode, host, opponent models.QueuePlayer) (*models.Match, error) {
	hostEntrant, err := s.entrant(ctx, host)
	if err != nil {
		return nil, err
	}
	oppEntrant, err := s.entrant(ctx, opponent)
	if err != nil {
		return nil, err
	}
	seat := models.SeatHost + s.roller.RollD6()%2
	return s.resolver.NewMatch(id, mode, hostEntrant, oppEntrant, seat, s.clock.Now())
}

func (s *MatchService) entrant(ctx context.Context, p models.QueuePlayer) (engine.Entrant, error) {
	e := engine.Entrant{PlayerID: p.PlayerID, DisplayName: p.DisplayName, IsBot: p.IsBot}
	if p.IsBot || s.abilities == nil || p.PlayerID == "" {
		return e, nil
	}
	equipped, err := s.abilities.EquippedFor(ctx, p.PlayerID)
	if err != nil {
		return e, err
	}
	e.EquippedAbilities = equipped
	return e, nil
}

// CreateMatch starts a match directly between two known players.
func (s *MatchService) CreateMatch(ctx context.Context, mode models.GameMode, host, opponent models.QueuePlayer) (*models.Match, error) {
	m, err := s.BuildMatch(ctx, uuid.NewString(), mode, host, opponent)
	if err != nil {
		return nil, err
	}
	if err := s.store.Create(ctx, m); err != nil {
		return nil, err
	}
	log.Info().Str("match_id", m.ID).Str("mode", string(mode)).Msg("[MATCH] created")
	s.afterCommit(ctx, m, nil)
	return m, nil
}

// PromoteEntry turns a paired waiting room entry into a match under the
// match id reserved at pairing time.
func (s *MatchService) PromoteEntry(ctx context.Context, entry *models.WaitingRoomEntry) (*models.Match, error) {
	if !entry.Paired() {
		return nil, engine.ErrWrongPhase.With("entry is not paired")
	}
	m, err := s.BuildMatch(ctx, entry.MatchID, entry.GameMode, entry.HostData, *entry.OpponentData)
	if err != nil {
		return nil, err
	}
	if err := s.store.CreateFromEntry(ctx, m, entry.ID); err != nil {
		return nil, err
	}
	log.Info().Str("match_id", m.ID).Str("entry_id", entry.ID).Msg("[MATCH] promoted from waiting room")
	s.afterCommit(ctx, m, nil)
	return m, nil
}

// GetMatch returns the live match, or the final snapshot of an archived one.
func (s *MatchService) GetMatch(ctx context.Context, id string) (*models.Match, error) {
	m, err := s.store.Get(ctx, id)
	if errors.Is(err, engine.ErrMatchNotFound) {
		h, herr := s.store.GetHistory(ctx, id)
		if herr != nil {
			return nil, herr
		}
		snapshot := h.Snapshot
		return &snapshot, nil
	}
	return m, err
}

func (s *MatchService) ListMatches(ctx context.Context, f MatchFilter) ([]models.Match, error) {
	return s.store.List(ctx, f)
}

// MakeTurnDeciderChoice draws the parity die and resolves turn order.
func (s *MatchService) MakeTurnDeciderChoice(ctx context.Context, matchID, playerID string, choice models.Parity) (*models.Match, error) {
	die := s.roller.RollD6()
	return s.apply(ctx, matchID, func(_ *gorm.DB, m *models.Match) ([]engine.Event, error) {
		return s.resolver.ChooseTurnDecider(m, playerID, choice, die)
	})
}

// RollDice claims the roll, waits out the settle delay, then commits two
// fresh dice. The commit does not depend on the caller staying connected.
func (s *MatchService) RollDice(ctx context.Context, matchID, playerID string) (*models.Match, error) {
	if _, err := s.apply(ctx, matchID, func(_ *gorm.DB, m *models.Match) ([]engine.Event, error) {
		return s.resolver.BeginRoll(m, playerID, s.clock.Now())
	}); err != nil {
		return nil, err
	}

	if s.rollSettle > 0 {
		select {
		case <-s.clock.After(s.rollSettle):
		case <-ctx.Done():
		}
	}
	return s.commitRoll(context.WithoutCancel(ctx), matchID, playerID)
}

func (s *MatchService) commitRoll(ctx context.Context, matchID, playerID string) (*models.Match, error) {
	d1, d2 := s.roller.RollD6(), s.roller.RollD6()
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 50 * time.Millisecond
	return backoff.Retry(ctx, func() (*models.Match, error) {
		m, err := s.apply(ctx, matchID, func(_ *gorm.DB, m *models.Match) ([]engine.Event, error) {
			return s.resolver.CommitRoll(m, playerID, d1, d2, s.clock.Now())
		})
		if err != nil && !errors.Is(err, engine.ErrUnavailable) {
			return nil, backoff.Permanent(err)
		}
		if err != nil {
			log.Warn().Err(err).Str("match_id", matchID).Msg("[MATCH] roll commit failed, retrying")
		}
		return m, err
	}, backoff.WithBackOff(b), backoff.WithMaxTries(3))
}

// BankScore banks the running turn score.
func (s *MatchService) BankScore(ctx context.Context, matchID, playerID string) (*models.Match, error) {
	return s.apply(ctx, matchID, func(_ *gorm.DB, m *models.Match) ([]engine.Event, error) {
		return s.resolver.Bank(m, playerID, s.clock.Now())
	})
}

// AbilityIntent is one ability activation. IntentID makes retries safe.
type AbilityIntent struct {
	MatchID   string             `json:"-"`
	PlayerID  string             `json:"-"`
	AbilityID string             `json:"abilityId"`
	Tier      models.AbilityTier `json:"tier"`
	IntentID  string             `json:"intentId"`
}

// UseAbility applies an ability exactly once per intent id. Replaying an
// intent returns the current match without applying it again.
func (s *MatchService) UseAbility(ctx context.Context, in AbilityIntent) (*models.Match, error) {
	if in.IntentID == "" {
		return nil, engine.ErrMissingIntentID
	}
	def, ok := models.LookupAbility(in.AbilityID)
	if !ok {
		return nil, engine.ErrUnknownAbility.With(in.AbilityID)
	}

	m, err := s.apply(ctx, in.MatchID, func(tx *gorm.DB, m *models.Match) ([]engine.Event, error) {
		var prior models.AbilityUsage
		err := tx.First(&prior, "intent_id = ?", in.IntentID).Error
		if err == nil {
			if prior.MatchID != in.MatchID || prior.PlayerID != in.PlayerID || prior.AbilityID != in.AbilityID {
				return nil, engine.ErrIntentReused
			}
			return nil, ErrNoChange
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, err
		}

		unlocked := def.Starter
		if s.abilities != nil && !unlocked {
			if unlocked, err = s.abilities.IsUnlocked(tx, in.PlayerID, in.AbilityID); err != nil {
				return nil, err
			}
		}
		events, err := s.resolver.UseAbility(m, in.PlayerID, def, unlocked, in.Tier, s.clock.Now())
		if err != nil {
			return nil, err
		}

		usage := models.AbilityUsage{
			IntentID:  in.IntentID,
			MatchID:   in.MatchID,
			PlayerID:  in.PlayerID,
			AbilityID: in.AbilityID,
			Tier:      in.Tier,
		}
		for _, ev := range events {
			if p, ok := ev.Payload.(engine.AbilityUsedPayload); ok {
				usage.Tier, usage.AuraCost = p.Tier, p.AuraCost
			}
		}
		if err := tx.Create(&usage).Error; err != nil {
			if errors.Is(err, gorm.ErrDuplicatedKey) {
				return nil, ErrNoChange
			}
			return nil, err
		}
		return events, nil
	})
	if errors.Is(err, engine.ErrMatchOver) || errors.Is(err, engine.ErrMatchNotFound) {
		// A winning ability archives the match, so its retry lands here.
		if replayed, rerr := s.usageRecorded(ctx, in); rerr != nil {
			return nil, rerr
		} else if replayed {
			err = ErrNoChange
		}
	}
	if errors.Is(err, ErrNoChange) {
		log.Debug().Str("intent_id", in.IntentID).Msg("[MATCH] ability intent replayed")
		return s.GetMatch(ctx, in.MatchID)
	}
	return m, err
}

// usageRecorded reports whether in was already applied.
func (s *MatchService) usageRecorded(ctx context.Context, in AbilityIntent) (bool, error) {
	var prior models.AbilityUsage
	err := s.store.DB.WithContext(ctx).First(&prior, "intent_id = ?", in.IntentID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return false, nil
	}
	if err != nil {
		return false, unavailable(err, "load ability usage %s", in.IntentID)
	}
	if prior.MatchID != in.MatchID || prior.PlayerID != in.PlayerID || prior.AbilityID != in.AbilityID {
		return false, engine.ErrIntentReused
	}
	return true, nil
}

// RecoverStaleRoll commits a roll whose claim outlived its request.
func (s *MatchService) RecoverStaleRoll(ctx context.Context, m *models.Match) error {
	active := m.ActivePlayer()
	if !m.IsRolling || active == nil {
		return nil
	}
	_, err := s.commitRoll(ctx, m.ID, active.PlayerID)
	if errors.Is(err, engine.ErrNoRollInFlight) || errors.Is(err, engine.ErrMatchNotFound) || errors.Is(err, engine.ErrMatchOver) {
		return nil
	}
	if err == nil {
		log.Info().Str("match_id", m.ID).Str("player_id", active.PlayerID).Msg("[MATCH] recovered stale roll")
	}
	return err
}

// ArchiveFinished moves up to limit finished matches into history.
func (s *MatchService) ArchiveFinished(ctx context.Context, limit int) (int, error) {
	matches, err := s.store.ListFinished(ctx, limit)
	if err != nil {
		return 0, err
	}
	archived := 0
	for i := range matches {
		if err := s.store.Archive(ctx, &matches[i]); err != nil {
			log.Error().Err(err).Str("match_id", matches[i].ID).Msg("[MATCH] archive failed")
			continue
		}
		archived++
	}
	return archived, nil
}

// RecoverStaleRolls commits every roll claimed before now-olderThan.
func (s *MatchService) RecoverStaleRolls(ctx context.Context, olderThan time.Duration, limit int) (int, error) {
	matches, err := s.store.ListStaleRolls(ctx, s.clock.Now().Add(-olderThan), limit)
	if err != nil {
		return 0, err
	}
	recovered := 0
	for i := range matches {
		if err := s.RecoverStaleRoll(ctx, &matches[i]); err != nil {
			log.Error().Err(err).Str("match_id", matches[i].ID).Msg("[MATCH] stale roll recovery failed")
			continue
		}
		recovered++
	}
	return recovered, nil
}

type intentFunc func(tx *gorm.DB, m *models.Match) ([]engine.Event, error)

// apply runs one intent through the store and, on commit, notifies
// subscribers and telemetry.
func (s *MatchService) apply(ctx context.Context, matchID string, fn intentFunc) (*models.Match, error) {
	var events []engine.Event
	m, err := s.store.Mutate(ctx, matchID, func(tx *gorm.DB, m *models.Match) error {
		evs, err := fn(tx, m)
		if err != nil {
			return err
		}
		events = evs
		return nil
	})
	if errors.Is(err, engine.ErrMatchNotFound) {
		if _, herr := s.store.GetHistory(ctx, matchID); herr == nil {
			return nil, engine.ErrMatchOver
		}
	}
	if err != nil {
		return nil, err
	}
	s.afterCommit(ctx, m, events)
	return m, nil
}

func (s *MatchService) afterCommit(ctx context.Context, m *models.Match, events []engine.Event) {
	s.broadcaster.Publish(ctx, m)
	s.telemetry.Record(m, events)
	if m.GamePhase != models.PhaseGameOver {
		return
	}
	winner := ""
	if m.Winner != nil {
		winner = *m.Winner
	}
	log.Info().Str("match_id", m.ID).Str("winner", winner).Msg("[MATCH] 🏆 match over")
	if err := s.store.Archive(ctx, m); err != nil {
		// The sweeper retries.
		log.Warn().Err(err).Str("match_id", m.ID).Msg("[MATCH] archive deferred")
	}
}
