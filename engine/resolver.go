// Package engine holds the authoritative match state machine.
//
// Every method validates the whole intent before touching the record, so a
// rejected intent leaves the match exactly as it was. Persistence, dice and
// broadcasting live in services; this package only mutates *models.Match.
package engine

import (
	"time"

	"dice-duel/models"
	"dice-duel/scoring"
)

// Rules are the tunable parts of the aura economy.
type Rules struct {
	StartingAura int
	AuraPerBank  int
}

func DefaultRules() Rules {
	return Rules{StartingAura: 3, AuraPerBank: 1}
}

// Resolver applies intents to match records.
type Resolver struct {
	Rules Rules
}

func NewResolver(rules Rules) *Resolver {
	return &Resolver{Rules: rules}
}

// Entrant describes a participant at match creation.
type Entrant struct {
	PlayerID          string
	DisplayName       string
	IsBot             bool
	EquippedAbilities []string
}

// NewMatch builds a match in the turnDecider phase. deciderSeat picks who
// chooses parity: 1 for the host, 2 for the opponent.
func (r *Resolver) NewMatch(id string, mode models.GameMode, host, opponent Entrant, deciderSeat int, now time.Time) (*models.Match, error) {
	if _, err := scoring.ModeFor(mode); err != nil {
		return nil, ErrInvalidMode.With(string(mode))
	}
	if host.PlayerID == "" || opponent.PlayerID == "" {
		return nil, ErrInvalidPlayer
	}
	if host.PlayerID == opponent.PlayerID {
		return nil, ErrSamePlayer
	}
	if deciderSeat != models.SeatHost && deciderSeat != models.SeatOpponent {
		deciderSeat = models.SeatHost
	}
	return &models.Match{
		ID:           id,
		GameMode:     mode,
		Status:       models.MatchStatusWaiting,
		GamePhase:    models.PhaseTurnDecider,
		TurnDecider:  deciderSeat,
		HostData:     r.newPlayer(host),
		OpponentData: r.newPlayer(opponent),
		StartedAt:    now,
	}, nil
}

func (r *Resolver) newPlayer(e Entrant) models.PlayerState {
	equipped := append([]string(nil), e.EquippedAbilities...)
	for _, id := range models.StarterAbilities() {
		if !contains(equipped, id) {
			equipped = append(equipped, id)
		}
	}
	return models.PlayerState{
		PlayerID:          e.PlayerID,
		DisplayName:       e.DisplayName,
		IsBot:             e.IsBot,
		AuraBalance:       r.Rules.StartingAura,
		EquippedAbilities: equipped,
		Cooldowns:         map[string]int{},
	}
}

// ChooseTurnDecider resolves the parity call. die is the face drawn for it.
func (r *Resolver) ChooseTurnDecider(m *models.Match, playerID string, choice models.Parity, die int) ([]Event, error) {
	seat := m.SeatOf(playerID)
	if seat == 0 {
		return nil, ErrNotParticipant
	}
	switch {
	case m.GamePhase == models.PhaseGameOver:
		return nil, ErrMatchOver
	case m.GamePhase != models.PhaseTurnDecider || m.TurnDeciderChoice != nil:
		return nil, ErrDeciderResolved
	case seat != m.TurnDecider:
		return nil, ErrNotChooser
	case choice != models.ParityOdd && choice != models.ParityEven:
		return nil, ErrInvalidChoice
	case !scoring.ValidDie(die):
		return nil, ErrInvalidDie
	}

	c, d := choice, die
	m.TurnDeciderChoice = &c
	m.TurnDeciderDieValue = &d

	first := seat
	if (die%2 == 0) != (choice == models.ParityEven) {
		first = otherSeat(seat)
	}
	m.Seat(first).TurnActive = true
	m.Seat(otherSeat(first)).TurnActive = false
	m.GamePhase = models.PhaseGameplay
	m.Status = models.MatchStatusActive
	m.TurnScore = 0

	return []Event{{
		Kind:     EventTurnDecided,
		PlayerID: playerID,
		Payload: TurnDecidedPayload{
			Choice:        choice,
			DieValue:      die,
			FirstPlayerID: m.Seat(first).PlayerID,
		},
	}}, nil
}

// BeginRoll claims the roll slot. Until CommitRoll, further rolls, banks and
// abilities are rejected.
func (r *Resolver) BeginRoll(m *models.Match, playerID string, now time.Time) ([]Event, error) {
	if _, _, _, err := r.requireTurn(m, playerID); err != nil {
		return nil, err
	}
	if m.IsRolling {
		return nil, ErrRollInFlight
	}
	m.IsRolling = true
	m.RollingSince = &now
	return []Event{{Kind: EventRollStarted, PlayerID: playerID}}, nil
}

// CommitRoll applies the dice of a claimed roll.
func (r *Resolver) CommitRoll(m *models.Match, playerID string, diceOne, diceTwo int, now time.Time) ([]Event, error) {
	self, other, mode, err := r.requireTurn(m, playerID)
	if err != nil {
		return nil, err
	}
	if !m.IsRolling {
		return nil, ErrNoRollInFlight
	}
	if !scoring.ValidDie(diceOne) || !scoring.ValidDie(diceTwo) {
		return nil, ErrInvalidDie
	}

	loaded := false
	if self.PendingDie > 0 {
		diceOne, loaded = self.PendingDie, true
		self.PendingDie = 0
	}

	turnScore, bust := mode.Resolve(m.TurnScore, diceOne, diceTwo)
	m.DiceOne, m.DiceTwo = diceOne, diceTwo
	m.IsRolling = false
	m.RollingSince = nil
	self.Stats.RollCount++

	events := []Event{{
		Kind:     EventDiceRolled,
		PlayerID: playerID,
		Payload:  DiceRolledPayload{DiceOne: diceOne, DiceTwo: diceTwo, TurnScore: turnScore, Bust: bust, Loaded: loaded},
	}}

	if bust {
		self.Stats.BustCount++
		self.Stats.BankStreak = 0
		return append(events, r.endTurn(m, self, other, true, 0)...), nil
	}

	m.TurnScore = turnScore
	if mode.HasWon(self.PlayerScore, m.TurnScore) {
		self.Stats.BestTurn = max(self.Stats.BestTurn, m.TurnScore)
		return append(events, r.finish(m, self, now)...), nil
	}
	if mode.AutoBank() {
		return append(events, r.bank(m, self, other, mode, now, true)...), nil
	}
	return events, nil
}

// Roll claims and commits in one step. Used where no settle pause is needed.
func (r *Resolver) Roll(m *models.Match, playerID string, diceOne, diceTwo int, now time.Time) ([]Event, error) {
	started, err := r.BeginRoll(m, playerID, now)
	if err != nil {
		return nil, err
	}
	rolled, err := r.CommitRoll(m, playerID, diceOne, diceTwo, now)
	if err != nil {
		// Undo the claim so the record is unchanged.
		m.IsRolling = false
		m.RollingSince = nil
		return nil, err
	}
	return append(started, rolled...), nil
}

// Bank moves the running turn score into the player's score and passes the turn.
func (r *Resolver) Bank(m *models.Match, playerID string, now time.Time) ([]Event, error) {
	self, other, mode, err := r.requireTurn(m, playerID)
	if err != nil {
		return nil, err
	}
	switch {
	case !mode.AllowsBank():
		return nil, ErrBankingDisabled
	case m.IsRolling:
		return nil, ErrRollInFlight
	case m.TurnScore <= 0:
		return nil, ErrNothingToBank
	}
	return r.bank(m, self, other, mode, now, false), nil
}

func (r *Resolver) bank(m *models.Match, self, other *models.PlayerState, mode scoring.Mode, now time.Time, auto bool) []Event {
	amount := m.TurnScore
	self.PlayerScore += amount
	self.AuraBalance += r.Rules.AuraPerBank
	self.Stats.BestTurn = max(self.Stats.BestTurn, amount)
	self.Stats.BankStreak++
	self.Stats.BestBankStreak = max(self.Stats.BestBankStreak, self.Stats.BankStreak)
	m.TurnScore = 0

	events := []Event{{
		Kind:     EventBanked,
		PlayerID: self.PlayerID,
		Payload:  BankedPayload{Amount: amount, PlayerScore: self.PlayerScore, Auto: auto},
	}}
	if mode.HasWon(self.PlayerScore, 0) {
		return append(events, r.finish(m, self, now)...)
	}
	return append(events, r.endTurn(m, self, other, false, amount)...)
}

func (r *Resolver) endTurn(m *models.Match, self, other *models.PlayerState, bust bool, banked int) []Event {
	self.TurnActive = false
	other.TurnActive = true
	m.TurnScore = 0
	self.PendingDie = 0
	self.Stats.TurnsPlayed++
	for id, left := range self.Cooldowns {
		if left <= 1 {
			delete(self.Cooldowns, id)
		} else {
			self.Cooldowns[id] = left - 1
		}
	}
	return []Event{{
		Kind:     EventTurnEnded,
		PlayerID: self.PlayerID,
		Payload:  TurnEndedPayload{Bust: bust, Banked: banked, NextPlayerID: other.PlayerID},
	}}
}

func (r *Resolver) finish(m *models.Match, winner *models.PlayerState, now time.Time) []Event {
	id := winner.PlayerID
	m.Winner = &id
	m.GamePhase = models.PhaseGameOver
	m.Status = models.MatchStatusCompleted
	m.EndedAt = &now
	m.IsRolling = false
	m.RollingSince = nil
	m.HostData.TurnActive = false
	m.OpponentData.TurnActive = false
	winner.Stats.TurnsPlayed++

	return []Event{{
		Kind:     EventMatchEnded,
		PlayerID: id,
		Payload: MatchEndedPayload{
			WinnerID: id,
			Scores: map[string]int{
				m.HostData.PlayerID:     m.HostData.PlayerScore,
				m.OpponentData.PlayerID: m.OpponentData.PlayerScore,
			},
		},
	}}
}

// requireTurn checks that playerID may act now and returns both sides.
func (r *Resolver) requireTurn(m *models.Match, playerID string) (self, other *models.PlayerState, mode scoring.Mode, err error) {
	seat := m.SeatOf(playerID)
	if seat == 0 {
		return nil, nil, nil, ErrNotParticipant
	}
	switch m.GamePhase {
	case models.PhaseGameOver:
		return nil, nil, nil, ErrMatchOver
	case models.PhaseGameplay:
	default:
		return nil, nil, nil, ErrWrongPhase
	}
	self, other = m.Seat(seat), m.Seat(otherSeat(seat))
	if !self.TurnActive {
		return nil, nil, nil, ErrNotYourTurn
	}
	mode, modeErr := scoring.ModeFor(m.GameMode)
	if modeErr != nil {
		return nil, nil, nil, ErrInvalidMode.With(string(m.GameMode))
	}
	return self, other, mode, nil
}

func otherSeat(seat int) int {
	if seat == models.SeatHost {
		return models.SeatOpponent
	}
	return models.SeatHost
}

func contains(ids []string, id string) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}
