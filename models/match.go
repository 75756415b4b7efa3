package models

import "time"

type GameMode string

const (
	GameModeClassic    GameMode = "classic"
	GameModeCountdown  GameMode = "countdown"
	GameModeSingleRoll GameMode = "single_roll"
	GameModeNoBank     GameMode = "no_bank"
)

type MatchStatus string

const (
	MatchStatusWaiting   MatchStatus = "waiting"
	MatchStatusActive    MatchStatus = "active"
	MatchStatusCompleted MatchStatus = "completed"
)

type GamePhase string

const (
	PhaseTurnDecider GamePhase = "turnDecider"
	PhaseGameplay    GamePhase = "gameplay"
	PhaseGameOver    GamePhase = "gameOver"
)

type Parity string

const (
	ParityOdd  Parity = "odd"
	ParityEven Parity = "even"
)

// Seats used by Match.TurnDecider.
const (
	SeatHost     = 1
	SeatOpponent = 2
)

// Match is the authoritative record of one duel. Every mutation goes through
// a compare-and-swap on Version.
type Match struct {
	ID        string      `gorm:"primaryKey;type:varchar(64)" json:"id"`
	GameMode  GameMode    `gorm:"type:varchar(16);index;not null" json:"gameMode"`
	Status    MatchStatus `gorm:"type:varchar(16);index;not null" json:"status"`
	GamePhase GamePhase   `gorm:"type:varchar(16);not null" json:"gamePhase"`

	// 🎲 Turn order
	TurnDecider         int     `json:"turnDecider"`
	TurnDeciderChoice   *Parity `gorm:"type:varchar(8)" json:"turnDeciderChoice,omitempty"`
	TurnDeciderDieValue *int    `json:"turnDeciderDieValue,omitempty"`

	// 🎯 Current turn
	DiceOne      int        `json:"diceOne"`
	DiceTwo      int        `json:"diceTwo"`
	IsRolling    bool       `json:"isRolling"`
	RollingSince *time.Time `json:"-"`
	TurnScore    int        `json:"turnScore"`
	Winner       *string    `gorm:"type:varchar(64)" json:"winner,omitempty"`

	HostData     PlayerState `gorm:"embedded;embeddedPrefix:host_" json:"hostData"`
	OpponentData PlayerState `gorm:"embedded;embeddedPrefix:opponent_" json:"opponentData"`

	Version   int64      `gorm:"not null;default:0" json:"version"`
	StartedAt time.Time  `json:"startedAt"`
	EndedAt   *time.Time `json:"endedAt,omitempty"`
	CreatedAt time.Time  `gorm:"autoCreateTime" json:"createdAt"`
	UpdatedAt time.Time  `gorm:"autoUpdateTime" json:"updatedAt"`
}

// PlayerState is one participant's slice of a match.
type PlayerState struct {
	PlayerID          string         `gorm:"type:varchar(64);index" json:"playerId"`
	DisplayName       string         `json:"displayName"`
	IsBot             bool           `json:"isBot"`
	PlayerScore       int            `json:"playerScore"`
	TurnActive        bool           `json:"turnActive"`
	AuraBalance       int            `json:"auraBalance"`
	EquippedAbilities []string       `gorm:"serializer:json" json:"equippedAbilities"`
	Cooldowns         map[string]int `gorm:"serializer:json" json:"cooldowns"`
	PendingDie        int            `json:"pendingDie"`
	Shielded          bool           `json:"shielded"`
	Stats             PlayerStats    `gorm:"serializer:json" json:"stats"`
}

// PlayerStats are per-match counters that feed the end-of-match summary.
type PlayerStats struct {
	RollCount      int `json:"rollCount"`
	BustCount      int `json:"bustCount"`
	TurnsPlayed    int `json:"turnsPlayed"`
	BestTurn       int `json:"bestTurn"`
	BankStreak     int `json:"bankStreak"`
	BestBankStreak int `json:"bestBankStreak"`
}

// Seat returns the participant in the given seat, or nil.
func (m *Match) Seat(seat int) *PlayerState {
	switch seat {
	case SeatHost:
		return &m.HostData
	case SeatOpponent:
		return &m.OpponentData
	}
	return nil
}

// SeatOf returns the seat of playerID, or 0 when they are not a participant.
func (m *Match) SeatOf(playerID string) int {
	switch {
	case playerID == "":
		return 0
	case m.HostData.PlayerID == playerID:
		return SeatHost
	case m.OpponentData.PlayerID == playerID:
		return SeatOpponent
	}
	return 0
}

// ActivePlayer returns the turn-active participant during gameplay.
func (m *Match) ActivePlayer() *PlayerState {
	if m.HostData.TurnActive {
		return &m.HostData
	}
	if m.OpponentData.TurnActive {
		return &m.OpponentData
	}
	return nil
}

// Clone returns a deep copy so snapshots handed to subscribers never alias
// the record being mutated.
func (m *Match) Clone() *Match {
	c := *m
	c.HostData = m.HostData.clone()
	c.OpponentData = m.OpponentData.clone()
	if m.TurnDeciderChoice != nil {
		v := *m.TurnDeciderChoice
		c.TurnDeciderChoice = &v
	}
	if m.TurnDeciderDieValue != nil {
		v := *m.TurnDeciderDieValue
		c.TurnDeciderDieValue = &v
	}
	if m.Winner != nil {
		v := *m.Winner
		c.Winner = &v
	}
	if m.RollingSince != nil {
		v := *m.RollingSince
		c.RollingSince = &v
	}
	if m.EndedAt != nil {
		v := *m.EndedAt
		c.EndedAt = &v
	}
	return &c
}

func (p PlayerState) clone() PlayerState {
	c := p
	c.EquippedAbilities = append([]string(nil), p.EquippedAbilities...)
	if p.Cooldowns != nil {
		c.Cooldowns = make(map[string]int, len(p.Cooldowns))
		for k, v := range p.Cooldowns {
			c.Cooldowns[k] = v
		}
	}
	return c
}
