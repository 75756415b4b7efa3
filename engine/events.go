package engine

import "dice-duel/models"

// EventKind identifies what a committed intent did.
type EventKind string

const (
	EventTurnDecided EventKind = "turn_decided"
	EventRollStarted EventKind = "roll_started"
	EventDiceRolled  EventKind = "dice_rolled"
	EventBanked      EventKind = "banked"
	EventTurnEnded   EventKind = "turn_ended"
	EventAbilityUsed EventKind = "ability_used"
	EventMatchEnded  EventKind = "match_ended"
)

// Event is emitted by the resolver alongside the mutated match. Telemetry and
// the bot driver consume them; clients only ever see snapshots.
type Event struct {
	Kind     EventKind
	PlayerID string
	Payload  any
}

type TurnDecidedPayload struct {
	Choice        models.Parity
	DieValue      int
	FirstPlayerID string
}

type DiceRolledPayload struct {
	DiceOne   int
	DiceTwo   int
	TurnScore int
	Bust      bool
	// Loaded is set when diceOne came from a pending die.
	Loaded bool
}

type BankedPayload struct {
	Amount      int
	PlayerScore int
	Auto        bool
}

type TurnEndedPayload struct {
	Bust         bool
	Banked       int
	NextPlayerID string
}

type AbilityUsedPayload struct {
	AbilityID string
	Tier      models.AbilityTier
	AuraCost  int
	TargetID  string
	Blocked   bool
}

type MatchEndedPayload struct {
	WinnerID string
	Scores   map[string]int
}
