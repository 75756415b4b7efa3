// Package scoring resolves dice against the rules of each game mode.
//
// Everything here is pure: no randomness, no persistence. The turn resolver
// draws dice elsewhere and hands the faces in.
package scoring

import (
	"errors"
	"fmt"

	"dice-duel/models"
)

var (
	ErrUnknownMode = errors.New("unknown game mode")
	ErrInvalidDie  = errors.New("die value out of range")
)

// Mode is the rule set of one game mode.
type Mode interface {
	Name() models.GameMode
	// Target is the score that ends the match.
	Target() int
	// Resolve applies one roll to the running turn score.
	Resolve(turnScore, diceOne, diceTwo int) (newTurnScore int, bust bool)
	// AllowsBank reports whether players may bank voluntarily.
	AllowsBank() bool
	// AutoBank reports whether every non-bust roll is banked immediately.
	AutoBank() bool
	// HasWon checks the win condition after a score-affecting transition.
	HasWon(playerScore, turnScore int) bool
}

var modes = map[models.GameMode]Mode{
	models.GameModeClassic:    classic{},
	models.GameModeCountdown:  countdown{},
	models.GameModeSingleRoll: singleRoll{},
	models.GameModeNoBank:     noBank{},
}

// ModeFor returns the rules for mode.
func ModeFor(mode models.GameMode) (Mode, error) {
	m, ok := modes[mode]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownMode, mode)
	}
	return m, nil
}

// Modes lists every supported game mode.
func Modes() []models.GameMode {
	return []models.GameMode{
		models.GameModeClassic,
		models.GameModeCountdown,
		models.GameModeSingleRoll,
		models.GameModeNoBank,
	}
}

// ValidDie reports whether v is a face of a d6.
func ValidDie(v int) bool {
	return v >= 1 && v <= 6
}

// Resolve applies a roll under the named mode. It returns an error only for
// an unknown mode or a face outside [1, 6].
func Resolve(turnScore, diceOne, diceTwo int, mode models.GameMode) (int, bool, error) {
	m, err := ModeFor(mode)
	if err != nil {
		return 0, false, err
	}
	if !ValidDie(diceOne) || !ValidDie(diceTwo) {
		return 0, false, fmt.Errorf("%w: (%d, %d)", ErrInvalidDie, diceOne, diceTwo)
	}
	score, bust := m.Resolve(turnScore, diceOne, diceTwo)
	return score, bust, nil
}

// bustOnOne is shared by every mode where a single 1 ends the turn.
func bustOnOne(turnScore, diceOne, diceTwo int) (int, bool) {
	if diceOne == 1 || diceTwo == 1 {
		return 0, true
	}
	return turnScore + diceOne + diceTwo, false
}

type classic struct{}

func (classic) Name() models.GameMode { return models.GameModeClassic }
func (classic) Target() int           { return 100 }
func (classic) AllowsBank() bool      { return true }
func (classic) AutoBank() bool        { return false }
func (classic) Resolve(turnScore, diceOne, diceTwo int) (int, bool) {
	return bustOnOne(turnScore, diceOne, diceTwo)
}
func (c classic) HasWon(playerScore, _ int) bool { return playerScore >= c.Target() }

// countdown busts on a total of seven instead of on ones.
type countdown struct{}

func (countdown) Name() models.GameMode { return models.GameModeCountdown }
func (countdown) Target() int           { return 50 }
func (countdown) AllowsBank() bool      { return true }
func (countdown) AutoBank() bool        { return false }
func (countdown) Resolve(turnScore, diceOne, diceTwo int) (int, bool) {
	if diceOne+diceTwo == 7 {
		return 0, true
	}
	return turnScore + diceOne + diceTwo, false
}
func (c countdown) HasWon(playerScore, _ int) bool { return playerScore >= c.Target() }

// singleRoll gives each turn exactly one roll, banked unless it busts.
type singleRoll struct{}

func (singleRoll) Name() models.GameMode { return models.GameModeSingleRoll }
func (singleRoll) Target() int           { return 60 }
func (singleRoll) AllowsBank() bool      { return false }
func (singleRoll) AutoBank() bool        { return true }
func (singleRoll) Resolve(turnScore, diceOne, diceTwo int) (int, bool) {
	return bustOnOne(turnScore, diceOne, diceTwo)
}
func (s singleRoll) HasWon(playerScore, _ int) bool { return playerScore >= s.Target() }

// noBank is won by a single unbroken streak; nothing is ever banked.
type noBank struct{}

func (noBank) Name() models.GameMode { return models.GameModeNoBank }
func (noBank) Target() int           { return 40 }
func (noBank) AllowsBank() bool      { return false }
func (noBank) AutoBank() bool        { return false }
func (noBank) Resolve(turnScore, diceOne, diceTwo int) (int, bool) {
	return bustOnOne(turnScore, diceOne, diceTwo)
}
func (n noBank) HasWon(_, turnScore int) bool { return turnScore >= n.Target() }
