package engine

import "errors"

// Kind classifies why an intent was rejected. Rejections never commit state.
type Kind string

const (
	KindValidation Kind = "validation"
	KindOwnership  Kind = "ownership"
	KindResource   Kind = "resource"
	KindState      Kind = "state"
	KindNotFound   Kind = "not_found"
	// KindTransient marks infrastructure failures the caller may retry.
	KindTransient Kind = "transient"
)

// Error is a typed rejection. Sentinels below are compared with errors.Is by
// code, so wrapped or re-messaged copies still match.
type Error struct {
	Kind    Kind
	Code    string
	Message string
}

func (e *Error) Error() string { return e.Message }

func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	if t.Code == "" {
		return t.Kind == e.Kind
	}
	return t.Code == e.Code
}

// With returns a copy carrying a more specific message.
func (e *Error) With(msg string) *Error {
	return &Error{Kind: e.Kind, Code: e.Code, Message: e.Message + ": " + msg}
}

func newError(kind Kind, code, msg string) *Error {
	return &Error{Kind: kind, Code: code, Message: msg}
}

var (
	ErrInvalidChoice   = newError(KindValidation, "invalid_choice", "turn decider choice must be odd or even")
	ErrInvalidDie      = newError(KindValidation, "invalid_die", "die value out of range")
	ErrInvalidMode     = newError(KindValidation, "invalid_game_mode", "unknown game mode")
	ErrInvalidPlayer   = newError(KindValidation, "invalid_player", "player id is required")
	ErrSamePlayer      = newError(KindValidation, "same_player", "a player cannot face themselves")
	ErrUnknownAbility  = newError(KindValidation, "unknown_ability", "ability does not exist")
	ErrInvalidTier     = newError(KindValidation, "invalid_tier", "ability has no such tier")
	ErrMissingIntentID = newError(KindValidation, "missing_intent_id", "intent id is required")
	ErrIntentReused    = newError(KindValidation, "intent_reused", "intent id was already used for a different action")
	ErrInvalidLoadout  = newError(KindValidation, "invalid_loadout", "loadout is not valid")
	ErrInvalidCosmetic = newError(KindValidation, "invalid_cosmetic", "cosmetic reference is not valid")

	ErrAbilityNotUnlocked = newError(KindValidation, "ability_not_unlocked", "ability is not unlocked")
	ErrAbilityNotEquipped = newError(KindValidation, "ability_not_equipped", "ability is not equipped")

	ErrInsufficientAura = newError(KindResource, "insufficient_aura", "not enough aura")
	ErrOnCooldown       = newError(KindResource, "on_cooldown", "ability is on cooldown")
	ErrStarBudget       = newError(KindResource, "star_budget_exceeded", "loadout exceeds the star budget")

	ErrNotParticipant = newError(KindOwnership, "not_participant", "player is not in this match")
	ErrNotYourTurn    = newError(KindOwnership, "not_your_turn", "it is not your turn")
	ErrNotChooser     = newError(KindOwnership, "not_turn_decider", "the other player chooses turn order")
	ErrNotEntryOwner  = newError(KindOwnership, "not_entry_owner", "queue entry belongs to another player")

	ErrWrongPhase      = newError(KindState, "wrong_phase", "action not allowed in this phase")
	ErrMatchOver       = newError(KindState, "match_over", "match is over")
	ErrDeciderResolved = newError(KindState, "turn_decider_resolved", "turn order was already decided")
	ErrRollInFlight    = newError(KindState, "roll_in_flight", "a roll is already in progress")
	ErrNoRollInFlight  = newError(KindState, "no_roll_in_flight", "no roll is in progress")
	ErrNothingToBank   = newError(KindState, "nothing_to_bank", "turn score is zero")
	ErrBankingDisabled = newError(KindState, "banking_disabled", "this mode does not allow banking")
	ErrAlreadyPaired   = newError(KindState, "already_paired", "queue entry is already paired")

	ErrMatchNotFound = newError(KindNotFound, "match_not_found", "match not found")
	ErrEntryNotFound = newError(KindNotFound, "entry_not_found", "queue entry not found")

	ErrUnavailable = newError(KindTransient, "unavailable", "service temporarily unavailable")
)

// KindOf returns the rejection kind of err, or "" for untyped errors.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// IsRejection reports whether err is a typed, non-transient rejection.
func IsRejection(err error) bool {
	k := KindOf(err)
	return k != "" && k != KindTransient
}
