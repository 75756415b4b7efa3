package engine

import (
	"time"

	"dice-duel/models"
)

// UseAbility validates and applies one ability activation. Checks run in a
// fixed order: unlocked, equipped, aura, cooldown. unlocked comes from the
// caller's unlock records; starters are always unlocked.
func (r *Resolver) UseAbility(m *models.Match, playerID string, def models.AbilityDefinition, unlocked bool, tier models.AbilityTier, now time.Time) ([]Event, error) {
	self, other, mode, err := r.requireTurn(m, playerID)
	if err != nil {
		return nil, err
	}
	if m.IsRolling {
		return nil, ErrRollInFlight
	}
	if !def.Starter && !unlocked {
		return nil, ErrAbilityNotUnlocked
	}
	if !def.Starter && !contains(self.EquippedAbilities, def.ID) {
		return nil, ErrAbilityNotEquipped
	}
	cost, ok := def.Cost(tier)
	if !ok {
		return nil, ErrInvalidTier
	}
	if self.AuraBalance < cost {
		return nil, ErrInsufficientAura
	}
	if self.Cooldowns[def.ID] > 0 {
		return nil, ErrOnCooldown
	}
	switch def.Effect.Kind {
	case models.EffectTurnScore, models.EffectPendingDie, models.EffectDrainAura, models.EffectShield:
	default:
		return nil, ErrUnknownAbility.With(def.ID)
	}

	if tier == "" {
		tier = models.TierBasic
	}
	self.AuraBalance -= cost
	if def.Cooldown > 0 {
		if self.Cooldowns == nil {
			self.Cooldowns = map[string]int{}
		}
		self.Cooldowns[def.ID] = def.Cooldown
	}

	amount := def.Magnitude(tier)
	payload := AbilityUsedPayload{AbilityID: def.ID, Tier: tier, AuraCost: cost}
	switch def.Effect.Kind {
	case models.EffectTurnScore:
		m.TurnScore += amount
	case models.EffectPendingDie:
		self.PendingDie = amount
	case models.EffectDrainAura:
		payload.TargetID = other.PlayerID
		if other.Shielded {
			other.Shielded = false
			payload.Blocked = true
		} else {
			other.AuraBalance = max(0, other.AuraBalance-amount)
		}
	case models.EffectShield:
		self.Shielded = true
	}

	events := []Event{{Kind: EventAbilityUsed, PlayerID: playerID, Payload: payload}}
	if mode.HasWon(self.PlayerScore, m.TurnScore) {
		self.Stats.BestTurn = max(self.Stats.BestTurn, m.TurnScore)
		events = append(events, r.finish(m, self, now)...)
	}
	return events, nil
}
