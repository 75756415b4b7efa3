package models

import (
	"sort"
	"time"
)

type AbilityCategory string

const (
	CategoryAttack   AbilityCategory = "attack"
	CategoryDefense  AbilityCategory = "defense"
	CategoryUtility  AbilityCategory = "utility"
	CategoryTactical AbilityCategory = "tactical"
)

// AbilityTier selects between the basic and advanced cost of a tiered ability.
type AbilityTier string

const (
	TierBasic    AbilityTier = "basic"
	TierAdvanced AbilityTier = "advanced"
)

type EffectKind string

const (
	EffectTurnScore  EffectKind = "turn_score"  // add to the running turn score
	EffectPendingDie EffectKind = "pending_die" // fix diceOne of the owner's next roll
	EffectDrainAura  EffectKind = "drain_aura"  // remove aura from the opponent
	EffectShield     EffectKind = "shield"      // absorb the next attack
)

// AbilityEffect magnitudes are per tier. Fixed-cost abilities only use Basic.
type AbilityEffect struct {
	Kind     EffectKind `json:"kind"`
	Basic    int        `json:"basic"`
	Advanced int        `json:"advanced,omitempty"`
}

// AbilityDefinition: static catalog entry
type AbilityDefinition struct {
	ID          string          `json:"id"`
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Category    AbilityCategory `json:"category"`
	StarCost    int             `json:"starCost"`
	AuraCost    int             `json:"auraCost"`
	// AdvancedAuraCost is zero for abilities without an advanced tier.
	AdvancedAuraCost int           `json:"advancedAuraCost,omitempty"`
	Cooldown         int           `json:"cooldown"`
	Effect           AbilityEffect `json:"effect"`
	Starter          bool          `json:"starter"`
}

// Tiered reports whether the ability has an advanced tier.
func (d AbilityDefinition) Tiered() bool {
	return d.AdvancedAuraCost > 0
}

// Cost returns the aura cost for tier. An empty tier means basic.
func (d AbilityDefinition) Cost(tier AbilityTier) (int, bool) {
	switch tier {
	case "", TierBasic:
		return d.AuraCost, true
	case TierAdvanced:
		if d.Tiered() {
			return d.AdvancedAuraCost, true
		}
	}
	return 0, false
}

// Magnitude returns the effect size for tier.
func (d AbilityDefinition) Magnitude(tier AbilityTier) int {
	if tier == TierAdvanced && d.Tiered() {
		return d.Effect.Advanced
	}
	return d.Effect.Basic
}

// AbilityCatalog is the fixed set of abilities a loadout can draw from.
var AbilityCatalog = []AbilityDefinition{
	{
		ID:          "focus",
		Name:        "Focus",
		Description: "Add 2 to your running turn score",
		Category:    CategoryUtility,
		StarCost:    0,
		AuraCost:    1,
		Cooldown:    1,
		Effect:      AbilityEffect{Kind: EffectTurnScore, Basic: 2},
		Starter:     true,
	},
	{
		ID:               "score_surge",
		Name:             "Score Surge",
		Description:      "Add 5 (advanced: 10) to your running turn score",
		Category:         CategoryTactical,
		StarCost:         3,
		AuraCost:         3,
		AdvancedAuraCost: 6,
		Cooldown:         2,
		Effect:           AbilityEffect{Kind: EffectTurnScore, Basic: 5, Advanced: 10},
	},
	{
		ID:               "loaded_die",
		Name:             "Loaded Die",
		Description:      "Your next roll's first die shows 5 (advanced: 6)",
		Category:         CategoryUtility,
		StarCost:         4,
		AuraCost:         2,
		AdvancedAuraCost: 4,
		Cooldown:         3,
		Effect:           AbilityEffect{Kind: EffectPendingDie, Basic: 5, Advanced: 6},
	},
	{
		ID:               "aura_siphon",
		Name:             "Aura Siphon",
		Description:      "Drain 2 (advanced: 4) aura from your opponent",
		Category:         CategoryAttack,
		StarCost:         4,
		AuraCost:         2,
		AdvancedAuraCost: 4,
		Cooldown:         2,
		Effect:           AbilityEffect{Kind: EffectDrainAura, Basic: 2, Advanced: 4},
	},
	{
		ID:          "aura_shield",
		Name:        "Aura Shield",
		Description: "Absorb the next attack aimed at you",
		Category:    CategoryDefense,
		StarCost:    3,
		AuraCost:    2,
		Cooldown:    3,
		Effect:      AbilityEffect{Kind: EffectShield, Basic: 1},
	},
}

var abilityIndex = func() map[string]AbilityDefinition {
	idx := make(map[string]AbilityDefinition, len(AbilityCatalog))
	for _, def := range AbilityCatalog {
		idx[def.ID] = def
	}
	return idx
}()

// LookupAbility finds a catalog entry by id.
func LookupAbility(id string) (AbilityDefinition, bool) {
	def, ok := abilityIndex[id]
	return def, ok
}

// StarterAbilities lists the ids every player may use without unlocking.
func StarterAbilities() []string {
	var ids []string
	for _, def := range AbilityCatalog {
		if def.Starter {
			ids = append(ids, def.ID)
		}
	}
	sort.Strings(ids)
	return ids
}

// UserAbility: unlock record per player
type UserAbility struct {
	ID        string `gorm:"primaryKey;type:varchar(64)" json:"id"`
	PlayerID  string `gorm:"type:varchar(64);uniqueIndex:idx_user_ability;not null" json:"playerId"`
	AbilityID string `gorm:"type:varchar(32);uniqueIndex:idx_user_ability;not null" json:"abilityId"`
	Unlocked  bool   `gorm:"default:true" json:"unlocked"`
	EquipSlot string `gorm:"type:varchar(16)" json:"equipSlot,omitempty"`
	Timestamps
}

// Loadout maps each category slot to at most one ability.
type Loadout struct {
	PlayerID   string                     `gorm:"primaryKey;type:varchar(64)" json:"playerId"`
	Slots      map[AbilityCategory]string `gorm:"serializer:json" json:"slots"`
	TotalStars int                        `json:"totalStars"`
	UpdatedAt  time.Time                  `gorm:"autoUpdateTime" json:"updatedAt"`
}

// AbilityIDs returns the equipped ids in a stable order.
func (l *Loadout) AbilityIDs() []string {
	ids := make([]string, 0, len(l.Slots))
	for _, id := range l.Slots {
		if id != "" {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}

// AbilityUsage is the idempotency ledger for ability intents.
type AbilityUsage struct {
	IntentID  string      `gorm:"primaryKey;type:varchar(64)" json:"intentId"`
	MatchID   string      `gorm:"type:varchar(64);index;not null" json:"matchId"`
	PlayerID  string      `gorm:"type:varchar(64);index;not null" json:"playerId"`
	AbilityID string      `gorm:"type:varchar(32);not null" json:"abilityId"`
	Tier      AbilityTier `gorm:"type:varchar(16)" json:"tier"`
	AuraCost  int         `json:"auraCost"`
	CreatedAt time.Time   `gorm:"autoCreateTime" json:"createdAt"`
}
