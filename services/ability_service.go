package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"dice-duel/engine"
	"dice-duel/models"
)

// AbilityService owns unlocks and loadouts. Activations go through
// MatchService.UseAbility, which consults this service inside its transaction.
type AbilityService struct {
	DB         *gorm.DB
	starBudget int
}

func NewAbilityService(db *gorm.DB, starBudget int) *AbilityService {
	if starBudget <= 0 {
		starBudget = 10
	}
	return &AbilityService{DB: db, starBudget: starBudget}
}

func (s *AbilityService) StarBudget() int { return s.starBudget }

func (s *AbilityService) Catalog() []models.AbilityDefinition {
	return append([]models.AbilityDefinition(nil), models.AbilityCatalog...)
}

// Unlock grants abilityID to playerID. Unlocking twice is a no-op.
func (s *AbilityService) Unlock(ctx context.Context, playerID, abilityID string) (*models.UserAbility, error) {
	if playerID == "" {
		return nil, engine.ErrInvalidPlayer
	}
	if _, ok := models.LookupAbility(abilityID); !ok {
		return nil, engine.ErrUnknownAbility.With(abilityID)
	}
	ua := models.UserAbility{
		ID:        uuid.NewString(),
		PlayerID:  playerID,
		AbilityID: abilityID,
		Unlocked:  true,
	}
	err := s.DB.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "player_id"}, {Name: "ability_id"}},
		DoUpdates: clause.Assignments(map[string]interface{}{"unlocked": true}),
	}).Create(&ua).Error
	if err != nil {
		return nil, unavailable(err, "unlock %s for %s", abilityID, playerID)
	}
	// The upsert keeps the first row's id, so reload into a fresh value.
	var stored models.UserAbility
	if err := s.DB.WithContext(ctx).First(&stored, "player_id = ? AND ability_id = ?", playerID, abilityID).Error; err != nil {
		return nil, unavailable(err, "reload unlock %s for %s", abilityID, playerID)
	}
	log.Info().Str("player_id", playerID).Str("ability", abilityID).Msg("[ABILITY] unlocked")
	return &stored, nil
}

// IsUnlocked checks the unlock record using db, which may be a transaction.
func (s *AbilityService) IsUnlocked(db *gorm.DB, playerID, abilityID string) (bool, error) {
	if def, ok := models.LookupAbility(abilityID); ok && def.Starter {
		return true, nil
	}
	var ua models.UserAbility
	err := db.First(&ua, "player_id = ? AND ability_id = ?", playerID, abilityID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return false, nil
	}
	if err != nil {
		return false, unavailable(err, "load unlock %s for %s", abilityID, playerID)
	}
	return ua.Unlocked, nil
}

// Unlocked lists every ability id playerID may equip, starters included.
func (s *AbilityService) Unlocked(ctx context.Context, playerID string) ([]string, error) {
	var ids []string
	err := s.DB.WithContext(ctx).Model(&models.UserAbility{}).
		Where("player_id = ? AND unlocked = ?", playerID, true).
		Order("ability_id").
		Pluck("ability_id", &ids).Error
	if err != nil {
		return nil, unavailable(err, "list unlocks for %s", playerID)
	}
	for _, id := range models.StarterAbilities() {
		if !containsString(ids, id) {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

// Loadout returns the saved loadout, or an empty one.
func (s *AbilityService) Loadout(ctx context.Context, playerID string) (*models.Loadout, error) {
	var l models.Loadout
	err := s.DB.WithContext(ctx).First(&l, "player_id = ?", playerID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return &models.Loadout{PlayerID: playerID, Slots: map[models.AbilityCategory]string{}}, nil
	}
	if err != nil {
		return nil, unavailable(err, "load loadout for %s", playerID)
	}
	if l.Slots == nil {
		l.Slots = map[models.AbilityCategory]string{}
	}
	return &l, nil
}

// SaveLoadout validates and stores a loadout. Each slot must hold an unlocked
// ability of that category and the star total must fit the budget.
func (s *AbilityService) SaveLoadout(ctx context.Context, playerID string, slots map[models.AbilityCategory]string) (*models.Loadout, error) {
	if playerID == "" {
		return nil, engine.ErrInvalidPlayer
	}
	clean := make(map[models.AbilityCategory]string, len(slots))
	total := 0
	for slot, id := range slots {
		if id == "" {
			continue
		}
		def, ok := models.LookupAbility(id)
		if !ok {
			return nil, engine.ErrUnknownAbility.With(id)
		}
		if def.Category != slot {
			return nil, engine.ErrInvalidLoadout.With(fmt.Sprintf("%s is a %s ability, not %s", id, def.Category, slot))
		}
		unlocked, err := s.IsUnlocked(s.DB.WithContext(ctx), playerID, id)
		if err != nil {
			return nil, err
		}
		if !unlocked {
			return nil, engine.ErrAbilityNotUnlocked.With(id)
		}
		clean[slot] = id
		total += def.StarCost
	}
	if total > s.starBudget {
		return nil, engine.ErrStarBudget.With(fmt.Sprintf("%d stars over a budget of %d", total, s.starBudget))
	}

	l := models.Loadout{PlayerID: playerID, Slots: clean, TotalStars: total}
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Clauses(clause.OnConflict{UpdateAll: true}).Create(&l).Error; err != nil {
			return err
		}
		if err := tx.Model(&models.UserAbility{}).
			Where("player_id = ?", playerID).
			Update("equip_slot", "").Error; err != nil {
			return err
		}
		for slot, id := range clean {
			if err := tx.Model(&models.UserAbility{}).
				Where("player_id = ? AND ability_id = ?", playerID, id).
				Update("equip_slot", string(slot)).Error; err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, unavailable(err, "save loadout for %s", playerID)
	}
	return &l, nil
}

// EquippedFor returns the ability ids a player brings into a new match.
func (s *AbilityService) EquippedFor(ctx context.Context, playerID string) ([]string, error) {
	l, err := s.Loadout(ctx, playerID)
	if err != nil {
		return nil, err
	}
	return l.AbilityIDs(), nil
}

func containsString(ids []string, id string) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}
