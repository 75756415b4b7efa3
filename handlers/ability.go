package handlers

import (
	"github.com/gofiber/fiber/v2"

	"dice-duel/middleware"
	"dice-duel/models"
	"dice-duel/services"
)

type saveLoadoutRequest struct {
	Slots map[models.AbilityCategory]string `json:"slots"`
}

type unlockRequest struct {
	PlayerID  string `json:"playerId"`
	AbilityID string `json:"abilityId"`
}

// SetupAbilityRoutes registers the ability catalog, player loadouts and the
// admin unlock endpoint.
func SetupAbilityRoutes(secured fiber.Router, abilities *services.AbilityService) {
	secured.Get("/abilities", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"abilities":  abilities.Catalog(),
			"starBudget": abilities.StarBudget(),
		})
	})

	// GET /users/me/abilities: ids the player may equip
	secured.Get("/users/me/abilities", func(c *fiber.Ctx) error {
		ids, err := abilities.Unlocked(c.UserContext(), middleware.UserID(c))
		if err != nil {
			return respondError(c, err)
		}
		return c.JSON(fiber.Map{"unlocked": ids})
	})

	secured.Get("/users/me/loadout", func(c *fiber.Ctx) error {
		l, err := abilities.Loadout(c.UserContext(), middleware.UserID(c))
		if err != nil {
			return respondError(c, err)
		}
		return c.JSON(l)
	})

	secured.Put("/users/me/loadout", func(c *fiber.Ctx) error {
		var req saveLoadoutRequest
		if err := c.BodyParser(&req); err != nil {
			return badRequest(c, "invalid request body: "+err.Error())
		}
		l, err := abilities.SaveLoadout(c.UserContext(), middleware.UserID(c), req.Slots)
		if err != nil {
			return respondError(c, err)
		}
		return c.JSON(l)
	})

	// 🔐 admin: grant an ability to a player
	secured.Post("/admin/abilities/unlock", middleware.RequireRole("admin"), func(c *fiber.Ctx) error {
		var req unlockRequest
		if err := c.BodyParser(&req); err != nil {
			return badRequest(c, "invalid request body: "+err.Error())
		}
		ua, err := abilities.Unlock(c.UserContext(), req.PlayerID, req.AbilityID)
		if err != nil {
			return respondError(c, err)
		}
		return c.JSON(ua)
	})
}
