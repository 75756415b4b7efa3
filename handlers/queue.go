package handlers

import (
	"github.com/gofiber/fiber/v2"

	"dice-duel/middleware"
	"dice-duel/models"
	"dice-duel/services"
)

type joinQueueRequest struct {
	GameMode             models.GameMode      `json:"gameMode"`
	DisplayName          string               `json:"displayName"`
	Stats                models.ProfileStats  `json:"stats"`
	EquippedCosmeticRefs []models.CosmeticRef `json:"equippedCosmeticRefs"`
}

// SetupQueueRoutes registers the waiting room endpoints under the secured group.
func SetupQueueRoutes(secured fiber.Router, queue *services.QueueService) {
	// POST /queue/join: pair with the oldest open entry or open a new one
	secured.Post("/queue/join", func(c *fiber.Ctx) error {
		var req joinQueueRequest
		if err := c.BodyParser(&req); err != nil {
			return badRequest(c, "invalid request body: "+err.Error())
		}

		name := req.DisplayName
		if name == "" {
			name = middleware.DisplayName(c)
		}
		player := models.QueuePlayer{
			PlayerID:             middleware.UserID(c),
			DisplayName:          name,
			Stats:                req.Stats,
			EquippedCosmeticRefs: req.EquippedCosmeticRefs,
		}

		result, err := queue.Enqueue(c.UserContext(), player, req.GameMode)
		if err != nil {
			return respondError(c, err)
		}
		status := fiber.StatusAccepted
		if result.Status == services.EnqueueJoined {
			status = fiber.StatusOK
		}
		return c.Status(status).JSON(result)
	})

	// GET /queue/:entryId: poll your own entry; 404 once it has been promoted
	secured.Get("/queue/:entryId", func(c *fiber.Ctx) error {
		entry, err := queue.GetEntry(c.UserContext(), c.Params("entryId"), middleware.UserID(c))
		if err != nil {
			return respondError(c, err)
		}
		return c.JSON(entry)
	})

	// DELETE /queue/:entryId: leave the queue before being paired
	secured.Delete("/queue/:entryId", func(c *fiber.Ctx) error {
		if err := queue.LeaveQueue(c.UserContext(), c.Params("entryId"), middleware.UserID(c)); err != nil {
			return respondError(c, err)
		}
		return c.SendStatus(fiber.StatusNoContent)
	})
}
