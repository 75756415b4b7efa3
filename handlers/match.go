package handlers

import (
	"strconv"

	"github.com/gofiber/fiber/v2"

	"dice-duel/middleware"
	"dice-duel/models"
	"dice-duel/services"
)

type createMatchRequest struct {
	GameMode     models.GameMode `json:"gameMode"`
	OpponentID   string          `json:"opponentId"`
	OpponentName string          `json:"opponentName"`
}

type turnDeciderRequest struct {
	Choice models.Parity `json:"choice"`
}

// SetupMatchRoutes registers match queries and player intents under the
// secured group. Every intent acts as the gateway-authenticated player.
func SetupMatchRoutes(secured fiber.Router, matches *services.MatchService) {
	// POST /matches: start a match directly against a known opponent
	secured.Post("/matches", func(c *fiber.Ctx) error {
		var req createMatchRequest
		if err := c.BodyParser(&req); err != nil {
			return badRequest(c, "invalid request body: "+err.Error())
		}
		host := models.QueuePlayer{PlayerID: middleware.UserID(c), DisplayName: middleware.DisplayName(c)}
		opponent := models.QueuePlayer{PlayerID: req.OpponentID, DisplayName: req.OpponentName}

		m, err := matches.CreateMatch(c.UserContext(), req.GameMode, host, opponent)
		if err != nil {
			return respondError(c, err)
		}
		return c.Status(fiber.StatusCreated).JSON(m)
	})

	// GET /matches?status=&game_mode=&player_id=&limit=
	secured.Get("/matches", func(c *fiber.Ctx) error {
		limit, _ := strconv.Atoi(c.Query("limit"))
		list, err := matches.ListMatches(c.UserContext(), services.MatchFilter{
			Status:   models.MatchStatus(c.Query("status")),
			GameMode: models.GameMode(c.Query("game_mode")),
			PlayerID: c.Query("player_id"),
			Limit:    limit,
		})
		if err != nil {
			return respondError(c, err)
		}
		return c.JSON(fiber.Map{"matches": list})
	})

	// GET /matches/:id: live match or the archived final snapshot
	secured.Get("/matches/:id", func(c *fiber.Ctx) error {
		m, err := matches.GetMatch(c.UserContext(), c.Params("id"))
		if err != nil {
			return respondError(c, err)
		}
		return c.JSON(m)
	})

	secured.Post("/matches/:id/turn-decider", func(c *fiber.Ctx) error {
		var req turnDeciderRequest
		if err := c.BodyParser(&req); err != nil {
			return badRequest(c, "invalid request body: "+err.Error())
		}
		m, err := matches.MakeTurnDeciderChoice(c.UserContext(), c.Params("id"), middleware.UserID(c), req.Choice)
		if err != nil {
			return respondError(c, err)
		}
		return c.JSON(m)
	})

	secured.Post("/matches/:id/roll", func(c *fiber.Ctx) error {
		m, err := matches.RollDice(c.UserContext(), c.Params("id"), middleware.UserID(c))
		if err != nil {
			return respondError(c, err)
		}
		return c.JSON(m)
	})

	secured.Post("/matches/:id/bank", func(c *fiber.Ctx) error {
		m, err := matches.BankScore(c.UserContext(), c.Params("id"), middleware.UserID(c))
		if err != nil {
			return respondError(c, err)
		}
		return c.JSON(m)
	})

	// POST /matches/:id/abilities: intentId may also be sent as Idempotency-Key
	secured.Post("/matches/:id/abilities", func(c *fiber.Ctx) error {
		var in services.AbilityIntent
		if err := c.BodyParser(&in); err != nil {
			return badRequest(c, "invalid request body: "+err.Error())
		}
		if in.IntentID == "" {
			in.IntentID = c.Get("Idempotency-Key")
		}
		in.MatchID = c.Params("id")
		in.PlayerID = middleware.UserID(c)

		m, err := matches.UseAbility(c.UserContext(), in)
		if err != nil {
			return respondError(c, err)
		}
		return c.JSON(m)
	})
}
