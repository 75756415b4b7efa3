package handlers

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog/log"

	"dice-duel/engine"
	"dice-duel/services"
)

// statusFor maps a rejection kind to its HTTP status.
func statusFor(kind engine.Kind) int {
	switch kind {
	case engine.KindValidation:
		return fiber.StatusBadRequest
	case engine.KindOwnership:
		return fiber.StatusForbidden
	case engine.KindResource:
		return fiber.StatusUnprocessableEntity
	case engine.KindState:
		return fiber.StatusConflict
	case engine.KindNotFound:
		return fiber.StatusNotFound
	case engine.KindTransient:
		return fiber.StatusServiceUnavailable
	}
	return fiber.StatusInternalServerError
}

// respondError writes err as {"error", "code"}. Infrastructure failures are
// logged with their cause and reported without it.
func respondError(c *fiber.Ctx, err error) error {
	var domainErr *engine.Error
	switch {
	case errors.As(err, &domainErr):
		return c.Status(statusFor(domainErr.Kind)).JSON(fiber.Map{
			"error": domainErr.Message,
			"code":  domainErr.Code,
		})
	case errors.Is(err, engine.ErrUnavailable), errors.Is(err, services.ErrQueueStopped):
		log.Error().Err(err).Str("path", c.Path()).Msg("❌ [HTTP] transient failure")
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
			"error": "service temporarily unavailable, retry",
			"code":  engine.ErrUnavailable.Code,
		})
	}
	log.Error().Err(err).Str("path", c.Path()).Msg("❌ [HTTP] unexpected error")
	return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal error"})
}

func badRequest(c *fiber.Ctx, msg string) error {
	return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": msg})
}

// ErrorHandler renders errors that escape a handler, such as fiber's own 404
// and 405 errors, as JSON.
func ErrorHandler(c *fiber.Ctx, err error) error {
	var fe *fiber.Error
	if errors.As(err, &fe) {
		return c.Status(fe.Code).JSON(fiber.Map{"error": fe.Message})
	}
	return respondError(c, err)
}
