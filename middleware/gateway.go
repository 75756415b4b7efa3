package middleware

import (
	"crypto/subtle"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog/log"
)

// GatewayAuthMiddleware validates the Bearer token from the Gateway. Requests
// for which bypass returns true are let through; those routes authenticate
// players themselves (see StreamAuthMiddleware).
func GatewayAuthMiddleware(expectedToken string, bypass func(c *fiber.Ctx) bool) fiber.Handler {
	if expectedToken == "" {
		log.Fatal().Msg("❌ GAME_SERVICE_TOKEN is not set — service cannot authenticate Gateway")
	}

	return func(c *fiber.Ctx) error {
		if c.Method() == fiber.MethodOptions || (bypass != nil && bypass(c)) {
			return c.Next()
		}

		authHeader := c.Get("Authorization")
		if authHeader == "" {
			log.Warn().Str("path", c.Path()).Msg("🚫 [GATEWAY_AUTH] missing Authorization header")
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "gateway authentication token missing",
			})
		}

		token := strings.TrimPrefix(authHeader, "Bearer ")
		if subtle.ConstantTimeCompare([]byte(token), []byte(expectedToken)) != 1 {
			log.Warn().Str("path", c.Path()).Msg("❌ [GATEWAY_AUTH] invalid token")
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "invalid gateway authentication token",
			})
		}

		return c.Next()
	}
}

// StreamPaths matches the routes browsers open directly: match streams,
// match websockets and the health probe.
func StreamPaths(c *fiber.Ctx) bool {
	p := c.Path()
	return p == "/health" || strings.HasSuffix(p, "/stream") || strings.HasSuffix(p, "/ws")
}
