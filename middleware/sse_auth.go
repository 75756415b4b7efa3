package middleware

import (
	"context"
	"crypto/subtle"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog/log"

	"dice-duel/services"
)

// TokenValidator checks a player access token with the auth service.
type TokenValidator interface {
	ValidateToken(ctx context.Context, accessToken, deviceID string) (*services.ValidateResponse, error)
}

// StreamAuthMiddleware authenticates match streams. Requests forwarded by the
// gateway already carry X-User-ID; direct browser connections pass `token`
// and `device_id` in the query, validated through validator. With a nil
// validator only gateway requests are accepted.
func StreamAuthMiddleware(gatewayToken string, validator TokenValidator) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if auth := c.Get("Authorization"); auth != "" {
			token := strings.TrimPrefix(auth, "Bearer ")
			if gatewayToken == "" || subtle.ConstantTimeCompare([]byte(token), []byte(gatewayToken)) != 1 {
				return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "invalid gateway authentication token"})
			}
			return UserContextMiddleware()(c)
		}

		accessToken := strings.TrimSpace(c.Query("token"))
		deviceID := strings.TrimSpace(c.Query("device_id"))
		if accessToken == "" || deviceID == "" {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": "Missing token or device_id in query",
			})
		}
		if validator == nil {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "Unauthorized"})
		}

		resp, err := validator.ValidateToken(c.UserContext(), accessToken, deviceID)
		if err != nil {
			log.Warn().Err(err).Str("device_id", deviceID).Str("path", c.Path()).Msg("[SSEAuth] ❌ validation failed")
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "Unauthorized"})
		}

		c.Locals(LocalUserID, resp.UserID)
		c.Locals(LocalDisplayName, resp.DisplayName)
		c.Locals(LocalUserRoles, resp.Roles)

		log.Debug().Str("user_id", resp.UserID).Str("device_id", resp.DeviceID).Msg("[SSEAuth] ✅ authenticated")
		return c.Next()
	}
}
