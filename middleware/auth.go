package middleware

import (
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog/log"
)

const (
	LocalUserID      = "user_id"
	LocalDisplayName = "display_name"
	LocalUserRoles   = "user_roles"
)

// UserContextMiddleware extracts the player identity and roles set by Gateway.
// Every route behind it acts on behalf of a player, so X-User-ID is required.
func UserContextMiddleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		userID := strings.TrimSpace(c.Get("X-User-ID"))
		if userID == "" {
			log.Warn().Str("path", c.Path()).Msg("❌ [USER_CTX] X-User-ID required but missing")
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "missing X-User-ID — request must come through gateway with auth context",
			})
		}

		c.Locals(LocalUserID, userID)
		c.Locals(LocalDisplayName, strings.TrimSpace(c.Get("X-Display-Name")))
		c.Locals(LocalUserRoles, splitRoles(c.Get("X-User-Roles")))

		return c.Next()
	}
}

// RequireRole rejects players without role. It must run after a middleware
// that sets LocalUserRoles.
func RequireRole(role string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		for _, r := range UserRoles(c) {
			if r == role {
				return c.Next()
			}
		}
		log.Warn().Str("user_id", UserID(c)).Str("role", role).Msg("🚫 [USER_CTX] role required")
		return c.Status(fiber.StatusForbidden).JSON(fiber.Map{"error": role + " role required"})
	}
}

// UserID returns the authenticated player id, or "" when none was set.
func UserID(c *fiber.Ctx) string {
	id, _ := c.Locals(LocalUserID).(string)
	return id
}

func DisplayName(c *fiber.Ctx) string {
	name, _ := c.Locals(LocalDisplayName).(string)
	return name
}

func UserRoles(c *fiber.Ctx) []string {
	roles, _ := c.Locals(LocalUserRoles).([]string)
	return roles
}

func splitRoles(raw string) []string {
	var roles []string
	for _, r := range strings.Split(raw, ",") {
		r = strings.TrimSpace(r)
		if r != "" {
			roles = append(roles, r)
		}
	}
	return roles
}
