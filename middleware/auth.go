// middleware/auth.go
package middleware

import (
	"strings"

	"github.com/gofiber/fiber/v2"
	log "github.com/sirupsen/logrus"
)

const (
	RoleAdmin      = "admin"
	RoleMintSigner = "mint_signer"
)

var securedPrefixes = []string{"/user/", "/mint/", "/admin/"}

func isSecured(path string) bool {
	for _, p := range securedPrefixes {
		if strings.HasPrefix(path, p) {
			return true
		}
	}
	return false
}

// UserContextMiddleware extracts user identity and roles set by Gateway.
func UserContextMiddleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		userID := strings.TrimSpace(c.Get("X-User-ID"))
		rolesStr := c.Get("X-User-Roles")

		path := c.Path()
		// EventSource clients authenticate with ?token= in SSEAuthMiddleware
		streamAuth := strings.HasSuffix(path, "/stream") && c.Query("token") != ""
		if isSecured(path) && userID == "" && !streamAuth {
			log.Printf("❌ [USER_CTX] X-User-ID required but missing on secured route: %s", path)
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "missing X-User-ID: request must come through gateway with auth context",
			})
		}

		var roles []string
		if rolesStr != "" {
			for _, r := range strings.Split(rolesStr, ",") {
				r = strings.TrimSpace(r)
				if r != "" {
					roles = append(roles, r)
				}
			}
		}

		c.Locals("user_id", userID)
		c.Locals("user_roles", roles)

		log.Debugf("👤 [USER_CTX] UserID=%s, Roles=%v | Path: %s", userID, roles, path)
		return c.Next()
	}
}

// HasRole reports whether the request carries role.
func HasRole(c *fiber.Ctx, role string) bool {
	roles, _ := c.Locals("user_roles").([]string)
	for _, r := range roles {
		if strings.EqualFold(r, role) {
			return true
		}
	}
	return false
}

// RequireRole lets the request through when it carries any of roles.
func RequireRole(roles ...string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		for _, r := range roles {
			if HasRole(c, r) {
				return c.Next()
			}
		}
		log.Printf("🚫 [USER_CTX] %v required for %s", roles, c.Path())
		return c.Status(fiber.StatusForbidden).JSON(fiber.Map{"error": "forbidden"})
	}
}
