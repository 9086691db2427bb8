package auth

import (
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog/log"
)

const identityLocal = "identity"

// Validator validates a bearer credential string.
type Validator interface {
	Validate(tokenString string) (*Identity, error)
}

// Middleware authenticates every request with a Bearer credential and
// stores the resulting Identity in the request locals.
func Middleware(v Validator) fiber.Handler {
	return func(c *fiber.Ctx) error {
		header := c.Get(fiber.HeaderAuthorization)
		if header == "" || !strings.HasPrefix(header, "Bearer ") {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "bearer credential required"})
		}

		ident, err := v.Validate(strings.TrimSpace(header[len("Bearer "):]))
		if err != nil {
			log.Warn().
				Err(err).
				Str("request_id", c.GetRespHeader("X-Request-ID")).
				Str("path", c.Path()).
				Msg("credential validation failed")
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "invalid or expired credential"})
		}

		StoreIdentity(c, ident)
		return c.Next()
	}
}

// StoreIdentity attaches an identity to the request. Exposed for
// handler tests; production requests go through Middleware.
func StoreIdentity(c *fiber.Ctx, ident *Identity) {
	c.Locals(identityLocal, ident)
}

// RequireRole rejects authenticated callers whose role is not listed.
// Must run after Middleware.
func RequireRole(roles ...Role) fiber.Handler {
	return func(c *fiber.Ctx) error {
		ident, ok := IdentityFrom(c)
		if !ok {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "bearer credential required"})
		}
		for _, role := range roles {
			if ident.Role == role {
				return c.Next()
			}
		}
		return c.Status(fiber.StatusForbidden).JSON(fiber.Map{"error": "insufficient role"})
	}
}

// IdentityFrom returns the authenticated identity stored by Middleware.
func IdentityFrom(c *fiber.Ctx) (*Identity, bool) {
	ident, ok := c.Locals(identityLocal).(*Identity)
	return ident, ok
}
