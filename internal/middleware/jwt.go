package middleware

import (
	"net/http"
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/fidelio/fidelio/internal/apperr"
	"github.com/fidelio/fidelio/internal/auth"
	"github.com/fidelio/fidelio/internal/identity"
)

// Locals keys set by JWTAuth.
const (
	LocalAccountID = "account_id"
	LocalRole      = "role"
)

// JWTAuth validates the bearer access token against the live account and
// exposes the caller's id and role to later handlers.
func JWTAuth(svc *auth.Service) fiber.Handler {
	return func(c *fiber.Ctx) error {
		authz := c.Get(fiber.HeaderAuthorization)
		if len(authz) < len("Bearer ") || !strings.EqualFold(authz[:len("Bearer ")], "bearer ") {
			return fiber.NewError(http.StatusUnauthorized, "missing bearer token")
		}
		account, err := svc.Authenticate(c.UserContext(), strings.TrimSpace(authz[len("Bearer "):]))
		if err != nil {
			return apperr.Fiber(err)
		}
		c.Locals(LocalAccountID, account.ID)
		c.Locals(LocalRole, account.Role)
		return c.Next()
	}
}

// RequireRole admits only callers whose role is one of roles. It must run
// after JWTAuth.
func RequireRole(roles ...identity.Role) fiber.Handler {
	return func(c *fiber.Ctx) error {
		role, _ := c.Locals(LocalRole).(identity.Role)
		for _, allowed := range roles {
			if role == allowed {
				return c.Next()
			}
		}
		return fiber.NewError(http.StatusForbidden, "insufficient role")
	}
}
