package middleware

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/fidelio/fidelio/internal/ratelimit"
)

// KeyFunc extracts the identity a request is throttled by.
type KeyFunc func(c *fiber.Ctx) string

// ByLoginIdentifier keys on the phone or email in the JSON body, falling
// back to the client IP.
func ByLoginIdentifier(c *fiber.Ctx) string {
	var req struct {
		Phone string `json:"phone"`
		Email string `json:"email"`
	}
	_ = c.BodyParser(&req)
	if id := strings.TrimSpace(req.Phone); id != "" {
		return "phone:" + id
	}
	if id := strings.ToLower(strings.TrimSpace(req.Email)); id != "" {
		return "email:" + id
	}
	return "ip:" + c.IP()
}

// RateLimit rejects requests once limiter refuses their key. Limiter
// failures let the request through.
func RateLimit(limiter ratelimit.Limiter, key KeyFunc, logger *slog.Logger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		allowed, err := limiter.Allow(c.UserContext(), key(c))
		if err != nil {
			logger.Warn("rate limiter unavailable", slog.String("path", c.Path()), slog.Any("error", err))
			return c.Next()
		}
		if !allowed {
			return fiber.NewError(http.StatusTooManyRequests, "too many attempts, try again later")
		}
		return c.Next()
	}
}
