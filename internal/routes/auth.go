package routes

import (
	"github.com/gofiber/fiber/v2"

	"github.com/fidelio/fidelio/internal/auth"
)

// RegisterAuthRoutes wires the public sign-in endpoints. Password and code
// checks sit behind the login rate limiter.
func RegisterAuthRoutes(r fiber.Router, h *auth.Handler, loginLimit fiber.Handler) {
	group := r.Group("/auth")
	group.Post("/phone/request-otp", h.RequestOTP)
	group.Post("/phone/verify-otp", loginLimit, h.VerifyOTP)
	group.Post("/email/login", loginLimit, h.EmailLogin)
	group.Post("/login", loginLimit, h.Login)
	group.Get("/google/url", h.GoogleURL)
	group.Post("/google/callback", h.GoogleCallback)
	group.Post("/refresh", h.Refresh)
}
