package routes

import (
	"github.com/gofiber/fiber/v2"

	"github.com/fidelio/fidelio/internal/identity"
)

// RegisterAccountRoutes wires public account onboarding.
func RegisterAccountRoutes(r fiber.Router, h *identity.Handler) {
	r.Post("/auth/register", h.Register)
}
