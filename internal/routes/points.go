package routes

import (
	"github.com/gofiber/fiber/v2"

	"github.com/fidelio/fidelio/internal/identity"
	"github.com/fidelio/fidelio/internal/ledger"
	"github.com/fidelio/fidelio/internal/middleware"
	"github.com/fidelio/fidelio/internal/redemption"
)

// RegisterTokenRoutes wires issuance for staff and consumption for any
// signed-in account.
func RegisterTokenRoutes(r fiber.Router, h *redemption.Handler, idempotent fiber.Handler) {
	staff := middleware.RequireRole(identity.RoleWorker, identity.RoleAdmin)
	r.Post("/tokens/consume", h.Consume)
	r.Post("/tokens", staff, idempotent, h.Issue)
	r.Get("/tokens/:code", staff, h.Lookup)
}

func RegisterPointRoutes(r fiber.Router, h *ledger.Handler) {
	r.Get("/establishments/:establishmentId/balance", h.Balance)
	r.Get("/establishments/:establishmentId/activities", h.Activities)
}

// RegisterAdminRoutes wires ledger corrections and account administration.
func RegisterAdminRoutes(r fiber.Router, points *ledger.Handler, accounts *identity.Handler, idempotent fiber.Handler) {
	admin := r.Group("/admin", middleware.RequireRole(identity.RoleAdmin))
	admin.Post("/adjustments", idempotent, points.Adjust)
	admin.Post("/expirations", idempotent, points.Expire)
	admin.Get("/accounts/:accountId/establishments/:establishmentId/reconcile", points.Reconcile)
	admin.Post("/accounts/:accountId/deactivate", accounts.Deactivate)
	admin.Post("/accounts/:accountId/role", accounts.SetRole)
}
