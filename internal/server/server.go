package server

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/fidelio/fidelio/internal/routes"
	"github.com/fidelio/fidelio/internal/sweeper"
)

// Server wraps the Fiber application and the services it wired.
type Server struct {
	app      *fiber.App
	deps     routes.Deps
	services *routes.Services
}

// New instantiates the HTTP server and delegates route wiring to routes.Setup.
func New(d routes.Deps) (*Server, error) {
	app := fiber.New(fiber.Config{
		AppName:      d.Cfg.AppName,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
	})

	services, err := routes.Setup(app, d)
	if err != nil {
		return nil, err
	}

	return &Server{app: app, deps: d, services: services}, nil
}

func (s *Server) Services() *routes.Services { return s.services }

// Sweeper builds the background expiry sweep over the wired token engine
// and OTP verifier.
func (s *Server) Sweeper() *sweeper.Sweeper {
	return sweeper.New(s.deps.Cfg.SweepInterval, s.deps.Clock, s.deps.Logger).
		Add("redemption_tokens", s.services.Tokens).
		Add("otp_challenges", s.services.OTP)
}

// Listen starts the HTTP server.
func (s *Server) Listen() error {
	return s.app.Listen(s.deps.Cfg.Address())
}

// Shutdown gracefully stops the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.app.ShutdownWithContext(ctx)
}
