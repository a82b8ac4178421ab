package routes

import (
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/fidelio/fidelio/internal/auth"
	"github.com/fidelio/fidelio/internal/clock"
	"github.com/fidelio/fidelio/internal/config"
	"github.com/fidelio/fidelio/internal/federation"
	"github.com/fidelio/fidelio/internal/identity"
	"github.com/fidelio/fidelio/internal/ledger"
	"github.com/fidelio/fidelio/internal/middleware"
	"github.com/fidelio/fidelio/internal/notification"
	"github.com/fidelio/fidelio/internal/otp"
	"github.com/fidelio/fidelio/internal/ratelimit"
	"github.com/fidelio/fidelio/internal/redemption"
)

// Deps aggregates shared dependencies required to wire routes. DB and
// Cache may be nil in development; in-memory backends take their place.
type Deps struct {
	Cfg       config.Config
	DB        *pgxpool.Pool
	Cache     *redis.Client
	Logger    *slog.Logger
	Clock     clock.Clock
	Publisher ledger.Publisher
	Notifier  notification.Notifier
	Provider  federation.Provider
}

// Services exposes the wired domain services to the process that owns the
// background work.
type Services struct {
	Accounts *identity.Service
	Ledger   *ledger.Service
	Tokens   *redemption.Service
	OTP      *otp.Verifier
	Provider federation.Provider
}

// Setup configures middlewares and all application routes.
func Setup(app *fiber.App, d Deps) (*Services, error) {
	if !d.Cfg.IsDevelopment() {
		if d.DB == nil {
			return nil, fmt.Errorf("database is required when APP_ENV=%s", d.Cfg.AppEnv)
		}
		if d.Cache == nil {
			return nil, fmt.Errorf("redis is required when APP_ENV=%s", d.Cfg.AppEnv)
		}
	}
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	clk := clock.OrReal(d.Clock)

	app.Use(recover.New())
	app.Use(middleware.RequestID())
	app.Use(cors.New(cors.Config{
		AllowOrigins: d.Cfg.AllowedOrigins,
		AllowHeaders: "Origin, Content-Type, Accept, Authorization, Idempotency-Key, X-Request-ID",
	}))
	if d.Cfg.IsDevelopment() {
		app.Use(logger.New(logger.Config{
			Format:     "[${time}] ${status} -  ${latency} ${method} ${path}\n",
			TimeFormat: "15:04:05",
			TimeZone:   "Local",
		}))
	}
	app.Use(middleware.Audit(d.Logger))
	app.Use(middleware.Metrics())

	RegisterHealthRoutes(app, d)

	svcs := build(d, clk)

	issuer, err := auth.NewIssuer(auth.IssuerOptions{
		Name:          d.Cfg.AppName,
		AccessSecret:  d.Cfg.JWTSecret,
		RefreshSecret: d.Cfg.RefreshSecret,
		AccessTTL:     d.Cfg.AccessTokenTTL,
		RefreshTTL:    d.Cfg.RefreshTokenTTL,
	}, clk)
	if err != nil {
		return nil, err
	}
	accountRepo := svcs.accountRepo
	authSvc := auth.NewService(issuer, accountRepo, d.Logger)
	resolver := identity.NewResolver(accountRepo, identity.BcryptHasher{}, svcs.OTP, svcs.Provider, issuer, clk, d.Logger)

	authHandler := auth.NewHandler(resolver, svcs.OTP, svcs.Provider, authSvc)
	accountHandler := identity.NewHandler(svcs.Accounts)
	tokenHandler := redemption.NewHandler(svcs.Tokens)
	pointsHandler := ledger.NewHandler(svcs.Ledger)

	var loginLimiter ratelimit.Limiter
	if d.Cache != nil {
		loginLimiter = ratelimit.NewRedis(d.Cache, "fidelio:rl:login:", d.Cfg.LoginAttemptsPerMinute, time.Minute)
	} else {
		loginLimiter = ratelimit.NewMemory(d.Cfg.LoginAttemptsPerMinute, time.Minute, clk)
	}
	idempotent := func(c *fiber.Ctx) error { return c.Next() }
	if d.Cache != nil {
		idempotent = middleware.Idempotency(d.Cache, d.Cfg.IdempotencyTTL, d.Logger)
	}

	api := app.Group("/api/v1")
	api.Get("/ping", func(c *fiber.Ctx) error {
		reqID, _ := c.Locals("X-Request-ID").(string)
		return c.Status(http.StatusOK).JSON(fiber.Map{
			"status":     "ok",
			"request_id": reqID,
			"timestamp":  clock.Now(clk).Format(time.RFC3339Nano),
		})
	})

	// Public routes
	RegisterAuthRoutes(api, authHandler, middleware.RateLimit(loginLimiter, middleware.ByLoginIdentifier, d.Logger))
	RegisterAccountRoutes(api, accountHandler)

	// Protected routes
	protected := api.Group("", middleware.JWTAuth(authSvc))
	protected.Post("/auth/logout", authHandler.Logout)
	protected.Get("/me", accountHandler.Me)
	RegisterTokenRoutes(protected, tokenHandler, idempotent)
	RegisterPointRoutes(protected, pointsHandler)
	RegisterAdminRoutes(protected, pointsHandler, accountHandler, idempotent)

	return &svcs.Services, nil
}

type wired struct {
	Services
	accountRepo identity.Repository
}

// build picks Postgres-backed repositories when a pool is configured and
// in-memory ones otherwise.
func build(d Deps, clk clock.Clock) wired {
	var (
		w         wired
		points    ledger.Ledger
		tokenRepo redemption.Repository
		programs  redemption.Programs
		otpRepo   otp.Repository
		limiter   ratelimit.Limiter
	)
	ledgerOpts := ledger.Options{AllowNegative: d.Cfg.AllowNegativeBalance}

	if d.DB != nil {
		pg := ledger.NewPostgres(d.DB, ledgerOpts, clk)
		points = pg
		tokenRepo = redemption.NewPostgresRepository(d.DB, pg)
		programs = redemption.NewPostgresPrograms(d.DB)
		otpRepo = otp.NewPostgresRepository(d.DB)
		w.accountRepo = identity.NewPostgresRepository(d.DB)
	} else {
		mem := ledger.NewInMemory(ledgerOpts, clk)
		points = mem
		tokenRepo = redemption.NewMemoryRepository(mem)
		programs = redemption.NewStaticPrograms()
		otpRepo = otp.NewMemoryRepository()
		w.accountRepo = identity.NewMemoryRepository()
	}

	if d.Cache != nil {
		limiter = ratelimit.NewRedis(d.Cache, "fidelio:rl:otp:", d.Cfg.OTPRequestsPerHour, time.Hour)
	} else {
		limiter = ratelimit.NewMemory(d.Cfg.OTPRequestsPerHour, time.Hour, clk)
	}

	notifier := d.Notifier
	if notifier == nil {
		notifier = notification.NewLoggerNotifier(d.Logger)
	}
	w.Provider = d.Provider
	if w.Provider == nil && d.Cfg.IsDevelopment() {
		w.Provider = federation.NewStaticProvider("http://localhost" + d.Cfg.Address() + "/dev/oauth")
	}

	w.Ledger = ledger.NewService(points, d.Publisher, d.Logger)
	w.Tokens = redemption.NewService(tokenRepo, programs, clk, redemption.Options{
		DefaultTTL: d.Cfg.TokenDefaultTTL,
		MaxTTL:     d.Cfg.TokenMaxTTL,
	}, d.Publisher, d.Logger)
	w.OTP = otp.NewVerifier(otpRepo, notifier, limiter, clk, otp.Options{
		TTL:         d.Cfg.OTPTTL,
		MaxAttempts: d.Cfg.OTPMaxAttempts,
	}, d.Logger)
	w.Accounts = identity.NewService(w.accountRepo, identity.BcryptHasher{}, clk, d.Logger)
	return w
}
