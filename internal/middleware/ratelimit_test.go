package middleware

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"

	"github.com/fidelio/fidelio/internal/logging"
	"github.com/fidelio/fidelio/internal/ratelimit"
)

func TestRateLimitByLoginIdentifier(t *testing.T) {
	mr := miniredis.RunT(t)
	cache := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer cache.Close()

	app := fiber.New()
	limiter := ratelimit.NewRedis(cache, "login", 2, time.Minute)
	app.Post("/login", RateLimit(limiter, ByLoginIdentifier, logging.Discard()), func(c *fiber.Ctx) error {
		return c.SendStatus(fiber.StatusNoContent)
	})

	send := func(body string) int {
		req := httptest.NewRequest(fiber.MethodPost, "/login", strings.NewReader(body))
		req.Header.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
		resp, err := app.Test(req)
		if err != nil {
			t.Fatalf("app.Test: %v", err)
		}
		resp.Body.Close()
		return resp.StatusCode
	}

	for i := 0; i < 2; i++ {
		if got := send(`{"email":"Ada@example.com"}`); got != fiber.StatusNoContent {
			t.Fatalf("attempt %d: expected 204 got %d", i, got)
		}
	}
	if got := send(`{"email":"ada@example.com"}`); got != fiber.StatusTooManyRequests {
		t.Fatalf("expected 429 got %d", got)
	}
	if got := send(`{"email":"grace@example.com"}`); got != fiber.StatusNoContent {
		t.Fatalf("other identifiers must not be throttled, got %d", got)
	}

	mr.FastForward(time.Minute + time.Second)
	if got := send(`{"email":"ada@example.com"}`); got != fiber.StatusNoContent {
		t.Fatalf("expected window to reset, got %d", got)
	}
}

func TestRateLimitFailsOpen(t *testing.T) {
	mr := miniredis.RunT(t)
	cache := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer cache.Close()
	mr.Close()

	app := fiber.New()
	app.Post("/login", RateLimit(ratelimit.NewRedis(cache, "login", 1, time.Minute), ByLoginIdentifier, logging.Discard()),
		func(c *fiber.Ctx) error { return c.SendStatus(fiber.StatusNoContent) })

	req := httptest.NewRequest(fiber.MethodPost, "/login", strings.NewReader(`{"phone":"+237650000001"}`))
	req.Header.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("app.Test: %v", err)
	}
	if resp.StatusCode != fiber.StatusNoContent {
		t.Fatalf("expected request through when redis is down, got %d", resp.StatusCode)
	}
}
