package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"
	"github.com/valyala/fasthttp"
)

const (
	idempotencyKeyHeader = "Idempotency-Key"
	idempotencyPrefix    = "fidelio:idem:v1:"
	inProgressMarker     = "__in_progress__"
	idempotencyTimeout   = 2 * time.Second
)

type recordedResponse struct {
	Status  int               `json:"status"`
	Body    string            `json:"body"`
	Headers map[string]string `json:"headers"`
}

// Idempotency replays the first response recorded for an Idempotency-Key.
// Keys are scoped to the caller and route so two accounts cannot collide.
// Failed requests release their key so the client can retry.
func Idempotency(cache *redis.Client, ttl time.Duration, logger *slog.Logger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		switch c.Method() {
		case fiber.MethodGet, fiber.MethodHead, fiber.MethodOptions:
			return c.Next()
		}

		key := strings.TrimSpace(c.Get(idempotencyKeyHeader))
		if key == "" {
			return fiber.NewError(fiber.StatusBadRequest, "missing Idempotency-Key header")
		}
		accountID, _ := c.Locals(LocalAccountID).(string)
		cacheKey := idempotencyPrefix + accountID + ":" + c.Method() + ":" + c.Path() + ":" + key

		ctx, cancel := context.WithTimeout(c.UserContext(), idempotencyTimeout)
		defer cancel()

		reserved, err := cache.SetNX(ctx, cacheKey, inProgressMarker, ttl).Result()
		if err != nil {
			logger.Error("idempotency reservation failed", slog.String("key", key), slog.Any("error", err))
			return fiber.NewError(fiber.StatusServiceUnavailable, "idempotency store unavailable")
		}
		if !reserved {
			return replay(ctx, c, cache, cacheKey, logger)
		}

		release := func() {
			cleanup, cancel := context.WithTimeout(context.Background(), idempotencyTimeout)
			defer cancel()
			cache.Del(cleanup, cacheKey)
		}

		if err := c.Next(); err != nil {
			release()
			return err
		}
		if c.Response().StatusCode() >= fiber.StatusInternalServerError {
			release()
			return nil
		}

		payload, err := record(c.Response())
		if err != nil {
			release()
			return err
		}
		persist, cancelPersist := context.WithTimeout(context.Background(), idempotencyTimeout)
		defer cancelPersist()
		if err := cache.Set(persist, cacheKey, payload, ttl).Err(); err != nil {
			logger.Error("idempotent response not stored", slog.String("key", key), slog.Any("error", err))
			release()
		}
		return nil
	}
}

func record(resp *fasthttp.Response) ([]byte, error) {
	rec := recordedResponse{Status: resp.StatusCode(), Body: string(resp.Body()), Headers: map[string]string{}}
	resp.Header.VisitAll(func(k, v []byte) {
		rec.Headers[string(k)] = string(v)
	})
	return json.Marshal(rec)
}

func replay(ctx context.Context, c *fiber.Ctx, cache *redis.Client, cacheKey string, logger *slog.Logger) error {
	cached, err := cache.Get(ctx, cacheKey).Result()
	if errors.Is(err, redis.Nil) {
		return fiber.NewError(fiber.StatusConflict, "duplicate request, retry shortly")
	}
	if err != nil {
		logger.Error("idempotency lookup failed", slog.Any("error", err))
		return fiber.NewError(fiber.StatusServiceUnavailable, "idempotency store unavailable")
	}
	if cached == inProgressMarker {
		return fiber.NewError(fiber.StatusConflict, "duplicate request currently processing")
	}

	var stored recordedResponse
	if err := json.Unmarshal([]byte(cached), &stored); err != nil {
		logger.Warn("failed to decode stored idempotent response", slog.Any("error", err))
		return fiber.NewError(fiber.StatusConflict, "duplicate request")
	}
	for header, value := range stored.Headers {
		if strings.EqualFold(header, fiber.HeaderContentLength) {
			continue
		}
		c.Set(header, value)
	}
	c.Set("Idempotent-Replay", "true")
	return c.Status(stored.Status).SendString(stored.Body)
}
