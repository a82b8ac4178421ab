package redemption

import (
	"math"
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/shopspring/decimal"

	"github.com/fidelio/fidelio/internal/apperr"
	"github.com/fidelio/fidelio/internal/ledger"
	"github.com/fidelio/fidelio/internal/middleware"
)

// Handler exposes token endpoints.
type Handler struct {
	service *Service
}

func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

type issueRequest struct {
	EstablishmentID string              `json:"establishment_id"`
	Kind            string              `json:"kind"`
	PointDelta      int64               `json:"point_delta"`
	ProgramID       string              `json:"program_id"`
	SourceAmount    decimal.NullDecimal `json:"source_amount"`
	TTLSeconds      int64               `json:"ttl_seconds"`
}

// maxTTLSeconds is the largest ttl_seconds a time.Duration can hold.
const maxTTLSeconds = math.MaxInt64 / int64(time.Second)

type consumeRequest struct {
	Code string `json:"code"`
}

type tokenResponse struct {
	ID              string     `json:"id"`
	Code            string     `json:"code,omitempty"`
	EstablishmentID string     `json:"establishment_id"`
	ProgramID       string     `json:"program_id,omitempty"`
	Kind            string     `json:"kind"`
	PointDelta      int64      `json:"point_delta"`
	SourceAmount    *string    `json:"source_amount,omitempty"`
	Status          string     `json:"status"`
	CreatedAt       time.Time  `json:"created_at"`
	ExpiresAt       time.Time  `json:"expires_at"`
	ConsumedBy      string     `json:"consumed_by,omitempty"`
	ConsumedAt      *time.Time `json:"consumed_at,omitempty"`
}

func toResponse(t Token, now time.Time) tokenResponse {
	resp := tokenResponse{
		ID:              t.ID,
		Code:            t.Code,
		EstablishmentID: t.EstablishmentID,
		ProgramID:       t.ProgramID,
		Kind:            string(t.Kind),
		PointDelta:      t.PointDelta,
		Status:          t.Status(now),
		CreatedAt:       t.CreatedAt,
		ExpiresAt:       t.ExpiresAt,
		ConsumedBy:      t.ConsumedBy,
	}
	if t.SourceAmount.Valid {
		s := t.SourceAmount.Decimal.StringFixed(2)
		resp.SourceAmount = &s
	}
	if t.Consumed {
		at := t.ConsumedAt
		resp.ConsumedAt = &at
	}
	return resp
}

// Issue mints a token for the caller's establishment.
func (h *Handler) Issue(c *fiber.Ctx) error {
	var req issueRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	issuer, _ := c.Locals(middleware.LocalAccountID).(string)
	ttl := h.service.DefaultTTL()
	if req.TTLSeconds != 0 {
		if req.TTLSeconds > maxTTLSeconds {
			return fiber.NewError(http.StatusBadRequest, "ttl_seconds is out of range")
		}
		ttl = time.Duration(req.TTLSeconds) * time.Second
	}
	token, err := h.service.Issue(c.UserContext(), IssueInput{
		EstablishmentID: req.EstablishmentID,
		Kind:            Kind(req.Kind),
		PointDelta:      req.PointDelta,
		ProgramID:       req.ProgramID,
		SourceAmount:    req.SourceAmount,
		IssuerID:        issuer,
		TTL:             ttl,
	})
	if err != nil {
		return apperr.Fiber(err)
	}
	return c.Status(http.StatusCreated).JSON(toResponse(token, token.CreatedAt))
}

// Lookup reports a token's status. The code itself is not echoed back.
func (h *Handler) Lookup(c *fiber.Ctx) error {
	token, err := h.service.Get(c.UserContext(), c.Params("code"))
	if err != nil {
		return apperr.Fiber(err)
	}
	resp := toResponse(token, h.service.Now())
	resp.Code = ""
	return c.JSON(resp)
}

// Consume spends a token for the authenticated account.
func (h *Handler) Consume(c *fiber.Ctx) error {
	var req consumeRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	consumer, _ := c.Locals(middleware.LocalAccountID).(string)
	res, err := h.service.Consume(c.UserContext(), req.Code, consumer)
	if err != nil {
		return apperr.Fiber(err)
	}
	return c.JSON(fiber.Map{
		"activity": ledger.PresentActivity(res.Activity),
		"balance":  ledger.PresentBalance(res.Balance),
	})
}
