package ledger

import (
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/fidelio/fidelio/internal/apperr"
	"github.com/fidelio/fidelio/internal/middleware"
)

// Handler exposes balance reads and administrative postings.
type Handler struct {
	service *Service
}

func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

type ActivityView struct {
	ID              string    `json:"id"`
	EstablishmentID string    `json:"establishment_id"`
	ProgramID       string    `json:"program_id,omitempty"`
	Kind            Kind      `json:"kind"`
	PointsChange    int64     `json:"points_change"`
	Description     string    `json:"description"`
	TokenID         string    `json:"token_id,omitempty"`
	ProcessedBy     string    `json:"processed_by,omitempty"`
	SourceAmount    *string   `json:"source_amount,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
}

type BalanceView struct {
	AccountID       string     `json:"account_id"`
	EstablishmentID string     `json:"establishment_id"`
	CurrentBalance  int64      `json:"current_balance"`
	TotalEarned     int64      `json:"total_earned"`
	TotalRedeemed   int64      `json:"total_redeemed"`
	VisitCount      int64      `json:"visit_count"`
	FirstActivityAt *time.Time `json:"first_activity_at,omitempty"`
	LastActivityAt  *time.Time `json:"last_activity_at,omitempty"`
}

func PresentActivity(a Activity) ActivityView {
	v := ActivityView{
		ID:              a.ID,
		EstablishmentID: a.EstablishmentID,
		ProgramID:       a.ProgramID,
		Kind:            a.Kind,
		PointsChange:    a.PointsChange,
		Description:     a.Description,
		TokenID:         a.TokenID,
		ProcessedBy:     a.ProcessedBy,
		CreatedAt:       a.CreatedAt,
	}
	if a.SourceAmount.Valid {
		s := a.SourceAmount.Decimal.StringFixed(2)
		v.SourceAmount = &s
	}
	return v
}

func PresentBalance(b Balance) BalanceView {
	v := BalanceView{
		AccountID:       b.AccountID,
		EstablishmentID: b.EstablishmentID,
		CurrentBalance:  b.CurrentBalance,
		TotalEarned:     b.TotalEarned,
		TotalRedeemed:   b.TotalRedeemed,
		VisitCount:      b.VisitCount,
	}
	if !b.FirstActivityAt.IsZero() {
		first, last := b.FirstActivityAt, b.LastActivityAt
		v.FirstActivityAt, v.LastActivityAt = &first, &last
	}
	return v
}

func caller(c *fiber.Ctx) string {
	id, _ := c.Locals(middleware.LocalAccountID).(string)
	return id
}

// Balance returns the caller's balance at one establishment.
func (h *Handler) Balance(c *fiber.Ctx) error {
	b, err := h.service.GetBalance(c.UserContext(), caller(c), c.Params("establishmentId"))
	if err != nil {
		return apperr.Fiber(err)
	}
	return c.JSON(PresentBalance(b))
}

// Activities lists the caller's history at one establishment, newest first.
func (h *Handler) Activities(c *fiber.Ctx) error {
	acts, err := h.service.History(c.UserContext(), caller(c), c.Params("establishmentId"), c.QueryInt("limit", DefaultHistoryLimit))
	if err != nil {
		return apperr.Fiber(err)
	}
	out := make([]ActivityView, 0, len(acts))
	for _, a := range acts {
		out = append(out, PresentActivity(a))
	}
	return c.JSON(fiber.Map{"activities": out})
}

type adjustmentRequest struct {
	AccountID       string `json:"account_id"`
	EstablishmentID string `json:"establishment_id"`
	Points          int64  `json:"points"`
	Description     string `json:"description"`
}

func (h *Handler) respondPosting(c *fiber.Ctx, a Activity, b Balance, err error) error {
	if err != nil {
		return apperr.Fiber(err)
	}
	return c.Status(http.StatusCreated).JSON(fiber.Map{
		"activity": PresentActivity(a),
		"balance":  PresentBalance(b),
	})
}

// Adjust records a signed manual correction.
func (h *Handler) Adjust(c *fiber.Ctx) error {
	var req adjustmentRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	a, b, err := h.service.RecordAdjustment(c.UserContext(), AdjustmentInput{
		AccountID:       req.AccountID,
		EstablishmentID: req.EstablishmentID,
		Delta:           req.Points,
		Description:     req.Description,
		ProcessedBy:     caller(c),
	})
	return h.respondPosting(c, a, b, err)
}

// Expire removes a positive number of points.
func (h *Handler) Expire(c *fiber.Ctx) error {
	var req adjustmentRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	a, b, err := h.service.ExpirePoints(c.UserContext(), ExpireInput{
		AccountID:       req.AccountID,
		EstablishmentID: req.EstablishmentID,
		Points:          req.Points,
		Description:     req.Description,
		ProcessedBy:     caller(c),
	})
	return h.respondPosting(c, a, b, err)
}

func (h *Handler) Reconcile(c *fiber.Ctx) error {
	rec, err := h.service.Reconcile(c.UserContext(), c.Params("accountId"), c.Params("establishmentId"), c.QueryBool("repair", false))
	if err != nil {
		return apperr.Fiber(err)
	}
	return c.JSON(fiber.Map{
		"consistent": rec.Consistent(),
		"drift":      rec.Drift(),
		"repaired":   rec.Repaired,
		"stored":     PresentBalance(rec.Stored),
		"derived":    PresentBalance(rec.Derived),
	})
}
