package identity

import (
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/fidelio/fidelio/internal/apperr"
)

// Handler exposes account endpoints.
type Handler struct {
	service *Service
}

func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

type registerRequest struct {
	Phone    string `json:"phone"`
	Email    string `json:"email"`
	Password string `json:"password"`
	FullName string `json:"full_name"`
}

type AccountView struct {
	ID            string     `json:"id"`
	Phone         string     `json:"phone,omitempty"`
	Email         string     `json:"email,omitempty"`
	FullName      string     `json:"full_name"`
	AvatarURL     string     `json:"avatar_url,omitempty"`
	PhoneVerified bool       `json:"phone_verified"`
	EmailVerified bool       `json:"email_verified"`
	HasPassword   bool       `json:"has_password"`
	Role          Role       `json:"role"`
	Active        bool       `json:"active"`
	CreatedAt     time.Time  `json:"created_at"`
	LastLoginAt   *time.Time `json:"last_login_at,omitempty"`
}

// Present renders an account without its credential hash.
func Present(a Account) AccountView {
	resp := AccountView{
		ID:            a.ID,
		Phone:         a.Phone,
		Email:         a.Email,
		FullName:      a.FullName,
		AvatarURL:     a.AvatarURL,
		PhoneVerified: a.PhoneVerified,
		EmailVerified: a.EmailVerified,
		HasPassword:   a.HasPassword(),
		Role:          a.Role,
		Active:        a.Active,
		CreatedAt:     a.CreatedAt,
	}
	if !a.LastLoginAt.IsZero() {
		last := a.LastLoginAt
		resp.LastLoginAt = &last
	}
	return resp
}

// Register handles self-service onboarding.
func (h *Handler) Register(c *fiber.Ctx) error {
	var req registerRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	account, err := h.service.Register(c.UserContext(), RegisterInput{
		Phone: req.Phone, Email: req.Email, Password: req.Password, FullName: req.FullName,
	})
	if err != nil {
		return apperr.Fiber(err)
	}
	return c.Status(http.StatusCreated).JSON(Present(account))
}

// Me returns the caller's own account.
func (h *Handler) Me(c *fiber.Ctx) error {
	id, _ := c.Locals("account_id").(string)
	if id == "" {
		return fiber.NewError(http.StatusUnauthorized, "unauthorized")
	}
	account, err := h.service.Get(c.UserContext(), id)
	if err != nil {
		return apperr.Fiber(err)
	}
	return c.JSON(Present(account))
}

// Deactivate is an admin action.
func (h *Handler) Deactivate(c *fiber.Ctx) error {
	account, err := h.service.Deactivate(c.UserContext(), c.Params("accountId"))
	if err != nil {
		return apperr.Fiber(err)
	}
	return c.JSON(Present(account))
}

type roleRequest struct {
	Role Role `json:"role"`
}

func (h *Handler) SetRole(c *fiber.Ctx) error {
	var req roleRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	account, err := h.service.SetRole(c.UserContext(), c.Params("accountId"), req.Role)
	if err != nil {
		return apperr.Fiber(err)
	}
	return c.JSON(Present(account))
}
