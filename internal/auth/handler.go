package auth

import (
	"errors"
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/fidelio/fidelio/internal/apperr"
	"github.com/fidelio/fidelio/internal/federation"
	"github.com/fidelio/fidelio/internal/identity"
	"github.com/fidelio/fidelio/internal/otp"
	"github.com/fidelio/fidelio/internal/randcode"
)

// Handler exposes sign-in, refresh and logout endpoints. Every sign-in
// route answers with the same session shape.
type Handler struct {
	resolver *identity.Resolver
	otps     *otp.Verifier
	provider federation.Provider
	svc      *Service
}

// NewHandler builds the auth handler. provider may be nil when federation
// is not configured.
func NewHandler(resolver *identity.Resolver, otps *otp.Verifier, provider federation.Provider, svc *Service) *Handler {
	return &Handler{resolver: resolver, otps: otps, provider: provider, svc: svc}
}

type sessionResponse struct {
	Account      identity.AccountView `json:"account"`
	AccessToken  string               `json:"access_token"`
	RefreshToken string               `json:"refresh_token"`
	TokenType    string               `json:"token_type"`
	ExpiresIn    int64                `json:"expires_in"`
	ExpiresAt    time.Time            `json:"expires_at"`
	Created      bool                 `json:"created"`
}

func (h *Handler) session(c *fiber.Ctx, account identity.Account, s identity.Session, created bool) error {
	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	return c.Status(status).JSON(sessionResponse{
		Account:      identity.Present(account),
		AccessToken:  s.AccessToken,
		RefreshToken: s.RefreshToken,
		TokenType:    "Bearer",
		ExpiresIn:    s.ExpiresIn,
		ExpiresAt:    s.ExpiresAt,
		Created:      created,
	})
}

func (h *Handler) resolve(c *fiber.Ctx, f identity.Factor) error {
	res, err := h.resolver.Resolve(c.UserContext(), f)
	if err != nil {
		return apperr.Fiber(err)
	}
	return h.session(c, res.Account, res.Session, res.Created)
}

type otpRequest struct {
	Phone string `json:"phone"`
	Code  string `json:"code"`
}

// RequestOTP sends a fresh sign-in code. A failed delivery still answers
// 502 so the client offers a resend.
func (h *Handler) RequestOTP(c *fiber.Ctx) error {
	var req otpRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	issued, err := h.otps.RequestCode(c.UserContext(), req.Phone)
	if err != nil {
		return apperr.Fiber(err)
	}
	return c.Status(http.StatusAccepted).JSON(fiber.Map{
		"phone":      issued.Phone,
		"expires_at": issued.ExpiresAt,
		"expires_in": int64(h.otps.TTL().Seconds()),
	})
}

func (h *Handler) VerifyOTP(c *fiber.Ctx) error {
	var req otpRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	return h.resolve(c, identity.PhoneOTP{Phone: req.Phone, Code: req.Code})
}

type passwordRequest struct {
	Email    string `json:"email"`
	Phone    string `json:"phone"`
	Password string `json:"password"`
}

func (h *Handler) EmailLogin(c *fiber.Ctx) error {
	var req passwordRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	return h.resolve(c, identity.EmailPassword{Email: req.Email, Password: req.Password})
}

// Login is the legacy phone and password sign-in.
func (h *Handler) Login(c *fiber.Ctx) error {
	var req passwordRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	return h.resolve(c, identity.PhonePassword{Phone: req.Phone, Password: req.Password})
}

// GoogleURL returns the consent screen URL with a fresh state value the
// client echoes back.
func (h *Handler) GoogleURL(c *fiber.Ctx) error {
	if h.provider == nil {
		return fiber.NewError(http.StatusNotFound, "federated sign-in is not configured")
	}
	state, err := randcode.Token()
	if err != nil {
		return apperr.Fiber(err)
	}
	return c.JSON(fiber.Map{"url": h.provider.AuthURL(state), "state": state})
}

type callbackRequest struct {
	Code string `json:"code"`
}

func (h *Handler) GoogleCallback(c *fiber.Ctx) error {
	var req callbackRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	if req.Code == "" {
		return fiber.NewError(http.StatusBadRequest, "code is required")
	}
	return h.resolve(c, identity.FederatedCode{Code: req.Code})
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

// Refresh rotates a session pair.
func (h *Handler) Refresh(c *fiber.Ctx) error {
	var req refreshRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	account, session, err := h.svc.Refresh(c.UserContext(), req.RefreshToken)
	if err != nil {
		return apperr.Fiber(err)
	}
	return h.session(c, account, session, false)
}

// Logout revokes every session of the authenticated caller.
func (h *Handler) Logout(c *fiber.Ctx) error {
	id, _ := c.Locals("account_id").(string)
	if id == "" {
		return fiber.NewError(http.StatusUnauthorized, "unauthorized")
	}
	if err := h.svc.Logout(c.UserContext(), id); err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			return fiber.NewError(http.StatusUnauthorized, "unauthorized")
		}
		return apperr.Fiber(err)
	}
	return c.JSON(fiber.Map{"status": "logged_out"})
}
