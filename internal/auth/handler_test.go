package auth

import (
	"context"
	"encoding/json"
	"errors"
	"net/http/httptest"
	"regexp"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/jonboulle/clockwork"
	"golang.org/x/crypto/bcrypt"

	"github.com/fidelio/fidelio/internal/apperr"
	"github.com/fidelio/fidelio/internal/federation"
	"github.com/fidelio/fidelio/internal/identity"
	"github.com/fidelio/fidelio/internal/logging"
	"github.com/fidelio/fidelio/internal/notification"
	"github.com/fidelio/fidelio/internal/otp"
)

type inbox struct {
	mu   sync.Mutex
	last notification.Message
}

func (i *inbox) Send(_ context.Context, m notification.Message) error {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.last = m
	return nil
}

var sixDigits = regexp.MustCompile(`\b\d{6}\b`)

func (i *inbox) code() string {
	i.mu.Lock()
	defer i.mu.Unlock()
	return sixDigits.FindString(i.last.Body)
}

type harness struct {
	app      *fiber.App
	accounts identity.Repository
	ids      *identity.Service
	svc      *Service
	inbox    *inbox
	provider *federation.StaticProvider
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	clk := clockwork.NewFakeClockAt(time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC))
	logger := logging.Discard()
	accounts := identity.NewMemoryRepository()
	hasher := identity.BcryptHasher{Cost: bcrypt.MinCost}
	box := &inbox{}
	verifier := otp.NewVerifier(otp.NewMemoryRepository(), box, nil, clk, otp.Options{}, logger)
	provider := federation.NewStaticProvider("http://localhost/oauth")
	issuer, err := NewIssuer(IssuerOptions{AccessSecret: "a", RefreshSecret: "r"}, clk)
	if err != nil {
		t.Fatalf("issuer: %v", err)
	}
	svc := NewService(issuer, accounts, logger)
	resolver := identity.NewResolver(accounts, hasher, verifier, provider, issuer, clk, logger)
	h := NewHandler(resolver, verifier, provider, svc)

	app := fiber.New()
	app.Post("/auth/phone/request-otp", h.RequestOTP)
	app.Post("/auth/phone/verify-otp", h.VerifyOTP)
	app.Post("/auth/email/login", h.EmailLogin)
	app.Post("/auth/login", h.Login)
	app.Get("/auth/google/url", h.GoogleURL)
	app.Post("/auth/google/callback", h.GoogleCallback)
	app.Post("/auth/refresh", h.Refresh)
	app.Post("/auth/logout", func(c *fiber.Ctx) error {
		account, err := svc.Authenticate(c.UserContext(), strings.TrimPrefix(c.Get(fiber.HeaderAuthorization), "Bearer "))
		if err != nil {
			return apperr.Fiber(err)
		}
		c.Locals("account_id", account.ID)
		return c.Next()
	}, h.Logout)

	return &harness{app: app, accounts: accounts, ids: identity.NewService(accounts, hasher, clk, logger), svc: svc, inbox: box, provider: provider}
}

func (h *harness) call(t *testing.T, method, path, body, bearer string) (int, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
	if bearer != "" {
		req.Header.Set(fiber.HeaderAuthorization, "Bearer "+bearer)
	}
	resp, err := h.app.Test(req)
	if err != nil {
		t.Fatalf("app.Test: %v", err)
	}
	defer resp.Body.Close()
	var out map[string]any
	json.NewDecoder(resp.Body).Decode(&out)
	return resp.StatusCode, out
}

func TestPhoneOTPSignInFlow(t *testing.T) {
	h := newHarness(t)

	status, body := h.call(t, fiber.MethodPost, "/auth/phone/request-otp", `{"phone":"+237 650 000 001"}`, "")
	if status != fiber.StatusAccepted || body["phone"] != "+237650000001" {
		t.Fatalf("request otp: %d %v", status, body)
	}
	if _, leaked := body["code"]; leaked {
		t.Fatalf("response must not carry the code")
	}

	status, body = h.call(t, fiber.MethodPost, "/auth/phone/verify-otp", `{"phone":"+237650000001","code":"`+h.inbox.code()+`"}`, "")
	if status != fiber.StatusCreated || body["created"] != true || body["token_type"] != "Bearer" {
		t.Fatalf("verify otp: %d %v", status, body)
	}
	account := body["account"].(map[string]any)
	if account["phone_verified"] != true || account["role"] != "customer" {
		t.Fatalf("unexpected account %v", account)
	}

	status, _ = h.call(t, fiber.MethodPost, "/auth/phone/verify-otp", `{"phone":"+237650000001","code":"`+h.inbox.code()+`"}`, "")
	if status != fiber.StatusUnauthorized {
		t.Fatalf("replayed code must fail, got %d", status)
	}
}

func TestEmailLoginRefreshAndLogout(t *testing.T) {
	h := newHarness(t)
	if _, err := h.ids.Register(context.Background(), identity.RegisterInput{Phone: "+237650000001", Email: "ada@example.com", Password: "correct horse"}); err != nil {
		t.Fatalf("register: %v", err)
	}

	status, body := h.call(t, fiber.MethodPost, "/auth/email/login", `{"email":"ada@example.com","password":"nope-nope"}`, "")
	if status != fiber.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", status)
	}

	status, body = h.call(t, fiber.MethodPost, "/auth/email/login", `{"email":"ada@example.com","password":"correct horse"}`, "")
	if status != fiber.StatusOK {
		t.Fatalf("email login: %d %v", status, body)
	}
	access, _ := body["access_token"].(string)
	refresh, _ := body["refresh_token"].(string)

	status, body = h.call(t, fiber.MethodPost, "/auth/refresh", `{"refresh_token":"`+refresh+`"}`, "")
	if status != fiber.StatusOK || body["access_token"] == "" {
		t.Fatalf("refresh: %d %v", status, body)
	}

	status, _ = h.call(t, fiber.MethodPost, "/auth/logout", "", access)
	if status != fiber.StatusOK {
		t.Fatalf("logout: %d", status)
	}
	if _, err := h.svc.Authenticate(context.Background(), access); !errors.Is(err, apperr.ErrInvalidCredentials) {
		t.Fatalf("access token must be revoked after logout, got %v", err)
	}
	status, _ = h.call(t, fiber.MethodPost, "/auth/refresh", `{"refresh_token":"`+refresh+`"}`, "")
	if status != fiber.StatusUnauthorized {
		t.Fatalf("refresh token must be revoked after logout, got %d", status)
	}
}

func TestLegacyPhonePasswordLogin(t *testing.T) {
	h := newHarness(t)
	h.ids.Register(context.Background(), identity.RegisterInput{Phone: "+237650000001", Password: "s3cret-pass"})

	status, body := h.call(t, fiber.MethodPost, "/auth/login", `{"phone":"+237650000001","password":"s3cret-pass"}`, "")
	if status != fiber.StatusOK || body["created"] != false {
		t.Fatalf("legacy login: %d %v", status, body)
	}
}

func TestGoogleURLAndCallback(t *testing.T) {
	h := newHarness(t)
	status, body := h.call(t, fiber.MethodGet, "/auth/google/url", "", "")
	state, _ := body["state"].(string)
	if status != fiber.StatusOK || state == "" || !strings.Contains(body["url"].(string), state) {
		t.Fatalf("google url: %d %v", status, body)
	}

	h.provider.Register("good", federation.Profile{Email: "fed@example.com", Name: "Fed", EmailVerified: true})
	status, body = h.call(t, fiber.MethodPost, "/auth/google/callback", `{"code":"good"}`, "")
	if status != fiber.StatusCreated {
		t.Fatalf("callback: %d %v", status, body)
	}
	status, _ = h.call(t, fiber.MethodPost, "/auth/google/callback", `{"code":""}`, "")
	if status != fiber.StatusBadRequest {
		t.Fatalf("expected 400 for empty code, got %d", status)
	}
}

func TestDeactivatedAccountLosesSession(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	acc, _ := h.ids.Register(ctx, identity.RegisterInput{Phone: "+237650000001", Email: "ada@example.com", Password: "correct horse"})
	_, body := h.call(t, fiber.MethodPost, "/auth/email/login", `{"email":"ada@example.com","password":"correct horse"}`, "")
	access, _ := body["access_token"].(string)

	if _, err := h.ids.Deactivate(ctx, acc.ID); err != nil {
		t.Fatalf("deactivate: %v", err)
	}
	if _, err := h.svc.Authenticate(ctx, access); !errors.Is(err, apperr.ErrInvalidCredentials) {
		t.Fatalf("expected revoked session, got %v", err)
	}
	status, _ := h.call(t, fiber.MethodPost, "/auth/email/login", `{"email":"ada@example.com","password":"correct horse"}`, "")
	if status != fiber.StatusForbidden {
		t.Fatalf("expected 403 for deactivated account, got %d", status)
	}
}
