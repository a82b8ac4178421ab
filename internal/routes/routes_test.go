package routes

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"regexp"
	"strings"
	"sync"
	"testing"

	"github.com/gofiber/fiber/v2"

	"github.com/fidelio/fidelio/internal/config"
	"github.com/fidelio/fidelio/internal/logging"
	"github.com/fidelio/fidelio/internal/notification"
)

type phoneInbox struct {
	mu   sync.Mutex
	last map[string]string
}

var codePattern = regexp.MustCompile(`\b\d{6}\b`)

func (p *phoneInbox) Send(_ context.Context, m notification.Message) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.last[m.Destination] = codePattern.FindString(m.Body)
	return nil
}

func (p *phoneInbox) code(phone string) string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.last[phone]
}

type testServer struct {
	app   *fiber.App
	svcs  *Services
	inbox *phoneInbox
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	cfg := config.Config{
		AppName:                "fidelio-test",
		AppEnv:                 "test",
		Port:                   "8080",
		AllowedOrigins:         "*",
		JWTSecret:              "test-secret",
		OTPMaxAttempts:         3,
		OTPRequestsPerHour:     5,
		LoginAttemptsPerMinute: 20,
	}
	inbox := &phoneInbox{last: map[string]string{}}
	app := fiber.New()
	svcs, err := Setup(app, Deps{Cfg: cfg, Logger: logging.Discard(), Notifier: inbox})
	if err != nil {
		t.Fatalf("setup: %v", err)
	}
	return &testServer{app: app, svcs: svcs, inbox: inbox}
}

func (s *testServer) do(t *testing.T, method, path, body, bearer string, headers ...string) (int, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
	if bearer != "" {
		req.Header.Set(fiber.HeaderAuthorization, "Bearer "+bearer)
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	resp, err := s.app.Test(req, -1)
	if err != nil {
		t.Fatalf("app.Test: %v", err)
	}
	defer resp.Body.Close()
	var out map[string]any
	json.NewDecoder(resp.Body).Decode(&out)
	return resp.StatusCode, out
}

func (s *testServer) signIn(t *testing.T, phone string) string {
	t.Helper()
	if status, body := s.do(t, fiber.MethodPost, "/api/v1/auth/phone/request-otp", `{"phone":"`+phone+`"}`, ""); status != fiber.StatusAccepted {
		t.Fatalf("request otp: %d %v", status, body)
	}
	status, body := s.do(t, fiber.MethodPost, "/api/v1/auth/phone/verify-otp",
		`{"phone":"`+phone+`","code":"`+s.inbox.code(phone)+`"}`, "")
	if status != fiber.StatusOK && status != fiber.StatusCreated {
		t.Fatalf("verify otp: %d %v", status, body)
	}
	return body["access_token"].(string)
}

func TestHealthz(t *testing.T) {
	s := newTestServer(t)
	status, body := s.do(t, fiber.MethodGet, "/healthz", "", "")
	if status != fiber.StatusOK || body["status"] == nil {
		t.Fatalf("healthz: %d %v", status, body)
	}
}

func TestEarnAndRedeemEndToEnd(t *testing.T) {
	s := newTestServer(t)
	const staffPhone, customerPhone = "+237650000100", "+237650000200"
	if _, err := s.svcs.Accounts.EnsureAdmin(context.Background(), staffPhone); err != nil {
		t.Fatalf("bootstrap admin: %v", err)
	}
	staff := s.signIn(t, staffPhone)
	customer := s.signIn(t, customerPhone)

	if status, _ := s.do(t, fiber.MethodPost, "/api/v1/tokens", `{"establishment_id":"cafe-1","kind":"earn","point_delta":50}`, customer); status != fiber.StatusForbidden {
		t.Fatalf("customers must not issue tokens, got %d", status)
	}

	status, body := s.do(t, fiber.MethodPost, "/api/v1/tokens", `{"establishment_id":"cafe-1","kind":"earn","point_delta":50}`, staff)
	if status != fiber.StatusCreated {
		t.Fatalf("issue earn: %d %v", status, body)
	}
	earn := body["code"].(string)

	status, body = s.do(t, fiber.MethodPost, "/api/v1/tokens/consume", `{"code":"`+earn+`"}`, customer)
	if status != fiber.StatusOK {
		t.Fatalf("consume earn: %d %v", status, body)
	}
	if status, _ = s.do(t, fiber.MethodPost, "/api/v1/tokens/consume", `{"code":"`+earn+`"}`, customer); status != fiber.StatusConflict {
		t.Fatalf("second consume must conflict, got %d", status)
	}

	_, body = s.do(t, fiber.MethodPost, "/api/v1/tokens", `{"establishment_id":"cafe-1","kind":"redeem","point_delta":-80}`, staff)
	redeem := body["code"].(string)
	if status, _ = s.do(t, fiber.MethodPost, "/api/v1/tokens/consume", `{"code":"`+redeem+`"}`, customer); status != fiber.StatusUnprocessableEntity {
		t.Fatalf("overdraft redeem must fail, got %d", status)
	}

	status, body = s.do(t, fiber.MethodGet, "/api/v1/establishments/cafe-1/balance", "", customer)
	if status != fiber.StatusOK || body["current_balance"] != float64(50) || body["visit_count"] != float64(1) {
		t.Fatalf("balance: %d %v", status, body)
	}

	if status, _ = s.do(t, fiber.MethodGet, "/api/v1/me", "", ""); status != fiber.StatusUnauthorized {
		t.Fatalf("expected 401 without bearer, got %d", status)
	}
	status, body = s.do(t, fiber.MethodGet, "/api/v1/me", "", customer)
	if status != fiber.StatusOK || body["phone"] != customerPhone {
		t.Fatalf("me: %d %v", status, body)
	}
}
