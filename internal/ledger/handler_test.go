package ledger

import (
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gofiber/fiber/v2"

	"github.com/fidelio/fidelio/internal/logging"
	"github.com/fidelio/fidelio/internal/middleware"
)

const testAdmin = "0b7e3a52-8c1f-4f0e-b6d2-5e9a4c3d2f11"

func newLedgerApp(svc *Service, accountID string) *fiber.App {
	app := fiber.New()
	app.Use(func(c *fiber.Ctx) error {
		c.Locals(middleware.LocalAccountID, accountID)
		return c.Next()
	})
	h := NewHandler(svc)
	app.Get("/establishments/:establishmentId/balance", h.Balance)
	app.Get("/establishments/:establishmentId/activities", h.Activities)
	app.Post("/admin/adjustments", h.Adjust)
	app.Post("/admin/expirations", h.Expire)
	app.Get("/admin/accounts/:accountId/establishments/:establishmentId/reconcile", h.Reconcile)
	return app
}

func call(t *testing.T, app *fiber.App, method, path, body string) (int, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("app.Test: %v", err)
	}
	defer resp.Body.Close()
	var out map[string]any
	json.NewDecoder(resp.Body).Decode(&out)
	return resp.StatusCode, out
}

func TestHandlerAdjustThenRead(t *testing.T) {
	l := NewInMemory(Options{}, nil)
	svc := NewService(l, nil, logging.Discard())
	admin := newLedgerApp(svc, testAdmin)

	status, body := call(t, admin, fiber.MethodPost, "/admin/adjustments",
		`{"account_id":"`+testAccount+`","establishment_id":"cafe-1","points":30,"description":"welcome bonus"}`)
	if status != fiber.StatusCreated {
		t.Fatalf("adjust: %d %v", status, body)
	}
	activity := body["activity"].(map[string]any)
	if activity["processed_by"] != testAdmin || activity["kind"] != string(KindAdjusted) {
		t.Fatalf("unexpected activity %v", activity)
	}

	status, body = call(t, admin, fiber.MethodPost, "/admin/expirations",
		`{"account_id":"`+testAccount+`","establishment_id":"cafe-1","points":50}`)
	if status != fiber.StatusUnprocessableEntity {
		t.Fatalf("expected 422 for over-expiry, got %d %v", status, body)
	}

	customer := newLedgerApp(svc, testAccount)
	status, body = call(t, customer, fiber.MethodGet, "/establishments/cafe-1/balance", "")
	if status != fiber.StatusOK || body["current_balance"] != float64(30) {
		t.Fatalf("balance: %d %v", status, body)
	}
	status, body = call(t, customer, fiber.MethodGet, "/establishments/cafe-1/activities?limit=10", "")
	if status != fiber.StatusOK || len(body["activities"].([]any)) != 1 {
		t.Fatalf("activities: %d %v", status, body)
	}
}

func TestHandlerReconcile(t *testing.T) {
	l := NewInMemory(Options{}, nil)
	svc := NewService(l, nil, logging.Discard())
	app := newLedgerApp(svc, testAdmin)
	call(t, app, fiber.MethodPost, "/admin/adjustments", `{"account_id":"`+testAccount+`","establishment_id":"cafe-1","points":10}`)
	CorruptBalance(l, testAccount, "cafe-1", 25)

	path := "/admin/accounts/" + testAccount + "/establishments/cafe-1/reconcile"
	status, body := call(t, app, fiber.MethodGet, path+"?repair=true", "")
	if status != fiber.StatusOK || body["consistent"] != false || body["repaired"] != true || body["drift"] != float64(15) {
		t.Fatalf("reconcile: %d %v", status, body)
	}
	_, body = call(t, app, fiber.MethodGet, path, "")
	if body["consistent"] != true {
		t.Fatalf("expected repaired aggregate, got %v", body)
	}
}
