package identity

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gofiber/fiber/v2"
)

func newHandlerApp(f *fixture, caller string) *fiber.App {
	app := fiber.New()
	app.Use(func(c *fiber.Ctx) error {
		if caller != "" {
			c.Locals("account_id", caller)
		}
		return c.Next()
	})
	h := NewHandler(f.service)
	app.Post("/auth/register", h.Register)
	app.Get("/me", h.Me)
	app.Post("/admin/accounts/:accountId/deactivate", h.Deactivate)
	app.Post("/admin/accounts/:accountId/role", h.SetRole)
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

func TestHandlerRegisterHidesHash(t *testing.T) {
	f := newFixture(t)
	app := newHandlerApp(f, "")

	status, body := call(t, app, fiber.MethodPost, "/auth/register",
		`{"phone":"`+testPhone+`","email":"ada@example.com","password":"long enough","full_name":"Ada"}`)
	if status != fiber.StatusCreated {
		t.Fatalf("expected 201, got %d (%v)", status, body)
	}
	if body["has_password"] != true || body["role"] != string(RoleCustomer) {
		t.Fatalf("unexpected account view %v", body)
	}
	if _, leaked := body["password_hash"]; leaked {
		t.Fatalf("password hash must not be rendered")
	}

	status, _ = call(t, app, fiber.MethodPost, "/auth/register", `{"phone":"`+testPhone+`"}`)
	if status != fiber.StatusConflict {
		t.Fatalf("expected 409 on duplicate phone, got %d", status)
	}
}

func TestHandlerMe(t *testing.T) {
	f := newFixture(t)
	acc, err := f.service.Register(context.Background(), RegisterInput{Phone: testPhone, FullName: "Ada"})
	if err != nil {
		t.Fatalf("register: %v", err)
	}

	status, body := call(t, newHandlerApp(f, acc.ID), fiber.MethodGet, "/me", "")
	if status != fiber.StatusOK || body["id"] != acc.ID || body["full_name"] != "Ada" {
		t.Fatalf("unexpected /me response %d %v", status, body)
	}
	if status, _ := call(t, newHandlerApp(f, ""), fiber.MethodGet, "/me", ""); status != fiber.StatusUnauthorized {
		t.Fatalf("expected 401 without caller, got %d", status)
	}
}

func TestHandlerAdminActions(t *testing.T) {
	f := newFixture(t)
	acc, _ := f.service.Register(context.Background(), RegisterInput{Phone: testPhone})
	app := newHandlerApp(f, "admin")

	status, body := call(t, app, fiber.MethodPost, "/admin/accounts/"+acc.ID+"/role", `{"role":"worker"}`)
	if status != fiber.StatusOK || body["role"] != string(RoleWorker) {
		t.Fatalf("set role: %d %v", status, body)
	}
	if status, _ := call(t, app, fiber.MethodPost, "/admin/accounts/"+acc.ID+"/role", `{"role":"owner"}`); status != fiber.StatusBadRequest {
		t.Fatalf("expected 400 for unknown role, got %d", status)
	}

	status, body = call(t, app, fiber.MethodPost, "/admin/accounts/"+acc.ID+"/deactivate", "")
	if status != fiber.StatusOK || body["active"] != false {
		t.Fatalf("deactivate: %d %v", status, body)
	}
	if status, _ := call(t, app, fiber.MethodPost, "/admin/accounts/missing/deactivate", ""); status != fiber.StatusNotFound {
		t.Fatalf("expected 404, got %d", status)
	}
}
