package identity

import (
	"context"
	"errors"
	"testing"

	"github.com/fidelio/fidelio/internal/apperr"
)

func TestRegisterValidates(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	cases := []RegisterInput{
		{Phone: ""},
		{Phone: "12ab"},
		{Phone: testPhone, Email: "not-an-email"},
		{Phone: testPhone, Password: "short"},
	}
	for i, in := range cases {
		if _, err := f.service.Register(ctx, in); !errors.Is(err, apperr.ErrValidation) {
			t.Fatalf("case %d: expected validation error, got %v", i, err)
		}
	}
}

func TestRegisterRejectsDuplicates(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	acc, err := f.service.Register(ctx, RegisterInput{Phone: testPhone, Email: "ada@example.com", Password: "long enough"})
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if acc.PasswordHash == "" || acc.PasswordHash == "long enough" {
		t.Fatalf("password must be stored hashed")
	}
	if _, err := f.service.Register(ctx, RegisterInput{Phone: testPhone}); !errors.Is(err, apperr.ErrAlreadyExists) {
		t.Fatalf("expected duplicate phone, got %v", err)
	}
	if _, err := f.service.Register(ctx, RegisterInput{Phone: "+237650000009", Email: "ADA@example.com"}); !errors.Is(err, apperr.ErrAlreadyExists) {
		t.Fatalf("expected duplicate email, got %v", err)
	}
}

func TestDeactivateBumpsTokenVersion(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	acc, _ := f.service.Register(ctx, RegisterInput{Phone: testPhone})

	got, err := f.service.Deactivate(ctx, acc.ID)
	if err != nil {
		t.Fatalf("deactivate: %v", err)
	}
	if got.Active || got.TokenVersion != acc.TokenVersion+1 {
		t.Fatalf("unexpected account %+v", got)
	}
	if _, err := f.service.Deactivate(ctx, "missing"); !errors.Is(err, apperr.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestSetRoleAndEnsureAdmin(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	acc, _ := f.service.Register(ctx, RegisterInput{Phone: testPhone})

	if _, err := f.service.SetRole(ctx, acc.ID, "owner"); !errors.Is(err, apperr.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	worker, err := f.service.SetRole(ctx, acc.ID, RoleWorker)
	if err != nil || worker.Role != RoleWorker || worker.TokenVersion != 1 {
		t.Fatalf("set role: %+v %v", worker, err)
	}

	admin, err := f.service.EnsureAdmin(ctx, testPhone)
	if err != nil || admin.ID != acc.ID || admin.Role != RoleAdmin {
		t.Fatalf("ensure admin on existing account: %+v %v", admin, err)
	}
	fresh, err := f.service.EnsureAdmin(ctx, "+237650000077")
	if err != nil || fresh.Role != RoleAdmin || !fresh.Active {
		t.Fatalf("ensure admin on new phone: %+v %v", fresh, err)
	}
}
