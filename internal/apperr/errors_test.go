package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/gofiber/fiber/v2"
)

func TestHTTPStatusUnwrapsWrappedErrors(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{fmt.Errorf("issue token: %w", ErrValidation), http.StatusBadRequest},
		{fmt.Errorf("consume: %w", ErrAlreadyConsumed), http.StatusConflict},
		{fmt.Errorf("consume: %w", ErrExpired), http.StatusGone},
		{fmt.Errorf("login: %w", ErrInvalidCredentials), http.StatusUnauthorized},
		{fmt.Errorf("login: %w", ErrAccountDeactivated), http.StatusForbidden},
		{fmt.Errorf("post: %w", ErrInsufficientPoints), http.StatusUnprocessableEntity},
		{fmt.Errorf("send: %w", ErrDeliveryFailed), http.StatusBadGateway},
		{errors.New("connection reset"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		if got := HTTPStatus(tc.err); got != tc.want {
			t.Fatalf("HTTPStatus(%v) = %d, want %d", tc.err, got, tc.want)
		}
	}
}

func TestMessageHidesInternalErrors(t *testing.T) {
	if got := Message(errors.New("pq: relation missing")); got != "internal error" {
		t.Fatalf("expected internal error text, got %q", got)
	}
	wrapped := fmt.Errorf("token abc: %w", ErrNotFound)
	if got := Message(wrapped); got != wrapped.Error() {
		t.Fatalf("expected domain message, got %q", got)
	}
}

func TestFiberCarriesStatus(t *testing.T) {
	err := Fiber(fmt.Errorf("token: %w", ErrExpired))
	var fe *fiber.Error
	if !errors.As(err, &fe) {
		t.Fatalf("expected *fiber.Error, got %T", err)
	}
	if fe.Code != http.StatusGone {
		t.Fatalf("expected 410, got %d", fe.Code)
	}
}
