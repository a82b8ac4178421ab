package apperr

import (
	"errors"
	"net/http"
)

var (
	// ErrValidation marks malformed input. Never retried.
	ErrValidation = errors.New("validation failed")

	ErrNotFound = errors.New("not found")

	// ErrAlreadyConsumed is returned when a single-use token or challenge has
	// already transitioned to its terminal state.
	ErrAlreadyConsumed = errors.New("already consumed")

	// ErrExpired is returned for unconsumed tokens past their expiry.
	ErrExpired = errors.New("expired")

	// ErrAlreadyExists indicates a unique phone or email collided on create.
	ErrAlreadyExists = errors.New("already exists")

	// ErrInvalidCredentials is the single externally visible login failure so
	// callers cannot tell a missing account from a wrong secret.
	ErrInvalidCredentials = errors.New("invalid credentials")

	ErrAccountDeactivated = errors.New("account deactivated")

	// ErrDeliveryFailed wraps failures of the message delivery collaborator.
	// Safe to retry by requesting a fresh code.
	ErrDeliveryFailed = errors.New("delivery failed")

	// ErrStorageConflict means a concurrent transition won the race.
	ErrStorageConflict = errors.New("storage conflict")

	// ErrInsufficientPoints is returned when a posting would drive a balance
	// negative and negative balances are disabled.
	ErrInsufficientPoints = errors.New("insufficient points")

	ErrForbidden   = errors.New("forbidden")
	ErrRateLimited = errors.New("rate limited")
)

// HTTPStatus maps a domain error to the status handlers answer with.
func HTTPStatus(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrAlreadyConsumed), errors.Is(err, ErrAlreadyExists), errors.Is(err, ErrStorageConflict):
		return http.StatusConflict
	case errors.Is(err, ErrExpired):
		return http.StatusGone
	case errors.Is(err, ErrInvalidCredentials):
		return http.StatusUnauthorized
	case errors.Is(err, ErrAccountDeactivated), errors.Is(err, ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, ErrInsufficientPoints):
		return http.StatusUnprocessableEntity
	case errors.Is(err, ErrRateLimited):
		return http.StatusTooManyRequests
	case errors.Is(err, ErrDeliveryFailed):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// Message returns the user-facing text for err. Internal failures are
// collapsed so storage details never reach the caller.
func Message(err error) string {
	if HTTPStatus(err) == http.StatusInternalServerError {
		return "internal error"
	}
	return err.Error()
}
