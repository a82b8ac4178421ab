package otp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/fidelio/fidelio/internal/apperr"
	"github.com/fidelio/fidelio/internal/clock"
	"github.com/fidelio/fidelio/internal/metrics"
	"github.com/fidelio/fidelio/internal/notification"
	"github.com/fidelio/fidelio/internal/randcode"
	"github.com/fidelio/fidelio/internal/ratelimit"
)

// Options tunes challenge lifetime and attempt limits.
type Options struct {
	TTL         time.Duration
	MaxAttempts int
}

// Verifier issues and checks phone one-time codes. Delivery happens after
// the challenge is stored and never inside a storage transaction.
type Verifier struct {
	repo     Repository
	notifier notification.Notifier
	limiter  ratelimit.Limiter
	clock    clock.Clock
	opts     Options
	logger   *slog.Logger
}

// NewVerifier wires a verifier. limiter may be nil for no throttling.
func NewVerifier(repo Repository, notifier notification.Notifier, limiter ratelimit.Limiter, clk clock.Clock, opts Options, logger *slog.Logger) *Verifier {
	if opts.TTL <= 0 {
		opts.TTL = DefaultTTL
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = DefaultMaxAttempts
	}
	if limiter == nil {
		limiter = ratelimit.Unlimited{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Verifier{repo: repo, notifier: notifier, limiter: limiter, clock: clock.OrReal(clk), opts: opts, logger: logger}
}

// TTL is the lifetime of newly issued challenges.
func (v *Verifier) TTL() time.Duration { return v.opts.TTL }

// NormalizePhone trims formatting characters and checks the result looks
// like an E.164 number.
func NormalizePhone(phone string) (string, error) {
	cleaned := strings.Map(func(r rune) rune {
		switch r {
		case ' ', '-', '(', ')', '.':
			return -1
		}
		return r
	}, strings.TrimSpace(phone))
	digits := strings.TrimPrefix(cleaned, "+")
	if len(digits) < 7 || len(digits) > 15 {
		return "", fmt.Errorf("phone number must have 7 to 15 digits: %w", apperr.ErrValidation)
	}
	for _, r := range digits {
		if r < '0' || r > '9' {
			return "", fmt.Errorf("phone number may only contain digits: %w", apperr.ErrValidation)
		}
	}
	return cleaned, nil
}

// RequestCode supersedes any active challenge for phone and issues a new
// one. When delivery fails the challenge still exists; the returned error
// wraps apperr.ErrDeliveryFailed and callers retry by requesting again.
func (v *Verifier) RequestCode(ctx context.Context, phone string) (Issued, error) {
	phone, err := NormalizePhone(phone)
	if err != nil {
		return Issued{}, err
	}
	allowed, err := v.limiter.Allow(ctx, phone)
	if err != nil {
		v.logger.Warn("otp rate limiter unavailable", slog.String("error", err.Error()))
	} else if !allowed {
		metrics.OTPRequests.WithLabelValues("rate_limited").Inc()
		return Issued{}, fmt.Errorf("too many codes requested: %w", apperr.ErrRateLimited)
	}

	code, err := randcode.Digits(CodeLength)
	if err != nil {
		return Issued{}, err
	}
	now := clock.Now(v.clock)
	challenge := Challenge{
		ID:          uuid.NewString(),
		Phone:       phone,
		CodeHash:    digest(phone, code),
		CreatedAt:   now,
		ExpiresAt:   now.Add(v.opts.TTL),
		MaxAttempts: v.opts.MaxAttempts,
	}
	if err := v.repo.Replace(ctx, challenge); err != nil {
		return Issued{}, err
	}
	issued := Issued{Phone: phone, Code: code, ExpiresAt: challenge.ExpiresAt}

	err = v.notifier.Send(ctx, notification.Message{
		Kind:        notification.KindOTP,
		Destination: phone,
		Body:        fmt.Sprintf("Your verification code is %s. It expires in %d minutes.", code, int(v.opts.TTL/time.Minute)),
	})
	if err != nil {
		metrics.OTPRequests.WithLabelValues("delivery_failed").Inc()
		v.logger.Warn("otp delivery failed", slog.String("challenge_id", challenge.ID), slog.String("error", err.Error()))
		return issued, fmt.Errorf("%w: %v", apperr.ErrDeliveryFailed, err)
	}
	metrics.OTPRequests.WithLabelValues("sent").Inc()
	v.logger.Info("otp issued", slog.String("challenge_id", challenge.ID), slog.Time("expires_at", challenge.ExpiresAt))
	return issued, nil
}

// Verify reports whether code is the active code for phone. A missing,
// expired or mismatched challenge yields false with no error. A mismatch
// counts as an attempt; the attempt that reaches the limit exhausts the
// challenge so even the correct code fails afterwards. A match consumes it.
func (v *Verifier) Verify(ctx context.Context, phone, code string) (bool, error) {
	phone, err := NormalizePhone(phone)
	if err != nil {
		return false, nil
	}
	code = strings.TrimSpace(code)

	challenge, err := v.repo.Active(ctx, phone)
	if errors.Is(err, apperr.ErrNotFound) {
		metrics.OTPVerifications.WithLabelValues("no_challenge").Inc()
		return false, nil
	}
	if err != nil {
		return false, err
	}

	now := clock.Now(v.clock)
	if !now.Before(challenge.ExpiresAt) {
		metrics.OTPVerifications.WithLabelValues("expired").Inc()
		return false, nil
	}

	if len(code) != CodeLength || !challenge.Matches(code) {
		updated, err := v.repo.RecordFailure(ctx, challenge.ID)
		switch {
		case errors.Is(err, apperr.ErrStorageConflict):
		case err != nil:
			return false, err
		case updated.Outcome == OutcomeExhausted:
			v.logger.Warn("otp challenge exhausted", slog.String("challenge_id", challenge.ID), slog.Int("attempts", updated.Attempts))
		}
		metrics.OTPVerifications.WithLabelValues("mismatch").Inc()
		return false, nil
	}

	ok, err := v.repo.MarkConsumed(ctx, challenge.ID, now)
	if err != nil {
		return false, err
	}
	if !ok {
		metrics.OTPVerifications.WithLabelValues("lost_race").Inc()
		return false, nil
	}
	metrics.OTPVerifications.WithLabelValues("verified").Inc()
	return true, nil
}

// SweepExpired permanently removes challenges past expiry in any state.
func (v *Verifier) SweepExpired(ctx context.Context) (int64, error) {
	n, err := v.repo.DeleteExpired(ctx, clock.Now(v.clock))
	if err != nil {
		return 0, err
	}
	metrics.Swept.WithLabelValues("otp_challenges").Add(float64(n))
	return n, nil
}
