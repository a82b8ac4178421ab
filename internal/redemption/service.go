package redemption

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/fidelio/fidelio/internal/apperr"
	"github.com/fidelio/fidelio/internal/clock"
	"github.com/fidelio/fidelio/internal/ledger"
	"github.com/fidelio/fidelio/internal/metrics"
	"github.com/fidelio/fidelio/internal/randcode"
)

const codeAttempts = 3

// Options bounds token lifetimes.
type Options struct {
	DefaultTTL time.Duration
	// MaxTTL rejects issuance with a longer ttl; zero disables the cap.
	MaxTTL time.Duration
}

// Service issues and consumes redemption tokens.
type Service struct {
	repo      Repository
	programs  Programs
	clock     clock.Clock
	opts      Options
	publisher ledger.Publisher
	logger    *slog.Logger
}

// NewService wires the token engine. programs and publisher may be nil.
func NewService(repo Repository, programs Programs, clk clock.Clock, opts Options, publisher ledger.Publisher, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.DefaultTTL <= 0 {
		opts.DefaultTTL = 15 * time.Minute
	}
	return &Service{
		repo:      repo,
		programs:  programs,
		clock:     clock.OrReal(clk),
		opts:      opts,
		publisher: publisher,
		logger:    logger,
	}
}

// DefaultTTL is the lifetime handlers use when the caller sends none.
func (s *Service) DefaultTTL() time.Duration { return s.opts.DefaultTTL }

// IssueInput captures a token request from a worker or admin.
type IssueInput struct {
	EstablishmentID string
	Kind            Kind
	// PointDelta is positive for earn and negative for redeem. Zero derives
	// the delta from the program terms when ProgramID has any.
	PointDelta   int64
	ProgramID    string
	SourceAmount decimal.NullDecimal
	IssuerID     string
	TTL          time.Duration
}

// Issue mints an unconsumed token with a fresh 128-bit code.
func (s *Service) Issue(ctx context.Context, in IssueInput) (Token, error) {
	switch {
	case strings.TrimSpace(in.EstablishmentID) == "":
		return Token{}, fmt.Errorf("establishment id is required: %w", apperr.ErrValidation)
	case !in.Kind.Valid():
		return Token{}, fmt.Errorf("unknown token kind %q: %w", in.Kind, apperr.ErrValidation)
	case strings.TrimSpace(in.IssuerID) == "":
		return Token{}, fmt.Errorf("issuer is required: %w", apperr.ErrValidation)
	case in.TTL <= 0:
		return Token{}, fmt.Errorf("ttl must be positive: %w", apperr.ErrValidation)
	case s.opts.MaxTTL > 0 && in.TTL > s.opts.MaxTTL:
		return Token{}, fmt.Errorf("ttl exceeds %s: %w", s.opts.MaxTTL, apperr.ErrValidation)
	case in.SourceAmount.Valid && in.SourceAmount.Decimal.IsNegative():
		return Token{}, fmt.Errorf("source amount must not be negative: %w", apperr.ErrValidation)
	}

	now := clock.Now(s.clock)
	expires := now.Add(in.TTL)
	delta := in.PointDelta

	if in.ProgramID != "" && s.programs != nil {
		program, err := s.programs.Program(ctx, in.ProgramID)
		switch {
		case err == nil:
			if !program.Open(now) {
				return Token{}, fmt.Errorf("program %s is not open: %w", program.ID, apperr.ErrValidation)
			}
			if delta == 0 {
				delta = termsDelta(program, in.Kind, in.SourceAmount)
			}
			if !program.ValidUntil.IsZero() && expires.After(program.ValidUntil) {
				expires = program.ValidUntil
			}
		case errors.Is(err, apperr.ErrNotFound):
		default:
			return Token{}, err
		}
	}

	switch {
	case delta == 0:
		return Token{}, fmt.Errorf("point delta must be non-zero: %w", apperr.ErrValidation)
	case in.Kind == KindEarn && delta < 0:
		return Token{}, fmt.Errorf("earn tokens carry a positive delta: %w", apperr.ErrValidation)
	case in.Kind == KindRedeem && delta > 0:
		return Token{}, fmt.Errorf("redeem tokens carry a negative delta: %w", apperr.ErrValidation)
	}

	token := Token{
		ID:              uuid.NewString(),
		EstablishmentID: in.EstablishmentID,
		ProgramID:       in.ProgramID,
		Kind:            in.Kind,
		PointDelta:      delta,
		SourceAmount:    in.SourceAmount,
		IssuedBy:        in.IssuerID,
		CreatedAt:       now,
		ExpiresAt:       expires,
	}

	var lastErr error
	for attempt := 0; attempt < codeAttempts; attempt++ {
		code, err := randcode.Token()
		if err != nil {
			return Token{}, err
		}
		token.Code = code
		lastErr = s.repo.Create(ctx, token)
		if errors.Is(lastErr, apperr.ErrStorageConflict) {
			continue
		}
		if lastErr != nil {
			return Token{}, lastErr
		}
		metrics.TokensIssued.WithLabelValues(string(token.Kind)).Inc()
		s.logger.Info("token issued",
			slog.String("token_id", token.ID),
			slog.String("code", randcode.Fingerprint(token.Code)),
			slog.String("establishment_id", token.EstablishmentID),
			slog.String("kind", string(token.Kind)),
			slog.Int64("point_delta", token.PointDelta),
			slog.Time("expires_at", token.ExpiresAt))
		return token, nil
	}
	return Token{}, lastErr
}

func termsDelta(p Program, kind Kind, amount decimal.NullDecimal) int64 {
	if kind == KindRedeem {
		return -p.PointsRequired
	}
	if amount.Valid {
		return p.EarnFor(amount.Decimal)
	}
	return 0
}

// Consume spends the token identified by code on behalf of consumerID. Of any
// number of concurrent callers presenting the same code exactly one succeeds;
// the rest get apperr.ErrAlreadyConsumed. An expired token is rejected with
// apperr.ErrExpired and stays unconsumed.
func (s *Service) Consume(ctx context.Context, code, consumerID string) (Consumption, error) {
	code = strings.TrimSpace(code)
	if code == "" {
		return Consumption{}, fmt.Errorf("token code is required: %w", apperr.ErrValidation)
	}
	if strings.TrimSpace(consumerID) == "" {
		return Consumption{}, fmt.Errorf("consumer is required: %w", apperr.ErrValidation)
	}

	res, err := s.repo.Consume(ctx, code, consumerID, clock.Now(s.clock))
	metrics.TokenConsumptions.WithLabelValues(consumeOutcome(err)).Inc()
	if err != nil {
		s.logger.Info("token consume rejected",
			slog.String("code", randcode.Fingerprint(code)),
			slog.String("consumer_id", consumerID),
			slog.String("reason", apperr.Message(err)))
		return Consumption{}, err
	}

	ledger.Committed(ctx, s.publisher, s.logger, res.Activity)
	s.logger.Info("token consumed",
		slog.String("token_id", res.Token.ID),
		slog.String("consumer_id", consumerID),
		slog.String("establishment_id", res.Token.EstablishmentID),
		slog.Int64("points_change", res.Activity.PointsChange),
		slog.Int64("balance", res.Balance.CurrentBalance))
	return res, nil
}

func consumeOutcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, apperr.ErrNotFound):
		return "not_found"
	case errors.Is(err, apperr.ErrAlreadyConsumed):
		return "already_consumed"
	case errors.Is(err, apperr.ErrExpired):
		return "expired"
	case errors.Is(err, apperr.ErrInsufficientPoints):
		return "insufficient_points"
	default:
		return "error"
	}
}

// Get returns a token by code for staff lookups.
func (s *Service) Get(ctx context.Context, code string) (Token, error) {
	return s.repo.FindByCode(ctx, strings.TrimSpace(code))
}

// Now is the service clock reading used for status reporting.
func (s *Service) Now() time.Time { return clock.Now(s.clock) }

// SweepExpired deletes expired tokens that were never consumed.
func (s *Service) SweepExpired(ctx context.Context) (int64, error) {
	n, err := s.repo.DeleteExpired(ctx, clock.Now(s.clock))
	if err != nil {
		return 0, err
	}
	metrics.Swept.WithLabelValues("redemption_tokens").Add(float64(n))
	return n, nil
}
