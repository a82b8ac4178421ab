package ledger

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/fidelio/fidelio/internal/apperr"
	"github.com/fidelio/fidelio/internal/metrics"
)

// DefaultHistoryLimit caps History when the caller passes no limit.
const DefaultHistoryLimit = 50

// Service exposes the administrative ledger operations and read paths.
type Service struct {
	ledger    Ledger
	publisher Publisher
	logger    *slog.Logger
}

// NewService wires a ledger service. publisher may be nil.
func NewService(l Ledger, publisher Publisher, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{ledger: l, publisher: publisher, logger: logger}
}

// AdjustmentInput describes an administrative points change.
type AdjustmentInput struct {
	AccountID       string
	EstablishmentID string
	Delta           int64
	Description     string
	ProcessedBy     string
}

// RecordAdjustment appends an `adjusted` activity. The delta may have either
// sign; it is subject to the negative-balance policy like any other posting.
func (s *Service) RecordAdjustment(ctx context.Context, in AdjustmentInput) (Activity, Balance, error) {
	desc := in.Description
	if desc == "" {
		desc = "manual adjustment"
	}
	return s.post(ctx, Posting{
		AccountID:       in.AccountID,
		EstablishmentID: in.EstablishmentID,
		Kind:            KindAdjusted,
		Delta:           in.Delta,
		Description:     desc,
		ProcessedBy:     in.ProcessedBy,
	})
}

// ExpireInput removes Points (a positive magnitude) from a balance.
type ExpireInput struct {
	AccountID       string
	EstablishmentID string
	Points          int64
	Description     string
	ProcessedBy     string
}

func (s *Service) ExpirePoints(ctx context.Context, in ExpireInput) (Activity, Balance, error) {
	if in.Points <= 0 {
		return Activity{}, Balance{}, fmt.Errorf("points to expire must be positive: %w", apperr.ErrValidation)
	}
	desc := in.Description
	if desc == "" {
		desc = fmt.Sprintf("%d points expired", in.Points)
	}
	return s.post(ctx, Posting{
		AccountID:       in.AccountID,
		EstablishmentID: in.EstablishmentID,
		Kind:            KindExpired,
		Delta:           -in.Points,
		Description:     desc,
		ProcessedBy:     in.ProcessedBy,
	})
}

// GetBalance never creates a row.
func (s *Service) GetBalance(ctx context.Context, accountID, establishmentID string) (Balance, error) {
	return s.ledger.Balance(ctx, accountID, establishmentID)
}

func (s *Service) History(ctx context.Context, accountID, establishmentID string, limit int) ([]Activity, error) {
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	return s.ledger.Activities(ctx, accountID, establishmentID, limit)
}

// Reconcile folds the activity log and compares it with the stored aggregate,
// rewriting the aggregate when repair is set and the two disagree.
func (s *Service) Reconcile(ctx context.Context, accountID, establishmentID string, repair bool) (Reconciliation, error) {
	rec, err := s.ledger.Reconcile(ctx, accountID, establishmentID, repair)
	if err != nil {
		return Reconciliation{}, err
	}
	if !rec.Consistent() {
		s.logger.Warn("balance drift detected",
			slog.String("account_id", accountID),
			slog.String("establishment_id", establishmentID),
			slog.Int64("drift", rec.Drift()),
			slog.Bool("repaired", rec.Repaired))
	}
	return rec, nil
}

func (s *Service) post(ctx context.Context, p Posting) (Activity, Balance, error) {
	activity, balance, err := s.ledger.Post(ctx, p)
	if err != nil {
		return Activity{}, Balance{}, err
	}
	Committed(ctx, s.publisher, s.logger, activity)
	return activity, balance, nil
}

// Committed records metrics for a durable activity and hands it to the
// publisher. Publish failures are logged; the activity stays committed.
func Committed(ctx context.Context, publisher Publisher, logger *slog.Logger, a Activity) {
	metrics.PointsPosted.WithLabelValues(string(a.Kind)).Inc()
	if publisher == nil {
		return
	}
	if err := publisher.PublishActivity(ctx, a); err != nil {
		logger.Error("publish activity failed",
			slog.String("activity_id", a.ID),
			slog.String("kind", string(a.Kind)),
			slog.String("error", err.Error()))
	}
}
