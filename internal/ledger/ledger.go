package ledger

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/fidelio/fidelio/internal/apperr"
)

// Kind classifies a point activity.
type Kind string

const (
	KindEarned   Kind = "earned"
	KindRedeemed Kind = "redeemed"
	KindExpired  Kind = "expired"
	KindAdjusted Kind = "adjusted"
)

// Valid reports whether k is a known activity kind.
func (k Kind) Valid() bool {
	switch k {
	case KindEarned, KindRedeemed, KindExpired, KindAdjusted:
		return true
	}
	return false
}

// Activity is an immutable ledger entry for one (account, establishment) pair.
type Activity struct {
	ID              string
	AccountID       string
	EstablishmentID string
	ProgramID       string
	Kind            Kind
	PointsChange    int64
	Description     string
	TokenID         string
	ProcessedBy     string
	SourceAmount    decimal.NullDecimal
	CreatedAt       time.Time
}

// Balance is the running aggregate of every Activity for a pair. It is only
// ever written together with the activity that changes it.
type Balance struct {
	AccountID       string
	EstablishmentID string
	TotalEarned     int64
	TotalRedeemed   int64
	CurrentBalance  int64
	VisitCount      int64
	FirstActivityAt time.Time
	LastActivityAt  time.Time
}

// Apply folds a into b. Positive changes count as earned, negative ones as
// redeemed, so CurrentBalance == TotalEarned - TotalRedeemed always holds.
// Token-driven activities count as visits.
func (b Balance) Apply(a Activity) Balance {
	if a.PointsChange > 0 {
		b.TotalEarned += a.PointsChange
	} else {
		b.TotalRedeemed += -a.PointsChange
	}
	b.CurrentBalance += a.PointsChange
	if a.TokenID != "" {
		b.VisitCount++
	}
	if b.FirstActivityAt.IsZero() || a.CreatedAt.Before(b.FirstActivityAt) {
		b.FirstActivityAt = a.CreatedAt
	}
	if a.CreatedAt.After(b.LastActivityAt) {
		b.LastActivityAt = a.CreatedAt
	}
	return b
}

// Fold rebuilds a Balance from the full activity history of one pair.
func Fold(accountID, establishmentID string, activities []Activity) Balance {
	b := Balance{AccountID: accountID, EstablishmentID: establishmentID}
	for _, a := range activities {
		b = b.Apply(a)
	}
	return b
}

// Posting is a request to append one activity.
type Posting struct {
	AccountID       string
	EstablishmentID string
	ProgramID       string
	Kind            Kind
	Delta           int64
	Description     string
	TokenID         string
	ProcessedBy     string
	SourceAmount    decimal.NullDecimal
	// At overrides the activity timestamp; zero means the ledger clock.
	At time.Time
}

// Validate checks the posting shape before any storage work.
func (p Posting) Validate() error {
	switch {
	case strings.TrimSpace(p.AccountID) == "":
		return fmt.Errorf("account id is required: %w", apperr.ErrValidation)
	case strings.TrimSpace(p.EstablishmentID) == "":
		return fmt.Errorf("establishment id is required: %w", apperr.ErrValidation)
	case !p.Kind.Valid():
		return fmt.Errorf("unknown activity kind %q: %w", p.Kind, apperr.ErrValidation)
	case p.Delta == 0:
		return fmt.Errorf("points change must be non-zero: %w", apperr.ErrValidation)
	case p.Kind == KindEarned && p.Delta < 0:
		return fmt.Errorf("earned points must be positive: %w", apperr.ErrValidation)
	case (p.Kind == KindRedeemed || p.Kind == KindExpired) && p.Delta > 0:
		return fmt.Errorf("%s points must be negative: %w", p.Kind, apperr.ErrValidation)
	}
	return nil
}

// Options holds ledger policy.
type Options struct {
	// AllowNegative lets postings drive a balance below zero.
	AllowNegative bool
}

func (o Options) check(current Balance, delta int64) error {
	if o.AllowNegative || delta >= 0 {
		return nil
	}
	if current.CurrentBalance+delta < 0 {
		return fmt.Errorf("balance %d cannot cover %d: %w", current.CurrentBalance, -delta, apperr.ErrInsufficientPoints)
	}
	return nil
}

// Reconciliation compares the stored aggregate with the fold of the log.
type Reconciliation struct {
	Stored   Balance
	Derived  Balance
	Repaired bool
}

// Drift is stored minus derived current balance.
func (r Reconciliation) Drift() int64 {
	return r.Stored.CurrentBalance - r.Derived.CurrentBalance
}

// Consistent reports whether the stored totals match the derivation.
func (r Reconciliation) Consistent() bool {
	s, d := r.Stored, r.Derived
	return s.TotalEarned == d.TotalEarned &&
		s.TotalRedeemed == d.TotalRedeemed &&
		s.CurrentBalance == d.CurrentBalance &&
		s.VisitCount == d.VisitCount
}

// Ledger is implemented by the storage backends (in-memory, Postgres).
type Ledger interface {
	// Post appends an activity and updates the pair's aggregate atomically.
	Post(ctx context.Context, p Posting) (Activity, Balance, error)
	// Balance returns the aggregate, zero-valued when the pair has no row.
	Balance(ctx context.Context, accountID, establishmentID string) (Balance, error)
	// Activities lists newest first; limit <= 0 returns everything.
	Activities(ctx context.Context, accountID, establishmentID string, limit int) ([]Activity, error)
	Reconcile(ctx context.Context, accountID, establishmentID string, repair bool) (Reconciliation, error)
}

// Publisher receives activities after they are durably committed.
type Publisher interface {
	PublishActivity(ctx context.Context, a Activity) error
}
