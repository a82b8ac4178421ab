package ledger

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/fidelio/fidelio/internal/clock"
)

type pairKey struct {
	account       string
	establishment string
}

// InMemory is a concurrency-safe ledger used in tests and development.
type InMemory struct {
	mu         sync.RWMutex
	opts       Options
	clock      clock.Clock
	balances   map[pairKey]Balance
	activities map[pairKey][]Activity
}

// NewInMemory creates an empty in-memory ledger.
func NewInMemory(opts Options, clk clock.Clock) *InMemory {
	return &InMemory{
		opts:       opts,
		clock:      clock.OrReal(clk),
		balances:   make(map[pairKey]Balance),
		activities: make(map[pairKey][]Activity),
	}
}

func (l *InMemory) Post(ctx context.Context, p Posting) (Activity, Balance, error) {
	return l.Commit(ctx, p, nil)
}

// Commit applies p under the ledger lock. before runs after every check has
// passed but before the activity becomes visible; an error from it aborts the
// posting with no change. Callers use it to flip state they own (a token)
// inside the same critical section.
func (l *InMemory) Commit(_ context.Context, p Posting, before func(Activity) error) (Activity, Balance, error) {
	if err := p.Validate(); err != nil {
		return Activity{}, Balance{}, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	key := pairKey{p.AccountID, p.EstablishmentID}
	current, ok := l.balances[key]
	if !ok {
		current = Balance{AccountID: p.AccountID, EstablishmentID: p.EstablishmentID}
	}
	if err := l.opts.check(current, p.Delta); err != nil {
		return Activity{}, Balance{}, err
	}

	at := p.At
	if at.IsZero() {
		at = clock.Now(l.clock)
	}
	activity := Activity{
		ID:              uuid.NewString(),
		AccountID:       p.AccountID,
		EstablishmentID: p.EstablishmentID,
		ProgramID:       p.ProgramID,
		Kind:            p.Kind,
		PointsChange:    p.Delta,
		Description:     p.Description,
		TokenID:         p.TokenID,
		ProcessedBy:     p.ProcessedBy,
		SourceAmount:    p.SourceAmount,
		CreatedAt:       at,
	}

	if before != nil {
		if err := before(activity); err != nil {
			return Activity{}, Balance{}, err
		}
	}

	updated := current.Apply(activity)
	l.activities[key] = append(l.activities[key], activity)
	l.balances[key] = updated
	return activity, updated, nil
}

func (l *InMemory) Balance(_ context.Context, accountID, establishmentID string) (Balance, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if b, ok := l.balances[pairKey{accountID, establishmentID}]; ok {
		return b, nil
	}
	return Balance{AccountID: accountID, EstablishmentID: establishmentID}, nil
}

func (l *InMemory) Activities(_ context.Context, accountID, establishmentID string, limit int) ([]Activity, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	log := l.activities[pairKey{accountID, establishmentID}]
	n := len(log)
	if limit > 0 && limit < n {
		n = limit
	}
	out := make([]Activity, 0, n)
	for i := len(log) - 1; i >= 0 && len(out) < n; i-- {
		out = append(out, log[i])
	}
	return out, nil
}

func (l *InMemory) Reconcile(_ context.Context, accountID, establishmentID string, repair bool) (Reconciliation, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	key := pairKey{accountID, establishmentID}
	stored, ok := l.balances[key]
	if !ok {
		stored = Balance{AccountID: accountID, EstablishmentID: establishmentID}
	}
	rec := Reconciliation{Stored: stored, Derived: Fold(accountID, establishmentID, l.activities[key])}
	if repair && !rec.Consistent() {
		l.balances[key] = rec.Derived
		rec.Repaired = true
	}
	return rec, nil
}
