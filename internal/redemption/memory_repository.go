package redemption

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/fidelio/fidelio/internal/apperr"
	"github.com/fidelio/fidelio/internal/ledger"
)

// MemoryRepository keeps tokens in memory and writes through an in-memory
// ledger. Lock order is token lock, then ledger lock.
type MemoryRepository struct {
	mu     sync.Mutex
	tokens map[string]Token
	ledger *ledger.InMemory
}

func NewMemoryRepository(l *ledger.InMemory) *MemoryRepository {
	return &MemoryRepository{tokens: make(map[string]Token), ledger: l}
}

func (r *MemoryRepository) Create(_ context.Context, t Token) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tokens[t.Code]; exists {
		return fmt.Errorf("token code collision: %w", apperr.ErrStorageConflict)
	}
	r.tokens[t.Code] = t
	return nil
}

func (r *MemoryRepository) FindByCode(_ context.Context, code string) (Token, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.tokens[code]
	if !ok {
		return Token{}, fmt.Errorf("token: %w", apperr.ErrNotFound)
	}
	return t, nil
}

func (r *MemoryRepository) Consume(ctx context.Context, code, consumerID string, at time.Time) (Consumption, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	t, ok := r.tokens[code]
	if !ok {
		return Consumption{}, fmt.Errorf("token: %w", apperr.ErrNotFound)
	}
	if t.Consumed || t.ExpiredAt(at) {
		return Consumption{}, rejection(t, at)
	}

	activity, balance, err := r.ledger.Commit(ctx, t.posting(consumerID, at), func(ledger.Activity) error {
		t.Consumed = true
		t.ConsumedBy = consumerID
		t.ConsumedAt = at
		r.tokens[code] = t
		return nil
	})
	if err != nil {
		return Consumption{}, err
	}
	return Consumption{Token: t, Activity: activity, Balance: balance}, nil
}

func (r *MemoryRepository) DeleteExpired(_ context.Context, now time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for code, t := range r.tokens {
		if t.ExpiredAt(now) {
			delete(r.tokens, code)
			n++
		}
	}
	return n, nil
}
