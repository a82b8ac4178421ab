package otp

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/fidelio/fidelio/internal/apperr"
)

// MemoryRepository stores challenges in memory.
type MemoryRepository struct {
	mu         sync.Mutex
	challenges map[string]Challenge
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{challenges: make(map[string]Challenge)}
}

func (r *MemoryRepository) Replace(_ context.Context, c Challenge) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, existing := range r.challenges {
		if existing.Phone == c.Phone && !existing.Consumed {
			existing.Consumed = true
			existing.Outcome = OutcomeSuperseded
			r.challenges[id] = existing
		}
	}
	r.challenges[c.ID] = c
	return nil
}

func (r *MemoryRepository) Active(_ context.Context, phone string) (Challenge, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, c := range r.challenges {
		if c.Phone == phone && !c.Consumed {
			return c, nil
		}
	}
	return Challenge{}, fmt.Errorf("challenge: %w", apperr.ErrNotFound)
}

func (r *MemoryRepository) RecordFailure(_ context.Context, id string) (Challenge, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.challenges[id]
	if !ok || c.Consumed {
		return Challenge{}, fmt.Errorf("challenge %s: %w", id, apperr.ErrStorageConflict)
	}
	c.Attempts++
	if c.Attempts >= c.MaxAttempts {
		c.Consumed = true
		c.Outcome = OutcomeExhausted
	}
	r.challenges[id] = c
	return c, nil
}

func (r *MemoryRepository) MarkConsumed(_ context.Context, id string, now time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.challenges[id]
	if !ok || c.Consumed || !now.Before(c.ExpiresAt) {
		return false, nil
	}
	c.Consumed = true
	c.Outcome = OutcomeVerified
	r.challenges[id] = c
	return true, nil
}

func (r *MemoryRepository) DeleteExpired(_ context.Context, now time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for id, c := range r.challenges {
		if !now.Before(c.ExpiresAt) {
			delete(r.challenges, id)
			n++
		}
	}
	return n, nil
}

