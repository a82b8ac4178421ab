package identity

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/fidelio/fidelio/internal/apperr"
)

type memoryRepository struct {
	mu       sync.RWMutex
	accounts map[string]Account
}

// NewMemoryRepository builds an in-memory account store for development and tests.
func NewMemoryRepository() Repository {
	return &memoryRepository{accounts: make(map[string]Account)}
}

// conflicts reports whether another account already owns a's phone or email.
func (r *memoryRepository) conflicts(a Account) bool {
	for id, existing := range r.accounts {
		if id == a.ID {
			continue
		}
		if (a.Phone != "" && existing.Phone == a.Phone) || (a.Email != "" && existing.Email == a.Email) {
			return true
		}
	}
	return false
}

func (r *memoryRepository) Create(_ context.Context, a Account) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.accounts[a.ID]; exists || r.conflicts(a) {
		return fmt.Errorf("account with this phone or email: %w", apperr.ErrAlreadyExists)
	}
	r.accounts[a.ID] = a
	return nil
}

func (r *memoryRepository) FindByID(_ context.Context, id string) (Account, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.accounts[id]
	if !ok {
		return Account{}, fmt.Errorf("account: %w", apperr.ErrNotFound)
	}
	return a, nil
}

func (r *memoryRepository) find(match func(Account) bool) (Account, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, a := range r.accounts {
		if match(a) {
			return a, nil
		}
	}
	return Account{}, fmt.Errorf("account: %w", apperr.ErrNotFound)
}

func (r *memoryRepository) FindByPhone(_ context.Context, phone string) (Account, error) {
	return r.find(func(a Account) bool { return phone != "" && a.Phone == phone })
}

func (r *memoryRepository) FindByEmail(_ context.Context, email string) (Account, error) {
	return r.find(func(a Account) bool { return email != "" && a.Email == email })
}

func (r *memoryRepository) Update(_ context.Context, a Account) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	existing, ok := r.accounts[a.ID]
	if !ok {
		return fmt.Errorf("account: %w", apperr.ErrNotFound)
	}
	if r.conflicts(a) {
		return fmt.Errorf("account with this phone or email: %w", apperr.ErrAlreadyExists)
	}
	a.TokenVersion = existing.TokenVersion
	a.LastLoginAt = existing.LastLoginAt
	a.CreatedAt = existing.CreatedAt
	r.accounts[a.ID] = a
	return nil
}

func (r *memoryRepository) TouchLogin(_ context.Context, id string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.accounts[id]
	if !ok {
		return fmt.Errorf("account: %w", apperr.ErrNotFound)
	}
	a.LastLoginAt = at
	r.accounts[id] = a
	return nil
}

func (r *memoryRepository) BumpTokenVersion(_ context.Context, id string) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.accounts[id]
	if !ok {
		return 0, fmt.Errorf("account: %w", apperr.ErrNotFound)
	}
	a.TokenVersion++
	r.accounts[id] = a
	return a.TokenVersion, nil
}
