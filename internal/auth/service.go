package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/fidelio/fidelio/internal/apperr"
	"github.com/fidelio/fidelio/internal/identity"
)

// Service keeps minted sessions honest against the account store: a bumped
// token version or a deactivated account invalidates every earlier token.
type Service struct {
	issuer   *Issuer
	accounts identity.Repository
	logger   *slog.Logger
}

func NewService(issuer *Issuer, accounts identity.Repository, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{issuer: issuer, accounts: accounts, logger: logger}
}

// Authenticate resolves a bearer access token to its live account.
func (s *Service) Authenticate(ctx context.Context, accessToken string) (identity.Account, error) {
	claims, err := s.issuer.ParseAccess(accessToken)
	if err != nil {
		return identity.Account{}, err
	}
	return s.current(ctx, claims)
}

// Refresh exchanges a refresh token for a new session pair carrying the
// account's current role.
func (s *Service) Refresh(ctx context.Context, refreshToken string) (identity.Account, identity.Session, error) {
	claims, err := s.issuer.ParseRefresh(refreshToken)
	if err != nil {
		return identity.Account{}, identity.Session{}, err
	}
	account, err := s.current(ctx, claims)
	if err != nil {
		return identity.Account{}, identity.Session{}, err
	}
	session, err := s.issuer.Mint(account)
	if err != nil {
		return identity.Account{}, identity.Session{}, err
	}
	return account, session, nil
}

// Logout invalidates every token minted for accountID so far.
func (s *Service) Logout(ctx context.Context, accountID string) error {
	if _, err := s.accounts.BumpTokenVersion(ctx, accountID); err != nil {
		return err
	}
	s.logger.Info("sessions revoked", slog.String("account_id", accountID))
	return nil
}

func (s *Service) current(ctx context.Context, claims Claims) (identity.Account, error) {
	account, err := s.accounts.FindByID(ctx, claims.Subject)
	if errors.Is(err, apperr.ErrNotFound) {
		return identity.Account{}, fmt.Errorf("token subject unknown: %w", apperr.ErrInvalidCredentials)
	}
	if err != nil {
		return identity.Account{}, err
	}
	if account.TokenVersion != claims.Version {
		return identity.Account{}, fmt.Errorf("token invalidated: %w", apperr.ErrInvalidCredentials)
	}
	if !account.Active {
		return identity.Account{}, apperr.ErrAccountDeactivated
	}
	return account, nil
}
