package identity

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/fidelio/fidelio/internal/apperr"
	"github.com/fidelio/fidelio/internal/clock"
	"github.com/fidelio/fidelio/internal/otp"
)

// MinPasswordLength applies to every password set through registration.
const MinPasswordLength = 8

// Service manages the account lifecycle outside of sign-in.
type Service struct {
	repo   Repository
	hasher Hasher
	clock  clock.Clock
	logger *slog.Logger
}

func NewService(repo Repository, hasher Hasher, clk clock.Clock, logger *slog.Logger) *Service {
	if hasher == nil {
		hasher = BcryptHasher{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, hasher: hasher, clock: clock.OrReal(clk), logger: logger}
}

// RegisterInput carries the fields of a self-service registration. Email and
// Password are optional; a password enables the password login factors.
type RegisterInput struct {
	Phone    string
	Email    string
	Password string
	FullName string
}

// Register creates an unverified customer account. The phone becomes
// verified on the first successful OTP sign-in.
func (s *Service) Register(ctx context.Context, in RegisterInput) (Account, error) {
	phone, err := otp.NormalizePhone(in.Phone)
	if err != nil {
		return Account{}, err
	}
	email := NormalizeEmail(in.Email)
	if email != "" && !strings.Contains(email, "@") {
		return Account{}, fmt.Errorf("email address is malformed: %w", apperr.ErrValidation)
	}

	account := Account{
		ID:        uuid.NewString(),
		Phone:     phone,
		Email:     email,
		FullName:  strings.TrimSpace(in.FullName),
		Role:      RoleCustomer,
		Active:    true,
		CreatedAt: clock.Now(s.clock),
	}
	if in.Password != "" {
		if len(in.Password) < MinPasswordLength {
			return Account{}, fmt.Errorf("password must be at least %d characters: %w", MinPasswordLength, apperr.ErrValidation)
		}
		hash, err := s.hasher.Hash(in.Password)
		if err != nil {
			return Account{}, err
		}
		account.PasswordHash = hash
	}

	if err := s.repo.Create(ctx, account); err != nil {
		return Account{}, err
	}
	s.logger.Info("account registered", slog.String("account_id", account.ID), slog.Bool("password", account.HasPassword()))
	return account, nil
}

func (s *Service) Get(ctx context.Context, id string) (Account, error) {
	return s.repo.FindByID(ctx, id)
}

// Deactivate flags the account inactive and invalidates its live sessions.
func (s *Service) Deactivate(ctx context.Context, id string) (Account, error) {
	account, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return Account{}, err
	}
	if account.Active {
		account.Active = false
		if err := s.repo.Update(ctx, account); err != nil {
			return Account{}, err
		}
	}
	version, err := s.repo.BumpTokenVersion(ctx, id)
	if err != nil {
		return Account{}, err
	}
	account.TokenVersion = version
	s.logger.Info("account deactivated", slog.String("account_id", id))
	return account, nil
}

// SetRole changes an account's role. Sessions minted before the change keep
// their old role claim until the bumped token version rejects them.
func (s *Service) SetRole(ctx context.Context, id string, role Role) (Account, error) {
	if !role.Valid() {
		return Account{}, fmt.Errorf("unknown role %q: %w", role, apperr.ErrValidation)
	}
	account, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return Account{}, err
	}
	if account.Role == role {
		return account, nil
	}
	account.Role = role
	if err := s.repo.Update(ctx, account); err != nil {
		return Account{}, err
	}
	version, err := s.repo.BumpTokenVersion(ctx, id)
	if err != nil {
		return Account{}, err
	}
	account.TokenVersion = version
	s.logger.Info("account role changed", slog.String("account_id", id), slog.String("role", string(role)))
	return account, nil
}

// EnsureAdmin promotes the account owning phone to admin, creating it when
// missing. Used to bootstrap the first administrator at startup.
func (s *Service) EnsureAdmin(ctx context.Context, phone string) (Account, error) {
	phone, err := otp.NormalizePhone(phone)
	if err != nil {
		return Account{}, err
	}
	account, err := s.repo.FindByPhone(ctx, phone)
	if errors.Is(err, apperr.ErrNotFound) {
		account = Account{
			ID:        uuid.NewString(),
			Phone:     phone,
			Role:      RoleAdmin,
			Active:    true,
			CreatedAt: clock.Now(s.clock),
		}
		if err := s.repo.Create(ctx, account); err != nil {
			return Account{}, err
		}
		return account, nil
	}
	if err != nil {
		return Account{}, err
	}
	if account.Role == RoleAdmin {
		return account, nil
	}
	return s.SetRole(ctx, account.ID, RoleAdmin)
}
