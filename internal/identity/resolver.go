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
	"github.com/fidelio/fidelio/internal/federation"
	"github.com/fidelio/fidelio/internal/metrics"
	"github.com/fidelio/fidelio/internal/otp"
)

// PhoneVerifier checks a one-time code for a phone number, consuming the
// challenge on success.
type PhoneVerifier interface {
	Verify(ctx context.Context, phone, code string) (bool, error)
}

// SessionMinter turns a resolved account into a bearer session.
type SessionMinter interface {
	Mint(account Account) (Session, error)
}

// Result is what every successful resolution returns.
type Result struct {
	Account Account
	Session Session
	Created bool
}

// Resolver maps a verified factor to a durable account and mints a session.
type Resolver struct {
	repo     Repository
	hasher   Hasher
	phones   PhoneVerifier
	provider federation.Provider
	sessions SessionMinter
	clock    clock.Clock
	logger   *slog.Logger
}

// NewResolver wires a resolver. provider may be nil when federation is
// disabled; FederatedCode factors then fail with ErrInvalidCredentials.
func NewResolver(repo Repository, hasher Hasher, phones PhoneVerifier, provider federation.Provider,
	sessions SessionMinter, clk clock.Clock, logger *slog.Logger) *Resolver {
	if hasher == nil {
		hasher = BcryptHasher{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{repo: repo, hasher: hasher, phones: phones, provider: provider,
		sessions: sessions, clock: clock.OrReal(clk), logger: logger}
}

// Resolve proves f, finds or creates the account it belongs to and mints a
// session for it.
func (r *Resolver) Resolve(ctx context.Context, f Factor) (Result, error) {
	if f == nil {
		return Result{}, fmt.Errorf("no factor presented: %w", apperr.ErrValidation)
	}
	var (
		account Account
		created bool
		err     error
	)
	switch f := f.(type) {
	case PhoneOTP:
		account, created, err = r.phoneOTP(ctx, f)
	case EmailPassword:
		account, err = r.password(ctx, func() (Account, error) {
			return r.repo.FindByEmail(ctx, NormalizeEmail(f.Email))
		}, f.Password)
	case PhonePassword:
		account, err = r.password(ctx, func() (Account, error) {
			phone, err := otp.NormalizePhone(f.Phone)
			if err != nil {
				return Account{}, apperr.ErrNotFound
			}
			return r.repo.FindByPhone(ctx, phone)
		}, f.Password)
	case FederatedCode:
		account, created, err = r.federated(ctx, f)
	default:
		err = fmt.Errorf("unsupported factor %T: %w", f, apperr.ErrValidation)
	}
	if err != nil {
		metrics.Logins.WithLabelValues(f.factorName(), outcome(err)).Inc()
		return Result{}, err
	}

	if !account.Active {
		metrics.Logins.WithLabelValues(f.factorName(), "deactivated").Inc()
		return Result{}, fmt.Errorf("account %s: %w", account.ID, apperr.ErrAccountDeactivated)
	}

	now := clock.Now(r.clock)
	if err := r.repo.TouchLogin(ctx, account.ID, now); err != nil {
		return Result{}, err
	}
	account.LastLoginAt = now

	session, err := r.sessions.Mint(account)
	if err != nil {
		return Result{}, err
	}
	metrics.Logins.WithLabelValues(f.factorName(), "success").Inc()
	r.logger.Info("account signed in",
		slog.String("account_id", account.ID),
		slog.String("factor", f.factorName()),
		slog.Bool("created", created))
	return Result{Account: account, Session: session, Created: created}, nil
}

func (r *Resolver) phoneOTP(ctx context.Context, f PhoneOTP) (Account, bool, error) {
	phone, err := otp.NormalizePhone(f.Phone)
	if err != nil {
		return Account{}, false, err
	}
	ok, err := r.phones.Verify(ctx, phone, f.Code)
	if err != nil {
		return Account{}, false, err
	}
	if !ok {
		return Account{}, false, fmt.Errorf("phone code rejected: %w", apperr.ErrInvalidCredentials)
	}

	account, err := r.repo.FindByPhone(ctx, phone)
	switch {
	case errors.Is(err, apperr.ErrNotFound):
		return r.create(ctx, Account{Phone: phone, PhoneVerified: true}, func() (Account, error) {
			return r.repo.FindByPhone(ctx, phone)
		})
	case err != nil:
		return Account{}, false, err
	}
	if !account.PhoneVerified {
		account.PhoneVerified = true
		if err := r.repo.Update(ctx, account); err != nil {
			return Account{}, false, err
		}
	}
	return account, false, nil
}

// password checks a secret against the account find returns. Every failure
// collapses into ErrInvalidCredentials.
func (r *Resolver) password(ctx context.Context, find func() (Account, error), password string) (Account, error) {
	account, err := find()
	switch {
	case errors.Is(err, apperr.ErrNotFound):
		return Account{}, apperr.ErrInvalidCredentials
	case err != nil:
		return Account{}, err
	}
	if !account.HasPassword() || !r.hasher.Verify(account.PasswordHash, password) {
		return Account{}, apperr.ErrInvalidCredentials
	}
	return account, nil
}

func (r *Resolver) federated(ctx context.Context, f FederatedCode) (Account, bool, error) {
	if r.provider == nil {
		return Account{}, false, fmt.Errorf("federation disabled: %w", apperr.ErrInvalidCredentials)
	}
	profile, err := r.provider.Exchange(ctx, f.Code)
	if err != nil {
		return Account{}, false, err
	}
	email := NormalizeEmail(profile.Email)
	if email == "" {
		return Account{}, false, fmt.Errorf("provider returned no email: %w", apperr.ErrInvalidCredentials)
	}

	account, err := r.repo.FindByEmail(ctx, email)
	switch {
	case errors.Is(err, apperr.ErrNotFound):
		return r.create(ctx, Account{
			Email:         email,
			EmailVerified: profile.EmailVerified,
			FullName:      profile.Name,
			AvatarURL:     profile.AvatarURL,
		}, func() (Account, error) {
			return r.repo.FindByEmail(ctx, email)
		})
	case err != nil:
		return Account{}, false, err
	}

	// An unverified provider email cannot claim an account that already exists.
	if !profile.EmailVerified {
		return Account{}, false, fmt.Errorf("provider email not verified: %w", apperr.ErrInvalidCredentials)
	}
	if profile.Name != "" {
		account.FullName = profile.Name
	}
	if profile.AvatarURL != "" {
		account.AvatarURL = profile.AvatarURL
	}
	// Whoever registered an unverified address may not own it: their
	// password and live sessions do not survive the first verified claim.
	takeover := !account.EmailVerified
	if takeover {
		account.PasswordHash = ""
	}
	account.EmailVerified = true
	if err := r.repo.Update(ctx, account); err != nil {
		return Account{}, false, err
	}
	if takeover {
		version, err := r.repo.BumpTokenVersion(ctx, account.ID)
		if err != nil {
			return Account{}, false, err
		}
		account.TokenVersion = version
		r.logger.Warn("unverified email claimed by verified provider identity",
			slog.String("account_id", account.ID))
	}
	return account, false, nil
}

// create inserts a new customer account. When a concurrent first login
// for the same identifier wins the insert, the winner's row is returned.
func (r *Resolver) create(ctx context.Context, a Account, refind func() (Account, error)) (Account, bool, error) {
	a.ID = uuid.NewString()
	a.Role = RoleCustomer
	a.Active = true
	a.CreatedAt = clock.Now(r.clock)
	err := r.repo.Create(ctx, a)
	if errors.Is(err, apperr.ErrAlreadyExists) {
		existing, err := refind()
		return existing, false, err
	}
	if err != nil {
		return Account{}, false, err
	}
	return a, true, nil
}

// NormalizeEmail lowercases and trims an address.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func outcome(err error) string {
	switch {
	case errors.Is(err, apperr.ErrInvalidCredentials):
		return "invalid_credentials"
	case errors.Is(err, apperr.ErrValidation):
		return "invalid_input"
	default:
		return "error"
	}
}
