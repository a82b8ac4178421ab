package identity

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/fidelio/fidelio/internal/apperr"
	"github.com/fidelio/fidelio/internal/infra"
)

// Repository persists accounts. Lookups return apperr.ErrNotFound when no
// row matches; Create returns apperr.ErrAlreadyExists on a phone or email
// collision.
type Repository interface {
	Create(ctx context.Context, account Account) error
	FindByID(ctx context.Context, id string) (Account, error)
	FindByPhone(ctx context.Context, phone string) (Account, error)
	FindByEmail(ctx context.Context, email string) (Account, error)
	// Update writes every mutable field except TokenVersion and LastLoginAt.
	Update(ctx context.Context, account Account) error
	TouchLogin(ctx context.Context, id string, at time.Time) error
	// BumpTokenVersion invalidates every session minted so far.
	BumpTokenVersion(ctx context.Context, id string) (int, error)
}

// PostgresRepository implements Repository using PostgreSQL.
type PostgresRepository struct {
	db *pgxpool.Pool
}

func NewPostgresRepository(db *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{db: db}
}

const accountColumns = `id, COALESCE(phone, ''), COALESCE(email, ''), COALESCE(password_hash, ''), full_name,
        avatar_url, phone_verified, email_verified, role, active, token_version, created_at, last_login_at`

func (r *PostgresRepository) Create(ctx context.Context, a Account) error {
	id, err := uuid.Parse(a.ID)
	if err != nil {
		return fmt.Errorf("account id: %w", apperr.ErrValidation)
	}
	_, err = r.db.Exec(ctx, `INSERT INTO accounts (id, phone, email, password_hash, full_name, avatar_url,
            phone_verified, email_verified, role, active, token_version, created_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		id, nullable(a.Phone), nullable(a.Email), nullable(a.PasswordHash), a.FullName, a.AvatarURL,
		a.PhoneVerified, a.EmailVerified, string(a.Role), a.Active, a.TokenVersion, a.CreatedAt.UTC())
	if infra.IsUniqueViolation(err, "") {
		return fmt.Errorf("account with this phone or email: %w", apperr.ErrAlreadyExists)
	}
	return err
}

func (r *PostgresRepository) FindByID(ctx context.Context, id string) (Account, error) {
	uid, err := uuid.Parse(id)
	if err != nil {
		return Account{}, fmt.Errorf("account: %w", apperr.ErrNotFound)
	}
	return r.findOne(ctx, `SELECT `+accountColumns+` FROM accounts WHERE id = $1`, uid)
}

func (r *PostgresRepository) FindByPhone(ctx context.Context, phone string) (Account, error) {
	return r.findOne(ctx, `SELECT `+accountColumns+` FROM accounts WHERE phone = $1`, phone)
}

func (r *PostgresRepository) FindByEmail(ctx context.Context, email string) (Account, error) {
	return r.findOne(ctx, `SELECT `+accountColumns+` FROM accounts WHERE email = $1`, email)
}

func (r *PostgresRepository) findOne(ctx context.Context, query string, arg any) (Account, error) {
	var (
		a         Account
		id        uuid.UUID
		role      string
		lastLogin *time.Time
	)
	err := r.db.QueryRow(ctx, query, arg).Scan(&id, &a.Phone, &a.Email, &a.PasswordHash, &a.FullName,
		&a.AvatarURL, &a.PhoneVerified, &a.EmailVerified, &role, &a.Active, &a.TokenVersion, &a.CreatedAt, &lastLogin)
	if errors.Is(err, pgx.ErrNoRows) {
		return Account{}, fmt.Errorf("account: %w", apperr.ErrNotFound)
	}
	if err != nil {
		return Account{}, err
	}
	a.ID = id.String()
	a.Role = Role(role)
	a.CreatedAt = a.CreatedAt.UTC()
	if lastLogin != nil {
		a.LastLoginAt = lastLogin.UTC()
	}
	return a, nil
}

func (r *PostgresRepository) Update(ctx context.Context, a Account) error {
	id, err := uuid.Parse(a.ID)
	if err != nil {
		return fmt.Errorf("account: %w", apperr.ErrNotFound)
	}
	cmd, err := r.db.Exec(ctx, `UPDATE accounts SET phone = $2, email = $3, password_hash = $4, full_name = $5,
            avatar_url = $6, phone_verified = $7, email_verified = $8, role = $9, active = $10
        WHERE id = $1`,
		id, nullable(a.Phone), nullable(a.Email), nullable(a.PasswordHash), a.FullName, a.AvatarURL,
		a.PhoneVerified, a.EmailVerified, string(a.Role), a.Active)
	if infra.IsUniqueViolation(err, "") {
		return fmt.Errorf("account with this phone or email: %w", apperr.ErrAlreadyExists)
	}
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return fmt.Errorf("account: %w", apperr.ErrNotFound)
	}
	return nil
}

func (r *PostgresRepository) TouchLogin(ctx context.Context, id string, at time.Time) error {
	uid, err := uuid.Parse(id)
	if err != nil {
		return fmt.Errorf("account: %w", apperr.ErrNotFound)
	}
	_, err = r.db.Exec(ctx, `UPDATE accounts SET last_login_at = $2 WHERE id = $1`, uid, at.UTC())
	return err
}

func (r *PostgresRepository) BumpTokenVersion(ctx context.Context, id string) (int, error) {
	uid, err := uuid.Parse(id)
	if err != nil {
		return 0, fmt.Errorf("account: %w", apperr.ErrNotFound)
	}
	var version int
	err = r.db.QueryRow(ctx, `UPDATE accounts SET token_version = token_version + 1 WHERE id = $1
        RETURNING token_version`, uid).Scan(&version)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, fmt.Errorf("account: %w", apperr.ErrNotFound)
	}
	return version, err
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
