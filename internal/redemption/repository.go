package redemption

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/fidelio/fidelio/internal/apperr"
	"github.com/fidelio/fidelio/internal/infra"
	"github.com/fidelio/fidelio/internal/ledger"
)

// Repository persists tokens. Consume is the only state transition and must
// write the token flip, the ledger activity and the balance as one unit.
type Repository interface {
	// Create fails with apperr.ErrStorageConflict when the code collides.
	Create(ctx context.Context, token Token) error
	FindByCode(ctx context.Context, code string) (Token, error)
	Consume(ctx context.Context, code, consumerID string, at time.Time) (Consumption, error)
	// DeleteExpired removes unconsumed tokens whose expiry is at or before now.
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}

// rejection explains why an existing token could not be consumed at now.
func rejection(t Token, now time.Time) error {
	if t.Consumed {
		return fmt.Errorf("token %s: %w", t.ID, apperr.ErrAlreadyConsumed)
	}
	if t.ExpiredAt(now) {
		return fmt.Errorf("token %s: %w", t.ID, apperr.ErrExpired)
	}
	return fmt.Errorf("token %s: %w", t.ID, apperr.ErrStorageConflict)
}

// PostgresRepository implements Repository using PostgreSQL. The consumed
// flag is flipped with a conditional UPDATE; the first transaction to match
// consumed = false wins and every concurrent one sees zero rows.
type PostgresRepository struct {
	db     *pgxpool.Pool
	ledger *ledger.Postgres
}

// NewPostgresRepository builds a Postgres-backed token repository writing
// through the given ledger.
func NewPostgresRepository(db *pgxpool.Pool, l *ledger.Postgres) *PostgresRepository {
	return &PostgresRepository{db: db, ledger: l}
}

const tokenColumns = `id::text, code, establishment_id, program_id, kind, point_delta, source_amount::text,
        issued_by::text, created_at, expires_at, consumed, COALESCE(consumed_by::text, ''), consumed_at`

func (r *PostgresRepository) Create(ctx context.Context, t Token) error {
	id, err := uuid.Parse(t.ID)
	if err != nil {
		return fmt.Errorf("token id: %w", apperr.ErrValidation)
	}
	issuer, err := uuid.Parse(t.IssuedBy)
	if err != nil {
		return fmt.Errorf("issuer id %q: %w", t.IssuedBy, apperr.ErrValidation)
	}
	var amount *string
	if t.SourceAmount.Valid {
		s := t.SourceAmount.Decimal.String()
		amount = &s
	}
	_, err = r.db.Exec(ctx, `INSERT INTO redemption_tokens
        (id, code, establishment_id, program_id, kind, point_delta, source_amount, issued_by, created_at, expires_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7::numeric, $8, $9, $10)`,
		id, t.Code, t.EstablishmentID, t.ProgramID, string(t.Kind), t.PointDelta, amount, issuer,
		t.CreatedAt.UTC(), t.ExpiresAt.UTC())
	if infra.IsUniqueViolation(err, "redemption_tokens_code_key") {
		return fmt.Errorf("token code collision: %w", apperr.ErrStorageConflict)
	}
	return err
}

func (r *PostgresRepository) FindByCode(ctx context.Context, code string) (Token, error) {
	t, err := scanToken(r.db.QueryRow(ctx, `SELECT `+tokenColumns+` FROM redemption_tokens WHERE code = $1`, code))
	if errors.Is(err, pgx.ErrNoRows) {
		return Token{}, fmt.Errorf("token: %w", apperr.ErrNotFound)
	}
	return t, err
}

func (r *PostgresRepository) Consume(ctx context.Context, code, consumerID string, at time.Time) (Consumption, error) {
	consumer, err := uuid.Parse(consumerID)
	if err != nil {
		return Consumption{}, fmt.Errorf("consumer id %q: %w", consumerID, apperr.ErrValidation)
	}

	tx, err := r.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return Consumption{}, err
	}
	defer tx.Rollback(ctx) // nolint:errcheck

	token, err := scanToken(tx.QueryRow(ctx, `UPDATE redemption_tokens
        SET consumed = TRUE, consumed_by = $2, consumed_at = $3
        WHERE code = $1 AND consumed = FALSE AND expires_at > $3
        RETURNING `+tokenColumns, code, consumer, at))
	if errors.Is(err, pgx.ErrNoRows) {
		existing, findErr := scanToken(tx.QueryRow(ctx, `SELECT `+tokenColumns+` FROM redemption_tokens WHERE code = $1`, code))
		if errors.Is(findErr, pgx.ErrNoRows) {
			return Consumption{}, fmt.Errorf("token: %w", apperr.ErrNotFound)
		}
		if findErr != nil {
			return Consumption{}, findErr
		}
		return Consumption{}, rejection(existing, at)
	}
	if err != nil {
		return Consumption{}, err
	}

	activity, balance, err := r.ledger.PostTx(ctx, tx, token.posting(consumerID, at))
	if err != nil {
		return Consumption{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		return Consumption{}, err
	}
	return Consumption{Token: token, Activity: activity, Balance: balance}, nil
}

func (r *PostgresRepository) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	cmd, err := r.db.Exec(ctx, `DELETE FROM redemption_tokens WHERE consumed = FALSE AND expires_at <= $1`, now)
	if err != nil {
		return 0, err
	}
	return cmd.RowsAffected(), nil
}

func scanToken(row pgx.Row) (Token, error) {
	var (
		t          Token
		kind       string
		amount     *string
		consumedAt *time.Time
	)
	if err := row.Scan(&t.ID, &t.Code, &t.EstablishmentID, &t.ProgramID, &kind, &t.PointDelta, &amount,
		&t.IssuedBy, &t.CreatedAt, &t.ExpiresAt, &t.Consumed, &t.ConsumedBy, &consumedAt); err != nil {
		return Token{}, err
	}
	t.Kind = Kind(kind)
	t.CreatedAt = t.CreatedAt.UTC()
	t.ExpiresAt = t.ExpiresAt.UTC()
	if consumedAt != nil {
		t.ConsumedAt = consumedAt.UTC()
	}
	if amount != nil {
		d, err := decimal.NewFromString(*amount)
		if err != nil {
			return Token{}, fmt.Errorf("token %s source amount: %w", t.ID, err)
		}
		t.SourceAmount = decimal.NewNullDecimal(d)
	}
	return t, nil
}
