package otp

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

// Repository persists challenges. Every transition is a conditional update on
// consumed = false so concurrent verifiers cannot both win.
type Repository interface {
	// Replace supersedes every unconsumed challenge for c.Phone and stores c,
	// atomically. A concurrent Replace for the same phone yields
	// apperr.ErrStorageConflict.
	Replace(ctx context.Context, c Challenge) error
	// Active returns the unconsumed challenge for phone, expired or not.
	Active(ctx context.Context, phone string) (Challenge, error)
	// RecordFailure bumps the attempt counter and exhausts the challenge once
	// it reaches MaxAttempts.
	RecordFailure(ctx context.Context, id string) (Challenge, error)
	// MarkConsumed reports false when another caller got there first or the
	// challenge expired at now.
	MarkConsumed(ctx context.Context, id string, now time.Time) (bool, error)
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}

// PostgresRepository implements Repository using PostgreSQL. A partial
// unique index on (phone) WHERE consumed = FALSE backs the one-active rule.
type PostgresRepository struct {
	db *pgxpool.Pool
}

func NewPostgresRepository(db *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{db: db}
}

const challengeColumns = `id::text, phone, code_hash, created_at, expires_at, consumed, outcome, attempts, max_attempts`

func (r *PostgresRepository) Replace(ctx context.Context, c Challenge) error {
	id, err := uuid.Parse(c.ID)
	if err != nil {
		return fmt.Errorf("challenge id: %w", apperr.ErrValidation)
	}

	tx, err := r.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx) // nolint:errcheck

	if _, err := tx.Exec(ctx, `UPDATE otp_challenges SET consumed = TRUE, outcome = $2
        WHERE phone = $1 AND consumed = FALSE`, c.Phone, string(OutcomeSuperseded)); err != nil {
		return err
	}
	_, err = tx.Exec(ctx, `INSERT INTO otp_challenges
        (id, phone, code_hash, created_at, expires_at, consumed, outcome, attempts, max_attempts)
        VALUES ($1, $2, $3, $4, $5, FALSE, '', 0, $6)`,
		id, c.Phone, c.CodeHash, c.CreatedAt.UTC(), c.ExpiresAt.UTC(), c.MaxAttempts)
	if infra.IsUniqueViolation(err, "otp_challenges_active_phone_key") {
		return fmt.Errorf("concurrent challenge for phone: %w", apperr.ErrStorageConflict)
	}
	if err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (r *PostgresRepository) Active(ctx context.Context, phone string) (Challenge, error) {
	c, err := scanChallenge(r.db.QueryRow(ctx, `SELECT `+challengeColumns+`
        FROM otp_challenges WHERE phone = $1 AND consumed = FALSE`, phone))
	if errors.Is(err, pgx.ErrNoRows) {
		return Challenge{}, fmt.Errorf("challenge: %w", apperr.ErrNotFound)
	}
	return c, err
}

func (r *PostgresRepository) RecordFailure(ctx context.Context, id string) (Challenge, error) {
	cid, err := uuid.Parse(id)
	if err != nil {
		return Challenge{}, fmt.Errorf("challenge id: %w", apperr.ErrValidation)
	}
	c, err := scanChallenge(r.db.QueryRow(ctx, `UPDATE otp_challenges SET
            attempts = attempts + 1,
            consumed = (attempts + 1 >= max_attempts),
            outcome = CASE WHEN attempts + 1 >= max_attempts THEN $2 ELSE outcome END
        WHERE id = $1 AND consumed = FALSE
        RETURNING `+challengeColumns, cid, string(OutcomeExhausted)))
	if errors.Is(err, pgx.ErrNoRows) {
		return Challenge{}, fmt.Errorf("challenge %s: %w", id, apperr.ErrStorageConflict)
	}
	return c, err
}

func (r *PostgresRepository) MarkConsumed(ctx context.Context, id string, now time.Time) (bool, error) {
	cid, err := uuid.Parse(id)
	if err != nil {
		return false, fmt.Errorf("challenge id: %w", apperr.ErrValidation)
	}
	cmd, err := r.db.Exec(ctx, `UPDATE otp_challenges SET consumed = TRUE, outcome = $2
        WHERE id = $1 AND consumed = FALSE AND expires_at > $3`, cid, string(OutcomeVerified), now)
	if err != nil {
		return false, err
	}
	return cmd.RowsAffected() == 1, nil
}

func (r *PostgresRepository) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	cmd, err := r.db.Exec(ctx, `DELETE FROM otp_challenges WHERE expires_at <= $1`, now)
	if err != nil {
		return 0, err
	}
	return cmd.RowsAffected(), nil
}

func scanChallenge(row pgx.Row) (Challenge, error) {
	var (
		c       Challenge
		outcome string
	)
	if err := row.Scan(&c.ID, &c.Phone, &c.CodeHash, &c.CreatedAt, &c.ExpiresAt, &c.Consumed,
		&outcome, &c.Attempts, &c.MaxAttempts); err != nil {
		return Challenge{}, err
	}
	c.Outcome = Outcome(outcome)
	c.CreatedAt = c.CreatedAt.UTC()
	c.ExpiresAt = c.ExpiresAt.UTC()
	return c, nil
}
