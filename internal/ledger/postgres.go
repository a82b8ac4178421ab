package ledger

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
	"github.com/fidelio/fidelio/internal/clock"
)

// Postgres persists point activities and balances in PostgreSQL. The balance
// row is locked FOR UPDATE for the life of every posting so concurrent writers
// on the same pair serialize.
type Postgres struct {
	db    *pgxpool.Pool
	opts  Options
	clock clock.Clock
}

// NewPostgres constructs a Postgres-backed ledger.
func NewPostgres(db *pgxpool.Pool, opts Options, clk clock.Clock) *Postgres {
	return &Postgres{db: db, opts: opts, clock: clock.OrReal(clk)}
}

const balanceColumns = `account_id::text, establishment_id, total_earned, total_redeemed,
        current_balance, visit_count, first_activity_at, last_activity_at`

const activityColumns = `id::text, account_id::text, establishment_id, program_id, kind, points_change,
        description, COALESCE(token_id::text, ''), COALESCE(processed_by::text, ''),
        source_amount::text, created_at`

func (l *Postgres) Post(ctx context.Context, p Posting) (Activity, Balance, error) {
	tx, err := l.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return Activity{}, Balance{}, err
	}
	defer tx.Rollback(ctx) // nolint:errcheck

	activity, balance, err := l.PostTx(ctx, tx, p)
	if err != nil {
		return Activity{}, Balance{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		return Activity{}, Balance{}, err
	}
	return activity, balance, nil
}

// PostTx appends p inside a transaction owned by the caller. Nothing is
// visible until the caller commits.
func (l *Postgres) PostTx(ctx context.Context, tx pgx.Tx, p Posting) (Activity, Balance, error) {
	if err := p.Validate(); err != nil {
		return Activity{}, Balance{}, err
	}
	accountID, err := parseID("account id", p.AccountID)
	if err != nil {
		return Activity{}, Balance{}, err
	}
	tokenID, err := parseOptionalID("token id", p.TokenID)
	if err != nil {
		return Activity{}, Balance{}, err
	}
	processedBy, err := parseOptionalID("processed by", p.ProcessedBy)
	if err != nil {
		return Activity{}, Balance{}, err
	}

	if _, err := tx.Exec(ctx, `INSERT INTO point_balances (account_id, establishment_id) VALUES ($1, $2)
        ON CONFLICT (account_id, establishment_id) DO NOTHING`, accountID, p.EstablishmentID); err != nil {
		return Activity{}, Balance{}, err
	}

	current, err := scanBalance(tx.QueryRow(ctx, `SELECT `+balanceColumns+`
        FROM point_balances WHERE account_id = $1 AND establishment_id = $2 FOR UPDATE`, accountID, p.EstablishmentID))
	if err != nil {
		return Activity{}, Balance{}, err
	}
	if err := l.opts.check(current, p.Delta); err != nil {
		return Activity{}, Balance{}, err
	}

	at := p.At
	if at.IsZero() {
		at = clock.Now(l.clock)
	}
	id := uuid.New()
	activity := Activity{
		ID:              id.String(),
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

	const insertActivity = `INSERT INTO point_activities
        (id, account_id, establishment_id, program_id, kind, points_change, description,
         token_id, processed_by, source_amount, created_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10::numeric, $11)`
	if _, err := tx.Exec(ctx, insertActivity, id, accountID, p.EstablishmentID, p.ProgramID, string(p.Kind),
		p.Delta, p.Description, tokenID, processedBy, decimalArg(p.SourceAmount), at); err != nil {
		return Activity{}, Balance{}, err
	}

	updated := current.Apply(activity)
	if err := writeBalance(ctx, tx, accountID, updated); err != nil {
		return Activity{}, Balance{}, err
	}
	return activity, updated, nil
}

func (l *Postgres) Balance(ctx context.Context, accountID, establishmentID string) (Balance, error) {
	id, err := parseID("account id", accountID)
	if err != nil {
		return Balance{}, err
	}
	b, err := scanBalance(l.db.QueryRow(ctx, `SELECT `+balanceColumns+`
        FROM point_balances WHERE account_id = $1 AND establishment_id = $2`, id, establishmentID))
	if errors.Is(err, pgx.ErrNoRows) {
		return Balance{AccountID: accountID, EstablishmentID: establishmentID}, nil
	}
	return b, err
}

func (l *Postgres) Activities(ctx context.Context, accountID, establishmentID string, limit int) ([]Activity, error) {
	id, err := parseID("account id", accountID)
	if err != nil {
		return nil, err
	}
	var lim *int
	if limit > 0 {
		lim = &limit
	}
	rows, err := l.db.Query(ctx, `SELECT `+activityColumns+`
        FROM point_activities WHERE account_id = $1 AND establishment_id = $2
        ORDER BY created_at DESC, id DESC LIMIT $3`, id, establishmentID, lim)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Activity
	for rows.Next() {
		a, err := scanActivity(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (l *Postgres) Reconcile(ctx context.Context, accountID, establishmentID string, repair bool) (Reconciliation, error) {
	id, err := parseID("account id", accountID)
	if err != nil {
		return Reconciliation{}, err
	}

	tx, err := l.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return Reconciliation{}, err
	}
	defer tx.Rollback(ctx) // nolint:errcheck

	stored, err := scanBalance(tx.QueryRow(ctx, `SELECT `+balanceColumns+`
        FROM point_balances WHERE account_id = $1 AND establishment_id = $2 FOR UPDATE`, id, establishmentID))
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		stored = Balance{AccountID: accountID, EstablishmentID: establishmentID}
	case err != nil:
		return Reconciliation{}, err
	}

	const fold = `SELECT
            COALESCE(SUM(points_change) FILTER (WHERE points_change > 0), 0),
            COALESCE(-SUM(points_change) FILTER (WHERE points_change < 0), 0),
            COALESCE(SUM(points_change), 0),
            COUNT(*) FILTER (WHERE token_id IS NOT NULL),
            MIN(created_at), MAX(created_at)
        FROM point_activities WHERE account_id = $1 AND establishment_id = $2`
	derived := Balance{AccountID: accountID, EstablishmentID: establishmentID}
	var first, last *time.Time
	if err := tx.QueryRow(ctx, fold, id, establishmentID).Scan(&derived.TotalEarned, &derived.TotalRedeemed,
		&derived.CurrentBalance, &derived.VisitCount, &first, &last); err != nil {
		return Reconciliation{}, err
	}
	derived.FirstActivityAt = timeOrZero(first)
	derived.LastActivityAt = timeOrZero(last)

	rec := Reconciliation{Stored: stored, Derived: derived}
	if repair && !rec.Consistent() {
		if _, err := tx.Exec(ctx, `INSERT INTO point_balances (account_id, establishment_id) VALUES ($1, $2)
            ON CONFLICT (account_id, establishment_id) DO NOTHING`, id, establishmentID); err != nil {
			return Reconciliation{}, err
		}
		if err := writeBalance(ctx, tx, id, derived); err != nil {
			return Reconciliation{}, err
		}
		rec.Repaired = true
	}
	if err := tx.Commit(ctx); err != nil {
		return Reconciliation{}, err
	}
	return rec, nil
}

func writeBalance(ctx context.Context, tx pgx.Tx, accountID uuid.UUID, b Balance) error {
	const query = `UPDATE point_balances SET total_earned = $3, total_redeemed = $4, current_balance = $5,
        visit_count = $6, first_activity_at = $7, last_activity_at = $8
        WHERE account_id = $1 AND establishment_id = $2`
	_, err := tx.Exec(ctx, query, accountID, b.EstablishmentID, b.TotalEarned, b.TotalRedeemed,
		b.CurrentBalance, b.VisitCount, timeArg(b.FirstActivityAt), timeArg(b.LastActivityAt))
	return err
}

func scanBalance(row pgx.Row) (Balance, error) {
	var b Balance
	var first, last *time.Time
	if err := row.Scan(&b.AccountID, &b.EstablishmentID, &b.TotalEarned, &b.TotalRedeemed,
		&b.CurrentBalance, &b.VisitCount, &first, &last); err != nil {
		return Balance{}, err
	}
	b.FirstActivityAt = timeOrZero(first)
	b.LastActivityAt = timeOrZero(last)
	return b, nil
}

func scanActivity(row pgx.Row) (Activity, error) {
	var a Activity
	var kind string
	var amount *string
	if err := row.Scan(&a.ID, &a.AccountID, &a.EstablishmentID, &a.ProgramID, &kind, &a.PointsChange,
		&a.Description, &a.TokenID, &a.ProcessedBy, &amount, &a.CreatedAt); err != nil {
		return Activity{}, err
	}
	a.Kind = Kind(kind)
	a.CreatedAt = a.CreatedAt.UTC()
	if amount != nil {
		d, err := decimal.NewFromString(*amount)
		if err != nil {
			return Activity{}, fmt.Errorf("activity %s source amount: %w", a.ID, err)
		}
		a.SourceAmount = decimal.NewNullDecimal(d)
	}
	return a, nil
}

func parseID(field, value string) (uuid.UUID, error) {
	id, err := uuid.Parse(value)
	if err != nil {
		return uuid.Nil, fmt.Errorf("%s %q is not a uuid: %w", field, value, apperr.ErrValidation)
	}
	return id, nil
}

func parseOptionalID(field, value string) (*uuid.UUID, error) {
	if value == "" {
		return nil, nil
	}
	id, err := parseID(field, value)
	if err != nil {
		return nil, err
	}
	return &id, nil
}

func decimalArg(d decimal.NullDecimal) *string {
	if !d.Valid {
		return nil
	}
	s := d.Decimal.String()
	return &s
}

func timeArg(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

func timeOrZero(t *time.Time) time.Time {
	if t == nil {
		return time.Time{}
	}
	return t.UTC()
}
