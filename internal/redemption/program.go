package redemption

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/fidelio/fidelio/internal/apperr"
)

// Program carries the terms of a reward program that shape issuance. The
// core never mutates programs.
type Program struct {
	ID             string
	PointsRequired int64
	PointsPerUnit  decimal.Decimal
	ValidFrom      time.Time
	ValidUntil     time.Time
}

// Open reports whether at falls inside the program window. Zero bounds are open.
func (p Program) Open(at time.Time) bool {
	if !p.ValidFrom.IsZero() && at.Before(p.ValidFrom) {
		return false
	}
	if !p.ValidUntil.IsZero() && !at.Before(p.ValidUntil) {
		return false
	}
	return true
}

// EarnFor converts a purchase amount into points, rounding down.
func (p Program) EarnFor(amount decimal.Decimal) int64 {
	return amount.Mul(p.PointsPerUnit).Floor().IntPart()
}

// Programs looks up program terms. ErrNotFound means the id is an opaque
// reference with no terms attached.
type Programs interface {
	Program(ctx context.Context, id string) (Program, error)
}

// StaticPrograms serves a fixed set of terms from memory.
type StaticPrograms struct {
	programs map[string]Program
}

func NewStaticPrograms(programs ...Program) *StaticPrograms {
	s := &StaticPrograms{programs: make(map[string]Program, len(programs))}
	for _, p := range programs {
		s.programs[p.ID] = p
	}
	return s
}

func (s *StaticPrograms) Program(_ context.Context, id string) (Program, error) {
	p, ok := s.programs[id]
	if !ok {
		return Program{}, fmt.Errorf("program %s: %w", id, apperr.ErrNotFound)
	}
	return p, nil
}

// PostgresPrograms reads terms from the reward_programs table.
type PostgresPrograms struct {
	db *pgxpool.Pool
}

func NewPostgresPrograms(db *pgxpool.Pool) *PostgresPrograms {
	return &PostgresPrograms{db: db}
}

func (r *PostgresPrograms) Program(ctx context.Context, id string) (Program, error) {
	row := r.db.QueryRow(ctx, `SELECT id, points_required, points_per_unit::text, valid_from, valid_until
        FROM reward_programs WHERE id = $1`, id)
	var (
		p           Program
		perUnit     string
		from, until *time.Time
	)
	if err := row.Scan(&p.ID, &p.PointsRequired, &perUnit, &from, &until); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Program{}, fmt.Errorf("program %s: %w", id, apperr.ErrNotFound)
		}
		return Program{}, err
	}
	rate, err := decimal.NewFromString(perUnit)
	if err != nil {
		return Program{}, fmt.Errorf("program %s points per unit: %w", id, err)
	}
	p.PointsPerUnit = rate
	if from != nil {
		p.ValidFrom = from.UTC()
	}
	if until != nil {
		p.ValidUntil = until.UTC()
	}
	return p, nil
}
