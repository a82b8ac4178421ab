package redemption

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/fidelio/fidelio/internal/ledger"
)

// Kind is the direction of a token.
type Kind string

const (
	KindEarn   Kind = "earn"
	KindRedeem Kind = "redeem"
)

func (k Kind) Valid() bool { return k == KindEarn || k == KindRedeem }

// ActivityKind maps a token kind to the ledger activity its consumption writes.
func (k Kind) ActivityKind() ledger.Kind {
	if k == KindRedeem {
		return ledger.KindRedeemed
	}
	return ledger.KindEarned
}

// Status values reported by Token.Status.
const (
	StatusActive   = "active"
	StatusConsumed = "consumed"
	StatusExpired  = "expired"
)

// Token is a single-use capability issued by an establishment. Once Consumed
// is true, ConsumedBy and ConsumedAt are set and the row never changes again.
type Token struct {
	ID              string
	Code            string
	EstablishmentID string
	ProgramID       string
	Kind            Kind
	PointDelta      int64
	SourceAmount    decimal.NullDecimal
	IssuedBy        string
	CreatedAt       time.Time
	ExpiresAt       time.Time
	Consumed        bool
	ConsumedBy      string
	ConsumedAt      time.Time
}

// ExpiredAt reports whether an unconsumed token can no longer be used at now.
func (t Token) ExpiredAt(now time.Time) bool {
	return !t.Consumed && !now.Before(t.ExpiresAt)
}

func (t Token) Status(now time.Time) string {
	switch {
	case t.Consumed:
		return StatusConsumed
	case t.ExpiredAt(now):
		return StatusExpired
	default:
		return StatusActive
	}
}

// posting builds the ledger entry written when consumer uses t.
func (t Token) posting(consumer string, at time.Time) ledger.Posting {
	verb := "Earned"
	magnitude := t.PointDelta
	if t.Kind == KindRedeem {
		verb = "Redeemed"
		magnitude = -magnitude
	}
	return ledger.Posting{
		AccountID:       consumer,
		EstablishmentID: t.EstablishmentID,
		ProgramID:       t.ProgramID,
		Kind:            t.Kind.ActivityKind(),
		Delta:           t.PointDelta,
		Description:     fmt.Sprintf("%s %d points", verb, magnitude),
		TokenID:         t.ID,
		ProcessedBy:     t.IssuedBy,
		SourceAmount:    t.SourceAmount,
		At:              at,
	}
}

// Consumption is the outcome of a successful consume.
type Consumption struct {
	Token    Token
	Activity ledger.Activity
	Balance  ledger.Balance
}
