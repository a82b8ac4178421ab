package otp

import (
	"crypto/sha256"
	"crypto/subtle"
	"time"
)

const (
	CodeLength         = 6
	DefaultTTL         = 10 * time.Minute
	DefaultMaxAttempts = 3
)

// Outcome records why a challenge left the active state.
type Outcome string

const (
	OutcomeNone       Outcome = ""
	OutcomeVerified   Outcome = "verified"
	OutcomeSuperseded Outcome = "superseded"
	OutcomeExhausted  Outcome = "exhausted"
)

// State of a challenge as seen at a given instant.
type State string

const (
	StateActive     State = "active"
	StateConsumed   State = "consumed"
	StateExpired    State = "expired"
	StateExhausted  State = "exhausted"
	StateSuperseded State = "superseded"
)

// Challenge binds a one-time code to a phone. Only the code digest is stored.
type Challenge struct {
	ID          string
	Phone       string
	CodeHash    []byte
	CreatedAt   time.Time
	ExpiresAt   time.Time
	Consumed    bool
	Outcome     Outcome
	Attempts    int
	MaxAttempts int
}

func (c Challenge) State(now time.Time) State {
	switch {
	case c.Consumed && c.Outcome == OutcomeExhausted:
		return StateExhausted
	case c.Consumed && c.Outcome == OutcomeSuperseded:
		return StateSuperseded
	case c.Consumed:
		return StateConsumed
	case !now.Before(c.ExpiresAt):
		return StateExpired
	default:
		return StateActive
	}
}

// Matches compares code against the stored digest in constant time.
func (c Challenge) Matches(code string) bool {
	return subtle.ConstantTimeCompare(c.CodeHash, digest(c.Phone, code)) == 1
}

func digest(phone, code string) []byte {
	sum := sha256.Sum256([]byte(phone + ":" + code))
	return sum[:]
}

// Issued is what RequestCode hands back to its caller.
type Issued struct {
	Phone     string
	Code      string
	ExpiresAt time.Time
}
