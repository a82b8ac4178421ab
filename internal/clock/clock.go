package clock

import (
	"time"

	"github.com/jonboulle/clockwork"
)

// Clock is the time source every expiry decision reads from. Production code
// uses Real; tests drive a clockwork fake.
type Clock = clockwork.Clock

// Real returns the wall clock.
func Real() Clock {
	return clockwork.NewRealClock()
}

// OrReal returns c, or the wall clock when c is nil.
func OrReal(c Clock) Clock {
	if c == nil {
		return Real()
	}
	return c
}

// Now reads c and normalises to UTC with microsecond precision, matching
// what Postgres timestamptz round-trips.
func Now(c Clock) time.Time {
	return c.Now().UTC().Truncate(time.Microsecond)
}
