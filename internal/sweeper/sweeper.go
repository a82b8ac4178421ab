package sweeper

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/fidelio/fidelio/internal/clock"
)

// Target removes rows that reached a terminal expired state.
type Target interface {
	SweepExpired(ctx context.Context) (int64, error)
}

// Report counts what one pass removed per target name.
type Report map[string]int64

// Sweeper periodically removes expired OTP challenges and unconsumed
// expired redemption tokens. It never touches a row a live request could
// still transition.
type Sweeper struct {
	targets  map[string]Target
	order    []string
	interval time.Duration
	clock    clock.Clock
	logger   *slog.Logger
}

func New(interval time.Duration, clk clock.Clock, logger *slog.Logger) *Sweeper {
	if logger == nil {
		logger = slog.Default()
	}
	return &Sweeper{targets: map[string]Target{}, interval: interval, clock: clock.OrReal(clk), logger: logger}
}

// Add registers a target under name. Targets run in registration order.
func (s *Sweeper) Add(name string, t Target) *Sweeper {
	if _, ok := s.targets[name]; !ok {
		s.order = append(s.order, name)
	}
	s.targets[name] = t
	return s
}

// SweepOnce runs every target once. A failing target does not stop the
// others; their errors are joined.
func (s *Sweeper) SweepOnce(ctx context.Context) (Report, error) {
	report := Report{}
	var errs []error
	for _, name := range s.order {
		n, err := s.targets[name].SweepExpired(ctx)
		if err != nil {
			s.logger.Error("sweep failed", slog.String("target", name), slog.String("error", err.Error()))
			errs = append(errs, err)
			continue
		}
		report[name] = n
		if n > 0 {
			s.logger.Info("expired rows swept", slog.String("target", name), slog.Int64("deleted", n))
		}
	}
	return report, errors.Join(errs...)
}

// Run sweeps on every interval tick until ctx is cancelled.
func (s *Sweeper) Run(ctx context.Context) {
	if s.interval <= 0 {
		return
	}
	ticker := s.clock.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
			s.SweepOnce(ctx) // nolint:errcheck
		}
	}
}
