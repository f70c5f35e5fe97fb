package rollback

import (
	"context"
	"time"
)

// Pacer drives a Scheduler's Step at a fixed tick rate with drift
// correction, grounded on the deadline-based scheduling loop of
// other_examples' ClockScheduler.schedulerLoop: rather than a bare
// time.Ticker (which free-runs and accumulates drift under GC pauses or
// slow ticks), a rolling deadline is maintained and clamped if the
// simulation falls more than two ticks behind.
type Pacer struct {
	interval time.Duration
}

// NewPacer builds a pacer for the given tick rate.
func NewPacer(tickRate int) *Pacer {
	if tickRate <= 0 {
		tickRate = 60
	}
	return &Pacer{interval: time.Second / time.Duration(tickRate)}
}

// Run blocks, calling step once per tick until ctx is canceled or step
// returns a non-nil error (a guest trap, which the caller must decide how
// to handle — typically by tearing the session down).
func (p *Pacer) Run(ctx context.Context, step func(context.Context) error) error {
	deadline := time.Now().Add(p.interval)
	maxBehind := p.interval * 2

	timer := time.NewTimer(time.Until(deadline))
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-timer.C:
			if err := step(ctx); err != nil {
				return err
			}

			now := time.Now()
			deadline = deadline.Add(p.interval)
			if now.Sub(deadline) > maxBehind {
				deadline = now.Add(p.interval)
			}

			wait := time.Until(deadline)
			if wait < 0 {
				wait = 0
			}
			timer.Reset(wait)
		}
	}
}
