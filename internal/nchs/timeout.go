package nchs

import (
	"time"
)

// StageTimer tracks a single handshake stage's retry budget, generalizing
// the attempt-accounting idiom of the teacher's rate-limiter entries
// (internal/api/ratelimit.go's lastSeen/counter bookkeeping) from
// per-second token refill into per-stage retry-and-deadline tracking: each
// Attempt call either grants a fresh retry within budget or reports the
// stage exhausted.
type StageTimer struct {
	perAttempt time.Duration
	maxRetries int
	budget     time.Duration

	attempts int
	started  time.Time
}

// NewStageTimer builds a timer for one handshake stage.
func NewStageTimer(perAttempt time.Duration, maxRetries int, budget time.Duration) *StageTimer {
	return &StageTimer{perAttempt: perAttempt, maxRetries: maxRetries, budget: budget}
}

// Start marks the stage as beginning now. Idempotent across retries of
// the same stage; call once when the stage is first entered.
func (s *StageTimer) Start() {
	if s.started.IsZero() {
		s.started = time.Now()
	}
}

// Attempt records one retry attempt (a send-and-wait cycle), returning the
// per-attempt deadline to wait for a reply before calling Attempt again.
// It returns ErrHandshakeTimeout once maxRetries is exhausted, or
// ErrHandshakeBudgetExceeded if the stage's total elapsed time exceeds the
// overall handshake budget regardless of retries remaining.
func (s *StageTimer) Attempt() (time.Duration, error) {
	if s.budget > 0 && time.Since(s.started) > s.budget {
		return 0, ErrHandshakeBudgetExceeded
	}
	if s.attempts >= s.maxRetries {
		return 0, ErrHandshakeTimeout
	}
	s.attempts++
	return s.perAttempt, nil
}

// Attempts reports how many attempts have been consumed so far.
func (s *StageTimer) Attempts() int { return s.attempts }

// Elapsed reports time since Start.
func (s *StageTimer) Elapsed() time.Duration {
	if s.started.IsZero() {
		return 0
	}
	return time.Since(s.started)
}
