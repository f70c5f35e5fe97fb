package nchs

import (
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"
)

// JoinRateLimiterConfig configures per-address JoinRequest throttling.
type JoinRateLimiterConfig struct {
	RequestsPerSecond float64
	Burst             int
	CleanupInterval   time.Duration
}

// DefaultJoinRateLimiterConfig bounds the cost of a flood of forged join
// attempts before any of them reach validation.
var DefaultJoinRateLimiterConfig = JoinRateLimiterConfig{
	RequestsPerSecond: 2,
	Burst:             5,
	CleanupInterval:   5 * time.Minute,
}

type addrLimiterEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// JoinRateLimiter throttles JoinRequest attempts per source address,
// generalizing the teacher's HTTP IPRateLimiter (internal/api/ratelimit.go)
// from a per-request HTTP middleware into a per-connection handshake
// guard.
type JoinRateLimiter struct {
	limiters sync.Map // map[string]*addrLimiterEntry
	cfg      JoinRateLimiterConfig
	stopChan chan struct{}
	stopOnce sync.Once

	rejectedCount uint64
	allowedCount  uint64
}

// NewJoinRateLimiter builds a limiter and starts its background cleanup
// goroutine.
func NewJoinRateLimiter(cfg JoinRateLimiterConfig) *JoinRateLimiter {
	rl := &JoinRateLimiter{cfg: cfg, stopChan: make(chan struct{})}
	go rl.cleanupLoop()
	return rl
}

// Stop halts the cleanup goroutine.
func (rl *JoinRateLimiter) Stop() {
	rl.stopOnce.Do(func() { close(rl.stopChan) })
}

func (rl *JoinRateLimiter) getLimiter(addr string) *rate.Limiter {
	now := time.Now()
	if entry, ok := rl.limiters.Load(addr); ok {
		e := entry.(*addrLimiterEntry)
		e.lastSeen = now
		return e.limiter
	}
	entry := &addrLimiterEntry{
		limiter:  rate.NewLimiter(rate.Limit(rl.cfg.RequestsPerSecond), rl.cfg.Burst),
		lastSeen: now,
	}
	actual, _ := rl.limiters.LoadOrStore(addr, entry)
	return actual.(*addrLimiterEntry).limiter
}

// Allow reports whether a JoinRequest from addr should be admitted to
// validation.
func (rl *JoinRateLimiter) Allow(addr string) bool {
	if rl.getLimiter(addr).Allow() {
		atomic.AddUint64(&rl.allowedCount, 1)
		return true
	}
	atomic.AddUint64(&rl.rejectedCount, 1)
	return false
}

func (rl *JoinRateLimiter) cleanupLoop() {
	ticker := time.NewTicker(rl.cfg.CleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-rl.stopChan:
			return
		case <-ticker.C:
			cutoff := time.Now().Add(-rl.cfg.CleanupInterval * 2)
			rl.limiters.Range(func(key, value interface{}) bool {
				if value.(*addrLimiterEntry).lastSeen.Before(cutoff) {
					rl.limiters.Delete(key)
				}
				return true
			})
		}
	}
}

// Stats reports cumulative allow/reject counts.
func (rl *JoinRateLimiter) Stats() (allowed, rejected uint64) {
	return atomic.LoadUint64(&rl.allowedCount), atomic.LoadUint64(&rl.rejectedCount)
}
