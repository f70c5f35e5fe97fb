package rollback

import (
	"sync"
	"sync/atomic"

	"golang.org/x/time/rate"
)

// EventKind tags a scheduler quality-of-service notification surfaced to
// the orchestrator.
type EventKind int

const (
	EventRollback EventKind = iota
	EventStall
	EventDesync
	EventDisconnect
)

func (k EventKind) String() string {
	switch k {
	case EventRollback:
		return "rollback"
	case EventStall:
		return "stall"
	case EventDesync:
		return "desync"
	case EventDisconnect:
		return "disconnect"
	default:
		return "unknown"
	}
}

// Event is one scheduler notification, per SPEC_FULL.md §4.5.4/§4.5.5.
type Event struct {
	Kind               EventKind
	Tick               uint64
	Frames             int    // rollback depth, EventRollback only
	Player             uint32 // affected player, EventDisconnect only
	OurHash, TheirHash uint64 // EventDesync only
}

const eventBufferSize = 256

// EventLog is a bounded, rate-limited ring buffer of scheduler events. It
// generalizes the teacher's EventLog (internal/game/event_log.go) from an
// async file-backed writer into an in-memory ring the orchestrator drains
// each tick — persistence and metric export belong to the orchestrator's
// telemetry layer, not the scheduler.
type EventLog struct {
	mu      sync.Mutex
	buf     [eventBufferSize]Event
	head    int
	count   int
	limiter *rate.Limiter
	dropped uint64
}

// NewEventLog builds an event log capped at 200 events/sec with a burst of
// 50, generous enough for a genuine desync storm to still get a handful of
// samples through without letting a misbehaving peer turn logging into a
// denial of service against the simulation thread.
func NewEventLog() *EventLog {
	return &EventLog{limiter: rate.NewLimiter(rate.Limit(200), 50)}
}

// Push records an event, dropping (and counting the drop of) any event
// past the rate limit.
func (l *EventLog) Push(e Event) {
	if !l.limiter.Allow() {
		atomic.AddUint64(&l.dropped, 1)
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.buf[l.head] = e
	l.head = (l.head + 1) % eventBufferSize
	if l.count < eventBufferSize {
		l.count++
	}
}

// Drain returns all buffered events in chronological order and empties the
// log.
func (l *EventLog) Drain() []Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Event, l.count)
	for i := 0; i < l.count; i++ {
		idx := (l.head - l.count + i + eventBufferSize) % eventBufferSize
		out[i] = l.buf[idx]
	}
	l.count = 0
	l.head = 0
	return out
}

// Dropped reports how many events were discarded due to rate limiting.
func (l *EventLog) Dropped() uint64 {
	return atomic.LoadUint64(&l.dropped)
}
