package telemetry

import (
	"encoding/json"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"
)

const (
	BufferSize           = 1024                   // circular buffer size
	MaxEventsPerSec      = 10000                   // global rate limit
	MaxEventsPerSource   = 100                     // per-source (player/session) rate limit per second
	BatchFlushSize       = 64                      // events per batch write
	BatchFlushInterval   = 100 * time.Millisecond  // how often to flush
	SourceLimiterCleanup = 5 * time.Minute         // cleanup interval for stale per-source limiters
)

// EventLog is a bounded, rate-limited circular buffer feeding the session
// telemetry stream: the inspector websocket hub and an optional append-only
// file both drain it. Oldest entries are dropped under sustained overload
// rather than blocking the caller, the same backpressure idiom the rollback
// scheduler's own input drop uses.
type EventLog struct {
	buffer    [BufferSize]Event
	writeHead uint64 // atomic - producer position
	readHead  uint64 // atomic - consumer position

	globalLimiter *rate.Limiter
	sourceLimiters sync.Map // map[string]*sourceLimiterEntry

	subsMu sync.RWMutex
	subs   map[chan Event]struct{}

	writerWg sync.WaitGroup
	stopChan chan struct{}
	stopOnce sync.Once
	running  atomic.Bool

	filePath string
	file     *os.File
	fileMu   sync.Mutex

	droppedCount uint64 // atomic
	totalCount   uint64 // atomic
}

type sourceLimiterEntry struct {
	limiter  *rate.Limiter
	lastUsed time.Time
}

// NewEventLog creates an EventLog; call Start to begin the async writer and
// cleanup loops.
func NewEventLog() *EventLog {
	return &EventLog{
		globalLimiter: rate.NewLimiter(MaxEventsPerSec, MaxEventsPerSec/10),
		stopChan:      make(chan struct{}),
		subs:          make(map[chan Event]struct{}),
	}
}

// Start begins the async writer goroutine. filePath may be empty to run
// in-memory only (no durable log, e.g. in tests).
func (el *EventLog) Start(filePath string) error {
	if el.running.Load() {
		return nil
	}
	el.filePath = filePath

	if filePath != "" {
		file, err := os.OpenFile(filePath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
		if err != nil {
			return err
		}
		el.file = file
	}

	el.running.Store(true)
	el.writerWg.Add(2)
	go el.writerLoop()
	go el.cleanupLoop()
	return nil
}

// Stop gracefully shuts down the event log, flushing any buffered events.
func (el *EventLog) Stop() {
	el.stopOnce.Do(func() {
		el.running.Store(false)
		close(el.stopChan)
		el.writerWg.Wait()

		el.fileMu.Lock()
		if el.file != nil {
			el.file.Close()
		}
		el.fileMu.Unlock()
	})
}

// Emit adds an event, subject to global and per-source rate limiting.
// Returns false if the event was dropped.
func (el *EventLog) Emit(event Event) bool {
	if !el.running.Load() {
		return false
	}

	if !el.globalLimiter.Allow() {
		atomic.AddUint64(&el.droppedCount, 1)
		return false
	}

	if event.Source != "" {
		limiter := el.getSourceLimiter(event.Source)
		if !limiter.Allow() {
			atomic.AddUint64(&el.droppedCount, 1)
			return false
		}
	}

	head := atomic.AddUint64(&el.writeHead, 1)
	tail := atomic.LoadUint64(&el.readHead)
	if head-tail >= BufferSize {
		atomic.AddUint64(&el.readHead, 1)
		atomic.AddUint64(&el.droppedCount, 1)
	}

	event.Sequence = head
	idx := (head - 1) % BufferSize
	el.buffer[idx] = event

	atomic.AddUint64(&el.totalCount, 1)
	el.fanOut(event)
	return true
}

// EmitSimple is a convenience wrapper that builds and emits an Event.
func (el *EventLog) EmitSimple(eventType EventType, tick uint64, source string, payload interface{}) bool {
	return el.Emit(NewEvent(eventType, tick, source, payload))
}

// Subscribe registers a channel to receive every emitted event going
// forward (used by the inspector's websocket hub). The channel is
// best-effort: a slow subscriber drops events rather than blocking Emit.
func (el *EventLog) Subscribe(buf int) chan Event {
	ch := make(chan Event, buf)
	el.subsMu.Lock()
	el.subs[ch] = struct{}{}
	el.subsMu.Unlock()
	return ch
}

// Unsubscribe removes a channel registered with Subscribe.
func (el *EventLog) Unsubscribe(ch chan Event) {
	el.subsMu.Lock()
	delete(el.subs, ch)
	el.subsMu.Unlock()
}

func (el *EventLog) fanOut(event Event) {
	el.subsMu.RLock()
	defer el.subsMu.RUnlock()
	for ch := range el.subs {
		select {
		case ch <- event:
		default:
		}
	}
}

func (el *EventLog) getSourceLimiter(source string) *rate.Limiter {
	if entry, ok := el.sourceLimiters.Load(source); ok {
		e := entry.(*sourceLimiterEntry)
		e.lastUsed = time.Now()
		return e.limiter
	}
	entry := &sourceLimiterEntry{
		limiter:  rate.NewLimiter(MaxEventsPerSource, MaxEventsPerSource/10),
		lastUsed: time.Now(),
	}
	actual, _ := el.sourceLimiters.LoadOrStore(source, entry)
	return actual.(*sourceLimiterEntry).limiter
}

func (el *EventLog) writerLoop() {
	defer el.writerWg.Done()

	ticker := time.NewTicker(BatchFlushInterval)
	defer ticker.Stop()

	batch := make([]Event, 0, BatchFlushSize)
	for {
		select {
		case <-el.stopChan:
			batch = el.collectBatch(batch[:0])
			if len(batch) > 0 {
				el.flushBatch(batch)
			}
			return
		case <-ticker.C:
			batch = el.collectBatch(batch[:0])
			if len(batch) > 0 {
				el.flushBatch(batch)
			}
		}
	}
}

func (el *EventLog) cleanupLoop() {
	defer el.writerWg.Done()

	ticker := time.NewTicker(SourceLimiterCleanup)
	defer ticker.Stop()

	for {
		select {
		case <-el.stopChan:
			return
		case <-ticker.C:
			el.cleanupSourceLimiters()
		}
	}
}

func (el *EventLog) cleanupSourceLimiters() {
	cutoff := time.Now().Add(-SourceLimiterCleanup)
	el.sourceLimiters.Range(func(key, value interface{}) bool {
		entry := value.(*sourceLimiterEntry)
		if entry.lastUsed.Before(cutoff) {
			el.sourceLimiters.Delete(key)
		}
		return true
	})
}

func (el *EventLog) collectBatch(batch []Event) []Event {
	head := atomic.LoadUint64(&el.writeHead)
	tail := atomic.LoadUint64(&el.readHead)

	for i := tail; i < head && len(batch) < BatchFlushSize; i++ {
		idx := i % BufferSize
		batch = append(batch, el.buffer[idx])
	}
	if len(batch) > 0 {
		atomic.AddUint64(&el.readHead, uint64(len(batch)))
	}
	return batch
}

func (el *EventLog) flushBatch(batch []Event) {
	el.fileMu.Lock()
	defer el.fileMu.Unlock()

	if el.file == nil {
		return
	}
	for _, event := range batch {
		data, err := json.Marshal(event)
		if err != nil {
			continue
		}
		el.file.Write(data)
		el.file.Write([]byte("\n"))
	}
}

// Stats reports total emitted and dropped counts, for the metrics bridge.
func (el *EventLog) Stats() (total, dropped uint64) {
	return atomic.LoadUint64(&el.totalCount), atomic.LoadUint64(&el.droppedCount)
}
