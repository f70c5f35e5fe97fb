package telemetry

import (
	"path/filepath"
	"testing"
	"time"
)

func TestEventLogEmitAndSubscribe(t *testing.T) {
	el := NewEventLog()
	if err := el.Start(""); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer el.Stop()

	sub := el.Subscribe(8)
	defer el.Unsubscribe(sub)

	if ok := el.EmitSimple(EventTypeRollback, 42, "session-1", RollbackPayload{Frames: 3}); !ok {
		t.Fatalf("expected Emit to succeed")
	}

	select {
	case ev := <-sub:
		if ev.Type != EventTypeRollback || ev.Tick != 42 {
			t.Fatalf("unexpected event: %+v", ev)
		}
	case <-time.After(time.Second):
		t.Fatalf("timed out waiting for fan-out")
	}

	total, dropped := el.Stats()
	if total != 1 || dropped != 0 {
		t.Fatalf("unexpected stats: total=%d dropped=%d", total, dropped)
	}
}

func TestEventLogFlushesToFile(t *testing.T) {
	el := NewEventLog()
	path := filepath.Join(t.TempDir(), "events.log")
	if err := el.Start(path); err != nil {
		t.Fatalf("Start: %v", err)
	}

	for i := 0; i < 5; i++ {
		el.EmitSimple(EventTypeStall, uint64(i), "", StallPayload{Player: 1})
	}

	el.Stop() // flushes remaining buffer on shutdown

	total, _ := el.Stats()
	if total != 5 {
		t.Fatalf("expected 5 emitted events, got %d", total)
	}
}

func TestEventLogDropsUnderGlobalRateLimit(t *testing.T) {
	el := NewEventLog()
	el.globalLimiter.SetLimit(0)
	el.globalLimiter.SetBurst(0)
	el.running.Store(true) // drive Emit directly without the writer/cleanup loops

	if el.EmitSimple(EventTypeTrap, 1, "", TrapPayload{Reason: "budget exceeded"}) {
		t.Fatalf("expected Emit to be dropped under a zero-rate limiter")
	}
	_, dropped := el.Stats()
	if dropped == 0 {
		t.Fatalf("expected dropped count to be nonzero")
	}
}
