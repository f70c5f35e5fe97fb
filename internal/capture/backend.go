// Package capture adapts a streaming-style ring-buffer/async-writer pair
// into an orchestrator.Backend that records a session's rendered frames
// to disk without ever blocking the tick loop on I/O. It is the disk-sink
// counterpart of orchestrator.NopBackend: where NopBackend discards every
// drained frame, RecordingBackend persists them for offline review.
package capture

import (
	"encoding/json"
	"io"
	"log"

	"github.com/nethercore-systems/nethercore/internal/rollback"
	"github.com/nethercore-systems/nethercore/internal/staging"
)

// recordedFrame is the newline-delimited JSON record written per tick.
type recordedFrame struct {
	Commands []staging.DrawCommand `json:"commands"`
}

// RecordingBackend implements orchestrator.Backend, writing every
// ConsumeFrame call to sink as newline-delimited JSON on a background
// goroutine. Resource materialization is logged only: this backend has no
// GPU or audio device to allocate against, matching SPEC_FULL.md's
// explicit non-goal of a graphics/audio rendering pipeline.
type RecordingBackend struct {
	ring   *frameRingBuffer
	writer *asyncFrameWriter
	events *rollback.EventLog
}

// NewRecordingBackend starts a RecordingBackend writing to sink. Call
// Close when the session ends to flush and stop the writer goroutine.
func NewRecordingBackend(sink io.Writer, events *rollback.EventLog) *RecordingBackend {
	ring := newFrameRingBuffer()
	b := &RecordingBackend{
		ring:   ring,
		writer: newAsyncFrameWriter(ring, sink),
		events: events,
	}
	b.writer.Start()
	return b
}

// MaterializeResources has nothing to allocate: a recording has no
// backend-owned GPU/audio objects, only the guest resource declarations
// themselves, which are not interesting once drained.
func (b *RecordingBackend) MaterializeResources(pending []staging.PendingResource) {
	if len(pending) > 0 {
		log.Printf("capture: %d resource(s) declared, not materialized (recording backend)", len(pending))
	}
}

// ConsumeFrame serializes dl and enqueues it for the async writer. The
// draw list belongs to the orchestrator's pool and must not be retained
// past this call, so encoding happens synchronously here rather than
// being deferred onto the writer goroutine.
func (b *RecordingBackend) ConsumeFrame(dl *staging.DrawCommandList) {
	encoded, err := json.Marshal(recordedFrame{Commands: dl.Commands})
	if err != nil {
		log.Printf("capture: encode frame: %v", err)
		return
	}
	encoded = append(encoded, '\n')
	b.ring.TryWrite(encoded)
}

// OnEvent appends scheduler events to the shared event log, when one was
// supplied; recording runs headless and has no other place to surface
// rollback/stall/desync notifications.
func (b *RecordingBackend) OnEvent(ev rollback.Event) {
	if b.events != nil {
		b.events.Push(ev)
	}
}

// Stats reports frame buffer/writer counters for diagnostics.
func (b *RecordingBackend) Stats() map[string]uint64 {
	written, dropped, read := b.ring.Stats()
	return map[string]uint64{
		"framesBuffered": written,
		"framesDropped":  dropped,
		"framesFlushed":  read,
	}
}

// Close stops the writer goroutine, flushing any buffered frames first.
func (b *RecordingBackend) Close() error {
	b.writer.Stop()
	return nil
}
