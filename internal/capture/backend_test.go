package capture

import (
	"bufio"
	"bytes"
	"encoding/json"
	"testing"

	"github.com/nethercore-systems/nethercore/internal/staging"
)

func TestRecordingBackendWritesFrames(t *testing.T) {
	var buf bytes.Buffer
	backend := NewRecordingBackend(&buf, nil)

	dl := &staging.DrawCommandList{Commands: []staging.DrawCommand{
		{Op: "rect", Color: [4]float32{1, 0, 0, 1}},
	}}
	backend.ConsumeFrame(dl)

	// Close waits for the writer goroutine to exit, so buf is safe to
	// read afterward without synchronizing with it directly.
	backend.Close()

	scanner := bufio.NewScanner(&buf)
	if !scanner.Scan() {
		t.Fatal("expected at least one recorded frame line")
	}
	var frame recordedFrame
	if err := json.Unmarshal(scanner.Bytes(), &frame); err != nil {
		t.Fatalf("decode recorded frame: %v", err)
	}
	if len(frame.Commands) != 1 || frame.Commands[0].Op != "rect" {
		t.Fatalf("unexpected recorded frame: %+v", frame)
	}
}

func TestRecordingBackendDropsPastCapacity(t *testing.T) {
	ring := newFrameRingBuffer()
	for i := 0; i < BufferSize+5; i++ {
		ring.TryWrite([]byte("x"))
	}
	_, dropped, _ := ring.Stats()
	if dropped == 0 {
		t.Fatal("expected some frames to be dropped once the ring fills")
	}
}
