package capture

import (
	"io"
	"log"
	"sync"
	"sync/atomic"
	"time"
)

// pollInterval bounds how long an idle writer sleeps between ring buffer
// checks, avoiding a busy spin while frames are infrequent.
const pollInterval = 2 * time.Millisecond

// asyncFrameWriter drains a frameRingBuffer to an io.Writer on its own
// goroutine, isolating the session's render loop from however slow the
// sink (a file, eventually a network pipe) turns out to be.
type asyncFrameWriter struct {
	ring     *frameRingBuffer
	sink     io.Writer
	stopChan chan struct{}
	wg       sync.WaitGroup
	running  int32 // atomic

	framesWritten uint64
	writeErrors   uint64
}

func newAsyncFrameWriter(ring *frameRingBuffer, sink io.Writer) *asyncFrameWriter {
	return &asyncFrameWriter{ring: ring, sink: sink}
}

// Start begins the writer goroutine. It is a no-op if already running.
func (w *asyncFrameWriter) Start() {
	if !atomic.CompareAndSwapInt32(&w.running, 0, 1) {
		return
	}
	w.stopChan = make(chan struct{})
	w.wg.Add(1)

	go func() {
		defer w.wg.Done()
		defer atomic.StoreInt32(&w.running, 0)

		for {
			select {
			case <-w.stopChan:
				w.drain()
				return
			default:
				frame := w.ring.TryRead()
				if frame == nil {
					time.Sleep(pollInterval)
					continue
				}
				w.write(frame)
			}
		}
	}()
}

// drain flushes any frames still buffered at shutdown time.
func (w *asyncFrameWriter) drain() {
	for {
		frame := w.ring.TryRead()
		if frame == nil {
			return
		}
		w.write(frame)
	}
}

func (w *asyncFrameWriter) write(frame []byte) {
	if _, err := w.sink.Write(frame); err != nil {
		atomic.AddUint64(&w.writeErrors, 1)
		if atomic.LoadUint64(&w.writeErrors) <= 5 {
			log.Printf("capture: frame write error: %v", err)
		}
		return
	}
	atomic.AddUint64(&w.framesWritten, 1)
}

// Stop stops the writer goroutine and waits for the final drain.
func (w *asyncFrameWriter) Stop() {
	if !atomic.CompareAndSwapInt32(&w.running, 1, 0) {
		return
	}
	close(w.stopChan)
	w.wg.Wait()
}
