package capture

import "sync/atomic"

// BufferSize is the number of frame slots in the ring buffer; one slot is
// always left empty, so at most BufferSize-1 frames are queued. A disk
// writer falling behind the tick rate by up to BufferSize-1 ticks still
// catches up without stalling the session loop; beyond it, frames are
// dropped rather than blocking render.
const BufferSize = 16

// frameRingBuffer provides lock-free frame buffering so a slow disk writer
// never blocks the session's render loop. If the buffer is full, the
// newest frame is dropped instead of waiting for the writer to catch up.
type frameRingBuffer struct {
	frames   [BufferSize][]byte
	readIdx  uint32 // atomic
	writeIdx uint32 // atomic

	framesWritten uint64
	framesDropped uint64
	framesRead    uint64
}

func newFrameRingBuffer() *frameRingBuffer {
	return &frameRingBuffer{}
}

// TryWrite attempts to enqueue a frame, copying it into the buffer slot so
// the caller's backing array can be reused immediately. Returns false if
// the buffer is full.
func (rb *frameRingBuffer) TryWrite(frame []byte) bool {
	currentWrite := atomic.LoadUint32(&rb.writeIdx)
	nextWrite := (currentWrite + 1) % BufferSize

	if nextWrite == atomic.LoadUint32(&rb.readIdx) {
		atomic.AddUint64(&rb.framesDropped, 1)
		return false
	}

	buf := make([]byte, len(frame))
	copy(buf, frame)
	rb.frames[currentWrite] = buf

	atomic.StoreUint32(&rb.writeIdx, nextWrite)
	atomic.AddUint64(&rb.framesWritten, 1)
	return true
}

// TryRead returns the next buffered frame, or nil if the buffer is empty.
func (rb *frameRingBuffer) TryRead() []byte {
	readIdx := atomic.LoadUint32(&rb.readIdx)
	writeIdx := atomic.LoadUint32(&rb.writeIdx)
	if readIdx == writeIdx {
		return nil
	}

	frame := rb.frames[readIdx]
	atomic.StoreUint32(&rb.readIdx, (readIdx+1)%BufferSize)
	atomic.AddUint64(&rb.framesRead, 1)
	return frame
}

// Stats returns buffer counters.
func (rb *frameRingBuffer) Stats() (written, dropped, read uint64) {
	return atomic.LoadUint64(&rb.framesWritten),
		atomic.LoadUint64(&rb.framesDropped),
		atomic.LoadUint64(&rb.framesRead)
}
