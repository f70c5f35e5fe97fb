// Package rollback implements the frame-synchronized input-exchange and
// state-restoration engine (SPEC_FULL.md §4.5): one simulation tick at a
// time, predicting ahead of confirmed remote input and rolling back to
// resimulate when a prediction turns out wrong.
package rollback

import "github.com/cespare/xxhash/v2"

// Snapshot is a tick-tagged immutable capture of deterministic state: the
// guest's linear memory verbatim, the RNG state, and a content hash of the
// memory for desync detection.
type Snapshot struct {
	Tick     uint64
	Memory   []byte
	RNGState [4]uint64
	Hash     uint64
}

// SnapshotRing retains up to its capacity of snapshots, evicting the
// oldest in tick order. It generalizes the teacher's fixed-3 SnapshotPool
// (internal/game/game_snapshot.go, atomic write/read index into a fixed
// backing array) into a capacity chosen at construction from
// max_rollback+2 rather than hard-coded at 3.
type SnapshotRing struct {
	slots []Snapshot
	count int // valid slots written so far, caps at len(slots)
	next  int // next write index
}

// NewSnapshotRing builds a ring sized to hold max_rollback+2 snapshots,
// the capacity SPEC_FULL.md §3 specifies as typical (10 for a
// max_rollback of 8).
func NewSnapshotRing(maxRollback int) *SnapshotRing {
	capacity := maxRollback + 2
	if capacity < 1 {
		capacity = 1
	}
	return &SnapshotRing{slots: make([]Snapshot, capacity)}
}

// Capacity returns the number of snapshots the ring can retain at once.
func (r *SnapshotRing) Capacity() int {
	return len(r.slots)
}

// Push stores a new snapshot, evicting the oldest entry if the ring is
// already full.
func (r *SnapshotRing) Push(snap Snapshot) {
	r.slots[r.next] = snap
	r.next = (r.next + 1) % len(r.slots)
	if r.count < len(r.slots) {
		r.count++
	}
}

// Find returns the retained snapshot for the given tick, if any.
func (r *SnapshotRing) Find(tick uint64) (Snapshot, bool) {
	for i := 0; i < r.count; i++ {
		idx := (r.next - 1 - i + len(r.slots)) % len(r.slots)
		if r.slots[idx].Tick == tick {
			return r.slots[idx], true
		}
	}
	return Snapshot{}, false
}

// OldestRetainedTick reports the earliest tick still in the ring.
func (r *SnapshotRing) OldestRetainedTick() (uint64, bool) {
	if r.count == 0 {
		return 0, false
	}
	idx := (r.next - r.count + len(r.slots)) % len(r.slots)
	return r.slots[idx].Tick, true
}

// HashMemory computes the 64-bit content hash a snapshot stores alongside
// its memory copy, and that peers exchange for desync detection.
func HashMemory(mem []byte) uint64 {
	return xxhash.Sum64(mem)
}
