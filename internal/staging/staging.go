// Package staging implements Capability Staging (SPEC_FULL.md §4.3): the
// layer between the guest sandbox and the external renderer/audio backend.
// It collects init-phase resource creations into PendingResources, render-
// phase draw commands into an append-only DrawCommandList, and holds the
// per-frame transient FFI registers (current color, transform stack,
// bound textures). None of it is snapshotted — it is non-deterministic
// state that is discarded, never inspected, on rollback.
//
// The publish discipline generalizes the teacher's triple-buffered
// SnapshotPool (atomic write/read index into a fixed backing array) into a
// sync.Pool of scratch DrawCommandLists, since draw commands — unlike
// snapshots — are not retained across ticks: each render call starts from
// an empty list and hands the filled one to the backend once, by value.
package staging

import "sync"

// PendingResource is one init-phase resource creation, queued for the
// external backend to materialize into a real GPU/audio object.
type PendingResource struct {
	GuestID uint32
	Kind    string // "texture", "mesh", "sound", "skeleton", "keyframes", "font", "tracker"
	Payload []byte
}

// ResourceQueue buffers PendingResource entries between init() returning
// and the backend's one-shot drain. Per SPEC_FULL.md §4.3, it is non-empty
// only in that window — no further resource creation is accepted once a
// session has started.
type ResourceQueue struct {
	mu     sync.Mutex
	items  []PendingResource
	closed bool
}

// NewResourceQueue constructs an empty queue.
func NewResourceQueue() *ResourceQueue {
	return &ResourceQueue{}
}

// Enqueue adds a resource creation. Returns false if the queue has already
// been drained (i.e. the session has started and no further creation is
// permitted).
func (q *ResourceQueue) Enqueue(r PendingResource) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return false
	}
	q.items = append(q.items, r)
	return true
}

// Drain returns all queued resources and permanently closes the queue to
// further writes. Called exactly once, by the backend, after init returns.
func (q *ResourceQueue) Drain() []PendingResource {
	q.mu.Lock()
	defer q.mu.Unlock()
	items := q.items
	q.items = nil
	q.closed = true
	return items
}

// Transform is a 3x2 affine transform (2D scale/rotate/translate), the
// unit the render-only transform stack composes.
type Transform struct {
	A, B, C, D, TX, TY float32
}

// Identity returns the identity transform.
func Identity() Transform {
	return Transform{A: 1, D: 1}
}

// FfiState holds the per-frame transient registers that render-phase draw
// calls read implicitly (current color, transform stack top, bound
// texture, z-index). Reset at the start of every render call; never
// snapshotted.
type FfiState struct {
	Stack       []Transform
	Color       [4]float32 // RGBA, 0..1
	BoundTex    uint32
	ZIndex      int32
	CullEnabled bool
}

// Reset clears transient state to its per-render defaults.
func (f *FfiState) Reset() {
	f.Stack = f.Stack[:0]
	f.Stack = append(f.Stack, Identity())
	f.Color = [4]float32{1, 1, 1, 1}
	f.BoundTex = 0
	f.ZIndex = 0
	f.CullEnabled = true
}

// Top returns the current transform on top of the stack.
func (f *FfiState) Top() Transform {
	if len(f.Stack) == 0 {
		return Identity()
	}
	return f.Stack[len(f.Stack)-1]
}

// DrawCommand is one emitted render-phase instruction, captured with the
// FfiState register values in effect at emission time (drawing primitives
// snapshot the current transform/color/texture by value, not by
// reference, so later state changes cannot retroactively alter an already
// emitted command).
type DrawCommand struct {
	Op        string
	Transform Transform
	Color     [4]float32
	TextureID uint32
	ZIndex    int32
	Args      []float32
	Text      string
}

// DrawCommandList is the append-only per-render-tick output.
type DrawCommandList struct {
	Commands []DrawCommand
}

var drawListPool = sync.Pool{
	New: func() any { return &DrawCommandList{} },
}

// AcquireDrawList returns a reset, ready-to-fill DrawCommandList from the
// pool, replacing the teacher's fixed triple-buffer with a pool since draw
// lists are not retained across ticks the way rollback snapshots are.
func AcquireDrawList() *DrawCommandList {
	dl := drawListPool.Get().(*DrawCommandList)
	dl.Commands = dl.Commands[:0]
	return dl
}

// ReleaseDrawList returns a DrawCommandList to the pool once the backend
// has consumed it.
func ReleaseDrawList(dl *DrawCommandList) {
	drawListPool.Put(dl)
}

// Append records a draw command.
func (dl *DrawCommandList) Append(cmd DrawCommand) {
	dl.Commands = append(dl.Commands, cmd)
}

// Staging bundles the three pieces of non-deterministic per-session state
// the sandbox's host functions write into.
type Staging struct {
	Pending *ResourceQueue
	Draws   *DrawCommandList
	Ffi     *FfiState
}

// New constructs a fresh Staging instance for a session.
func New() *Staging {
	ffi := &FfiState{}
	ffi.Reset()
	return &Staging{
		Pending: NewResourceQueue(),
		Draws:   &DrawCommandList{},
		Ffi:     ffi,
	}
}

// ResetForRender clears the draw list and FFI registers at the start of a
// render call.
func (s *Staging) ResetForRender() {
	s.Draws.Commands = s.Draws.Commands[:0]
	s.Ffi.Reset()
}

// DiscardForRollback clears non-deterministic state during a rollback
// restore. The resource queue/table is NOT touched — handles are immutable
// for the session per SPEC_FULL.md §9.
func (s *Staging) DiscardForRollback() {
	s.Draws.Commands = s.Draws.Commands[:0]
	s.Ffi.Reset()
}
