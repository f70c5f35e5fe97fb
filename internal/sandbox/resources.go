package sandbox

import "sync"

// ResourceKind tags what an init-phase resource creation call produced.
type ResourceKind int

const (
	ResourceTexture ResourceKind = iota
	ResourceMesh
	ResourceSkeleton
	ResourceKeyframes
	ResourceFont
	ResourceSound
	ResourceTracker
)

// ResourceTable issues monotonically increasing, never-reused 32-bit
// handles to resources created during init. Handles live outside the
// guest's linear memory and are therefore untouched by snapshot/restore —
// a handle created at tick 0 (during init) remains valid through every
// rollback and resimulation for the life of the session (SPEC_FULL.md §9).
type ResourceTable struct {
	mu      sync.Mutex
	next    uint32
	entries map[uint32]ResourceKind
}

// NewResourceTable constructs an empty table. Handle 0 is never issued —
// it is reserved to mean "no resource" / "not found" for kinds that
// tolerate a miss (tracker lookups, introspection helpers).
func NewResourceTable() *ResourceTable {
	return &ResourceTable{next: 1, entries: make(map[uint32]ResourceKind)}
}

// Issue allocates the next handle for the given kind.
func (t *ResourceTable) Issue(kind ResourceKind) uint32 {
	t.mu.Lock()
	defer t.mu.Unlock()

	handle := t.next
	t.next++
	t.entries[handle] = kind
	return handle
}

// Kind reports the kind a handle was issued for, if any.
func (t *ResourceTable) Kind(handle uint32) (ResourceKind, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	k, ok := t.entries[handle]
	return k, ok
}

// Count returns the number of handles issued so far.
func (t *ResourceTable) Count() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}
