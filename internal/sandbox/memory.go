package sandbox

// ReadMemorySlice returns a bounds-checked copy of guest linear memory.
// Every pointer crossing the FFI boundary must be validated against the
// current memory size before use (SPEC_FULL.md §4.2) — wazero's api.Memory
// already refuses out-of-bounds reads, but this wrapper turns that refusal
// into the sandbox's own OutOfBounds trap type.
func (g *GuestInstance) ReadMemorySlice(offset, length uint32) ([]byte, error) {
	if g.mem == nil {
		return nil, newTrap(TrapOutOfBounds, "guest has no memory export")
	}
	buf, ok := g.mem.Read(offset, length)
	if !ok {
		return nil, newTrap(TrapOutOfBounds, "read %d bytes at %d out of bounds", length, offset)
	}
	// Read returns a view into wazero's backing array; copy it so callers
	// that retain the slice past the current call are never aliasing
	// memory a subsequent guest write (or memory.grow) could invalidate.
	out := make([]byte, len(buf))
	copy(out, buf)
	return out, nil
}

// WriteMemorySlice writes bytes into guest linear memory at offset, bounds-
// checked.
func (g *GuestInstance) WriteMemorySlice(offset uint32, data []byte) error {
	if g.mem == nil {
		return newTrap(TrapOutOfBounds, "guest has no memory export")
	}
	if ok := g.mem.Write(offset, data); !ok {
		return newTrap(TrapOutOfBounds, "write %d bytes at %d out of bounds", len(data), offset)
	}
	return nil
}

// Size returns the current linear memory size in bytes.
func (g *GuestInstance) Size() uint32 {
	if g.mem == nil {
		return 0
	}
	return g.mem.Size()
}

// Snapshot returns a verbatim copy of the entire guest linear memory, for
// the rollback scheduler's snapshot ring.
func (g *GuestInstance) Snapshot() []byte {
	if g.mem == nil {
		return nil
	}
	buf, _ := g.mem.Read(0, g.mem.Size())
	out := make([]byte, len(buf))
	copy(out, buf)
	return out
}

// RestoreMemory writes a previously captured snapshot back into guest
// linear memory verbatim. The caller (rollback scheduler) is responsible
// for restoring RNG/tick-counter state separately via detsvc.Services.
func (g *GuestInstance) RestoreMemory(snapshot []byte) error {
	if g.mem == nil {
		return newTrap(TrapOutOfBounds, "guest has no memory export")
	}
	if uint32(len(snapshot)) != g.mem.Size() {
		return newTrap(TrapOutOfBounds, "snapshot size %d does not match current memory size %d", len(snapshot), g.mem.Size())
	}
	if ok := g.mem.Write(0, snapshot); !ok {
		return newTrap(TrapOutOfBounds, "restore write rejected")
	}
	return nil
}
