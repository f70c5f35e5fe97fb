package staging

import "testing"

func TestResourceQueueDrainClosesQueue(t *testing.T) {
	q := NewResourceQueue()
	q.Enqueue(PendingResource{GuestID: 1, Kind: "texture"})
	q.Enqueue(PendingResource{GuestID: 2, Kind: "mesh"})

	items := q.Drain()
	if len(items) != 2 {
		t.Fatalf("expected 2 drained items, got %d", len(items))
	}

	if ok := q.Enqueue(PendingResource{GuestID: 3, Kind: "sound"}); ok {
		t.Error("expected enqueue after drain to be rejected")
	}
}

func TestFfiStateResetDefaults(t *testing.T) {
	f := &FfiState{}
	f.Reset()

	if f.Color != [4]float32{1, 1, 1, 1} {
		t.Errorf("expected white default color, got %v", f.Color)
	}
	if !f.CullEnabled {
		t.Error("expected culling enabled by default")
	}
	top := f.Top()
	if top != Identity() {
		t.Errorf("expected identity transform on reset stack, got %v", top)
	}
}

func TestStagingResetForRenderClearsDraws(t *testing.T) {
	s := New()
	s.Draws.Append(DrawCommand{Op: "rect"})
	if len(s.Draws.Commands) != 1 {
		t.Fatalf("expected 1 queued command")
	}

	s.ResetForRender()
	if len(s.Draws.Commands) != 0 {
		t.Errorf("expected draw list cleared after ResetForRender, got %d", len(s.Draws.Commands))
	}
}

func TestStagingDiscardForRollbackPreservesPending(t *testing.T) {
	s := New()
	s.Pending.Enqueue(PendingResource{GuestID: 1, Kind: "texture"})
	s.Draws.Append(DrawCommand{Op: "sprite"})

	s.DiscardForRollback()

	if len(s.Draws.Commands) != 0 {
		t.Error("expected draw commands discarded on rollback")
	}
	// pending resources are untouched by rollback — draining still works
	items := s.Pending.Drain()
	if len(items) != 1 {
		t.Errorf("expected pending resource queue to survive rollback, got %d items", len(items))
	}
}

func TestDrawListPoolRoundTrip(t *testing.T) {
	dl := AcquireDrawList()
	dl.Append(DrawCommand{Op: "rect"})
	ReleaseDrawList(dl)

	dl2 := AcquireDrawList()
	if len(dl2.Commands) != 0 {
		t.Errorf("expected pooled list reset on acquire, got %d commands", len(dl2.Commands))
	}
}
