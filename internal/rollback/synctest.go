package rollback

import "context"

// StepSyncTest drives the scheduler in single-process self-check mode
// (SPEC_FULL.md §4.7's SyncTest session kind): every tick, after the
// normal advance, it forces a rollback to the oldest retained snapshot
// and resimulates forward using the exact same (locally-synthesized, so
// fully known) inputs already recorded, then compares the resulting
// memory hash against the one produced by the live path. Any mismatch
// means the update/render functions are not actually deterministic with
// respect to rollback and is reported as a desync, the same event kind a
// real two-peer session would raise from a hash disagreement.
func (s *Scheduler) StepSyncTest(ctx context.Context) error {
	if err := s.Step(ctx); err != nil {
		return err
	}
	if s.stalled || s.tick == 0 {
		return nil
	}

	liveTick := s.tick - 1
	live, ok := s.ring.Find(liveTick)
	if !ok {
		return nil
	}

	oldest, ok := s.ring.OldestRetainedTick()
	if !ok || oldest >= liveTick {
		return nil
	}

	base, ok := s.ring.Find(oldest)
	if !ok {
		return nil
	}

	if err := s.guest.RestoreMemory(base.Memory); err != nil {
		return err
	}
	s.services.RNG.Restore(base.RNGState)
	s.services.Clock.Restore(base.Tick + 1)
	s.staging.DiscardForRollback()

	var replayed Snapshot
	for t := oldest + 1; t <= liveTick; t++ {
		resolved := s.resolvedInputs(t)
		s.published = resolved
		if err := s.guest.CallUpdate(ctx); err != nil {
			return err
		}
		s.services.Clock.Advance()
		mem := s.guest.Snapshot()
		replayed = Snapshot{Tick: t, Memory: mem, RNGState: s.services.RNG.State(), Hash: HashMemory(mem)}
	}

	// Restore the guest to the live snapshot so the next tick's advance
	// continues from the true current state rather than the replay's.
	if err := s.guest.RestoreMemory(live.Memory); err != nil {
		return err
	}
	s.services.RNG.Restore(live.RNGState)
	s.services.Clock.Restore(live.Tick + 1)

	if replayed.Hash != live.Hash {
		s.events.Push(Event{Kind: EventDesync, Tick: liveTick, OurHash: live.Hash, TheirHash: replayed.Hash})
	}
	return nil
}
