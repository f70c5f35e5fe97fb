package detsvc

// Services bundles the three deterministic-state pieces a sandbox
// instantiates fresh for each session and snapshots/restores as a unit:
// the RNG, the tick clock, and the save store (not snapshotted — save
// slots are durable and outlive any single session's deterministic state).
type Services struct {
	RNG   *RNG
	Clock *Clock
	Saves *SaveStore
}

// New constructs the deterministic services for a session, seeded from the
// NCHS-distributed (or synthesized, for local/sync-test modes) SessionStart
// seed.
func New(seed uint64, tickRate int, saves *SaveStore) *Services {
	return &Services{
		RNG:   NewRNG(seed),
		Clock: NewClock(tickRate),
		Saves: saves,
	}
}

// Snapshot is the deterministic-state portion owned by Services: the RNG
// state and the tick counter. The guest's linear memory is captured
// separately by the sandbox, since Services has no access to it.
type Snapshot struct {
	RNGState  [4]uint64
	TickCount uint64
}

// Capture returns the current RNG/clock state for inclusion in a rollback
// snapshot.
func (s *Services) Capture() Snapshot {
	return Snapshot{
		RNGState:  s.RNG.State(),
		TickCount: s.Clock.TickCount(),
	}
}

// Restore applies a previously captured snapshot, used during rollback.
func (s *Services) Restore(snap Snapshot) {
	s.RNG.Restore(snap.RNGState)
	s.Clock.Restore(snap.TickCount)
}
