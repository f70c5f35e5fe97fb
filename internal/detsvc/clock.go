package detsvc

// Clock tracks the deterministic tick counter and derives elapsed/delta
// time from it. It never samples wall-clock time — elapsed_time is always
// tick_count / tick_rate, computed fresh on every call, never cached
// against a real timer.
type Clock struct {
	tickRate  int
	tickCount uint64
}

// NewClock constructs a Clock for the given session tick rate (30, 60, or
// 120 — validated upstream by the ROM loader and NCHS, not re-checked here).
func NewClock(tickRate int) *Clock {
	return &Clock{tickRate: tickRate}
}

// TickCount returns the number of successful update() calls so far.
func (c *Clock) TickCount() uint64 {
	return c.tickCount
}

// Advance increments the tick counter. Called once per successful update(),
// resimulated ticks included — the scheduler restores TickCount on rollback
// before resimulating, so rolling forward re-reaches the same count.
func (c *Clock) Advance() {
	c.tickCount++
}

// Restore resets the tick counter to a snapshotted value, used during
// rollback.
func (c *Clock) Restore(tick uint64) {
	c.tickCount = tick
}

// DeltaTime returns the constant per-tick timestep, 1/tick_rate.
func (c *Clock) DeltaTime() float32 {
	return 1.0 / float32(c.tickRate)
}

// ElapsedTime returns tick_count/tick_rate as seen by the guest.
func (c *Clock) ElapsedTime() float32 {
	return float32(c.tickCount) / float32(c.tickRate)
}

// TickRate returns the session's fixed tick rate.
func (c *Clock) TickRate() int {
	return c.tickRate
}
