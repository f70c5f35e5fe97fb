package rollback

import (
	"context"
	"time"

	"github.com/nethercore-systems/nethercore/internal/detsvc"
	"github.com/nethercore-systems/nethercore/internal/sandbox"
	"github.com/nethercore-systems/nethercore/internal/staging"
)

// Config bounds a scheduler instance, produced by NCHS SessionStart (or
// synthesized locally for Local/SyncTest modes), per SPEC_FULL.md §3's
// "session config" type.
type Config struct {
	PlayerCount         int
	LocalMask           uint32 // bit i set -> player i is locally controlled
	InputDelayFrames    int
	MaxRollbackFrames   int
	DisconnectTimeout   time.Duration
	DesyncCheckInterval int // in ticks; 0 disables
	TickRate            int
}

type playerState struct {
	local         bool
	lastInput     InputFrame
	disconnected  bool
}

// Scheduler drives one session's simulation tick by tick, implementing the
// step algorithm from SPEC_FULL.md §4.5.2: collect, exchange, roll back or
// not, predict-and-advance, render, advance.
type Scheduler struct {
	guest    *sandbox.GuestInstance
	services *detsvc.Services
	staging  *staging.Staging
	local    LocalInputSource
	link     PeerLink
	events   *EventLog

	cfg     Config
	players []playerState
	ring    *SnapshotRing

	tick          uint64 // T: the next tick to be produced
	lastConfirmed uint64 // highest tick whose input block is settled and matches what was simulated

	simulatedInputs map[uint64][]InputFrame // the block actually fed to update() for a tick, frozen once used
	confirmedInputs map[uint64][]InputFrame // accumulates as confirmations arrive, keyed by tick
	confirmedMask   map[uint64]uint32       // which players have confirmed a given tick

	published []InputFrame // the block the sandbox.InputReader methods below read

	stalled bool
}

// NewScheduler constructs a scheduler for a session whose services and
// staging have already been built (the Session Orchestrator's
// responsibility, SPEC_FULL.md §4.7). The guest itself is attached
// afterward via AttachGuest, since sandbox.Instantiate takes the
// scheduler as its InputReader — the scheduler must exist before the
// guest it will drive does.
func NewScheduler(services *detsvc.Services, stg *staging.Staging, local LocalInputSource, link PeerLink, cfg Config) *Scheduler {
	players := make([]playerState, cfg.PlayerCount)
	for i := range players {
		players[i].local = cfg.LocalMask&(1<<uint(i)) != 0
	}
	return &Scheduler{
		services:        services,
		staging:         stg,
		local:           local,
		link:            link,
		events:          NewEventLog(),
		cfg:             cfg,
		players:         players,
		ring:            NewSnapshotRing(cfg.MaxRollbackFrames),
		simulatedInputs: make(map[uint64][]InputFrame),
		confirmedInputs: make(map[uint64][]InputFrame),
		confirmedMask:   make(map[uint64]uint32),
		published:       make([]InputFrame, cfg.PlayerCount),
	}
}

// AttachGuest wires the instantiated guest this scheduler drives. Must be
// called once, after sandbox.Instantiate(ctx, rom, services, staging, s, cfg)
// has returned successfully using this scheduler as the InputReader.
func (s *Scheduler) AttachGuest(guest *sandbox.GuestInstance) {
	s.guest = guest
}

// --- sandbox.InputReader implementation, read by host functions during
// update() for the tick currently published ---

func (s *Scheduler) ButtonsHeld(player uint32) uint32 {
	if int(player) >= len(s.published) {
		return 0
	}
	return s.published[player].Buttons
}

func (s *Scheduler) StickX(player uint32) float32 {
	if int(player) >= len(s.published) {
		return 0
	}
	return s.published[player].StickX
}

func (s *Scheduler) StickY(player uint32) float32 {
	if int(player) >= len(s.published) {
		return 0
	}
	return s.published[player].StickY
}

func (s *Scheduler) PlayerCount() uint32     { return uint32(s.cfg.PlayerCount) }
func (s *Scheduler) LocalPlayerMask() uint32 { return s.cfg.LocalMask }

// Events returns the scheduler's bounded event log, drained periodically
// by the orchestrator.
func (s *Scheduler) Events() *EventLog { return s.events }

// TickCount reports the next tick this scheduler will produce.
func (s *Scheduler) TickCount() uint64 { return s.tick }

// LastConfirmed reports the highest settled tick.
func (s *Scheduler) LastConfirmed() uint64 { return s.lastConfirmed }

// Stalled reports whether the scheduler is currently withholding tick
// advancement because the rollback window would exceed max_rollback.
func (s *Scheduler) Stalled() bool { return s.stalled }

// QuitRequested forwards the guest's most recent quit() call. The
// orchestrator decides how to act and clears it via the guest instance.
func (s *Scheduler) QuitRequested() bool { return s.guest.QuitRequested() }

// Step executes one pass of the algorithm for the current wall-clock
// tick (SPEC_FULL.md §4.5.2). It returns a non-nil error only for a guest
// trap; stalls, rollbacks, desyncs and disconnects are reported through
// the event log.
func (s *Scheduler) Step(ctx context.Context) error {
	s.collectLocal()
	s.exchange()

	if s.reconcileConfirmed() {
		if err := s.rollbackAndResimulate(ctx); err != nil {
			return err
		}
	}

	if s.windowWouldExceedMaxRollback() {
		if !s.stalled {
			s.events.Push(Event{Kind: EventStall, Tick: s.tick})
		}
		s.stalled = true
		s.checkDisconnects()
		return nil
	}
	s.stalled = false

	if err := s.advance(ctx); err != nil {
		return err
	}

	s.checkDisconnects()
	s.maybeCheckDesync()
	s.pruneHistory()
	return nil
}

func (s *Scheduler) collectLocal() {
	for i := range s.players {
		if !s.players[i].local {
			continue
		}
		frame := s.local.ReadLocal(uint32(i))
		s.players[i].lastInput = frame
		s.link.SendInput(s.tick, uint32(i), frame)
		s.confirmInput(s.tick, uint32(i), frame)
	}
}

func (s *Scheduler) exchange() {
	for _, in := range s.link.PollInputs() {
		if int(in.Player) >= len(s.players) {
			continue
		}
		p := &s.players[in.Player]
		if mask, ok := s.confirmedMask[in.Tick]; ok && mask&(1<<in.Player) != 0 {
			continue // already confirmed for this tick: a duplicate or late redundant send
		}
		if in.Tick < s.lastConfirmed {
			continue // arrived after its tick was already settled (SPEC_FULL.md §4.5.5)
		}
		p.lastInput = in.Frame
		s.confirmInput(in.Tick, in.Player, in.Frame)
	}
}

func (s *Scheduler) confirmInput(tick uint64, player uint32, frame InputFrame) {
	block := s.confirmedInputs[tick]
	if block == nil {
		block = make([]InputFrame, s.cfg.PlayerCount)
		s.confirmedInputs[tick] = block
	}
	block[player] = frame
	s.confirmedMask[tick] |= 1 << player
}

func (s *Scheduler) isFullyConfirmed(tick uint64) bool {
	mask := s.confirmedMask[tick]
	for i := 0; i < s.cfg.PlayerCount; i++ {
		bit := uint32(1) << uint(i)
		if mask&bit != 0 {
			continue
		}
		if s.players[i].disconnected {
			continue // held input counts as confirmed (§4.5.5)
		}
		return false
	}
	return true
}

// resolvedInputs returns the best-known input block for tick: the
// confirmed value where known, and the player's held last-known input
// otherwise (used for prediction and for disconnected players).
func (s *Scheduler) resolvedInputs(tick uint64) []InputFrame {
	block := make([]InputFrame, s.cfg.PlayerCount)
	mask := s.confirmedMask[tick]
	conf := s.confirmedInputs[tick]
	for i := 0; i < s.cfg.PlayerCount; i++ {
		bit := uint32(1) << uint(i)
		if bit&mask != 0 && conf != nil {
			block[i] = conf[i]
		} else {
			block[i] = s.players[i].lastInput
		}
	}
	return block
}

func (s *Scheduler) diverges(tick uint64) bool {
	sim := s.simulatedInputs[tick]
	if sim == nil {
		return false
	}
	conf := s.resolvedInputs(tick)
	for i := range sim {
		if sim[i] != conf[i] {
			return true
		}
	}
	return false
}

// reconcileConfirmed scans [lastConfirmed+1, T-1] for the first tick whose
// now-confirmed input disagrees with what was actually simulated. If the
// whole range is confirmed with no disagreement, lastConfirmed advances to
// T-1 and no rollback is needed.
func (s *Scheduler) reconcileConfirmed() (needRollback bool) {
	t := s.lastConfirmed + 1
	for ; t < s.tick; t++ {
		if !s.isFullyConfirmed(t) {
			return false
		}
		if s.diverges(t) {
			return true
		}
	}
	if s.tick > 0 {
		s.lastConfirmed = s.tick - 1
	}
	return false
}

func (s *Scheduler) windowWouldExceedMaxRollback() bool {
	return int(s.tick-s.lastConfirmed) > s.cfg.MaxRollbackFrames
}

// simulateTick runs one update/snapshot/(render) cycle for tick t, using
// the best-known input block for that tick.
func (s *Scheduler) simulateTick(ctx context.Context, t uint64, render bool) error {
	resolved := s.resolvedInputs(t)
	s.simulatedInputs[t] = resolved
	s.published = resolved

	if err := s.guest.CallUpdate(ctx); err != nil {
		return err
	}
	s.services.Clock.Advance()
	s.captureSnapshot(t)

	if render {
		s.staging.ResetForRender()
		if err := s.guest.CallRender(ctx); err != nil {
			return err
		}
	}
	return nil
}

func (s *Scheduler) captureSnapshot(tick uint64) {
	mem := s.guest.Snapshot()
	s.ring.Push(Snapshot{
		Tick:     tick,
		Memory:   mem,
		RNGState: s.services.RNG.State(),
		Hash:     HashMemory(mem),
	})
}

// advance produces the live tick T: predict, update, snapshot, render,
// then moves T forward (SPEC_FULL.md §4.5.2 steps 4-6).
func (s *Scheduler) advance(ctx context.Context) error {
	if err := s.simulateTick(ctx, s.tick, true); err != nil {
		return err
	}
	s.tick++
	return nil
}

// rollbackAndResimulate restores the snapshot at lastConfirmed and
// resimulates forward to T-1 using the now-confirmed inputs, without
// calling render and without touching the staging layer (§4.5.2/§4.5.3).
func (s *Scheduler) rollbackAndResimulate(ctx context.Context) error {
	snap, ok := s.ring.Find(s.lastConfirmed)
	if !ok {
		// The snapshot this rollback needs has already been evicted —
		// the window grew past the ring's retention without us noticing
		// in time. Stall rather than resimulate from wrong state.
		s.stalled = true
		s.events.Push(Event{Kind: EventStall, Tick: s.tick})
		return nil
	}

	if err := s.guest.RestoreMemory(snap.Memory); err != nil {
		return err
	}
	s.services.RNG.Restore(snap.RNGState)
	s.services.Clock.Restore(snap.Tick + 1)
	s.staging.DiscardForRollback()

	if frames := int(s.tick - 1 - s.lastConfirmed); frames > 0 {
		s.events.Push(Event{Kind: EventRollback, Tick: s.tick, Frames: frames})
	}

	for t := s.lastConfirmed + 1; t < s.tick; t++ {
		if err := s.simulateTick(ctx, t, false); err != nil {
			return err
		}
	}

	s.lastConfirmed = s.tick - 1
	return nil
}

func (s *Scheduler) checkDisconnects() {
	if s.cfg.DisconnectTimeout <= 0 {
		return
	}
	for i := range s.players {
		if s.players[i].local || s.players[i].disconnected {
			continue
		}
		last := s.link.LastSeen(uint32(i))
		if last.IsZero() {
			continue
		}
		if time.Since(last) > s.cfg.DisconnectTimeout {
			s.players[i].disconnected = true
			s.events.Push(Event{Kind: EventDisconnect, Tick: s.tick, Player: uint32(i)})
		}
	}
}

func (s *Scheduler) maybeCheckDesync() {
	if s.cfg.DesyncCheckInterval <= 0 || s.tick == 0 {
		return
	}
	lastProduced := s.tick - 1
	if lastProduced%uint64(s.cfg.DesyncCheckInterval) != 0 {
		return
	}
	snap, ok := s.ring.Find(lastProduced)
	if !ok {
		return
	}
	for i := range s.players {
		if s.players[i].local {
			s.link.SendHash(lastProduced, uint32(i), snap.Hash)
		}
	}
	for _, rh := range s.link.PollHashes() {
		local, ok := s.ring.Find(rh.Tick)
		if !ok {
			continue
		}
		if local.Hash != rh.Hash {
			s.events.Push(Event{Kind: EventDesync, Tick: rh.Tick, OurHash: local.Hash, TheirHash: rh.Hash})
		}
	}
}

// pruneHistory drops input bookkeeping for ticks no longer reachable by
// any future rollback, bounding the scheduler's map growth over a long
// session.
func (s *Scheduler) pruneHistory() {
	span := uint64(s.cfg.MaxRollbackFrames) + 2
	if s.lastConfirmed < span {
		return
	}
	floor := s.lastConfirmed - span
	for t := range s.simulatedInputs {
		if t < floor {
			delete(s.simulatedInputs, t)
			delete(s.confirmedInputs, t)
			delete(s.confirmedMask, t)
		}
	}
}
