package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/nethercore-systems/nethercore/internal/config"
	"github.com/nethercore-systems/nethercore/internal/detsvc"
	"github.com/nethercore-systems/nethercore/internal/nchs"
	"github.com/nethercore-systems/nethercore/internal/rollback"
	"github.com/nethercore-systems/nethercore/internal/rom"
	"github.com/nethercore-systems/nethercore/internal/sandbox"
	"github.com/nethercore-systems/nethercore/internal/staging"
)

// errQuit is returned internally by Session.step when the guest has called
// quit(); Run treats it as a clean shutdown rather than a failure.
var errQuit = errors.New("orchestrator: guest requested quit")

// Backend is the external renderer/audio/save layer a Session drains its
// capability-staging output into. It plays the same narrow-dependency
// role sandbox.InputReader and rollback.LocalInputSource play: the
// orchestrator depends only on this interface, never on a concrete GPU or
// audio library, the same minimal-surface DI idiom the teacher uses
// throughout (engine/streamer/bot all injected by interface into its
// HTTP server).
type Backend interface {
	// MaterializeResources consumes one drained batch of init-phase
	// resource declarations, turning them into real backend-owned
	// objects keyed by the guest resource handle already embedded in
	// each entry.
	MaterializeResources(pending []staging.PendingResource)
	// ConsumeFrame receives the draw command list produced by the most
	// recent render() call, valid only until the next tick.
	ConsumeFrame(dl *staging.DrawCommandList)
	// OnEvent receives scheduler quality-of-service notifications
	// (rollback, stall, desync, disconnect) as they are drained.
	OnEvent(ev rollback.Event)
}

// NopBackend discards everything; useful for headless sessions (tests,
// dedicated relay hosts with no local player) where nothing consumes
// rendered output.
type NopBackend struct{}

func (NopBackend) MaterializeResources([]staging.PendingResource) {}
func (NopBackend) ConsumeFrame(*staging.DrawCommandList)          {}
func (NopBackend) OnEvent(rollback.Event)                         {}

// Session is one fully-wired, running cartridge instance: sandbox, rollback
// scheduler, and deterministic services, paced at the ROM's declared tick
// rate.
type Session struct {
	mode      Mode
	rom       *rom.ROM
	services  *detsvc.Services
	staging   *staging.Staging
	guest     *sandbox.GuestInstance
	scheduler *rollback.Scheduler
	pacer     *rollback.Pacer
	backend   Backend
	start     nchs.SessionStart
}

// buildSession implements SPEC_FULL.md §4.7 steps 2-6: load and validate
// the ROM, wire deterministic services and staging from a settled
// SessionStart, instantiate the sandbox (two-phase, per
// rollback.NewScheduler's doc comment), call init, drain pending
// resources into the backend, and invoke post_connect if the guest
// exports it.
func buildSession(ctx context.Context, mode Mode, romBytes []byte, consoleCfg config.ConsoleConfig, saveDir string, start nchs.SessionStart, localMask uint32, local rollback.LocalInputSource, link rollback.PeerLink, backend Backend) (*Session, error) {
	r, err := rom.Load(romBytes)
	if err != nil {
		return nil, fmt.Errorf("orchestrator: load rom: %w", err)
	}
	if err := rom.Validate(r, rom.Budgets{CodeBudgetBytes: consoleCfg.CodeBudgetBytes, ROMBudgetBytes: consoleCfg.ROMBudgetBytes}); err != nil {
		return nil, fmt.Errorf("orchestrator: validate rom: %w", err)
	}

	if backend == nil {
		backend = NopBackend{}
	}

	saves := detsvc.NewSaveStore(saveDir, consoleCfg.SaveSlotCount, consoleCfg.SaveSlotMaxBytes)
	services := detsvc.New(start.Seed, r.Metadata.TickRate, saves)
	stg := staging.New()

	playerCount := start.ActivePlayerCount
	if playerCount == 0 {
		playerCount = r.Metadata.MaxPlayers
	}

	schedCfg := rollback.Config{
		PlayerCount:         playerCount,
		LocalMask:           localMask,
		InputDelayFrames:    start.Network.InputDelayFrames,
		MaxRollbackFrames:   start.Network.MaxRollbackFrames,
		DisconnectTimeout:   time.Duration(start.Network.DisconnectTimeout),
		DesyncCheckInterval: start.Network.DesyncCheckInterval,
		TickRate:            r.Metadata.TickRate,
	}
	scheduler := rollback.NewScheduler(services, stg, local, link, schedCfg)

	guest, err := sandbox.Instantiate(ctx, r, services, stg, scheduler, sandbox.Config{
		RAMBudgetBytes: consoleCfg.RAMBudgetBytes,
		CPUBudget:      consoleCfg.CPUBudget,
	})
	if err != nil {
		return nil, fmt.Errorf("orchestrator: instantiate sandbox: %w", err)
	}
	scheduler.AttachGuest(guest)

	if err := guest.CallInit(ctx); err != nil {
		guest.Close(ctx)
		return nil, fmt.Errorf("orchestrator: guest init: %w", err)
	}
	backend.MaterializeResources(stg.Pending.Drain())

	if guest.HasPostConnect() {
		if err := guest.CallPostConnect(ctx); err != nil {
			guest.Close(ctx)
			return nil, fmt.Errorf("orchestrator: guest post_connect: %w", err)
		}
	}

	return &Session{
		mode:      mode,
		rom:       r,
		services:  services,
		staging:   stg,
		guest:     guest,
		scheduler: scheduler,
		pacer:     rollback.NewPacer(r.Metadata.TickRate),
		backend:   backend,
		start:     start,
	}, nil
}

// Run drives the scheduler loop (SPEC_FULL.md §4.7 step 7) until the
// context is canceled, the guest traps, or the guest calls quit(). A
// clean quit is reported as a nil error.
func (s *Session) Run(ctx context.Context) error {
	err := s.pacer.Run(ctx, s.step)
	if errors.Is(err, errQuit) {
		return nil
	}
	return err
}

func (s *Session) step(ctx context.Context) error {
	var err error
	if s.mode == ModeSyncTest {
		err = s.scheduler.StepSyncTest(ctx)
	} else {
		err = s.scheduler.Step(ctx)
	}
	if err != nil {
		return err
	}

	for _, ev := range s.scheduler.Events().Drain() {
		s.backend.OnEvent(ev)
	}
	s.backend.ConsumeFrame(s.staging.Draws)

	if s.guest.QuitRequested() {
		s.guest.ClearQuitRequested()
		return errQuit
	}
	return nil
}

// Close tears the session down (SPEC_FULL.md §4.7 step 8): releases the
// sandbox's runtime and everything it owns. The deterministic services
// and staging layer hold no resources of their own beyond Go-GC'd memory,
// so closing the guest is sufficient.
func (s *Session) Close(ctx context.Context) error {
	return s.guest.Close(ctx)
}

// Mode reports which mode the session was started in.
func (s *Session) Mode() Mode { return s.mode }

// SessionStart returns the settled session parameters every peer applied.
func (s *Session) SessionStart() nchs.SessionStart { return s.start }

// Status is the small, JSON-friendly summary the HTTP control surface and
// inspector snapshot feed both read; it exists so neither package needs to
// import sandbox/rollback/detsvc directly.
type Status struct {
	Mode        string `json:"mode"`
	CartridgeID string `json:"cartridgeId"`
	Tick        uint64 `json:"tick"`
	PlayerCount int    `json:"playerCount"`
	TickRate    int    `json:"tickRate"`
}

// Status reports the session's current summary.
func (s *Session) Status() Status {
	playerCount := s.start.ActivePlayerCount
	if playerCount == 0 {
		playerCount = s.rom.Metadata.MaxPlayers
	}
	return Status{
		Mode:        s.mode.String(),
		CartridgeID: s.rom.Metadata.ID,
		Tick:        s.services.Clock.TickCount(),
		PlayerCount: playerCount,
		TickRate:    s.rom.Metadata.TickRate,
	}
}

// Snapshot implements inspector.SnapshotSource.
func (s *Session) Snapshot() interface{} { return s.Status() }
