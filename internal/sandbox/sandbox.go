package sandbox

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"

	"github.com/nethercore-systems/nethercore/internal/detsvc"
	"github.com/nethercore-systems/nethercore/internal/rom"
	"github.com/nethercore-systems/nethercore/internal/staging"
)

const wasmPageSize = 65536

// InputReader resolves the currently-published input block for a given
// player during update(). The scheduler implements this; the sandbox only
// depends on the narrow read it needs, the same minimal-interface DI style
// the teacher uses for its router's engine/streamer dependencies.
type InputReader interface {
	ButtonsHeld(player uint32) uint32
	StickX(player uint32) float32
	StickY(player uint32) float32
	PlayerCount() uint32
	LocalPlayerMask() uint32
}

// Config bounds a single guest instance.
type Config struct {
	RAMBudgetBytes int64
	CPUBudget      time.Duration
}

// GuestInstance wraps one instantiated wazero module together with the
// phase state machine, the resource table, and references to the
// deterministic services / staging layer / asset pack its host functions
// read and write.
type GuestInstance struct {
	runtime wazero.Runtime
	module  api.Module
	mem     api.Memory

	phase Phase // single-threaded simulation: no lock needed (SPEC_FULL.md §5)

	cfg      Config
	services *detsvc.Services
	staging  *staging.Staging
	assets   *rom.AssetPack
	resTable *ResourceTable
	input    InputReader

	hasMemoryExport bool
	quitRequested   bool

	initFn        api.Function
	updateFn      api.Function
	renderFn      api.Function
	postConnectFn api.Function
}

// QuitRequested reports whether the guest called quit() during the most
// recent update(). Its effect is deferred to end-of-tick by design — the
// orchestrator checks this after CallUpdate returns, not during the call.
func (g *GuestInstance) QuitRequested() bool {
	return g.quitRequested
}

// ClearQuitRequested resets the quit flag, called by the orchestrator once
// it has acted on it.
func (g *GuestInstance) ClearQuitRequested() {
	g.quitRequested = false
}

// Instantiate compiles and links the guest module, binds the full import
// surface, and sets a hard ceiling on linear-memory growth equal to the
// console's RAM budget. Rejects modules whose declared minimum memory
// exceeds the budget.
func Instantiate(ctx context.Context, r *rom.ROM, services *detsvc.Services, stg *staging.Staging, input InputReader, cfg Config) (*GuestInstance, error) {
	pages := uint32(cfg.RAMBudgetBytes / wasmPageSize)
	if pages == 0 {
		pages = 1
	}

	rconfig := wazero.NewRuntimeConfig().
		WithMemoryLimitPages(pages).
		WithCloseOnContextDone(true) // lets a context.WithTimeout forcibly halt a runaway guest call

	runtime := wazero.NewRuntimeWithConfig(ctx, rconfig)

	g := &GuestInstance{
		runtime:  runtime,
		cfg:      cfg,
		services: services,
		staging:  stg,
		assets:   r.Assets,
		resTable: NewResourceTable(),
		input:    input,
		phase:    PhaseIdle,
	}

	if err := g.bindImports(ctx); err != nil {
		runtime.Close(ctx)
		return nil, fmt.Errorf("sandbox: bind imports: %w", err)
	}

	compiled, err := runtime.CompileModule(ctx, r.Code)
	if err != nil {
		runtime.Close(ctx)
		return nil, fmt.Errorf("sandbox: compile module: %w", err)
	}

	// Guest modules declare and export their own memory rather than
	// importing it from the host, so the budget check walks the exported
	// side; ImportedMemories is only ever populated by a hypothetical
	// host-provided memory import, which this runtime never offers.
	if mem, ok := compiled.ExportedMemories()["memory"]; ok {
		if uint32(mem.Min()) > pages {
			runtime.Close(ctx)
			return nil, fmt.Errorf("sandbox: declared minimum memory %d pages exceeds budget %d pages", mem.Min(), pages)
		}
	}
	for _, mem := range compiled.ImportedMemories() {
		if uint32(mem.Min()) > pages {
			runtime.Close(ctx)
			return nil, fmt.Errorf("sandbox: declared minimum memory %d pages exceeds budget %d pages", mem.Min(), pages)
		}
	}

	modConfig := wazero.NewModuleConfig().WithName("guest")
	module, err := runtime.InstantiateModule(ctx, compiled, modConfig)
	if err != nil {
		runtime.Close(ctx)
		return nil, fmt.Errorf("sandbox: instantiate module: %w", err)
	}

	g.module = module
	g.mem = module.Memory()
	g.hasMemoryExport = g.mem != nil

	g.initFn = module.ExportedFunction("init")
	g.updateFn = module.ExportedFunction("update")
	g.renderFn = module.ExportedFunction("render")
	g.postConnectFn = module.ExportedFunction("post_connect")

	return g, nil
}

// HasMemoryExport reports whether the guest exports linear memory, which
// is required for rollback (SPEC_FULL.md §3). Its absence disables
// rollback and must be reported at load time if rollback was requested.
func (g *GuestInstance) HasMemoryExport() bool {
	return g.hasMemoryExport
}

// ResourceCount returns the number of handles issued so far, for
// diagnostics.
func (g *GuestInstance) ResourceCount() int {
	return g.resTable.Count()
}

// Close releases the wazero runtime and everything it owns.
func (g *GuestInstance) Close(ctx context.Context) error {
	return g.runtime.Close(ctx)
}

func (g *GuestInstance) callWithBudget(ctx context.Context, fn api.Function, phase Phase) error {
	if fn == nil {
		return nil // absent export is a no-op
	}

	callCtx := ctx
	var cancel context.CancelFunc
	if g.cfg.CPUBudget > 0 {
		callCtx, cancel = context.WithTimeout(ctx, g.cfg.CPUBudget)
		defer cancel()
	}

	g.phase = phase
	defer func() { g.phase = PhaseIdle }()

	_, err := fn.Call(callCtx)
	if err != nil {
		if callCtx.Err() != nil {
			return newTrap(TrapCPUExceeded, "%s exceeded %s", phase, g.cfg.CPUBudget)
		}
		var trap *Trap
		if errors.As(err, &trap) {
			return trap
		}
		return newTrap(TrapGuestTrap, "%v", err)
	}
	return nil
}

// CallInit invokes the guest's init export, if present.
func (g *GuestInstance) CallInit(ctx context.Context) error {
	return g.callWithBudget(ctx, g.initFn, PhaseInit)
}

// CallUpdate invokes the guest's update export, if present.
func (g *GuestInstance) CallUpdate(ctx context.Context) error {
	return g.callWithBudget(ctx, g.updateFn, PhaseUpdate)
}

// CallRender invokes the guest's render export, if present. Skipped
// entirely by the caller during resimulation (SPEC_FULL.md §4.5.2).
func (g *GuestInstance) CallRender(ctx context.Context) error {
	return g.callWithBudget(ctx, g.renderFn, PhaseRender)
}

// HasPostConnect reports whether the guest exports post_connect, called
// once the Session Orchestrator has applied a SessionStart.
func (g *GuestInstance) HasPostConnect() bool {
	return g.postConnectFn != nil
}

// CallPostConnect invokes the guest's post_connect export, if present, at
// init-like phase: session parameters (player handles, seed) are settled
// by now, but no tick has been simulated yet.
func (g *GuestInstance) CallPostConnect(ctx context.Context) error {
	return g.callWithBudget(ctx, g.postConnectFn, PhaseInit)
}

// Phase reports the lifecycle call currently executing, PhaseIdle between
// calls.
func (g *GuestInstance) Phase() Phase {
	return g.phase
}

func (g *GuestInstance) requirePhase(want Phase) error {
	if g.phase != want {
		return newTrap(TrapPhaseViolation, "import requires phase %s, called during %s", want, g.phase)
	}
	return nil
}

func (g *GuestInstance) requireNotPhase(forbidden Phase) error {
	if g.phase == forbidden {
		return newTrap(TrapPhaseViolation, "import forbidden during phase %s", forbidden)
	}
	return nil
}
