package sandbox

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/nethercore-systems/nethercore/internal/detsvc"
	"github.com/nethercore-systems/nethercore/internal/rom"
	"github.com/nethercore-systems/nethercore/internal/staging"
)

// stubInput is a fixed single-player InputReader for tests that don't
// exercise input threading.
type stubInput struct{}

func (stubInput) ButtonsHeld(player uint32) uint32 { return 0 }
func (stubInput) StickX(player uint32) float32     { return 0 }
func (stubInput) StickY(player uint32) float32     { return 0 }
func (stubInput) PlayerCount() uint32              { return 1 }
func (stubInput) LocalPlayerMask() uint32          { return 1 }

// moduleWithMemory exports init/update/render (all empty) and one page of
// linear memory, hand-assembled since the toolchain that would normally
// produce this bytecode is off-limits here.
var moduleWithMemory = []byte{
	0x00, 0x61, 0x73, 0x6D, 0x01, 0x00, 0x00, 0x00, // magic, version
	0x01, 0x04, 0x01, 0x60, 0x00, 0x00, // type section: ()->()
	0x03, 0x04, 0x03, 0x00, 0x00, 0x00, // function section: 3 funcs of type 0
	0x05, 0x03, 0x01, 0x00, 0x01, // memory section: 1 memory, min 1 page
	0x07, 0x23, 0x04, // export section, 4 exports
	0x06, 'm', 'e', 'm', 'o', 'r', 'y', 0x02, 0x00,
	0x04, 'i', 'n', 'i', 't', 0x00, 0x00,
	0x06, 'u', 'p', 'd', 'a', 't', 'e', 0x00, 0x01,
	0x06, 'r', 'e', 'n', 'd', 'e', 'r', 0x00, 0x02,
	0x0A, 0x0A, 0x03, // code section, 3 bodies
	0x02, 0x00, 0x0B,
	0x02, 0x00, 0x0B,
	0x02, 0x00, 0x0B,
}

// moduleOverBudget is moduleWithMemory but declares a 2-page minimum, so it
// must be rejected against a 1-page budget.
var moduleOverBudget = []byte{
	0x00, 0x61, 0x73, 0x6D, 0x01, 0x00, 0x00, 0x00,
	0x01, 0x04, 0x01, 0x60, 0x00, 0x00,
	0x03, 0x04, 0x03, 0x00, 0x00, 0x00,
	0x05, 0x03, 0x01, 0x00, 0x02, // min 2 pages
	0x07, 0x23, 0x04,
	0x06, 'm', 'e', 'm', 'o', 'r', 'y', 0x02, 0x00,
	0x04, 'i', 'n', 'i', 't', 0x00, 0x00,
	0x06, 'u', 'p', 'd', 'a', 't', 'e', 0x00, 0x01,
	0x06, 'r', 'e', 'n', 'd', 'e', 'r', 0x00, 0x02,
	0x0A, 0x0A, 0x03,
	0x02, 0x00, 0x0B,
	0x02, 0x00, 0x0B,
	0x02, 0x00, 0x0B,
}

// moduleCallsRandomInInit imports env.random and calls it from init(),
// which is only legal during update() — it exercises PhaseViolation
// propagating as a real wazero trap.
var moduleCallsRandomInInit = []byte{
	0x00, 0x61, 0x73, 0x6D, 0x01, 0x00, 0x00, 0x00,
	0x01, 0x08, 0x02, 0x60, 0x00, 0x00, 0x60, 0x00, 0x01, 0x7F, // types: ()->(), ()->i32
	0x02, 0x0E, 0x01, 0x03, 'e', 'n', 'v', 0x06, 'r', 'a', 'n', 'd', 'o', 'm', 0x00, 0x01,
	0x03, 0x04, 0x03, 0x00, 0x00, 0x00,
	0x07, 0x1A, 0x03,
	0x04, 'i', 'n', 'i', 't', 0x00, 0x01,
	0x06, 'u', 'p', 'd', 'a', 't', 'e', 0x00, 0x02,
	0x06, 'r', 'e', 'n', 'd', 'e', 'r', 0x00, 0x03,
	0x0A, 0x0D, 0x03,
	0x05, 0x00, 0x10, 0x00, 0x1A, 0x0B, // init: call $random; drop; end
	0x02, 0x00, 0x0B,
	0x02, 0x00, 0x0B,
}

// moduleInfiniteUpdate spins forever inside update(), to exercise the CPU
// budget ceiling.
var moduleInfiniteUpdate = []byte{
	0x00, 0x61, 0x73, 0x6D, 0x01, 0x00, 0x00, 0x00,
	0x01, 0x04, 0x01, 0x60, 0x00, 0x00,
	0x03, 0x04, 0x03, 0x00, 0x00, 0x00,
	0x07, 0x1A, 0x03,
	0x04, 'i', 'n', 'i', 't', 0x00, 0x00,
	0x06, 'u', 'p', 'd', 'a', 't', 'e', 0x00, 0x01,
	0x06, 'r', 'e', 'n', 'd', 'e', 'r', 0x00, 0x02,
	0x0A, 0x0F, 0x03,
	0x02, 0x00, 0x0B,
	0x07, 0x00, 0x03, 0x40, 0x0C, 0x00, 0x0B, 0x0B, // update: loop { br 0 }
	0x02, 0x00, 0x0B,
}

// moduleCallsRomTextureInInit imports env.rom_texture and calls it in
// init() with a zero-length id, which never resolves in an empty asset
// pack — it exercises a missing-asset lookup trapping instead of quietly
// returning handle 0.
var moduleCallsRomTextureInInit = []byte{
	0x00, 0x61, 0x73, 0x6D, 0x01, 0x00, 0x00, 0x00,
	0x01, 0x0A, 0x02, 0x60, 0x00, 0x00, 0x60, 0x02, 0x7F, 0x7F, 0x01, 0x7F, // types: ()->(), (i32,i32)->i32
	0x02, 0x13, 0x01, 0x03, 'e', 'n', 'v', 0x0B, 'r', 'o', 'm', '_', 't', 'e', 'x', 't', 'u', 'r', 'e', 0x00, 0x01,
	0x03, 0x04, 0x03, 0x00, 0x00, 0x00,
	0x05, 0x03, 0x01, 0x00, 0x01,
	0x07, 0x23, 0x04,
	0x06, 'm', 'e', 'm', 'o', 'r', 'y', 0x02, 0x00,
	0x04, 'i', 'n', 'i', 't', 0x00, 0x01,
	0x06, 'u', 'p', 'd', 'a', 't', 'e', 0x00, 0x02,
	0x06, 'r', 'e', 'n', 'd', 'e', 'r', 0x00, 0x03,
	0x0A, 0x11, 0x03,
	0x09, 0x00, 0x41, 0x00, 0x41, 0x00, 0x10, 0x00, 0x1A, 0x0B, // init: call $rom_texture(0,0); drop; end
	0x02, 0x00, 0x0B,
	0x02, 0x00, 0x0B,
}

func newServices(t *testing.T) *detsvc.Services {
	t.Helper()
	store := detsvc.NewSaveStore(t.TempDir(), 4, 4096)
	return detsvc.New(1, 60, store)
}

func instantiate(t *testing.T, code []byte, cfg Config) (*GuestInstance, error) {
	t.Helper()
	r := &rom.ROM{Code: code, Assets: rom.NewAssetPack()}
	return Instantiate(context.Background(), r, newServices(t), staging.New(), stubInput{}, cfg)
}

func TestInstantiateExposesMemoryExport(t *testing.T) {
	g, err := instantiate(t, moduleWithMemory, Config{RAMBudgetBytes: 65536})
	if err != nil {
		t.Fatalf("instantiate: %v", err)
	}
	defer g.Close(context.Background())

	if !g.HasMemoryExport() {
		t.Error("expected memory export to be detected")
	}
	if g.Size() != 65536 {
		t.Errorf("expected 1 page (65536 bytes), got %d", g.Size())
	}
}

func TestInstantiateWithoutMemoryExport(t *testing.T) {
	g, err := instantiate(t, moduleInfiniteUpdate, Config{RAMBudgetBytes: 65536})
	if err != nil {
		t.Fatalf("instantiate: %v", err)
	}
	defer g.Close(context.Background())

	if g.HasMemoryExport() {
		t.Error("expected no memory export")
	}
}

func TestInstantiateRejectsModuleOverMemoryBudget(t *testing.T) {
	_, err := instantiate(t, moduleOverBudget, Config{RAMBudgetBytes: 65536})
	if err == nil {
		t.Fatal("expected instantiation to fail for a module declaring more memory than the budget")
	}
}

func TestPhaseViolationSurfacesAsTrap(t *testing.T) {
	g, err := instantiate(t, moduleCallsRandomInInit, Config{RAMBudgetBytes: 65536})
	if err != nil {
		t.Fatalf("instantiate: %v", err)
	}
	defer g.Close(context.Background())

	err = g.CallInit(context.Background())
	if err == nil {
		t.Fatal("expected a trap calling random() during init")
	}
	var trap *Trap
	if !errors.As(err, &trap) {
		t.Fatalf("expected a *Trap, got %T: %v", err, err)
	}
	if trap.Reason != TrapPhaseViolation {
		t.Errorf("expected TrapPhaseViolation, got %s", trap.Reason)
	}
}

func TestMissingAssetSurfacesAsTrap(t *testing.T) {
	g, err := instantiate(t, moduleCallsRomTextureInInit, Config{RAMBudgetBytes: 65536})
	if err != nil {
		t.Fatalf("instantiate: %v", err)
	}
	defer g.Close(context.Background())

	err = g.CallInit(context.Background())
	if err == nil {
		t.Fatal("expected a trap calling rom_texture with an unknown id")
	}
	var trap *Trap
	if !errors.As(err, &trap) {
		t.Fatalf("expected a *Trap, got %T: %v", err, err)
	}
	if trap.Reason != TrapHostFunctionFailure {
		t.Errorf("expected TrapHostFunctionFailure, got %s", trap.Reason)
	}
}

func TestCallUpdateExceedsCPUBudget(t *testing.T) {
	g, err := instantiate(t, moduleInfiniteUpdate, Config{RAMBudgetBytes: 65536, CPUBudget: 10 * time.Millisecond})
	if err != nil {
		t.Fatalf("instantiate: %v", err)
	}
	defer g.Close(context.Background())

	err = g.CallUpdate(context.Background())
	if err == nil {
		t.Fatal("expected a CPU budget trap from an infinite loop")
	}
	var trap *Trap
	if !errors.As(err, &trap) {
		t.Fatalf("expected a *Trap, got %T: %v", err, err)
	}
	if trap.Reason != TrapCPUExceeded {
		t.Errorf("expected TrapCPUExceeded, got %s", trap.Reason)
	}
}

func TestPhaseIdleBetweenCalls(t *testing.T) {
	g, err := instantiate(t, moduleWithMemory, Config{RAMBudgetBytes: 65536})
	if err != nil {
		t.Fatalf("instantiate: %v", err)
	}
	defer g.Close(context.Background())

	if g.Phase() != PhaseIdle {
		t.Fatalf("expected idle phase before any call, got %s", g.Phase())
	}
	if err := g.CallInit(context.Background()); err != nil {
		t.Fatalf("CallInit: %v", err)
	}
	if g.Phase() != PhaseIdle {
		t.Errorf("expected phase to return to idle after init, got %s", g.Phase())
	}
}

func TestSnapshotRestoreRoundTrip(t *testing.T) {
	g, err := instantiate(t, moduleWithMemory, Config{RAMBudgetBytes: 65536})
	if err != nil {
		t.Fatalf("instantiate: %v", err)
	}
	defer g.Close(context.Background())

	if err := g.WriteMemorySlice(0, []byte{1, 2, 3, 4}); err != nil {
		t.Fatalf("write: %v", err)
	}
	snap := g.Snapshot()

	if err := g.WriteMemorySlice(0, []byte{9, 9, 9, 9}); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := g.RestoreMemory(snap); err != nil {
		t.Fatalf("restore: %v", err)
	}

	buf, err := g.ReadMemorySlice(0, 4)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	want := []byte{1, 2, 3, 4}
	for i := range want {
		if buf[i] != want[i] {
			t.Fatalf("expected restored memory %v, got %v", want, buf)
		}
	}
}

func TestQuitRequestedDeferredFlag(t *testing.T) {
	g, err := instantiate(t, moduleWithMemory, Config{RAMBudgetBytes: 65536})
	if err != nil {
		t.Fatalf("instantiate: %v", err)
	}
	defer g.Close(context.Background())

	if g.QuitRequested() {
		t.Fatal("expected quit not requested initially")
	}
	g.ClearQuitRequested()
	if g.QuitRequested() {
		t.Error("expected quit flag to remain clear")
	}
}
