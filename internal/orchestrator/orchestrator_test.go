package orchestrator

import (
	"context"
	"testing"
	"time"

	"github.com/nethercore-systems/nethercore/internal/config"
	"github.com/nethercore-systems/nethercore/internal/rollback"
	"github.com/nethercore-systems/nethercore/internal/rom"
	"github.com/nethercore-systems/nethercore/internal/staging"
)

// moduleWithMemory exports init/update/render (all empty) and one page of
// linear memory — the same hand-assembled fixture the sandbox and
// rollback packages' own tests use.
var moduleWithMemory = []byte{
	0x00, 0x61, 0x73, 0x6D, 0x01, 0x00, 0x00, 0x00,
	0x01, 0x04, 0x01, 0x60, 0x00, 0x00,
	0x03, 0x04, 0x03, 0x00, 0x00, 0x00,
	0x05, 0x03, 0x01, 0x00, 0x01,
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

func testROMBytes(t *testing.T, tickRate, maxPlayers int) []byte {
	t.Helper()
	r := &rom.ROM{
		Metadata: rom.Metadata{
			ID: "test.cart", Title: "Test Cart", Author: "nethercore",
			Version: "0.0.1", TickRate: tickRate, MaxPlayers: maxPlayers,
			NetplayEnabled: true,
		},
		Code:   moduleWithMemory,
		Assets: rom.NewAssetPack(),
	}
	encoded, err := rom.Encode(r)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	return encoded
}

type recordingBackend struct {
	materializeCalls int
	frameCalls       int
	events           []rollback.Event
}

func (b *recordingBackend) MaterializeResources(pending []staging.PendingResource) {
	b.materializeCalls++
}
func (b *recordingBackend) ConsumeFrame(dl *staging.DrawCommandList) { b.frameCalls++ }
func (b *recordingBackend) OnEvent(ev rollback.Event)                { b.events = append(b.events, ev) }

func testConsoleConfig() config.ConsoleConfig {
	cfg := config.DefaultConsole()
	cfg.RAMBudgetBytes = 65536
	return cfg
}

func TestRunLocalAdvancesAndStopsOnCancel(t *testing.T) {
	romBytes := testROMBytes(t, 60, 1)
	backend := &recordingBackend{}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	err := RunLocal(ctx, romBytes, testConsoleConfig(), config.DefaultNetplay(), t.TempDir(), 1, rollback.NewSyntheticInputSource(1), backend)
	if err != nil {
		t.Fatalf("RunLocal: %v", err)
	}
	if backend.materializeCalls != 1 {
		t.Fatalf("expected exactly one MaterializeResources call, got %d", backend.materializeCalls)
	}
	if backend.frameCalls == 0 {
		t.Fatalf("expected at least one ConsumeFrame call")
	}
}

func TestRunSyncTestReportsNoDesyncForDeterministicGuest(t *testing.T) {
	romBytes := testROMBytes(t, 60, 1)
	backend := &recordingBackend{}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	err := RunSyncTest(ctx, romBytes, testConsoleConfig(), config.DefaultNetplay(), t.TempDir(), 1, 0xFEED, backend)
	if err != nil {
		t.Fatalf("RunSyncTest: %v", err)
	}
	for _, ev := range backend.events {
		if ev.Kind == rollback.EventDesync {
			t.Fatalf("unexpected desync event at tick %d", ev.Tick)
		}
	}
}

func TestModeString(t *testing.T) {
	cases := map[Mode]string{
		ModeLocal:    "Local",
		ModeSyncTest: "SyncTest",
		ModeP2PHost:  "P2PHost",
		ModeP2PGuest: "P2PGuest",
	}
	for mode, want := range cases {
		if got := mode.String(); got != want {
			t.Fatalf("Mode(%d).String() = %q, want %q", mode, got, want)
		}
	}
}
