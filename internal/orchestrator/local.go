package orchestrator

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"time"

	"github.com/nethercore-systems/nethercore/internal/config"
	"github.com/nethercore-systems/nethercore/internal/nchs"
	"github.com/nethercore-systems/nethercore/internal/rollback"
)

// synthesizeSeed draws a 64-bit seed from the OS RNG, the same source
// nchs.Host.BuildSessionStart uses: nothing has been simulated yet, so
// there is no deterministic RNG to draw from instead.
func synthesizeSeed() (uint64, error) {
	var buf [8]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(buf[:]), nil
}

// synthesizeSessionStart builds a SessionStart locally for modes with no
// NCHS negotiation: every requested player is active and local, and the
// network parameters come straight from configuration rather than a peer
// broadcast (SPEC_FULL.md §4.7: "otherwise synthesize an equivalent
// SessionStart locally").
func synthesizeSessionStart(playerCount int, seed uint64, netplayCfg config.NetplayConfig) (nchs.SessionStart, error) {
	if seed == 0 {
		var err error
		seed, err = synthesizeSeed()
		if err != nil {
			return nchs.SessionStart{}, fmt.Errorf("orchestrator: synthesize seed: %w", err)
		}
	}

	players := make([]nchs.PlayerConnectionInfo, playerCount)
	for i := 0; i < playerCount; i++ {
		players[i] = nchs.PlayerConnectionInfo{Handle: uint8(i + 1), Active: true}
	}

	return nchs.SessionStart{
		Seed:         seed,
		StartingTick: 0,
		Players:      players,
		ActivePlayerCount: playerCount,
		Network: nchs.NetworkConfig{
			InputDelayFrames:    netplayCfg.InputDelayFrames,
			MaxRollbackFrames:   netplayCfg.MaxRollbackFrames,
			DisconnectTimeout:   int64(netplayCfg.DisconnectTimeout),
			DesyncCheckInterval: netplayCfg.DesyncCheckInterval,
		},
		Settings: nchs.GameSettings{
			FixedTimestepMicros: int64(time.Second) / int64(netplayCfg.TickRate) / int64(time.Microsecond),
		},
		SaveDirective: nchs.SaveSlotDirective{Mode: nchs.SaveSlotNewGame},
	}, nil
}

func fullMask(playerCount int) uint32 {
	if playerCount >= 32 {
		return ^uint32(0)
	}
	return (uint32(1) << uint(playerCount)) - 1
}

// RunLocal starts and runs a session with every player locally controlled
// and no network peer (SPEC_FULL.md §4.7, Mode = Local). It blocks until
// ctx is canceled, the guest traps, or the guest calls quit(), then tears
// the session down.
func RunLocal(ctx context.Context, romBytes []byte, consoleCfg config.ConsoleConfig, netplayCfg config.NetplayConfig, saveDir string, playerCount int, local rollback.LocalInputSource, backend Backend, ready ...func(*Session)) error {
	start, err := synthesizeSessionStart(playerCount, 0, netplayCfg)
	if err != nil {
		return err
	}

	session, err := buildSession(ctx, ModeLocal, romBytes, consoleCfg, saveDir, start, fullMask(playerCount), local, rollback.NewLocalLink(), backend)
	if err != nil {
		return err
	}
	defer session.Close(ctx)
	notifyReady(session, ready)

	return session.Run(ctx)
}

// RunSyncTest starts and runs a session driven entirely by synthetic
// input, forcing a rollback-and-resimulate self-check every tick
// (SPEC_FULL.md §4.7, Mode = SyncTest). A zero seed draws a fresh random
// one; a nonzero seed reproduces a prior run exactly, useful for
// regression-testing a specific failure.
func RunSyncTest(ctx context.Context, romBytes []byte, consoleCfg config.ConsoleConfig, netplayCfg config.NetplayConfig, saveDir string, playerCount int, seed uint64, backend Backend, ready ...func(*Session)) error {
	start, err := synthesizeSessionStart(playerCount, seed, netplayCfg)
	if err != nil {
		return err
	}

	local := rollback.NewSyntheticInputSource(start.Seed)
	session, err := buildSession(ctx, ModeSyncTest, romBytes, consoleCfg, saveDir, start, fullMask(playerCount), local, rollback.NewLocalLink(), backend)
	if err != nil {
		return err
	}
	defer session.Close(ctx)
	notifyReady(session, ready)

	return session.Run(ctx)
}

// notifyReady invokes an optional ready-callback passed to one of the Run*
// entry points once the Session exists, letting a caller (e.g. a CLI
// composition root) wire a freshly built session into a control surface it
// already started listening on.
func notifyReady(session *Session, ready []func(*Session)) {
	for _, fn := range ready {
		if fn != nil {
			fn(session)
		}
	}
}
