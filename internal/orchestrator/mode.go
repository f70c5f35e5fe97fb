// Package orchestrator composes a ROM, the sandbox, the deterministic
// services, the rollback scheduler, and NCHS into one runnable session,
// implementing the main-loop sequence of SPEC_FULL.md §4.7: select mode,
// load and validate the ROM, instantiate the guest, settle a session
// start (locally synthesized or NCHS-negotiated), drive the scheduler
// loop, and tear everything back down.
//
// It plays the composition-root role the teacher's cmd/server/main.go
// plays for the fight-night HTTP service — except here the wiring is a
// reusable constructor rather than inline main() code, since a session
// can be started in four different modes (Local, SyncTest, P2P host,
// P2P guest) from the same cartridge.
package orchestrator

// Mode selects which of the four ways a session can start per
// SPEC_FULL.md §4.7 step 1.
type Mode int

const (
	// ModeLocal runs every player as locally controlled with no network
	// peer: a single-machine multiplayer or single-player session.
	ModeLocal Mode = iota
	// ModeSyncTest drives the guest with synthetic input and forces a
	// rollback-and-resimulate every tick to self-check determinism.
	ModeSyncTest
	// ModeP2PHost negotiates a session over NCHS as the host.
	ModeP2PHost
	// ModeP2PGuest negotiates a session over NCHS as a joining guest.
	ModeP2PGuest
)

func (m Mode) String() string {
	switch m {
	case ModeLocal:
		return "Local"
	case ModeSyncTest:
		return "SyncTest"
	case ModeP2PHost:
		return "P2PHost"
	case ModeP2PGuest:
		return "P2PGuest"
	default:
		return "Unknown"
	}
}
