package nchs

import (
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"sync"
	"time"
)

// HostState is one state in the host's handshake state machine
// (SPEC_FULL.md §4.6.1): Idle -> Listening -> Validating -> Lobby ->
// Starting -> Ready.
type HostState int

const (
	HostIdle HostState = iota
	HostListening
	HostValidating
	HostLobby
	HostStarting
	HostReady
)

func (s HostState) String() string {
	switch s {
	case HostIdle:
		return "Idle"
	case HostListening:
		return "Listening"
	case HostValidating:
		return "Validating"
	case HostLobby:
		return "Lobby"
	case HostStarting:
		return "Starting"
	case HostReady:
		return "Ready"
	default:
		return "Unknown"
	}
}

// HostExpectations is what a JoinRequest must match for the host to admit
// a guest: the session's ROM identity and netplay capabilities.
type HostExpectations struct {
	ROMHash        uint64
	ConsoleType    string
	RuntimeVersion uint32
	TickRate       int
	MaxPlayers     int
	NetplayEnabled bool
}

type hostSeat struct {
	handle     uint8
	profile    PlayerProfile
	publicAddr string
	localAddr  string
	ready      bool
}

// Host drives one hosted lobby through the handshake state machine,
// validating JoinRequests, tracking readiness, and producing the
// SessionStart broadcast once every seat is ready.
type Host struct {
	mu           sync.Mutex
	state        HostState
	expect       HostExpectations
	limiter      *JoinRateLimiter
	seats        []hostSeat // index 0 is handle 1, etc; nil entries are empty
	gameInProgress bool
	blocked      map[string]bool
}

// NewHost builds a host lobby bound to the given ROM/console expectations.
func NewHost(expect HostExpectations, limiter *JoinRateLimiter) *Host {
	return &Host{
		state:   HostListening,
		expect:  expect,
		limiter: limiter,
		seats:   make([]hostSeat, expect.MaxPlayers),
		blocked: make(map[string]bool),
	}
}

// State returns the host's current handshake state.
func (h *Host) State() HostState {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.state
}

// Block marks an address as rejected for every future JoinRequest,
// regardless of how it validates otherwise.
func (h *Host) Block(addr string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.blocked[addr] = true
}

// HandleJoinRequest validates req from addr and, if accepted, seats the
// guest. It returns either a JoinAccept or a JoinReject — never both, and
// never an error: a malformed request is itself just another rejection
// reason (SPEC_FULL.md §4.6.3 validates before admitting to the lobby).
func (h *Host) HandleJoinRequest(addr string, req JoinRequest) (*JoinAccept, *JoinReject) {
	if h.limiter != nil && !h.limiter.Allow(addr) {
		return nil, &JoinReject{Reason: RejectBlocked}
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	h.state = HostValidating
	defer func() {
		if h.state == HostValidating {
			h.state = HostLobby
		}
	}()

	if h.blocked[addr] {
		return nil, &JoinReject{Reason: RejectBlocked}
	}
	if h.gameInProgress {
		return nil, &JoinReject{Reason: RejectGameInProgress}
	}
	if !h.expect.NetplayEnabled {
		return nil, &JoinReject{Reason: RejectNetplayDisabled}
	}
	if req.ROMHash != h.expect.ROMHash {
		return nil, &JoinReject{Reason: RejectRomMismatch}
	}
	if req.ConsoleType != h.expect.ConsoleType {
		return nil, &JoinReject{Reason: RejectConsoleMismatch}
	}
	if req.RuntimeVersion != h.expect.RuntimeVersion {
		return nil, &JoinReject{Reason: RejectRuntimeIncompatible}
	}
	if req.TickRate != h.expect.TickRate {
		return nil, &JoinReject{Reason: RejectTickRateMismatch}
	}

	slot := -1
	for i := range h.seats {
		if h.seats[i].handle == 0 {
			slot = i
			break
		}
	}
	if slot < 0 {
		return nil, &JoinReject{Reason: RejectLobbyFull}
	}

	h.seats[slot] = hostSeat{
		handle:     uint8(slot + 1),
		profile:    req.Profile,
		publicAddr: req.PublicAddr,
		localAddr:  req.LocalAddr,
	}

	return &JoinAccept{Handle: uint8(slot + 1), Lobby: h.snapshotLocked()}, nil
}

// SetReady updates a seated guest's readiness, returning the lobby
// snapshot and update event to broadcast.
func (h *Host) SetReady(handle uint8, ready bool) (LobbyUpdate, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()

	idx := int(handle) - 1
	if idx < 0 || idx >= len(h.seats) || h.seats[idx].handle == 0 {
		return LobbyUpdate{}, false
	}
	h.seats[idx].ready = ready

	event := LobbyEventUnready
	if ready {
		event = LobbyEventReady
	}
	return LobbyUpdate{Lobby: h.snapshotLocked(), Event: event, By: handle}, true
}

// Leave frees a guest's seat.
func (h *Host) Leave(handle uint8) (LobbyUpdate, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()

	idx := int(handle) - 1
	if idx < 0 || idx >= len(h.seats) || h.seats[idx].handle == 0 {
		return LobbyUpdate{}, false
	}
	h.seats[idx] = hostSeat{}
	return LobbyUpdate{Lobby: h.snapshotLocked(), Event: LobbyEventLeft, By: handle}, true
}

// AllReady reports whether every occupied seat has signaled ready and at
// least one seat is occupied.
func (h *Host) AllReady() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	occupied := 0
	for _, seat := range h.seats {
		if seat.handle == 0 {
			continue
		}
		occupied++
		if !seat.ready {
			return false
		}
	}
	return occupied > 0
}

func (h *Host) snapshotLocked() LobbySnapshot {
	slots := make([]LobbySlot, len(h.seats))
	var readyMask uint32
	for i, seat := range h.seats {
		slots[i] = LobbySlot{Handle: seat.handle, Profile: seat.profile}
		if seat.handle != 0 && seat.ready {
			readyMask |= 1 << uint(seat.handle-1)
		}
	}
	return LobbySnapshot{Slots: slots, Ready: readyMask, Started: h.state == HostReady}
}

// BuildSessionStart generates a fresh random seed and assembles the
// determinism-critical broadcast every client must apply verbatim
// (SPEC_FULL.md §4.6.4). The seed is drawn from crypto/rand rather than
// the session's own deterministic RNG, which must not exist yet: nothing
// is simulated before this message lands.
func (h *Host) BuildSessionStart(net NetworkConfig, settings GameSettings, save SaveSlotDirective) (SessionStart, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.state = HostStarting

	seed, err := randomSeed()
	if err != nil {
		return SessionStart{}, fmt.Errorf("nchs: generate session seed: %w", err)
	}

	var players []PlayerConnectionInfo
	active := 0
	for _, seat := range h.seats {
		if seat.handle == 0 {
			continue
		}
		active++
		players = append(players, PlayerConnectionInfo{
			Handle:     seat.handle,
			Active:     true,
			Profile:    seat.profile,
			PublicAddr: seat.publicAddr,
			LocalAddr:  seat.localAddr,
		})
	}

	h.state = HostReady

	return SessionStart{
		Seed:              seed,
		StartingTick:      0,
		Players:           players,
		ActivePlayerCount: active,
		Network:           net,
		Settings:          settings,
		SaveDirective:     save,
	}, nil
}

func randomSeed() (uint64, error) {
	var buf [8]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(buf[:]), nil
}

// NewJoinRequestStageTimer builds the per-JoinRequest retry timer per
// SPEC_FULL.md §4.6.6's defaults (2s x 3, within a 15s total budget).
func NewJoinRequestStageTimer() *StageTimer {
	return NewStageTimer(2*time.Second, 3, 15*time.Second)
}

// NewSessionStartStageTimer builds the per-SessionStart retry timer.
func NewSessionStartStageTimer() *StageTimer {
	return NewStageTimer(3*time.Second, 3, 15*time.Second)
}

// NewPunchStageTimer builds the per-PunchHello retry timer.
func NewPunchStageTimer() *StageTimer {
	return NewStageTimer(500*time.Millisecond, 3, 15*time.Second)
}
