package nchs

import "fmt"

// GuestState is one state in the guest's handshake state machine
// (SPEC_FULL.md §4.6.1): Idle -> Resolving -> Joining -> Lobby ->
// Punching -> Ready, with a Failed terminal reachable from any state.
type GuestState int

const (
	GuestIdle GuestState = iota
	GuestResolving
	GuestJoining
	GuestLobby
	GuestPunching
	GuestReadyState
	GuestFailed
)

func (s GuestState) String() string {
	switch s {
	case GuestIdle:
		return "Idle"
	case GuestResolving:
		return "Resolving"
	case GuestJoining:
		return "Joining"
	case GuestLobby:
		return "Lobby"
	case GuestPunching:
		return "Punching"
	case GuestReadyState:
		return "Ready"
	case GuestFailed:
		return "Failed"
	default:
		return "Unknown"
	}
}

// Guest drives one guest's handshake state machine from the moment it
// starts resolving a host address through to session-ready. Each method
// corresponds to either a local action or the arrival of one message type;
// the orchestrator's connection loop calls these as frames arrive.
type Guest struct {
	state    GuestState
	handle   uint8
	lobby    LobbySnapshot
	session  *SessionStart
	acked    map[uint8]bool // handles this guest has received a PunchAck from
	peers    []uint8        // every other active handle, once SessionStart lands
	failErr  error
}

// NewGuest builds a guest state machine, starting in Resolving if a game
// code is in play or Joining if a direct address was already supplied.
func NewGuest(knowsAddress bool) *Guest {
	g := &Guest{acked: make(map[uint8]bool)}
	if knowsAddress {
		g.state = GuestJoining
	} else {
		g.state = GuestResolving
	}
	return g
}

// State returns the guest's current handshake state.
func (g *Guest) State() GuestState { return g.state }

// Err returns the reason GuestFailed was entered, if any.
func (g *Guest) Err() error { return g.failErr }

// Handle returns this guest's assigned player handle, valid once past
// GuestJoining.
func (g *Guest) Handle() uint8 { return g.handle }

// Resolved transitions out of Resolving once a game code has produced an
// endpoint (or direct connection info was supplied out of band).
func (g *Guest) Resolved() {
	if g.state == GuestResolving {
		g.state = GuestJoining
	}
}

// HandleJoinAccept applies an accepted join.
func (g *Guest) HandleJoinAccept(msg JoinAccept) {
	g.handle = msg.Handle
	g.lobby = msg.Lobby
	g.state = GuestLobby
}

// HandleJoinReject fails the handshake with the host's stated reason.
func (g *Guest) HandleJoinReject(msg JoinReject) {
	g.fail(fmt.Errorf("nchs: join rejected: %s", msg.Reason))
}

// HandleLobbyUpdate applies a broadcast lobby change while waiting in the
// lobby.
func (g *Guest) HandleLobbyUpdate(msg LobbyUpdate) {
	if g.state != GuestLobby {
		return
	}
	g.lobby = msg.Lobby
}

// HandleSessionStart transitions into punching once the host has
// broadcast session parameters, recording every other active peer to
// punch with.
func (g *Guest) HandleSessionStart(msg SessionStart) {
	if g.state != GuestLobby {
		return
	}
	session := msg
	g.session = &session
	g.peers = g.peers[:0]
	for _, p := range msg.Players {
		if p.Handle != g.handle && p.Active {
			g.peers = append(g.peers, p.Handle)
		}
	}
	if len(g.peers) == 0 {
		g.state = GuestReadyState
		return
	}
	g.state = GuestPunching
}

// HandlePunchAck records a successful punch with the sender, advancing to
// Ready once every peer has acknowledged.
func (g *Guest) HandlePunchAck(msg PunchAck) {
	if g.state != GuestPunching {
		return
	}
	g.acked[msg.FromHandle] = true
	for _, peer := range g.peers {
		if !g.acked[peer] {
			return
		}
	}
	g.state = GuestReadyState
}

// Session returns the applied SessionStart, valid once past
// GuestPunching.
func (g *Guest) Session() *SessionStart { return g.session }

// Peers returns the other active handles this guest must punch with.
func (g *Guest) Peers() []uint8 { return g.peers }

// Fail forces a terminal failure, e.g. on a stage-timer exhaustion the
// caller observed while waiting for a reply.
func (g *Guest) Fail(err error) { g.fail(err) }

func (g *Guest) fail(err error) {
	g.state = GuestFailed
	g.failErr = err
}
