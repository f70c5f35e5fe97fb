package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/nethercore-systems/nethercore/internal/config"
	"github.com/nethercore-systems/nethercore/internal/nchs"
	"github.com/nethercore-systems/nethercore/internal/rollback"
	"github.com/nethercore-systems/nethercore/internal/rom"
)

// readWithRetry reads one frame from conn, retrying on a read-deadline
// timeout up to timer's retry budget — the deadline-retry loop every NCHS
// stage follows (SPEC_FULL.md §4.6.6).
func readWithRetry(conn net.Conn, timer *nchs.StageTimer) (byte, []byte, error) {
	timer.Start()
	for {
		d, err := timer.Attempt()
		if err != nil {
			return 0, nil, err
		}
		conn.SetReadDeadline(time.Now().Add(d))
		typ, body, err := nchs.ReadMessage(conn)
		if err == nil {
			conn.SetReadDeadline(time.Time{})
			return typ, body, nil
		}
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			continue
		}
		return 0, nil, err
	}
}

// punch exchanges PunchHello/PunchAck over an already-connected conn.
// There is no real NAT traversal to perform — the socket already exists —
// but the message exchange still runs so the wire sequence matches a
// session negotiated over UDP with a true punch phase (SPEC_FULL.md
// §4.6.5).
func punch(conn net.Conn, selfHandle, peerHandle uint8) error {
	timer := nchs.NewPunchStageTimer()
	timer.Start()

	hello := nchs.PunchHello{FromHandle: selfHandle, ToHandle: peerHandle, Nonce: uint32(time.Now().UnixNano())}
	if err := nchs.WriteMessage(conn, nchs.TypePunchHello, hello); err != nil {
		return err
	}

	acked := false
	for !acked {
		d, err := timer.Attempt()
		if err != nil {
			return err
		}
		conn.SetReadDeadline(time.Now().Add(d))
		typ, body, err := nchs.ReadMessage(conn)
		if err != nil {
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				nchs.WriteMessage(conn, nchs.TypePunchHello, hello)
				continue
			}
			return err
		}
		conn.SetReadDeadline(time.Time{})

		switch typ {
		case nchs.TypePunchHello:
			var theirHello nchs.PunchHello
			if nchs.Decode(body, &theirHello) == nil {
				ack := nchs.PunchAck{FromHandle: selfHandle, ToHandle: theirHello.FromHandle, Nonce: theirHello.Nonce}
				nchs.WriteMessage(conn, nchs.TypePunchAck, ack)
			}
		case nchs.TypePunchAck:
			acked = true
		}
	}
	return nil
}

func hostExpectationsFor(r *rom.ROM) nchs.HostExpectations {
	return nchs.HostExpectations{
		ROMHash:        r.Metadata.ROMHash,
		ConsoleType:    "nethercore",
		RuntimeVersion: nchs.RuntimeVersion,
		TickRate:       r.Metadata.TickRate,
		MaxPlayers:     r.Metadata.MaxPlayers,
		NetplayEnabled: r.Metadata.NetplayEnabled,
	}
}

func networkConfigFrom(netplayCfg config.NetplayConfig) nchs.NetworkConfig {
	return nchs.NetworkConfig{
		InputDelayFrames:    netplayCfg.InputDelayFrames,
		MaxRollbackFrames:   netplayCfg.MaxRollbackFrames,
		DisconnectTimeout:   int64(netplayCfg.DisconnectTimeout),
		DesyncCheckInterval: netplayCfg.DesyncCheckInterval,
	}
}

func settingsFrom(netplayCfg config.NetplayConfig) nchs.GameSettings {
	return nchs.GameSettings{
		FixedTimestepMicros: int64(time.Second) / int64(netplayCfg.TickRate) / int64(time.Microsecond),
	}
}

func acceptSeat(conn net.Conn, addr string, host *nchs.Host) (uint8, error) {
	typ, body, err := readWithRetry(conn, nchs.NewJoinRequestStageTimer())
	if err != nil {
		return 0, fmt.Errorf("orchestrator: awaiting join request from %s: %w", addr, err)
	}
	if typ != nchs.TypeJoinRequest {
		return 0, fmt.Errorf("orchestrator: expected JoinRequest from %s, got type %d", addr, typ)
	}
	var req nchs.JoinRequest
	if err := nchs.Decode(body, &req); err != nil {
		return 0, err
	}

	accept, reject := host.HandleJoinRequest(addr, req)
	if reject != nil {
		nchs.WriteMessage(conn, nchs.TypeJoinReject, reject)
		return 0, fmt.Errorf("orchestrator: %s rejected: %s", addr, reject.Reason)
	}
	if err := nchs.WriteMessage(conn, nchs.TypeJoinAccept, accept); err != nil {
		return 0, err
	}
	return accept.Handle, nil
}

func awaitGuestReady(conn net.Conn, host *nchs.Host, handle uint8) error {
	typ, body, err := readWithRetry(conn, nchs.NewSessionStartStageTimer())
	if err != nil {
		return err
	}
	if typ != nchs.TypeGuestReady {
		return fmt.Errorf("orchestrator: expected GuestReady from handle %d, got type %d", handle, typ)
	}
	var ready nchs.GuestReady
	if err := nchs.Decode(body, &ready); err != nil {
		return err
	}
	host.SetReady(handle, ready.Ready)
	return nil
}

// RunP2PHost negotiates a lobby over NCHS as the host, then runs the
// session once every connected guest reaches Ready (SPEC_FULL.md §4.7,
// Mode = P2P-Host). guestConns are already-dialed/accepted connections;
// dialing and listening are the caller's responsibility (cmd/nethercore),
// keeping this package free of any assumption about how a socket came to
// exist.
//
// Traffic for players beyond the host is relayed host<->guest<->guest
// through this process rather than meshed directly guest-to-guest, since
// only the host holds a socket to every other seat.
func RunP2PHost(ctx context.Context, romBytes []byte, consoleCfg config.ConsoleConfig, netplayCfg config.NetplayConfig, saveDir string, hostProfile nchs.PlayerProfile, guestConns []net.Conn, local rollback.LocalInputSource, backend Backend, ready ...func(*Session)) error {
	r, err := rom.Load(romBytes)
	if err != nil {
		return fmt.Errorf("orchestrator: load rom: %w", err)
	}
	if err := rom.Validate(r, rom.Budgets{CodeBudgetBytes: consoleCfg.CodeBudgetBytes, ROMBudgetBytes: consoleCfg.ROMBudgetBytes}); err != nil {
		return fmt.Errorf("orchestrator: validate rom: %w", err)
	}
	expect := hostExpectationsFor(r)
	if !expect.NetplayEnabled {
		return fmt.Errorf("orchestrator: rom %q does not permit netplay", r.Metadata.ID)
	}

	limiter := nchs.NewJoinRateLimiter(nchs.DefaultJoinRateLimiterConfig)
	defer limiter.Stop()
	host := nchs.NewHost(expect, limiter)

	hostReq := nchs.JoinRequest{
		ROMHash: expect.ROMHash, ROMSize: int64(len(r.Code)),
		ConsoleType: expect.ConsoleType, RuntimeVersion: expect.RuntimeVersion,
		TickRate: expect.TickRate, MaxPlayers: expect.MaxPlayers,
		Profile: hostProfile, PublicAddr: "host", LocalAddr: "host",
	}
	hostAccept, hostReject := host.HandleJoinRequest("host", hostReq)
	if hostReject != nil {
		return fmt.Errorf("orchestrator: host seat rejected: %s", hostReject.Reason)
	}
	hostHandle := hostAccept.Handle
	host.SetReady(hostHandle, true)

	seated := make(map[uint8]net.Conn)
	for _, conn := range guestConns {
		handle, err := acceptSeat(conn, conn.RemoteAddr().String(), host)
		if err != nil {
			conn.Close()
			continue // one bad joiner does not abort the others
		}
		seated[handle] = conn
	}

	for handle, conn := range seated {
		if err := awaitGuestReady(conn, host, handle); err != nil {
			delete(seated, handle)
			host.Leave(handle)
			conn.Close()
		}
	}

	start, err := host.BuildSessionStart(networkConfigFrom(netplayCfg), settingsFrom(netplayCfg), nchs.SaveSlotDirective{Mode: nchs.SaveSlotNewGame})
	if err != nil {
		return fmt.Errorf("orchestrator: build session start: %w", err)
	}

	for handle, conn := range seated {
		if err := nchs.WriteMessage(conn, nchs.TypeSessionStart, start); err != nil {
			delete(seated, handle)
			conn.Close()
		}
	}
	for handle, conn := range seated {
		if err := punch(conn, hostHandle, handle); err != nil {
			delete(seated, handle)
			conn.Close()
		}
	}

	linkConns := make(map[uint32]net.Conn, len(seated))
	for handle, conn := range seated {
		linkConns[uint32(handle-1)] = conn
	}
	link := NewMultiConn(linkConns, true)
	defer link.Close()

	localMask := uint32(1) << uint(hostHandle-1)
	session, err := buildSession(ctx, ModeP2PHost, romBytes, consoleCfg, saveDir, start, localMask, local, link, backend)
	if err != nil {
		return err
	}
	defer session.Close(ctx)
	notifyReady(session, ready)

	return session.Run(ctx)
}

// RunP2PGuest joins an already-dialed connection to a host and runs the
// session once the lobby reaches Ready (SPEC_FULL.md §4.7, Mode =
// P2P-Guest). romBytes must be the identical cartridge the host is
// running: JoinRequest validation rejects any mismatch.
func RunP2PGuest(ctx context.Context, romBytes []byte, consoleCfg config.ConsoleConfig, netplayCfg config.NetplayConfig, saveDir string, profile nchs.PlayerProfile, conn net.Conn, local rollback.LocalInputSource, backend Backend, ready ...func(*Session)) error {
	r, err := rom.Load(romBytes)
	if err != nil {
		return fmt.Errorf("orchestrator: load rom: %w", err)
	}
	if err := rom.Validate(r, rom.Budgets{CodeBudgetBytes: consoleCfg.CodeBudgetBytes, ROMBudgetBytes: consoleCfg.ROMBudgetBytes}); err != nil {
		return fmt.Errorf("orchestrator: validate rom: %w", err)
	}

	guestFSM := nchs.NewGuest(true)

	req := nchs.JoinRequest{
		ROMHash: r.Metadata.ROMHash, ROMSize: int64(len(r.Code)),
		ConsoleType: "nethercore", RuntimeVersion: nchs.RuntimeVersion,
		TickRate: r.Metadata.TickRate, MaxPlayers: r.Metadata.MaxPlayers,
		Profile: profile,
	}
	if err := nchs.WriteMessage(conn, nchs.TypeJoinRequest, req); err != nil {
		return err
	}

	typ, body, err := readWithRetry(conn, nchs.NewJoinRequestStageTimer())
	if err != nil {
		return err
	}
	switch typ {
	case nchs.TypeJoinAccept:
		var accept nchs.JoinAccept
		if err := nchs.Decode(body, &accept); err != nil {
			return err
		}
		guestFSM.HandleJoinAccept(accept)
	case nchs.TypeJoinReject:
		var reject nchs.JoinReject
		nchs.Decode(body, &reject)
		guestFSM.HandleJoinReject(reject)
		return guestFSM.Err()
	default:
		return fmt.Errorf("orchestrator: expected JoinAccept, got type %d", typ)
	}

	if err := nchs.WriteMessage(conn, nchs.TypeGuestReady, nchs.GuestReady{Ready: true}); err != nil {
		return err
	}

	sessionTimer := nchs.NewSessionStartStageTimer()
	var start nchs.SessionStart
	for guestFSM.State() == nchs.GuestLobby {
		typ, body, err := readWithRetry(conn, sessionTimer)
		if err != nil {
			return err
		}
		switch typ {
		case nchs.TypeLobbyUpdate:
			var upd nchs.LobbyUpdate
			if nchs.Decode(body, &upd) == nil {
				guestFSM.HandleLobbyUpdate(upd)
			}
		case nchs.TypeSessionStart:
			if err := nchs.Decode(body, &start); err != nil {
				return err
			}
			guestFSM.HandleSessionStart(start)
		}
	}

	hostHandle := uint8(1) // this host implementation always seats itself at handle 1
	if peers := guestFSM.Peers(); len(peers) > 0 {
		hostHandle = peers[0]
	}

	if guestFSM.State() == nchs.GuestPunching {
		if err := punch(conn, guestFSM.Handle(), hostHandle); err != nil {
			guestFSM.Fail(err)
			return err
		}
		guestFSM.HandlePunchAck(nchs.PunchAck{FromHandle: hostHandle})
	}

	linkConns := map[uint32]net.Conn{uint32(hostHandle - 1): conn}
	link := NewMultiConn(linkConns, false)
	defer link.Close()

	localMask := uint32(1) << uint(guestFSM.Handle()-1)
	session, err := buildSession(ctx, ModeP2PGuest, romBytes, consoleCfg, saveDir, start, localMask, local, link, backend)
	if err != nil {
		return err
	}
	defer session.Close(ctx)
	notifyReady(session, ready)

	return session.Run(ctx)
}
