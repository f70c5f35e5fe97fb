package orchestrator

import (
	"net"
	"sync"
	"time"

	"github.com/nethercore-systems/nethercore/internal/nchs"
	"github.com/nethercore-systems/nethercore/internal/rollback"
)

// MultiConn implements rollback.PeerLink over one net.Conn per remote
// player, reusing the NCHS frame format (nchs.WriteMessage/ReadMessage)
// established during the handshake rather than switching to a second wire
// protocol once a session goes Ready. It is the bridge between the
// transport-agnostic nchs and rollback packages, owned by the
// orchestrator since neither package needs to know the other exists.
//
// When relay is true (the host's side of a star topology), an input or
// hash sample received from one peer is re-broadcast to every other peer
// before being queued locally: with more than two players, a guest has no
// direct socket to any other guest, so the host forwards on their behalf
// rather than requiring a full mesh of connections.
type MultiConn struct {
	mu       sync.Mutex
	conns    map[uint32]net.Conn // player index -> connection
	lastSeen map[uint32]time.Time

	inputs chan nchs.InputSample
	hashes chan nchs.HashSample

	relay    bool
	stopCh   chan struct{}
	stopOnce sync.Once
}

// NewMultiConn wires a PeerLink over the given per-player connections and
// starts one reader goroutine per connection.
func NewMultiConn(conns map[uint32]net.Conn, relay bool) *MultiConn {
	m := &MultiConn{
		conns:    conns,
		lastSeen: make(map[uint32]time.Time),
		inputs:   make(chan nchs.InputSample, 1024),
		hashes:   make(chan nchs.HashSample, 256),
		relay:    relay,
		stopCh:   make(chan struct{}),
	}
	for player, conn := range conns {
		go m.readLoop(player, conn)
	}
	return m
}

func (m *MultiConn) readLoop(player uint32, conn net.Conn) {
	for {
		typ, body, err := nchs.ReadMessage(conn)
		if err != nil {
			return // peer closed or errored; disconnect surfaces via LastSeen aging out
		}
		switch typ {
		case nchs.TypeInputSample:
			var s nchs.InputSample
			if nchs.Decode(body, &s) != nil {
				continue
			}
			m.mu.Lock()
			m.lastSeen[player] = time.Now()
			m.mu.Unlock()
			select {
			case m.inputs <- s:
			case <-m.stopCh:
				return
			}
			if m.relay {
				m.broadcastExcept(player, nchs.TypeInputSample, s)
			}
		case nchs.TypeHashSample:
			var h nchs.HashSample
			if nchs.Decode(body, &h) != nil {
				continue
			}
			select {
			case m.hashes <- h:
			case <-m.stopCh:
				return
			}
			if m.relay {
				m.broadcastExcept(player, nchs.TypeHashSample, h)
			}
		}
	}
}

func (m *MultiConn) broadcastExcept(sender uint32, typ byte, data interface{}) {
	m.mu.Lock()
	targets := make([]net.Conn, 0, len(m.conns))
	for player, conn := range m.conns {
		if player == sender {
			continue
		}
		targets = append(targets, conn)
	}
	m.mu.Unlock()
	for _, conn := range targets {
		_ = nchs.WriteMessage(conn, typ, data)
	}
}

func (m *MultiConn) SendInput(tick uint64, player uint32, frame rollback.InputFrame) {
	sample := nchs.InputSample{Tick: tick, Player: player, Buttons: frame.Buttons, StickX: frame.StickX, StickY: frame.StickY}
	m.mu.Lock()
	conns := make([]net.Conn, 0, len(m.conns))
	for _, conn := range m.conns {
		conns = append(conns, conn)
	}
	m.mu.Unlock()
	for _, conn := range conns {
		_ = nchs.WriteMessage(conn, nchs.TypeInputSample, sample)
	}
}

func (m *MultiConn) PollInputs() []rollback.RemoteInput {
	var out []rollback.RemoteInput
	for {
		select {
		case s := <-m.inputs:
			out = append(out, rollback.RemoteInput{
				Tick:   s.Tick,
				Player: s.Player,
				Frame:  rollback.InputFrame{Buttons: s.Buttons, StickX: s.StickX, StickY: s.StickY},
			})
		default:
			return out
		}
	}
}

func (m *MultiConn) SendHash(tick uint64, player uint32, hash uint64) {
	sample := nchs.HashSample{Tick: tick, Player: player, Hash: hash}
	m.mu.Lock()
	conns := make([]net.Conn, 0, len(m.conns))
	for _, conn := range m.conns {
		conns = append(conns, conn)
	}
	m.mu.Unlock()
	for _, conn := range conns {
		_ = nchs.WriteMessage(conn, nchs.TypeHashSample, sample)
	}
}

func (m *MultiConn) PollHashes() []rollback.RemoteHash {
	var out []rollback.RemoteHash
	for {
		select {
		case h := <-m.hashes:
			out = append(out, rollback.RemoteHash{Tick: h.Tick, Player: h.Player, Hash: h.Hash})
		default:
			return out
		}
	}
}

func (m *MultiConn) LastSeen(player uint32) time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastSeen[player]
}

// Close stops every reader goroutine and closes the underlying
// connections.
func (m *MultiConn) Close() {
	m.stopOnce.Do(func() { close(m.stopCh) })
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, conn := range m.conns {
		conn.Close()
	}
}
