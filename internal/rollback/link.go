package rollback

import (
	"sync"
	"time"
)

// RemoteInput is one player's input for one tick, as reported by a peer.
type RemoteInput struct {
	Tick   uint64
	Player uint32
	Frame  InputFrame
}

// RemoteHash is a peer's desync-check hash for one tick.
type RemoteHash struct {
	Tick   uint64
	Player uint32
	Hash   uint64
}

// PeerLink abstracts input/hash exchange with remote players. The NCHS
// layer supplies the networked implementation once a session has started;
// LocalLink and ChannelLink are in-process stand-ins for sessions with no
// remote peers and for tests.
type PeerLink interface {
	SendInput(tick uint64, player uint32, frame InputFrame)
	PollInputs() []RemoteInput
	SendHash(tick uint64, player uint32, hash uint64)
	PollHashes() []RemoteHash
	LastSeen(player uint32) time.Time
}

// LocalLink is the no-remote-peers stand-in used by purely local sessions:
// every player is local, so nothing is ever exchanged.
type LocalLink struct{}

// NewLocalLink builds a PeerLink for an all-local session.
func NewLocalLink() *LocalLink { return &LocalLink{} }

func (*LocalLink) SendInput(tick uint64, player uint32, frame InputFrame) {}
func (*LocalLink) PollInputs() []RemoteInput                             { return nil }
func (*LocalLink) SendHash(tick uint64, player uint32, hash uint64)       {}
func (*LocalLink) PollHashes() []RemoteHash                              { return nil }
func (*LocalLink) LastSeen(player uint32) time.Time                      { return time.Now() }

// ChannelLink is an in-process PeerLink backed by buffered channels. A
// pair of ChannelLinks lets two Schedulers in the same process exchange
// input/hash messages as if they were networked peers — this is how the
// two-peer rollback scenario (SPEC_FULL.md §8) is exercised without any
// real transport.
type ChannelLink struct {
	mu       sync.Mutex
	lastSeen map[uint32]time.Time

	inbox     chan RemoteInput
	inboxHash chan RemoteHash

	peer  *ChannelLink
	delay func(tick uint64) time.Duration
}

// NewChannelLinkPair wires two ChannelLinks to each other. Each side's
// delay func, if non-nil, computes an artificial delivery delay per tick
// for messages that side sends (for testing a late-arriving input); a nil
// delay delivers immediately. Symmetric sessions pass the same func for
// both.
func NewChannelLinkPair(delayA, delayB func(tick uint64) time.Duration) (a, b *ChannelLink) {
	a = &ChannelLink{
		lastSeen:  make(map[uint32]time.Time),
		inbox:     make(chan RemoteInput, 256),
		inboxHash: make(chan RemoteHash, 256),
		delay:     delayA,
	}
	b = &ChannelLink{
		lastSeen:  make(map[uint32]time.Time),
		inbox:     make(chan RemoteInput, 256),
		inboxHash: make(chan RemoteHash, 256),
		delay:     delayB,
	}
	a.peer = b
	b.peer = a
	return a, b
}

func (l *ChannelLink) SendInput(tick uint64, player uint32, frame InputFrame) {
	msg := RemoteInput{Tick: tick, Player: player, Frame: frame}
	var d time.Duration
	if l.delay != nil {
		d = l.delay(tick)
	}
	if d <= 0 {
		l.peer.inbox <- msg
		return
	}
	time.AfterFunc(d, func() { l.peer.inbox <- msg })
}

func (l *ChannelLink) PollInputs() []RemoteInput {
	var out []RemoteInput
	for {
		select {
		case m := <-l.inbox:
			l.mu.Lock()
			l.lastSeen[m.Player] = time.Now()
			l.mu.Unlock()
			out = append(out, m)
		default:
			return out
		}
	}
}

func (l *ChannelLink) SendHash(tick uint64, player uint32, hash uint64) {
	l.peer.inboxHash <- RemoteHash{Tick: tick, Player: player, Hash: hash}
}

func (l *ChannelLink) PollHashes() []RemoteHash {
	var out []RemoteHash
	for {
		select {
		case m := <-l.inboxHash:
			out = append(out, m)
		default:
			return out
		}
	}
}

func (l *ChannelLink) LastSeen(player uint32) time.Time {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.lastSeen[player]
}
