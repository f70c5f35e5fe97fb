package nchs

import "testing"

func TestGuestHappyPathSinglePeer(t *testing.T) {
	g := NewGuest(true) // already knows the host address
	if g.State() != GuestJoining {
		t.Fatalf("expected Joining, got %s", g.State())
	}

	g.HandleJoinAccept(JoinAccept{Handle: 2, Lobby: LobbySnapshot{}})
	if g.State() != GuestLobby || g.Handle() != 2 {
		t.Fatalf("expected Lobby/handle=2, got %s/%d", g.State(), g.Handle())
	}

	g.HandleSessionStart(SessionStart{
		Players: []PlayerConnectionInfo{
			{Handle: 1, Active: true},
			{Handle: 2, Active: true},
		},
	})
	if g.State() != GuestPunching {
		t.Fatalf("expected Punching, got %s", g.State())
	}
	if len(g.Peers()) != 1 || g.Peers()[0] != 1 {
		t.Fatalf("expected peer [1], got %v", g.Peers())
	}

	g.HandlePunchAck(PunchAck{FromHandle: 1})
	if g.State() != GuestReadyState {
		t.Fatalf("expected Ready, got %s", g.State())
	}
}

func TestGuestResolvingBeforeJoining(t *testing.T) {
	g := NewGuest(false)
	if g.State() != GuestResolving {
		t.Fatalf("expected Resolving, got %s", g.State())
	}
	g.Resolved()
	if g.State() != GuestJoining {
		t.Fatalf("expected Joining after Resolved, got %s", g.State())
	}
}

func TestGuestJoinRejectFails(t *testing.T) {
	g := NewGuest(true)
	g.HandleJoinReject(JoinReject{Reason: RejectRomMismatch})
	if g.State() != GuestFailed {
		t.Fatalf("expected Failed, got %s", g.State())
	}
	if g.Err() == nil {
		t.Fatalf("expected non-nil Err after failure")
	}
}

func TestGuestWaitsForAllPeerAcks(t *testing.T) {
	g := NewGuest(true)
	g.HandleJoinAccept(JoinAccept{Handle: 3})
	g.HandleSessionStart(SessionStart{
		Players: []PlayerConnectionInfo{
			{Handle: 1, Active: true},
			{Handle: 2, Active: true},
			{Handle: 3, Active: true},
		},
	})
	if len(g.Peers()) != 2 {
		t.Fatalf("expected 2 peers, got %v", g.Peers())
	}

	g.HandlePunchAck(PunchAck{FromHandle: 1})
	if g.State() != GuestPunching {
		t.Fatalf("expected to still be Punching after only one ack, got %s", g.State())
	}
	g.HandlePunchAck(PunchAck{FromHandle: 2})
	if g.State() != GuestReadyState {
		t.Fatalf("expected Ready after both acks, got %s", g.State())
	}
}

func TestStageTimerExhaustsRetries(t *testing.T) {
	st := NewJoinRequestStageTimer()
	st.Start()
	for i := 0; i < 3; i++ {
		if _, err := st.Attempt(); err != nil {
			t.Fatalf("attempt %d: unexpected error %v", i, err)
		}
	}
	if _, err := st.Attempt(); err == nil {
		t.Fatalf("expected retries exhausted error")
	}
}
