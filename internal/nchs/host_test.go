package nchs

import (
	"testing"
	"time"
)

func testExpectations() HostExpectations {
	return HostExpectations{
		ROMHash:        0x1234,
		ConsoleType:    "nethercore",
		RuntimeVersion: RuntimeVersion,
		TickRate:       60,
		MaxPlayers:     2,
		NetplayEnabled: true,
	}
}

func validRequest() JoinRequest {
	return JoinRequest{
		ROMHash:        0x1234,
		ConsoleType:    "nethercore",
		RuntimeVersion: RuntimeVersion,
		TickRate:       60,
		MaxPlayers:     2,
		Profile:        PlayerProfile{Name: "p1"},
	}
}

func TestHostAcceptsValidJoinRequest(t *testing.T) {
	h := NewHost(testExpectations(), nil)
	accept, reject := h.HandleJoinRequest("1.2.3.4:1111", validRequest())
	if reject != nil {
		t.Fatalf("unexpected reject: %s", reject.Reason)
	}
	if accept.Handle != 1 {
		t.Fatalf("expected handle 1, got %d", accept.Handle)
	}
	if h.State() != HostLobby {
		t.Fatalf("expected Lobby state, got %s", h.State())
	}
}

func TestHostRejectsRomMismatch(t *testing.T) {
	h := NewHost(testExpectations(), nil)
	req := validRequest()
	req.ROMHash = 0xDEAD
	_, reject := h.HandleJoinRequest("1.2.3.4:1111", req)
	if reject == nil || reject.Reason != RejectRomMismatch {
		t.Fatalf("expected RomMismatch, got %+v", reject)
	}
}

func TestHostRejectsEachValidationMismatch(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*JoinRequest)
		reason RejectReason
	}{
		{"console", func(r *JoinRequest) { r.ConsoleType = "other" }, RejectConsoleMismatch},
		{"runtime", func(r *JoinRequest) { r.RuntimeVersion = RuntimeVersion + 1 }, RejectRuntimeIncompatible},
		{"tickrate", func(r *JoinRequest) { r.TickRate = 30 }, RejectTickRateMismatch},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := NewHost(testExpectations(), nil)
			req := validRequest()
			tc.mutate(&req)
			_, reject := h.HandleJoinRequest("1.2.3.4:1111", req)
			if reject == nil || reject.Reason != tc.reason {
				t.Fatalf("expected %s, got %+v", tc.reason, reject)
			}
		})
	}
}

func TestHostRejectsNetplayDisabled(t *testing.T) {
	expect := testExpectations()
	expect.NetplayEnabled = false
	h := NewHost(expect, nil)
	_, reject := h.HandleJoinRequest("1.2.3.4:1111", validRequest())
	if reject == nil || reject.Reason != RejectNetplayDisabled {
		t.Fatalf("expected NetplayDisabled, got %+v", reject)
	}
}

func TestHostRejectsWhenLobbyFull(t *testing.T) {
	expect := testExpectations()
	expect.MaxPlayers = 1
	h := NewHost(expect, nil)

	if _, reject := h.HandleJoinRequest("1.1.1.1:1", validRequest()); reject != nil {
		t.Fatalf("unexpected reject for first seat: %+v", reject)
	}
	_, reject := h.HandleJoinRequest("2.2.2.2:2", validRequest())
	if reject == nil || reject.Reason != RejectLobbyFull {
		t.Fatalf("expected LobbyFull, got %+v", reject)
	}
}

func TestHostRejectsBlockedAddress(t *testing.T) {
	h := NewHost(testExpectations(), nil)
	h.Block("9.9.9.9:9")
	_, reject := h.HandleJoinRequest("9.9.9.9:9", validRequest())
	if reject == nil || reject.Reason != RejectBlocked {
		t.Fatalf("expected Blocked, got %+v", reject)
	}
}

func TestHostJoinRequestRateLimited(t *testing.T) {
	limiter := NewJoinRateLimiter(JoinRateLimiterConfig{RequestsPerSecond: 1, Burst: 1, CleanupInterval: time.Minute})
	defer limiter.Stop()
	h := NewHost(testExpectations(), limiter)

	if _, reject := h.HandleJoinRequest("5.5.5.5:5", validRequest()); reject != nil {
		t.Fatalf("unexpected reject on first attempt: %+v", reject)
	}
	_, reject := h.HandleJoinRequest("5.5.5.5:5", validRequest())
	if reject == nil || reject.Reason != RejectBlocked {
		t.Fatalf("expected rate-limited attempt to surface as Blocked, got %+v", reject)
	}
}

func TestHostSessionStartAfterAllReady(t *testing.T) {
	h := NewHost(testExpectations(), nil)
	accept1, _ := h.HandleJoinRequest("1.1.1.1:1", validRequest())
	accept2, _ := h.HandleJoinRequest("2.2.2.2:2", validRequest())

	if h.AllReady() {
		t.Fatalf("expected not all ready before SetReady calls")
	}
	h.SetReady(accept1.Handle, true)
	if h.AllReady() {
		t.Fatalf("expected not all ready with one seat unready")
	}
	h.SetReady(accept2.Handle, true)
	if !h.AllReady() {
		t.Fatalf("expected all ready")
	}

	start, err := h.BuildSessionStart(
		NetworkConfig{InputDelayFrames: 2, MaxRollbackFrames: 8, DesyncCheckInterval: 60},
		GameSettings{FixedTimestepMicros: 16666},
		SaveSlotDirective{Mode: SaveSlotNewGame},
	)
	if err != nil {
		t.Fatalf("BuildSessionStart: %v", err)
	}
	if start.ActivePlayerCount != 2 {
		t.Fatalf("expected 2 active players, got %d", start.ActivePlayerCount)
	}
	if h.State() != HostReady {
		t.Fatalf("expected Ready state, got %s", h.State())
	}
}
