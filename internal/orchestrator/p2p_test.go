package orchestrator

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/nethercore-systems/nethercore/internal/config"
	"github.com/nethercore-systems/nethercore/internal/nchs"
	"github.com/nethercore-systems/nethercore/internal/rollback"
)

// TestP2PHostAndGuestReachSession drives a host and a single guest through
// the full NCHS negotiation over an in-process net.Pipe connection and
// confirms both sides settle into a running session.
func TestP2PHostAndGuestReachSession(t *testing.T) {
	romBytes := testROMBytes(t, 60, 2)

	hostConn, guestConn := net.Pipe()

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()

	hostBackend := &recordingBackend{}
	guestBackend := &recordingBackend{}

	hostErr := make(chan error, 1)
	guestErr := make(chan error, 1)

	go func() {
		hostErr <- RunP2PHost(ctx, romBytes, testConsoleConfig(), config.DefaultNetplay(), t.TempDir(),
			nchs.PlayerProfile{Name: "host"}, []net.Conn{hostConn},
			rollback.NewSyntheticInputSource(1), hostBackend)
	}()
	go func() {
		guestErr <- RunP2PGuest(ctx, romBytes, testConsoleConfig(), config.DefaultNetplay(), t.TempDir(),
			nchs.PlayerProfile{Name: "guest"}, guestConn,
			rollback.NewSyntheticInputSource(2), guestBackend)
	}()

	if err := <-hostErr; err != nil {
		t.Fatalf("RunP2PHost: %v", err)
	}
	if err := <-guestErr; err != nil {
		t.Fatalf("RunP2PGuest: %v", err)
	}

	if hostBackend.materializeCalls != 1 {
		t.Fatalf("host: expected one MaterializeResources call, got %d", hostBackend.materializeCalls)
	}
	if guestBackend.materializeCalls != 1 {
		t.Fatalf("guest: expected one MaterializeResources call, got %d", guestBackend.materializeCalls)
	}
}
