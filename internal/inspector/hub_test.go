package inspector

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nethercore-systems/nethercore/internal/telemetry"
)

type stubSnapshot struct{ tick uint64 }

func (s stubSnapshot) Snapshot() interface{} { return map[string]uint64{"tick": s.tick} }

func TestHubBroadcastsEvents(t *testing.T) {
	events := telemetry.NewEventLog()
	if err := events.Start(""); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer events.Stop()

	hub := NewHub(events, stubSnapshot{tick: 7})
	go hub.Run()
	defer hub.Stop()

	server := httptest.NewServer(http.HandlerFunc(hub.ServeHTTP))
	defer server.Close()

	url := "ws" + strings.TrimPrefix(server.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	time.Sleep(20 * time.Millisecond) // let registration land before emitting
	events.EmitSimple(telemetry.EventTypeReady, 1, "p1", nil)

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, msg, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("ReadMessage: %v", err)
	}
	if !strings.Contains(string(msg), `"type"`) {
		t.Fatalf("unexpected frame: %s", msg)
	}
}

func TestIsAllowedOrigin(t *testing.T) {
	cases := map[string]bool{
		"":                          false,
		"http://localhost:5173":     true,
		"http://evil.example":       false,
		"http://localhost":          true,
	}
	for origin, want := range cases {
		if got := IsAllowedOrigin(origin); got != want {
			t.Fatalf("IsAllowedOrigin(%q) = %v, want %v", origin, got, want)
		}
	}
}
