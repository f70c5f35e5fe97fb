package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

type stubSession struct{ tick uint64 }

func (s stubSession) Status() interface{} {
	return map[string]uint64{"tick": s.tick}
}

type stubLobby struct{ ready bool }

func (l stubLobby) LobbySnapshot() interface{} {
	return map[string]bool{"ready": l.ready}
}

func testRouterConfig(session SessionInspector, lobby LobbyInspector) RouterConfig {
	return RouterConfig{
		Session:         session,
		Lobby:           lobby,
		DisableLogging:  true,
		RateLimitConfig: &RateLimitConfig{RequestsPerSecond: 1000, Burst: 1000},
	}
}

func TestHealthz(t *testing.T) {
	r := NewRouter(testRouterConfig(nil, nil))
	ts := httptest.NewServer(r)
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/healthz")
	if err != nil {
		t.Fatalf("GET /healthz: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
}

func TestSessionEndpointReflectsInspector(t *testing.T) {
	r := NewRouter(testRouterConfig(stubSession{tick: 99}, nil))
	ts := httptest.NewServer(r)
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/api/session")
	if err != nil {
		t.Fatalf("GET /api/session: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	var body map[string]uint64
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["tick"] != 99 {
		t.Fatalf("expected tick 99, got %d", body["tick"])
	}
}

func TestSessionEndpointWithoutSessionReturns404(t *testing.T) {
	r := NewRouter(testRouterConfig(nil, nil))
	ts := httptest.NewServer(r)
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/api/session")
	if err != nil {
		t.Fatalf("GET /api/session: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.StatusCode)
	}
}

func TestLobbyEndpointReflectsInspector(t *testing.T) {
	r := NewRouter(testRouterConfig(nil, stubLobby{ready: true}))
	ts := httptest.NewServer(r)
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/api/lobby")
	if err != nil {
		t.Fatalf("GET /api/lobby: %v", err)
	}
	defer resp.Body.Close()

	var body map[string]bool
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !body["ready"] {
		t.Fatalf("expected ready=true")
	}
}

func TestRateLimiterRejectsBurst(t *testing.T) {
	cfg := testRouterConfig(nil, nil)
	cfg.RateLimitConfig = &RateLimitConfig{RequestsPerSecond: 0, Burst: 1}
	r := NewRouter(cfg)
	ts := httptest.NewServer(r)
	defer ts.Close()

	http.Get(ts.URL + "/healthz") // consumes the single burst token

	resp, err := http.Get(ts.URL + "/healthz")
	if err != nil {
		t.Fatalf("GET /healthz: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", resp.StatusCode)
	}
}
