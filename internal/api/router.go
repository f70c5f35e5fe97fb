package api

import (
	"encoding/json"
	"net/http"
	"sync/atomic"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// SessionInspector is the narrow surface the control API reads a running
// session through. Keeping it this small means router tests construct a
// stub instead of a real orchestrator.Session with a live sandbox.
type SessionInspector interface {
	// Status returns a JSON-friendly summary (mode, tick, player count).
	Status() interface{}
}

// LobbyInspector reports the current NCHS lobby snapshot, when a session is
// still negotiating rather than running.
type LobbyInspector interface {
	LobbySnapshot() interface{}
}

// SessionSlot is a SessionInspector whose underlying session can be set
// after the control surface is already listening. A CLI composition root
// starts the HTTP server before the orchestrator has finished negotiating a
// session (lobby wait, NCHS handshake), then calls Set once a Session
// exists rather than delaying the server or rebuilding the router.
type SessionSlot struct {
	v atomic.Value // SessionInspector
}

// Set installs the live session. Safe to call from any goroutine.
func (s *SessionSlot) Set(session SessionInspector) {
	s.v.Store(sessionBox{session})
}

// Status implements SessionInspector, forwarding to whatever session is
// currently installed, or reporting unavailable if none is yet.
func (s *SessionSlot) Status() interface{} {
	boxed, ok := s.v.Load().(sessionBox)
	if !ok || boxed.inner == nil {
		return map[string]string{"status": "no session running"}
	}
	return boxed.inner.Status()
}

// Snapshot implements inspector.SnapshotSource, so the same slot can feed
// both the control API and the live telemetry dashboard.
func (s *SessionSlot) Snapshot() interface{} { return s.Status() }

type sessionBox struct{ inner SessionInspector }

// RouterConfig holds the dependencies NewRouter wires into handlers. Engine
// routes are always registered; while a field is nil its handlers answer
// 404, so the control surface degrades gracefully before a session exists
// (e.g. in the lobby).
//
// Example usage in tests:
//
//	cfg := api.RouterConfig{Session: stubInspector{}}
//	router := api.NewRouter(cfg)
//	ts := httptest.NewServer(router)
type RouterConfig struct {
	Session SessionInspector
	Lobby   LobbyInspector

	RateLimiter     *IPRateLimiter
	RateLimitConfig *RateLimitConfig
	CORSOrigins     []string
	DisableLogging  bool
}

// NewRouter constructs the HTTP control surface. It is PURE: no goroutines
// are started, no listeners opened, making it safe for httptest.NewServer.
func NewRouter(cfg RouterConfig) *chi.Mux {
	r := chi.NewRouter()

	if !cfg.DisableLogging {
		r.Use(middleware.Logger)
	}
	r.Use(middleware.Recoverer)

	rateLimiter := cfg.RateLimiter
	if rateLimiter == nil {
		rlCfg := DefaultRateLimitConfig
		if cfg.RateLimitConfig != nil {
			rlCfg = *cfg.RateLimitConfig
		}
		rateLimiter = NewIPRateLimiter(rlCfg)
	}
	r.Use(rateLimiter.Middleware)

	corsOrigins := cfg.CORSOrigins
	if corsOrigins == nil {
		corsOrigins = []string{"http://localhost:*", "http://127.0.0.1:*"}
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: corsOrigins,
		AllowedMethods: []string{"GET", "OPTIONS"},
		AllowedHeaders: []string{"*"},
	}))

	r.Get("/healthz", handleHealthz)

	r.Route("/api", func(r chi.Router) {
		r.Get("/session", handleSession(cfg.Session))
		r.Get("/lobby", handleLobby(cfg.Lobby))
	})

	return r
}

func handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

func handleSession(inspector SessionInspector) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if inspector == nil {
			http.Error(w, `{"error":"no session running"}`, http.StatusNotFound)
			return
		}
		writeJSON(w, inspector.Status())
	}
}

func handleLobby(inspector LobbyInspector) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if inspector == nil {
			http.Error(w, `{"error":"no lobby active"}`, http.StatusNotFound)
			return
		}
		writeJSON(w, inspector.LobbySnapshot())
	}
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"error":"encode failed"}`, http.StatusInternalServerError)
	}
}
