package api

import (
	"context"
	"log"
	"net/http"

	"github.com/go-chi/chi/v5"
)

// Server wraps the control-surface router with a net/http.Server for
// graceful shutdown, the same split the teacher's own Server keeps between
// NewRouter (pure, testable) and Start (side-effecting).
type Server struct {
	router      *chi.Mux
	rateLimiter *IPRateLimiter
	httpSrv     *http.Server
}

// NewServer builds a Server from a RouterConfig, tracking the rate limiter
// so Shutdown can clean it up.
func NewServer(cfg RouterConfig) *Server {
	rateLimiter := cfg.RateLimiter
	if rateLimiter == nil {
		rlCfg := DefaultRateLimitConfig
		if cfg.RateLimitConfig != nil {
			rlCfg = *cfg.RateLimitConfig
		}
		rateLimiter = NewIPRateLimiter(rlCfg)
		cfg.RateLimiter = rateLimiter
	}
	return &Server{
		router:      NewRouter(cfg),
		rateLimiter: rateLimiter,
	}
}

// Router returns the handler for use with httptest.
func (s *Server) Router() http.Handler { return s.router }

// Start begins serving on addr. It blocks until the server stops (via
// Shutdown or an unrecoverable listener error).
func (s *Server) Start(addr string) error {
	s.httpSrv = &http.Server{Addr: addr, Handler: s.router}
	log.Printf("api: control surface listening on %s", addr)
	err := s.httpSrv.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Shutdown gracefully stops the HTTP server and the rate limiter's cleanup
// goroutine.
func (s *Server) Shutdown(ctx context.Context) error {
	s.rateLimiter.Stop()
	if s.httpSrv == nil {
		return nil
	}
	return s.httpSrv.Shutdown(ctx)
}
