package telemetry

import (
	"log"
	"net/http"
	"net/http/pprof"
	"os"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// StartDebugServer starts the pprof+metrics debug surface. It refuses to
// bind anywhere but localhost unless ALLOW_DEBUG_EXTERNAL=true is set,
// since pprof's profile/trace endpoints are a DoS vector on a public
// interface.
func StartDebugServer(enabled bool, addr string) error {
	if !enabled {
		log.Println("telemetry: debug server disabled")
		return nil
	}

	if addr != "127.0.0.1:6060" && addr != "localhost:6060" {
		if os.Getenv("ALLOW_DEBUG_EXTERNAL") != "true" {
			log.Printf("telemetry: refusing to bind debug server to %s, forcing localhost", addr)
			addr = "127.0.0.1:6060"
		}
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/debug/pprof/", pprof.Index)
	mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
	mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
	mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
	mux.HandleFunc("/debug/pprof/trace", pprof.Trace)
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	go func() {
		log.Printf("telemetry: debug server on %s (pprof + /metrics)", addr)
		if err := http.ListenAndServe(addr, mux); err != nil {
			log.Printf("telemetry: debug server error: %v", err)
		}
	}()

	return nil
}
