package main

import (
	"context"
	"flag"
	"log"
	"net"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/nethercore-systems/nethercore/internal/api"
	"github.com/nethercore-systems/nethercore/internal/capture"
	"github.com/nethercore-systems/nethercore/internal/config"
	"github.com/nethercore-systems/nethercore/internal/inspector"
	"github.com/nethercore-systems/nethercore/internal/nchs"
	"github.com/nethercore-systems/nethercore/internal/orchestrator"
	"github.com/nethercore-systems/nethercore/internal/rollback"
	"github.com/nethercore-systems/nethercore/internal/telemetry"
)

// idleInputSource reports no held buttons for every player. Wiring a real
// controller/keyboard poller is a platform-layer concern outside this
// runtime's scope (SPEC_FULL.md's scheduler/sandbox/NCHS core has no GPU or
// input-device surface); a Backend implementation supplies one instead.
type idleInputSource struct{}

func (idleInputSource) ReadLocal(player uint32) rollback.InputFrame { return rollback.InputFrame{} }

// sessionInspectorAdapter bridges orchestrator.Session's concrete Status()
// return type to the api.SessionInspector interface, which reports
// interface{} so the control surface never depends on the orchestrator
// package directly.
type sessionInspectorAdapter struct{ session *orchestrator.Session }

func (a sessionInspectorAdapter) Status() interface{} { return a.session.Status() }

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("nethercore: no .env file found, using environment variables only")
	}

	var (
		cartridgePath = flag.String("cartridge", "", "path to a .nhc cartridge file (required)")
		syncTest      = flag.Bool("sync-test", false, "run in SyncTest mode: verify determinism against synthetic input")
		p2pHost       = flag.Bool("p2p-host", false, "host a P2P session")
		p2pGuest      = flag.String("p2p-guest", "", "join a P2P session at this host address")
		bind          = flag.String("bind", "", "address to listen on when hosting (overrides NCHSBindAddr)")
		players       = flag.Int("players", 1, "number of players: local players in Local/SyncTest modes, total seats including the host with -p2p-host")
		seed          = flag.Uint64("seed", 0, "fixed RNG seed for SyncTest mode (0 = random)")
		saveDir       = flag.String("save-dir", "./saves", "directory for persisted save slots")
		recordPath    = flag.String("record", "", "write every rendered frame as newline-delimited JSON to this file")
	)
	flag.Parse()

	if *cartridgePath == "" {
		log.Fatal("nethercore: -cartridge is required")
	}
	romBytes, err := os.ReadFile(*cartridgePath)
	if err != nil {
		log.Fatalf("nethercore: read cartridge: %v", err)
	}

	appCfg := config.Load()

	events := telemetry.NewEventLog()
	eventLogPath := os.Getenv("NETHERCORE_EVENT_LOG_PATH")
	if err := events.Start(eventLogPath); err != nil {
		log.Printf("nethercore: event log disabled: %v", err)
	}
	defer events.Stop()

	if err := telemetry.StartDebugServer(appCfg.Server.DebugEnabled, appCfg.Server.DebugAddr); err != nil {
		log.Printf("nethercore: debug server disabled: %v", err)
	}

	var sessionSlot api.SessionSlot
	hub := inspector.NewHub(events, &sessionSlot)
	go hub.Run()
	defer hub.Stop()

	ctrl := api.NewServer(api.RouterConfig{Session: &sessionSlot})
	go func() {
		addr := ":" + strconv.Itoa(appCfg.Server.HTTPPort)
		if err := ctrl.Start(addr); err != nil {
			log.Printf("nethercore: control surface stopped: %v", err)
		}
	}()

	var backend orchestrator.Backend = orchestrator.NopBackend{}
	if *recordPath != "" {
		recordFile, err := os.Create(*recordPath)
		if err != nil {
			log.Fatalf("nethercore: open record file: %v", err)
		}
		defer recordFile.Close()
		rec := capture.NewRecordingBackend(recordFile, nil)
		defer rec.Close()
		backend = rec
	}
	onReady := func(s *orchestrator.Session) { sessionSlot.Set(sessionInspectorAdapter{s}) }

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-quit
		log.Println("nethercore: shutting down")
		cancel()
	}()

	runErr := runSession(ctx, runOptions{
		romBytes:  romBytes,
		console:   appCfg.Console,
		netplay:   appCfg.Netplay,
		saveDir:   *saveDir,
		players:   *players,
		seed:      *seed,
		syncTest:  *syncTest,
		p2pHost:   *p2pHost,
		p2pGuest:  *p2pGuest,
		bindAddr:  pick(*bind, appCfg.Server.NCHSBindAddr),
		backend:   backend,
		onReady:   onReady,
	})

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	ctrl.Shutdown(shutdownCtx)

	if runErr != nil {
		log.Fatalf("nethercore: session ended with error: %v", runErr)
	}
	log.Println("nethercore: session ended cleanly")
}

type runOptions struct {
	romBytes []byte
	console  config.ConsoleConfig
	netplay  config.NetplayConfig
	saveDir  string
	players  int
	seed     uint64
	syncTest bool
	p2pHost  bool
	p2pGuest string
	bindAddr string
	backend  orchestrator.Backend
	onReady  func(*orchestrator.Session)
}

// runSession dispatches to the orchestrator entry point matching the
// requested mode, the CLI-level counterpart of the mode switch SPEC_FULL.md
// §4.7 describes.
func runSession(ctx context.Context, o runOptions) error {
	switch {
	case o.syncTest:
		return orchestrator.RunSyncTest(ctx, o.romBytes, o.console, o.netplay, o.saveDir, o.players, o.seed, o.backend, o.onReady)

	case o.p2pHost:
		ln, err := net.Listen("tcp", o.bindAddr)
		if err != nil {
			return err
		}
		defer ln.Close()
		log.Printf("nethercore: hosting on %s, waiting for %d guest(s)", o.bindAddr, o.players-1)

		var conns []net.Conn
		for i := 1; i < o.players; i++ {
			conn, err := ln.Accept()
			if err != nil {
				return err
			}
			conns = append(conns, conn)
		}
		return orchestrator.RunP2PHost(ctx, o.romBytes, o.console, o.netplay, o.saveDir,
			nchs.PlayerProfile{Name: "host"}, conns, idleInputSource{}, o.backend, o.onReady)

	case o.p2pGuest != "":
		conn, err := net.Dial("tcp", o.p2pGuest)
		if err != nil {
			return err
		}
		return orchestrator.RunP2PGuest(ctx, o.romBytes, o.console, o.netplay, o.saveDir,
			nchs.PlayerProfile{Name: "guest"}, conn, idleInputSource{}, o.backend, o.onReady)

	default:
		return orchestrator.RunLocal(ctx, o.romBytes, o.console, o.netplay, o.saveDir, o.players, idleInputSource{}, o.backend, o.onReady)
	}
}

func pick(override, fallback string) string {
	if override != "" {
		return override
	}
	return fallback
}

