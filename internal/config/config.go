// Package config provides centralized configuration management.
// This is the SINGLE SOURCE OF TRUTH for all runtime and netplay settings.
//
// IMPORTANT: When changing values, only modify this file.
// All other parts of the codebase should reference these values.
package config

import (
	"os"
	"strconv"
	"time"
)

// =============================================================================
// CONSOLE CONFIGURATION
// =============================================================================

// ConsoleConfig holds the per-console resource budget that bounds every
// guest instance: RAM ceiling, code and ROM size caps, CPU budget per
// lifecycle call, and save-slot sizing. It holds no tick-rate setting; the
// permitted tick rates are fixed in rom.Validate.
type ConsoleConfig struct {
	RAMBudgetBytes   int64         // Hard ceiling on guest linear memory
	CodeBudgetBytes  int64         // Hard ceiling on declared WebAssembly code size
	ROMBudgetBytes   int64         // Hard ceiling on total encoded ROM size
	CPUBudget        time.Duration // Per-lifecycle-call interrupt budget
	SaveSlotCount    int           // Number of save slots (4 or 8)
	SaveSlotMaxBytes int           // Per-slot size cap
}

// DefaultConsole returns the default console resource budget.
func DefaultConsole() ConsoleConfig {
	return ConsoleConfig{
		RAMBudgetBytes:   64 * 1024 * 1024, // 64 MiB guest memory
		CodeBudgetBytes:  8 * 1024 * 1024,  // 8 MiB compiled WebAssembly
		ROMBudgetBytes:   128 * 1024 * 1024,
		CPUBudget:        4 * time.Millisecond,
		SaveSlotCount:    8,
		SaveSlotMaxBytes: 64 * 1024,
	}
}

// ConsoleFromEnv returns console configuration with environment variable overrides.
func ConsoleFromEnv() ConsoleConfig {
	cfg := DefaultConsole()

	if v := getEnvInt64("NETHERCORE_RAM_BUDGET_BYTES", 0); v > 0 {
		cfg.RAMBudgetBytes = v
	}
	if v := getEnvInt64("NETHERCORE_CODE_BUDGET_BYTES", 0); v > 0 {
		cfg.CodeBudgetBytes = v
	}
	if v := getEnvInt64("NETHERCORE_ROM_BUDGET_BYTES", 0); v > 0 {
		cfg.ROMBudgetBytes = v
	}
	if ms := getEnvInt("NETHERCORE_CPU_BUDGET_MS", 0); ms > 0 {
		cfg.CPUBudget = time.Duration(ms) * time.Millisecond
	}
	if v := getEnvInt("NETHERCORE_SAVE_SLOTS", 0); v > 0 {
		cfg.SaveSlotCount = v
	}

	return cfg
}

// =============================================================================
// NETPLAY CONFIGURATION
// =============================================================================

// NetplayConfig controls rollback behavior and NCHS timing.
type NetplayConfig struct {
	TickRate           int // 30, 60, or 120
	InputDelayFrames    int
	MaxRollbackFrames   int
	DisconnectTimeout   time.Duration
	DesyncCheckInterval int // ticks between desync hash exchanges
	JoinRequestTimeout  time.Duration
	JoinRequestRetries  int
	SessionStartTimeout time.Duration
	SessionStartRetries int
	PunchTimeout        time.Duration
	PunchRetries        int
	HandshakeBudget     time.Duration
}

// DefaultNetplay returns production-safe netplay defaults.
func DefaultNetplay() NetplayConfig {
	return NetplayConfig{
		TickRate:            60,
		InputDelayFrames:    2,
		MaxRollbackFrames:   8,
		DisconnectTimeout:   5 * time.Second,
		DesyncCheckInterval: 60,
		JoinRequestTimeout:  2 * time.Second,
		JoinRequestRetries:  3,
		SessionStartTimeout: 3 * time.Second,
		SessionStartRetries: 3,
		PunchTimeout:        500 * time.Millisecond,
		PunchRetries:        3,
		HandshakeBudget:     15 * time.Second,
	}
}

// NetplayFromEnv returns netplay configuration with environment variable overrides.
func NetplayFromEnv() NetplayConfig {
	cfg := DefaultNetplay()

	if v := getEnvInt("NETHERCORE_TICK_RATE", 0); v > 0 {
		cfg.TickRate = v
	}
	if v := getEnvInt("NETHERCORE_INPUT_DELAY", -1); v >= 0 {
		cfg.InputDelayFrames = v
	}
	if v := getEnvInt("NETHERCORE_MAX_ROLLBACK", 0); v > 0 {
		cfg.MaxRollbackFrames = v
	}
	if ms := getEnvInt("NETHERCORE_DISCONNECT_TIMEOUT_MS", 0); ms > 0 {
		cfg.DisconnectTimeout = time.Duration(ms) * time.Millisecond
	}

	return cfg
}

// =============================================================================
// SERVER / CONTROL-SURFACE CONFIGURATION
// =============================================================================

// ServerConfig holds the ambient HTTP control-surface and NCHS listener settings.
type ServerConfig struct {
	HTTPPort      int
	NCHSBindAddr  string
	MaxSessions   int
	DebugEnabled  bool
	DebugAddr     string // MUST be 127.0.0.1:NNNN unless ALLOW_DEBUG_EXTERNAL=true
}

// DefaultServer returns the default server configuration.
func DefaultServer() ServerConfig {
	return ServerConfig{
		HTTPPort:     8080,
		NCHSBindAddr: ":7777",
		MaxSessions:  64,
		DebugEnabled: true,
		DebugAddr:    "127.0.0.1:6060",
	}
}

// ServerFromEnv returns server configuration with environment variable overrides.
func ServerFromEnv() ServerConfig {
	cfg := DefaultServer()

	if p := getEnvInt("NETHERCORE_HTTP_PORT", 0); p > 0 {
		cfg.HTTPPort = p
	}
	if addr := os.Getenv("NETHERCORE_NCHS_BIND"); addr != "" {
		cfg.NCHSBindAddr = addr
	}
	if mp := getEnvInt("NETHERCORE_MAX_SESSIONS", 0); mp > 0 {
		cfg.MaxSessions = mp
	}
	if os.Getenv("NETHERCORE_DEBUG_DISABLED") == "true" {
		cfg.DebugEnabled = false
	}
	if addr := os.Getenv("NETHERCORE_DEBUG_ADDR"); addr != "" {
		if addr != "127.0.0.1:6060" && addr != "localhost:6060" && os.Getenv("ALLOW_DEBUG_EXTERNAL") != "true" {
			// refuse to bind the debug surface anywhere but localhost
		} else {
			cfg.DebugAddr = addr
		}
	}

	return cfg
}

// =============================================================================
// COMPLETE APP CONFIGURATION
// =============================================================================

// AppConfig holds the complete application configuration.
type AppConfig struct {
	Console ConsoleConfig
	Netplay NetplayConfig
	Server  ServerConfig
}

// Load returns the complete configuration with environment overrides.
func Load() AppConfig {
	return AppConfig{
		Console: ConsoleFromEnv(),
		Netplay: NetplayFromEnv(),
		Server:  ServerFromEnv(),
	}
}

// =============================================================================
// HELPER FUNCTIONS
// =============================================================================

func getEnvInt(key string, defaultVal int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return defaultVal
}

func getEnvInt64(key string, defaultVal int64) int64 {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.ParseInt(v, 10, 64); err == nil {
			return i
		}
	}
	return defaultVal
}
