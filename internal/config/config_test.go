package config

import (
	"os"
	"testing"
	"time"
)

func TestDefaultConsole(t *testing.T) {
	cfg := DefaultConsole()
	if cfg.RAMBudgetBytes <= 0 {
		t.Fatalf("expected positive RAM budget, got %d", cfg.RAMBudgetBytes)
	}
	if cfg.CPUBudget != 4*time.Millisecond {
		t.Errorf("expected 4ms CPU budget, got %v", cfg.CPUBudget)
	}
	if cfg.SaveSlotMaxBytes != 64*1024 {
		t.Errorf("expected 64KiB save slot cap, got %d", cfg.SaveSlotMaxBytes)
	}
}

func TestConsoleFromEnvOverride(t *testing.T) {
	os.Setenv("NETHERCORE_CPU_BUDGET_MS", "8")
	defer os.Unsetenv("NETHERCORE_CPU_BUDGET_MS")

	cfg := ConsoleFromEnv()
	if cfg.CPUBudget != 8*time.Millisecond {
		t.Errorf("expected overridden CPU budget of 8ms, got %v", cfg.CPUBudget)
	}
}

func TestNetplayFromEnvLeavesDefaultsWhenUnset(t *testing.T) {
	os.Unsetenv("NETHERCORE_TICK_RATE")
	cfg := NetplayFromEnv()
	if cfg.TickRate != 60 {
		t.Errorf("expected default tick rate 60, got %d", cfg.TickRate)
	}
}

func TestServerFromEnvRefusesNonLocalDebugAddr(t *testing.T) {
	os.Setenv("NETHERCORE_DEBUG_ADDR", "0.0.0.0:6060")
	os.Unsetenv("ALLOW_DEBUG_EXTERNAL")
	defer os.Unsetenv("NETHERCORE_DEBUG_ADDR")

	cfg := ServerFromEnv()
	if cfg.DebugAddr != "127.0.0.1:6060" {
		t.Errorf("expected debug addr forced to localhost, got %s", cfg.DebugAddr)
	}
}

func TestLoadAggregatesAllSections(t *testing.T) {
	cfg := Load()
	if cfg.Console.SaveSlotCount == 0 {
		t.Error("expected non-zero save slot count")
	}
	if cfg.Netplay.TickRate == 0 {
		t.Error("expected non-zero tick rate")
	}
	if cfg.Server.HTTPPort == 0 {
		t.Error("expected non-zero HTTP port")
	}
}
