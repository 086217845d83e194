package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadConfigCreatesDefault(t *testing.T) {
	dir, err := os.MkdirTemp("", "pegworker-config-")
	if err != nil {
		t.Fatalf("MkdirTemp: %v", err)
	}
	defer os.RemoveAll(dir)

	cfg, err := LoadConfig(dir)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}

	if cfg.Network != NetworkLiquid {
		t.Errorf("Network = %q, want %q", cfg.Network, NetworkLiquid)
	}
	if cfg.GapLimit != 20 {
		t.Errorf("GapLimit = %d, want 20", cfg.GapLimit)
	}

	if _, err := os.Stat(ConfigPath(dir)); err != nil {
		t.Errorf("config file not written: %v", err)
	}
}

func TestLoadConfigRoundTrip(t *testing.T) {
	dir, err := os.MkdirTemp("", "pegworker-config-")
	if err != nil {
		t.Fatalf("MkdirTemp: %v", err)
	}
	defer os.RemoveAll(dir)

	cfg, err := LoadConfig(dir)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	cfg.GapLimit = 42
	cfg.GatewayListenAddr = "0.0.0.0:9000"
	if err := cfg.Save(dir); err != nil {
		t.Fatalf("Save: %v", err)
	}

	reloaded, err := LoadConfig(dir)
	if err != nil {
		t.Fatalf("LoadConfig (reload): %v", err)
	}
	if reloaded.GapLimit != 42 {
		t.Errorf("GapLimit = %d, want 42", reloaded.GapLimit)
	}
	if reloaded.GatewayListenAddr != "0.0.0.0:9000" {
		t.Errorf("GatewayListenAddr = %q, want %q", reloaded.GatewayListenAddr, "0.0.0.0:9000")
	}
}

func TestExpandPathTilde(t *testing.T) {
	home, err := os.UserHomeDir()
	if err != nil {
		t.Skip("no home directory available")
	}
	got := expandPath("~/sub/dir")
	want := filepath.Join(home, "sub/dir")
	if got != want {
		t.Errorf("expandPath = %q, want %q", got, want)
	}
}
