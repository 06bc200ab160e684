package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	if cfg.OfflineThreshold != 60*time.Second {
		t.Errorf("OfflineThreshold = %v, want 60s", cfg.OfflineThreshold)
	}
	if cfg.BroadcastRetention != 256 {
		t.Errorf("BroadcastRetention = %d, want 256", cfg.BroadcastRetention)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("default config should validate: %v", err)
	}
}

func TestLoadFile(t *testing.T) {
	content := `
[hub]
offline_threshold_seconds = 30
liveness_interval_seconds = 2
low_workload_threshold = 0.5
broadcast_retention = 64

[pools]
cpu = 8.0
memory = 16.0

[snapshot]
path = "/tmp/hub.db"
interval_seconds = 120

[transport]
addr = ":8700"
`
	path := filepath.Join(t.TempDir(), "hub.toml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}

	if cfg.OfflineThreshold != 30*time.Second {
		t.Errorf("OfflineThreshold = %v, want 30s", cfg.OfflineThreshold)
	}
	if cfg.LivenessInterval != 2*time.Second {
		t.Errorf("LivenessInterval = %v, want 2s", cfg.LivenessInterval)
	}
	if cfg.LowWorkloadThreshold != 0.5 {
		t.Errorf("LowWorkloadThreshold = %v, want 0.5", cfg.LowWorkloadThreshold)
	}
	if cfg.Pools["cpu"] != 8.0 {
		t.Errorf("cpu pool = %v, want 8.0", cfg.Pools["cpu"])
	}
	if cfg.Snapshot.Path != "/tmp/hub.db" {
		t.Errorf("snapshot path = %q", cfg.Snapshot.Path)
	}
	if cfg.Snapshot.Interval != 120*time.Second {
		t.Errorf("snapshot interval = %v, want 120s", cfg.Snapshot.Interval)
	}
	if cfg.Transport.Addr != ":8700" {
		t.Errorf("transport addr = %q", cfg.Transport.Addr)
	}
	// Unset values keep defaults
	if cfg.SweepInterval != 5*time.Second {
		t.Errorf("SweepInterval = %v, want default 5s", cfg.SweepInterval)
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	cfg := Default()
	cfg.LowWorkloadThreshold = 1.5
	if err := cfg.Validate(); err == nil {
		t.Error("expected error for threshold > 1")
	}

	cfg = Default()
	cfg.Pools = map[string]float64{"cpu": -1}
	if err := cfg.Validate(); err == nil {
		t.Error("expected error for negative pool limit")
	}
}
