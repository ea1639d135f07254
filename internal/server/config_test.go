package server

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadServerConfigDefaults(t *testing.T) {
	cfg, err := LoadServerConfig("")
	if err != nil {
		t.Fatalf("LoadServerConfig: %v", err)
	}
	if cfg.ListenAddr != ":8080" {
		t.Fatalf("listen = %s", cfg.ListenAddr)
	}
	if cfg.Auth.CookieName != "trustscan_session" {
		t.Fatalf("cookie = %s", cfg.Auth.CookieName)
	}
	if cfg.Scan.MaxParallelScans != 2 || cfg.Scan.DetectorTimeoutSec != 10 {
		t.Fatalf("scan defaults = %+v", cfg.Scan)
	}
	if cfg.ProbeSessionTTL() != 2*time.Minute {
		t.Fatalf("probe ttl = %v", cfg.ProbeSessionTTL())
	}
}

func TestLoadServerConfigYAMLAndNormalize(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	raw := `
listen_addr: ":9090"
scan:
  max_parallel_scans: -1
  dissent_threshold: 0.6
limits:
  scan_rpm: 12
`
	if err := os.WriteFile(path, []byte(raw), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	cfg, err := LoadServerConfig(path)
	if err != nil {
		t.Fatalf("LoadServerConfig: %v", err)
	}
	if cfg.ListenAddr != ":9090" {
		t.Fatalf("listen = %s", cfg.ListenAddr)
	}
	if cfg.Scan.MaxParallelScans != 2 {
		t.Fatalf("normalize did not repair max_parallel_scans: %d", cfg.Scan.MaxParallelScans)
	}
	if cfg.Limits.ScanRPM != 12 {
		t.Fatalf("scan_rpm = %d", cfg.Limits.ScanRPM)
	}
	pipeline := cfg.scanConfig()
	if pipeline.DissentThreshold != 0.6 {
		t.Fatalf("dissent threshold = %v", pipeline.DissentThreshold)
	}
	if pipeline.DetectorTimeout != 10*time.Second {
		t.Fatalf("detector timeout = %v", pipeline.DetectorTimeout)
	}
}
