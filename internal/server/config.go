package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"trustscan/internal/scan"

	"gopkg.in/yaml.v3"
)

type ServerConfig struct {
	ListenAddr string              `json:"listen_addr" yaml:"listen_addr"`
	Database   DatabaseConfig      `json:"database" yaml:"database"`
	Auth       AuthConfig          `json:"auth" yaml:"auth"`
	Security   SecurityConfig      `json:"security" yaml:"security"`
	Scan       ScanConfig          `json:"scan" yaml:"scan"`
	Probe      ProbeConfig         `json:"probe" yaml:"probe"`
	Observer   ObservabilityConfig `json:"observability" yaml:"observability"`
	Limits     LimitConfig         `json:"limits" yaml:"limits"`
}

type DatabaseConfig struct {
	DSN            string `json:"dsn" yaml:"dsn"`
	MaxConns       int32  `json:"max_conns" yaml:"max_conns"`
	MigrationsPath string `json:"migrations_path" yaml:"migrations_path"`
}

type AuthConfig struct {
	SessionTTL string `json:"session_ttl" yaml:"session_ttl"`
	CookieName string `json:"cookie_name" yaml:"cookie_name"`
}

type SecurityConfig struct {
	AdminAllowedDomains []string `json:"admin_allowed_domains" yaml:"admin_allowed_domains"`
	AdminToken          string   `json:"admin_token" yaml:"admin_token"`
}

type ScanConfig struct {
	StorePath                string  `json:"store_path" yaml:"store_path"`
	DetectorTimeoutSec       int     `json:"detector_timeout_sec" yaml:"detector_timeout_sec"`
	ScanTimeoutSec           int     `json:"scan_timeout_sec" yaml:"scan_timeout_sec"`
	MaxParallelScans         int     `json:"max_parallel_scans" yaml:"max_parallel_scans"`
	DissentThreshold         float64 `json:"dissent_threshold" yaml:"dissent_threshold"`
	PhysicsOverrideThreshold float64 `json:"physics_override_threshold" yaml:"physics_override_threshold"`
	OODNoveltyThreshold      float64 `json:"ood_novelty_threshold" yaml:"ood_novelty_threshold"`
}

type ProbeConfig struct {
	SessionTTL        string `json:"session_ttl" yaml:"session_ttl"`
	DefaultChallenges int    `json:"default_challenges" yaml:"default_challenges"`
}

type ObservabilityConfig struct {
	OTLPEndpoint string  `json:"otlp_endpoint" yaml:"otlp_endpoint"`
	ServiceName  string  `json:"service_name" yaml:"service_name"`
	SampleRatio  float64 `json:"sample_ratio" yaml:"sample_ratio"`
}

type LimitConfig struct {
	ScanRPM        int `json:"scan_rpm" yaml:"scan_rpm"`
	DailyScanQuota int `json:"daily_scan_quota" yaml:"daily_scan_quota"`
}

func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		ListenAddr: ":8080",
		Database: DatabaseConfig{
			MaxConns:       10,
			MigrationsPath: "./migrations",
		},
		Auth: AuthConfig{
			SessionTTL: "8h",
			CookieName: "trustscan_session",
		},
		Scan: ScanConfig{
			StorePath:                "./data/trustscan.json",
			DetectorTimeoutSec:       10,
			ScanTimeoutSec:           60,
			MaxParallelScans:         2,
			DissentThreshold:         0.5,
			PhysicsOverrideThreshold: 0.3,
			OODNoveltyThreshold:      0.75,
		},
		Probe: ProbeConfig{
			SessionTTL:        "2m",
			DefaultChallenges: 3,
		},
		Observer: ObservabilityConfig{
			ServiceName: "trustscan-api",
			SampleRatio: 1,
		},
		Limits: LimitConfig{
			ScanRPM:        6,
			DailyScanQuota: 200,
		},
	}
}

func LoadServerConfig(path string) (ServerConfig, error) {
	cfg := DefaultServerConfig()
	if strings.TrimSpace(path) == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse yaml config: %w", err)
		}
	case ".json":
		if err := json.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse json config: %w", err)
		}
	default:
		var yamlErr error
		if yamlErr = yaml.Unmarshal(data, &cfg); yamlErr == nil {
			break
		}
		if err := json.Unmarshal(data, &cfg); err != nil {
			return cfg, errors.New("config format not recognized (expected yaml/json)")
		}
	}
	normalizeConfig(&cfg)
	return cfg, nil
}

func normalizeConfig(cfg *ServerConfig) {
	if cfg == nil {
		return
	}
	if strings.TrimSpace(cfg.ListenAddr) == "" {
		cfg.ListenAddr = ":8080"
	}
	if cfg.Database.MaxConns <= 0 {
		cfg.Database.MaxConns = 10
	}
	if strings.TrimSpace(cfg.Database.MigrationsPath) == "" {
		cfg.Database.MigrationsPath = "./migrations"
	}
	if strings.TrimSpace(cfg.Auth.CookieName) == "" {
		cfg.Auth.CookieName = "trustscan_session"
	}
	if strings.TrimSpace(cfg.Auth.SessionTTL) == "" {
		cfg.Auth.SessionTTL = "8h"
	}
	if cfg.Scan.DetectorTimeoutSec <= 0 {
		cfg.Scan.DetectorTimeoutSec = 10
	}
	if cfg.Scan.ScanTimeoutSec <= 0 {
		cfg.Scan.ScanTimeoutSec = 60
	}
	if cfg.Scan.MaxParallelScans <= 0 {
		cfg.Scan.MaxParallelScans = 2
	}
	if strings.TrimSpace(cfg.Probe.SessionTTL) == "" {
		cfg.Probe.SessionTTL = "2m"
	}
	if cfg.Probe.DefaultChallenges <= 0 {
		cfg.Probe.DefaultChallenges = 3
	}
	if cfg.Observer.SampleRatio <= 0 || cfg.Observer.SampleRatio > 1 {
		cfg.Observer.SampleRatio = 1
	}
	if strings.TrimSpace(cfg.Observer.ServiceName) == "" {
		cfg.Observer.ServiceName = "trustscan-api"
	}
	if cfg.Limits.ScanRPM <= 0 {
		cfg.Limits.ScanRPM = 6
	}
	if cfg.Limits.DailyScanQuota <= 0 {
		cfg.Limits.DailyScanQuota = 200
	}
}

// scanConfig maps the server-level knobs onto the pipeline config.
func (c ServerConfig) scanConfig() scan.Config {
	cfg := scan.DefaultConfig()
	if c.Scan.DetectorTimeoutSec > 0 {
		cfg.DetectorTimeout = time.Duration(c.Scan.DetectorTimeoutSec) * time.Second
	}
	if c.Scan.DissentThreshold > 0 {
		cfg.DissentThreshold = c.Scan.DissentThreshold
	}
	if c.Scan.PhysicsOverrideThreshold > 0 {
		cfg.PhysicsOverrideThreshold = c.Scan.PhysicsOverrideThreshold
	}
	if c.Scan.OODNoveltyThreshold > 0 {
		cfg.OODNoveltyThreshold = c.Scan.OODNoveltyThreshold
	}
	return cfg
}

// ProbeSessionTTL parses the configured probe session lifetime.
func (c ServerConfig) ProbeSessionTTL() time.Duration {
	d, err := time.ParseDuration(c.Probe.SessionTTL)
	if err != nil || d <= 0 {
		return 2 * time.Minute
	}
	return d
}
