package config_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"dooriq/internal/config"
)

func TestDefaultValidates(t *testing.T) {
	cfg := config.Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config should validate: %v", err)
	}
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	cfg, resolved, exists, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if exists {
		t.Fatal("expected missing config file")
	}
	if resolved == "" {
		t.Fatal("expected resolved path")
	}
	if cfg.Workers.BatchSize != 5 {
		t.Fatalf("expected default batch size 5, got %d", cfg.Workers.BatchSize)
	}
	if cfg.Grading.MaxMoments != 10 {
		t.Fatalf("expected default max moments 10, got %d", cfg.Grading.MaxMoments)
	}
}

func TestLoadParsesAndExpands(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	body := `
[paths]
data_dir = "` + dir + `/data"

[workers]
batch_size = 8
concurrency = 2

[logging]
format = "JSON"
`
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, _, exists, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !exists {
		t.Fatal("expected config file to exist")
	}
	if cfg.Workers.BatchSize != 8 {
		t.Fatalf("expected batch size 8, got %d", cfg.Workers.BatchSize)
	}
	if cfg.Logging.Format != "json" {
		t.Fatalf("expected normalized format, got %q", cfg.Logging.Format)
	}
	if !filepath.IsAbs(cfg.Paths.DataDir) {
		t.Fatalf("expected absolute data dir, got %q", cfg.Paths.DataDir)
	}
	if cfg.QueueDBPath() != filepath.Join(cfg.Paths.DataDir, "sessions.db") {
		t.Fatalf("unexpected queue db path %q", cfg.QueueDBPath())
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*config.Config)
		want   string
	}{
		{"zero batch size", func(c *config.Config) { c.Workers.BatchSize = 0 }, "batch_size"},
		{"zero concurrency", func(c *config.Config) { c.Workers.Concurrency = 0 }, "concurrency"},
		{"zero rate", func(c *config.Config) { c.Workers.RatePerSecond = 0 }, "rate_per_second"},
		{"zero moments", func(c *config.Config) { c.Grading.MaxMoments = 0 }, "max_moments"},
		{"bad format", func(c *config.Config) { c.Logging.Format = "xml" }, "logging.format"},
		{"heartbeat interval too long", func(c *config.Config) {
			c.Workers.HeartbeatInterval = 200
			c.Workers.HeartbeatTimeout = 100
		}, "heartbeat_interval"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := config.Default()
			tc.mutate(&cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatal("expected validation error")
			}
			if !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("expected error mentioning %q, got %v", tc.want, err)
			}
		})
	}
}

func TestCreateSample(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.toml")
	if err := config.CreateSample(path); err != nil {
		t.Fatalf("CreateSample: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read sample: %v", err)
	}
	if !strings.Contains(string(data), "[workers]") {
		t.Fatal("sample config missing workers section")
	}
}
