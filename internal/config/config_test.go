package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefaultsValidate(t *testing.T) {
	cfg := Defaults()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("defaults must validate: %v", err)
	}
}

func TestLoad_TOMLOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "dyad.toml")
	content := `
log_level = "debug"

[protocol]
max_positions = 42
sync_cooldown_blocks = 3

[oracle]
mode = "static"
static_price = "180000000000"
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Protocol.MaxPositions != 42 {
		t.Errorf("max_positions: got %d, want 42", cfg.Protocol.MaxPositions)
	}
	if cfg.Protocol.SyncCooldownBlocks != 3 {
		t.Errorf("sync_cooldown_blocks: got %d, want 3", cfg.Protocol.SyncCooldownBlocks)
	}
	if cfg.LogLevel != "debug" {
		t.Errorf("log_level: got %q, want debug", cfg.LogLevel)
	}
	// Untouched sections keep their defaults.
	if cfg.Persist.BatchSize != 100 {
		t.Errorf("persist.batch_size default: got %d, want 100", cfg.Persist.BatchSize)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatal(err)
	}
}

func TestLoad_EnvOverridesTOML(t *testing.T) {
	t.Setenv("DYAD_PROTOCOL_MAX_POSITIONS", "7")
	t.Setenv("DYAD_POSTGRES_DSN", "postgres://other:5432/dyad")

	cfg, err := Load("")
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Protocol.MaxPositions != 7 {
		t.Errorf("env max_positions: got %d, want 7", cfg.Protocol.MaxPositions)
	}
	if cfg.Postgres.DSN != "postgres://other:5432/dyad" {
		t.Errorf("env dsn not applied: %q", cfg.Postgres.DSN)
	}
}

func TestValidate_Rejections(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"bad deposit minimum", func(c *Config) { c.Protocol.DepositMinimum = "xyz" }},
		{"zero max positions", func(c *Config) { c.Protocol.MaxPositions = 0 }},
		{"bad pool address", func(c *Config) { c.Protocol.PoolAddress = "not-an-address" }},
		{"unknown oracle mode", func(c *Config) { c.Oracle.Mode = "tarot" }},
		{"chainlink without endpoint", func(c *Config) {
			c.Oracle.Mode = "chainlink"
			c.Oracle.EVMEndpoint = ""
		}},
		{"bad flush timeout", func(c *Config) { c.Persist.FlushTimeout = "soon" }},
		{"empty dsn", func(c *Config) { c.Postgres.DSN = "" }},
	}
	for _, tc := range cases {
		cfg := Defaults()
		tc.mutate(&cfg)
		if err := cfg.Validate(); err == nil {
			t.Errorf("%s: expected validation error", tc.name)
		}
	}
}
