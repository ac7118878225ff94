package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "veritrail.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config file: %v", err)
	}
	return path
}

func TestDefaultIsValid(t *testing.T) {
	if err := Default().Validate(); err != nil {
		t.Errorf("default configuration must validate: %v", err)
	}
}

func TestLoadEmptyPathReturnsDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.HTTPAddr != ":8921" || cfg.Anchoring.Primary.Kind != KindLocal {
		t.Errorf("unexpected defaults: %+v", cfg)
	}
	if !cfg.Hashing.Chain {
		t.Error("hash chaining must default to on")
	}
}

func TestLoadOverridesDefaults(t *testing.T) {
	path := writeConfig(t, `
http_addr: ":9000"
log_level: debug
hashing:
  algorithm: BLAKE3
batching:
  max_events: 50
  interval: 10m
anchoring:
  tier: GOLD
  interval: 30m
  primary:
    kind: opentimestamps
    url: https://a.pool.opentimestamps.org
  fallback:
    kind: local
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.HTTPAddr != ":9000" {
		t.Errorf("http_addr = %q", cfg.HTTPAddr)
	}
	if cfg.DataDir != "data" {
		t.Errorf("unset fields must keep their defaults, data_dir = %q", cfg.DataDir)
	}
	if cfg.Hashing.Algorithm != "BLAKE3" {
		t.Errorf("algorithm = %q", cfg.Hashing.Algorithm)
	}
	if cfg.Batching.MaxEvents != 50 || cfg.Batching.Interval.Std() != 10*time.Minute {
		t.Errorf("batching = %+v", cfg.Batching)
	}
	if cfg.Anchoring.Interval.Std() != 30*time.Minute {
		t.Errorf("anchoring interval = %s", cfg.Anchoring.Interval.Std())
	}
	if cfg.Anchoring.Primary.Kind != KindOpenTimestamps {
		t.Errorf("primary = %+v", cfg.Anchoring.Primary)
	}
	if cfg.Anchoring.Fallback == nil || cfg.Anchoring.Fallback.Kind != KindLocal {
		t.Errorf("fallback = %+v", cfg.Anchoring.Fallback)
	}

	if err := cfg.Validate(); err != nil {
		t.Errorf("loaded configuration must validate: %v", err)
	}
}

func TestLoadRejectsBadDuration(t *testing.T) {
	path := writeConfig(t, "anchoring:\n  interval: soon\n")

	if _, err := Load(path); err == nil {
		t.Error("expected an error for an unparseable duration")
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Error("expected an error for a missing file")
	}
}

func TestValidateCatchesErrors(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{
			name:   "unknown algorithm",
			mutate: func(c *Config) { c.Hashing.Algorithm = "MD5" },
			want:   "unknown hash algorithm",
		},
		{
			name:   "unknown tier",
			mutate: func(c *Config) { c.Anchoring.Tier = "PLATINUM" },
			want:   "unknown conformance tier",
		},
		{
			name:   "interval above tier ceiling",
			mutate: func(c *Config) { c.Anchoring.Tier = "GOLD" },
			want:   "exceeds the GOLD ceiling",
		},
		{
			name:   "zero retries",
			mutate: func(c *Config) { c.Anchoring.MaxRetries = 0 },
			want:   "max_retries",
		},
		{
			name:   "remote target without URL",
			mutate: func(c *Config) { c.Anchoring.Primary = TargetConfig{Kind: KindRFC3161} },
			want:   "anchoring.primary.url is required",
		},
		{
			name:   "unknown target kind",
			mutate: func(c *Config) { c.Anchoring.Primary = TargetConfig{Kind: "carrier-pigeon"} },
			want:   "anchoring.primary.kind",
		},
		{
			name:   "bad log level",
			mutate: func(c *Config) { c.LogLevel = "verbose" },
			want:   "log_level",
		},
		{
			name:   "zero batch size",
			mutate: func(c *Config) { c.Batching.MaxEvents = 0 },
			want:   "max_events",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Default()
			tc.mutate(cfg)

			err := cfg.Validate()
			if err == nil {
				t.Fatal("expected a validation error")
			}
			if !strings.Contains(err.Error(), tc.want) {
				t.Errorf("error %q does not mention %q", err, tc.want)
			}
		})
	}
}

func TestValidateBronzeAllowsWeeklyAnchors(t *testing.T) {
	cfg := Default()
	cfg.Anchoring.Tier = "BRONZE"
	cfg.Anchoring.Interval = Duration(7 * 24 * time.Hour)

	if err := cfg.Validate(); err != nil {
		t.Errorf("a 7 day interval is within the BRONZE ceiling: %v", err)
	}
}

func TestValidateJoinsAllErrors(t *testing.T) {
	cfg := Default()
	cfg.HTTPAddr = ""
	cfg.DataDir = ""
	cfg.Hashing.Algorithm = "MD5"

	err := cfg.Validate()
	if err == nil {
		t.Fatal("expected validation errors")
	}
	for _, want := range []string{"http_addr", "data_dir", "unknown hash algorithm"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("joined error does not mention %q: %v", want, err)
		}
	}
}
