// Package config loads the service configuration from a YAML file.
// The defaults are a complete working configuration; a file overrides
// them and Validate catches contradictions before anything starts.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"VeriTrail/internal/anchor"
	"VeriTrail/internal/digest"
)

// Target kinds accepted in anchoring configuration.
const (
	KindLocal          = "local"
	KindOpenTimestamps = "opentimestamps"
	KindRFC3161        = "rfc3161"
	KindCustom         = "custom"
)

// Duration wraps time.Duration so YAML can carry values like "24h".
type Duration time.Duration

// UnmarshalYAML parses a Go duration string.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}

	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q:\n%w", s, err)
	}

	*d = Duration(parsed)
	return nil
}

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Config is the full service configuration.
type Config struct {
	// HTTPAddr is the listen address of the HTTP API.
	HTTPAddr string `yaml:"http_addr"`

	// DataDir is the directory holding the evidence store.
	DataDir string `yaml:"data_dir"`

	// LogLevel sets the minimum level: debug, info, warn or error.
	LogLevel string `yaml:"log_level"`

	Hashing   HashingConfig   `yaml:"hashing"`
	Batching  BatchingConfig  `yaml:"batching"`
	Anchoring AnchoringConfig `yaml:"anchoring"`
}

// HashingConfig selects the digest algorithm and chain linking.
type HashingConfig struct {
	// Algorithm is SHA256, BLAKE3 or SHA3-256.
	Algorithm string `yaml:"algorithm"`

	// Chain links each event to its predecessor via PrevHash.
	Chain bool `yaml:"chain"`
}

// BatchingConfig controls when the recorder buffer is sealed.
type BatchingConfig struct {
	// MaxEvents seals a batch as soon as the buffer reaches this size.
	MaxEvents int `yaml:"max_events"`

	// Interval seals a non-empty buffer at least this often.
	Interval Duration `yaml:"interval"`
}

// AnchoringConfig controls the anchor orchestrator and its targets.
type AnchoringConfig struct {
	// Tier is the conformance tier: BRONZE, SILVER or GOLD. The tier
	// caps how large Interval may be.
	Tier string `yaml:"tier"`

	// Interval is the time between anchor sweeps.
	Interval Duration `yaml:"interval"`

	// MaxRetries bounds the attempts per target per batch.
	MaxRetries int `yaml:"max_retries"`

	// RetryDelay is the fixed pause between attempts.
	RetryDelay Duration `yaml:"retry_delay"`

	// CallTimeout is the deadline for one target call.
	CallTimeout Duration `yaml:"call_timeout"`

	// Primary is the first target tried for every batch.
	Primary TargetConfig `yaml:"primary"`

	// Fallback, when set, is tried after the primary is exhausted.
	Fallback *TargetConfig `yaml:"fallback,omitempty"`
}

// TargetConfig names one anchor target.
type TargetConfig struct {
	// Kind is local, opentimestamps, rfc3161 or custom.
	Kind string `yaml:"kind"`

	// URL is the target endpoint. Required for every kind but local.
	URL string `yaml:"url,omitempty"`
}

// Default returns the built-in configuration: local-only anchoring at
// the SILVER tier, hash chaining on.
func Default() *Config {
	return &Config{
		HTTPAddr: ":8921",
		DataDir:  "data",
		LogLevel: "info",
		Hashing: HashingConfig{
			Algorithm: string(digest.SHA256),
			Chain:     true,
		},
		Batching: BatchingConfig{
			MaxEvents: 1000,
			Interval:  Duration(time.Hour),
		},
		Anchoring: AnchoringConfig{
			Tier:        string(anchor.Silver),
			Interval:    Duration(24 * time.Hour),
			MaxRetries:  3,
			RetryDelay:  Duration(2 * time.Second),
			CallTimeout: Duration(60 * time.Second),
			Primary:     TargetConfig{Kind: KindLocal},
		},
	}
}

// Load returns the defaults overridden by the YAML file at path. An
// empty path means pure defaults.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file:\n%w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config file %s:\n%w", path, err)
	}

	return cfg, nil
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	var errs []error

	if c.HTTPAddr == "" {
		errs = append(errs, fmt.Errorf("http_addr is required"))
	}
	if c.DataDir == "" {
		errs = append(errs, fmt.Errorf("data_dir is required"))
	}
	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("log_level must be debug, info, warn or error, not %q", c.LogLevel))
	}

	if _, err := digest.Parse(c.Hashing.Algorithm); err != nil {
		errs = append(errs, err)
	}

	if c.Batching.MaxEvents <= 0 {
		errs = append(errs, fmt.Errorf("batching.max_events must be positive"))
	}
	if c.Batching.Interval <= 0 {
		errs = append(errs, fmt.Errorf("batching.interval must be positive"))
	}

	if c.Anchoring.Interval <= 0 {
		errs = append(errs, fmt.Errorf("anchoring.interval must be positive"))
	}
	if c.Anchoring.MaxRetries <= 0 {
		errs = append(errs, fmt.Errorf("anchoring.max_retries must be positive"))
	}
	if c.Anchoring.RetryDelay < 0 {
		errs = append(errs, fmt.Errorf("anchoring.retry_delay must not be negative"))
	}
	if c.Anchoring.CallTimeout <= 0 {
		errs = append(errs, fmt.Errorf("anchoring.call_timeout must be positive"))
	}

	tier, err := anchor.ParseTier(c.Anchoring.Tier)
	if err != nil {
		errs = append(errs, err)
	} else if c.Anchoring.Interval.Std() > tier.MaxInterval() {
		errs = append(errs, fmt.Errorf("anchoring.interval %s exceeds the %s ceiling of %s",
			c.Anchoring.Interval.Std(), tier, tier.MaxInterval()))
	}

	errs = append(errs, validateTarget("anchoring.primary", &c.Anchoring.Primary)...)
	if c.Anchoring.Fallback != nil {
		errs = append(errs, validateTarget("anchoring.fallback", c.Anchoring.Fallback)...)
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

func validateTarget(name string, t *TargetConfig) []error {
	var errs []error

	switch t.Kind {
	case KindLocal:
	case KindOpenTimestamps, KindRFC3161, KindCustom:
		if t.URL == "" {
			errs = append(errs, fmt.Errorf("%s.url is required for kind %q", name, t.Kind))
		}
	default:
		errs = append(errs, fmt.Errorf("%s.kind must be local, opentimestamps, rfc3161 or custom, not %q", name, t.Kind))
	}

	return errs
}
