// Package quality implements the data quality engine: per-record validation,
// mock-data fingerprinting, corrective value synthesis, fleet-wide scoring and
// policy-gated auto-remediation.
package quality

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/toolscout/catalogd/internal/domain"
)

// Config controls one quality pass. It is persisted as JSON in the settings
// store under domain.SettingQualityConfig.
type Config struct {
	AutoFix            bool    `json:"autoFix"`
	MaxMockDataPct     float64 `json:"maxMockDataPct"`
	MaxSuspiciousPct   float64 `json:"maxSuspiciousPct"`
	MinQualityScore    float64 `json:"minQualityScore"`
	MaxErrorsPerRecord int     `json:"maxErrorsPerRecord"`
}

// DefaultConfig returns the thresholds used when nothing is persisted.
func DefaultConfig() Config {
	return Config{
		AutoFix:            false,
		MaxMockDataPct:     5,
		MaxSuspiciousPct:   10,
		MinQualityScore:    90,
		MaxErrorsPerRecord: 2,
	}
}

// Validate checks that all thresholds are within range.
func (c Config) Validate() error {
	var errs []error
	if c.MaxMockDataPct < 0 || c.MaxMockDataPct > 100 {
		errs = append(errs, fmt.Errorf("maxMockDataPct must be in [0,100], got %v", c.MaxMockDataPct))
	}
	if c.MaxSuspiciousPct < 0 || c.MaxSuspiciousPct > 100 {
		errs = append(errs, fmt.Errorf("maxSuspiciousPct must be in [0,100], got %v", c.MaxSuspiciousPct))
	}
	if c.MinQualityScore < 0 || c.MinQualityScore > 100 {
		errs = append(errs, fmt.Errorf("minQualityScore must be in [0,100], got %v", c.MinQualityScore))
	}
	if c.MaxErrorsPerRecord < 0 {
		errs = append(errs, fmt.Errorf("maxErrorsPerRecord must be >= 0, got %d", c.MaxErrorsPerRecord))
	}
	return errors.Join(errs...)
}

// ParseConfig decodes a persisted config. Missing fields keep their defaults.
func ParseConfig(raw string) (Config, error) {
	cfg := DefaultConfig()
	if raw == "" {
		return cfg, nil
	}
	if err := json.Unmarshal([]byte(raw), &cfg); err != nil {
		return DefaultConfig(), fmt.Errorf("decode quality config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return DefaultConfig(), err
	}
	return cfg, nil
}

// Encode serializes the config for the settings store.
func (c Config) Encode() (string, error) {
	b, err := json.Marshal(c)
	if err != nil {
		return "", fmt.Errorf("encode quality config: %w", err)
	}
	return string(b), nil
}

// SettingsReader reads persisted runtime settings.
type SettingsReader interface {
	// GetSetting returns domain.ErrNotFound for unknown keys.
	GetSetting(ctx context.Context, key string) (string, error)
}

// LoadConfig reads the persisted config. A missing setting means defaults.
func LoadConfig(ctx context.Context, settings SettingsReader) (Config, error) {
	raw, err := settings.GetSetting(ctx, domain.SettingQualityConfig)
	if errors.Is(err, domain.ErrNotFound) {
		return DefaultConfig(), nil
	}
	if err != nil {
		return DefaultConfig(), fmt.Errorf("read quality config: %w", err)
	}
	return ParseConfig(raw)
}
