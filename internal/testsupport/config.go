package testsupport

import (
	"path/filepath"
	"testing"

	"resona/internal/config"
)

// ConfigOption allows callers to customize the generated test configuration.
type ConfigOption func(*config.Config)

// NewConfig produces a config seeded with unique temp directories per test.
func NewConfig(t testing.TB, opts ...ConfigOption) *config.Config {
	t.Helper()

	base := t.TempDir()
	cfg := config.Default()
	cfg.Paths.StateDir = filepath.Join(base, "state")
	cfg.Paths.LogDir = filepath.Join(base, "logs")

	for _, opt := range opts {
		opt(&cfg)
	}
	return &cfg
}

// WithDefaultProfile overrides the analysis profile assumed for intents that
// do not name one.
func WithDefaultProfile(profile string) ConfigOption {
	return func(cfg *config.Config) {
		cfg.Analysis.DefaultProfile = profile
	}
}

// WithAutoRegenerate toggles automatic regeneration of missing and stale
// descriptors.
func WithAutoRegenerate(enabled bool) ConfigOption {
	return func(cfg *config.Config) {
		cfg.Analysis.AutoRegenerate = enabled
	}
}

// WithHistoryLimit caps the in-memory history.
func WithHistoryLimit(limit int) ConfigOption {
	return func(cfg *config.Config) {
		cfg.Analysis.HistoryLimit = limit
	}
}

// WithPopupDisabled turns the missing-descriptor popup off.
func WithPopupDisabled() ConfigOption {
	return func(cfg *config.Config) {
		cfg.Popup.Enabled = false
	}
}
