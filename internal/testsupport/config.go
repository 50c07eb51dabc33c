// Package testsupport provides shared helpers for package tests.
package testsupport

import (
	"path/filepath"
	"testing"

	"clipline/internal/config"
)

// ConfigOption allows callers to customize the generated test configuration.
type ConfigOption func(*config.Config)

// NewConfig produces a config seeded with unique temp directories per test.
// It defaults common fields and applies any provided options.
func NewConfig(t testing.TB, opts ...ConfigOption) *config.Config {
	t.Helper()

	base := t.TempDir()
	cfg := config.Default()
	cfg.Paths.WorkspaceDir = filepath.Join(base, "workspace")
	cfg.Paths.LogDir = filepath.Join(base, "logs")
	cfg.ConfigBus.Path = filepath.Join(base, "bus.db")
	cfg.Metrics.Path = filepath.Join(base, "metrics.db")
	cfg.Metrics.Enabled = false

	for _, opt := range opts {
		opt(&cfg)
	}

	if err := cfg.Normalize(); err != nil {
		t.Fatalf("normalize test config: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("validate test config: %v", err)
	}
	return &cfg
}

// WithRenderLimits overrides the scheduling caps on the test config.
func WithRenderLimits(maxParallelism, perVideoLimit, maxRetry int) ConfigOption {
	return func(cfg *config.Config) {
		cfg.Render.MaxParallelism = maxParallelism
		cfg.Render.PerVideoLimit = perVideoLimit
		cfg.Render.MaxRetry = maxRetry
	}
}

// WithRetryBase overrides the backoff base so retry tests stay fast.
func WithRetryBase(ms int) ConfigOption {
	return func(cfg *config.Config) {
		cfg.Render.RetryBaseMS = ms
	}
}
