package config

import (
	"fmt"
	"strings"
)

// Normalize expands user paths and fills zero-valued fields with defaults so
// downstream code never re-checks for emptiness.
func (c *Config) Normalize() error {
	defaults := Default()

	if strings.TrimSpace(c.Paths.WorkspaceDir) == "" {
		c.Paths.WorkspaceDir = defaults.Paths.WorkspaceDir
	}
	if strings.TrimSpace(c.Paths.LogDir) == "" {
		c.Paths.LogDir = defaults.Paths.LogDir
	}

	for _, field := range []struct {
		name  string
		value *string
	}{
		{"paths.workspace_dir", &c.Paths.WorkspaceDir},
		{"paths.log_dir", &c.Paths.LogDir},
		{"paths.placeholder_asset", &c.Paths.PlaceholderAsset},
		{"config_bus.path", &c.ConfigBus.Path},
		{"metrics.path", &c.Metrics.Path},
	} {
		if strings.TrimSpace(*field.value) == "" {
			continue
		}
		expanded, err := expandPath(*field.value)
		if err != nil {
			return fmt.Errorf("expand %s: %w", field.name, err)
		}
		*field.value = expanded
	}

	if c.Render.RetryBaseMS <= 0 {
		c.Render.RetryBaseMS = defaults.Render.RetryBaseMS
	}
	if c.Render.FetchTimeoutSeconds <= 0 {
		c.Render.FetchTimeoutSeconds = defaults.Render.FetchTimeoutSeconds
	}
	if c.ConfigBus.PollIntervalMS <= 0 {
		c.ConfigBus.PollIntervalMS = defaults.ConfigBus.PollIntervalMS
	}
	if strings.TrimSpace(c.ConfigBus.Channel) == "" {
		c.ConfigBus.Channel = defaults.ConfigBus.Channel
	}
	if c.Metrics.BufferSize <= 0 {
		c.Metrics.BufferSize = defaults.Metrics.BufferSize
	}
	if c.Metrics.FlushIntervalMS <= 0 {
		c.Metrics.FlushIntervalMS = defaults.Metrics.FlushIntervalMS
	}
	if c.Notifications.RequestTimeout <= 0 {
		c.Notifications.RequestTimeout = defaults.Notifications.RequestTimeout
	}
	if strings.TrimSpace(c.Logging.Format) == "" {
		c.Logging.Format = defaults.Logging.Format
	}
	if strings.TrimSpace(c.Logging.Level) == "" {
		c.Logging.Level = defaults.Logging.Level
	}

	return nil
}
