package config

import (
	"errors"
	"fmt"
	"strings"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validateRender(); err != nil {
		return err
	}
	if err := c.validateConfigBus(); err != nil {
		return err
	}
	if err := c.validateMetrics(); err != nil {
		return err
	}
	if err := c.validateLogging(); err != nil {
		return err
	}
	return nil
}

func (c *Config) validateRender() error {
	if c.Render.MaxParallelism <= 0 {
		return errors.New("render.max_parallelism must be greater than zero")
	}
	if c.Render.PerVideoLimit <= 0 {
		return errors.New("render.per_video_limit must be greater than zero")
	}
	if c.Render.PerVideoLimit > c.Render.MaxParallelism {
		return fmt.Errorf("render.per_video_limit (%d) must not exceed render.max_parallelism (%d)",
			c.Render.PerVideoLimit, c.Render.MaxParallelism)
	}
	if c.Render.MaxRetry < 0 {
		return errors.New("render.max_retry must be zero or greater")
	}
	return nil
}

func (c *Config) validateConfigBus() error {
	if !c.ConfigBus.Enabled {
		return nil
	}
	if strings.TrimSpace(c.ConfigBus.Path) == "" {
		return errors.New("config_bus.path must be set when config_bus.enabled is true")
	}
	if strings.TrimSpace(c.ConfigBus.Channel) == "" {
		return errors.New("config_bus.channel must be set when config_bus.enabled is true")
	}
	return nil
}

func (c *Config) validateMetrics() error {
	if c.Metrics.Enabled && strings.TrimSpace(c.Metrics.Path) == "" {
		return errors.New("metrics.path must be set when metrics.enabled is true")
	}
	return nil
}

func (c *Config) validateLogging() error {
	switch strings.ToLower(strings.TrimSpace(c.Logging.Format)) {
	case "console", "json":
		return nil
	default:
		return fmt.Errorf("logging.format must be console or json, got %q", c.Logging.Format)
	}
}
