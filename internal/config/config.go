package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Paths contains directory and asset locations.
type Paths struct {
	WorkspaceDir     string `toml:"workspace_dir"`
	LogDir           string `toml:"log_dir"`
	PlaceholderAsset string `toml:"placeholder_asset"`
}

// Render contains the scheduling limits the pipeline starts with. The config
// bus may change the hot-reloadable subset while a job is running.
type Render struct {
	MaxParallelism      int `toml:"max_parallelism"`
	PerVideoLimit       int `toml:"per_video_limit"`
	MaxRetry            int `toml:"max_retry"`
	RetryBaseMS         int `toml:"retry_base_ms"`
	FetchTimeoutSeconds int `toml:"fetch_timeout_seconds"`
}

// Tools contains external binary overrides.
type Tools struct {
	FFmpeg  string `toml:"ffmpeg"`
	FFprobe string `toml:"ffprobe"`
	YtDlp   string `toml:"ytdlp"`
}

// ConfigBus contains settings for the SQLite-backed config update channel.
type ConfigBus struct {
	Enabled        bool   `toml:"enabled"`
	Path           string `toml:"path"`
	Channel        string `toml:"channel"`
	PollIntervalMS int    `toml:"poll_interval_ms"`
}

// Metrics contains settings for the SQLite metrics sink.
type Metrics struct {
	Enabled         bool   `toml:"enabled"`
	Path            string `toml:"path"`
	BufferSize      int    `toml:"buffer_size"`
	FlushIntervalMS int    `toml:"flush_interval_ms"`
}

// Notifications contains configuration for ntfy push notifications.
type Notifications struct {
	NtfyTopic      string `toml:"ntfy_topic"`
	RequestTimeout int    `toml:"request_timeout"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format string `toml:"format"`
	Level  string `toml:"level"`
}

// Config encapsulates all configuration values for clipline.
//
// Configuration sections by subsystem:
//   - Paths: workspace, logs, and the placeholder template asset
//   - Render: concurrency caps, retry policy, and fetch timeout
//   - Tools: ffmpeg/ffprobe/yt-dlp binary overrides
//   - ConfigBus: the pub/sub channel delivering hot config updates
//   - Metrics: the local metrics sink
//   - Notifications: ntfy push notification settings
//   - Logging: log format and level
type Config struct {
	Paths         Paths         `toml:"paths"`
	Render        Render        `toml:"render"`
	Tools         Tools         `toml:"tools"`
	ConfigBus     ConfigBus     `toml:"config_bus"`
	Metrics       Metrics       `toml:"metrics"`
	Notifications Notifications `toml:"notifications"`
	Logging       Logging       `toml:"logging"`
}

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath("~/.config/clipline/config.toml")
}

// Load locates, parses, and validates a configuration file. When path is
// empty the default location is consulted; a missing file yields defaults.
func Load(path string) (*Config, error) {
	resolved, err := resolveConfigPath(path)
	if err != nil {
		return nil, err
	}

	cfg := Default()
	data, err := os.ReadFile(resolved)
	switch {
	case err == nil:
		if decodeErr := toml.Unmarshal(data, &cfg); decodeErr != nil {
			return nil, fmt.Errorf("parse config %s: %w", resolved, decodeErr)
		}
	case errors.Is(err, fs.ErrNotExist) && path == "":
		// No config file at the default location: run on defaults.
	default:
		return nil, fmt.Errorf("read config %s: %w", resolved, err)
	}

	cfg.applyEnvOverrides()
	if err := cfg.Normalize(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// WriteSample writes the embedded sample configuration to path, refusing to
// clobber an existing file.
func WriteSample(path string) error {
	expanded, err := expandPath(path)
	if err != nil {
		return err
	}
	if _, err := os.Stat(expanded); err == nil {
		return fmt.Errorf("config file already exists at %s", expanded)
	}
	if err := os.MkdirAll(filepath.Dir(expanded), 0o755); err != nil {
		return fmt.Errorf("ensure config directory: %w", err)
	}
	if err := os.WriteFile(expanded, []byte(sampleConfig), 0o644); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}

// EnsureDirectories creates the directories the pipeline writes into.
func (c *Config) EnsureDirectories() error {
	for _, dir := range []string{c.Paths.WorkspaceDir, c.Paths.LogDir} {
		if strings.TrimSpace(dir) == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %s: %w", dir, err)
		}
	}
	return nil
}

// FFmpegBinary returns the configured ffmpeg binary or the PATH default.
func (c *Config) FFmpegBinary() string {
	return binaryOrDefault(c.Tools.FFmpeg, "ffmpeg")
}

// FFprobeBinary returns the configured ffprobe binary or the PATH default.
func (c *Config) FFprobeBinary() string {
	return binaryOrDefault(c.Tools.FFprobe, "ffprobe")
}

// YtDlpBinary returns the configured yt-dlp binary or the PATH default.
func (c *Config) YtDlpBinary() string {
	return binaryOrDefault(c.Tools.YtDlp, "yt-dlp")
}

func binaryOrDefault(value, fallback string) string {
	if trimmed := strings.TrimSpace(value); trimmed != "" {
		return trimmed
	}
	return fallback
}

func (c *Config) applyEnvOverrides() {
	if topic := strings.TrimSpace(os.Getenv("CLIPLINE_NTFY_TOPIC")); topic != "" {
		c.Notifications.NtfyTopic = topic
	}
	if level := strings.TrimSpace(os.Getenv("CLIPLINE_LOG_LEVEL")); level != "" {
		c.Logging.Level = level
	}
}

func resolveConfigPath(path string) (string, error) {
	if strings.TrimSpace(path) != "" {
		return expandPath(path)
	}
	return DefaultConfigPath()
}

func expandPath(path string) (string, error) {
	trimmed := strings.TrimSpace(path)
	if trimmed == "" {
		return "", errors.New("path must not be empty")
	}
	if trimmed == "~" || strings.HasPrefix(trimmed, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		trimmed = filepath.Join(home, strings.TrimPrefix(trimmed, "~"))
	}
	return filepath.Abs(trimmed)
}
