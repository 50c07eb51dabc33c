package config

const (
	defaultWorkspaceDir    = "~/.local/share/clipline/workspace"
	defaultLogDir          = "~/.local/share/clipline/logs"
	defaultConfigBusPath   = "~/.local/share/clipline/bus.db"
	defaultMetricsPath     = "~/.local/share/clipline/metrics.db"
	defaultConfigChannel   = "render_config"
	defaultMaxParallelism  = 4
	defaultPerVideoLimit   = 2
	defaultMaxRetry        = 2
	defaultRetryBaseMS     = 500
	defaultFetchTimeout    = 120
	defaultBusPollMS       = 500
	defaultMetricsBuffer   = 100
	defaultMetricsFlushMS  = 5000
	defaultNotifyTimeout   = 10
	defaultLogFormat       = "console"
	defaultLogLevel        = "info"
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			WorkspaceDir: defaultWorkspaceDir,
			LogDir:       defaultLogDir,
		},
		Render: Render{
			MaxParallelism:      defaultMaxParallelism,
			PerVideoLimit:       defaultPerVideoLimit,
			MaxRetry:            defaultMaxRetry,
			RetryBaseMS:         defaultRetryBaseMS,
			FetchTimeoutSeconds: defaultFetchTimeout,
		},
		ConfigBus: ConfigBus{
			Enabled:        false,
			Path:           defaultConfigBusPath,
			Channel:        defaultConfigChannel,
			PollIntervalMS: defaultBusPollMS,
		},
		Metrics: Metrics{
			Enabled:         true,
			Path:            defaultMetricsPath,
			BufferSize:      defaultMetricsBuffer,
			FlushIntervalMS: defaultMetricsFlushMS,
		},
		Notifications: Notifications{
			RequestTimeout: defaultNotifyTimeout,
		},
		Logging: Logging{
			Format: defaultLogFormat,
			Level:  defaultLogLevel,
		},
	}
}
