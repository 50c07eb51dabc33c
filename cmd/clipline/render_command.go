package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/gofrs/flock"
	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"clipline/internal/clip"
	"clipline/internal/config"
	"clipline/internal/fetch"
	"clipline/internal/logging"
	"clipline/internal/media/ffprobe"
	"clipline/internal/metrics"
	"clipline/internal/notifications"
	"clipline/internal/placeholder"
	"clipline/internal/pubsub"
	"clipline/internal/renderconfig"
	"clipline/internal/scheduler"
)

func newRenderCommand(loadConfig func() (*config.Config, error)) *cobra.Command {
	var manifestFlag string
	var outputDirFlag string
	var verifyFlag bool
	var jsonFlag bool

	cmd := &cobra.Command{
		Use:   "render",
		Short: "Render one clip per lyric line from a job manifest",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			return runRender(cmd.Context(), cfg, renderOptions{
				manifestPath: manifestFlag,
				outputDir:    outputDirFlag,
				verify:       verifyFlag,
				jsonOutput:   jsonFlag,
			})
		},
	}

	cmd.Flags().StringVarP(&manifestFlag, "manifest", "m", "", "Path to the job manifest (required)")
	cmd.Flags().StringVarP(&outputDirFlag, "output-dir", "o", "", "Clip output directory (default: workspace dir)")
	cmd.Flags().BoolVar(&verifyFlag, "verify", false, "Probe rendered clips with ffprobe after the run")
	cmd.Flags().BoolVar(&jsonFlag, "json", false, "Emit results as JSON instead of a summary table")
	_ = cmd.MarkFlagRequired("manifest")

	return cmd
}

type renderOptions struct {
	manifestPath string
	outputDir    string
	verify       bool
	jsonOutput   bool
}

func runRender(parent context.Context, cfg *config.Config, opts renderOptions) error {
	if err := cfg.EnsureDirectories(); err != nil {
		return err
	}

	// Piped output gets machine-readable logs regardless of config.
	if cfg.Logging.Format == "console" && !isatty.IsTerminal(os.Stdout.Fd()) && !isatty.IsCygwinTerminal(os.Stdout.Fd()) {
		cfg.Logging.Format = "json"
	}
	logger, err := logging.NewFromConfig(cfg)
	if err != nil {
		return err
	}

	outputDir := opts.outputDir
	if outputDir == "" {
		outputDir = cfg.Paths.WorkspaceDir
	}
	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		return fmt.Errorf("create output directory: %w", err)
	}

	jobID, tasks, err := loadManifest(opts.manifestPath, outputDir)
	if err != nil {
		return err
	}

	// One render per output directory; concurrent jobs would fight over
	// target paths.
	lock := flock.New(filepath.Join(outputDir, ".clipline.lock"))
	locked, err := lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire render lock: %w", err)
	}
	if !locked {
		return fmt.Errorf("another render is already running in %s", outputDir)
	}
	defer func() { _ = lock.Unlock() }()

	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := renderconfig.NewStore(cfg)
	if err != nil {
		return err
	}

	var busCancel context.CancelFunc
	if cfg.ConfigBus.Enabled {
		bus, busErr := pubsub.Open(cfg.ConfigBus.Path, logger)
		if busErr != nil {
			return busErr
		}
		defer bus.Close()

		sub := bus.Subscribe(cfg.ConfigBus.Channel, time.Duration(cfg.ConfigBus.PollIntervalMS)*time.Millisecond)
		watcher := renderconfig.NewWatcher(store, sub, logger)

		var watchCtx context.Context
		watchCtx, busCancel = context.WithCancel(ctx)
		go func() {
			if runErr := watcher.Run(watchCtx); runErr != nil && watchCtx.Err() == nil {
				logger.Warn("config watcher stopped", logging.Error(runErr))
			}
		}()
	}
	if busCancel != nil {
		defer busCancel()
	}

	var recorder *metrics.Recorder
	if cfg.Metrics.Enabled {
		sink, sinkErr := metrics.OpenSink(cfg.Metrics.Path, cfg.Metrics.BufferSize,
			time.Duration(cfg.Metrics.FlushIntervalMS)*time.Millisecond, logger)
		if sinkErr != nil {
			return sinkErr
		}
		recorder = metrics.NewRecorder(sink)
	} else {
		recorder = metrics.NewRecorder(nil)
	}
	defer func() { _ = recorder.Close() }()

	fetcher := fetch.NewYtDlp(cfg.YtDlpBinary(), time.Duration(cfg.Render.FetchTimeoutSeconds)*time.Second, logger)
	synth := placeholder.New(cfg.FFmpegBinary(), "", logger)
	synth.SetAssetFunc(func() string { return store.Current().PlaceholderAssetPath })

	sched, err := scheduler.New(store, fetcher, synth, recorder, logger)
	if err != nil {
		return err
	}

	notifier := notifications.NewService(cfg)

	started := time.Now()
	results, jobStats, runErr := sched.Run(ctx, tasks)
	elapsed := time.Since(started)

	if writeErr := writeResults(outputDir, jobID, results, jobStats); writeErr != nil {
		logger.Warn("failed to write results file", logging.Error(writeErr))
	}

	if runErr != nil {
		_ = notifier.NotifyJobAborted(context.WithoutCancel(ctx), jobID, runErr)
		printSummary(os.Stdout, jobID, results, jobStats, elapsed, opts.jsonOutput)
		return fmt.Errorf("render aborted: %w", runErr)
	}

	if opts.verify {
		verifyClips(ctx, cfg.FFprobeBinary(), results, logger)
	}

	_ = notifier.NotifyJobCompleted(context.WithoutCancel(ctx), jobID, jobStats)
	printSummary(os.Stdout, jobID, results, jobStats, elapsed, opts.jsonOutput)
	return nil
}

// writeResults persists the caller-facing job output next to the clips.
func writeResults(outputDir, jobID string, results []clip.Result, jobStats clip.Stats) error {
	payload := struct {
		JobID   string        `json:"job_id"`
		Results []clip.Result `json:"results"`
		Stats   clip.Stats    `json:"stats"`
	}{JobID: jobID, Results: results, Stats: jobStats}

	data, err := json.MarshalIndent(payload, "", "  ")
	if err != nil {
		return err
	}
	path := filepath.Join(outputDir, jobID, "results.json")
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

func verifyClips(ctx context.Context, ffprobeBinary string, results []clip.Result, logger *slog.Logger) {
	for _, result := range results {
		if result.OutputPath == "" {
			continue
		}
		probed, err := ffprobe.Inspect(ctx, ffprobeBinary, result.OutputPath)
		if err != nil {
			logger.Warn("clip verification failed",
				logging.String(logging.FieldTaskID, result.TaskID),
				logging.Error(err),
			)
			continue
		}
		if durationMS, ok := probed.DurationMS(); ok {
			drift := durationMS - result.DurationMS
			if drift < -100 || drift > 100 {
				logger.Warn("clip duration drifts from expectation",
					logging.String(logging.FieldTaskID, result.TaskID),
					logging.Int64("expected_ms", result.DurationMS),
					logging.Int64("measured_ms", durationMS),
				)
			}
		}
	}
}
