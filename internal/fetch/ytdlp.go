package fetch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"clipline/internal/logging"
)

// CommandRunner executes an external command and returns its combined output.
// Tests substitute it to avoid invoking yt-dlp.
type CommandRunner func(ctx context.Context, name string, args ...string) ([]byte, error)

func defaultRunner(ctx context.Context, name string, args ...string) ([]byte, error) {
	return exec.CommandContext(ctx, name, args...).CombinedOutput()
}

// YtDlp fetches trimmed video segments with yt-dlp section downloads.
type YtDlp struct {
	Binary  string
	Timeout time.Duration

	runner CommandRunner
	logger *slog.Logger
}

// NewYtDlp constructs the yt-dlp fetcher. Empty binary resolves from PATH.
func NewYtDlp(binary string, timeout time.Duration, logger *slog.Logger) *YtDlp {
	if strings.TrimSpace(binary) == "" {
		binary = "yt-dlp"
	}
	return &YtDlp{
		Binary:  binary,
		Timeout: timeout,
		runner:  defaultRunner,
		logger:  logging.NewComponentLogger(logger, "ytdlp_fetcher"),
	}
}

// SetRunner overrides command execution for tests.
func (y *YtDlp) SetRunner(runner CommandRunner) {
	if runner != nil {
		y.runner = runner
	}
}

// Fetch implements Fetcher.
func (y *YtDlp) Fetch(ctx context.Context, videoID string, startMS, endMS int64, destPath string) error {
	if endMS <= startMS {
		return Wrap(ErrInvalidRange, "fetch", fmt.Sprintf("end %dms not after start %dms", endMS, startMS), nil)
	}
	dir := filepath.Dir(destPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return Wrap(ErrLocalIO, "fetch", "create destination directory", err)
	}
	if err := checkWritable(dir); err != nil {
		return Wrap(ErrLocalIO, "fetch", "destination directory not writable", err)
	}

	if y.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, y.Timeout)
		defer cancel()
	}

	section := fmt.Sprintf("*%s-%s", formatSeconds(startMS), formatSeconds(endMS))
	args := []string{
		"--quiet",
		"--no-playlist",
		"--no-progress",
		"--force-overwrites",
		"--download-sections", section,
		"--force-keyframes-at-cuts",
		"-f", "mp4/bestvideo*+bestaudio/best",
		"-o", destPath,
		"--", videoURL(videoID),
	}

	y.logger.Debug("invoking yt-dlp",
		logging.String(logging.FieldVideoID, videoID),
		logging.String("section", section),
		logging.String("dest", destPath),
	)

	output, err := y.runner(ctx, y.Binary, args...)
	if err == nil {
		return nil
	}
	return classifyOutput(videoID, string(output), err)
}

// classifyOutput maps yt-dlp failures onto the fetch taxonomy by inspecting
// the tool's diagnostics. Unknown failures classify as transient so the retry
// policy fails open toward retrying.
func classifyOutput(videoID, output string, err error) error {
	lowered := strings.ToLower(output)
	detail := firstErrorLine(output)

	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return Wrap(ErrTransientNetwork, "fetch", "yt-dlp timed out", err)
	case containsAny(lowered,
		"video unavailable",
		"this video is not available",
		"private video",
		"has been removed",
		"404"):
		return Wrap(ErrNotFound, "fetch", detail, err)
	case containsAny(lowered,
		"requested section is not available",
		"unable to download video sections",
		"section out of range"):
		return Wrap(ErrInvalidRange, "fetch", detail, err)
	case containsAny(lowered,
		"429",
		"too many requests",
		"rate-limit",
		"rate limit"):
		return Wrap(ErrRateLimited, "fetch", detail, err)
	case containsAny(lowered,
		"no space left",
		"read-only file system",
		"permission denied",
		"unable to open for writing"):
		return Wrap(ErrLocalIO, "fetch", detail, err)
	case containsAny(lowered,
		"timed out",
		"connection reset",
		"connection refused",
		"temporary failure",
		"network is unreachable"):
		return Wrap(ErrTransientNetwork, "fetch", detail, err)
	default:
		return Wrap(ErrTransientNetwork, "fetch", fmt.Sprintf("yt-dlp failed for %s: %s", videoID, detail), err)
	}
}

func containsAny(haystack string, needles ...string) bool {
	for _, needle := range needles {
		if strings.Contains(haystack, needle) {
			return true
		}
	}
	return false
}

func firstErrorLine(output string) string {
	for _, line := range strings.Split(output, "\n") {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(strings.ToLower(trimmed), "error") {
			return trimmed
		}
	}
	trimmed := strings.TrimSpace(output)
	if len(trimmed) > 200 {
		trimmed = trimmed[:200]
	}
	return trimmed
}

func videoURL(videoID string) string {
	if strings.Contains(videoID, "://") {
		return videoID
	}
	return "https://www.youtube.com/watch?v=" + videoID
}

func formatSeconds(ms int64) string {
	return fmt.Sprintf("%d.%03d", ms/1000, ms%1000)
}

func checkWritable(dir string) error {
	probe, err := os.CreateTemp(dir, ".clipline-probe-*")
	if err != nil {
		return err
	}
	name := probe.Name()
	_ = probe.Close()
	return os.Remove(name)
}
