// Package placeholder synthesizes silent fallback clips for lyric lines whose
// source segment could not be fetched. Clips are trimmed to the line's own
// duration, not the requested video segment's.
package placeholder

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"clipline/internal/logging"
)

// CommandRunner executes an external command and returns its combined output.
// Tests substitute it to avoid invoking ffmpeg.
type CommandRunner func(ctx context.Context, name string, args ...string) ([]byte, error)

func defaultRunner(ctx context.Context, name string, args ...string) ([]byte, error) {
	return exec.CommandContext(ctx, name, args...).CombinedOutput()
}

// Synthesizer produces deterministic placeholder clips with ffmpeg. When a
// template asset is configured it is looped and trimmed; otherwise black
// video with silent audio is generated.
type Synthesizer struct {
	FFmpeg    string
	AssetPath string

	// assetFunc, when set, resolves the template asset per call so a hot
	// config reload applies to the next synthesis.
	assetFunc func() string
	runner    CommandRunner
	logger    *slog.Logger
}

// New constructs a synthesizer. Empty ffmpeg resolves from PATH; empty
// assetPath selects generated black/silence output.
func New(ffmpeg, assetPath string, logger *slog.Logger) *Synthesizer {
	if strings.TrimSpace(ffmpeg) == "" {
		ffmpeg = "ffmpeg"
	}
	return &Synthesizer{
		FFmpeg:    ffmpeg,
		AssetPath: strings.TrimSpace(assetPath),
		runner:    defaultRunner,
		logger:    logging.NewComponentLogger(logger, "placeholder"),
	}
}

// SetRunner overrides command execution for tests.
func (s *Synthesizer) SetRunner(runner CommandRunner) {
	if runner != nil {
		s.runner = runner
	}
}

// SetAssetFunc makes the template asset path a live lookup instead of the
// fixed AssetPath value.
func (s *Synthesizer) SetAssetFunc(assetFunc func() string) {
	s.assetFunc = assetFunc
}

func (s *Synthesizer) assetPath() string {
	if s.assetFunc != nil {
		return strings.TrimSpace(s.assetFunc())
	}
	return s.AssetPath
}

// Synthesize writes a placeholder clip of exactly durationMS to destPath.
// Output lands in a temp file first and is renamed into place, so a failed
// run never leaves a truncated clip at destPath and the call is safe to
// repeat.
func (s *Synthesizer) Synthesize(ctx context.Context, durationMS int64, destPath string) error {
	if durationMS <= 0 {
		return fmt.Errorf("placeholder duration must be positive, got %dms", durationMS)
	}
	if strings.TrimSpace(destPath) == "" {
		return errors.New("placeholder destination path must not be empty")
	}

	dir := filepath.Dir(destPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create placeholder directory: %w", err)
	}

	temp, err := os.CreateTemp(dir, ".placeholder-*"+filepath.Ext(destPath))
	if err != nil {
		return fmt.Errorf("create placeholder temp file: %w", err)
	}
	tempPath := temp.Name()
	_ = temp.Close()

	args := s.buildArgs(durationMS, tempPath)
	output, err := s.runner(ctx, s.FFmpeg, args...)
	if err != nil {
		_ = os.Remove(tempPath)
		return fmt.Errorf("ffmpeg placeholder synthesis: %w: %s", err, firstLine(output))
	}

	if err := os.Rename(tempPath, destPath); err != nil {
		_ = os.Remove(tempPath)
		return fmt.Errorf("finalize placeholder clip: %w", err)
	}

	s.logger.Debug("placeholder clip synthesized",
		logging.Int64("duration_ms", durationMS),
		logging.String("dest", destPath),
	)
	return nil
}

func (s *Synthesizer) buildArgs(durationMS int64, outPath string) []string {
	duration := fmt.Sprintf("%d.%03d", durationMS/1000, durationMS%1000)
	if asset := s.assetPath(); asset != "" {
		return []string{
			"-y", "-hide_banner", "-loglevel", "error",
			"-stream_loop", "-1", "-i", asset,
			"-t", duration,
			"-c:v", "libx264", "-pix_fmt", "yuv420p",
			"-c:a", "aac",
			"-f", "mp4",
			outPath,
		}
	}
	return []string{
		"-y", "-hide_banner", "-loglevel", "error",
		"-f", "lavfi", "-i", "color=c=black:s=1280x720:r=30",
		"-f", "lavfi", "-i", "anullsrc=r=44100:cl=stereo",
		"-t", duration,
		"-c:v", "libx264", "-pix_fmt", "yuv420p",
		"-c:a", "aac",
		"-f", "mp4",
		outPath,
	}
}

func firstLine(output []byte) string {
	text := strings.TrimSpace(string(output))
	if idx := strings.IndexByte(text, '\n'); idx >= 0 {
		text = text[:idx]
	}
	return text
}
