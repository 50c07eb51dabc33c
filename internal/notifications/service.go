// Package notifications publishes render job outcomes to ntfy when a topic
// is configured.
package notifications

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"clipline/internal/clip"
	"clipline/internal/config"
)

const userAgent = "clipline/0.1.0"

// Service defines the notification surface exposed to the render pipeline.
type Service interface {
	NotifyJobCompleted(ctx context.Context, jobID string, stats clip.Stats) error
	NotifyJobAborted(ctx context.Context, jobID string, cause error) error
	TestNotification(ctx context.Context) error
}

// NewService builds a notification service backed by ntfy when configured.
// When no ntfy topic is configured, a noop implementation is returned.
func NewService(cfg *config.Config) Service {
	topic := strings.TrimSpace(cfg.Notifications.NtfyTopic)
	if topic == "" {
		return noopService{}
	}

	timeout := time.Duration(cfg.Notifications.RequestTimeout) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	return &ntfyService{
		endpoint: topic,
		client:   &http.Client{Timeout: timeout},
	}
}

type ntfyService struct {
	endpoint string
	client   *http.Client
}

func (s *ntfyService) NotifyJobCompleted(ctx context.Context, jobID string, stats clip.Stats) error {
	title := "Render job completed"
	tags := "white_check_mark"
	if stats.PlaceholderTasks > 0 {
		title = "Render job completed with placeholders"
		tags = "warning"
	}
	message := fmt.Sprintf("Job %s: %d clips, %d placeholders, peak parallelism %d",
		jobID, stats.TotalClips, stats.PlaceholderTasks, stats.PeakParallelism)
	return s.publish(ctx, title, message, tags)
}

func (s *ntfyService) NotifyJobAborted(ctx context.Context, jobID string, cause error) error {
	message := fmt.Sprintf("Job %s aborted: %v", jobID, cause)
	return s.publish(ctx, "Render job aborted", message, "rotating_light")
}

func (s *ntfyService) TestNotification(ctx context.Context) error {
	return s.publish(ctx, "clipline test", "Notifications are configured correctly.", "tada")
}

func (s *ntfyService) publish(ctx context.Context, title, message, tags string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint, strings.NewReader(message))
	if err != nil {
		return fmt.Errorf("build ntfy request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Title", title)
	req.Header.Set("Tags", tags)

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("send ntfy notification: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("ntfy returned status %d", resp.StatusCode)
	}
	return nil
}

type noopService struct{}

func (noopService) NotifyJobCompleted(context.Context, string, clip.Stats) error { return nil }

func (noopService) NotifyJobAborted(context.Context, string, error) error { return nil }

func (noopService) TestNotification(context.Context) error { return nil }
