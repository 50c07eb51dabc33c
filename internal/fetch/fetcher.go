package fetch

import "context"

// Fetcher downloads one trimmed segment of a source video to a local path.
// Implementations must classify failures by wrapping the package sentinel
// errors so the scheduler can distinguish retryable, terminal, and fatal
// conditions.
type Fetcher interface {
	Fetch(ctx context.Context, videoID string, startMS, endMS int64, destPath string) error
}

// Func adapts a plain function to the Fetcher interface.
type Func func(ctx context.Context, videoID string, startMS, endMS int64, destPath string) error

func (f Func) Fetch(ctx context.Context, videoID string, startMS, endMS int64, destPath string) error {
	return f(ctx, videoID, startMS, endMS, destPath)
}
