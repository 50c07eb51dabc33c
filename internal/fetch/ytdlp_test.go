package fetch

import (
	"context"
	"errors"
	"path/filepath"
	"slices"
	"testing"
	"time"

	"clipline/internal/logging"
)

func newTestYtDlp(t *testing.T) (*YtDlp, string) {
	t.Helper()
	y := NewYtDlp("yt-dlp", 0, logging.NewNop())
	dest := filepath.Join(t.TempDir(), "clips", "line_0001.mp4")
	return y, dest
}

func TestFetchBuildsSectionArgs(t *testing.T) {
	y, dest := newTestYtDlp(t)

	var gotName string
	var gotArgs []string
	y.SetRunner(func(_ context.Context, name string, args ...string) ([]byte, error) {
		gotName = name
		gotArgs = args
		return nil, nil
	})

	if err := y.Fetch(context.Background(), "dQw4w9WgXcQ", 12500, 18250, dest); err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if gotName != "yt-dlp" {
		t.Fatalf("binary = %q", gotName)
	}

	idx := slices.Index(gotArgs, "--download-sections")
	if idx < 0 || idx+1 >= len(gotArgs) {
		t.Fatalf("missing --download-sections in %v", gotArgs)
	}
	if gotArgs[idx+1] != "*12.500-18.250" {
		t.Fatalf("section = %q, want *12.500-18.250", gotArgs[idx+1])
	}
	if gotArgs[len(gotArgs)-1] != "https://www.youtube.com/watch?v=dQw4w9WgXcQ" {
		t.Fatalf("url = %q", gotArgs[len(gotArgs)-1])
	}
	if out := slices.Index(gotArgs, "-o"); out < 0 || gotArgs[out+1] != dest {
		t.Fatalf("destination missing from %v", gotArgs)
	}
}

func TestFetchPassesFullURLsThrough(t *testing.T) {
	y, dest := newTestYtDlp(t)

	var gotArgs []string
	y.SetRunner(func(_ context.Context, _ string, args ...string) ([]byte, error) {
		gotArgs = args
		return nil, nil
	})

	url := "https://vimeo.com/123456"
	if err := y.Fetch(context.Background(), url, 0, 1000, dest); err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if gotArgs[len(gotArgs)-1] != url {
		t.Fatalf("url = %q, want %q passed through unchanged", gotArgs[len(gotArgs)-1], url)
	}
}

func TestFetchRejectsEmptyRange(t *testing.T) {
	y, dest := newTestYtDlp(t)
	y.SetRunner(func(context.Context, string, ...string) ([]byte, error) {
		t.Fatal("runner must not be invoked for an invalid range")
		return nil, nil
	})

	err := y.Fetch(context.Background(), "abc", 5000, 5000, dest)
	if !errors.Is(err, ErrInvalidRange) {
		t.Fatalf("expected invalid range, got %v", err)
	}
}

func TestFetchClassifiesToolOutput(t *testing.T) {
	cases := []struct {
		name   string
		output string
		marker error
	}{
		{"removed upstream", "ERROR: [youtube] abc: Video unavailable. This video has been removed", ErrNotFound},
		{"private", "ERROR: Private video. Sign in if you've been granted access", ErrNotFound},
		{"bad section", "ERROR: Requested section is not available", ErrInvalidRange},
		{"throttled", "ERROR: HTTP Error 429: Too Many Requests", ErrRateLimited},
		{"disk full", "ERROR: unable to open for writing: No space left on device", ErrLocalIO},
		{"reset", "ERROR: Connection reset by peer", ErrTransientNetwork},
		{"unknown", "ERROR: something nobody has seen before", ErrTransientNetwork},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			y, dest := newTestYtDlp(t)
			y.SetRunner(func(context.Context, string, ...string) ([]byte, error) {
				return []byte(tc.output), errors.New("exit status 1")
			})
			err := y.Fetch(context.Background(), "abc", 0, 1000, dest)
			if !errors.Is(err, tc.marker) {
				t.Fatalf("got %v, want marker %v", err, tc.marker)
			}
		})
	}
}

func TestFetchClassifiesTimeoutAsTransient(t *testing.T) {
	y, dest := newTestYtDlp(t)
	y.Timeout = time.Millisecond
	y.SetRunner(func(ctx context.Context, _ string, _ ...string) ([]byte, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	})

	err := y.Fetch(context.Background(), "abc", 0, 1000, dest)
	if !errors.Is(err, ErrTransientNetwork) {
		t.Fatalf("timeout should classify as transient, got %v", err)
	}
}

func TestFormatSeconds(t *testing.T) {
	cases := []struct {
		ms   int64
		want string
	}{
		{0, "0.000"},
		{500, "0.500"},
		{1000, "1.000"},
		{90125, "90.125"},
	}
	for _, tc := range cases {
		if got := formatSeconds(tc.ms); got != tc.want {
			t.Errorf("formatSeconds(%d) = %q, want %q", tc.ms, got, tc.want)
		}
	}
}
