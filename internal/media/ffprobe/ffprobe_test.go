package ffprobe

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
)

// fakeProbe writes a shell script that mimics ffprobe's JSON output.
func fakeProbe(t *testing.T, stdout string, exitCode int) string {
	t.Helper()
	script := filepath.Join(t.TempDir(), "ffprobe")
	body := fmt.Sprintf("#!/bin/sh\ncat <<'EOF'\n%s\nEOF\nexit %d\n", stdout, exitCode)
	if err := os.WriteFile(script, []byte(body), 0o755); err != nil {
		t.Fatalf("write fake ffprobe: %v", err)
	}
	return script
}

const probeJSON = `{
  "streams": [
    {"index": 0, "codec_name": "h264", "codec_type": "video", "width": 1280, "height": 720},
    {"index": 1, "codec_name": "aac", "codec_type": "audio"}
  ],
  "format": {"filename": "clip.mp4", "nb_streams": 2, "duration": "3.004000", "format_name": "mov,mp4,m4a"}
}`

func TestInspectParsesProbeOutput(t *testing.T) {
	binary := fakeProbe(t, probeJSON, 0)

	result, err := Inspect(context.Background(), binary, "clip.mp4")
	if err != nil {
		t.Fatalf("inspect: %v", err)
	}
	if len(result.Streams) != 2 {
		t.Fatalf("streams = %d, want 2", len(result.Streams))
	}
	if !result.HasVideoStream() {
		t.Fatal("video stream not detected")
	}
	ms, ok := result.DurationMS()
	if !ok || ms != 3004 {
		t.Fatalf("duration = %d (ok=%v), want 3004", ms, ok)
	}
}

func TestInspectSurfacesToolFailure(t *testing.T) {
	binary := fakeProbe(t, "clip.mp4: No such file or directory", 1)
	if _, err := Inspect(context.Background(), binary, "clip.mp4"); err == nil {
		t.Fatal("expected an error for a failing probe")
	}
}

func TestInspectRejectsGarbageOutput(t *testing.T) {
	binary := fakeProbe(t, "not json", 0)
	if _, err := Inspect(context.Background(), binary, "clip.mp4"); err == nil {
		t.Fatal("expected a parse error")
	}
}

func TestInspectRejectsEmptyPath(t *testing.T) {
	if _, err := Inspect(context.Background(), "ffprobe", "  "); err == nil {
		t.Fatal("expected an error for an empty path")
	}
}

func TestDurationMS(t *testing.T) {
	cases := []struct {
		raw    string
		wantMS int64
		wantOK bool
	}{
		{"3.004000", 3004, true},
		{"0.5", 500, true},
		{"", 0, false},
		{"abc", 0, false},
		{"-1", 0, false},
	}
	for _, tc := range cases {
		r := Result{Format: Format{Duration: tc.raw}}
		ms, ok := r.DurationMS()
		if ms != tc.wantMS || ok != tc.wantOK {
			t.Errorf("DurationMS(%q) = %d, %v; want %d, %v", tc.raw, ms, ok, tc.wantMS, tc.wantOK)
		}
	}
}

func TestHasVideoStream(t *testing.T) {
	audioOnly := Result{Streams: []Stream{{CodecType: "audio"}}}
	if audioOnly.HasVideoStream() {
		t.Fatal("audio-only result must not report video")
	}
	mixed := Result{Streams: []Stream{{CodecType: "audio"}, {CodecType: "Video"}}}
	if !mixed.HasVideoStream() {
		t.Fatal("video stream not detected case-insensitively")
	}
}
