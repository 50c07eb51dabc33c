// Package clip defines the render pipeline's task and result models.
package clip

import "fmt"

// Status is the terminal state of a clip task. Placeholder is an expected,
// valid outcome, not a failure: the render job still covers the line.
type Status string

const (
	StatusSuccess     Status = "success"
	StatusPlaceholder Status = "placeholder"
)

// Task is the unit of work producing one local media clip for one lyric
// line. Immutable once created.
type Task struct {
	TaskID    string `json:"task_id"`
	JobID     string `json:"job_id"`
	LineIndex int    `json:"line_index"`
	VideoID   string `json:"video_id"`
	StartMS   int64  `json:"start_ms"`
	EndMS     int64  `json:"end_ms"`
	// LineDurationMS is the lyric line's own duration, which placeholder
	// clips must match. Zero means "same as the requested segment".
	LineDurationMS int64  `json:"line_duration_ms,omitempty"`
	TargetPath     string `json:"target_path"`
}

// SegmentDurationMS is the length of the requested video segment.
func (t Task) SegmentDurationMS() int64 {
	return t.EndMS - t.StartMS
}

// PlaceholderDurationMS is the duration a fallback clip for this task must
// have: the lyric line's duration when known, the segment duration otherwise.
func (t Task) PlaceholderDurationMS() int64 {
	if t.LineDurationMS > 0 {
		return t.LineDurationMS
	}
	return t.SegmentDurationMS()
}

// Validate rejects tasks the scheduler cannot resolve.
func (t Task) Validate() error {
	if t.TaskID == "" {
		return fmt.Errorf("task for line %d: task_id must not be empty", t.LineIndex)
	}
	if t.VideoID == "" {
		return fmt.Errorf("task %s: video_id must not be empty", t.TaskID)
	}
	if t.EndMS <= t.StartMS {
		return fmt.Errorf("task %s: end_ms %d must be after start_ms %d", t.TaskID, t.EndMS, t.StartMS)
	}
	if t.TargetPath == "" {
		return fmt.Errorf("task %s: target_path must not be empty", t.TaskID)
	}
	return nil
}

// Result is the terminal record for one task. Exactly one Result exists per
// Task after a run, in every outcome including cancellation.
type Result struct {
	TaskID         string `json:"task_id"`
	LineIndex      int    `json:"line_index"`
	Status         Status `json:"status"`
	DurationMS     int64  `json:"duration_ms"`
	Attempts       int    `json:"attempts"`
	FallbackReason string `json:"fallback_reason,omitempty"`
	// OutputPath is empty when no clip file exists (cancelled before start,
	// or placeholder synthesis itself failed).
	OutputPath string `json:"output_path,omitempty"`
}

// Stats is the job-level aggregate embedded into the caller's job metrics.
type Stats struct {
	TotalClips           int            `json:"total_clips"`
	PeakParallelism      int            `json:"peak_parallelism"`
	PlaceholderTasks     int            `json:"placeholder_tasks"`
	FailedTasks          int            `json:"failed_tasks"`
	AvgClipDurationMS    float64        `json:"avg_clip_duration_ms"`
	FallbackReasonCounts map[string]int `json:"fallback_reason_counts,omitempty"`
}
