package logging

const (
	// FieldComponent is the standardized structured logging key for component names.
	FieldComponent = "component"
	// FieldJobID is the standardized structured logging key for render job identifiers.
	FieldJobID = "job_id"
	// FieldTaskID is the standardized structured logging key for clip task identifiers.
	FieldTaskID = "clip_task_id"
	// FieldVideoID is the standardized structured logging key for source video identifiers.
	FieldVideoID = "video_id"
	// FieldLineIndex is the standardized structured logging key for the lyric line ordering index.
	FieldLineIndex = "line_index"
	// FieldParallelSlot is the standardized structured logging key for the logical concurrency slot a task occupies.
	FieldParallelSlot = "parallel_slot"
	// FieldAttempt is the standardized structured logging key for the fetch attempt number.
	FieldAttempt = "attempt"
	// FieldFallbackReason is the standardized structured logging key explaining a placeholder resolution.
	FieldFallbackReason = "fallback_reason"
	// FieldEventType is the standardized structured logging key for scheduler state transitions.
	FieldEventType = "event_type"
	// FieldErrorHint points an operator at the likely fix for a warning or error.
	FieldErrorHint = "error_hint"
	// FieldConfigVersion is the standardized structured logging key for config snapshot versions.
	FieldConfigVersion = "config_version"
)
