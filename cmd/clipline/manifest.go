package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"clipline/internal/clip"
)

// manifest is the on-disk description of one render job: an ordered list of
// timed video-segment selections, one per lyric line.
type manifest struct {
	JobID string         `json:"job_id,omitempty"`
	Lines []manifestLine `json:"lines"`
}

type manifestLine struct {
	TaskID         string `json:"task_id,omitempty"`
	LineIndex      int    `json:"line_index"`
	VideoID        string `json:"video_id"`
	StartMS        int64  `json:"start_ms"`
	EndMS          int64  `json:"end_ms"`
	LineDurationMS int64  `json:"line_duration_ms,omitempty"`
	TargetPath     string `json:"target_path,omitempty"`
}

// loadManifest parses a manifest file and expands it into validated clip
// tasks. Missing identifiers are generated; missing target paths land under
// outputDir.
func loadManifest(path, outputDir string) (string, []clip.Task, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", nil, fmt.Errorf("read manifest: %w", err)
	}

	var m manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return "", nil, fmt.Errorf("parse manifest %s: %w", path, err)
	}
	if len(m.Lines) == 0 {
		return "", nil, fmt.Errorf("manifest %s contains no lines", path)
	}

	jobID := strings.TrimSpace(m.JobID)
	if jobID == "" {
		jobID = uuid.NewString()
	}

	seen := make(map[int]struct{}, len(m.Lines))
	tasks := make([]clip.Task, 0, len(m.Lines))
	for i, line := range m.Lines {
		if _, dup := seen[line.LineIndex]; dup {
			return "", nil, fmt.Errorf("manifest line %d: duplicate line_index %d", i, line.LineIndex)
		}
		seen[line.LineIndex] = struct{}{}

		taskID := strings.TrimSpace(line.TaskID)
		if taskID == "" {
			taskID = uuid.NewString()
		}
		targetPath := strings.TrimSpace(line.TargetPath)
		if targetPath == "" {
			targetPath = filepath.Join(outputDir, jobID, fmt.Sprintf("line_%04d.mp4", line.LineIndex))
		}

		task := clip.Task{
			TaskID:         taskID,
			JobID:          jobID,
			LineIndex:      line.LineIndex,
			VideoID:        strings.TrimSpace(line.VideoID),
			StartMS:        line.StartMS,
			EndMS:          line.EndMS,
			LineDurationMS: line.LineDurationMS,
			TargetPath:     targetPath,
		}
		if err := task.Validate(); err != nil {
			return "", nil, fmt.Errorf("manifest line %d: %w", i, err)
		}
		tasks = append(tasks, task)
	}
	return jobID, tasks, nil
}
