package main

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strconv"
	"time"

	"clipline/internal/clip"
)

func printSummary(w io.Writer, jobID string, results []clip.Result, jobStats clip.Stats, elapsed time.Duration, asJSON bool) {
	if asJSON {
		payload := struct {
			JobID     string        `json:"job_id"`
			ElapsedMS int64         `json:"elapsed_ms"`
			Stats     clip.Stats    `json:"stats"`
			Results   []clip.Result `json:"results"`
		}{JobID: jobID, ElapsedMS: elapsed.Milliseconds(), Stats: jobStats, Results: results}
		encoder := json.NewEncoder(w)
		encoder.SetIndent("", "  ")
		_ = encoder.Encode(payload)
		return
	}

	fmt.Fprintf(w, "Job %s finished in %s\n\n", jobID, elapsed.Round(10*time.Millisecond))

	rows := make([][]string, 0, len(results))
	for _, result := range results {
		rows = append(rows, []string{
			strconv.Itoa(result.LineIndex),
			string(result.Status),
			strconv.Itoa(result.Attempts),
			fmt.Sprintf("%dms", result.DurationMS),
			result.FallbackReason,
		})
	}
	fmt.Fprintln(w, renderTable(
		[]string{"Line", "Status", "Attempts", "Duration", "Fallback Reason"},
		rows,
		[]columnAlignment{alignRight, alignLeft, alignRight, alignRight, alignLeft},
	))

	fmt.Fprintf(w, "\nClips: %d total, %d placeholders, %d without output. Peak parallelism: %d.\n",
		jobStats.TotalClips, jobStats.PlaceholderTasks, jobStats.FailedTasks, jobStats.PeakParallelism)
	if jobStats.AvgClipDurationMS > 0 {
		fmt.Fprintf(w, "Average fetched clip duration: %.0fms.\n", jobStats.AvgClipDurationMS)
	}
	if len(jobStats.FallbackReasonCounts) > 0 {
		reasons := make([]string, 0, len(jobStats.FallbackReasonCounts))
		for reason := range jobStats.FallbackReasonCounts {
			reasons = append(reasons, reason)
		}
		sort.Strings(reasons)
		fmt.Fprintln(w, "Fallback reasons:")
		for _, reason := range reasons {
			fmt.Fprintf(w, "  %s: %d\n", reason, jobStats.FallbackReasonCounts[reason])
		}
	}
}
