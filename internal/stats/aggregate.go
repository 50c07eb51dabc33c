// Package stats reduces per-task clip results into the job-level summary.
package stats

import "clipline/internal/clip"

// Aggregate computes the job summary from resolved results. Peak parallelism
// is observed by the scheduler during the run and passed through: it cannot
// be derived from results alone.
//
// The average duration covers successful clips only. Placeholders carry the
// line's synthetic duration and would flatter or skew a quality metric.
func Aggregate(results []clip.Result, peakParallelism int) clip.Stats {
	out := clip.Stats{
		TotalClips:      len(results),
		PeakParallelism: peakParallelism,
	}

	var successCount int
	var durationSum int64
	for _, result := range results {
		switch result.Status {
		case clip.StatusSuccess:
			successCount++
			durationSum += result.DurationMS
		case clip.StatusPlaceholder:
			out.PlaceholderTasks++
			if result.OutputPath == "" {
				// No playable clip materialized for the line at all.
				out.FailedTasks++
			}
			if result.FallbackReason != "" {
				if out.FallbackReasonCounts == nil {
					out.FallbackReasonCounts = make(map[string]int)
				}
				out.FallbackReasonCounts[result.FallbackReason]++
			}
		}
	}

	if successCount > 0 {
		out.AvgClipDurationMS = float64(durationSum) / float64(successCount)
	}
	return out
}
