// Package scheduler drives the parallel render-clip pipeline: it admits clip
// tasks under the global and per-video concurrency caps, retries transient
// fetch failures with jittered backoff, degrades permanently failed tasks to
// synthesized placeholder clips, and returns one result per task in lyric
// line order.
//
// Admission is FIFO with skip-ahead: a task blocked only by its source
// video's limiter does not head-of-line-block tasks for other videos behind
// it. A task blocked by the global limiter blocks the scan, since no task can
// be admitted past a full global pool.
package scheduler
