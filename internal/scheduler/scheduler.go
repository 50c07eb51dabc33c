package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"clipline/internal/clip"
	"clipline/internal/fetch"
	"clipline/internal/limiter"
	"clipline/internal/logging"
	"clipline/internal/metrics"
	"clipline/internal/renderconfig"
	"clipline/internal/retry"
	"clipline/internal/stats"
)

// Synthesizer produces a placeholder clip for a line whose source segment is
// unobtainable. placeholder.Synthesizer satisfies it.
type Synthesizer interface {
	Synthesize(ctx context.Context, durationMS int64, destPath string) error
}

// Scheduler runs render jobs against a fetcher under live concurrency limits.
type Scheduler struct {
	cfg     *renderconfig.Store
	fetcher fetch.Fetcher
	synth   Synthesizer
	metrics *metrics.Recorder
	logger  *slog.Logger
}

// New constructs a scheduler with initialized dependencies.
func New(cfg *renderconfig.Store, fetcher fetch.Fetcher, synth Synthesizer, recorder *metrics.Recorder, logger *slog.Logger) (*Scheduler, error) {
	if cfg == nil || fetcher == nil || synth == nil {
		return nil, errors.New("scheduler requires config store, fetcher, and synthesizer")
	}
	return &Scheduler{
		cfg:     cfg,
		fetcher: fetcher,
		synth:   synth,
		metrics: recorder,
		logger:  logging.NewComponentLogger(logger, "scheduler"),
	}, nil
}

// taskState is the scheduler-owned per-task bookkeeping. It exists only for
// the task's lifetime inside Run.
type taskState struct {
	task     clip.Task
	attempts int
	slot     int
}

// run holds the mutable state of one Run call. Admission decisions, counter
// mutation, and the skip-ahead scan all happen under mu so the scan always
// sees a consistent view of the global counter and per-video counts.
type run struct {
	s        *Scheduler
	ctx      context.Context
	fetchCtx context.Context
	jobID    string
	logger   *slog.Logger

	mu   sync.Mutex
	cond *sync.Cond

	ready    []*taskState
	waiting  map[*taskState]*time.Timer
	perVideo *limiter.PerVideo

	globalInFlight int
	peak           int
	slots          []bool

	results  []clip.Result
	resolved int
	total    int

	cancelled bool
	fatal     error
	drained   bool
}

// Run resolves every task to exactly one result, ordered by line index.
// Individual clip failures never surface as errors; the returned error is
// non-nil only for a fatal local-I/O condition (or an invalid task list),
// and even then the result set still covers every task.
func (s *Scheduler) Run(ctx context.Context, tasks []clip.Task) ([]clip.Result, clip.Stats, error) {
	if len(tasks) == 0 {
		return nil, clip.Stats{}, nil
	}
	for _, task := range tasks {
		if err := task.Validate(); err != nil {
			return nil, clip.Stats{}, fmt.Errorf("invalid task list: %w", err)
		}
	}

	jobID := tasks[0].JobID
	r := &run{
		s:        s,
		ctx:      ctx,
		fetchCtx: context.WithoutCancel(ctx),
		jobID:    jobID,
		logger:   s.logger.With(logging.String(logging.FieldJobID, jobID)),
		waiting:  make(map[*taskState]*time.Timer),
		perVideo: limiter.NewPerVideo(s.cfg),
		results:  make([]clip.Result, 0, len(tasks)),
		total:    len(tasks),
	}
	r.cond = sync.NewCond(&r.mu)

	for _, task := range tasks {
		ts := &taskState{task: task, slot: -1}
		r.ready = append(r.ready, ts)
		r.logTransition(ts, "clip queued", "clip_queued")
	}

	finished := make(chan struct{})
	defer close(finished)
	go func() {
		select {
		case <-ctx.Done():
			r.mu.Lock()
			r.cancelled = true
			r.cond.Broadcast()
			r.mu.Unlock()
		case <-finished:
		}
	}()

	r.mu.Lock()
	for r.resolved < r.total {
		if r.cancelled || r.fatal != nil {
			r.drainPendingLocked()
			if r.resolved == r.total {
				break
			}
		}
		if r.admitLocked() {
			continue
		}
		r.cond.Wait()
	}
	results := append([]clip.Result(nil), r.results...)
	peak := r.peak
	fatal := r.fatal
	r.mu.Unlock()

	sort.SliceStable(results, func(i, j int) bool {
		return results[i].LineIndex < results[j].LineIndex
	})
	return results, stats.Aggregate(results, peak), fatal
}

// admitLocked admits as many ready tasks as the live limits allow. The config
// snapshot is re-read before every individual admission so a hot reload takes
// effect on the very next decision. Returns true if anything was admitted.
func (r *run) admitLocked() bool {
	if r.cancelled || r.fatal != nil {
		return false
	}
	admitted := false
	for len(r.ready) > 0 {
		cfg := r.s.cfg.Current()
		if r.globalInFlight >= cfg.MaxParallelism {
			// Blocked by the global limiter: nothing can be admitted past a
			// full pool, so the scan stops here.
			break
		}
		idx := r.nextAdmissibleLocked()
		if idx < 0 {
			// Every ready task is blocked only by its video's limiter.
			break
		}
		ts := r.ready[idx]
		r.ready = append(r.ready[:idx], r.ready[idx+1:]...)

		ts.slot = r.allocSlotLocked()
		ts.attempts++
		r.globalInFlight++
		if r.globalInFlight > r.peak {
			r.peak = r.globalInFlight
		}
		r.s.metrics.SetGauge(metrics.GaugeClipsInFlight, float64(r.globalInFlight))
		r.logTransition(ts, "clip dispatched", "clip_dispatched")

		go r.attempt(ts)
		admitted = true
	}
	return admitted
}

// nextAdmissibleLocked scans the ready queue in FIFO order and returns the
// index of the first task whose source video still has per-video capacity,
// acquiring that capacity. Tasks blocked per-video are skipped: they must not
// head-of-line-block tasks for other videos. Returns -1 when every ready task
// is per-video blocked.
func (r *run) nextAdmissibleLocked() int {
	for i, ts := range r.ready {
		if r.perVideo.TryAcquire(ts.task.VideoID) {
			return i
		}
	}
	return -1
}

func (r *run) attempt(ts *taskState) {
	attempt := ts.attempts
	err := r.s.fetcher.Fetch(r.fetchCtx, ts.task.VideoID, ts.task.StartMS, ts.task.EndMS, ts.task.TargetPath)

	r.mu.Lock()
	if err == nil {
		duration := ts.task.SegmentDurationMS()
		r.s.metrics.Observe(metrics.HistogramClipDurationMS, float64(duration))
		r.logTransition(ts, "clip fetched", "clip_succeeded")
		r.resolveLocked(ts, clip.Result{
			TaskID:     ts.task.TaskID,
			LineIndex:  ts.task.LineIndex,
			Status:     clip.StatusSuccess,
			DurationMS: duration,
			Attempts:   attempt,
			OutputPath: ts.task.TargetPath,
		})
		r.mu.Unlock()
		return
	}

	reason := fetch.ReasonFor(err)
	r.s.metrics.IncCounter(metrics.CounterClipFailures, map[string]string{metrics.LabelReason: reason})

	if fetch.IsFatal(err) {
		r.logger.Error("fatal local I/O failure; aborting run",
			logging.String(logging.FieldTaskID, ts.task.TaskID),
			logging.String(logging.FieldVideoID, ts.task.VideoID),
			logging.Int(logging.FieldParallelSlot, ts.slot),
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check destination directory permissions and free space"),
		)
		r.fatal = err
		r.resolvePlaceholderLocked(ts, fetch.ReasonLocalIO, "")
		r.mu.Unlock()
		return
	}

	cfg := r.s.cfg.Current()
	if retry.Classify(err) == retry.Retryable && attempt <= cfg.MaxRetry && !r.cancelled && r.fatal == nil {
		backoff := retry.BackoffForError(err, attempt, time.Duration(cfg.RetryBaseMS)*time.Millisecond)
		r.logger.Info("clip retry scheduled",
			logging.String(logging.FieldTaskID, ts.task.TaskID),
			logging.String(logging.FieldVideoID, ts.task.VideoID),
			logging.Int(logging.FieldParallelSlot, ts.slot),
			logging.Int(logging.FieldAttempt, attempt),
			logging.Duration("backoff", backoff),
			logging.String(logging.FieldEventType, "clip_retried"),
			logging.Error(err),
		)
		r.s.metrics.IncCounter(metrics.CounterClipRetries, map[string]string{metrics.LabelReason: reason})
		r.releaseAdmissionLocked(ts)
		timer := time.AfterFunc(backoff, func() { r.requeue(ts) })
		r.waiting[ts] = timer
		r.cond.Broadcast()
		r.mu.Unlock()
		return
	}

	if r.cancelled || r.fatal != nil {
		// No new work after cancellation or a fatal abort, synthesis included.
		fallback := fetch.ReasonJobCancelled
		if r.fatal != nil {
			fallback = reason
		}
		r.resolvePlaceholderLocked(ts, fallback, "")
		r.mu.Unlock()
		return
	}

	// Terminal failure or retries exhausted: degrade to a placeholder clip.
	// The admission stays held so the placeholder-inserted record carries the
	// slot the task occupied.
	r.mu.Unlock()
	outputPath, synthErr := r.synthesizePlaceholder(ts)
	r.mu.Lock()
	if synthErr != nil {
		r.logger.Warn("placeholder synthesis failed; line continues without a clip",
			logging.String(logging.FieldTaskID, ts.task.TaskID),
			logging.Error(synthErr),
			logging.String(logging.FieldErrorHint, "verify ffmpeg availability and the placeholder asset path"),
		)
		reason = fetch.ReasonSynthesisFailed
		outputPath = ""
	}
	r.resolvePlaceholderLocked(ts, reason, outputPath)
	r.mu.Unlock()
}

// synthesizePlaceholder renders the fallback clip for ts at the task's target
// path. Synthesis is retried once: it is idempotent and isolated to the
// destination, so a second attempt cannot corrupt partial output.
func (r *run) synthesizePlaceholder(ts *taskState) (string, error) {
	duration := ts.task.PlaceholderDurationMS()
	err := r.s.synth.Synthesize(r.fetchCtx, duration, ts.task.TargetPath)
	if err != nil {
		err = r.s.synth.Synthesize(r.fetchCtx, duration, ts.task.TargetPath)
	}
	if err != nil {
		return "", err
	}
	return ts.task.TargetPath, nil
}

// requeue moves a backed-off task to the ready queue when its timer fires.
func (r *run) requeue(ts *taskState) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.waiting[ts]; !ok {
		// Already drained by cancellation or a fatal abort.
		return
	}
	delete(r.waiting, ts)
	if r.cancelled || r.fatal != nil {
		r.resolvePlaceholderLocked(ts, r.drainReasonLocked(), "")
		return
	}
	r.ready = append(r.ready, ts)
	r.logTransition(ts, "clip queued", "clip_queued")
	r.cond.Broadcast()
}

// drainPendingLocked converts every not-yet-started task to a placeholder
// result so the run still returns one result per task after cancellation or
// a fatal abort. No placeholder files are synthesized: the caller asked to
// stop, or the environment cannot be written to.
func (r *run) drainPendingLocked() {
	if r.drained {
		return
	}
	r.drained = true
	reason := r.drainReasonLocked()

	for ts, timer := range r.waiting {
		timer.Stop()
		delete(r.waiting, ts)
		r.resolvePlaceholderLocked(ts, reason, "")
	}
	for _, ts := range r.ready {
		r.resolvePlaceholderLocked(ts, reason, "")
	}
	r.ready = nil
}

func (r *run) drainReasonLocked() string {
	if r.fatal != nil {
		return fetch.ReasonLocalIO
	}
	return fetch.ReasonJobCancelled
}

func (r *run) resolvePlaceholderLocked(ts *taskState, reason, outputPath string) {
	r.s.metrics.IncCounter(metrics.CounterPlaceholders, map[string]string{metrics.LabelReason: reason})
	r.logger.Info("placeholder inserted",
		logging.String(logging.FieldTaskID, ts.task.TaskID),
		logging.String(logging.FieldVideoID, ts.task.VideoID),
		logging.Int(logging.FieldLineIndex, ts.task.LineIndex),
		logging.Int(logging.FieldParallelSlot, ts.slot),
		logging.String(logging.FieldFallbackReason, reason),
		logging.String(logging.FieldEventType, "placeholder_inserted"),
	)
	r.resolveLocked(ts, clip.Result{
		TaskID:         ts.task.TaskID,
		LineIndex:      ts.task.LineIndex,
		Status:         clip.StatusPlaceholder,
		DurationMS:     ts.task.PlaceholderDurationMS(),
		Attempts:       ts.attempts,
		FallbackReason: reason,
		OutputPath:     outputPath,
	})
}

func (r *run) resolveLocked(ts *taskState, result clip.Result) {
	r.releaseAdmissionLocked(ts)
	r.results = append(r.results, result)
	r.resolved++
	r.cond.Broadcast()
}

// releaseAdmissionLocked returns the task's global and per-video admission if
// it holds one. Safe to call for tasks that were never dispatched.
func (r *run) releaseAdmissionLocked(ts *taskState) {
	if ts.slot < 0 {
		return
	}
	r.perVideo.Release(ts.task.VideoID)
	r.globalInFlight--
	r.s.metrics.SetGauge(metrics.GaugeClipsInFlight, float64(r.globalInFlight))
	r.freeSlotLocked(ts.slot)
	ts.slot = -1
}

func (r *run) allocSlotLocked() int {
	for i, used := range r.slots {
		if !used {
			r.slots[i] = true
			return i
		}
	}
	r.slots = append(r.slots, true)
	return len(r.slots) - 1
}

func (r *run) freeSlotLocked(slot int) {
	if slot >= 0 && slot < len(r.slots) {
		r.slots[slot] = false
	}
}

func (r *run) logTransition(ts *taskState, msg, eventType string) {
	attrs := []logging.Attr{
		logging.String(logging.FieldTaskID, ts.task.TaskID),
		logging.String(logging.FieldVideoID, ts.task.VideoID),
		logging.Int(logging.FieldLineIndex, ts.task.LineIndex),
		logging.Int(logging.FieldAttempt, ts.attempts),
		logging.String(logging.FieldEventType, eventType),
	}
	if ts.slot >= 0 {
		attrs = append(attrs, logging.Int(logging.FieldParallelSlot, ts.slot))
	}
	r.logger.Info(msg, logging.Args(attrs...)...)
}
