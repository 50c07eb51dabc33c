package scheduler

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"sync"
	"testing"
	"time"

	"clipline/internal/clip"
	"clipline/internal/fetch"
	"clipline/internal/logging"
	"clipline/internal/metrics"
	"clipline/internal/renderconfig"
	"clipline/internal/testsupport"
)

// fakeFetcher records concurrency snapshots on entry and exit so tests can
// assert the admission bounds were never violated.
type fakeFetcher struct {
	mu          sync.Mutex
	inFlight    int
	maxInFlight int
	perVideo    map[string]int
	maxPerVideo map[string]int
	calls       int

	delay time.Duration
	fn    func(videoID string, call int) error

	entered chan string
	release chan struct{}
}

func newFakeFetcher() *fakeFetcher {
	return &fakeFetcher{
		perVideo:    make(map[string]int),
		maxPerVideo: make(map[string]int),
	}
}

func (f *fakeFetcher) Fetch(_ context.Context, videoID string, _, _ int64, _ string) error {
	f.mu.Lock()
	f.calls++
	call := f.calls
	f.inFlight++
	if f.inFlight > f.maxInFlight {
		f.maxInFlight = f.inFlight
	}
	f.perVideo[videoID]++
	if f.perVideo[videoID] > f.maxPerVideo[videoID] {
		f.maxPerVideo[videoID] = f.perVideo[videoID]
	}
	f.mu.Unlock()

	defer func() {
		f.mu.Lock()
		f.inFlight--
		f.perVideo[videoID]--
		f.mu.Unlock()
	}()

	if f.entered != nil {
		f.entered <- videoID
	}
	if f.release != nil {
		<-f.release
	}
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	if f.fn != nil {
		return f.fn(videoID, call)
	}
	return nil
}

type synthCall struct {
	durationMS int64
	destPath   string
}

type fakeSynth struct {
	mu    sync.Mutex
	calls []synthCall
	err   error
}

func (s *fakeSynth) Synthesize(_ context.Context, durationMS int64, destPath string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, synthCall{durationMS: durationMS, destPath: destPath})
	return s.err
}

func (s *fakeSynth) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.calls)
}

func newTestScheduler(t *testing.T, maxParallelism, perVideoLimit, maxRetry int, fetcher fetch.Fetcher, synth Synthesizer) (*Scheduler, *renderconfig.Store) {
	t.Helper()
	cfg := testsupport.NewConfig(t,
		testsupport.WithRenderLimits(maxParallelism, perVideoLimit, maxRetry),
		testsupport.WithRetryBase(1),
	)
	store, err := renderconfig.NewStore(cfg)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	sched, err := New(store, fetcher, synth, metrics.NewRecorder(nil), logging.NewNop())
	if err != nil {
		t.Fatalf("new scheduler: %v", err)
	}
	return sched, store
}

func makeTasks(count int, videoFor func(i int) string) []clip.Task {
	tasks := make([]clip.Task, 0, count)
	for i := 0; i < count; i++ {
		tasks = append(tasks, clip.Task{
			TaskID:     fmt.Sprintf("task-%d", i),
			JobID:      "job-1",
			LineIndex:  i,
			VideoID:    videoFor(i),
			StartMS:    int64(i) * 5000,
			EndMS:      int64(i)*5000 + 3000,
			TargetPath: fmt.Sprintf("/tmp/clips/line_%d.mp4", i),
		})
	}
	return tasks
}

func TestRunEmptyTaskList(t *testing.T) {
	sched, _ := newTestScheduler(t, 2, 1, 0, newFakeFetcher(), &fakeSynth{})
	results, jobStats, err := sched.Run(context.Background(), nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(results) != 0 {
		t.Fatalf("expected no results, got %d", len(results))
	}
	if jobStats.TotalClips != 0 || jobStats.PeakParallelism != 0 {
		t.Fatalf("expected zeroed stats, got %+v", jobStats)
	}
}

func TestRunResolvesEveryTaskInLineOrder(t *testing.T) {
	fetcher := newFakeFetcher()
	fetcher.fn = func(string, int) error {
		time.Sleep(time.Duration(rand.IntN(10)) * time.Millisecond)
		return nil
	}
	sched, _ := newTestScheduler(t, 4, 2, 0, fetcher, &fakeSynth{})

	tasks := makeTasks(12, func(i int) string { return fmt.Sprintf("video-%d", i%5) })
	results, jobStats, err := sched.Run(context.Background(), tasks)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(results) != len(tasks) {
		t.Fatalf("expected %d results, got %d", len(tasks), len(results))
	}
	for i, result := range results {
		if result.LineIndex != i {
			t.Fatalf("result %d has line index %d; output must be sorted", i, result.LineIndex)
		}
		if result.Status != clip.StatusSuccess {
			t.Fatalf("result %d resolved as %s", i, result.Status)
		}
		if result.Attempts != 1 {
			t.Fatalf("result %d used %d attempts", i, result.Attempts)
		}
	}
	if jobStats.TotalClips != 12 || jobStats.PlaceholderTasks != 0 {
		t.Fatalf("unexpected stats: %+v", jobStats)
	}
}

func TestConcurrencyBoundsRespected(t *testing.T) {
	fetcher := newFakeFetcher()
	fetcher.delay = 50 * time.Millisecond
	sched, _ := newTestScheduler(t, 4, 2, 0, fetcher, &fakeSynth{})

	// 10 tasks over 3 videos in a 4/3/3 split.
	videos := []string{
		"video-a", "video-a", "video-a", "video-a",
		"video-b", "video-b", "video-b",
		"video-c", "video-c", "video-c",
	}
	tasks := makeTasks(10, func(i int) string { return videos[i] })

	results, _, err := sched.Run(context.Background(), tasks)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(results) != 10 {
		t.Fatalf("expected 10 results, got %d", len(results))
	}
	if fetcher.maxInFlight > 4 {
		t.Fatalf("global in-flight peaked at %d, cap is 4", fetcher.maxInFlight)
	}
	for video, peak := range fetcher.maxPerVideo {
		if peak > 2 {
			t.Fatalf("video %s peaked at %d concurrent fetches, cap is 2", video, peak)
		}
	}
}

func TestSkipAheadAvoidsHeadOfLineBlocking(t *testing.T) {
	fetcher := newFakeFetcher()
	fetcher.entered = make(chan string, 4)
	fetcher.release = make(chan struct{})
	sched, _ := newTestScheduler(t, 2, 1, 0, fetcher, &fakeSynth{})

	// Three tasks for video-a ahead of one for video-b. With a per-video cap
	// of 1, the second and third video-a tasks must not block video-b.
	videos := []string{"video-a", "video-a", "video-a", "video-b"}
	tasks := makeTasks(4, func(i int) string { return videos[i] })

	done := make(chan struct{})
	go func() {
		defer close(done)
		if _, _, err := sched.Run(context.Background(), tasks); err != nil {
			t.Errorf("unexpected error: %v", err)
		}
	}()

	first := <-fetcher.entered
	second := <-fetcher.entered
	entered := map[string]bool{first: true, second: true}
	if !entered["video-a"] || !entered["video-b"] {
		t.Fatalf("expected video-b to skip ahead, first two admissions were %q and %q", first, second)
	}

	close(fetcher.release)
	for i := 0; i < 2; i++ {
		<-fetcher.entered
	}
	<-done
}

func TestTerminalErrorGoesStraightToPlaceholder(t *testing.T) {
	fetcher := newFakeFetcher()
	fetcher.fn = func(string, int) error {
		return fetch.Wrap(fetch.ErrNotFound, "fetch", "video gone", nil)
	}
	synth := &fakeSynth{}
	sched, _ := newTestScheduler(t, 2, 2, 3, fetcher, synth)

	tasks := makeTasks(5, func(i int) string { return fmt.Sprintf("video-%d", i) })
	tasks[2].LineDurationMS = 1500

	results, jobStats, err := sched.Run(context.Background(), tasks)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for _, result := range results {
		if result.Status != clip.StatusPlaceholder {
			t.Fatalf("line %d resolved as %s", result.LineIndex, result.Status)
		}
		if result.FallbackReason != fetch.ReasonNotFound {
			t.Fatalf("line %d fallback reason %q", result.LineIndex, result.FallbackReason)
		}
		if result.Attempts != 1 {
			t.Fatalf("terminal error wasted retries: line %d used %d attempts", result.LineIndex, result.Attempts)
		}
	}
	if results[2].DurationMS != 1500 {
		t.Fatalf("placeholder must match line duration 1500, got %d", results[2].DurationMS)
	}
	if synth.callCount() != 5 {
		t.Fatalf("expected 5 synthesis calls, got %d", synth.callCount())
	}
	if jobStats.FallbackReasonCounts[fetch.ReasonNotFound] != 5 {
		t.Fatalf("unexpected fallback counts: %+v", jobStats.FallbackReasonCounts)
	}
}

func TestRetryableErrorRetriesUntilSuccess(t *testing.T) {
	var mu sync.Mutex
	attemptsByVideo := make(map[string]int)
	fetcher := newFakeFetcher()
	fetcher.fn = func(videoID string, _ int) error {
		mu.Lock()
		defer mu.Unlock()
		attemptsByVideo[videoID]++
		if attemptsByVideo[videoID] < 3 {
			return fetch.Wrap(fetch.ErrTransientNetwork, "fetch", "connection reset", nil)
		}
		return nil
	}
	sched, _ := newTestScheduler(t, 2, 2, 2, fetcher, &fakeSynth{})

	tasks := makeTasks(3, func(i int) string { return fmt.Sprintf("video-%d", i) })
	results, _, err := sched.Run(context.Background(), tasks)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for _, result := range results {
		if result.Status != clip.StatusSuccess {
			t.Fatalf("line %d resolved as %s (%s)", result.LineIndex, result.Status, result.FallbackReason)
		}
		if result.Attempts != 3 {
			t.Fatalf("line %d used %d attempts, expected 3", result.LineIndex, result.Attempts)
		}
	}
}

func TestRetriesExhaustedFallsBackToPlaceholder(t *testing.T) {
	fetcher := newFakeFetcher()
	fetcher.fn = func(string, int) error {
		return fetch.Wrap(fetch.ErrTransientNetwork, "fetch", "timeout", nil)
	}
	synth := &fakeSynth{}
	sched, _ := newTestScheduler(t, 4, 2, 1, fetcher, synth)

	tasks := makeTasks(4, func(i int) string { return fmt.Sprintf("video-%d", i) })
	results, _, err := sched.Run(context.Background(), tasks)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for _, result := range results {
		if result.Status != clip.StatusPlaceholder {
			t.Fatalf("line %d resolved as %s", result.LineIndex, result.Status)
		}
		if result.Attempts != 2 {
			t.Fatalf("line %d used %d attempts, max_retry=1 allows exactly 2", result.LineIndex, result.Attempts)
		}
		if result.FallbackReason != fetch.ReasonNetworkError {
			t.Fatalf("line %d fallback reason %q", result.LineIndex, result.FallbackReason)
		}
	}
}

func TestHotReloadDoesNotPreemptRunningTasks(t *testing.T) {
	fetcher := newFakeFetcher()
	fetcher.entered = make(chan string, 3)
	fetcher.release = make(chan struct{})
	sched, store := newTestScheduler(t, 2, 2, 0, fetcher, &fakeSynth{})

	tasks := makeTasks(3, func(i int) string { return fmt.Sprintf("video-%d", i) })

	done := make(chan struct{})
	var results []clip.Result
	var runErr error
	go func() {
		defer close(done)
		results, _, runErr = sched.Run(context.Background(), tasks)
	}()

	// Wait for the first two admissions, then shrink the pool.
	<-fetcher.entered
	<-fetcher.entered

	newLimit := 1
	if _, err := store.ApplyUpdate(renderconfig.Update{MaxParallelism: &newLimit}); err != nil {
		t.Fatalf("apply update: %v", err)
	}

	// The third task must not be admitted while both slots are occupied.
	select {
	case video := <-fetcher.entered:
		t.Fatalf("task for %s admitted beyond the reduced limit", video)
	case <-time.After(50 * time.Millisecond):
	}

	close(fetcher.release)
	<-fetcher.entered
	<-done

	if runErr != nil {
		t.Fatalf("unexpected error: %v", runErr)
	}
	if len(results) != 3 {
		t.Fatalf("expected 3 results, got %d", len(results))
	}
	for _, result := range results {
		if result.Status != clip.StatusSuccess {
			t.Fatalf("line %d resolved as %s; running tasks must not be preempted", result.LineIndex, result.Status)
		}
	}
	if fetcher.maxInFlight != 2 {
		t.Fatalf("expected peak of 2 concurrent fetches, got %d", fetcher.maxInFlight)
	}
}

func TestCancellationConvertsPendingToPlaceholders(t *testing.T) {
	fetcher := newFakeFetcher()
	fetcher.entered = make(chan string, 1)
	fetcher.release = make(chan struct{})
	synth := &fakeSynth{}
	sched, _ := newTestScheduler(t, 1, 1, 0, fetcher, synth)

	tasks := makeTasks(5, func(i int) string { return fmt.Sprintf("video-%d", i) })

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	var results []clip.Result
	var runErr error
	go func() {
		defer close(done)
		results, _, runErr = sched.Run(ctx, tasks)
	}()

	<-fetcher.entered
	cancel()
	// The in-flight task is allowed to finish.
	close(fetcher.release)
	<-done

	if runErr != nil {
		t.Fatalf("cancellation must not surface as an error, got %v", runErr)
	}
	if len(results) != len(tasks) {
		t.Fatalf("progress guarantee broken: %d results for %d tasks", len(results), len(tasks))
	}
	if results[0].Status != clip.StatusSuccess {
		t.Fatalf("in-flight task should have finished, resolved as %s", results[0].Status)
	}
	for _, result := range results[1:] {
		if result.Status != clip.StatusPlaceholder || result.FallbackReason != fetch.ReasonJobCancelled {
			t.Fatalf("line %d: status=%s reason=%q", result.LineIndex, result.Status, result.FallbackReason)
		}
		if result.OutputPath != "" {
			t.Fatalf("cancelled line %d must not have an output file", result.LineIndex)
		}
	}
	if synth.callCount() != 0 {
		t.Fatalf("cancellation must not synthesize placeholder files, got %d calls", synth.callCount())
	}
}

func TestFatalLocalIOAbortsRun(t *testing.T) {
	fetcher := newFakeFetcher()
	fetcher.fn = func(string, int) error {
		return fetch.Wrap(fetch.ErrLocalIO, "fetch", "destination not writable", nil)
	}
	synth := &fakeSynth{}
	sched, _ := newTestScheduler(t, 1, 1, 3, fetcher, synth)

	tasks := makeTasks(4, func(i int) string { return fmt.Sprintf("video-%d", i) })
	results, _, err := sched.Run(context.Background(), tasks)
	if err == nil {
		t.Fatal("fatal local I/O must abort the run with an error")
	}
	if !errors.Is(err, fetch.ErrLocalIO) {
		t.Fatalf("expected local io error, got %v", err)
	}
	if len(results) != len(tasks) {
		t.Fatalf("progress guarantee broken on abort: %d results for %d tasks", len(results), len(tasks))
	}
	for _, result := range results {
		if result.Status != clip.StatusPlaceholder || result.FallbackReason != fetch.ReasonLocalIO {
			t.Fatalf("line %d: status=%s reason=%q", result.LineIndex, result.Status, result.FallbackReason)
		}
	}
	if synth.callCount() != 0 {
		t.Fatalf("no synthesis should run in a broken environment, got %d calls", synth.callCount())
	}
}

func TestPlaceholderSynthesisFailureIsNonFatal(t *testing.T) {
	fetcher := newFakeFetcher()
	fetcher.fn = func(string, int) error {
		return fetch.Wrap(fetch.ErrInvalidRange, "fetch", "section out of range", nil)
	}
	synth := &fakeSynth{err: errors.New("ffmpeg missing")}
	sched, _ := newTestScheduler(t, 2, 2, 0, fetcher, synth)

	tasks := makeTasks(2, func(i int) string { return fmt.Sprintf("video-%d", i) })
	results, jobStats, err := sched.Run(context.Background(), tasks)
	if err != nil {
		t.Fatalf("synthesis failure must not abort the job: %v", err)
	}
	for _, result := range results {
		if result.FallbackReason != fetch.ReasonSynthesisFailed {
			t.Fatalf("line %d fallback reason %q", result.LineIndex, result.FallbackReason)
		}
		if result.OutputPath != "" {
			t.Fatalf("line %d recorded an output path despite failed synthesis", result.LineIndex)
		}
	}
	// Synthesis gets exactly one retry per task.
	if synth.callCount() != 4 {
		t.Fatalf("expected 2 tasks x 2 synthesis attempts, got %d", synth.callCount())
	}
	if jobStats.FailedTasks != 2 {
		t.Fatalf("tasks without output must count as failed, got %d", jobStats.FailedTasks)
	}
}

func TestPeakParallelismReported(t *testing.T) {
	fetcher := newFakeFetcher()
	fetcher.entered = make(chan string, 4)
	fetcher.release = make(chan struct{})
	sched, _ := newTestScheduler(t, 4, 4, 0, fetcher, &fakeSynth{})

	tasks := makeTasks(4, func(i int) string { return fmt.Sprintf("video-%d", i) })

	done := make(chan struct{})
	var jobStats clip.Stats
	go func() {
		defer close(done)
		_, jobStats, _ = sched.Run(context.Background(), tasks)
	}()

	for i := 0; i < 4; i++ {
		<-fetcher.entered
	}
	close(fetcher.release)
	<-done

	if jobStats.PeakParallelism != 4 {
		t.Fatalf("expected peak parallelism 4, got %d", jobStats.PeakParallelism)
	}
}

func TestInFlightGaugeReturnsToZero(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithRenderLimits(3, 3, 0))
	store, err := renderconfig.NewStore(cfg)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	recorder := metrics.NewRecorder(nil)
	fetcher := newFakeFetcher()
	fetcher.delay = 10 * time.Millisecond
	sched, err := New(store, fetcher, &fakeSynth{}, recorder, logging.NewNop())
	if err != nil {
		t.Fatalf("new scheduler: %v", err)
	}

	tasks := makeTasks(6, func(i int) string { return fmt.Sprintf("video-%d", i) })
	if _, _, err := sched.Run(context.Background(), tasks); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := recorder.GaugeValue(metrics.GaugeClipsInFlight); got != 0 {
		t.Fatalf("in-flight gauge = %v after the run, want 0", got)
	}
	if got := recorder.HistogramCount(metrics.HistogramClipDurationMS); got != 6 {
		t.Fatalf("duration observations = %d, want 6", got)
	}
}

func TestInvalidTaskListRejected(t *testing.T) {
	sched, _ := newTestScheduler(t, 2, 1, 0, newFakeFetcher(), &fakeSynth{})
	tasks := makeTasks(2, func(i int) string { return "video" })
	tasks[1].EndMS = tasks[1].StartMS

	if _, _, err := sched.Run(context.Background(), tasks); err == nil {
		t.Fatal("expected an error for an invalid task list")
	}
}
