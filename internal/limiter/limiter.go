// Package limiter gates admission per source video so no single upstream
// video absorbs concurrent range requests beyond the configured cap.
package limiter

import (
	"sync"

	"clipline/internal/renderconfig"
)

// PerVideo counts in-flight fetches per source video identity. The limit is
// read from the config store on every call, so a hot reload applies on the
// very next admission decision.
type PerVideo struct {
	cfg *renderconfig.Store

	mu     sync.Mutex
	counts map[string]int
}

// NewPerVideo builds a limiter bound to the live config store.
func NewPerVideo(cfg *renderconfig.Store) *PerVideo {
	return &PerVideo{
		cfg:    cfg,
		counts: make(map[string]int),
	}
}

// TryAcquire admits one fetch against videoID if the live per-video limit
// permits. Returns false with no side effect otherwise.
func (l *PerVideo) TryAcquire(videoID string) bool {
	limit := l.cfg.Current().PerVideoLimit

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.counts[videoID] >= limit {
		return false
	}
	l.counts[videoID]++
	return true
}

// Release returns one admission for videoID. Entries are removed at zero so
// a long job over many distinct videos does not grow the map without bound.
func (l *PerVideo) Release(videoID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	count, ok := l.counts[videoID]
	if !ok {
		return
	}
	if count <= 1 {
		delete(l.counts, videoID)
		return
	}
	l.counts[videoID] = count - 1
}

// InFlight reports the current admission count for videoID.
func (l *PerVideo) InFlight(videoID string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.counts[videoID]
}

// TrackedVideos reports how many videos currently hold admissions.
func (l *PerVideo) TrackedVideos() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.counts)
}
