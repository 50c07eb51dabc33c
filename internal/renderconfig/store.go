// Package renderconfig holds the hot-reloadable scheduling limits as a
// versioned, atomically swapped snapshot. Readers call Current on every
// admission decision; the watcher is the only writer.
package renderconfig

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"

	"clipline/internal/config"
)

// Snapshot is one complete, immutable configuration generation. Readers
// always observe a whole snapshot; fields from different versions never mix.
type Snapshot struct {
	MaxParallelism       int
	PerVideoLimit        int
	MaxRetry             int
	RetryBaseMS          int
	PlaceholderAssetPath string
	Version              int64
}

// Update is a partial configuration change in the config bus wire format.
// Nil fields leave the current value unchanged.
type Update struct {
	MaxParallelism       *int    `json:"max_parallelism,omitempty"`
	PerVideoLimit        *int    `json:"per_video_limit,omitempty"`
	MaxRetry             *int    `json:"max_retry,omitempty"`
	PlaceholderAssetPath *string `json:"placeholder_asset_path,omitempty"`
}

// Store serves configuration snapshots via a copy-on-write atomic pointer.
type Store struct {
	current atomic.Pointer[Snapshot]

	// mu serializes writers so version bumps stay monotonic. Readers never
	// take it.
	mu sync.Mutex
}

// NewStore seeds a store from the on-disk baseline config.
func NewStore(cfg *config.Config) (*Store, error) {
	initial := Snapshot{
		MaxParallelism:       cfg.Render.MaxParallelism,
		PerVideoLimit:        cfg.Render.PerVideoLimit,
		MaxRetry:             cfg.Render.MaxRetry,
		RetryBaseMS:          cfg.Render.RetryBaseMS,
		PlaceholderAssetPath: cfg.Paths.PlaceholderAsset,
		Version:              1,
	}
	if err := validateSnapshot(initial); err != nil {
		return nil, err
	}
	s := &Store{}
	s.current.Store(&initial)
	return s, nil
}

// Current returns the latest fully-formed snapshot. Never blocks.
func (s *Store) Current() Snapshot {
	return *s.current.Load()
}

// ApplyUpdate validates and applies a partial update, returning the new
// snapshot. An invalid update is rejected wholesale and the store is left
// unchanged.
func (s *Store) ApplyUpdate(update Update) (Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := *s.current.Load()
	if update.MaxParallelism != nil {
		next.MaxParallelism = *update.MaxParallelism
	}
	if update.PerVideoLimit != nil {
		next.PerVideoLimit = *update.PerVideoLimit
	}
	if update.MaxRetry != nil {
		next.MaxRetry = *update.MaxRetry
	}
	if update.PlaceholderAssetPath != nil {
		next.PlaceholderAssetPath = strings.TrimSpace(*update.PlaceholderAssetPath)
	}

	if err := validateSnapshot(next); err != nil {
		return s.Current(), err
	}

	next.Version++
	s.current.Store(&next)
	return next, nil
}

func validateSnapshot(snap Snapshot) error {
	if snap.MaxParallelism <= 0 {
		return errors.New("max_parallelism must be greater than zero")
	}
	if snap.PerVideoLimit <= 0 {
		return errors.New("per_video_limit must be greater than zero")
	}
	if snap.MaxRetry < 0 {
		return fmt.Errorf("max_retry must be zero or greater, got %d", snap.MaxRetry)
	}
	return nil
}
