package renderconfig

import (
	"context"
	"encoding/json"
	"log/slog"

	"clipline/internal/logging"
)

// Source delivers raw config update payloads. pubsub.Subscription satisfies
// it; tests provide fakes.
type Source interface {
	Run(ctx context.Context, handler func(ctx context.Context, payload []byte) error) error
}

// Watcher consumes partial updates from the config bus and applies them to
// the store. It is the store's only writer.
type Watcher struct {
	store  *Store
	source Source
	logger *slog.Logger
}

// NewWatcher wires a source to a store.
func NewWatcher(store *Store, source Source, logger *slog.Logger) *Watcher {
	return &Watcher{
		store:  store,
		source: source,
		logger: logging.NewComponentLogger(logger, "config_watcher"),
	}
}

// Run blocks consuming updates until ctx is cancelled. Malformed or invalid
// updates are logged and skipped; the store keeps serving the previous
// snapshot, so a bad publish never disturbs a running job.
func (w *Watcher) Run(ctx context.Context) error {
	return w.source.Run(ctx, w.handle)
}

func (w *Watcher) handle(_ context.Context, payload []byte) error {
	var update Update
	if err := json.Unmarshal(payload, &update); err != nil {
		w.logger.Warn("config update rejected: malformed payload",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "payload must be a JSON object in the config bus wire format"),
		)
		return nil
	}

	previous := w.store.Current()
	applied, err := w.store.ApplyUpdate(update)
	if err != nil {
		w.logger.Warn("config update rejected: validation failed",
			logging.Error(err),
			logging.Int64(logging.FieldConfigVersion, previous.Version),
		)
		return nil
	}

	w.logger.Info("config update applied",
		logging.Int64("previous_version", previous.Version),
		logging.Int64(logging.FieldConfigVersion, applied.Version),
		logging.Int("max_parallelism", applied.MaxParallelism),
		logging.Int("per_video_limit", applied.PerVideoLimit),
		logging.Int("max_retry", applied.MaxRetry),
	)
	return nil
}
