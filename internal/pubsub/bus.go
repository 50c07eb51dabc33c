// Package pubsub implements a broker-less pub/sub channel on SQLite.
// Publishers append rows; each subscriber polls forward from its own cursor.
// A subscriber starting mid-stream begins at the current tail: config updates
// carry absolute values, so missed history is irrelevant.
package pubsub

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"clipline/internal/logging"
)

// Bus is a handle on the shared channel database.
type Bus struct {
	db     *sql.DB
	logger *slog.Logger
}

// Open initializes or connects to the bus database.
func Open(path string, logger *slog.Logger) (*Bus, error) {
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("ensure bus directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open bus db: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, execErr := db.Exec(pragma); execErr != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply pragma %q: %w", pragma, execErr)
		}
	}

	bus := &Bus{db: db, logger: logging.NewComponentLogger(logger, "config_bus")}
	if err := bus.ensureTable(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return bus, nil
}

// Close closes the underlying database connection.
func (b *Bus) Close() error {
	if b == nil || b.db == nil {
		return nil
	}
	return b.db.Close()
}

func (b *Bus) ensureTable(ctx context.Context) error {
	_, err := b.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS bus_messages (
			seq          INTEGER PRIMARY KEY AUTOINCREMENT,
			channel      TEXT NOT NULL,
			payload      BLOB,
			published_at INTEGER NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_bus_channel_seq ON bus_messages (channel, seq);
	`)
	if err != nil {
		return fmt.Errorf("ensure bus table: %w", err)
	}
	return nil
}

// Publish appends a message to the channel.
func (b *Bus) Publish(ctx context.Context, channel string, payload []byte) error {
	_, err := b.db.ExecContext(ctx,
		`INSERT INTO bus_messages (channel, payload, published_at) VALUES (?,?,?)`,
		channel, payload, time.Now().UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("publish to %s: %w", channel, err)
	}
	return nil
}

// tail returns the highest sequence currently on the channel.
func (b *Bus) tail(ctx context.Context, channel string) (int64, error) {
	var seq sql.NullInt64
	err := b.db.QueryRowContext(ctx,
		`SELECT MAX(seq) FROM bus_messages WHERE channel = ?`, channel,
	).Scan(&seq)
	if err != nil {
		return 0, fmt.Errorf("read tail of %s: %w", channel, err)
	}
	return seq.Int64, nil
}

// Subscribe prepares a poll-based subscription starting at the channel's
// current tail.
func (b *Bus) Subscribe(channel string, pollInterval time.Duration) *Subscription {
	if pollInterval <= 0 {
		pollInterval = 500 * time.Millisecond
	}
	return &Subscription{
		bus:          b,
		channel:      channel,
		pollInterval: pollInterval,
	}
}

// Subscription is one consumer's cursor over a channel.
type Subscription struct {
	bus          *Bus
	channel      string
	pollInterval time.Duration
}

// Run polls the channel and invokes handler for each message past the
// subscription's starting tail, in sequence order. It blocks until ctx is
// cancelled. Handler errors are logged; the cursor still advances, because a
// message that failed once will fail every replay.
func (s *Subscription) Run(ctx context.Context, handler func(ctx context.Context, payload []byte) error) error {
	cursor, err := s.bus.tail(ctx, s.channel)
	if err != nil {
		return err
	}

	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}

		cursor, err = s.drain(ctx, cursor, handler)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return err
			}
			s.bus.logger.Warn("config bus poll failed",
				logging.Error(err),
				logging.String("channel", s.channel),
			)
		}
	}
}

func (s *Subscription) drain(ctx context.Context, cursor int64, handler func(ctx context.Context, payload []byte) error) (int64, error) {
	rows, err := s.bus.db.QueryContext(ctx,
		`SELECT seq, payload FROM bus_messages WHERE channel = ? AND seq > ? ORDER BY seq ASC`,
		s.channel, cursor,
	)
	if err != nil {
		return cursor, err
	}
	defer rows.Close()

	for rows.Next() {
		var seq int64
		var payload []byte
		if err := rows.Scan(&seq, &payload); err != nil {
			return cursor, err
		}
		if err := handler(ctx, payload); err != nil {
			s.bus.logger.Warn("config bus handler failed",
				logging.Error(err),
				logging.String("channel", s.channel),
				logging.Int64("seq", seq),
			)
		}
		cursor = seq
	}
	return cursor, rows.Err()
}
