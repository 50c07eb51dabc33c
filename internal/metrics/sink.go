package metrics

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"clipline/internal/logging"
)

type point struct {
	name   string
	at     time.Time
	value  float64
	labels map[string]string
}

// Sink buffers datapoints and flushes them to SQLite in batches. Recording
// is non-blocking: when the buffer is full and a flush is already pending,
// datapoints are dropped rather than stalling the scheduler.
type Sink struct {
	db            *sql.DB
	bufferSize    int
	flushInterval time.Duration
	logger        *slog.Logger

	mu     sync.Mutex
	buffer []*point
	closed bool

	stop chan struct{}
	done chan struct{}
}

// OpenSink initializes the metrics database and starts the flush loop.
func OpenSink(path string, bufferSize int, flushInterval time.Duration, logger *slog.Logger) (*Sink, error) {
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("ensure metrics directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open metrics db: %w", err)
	}
	for _, pragma := range []string{"PRAGMA journal_mode=WAL", "PRAGMA busy_timeout = 5000"} {
		if _, execErr := db.Exec(pragma); execErr != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply pragma %q: %w", pragma, execErr)
		}
	}
	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS metrics_timeseries (
			metric_name TEXT NOT NULL,
			timestamp   INTEGER NOT NULL,
			value       REAL NOT NULL,
			labels      TEXT
		);
		CREATE INDEX IF NOT EXISTS idx_metrics_name_ts ON metrics_timeseries (metric_name, timestamp);
	`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ensure metrics table: %w", err)
	}

	if bufferSize <= 0 {
		bufferSize = 100
	}
	if flushInterval <= 0 {
		flushInterval = 5 * time.Second
	}

	s := &Sink{
		db:            db,
		bufferSize:    bufferSize,
		flushInterval: flushInterval,
		logger:        logging.NewComponentLogger(logger, "metrics_sink"),
		buffer:        make([]*point, 0, bufferSize),
		stop:          make(chan struct{}),
		done:          make(chan struct{}),
	}
	go s.flushLoop()
	return s, nil
}

// record queues a datapoint for async persistence. Safe on a nil sink.
func (s *Sink) record(name string, value float64, labels map[string]string) {
	if s == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	if len(s.buffer) >= s.bufferSize*2 {
		// Flush is falling behind; drop rather than block the pipeline.
		return
	}
	s.buffer = append(s.buffer, &point{
		name:   name,
		at:     time.Now(),
		value:  value,
		labels: cloneLabels(labels),
	})
	if len(s.buffer) >= s.bufferSize {
		s.flushLocked()
	}
}

// Close flushes remaining datapoints and closes the database.
func (s *Sink) Close() error {
	if s == nil {
		return nil
	}
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	close(s.stop)
	<-s.done

	s.mu.Lock()
	s.flushLocked()
	s.mu.Unlock()
	return s.db.Close()
}

func (s *Sink) flushLoop() {
	defer close(s.done)
	ticker := time.NewTicker(s.flushInterval)
	defer ticker.Stop()
	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			s.mu.Lock()
			s.flushLocked()
			s.mu.Unlock()
		}
	}
}

// flushLocked writes the buffer in one transaction. Caller holds s.mu.
func (s *Sink) flushLocked() {
	if len(s.buffer) == 0 {
		return
	}
	batch := s.buffer
	s.buffer = make([]*point, 0, s.bufferSize)

	tx, err := s.db.BeginTx(context.Background(), nil)
	if err != nil {
		s.logger.Warn("metrics flush failed to begin", logging.Error(err))
		return
	}
	stmt, err := tx.Prepare(`INSERT INTO metrics_timeseries (metric_name, timestamp, value, labels) VALUES (?,?,?,?)`)
	if err != nil {
		_ = tx.Rollback()
		s.logger.Warn("metrics flush failed to prepare", logging.Error(err))
		return
	}
	for _, p := range batch {
		var labelJSON any
		if len(p.labels) > 0 {
			encoded, encodeErr := json.Marshal(p.labels)
			if encodeErr == nil {
				labelJSON = string(encoded)
			}
		}
		if _, err := stmt.Exec(p.name, p.at.Unix(), p.value, labelJSON); err != nil {
			s.logger.Warn("metrics flush insert failed", logging.Error(err))
		}
	}
	_ = stmt.Close()
	if err := tx.Commit(); err != nil {
		s.logger.Warn("metrics flush commit failed", logging.Error(err))
	}
}
