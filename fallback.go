package audit

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"gopkg.in/natefinch/lumberjack.v2"
)

// FallbackSink durably stores events the primary store could not accept.
type FallbackSink interface {
	Write(ctx context.Context, events []Event) error
}

// FileSinkConfig configures the rotating fallback file.
type FileSinkConfig struct {
	Path       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Compress   bool
}

// FileSink appends events as JSON lines to a size-rotated local file.
type FileSink struct {
	mu sync.Mutex
	w  io.WriteCloser
}

// NewFileSink opens (lazily) a rotating JSON-lines file at cfg.Path.
func NewFileSink(cfg FileSinkConfig) (*FileSink, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("fallback sink: path is required")
	}
	if cfg.MaxSizeMB <= 0 {
		cfg.MaxSizeMB = 100
	}
	return &FileSink{w: &lumberjack.Logger{
		Filename:   cfg.Path,
		MaxSize:    cfg.MaxSizeMB,
		MaxBackups: cfg.MaxBackups,
		MaxAge:     cfg.MaxAgeDays,
		Compress:   cfg.Compress,
	}}, nil
}

// NewWriterSink writes JSON lines to w. Used for stderr fallbacks and tests.
func NewWriterSink(w io.Writer) *FileSink {
	return &FileSink{w: nopCloser{w}}
}

type nopCloser struct{ io.Writer }

func (nopCloser) Close() error { return nil }

// Write appends the batch in a single write so a rotation never splits it.
func (s *FileSink) Write(_ context.Context, events []Event) error {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for i := range events {
		if err := enc.Encode(&events[i]); err != nil {
			return fmt.Errorf("encoding fallback event %s: %w", events[i].ID, err)
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.w.Write(buf.Bytes()); err != nil {
		return fmt.Errorf("writing fallback file: %w", err)
	}
	return nil
}

// Close releases the underlying file.
func (s *FileSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.w.Close()
}

// spill routes a batch the store rejected to the fallback sink, and to the
// application log when that fails too. It reports whether the fallback held.
func spill(ctx context.Context, sink FallbackSink, events []Event, cause error, logger *slog.Logger, m *Metrics) bool {
	if sink != nil {
		err := sink.Write(ctx, events)
		if err == nil {
			m.fallback(true)
			logger.Warn("audit events written to fallback sink", "count", len(events), "cause", cause)
			return true
		}
		m.fallback(false)
		cause = fmt.Errorf("%w; fallback: %w", cause, err)
	}
	logger.Error("CRITICAL: audit events could not be persisted", "count", len(events), "error", cause)
	for i := range events {
		logger.Error("CRITICAL: lost audit event", events[i].logAttrs()...)
	}
	return false
}
