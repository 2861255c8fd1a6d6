// Package eventlog writes the event stream as newline-delimited JSON, one
// event per line, append-only. Rotation is external.
package eventlog

import (
	"bufio"
	"context"
	"io"
	"log/slog"
	"os"
	"sync"

	"github.com/agentchaos/chaosproxy/pkg/event"
	"github.com/agentchaos/chaosproxy/pkg/jsonutil"
)

// Sink serializes events to an io.Writer. Implements event.Consumer.
type Sink struct {
	mu     sync.Mutex
	w      *bufio.Writer
	closer io.Closer
	logger *slog.Logger
}

// NewSink wraps a writer. Events arriving on OnEvent were already
// PII-redacted by the emitter.
func NewSink(w io.Writer, logger *slog.Logger) *Sink {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Sink{w: bufio.NewWriter(w), logger: logger}
	if c, ok := w.(io.Closer); ok {
		s.closer = c
	}
	return s
}

// Open creates or appends to an NDJSON log file.
func Open(path string, logger *slog.Logger) (*Sink, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, err
	}
	return NewSink(f, logger), nil
}

// OnEvent writes one event as a single JSON line.
func (s *Sink) OnEvent(_ context.Context, ev event.Event) {
	line, err := jsonutil.Marshal(ev)
	if err != nil {
		s.logger.Warn("event serialization failed", "err", err)
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.w.Write(line); err != nil {
		s.logger.Warn("event log write failed", "err", err)
		return
	}
	if err := s.w.WriteByte('\n'); err != nil {
		s.logger.Warn("event log write failed", "err", err)
	}
}

// Close flushes buffered lines and closes the underlying file if any.
func (s *Sink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.w.Flush(); err != nil {
		return err
	}
	if s.closer != nil {
		return s.closer.Close()
	}
	return nil
}
