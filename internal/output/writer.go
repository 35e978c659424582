// Package output buffers comment records and flushes them to JSONL and CSV files.
package output

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/ytcomments/internal/metrics"
	"github.com/ternarybob/ytcomments/internal/models"
)

// DefaultThreshold is the buffer size that triggers a flush.
const DefaultThreshold = 500

// ErrClosed is returned by Append after Close.
var ErrClosed = errors.New("writer closed")

// WriteError reports a sink that rejected a flushed batch.
type WriteError struct {
	Sink    string
	Records int
	Err     error
}

func (e *WriteError) Error() string {
	return fmt.Sprintf("write %d records to %s sink: %v", e.Records, e.Sink, e.Err)
}

func (e *WriteError) Unwrap() error { return e.Err }

// Option configures a Writer.
type Option func(*Writer)

// WithMetrics records flush outcomes.
func WithMetrics(m *metrics.Metrics) Option {
	return func(w *Writer) {
		w.metrics = m
	}
}

// WithLogger sets a logger.
func WithLogger(logger arbor.ILogger) Option {
	return func(w *Writer) {
		w.logger = logger
	}
}

// Writer buffers records and flushes them to every sink. The buffer holds
// exactly the records some sink has not yet accepted; no sink is ever sent a
// record twice.
type Writer struct {
	mu        sync.Mutex
	threshold int
	sinks     []Sink
	written   []int // per sink, how many leading buffer entries it already holds
	buf       []models.CommentRecord
	closed    bool
	flushed   int // records accepted by every sink
	metrics   *metrics.Metrics
	logger    arbor.ILogger
}

// NewWriter creates a writer over sinks. threshold <= 0 uses DefaultThreshold.
func NewWriter(threshold int, sinks []Sink, opts ...Option) *Writer {
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	w := &Writer{
		threshold: threshold,
		sinks:     sinks,
		written:   make([]int, len(sinks)),
		buf:       make([]models.CommentRecord, 0, threshold),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Open creates both output files (truncating existing ones) and returns a
// writer over them.
func Open(jsonlPath, csvPath string, threshold int, opts ...Option) (*Writer, error) {
	for _, p := range []string{jsonlPath, csvPath} {
		if dir := filepath.Dir(p); dir != "." {
			if err := os.MkdirAll(dir, 0755); err != nil {
				return nil, fmt.Errorf("failed to create output directory %s: %w", dir, err)
			}
		}
	}

	jsonl, err := NewJSONLSink(jsonlPath)
	if err != nil {
		return nil, err
	}
	csvSink, err := NewCSVSink(csvPath)
	if err != nil {
		jsonl.Close()
		return nil, err
	}
	return NewWriter(threshold, []Sink{jsonl, csvSink}, opts...), nil
}

// Append buffers rec and flushes once the threshold is reached.
func (w *Writer) Append(rec models.CommentRecord) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return ErrClosed
	}
	w.buf = append(w.buf, rec)
	if len(w.buf) >= w.threshold {
		return w.flushLocked()
	}
	return nil
}

// Flush writes buffered records to every sink that does not have them yet.
func (w *Writer) Flush() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.flushLocked()
}

func (w *Writer) flushLocked() error {
	if len(w.buf) == 0 {
		return nil
	}

	var errs []error
	for i, sink := range w.sinks {
		pending := w.buf[w.written[i]:]
		if len(pending) == 0 {
			continue
		}
		err := sink.WriteBatch(pending)
		w.metrics.ObserveFlush(sink.Name(), len(pending), err)
		if err != nil {
			errs = append(errs, &WriteError{Sink: sink.Name(), Records: len(pending), Err: err})
			continue
		}
		w.written[i] = len(w.buf)
	}

	// drop the prefix every sink holds
	done := len(w.buf)
	for _, n := range w.written {
		if n < done {
			done = n
		}
	}
	if done > 0 {
		w.buf = append(w.buf[:0], w.buf[done:]...)
		for i := range w.written {
			w.written[i] -= done
		}
		w.flushed += done
	}

	if w.logger != nil {
		w.logger.Trace().
			Int("flushed", done).
			Int("buffered", len(w.buf)).
			Int("failed_sinks", len(errs)).
			Msg("Flushed output buffer")
	}

	return errors.Join(errs...)
}

// Close performs the final flush and closes every sink. Records still
// buffered afterwards are reported by Buffered. Calling Close again is a no-op.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return nil
	}
	w.closed = true

	errs := []error{w.flushLocked()}
	for _, sink := range w.sinks {
		if err := sink.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close %s sink: %w", sink.Name(), err))
		}
	}
	return errors.Join(errs...)
}

// Buffered reports how many records have not reached every sink.
func (w *Writer) Buffered() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.buf)
}

// Flushed reports how many records every sink has accepted.
func (w *Writer) Flushed() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.flushed
}
