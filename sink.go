package mvkv

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
	"sync/atomic"
)

// Sink is the durable destination of log records. Write may return before
// the bytes are durable; Flush returns once everything written before it
// is. After a failure a Sink keeps returning that failure.
type Sink interface {
	Write(ctx context.Context, p []byte) error
	Flush(ctx context.Context) error
	Close() error
}

// MemorySink keeps records in memory.
type MemorySink struct {
	mu     sync.Mutex
	buf    bytes.Buffer
	closed bool
}

func (s *MemorySink) Write(ctx context.Context, p []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrSinkClosed
	}
	s.buf.Write(p)
	return nil
}

func (s *MemorySink) Flush(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrSinkClosed
	}
	return nil
}

func (s *MemorySink) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}

// Bytes returns a copy of everything written.
func (s *MemorySink) Bytes() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]byte(nil), s.buf.Bytes()...)
}

// SyncMode determines when a BufferedSink forces data to stable storage.
type SyncMode int

const (
	// SyncNone flushes the buffer on Flush but never fsyncs.
	SyncNone SyncMode = iota
	// SyncBatch flushes and fsyncs on Flush, and flushes whenever the
	// queue drains.
	SyncBatch
	// SyncAlways flushes and fsyncs after every write.
	SyncAlways
)

func (m SyncMode) String() string {
	switch m {
	case SyncNone:
		return "none"
	case SyncBatch:
		return "batch"
	case SyncAlways:
		return "always"
	}
	return fmt.Sprintf("SyncMode(%d)", int(m))
}

// ParseSyncMode parses "none", "batch" or "always".
func ParseSyncMode(s string) (SyncMode, error) {
	switch strings.ToLower(s) {
	case "none":
		return SyncNone, nil
	case "", "batch":
		return SyncBatch, nil
	case "always":
		return SyncAlways, nil
	}
	return SyncBatch, fmt.Errorf("%w: sync mode %q", ErrInvalidArgument, s)
}

type syncer interface {
	Sync() error
}

const (
	requestPending int32 = iota
	requestRunning
	requestCancelled
)

type sinkRequest struct {
	data  []byte
	flush bool
	state atomic.Int32
	done  chan error
}

// BufferedSink writes records through a buffer drained by one background
// goroutine. Writes return once queued. The first I/O error poisons the
// sink: it is returned by every later call, including Close.
type BufferedSink struct {
	w      io.WriteCloser
	buf    *bufio.Writer
	mode   SyncMode
	logger *slog.Logger

	// mu orders enqueueing against Close closing the queue.
	mu       sync.RWMutex
	closed   bool
	requests chan *sinkRequest
	stopped  chan struct{}

	errMu sync.Mutex
	err   error
}

// BufferedSinkOptions configures a BufferedSink.
type BufferedSinkOptions struct {
	Mode       SyncMode
	BufferSize int
	QueueSize  int
	Logger     *slog.Logger
}

// NewBufferedSink starts a BufferedSink over w. If w has a Sync method it
// is used to make flushed data durable.
func NewBufferedSink(w io.WriteCloser, opts BufferedSinkOptions) *BufferedSink {
	if opts.BufferSize <= 0 {
		opts.BufferSize = 64 * 1024
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = 64
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	s := &BufferedSink{
		w:        w,
		buf:      bufio.NewWriterSize(w, opts.BufferSize),
		mode:     opts.Mode,
		logger:   opts.Logger.With("component", "sink"),
		requests: make(chan *sinkRequest, opts.QueueSize),
		stopped:  make(chan struct{}),
	}
	go s.run()
	return s
}

// OpenFileSink opens (or creates) the file at path for appending and wraps
// it in a BufferedSink.
func OpenFileSink(path string, opts BufferedSinkOptions) (*BufferedSink, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open log file: %w", err)
	}
	return NewBufferedSink(f, opts), nil
}

func (s *BufferedSink) failure() error {
	s.errMu.Lock()
	defer s.errMu.Unlock()
	return s.err
}

func (s *BufferedSink) poison(err error) error {
	s.errMu.Lock()
	defer s.errMu.Unlock()
	if s.err == nil {
		s.err = fmt.Errorf("sink failed: %w", err)
		s.logger.Error("sink poisoned", "error", err)
	}
	return s.err
}

func (s *BufferedSink) enqueue(ctx context.Context, req *sinkRequest) error {
	if err := s.failure(); err != nil {
		return err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrSinkClosed
	}
	select {
	case s.requests <- req:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Write queues a copy of p.
func (s *BufferedSink) Write(ctx context.Context, p []byte) error {
	return s.enqueue(ctx, &sinkRequest{data: append([]byte(nil), p...)})
}

// Flush waits until everything queued before it has been written (and,
// unless the mode is SyncNone, synced). Cancelling ctx abandons the flush
// only if the background writer has not started it yet.
func (s *BufferedSink) Flush(ctx context.Context) error {
	req := &sinkRequest{flush: true, done: make(chan error, 1)}
	if err := s.enqueue(ctx, req); err != nil {
		return err
	}
	select {
	case err := <-req.done:
		return err
	case <-ctx.Done():
		if req.state.CompareAndSwap(requestPending, requestCancelled) {
			return ctx.Err()
		}
		return <-req.done
	}
}

// Close drains the queue, flushes, syncs and closes the underlying writer.
func (s *BufferedSink) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		if err := s.failure(); err != nil {
			return err
		}
		return ErrSinkClosed
	}
	s.closed = true
	close(s.requests)
	s.mu.Unlock()
	<-s.stopped

	if s.failure() == nil {
		if err := s.sync(); err != nil {
			s.poison(err)
		}
	}
	if err := s.w.Close(); err != nil && s.failure() == nil {
		s.poison(err)
	}
	return s.failure()
}

func (s *BufferedSink) run() {
	defer close(s.stopped)
	for req := range s.requests {
		if req.flush {
			if !req.state.CompareAndSwap(requestPending, requestRunning) {
				continue
			}
			req.done <- s.flush()
			continue
		}
		if s.failure() != nil {
			continue
		}
		if _, err := s.buf.Write(req.data); err != nil {
			s.poison(err)
			continue
		}
		switch {
		case s.mode == SyncAlways:
			if err := s.sync(); err != nil {
				s.poison(err)
			}
		case s.mode == SyncBatch && len(s.requests) == 0:
			if err := s.buf.Flush(); err != nil {
				s.poison(err)
			}
		}
	}
}

func (s *BufferedSink) flush() error {
	if err := s.failure(); err != nil {
		return err
	}
	var err error
	if s.mode == SyncNone {
		err = s.buf.Flush()
	} else {
		err = s.sync()
	}
	if err != nil {
		return s.poison(err)
	}
	return nil
}

func (s *BufferedSink) sync() error {
	if err := s.buf.Flush(); err != nil {
		return err
	}
	if f, ok := s.w.(syncer); ok {
		return f.Sync()
	}
	return nil
}
