// Package eventstream writes Server-Sent Events to a single HTTP client.
package eventstream

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"sync"
	"syscall"
	"time"

	"cdr.dev/slog"
	"github.com/coder/quartz"
)

var ErrEventStreamClosed = errors.New("event stream closed")

// PingInterval is how long a stream may stay idle before a ping is written.
const PingInterval = time.Second * 10

// PingPayload is an SSE comment; clients ignore it but it keeps idle
// connections from being reaped by intermediaries.
var PingPayload = []byte(": ping\n\n")

type EventStream struct {
	ctx    context.Context
	logger slog.Logger

	pingPayload []byte
	clock       quartz.Clock

	shutdownOnce sync.Once
	// mu guards closed so that Send never writes to a closed eventsCh.
	mu       sync.RWMutex
	closed   bool
	eventsCh chan []byte

	// readyCh is closed once headers have been flushed to the client.
	readyCh chan struct{}
	// doneCh is closed when the start loop exits.
	doneCh chan struct{}
}

type Option func(*EventStream)

// WithClock replaces the clock driving pings.
func WithClock(clk quartz.Clock) Option {
	return func(s *EventStream) {
		s.clock = clk
	}
}

// NewEventStream creates a new SSE stream, with an optional payload which is used to send pings every [PingInterval].
func NewEventStream(ctx context.Context, logger slog.Logger, pingPayload []byte, opts ...Option) *EventStream {
	s := &EventStream{
		ctx:    ctx,
		logger: logger,

		pingPayload: pingPayload,
		clock:       quartz.NewReal(),

		eventsCh: make(chan []byte, 16), // Small buffer to unblock senders; once full, senders will block.
		readyCh:  make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Encode formats a single named event. Multi-line data is split across
// several data fields as the SSE format requires.
func Encode(name, data string) []byte {
	var sb strings.Builder
	if name != "" {
		fmt.Fprintf(&sb, "event: %s\n", name)
	}
	for _, line := range strings.Split(data, "\n") {
		fmt.Fprintf(&sb, "data: %s\n", line)
	}
	sb.WriteString("\n")
	return []byte(sb.String())
}

// Start handles sending Server-Sent Events to the client. Headers are sent
// immediately so that the client's connection opens before the first event.
// Start blocks until the request ends, the stream's context ends, or the
// stream is shut down.
func (s *EventStream) Start(w http.ResponseWriter, r *http.Request) {
	// Signal completion on exit so senders don't block indefinitely after closure.
	defer close(s.doneCh)

	ctx := r.Context()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	if err := flush(w); err != nil {
		s.logger.Warn(ctx, "failed to initiate stream", slog.Error(err))
		return
	}

	// The ticker exists before Ready fires.
	tick := s.clock.NewTicker(PingInterval)
	defer tick.Stop()
	close(s.readyCh)

	for {
		var ev []byte

		select {
		case <-s.ctx.Done():
			return
		case <-ctx.Done():
			s.logger.Debug(ctx, "request context canceled", slog.Error(ctx.Err()))
			return
		case payload, open := <-s.eventsCh: // Once closed, the buffered channel will drain all buffered values before showing as closed.
			if !open {
				s.logger.Debug(ctx, "events channel closed")
				return
			}
			ev = payload
		case <-tick.C:
			ev = s.pingPayload
			if ev == nil {
				continue
			}
		}

		if _, err := w.Write(ev); err != nil {
			if IsConnError(err) {
				s.logger.Debug(ctx, "client disconnected during SSE write", slog.Error(err))
			} else {
				s.logger.Warn(ctx, "failed to write SSE event", slog.Error(err))
			}
			return
		}
		if err := flush(w); err != nil {
			s.logger.Warn(ctx, "failed to flush", slog.Error(err))
			return
		}

		// Reset the timer once we've flushed some data to the stream, since it's already fresh.
		// No need to ping in that case.
		tick.Reset(PingInterval)
	}
}

// Ready is closed once the client has received the stream headers.
func (s *EventStream) Ready() <-chan struct{} {
	return s.readyCh
}

// Done is closed once [EventStream.Start] has returned.
func (s *EventStream) Done() <-chan struct{} {
	return s.doneCh
}

// Send enqueues an event; it only blocks when the buffer is full.
func (s *EventStream) Send(ctx context.Context, payload []byte) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrEventStreamClosed
	}
	select {
	case <-s.doneCh:
		return ErrEventStreamClosed
	default:
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-s.ctx.Done():
		return s.ctx.Err()
	case <-s.doneCh:
		return ErrEventStreamClosed
	case s.eventsCh <- payload:
		return nil
	}
}

// Shutdown gracefully shuts down the stream after flushing buffered events.
// Sends racing with Shutdown fail with [ErrEventStreamClosed].
func (s *EventStream) Shutdown(shutdownCtx context.Context) error {
	s.shutdownOnce.Do(func() {
		s.logger.Debug(shutdownCtx, "shutdown initiated", slog.F("outstanding_events", len(s.eventsCh)))

		s.mu.Lock()
		s.closed = true
		// The Start() loop will exit after draining remaining events.
		close(s.eventsCh)
		s.mu.Unlock()
	})

	select {
	case <-shutdownCtx.Done():
		return fmt.Errorf("shutdown ended prematurely with %d outstanding events: %w", len(s.eventsCh), shutdownCtx.Err())
	case <-s.ctx.Done():
		return fmt.Errorf("shutdown ended prematurely with %d outstanding events: %w", len(s.eventsCh), s.ctx.Err())
	case <-s.doneCh:
		return nil
	}
}

// IsConnError checks if an error is related to client disconnection or context cancellation.
func IsConnError(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, io.EOF) {
		return true
	}

	if errors.Is(err, syscall.ECONNRESET) || errors.Is(err, syscall.EPIPE) || errors.Is(err, net.ErrClosed) {
		return true
	}

	errStr := err.Error()
	return strings.Contains(errStr, "broken pipe") ||
		strings.Contains(errStr, "connection reset by peer")
}

func flush(w http.ResponseWriter) (err error) {
	flusher, ok := w.(http.Flusher)
	if !ok || flusher == nil {
		return errors.New("SSE not supported")
	}

	defer func() {
		if r := recover(); r != nil {
			// Likely a broken connection, don't spam the logs.
			err = fmt.Errorf("flush: %v", r)
		}
	}()

	flusher.Flush()
	return nil
}
