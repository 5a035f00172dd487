package monacoharness

import (
	"context"
	"encoding/json"
	"net/http"
	"slices"
	"sync"

	"cdr.dev/slog"
	"github.com/coder/monacoharness/bundle"
	"github.com/coder/monacoharness/eventstream"
	"github.com/coder/monacoharness/metrics"
)

const (
	routeLiveReload       = "/esbuild"
	routeLiveReloadScript = "/_harness/livereload.js"
)

// liveReloadScript reloads the page whenever a rebuild finishes. It speaks the
// same protocol as esbuild's own serve mode.
const liveReloadScript = `new EventSource('` + routeLiveReload + `').addEventListener('change', () => location.reload());
`

// changeEvent is the payload of a "change" event.
type changeEvent struct {
	Added   []string `json:"added"`
	Removed []string `json:"removed"`
	Updated []string `json:"updated"`
}

// liveReload fans build notifications out to every connected event stream.
type liveReload struct {
	logger  slog.Logger
	metrics *metrics.Metrics

	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	streams map[*eventstream.EventStream]struct{}
	outputs []string
	closed  bool
}

func newLiveReload(logger slog.Logger, m *metrics.Metrics) *liveReload {
	ctx, cancel := context.WithCancel(context.Background())
	return &liveReload{
		logger:  logger,
		metrics: m,
		ctx:     ctx,
		cancel:  cancel,
		streams: make(map[*eventstream.EventStream]struct{}),
	}
}

func (l *liveReload) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	stream := eventstream.NewEventStream(l.ctx, l.logger, eventstream.PingPayload)
	if !l.add(stream) {
		http.Error(w, "server closed", http.StatusServiceUnavailable)
		return
	}
	defer l.remove(stream)

	stream.Start(w, r)
}

func (l *liveReload) add(stream *eventstream.EventStream) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return false
	}
	l.streams[stream] = struct{}{}
	if l.metrics != nil {
		l.metrics.LiveReloadClients.Inc()
	}
	return true
}

func (l *liveReload) remove(stream *eventstream.EventStream) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.streams[stream]; !ok {
		return
	}
	delete(l.streams, stream)
	if l.metrics != nil {
		l.metrics.LiveReloadClients.Dec()
	}
}

// clients returns the number of connected streams.
func (l *liveReload) clients() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.streams)
}

// notify is called from the builder, possibly on a bundler goroutine. Builds
// with errors do not reload the page.
func (l *liveReload) notify(res bundle.Result) {
	if len(res.Errors) > 0 {
		return
	}

	l.mu.Lock()
	ev := diffOutputs(l.outputs, res.Outputs)
	l.outputs = slices.Clone(res.Outputs)
	streams := make([]*eventstream.EventStream, 0, len(l.streams))
	for s := range l.streams {
		streams = append(streams, s)
	}
	l.mu.Unlock()

	if len(streams) == 0 {
		return
	}

	data, err := json.Marshal(ev)
	if err != nil {
		l.logger.Warn(l.ctx, "failed to encode change event", slog.Error(err))
		return
	}
	payload := eventstream.Encode("change", string(data))
	for _, s := range streams {
		if err := s.Send(l.ctx, payload); err != nil {
			l.logger.Debug(l.ctx, "failed to send change event", slog.Error(err))
		}
	}
}

// close disconnects every stream and rejects new ones.
func (l *liveReload) close() {
	l.mu.Lock()
	l.closed = true
	l.mu.Unlock()
	l.cancel()
}

func diffOutputs(before, after []string) changeEvent {
	ev := changeEvent{Added: []string{}, Removed: []string{}, Updated: []string{}}
	for _, out := range after {
		if slices.Contains(before, out) {
			ev.Updated = append(ev.Updated, "/"+out)
		} else {
			ev.Added = append(ev.Added, "/"+out)
		}
	}
	for _, out := range before {
		if !slices.Contains(after, out) {
			ev.Removed = append(ev.Removed, "/"+out)
		}
	}
	return ev
}
