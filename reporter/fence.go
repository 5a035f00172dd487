package reporter

import (
	"context"
	"regexp"
	"sync"
	"sync/atomic"

	"cdr.dev/slog"
)

// Worker computes reports in a separate execution context holding mirrors of
// documents.
type Worker interface {
	// Sync mirrors content into the worker.
	Sync(ctx context.Context, uri, value string, version int) error
	Validate(ctx context.Context, uri string) ([]Report, error)
}

// PatternWorker is the Go rendition of the reporter worker.
type PatternWorker struct {
	re *regexp.Regexp

	mu      sync.Mutex
	mirrors map[string]string
}

var _ Worker = &PatternWorker{}

// NewPatternWorker rebuilds p on the worker side.
func NewPatternWorker(p Pattern) (*PatternWorker, error) {
	re, err := p.Compile()
	if err != nil {
		return nil, err
	}
	return &PatternWorker{re: re, mirrors: make(map[string]string)}, nil
}

func (w *PatternWorker) Sync(_ context.Context, uri, value string, _ int) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.mirrors[uri] = value
	return nil
}

// Validate reports nothing for documents which were never synced.
func (w *PatternWorker) Validate(_ context.Context, uri string) ([]Report, error) {
	w.mu.Lock()
	value, ok := w.mirrors[uri]
	w.mu.Unlock()
	if !ok {
		return nil, nil
	}
	return Scan(w.re, value), nil
}

// Reporter keeps markers of watched documents current. Every edit starts a
// computation; computations may overlap and finish in any order. A result is
// published only if its document has not been edited since the computation
// started; anything else is dropped, since the newer edit has its own
// computation.
type Reporter struct {
	worker Worker
	sink   MarkerSink
	logger slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.Mutex
	closed  bool
	watched map[string]func()

	published atomic.Int64
	stale     atomic.Int64
}

func New(worker Worker, sink MarkerSink, logger slog.Logger) *Reporter {
	ctx, cancel := context.WithCancel(context.Background())
	return &Reporter{
		worker:  worker,
		sink:    sink,
		logger:  logger,
		ctx:     ctx,
		cancel:  cancel,
		watched: make(map[string]func()),
	}
}

// Watch starts reporting on docs. Documents already watched are skipped.
func (r *Reporter) Watch(docs ...Document) {
	for _, doc := range docs {
		r.mu.Lock()
		if r.closed {
			r.mu.Unlock()
			return
		}
		if _, ok := r.watched[doc.URI()]; ok {
			r.mu.Unlock()
			continue
		}
		r.watched[doc.URI()] = doc.OnChange(func() { r.compute(doc) })
		r.mu.Unlock()

		r.compute(doc)
	}
}

func (r *Reporter) compute(doc Document) {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.wg.Add(1)
	r.mu.Unlock()

	value, version := doc.Snapshot()
	go func() {
		defer r.wg.Done()

		uri := doc.URI()
		if err := r.worker.Sync(r.ctx, uri, value, version); err != nil {
			r.logger.Warn(r.ctx, "failed to sync document", slog.F("uri", uri), slog.Error(err))
			return
		}
		reports, err := r.worker.Validate(r.ctx, uri)
		if err != nil {
			r.logger.Warn(r.ctx, "failed to validate document", slog.F("uri", uri), slog.Error(err))
			return
		}

		ok := doc.AtVersion(version, func(current string) {
			r.sink.SetModelMarkers(uri, Owner, ToMarkers(uri, current, reports))
		})
		if !ok {
			r.stale.Add(1)
			r.logger.Debug(r.ctx, "discarded stale reports", slog.F("uri", uri), slog.F("version", version))
			return
		}
		r.published.Add(1)
	}()
}

// Published counts results which reached the sink.
func (r *Reporter) Published() int64 {
	return r.published.Load()
}

// Stale counts results dropped because their document changed.
func (r *Reporter) Stale() int64 {
	return r.stale.Load()
}

// Close stops watching and waits for in-flight computations.
func (r *Reporter) Close() {
	r.mu.Lock()
	r.closed = true
	unsubs := make([]func(), 0, len(r.watched))
	for _, unsub := range r.watched {
		unsubs = append(unsubs, unsub)
	}
	r.watched = map[string]func(){}
	r.mu.Unlock()

	for _, unsub := range unsubs {
		unsub()
	}
	r.cancel()
	r.wg.Wait()
}
