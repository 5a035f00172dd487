// Package monacoharness bundles the Monaco editor together with a test suite's
// setup scripts and serves the result for browser automation.
package monacoharness

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"net"
	"net/http"
	"path/filepath"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"cdr.dev/slog"
	"github.com/coder/monacoharness/assets"
	"github.com/coder/monacoharness/bundle"
	"github.com/coder/monacoharness/metrics"
	"github.com/coder/monacoharness/tracing"
	"github.com/hashicorp/go-multierror"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Server serves a compiled editor page. It is an [http.Handler] which is also
// bound to a loopback listener of its own.
//
// Server is safe for concurrent use.
type Server struct {
	mux     *http.ServeMux
	logger  slog.Logger
	metrics *metrics.Metrics

	builder  *bundle.Builder
	reload   *liveReload
	cacheDir string
	mode     bundle.Mode

	httpSrv  *http.Server
	listener net.Listener
	url      string
	serveErr chan error

	inflightReqs atomic.Int32
	inflightWG   sync.WaitGroup // For graceful shutdown.

	inflightCtx    context.Context
	inflightCancel func()

	shutdownOnce sync.Once
	closed       chan struct{}
}

var _ http.Handler = &Server{}

// CreateServer compiles the editor, the language workers, and the given entry
// points, then serves them on 127.0.0.1. The returned server is already
// accepting connections.
//
// The setup entry point is mandatory; without it [ErrMissingSetup] is returned
// before the cache directory is touched or a port is bound. Any failure to
// prepare the cache directory wraps [ErrCacheDir]. Compilation errors are
// returned as a *[BuildError].
func CreateServer(ctx context.Context, entryPoints EntryPoints, opts Options) (_ *Server, outErr error) {
	tracer := tracing.TracerOrNoop(opts.Tracer)
	ctx, span := tracer.Start(ctx, "CreateServer", trace.WithAttributes(
		attribute.String(tracing.BuildMode, string(opts.mode())),
	))
	defer tracing.EndSpanErr(span, &outErr)

	if err := entryPoints.Validate(); err != nil {
		return nil, err
	}
	mode := opts.mode()
	if mode != bundle.ModeOneShot && mode != bundle.ModeDev {
		return nil, fmt.Errorf("unknown build mode %q", mode)
	}
	logger := opts.Logger

	cacheDir, err := bundle.CacheDir(opts.CacheDir, bundle.DefaultCacheName)
	if err != nil {
		return nil, err
	}
	if err := bundle.ResetCacheDir(cacheDir); err != nil {
		return nil, err
	}
	span.SetAttributes(attribute.String(tracing.CacheDir, cacheDir))

	files, err := assets.Materialize(filepath.Join(cacheDir, "src"))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", bundle.ErrCacheDir, err)
	}

	entries, err := bundle.Merge(bundle.Builtins{
		Workers:   opts.catalog().WorkerEntries(),
		Icon:      files.Icon,
		Index:     files.Index,
		Bootstrap: files.Bootstrap,
	}, entryPoints)
	if err != nil {
		return nil, err
	}

	alias := map[string]string{assets.ShimModule: files.Shim}
	maps.Copy(alias, opts.Alias)

	builder, err := bundle.NewBuilder(bundle.Config{
		Mode:        mode,
		EntryPoints: entries,
		Outdir:      filepath.Join(cacheDir, "out"),
		Alias:       alias,
		Define:      map[string]string{assets.WorkerAliasesDefine: opts.workerAliases().JSON()},
		WorkingDir:  opts.WorkingDir,
		NodePaths:   opts.NodePaths,
	}, logger.Named("bundle"), opts.Metrics, tracer)
	if err != nil {
		return nil, err
	}

	reload := newLiveReload(logger.Named("livereload"), opts.Metrics)
	builder.OnBuild(reload.notify)

	if _, err := builder.Start(ctx); err != nil {
		builder.Dispose()
		return nil, err
	}

	ln, err := net.Listen("tcp", net.JoinHostPort("127.0.0.1", strconv.Itoa(opts.Port)))
	if err != nil {
		builder.Dispose()
		return nil, fmt.Errorf("listen: %w", err)
	}

	s := newServer(builder, reload, cacheDir, mode, logger, opts.Metrics)
	s.listener = ln
	s.url = "http://" + ln.Addr().String()
	s.httpSrv = &http.Server{
		Handler:           s,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		err := s.httpSrv.Serve(ln)
		if errors.Is(err, http.ErrServerClosed) {
			err = nil
		}
		s.serveErr <- err
	}()

	span.SetAttributes(attribute.String(tracing.ServerURL, s.url))
	logger.Info(ctx, "serving editor",
		slog.F("url", s.url),
		slog.F("mode", mode),
		slog.F("entries", len(entries)),
		slog.F("cache_dir", cacheDir),
	)
	return s, nil
}

func newServer(builder *bundle.Builder, reload *liveReload, cacheDir string, mode bundle.Mode, logger slog.Logger, m *metrics.Metrics) *Server {
	mux := http.NewServeMux()

	if mode == bundle.ModeDev {
		mux.Handle(routeLiveReload, reload)
	}
	mux.HandleFunc(routeLiveReloadScript, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/javascript; charset=utf-8")
		w.Header().Set("Cache-Control", "no-cache")
		if mode == bundle.ModeDev {
			_, _ = w.Write([]byte(liveReloadScript))
		}
	})

	files := http.FileServer(http.Dir(builder.Config().Outdir))
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if mode == bundle.ModeDev {
			w.Header().Set("Cache-Control", "no-cache")
		}
		files.ServeHTTP(w, r)
	})

	inflightCtx, cancel := context.WithCancel(context.Background())
	return &Server{
		mux:            mux,
		logger:         logger,
		metrics:        m,
		builder:        builder,
		reload:         reload,
		cacheDir:       cacheDir,
		mode:           mode,
		serveErr:       make(chan error, 1),
		inflightCtx:    inflightCtx,
		inflightCancel: cancel,

		closed: make(chan struct{}),
	}
}

// ServeHTTP serves the compiled page and tracks inflight requests.
func (s *Server) ServeHTTP(rw http.ResponseWriter, r *http.Request) {
	select {
	case <-s.closed:
		http.Error(rw, "server closed", http.StatusServiceUnavailable)
		return
	default:
	}

	// We want to abide by the context passed in without losing any of its
	// functionality, but we still want to link our shutdown context to each
	// request.
	ctx := mergeContexts(r.Context(), s.inflightCtx)

	s.inflightReqs.Add(1)
	s.inflightWG.Add(1)
	defer func() {
		s.inflightReqs.Add(-1)
		s.inflightWG.Done()
	}()

	rec := &statusRecorder{ResponseWriter: rw, code: http.StatusOK}
	s.mux.ServeHTTP(rec, r.WithContext(ctx))

	if s.metrics != nil {
		s.metrics.RequestCount.WithLabelValues(routeLabel(r.URL.Path), r.Method, strconv.Itoa(rec.code)).Inc()
	}
}

// URL is the base address of the page, e.g. http://127.0.0.1:41234.
func (s *Server) URL() string {
	return s.url
}

// CacheDir is where sources and output live. It is left in place on
// [Server.Shutdown].
func (s *Server) CacheDir() string {
	return s.cacheDir
}

func (s *Server) Mode() bundle.Mode {
	return s.mode
}

// Rebuild compiles again and notifies connected live-reload clients.
func (s *Server) Rebuild(ctx context.Context) (BuildResult, error) {
	return s.builder.Rebuild(ctx)
}

func (s *Server) InflightRequests() int32 {
	return s.inflightReqs.Load()
}

// Shutdown will attempt to gracefully shutdown. This entails disconnecting
// live-reload clients, waiting for all other requests to complete, disposing of
// the bundler, and closing the listener.
func (s *Server) Shutdown(ctx context.Context) error {
	var err error
	s.shutdownOnce.Do(func() {
		// Prevent any new requests from being accepted.
		close(s.closed)

		// Event streams never finish on their own.
		s.reload.close()

		// Wait for inflight requests to complete or context cancellation.
		done := make(chan struct{})
		go func() {
			s.inflightWG.Wait()
			close(done)
		}()

		select {
		case <-ctx.Done():
			// Cancel all inflight requests, if any are still running.
			s.logger.Debug(ctx, "shutdown context canceled; cancelling inflight requests", slog.Error(ctx.Err()))
			s.inflightCancel()
			<-done
			err = multierror.Append(err, ctx.Err())
		case <-done:
		}
		s.inflightCancel()

		s.builder.Dispose()

		if s.httpSrv != nil {
			if cerr := s.httpSrv.Shutdown(ctx); cerr != nil {
				err = multierror.Append(err, fmt.Errorf("close listener: %w", cerr))
				_ = s.httpSrv.Close()
			}
			if serr := <-s.serveErr; serr != nil {
				err = multierror.Append(err, fmt.Errorf("serve: %w", serr))
			}
		}
	})

	return err
}

// mergeContexts merges two contexts together, so that if either is cancelled
// the returned context is cancelled. The context values will only be used from
// the first context.
func mergeContexts(base, other context.Context) context.Context {
	ctx, cancel := context.WithCancel(base)
	go func() {
		defer cancel()
		select {
		case <-base.Done():
		case <-other.Done():
		}
	}()
	return ctx
}

func routeLabel(path string) string {
	switch path {
	case "/", "/index.html":
		return "index"
	case routeLiveReload:
		return "livereload"
	case routeLiveReloadScript:
		return "livereload_script"
	default:
		return "asset"
	}
}

// statusRecorder captures the response code while keeping event streams
// flushable.
type statusRecorder struct {
	http.ResponseWriter
	code        int
	wroteHeader bool
}

func (r *statusRecorder) WriteHeader(code int) {
	if !r.wroteHeader {
		r.code = code
		r.wroteHeader = true
	}
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Flush() {
	if f, ok := r.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (r *statusRecorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}
