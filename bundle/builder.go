package bundle

import (
	"context"
	"fmt"
	"maps"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"cdr.dev/slog"
	"github.com/coder/monacoharness/metrics"
	"github.com/coder/monacoharness/tracing"
	"github.com/evanw/esbuild/pkg/api"
	"github.com/tidwall/gjson"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Mode selects how a [Builder] compiles.
type Mode string

const (
	// ModeOneShot compiles everything once per build with no incremental state.
	ModeOneShot Mode = "oneshot"
	// ModeDev keeps an incremental build context alive and rebuilds whenever a
	// source file changes.
	ModeDev Mode = "dev"
)

// Config describes a build.
type Config struct {
	Mode        Mode
	EntryPoints EntryPoints
	// Outdir receives one compiled artifact per entry point.
	Outdir string
	// Alias redirects import specifiers across the whole bundle graph.
	Alias map[string]string
	// Define replaces global identifiers with JSON values.
	Define map[string]string
	// WorkingDir is where relative entry points are resolved from. Defaults to
	// the process working directory.
	WorkingDir string
	// NodePaths are additional package lookup directories. Defaults to the
	// node_modules directory of WorkingDir.
	NodePaths []string
}

// Result summarizes a finished build.
type Result struct {
	// Outputs are the output files relative to Outdir, sorted.
	Outputs  []string
	Warnings []string
	Errors   []string
	Duration time.Duration
}

// BuildError is returned when a build produced errors.
type BuildError struct {
	Messages []string
}

func (e *BuildError) Error() string {
	return fmt.Sprintf("build failed with %d error(s):\n%s", len(e.Messages), strings.Join(e.Messages, "\n"))
}

// Builder compiles an entry point set with esbuild. It is safe for concurrent
// use.
type Builder struct {
	cfg     Config
	opts    api.BuildOptions
	logger  slog.Logger
	metrics *metrics.Metrics
	tracer  trace.Tracer

	mu        sync.Mutex
	buildCtx  api.BuildContext
	listeners []func(Result)
	started   time.Time
	disposed  bool
}

// NewBuilder prepares a builder. Nothing is compiled until [Builder.Start].
func NewBuilder(cfg Config, logger slog.Logger, m *metrics.Metrics, tracer trace.Tracer) (*Builder, error) {
	if cfg.Mode == "" {
		cfg.Mode = ModeOneShot
	}
	if cfg.Mode != ModeOneShot && cfg.Mode != ModeDev {
		return nil, fmt.Errorf("unknown build mode %q", cfg.Mode)
	}
	if err := cfg.EntryPoints.Validate(); err != nil {
		return nil, err
	}
	if cfg.Outdir == "" {
		return nil, fmt.Errorf("build output directory is required")
	}

	wd := cfg.WorkingDir
	if wd == "" {
		wd = "."
	}
	wd, err := filepath.Abs(wd)
	if err != nil {
		return nil, fmt.Errorf("resolve working directory: %w", err)
	}
	cfg.WorkingDir = wd
	if len(cfg.NodePaths) == 0 {
		cfg.NodePaths = []string{filepath.Join(wd, "node_modules")}
	}

	b := &Builder{
		cfg:     cfg,
		logger:  logger,
		metrics: m,
		tracer:  tracing.TracerOrNoop(tracer),
	}
	b.opts = b.buildOptions()
	return b, nil
}

func (b *Builder) buildOptions() api.BuildOptions {
	entries := make([]api.EntryPoint, 0, len(b.cfg.EntryPoints))
	for _, name := range b.cfg.EntryPoints.Names() {
		entries = append(entries, api.EntryPoint{
			InputPath:  b.cfg.EntryPoints[name],
			OutputPath: name,
		})
	}

	return api.BuildOptions{
		EntryPointsAdvanced: entries,
		AbsWorkingDir:       b.cfg.WorkingDir,
		NodePaths:           b.cfg.NodePaths,
		Outdir:              b.cfg.Outdir,
		Write:               true,
		Bundle:              true,
		Metafile:            true,
		Conditions:          []string{"worker"},
		Format:              api.FormatIIFE,
		Platform:            api.PlatformBrowser,
		Alias:               maps.Clone(b.cfg.Alias),
		Define:              maps.Clone(b.cfg.Define),
		LogLevel:            api.LogLevelSilent,
		Loader: map[string]api.Loader{
			".html": api.LoaderCopy,
			".svg":  api.LoaderCopy,
			".ttf":  api.LoaderFile,
		},
		Plugins: []api.Plugin{b.reportPlugin()},
	}
}

// reportPlugin observes every build, including those started by the watcher,
// and fans results out to listeners.
func (b *Builder) reportPlugin() api.Plugin {
	return api.Plugin{
		Name: "monacoharness-report",
		Setup: func(build api.PluginBuild) {
			build.OnStart(func() (api.OnStartResult, error) {
				b.mu.Lock()
				b.started = time.Now()
				b.mu.Unlock()
				return api.OnStartResult{}, nil
			})
			build.OnEnd(func(result *api.BuildResult) (api.OnEndResult, error) {
				b.mu.Lock()
				res := b.summarize(result, time.Since(b.started))
				listeners := slices.Clone(b.listeners)
				b.mu.Unlock()

				b.record(res)
				for _, fn := range listeners {
					fn(res)
				}
				return api.OnEndResult{}, nil
			})
		},
	}
}

func (b *Builder) summarize(result *api.BuildResult, took time.Duration) Result {
	res := Result{
		Errors:   api.FormatMessages(result.Errors, api.FormatMessagesOptions{Kind: api.ErrorMessage}),
		Warnings: api.FormatMessages(result.Warnings, api.FormatMessagesOptions{Kind: api.WarningMessage}),
		Duration: took,
	}

	gjson.Get(result.Metafile, "outputs").ForEach(func(key, _ gjson.Result) bool {
		abs := key.String()
		if !filepath.IsAbs(abs) {
			abs = filepath.Join(b.cfg.WorkingDir, abs)
		}
		if rel, err := filepath.Rel(b.cfg.Outdir, abs); err == nil {
			res.Outputs = append(res.Outputs, filepath.ToSlash(rel))
		}
		return true
	})
	slices.Sort(res.Outputs)
	return res
}

func (b *Builder) record(res Result) {
	ctx := context.Background()
	status := metrics.StatusCompleted
	if len(res.Errors) > 0 {
		status = metrics.StatusFailed
	}
	if b.metrics != nil {
		b.metrics.BuildCount.WithLabelValues(string(b.cfg.Mode), status).Inc()
		b.metrics.BuildDuration.WithLabelValues(string(b.cfg.Mode)).Observe(res.Duration.Seconds())
	}

	for _, msg := range res.Warnings {
		b.logger.Warn(ctx, "build warning", slog.F("message", msg))
	}
	for _, msg := range res.Errors {
		b.logger.Error(ctx, "build error", slog.F("message", msg))
	}
	b.logger.Debug(ctx, "build finished",
		slog.F("mode", b.cfg.Mode),
		slog.F("outputs", len(res.Outputs)),
		slog.F("errors", len(res.Errors)),
		slog.F("duration", res.Duration),
	)
}

// OnBuild registers fn to be called after every build, including rebuilds
// triggered by file changes in [ModeDev].
func (b *Builder) OnBuild(fn func(Result)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.listeners = append(b.listeners, fn)
}

// Config returns the effective configuration.
func (b *Builder) Config() Config {
	return b.cfg
}

// Start runs the initial build. In [ModeDev] it also begins watching the
// sources of every entry point. A build with errors is returned as a
// *[BuildError].
func (b *Builder) Start(ctx context.Context) (_ Result, outErr error) {
	ctx, span := b.tracer.Start(ctx, "Bundle.Start", trace.WithAttributes(
		attribute.String(tracing.BuildMode, string(b.cfg.Mode)),
		attribute.Int(tracing.BuildEntryCount, len(b.cfg.EntryPoints)),
	))
	defer tracing.EndSpanErr(span, &outErr)

	if b.cfg.Mode == ModeOneShot {
		return b.Rebuild(ctx)
	}

	b.mu.Lock()
	if b.disposed {
		b.mu.Unlock()
		return Result{}, fmt.Errorf("builder disposed")
	}
	if b.buildCtx == nil {
		buildCtx, ctxErr := api.Context(b.opts)
		if ctxErr != nil {
			b.mu.Unlock()
			return Result{}, &BuildError{Messages: api.FormatMessages(ctxErr.Errors, api.FormatMessagesOptions{Kind: api.ErrorMessage})}
		}
		b.buildCtx = buildCtx
	}
	b.mu.Unlock()

	res, err := b.Rebuild(ctx)
	if err != nil {
		return res, err
	}

	if err := b.buildCtx.Watch(api.WatchOptions{}); err != nil {
		return res, fmt.Errorf("watch sources: %w", err)
	}
	b.logger.Info(ctx, "watching sources for changes", slog.F("entries", len(b.cfg.EntryPoints)))
	return res, nil
}

// Rebuild compiles again. In [ModeOneShot] this is a full build; in [ModeDev]
// it reuses the incremental context.
func (b *Builder) Rebuild(ctx context.Context) (_ Result, outErr error) {
	_, span := b.tracer.Start(ctx, "Bundle.Rebuild", trace.WithAttributes(
		attribute.String(tracing.BuildMode, string(b.cfg.Mode)),
	))
	defer tracing.EndSpanErr(span, &outErr)

	b.mu.Lock()
	disposed, buildCtx := b.disposed, b.buildCtx
	b.mu.Unlock()
	if disposed {
		return Result{}, fmt.Errorf("builder disposed")
	}

	var result api.BuildResult
	if buildCtx != nil {
		result = buildCtx.Rebuild()
	} else {
		result = api.Build(b.opts)
	}

	b.mu.Lock()
	res := b.summarize(&result, time.Since(b.started))
	b.mu.Unlock()

	span.SetAttributes(
		attribute.Int(tracing.BuildErrors, len(res.Errors)),
		attribute.Int(tracing.BuildWarnings, len(res.Warnings)),
	)
	if len(res.Errors) > 0 {
		return res, &BuildError{Messages: res.Errors}
	}
	return res, nil
}

// Dispose stops watching and releases the incremental build context. It is
// safe to call more than once.
func (b *Builder) Dispose() {
	b.mu.Lock()
	buildCtx := b.buildCtx
	b.buildCtx = nil
	b.disposed = true
	b.mu.Unlock()

	if buildCtx != nil {
		buildCtx.Dispose()
	}
}
