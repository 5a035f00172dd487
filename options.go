package monacoharness

import (
	"cdr.dev/slog"
	"github.com/coder/monacoharness/bundle"
	"github.com/coder/monacoharness/catalog"
	"github.com/coder/monacoharness/metrics"
	"go.opentelemetry.io/otel/trace"
)

// Options configures [CreateServer]. The zero value serves a one-shot build of
// the default language catalog on a free port.
type Options struct {
	// Port to listen on. 0 picks a free port.
	Port int
	// Alias substitutes import specifiers with alternatives across the whole
	// bundle graph. Entries override the built-in "monaco-harness" alias.
	Alias map[string]string
	// Mode defaults to [bundle.ModeOneShot].
	Mode bundle.Mode

	// CacheDir is where sources are materialized and output is written. It is
	// emptied on start. Defaults to a directory under the user cache dir.
	CacheDir   string
	WorkingDir string
	NodePaths  []string

	// Catalog defaults to [catalog.Default]. A non-nil empty catalog compiles no
	// language workers.
	Catalog *catalog.Catalog
	// WorkerAliases are merged over [catalog.DefaultAliases] and injected into
	// the page's worker factory.
	WorkerAliases map[string]string

	Logger  slog.Logger
	Metrics *metrics.Metrics
	Tracer  trace.Tracer
}

func (o Options) mode() bundle.Mode {
	if o.Mode == "" {
		return bundle.ModeOneShot
	}
	return o.Mode
}

func (o Options) catalog() catalog.Catalog {
	if o.Catalog == nil {
		return catalog.Default()
	}
	return *o.Catalog
}

func (o Options) workerAliases() catalog.Aliases {
	return catalog.DefaultAliases().Merge(o.WorkerAliases)
}
