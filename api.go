package monacoharness

import (
	"github.com/coder/monacoharness/bundle"
	"github.com/coder/monacoharness/metrics"
	"github.com/prometheus/client_golang/prometheus"
)

// Type + function aliases so that most callers only need this package.
type (
	EntryPoints = bundle.EntryPoints
	Mode        = bundle.Mode
	BuildError  = bundle.BuildError
	BuildResult = bundle.Result

	Metrics = metrics.Metrics
)

const (
	ModeOneShot = bundle.ModeOneShot
	ModeDev     = bundle.ModeDev
)

var (
	ErrMissingSetup = bundle.ErrMissingSetup
	ErrCacheDir     = bundle.ErrCacheDir
)

// Setup returns entry points containing only the given setup script.
func Setup(path string) EntryPoints {
	return bundle.Setup(path)
}

func NewMetrics(reg prometheus.Registerer) *metrics.Metrics {
	return metrics.NewMetrics(reg)
}
