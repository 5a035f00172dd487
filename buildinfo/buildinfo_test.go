package buildinfo

import (
	"runtime/debug"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBuildInfo(t *testing.T) {
	t.Parallel()

	t.Run("Version", func(t *testing.T) {
		t.Parallel()
		assert.NotEmpty(t, Version())
	})

	t.Run("main module", func(t *testing.T) {
		t.Parallel()
		info := &debug.BuildInfo{Main: debug.Module{Path: modulePath, Version: "v1.2.3"}}
		assert.Equal(t, "v1.2.3", versionFrom(info))
	})

	t.Run("devel main module", func(t *testing.T) {
		t.Parallel()
		info := &debug.BuildInfo{Main: debug.Module{Path: modulePath, Version: "(devel)"}}
		assert.Equal(t, "", versionFrom(info))
	})

	t.Run("dependency", func(t *testing.T) {
		t.Parallel()
		info := &debug.BuildInfo{
			Main: debug.Module{Path: "example.com/e2e"},
			Deps: []*debug.Module{
				{Path: "github.com/evanw/esbuild", Version: "v0.25.9"},
				{Path: modulePath, Version: "v0.4.0"},
			},
		}
		assert.Equal(t, "v0.4.0", versionFrom(info))
	})

	t.Run("replaced dependency", func(t *testing.T) {
		t.Parallel()
		info := &debug.BuildInfo{
			Main: debug.Module{Path: "example.com/e2e"},
			Deps: []*debug.Module{
				{Path: modulePath, Version: "v0.4.0", Replace: &debug.Module{Path: "../monacoharness", Version: "v0.4.1"}},
			},
		}
		assert.Equal(t, "v0.4.1", versionFrom(info))
	})
}
