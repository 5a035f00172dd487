package assets_test

import (
	"os"
	"testing"

	"github.com/coder/monacoharness/assets"
	"github.com/stretchr/testify/require"
)

func TestMaterialize(t *testing.T) {
	t.Parallel()

	dir := t.TempDir() + "/nested/src"
	files, err := assets.Materialize(dir)
	require.NoError(t, err)

	for _, path := range []string{files.Index, files.Icon, files.Bootstrap, files.Shim} {
		got, err := os.ReadFile(path)
		require.NoError(t, err, path)
		require.NotEmpty(t, got, path)
	}

	bootstrap, err := os.ReadFile(files.Bootstrap)
	require.NoError(t, err)
	require.Contains(t, string(bootstrap), assets.WorkerAliasesDefine)
	require.Contains(t, string(bootstrap), "Object.assign(window, { ed, monaco })")

	index, err := assets.ReadFile("index.html")
	require.NoError(t, err)
	require.Contains(t, string(index), `<div id="editor">`)
	require.Contains(t, string(index), `/setup.js`)

	// Materializing again overwrites in place.
	_, err = assets.Materialize(dir)
	require.NoError(t, err)
}
