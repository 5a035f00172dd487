package testutil_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/coder/monacoharness/remote"
	"github.com/coder/monacoharness/testutil"
)

const gatePreload = `let open
globalThis.gate = new Promise((resolve) => {
  open = resolve
})
globalThis.openGate = (value) => open(value)
globalThis.ed = { id: 'editor' }
globalThis.monaco = { version: 'stub' }
`

func TestNodePage(t *testing.T) {
	t.Parallel()

	preload := filepath.Join(t.TempDir(), "gate.mjs")
	require.NoError(t, os.WriteFile(preload, []byte(gatePreload), 0o644))
	page := testutil.NewNodePage(t, preload)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	t.Run("Values", func(t *testing.T) {
		raw, err := page.Evaluate(ctx, "1 + 1")
		require.NoError(t, err)
		require.JSONEq(t, "2", string(raw))

		raw, err = page.Evaluate(ctx, "undefined")
		require.NoError(t, err)
		require.JSONEq(t, "null", string(raw))

		_, err = page.Evaluate(ctx, "(() => { throw new Error('boom') })()")
		require.ErrorContains(t, err, "boom")
	})

	t.Run("Concurrent", func(t *testing.T) {
		done := make(chan string, 1)
		go func() {
			raw, err := page.Evaluate(ctx, "gate")
			if err != nil {
				done <- err.Error()
				return
			}
			done <- string(raw)
		}()

		require.Never(t, func() bool { return len(done) > 0 }, 100*time.Millisecond, 10*time.Millisecond)
		page.MustEvaluate(t, "openGate(5)", nil)
		select {
		case got := <-done:
			require.Equal(t, "5", got)
		case <-ctx.Done():
			t.Fatal("gate never settled")
		}
	})

	t.Run("Cancelled", func(t *testing.T) {
		short, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
		defer cancel()
		_, err := page.Evaluate(short, "new Promise(() => {})")
		require.ErrorIs(t, err, context.DeadlineExceeded)
	})

	t.Run("Handle", func(t *testing.T) {
		h := remote.NewHandle(page, remote.DefaultGlobals)

		var got struct {
			Editor string `json:"editor"`
			Module string `json:"module"`
			Double int    `json:"double"`
		}
		err := h.Evaluate(ctx, `async ({ ed, monaco }, { n }) => ({ editor: ed.id, module: monaco.version, double: n * 2 })`, map[string]int{"n": 21}, &got)
		require.NoError(t, err)
		require.Equal(t, "editor", got.Editor)
		require.Equal(t, "stub", got.Module)
		require.Equal(t, 42, got.Double)

		err = h.Evaluate(ctx, `() => { throw new TypeError('nope') }`, nil, nil)
		var evalErr *remote.EvalError
		require.ErrorAs(t, err, &evalErr)
		require.Contains(t, evalErr.Message, "TypeError: nope")
	})
}
