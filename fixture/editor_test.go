package fixture

import (
	"context"
	"encoding/json"
	"errors"
	"net/url"
	"strings"
	"testing"
	"time"

	"cdr.dev/slog/sloggers/slogtest"
	"github.com/prometheus/client_golang/prometheus"
	promtest "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/mock/gomock"

	"github.com/coder/monacoharness/metrics"
	"github.com/coder/monacoharness/remote"
	"github.com/coder/monacoharness/remote/remotemock"
	"github.com/coder/monacoharness/testutil"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func newTestEditor(t *testing.T) (*Editor, *fakeEditor, *testutil.FakePage, *metrics.Metrics) {
	t.Helper()
	fake, page := newFakeEditor()
	m := metrics.NewMetrics(prometheus.NewRegistry())
	e := New(remote.NewHandle(page, remote.DefaultGlobals), Options{
		Logger:  slogtest.Make(t, &slogtest.Options{IgnoreErrors: true}),
		Metrics: m,
	})
	return e, fake, page, m
}

func testContext(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func TestNormalizeURI(t *testing.T) {
	t.Parallel()

	cases := []struct {
		in       string
		expected string
	}{
		{in: "", expected: ""},
		{in: "/tmp/readme.md", expected: "file:///tmp/readme.md"},
		{in: "relative/file.ts", expected: "file://relative/file.ts"},
		{in: "file:///already/a/uri.json", expected: "file:///already/a/uri.json"},
		{in: "https://example.com/a.css?x=1#frag", expected: "https://example.com/a.css?x=1#frag"},
		{in: "untitled:Untitled-1", expected: "untitled:Untitled-1"},
		{in: "inmemory://model/1", expected: "inmemory://model/1"},
	}

	for _, tc := range cases {
		t.Run(tc.in, func(t *testing.T) {
			t.Parallel()
			require.Equal(t, tc.expected, NormalizeURI(tc.in))
			// Normalizing is idempotent once a URI is produced.
			require.Equal(t, tc.expected, NormalizeURI(NormalizeURI(tc.in)))
		})
	}
}

func TestCreateModel(t *testing.T) {
	t.Parallel()

	ctx := testContext(t)
	e, fake, _, m := newTestEditor(t)

	model, err := e.CreateModel(ctx, "{}", "/project/settings.json", false, "")
	require.NoError(t, err)
	require.Equal(t, Model{URI: "file:///project/settings.json", Language: "json"}, model)

	model, err = e.CreateModel(ctx, "a", "file:///x/y.txt", true, "markdown")
	require.NoError(t, err)
	require.Equal(t, Model{URI: "file:///x/y.txt", Language: "markdown"}, model)

	u, err := url.Parse("https://example.com/remote.md")
	require.NoError(t, err)
	model, err = e.CreateModelURL(ctx, "b", u, false, "")
	require.NoError(t, err)
	require.Equal(t, "https://example.com/remote.md", model.URI)

	model, err = e.CreateModel(ctx, "anonymous", "", false, "")
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(model.URI, "inmemory://"), model.URI)

	// Only the opened model became active.
	active, err := e.ActiveURI(ctx)
	require.NoError(t, err)
	require.Equal(t, "file:///x/y.txt", active)

	value, err := e.Value(ctx, "")
	require.NoError(t, err)
	require.Equal(t, "a", value)

	models, err := e.Models(ctx)
	require.NoError(t, err)
	require.Len(t, models, 4)
	require.Len(t, fake.models, 4)

	require.Equal(t, 4.0, promtest.ToFloat64(m.RemoteCallCount.WithLabelValues("CreateModel", metrics.StatusCompleted)))
}

const openTree = `A project with nested, hidden and ignored files.
-- README.md --
# readme
-- docs/guide.md --
guide
-- docs/notes.txt --
notes
-- .github/workflow.md --
hidden
-- node_modules/pkg/README.md --
dependency
`

func TestOpen(t *testing.T) {
	t.Parallel()

	dir := testutil.MustParseTXTAR(t, []byte(openTree)).MustWriteTree(t)

	cwdURL := &url.URL{Scheme: "file", Path: dir}

	cases := []struct {
		name     string
		patterns []string
		opts     OpenOptions
		expected map[string]string
	}{
		{
			name:     "globstar with negation",
			patterns: []string{"**/*.md", "!node_modules/**"},
			opts:     OpenOptions{Cwd: dir},
			expected: map[string]string{
				"file:///README.md":     "# readme\n",
				"file:///docs/guide.md": "guide\n",
			},
		},
		{
			name:     "duplicates across patterns",
			patterns: []string{"docs/*", "docs/guide.md", "./docs/*.txt"},
			opts:     OpenOptions{CwdURL: cwdURL},
			expected: map[string]string{
				"file:///docs/guide.md":  "guide\n",
				"file:///docs/notes.txt": "notes\n",
			},
		},
		{
			name:     "dot files",
			patterns: []string{".github/*"},
			opts:     OpenOptions{Cwd: dir, Dot: true},
			expected: map[string]string{
				"file:///.github/workflow.md": "hidden\n",
			},
		},
		{
			name:     "explicit dot segment without dot",
			patterns: []string{".github/*.md", "**/workflow.md"},
			opts:     OpenOptions{Cwd: dir},
			expected: map[string]string{
				"file:///.github/workflow.md": "hidden\n",
			},
		},
		{
			name:     "wildcards skip dot segments",
			patterns: []string{"*/workflow.md", "**/*.md", "!node_modules/**", "!README.md", "!docs/**"},
			opts:     OpenOptions{Cwd: dir},
			expected: map[string]string{},
		},
		{
			name:     "directories never match",
			patterns: []string{"docs"},
			opts:     OpenOptions{Cwd: dir},
			expected: map[string]string{},
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			ctx := testContext(t)
			e, fake, _, _ := newTestEditor(t)

			existing, err := e.CreateModel(ctx, "existing", "/existing.txt", true, "")
			require.NoError(t, err)

			uris, err := e.Open(ctx, tc.patterns, tc.opts)
			require.NoError(t, err)
			require.Len(t, uris, len(tc.expected))

			for uri, content := range tc.expected {
				require.Contains(t, uris, uri)
				value, err := e.Value(ctx, uri)
				require.NoError(t, err)
				require.Equal(t, content, value)
			}
			require.Len(t, fake.models, len(tc.expected)+1)

			// The active model is left alone.
			active, err := e.ActiveURI(ctx)
			require.NoError(t, err)
			require.Equal(t, existing.URI, active)
		})
	}
}

func TestOpenErrors(t *testing.T) {
	t.Parallel()

	ctx := testContext(t)
	e, _, page, _ := newTestEditor(t)
	dir := t.TempDir()

	_, err := e.Open(ctx, []string{"[unterminated"}, OpenOptions{Cwd: dir})
	require.ErrorContains(t, err, "[unterminated")

	_, err = e.Open(ctx, []string{"/etc/*"}, OpenOptions{Cwd: dir})
	require.ErrorContains(t, err, "must be relative")

	_, err = e.Open(ctx, []string{"*"}, OpenOptions{CwdURL: &url.URL{Scheme: "https", Host: "example.com", Path: "/"}})
	require.ErrorContains(t, err, "file URL")

	// Nothing reached the page.
	require.Empty(t, page.Calls())
}

func TestSetModelAndPosition(t *testing.T) {
	t.Parallel()

	ctx := testContext(t)
	e, fake, _, _ := newTestEditor(t)

	_, err := e.CreateModel(ctx, "one\ntwo", "/a.txt", false, "")
	require.NoError(t, err)

	_, ok, err := e.Position(ctx)
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, e.SetModel(ctx, "file:///a.txt"))
	require.NoError(t, e.SetPosition(ctx, Position{LineNumber: 2, Column: 3}))

	pos, ok, err := e.Position(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, Position{LineNumber: 2, Column: 3}, pos)
	require.Equal(t, []string{Source}, fake.sources)

	// Unknown URIs are not validated; the editor ends up with no model.
	require.NoError(t, e.SetModel(ctx, "file:///missing.txt"))
	active, err := e.ActiveURI(ctx)
	require.NoError(t, err)
	require.Empty(t, active)

	_, err = e.Value(ctx, "file:///missing.txt")
	require.True(t, IsEvalError(err))
	require.ErrorContains(t, err, "model not found")
}

func TestTrigger(t *testing.T) {
	t.Parallel()

	ctx := testContext(t)
	e, fake, _, m := newTestEditor(t)

	result, err := e.Trigger(ctx, "editor.action.formatDocument", map[string]int{"tabSize": 2})
	require.NoError(t, err)
	require.JSONEq(t, `{"handled":"editor.action.formatDocument","payload":{"tabSize":2}}`, string(result))

	_, err = e.Trigger(ctx, "explode", nil)
	require.ErrorContains(t, err, "command failed")
	require.True(t, IsEvalError(err))

	require.Equal(t, []string{Source, Source}, fake.sources)
	require.Equal(t, 1.0, promtest.ToFloat64(m.RemoteCallCount.WithLabelValues("Trigger", metrics.StatusFailed)))
}

func beepMarkers(uri string) []Marker {
	return []Marker{
		{
			Range:    Range{StartLineNumber: 1, StartColumn: 1, EndLineNumber: 1, EndColumn: 5},
			Message:  "Invalid text ‘beep’",
			Severity: SeverityWarning,
			Owner:    "regexp-reporter",
			Resource: uri,
		},
		{
			Range:    Range{StartLineNumber: 2, StartColumn: 6, EndLineNumber: 2, EndColumn: 10},
			Message:  "Invalid text ‘beep’",
			Severity: SeverityWarning,
			Owner:    "regexp-reporter",
			Resource: uri,
		},
	}
}

func TestWaitForMarkers(t *testing.T) {
	t.Parallel()

	ctx := testContext(t)
	e, fake, page, m := newTestEditor(t)

	const uri = "file:///beep.txt"
	markers, err := e.WaitForMarkers(ctx, uri, func(ctx context.Context) error {
		// The subscription already exists when the stimulus runs.
		require.Equal(t, 1, fake.pendingWaits())

		// Unrelated resources must not resolve the wait.
		fake.setMarkers("file:///other.txt", []Marker{{Message: "unrelated", Resource: "file:///other.txt"}})
		_, err := e.CreateModel(ctx, "beep boop\nboop beep\n", uri, true, "")
		fake.setMarkers(uri, beepMarkers(uri))
		return err
	})
	require.NoError(t, err)
	require.Equal(t, beepMarkers(uri), markers)
	require.Zero(t, fake.pendingWaits())

	calls := page.Calls()
	require.Equal(t, []string{jsSubscribeMarkers, jsCreateModel, jsAwaitMarkers}, calls)

	current, err := e.Markers(ctx, uri)
	require.NoError(t, err)
	require.Equal(t, markers, current)

	require.Equal(t, 1.0, promtest.ToFloat64(m.MarkerWaitCount.WithLabelValues(metrics.StatusCompleted)))
	require.Equal(t, 2.0, promtest.ToFloat64(m.MarkerCount))
}

func TestWaitForMarkersTriggerFails(t *testing.T) {
	t.Parallel()

	ctx := testContext(t)
	e, fake, page, m := newTestEditor(t)

	boom := errors.New("boom")
	_, err := e.WaitForMarkers(ctx, "file:///a.txt", func(context.Context) error {
		return boom
	})
	require.ErrorIs(t, err, boom)

	// The page-side subscription was removed.
	require.Zero(t, fake.pendingWaits())
	require.Equal(t, []string{jsSubscribeMarkers, jsCancelMarkers}, page.Calls())
	require.Equal(t, 1.0, promtest.ToFloat64(m.MarkerWaitCount.WithLabelValues(metrics.StatusFailed)))
}

func TestWaitForMarkersContextEnds(t *testing.T) {
	t.Parallel()

	e, fake, page, _ := newTestEditor(t)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := e.WaitForMarkers(ctx, "file:///never.txt", nil)
	require.ErrorIs(t, err, context.DeadlineExceeded)
	require.Zero(t, fake.pendingWaits())
	require.Equal(t, []string{jsSubscribeMarkers, jsAwaitMarkers, jsCancelMarkers}, page.Calls())
}

// TestWaitForMarkersOrdering asserts the wire order independently of the fake
// editor: subscribe, then the stimulus, then await.
func TestWaitForMarkersOrdering(t *testing.T) {
	t.Parallel()

	ctx := testContext(t)
	ctrl := gomock.NewController(t)
	conn := remotemock.NewMockConn(ctrl)
	stimulus := remotemock.NewMockConn(ctrl)

	contains := func(src string) gomock.Matcher {
		return gomock.Cond(func(expr string) bool { return strings.Contains(expr, src) })
	}
	encoded := func(v any) json.RawMessage {
		raw, err := remote.EncodeResult(v)
		require.NoError(t, err)
		return raw
	}

	gomock.InOrder(
		conn.EXPECT().Evaluate(gomock.Any(), contains(jsSubscribeMarkers)).Return(encoded("id"), nil),
		stimulus.EXPECT().Evaluate(gomock.Any(), "stimulus").Return(nil, nil),
		conn.EXPECT().Evaluate(gomock.Any(), contains(jsAwaitMarkers)).Return(encoded(beepMarkers("file:///b.txt")), nil),
	)

	e := New(remote.NewHandle(conn, remote.DefaultGlobals), Options{})
	markers, err := e.WaitForMarkers(ctx, "file:///b.txt", func(ctx context.Context) error {
		_, err := stimulus.Evaluate(ctx, "stimulus")
		return err
	})
	require.NoError(t, err)
	assert.Len(t, markers, 2)
}

func TestWaitForMarkersAwaitFails(t *testing.T) {
	t.Parallel()

	contains := func(src string) gomock.Matcher {
		return gomock.Cond(func(expr string) bool { return strings.Contains(expr, src) })
	}
	ok, err := remote.EncodeResult(nil)
	require.NoError(t, err)

	t.Run("TransportError", func(t *testing.T) {
		t.Parallel()

		conn := remotemock.NewMockConn(gomock.NewController(t))
		gone := errors.New("websocket: close 1006")
		gomock.InOrder(
			conn.EXPECT().Evaluate(gomock.Any(), contains(jsSubscribeMarkers)).Return(ok, nil),
			conn.EXPECT().Evaluate(gomock.Any(), contains(jsAwaitMarkers)).Return(nil, gone),
			conn.EXPECT().Evaluate(gomock.Any(), contains(jsCancelMarkers)).Return(ok, nil),
		)

		e := New(remote.NewHandle(conn, remote.DefaultGlobals), Options{})
		_, err := e.WaitForMarkers(testContext(t), "file:///a.txt", nil)
		require.ErrorIs(t, err, gone)
	})

	t.Run("PageException", func(t *testing.T) {
		t.Parallel()

		conn := remotemock.NewMockConn(gomock.NewController(t))
		gomock.InOrder(
			conn.EXPECT().Evaluate(gomock.Any(), contains(jsSubscribeMarkers)).Return(ok, nil),
			conn.EXPECT().Evaluate(gomock.Any(), contains(jsAwaitMarkers)).Return(remote.EncodeException("Error: disposed"), nil),
		)

		e := New(remote.NewHandle(conn, remote.DefaultGlobals), Options{})
		_, err := e.WaitForMarkers(testContext(t), "file:///a.txt", nil)
		require.True(t, IsEvalError(err))
	})
}
