package catalog_test

import (
	"testing"

	"github.com/coder/monacoharness/catalog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultWorkerEntries(t *testing.T) {
	t.Parallel()

	entries := catalog.Default().WorkerEntries()
	require.Equal(t, map[string]string{
		"css":        "monaco-editor/esm/vs/language/css/css.worker",
		"html":       "monaco-editor/esm/vs/language/html/html.worker",
		"json":       "monaco-editor/esm/vs/language/json/json.worker",
		"typescript": "monaco-editor/esm/vs/language/typescript/ts.worker",
	}, entries)

	lang, ok := catalog.Default().Lookup("markdown")
	require.True(t, ok)
	require.Nil(t, lang.Worker)
}

func TestParse(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		input    string
		expected map[string]string
		labels   int
		err      string
	}{
		{
			name: "object form",
			input: `{"languages": [
				{"label": "css", "worker": {"id": "vs/language/css/cssWorker", "entry": "vs/language/css/css.worker"}},
				{"label": "markdown"}
			]}`,
			expected: map[string]string{"css": "monaco-editor/esm/vs/language/css/css.worker"},
			labels:   2,
		},
		{
			name:     "array form",
			input:    `[{"label": "yaml", "worker": {"entry": "/monaco-yaml/yaml.worker"}}]`,
			expected: map[string]string{"yaml": "monaco-editor/esm/monaco-yaml/yaml.worker"},
			labels:   1,
		},
		{
			name:     "worker without entry is skipped",
			input:    `[{"label": "sql", "worker": {"id": "x"}}]`,
			expected: map[string]string{},
			labels:   1,
		},
		{
			name:  "invalid json",
			input: `{"languages": [`,
			err:   "not valid JSON",
		},
		{
			name:  "no languages",
			input: `{"features": []}`,
			err:   "no languages array",
		},
		{
			name:  "missing label",
			input: `[{"label": "css"}, {"worker": {"entry": "x"}}]`,
			err:   "language 1 has no label",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			cat, err := catalog.Parse([]byte(tc.input))
			if tc.err != "" {
				require.ErrorContains(t, err, tc.err)
				return
			}
			require.NoError(t, err)
			require.Len(t, cat.Languages, tc.labels)
			require.Equal(t, tc.expected, cat.WorkerEntries())
		})
	}
}

func TestAliases(t *testing.T) {
	t.Parallel()

	aliases := catalog.DefaultAliases()
	for label, expected := range map[string]string{
		"scss":       "css",
		"less":       "css",
		"handlebars": "html",
		"razor":      "html",
		"javascript": "typescript",
		"css":        "css",
		"plaintext":  "plaintext",
	} {
		// Resolving is deterministic across calls.
		for range 3 {
			assert.Equal(t, expected, aliases.Resolve(label), label)
		}
	}

	merged := aliases.Merge(map[string]string{"less": "less", "mdx": "markdown"})
	assert.Equal(t, "less", merged.Resolve("less"))
	assert.Equal(t, "markdown", merged.Resolve("mdx"))
	assert.Equal(t, "css", merged.Resolve("scss"))
	// The receiver is left untouched.
	assert.Equal(t, "css", aliases.Resolve("less"))
	_, ok := aliases["mdx"]
	assert.False(t, ok)

	assert.JSONEq(t, `{"handlebars":"html","javascript":"typescript","less":"css","razor":"html","scss":"css"}`, aliases.JSON())
	assert.Equal(t, "{}", catalog.Aliases(nil).JSON())
}

func TestResolver(t *testing.T) {
	t.Parallel()

	r := catalog.NewResolver()

	tests := []struct {
		label  string
		entry  string
		bundle string
		ok     bool
	}{
		{label: "css", entry: "monaco-editor/esm/vs/language/css/css.worker", bundle: "css", ok: true},
		{label: "scss", entry: "monaco-editor/esm/vs/language/css/css.worker", bundle: "css", ok: true},
		{label: "razor", entry: "monaco-editor/esm/vs/language/html/html.worker", bundle: "html", ok: true},
		{label: "javascript", entry: "monaco-editor/esm/vs/language/typescript/ts.worker", bundle: "typescript", ok: true},
		{label: "markdown", bundle: "markdown"},
		{label: "regexp-reporter", bundle: "regexp-reporter"},
	}

	for _, tc := range tests {
		t.Run(tc.label, func(t *testing.T) {
			t.Parallel()

			entry, ok := r.Worker(tc.label)
			require.Equal(t, tc.ok, ok)
			require.Equal(t, tc.entry, entry)
			require.Equal(t, tc.bundle, r.Bundle(tc.label))
		})
	}
}
