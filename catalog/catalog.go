// Package catalog describes the language services available to the editor and
// resolves editor worker labels to the bundle entries which implement them.
//
// The alias table is plain data: it is consulted once at bundle-build time by
// the bundler and injected verbatim into the page, so the page-side worker
// factory and the Go-side resolver can never disagree.
package catalog

import (
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/tidwall/gjson"
)

// EntryPrefix is prepended to a worker entry to produce an importable module
// specifier.
const EntryPrefix = "monaco-editor/esm/"

// Worker describes the background worker module of a language service.
type Worker struct {
	ID    string
	Entry string
}

// Language is a single language service known to the editor.
type Language struct {
	Label string
	// Worker is nil for languages which are tokenized in-page only.
	Worker *Worker
}

type Catalog struct {
	Languages []Language
}

// Default returns the catalog of languages bundled with the editor. Only css,
// html, json and typescript ship a worker.
func Default() Catalog {
	var langs []Language
	for _, label := range []string{
		"abap", "apex", "azcli", "bat", "c", "cpp", "csharp", "dockerfile", "go",
		"graphql", "handlebars", "ini", "java", "javascript", "less", "lua",
		"markdown", "php", "python", "razor", "ruby", "rust", "scss", "shell",
		"sql", "xml", "yaml",
	} {
		langs = append(langs, Language{Label: label})
	}

	langs = append(langs,
		Language{Label: "css", Worker: &Worker{ID: "vs/language/css/cssWorker", Entry: "vs/language/css/css.worker"}},
		Language{Label: "html", Worker: &Worker{ID: "vs/language/html/htmlWorker", Entry: "vs/language/html/html.worker"}},
		Language{Label: "json", Worker: &Worker{ID: "vs/language/json/jsonWorker", Entry: "vs/language/json/json.worker"}},
		Language{Label: "typescript", Worker: &Worker{ID: "vs/language/typescript/tsWorker", Entry: "vs/language/typescript/ts.worker"}},
	)

	slices.SortFunc(langs, func(a, b Language) int { return strings.Compare(a.Label, b.Label) })
	return Catalog{Languages: langs}
}

// Parse reads a catalog from JSON. Both {"languages": [...]} and a bare array
// of languages are accepted; each language is {"label": ..., "worker": {"id":
// ..., "entry": ...}} with the worker optional.
func Parse(data []byte) (Catalog, error) {
	if !gjson.ValidBytes(data) {
		return Catalog{}, errors.New("catalog is not valid JSON")
	}

	langs := gjson.ParseBytes(data)
	if langs.IsObject() {
		langs = langs.Get("languages")
	}
	if !langs.IsArray() {
		return Catalog{}, errors.New("catalog has no languages array")
	}

	var (
		out Catalog
		err error
	)
	langs.ForEach(func(key, value gjson.Result) bool {
		label := value.Get("label").String()
		if label == "" {
			err = fmt.Errorf("language %d has no label", key.Int())
			return false
		}

		lang := Language{Label: label}
		if entry := value.Get("worker.entry").String(); entry != "" {
			lang.Worker = &Worker{ID: value.Get("worker.id").String(), Entry: entry}
		}
		out.Languages = append(out.Languages, lang)
		return true
	})
	if err != nil {
		return Catalog{}, err
	}

	return out, nil
}

// WorkerEntries maps the label of every language which has a worker to the
// module specifier of that worker. Languages without a worker are skipped.
func (c Catalog) WorkerEntries() map[string]string {
	out := make(map[string]string)
	for _, lang := range c.Languages {
		if lang.Worker == nil || lang.Worker.Entry == "" {
			continue
		}
		out[lang.Label] = EntryPrefix + strings.TrimPrefix(lang.Worker.Entry, "/")
	}
	return out
}

// Lookup returns the language with the given label.
func (c Catalog) Lookup(label string) (Language, bool) {
	for _, lang := range c.Languages {
		if lang.Label == label {
			return lang, true
		}
	}
	return Language{}, false
}
