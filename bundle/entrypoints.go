package bundle

import (
	"errors"
	"maps"
	"slices"
)

// Reserved entry point names.
const (
	// SetupKey names the mandatory entry point which configures the editor for a
	// test suite; it is loaded by the index document as /setup.js.
	SetupKey = "setup"
	// EditorKey names the bootstrap bundle which creates the editor instance.
	EditorKey = "monaco-editor"
	// EditorWorkerServiceKey names the core background worker service.
	EditorWorkerServiceKey = "editorWorkerService"
	IconKey                = "icon"
	IndexKey               = "index"

	EditorWorkerServiceEntry = "monaco-editor/esm/vs/editor/editor.worker.js"
)

var ErrMissingSetup = errors.New("missing setup entry point")

// EntryPoints maps the name of a compiled script to the path or module
// specifier it is compiled from. A name n is served as /n.js.
type EntryPoints map[string]string

// Setup returns entry points containing only the given setup script.
func Setup(path string) EntryPoints {
	return EntryPoints{SetupKey: path}
}

// Names returns the entry names in sorted order.
func (e EntryPoints) Names() []string {
	return slices.Sorted(maps.Keys(e))
}

// Validate reports whether e could ever produce a servable page. It performs no
// I/O, so it is safe to call before anything touches the filesystem.
func (e EntryPoints) Validate() error {
	if e[SetupKey] == "" {
		return ErrMissingSetup
	}
	return nil
}

// Builtins are the entry points every server compiles unless the caller
// overrides them.
type Builtins struct {
	// Workers maps worker labels to worker module specifiers.
	Workers   map[string]string
	Icon      string
	Index     string
	Bootstrap string
}

// Merge assembles the full entry point set: one entry per language worker, the
// static assets, the bootstrap, the editor worker service, then the caller's
// entries on top so any built-in can be replaced. It is the only place the set
// is assembled, so every serving mode compiles the same entries.
func Merge(b Builtins, user EntryPoints) (EntryPoints, error) {
	if err := user.Validate(); err != nil {
		return nil, err
	}

	all := make(EntryPoints, len(b.Workers)+len(user)+4)
	maps.Copy(all, b.Workers)

	for name, path := range map[string]string{
		IconKey:   b.Icon,
		IndexKey:  b.Index,
		EditorKey: b.Bootstrap,
	} {
		if path != "" {
			all[name] = path
		}
	}
	all[EditorWorkerServiceKey] = EditorWorkerServiceEntry

	maps.Copy(all, user)

	if err := all.Validate(); err != nil {
		return nil, err
	}
	return all, nil
}
