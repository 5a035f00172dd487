// Package reporter is a reference diagnostic integration: a background worker
// which reports every match of a pattern, and the page-side glue which turns
// its reports into warning markers.
//
// The JavaScript halves are embedded and compiled by the harness. The Go
// halves implement the same algorithm and serve as an oracle for tests and as
// an integration for Go-hosted documents.
package reporter

import (
	"embed"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

const (
	// Owner is the marker owner and the worker label.
	Owner = "regexp-reporter"
	// WorkerKey is the entry point name of the worker bundle. The bootstrap
	// resolves the worker label to /regexp-reporter.js.
	WorkerKey = Owner

	workerFile = "regexp-reporter.worker.js"
	moduleFile = "index.js"
)

//go:embed js
var js embed.FS

func materialize(dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create reporter dir: %w", err)
	}
	return fs.WalkDir(js, "js", func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return err
		}
		data, err := js.ReadFile(path)
		if err != nil {
			return err
		}
		return os.WriteFile(filepath.Join(dir, filepath.Base(path)), data, 0o644)
	})
}

// EntryPoints writes the reporter sources into dir and returns the entry
// points which compile its worker. Merge them into the server's entry points.
func EntryPoints(dir string) (map[string]string, error) {
	if err := materialize(dir); err != nil {
		return nil, err
	}
	return map[string]string{WorkerKey: filepath.Join(dir, workerFile)}, nil
}

// Module writes the reporter sources into dir and returns the path of the
// page-side module exporting createRegExpReporter, for setup scripts to
// import.
func Module(dir string) (string, error) {
	if err := materialize(dir); err != nil {
		return "", err
	}
	return filepath.Join(dir, moduleFile), nil
}
