// Package assets carries the page which hosts the editor: the index document,
// its icon, the bootstrap script that creates the editor instance and the
// shim module through which setup scripts reach that instance.
package assets

import (
	"embed"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

// WorkerAliasesDefine is the identifier in the bootstrap script which the
// bundler replaces with the worker alias table.
const WorkerAliasesDefine = "__MONACO_HARNESS_WORKER_ALIASES__"

// ShimModule is the import specifier which resolves to the harness shim.
const ShimModule = "monaco-harness"

// Globals published on window by the bootstrap script.
const (
	EditorGlobal = "ed"
	ModuleGlobal = "monaco"
)

//go:embed www
var www embed.FS

// Files are the on-disk locations of materialized assets.
type Files struct {
	Index     string
	Icon      string
	Bootstrap string
	Shim      string
}

// Materialize writes every asset into dir, creating it if needed, and returns
// where each one landed. The bundler needs real paths to use them as entries.
func Materialize(dir string) (Files, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return Files{}, fmt.Errorf("create asset dir: %w", err)
	}

	err := fs.WalkDir(www, "www", func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return err
		}
		data, err := www.ReadFile(path)
		if err != nil {
			return err
		}
		return os.WriteFile(filepath.Join(dir, filepath.Base(path)), data, 0o644)
	})
	if err != nil {
		return Files{}, fmt.Errorf("write assets: %w", err)
	}

	return Files{
		Index:     filepath.Join(dir, "index.html"),
		Icon:      filepath.Join(dir, "icon.svg"),
		Bootstrap: filepath.Join(dir, "bootstrap.js"),
		Shim:      filepath.Join(dir, "harness.js"),
	}, nil
}

// ReadFile returns the embedded content of an asset by base name.
func ReadFile(name string) ([]byte, error) {
	return www.ReadFile("www/" + name)
}
