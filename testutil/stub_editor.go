package testutil

import (
	_ "embed"
	"path/filepath"
	"testing"
)

//go:embed stub_editor.txtar
var stubEditorTXTAR []byte

// StubEditor is an on-disk stand-in for the editor package: a setup script, a
// bootstrap which publishes fake ed and monaco globals, and a node_modules
// tree holding an editor worker service and one language worker. Use Dir as
// the working directory of a build.
type StubEditor struct {
	Dir string
}

// NewStubEditor writes the stub tree into a temporary directory.
func NewStubEditor(t testing.TB) StubEditor {
	t.Helper()
	tree := MustParseTXTAR(t, stubEditorTXTAR)
	tree.RequireFiles(t, "setup.js", "bootstrap.js", "node_modules/monaco-editor/package.json")
	return StubEditor{Dir: tree.MustWriteTree(t)}
}

func (s StubEditor) Path(name string) string {
	return filepath.Join(s.Dir, filepath.FromSlash(name))
}

// StubWorkerEntry is the catalog entry of the stub language worker.
const StubWorkerEntry = "vs/language/stub/stub.worker.js"

// EntryPoints holds the setup script and replaces the editor bootstrap, which
// would otherwise import the real editor.
func (s StubEditor) EntryPoints() map[string]string {
	return map[string]string{
		"setup":         s.Path("setup.js"),
		"monaco-editor": s.Path("bootstrap.js"),
	}
}
