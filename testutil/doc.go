// Package testutil contains helpers for testing the harness.
//
// # Stability
//
// This package is intended for tests within this module. It is not considered
// a stable public API.
//
// It provides typed accessors for txtar fixtures, a way to lay those fixtures
// out on disk, a stub editor tree so that serving can be exercised without
// the monaco-editor package installed, a fake page answering remote
// evaluations from Go, a node-backed page which runs the real page-side
// functions against stub globals, and a reader for live event streams.
package testutil
