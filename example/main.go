// This is an example program demonstrating monacoharness usage. It needs
// monaco-editor installed under ./node_modules and a Chrome or Chromium binary.
// Run with: go run ./example
package main

import (
	"context"
	"log"
	"os"
	"path/filepath"
	"time"

	"cdr.dev/slog"
	"cdr.dev/slog/sloggers/sloghuman"
	"github.com/coder/monacoharness"
	"github.com/coder/monacoharness/fixture"
	"github.com/coder/monacoharness/remote"
	"github.com/coder/monacoharness/reporter"
	"github.com/prometheus/client_golang/prometheus"
)

func main() {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()
	logger := slog.Make(sloghuman.Sink(os.Stderr)).Leveled(slog.LevelDebug)

	// The reporter sources live outside the cache dir, which is emptied on start.
	dir, err := os.MkdirTemp("", "regexp-reporter")
	if err != nil {
		log.Fatalf("create reporter dir: %v", err)
	}
	defer os.RemoveAll(dir)

	entries := monacoharness.Setup(filepath.Join("example", "setup.js"))
	workers, err := reporter.EntryPoints(dir)
	if err != nil {
		log.Fatalf("reporter entry points: %v", err)
	}
	for name, path := range workers {
		entries[name] = path
	}
	module, err := reporter.Module(dir)
	if err != nil {
		log.Fatalf("reporter module: %v", err)
	}

	srv, err := monacoharness.CreateServer(ctx, entries, monacoharness.Options{
		Alias:   map[string]string{"regexp-reporter": module},
		Logger:  logger,
		Metrics: monacoharness.NewMetrics(prometheus.NewRegistry()),
	})
	if err != nil {
		log.Fatalf("create server: %v", err)
	}
	defer srv.Shutdown(context.Background())

	conn, err := remote.Attach(ctx, srv.URL(), remote.AttachOptions{})
	if err != nil {
		log.Fatalf("attach browser: %v", err)
	}
	defer conn.Close()

	editor := fixture.New(remote.NewHandle(conn, remote.DefaultGlobals), fixture.Options{Logger: logger.Named("fixture")})

	const (
		uri  = "file:///beep.txt"
		text = "beep boop"
	)
	markers, err := editor.WaitForMarkers(ctx, uri, func(ctx context.Context) error {
		_, err := editor.CreateModel(ctx, text, "/beep.txt", true, "")
		return err
	})
	if err != nil {
		log.Fatalf("wait for markers: %v", err)
	}

	expected, err := reporter.ExpectedMarkers(reporter.Pattern{Source: "beep|boop"}, uri, text)
	if err != nil {
		log.Fatalf("expected markers: %v", err)
	}
	for _, m := range markers {
		log.Printf("%d:%d-%d:%d %s %s", m.StartLineNumber, m.StartColumn, m.EndLineNumber, m.EndColumn, m.Severity, m.Message)
	}
	if len(markers) != len(expected) {
		log.Fatalf("got %d markers, expected %d", len(markers), len(expected))
	}
}
