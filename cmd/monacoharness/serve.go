package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"maps"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"cdr.dev/slog"
	"cdr.dev/slog/sloggers/sloghuman"
	"github.com/hashicorp/go-multierror"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"

	"github.com/coder/monacoharness"
	"github.com/coder/monacoharness/bundle"
	"github.com/coder/monacoharness/circuitbreaker"
	"github.com/coder/monacoharness/config"
	"github.com/coder/monacoharness/fixture"
	"github.com/coder/monacoharness/mcp"
	"github.com/coder/monacoharness/metrics"
	"github.com/coder/monacoharness/remote"
	"github.com/coder/monacoharness/tracing"
)

const shutdownTimeout = 10 * time.Second

type serveFlags struct {
	configPath  string
	port        int
	dev         bool
	setup       string
	entries     []string
	aliases     []string
	cacheDir    string
	metricsAddr string
	mcpAddr     string
	chrome      string
	headful     bool
}

func newServeCmd() *cobra.Command {
	var f serveFlags
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Bundle the editor page and serve it until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			verbose, _ := cmd.Flags().GetBool("verbose")
			level := slog.LevelInfo
			if verbose {
				level = slog.LevelDebug
			}
			logger := slog.Make(sloghuman.Sink(cmd.ErrOrStderr())).Leveled(level)

			cfg, err := f.load(cmd)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return serve(ctx, cfg, cmd.OutOrStdout(), logger)
		},
	}

	fl := cmd.Flags()
	fl.StringVar(&f.configPath, "config", "", "configuration file (default: nearest "+config.FileName+")")
	fl.IntVarP(&f.port, "port", "p", 0, "port to listen on (0 picks a free port)")
	fl.BoolVar(&f.dev, "dev", false, "rebuild on source changes and live reload the page")
	fl.StringVar(&f.setup, "setup", "", "setup script, shorthand for --entry setup=PATH")
	fl.StringArrayVar(&f.entries, "entry", nil, "extra entry point NAME=PATH (repeatable)")
	fl.StringArrayVar(&f.aliases, "alias", nil, "import alias SPECIFIER=REPLACEMENT (repeatable)")
	fl.StringVar(&f.cacheDir, "cache-dir", "", "build cache directory (emptied on start)")
	fl.StringVar(&f.metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address")
	fl.StringVar(&f.mcpAddr, "mcp-addr", "", "open the page in a browser and serve MCP editor tools on this address")
	fl.StringVar(&f.chrome, "chrome", "", "browser executable for --mcp-addr")
	fl.BoolVar(&f.headful, "headful", false, "show the browser window for --mcp-addr")
	return cmd
}

// load reads the configuration file, if any, and applies flags over it. Only
// flags set on the command line override the file.
func (f serveFlags) load(cmd *cobra.Command) (config.Config, error) {
	cfg := config.Default()
	path := f.configPath
	if path == "" {
		found, ok, err := config.Find(".")
		if err != nil {
			return config.Config{}, err
		}
		if ok {
			path = found
		}
	}
	if path != "" {
		loaded, err := config.Load(path)
		if err != nil {
			return config.Config{}, err
		}
		cfg = loaded
	}
	return f.apply(cmd.Flags().Changed, cfg)
}

func (f serveFlags) apply(changed func(string) bool, cfg config.Config) (config.Config, error) {
	entries, err := parsePairs("entry", f.entries)
	if err != nil {
		return config.Config{}, err
	}
	aliases, err := parsePairs("alias", f.aliases)
	if err != nil {
		return config.Config{}, err
	}

	cfg.EntryPoints = mergeMaps(cfg.EntryPoints, entries)
	cfg.Alias = mergeMaps(cfg.Alias, aliases)
	if f.setup != "" {
		cfg.EntryPoints = mergeMaps(cfg.EntryPoints, map[string]string{bundle.SetupKey: f.setup})
	}
	if changed("port") {
		cfg.Port = f.port
	}
	if changed("dev") {
		cfg.Mode = string(bundle.ModeOneShot)
		if f.dev {
			cfg.Mode = string(bundle.ModeDev)
		}
	}
	if changed("cache-dir") {
		cfg.CacheDir = f.cacheDir
	}
	if changed("metrics-addr") {
		cfg.Metrics.Addr = f.metricsAddr
	}
	if changed("mcp-addr") {
		cfg.MCP.Addr = f.mcpAddr
	}
	if changed("chrome") {
		cfg.MCP.Chrome = f.chrome
	}
	if changed("headful") {
		cfg.MCP.Headful = f.headful
	}
	return cfg, cfg.Validate()
}

// parsePairs splits NAME=VALUE flag values. The first "=" separates.
func parsePairs(flag string, values []string) (map[string]string, error) {
	out := make(map[string]string, len(values))
	for _, v := range values {
		k, val, ok := strings.Cut(v, "=")
		if !ok || k == "" || val == "" {
			return nil, fmt.Errorf("--%s %q: want NAME=VALUE", flag, v)
		}
		out[k] = val
	}
	return out, nil
}

func mergeMaps(base, over map[string]string) map[string]string {
	if len(over) == 0 {
		return base
	}
	out := maps.Clone(base)
	if out == nil {
		out = make(map[string]string, len(over))
	}
	maps.Copy(out, over)
	return out
}

func serve(ctx context.Context, cfg config.Config, out io.Writer, logger slog.Logger) (outErr error) {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.NewMetrics(reg)

	cat, err := cfg.LoadCatalog()
	if err != nil {
		return err
	}

	srv, err := monacoharness.CreateServer(ctx, monacoharness.EntryPoints(cfg.EntryPoints), monacoharness.Options{
		Port:          cfg.Port,
		Alias:         cfg.Alias,
		Mode:          cfg.BuildMode(),
		CacheDir:      cfg.CacheDir,
		WorkingDir:    cfg.WorkingDir,
		Catalog:       cat,
		WorkerAliases: cfg.WorkerAliases,
		Logger:        logger,
		Metrics:       m,
	})
	if err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			outErr = multierror.Append(outErr, fmt.Errorf("shutdown: %w", err)).ErrorOrNil()
		}
	}()

	_, _ = fmt.Fprintln(out, srv.URL())
	logger.Info(ctx, "serving editor page",
		slog.F("url", srv.URL()),
		slog.F("mode", srv.Mode()),
		slog.F("cache_dir", srv.CacheDir()),
	)

	g, gctx := errgroup.WithContext(ctx)
	if cfg.Metrics.Addr != "" {
		handler := promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
		g.Go(func() error {
			return listenAndServe(gctx, cfg.Metrics.Addr, handler, logger.Named("metrics"))
		})
	}
	if cfg.MCP.Addr != "" {
		g.Go(func() error {
			return serveMCP(gctx, srv.URL(), cfg.MCP, m, logger.Named("mcp"))
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		return nil
	})

	err = g.Wait()
	logger.Info(ctx, "shutting down")
	return err
}

// serveMCP drives the served page from a browser and exposes the editor
// fixture over MCP until ctx ends.
func serveMCP(ctx context.Context, pageURL string, cfg config.MCP, m *metrics.Metrics, logger slog.Logger) error {
	conn, err := remote.Attach(ctx, pageURL, remote.AttachOptions{
		ExecPath:  cfg.Chrome,
		RemoteURL: cfg.Remote,
		Headful:   cfg.Headful,
	})
	if err != nil {
		return err
	}
	defer conn.Close()

	guarded := circuitbreaker.Wrap(conn, circuitbreaker.DefaultConfig(), m, logger.Named("breaker"))
	editor := fixture.New(remote.NewHandle(guarded, remote.DefaultGlobals), fixture.Options{
		Logger:    logger.Named("fixture"),
		Metrics:   m,
		ReadLimit: cfg.MaxReads,
	})
	ctx = tracing.WithSessionAttributesInContext(ctx, []attribute.KeyValue{attribute.String(tracing.ServerURL, pageURL)})
	return listenAndServe(ctx, cfg.Addr, mcp.Handler(mcp.NewServer(editor, logger)), logger)
}

func listenAndServe(ctx context.Context, addr string, handler http.Handler, logger slog.Logger) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", addr, err)
	}
	httpSrv := &http.Server{
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}
	logger.Info(ctx, "listening", slog.F("addr", ln.Addr().String()))

	errCh := make(chan error, 1)
	go func() {
		errCh <- httpSrv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
