// Package config reads the harness configuration file used by the command
// line tool.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"

	"github.com/coder/monacoharness/bundle"
	"github.com/coder/monacoharness/catalog"
)

// FileName is the configuration file looked up by [Find].
const FileName = "monacoharness.toml"

type Config struct {
	// Path of the file the configuration was read from. Empty for [Default].
	Path string `toml:"-"`

	Port int    `toml:"port"`
	Mode string `toml:"mode"`
	// CacheDir, WorkingDir and Catalog are resolved against the directory of
	// the configuration file.
	CacheDir   string `toml:"cache_dir"`
	WorkingDir string `toml:"working_dir"`
	// Catalog is a JSON language catalog replacing the built-in one.
	Catalog string `toml:"catalog"`

	EntryPoints   map[string]string `toml:"entry_points"`
	Alias         map[string]string `toml:"alias"`
	WorkerAliases map[string]string `toml:"worker_aliases"`

	MCP     MCP     `toml:"mcp"`
	Metrics Metrics `toml:"metrics"`
}

type MCP struct {
	// Addr serves the MCP tools over streamable HTTP when set. Requires a
	// browser, see Chrome.
	Addr string `toml:"addr"`
	// Chrome is the browser executable. Empty finds one on PATH.
	Chrome   string `toml:"chrome"`
	Headful  bool   `toml:"headful"`
	Remote   string `toml:"remote"`
	MaxReads int    `toml:"max_reads"`
}

type Metrics struct {
	Addr string `toml:"addr"`
}

// Default is the configuration used when no file is found.
func Default() Config {
	return Config{Mode: string(bundle.ModeOneShot)}
}

// Find walks up from startDir looking for [FileName].
func Find(startDir string) (string, bool, error) {
	if startDir == "" {
		startDir = "."
	}
	dir, err := filepath.Abs(startDir)
	if err != nil {
		return "", false, fmt.Errorf("resolve start directory: %w", err)
	}
	for {
		candidate := filepath.Join(dir, FileName)
		if _, err := os.Stat(candidate); err == nil {
			return candidate, true, nil
		} else if !errors.Is(err, os.ErrNotExist) {
			return "", false, fmt.Errorf("stat %q: %w", candidate, err)
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return "", false, nil
		}
		dir = parent
	}
}

// Load reads and validates the file at path. Unknown keys are rejected.
func Load(path string) (Config, error) {
	cfg := Default()
	meta, err := toml.DecodeFile(path, &cfg)
	if err != nil {
		return Config{}, fmt.Errorf("%s: parse TOML: %w", path, err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		return Config{}, fmt.Errorf("%s: unknown keys: %s", path, strings.Join(keys, ", "))
	}

	abs, err := filepath.Abs(path)
	if err != nil {
		return Config{}, err
	}
	cfg.Path = abs
	root := filepath.Dir(abs)
	cfg.CacheDir = resolve(root, cfg.CacheDir)
	cfg.WorkingDir = resolve(root, cfg.WorkingDir)
	cfg.Catalog = resolve(root, cfg.Catalog)
	if cfg.WorkingDir == "" {
		cfg.WorkingDir = root
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

func resolve(root, p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(root, filepath.FromSlash(p))
}

func (c Config) Validate() error {
	switch bundle.Mode(c.Mode) {
	case "", bundle.ModeOneShot, bundle.ModeDev:
	default:
		return fmt.Errorf("mode must be %q or %q, got %q", bundle.ModeOneShot, bundle.ModeDev, c.Mode)
	}
	if c.Port < 0 || c.Port > 65535 {
		return fmt.Errorf("port %d out of range", c.Port)
	}
	if c.MCP.MaxReads < 0 {
		return fmt.Errorf("mcp.max_reads must not be negative")
	}
	for name, path := range c.EntryPoints {
		if strings.TrimSpace(path) == "" {
			return fmt.Errorf("entry point %q has no path", name)
		}
	}
	return nil
}

// BuildMode returns the configured mode, defaulting to one-shot.
func (c Config) BuildMode() bundle.Mode {
	if c.Mode == "" {
		return bundle.ModeOneShot
	}
	return bundle.Mode(c.Mode)
}

// LoadCatalog parses the configured catalog file. It returns nil when none is
// configured.
func (c Config) LoadCatalog() (*catalog.Catalog, error) {
	if c.Catalog == "" {
		return nil, nil
	}
	data, err := os.ReadFile(c.Catalog)
	if err != nil {
		return nil, fmt.Errorf("read catalog: %w", err)
	}
	cat, err := catalog.Parse(data)
	if err != nil {
		return nil, fmt.Errorf("parse catalog %s: %w", c.Catalog, err)
	}
	return &cat, nil
}
