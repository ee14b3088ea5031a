package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/mattjoyce/couchgo/internal/build"
	"github.com/mattjoyce/couchgo/internal/catalog"
	"github.com/mattjoyce/couchgo/internal/compiler"
	"github.com/mattjoyce/couchgo/internal/config"
	"github.com/mattjoyce/couchgo/internal/couch"
	"github.com/mattjoyce/couchgo/internal/dispatch"
	"github.com/mattjoyce/couchgo/internal/log"
	"github.com/mattjoyce/couchgo/internal/module"
	"github.com/mattjoyce/couchgo/internal/protocol"
	"github.com/mattjoyce/couchgo/internal/storage"
)

// app holds the global flags and process streams shared by all commands.
type app struct {
	configPath    string
	cacheOverride string
	libDir        string

	stdin  io.Reader
	stdout io.Writer
	stderr io.Writer
	cwd    string

	cfg     *config.Config
	logFile *os.File
}

func newApp(stdin io.Reader, stdout, stderr io.Writer) *app {
	cwd, err := os.Getwd()
	if err != nil {
		cwd = "."
	}
	return &app{stdin: stdin, stdout: stdout, stderr: stderr, cwd: cwd}
}

func defaultConfigPath() string {
	if p := os.Getenv("COUCHGO_CONFIG"); p != "" {
		return p
	}
	return config.DefaultPath
}

// abs resolves p against the directory couchgo was started in.
func (a *app) abs(p string) string {
	if filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(a.cwd, p)
}

// load reads the configuration, applies the command line overrides and
// sets up logging. It is idempotent.
func (a *app) load() (*config.Config, error) {
	if a.cfg != nil {
		return a.cfg, nil
	}

	cfg, err := config.Load(a.abs(a.configPath))
	if err != nil {
		return nil, err
	}
	if a.cacheOverride != "" {
		if err := cfg.OverrideCache(a.abs(a.cacheOverride)); err != nil {
			return nil, err
		}
	}
	if err := a.setupLogging(cfg); err != nil {
		return nil, err
	}
	if a.libDir != "" {
		dir := a.abs(a.libDir)
		if err := os.Chdir(dir); err != nil {
			fmt.Fprintf(a.stderr, "Failed to change directory (ignored): %s\n", dir)
		}
	}

	a.cfg = cfg
	return cfg, nil
}

func (a *app) setupLogging(cfg *config.Config) error {
	if cfg.Log.File == "" {
		log.SetupWriter(cfg.Log.Level, cfg.Log.Format, a.stderr)
		return nil
	}
	f, err := os.OpenFile(cfg.Log.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open log file: %w", err)
	}
	a.logFile = f
	log.SetupWriter(cfg.Log.Level, cfg.Log.Format, f)
	return nil
}

func (a *app) close() {
	if a.logFile != nil {
		_ = a.logFile.Close()
	}
}

// openCatalog returns nil when the catalog is disabled.
func (a *app) openCatalog(ctx context.Context, cfg *config.Config) (*catalog.Catalog, error) {
	if !cfg.CatalogEnabled() {
		return nil, nil
	}
	db, err := storage.OpenSQLite(ctx, cfg.Catalog.Path)
	if err != nil {
		return nil, fmt.Errorf("open catalog: %w", err)
	}
	return catalog.New(db), nil
}

func newCompiler(cfg *config.Config, logLine func(string), cat *catalog.Catalog) (*compiler.Cache, error) {
	opts := compiler.Options{
		CacheDir:   cfg.Cache,
		Program:    cfg.Compiler.Program,
		Params:     cfg.Compiler.Params,
		Libs:       cfg.Compiler.Libs,
		Module:     cfg.Compiler.Module,
		ABISource:  cfg.Compiler.ABISource,
		Env:        cfg.Compiler.Env,
		KeepSource: cfg.KeepSource,
		Log:        logLine,
	}
	if cat != nil {
		opts.Recorder = cat
	}
	return compiler.New(opts)
}

// serve runs the query server until stdin ends.
func (a *app) serve(ctx context.Context) error {
	cfg, err := a.load()
	if err != nil {
		return err
	}
	logger := log.WithComponent("main")

	if err := storage.CheckLocalFilesystem(cfg.Cache, "cache"); err != nil {
		return err
	}

	out := bufio.NewWriter(a.stdout)
	writer := protocol.NewWriter(out)

	cat, err := a.openCatalog(ctx, cfg)
	if err != nil {
		// The catalog is bookkeeping only; serve without it.
		logger.Warn("catalog unavailable", "error", err)
	}
	if cat != nil {
		defer cat.Close()
	}

	cc, err := newCompiler(cfg, writer.Log, cat)
	if err != nil {
		return err
	}
	modules := module.NewCache(module.NewPluginLoader(writer.Log), cfg.GCCooldown, writer.Log)
	if cat != nil {
		modules.OnLoad = func(key compiler.Key, _ string) {
			if err := cat.MarkLoaded(ctx, string(key)); err != nil {
				logger.Warn("failed to mark artifact loaded", "key", key, "error", err)
			}
		}
	}
	defer modules.Clear()

	srv := dispatch.New(dispatch.Options{
		Compiler:   cc,
		Scheduler:  build.NewScheduler(cc, cfg.Compiler.Threads),
		Modules:    modules,
		Fetcher:    couch.New(cfg.Port, cfg.Couch.Retries),
		Precompile: cfg.PrecompileEnabled(),
	}, a.stdin, writer)

	logger.Info("serving",
		"cache", cfg.Cache,
		"program", cfg.Compiler.Program,
		"port", cfg.Port,
		"version", version,
	)
	if err := srv.Serve(ctx); err != nil {
		return &exitError{code: 1}
	}
	return nil
}
