package compiler

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/mattjoyce/couchgo/internal/log"
)

// Recorder is notified of every published artifact.
type Recorder interface {
	Record(ctx context.Context, key, path string, compileDur time.Duration) error
}

// Options configures a Cache.
type Options struct {
	CacheDir   string
	Program    string
	Params     string
	Libs       string
	Module     string
	ABISource  string
	Env        map[string]string
	KeepSource bool
	// Log receives operator-visible lines (the protocol log channel).
	Log func(string)
	// Recorder is optional.
	Recorder Recorder
}

// Artifact is a published, loadable build output.
type Artifact struct {
	Key  Key
	Path string
}

// Cache compiles fragments into content-addressed artifacts.
//
// Artifacts live at <cache>/<key>.so and are only ever created by renaming a
// finished build out of the staging directory, so a reader sees either no
// file or a complete one.
type Cache struct {
	dir        string
	program    string
	params     string
	libs       string
	env        map[string]string
	keepSource bool
	staging    *Staging
	logLine    func(string)
	recorder   Recorder
}

// New creates the cache directory if needed and returns a Cache.
func New(opts Options) (*Cache, error) {
	dir := strings.TrimSpace(opts.CacheDir)
	if dir == "" {
		return nil, fmt.Errorf("cache directory is empty")
	}
	if strings.TrimSpace(opts.Program) == "" {
		return nil, fmt.Errorf("compiler program is empty")
	}
	dir = filepath.Clean(dir)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create cache directory: %w", err)
	}

	module := opts.Module
	if module == "" {
		module = "couchgo.local/fragments"
	}
	logLine := opts.Log
	if logLine == nil {
		logLine = func(string) {}
	}

	return &Cache{
		dir:        dir,
		program:    opts.Program,
		params:     opts.Params,
		libs:       opts.Libs,
		env:        opts.Env,
		keepSource: opts.KeepSource,
		staging:    NewStaging(dir, module, opts.ABISource),
		logLine:    logLine,
		recorder:   opts.Recorder,
	}, nil
}

// Dir returns the cache directory.
func (c *Cache) Dir() string { return c.dir }

// Hash returns the cache key of code.
func (c *Cache) Hash(code string) Key {
	return Hash(code, c.params)
}

// ArtifactPath returns the canonical artifact path of key.
func (c *Cache) ArtifactPath(key Key) string {
	return filepath.Join(c.dir, string(key)+".so")
}

// SourcePath returns where a kept source of key is stored.
func (c *Cache) SourcePath(key Key) string {
	return filepath.Join(c.dir, string(key)+".go")
}

// IsCompiled reports whether the artifact of key is published.
func (c *Cache) IsCompiled(key Key) bool {
	info, err := os.Stat(c.ArtifactPath(key))
	return err == nil && info.Mode().IsRegular()
}

// SetSharedCode installs the library tree staged for subsequent compiles.
func (c *Cache) SetSharedCode(tree map[string]any) {
	c.staging.SetShared(tree)
}

// PrepareEnv ensures the staging directory exists.
func (c *Cache) PrepareEnv() (string, error) {
	return c.staging.Prepare()
}

// DropEnv removes the staging directory.
func (c *Cache) DropEnv() error {
	return c.staging.Drop()
}

// Compile returns the artifact of code, building and publishing it first if
// it is not in the cache yet.
func (c *Cache) Compile(ctx context.Context, code string) (Artifact, error) {
	key := c.Hash(code)
	art := Artifact{Key: key, Path: c.ArtifactPath(key)}
	if c.IsCompiled(key) {
		return art, nil
	}
	if err := c.build(ctx, key, code, true); err != nil {
		return Artifact{}, err
	}
	return art, nil
}

// Check compiles code and discards the result.
func (c *Cache) Check(ctx context.Context, code string) error {
	return c.build(ctx, c.Hash(code), code, false)
}

// Clear removes every artifact and kept source from the cache directory.
func (c *Cache) Clear() (int, error) {
	entries, err := os.ReadDir(c.dir)
	if err != nil {
		return 0, fmt.Errorf("read cache directory: %w", err)
	}
	removed := 0
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasPrefix(name, "mod_") {
			continue
		}
		if ext := filepath.Ext(name); ext != ".so" && ext != ".go" {
			continue
		}
		if err := os.Remove(filepath.Join(c.dir, name)); err != nil && !errors.Is(err, os.ErrNotExist) {
			return removed, fmt.Errorf("remove %s: %w", name, err)
		}
		removed++
	}
	return removed, nil
}

func (c *Cache) build(ctx context.Context, key Key, code string, publish bool) error {
	dir, err := c.PrepareEnv()
	if err != nil {
		return err
	}

	logger := log.WithFragment(string(key)).With("component", "compiler")
	src := SplitSource(code)
	stem := fmt.Sprintf("%s-%s", key, uuid.NewString())
	srcPath := filepath.Join(dir, stem+".go")
	outPath := filepath.Join(dir, stem+".so")

	if err := os.WriteFile(srcPath, []byte(Assemble(src)), 0o644); err != nil {
		return fmt.Errorf("write translation unit: %w", err)
	}
	defer c.disposeSource(key, srcPath)

	args := append(strings.Fields(c.params), "-o", outPath, srcPath)
	cmdLine := strings.Join(append([]string{c.program}, args...), " ")
	c.logLine("compile: " + cmdLine)

	cmd := exec.CommandContext(ctx, c.program, args...)
	cmd.Dir = dir
	cmd.Env = c.environ(src.Libs)

	started := time.Now()
	out, err := cmd.CombinedOutput()
	elapsed := time.Since(started)
	if err != nil {
		_ = os.Remove(outPath)
		logger.Debug("toolchain failed", "error", err)
		return &CompileError{Key: key, CommandLine: cmdLine, Output: string(out), Err: err}
	}
	if !publish {
		_ = os.Remove(outPath)
		return nil
	}

	final := c.ArtifactPath(key)
	if err := os.Rename(outPath, final); err != nil {
		_ = os.Remove(outPath)
		return fmt.Errorf("publish artifact %s: %w", key, err)
	}
	logger.Info("artifact published", "duration_ms", elapsed.Milliseconds())

	if c.recorder != nil {
		if err := c.recorder.Record(ctx, string(key), final, elapsed); err != nil {
			logger.Warn("catalog record failed", "error", err)
		}
	}
	return nil
}

// disposeSource removes the staged translation unit, or moves it next to the
// artifact when sources are kept.
func (c *Cache) disposeSource(key Key, srcPath string) {
	if c.keepSource {
		if err := os.Rename(srcPath, c.SourcePath(key)); err == nil {
			return
		}
	}
	_ = os.Remove(srcPath)
}

func (c *Cache) environ(fragmentLibs string) []string {
	env := os.Environ()

	names := make([]string, 0, len(c.env))
	for name := range c.env {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		env = append(env, name+"="+c.env[name])
	}

	ldflags := strings.TrimSpace(strings.Join([]string{os.Getenv("CGO_LDFLAGS"), c.env["CGO_LDFLAGS"], fragmentLibs, c.libs}, " "))
	if ldflags != "" {
		env = append(env, "CGO_LDFLAGS="+strings.Join(strings.Fields(ldflags), " "))
	}
	return env
}
