// Package doctor checks that a couchgo installation can compile and load
// fragments.
package doctor

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/mattjoyce/couchgo/internal/catalog"
	"github.com/mattjoyce/couchgo/internal/config"
	"github.com/mattjoyce/couchgo/internal/storage"
)

// Result holds the outcome of a validation run.
type Result struct {
	Valid    bool    `json:"valid"`
	Errors   []Issue `json:"errors,omitempty"`
	Warnings []Issue `json:"warnings,omitempty"`
}

// Issue describes a single validation error or warning.
type Issue struct {
	Category string `json:"category"`
	Message  string `json:"message"`
	Field    string `json:"field,omitempty"`
}

// Doctor validates a loaded configuration against the local machine.
type Doctor struct {
	cfg      *config.Config
	lookPath func(string) (string, error)
	fsCheck  func(path, setting string) error
}

// New creates a Doctor for cfg.
func New(cfg *config.Config) *Doctor {
	return &Doctor{
		cfg:      cfg,
		lookPath: exec.LookPath,
		fsCheck:  storage.CheckLocalFilesystem,
	}
}

// Validate runs all checks and returns a result.
func (d *Doctor) Validate(ctx context.Context) *Result {
	r := &Result{Valid: true}

	d.validateToolchain(r)
	d.validateCacheDir(r)
	d.validateABISource(r)
	d.validateCatalog(ctx, r)
	d.warnBuildParams(r)
	d.warnEnvironment(r)
	d.warnSessionSettings(r)

	r.Valid = len(r.Errors) == 0
	return r
}

func (d *Doctor) addError(r *Result, category, field, msg string) {
	r.Errors = append(r.Errors, Issue{Category: category, Field: field, Message: msg})
}

func (d *Doctor) addWarning(r *Result, category, field, msg string) {
	r.Warnings = append(r.Warnings, Issue{Category: category, Field: field, Message: msg})
}

// validateToolchain checks that the compiler program can be executed.
func (d *Doctor) validateToolchain(r *Result) {
	program := d.cfg.Compiler.Program
	if program == "" {
		d.addError(r, "toolchain", "compiler.program", "compiler.program is required")
		return
	}
	if _, err := d.lookPath(program); err != nil {
		d.addError(r, "toolchain", "compiler.program",
			fmt.Sprintf("compiler %q is not executable: %v", program, err))
	}
}

// validateCacheDir checks that the cache directory is writable and local.
// Artifacts are published by rename, which needs a single local filesystem.
func (d *Doctor) validateCacheDir(r *Result) {
	dir := d.cfg.Cache
	if dir == "" {
		d.addError(r, "cache", "cache", "cache is required")
		return
	}
	if err := d.fsCheck(dir, "cache"); err != nil {
		d.addError(r, "cache", "cache", err.Error())
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		d.addError(r, "cache", "cache", fmt.Sprintf("cannot create cache directory: %v", err))
		return
	}
	f, err := os.CreateTemp(dir, ".doctor-*")
	if err != nil {
		d.addError(r, "cache", "cache", fmt.Sprintf("cache directory is not writable: %v", err))
		return
	}
	name := f.Name()
	_ = f.Close()
	_ = os.Remove(name)
}

// validateABISource checks the local checkout referenced by go.mod replace.
func (d *Doctor) validateABISource(r *Result) {
	src := d.cfg.Compiler.ABISource
	if src == "" {
		if d.cfg.Compiler.UsesGoToolchain() {
			d.addError(r, "abi", "compiler.abi_source", "abi_source is not set; go cannot resolve the plugin interface package")
		}
		return
	}
	info, err := os.Stat(src)
	if err != nil || !info.IsDir() {
		d.addError(r, "abi", "compiler.abi_source", fmt.Sprintf("abi_source %q is not a directory", src))
		return
	}
	if _, err := os.Stat(filepath.Join(src, "go.mod")); err != nil {
		d.addError(r, "abi", "compiler.abi_source", fmt.Sprintf("abi_source %q has no go.mod", src))
	}
	if _, err := os.Stat(filepath.Join(src, "pkg", "abi")); err != nil {
		d.addError(r, "abi", "compiler.abi_source", fmt.Sprintf("abi_source %q does not contain pkg/abi", src))
	}
}

// validateCatalog opens the catalog and re-hashes every recorded artifact.
func (d *Doctor) validateCatalog(ctx context.Context, r *Result) {
	if !d.cfg.CatalogEnabled() {
		return
	}
	path := d.cfg.Catalog.Path
	if path == "" {
		path = filepath.Join(d.cfg.Cache, "catalog.db")
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		d.addWarning(r, "catalog", "catalog.path", "catalog does not exist yet; it is created on first compile")
		return
	}

	db, err := storage.OpenSQLite(ctx, path)
	if err != nil {
		d.addError(r, "catalog", "catalog.path", fmt.Sprintf("cannot open catalog: %v", err))
		return
	}
	cat := catalog.New(db)
	defer cat.Close()

	problems, err := cat.Verify(ctx)
	if err != nil {
		d.addError(r, "catalog", "catalog.path", fmt.Sprintf("cannot verify catalog: %v", err))
		return
	}
	for _, p := range problems {
		d.addWarning(r, "catalog", p.Key, fmt.Sprintf("%s: %s", p.Path, p.Reason))
	}
}

// warnBuildParams warns when params do not build a plugin.
func (d *Doctor) warnBuildParams(r *Result) {
	params := d.cfg.Compiler.Params
	if !strings.Contains(params, "-buildmode=plugin") {
		d.addWarning(r, "toolchain", "compiler.params",
			fmt.Sprintf("params %q do not request -buildmode=plugin", params))
	}
	if d.cfg.Compiler.Threads < 0 {
		d.addWarning(r, "toolchain", "compiler.threads",
			fmt.Sprintf("threads %d forces exactly %d build workers", d.cfg.Compiler.Threads, -d.cfg.Compiler.Threads))
	}
}

// warnEnvironment warns about toolchain environment that breaks plugins.
func (d *Doctor) warnEnvironment(r *Result) {
	cgo, ok := d.cfg.Compiler.Env["CGO_ENABLED"]
	if !ok {
		cgo = os.Getenv("CGO_ENABLED")
	}
	if cgo == "0" {
		d.addWarning(r, "env_vars", "compiler.env.CGO_ENABLED", "plugins require cgo; CGO_ENABLED=0 will fail every build")
	}
	for key, value := range d.cfg.Compiler.Env {
		if value == "" {
			d.addWarning(r, "env_vars", "compiler.env."+key,
				"value is empty (possibly unresolved environment variable)")
		}
	}
}

// warnSessionSettings warns about settings with surprising side effects.
func (d *Doctor) warnSessionSettings(r *Result) {
	if d.cfg.GCCooldown == 0 {
		d.addWarning(r, "session", "gc_cooldown", "gc_cooldown is 0; every reset reloads all modules")
	}
	if d.cfg.KeepSource {
		d.addWarning(r, "session", "keep_source", "keep_source leaves generated sources in the cache directory")
	}
}

// FormatHuman returns a human-readable validation report.
func FormatHuman(r *Result) string {
	var b strings.Builder

	if r.Valid && len(r.Warnings) == 0 {
		b.WriteString("Installation valid.\n")
		return b.String()
	}

	if r.Valid && len(r.Warnings) > 0 {
		b.WriteString("Installation valid")
		fmt.Fprintf(&b, " (%d warning(s))\n", len(r.Warnings))
	}

	if !r.Valid {
		fmt.Fprintf(&b, "Installation invalid (%d error(s), %d warning(s))\n", len(r.Errors), len(r.Warnings))
	}

	for _, e := range r.Errors {
		if e.Field != "" {
			fmt.Fprintf(&b, "  ERROR [%s] %s: %s\n", e.Category, e.Field, e.Message)
		} else {
			fmt.Fprintf(&b, "  ERROR [%s] %s\n", e.Category, e.Message)
		}
	}
	for _, w := range r.Warnings {
		if w.Field != "" {
			fmt.Fprintf(&b, "  WARN  [%s] %s: %s\n", w.Category, w.Field, w.Message)
		} else {
			fmt.Fprintf(&b, "  WARN  [%s] %s\n", w.Category, w.Message)
		}
	}

	return b.String()
}

// FormatJSON returns the result as indented JSON.
func FormatJSON(r *Result) (string, error) {
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return "", err
	}
	return string(data), nil
}
