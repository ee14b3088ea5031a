package compiler

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strings"
	"sync"
)

// LibDir is the staging subdirectory that receives the shared library tree.
const LibDir = "lib"

// Staging manages the process-scoped scratch directory <cache>/env-<pid>.
// All methods are safe for concurrent use.
type Staging struct {
	mu        sync.Mutex
	dir       string
	module    string
	abiSource string
	tree      map[string]any
	ready     bool
}

// NewStaging creates a staging manager under cacheDir. Nothing is written
// until Prepare.
func NewStaging(cacheDir, module, abiSource string) *Staging {
	return &Staging{
		dir:       filepath.Join(cacheDir, fmt.Sprintf("env-%d", os.Getpid())),
		module:    module,
		abiSource: abiSource,
	}
}

// Dir returns the staging directory path.
func (s *Staging) Dir() string {
	return s.dir
}

// SetShared replaces the shared library tree. It is written on the next
// Prepare. String leaves become files, objects become directories.
func (s *Staging) SetShared(tree map[string]any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tree = tree
	s.ready = false
}

// Prepare creates the staging directory with its go.mod and library tree if
// it is missing or stale.
func (s *Staging) Prepare() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ready {
		if _, err := os.Stat(s.dir); err == nil {
			return s.dir, nil
		}
	}

	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return "", fmt.Errorf("create staging directory: %w", err)
	}
	if err := os.WriteFile(filepath.Join(s.dir, "go.mod"), []byte(s.goMod()), 0o644); err != nil {
		return "", fmt.Errorf("write staging go.mod: %w", err)
	}

	libPath := filepath.Join(s.dir, LibDir)
	if err := os.RemoveAll(libPath); err != nil {
		return "", fmt.Errorf("clear staged library tree: %w", err)
	}
	if len(s.tree) > 0 {
		if err := writeTree(libPath, s.tree); err != nil {
			_ = os.RemoveAll(libPath)
			return "", fmt.Errorf("stage library tree: %w", err)
		}
	}

	s.ready = true
	return s.dir, nil
}

// Drop removes the staging directory. The shared tree is kept and staged
// again on the next Prepare.
func (s *Staging) Drop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ready = false
	if err := os.RemoveAll(s.dir); err != nil {
		return fmt.Errorf("remove staging directory: %w", err)
	}
	return nil
}

func (s *Staging) goMod() string {
	var b strings.Builder
	fmt.Fprintf(&b, "module %s\n\n", s.module)
	if v := goVersion(); v != "" {
		fmt.Fprintf(&b, "go %s\n\n", v)
	}
	if s.abiSource != "" {
		root := moduleRoot(ABIImport)
		fmt.Fprintf(&b, "require %s v0.0.0\n\n", root)
		fmt.Fprintf(&b, "replace %s => %s\n", root, s.abiSource)
	}
	return b.String()
}

func writeTree(dir string, tree map[string]any) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	names := make([]string, 0, len(tree))
	for name := range tree {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		if err := validateEntryName(name); err != nil {
			return err
		}
		switch v := tree[name].(type) {
		case string:
			file := name
			if filepath.Ext(file) == "" {
				file += ".go"
			}
			if err := os.WriteFile(filepath.Join(dir, file), []byte(v), 0o644); err != nil {
				return fmt.Errorf("write %q: %w", name, err)
			}
		case map[string]any:
			if err := writeTree(filepath.Join(dir, name), v); err != nil {
				return err
			}
		default:
			// Non-code values (numbers, arrays) have no file representation.
		}
	}
	return nil
}

func validateEntryName(name string) error {
	trimmed := strings.TrimSpace(name)
	if trimmed == "" {
		return fmt.Errorf("library entry name is empty")
	}
	if trimmed == "." || trimmed == ".." {
		return fmt.Errorf("library entry %q is invalid", name)
	}
	if strings.Contains(trimmed, "/") || strings.Contains(trimmed, `\`) {
		return fmt.Errorf("library entry %q must not contain path separators", name)
	}
	return nil
}

func moduleRoot(importPath string) string {
	if i := strings.Index(importPath, "/pkg/"); i >= 0 {
		return importPath[:i]
	}
	return importPath
}

func goVersion() string {
	v := runtime.Version()
	if !strings.HasPrefix(v, "go1.") {
		return ""
	}
	v = strings.TrimPrefix(v, "go")
	if i := strings.IndexAny(v, " -+"); i >= 0 {
		v = v[:i]
	}
	return v
}
