package module

import (
	"fmt"
	"plugin"
	"sync"

	"github.com/mattjoyce/couchgo/pkg/abi"
)

//go:generate mockgen -destination=mocks/mock_loader.go -package=mocks github.com/mattjoyce/couchgo/internal/module Loader

// Loader opens compiled artifacts.
type Loader interface {
	// Open loads the artifact at path and returns the handle produced by its
	// entry symbol.
	Open(path string) (abi.Proc, error)
	// Release gives up the artifact at path. The handle must not be used
	// afterwards.
	Release(path string) error
}

// KindLoadError is the envelope kind of a failed load.
const KindLoadError = "load_error"

// LoadError reports an artifact that cannot be opened or lacks the entry
// symbol.
type LoadError struct {
	Path   string
	Reason string
	Err    error
}

func (e *LoadError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Reason, e.Path, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Reason, e.Path)
}

func (e *LoadError) Unwrap() error { return e.Err }

// Kind returns the protocol error kind.
func (e *LoadError) Kind() string { return KindLoadError }

// PluginLoader loads artifacts with the Go plugin package. The runtime never
// unmaps a plugin, so Release only forgets the handle.
type PluginLoader struct {
	mu      sync.Mutex
	handles map[string]*plugin.Plugin
	logLine func(string)
}

// NewPluginLoader returns a loader reporting load/unload through logLine.
func NewPluginLoader(logLine func(string)) *PluginLoader {
	if logLine == nil {
		logLine = func(string) {}
	}
	return &PluginLoader{handles: make(map[string]*plugin.Plugin), logLine: logLine}
}

// Open implements Loader.
func (l *PluginLoader) Open(path string) (abi.Proc, error) {
	p, err := plugin.Open(path)
	if err != nil {
		return nil, &LoadError{Path: path, Reason: "Cannot open assembly", Err: err}
	}
	sym, err := p.Lookup(abi.EntrySymbol)
	if err != nil {
		return nil, &LoadError{Path: path, Reason: "Assembly is corrupted", Err: err}
	}
	ctor, ok := sym.(func() abi.Proc)
	if !ok {
		return nil, &LoadError{
			Path:   path,
			Reason: "Assembly is corrupted",
			Err:    fmt.Errorf("%s has type %T", abi.EntrySymbol, sym),
		}
	}
	proc := ctor()
	if proc == nil {
		return nil, &LoadError{Path: path, Reason: "Assembly is corrupted", Err: fmt.Errorf("%s returned nil", abi.EntrySymbol)}
	}

	l.mu.Lock()
	l.handles[path] = p
	l.mu.Unlock()
	l.logLine("load: " + path)
	return proc, nil
}

// Release implements Loader.
func (l *PluginLoader) Release(path string) error {
	l.mu.Lock()
	delete(l.handles, path)
	l.mu.Unlock()
	l.logLine("unload: " + path)
	return nil
}
