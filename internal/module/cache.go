package module

import (
	"log/slog"
	"sort"
	"time"

	"github.com/mattjoyce/couchgo/internal/compiler"
	"github.com/mattjoyce/couchgo/internal/log"
	"github.com/mattjoyce/couchgo/pkg/abi"
)

// DefaultCooldown is the minimum time between two GC sweeps.
const DefaultCooldown = 5 * time.Second

// Cache keeps loaded modules by key. It is used from the protocol loop
// only and is not safe for concurrent use.
type Cache struct {
	loader   Loader
	cooldown time.Duration
	nextGC   time.Time
	modules  map[compiler.Key]*Module
	logFn    abi.LogFunc
	logger   *slog.Logger

	// OnLoad, if set, is called after a module was opened.
	OnLoad func(key compiler.Key, path string)
}

// NewCache returns an empty cache. logFn is bound to every loaded plugin.
func NewCache(loader Loader, cooldown time.Duration, logFn abi.LogFunc) *Cache {
	if cooldown < 0 {
		cooldown = DefaultCooldown
	}
	if logFn == nil {
		logFn = func(string) {}
	}
	return &Cache{
		loader:   loader,
		cooldown: cooldown,
		modules:  make(map[compiler.Key]*Module),
		logFn:    logFn,
		logger:   log.WithComponent("module"),
	}
}

// Get returns the module for key, opening the artifact at path on a miss.
func (c *Cache) Get(key compiler.Key, path string) (*Module, error) {
	if m, ok := c.modules[key]; ok {
		return m, nil
	}

	proc, err := c.loader.Open(path)
	if err != nil {
		return nil, err
	}
	proc.SetLogger(c.logFn)

	m := &Module{Key: key, Path: path, Proc: proc, loader: c.loader}
	c.modules[key] = m
	log.WithFragment(string(key)).Debug("module loaded", "component", "module", "path", path)
	if c.OnLoad != nil {
		c.OnLoad(key, path)
	}
	return m, nil
}

// Peek returns the loaded module for key without opening anything.
func (c *Cache) Peek(key compiler.Key) (*Module, bool) {
	m, ok := c.modules[key]
	return m, ok
}

// Len returns the number of loaded modules.
func (c *Cache) Len() int {
	return len(c.modules)
}

// Sweep closes every module if now has reached the GC deadline and starts a
// new cooldown window. It reports whether a sweep happened.
func (c *Cache) Sweep(now time.Time) bool {
	if now.Before(c.nextGC) {
		return false
	}
	c.Clear()
	c.nextGC = now.Add(c.cooldown)
	return true
}

// Clear closes every module.
func (c *Cache) Clear() {
	if len(c.modules) == 0 {
		return
	}
	keys := make([]string, 0, len(c.modules))
	for k := range c.modules {
		keys = append(keys, string(k))
	}
	sort.Strings(keys)

	for _, k := range keys {
		m := c.modules[compiler.Key(k)]
		if err := m.Close(); err != nil {
			log.WithFragment(k).Warn("module close failed", "component", "module", "error", err)
		}
	}
	c.logger.Debug("module cache cleared", "modules", len(keys))
	c.modules = make(map[compiler.Key]*Module)
}
