package config

import (
	"path/filepath"
	"strings"
	"time"
)

// Config represents the complete couchgo configuration.
type Config struct {
	// Cache is the directory holding compiled artifacts and staging areas.
	Cache      string         `yaml:"cache"`
	Port       int            `yaml:"port"`
	KeepSource bool           `yaml:"keep_source"`
	Precompile *bool          `yaml:"precompile,omitempty"`
	GCCooldown time.Duration  `yaml:"gc_cooldown"`
	Compiler   CompilerConfig `yaml:"compiler"`
	Couch      CouchConfig    `yaml:"couch"`
	Log        LogConfig      `yaml:"log"`
	Catalog    CatalogConfig  `yaml:"catalog"`

	// SourcePath is the absolute path of the loaded file, empty for defaults.
	SourcePath string `yaml:"-"`
}

// CompilerConfig defines the external toolchain invocation.
type CompilerConfig struct {
	Program string `yaml:"program"`
	// Params are split on whitespace and passed before "-o <out> <src>".
	// They are part of every cache key.
	Params string `yaml:"params"`
	// Libs is appended to CGO_LDFLAGS for every fragment.
	Libs string `yaml:"libs"`
	// Threads: >0 exact worker count, <0 exactly -Threads, 0 = number of CPUs.
	Threads   int               `yaml:"threads"`
	Module    string            `yaml:"module"`
	ABISource string            `yaml:"abi_source"`
	Env       map[string]string `yaml:"env,omitempty"`
}

// UsesGoToolchain reports whether Program is the go command. Plugins built by
// it resolve the interface package through abi_source.
func (c CompilerConfig) UsesGoToolchain() bool {
	name := strings.TrimSuffix(filepath.Base(c.Program), ".exe")
	return name == "go"
}

// CouchConfig defines the outbound HTTP client used by lookup and queryView.
type CouchConfig struct {
	Retries int `yaml:"retries"`
}

// LogConfig defines service logging.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	File   string `yaml:"file"`
}

// CatalogConfig defines the artifact catalog database.
type CatalogConfig struct {
	Enabled *bool  `yaml:"enabled,omitempty"`
	Path    string `yaml:"path"`
}

// Defaults returns a Config with sensible defaults.
func Defaults() *Config {
	return &Config{
		Cache:      "./cache",
		Port:       5984,
		Precompile: boolPtr(true),
		GCCooldown: 5 * time.Second,
		Compiler: CompilerConfig{
			Program: "go",
			Params:  "build -buildmode=plugin",
			Module:  "couchgo.local/fragments",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
		Catalog: CatalogConfig{
			Enabled: boolPtr(true),
		},
	}
}

// PrecompileEnabled reports whether ddoc registration compiles every fragment.
func (c *Config) PrecompileEnabled() bool {
	return c.Precompile == nil || *c.Precompile
}

// CatalogEnabled reports whether published artifacts are recorded.
func (c *Config) CatalogEnabled() bool {
	return c.Catalog.Enabled == nil || *c.Catalog.Enabled
}

func boolPtr(b bool) *bool { return &b }
