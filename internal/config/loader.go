package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

// DefaultPath is where CouchDB installations keep the query server config.
const DefaultPath = "/etc/couchdb/couchgo.yaml"

var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// Load reads, defaults and validates the configuration at configPath.
// Relative paths inside the file are resolved against the file's directory.
func Load(configPath string) (*Config, error) {
	absPath, err := filepath.Abs(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve config path %q: %w", configPath, err)
	}

	info, err := os.Stat(absPath)
	if err != nil {
		return nil, fmt.Errorf("config file not found: %s\n"+
			"Hint: Check the path or run with -f <config>", absPath)
	}
	if info.IsDir() {
		absPath = filepath.Join(absPath, "couchgo.yaml")
		if _, err := os.Stat(absPath); err != nil {
			return nil, fmt.Errorf("directory provided but couchgo.yaml not found: %s", absPath)
		}
	}

	cfg, err := loadConfigFile(absPath)
	if err != nil {
		return nil, err
	}
	cfg.SourcePath = absPath

	cfg = applyConfigDefaults(cfg)
	resolvePaths(cfg, filepath.Dir(absPath))

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// OverrideCache replaces the cache directory (CLI -o) and re-derives the
// default catalog location.
func (c *Config) OverrideCache(dir string) error {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return fmt.Errorf("resolve cache override %q: %w", dir, err)
	}
	if c.Catalog.Path == filepath.Join(c.Cache, "catalog.db") {
		c.Catalog.Path = filepath.Join(abs, "catalog.db")
	}
	c.Cache = abs
	return nil
}

// loadConfigFile loads and parses a single config file.
func loadConfigFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}

	interpolated := interpolateEnv(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(interpolated), &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}
	return &cfg, nil
}

func applyConfigDefaults(cfg *Config) *Config {
	defaults := Defaults()

	if cfg.Cache == "" {
		cfg.Cache = defaults.Cache
	}
	if cfg.Port == 0 {
		cfg.Port = defaults.Port
	}
	if cfg.Precompile == nil {
		cfg.Precompile = defaults.Precompile
	}
	if cfg.GCCooldown == 0 {
		cfg.GCCooldown = defaults.GCCooldown
	}
	if cfg.Compiler.Program == "" {
		cfg.Compiler.Program = defaults.Compiler.Program
	}
	if cfg.Compiler.Params == "" {
		cfg.Compiler.Params = defaults.Compiler.Params
	}
	if cfg.Compiler.Module == "" {
		cfg.Compiler.Module = defaults.Compiler.Module
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = defaults.Log.Level
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = defaults.Log.Format
	}
	if cfg.Catalog.Enabled == nil {
		cfg.Catalog.Enabled = defaults.Catalog.Enabled
	}
	return cfg
}

// resolvePaths makes path-valued settings absolute relative to baseDir.
// The compiler program is only resolved when it names a path, so "go" keeps
// being looked up in $PATH.
func resolvePaths(cfg *Config, baseDir string) {
	cfg.Cache = relPath(baseDir, cfg.Cache)
	if strings.ContainsRune(cfg.Compiler.Program, filepath.Separator) {
		cfg.Compiler.Program = relPath(baseDir, cfg.Compiler.Program)
	}
	if cfg.Compiler.ABISource != "" {
		cfg.Compiler.ABISource = relPath(baseDir, cfg.Compiler.ABISource)
	}
	if cfg.Log.File != "" {
		cfg.Log.File = relPath(baseDir, cfg.Log.File)
	}
	if cfg.Catalog.Path == "" {
		cfg.Catalog.Path = filepath.Join(cfg.Cache, "catalog.db")
	} else {
		cfg.Catalog.Path = relPath(baseDir, cfg.Catalog.Path)
	}
}

func relPath(base, p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(base, p)
}

// interpolateEnv replaces ${VAR} with environment variable values.
// Undefined variables are left as-is (not expanded).
func interpolateEnv(input string) string {
	return envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		varName := envVarPattern.FindStringSubmatch(match)[1]
		if value, exists := os.LookupEnv(varName); exists {
			return value
		}
		return match
	})
}
