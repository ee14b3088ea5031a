package config

import (
	"fmt"
	"strings"
)

// validate performs basic validation on the configuration.
func validate(cfg *Config) error {
	if strings.TrimSpace(cfg.Cache) == "" {
		return fmt.Errorf("cache is required")
	}
	if strings.TrimSpace(cfg.Compiler.Program) == "" {
		return fmt.Errorf("compiler.program is required")
	}
	if cfg.Port <= 0 || cfg.Port > 65535 {
		return fmt.Errorf("port must be in 1..65535 (got %d)", cfg.Port)
	}
	if cfg.GCCooldown < 0 {
		return fmt.Errorf("gc_cooldown must not be negative")
	}
	if cfg.Couch.Retries < 0 {
		return fmt.Errorf("couch.retries must not be negative")
	}

	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[strings.ToLower(cfg.Log.Level)] {
		return fmt.Errorf("log.level must be one of: debug, info, warn, error (got %q)", cfg.Log.Level)
	}
	if f := strings.ToLower(cfg.Log.Format); f != "json" && f != "text" {
		return fmt.Errorf("log.format must be json or text (got %q)", cfg.Log.Format)
	}

	for name, value := range map[string]string{
		"compiler.program":    cfg.Compiler.Program,
		"compiler.params":     cfg.Compiler.Params,
		"compiler.libs":       cfg.Compiler.Libs,
		"compiler.abi_source": cfg.Compiler.ABISource,
	} {
		if err := checkUnresolvedEnvVar(name, value); err != nil {
			return err
		}
	}
	for key, value := range cfg.Compiler.Env {
		if key == "" || strings.ContainsRune(key, '=') {
			return fmt.Errorf("compiler.env: invalid variable name %q", key)
		}
		if err := checkUnresolvedEnvVar("compiler.env."+key, value); err != nil {
			return err
		}
	}
	if cfg.Compiler.UsesGoToolchain() && strings.TrimSpace(cfg.Compiler.ABISource) == "" {
		return fmt.Errorf("compiler.abi_source is required with the go toolchain")
	}
	return nil
}

func checkUnresolvedEnvVar(field, value string) error {
	if !envVarPattern.MatchString(value) {
		return nil
	}
	matches := envVarPattern.FindStringSubmatch(value)
	if len(matches) > 1 {
		return fmt.Errorf("%s: environment variable ${%s} is not set", field, matches[1])
	}
	return fmt.Errorf("%s: unresolved environment variable", field)
}
