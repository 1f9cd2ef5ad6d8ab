package config

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"

	"github.com/aegis-gate/aegisgate-go/internal/logs"
	"github.com/aegis-gate/aegisgate-go/internal/secret"
)

// DefaultConfigFileName is the JSON file the loader searches for when
// no --config flag is given.
const DefaultConfigFileName = "aegisgate.json"

const envPrefix = "AEGISGATE"

// Load builds the effective configuration for the CLI: flags and
// AEGISGATE_* environment variables through viper, the config file
// discovered via --config or the standard locations, direct environment
// overrides, then secret reference expansion and validation. A nil
// resolver leaves ${...} references untouched.
func Load(ctx context.Context, resolver *secret.Resolver) (*Config, error) {
	setupViper()

	path := viper.GetString("config")
	if path == "" {
		path = findConfigFile()
	}

	cfg := DefaultConfig()
	if path != "" {
		if err := loadConfigFile(cfg, path); err != nil {
			return nil, err
		}
	}
	applyViperOverrides(cfg)
	applyEnvOverrides(cfg)
	if err := finalize(ctx, cfg, resolver); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFromFile loads one file over the defaults, applying environment
// overrides and validation but no secret expansion. Viper is not
// consulted, which keeps it independent of global flag state.
func LoadFromFile(path string) (*Config, error) {
	return LoadWithResolver(context.Background(), path, nil)
}

// LoadWithResolver is LoadFromFile plus ${env:...} and ${keyring:...}
// expansion through the given resolver.
func LoadWithResolver(ctx context.Context, path string, resolver *secret.Resolver) (*Config, error) {
	cfg := DefaultConfig()
	if path != "" {
		if err := loadConfigFile(cfg, path); err != nil {
			return nil, err
		}
	}
	applyEnvOverrides(cfg)
	if err := finalize(ctx, cfg, resolver); err != nil {
		return nil, err
	}
	return cfg, nil
}

// finalize runs the steps shared by every load path: data directory
// resolution, secret expansion, validation. Expansion runs after the
// environment overlay so references arriving via environment variables
// resolve too.
func finalize(ctx context.Context, cfg *Config, resolver *secret.Resolver) error {
	if err := ensureDataDir(cfg); err != nil {
		return err
	}
	if resolver != nil {
		if err := resolver.ExpandStruct(ctx, cfg); err != nil {
			return fmt.Errorf("resolve secret references: %w", err)
		}
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}

func setupViper() {
	viper.SetEnvPrefix(envPrefix)
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

// findConfigFile checks the working directory, then the home data
// directory. Returns "" when neither exists.
func findConfigFile() string {
	candidates := []string{DefaultConfigFileName}
	if home, err := os.UserHomeDir(); err == nil {
		candidates = append(candidates, filepath.Join(home, ".aegisgate", DefaultConfigFileName))
	}
	for _, candidate := range candidates {
		if info, err := os.Stat(candidate); err == nil && !info.IsDir() {
			return candidate
		}
	}
	return ""
}

// loadConfigFile unmarshals path over cfg. An empty file is valid and
// leaves the defaults untouched, so `touch aegisgate.json` works.
func loadConfigFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file %s: %w", path, err)
	}
	if len(bytes.TrimSpace(data)) > 0 {
		if err := json.Unmarshal(data, cfg); err != nil {
			return fmt.Errorf("parse config file %s: %w", path, err)
		}
	}
	cfg.path = path
	return nil
}

// applyViperOverrides layers bound flag values (and their AEGISGATE_*
// equivalents) over the file. Only set for keys the root command binds.
func applyViperOverrides(cfg *Config) {
	if v := viper.GetString("listen"); v != "" {
		cfg.Listen = v
	}
	if v := viper.GetString("data-dir"); v != "" {
		cfg.DataDir = v
	}
	if v := viper.GetString("policy"); v != "" {
		cfg.PolicyPath = v
	}
	if v := viper.GetString("log-level"); v != "" {
		if cfg.Logging == nil {
			cfg.Logging = logs.DefaultConfig()
		}
		cfg.Logging.Level = v
	}
}

// applyEnvOverrides reads the AEGISGATE_* variables that matter even
// when viper is not in play, such as under tests or library use.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("AEGISGATE_LISTEN"); v != "" {
		cfg.Listen = v
	}
	if v := os.Getenv("AEGISGATE_DATA_DIR"); v != "" {
		cfg.DataDir = v
	}
	if v := os.Getenv("AEGISGATE_POLICY"); v != "" {
		cfg.PolicyPath = v
	}
	if v := os.Getenv("AEGISGATE_LOG_LEVEL"); v != "" {
		if cfg.Logging == nil {
			cfg.Logging = logs.DefaultConfig()
		}
		cfg.Logging.Level = v
	}
	if v := os.Getenv("AEGISGATE_API_KEY"); v != "" {
		if cfg.API == nil {
			cfg.API = &APIConfig{}
		}
		// Setting a key implies apikey auth unless jwt was chosen.
		if cfg.API.AuthMode == "" || cfg.API.AuthMode == AuthModeNone {
			cfg.API.AuthMode = AuthModeAPIKey
		}
		cfg.API.APIKey = v
	}
	if v := os.Getenv("AEGISGATE_JWT_SECRET"); v != "" {
		if cfg.API == nil {
			cfg.API = &APIConfig{}
		}
		cfg.API.JWTSecret = v
	}
	if v := os.Getenv("AEGISGATE_INTEGRITY_SECRET"); v != "" {
		if cfg.Integrity == nil {
			cfg.Integrity = &IntegrityConfig{Enabled: true}
		}
		cfg.Integrity.Secret = v
	}
	if v := os.Getenv("AEGISGATE_LLM_API_KEY"); v != "" && cfg.LLM != nil {
		cfg.LLM.APIKey = v
	}
}

// ensureDataDir resolves and creates the data directory. Supports the
// ~/ shorthand the same way the log paths do.
func ensureDataDir(cfg *Config) error {
	if cfg.DataDir == "" || strings.HasPrefix(cfg.DataDir, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return fmt.Errorf("resolve home directory: %w", err)
		}
		if cfg.DataDir == "" {
			cfg.DataDir = filepath.Join(home, ".aegisgate")
		} else {
			cfg.DataDir = filepath.Join(home, cfg.DataDir[2:])
		}
	}
	if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
		return fmt.Errorf("create data directory %s: %w", cfg.DataDir, err)
	}
	return nil
}

// SaveConfig writes cfg as indented JSON. Secrets may be present, so
// the file is owner read-write only.
func SaveConfig(cfg *Config, path string) error {
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("write config file: %w", err)
	}
	return nil
}

// CreateSampleConfig materializes the full default tree, including
// sections that are normally nil, so users edit keys instead of
// guessing them. The result loads and validates as written.
func CreateSampleConfig(path string) error {
	cfg := DefaultConfig()
	cfg.Integrity = &IntegrityConfig{Enabled: false}
	return SaveConfig(cfg, path)
}
