// Package config loads, validates, and persists the gate configuration.
//
// Configuration is a single JSON file applied over compiled defaults,
// then AEGISGATE_* environment variables, then secret reference
// expansion (${env:...}, ${keyring:...}). The resolved struct is
// validated before anything consumes it.
package config

import (
	"errors"
	"fmt"

	"github.com/aegis-gate/aegisgate-go/internal/alerting"
	"github.com/aegis-gate/aegisgate-go/internal/guard"
	"github.com/aegis-gate/aegisgate-go/internal/llm"
	"github.com/aegis-gate/aegisgate-go/internal/logs"
	"github.com/aegis-gate/aegisgate-go/internal/observability"
	"github.com/aegis-gate/aegisgate-go/internal/storage"
)

// Admin API authentication modes.
const (
	// AuthModeNone disables authentication. The server only binds
	// loopback addresses in this mode.
	AuthModeNone = "none"
	// AuthModeAPIKey requires the X-API-Key header on every request.
	AuthModeAPIKey = "apikey"
	// AuthModeJWT requires a bearer token signed with JWTSecret.
	AuthModeJWT = "jwt"
)

// Config is the root configuration for the gate daemon and CLI.
type Config struct {
	// Listen is the admin API address, host:port.
	Listen string `json:"listen" mapstructure:"listen"`

	// DataDir holds the event store, search index, and quarantine
	// journal. Defaults to ~/.aegisgate.
	DataDir string `json:"data_dir,omitempty" mapstructure:"data_dir"`

	// Guard configures scanning, recovery, and the per-session layers.
	Guard *guard.Config `json:"guard,omitempty" mapstructure:"guard"`

	// PolicyPath points at the action policy file. Empty runs the
	// built-in default policy.
	PolicyPath string `json:"policy_path,omitempty" mapstructure:"policy_path"`

	// PolicyWatch reloads the policy file on change.
	PolicyWatch bool `json:"policy_watch" mapstructure:"policy_watch"`

	// LLM is the judge model client. Nil disables the judge layer
	// regardless of guard settings.
	LLM *llm.ClientConfig `json:"llm,omitempty" mapstructure:"llm"`

	// Vision is the model used to transcribe images before scanning.
	// Nil falls back to metadata-only media checks.
	Vision *llm.ClientConfig `json:"vision,omitempty" mapstructure:"vision"`

	// Alerting configures threshold rules and webhook delivery.
	Alerting *alerting.Config `json:"alerting,omitempty" mapstructure:"alerting"`

	// Integrity configures HMAC tagging of scanned tool outputs.
	Integrity *IntegrityConfig `json:"integrity,omitempty" mapstructure:"integrity"`

	// API controls admin API authentication.
	API *APIConfig `json:"api,omitempty" mapstructure:"api"`

	// Logging configures the zap logger and log files.
	Logging *logs.Config `json:"logging,omitempty" mapstructure:"logging"`

	// Storage configures event retention and the search index.
	Storage *StorageConfig `json:"storage,omitempty" mapstructure:"storage"`

	// Observability configures health checks, metrics, and tracing.
	Observability *observability.Config `json:"observability,omitempty" mapstructure:"observability"`

	// CheckForUpdates looks up the latest release at startup and logs
	// when a newer version exists. Never installs anything.
	CheckForUpdates bool `json:"check_for_updates" mapstructure:"check_for_updates"`

	// path records where the file was loaded from. Empty when running
	// on compiled defaults.
	path string
}

// IntegrityConfig controls HMAC tagging of tool outputs so later turns
// can prove a quoted output was really produced by a tool. Secret
// accepts ${env:...} and ${keyring:...} references.
type IntegrityConfig struct {
	Enabled bool   `json:"enabled" mapstructure:"enabled"`
	Secret  string `json:"secret,omitempty" mapstructure:"secret"`
}

// APIConfig controls authentication on the admin API.
type APIConfig struct {
	// AuthMode is one of "none", "apikey", or "jwt".
	AuthMode string `json:"auth_mode" mapstructure:"auth_mode"`

	// APIKey is required when AuthMode is "apikey". Accepts secret
	// references.
	APIKey string `json:"api_key,omitempty" mapstructure:"api_key"`

	// JWTSecret signs and verifies HS256 bearer tokens when AuthMode
	// is "jwt". Accepts secret references.
	JWTSecret string `json:"jwt_secret,omitempty" mapstructure:"jwt_secret"`
}

// StorageConfig configures the audit event store.
type StorageConfig struct {
	// Retention bounds how long and how many events are kept.
	Retention storage.RetentionConfig `json:"retention" mapstructure:"retention"`

	// EnableIndex maintains the full-text search index alongside the
	// event store.
	EnableIndex bool `json:"enable_index" mapstructure:"enable_index"`
}

// DefaultConfig returns the stock configuration: loopback admin API
// with no auth, guard defaults, 30 day retention, search enabled, and
// the starter alert rules.
func DefaultConfig() *Config {
	alertCfg := alerting.DefaultConfig()
	alertCfg.Rules = alerting.DefaultRules()
	obsCfg := observability.DefaultConfig("aegisgate", "dev")
	return &Config{
		Listen:      "127.0.0.1:8787",
		Guard:       guard.DefaultConfig(),
		PolicyWatch: true,
		Alerting:    &alertCfg,
		API:         &APIConfig{AuthMode: AuthModeNone},
		Logging:     logs.DefaultConfig(),
		Storage: &StorageConfig{
			Retention:   storage.DefaultRetentionConfig(),
			EnableIndex: true,
		},
		Observability:   &obsCfg,
		CheckForUpdates: true,
	}
}

// Path reports where the configuration was loaded from, or "" when
// running on compiled defaults.
func (c *Config) Path() string {
	return c.path
}

// Validate checks the configuration for contradictions. Unlike the
// guard layer, which normalizes unknown enum values to safe defaults,
// the loader rejects them so typos in a config file surface at startup
// instead of silently changing behavior.
func (c *Config) Validate() error {
	var errs []error

	if c.Listen == "" {
		errs = append(errs, errors.New("listen address is required"))
	}

	if c.Guard != nil {
		switch c.Guard.Mode {
		case "", guard.ModeContinue, guard.ModeResetLast, guard.ModeQuarantineSession,
			guard.ModeTerminateSession, guard.ModeAutoRetry:
		default:
			errs = append(errs, fmt.Errorf("unknown guard mode %q", c.Guard.Mode))
		}
		switch c.Guard.ScanStrategy {
		case "", guard.StrategyLastUser, guard.StrategyAllUser, guard.StrategyFullHistory:
		default:
			errs = append(errs, fmt.Errorf("unknown scan strategy %q", c.Guard.ScanStrategy))
		}
	}

	if c.API != nil {
		switch c.API.AuthMode {
		case "", AuthModeNone:
		case AuthModeAPIKey:
			if c.API.APIKey == "" {
				errs = append(errs, errors.New(`api.api_key is required when auth_mode is "apikey"`))
			}
		case AuthModeJWT:
			if c.API.JWTSecret == "" {
				errs = append(errs, errors.New(`api.jwt_secret is required when auth_mode is "jwt"`))
			}
		default:
			errs = append(errs, fmt.Errorf("unknown auth mode %q", c.API.AuthMode))
		}
	}

	if c.Integrity != nil && c.Integrity.Enabled && c.Integrity.Secret == "" {
		errs = append(errs, errors.New("integrity.secret is required when integrity tagging is enabled"))
	}

	if c.Storage != nil {
		if c.Storage.Retention.MaxAge < 0 {
			errs = append(errs, errors.New("storage.retention.max_age must not be negative"))
		}
		if c.Storage.Retention.MaxCount < 0 {
			errs = append(errs, errors.New("storage.retention.max_count must not be negative"))
		}
	}

	if c.LLM != nil && c.LLM.Model == "" {
		errs = append(errs, errors.New("llm.model is required when an llm section is present"))
	}
	if c.Vision != nil && c.Vision.Model == "" {
		errs = append(errs, errors.New("vision.model is required when a vision section is present"))
	}

	return errors.Join(errs...)
}
