package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aegis-gate/aegisgate-go/internal/guard"
	"github.com/aegis-gate/aegisgate-go/internal/llm"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, "127.0.0.1:8787", cfg.Listen)
	assert.Empty(t, cfg.DataDir)
	assert.True(t, cfg.PolicyWatch)
	assert.True(t, cfg.CheckForUpdates)
	assert.Empty(t, cfg.Path())

	require.NotNil(t, cfg.Guard)
	assert.Equal(t, guard.ModeContinue, cfg.Guard.Mode)
	assert.Equal(t, guard.StrategyLastUser, cfg.Guard.ScanStrategy)

	require.NotNil(t, cfg.API)
	assert.Equal(t, AuthModeNone, cfg.API.AuthMode)

	require.NotNil(t, cfg.Alerting)
	assert.Len(t, cfg.Alerting.Rules, 5)

	require.NotNil(t, cfg.Storage)
	assert.True(t, cfg.Storage.EnableIndex)
	assert.Equal(t, 100_000, cfg.Storage.Retention.MaxCount)

	require.NotNil(t, cfg.Observability)
	assert.True(t, cfg.Observability.Health.Enabled)
	assert.True(t, cfg.Observability.Metrics.Enabled)
	assert.False(t, cfg.Observability.Tracing.Enabled)

	assert.Nil(t, cfg.LLM)
	assert.Nil(t, cfg.Vision)
	assert.Nil(t, cfg.Integrity)

	require.NoError(t, cfg.Validate())
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(cfg *Config)
		wantErr string
	}{
		{
			name:   "defaults are valid",
			mutate: func(cfg *Config) {},
		},
		{
			name:    "empty listen",
			mutate:  func(cfg *Config) { cfg.Listen = "" },
			wantErr: "listen address is required",
		},
		{
			name:    "unknown guard mode",
			mutate:  func(cfg *Config) { cfg.Guard.Mode = "nuke" },
			wantErr: `unknown guard mode "nuke"`,
		},
		{
			name:    "unknown scan strategy",
			mutate:  func(cfg *Config) { cfg.Guard.ScanStrategy = "everything" },
			wantErr: `unknown scan strategy "everything"`,
		},
		{
			name: "apikey mode without key",
			mutate: func(cfg *Config) {
				cfg.API = &APIConfig{AuthMode: AuthModeAPIKey}
			},
			wantErr: "api.api_key is required",
		},
		{
			name: "jwt mode without secret",
			mutate: func(cfg *Config) {
				cfg.API = &APIConfig{AuthMode: AuthModeJWT}
			},
			wantErr: "api.jwt_secret is required",
		},
		{
			name: "unknown auth mode",
			mutate: func(cfg *Config) {
				cfg.API = &APIConfig{AuthMode: "mtls"}
			},
			wantErr: `unknown auth mode "mtls"`,
		},
		{
			name: "integrity enabled without secret",
			mutate: func(cfg *Config) {
				cfg.Integrity = &IntegrityConfig{Enabled: true}
			},
			wantErr: "integrity.secret is required",
		},
		{
			name: "negative retention age",
			mutate: func(cfg *Config) {
				cfg.Storage.Retention.MaxAge = -1
			},
			wantErr: "storage.retention.max_age",
		},
		{
			name: "llm section without model",
			mutate: func(cfg *Config) {
				cfg.LLM = &llm.ClientConfig{APIKey: "sk-test"}
			},
			wantErr: "llm.model is required",
		},
		{
			name: "vision section without model",
			mutate: func(cfg *Config) {
				cfg.Vision = &llm.ClientConfig{APIKey: "sk-test"}
			},
			wantErr: "vision.model is required",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestValidateCollectsAllProblems(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Listen = ""
	cfg.Guard.Mode = "nuke"
	cfg.API = &APIConfig{AuthMode: "mtls"}

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "listen address is required")
	assert.Contains(t, err.Error(), `unknown guard mode "nuke"`)
	assert.Contains(t, err.Error(), `unknown auth mode "mtls"`)
}
