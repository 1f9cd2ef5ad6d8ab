package secret

import (
	"context"
	"fmt"
	"os"
)

// EnvProvider resolves ${env:NAME} references from the process
// environment.
type EnvProvider struct{}

// NewEnvProvider creates the environment provider.
func NewEnvProvider() *EnvProvider { return &EnvProvider{} }

// Resolve returns the named variable's value. Unset and empty both
// fail: an empty credential is a deployment mistake, not a value.
func (p *EnvProvider) Resolve(_ context.Context, ref Ref) (string, error) {
	value := os.Getenv(ref.Name)
	if value == "" {
		return "", fmt.Errorf("environment variable %s is not set", ref.Name)
	}
	return value, nil
}
