package secret

import (
	"context"
	"fmt"
	"strings"

	"github.com/zalando/go-keyring"
)

// DefaultService is the keyring service used when a reference carries
// no service qualifier.
const DefaultService = "aegisgate"

// KeyringProvider resolves ${keyring:service/key} references from the
// OS credential store (Keychain, Secret Service, Windows Credential
// Manager). A reference without a slash uses DefaultService.
type KeyringProvider struct {
	service string
}

// NewKeyringProvider creates a keyring provider with the default
// service name.
func NewKeyringProvider() *KeyringProvider {
	return &KeyringProvider{service: DefaultService}
}

// split maps a reference name onto (service, key).
func (p *KeyringProvider) split(name string) (string, string) {
	if service, key, ok := strings.Cut(name, "/"); ok && service != "" && key != "" {
		return service, key
	}
	return p.service, name
}

// Resolve fetches one credential.
func (p *KeyringProvider) Resolve(_ context.Context, ref Ref) (string, error) {
	service, key := p.split(ref.Name)
	value, err := keyring.Get(service, key)
	if err != nil {
		return "", fmt.Errorf("keyring lookup %s/%s: %w", service, key, err)
	}
	return value, nil
}

// Store writes one credential. Used by the secrets CLI.
func (p *KeyringProvider) Store(_ context.Context, name, value string) error {
	service, key := p.split(name)
	if err := keyring.Set(service, key, value); err != nil {
		return fmt.Errorf("keyring store %s/%s: %w", service, key, err)
	}
	return nil
}

// Delete removes one credential.
func (p *KeyringProvider) Delete(_ context.Context, name string) error {
	service, key := p.split(name)
	if err := keyring.Delete(service, key); err != nil {
		return fmt.Errorf("keyring delete %s/%s: %w", service, key, err)
	}
	return nil
}
