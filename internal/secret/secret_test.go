package secret

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseRef(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    Ref
		wantErr bool
	}{
		{
			name:  "env reference",
			input: "${env:OPENAI_API_KEY}",
			want:  Ref{Provider: "env", Name: "OPENAI_API_KEY", Original: "${env:OPENAI_API_KEY}"},
		},
		{
			name:  "keyring with service qualifier",
			input: "${keyring:aegisgate/webhook}",
			want:  Ref{Provider: "keyring", Name: "aegisgate/webhook", Original: "${keyring:aegisgate/webhook}"},
		},
		{name: "bare string", input: "not-a-ref", wantErr: true},
		{name: "missing scheme", input: "${:NAME}", wantErr: true},
		{name: "missing name", input: "${env:}", wantErr: true},
		{name: "embedded in text", input: "key=${env:NAME}", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ref, err := ParseRef(tt.input)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, ref)
		})
	}
}

func TestFindRefs(t *testing.T) {
	refs := FindRefs("Bearer ${env:TOKEN} for ${keyring:svc/key}")
	require.Len(t, refs, 2)
	assert.Equal(t, "env", refs[0].Provider)
	assert.Equal(t, "TOKEN", refs[0].Name)
	assert.Equal(t, "keyring", refs[1].Provider)
	assert.Equal(t, "svc/key", refs[1].Name)

	assert.Empty(t, FindRefs("plain text"))
	assert.False(t, IsRef("plain text"))
	assert.True(t, IsRef("x ${env:A} y"))
}

func TestMask(t *testing.T) {
	assert.Equal(t, "****", Mask(""))
	assert.Equal(t, "****", Mask("abcd"))
	assert.Equal(t, "ab****", Mask("abcdefgh"))
	assert.Equal(t, "sk-****yz", Mask("sk-live-0123456789yz"))
}

// staticProvider resolves from a fixed map.
type staticProvider map[string]string

func (p staticProvider) Resolve(_ context.Context, ref Ref) (string, error) {
	value, ok := p[ref.Name]
	if !ok {
		return "", fmt.Errorf("no value for %s", ref.Name)
	}
	return value, nil
}

func TestExpandSubstitutesAllRefs(t *testing.T) {
	r := NewResolver(WithProvider("vault", staticProvider{"token": "tok-123", "user": "svc-scan"}))

	out, err := r.Expand(context.Background(), "user=${vault:user} token=${vault:token}")
	require.NoError(t, err)
	assert.Equal(t, "user=svc-scan token=tok-123", out)

	out, err = r.Expand(context.Background(), "no placeholders here")
	require.NoError(t, err)
	assert.Equal(t, "no placeholders here", out)
}

func TestExpandEnvProvider(t *testing.T) {
	t.Setenv("AEGISGATE_TEST_SECRET", "hunter2")
	r := NewResolver()

	out, err := r.Expand(context.Background(), "${env:AEGISGATE_TEST_SECRET}")
	require.NoError(t, err)
	assert.Equal(t, "hunter2", out)

	_, err = r.Expand(context.Background(), "${env:AEGISGATE_TEST_UNSET_VARIABLE}")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not set")
}

func TestExpandUnknownProvider(t *testing.T) {
	r := NewResolver()

	_, err := r.Expand(context.Background(), "${vault:token}")
	require.ErrorIs(t, err, ErrUnknownProvider)
	assert.Contains(t, err.Error(), `"vault"`)
}

func TestExpandFailsWhole(t *testing.T) {
	r := NewResolver(WithProvider("vault", staticProvider{"a": "1"}))

	out, err := r.Expand(context.Background(), "${vault:a} ${vault:missing}")
	require.Error(t, err)
	assert.Empty(t, out, "partial expansion never escapes")
}

func TestResolveHookSeesValues(t *testing.T) {
	var seen []string
	r := NewResolver(
		WithProvider("vault", staticProvider{"token": "tok-123"}),
		WithResolveHook(func(v string) { seen = append(seen, v) }),
	)

	_, err := r.Expand(context.Background(), "${vault:token}")
	require.NoError(t, err)
	assert.Equal(t, []string{"tok-123"}, seen)
}

func TestExpandStruct(t *testing.T) {
	type apiConfig struct {
		Key     string
		Webhook string
	}
	type cfg struct {
		API      apiConfig
		Endpoint string
		Headers  map[string]string
		Backups  []string
		Skip     *apiConfig
	}

	r := NewResolver(WithProvider("vault", staticProvider{
		"api":     "sk-resolved",
		"webhook": "https://hooks.test/abc",
		"backup":  "s3://secret-bucket",
	}))

	c := &cfg{
		API:      apiConfig{Key: "${vault:api}", Webhook: "${vault:webhook}"},
		Endpoint: "https://api.test",
		Headers:  map[string]string{"Authorization": "Bearer ${vault:api}"},
		Backups:  []string{"${vault:backup}", "local"},
	}
	require.NoError(t, r.ExpandStruct(context.Background(), c))

	assert.Equal(t, "sk-resolved", c.API.Key)
	assert.Equal(t, "https://hooks.test/abc", c.API.Webhook)
	assert.Equal(t, "https://api.test", c.Endpoint)
	assert.Equal(t, "Bearer sk-resolved", c.Headers["Authorization"])
	assert.Equal(t, []string{"s3://secret-bucket", "local"}, c.Backups)
	assert.Nil(t, c.Skip)
}

func TestExpandStructPropagatesFailure(t *testing.T) {
	type cfg struct{ Key string }
	r := NewResolver()

	err := r.ExpandStruct(context.Background(), &cfg{Key: "${nope:x}"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrUnknownProvider))
}

func TestKeyringRefSplitting(t *testing.T) {
	p := NewKeyringProvider()

	service, key := p.split("aegisgate/webhook")
	assert.Equal(t, "aegisgate", service)
	assert.Equal(t, "webhook", key)

	service, key = p.split("apikey")
	assert.Equal(t, DefaultService, service)
	assert.Equal(t, "apikey", key)

	// A dangling slash is not a qualifier.
	service, key = p.split("apikey/")
	assert.Equal(t, DefaultService, service)
	assert.Equal(t, "apikey/", key)
}
