package policy

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writePolicy(t *testing.T, path, sensitivity string) {
	t.Helper()
	doc := "version: 1\ninput:\n  sensitivity: " + sensitivity + "\n"
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o600))
}

func newTestWatcher(t *testing.T, path string) (*Watcher, chan *Policy) {
	t.Helper()

	reloads := make(chan *Policy, 16)
	w, err := NewWatcher(path, nil, func(p *Policy) { reloads <- p })
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, w.Close()) })
	return w, reloads
}

func waitForReload(t *testing.T, reloads chan *Policy) *Policy {
	t.Helper()
	select {
	case p := <-reloads:
		return p
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for policy reload")
		return nil
	}
}

func TestWatcherSwapsOnValidEdit(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "policy.yaml")
	writePolicy(t, path, "balanced")

	w, reloads := newTestWatcher(t, path)
	assert.Equal(t, "balanced", w.Current().Input.Sensitivity)

	writePolicy(t, path, "paranoid")

	reloaded := waitForReload(t, reloads)
	assert.Equal(t, "paranoid", reloaded.Input.Sensitivity)
	assert.Equal(t, "paranoid", w.Current().Input.Sensitivity)
}

func TestWatcherFollowsAtomicReplace(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "policy.yaml")
	writePolicy(t, path, "balanced")

	w, reloads := newTestWatcher(t, path)

	// Editors and config tooling write a sibling then rename it over
	// the watched file.
	staging := filepath.Join(dir, "policy.yaml.tmp")
	writePolicy(t, staging, "permissive")
	require.NoError(t, os.Rename(staging, path))

	waitForReload(t, reloads)
	assert.Equal(t, "permissive", w.Current().Input.Sensitivity)
}

func TestWatcherKeepsPreviousPolicyOnInvalidEdit(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "policy.yaml")
	writePolicy(t, path, "balanced")

	w, reloads := newTestWatcher(t, path)

	require.NoError(t, os.WriteFile(path, []byte("version: 9\n"), 0o600))
	time.Sleep(4 * reloadDebounce)

	assert.Equal(t, "balanced", w.Current().Input.Sensitivity,
		"invalid document must not replace the active policy")
	assert.Empty(t, reloads)

	// A later valid edit still goes through.
	writePolicy(t, path, "paranoid")
	waitForReload(t, reloads)
	assert.Equal(t, "paranoid", w.Current().Input.Sensitivity)
}

func TestWatcherRequiresValidInitialPolicy(t *testing.T) {
	dir := t.TempDir()

	_, err := NewWatcher(filepath.Join(dir, "missing.yaml"), nil, nil)
	require.Error(t, err)

	bad := filepath.Join(dir, "bad.yaml")
	require.NoError(t, os.WriteFile(bad, []byte("version: 2\n"), 0o600))

	var invalid *InvalidError
	_, err = NewWatcher(bad, nil, nil)
	require.ErrorAs(t, err, &invalid)
}
