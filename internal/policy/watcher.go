package policy

import (
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

const reloadDebounce = 200 * time.Millisecond

// Watcher hot-reloads a policy file. Every edit is parsed and
// validated before the active policy swaps; a broken file keeps the
// previous policy in force and logs the rejection.
type Watcher struct {
	path     string
	logger   *zap.SugaredLogger
	onReload func(*Policy)

	fsw      *fsnotify.Watcher
	debounce time.Duration

	mu      sync.RWMutex
	current *Policy

	stopOnce sync.Once
	stopCh   chan struct{}
	doneCh   chan struct{}
}

// NewWatcher loads the file once, failing if the initial document is
// unreadable or invalid, then begins watching for changes. The
// optional onReload hook fires after each successful swap.
func NewWatcher(path string, logger *zap.SugaredLogger, onReload func(*Policy)) (*Watcher, error) {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}

	initial, err := Load(path)
	if err != nil {
		return nil, err
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create policy watcher: %w", err)
	}
	// Watch the directory rather than the file: editors and atomic
	// writers replace the inode, which silently drops a watch that was
	// registered on the file itself.
	dir := filepath.Dir(path)
	if err := fsw.Add(dir); err != nil {
		_ = fsw.Close()
		return nil, fmt.Errorf("watch %s: %w", dir, err)
	}

	w := &Watcher{
		path:     path,
		logger:   logger,
		onReload: onReload,
		fsw:      fsw,
		debounce: reloadDebounce,
		current:  initial,
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
	go w.run()

	logger.Infow("Policy watcher started", "path", path)
	return w, nil
}

// Current returns the active policy.
func (w *Watcher) Current() *Policy {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.current
}

// Close stops watching. The last active policy stays readable through
// Current.
func (w *Watcher) Close() error {
	w.stopOnce.Do(func() {
		close(w.stopCh)
		<-w.doneCh
	})
	return w.fsw.Close()
}

func (w *Watcher) run() {
	defer close(w.doneCh)

	// Editors fire bursts of write events for one save. The timer
	// collapses each burst into a single reload.
	timer := time.NewTimer(time.Hour)
	if !timer.Stop() {
		<-timer.C
	}
	defer timer.Stop()

	for {
		select {
		case <-w.stopCh:
			return

		case event, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != filepath.Clean(w.path) {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			timer.Reset(w.debounce)

		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.logger.Warnw("Policy watcher error", "error", err)

		case <-timer.C:
			w.reload()
		}
	}
}

func (w *Watcher) reload() {
	p, err := Load(w.path)
	if err != nil {
		w.logger.Errorw("Policy reload rejected, keeping previous policy",
			"path", w.path,
			"error", err)
		return
	}

	w.mu.Lock()
	w.current = p
	w.mu.Unlock()

	w.logger.Infow("Policy reloaded", "path", w.path)
	if w.onReload != nil {
		w.onReload(p)
	}
}
