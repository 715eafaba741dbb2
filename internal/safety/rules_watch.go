package safety

import (
	"context"
	"path/filepath"
	"sync"
	"time"

	"guardian/internal/logging"

	"github.com/fsnotify/fsnotify"
)

// RuleWatcher watches the rule configuration file and reloads the engine on
// change. Long-running deployments pick up rule updates without a restart.
type RuleWatcher struct {
	mu          sync.Mutex
	watcher     *fsnotify.Watcher
	engine      *RuleEngine
	path        string
	debounceDur time.Duration
	stopCh      chan struct{}
	doneCh      chan struct{}
	running     bool

	// Stats for debugging
	reloads      int
	reloadErrors int
}

// NewRuleWatcher creates a watcher for the engine's rule file.
func NewRuleWatcher(engine *RuleEngine, path string) (*RuleWatcher, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	return &RuleWatcher{
		watcher:     watcher,
		engine:      engine,
		path:        path,
		debounceDur: 500 * time.Millisecond, // Debounce rapid saves
		stopCh:      make(chan struct{}),
		doneCh:      make(chan struct{}),
	}, nil
}

// Start begins watching the rule file's directory. Non-blocking.
// Watching the directory rather than the file survives editors that replace
// the file on save.
func (w *RuleWatcher) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return nil // Already running
	}
	w.running = true
	w.mu.Unlock()

	dir := filepath.Dir(w.path)
	if err := w.watcher.Add(dir); err != nil {
		return err
	}

	logging.Rules("rule watcher started on %s", dir)

	go w.loop(ctx)
	return nil
}

func (w *RuleWatcher) loop(ctx context.Context) {
	defer close(w.doneCh)

	target := filepath.Clean(w.path)

	// Trailing-edge debounce: each accepted event re-arms the timer and the
	// reload runs once the burst goes quiet, so the final save always lands.
	debounce := time.NewTimer(w.debounceDur)
	if !debounce.Stop() {
		<-debounce.C
	}
	pending := false

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopCh:
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			if pending && !debounce.Stop() {
				<-debounce.C
			}
			debounce.Reset(w.debounceDur)
			pending = true
		case <-debounce.C:
			pending = false
			if err := w.engine.Reload(); err != nil {
				// Previous rule set stays active on a bad reload.
				logging.RulesError("rule reload failed: %v", err)
				w.mu.Lock()
				w.reloadErrors++
				w.mu.Unlock()
				continue
			}
			w.mu.Lock()
			w.reloads++
			w.mu.Unlock()
			logging.Rules("rule set reloaded after change to %s", w.path)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			logging.RulesWarn("rule watcher error: %v", err)
		}
	}
}

// Stop shuts down the watcher and waits for the loop to exit.
func (w *RuleWatcher) Stop() error {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return nil
	}
	w.running = false
	w.mu.Unlock()

	close(w.stopCh)
	err := w.watcher.Close()
	<-w.doneCh
	return err
}

// Reloads returns (successful reloads, failed reloads).
func (w *RuleWatcher) Reloads() (int, int) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.reloads, w.reloadErrors
}
