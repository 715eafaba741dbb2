package safety

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRuleWatcherReloadsOnChange(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "rules.yaml")
	require.NoError(t, os.WriteFile(path, []byte(testRulesYAML), 0o644))

	engine := NewRuleEngine(path)
	loaded, _ := engine.Status()
	require.True(t, loaded)

	watcher, err := NewRuleWatcher(engine, path)
	require.NoError(t, err)
	require.NoError(t, watcher.Start(context.Background()))
	defer watcher.Stop()

	// Swap the critical pattern and wait for the reload to land.
	updated := `
categories:
  critical:
    severity: 3
    action: escalate
    reason: "updated critical pattern"
    patterns:
      - '\bbrand\s+new\s+pattern\b'
`
	require.NoError(t, os.WriteFile(path, []byte(updated), 0o644))

	assert.Eventually(t, func() bool {
		v := engine.Evaluate("this is a brand new pattern")
		return v.Severity == SeverityEscalate
	}, 3*time.Second, 50*time.Millisecond)

	// The old pattern is gone with the new set.
	v := engine.Evaluate("where do you live?")
	assert.Equal(t, SeverityNone, v.Severity)

	reloads, _ := watcher.Reloads()
	assert.GreaterOrEqual(t, reloads, 1)
}

func TestRuleWatcherBurstKeepsFinalWrite(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "rules.yaml")
	require.NoError(t, os.WriteFile(path, []byte(testRulesYAML), 0o644))

	engine := NewRuleEngine(path)
	watcher, err := NewRuleWatcher(engine, path)
	require.NoError(t, err)
	require.NoError(t, watcher.Start(context.Background()))
	defer watcher.Stop()

	intermediate := `
categories:
  critical:
    severity: 3
    action: escalate
    reason: "intermediate"
    patterns:
      - '\bintermediate\s+pattern\b'
`
	final := `
categories:
  critical:
    severity: 3
    action: escalate
    reason: "final"
    patterns:
      - '\bfinal\s+pattern\b'
`

	// Two saves inside one debounce window; the reload must pick up the
	// last one, not stop at the first.
	require.NoError(t, os.WriteFile(path, []byte(intermediate), 0o644))
	time.Sleep(100 * time.Millisecond)
	require.NoError(t, os.WriteFile(path, []byte(final), 0o644))

	assert.Eventually(t, func() bool {
		return engine.Evaluate("this matches the final pattern").Severity == SeverityEscalate
	}, 3*time.Second, 50*time.Millisecond, "last save of a burst must win")
}

func TestRuleWatcherIgnoresOtherFiles(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "rules.yaml")
	require.NoError(t, os.WriteFile(path, []byte(testRulesYAML), 0o644))

	engine := NewRuleEngine(path)
	watcher, err := NewRuleWatcher(engine, path)
	require.NoError(t, err)
	require.NoError(t, watcher.Start(context.Background()))
	defer watcher.Stop()

	// Outlast the debounce window so a wrongly accepted event would show up.
	require.NoError(t, os.WriteFile(filepath.Join(dir, "unrelated.txt"), []byte("noise"), 0o644))
	time.Sleep(700 * time.Millisecond)

	reloads, reloadErrors := watcher.Reloads()
	assert.Zero(t, reloads)
	assert.Zero(t, reloadErrors)
}

func TestRuleWatcherStopIdempotent(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "rules.yaml")
	require.NoError(t, os.WriteFile(path, []byte(testRulesYAML), 0o644))

	engine := NewRuleEngine(path)
	watcher, err := NewRuleWatcher(engine, path)
	require.NoError(t, err)
	require.NoError(t, watcher.Start(context.Background()))

	assert.NoError(t, watcher.Stop())
	assert.NoError(t, watcher.Stop())
}
