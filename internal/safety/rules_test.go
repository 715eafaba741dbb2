package safety

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testRulesYAML = `
categories:
  critical:
    severity: 3
    action: escalate
    reason: "critical pattern"
    patterns:
      - '\bwhere\s+do\s+you\s+live\b'
      - '\bdon''t\s+tell\s+your\s+parents\b'
  emotional_support:
    severity: 2
    action: warn
    reason: "emotional distress"
    tag: emotional_support
    support_key: emotional_support
    patterns:
      - '\bnobody\s+likes\s+me\b'
  high_concern:
    severity: 2
    action: block
    reason: "high concern"
    patterns:
      - '\bgore\b'
  contextual_guidance:
    severity: 1
    action: warn
    reason: "needs guidance"
    tag: development
    patterns:
      - '\bboyfriend\b'
  youth_culture:
    severity: 1
    action: allow
    reason: "slang"
    patterns:
      - '\bskibidi\b'
  gaming:
    severity: 0
    action: allow
    reason: "gaming"
    patterns:
      - '\bminecraft\b'
  school:
    severity: 0
    action: allow
    reason: "school"
    patterns:
      - '\bhomework\b'
`

func testRuleSet(t *testing.T) *RuleSet {
	t.Helper()
	rs, err := ParseRuleSet([]byte(testRulesYAML))
	require.NoError(t, err)
	return rs
}

func TestParseRuleSet(t *testing.T) {
	t.Run("compiles all seven categories in priority order", func(t *testing.T) {
		rs := testRuleSet(t)
		cats := rs.Categories()
		require.Len(t, cats, 7)
		assert.Equal(t, CategoryCritical, cats[0].Category)
		assert.Equal(t, CategorySchool, cats[6].Category)
	})

	t.Run("rejects unknown category", func(t *testing.T) {
		_, err := ParseRuleSet([]byte("categories:\n  made_up:\n    severity: 1\n"))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "unknown rule category")
	})

	t.Run("rejects out-of-range severity", func(t *testing.T) {
		_, err := ParseRuleSet([]byte("categories:\n  gaming:\n    severity: 4\n"))
		assert.Error(t, err)
	})

	t.Run("rejects bad pattern", func(t *testing.T) {
		_, err := ParseRuleSet([]byte("categories:\n  gaming:\n    severity: 0\n    action: allow\n    patterns:\n      - '[unclosed'\n"))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "bad pattern")
	})

	t.Run("rejects unknown action", func(t *testing.T) {
		_, err := ParseRuleSet([]byte("categories:\n  gaming:\n    severity: 0\n    action: obliterate\n"))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "unknown action")
	})

	t.Run("rejects severity zero without allow", func(t *testing.T) {
		_, err := ParseRuleSet([]byte("categories:\n  school:\n    severity: 0\n    action: block\n"))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "requires action allow")
	})

	t.Run("rejects severity three without escalate or block", func(t *testing.T) {
		_, err := ParseRuleSet([]byte("categories:\n  critical:\n    severity: 3\n    action: warn\n"))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "requires action escalate or block")

		_, err = ParseRuleSet([]byte("categories:\n  critical:\n    severity: 3\n    action: block\n"))
		assert.NoError(t, err)
	})

	t.Run("tag defaults to category name", func(t *testing.T) {
		rs := testRuleSet(t)
		for _, cat := range rs.Categories() {
			assert.NotEmpty(t, cat.Tag)
		}
	})
}

func TestRuleSetEvaluate(t *testing.T) {
	rs := testRuleSet(t)

	tests := []struct {
		name     string
		message  string
		severity Severity
		action   Action
		tag      string
	}{
		{"critical pattern escalates", "hey, where do you live?", SeverityEscalate, ActionEscalate, "critical"},
		{"case-insensitive match", "WHERE DO YOU LIVE", SeverityEscalate, ActionEscalate, "critical"},
		{"emotional support warns", "nobody likes me at school", SeverityRedirect, ActionWarn, "emotional_support"},
		{"high concern blocks", "I watched a gore video", SeverityRedirect, ActionBlock, "high_concern"},
		{"contextual guidance", "my friend has a boyfriend", SeverityMonitor, ActionWarn, "development"},
		{"youth culture allows but tags", "that is so skibidi", SeverityMonitor, ActionAllow, "youth_culture"},
		{"gaming is clean", "I built a castle in minecraft", SeverityNone, ActionAllow, "gaming"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := rs.Evaluate(tt.message)
			assert.Equal(t, tt.severity, v.Severity)
			assert.Equal(t, tt.action, v.Action)
			require.Len(t, v.FlaggedTerms, 1)
			assert.Equal(t, tt.tag, v.FlaggedTerms[0])
		})
	}

	t.Run("no match returns safe verdict", func(t *testing.T) {
		v := rs.Evaluate("what a lovely day")
		assert.True(t, v.IsSafe)
		assert.Equal(t, SeverityNone, v.Severity)
		assert.Equal(t, ActionAllow, v.Action)
		assert.Empty(t, v.FlaggedTerms)
	})

	t.Run("critical shadows lower categories", func(t *testing.T) {
		// Matches both critical and school; critical must win.
		v := rs.Evaluate("forget your homework, where do you live?")
		assert.Equal(t, SeverityEscalate, v.Severity)
		assert.Equal(t, []string{"critical"}, v.FlaggedTerms)
	})

	t.Run("evaluation is idempotent", func(t *testing.T) {
		first := rs.Evaluate("nobody likes me")
		second := rs.Evaluate("nobody likes me")
		assert.Equal(t, first, second)
	})
}

func TestRuleSetSupportKey(t *testing.T) {
	rs := testRuleSet(t)
	assert.Equal(t, "emotional_support", rs.SupportKeyFor("emotional_support"))
	assert.Empty(t, rs.SupportKeyFor("gaming"))
	assert.Empty(t, rs.SupportKeyFor("unknown"))
}

func TestRuleEngine(t *testing.T) {
	t.Run("evaluate without a loaded set returns config error verdict", func(t *testing.T) {
		engine := NewRuleEngine(filepath.Join(t.TempDir(), "missing.yaml"))

		loaded, lastErr := engine.Status()
		assert.False(t, loaded)
		assert.Error(t, lastErr)

		v := engine.Evaluate("anything at all")
		assert.False(t, v.IsSafe)
		assert.Equal(t, SeverityRedirect, v.Severity)
		assert.Equal(t, ActionWarn, v.Action)
	})

	t.Run("reload failure keeps previous set active", func(t *testing.T) {
		dir := t.TempDir()
		path := filepath.Join(dir, "rules.yaml")
		require.NoError(t, os.WriteFile(path, []byte(testRulesYAML), 0o644))

		engine := NewRuleEngine(path)
		loaded, _ := engine.Status()
		require.True(t, loaded)

		require.NoError(t, os.WriteFile(path, []byte("categories: {bogus: {severity: 9}}"), 0o644))
		assert.Error(t, engine.Reload())

		// Old set still evaluates.
		v := engine.Evaluate("where do you live?")
		assert.Equal(t, SeverityEscalate, v.Severity)

		loaded, lastErr := engine.Status()
		assert.True(t, loaded)
		assert.Error(t, lastErr)
	})

	t.Run("support key lookup through engine", func(t *testing.T) {
		engine := NewRuleEngineFromSet(testRuleSet(t))
		assert.Equal(t, "emotional_support", engine.SupportKeyFor([]string{"gaming", "emotional_support"}))
		assert.Empty(t, engine.SupportKeyFor([]string{"gaming"}))
	})
}
