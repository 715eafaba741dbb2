package safety

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
)

func TestCombine(t *testing.T) {
	t.Run("higher severity side wins", func(t *testing.T) {
		ai := Verdict{IsSafe: true, Severity: SeverityNone, Reason: "no concerns detected", Action: ActionAllow}
		rule := Verdict{IsSafe: false, Severity: SeverityRedirect, Reason: "rule matched", Action: ActionBlock}

		combined := Combine(ai, rule)
		assert.False(t, combined.IsSafe)
		assert.Equal(t, SeverityRedirect, combined.Severity)
		assert.Equal(t, "rule matched", combined.Reason)
		assert.Equal(t, ActionBlock, combined.Action)
	})

	t.Run("equal severity keeps classifier reason and action", func(t *testing.T) {
		ai := Verdict{IsSafe: false, Severity: SeverityRedirect, Reason: "classifier reason", Action: ActionWarn}
		rule := Verdict{IsSafe: false, Severity: SeverityRedirect, Reason: "rule reason", Action: ActionBlock}

		combined := Combine(ai, rule)
		assert.Equal(t, "classifier reason", combined.Reason)
		assert.Equal(t, ActionWarn, combined.Action)
	})

	t.Run("unsafe on either side makes result unsafe", func(t *testing.T) {
		safe := SafeVerdict()
		unsafe := Verdict{IsSafe: false, Severity: SeverityMonitor, Reason: "minor", Action: ActionWarn}

		assert.False(t, Combine(safe, unsafe).IsSafe)
		assert.False(t, Combine(unsafe, safe).IsSafe)
		assert.True(t, Combine(safe, SafeVerdict()).IsSafe)
	})

	t.Run("flagged terms concatenate", func(t *testing.T) {
		ai := Verdict{IsSafe: false, Severity: SeverityMonitor, FlaggedTerms: []string{"a", "b"}}
		rule := Verdict{IsSafe: false, Severity: SeverityMonitor, FlaggedTerms: []string{"b", "c"}}

		combined := Combine(ai, rule)
		assert.Equal(t, []string{"a", "b", "b", "c"}, combined.FlaggedTerms)
	})

	t.Run("severity never decreases relative to either input", func(t *testing.T) {
		for ai := SeverityNone; ai <= SeverityEscalate; ai++ {
			for rule := SeverityNone; rule <= SeverityEscalate; rule++ {
				combined := Combine(Verdict{Severity: ai}, Verdict{Severity: rule})
				assert.GreaterOrEqual(t, combined.Severity, ai)
				assert.GreaterOrEqual(t, combined.Severity, rule)
			}
		}
	})

	t.Run("full verdict shape", func(t *testing.T) {
		ai := Verdict{IsSafe: false, Severity: SeverityMonitor, Reason: "ai reason", Action: ActionWarn, FlaggedTerms: []string{"slang"}}
		rule := Verdict{IsSafe: false, Severity: SeverityEscalate, Reason: "rule reason", Action: ActionEscalate, FlaggedTerms: []string{"critical"}}

		want := Verdict{
			IsSafe:       false,
			Severity:     SeverityEscalate,
			Reason:       "rule reason",
			Action:       ActionEscalate,
			FlaggedTerms: []string{"slang", "critical"},
		}
		if diff := cmp.Diff(want, Combine(ai, rule)); diff != "" {
			t.Fatalf("combined verdict mismatch (-want +got):\n%s", diff)
		}
	})

	t.Run("fallback flag is sticky", func(t *testing.T) {
		ai := Verdict{IsSafe: true, FallbackUsed: true}
		rule := SafeVerdict()

		assert.True(t, Combine(ai, rule).FallbackUsed)
		assert.True(t, Combine(rule, ai).FallbackUsed)
		assert.False(t, Combine(rule, rule).FallbackUsed)
	})
}
