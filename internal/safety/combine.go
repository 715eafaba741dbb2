package safety

// Combine merges the classifier verdict and the rule-engine verdict under a
// most-restrictive-wins policy:
//
//   - Severity is the max of both sides.
//   - IsSafe only if both sides agree it is safe.
//   - Reason and Action come from the higher-severity side; on an exact tie
//     the classifier (ai) side wins.
//   - FlaggedTerms is the concatenation of both sides (duplicates allowed).
//
// Observability fields are carried forward: FallbackUsed is sticky if either
// side used the fallback path.
func Combine(ai, rule Verdict) Verdict {
	combined := Verdict{
		IsSafe:       ai.IsSafe && rule.IsSafe,
		Severity:     ai.Severity,
		Reason:       ai.Reason,
		Action:       ai.Action,
		FallbackUsed: ai.FallbackUsed || rule.FallbackUsed,
	}

	// Tie-break is deliberate: >, not >=, so an equal-severity rule verdict
	// never displaces the classifier's reason/action.
	if rule.Severity > ai.Severity {
		combined.Severity = rule.Severity
		combined.Reason = rule.Reason
		combined.Action = rule.Action
	}

	combined.FlaggedTerms = make([]string, 0, len(ai.FlaggedTerms)+len(rule.FlaggedTerms))
	combined.FlaggedTerms = append(combined.FlaggedTerms, ai.FlaggedTerms...)
	combined.FlaggedTerms = append(combined.FlaggedTerms, rule.FlaggedTerms...)

	return combined
}
