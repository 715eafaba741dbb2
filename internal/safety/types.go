// Package safety implements the validation pipeline that decides, for every
// message to or from a child, whether it is safe, how severe any concern is,
// what action to take, and whether a parent must be alerted.
//
// Architecture:
//
//	message + context
//	     |
//	Orchestrator.Validate()
//	     |
//	1. Result cache lookup (fingerprint of normalized message + age + context)
//	2. On miss: fallback-only path, or classifier and rule engine in parallel
//	3. Combine under most-restrictive-wins
//	4. Cache (severity < 3 only), log, escalate
//	5. Verdict returned to caller
package safety

// Severity is an ordinal 0-3 risk level. Level 3 is the only level that
// triggers parent escalation.
type Severity int

const (
	SeverityNone     Severity = 0 // no concern
	SeverityMonitor  Severity = 1 // minor, log for review
	SeverityRedirect Severity = 2 // moderate, redirect the conversation
	SeverityEscalate Severity = 3 // serious, escalate to a parent
)

// Action is what the caller should do with the message.
type Action string

const (
	ActionAllow    Action = "allow"
	ActionWarn     Action = "warn"
	ActionBlock    Action = "block"
	ActionEscalate Action = "escalate"
)

// Verdict is the result of validating one message.
//
// Invariants: Severity==0 implies Action==allow; Severity==3 implies
// Action is escalate or block.
type Verdict struct {
	IsSafe       bool
	Severity     Severity
	Reason       string
	Action       Action
	FlaggedTerms []string // category tags, not raw matched text

	// Observability fields
	ProcessingTimeMs int64
	CacheHit         bool
	FallbackUsed     bool
}

// Context describes the situation a message arrived in.
// Immutable per validation call.
type Context struct {
	ChildID        string
	ChildAge       int
	ConversationID string

	// RecentMessages holds prior messages, most-recent-first.
	// Used for short-range behavioral context.
	RecentMessages []string
}

// SafeVerdict returns the baseline all-clear verdict.
func SafeVerdict() Verdict {
	return Verdict{
		IsSafe:   true,
		Severity: SeverityNone,
		Reason:   "no concerns detected",
		Action:   ActionAllow,
	}
}

// FailSafeVerdict is the most conservative verdict, returned when the
// pipeline cannot determine safety with confidence. Biased toward
// over-blocking, never under-blocking.
func FailSafeVerdict(reason string) Verdict {
	return Verdict{
		IsSafe:       false,
		Severity:     SeverityEscalate,
		Reason:       reason,
		Action:       ActionBlock,
		FallbackUsed: true,
	}
}

// ConfigErrorVerdict is returned when a rule set or template configuration
// cannot be loaded. Never severity 0 on a config failure.
func ConfigErrorVerdict() Verdict {
	return Verdict{
		IsSafe:   false,
		Severity: SeverityRedirect,
		Reason:   "configuration error",
		Action:   ActionWarn,
	}
}
