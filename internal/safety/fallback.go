package safety

import (
	"regexp"
	"strings"

	"guardian/internal/logging"
)

// Behavioral-layer thresholds. Policy values; change only with product
// sign-off.
const (
	// negativeEmotionThreshold is the distinct negative-emotion word count
	// in a single message that flags a supportive monitor verdict.
	negativeEmotionThreshold = 3

	// repeatedTopicMinOccurrences is how many times one concerning topic
	// must appear across recent context to count as repeating.
	repeatedTopicMinOccurrences = 3

	// repeatedTopicMinTopics is how many distinct repeating topics warrant
	// a warn verdict.
	repeatedTopicMinTopics = 2

	// behavioralContextDepth is the minimum number of context messages
	// needed before trend analysis applies.
	behavioralContextDepth = 3

	// longMessageThreshold flags unusually long messages for review.
	longMessageThreshold = 1000

	// youngChildMaxAge and youngChildLengthThreshold gate the vocabulary
	// mismatch check for young children.
	youngChildMaxAge           = 8
	youngChildLengthThreshold  = 200
	advancedVocabularyMinWords = 2
)

// criticalFallbackPattern is one hard-coded high-risk category.
type criticalFallbackPattern struct {
	tag      string
	reason   string
	patterns []*regexp.Regexp
}

// keywordCategory is one layer-2 phrase category with fixed severity.
type keywordCategory struct {
	tag      string
	reason   string
	severity Severity
	phrases  []string
}

func compileAll(exprs ...string) []*regexp.Regexp {
	out := make([]*regexp.Regexp, 0, len(exprs))
	for _, e := range exprs {
		out = append(out, regexp.MustCompile("(?i)"+e))
	}
	return out
}

// Layer 1: hard-coded high-risk patterns. Any match escalates.
var criticalFallbackPatterns = []criticalFallbackPattern{
	{
		tag:    "self_harm",
		reason: "message contains self-harm indicators",
		patterns: compileAll(
			`\b(kill|hurt|harm)\s+(myself|me)\b`,
			`\bwant\s+to\s+die\b`,
			`\b(cut|cutting)\s+myself\b`,
			`\bend\s+(my|it)\s+all\b`,
			`\bsuicid\w*\b`,
		),
	},
	{
		tag:    "grooming",
		reason: "message solicits personal information",
		patterns: compileAll(
			`\bwhere\s+do\s+you\s+live\b`,
			`\bwhat('?s| is)\s+your\s+(address|school|phone|number)\b`,
			`\bsend\s+(me\s+)?(a\s+)?(photo|picture|pic)s?\b`,
			`\bhow\s+old\s+are\s+you\s+really\b`,
			`\bare\s+you\s+(home\s+)?alone\b`,
		),
	},
	{
		tag:    "meeting_request",
		reason: "message proposes an in-person meeting",
		patterns: compileAll(
			`\b(meet|meet\s+up|hang\s+out)\s+(me\s+)?(in\s+person|irl|somewhere)\b`,
			`\bcome\s+(to\s+my|over\s+to)\b`,
			`\blet'?s\s+meet\b`,
		),
	},
	{
		tag:    "secrecy",
		reason: "message requests secrecy from trusted adults",
		patterns: compileAll(
			`\bdon'?t\s+tell\s+(your\s+)?(parents|mom|dad|anyone|teacher)\b`,
			`\b(our|its?\s+a)\s+(little\s+)?secret\b`,
			`\bkeep\s+(this|it)\s+(between\s+us|secret|private)\b`,
			`\bdelete\s+(this|these|our)\s+(chat|message)s?\b`,
		),
	},
}

// Layer 2: categorized phrase lists with per-category severity.
var keywordCategories = []keywordCategory{
	{
		tag:      "self_harm",
		reason:   "message references self-harm",
		severity: SeverityEscalate,
		phrases: []string{
			"hate my life", "better off without me", "no reason to live",
			"stop existing", "hurting myself",
		},
	},
	{
		tag:      "abuse",
		reason:   "message contains possible abuse indicators",
		severity: SeverityEscalate,
		phrases: []string{
			"hits me", "hurts me at home", "afraid to go home",
			"touches me", "threatened me",
		},
	},
	{
		tag:      "bullying",
		reason:   "message references bullying",
		severity: SeverityRedirect,
		phrases: []string{
			"everyone hates me", "they laugh at me", "picked on",
			"bullied", "nobody likes me", "they call me names",
		},
	},
	{
		tag:      "substances",
		reason:   "message references substances",
		severity: SeverityRedirect,
		phrases: []string{
			"vape", "vaping", "drunk", "get high", "smoking", "weed", "pills",
		},
	},
	{
		tag:      "age_inappropriate",
		reason:   "message references age-inappropriate content",
		severity: SeverityRedirect,
		phrases: []string{
			"rated r", "gore video", "horror movie for adults", "naked",
			"explicit video",
		},
	},
}

// Layer 3 vocabulary.
var negativeEmotionWords = []string{
	"sad", "angry", "mad", "upset", "hate", "awful", "terrible",
	"miserable", "lonely", "hopeless", "worthless", "crying", "depressed",
}

var concerningTopics = []string{"hurt", "pain", "alone", "scared", "worried"}

// Layer 4 vocabulary for the young-child mismatch check.
var advancedVocabulary = []string{
	"consequently", "furthermore", "nevertheless", "philosophical",
	"existential", "psychological", "hypothetically", "metaphorically",
}

// FallbackValidator is the deterministic, dependency-free safety evaluator
// used whenever the remote classifier is unavailable. Four ordered analysis
// layers; the first layer that fires decides the verdict. There is no
// further fallback beneath this component, so any internal panic recovers
// to a warn verdict rather than propagating.
type FallbackValidator struct{}

// NewFallbackValidator creates the fallback evaluator.
func NewFallbackValidator() *FallbackValidator {
	return &FallbackValidator{}
}

// Evaluate runs the four analysis layers over the message and its context.
// The returned verdict always carries FallbackUsed=true so callers know a
// fallback path produced the result, including an "all clear".
func (f *FallbackValidator) Evaluate(message string, sctx Context) (v Verdict) {
	defer func() {
		if r := recover(); r != nil {
			logging.FallbackWarn("fallback evaluator panic recovered: %v", r)
			v = ConfigErrorVerdict()
			v.Reason = "fallback evaluation error"
			v.FallbackUsed = true
		}
	}()

	timer := logging.StartTimer(logging.CategoryFallback, "FallbackValidator.Evaluate")
	defer timer.Stop()

	layers := []func(string, Context) *Verdict{
		f.criticalLayer,
		f.keywordLayer,
		f.behavioralLayer,
		f.complexityLayer,
	}
	for _, layer := range layers {
		if verdict := layer(message, sctx); verdict != nil {
			verdict.FallbackUsed = true
			logging.FallbackDebug("layer fired: severity=%d reason=%q", verdict.Severity, verdict.Reason)
			return *verdict
		}
	}

	v = SafeVerdict()
	v.FallbackUsed = true
	return v
}

// criticalLayer checks the hard-coded high-risk regex categories.
func (f *FallbackValidator) criticalLayer(message string, _ Context) *Verdict {
	for _, cat := range criticalFallbackPatterns {
		for _, re := range cat.patterns {
			if re.MatchString(message) {
				return &Verdict{
					IsSafe:       false,
					Severity:     SeverityEscalate,
					Reason:       cat.reason,
					Action:       ActionEscalate,
					FlaggedTerms: []string{cat.tag},
				}
			}
		}
	}
	return nil
}

// keywordLayer checks categorized phrase lists.
func (f *FallbackValidator) keywordLayer(message string, _ Context) *Verdict {
	lower := strings.ToLower(message)
	for _, cat := range keywordCategories {
		for _, phrase := range cat.phrases {
			if strings.Contains(lower, phrase) {
				action := ActionWarn
				if cat.severity >= SeverityEscalate {
					action = ActionEscalate
				}
				return &Verdict{
					IsSafe:       false,
					Severity:     cat.severity,
					Reason:       cat.reason,
					Action:       action,
					FlaggedTerms: []string{cat.tag},
				}
			}
		}
	}
	return nil
}

// behavioralLayer looks at negative-emotion density in the current message
// and repeated concerning topics across recent context.
func (f *FallbackValidator) behavioralLayer(message string, sctx Context) *Verdict {
	lower := strings.ToLower(message)

	distinct := 0
	for _, w := range negativeEmotionWords {
		if containsWord(lower, w) {
			distinct++
		}
	}
	if distinct >= negativeEmotionThreshold {
		// Supportive, not punitive: the child gets monitoring, not a block.
		return &Verdict{
			IsSafe:       true,
			Severity:     SeverityMonitor,
			Reason:       "elevated negative emotion in message",
			Action:       ActionWarn,
			FlaggedTerms: []string{"emotional_distress"},
		}
	}

	if len(sctx.RecentMessages) >= behavioralContextDepth {
		joined := strings.ToLower(strings.Join(sctx.RecentMessages, " "))
		repeating := 0
		for _, topic := range concerningTopics {
			if strings.Count(joined, topic) >= repeatedTopicMinOccurrences {
				repeating++
			}
		}
		if repeating >= repeatedTopicMinTopics {
			return &Verdict{
				IsSafe:       false,
				Severity:     SeverityRedirect,
				Reason:       "repeated concerning topics in recent conversation",
				Action:       ActionWarn,
				FlaggedTerms: []string{"behavioral_trend"},
			}
		}
	}

	return nil
}

// complexityLayer flags unusually long messages and, for young children,
// vocabulary mismatched to age.
func (f *FallbackValidator) complexityLayer(message string, sctx Context) *Verdict {
	if len(message) > longMessageThreshold {
		return &Verdict{
			IsSafe:       true,
			Severity:     SeverityMonitor,
			Reason:       "unusually long message",
			Action:       ActionAllow,
			FlaggedTerms: []string{"complexity"},
		}
	}

	if sctx.ChildAge > 0 && sctx.ChildAge <= youngChildMaxAge && len(message) > youngChildLengthThreshold {
		lower := strings.ToLower(message)
		advanced := 0
		for _, w := range advancedVocabulary {
			if strings.Contains(lower, w) {
				advanced++
			}
		}
		if advanced >= advancedVocabularyMinWords {
			return &Verdict{
				IsSafe:       true,
				Severity:     SeverityMonitor,
				Reason:       "vocabulary unusual for child's age",
				Action:       ActionAllow,
				FlaggedTerms: []string{"complexity"},
			}
		}
	}

	return nil
}

// containsWord reports whether lower contains w as a whole word.
func containsWord(lower, w string) bool {
	idx := 0
	for {
		i := strings.Index(lower[idx:], w)
		if i < 0 {
			return false
		}
		start := idx + i
		end := start + len(w)
		beforeOK := start == 0 || !isWordByte(lower[start-1])
		afterOK := end == len(lower) || !isWordByte(lower[end])
		if beforeOK && afterOK {
			return true
		}
		idx = start + 1
	}
}

func isWordByte(b byte) bool {
	return (b >= 'a' && b <= 'z') || (b >= '0' && b <= '9')
}
