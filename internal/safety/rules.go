package safety

import (
	"fmt"
	"os"
	"regexp"
	"strings"
	"sync"

	"guardian/internal/logging"

	"gopkg.in/yaml.v3"
)

// RuleCategory identifies one of the seven fixed rule categories.
// Categories and their metadata come from configuration; the evaluation
// order and combination policy are owned here.
type RuleCategory string

const (
	CategoryCritical           RuleCategory = "critical"
	CategoryEmotionalSupport   RuleCategory = "emotional_support"
	CategoryHighConcern        RuleCategory = "high_concern"
	CategoryContextualGuidance RuleCategory = "contextual_guidance"
	CategoryYouthCulture       RuleCategory = "youth_culture"
	CategoryGaming             RuleCategory = "gaming"
	CategorySchool             RuleCategory = "school"
)

// categoryOrder is the required evaluation order; first match wins.
// Safety-critical escalation must never be shadowed by a softer monitoring
// category, and emotional-support detection runs before the generic concern
// categories so genuine distress gets a supportive reply rather than a block.
var categoryOrder = []RuleCategory{
	CategoryCritical,
	CategoryEmotionalSupport,
	CategoryHighConcern,
	CategoryContextualGuidance,
	CategoryYouthCulture,
	CategoryGaming,
	CategorySchool,
}

// CompiledCategory holds one category's compiled matchers and fixed metadata.
type CompiledCategory struct {
	Category RuleCategory
	Severity Severity
	Action   Action
	Reason   string
	Tag      string
	// SupportKey selects a support response template; only the
	// emotional-support category sets it.
	SupportKey string
	Patterns   []*regexp.Regexp
}

// RuleSet is an immutable, compiled set of pattern categories.
// Read-only after load; freely shared across goroutines.
type RuleSet struct {
	categories []CompiledCategory
}

// ruleFile is the YAML schema the external config provider supplies.
type ruleFile struct {
	Categories map[string]ruleCategoryConfig `yaml:"categories"`
}

type ruleCategoryConfig struct {
	Severity   int      `yaml:"severity"`
	Action     string   `yaml:"action"`
	Reason     string   `yaml:"reason"`
	Tag        string   `yaml:"tag"`
	SupportKey string   `yaml:"support_key"`
	Patterns   []string `yaml:"patterns"`
}

// LoadRuleSet reads and compiles a rule set from a YAML file.
// Unknown category names are rejected; missing categories are simply absent
// from evaluation.
func LoadRuleSet(path string) (*RuleSet, error) {
	timer := logging.StartTimer(logging.CategoryRules, "LoadRuleSet")
	defer timer.Stop()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read rule set: %w", err)
	}
	return ParseRuleSet(data)
}

// ParseRuleSet compiles a rule set from raw YAML.
func ParseRuleSet(data []byte) (*RuleSet, error) {
	var rf ruleFile
	if err := yaml.Unmarshal(data, &rf); err != nil {
		return nil, fmt.Errorf("failed to parse rule set: %w", err)
	}

	known := make(map[RuleCategory]bool, len(categoryOrder))
	for _, c := range categoryOrder {
		known[c] = true
	}

	rs := &RuleSet{}
	for name, cfg := range rf.Categories {
		cat := RuleCategory(name)
		if !known[cat] {
			return nil, fmt.Errorf("unknown rule category %q", name)
		}
		if cfg.Severity < int(SeverityNone) || cfg.Severity > int(SeverityEscalate) {
			return nil, fmt.Errorf("category %q: severity %d out of range", name, cfg.Severity)
		}
		if err := validateRuleAction(Severity(cfg.Severity), Action(cfg.Action)); err != nil {
			return nil, fmt.Errorf("category %q: %w", name, err)
		}

		compiled := CompiledCategory{
			Category:   cat,
			Severity:   Severity(cfg.Severity),
			Action:     Action(cfg.Action),
			Reason:     cfg.Reason,
			Tag:        cfg.Tag,
			SupportKey: cfg.SupportKey,
		}
		if compiled.Tag == "" {
			compiled.Tag = name
		}
		for _, p := range cfg.Patterns {
			re, err := regexp.Compile("(?i)" + p)
			if err != nil {
				return nil, fmt.Errorf("category %q: bad pattern %q: %w", name, p, err)
			}
			compiled.Patterns = append(compiled.Patterns, re)
		}
		rs.categories = append(rs.categories, compiled)
	}

	// Fix evaluation order regardless of map iteration.
	ordered := make([]CompiledCategory, 0, len(rs.categories))
	for _, want := range categoryOrder {
		for _, c := range rs.categories {
			if c.Category == want {
				ordered = append(ordered, c)
				break
			}
		}
	}
	rs.categories = ordered

	logging.RulesDebug("rule set compiled: %d categories", len(rs.categories))
	return rs, nil
}

// validateRuleAction rejects category configs whose verdicts would violate
// the verdict invariants: severity 0 must allow, severity 3 must escalate or
// block.
func validateRuleAction(severity Severity, action Action) error {
	switch action {
	case ActionAllow, ActionWarn, ActionBlock, ActionEscalate:
	default:
		return fmt.Errorf("unknown action %q", action)
	}
	if severity == SeverityNone && action != ActionAllow {
		return fmt.Errorf("severity 0 requires action allow, got %q", action)
	}
	if severity == SeverityEscalate && action != ActionEscalate && action != ActionBlock {
		return fmt.Errorf("severity 3 requires action escalate or block, got %q", action)
	}
	return nil
}

// Evaluate checks the message against each category in priority order and
// returns the first matching category's verdict. Deterministic and
// side-effect-free: repeated calls return identical verdicts.
func (rs *RuleSet) Evaluate(message string) Verdict {
	for _, cat := range rs.categories {
		for _, re := range cat.Patterns {
			if re.MatchString(message) {
				logging.RulesDebug("matched category=%s pattern=%s", cat.Category, re.String())
				return Verdict{
					IsSafe:       cat.Severity == SeverityNone,
					Severity:     cat.Severity,
					Reason:       cat.Reason,
					Action:       cat.Action,
					FlaggedTerms: []string{cat.Tag},
				}
			}
		}
	}
	return SafeVerdict()
}

// SupportKeyFor returns the support-response key for a flagged tag, if the
// matching category defines one.
func (rs *RuleSet) SupportKeyFor(tag string) string {
	for _, cat := range rs.categories {
		if cat.Tag == tag {
			return cat.SupportKey
		}
	}
	return ""
}

// Categories returns the compiled categories in evaluation order.
func (rs *RuleSet) Categories() []CompiledCategory {
	return rs.categories
}

// =============================================================================
// RULE ENGINE - hot-swappable holder around the immutable rule set
// =============================================================================

// RuleEngine wraps a RuleSet and keeps evaluation available across reloads.
// A load failure never yields a silently-safe engine: evaluation returns the
// configuration-error verdict (severity 2, warn) until a good set is loaded.
type RuleEngine struct {
	mu      sync.RWMutex
	rs      *RuleSet
	path    string
	loadErr error
}

// NewRuleEngine loads the rule set at path. The engine is returned even when
// the load fails so the pipeline can keep running in its fail-safe mode.
func NewRuleEngine(path string) *RuleEngine {
	e := &RuleEngine{path: path}
	if err := e.Reload(); err != nil {
		logging.RulesError("initial rule load failed: %v", err)
	}
	return e
}

// NewRuleEngineFromSet wraps an already-compiled set (used by tests and by
// callers that assemble rules programmatically).
func NewRuleEngineFromSet(rs *RuleSet) *RuleEngine {
	return &RuleEngine{rs: rs}
}

// Reload re-reads the rule file. On failure the previous set, if any, stays
// active and the error is retained for Status.
func (e *RuleEngine) Reload() error {
	if e.path == "" {
		return fmt.Errorf("no rule path configured")
	}

	rs, err := LoadRuleSet(e.path)

	e.mu.Lock()
	defer e.mu.Unlock()

	if err != nil {
		e.loadErr = err
		return err
	}
	e.rs = rs
	e.loadErr = nil
	logging.Rules("rule set loaded from %s (%d categories)", e.path, len(rs.categories))
	return nil
}

// Evaluate runs the pattern rules over the message. If no valid rule set is
// loaded, the configuration-error verdict is returned; never severity 0.
func (e *RuleEngine) Evaluate(message string) Verdict {
	e.mu.RLock()
	rs := e.rs
	e.mu.RUnlock()

	if rs == nil {
		return ConfigErrorVerdict()
	}
	return rs.Evaluate(message)
}

// Current returns the active rule set, which may be nil after a failed load.
func (e *RuleEngine) Current() *RuleSet {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.rs
}

// Status reports whether a rule set is loaded and the last load error.
func (e *RuleEngine) Status() (loaded bool, lastErr error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.rs != nil, e.loadErr
}

// SupportKeyFor resolves a support-response key through the active rule set.
func (e *RuleEngine) SupportKeyFor(tags []string) string {
	e.mu.RLock()
	rs := e.rs
	e.mu.RUnlock()

	if rs == nil {
		return ""
	}
	for _, tag := range tags {
		if key := rs.SupportKeyFor(tag); key != "" {
			return key
		}
	}
	return ""
}

// normalizeTag lowercases and trims a tag for marker comparisons.
func normalizeTag(tag string) string {
	return strings.ToLower(strings.TrimSpace(tag))
}
