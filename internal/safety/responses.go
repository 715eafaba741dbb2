package safety

import (
	"fmt"
	"math/rand"
	"os"
	"sync"

	"guardian/internal/logging"

	"gopkg.in/yaml.v3"
)

// Template keys, selected by flagged markers first and action second.
const (
	templateEmotionalSupport = "emotional_support"
	templateSwearing         = "swearing"
	templateInappropriate    = "inappropriate_content"
	templateGentleRedirect   = "gentle_redirect"
	templateBlock            = "block_response"
	templateEscalate         = "escalate_response"
	templateDefault          = "default"
)

// inappropriateMarkers are flagged-term tags that route to the
// inappropriate-content template.
var inappropriateMarkers = map[string]bool{
	"development": true,
	"substances":  true,
	"substance":   true,
	"identity":    true,
}

// AgeBand is one of the supported child age bands.
type AgeBand string

const (
	AgeBand7to8   AgeBand = "7-8"
	AgeBand9to10  AgeBand = "9-10"
	AgeBand11to12 AgeBand = "11-12"
)

// BandForAge maps a child's age to a template band.
func BandForAge(age int) AgeBand {
	switch {
	case age <= 8:
		return AgeBand7to8
	case age <= 10:
		return AgeBand9to10
	default:
		return AgeBand11to12
	}
}

// IntN matches rand.Intn; injectable so tests can pin template choice.
type IntN func(n int) int

// ResponseTemplates holds age-banded, child-friendly response texts supplied
// by the external config provider. When a template entry holds several
// variants, one is chosen uniformly at random: variety in wording only,
// never in the safety decision.
type ResponseTemplates struct {
	mu        sync.RWMutex
	templates map[string]map[AgeBand][]string
	intn      IntN
}

// templatesFile is the YAML schema: template key -> age band -> variants.
type templatesFile struct {
	Templates map[string]map[string][]string `yaml:"templates"`
}

// builtinTemplates keeps the pipeline usable when the template file cannot
// be loaded. The child never sees a raw error.
var builtinTemplates = map[string]map[AgeBand][]string{
	templateEmotionalSupport: {
		AgeBand7to8:   {"I'm really glad you told me. Those feelings are okay, and a grown-up you trust can help too."},
		AgeBand9to10:  {"Thank you for sharing that with me. It sounds hard. Talking to someone you trust can really help."},
		AgeBand11to12: {"That sounds really tough, and I'm glad you said it. Please consider talking to an adult you trust about this."},
	},
	templateGentleRedirect: {
		AgeBand7to8:   {"Let's talk about something fun instead! What's your favorite game?"},
		AgeBand9to10:  {"Hmm, let's switch topics. What have you been up to today?"},
		AgeBand11to12: {"Let's take this a different direction. What else is going on with you?"},
	},
	templateBlock: {
		AgeBand7to8:   {"I can't talk about that. Let's find something else to chat about!"},
		AgeBand9to10:  {"That's not something I can talk about. What else is on your mind?"},
		AgeBand11to12: {"I'm not able to discuss that. Want to talk about something else?"},
	},
	templateEscalate: {
		AgeBand7to8:   {"This is important, so I'm letting a grown-up know so they can help you."},
		AgeBand9to10:  {"This matters a lot, so a trusted adult is going to check in with you soon."},
		AgeBand11to12: {"Because this is serious, I've made sure a trusted adult knows so they can support you."},
	},
	templateDefault: {
		AgeBand7to8:   {"Let's chat about something else!"},
		AgeBand9to10:  {"Let's talk about something different."},
		AgeBand11to12: {"Let's move on to another topic."},
	},
}

// NewResponseTemplates wraps a template table with a random source.
func NewResponseTemplates(templates map[string]map[AgeBand][]string, intn IntN) *ResponseTemplates {
	if templates == nil {
		templates = builtinTemplates
	}
	if intn == nil {
		intn = rand.Intn
	}
	return &ResponseTemplates{templates: templates, intn: intn}
}

// LoadResponseTemplates reads the age-banded template file. On failure the
// built-in defaults are used and the error is reported for logging; the
// provider itself is always usable.
func LoadResponseTemplates(path string) (*ResponseTemplates, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		logging.EscalationWarn("template load failed, using built-ins: %v", err)
		return NewResponseTemplates(nil, nil), fmt.Errorf("failed to read templates: %w", err)
	}

	var tf templatesFile
	if err := yaml.Unmarshal(data, &tf); err != nil {
		logging.EscalationWarn("template parse failed, using built-ins: %v", err)
		return NewResponseTemplates(nil, nil), fmt.Errorf("failed to parse templates: %w", err)
	}

	templates := make(map[string]map[AgeBand][]string, len(tf.Templates))
	for key, bands := range tf.Templates {
		templates[key] = make(map[AgeBand][]string, len(bands))
		for band, variants := range bands {
			templates[key][AgeBand(band)] = variants
		}
	}

	logging.EscalationDebug("loaded %d response templates from %s", len(templates), path)
	return NewResponseTemplates(templates, nil), nil
}

// Select returns the child-facing response text for a verdict.
//
// Marker precedence: emotional-support, then swearing, then the
// inappropriate-content markers; otherwise the action decides.
func (rt *ResponseTemplates) Select(verdict Verdict, age int) string {
	key := templateDefault

	switch {
	case hasMarker(verdict.FlaggedTerms, templateEmotionalSupport):
		key = templateEmotionalSupport
	case hasMarker(verdict.FlaggedTerms, templateSwearing):
		key = templateSwearing
	case hasInappropriateMarker(verdict.FlaggedTerms):
		key = templateInappropriate
	default:
		switch verdict.Action {
		case ActionWarn:
			key = templateGentleRedirect
		case ActionBlock:
			key = templateBlock
		case ActionEscalate:
			key = templateEscalate
		}
	}

	return rt.lookup(key, BandForAge(age))
}

// lookup resolves key+band with fallbacks: requested key, then default key,
// then built-in defaults.
func (rt *ResponseTemplates) lookup(key string, band AgeBand) string {
	rt.mu.RLock()
	defer rt.mu.RUnlock()

	if variants := rt.templates[key][band]; len(variants) > 0 {
		return rt.pick(variants)
	}
	if variants := rt.templates[templateDefault][band]; len(variants) > 0 {
		return rt.pick(variants)
	}
	if variants := builtinTemplates[templateDefault][band]; len(variants) > 0 {
		return rt.pick(variants)
	}
	return "Let's talk about something else."
}

func (rt *ResponseTemplates) pick(variants []string) string {
	if len(variants) == 1 {
		return variants[0]
	}
	return variants[rt.intn(len(variants))]
}

func hasMarker(tags []string, marker string) bool {
	for _, t := range tags {
		if normalizeTag(t) == marker {
			return true
		}
	}
	return false
}

func hasInappropriateMarker(tags []string) bool {
	for _, t := range tags {
		if inappropriateMarkers[normalizeTag(t)] {
			return true
		}
	}
	return false
}
