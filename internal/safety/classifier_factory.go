package safety

import (
	"fmt"

	"guardian/internal/config"
)

// NewClassifierFromConfig selects and builds a classifier provider.
// Supported providers: "http" (OpenAI-compatible endpoint), "gemini".
func NewClassifierFromConfig(cfg *config.Config) (Classifier, error) {
	switch cfg.Classifier.Provider {
	case "", "http":
		if cfg.Classifier.APIKey == "" {
			return nil, fmt.Errorf("no classifier API key configured")
		}
		hc := DefaultHTTPClassifierConfig(cfg.Classifier.APIKey)
		if cfg.Classifier.BaseURL != "" {
			hc.BaseURL = cfg.Classifier.BaseURL
		}
		if cfg.Classifier.Model != "" {
			hc.Model = cfg.Classifier.Model
		}
		hc.Timeout = cfg.ClassifierTimeout()
		return NewHTTPClassifierWithConfig(hc), nil
	case "gemini":
		return NewGeminiClassifier(cfg.Classifier.APIKey, cfg.Classifier.Model)
	default:
		return nil, fmt.Errorf("unknown classifier provider %q", cfg.Classifier.Provider)
	}
}
