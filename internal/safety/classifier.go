package safety

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"guardian/internal/logging"

	"github.com/kaptinlin/jsonrepair"
)

// Classifier is the adapter contract for the external AI content classifier.
// Network and timeout errors propagate to the orchestrator so it can mark
// the classifier down; a malformed payload does NOT error, it degrades to a
// safe-by-default block verdict.
type Classifier interface {
	Classify(ctx context.Context, message string, age int, contextStr string) (Verdict, error)
}

// classifierPayload is the small JSON document the classifier must return.
type classifierPayload struct {
	Safe         bool     `json:"safe"`
	Severity     int      `json:"severity"`
	Reason       string   `json:"reason"`
	Action       string   `json:"action"`
	FlaggedTerms []string `json:"flagged_terms"`
}

const classifierSystemPrompt = `You are a child-safety content classifier for a conversational AI companion.
Given a message involving a child, respond with ONLY a JSON object:
{"safe": bool, "severity": 0-3, "reason": string, "action": "allow"|"warn"|"block"|"escalate", "flagged_terms": [string]}
Severity: 0=none, 1=minor/monitor, 2=moderate/redirect, 3=serious/escalate.
Consider the child's age. Be conservative: when uncertain, raise severity.`

func buildClassifierPrompt(message string, age int, contextStr string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Child age: %d\n", age)
	if contextStr != "" {
		fmt.Fprintf(&b, "Recent context: %s\n", contextStr)
	}
	fmt.Fprintf(&b, "Message: %s", message)
	return b.String()
}

// parseClassifierPayload turns raw classifier output into a verdict.
// LLM output is routinely wrapped in code fences or slightly malformed, so
// the raw text is repaired before parsing. If the payload still cannot be
// parsed, the result is a safe-by-default block verdict (severity 2) and a
// nil error: a parse failure must never surface as "safe" or as an exception.
func parseClassifierPayload(raw string) Verdict {
	cleaned := stripCodeFences(raw)

	var payload classifierPayload
	if err := json.Unmarshal([]byte(cleaned), &payload); err != nil {
		repaired, repairErr := jsonrepair.JSONRepair(cleaned)
		if repairErr != nil || json.Unmarshal([]byte(repaired), &payload) != nil {
			logging.ClassifierWarn("unparseable classifier payload, blocking by default: %.120s", raw)
			return Verdict{
				IsSafe:   false,
				Severity: SeverityRedirect,
				Reason:   "classifier returned malformed response",
				Action:   ActionBlock,
			}
		}
	}

	if payload.Severity < int(SeverityNone) {
		payload.Severity = int(SeverityNone)
	}
	if payload.Severity > int(SeverityEscalate) {
		payload.Severity = int(SeverityEscalate)
	}

	v := Verdict{
		IsSafe:       payload.Safe,
		Severity:     Severity(payload.Severity),
		Reason:       payload.Reason,
		FlaggedTerms: payload.FlaggedTerms,
	}

	switch Action(strings.ToLower(payload.Action)) {
	case ActionAllow, ActionWarn, ActionBlock, ActionEscalate:
		v.Action = Action(strings.ToLower(payload.Action))
	default:
		v.Action = actionForSeverity(v.Severity)
	}

	// Re-impose the verdict invariants regardless of what the model said.
	if v.Severity == SeverityNone {
		v.Action = ActionAllow
		v.IsSafe = true
	}
	if v.Severity >= SeverityEscalate {
		v.IsSafe = false
		if v.Action != ActionBlock {
			v.Action = ActionEscalate
		}
	}

	return v
}

func actionForSeverity(s Severity) Action {
	switch {
	case s >= SeverityEscalate:
		return ActionEscalate
	case s == SeverityRedirect:
		return ActionWarn
	case s == SeverityMonitor:
		return ActionWarn
	default:
		return ActionAllow
	}
}

func stripCodeFences(s string) string {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```json")
		s = strings.TrimPrefix(s, "```")
		s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	}
	return strings.TrimSpace(s)
}

// =============================================================================
// HTTP CLASSIFIER - OpenAI-style chat completions provider
// =============================================================================

// HTTPClassifier calls an OpenAI-compatible chat-completions endpoint.
type HTTPClassifier struct {
	apiKey     string
	baseURL    string
	model      string
	httpClient *http.Client
}

// HTTPClassifierConfig holds configuration for the HTTP classifier.
type HTTPClassifierConfig struct {
	APIKey  string
	BaseURL string
	Model   string
	Timeout time.Duration
}

// DefaultHTTPClassifierConfig returns sensible defaults. The timeout is
// short: classification sits on the message hot path.
func DefaultHTTPClassifierConfig(apiKey string) HTTPClassifierConfig {
	return HTTPClassifierConfig{
		APIKey:  apiKey,
		BaseURL: "https://api.openai.com/v1",
		Model:   "gpt-4o-mini",
		Timeout: 10 * time.Second,
	}
}

// NewHTTPClassifier creates an HTTP classifier with default config.
func NewHTTPClassifier(apiKey string) *HTTPClassifier {
	return NewHTTPClassifierWithConfig(DefaultHTTPClassifierConfig(apiKey))
}

// NewHTTPClassifierWithConfig creates an HTTP classifier with custom config.
func NewHTTPClassifierWithConfig(config HTTPClassifierConfig) *HTTPClassifier {
	if config.Timeout <= 0 {
		config.Timeout = 10 * time.Second
	}
	return &HTTPClassifier{
		apiKey:  config.APIKey,
		baseURL: config.BaseURL,
		model:   config.Model,
		httpClient: &http.Client{
			Timeout: config.Timeout,
		},
	}
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
	Temperature float64       `json:"temperature"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error,omitempty"`
}

// Classify sends the message for classification and parses the verdict.
func (c *HTTPClassifier) Classify(ctx context.Context, message string, age int, contextStr string) (Verdict, error) {
	if c.apiKey == "" {
		return Verdict{}, fmt.Errorf("API key not configured")
	}

	timer := logging.StartTimer(logging.CategoryClassifier, "HTTPClassifier.Classify")
	defer timer.StopWithThreshold(5 * time.Second)

	reqBody := chatRequest{
		Model: c.model,
		Messages: []chatMessage{
			{Role: "system", Content: classifierSystemPrompt},
			{Role: "user", Content: buildClassifierPrompt(message, age, contextStr)},
		},
		MaxTokens:   256,
		Temperature: 0.1, // Low temperature for structured output
	}

	jsonData, err := json.Marshal(reqBody)
	if err != nil {
		return Verdict{}, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+"/chat/completions", bytes.NewReader(jsonData))
	if err != nil {
		return Verdict{}, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return Verdict{}, fmt.Errorf("classifier request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return Verdict{}, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return Verdict{}, fmt.Errorf("classifier request failed with status %d: %s", resp.StatusCode, string(body))
	}

	var cr chatResponse
	if err := json.Unmarshal(body, &cr); err != nil {
		return Verdict{}, fmt.Errorf("failed to parse response envelope: %w", err)
	}
	if cr.Error != nil {
		return Verdict{}, fmt.Errorf("classifier API error: %s", cr.Error.Message)
	}
	if len(cr.Choices) == 0 {
		return Verdict{}, fmt.Errorf("no completion returned")
	}

	return parseClassifierPayload(cr.Choices[0].Message.Content), nil
}

// SetModel changes the model used for classification.
func (c *HTTPClassifier) SetModel(model string) {
	c.model = model
}
