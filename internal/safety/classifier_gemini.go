package safety

import (
	"context"
	"fmt"

	"guardian/internal/logging"

	"google.golang.org/genai"
)

// GeminiClassifier calls Google's Gemini API for content classification.
type GeminiClassifier struct {
	client *genai.Client
	model  string
}

// NewGeminiClassifier creates a Gemini-backed classifier.
func NewGeminiClassifier(apiKey, model string) (*GeminiClassifier, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("Gemini API key is required")
	}
	if model == "" {
		model = "gemini-2.0-flash"
	}

	ctx := context.Background()
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey: apiKey,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}

	return &GeminiClassifier{client: client, model: model}, nil
}

// Classify sends the message for classification and parses the verdict.
// JSON response mode plus low temperature keeps the payload structured.
func (g *GeminiClassifier) Classify(ctx context.Context, message string, age int, contextStr string) (Verdict, error) {
	timer := logging.StartTimer(logging.CategoryClassifier, "GeminiClassifier.Classify")
	defer timer.Stop()

	prompt := classifierSystemPrompt + "\n\n" + buildClassifierPrompt(message, age, contextStr)

	resp, err := g.client.Models.GenerateContent(ctx, g.model, genai.Text(prompt), &genai.GenerateContentConfig{
		Temperature:      genai.Ptr[float32](0.1),
		MaxOutputTokens:  256,
		ResponseMIMEType: "application/json",
	})
	if err != nil {
		return Verdict{}, fmt.Errorf("gemini classification failed: %w", err)
	}

	text := resp.Text()
	if text == "" {
		return Verdict{}, fmt.Errorf("empty classifier response")
	}

	return parseClassifierPayload(text), nil
}
