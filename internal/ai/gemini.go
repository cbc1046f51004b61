package ai

import (
	"context"
	"errors"
	"fmt"
	"os"

	"google.golang.org/genai"
)

// GeminiProvider implements Provider and TokenCounter using Google Gemini
type GeminiProvider struct {
	client *genai.Client
}

// NewGeminiProvider creates a new Gemini provider
func NewGeminiProvider(ctx context.Context, apiKey string) (*GeminiProvider, error) {
	if apiKey == "" {
		apiKey = os.Getenv("BROWSERPILOT_GOOGLE_KEY")
	}
	if apiKey == "" {
		apiKey = os.Getenv("GOOGLE_API_KEY")
	}
	if apiKey == "" {
		return nil, fmt.Errorf("BROWSERPILOT_GOOGLE_KEY or GOOGLE_API_KEY environment variable required")
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}
	return &GeminiProvider{client: client}, nil
}

func (p *GeminiProvider) Name() string { return "gemini" }

// Generate sends one user turn to the model.
func (p *GeminiProvider) Generate(ctx context.Context, req Request) (*Response, error) {
	config := &genai.GenerateContentConfig{
		Temperature: genai.Ptr[float32](0.2),
	}
	if req.MaxTokens > 0 {
		config.MaxOutputTokens = int32(req.MaxTokens)
	}
	if req.System != "" {
		config.SystemInstruction = genai.NewContentFromText(req.System, genai.RoleUser)
	}

	resp, err := p.client.Models.GenerateContent(ctx, req.Model, geminiContents(req.Parts), config)
	if err != nil {
		return nil, fmt.Errorf("Gemini API error: %w", err)
	}

	text := resp.Text()
	if text == "" {
		return nil, fmt.Errorf("empty response from Gemini")
	}

	out := &Response{Text: text, Model: req.Model}
	if resp.UsageMetadata != nil {
		out.PromptTokens = int(resp.UsageMetadata.PromptTokenCount)
		out.ResponseTokens = int(resp.UsageMetadata.CandidatesTokenCount)
	}
	return out, nil
}

// CountTokens asks the API to count the prompt. The system text is counted as
// a leading text part.
func (p *GeminiProvider) CountTokens(ctx context.Context, model, system string, parts []Part) (int, error) {
	if system != "" {
		parts = append([]Part{Text(system)}, parts...)
	}
	resp, err := p.client.Models.CountTokens(ctx, model, geminiContents(parts), nil)
	if err != nil {
		return 0, fmt.Errorf("Gemini count tokens: %w", err)
	}
	return int(resp.TotalTokens), nil
}

func geminiContents(parts []Part) []*genai.Content {
	var out []*genai.Part
	for _, part := range parts {
		if part.IsImage() {
			out = append(out, genai.NewPartFromBytes(part.Image, part.MIME))
			continue
		}
		out = append(out, genai.NewPartFromText(part.Text))
	}
	return []*genai.Content{genai.NewContentFromParts(out, genai.RoleUser)}
}

func geminiStatus(err error) int {
	for e := err; e != nil; e = errors.Unwrap(e) {
		switch v := any(e).(type) {
		case genai.APIError:
			return v.Code
		case *genai.APIError:
			return v.Code
		}
	}
	return 0
}
