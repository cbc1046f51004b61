package ai

import (
	"context"
	"fmt"
)

// Part is one piece of a multimodal prompt: either text or an image.
type Part struct {
	Text  string
	Image []byte
	MIME  string
}

// Text returns a text part.
func Text(s string) Part { return Part{Text: s} }

// JPEG returns an image part holding JPEG bytes.
func JPEG(data []byte) Part { return Part{Image: data, MIME: "image/jpeg"} }

// IsImage reports whether the part carries an image.
func (p Part) IsImage() bool { return len(p.Image) > 0 }

// Request is a single-turn generation request.
type Request struct {
	Model     string
	System    string
	Parts     []Part
	MaxTokens int
}

// Response is the model's text answer and, when the provider reports it, its
// token accounting.
type Response struct {
	Text           string
	Model          string
	PromptTokens   int
	ResponseTokens int
}

// Provider is a model vendor.
type Provider interface {
	Name() string
	Generate(ctx context.Context, req Request) (*Response, error)
}

// TokenCounter is implemented by providers that can count prompt tokens
// server-side.
type TokenCounter interface {
	CountTokens(ctx context.Context, model string, system string, parts []Part) (int, error)
}

// Client is what the rest of the program talks to: generation plus token
// counting, with model selection already decided.
type Client interface {
	Generate(ctx context.Context, system string, parts ...Part) (*Response, error)
	CountTokens(ctx context.Context, system string, parts ...Part) int
}

// Default model identifiers per provider.
const (
	DefaultGeminiModel = "gemini-1.5-flash-002"
	DefaultClaudeModel = "claude-sonnet-4-20250514"
	DefaultOpenAIModel = "gpt-4o"
)

// DefaultModel returns the stable model identifier of a provider.
func DefaultModel(provider string) string {
	switch provider {
	case "claude", "anthropic":
		return DefaultClaudeModel
	case "openai", "gpt":
		return DefaultOpenAIModel
	default:
		return DefaultGeminiModel
	}
}

// NewProvider creates a provider by name. An empty apiKey falls back to the
// provider's environment variables.
func NewProvider(ctx context.Context, name, apiKey string) (Provider, error) {
	switch name {
	case "gemini", "google", "":
		return NewGeminiProvider(ctx, apiKey)
	case "claude", "anthropic":
		return NewClaudeProvider(apiKey)
	case "openai", "gpt":
		return NewOpenAIProvider(apiKey)
	default:
		return nil, fmt.Errorf("unknown provider: %s (supported: gemini, claude, openai)", name)
	}
}
