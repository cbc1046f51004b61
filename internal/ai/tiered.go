package ai

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"go.uber.org/zap"
)

// Tiered is the two-tier model strategy: every call goes to the primary model
// and is retried exactly once against the fallback model when the provider
// rejects the primary as unknown or unsupported. Other errors are returned
// unchanged.
type Tiered struct {
	provider  Provider
	primary   string
	fallback  string
	maxTokens int
	tokens    *Estimator
	logger    *zap.Logger
}

// TieredOption configures a Tiered.
type TieredOption func(*Tiered)

// WithMaxTokens caps the response length.
func WithMaxTokens(n int) TieredOption {
	return func(t *Tiered) { t.maxTokens = n }
}

// WithEstimator replaces the local token estimator.
func WithEstimator(e *Estimator) TieredOption {
	return func(t *Tiered) { t.tokens = e }
}

// NewTiered builds the strategy. An empty primary uses the fallback; an empty
// fallback uses the provider's default model.
func NewTiered(p Provider, primary, fallback string, logger *zap.Logger, opts ...TieredOption) *Tiered {
	if logger == nil {
		logger = zap.NewNop()
	}
	if fallback == "" {
		fallback = DefaultModel(p.Name())
	}
	if primary == "" {
		primary = fallback
	}
	t := &Tiered{
		provider:  p,
		primary:   primary,
		fallback:  fallback,
		maxTokens: 1024,
		tokens:    NewEstimator(),
		logger:    logger.With(zap.String("component", "model"), zap.String("provider", p.Name())),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Primary returns the primary model identifier.
func (t *Tiered) Primary() string { return t.primary }

// Fallback returns the fallback model identifier.
func (t *Tiered) Fallback() string { return t.fallback }

// Generate calls the model. Token usage the provider did not report is
// filled in locally.
func (t *Tiered) Generate(ctx context.Context, system string, parts ...Part) (*Response, error) {
	var resp *Response
	model, err := t.call(ctx, func(model string) error {
		var err error
		resp, err = t.provider.Generate(ctx, Request{
			Model:     model,
			System:    system,
			Parts:     parts,
			MaxTokens: t.maxTokens,
		})
		return err
	})
	if err != nil {
		return nil, err
	}

	if resp.Model == "" {
		resp.Model = model
	}
	if resp.PromptTokens == 0 {
		resp.PromptTokens = t.CountTokens(ctx, system, parts...)
	}
	if resp.ResponseTokens == 0 {
		resp.ResponseTokens = t.tokens.Count("", []Part{Text(resp.Text)})
	}
	return resp, nil
}

// CountTokens counts the prompt with the provider when it can, else locally.
// It never fails.
func (t *Tiered) CountTokens(ctx context.Context, system string, parts ...Part) int {
	if counter, ok := t.provider.(TokenCounter); ok {
		var n int
		_, err := t.call(ctx, func(model string) error {
			var err error
			n, err = counter.CountTokens(ctx, model, system, parts)
			return err
		})
		if err == nil {
			return n
		}
		t.logger.Debug("Provider token count failed, estimating locally", zap.Error(err))
	}
	return t.tokens.Count(system, parts)
}

func (t *Tiered) call(ctx context.Context, fn func(model string) error) (string, error) {
	err := fn(t.primary)
	if err == nil {
		return t.primary, nil
	}
	if t.primary == t.fallback || !IsUnsupportedModel(err) || ctx.Err() != nil {
		return t.primary, err
	}

	t.logger.Warn("Model rejected, retrying with fallback",
		zap.String("model", t.primary),
		zap.String("fallback", t.fallback),
		zap.Error(err))
	return t.fallback, fn(t.fallback)
}

// IsUnsupportedModel reports whether err means the requested model
// identifier is unknown to, or unsupported by, the provider.
func IsUnsupportedModel(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	for _, status := range []int{claudeStatus(err), openAIStatus(err), geminiStatus(err)} {
		if status == http.StatusNotFound {
			return true
		}
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "not found") ||
		strings.Contains(msg, "does not support") ||
		strings.Contains(msg, "unsupported")
}
