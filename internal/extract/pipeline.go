// Package extract turns a page into a goal-relevant ExtractionRecord.
//
// Each stage has its own fallback: markup that cannot be normalized falls
// back to body text, and a model answer that cannot be parsed is kept as
// text. A model that cannot be reached at all yields a summary built from
// the normalized lines.
package extract

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/v0xg/browserpilot/internal/ai"
	"github.com/v0xg/browserpilot/internal/failure"
	"github.com/v0xg/browserpilot/internal/llmjson"
	"github.com/v0xg/browserpilot/internal/page"
	"github.com/v0xg/browserpilot/internal/record"
)

// Model is the model collaborator used for structuring.
type Model interface {
	Generate(ctx context.Context, system string, parts ...ai.Part) (*ai.Response, error)
}

// Pipeline runs content normalization and goal-directed structuring.
type Pipeline struct {
	model  Model
	logger *zap.Logger
	now    func() time.Time
}

// NewPipeline returns a Pipeline. A nil model always takes the model-free path.
func NewPipeline(model Model, logger *zap.Logger) *Pipeline {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pipeline{
		model:  model,
		logger: logger.With(zap.String("component", "extract")),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Extract reads the current page of b and structures it for goal. It fails
// only when neither markup nor body text can be read.
func (p *Pipeline) Extract(ctx context.Context, b page.Browser, goal string) (*record.Record, error) {
	content, err := p.Content(ctx, b)
	if err != nil {
		return nil, err
	}

	url, err := b.CurrentURL(ctx)
	if err != nil {
		p.logger.Debug("Current URL unavailable", zap.Error(err))
	}
	title, err := b.Title(ctx)
	if err != nil {
		p.logger.Debug("Title unavailable", zap.Error(err))
	}
	return p.Structure(ctx, goal, url, title, content), nil
}

// Content returns the normalized page content, or capped body text when the
// markup cannot be read or parsed.
func (p *Pipeline) Content(ctx context.Context, b page.Browser) (string, error) {
	html, err := b.RawHTML(ctx)
	if err == nil {
		var content string
		content, err = Normalize(html)
		if err == nil {
			return content, nil
		}
	}
	p.logger.Warn("Structured content failed, using body text", zap.Error(err))

	body, bodyErr := b.BodyText(ctx)
	if bodyErr != nil {
		return "", failure.New(failure.Transient, "extract.Content", errors.Join(err, bodyErr))
	}
	return Truncate(body, MaxBodyText), nil
}

// Structure asks the model for a structured record of content.
func (p *Pipeline) Structure(ctx context.Context, goal, url, title, content string) *record.Record {
	wt := WebsiteType(url, title)
	meta := record.Metadata{
		SourceURL:   url,
		PageTitle:   title,
		WebsiteType: wt,
		Goal:        goal,
		Timestamp:   p.now(),
	}

	raw, err := p.ask(ctx, goal, url, title, wt, content)
	if err != nil {
		p.logger.Warn("Extraction model failed, using fallback structure", zap.Error(err))
		meta.Method = record.MethodFallbackStructure
		meta.Note = "AI extraction failed, using fallback method"
		fields := record.NewMap().
			Set("extraction_status", "fallback_mode").
			Set("raw_content", Truncate(content, MaxRawFallback)).
			Set("content_summary", Summarize(content))
		return record.New(fields, meta)
	}

	obj, err := llmjson.Object(raw)
	if err != nil {
		p.logger.Info("Extraction answer is not JSON, keeping text", zap.Error(err))
		meta.Method = record.MethodTextFallback
		fields := record.NewMap().
			Set("extracted_content", raw).
			Set("content_type", "unstructured_text")
		return record.New(fields, meta)
	}

	meta.Method = record.MethodAI
	return record.New(record.MapFromJSON(obj), meta)
}

func (p *Pipeline) ask(ctx context.Context, goal, url, title, wt, content string) (string, error) {
	if p.model == nil {
		return "", errors.New("no model configured")
	}
	resp, err := p.model.Generate(ctx, "", ai.Text(ai.BuildExtractionPrompt(goal, url, title, wt, content)))
	if err != nil {
		return "", fmt.Errorf("generate: %w", err)
	}
	return resp.Text, nil
}

// WebsiteType classifies a page for extraction guidance: profile, company,
// product, news, research, search_results or general.
func WebsiteType(url, title string) string {
	u := strings.ToLower(url)
	t := strings.ToLower(title)

	switch {
	case containsAny(u, "linkedin.com", "github.com", "twitter.com", "facebook.com", "instagram.com"):
		return "profile"
	case containsAny(u, "amazon", "ebay", "shopify", "etsy"):
		return "product"
	case containsAny(t, "news", "article", "blog", "post"):
		return "news"
	case containsAny(t, "company", "corp", "about", "careers"):
		return "company"
	case containsAny(u, "arxiv.org", "scholar.", "pubmed", "doi.org") || containsAny(t, "research", "study", "paper", "journal"):
		return "research"
	case strings.Contains(u, "/search") || strings.Contains(u, "google.com"):
		return "search_results"
	}
	return "general"
}

func containsAny(s string, words ...string) bool {
	for _, w := range words {
		if strings.Contains(s, w) {
			return true
		}
	}
	return false
}
