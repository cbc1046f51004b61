// Package decision turns a page snapshot and a goal into exactly one next
// action, asking the model when it can and falling back to a deterministic
// ladder when it cannot.
package decision

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/v0xg/browserpilot/internal/action"
	"github.com/v0xg/browserpilot/internal/ai"
	"github.com/v0xg/browserpilot/internal/imaging"
	"github.com/v0xg/browserpilot/internal/llmjson"
	"github.com/v0xg/browserpilot/internal/page"
)

// Model is the model collaborator used for decisions.
type Model interface {
	Generate(ctx context.Context, system string, parts ...ai.Part) (*ai.Response, error)
}

// Decision is the chosen action plus the context it was chosen in.
type Decision struct {
	Action      action.Action
	WebsiteType WebsiteType
	// Fallback is set when the action came from the heuristic ladder.
	Fallback bool
	// Err is the reason the model answer was not used, if any.
	Err error
}

// Engine decides the next action.
type Engine struct {
	model  Model
	logger *zap.Logger
}

// NewEngine returns an Engine. A nil model makes every decision a fallback.
func NewEngine(model Model, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{model: model, logger: logger.With(zap.String("component", "decision"))}
}

// Decide never fails: any model, parse or validation problem yields the
// fallback action.
func (e *Engine) Decide(ctx context.Context, snap *page.Snapshot, goal string) Decision {
	var url, title string
	if snap != nil {
		url, title = snap.URL, snap.Title
	}
	views := Views(snap)
	wt := DetectWebsiteType(url, title, bounded(snap))

	e.logger.Debug("Deciding",
		zap.String("url", url),
		zap.Int("elements", snap.Len()),
		zap.String("website_type", string(wt)))

	resp, err := e.ask(ctx, snap, goal, wt, views)
	if err != nil {
		e.logger.Warn("Decision model unavailable, using fallback", zap.Error(err))
		return Decision{Action: Fallback(snap, goal, wt), WebsiteType: wt, Fallback: true, Err: err}
	}
	usage := action.Usage{
		PromptTokens:   resp.PromptTokens,
		ResponseTokens: resp.ResponseTokens,
		TotalTokens:    resp.PromptTokens + resp.ResponseTokens,
	}

	a, err := e.interpret(resp.Text, snap)
	if err != nil {
		e.logger.Warn("Model decision rejected, using fallback", zap.Error(err))
		return Decision{
			Action:      action.WithUsage(Fallback(snap, goal, wt), usage),
			WebsiteType: wt,
			Fallback:    true,
			Err:         err,
		}
	}
	return Decision{Action: action.WithUsage(a, usage), WebsiteType: wt}
}

func (e *Engine) ask(ctx context.Context, snap *page.Snapshot, goal string, wt WebsiteType, views []ElementView) (*ai.Response, error) {
	if e.model == nil {
		return nil, errors.New("no model configured")
	}
	var url, title string
	if snap != nil {
		url, title = snap.URL, snap.Title
	}
	prompt := ai.BuildDecisionPrompt(goal, url, title, string(wt), len(views), viewsJSON(views))

	parts := []ai.Part{ai.Text(prompt)}
	if snap != nil && len(snap.Screenshot) > 0 {
		img, err := imaging.ForDecision(snap.Screenshot)
		if err != nil {
			e.logger.Debug("Screenshot not usable, deciding from elements only", zap.Error(err))
		} else {
			parts = append(parts, ai.JPEG(img))
		}
	}
	return e.model.Generate(ctx, ai.DecisionSystemPrompt, parts...)
}

func (e *Engine) interpret(raw string, snap *page.Snapshot) (action.Action, error) {
	obj, err := llmjson.Object(raw)
	if err != nil {
		return nil, err
	}
	return action.Parse(obj, snap)
}
