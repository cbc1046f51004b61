package antibot

import (
	"context"

	"go.uber.org/zap"

	"github.com/v0xg/browserpilot/internal/page"
)

// Report is the result of one guard inspection.
type Report struct {
	Verdict    Verdict  `json:"verdict"`
	Resolution *Outcome `json:"resolution,omitempty"`
}

// Guard classifies the page after a navigation and, for a solvable CAPTCHA,
// runs the resolution protocol with the classifier as solver.
type Guard struct {
	classifier *Classifier
	resolver   *Resolver
	surface    page.ChallengeSurface
	logger     *zap.Logger
}

// NewGuard wires a Guard.
func NewGuard(c *Classifier, surface page.ChallengeSurface, logger *zap.Logger, opts ...ResolverOption) *Guard {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Guard{
		classifier: c,
		resolver:   NewResolver(surface, c, logger, opts...),
		surface:    surface,
		logger:     logger.With(zap.String("component", "guard")),
	}
}

// Inspect screenshots the current page and judges it.
func (g *Guard) Inspect(ctx context.Context, pageURL string) Report {
	shot, err := g.surface.Screenshot(ctx)
	if err != nil {
		return Report{Verdict: failed(err)}
	}

	rep := Report{Verdict: g.classifier.Classify(ctx, shot, pageURL)}
	if !rep.Verdict.IsAntiBot {
		return rep
	}
	g.logger.Info("Anti-bot page detected",
		zap.String("url", pageURL),
		zap.String("type", rep.Verdict.DetectionType),
		zap.Float64("confidence", rep.Verdict.Confidence),
		zap.String("suggested", string(rep.Verdict.SuggestedAction)))

	if !rep.Verdict.IsCaptcha() || !rep.Verdict.CanSolve {
		return rep
	}
	out, err := g.resolver.Resolve(ctx, pageURL, rep.Verdict.DetectionType)
	if err != nil {
		g.logger.Warn("Challenge resolution interrupted", zap.Error(err))
	}
	rep.Resolution = &out
	return rep
}
