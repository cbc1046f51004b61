package antibot

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/v0xg/browserpilot/internal/ai"
	"github.com/v0xg/browserpilot/internal/imaging"
	"github.com/v0xg/browserpilot/internal/llmjson"
)

// Model is the vision model the classifier consults.
type Model interface {
	Generate(ctx context.Context, system string, parts ...ai.Part) (*ai.Response, error)
}

// Classifier asks a vision model whether a screenshot shows an anti-bot wall.
// Its methods never fail; every error path produces a safe verdict.
type Classifier struct {
	model  Model
	logger *zap.Logger
}

// NewClassifier returns a Classifier backed by model.
func NewClassifier(model Model, logger *zap.Logger) *Classifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Classifier{model: model, logger: logger.With(zap.String("component", "antibot"))}
}

// Classify judges the screenshot of pageURL.
func (c *Classifier) Classify(ctx context.Context, screenshot []byte, pageURL string) Verdict {
	raw, err := c.ask(ctx, screenshot, ai.BuildAntiBotPrompt(pageURL))
	if err != nil {
		c.logger.Warn("Anti-bot analysis failed", zap.String("url", pageURL), zap.Error(err))
		return failed(err)
	}

	obj, err := llmjson.Object(raw)
	if err != nil {
		c.logger.Debug("Anti-bot answer not parseable, scanning text", zap.Error(err))
		return Scan(raw)
	}
	return verdictFromJSON(obj)
}

// SolveCaptcha asks the model to answer the CAPTCHA in the screenshot.
func (c *Classifier) SolveCaptcha(ctx context.Context, screenshot []byte, pageURL, captchaType string) SolutionAttempt {
	raw, err := c.ask(ctx, screenshot, ai.BuildCaptchaPrompt(pageURL, captchaType))
	if err != nil {
		c.logger.Warn("CAPTCHA solving failed", zap.String("url", pageURL), zap.Error(err))
		return unsolved("CAPTCHA solving failed: " + err.Error())
	}
	obj, err := llmjson.Object(raw)
	if err != nil {
		return unsolved("Could not parse CAPTCHA solution")
	}
	return solutionFromJSON(obj)
}

func (c *Classifier) ask(ctx context.Context, screenshot []byte, prompt string) (string, error) {
	if c.model == nil {
		return "", errors.New("no model configured")
	}
	img, err := imaging.ForAntiBot(screenshot)
	if err != nil {
		return "", err
	}
	resp, err := c.model.Generate(ctx, "", ai.Text(prompt), ai.JPEG(img))
	if err != nil {
		return "", err
	}
	return resp.Text, nil
}
