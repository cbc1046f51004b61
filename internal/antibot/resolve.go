package antibot

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/v0xg/browserpilot/internal/page"
)

// Solver produces an answer for a CAPTCHA screenshot. *Classifier is one.
type Solver interface {
	SolveCaptcha(ctx context.Context, screenshot []byte, pageURL, captchaType string) SolutionAttempt
}

// Default polling parameters of the resolution protocol.
const (
	DefaultPollInterval = 2 * time.Second
	DefaultClearTimeout = 120 * time.Second
)

// Outcome reports what the resolution protocol did.
type Outcome struct {
	Detected bool             `json:"detected"`
	Attempt  *SolutionAttempt `json:"attempt,omitempty"`
	Applied  bool             `json:"applied"`
	Cleared  bool             `json:"cleared"`
}

// Resolver runs the challenge resolution protocol against a browser surface.
type Resolver struct {
	surface  page.ChallengeSurface
	solver   Solver
	interval time.Duration
	timeout  time.Duration
	logger   *zap.Logger
}

// ResolverOption configures a Resolver.
type ResolverOption func(*Resolver)

// WithPollInterval sets how often challenge presence is re-checked.
func WithPollInterval(d time.Duration) ResolverOption {
	return func(r *Resolver) { r.interval = d }
}

// WithClearTimeout sets how long to wait for the challenge to clear.
func WithClearTimeout(d time.Duration) ResolverOption {
	return func(r *Resolver) { r.timeout = d }
}

// NewResolver builds a Resolver. solver may be nil, in which case no answer is
// ever typed and the protocol only waits for the challenge to clear.
func NewResolver(surface page.ChallengeSurface, solver Solver, logger *zap.Logger, opts ...ResolverOption) *Resolver {
	if logger == nil {
		logger = zap.NewNop()
	}
	r := &Resolver{
		surface:  surface,
		solver:   solver,
		interval: DefaultPollInterval,
		timeout:  DefaultClearTimeout,
		logger:   logger.With(zap.String("component", "challenge")),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Resolve checks for a challenge widget and, when one is present, tries the
// solver's answer and waits for the widget to go away. A page without a
// challenge returns an Outcome with Detected false.
func (r *Resolver) Resolve(ctx context.Context, pageURL, captchaType string) (Outcome, error) {
	var out Outcome

	present, err := r.surface.ChallengePresent(ctx)
	if err != nil {
		return out, err
	}
	if !present {
		return out, nil
	}
	out.Detected = true
	r.logger.Info("Challenge detected", zap.String("url", pageURL))

	if r.solver != nil {
		out.Applied = r.apply(ctx, pageURL, captchaType, &out)
	}

	out.Cleared, err = r.waitClear(ctx)
	if out.Cleared {
		r.logger.Info("Challenge cleared", zap.String("url", pageURL))
	} else if err == nil {
		r.logger.Warn("Challenge still present after waiting", zap.Duration("timeout", r.timeout))
	}
	return out, err
}

func (r *Resolver) apply(ctx context.Context, pageURL, captchaType string, out *Outcome) bool {
	shot, err := r.surface.Screenshot(ctx)
	if err != nil {
		r.logger.Warn("Challenge screenshot failed", zap.Error(err))
		return false
	}

	attempt := r.solver.SolveCaptcha(ctx, shot, pageURL, captchaType)
	out.Attempt = &attempt
	if !attempt.Usable() {
		return false
	}

	if err := r.surface.FillFirstTextInput(ctx, attempt.Solution); err != nil {
		r.logger.Warn("Solution could not be entered", zap.Error(err))
		return false
	}
	if err := r.surface.ClickFirstSubmit(ctx); err != nil {
		r.logger.Warn("Solution could not be submitted", zap.Error(err))
		return false
	}
	r.logger.Info("Solver applied solution", zap.String("type", attempt.SolutionType))
	return true
}

func (r *Resolver) waitClear(ctx context.Context) (bool, error) {
	deadline := time.NewTimer(r.timeout)
	defer deadline.Stop()
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		present, err := r.surface.ChallengePresent(ctx)
		if err != nil {
			r.logger.Debug("Challenge check failed", zap.Error(err))
		} else if !present {
			return true, nil
		}

		select {
		case <-ctx.Done():
			return false, ctx.Err()
		case <-deadline.C:
			return false, nil
		case <-ticker.C:
		}
	}
}
