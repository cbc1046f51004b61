package agent

import (
	"context"

	"go.uber.org/zap"

	"github.com/v0xg/browserpilot/internal/action"
	"github.com/v0xg/browserpilot/internal/artifact"
	"github.com/v0xg/browserpilot/internal/decision"
	"github.com/v0xg/browserpilot/internal/events"
	"github.com/v0xg/browserpilot/internal/executor"
	"github.com/v0xg/browserpilot/internal/failure"
	"github.com/v0xg/browserpilot/internal/page"
	"github.com/v0xg/browserpilot/internal/record"
	"github.com/v0xg/browserpilot/internal/render"
)

// act dispatches one decision and reports whether the loop must stop.
func (j *run) act(ctx context.Context, d decision.Decision, snap *page.Snapshot) bool {
	switch a := d.Action.(type) {
	case action.Done:
		j.logger.Info("Goal reported complete", zap.String("reason", a.Reason))
		return true

	case action.Extract:
		attempt, ok := j.c.extract()
		if !ok {
			j.logger.Warn("Maximum extraction attempts reached", zap.Int("attempt", attempt))
			return true
		}
		return j.extract(ctx, attempt, false)

	case action.Scroll:
		if j.c.scroll() {
			j.logger.Info("Too many consecutive scrolls, jumping to page end")
			end, _ := action.NewPressKey(action.EndKey, "consecutive scroll limit")
			j.perform(ctx, end, snap)
			return false
		}
		j.perform(ctx, a, snap)
		return false

	case action.Click, action.Type, action.PressKey, action.Navigate:
		res := j.perform(ctx, a, snap)
		if res.Skipped || res.Err != nil {
			return false
		}
		_, typed := a.(action.Type)
		j.c.moved(!typed)
		if nav, ok := a.(action.Navigate); ok {
			j.inspect(ctx, nav.URL)
		}
		return false
	}

	j.logger.Warn("Unknown action, skipping", zap.String("action", action.Describe(d.Action)))
	return false
}

// perform executes a browser action and records it in the trace.
func (j *run) perform(ctx context.Context, a action.Action, snap *page.Snapshot) executor.Result {
	res := j.exec.Execute(ctx, a, snap)
	if res.Skipped {
		return res
	}
	if res.Err != nil {
		j.logger.Warn("Action failed", zap.String("action", action.Describe(a)), zap.Error(res.Err))
		if nav, ok := a.(action.Navigate); ok && !failure.Is(res.Err, failure.Input) && ctx.Err() == nil {
			j.navigationError(ctx, nav.URL, res.Err)
		}
		_ = j.wait(ctx, j.opts.RetryDelay)
	}
	if j.tracer != nil {
		_, click := a.(action.Click)
		j.tracer.Add(snap.Screenshot, res.Target, click)
	}
	return res
}

// extract runs the pipeline and persists its record. It reports whether the
// loop must stop: a record that could not be produced lets the loop go on,
// anything after that ends it.
func (j *run) extract(ctx context.Context, attempt int, final bool) bool {
	j.publish(ctx, events.Extraction, events.StatusStarting, map[string]any{
		"attempt": attempt,
		"format":  j.format,
		"final":   final,
	})

	rec, err := j.extractor.Extract(ctx, j.browser, j.goal.Raw)
	if err != nil {
		j.logger.Warn("Extraction failed", zap.Int("attempt", attempt), zap.Error(err))
		j.extractionFailed(ctx, attempt, err)
		return false
	}
	if ctx.Err() != nil {
		return true
	}

	saved, err := j.persist(rec)
	if err != nil {
		j.logger.Error("Artifact not saved", zap.Error(err))
		j.res.Err = err
		j.extractionFailed(ctx, attempt, err)
		return true
	}
	j.res.Saved = &saved
	j.publish(ctx, events.Extraction, events.StatusCompleted, map[string]any{
		"format":         saved.Format,
		"file_path":      saved.Path,
		"file_extension": saved.Format.Ext(),
		"fallback":       saved.Fallback,
		"proxy_stats":    j.browser.HealthStats(),
	})
	return true
}

func (j *run) extractionFailed(ctx context.Context, attempt int, err error) {
	j.publish(ctx, events.Extraction, events.StatusFailed, map[string]any{
		"attempt": attempt,
		"error":   err.Error(),
	})
}

// persist renders rec and commits it. A PDF that cannot be built is saved as
// text behind the fallback banner.
func (j *run) persist(rec *record.Record) (artifact.Saved, error) {
	content, err := j.render(rec, j.format)
	if err != nil {
		if j.format == artifact.PDF {
			return j.store.SavePDFFallback(j.job.ID, render.Text(rec), err)
		}
		return artifact.Saved{}, failure.New(failure.Persistence, "agent.persist", err)
	}
	return j.store.Save(j.job.ID, j.format, content)
}

func actionWire(d decision.Decision) any {
	if d.Action == nil {
		return nil
	}
	return action.ToWire(d.Action)
}
