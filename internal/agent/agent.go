// Package agent runs one job: navigate to the starting URL, step through
// decide-and-act until the goal is met or the step budget runs out, and turn
// the final page into exactly one artifact.
package agent

import (
	"context"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/v0xg/browserpilot/internal/action"
	"github.com/v0xg/browserpilot/internal/antibot"
	"github.com/v0xg/browserpilot/internal/artifact"
	"github.com/v0xg/browserpilot/internal/decision"
	"github.com/v0xg/browserpilot/internal/events"
	"github.com/v0xg/browserpilot/internal/executor"
	"github.com/v0xg/browserpilot/internal/failure"
	"github.com/v0xg/browserpilot/internal/goal"
	"github.com/v0xg/browserpilot/internal/page"
	"github.com/v0xg/browserpilot/internal/record"
	"github.com/v0xg/browserpilot/internal/render"
	"github.com/v0xg/browserpilot/internal/routine"
	"github.com/v0xg/browserpilot/internal/trace"
)

// Decider picks the next action. *decision.Engine is one.
type Decider interface {
	Decide(ctx context.Context, snap *page.Snapshot, goal string) decision.Decision
}

// Extractor turns the current page into a record. *extract.Pipeline is one.
type Extractor interface {
	Extract(ctx context.Context, b page.Browser, goal string) (*record.Record, error)
}

// RenderFunc encodes a record. render.Render is the default.
type RenderFunc func(rec *record.Record, f artifact.Format) ([]byte, error)

// Job is one unit of work.
type Job struct {
	ID   string
	Goal string
	// Format is the requested format; the goal text may override it.
	Format artifact.Format
}

// Result summarizes a finished job.
type Result struct {
	JobID  string
	Format artifact.Format
	Steps  int
	// Status is the status of the finished event.
	Status string
	Saved  *artifact.Saved
	Err    error
}

// Options tunes the loop timing and the optional features.
type Options struct {
	Executor executor.Options
	// StepDelay separates consecutive steps.
	StepDelay time.Duration
	// RetryDelay follows a failed action or snapshot.
	RetryDelay time.Duration
	// AntiBot inspects the page after every navigation.
	AntiBot bool
	// TraceDir, when set, receives {jobID}.gif with the step screenshots.
	TraceDir string
	Trace    trace.Options
}

// DefaultOptions returns the timing used in production.
func DefaultOptions() Options {
	return Options{
		Executor:   executor.DefaultOptions(),
		StepDelay:  500 * time.Millisecond,
		RetryDelay: time.Second,
		Trace:      trace.DefaultOptions(),
	}
}

// Runner runs jobs. It holds only process-scoped collaborators and is safe
// for concurrent use by many jobs.
type Runner struct {
	decider      Decider
	extractor    Extractor
	store        *artifact.Store
	publisher    events.Publisher
	routines     *routine.Registry
	classifier   *antibot.Classifier
	resolverOpts []antibot.ResolverOption
	render       RenderFunc
	opts         Options
	logger       *zap.Logger
	now          func() time.Time
}

// Option configures a Runner.
type Option func(*Runner)

// WithOptions replaces DefaultOptions.
func WithOptions(o Options) Option {
	return func(r *Runner) { r.opts = o }
}

// WithRoutines sets the registry RUN_FUNCTION directives are looked up in.
func WithRoutines(reg *routine.Registry) Option {
	return func(r *Runner) { r.routines = reg }
}

// WithClassifier enables challenge solving for handle_captcha and, with
// Options.AntiBot, the post-navigation guard.
func WithClassifier(c *antibot.Classifier, opts ...antibot.ResolverOption) Option {
	return func(r *Runner) {
		r.classifier = c
		r.resolverOpts = opts
	}
}

// WithRenderer replaces render.Render.
func WithRenderer(fn RenderFunc) Option {
	return func(r *Runner) { r.render = fn }
}

// NewRunner wires a Runner. A nil publisher drops events.
func NewRunner(d Decider, x Extractor, store *artifact.Store, pub events.Publisher, logger *zap.Logger, opts ...Option) *Runner {
	if logger == nil {
		logger = zap.NewNop()
	}
	if pub == nil {
		pub = events.Discard
	}
	r := &Runner{
		decider:   d,
		extractor: x,
		store:     store,
		publisher: pub,
		routines:  routine.NewRegistry(),
		render:    render.Render,
		opts:      DefaultOptions(),
		logger:    logger.With(zap.String("component", "agent")),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run executes job against b. It always publishes a finished event, and on
// success exactly one artifact has been committed to the store. Cancelling
// ctx abandons the job and discards anything not yet committed.
func (r *Runner) Run(ctx context.Context, job Job, b page.Browser) Result {
	j := r.newRun(job, b)
	j.start(ctx)
	j.finish(ctx)
	return j.res
}

// run is the state of one job.
type run struct {
	*Runner
	job      Job
	goal     goal.Goal
	format   artifact.Format
	budget   int
	browser  page.Browser
	exec     *executor.Executor
	resolver *antibot.Resolver
	guard    *antibot.Guard
	tracer   *trace.Recorder
	c        counters
	logger   *zap.Logger
	res      Result
}

func (r *Runner) newRun(job Job, b page.Browser) *run {
	g := goal.Parse(job.Goal)
	format := goal.DetectFormat(g.Raw, artifact.Normalize(string(job.Format)))
	logger := r.logger.With(zap.String("job_id", job.ID))

	j := &run{
		Runner:  r,
		job:     job,
		goal:    g,
		format:  format,
		budget:  goal.StepBudget(g.Raw),
		browser: b,
		exec:    executor.New(b, r.opts.Executor, logger),
		logger:  logger,
		res:     Result{JobID: job.ID, Format: format},
	}

	if surface, ok := b.(page.ChallengeSurface); ok {
		var solver antibot.Solver
		if r.classifier != nil {
			solver = r.classifier
		}
		j.resolver = antibot.NewResolver(surface, solver, logger, r.resolverOpts...)
		if r.opts.AntiBot && r.classifier != nil {
			j.guard = antibot.NewGuard(r.classifier, surface, logger, r.resolverOpts...)
		}
	}
	if r.opts.TraceDir != "" {
		j.tracer = trace.NewRecorder(logger)
	}
	if format != job.Format {
		logger.Info("Format overridden", zap.String("requested", string(job.Format)), zap.String("format", string(format)))
	}
	return j
}

func (j *run) start(ctx context.Context) {
	start := j.goal.StartURL()
	j.publish(ctx, events.Started, "", map[string]any{
		"start_url":       start,
		"detected_format": j.format,
		"file_extension":  j.format.Ext(),
		"step_budget":     j.budget,
		"routines":        j.goal.Routines,
		"proxy_stats":     j.browser.HealthStats(),
	})
	j.logger.Info("Job started",
		zap.String("goal", j.goal.Raw),
		zap.String("start_url", start),
		zap.Int("step_budget", j.budget))

	if err := j.browser.Navigate(ctx, start); err != nil {
		j.logger.Error("Initial navigation failed", zap.String("url", start), zap.Error(err))
		j.navigationError(ctx, start, err)
		j.res.Err = failure.New(failure.Transient, "agent.Run", err)
		return
	}
	j.inspect(ctx, start)
	j.runRoutines(ctx)
	j.loop(ctx)

	if !j.c.attempted && ctx.Err() == nil {
		j.logger.Info("No extraction attempted, extracting the final page")
		j.extract(ctx, 1, true)
	}
}

func (j *run) loop(ctx context.Context) {
	for step := 0; step < j.budget; step++ {
		if ctx.Err() != nil {
			return
		}
		j.res.Steps = step + 1

		if step%HealthEvery == 0 {
			j.publish(ctx, events.ProxyStats, "", map[string]any{
				"step":  step,
				"stats": j.browser.HealthStats(),
			})
		}

		snap, err := j.browser.Snapshot(ctx, true)
		if err != nil {
			j.logger.Warn("Snapshot failed", zap.Int("step", step+1), zap.Error(err))
			if j.wait(ctx, j.opts.RetryDelay) != nil {
				return
			}
			continue
		}
		j.publish(ctx, events.PageInfo, "", map[string]any{
			"step":                 step + 1,
			"url":                  snap.URL,
			"title":                snap.Title,
			"interactive_elements": snap.Len(),
			"format":               j.format,
		})
		if len(snap.Screenshot) > 0 {
			j.publish(ctx, events.Screenshot, "", map[string]any{
				"step":  step + 1,
				"image": snap.Screenshot,
			})
		}

		if snap.Len() == 0 {
			if !j.c.emptyPage() {
				j.logger.Warn("No interactive elements after scrolling")
				return
			}
			j.logger.Info("No interactive elements, scrolling")
			if err := j.browser.Scroll(ctx, page.Down, action.DefaultScrollAmount); err != nil {
				j.logger.Warn("Scroll failed", zap.Error(err))
			}
			continue
		}

		d := j.decider.Decide(ctx, snap, j.goal.Text)
		data := map[string]any{
			"step":         step + 1,
			"decision":     actionWire(d),
			"website_type": d.WebsiteType,
			"fallback":     d.Fallback,
		}
		if d.Err != nil {
			data["fallback_reason"] = d.Err.Error()
		}
		j.publish(ctx, events.Decision, "", data)

		if j.act(ctx, d, snap) {
			return
		}
		if j.wait(ctx, j.opts.StepDelay) != nil {
			return
		}
	}
	j.logger.Info("Step budget exhausted", zap.Int("steps", j.budget))
}

func (j *run) finish(ctx context.Context) {
	// the finished event must go out even when the job was cancelled
	pubCtx := context.WithoutCancel(ctx)

	if j.tracer != nil {
		path := filepath.Join(j.opts.TraceDir, j.job.ID+".gif")
		if _, err := j.tracer.Write(path, j.opts.Trace); err != nil {
			j.logger.Warn("Trace not written", zap.Error(err))
		}
	}

	switch {
	case j.res.Saved != nil:
		j.res.Status = events.StatusCompleted
	case ctx.Err() != nil:
		j.res.Status = events.StatusCancelled
		if j.res.Err == nil {
			j.res.Err = ctx.Err()
		}
		if err := j.store.Discard(j.job.ID); err != nil {
			j.logger.Warn("Partial artifact not discarded", zap.Error(err))
		}
	default:
		j.res.Status = events.StatusFailed
	}

	data := map[string]any{
		"final_format":      j.format,
		"steps":             j.res.Steps,
		"final_proxy_stats": j.browser.HealthStats(),
	}
	if j.res.Saved != nil {
		data["file_path"] = j.res.Saved.Path
	}
	if j.res.Err != nil {
		data["error"] = j.res.Err.Error()
	}
	j.publish(pubCtx, events.Finished, j.res.Status, data)
	j.logger.Info("Job finished", zap.String("status", j.res.Status), zap.Int("steps", j.res.Steps))
}

func (j *run) runRoutines(ctx context.Context) {
	for _, name := range j.goal.Routines {
		fn, ok := j.routines.Lookup(name)
		if !ok {
			j.logger.Warn("Routine not found", zap.String("routine", name))
			j.publish(ctx, events.Routine, events.StatusMissing, map[string]any{"name": name})
			continue
		}

		j.publish(ctx, events.Routine, events.StatusStarting, map[string]any{"name": name})
		res, err := fn(ctx, routine.Env{JobID: j.job.ID, Browser: j.browser, Resolver: j.resolver})
		if err != nil {
			j.logger.Warn("Routine failed", zap.String("routine", name), zap.Error(err))
			j.publish(ctx, events.Routine, events.StatusError, map[string]any{
				"name":  name,
				"error": err.Error(),
			})
			continue
		}
		j.publish(ctx, events.Routine, events.StatusCompleted, map[string]any{
			"name":   name,
			"result": map[string]any(res),
		})
	}
}

// inspect runs the anti-bot guard, when enabled, on the current page.
func (j *run) inspect(ctx context.Context, url string) {
	if j.guard == nil {
		return
	}
	rep := j.guard.Inspect(ctx, url)
	if !rep.Verdict.IsAntiBot {
		return
	}
	data := map[string]any{"url": url, "verdict": rep.Verdict}
	if rep.Resolution != nil {
		data["resolution"] = rep.Resolution
	}
	j.publish(ctx, events.AntiBot, "", data)
}

func (j *run) navigationError(ctx context.Context, url string, err error) {
	j.publish(ctx, events.NavigationError, "", map[string]any{
		"url":         url,
		"error":       err.Error(),
		"proxy_stats": j.browser.HealthStats(),
	})
}

func (j *run) publish(ctx context.Context, t events.Type, status string, data map[string]any) {
	j.publisher.Publish(ctx, events.Event{
		JobID:  j.job.ID,
		Type:   t,
		Status: status,
		Time:   j.now().UTC(),
		Data:   data,
	})
}

func (j *run) wait(ctx context.Context, d time.Duration) error {
	return executor.Sleep(ctx, d)
}
