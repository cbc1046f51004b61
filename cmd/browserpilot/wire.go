package main

import (
	"context"
	"fmt"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/v0xg/browserpilot/internal/agent"
	"github.com/v0xg/browserpilot/internal/ai"
	"github.com/v0xg/browserpilot/internal/antibot"
	"github.com/v0xg/browserpilot/internal/artifact"
	"github.com/v0xg/browserpilot/internal/config"
	"github.com/v0xg/browserpilot/internal/crawler"
	"github.com/v0xg/browserpilot/internal/decision"
	"github.com/v0xg/browserpilot/internal/events"
	"github.com/v0xg/browserpilot/internal/executor"
	"github.com/v0xg/browserpilot/internal/extract"
	"github.com/v0xg/browserpilot/internal/page"
	"github.com/v0xg/browserpilot/internal/proxy"
	"github.com/v0xg/browserpilot/internal/routine"
	"github.com/v0xg/browserpilot/internal/server"
	"github.com/v0xg/browserpilot/internal/trace"
)

// deps are the process-scoped collaborators shared by every job.
type deps struct {
	model  *ai.Tiered
	store  *artifact.Store
	pool   *proxy.Pool
	runner *agent.Runner
}

// newDeps wires the model, the store, the proxy pool and a runner that
// reports to pub.
func newDeps(ctx context.Context, cfg *config.Config, pub events.Publisher, logger *zap.Logger) (*deps, error) {
	provider, err := ai.NewProvider(ctx, cfg.Model.Provider, cfg.Model.APIKey)
	if err != nil {
		return nil, fmt.Errorf("AI provider init failed: %w", err)
	}
	model := ai.NewTiered(provider, cfg.Model.Primary, cfg.Model.Fallback, logger,
		ai.WithMaxTokens(cfg.Model.MaxTokens))

	store, err := artifact.NewStore(cfg.Output.Dir, logger)
	if err != nil {
		return nil, err
	}

	classifier := antibot.NewClassifier(model, logger)
	runner := agent.NewRunner(
		decision.NewEngine(model, logger),
		extract.NewPipeline(model, logger),
		store,
		pub,
		logger,
		agent.WithOptions(agentOptions(cfg)),
		agent.WithRoutines(routine.Default()),
		agent.WithClassifier(classifier,
			antibot.WithPollInterval(cfg.Agent.PollInterval),
			antibot.WithClearTimeout(cfg.Agent.ClearTimeout)),
	)

	return &deps{
		model:  model,
		store:  store,
		pool:   proxy.NewPool(cfg.Proxy.Servers, logger),
		runner: runner,
	}, nil
}

func agentOptions(cfg *config.Config) agent.Options {
	opts := agent.DefaultOptions()
	opts.Executor = executor.Options{
		ClickSettle:    cfg.Agent.ClickSettle,
		TypeSettle:     cfg.Agent.TypeSettle,
		KeySettle:      cfg.Agent.KeySettle,
		NavigateSettle: cfg.Agent.NavigateSettle,
		Verbose:        cfg.Log.Level == "debug",
	}
	opts.AntiBot = cfg.Agent.AntiBot
	if cfg.Agent.Trace {
		// traces sit next to the output directory
		opts.TraceDir = filepath.Join(filepath.Dir(filepath.Clean(cfg.Output.Dir)), "traces")
		opts.Trace = trace.DefaultOptions()
		if cfg.Agent.TraceDelay > 0 {
			opts.Trace.Delay = cfg.Agent.TraceDelay
		}
	}
	return opts
}

// launcher opens a rod browser per job, routed through px when given, and
// reports the pool health as the browser's resource health.
func (d *deps) launcher(cfg *config.Config, logger *zap.Logger) server.Launcher {
	return func(ctx context.Context, headless bool, px *proxy.Proxy) (page.Browser, func() error, error) {
		opts := crawler.Options{
			Width:      cfg.Browser.Width,
			Height:     cfg.Browser.Height,
			Headless:   headless,
			Timeout:    cfg.Browser.NavigationTimeout,
			ProfileDir: cfg.Browser.ProfileDir,
			Bin:        cfg.Browser.Bin,
		}
		current := ""
		if px != nil {
			current = px.Server
			opts.Proxy = px.Server
			opts.ProxyUser = px.Username
			opts.ProxyPassword = px.Password
		}

		b, err := crawler.Launch(ctx, opts, logger)
		if err != nil {
			return nil, nil, err
		}
		b.WithHealth(func() page.Health { return d.pool.Stats(current) })
		return b, b.Close, nil
	}
}
