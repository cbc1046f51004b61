package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/v0xg/browserpilot/internal/action"
	"github.com/v0xg/browserpilot/internal/agent"
	"github.com/v0xg/browserpilot/internal/artifact"
	"github.com/v0xg/browserpilot/internal/events"
	"github.com/v0xg/browserpilot/internal/proxy"
)

func newRunCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run <goal>",
		Short: "Run one job in the foreground",
		Long: `run works toward the goal in a local browser and saves the extracted
result under the output directory.

The goal may name a starting URL and the output format, and may end with
RUN_FUNCTION <name> lines that run named routines before the first step.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runJob(ctx, a, args[0], cmd.OutOrStdout())
		},
	}

	f := cmd.Flags()
	f.StringP("format", "f", "", "Output format: txt, md, json, html, csv, pdf (default from config or txt)")
	f.StringP("output-dir", "o", "", "Directory the result is saved in")
	f.String("provider", "", "AI provider: gemini, claude, openai")
	f.String("model", "", "Primary model override")
	f.String("fallback-model", "", "Stable model used when the primary is unavailable")
	f.Bool("headless", true, "Run the browser without a window")
	f.String("profile", "", "Chrome/Chromium profile directory for authenticated sessions (close browser first)")
	f.Bool("anti-bot", false, "Check every page for anti-bot walls and try to clear them")
	f.Bool("trace", false, "Write a GIF of the steps next to the output directory")
	return cmd
}

func runJob(ctx context.Context, a *app, goalText string, out io.Writer) error {
	cfg, logger := a.cfg, a.logger
	console := newConsole(out, a.verbose)

	d, err := newDeps(ctx, cfg, events.Multi{console, events.NewLogPublisher(logger.Named("events"))}, logger)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "→ Using %s (primary %s, fallback %s)\n", cfg.Model.Provider, d.model.Primary(), d.model.Fallback())

	var px *proxy.Proxy
	if best, ok := d.pool.Best(); ok {
		px = &best
	}

	fmt.Fprint(out, "→ Launching browser... ")
	b, release, err := d.launcher(cfg, logger)(ctx, cfg.Browser.Headless, px)
	if err != nil {
		fmt.Fprintln(out, "failed")
		return fmt.Errorf("browser launch failed: %w", err)
	}
	fmt.Fprintln(out, "done")
	defer func() {
		if err := release(); err != nil {
			logger.Warn("Browser close failed", zap.Error(err))
		}
	}()

	job := agent.Job{
		ID:     uuid.NewString(),
		Goal:   goalText,
		Format: artifact.Normalize(cfg.Output.Format),
	}
	res := d.runner.Run(ctx, job, b)
	if px != nil && res.Status != events.StatusCancelled {
		d.pool.Report(px.Server, res.Status == events.StatusCompleted)
	}

	switch {
	case res.Saved != nil:
		size := int64(0)
		if st, err := os.Stat(res.Saved.Path); err == nil {
			size = st.Size()
		}
		note := ""
		if res.Saved.Fallback {
			note = ", PDF failed, text fallback"
		}
		fmt.Fprintf(out, "✓ Saved to %s (%.1f KB, %d steps%s)\n", res.Saved.Path, float64(size)/1024, res.Steps, note)
		return nil
	case errors.Is(res.Err, context.Canceled):
		fmt.Fprintln(out, "⚠ Cancelled")
		return res.Err
	case res.Err != nil:
		return fmt.Errorf("job %s failed: %w", res.JobID, res.Err)
	default:
		return fmt.Errorf("job %s finished after %d steps without saving a result", res.JobID, res.Steps)
	}
}

// console prints job events as progress lines.
type console struct {
	mu      sync.Mutex
	out     io.Writer
	verbose bool
}

func newConsole(out io.Writer, verbose bool) *console {
	return &console{out: out, verbose: verbose}
}

func (c *console) Publish(_ context.Context, e events.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch e.Type {
	case events.Started:
		fmt.Fprintf(c.out, "→ Starting at %v (format %v, up to %v steps)\n",
			e.Data["start_url"], e.Data["detected_format"], e.Data["step_budget"])
	case events.PageInfo:
		if c.verbose {
			fmt.Fprintf(c.out, "  page %v: %v (%v elements)\n", e.Data["step"], e.Data["title"], e.Data["interactive_elements"])
		}
	case events.Decision:
		w, ok := e.Data["decision"].(action.Wire)
		if !ok {
			return
		}
		line := fmt.Sprintf("  [%v] %s", e.Data["step"], describeWire(w))
		if fb, _ := e.Data["fallback"].(bool); fb {
			line += " (fallback)"
		}
		if c.verbose && w.Reason != "" {
			line += " → " + w.Reason
		}
		fmt.Fprintln(c.out, line)
	case events.NavigationError:
		fmt.Fprintf(c.out, "⚠ Navigation to %v failed: %v\n", e.Data["url"], e.Data["error"])
	case events.AntiBot:
		fmt.Fprintf(c.out, "⚠ Anti-bot check on %v\n", e.Data["url"])
	case events.Routine:
		fmt.Fprintf(c.out, "→ Routine %v: %s\n", e.Data["name"], e.Status)
	case events.Extraction:
		switch e.Status {
		case events.StatusStarting:
			fmt.Fprint(c.out, "→ Extracting... ")
		case events.StatusCompleted:
			fmt.Fprintln(c.out, "done")
		case events.StatusFailed:
			fmt.Fprintf(c.out, "failed (%v)\n", e.Data["error"])
		}
	case events.Finished:
		fmt.Fprintf(c.out, "→ Finished: %s after %v steps\n", e.Status, e.Data["steps"])
	}
}

func describeWire(w action.Wire) string {
	switch w.Action {
	case action.KindClick:
		return fmt.Sprintf("click → [%d]", deref(w.Index))
	case action.KindType:
		return fmt.Sprintf("type → [%d] (text: %q)", deref(w.Index), w.Text)
	case action.KindScroll:
		return fmt.Sprintf("scroll → %s %dpx", w.Direction, w.Amount)
	case action.KindPressKey:
		return "press_key → " + w.Key
	case action.KindNavigate:
		return "navigate → " + w.URL
	default:
		return string(w.Action)
	}
}

func deref(p *int) int {
	if p == nil {
		return -1
	}
	return *p
}
