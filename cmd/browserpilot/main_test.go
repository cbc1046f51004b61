package main

import (
	"bytes"
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/v0xg/browserpilot/internal/action"
	"github.com/v0xg/browserpilot/internal/config"
	"github.com/v0xg/browserpilot/internal/events"
)

func TestLoadBindsFlags(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("BROWSERPILOT_MODEL_PROVIDER", "claude")

	a := &app{v: viper.New()}
	cmd := newRunCmd(a)
	require.NoError(t, cmd.Flags().Set("format", "CSV"))
	require.NoError(t, cmd.Flags().Set("headless", "false"))
	require.NoError(t, cmd.Flags().Set("output-dir", "results"))

	require.NoError(t, a.load(cmd))
	assert.Equal(t, "csv", a.cfg.Output.Format)
	assert.False(t, a.cfg.Browser.Headless)
	assert.Equal(t, "results", a.cfg.Output.Dir)
	assert.Equal(t, "claude", a.cfg.Model.Provider)
	// untouched flags leave the defaults alone
	assert.False(t, a.cfg.Agent.AntiBot)
	assert.Equal(t, ":8000", a.cfg.Server.Addr)
	assert.Equal(t, 5*time.Minute, a.cfg.Server.EventRetention)
}

func TestLoadVerboseLowersLevel(t *testing.T) {
	t.Chdir(t.TempDir())

	a := &app{v: viper.New(), verbose: true}
	require.NoError(t, a.load(newServeCmd(a)))
	assert.Equal(t, "debug", a.cfg.Log.Level)
	assert.True(t, agentOptions(a.cfg).Executor.Verbose)
}

func TestLoadRejectsMissingConfigFile(t *testing.T) {
	a := &app{v: viper.New(), cfgFile: filepath.Join(t.TempDir(), "absent.yaml")}
	assert.Error(t, a.load(newRunCmd(a)))
}

func TestAgentOptionsTrace(t *testing.T) {
	cfg := &config.Config{}
	cfg.Output.Dir = filepath.Join("data", "outputs")
	cfg.Agent.Trace = true
	cfg.Agent.TraceDelay = 50

	opts := agentOptions(cfg)
	assert.Equal(t, filepath.Join("data", "traces"), opts.TraceDir)
	assert.Equal(t, 50, opts.Trace.Delay)

	cfg.Agent.Trace = false
	assert.Empty(t, agentOptions(cfg).TraceDir)
}

func TestConsole(t *testing.T) {
	var buf bytes.Buffer
	c := newConsole(&buf, false)
	ctx := context.Background()

	click := action.ToWire(action.Click{Index: 3, Meta: action.Meta{Reason: "open the first result"}})
	c.Publish(ctx, events.Event{Type: events.Started, Data: map[string]any{
		"start_url": "https://duckduckgo.com/", "detected_format": "csv", "step_budget": 18,
	}})
	c.Publish(ctx, events.Event{Type: events.PageInfo, Data: map[string]any{"step": 1}})
	c.Publish(ctx, events.Event{Type: events.Decision, Data: map[string]any{"step": 1, "decision": click, "fallback": false}})
	c.Publish(ctx, events.Event{Type: events.Extraction, Status: events.StatusStarting})
	c.Publish(ctx, events.Event{Type: events.Extraction, Status: events.StatusCompleted})
	c.Publish(ctx, events.Event{Type: events.Finished, Status: events.StatusCompleted, Data: map[string]any{"steps": 2}})

	assert.Equal(t, "→ Starting at https://duckduckgo.com/ (format csv, up to 18 steps)\n"+
		"  [1] click → [3]\n"+
		"→ Extracting... done\n"+
		"→ Finished: completed after 2 steps\n", buf.String())
}

func TestConsoleVerbose(t *testing.T) {
	var buf bytes.Buffer
	c := newConsole(&buf, true)

	typed := action.ToWire(action.Type{Index: 2, Text: "laptops", Meta: action.Meta{Reason: "search"}})
	c.Publish(context.Background(), events.Event{Type: events.Decision, Data: map[string]any{"step": 4, "decision": typed, "fallback": true}})

	assert.Equal(t, "  [4] type → [2] (text: \"laptops\") (fallback) → search\n", buf.String())
}
