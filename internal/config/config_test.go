package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Chdir(t.TempDir())

	cfg, err := Load(viper.New(), "")
	require.NoError(t, err)

	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "console", cfg.Log.Format)
	assert.Equal(t, "gemini", cfg.Model.Provider)
	assert.True(t, cfg.Browser.Headless)
	assert.Equal(t, 30*time.Second, cfg.Browser.NavigationTimeout)
	assert.Equal(t, 120*time.Second, cfg.Agent.ClearTimeout)
	assert.Equal(t, "outputs", cfg.Output.Dir)
	assert.Equal(t, "txt", cfg.Output.Format)
	assert.Equal(t, ":8000", cfg.Server.Addr)
	assert.Equal(t, 5*time.Minute, cfg.Server.EventRetention)
	assert.Equal(t, 80, cfg.Server.StreamQuality)
	assert.Equal(t, 30*time.Second, cfg.Server.StreamWait)
	assert.Empty(t, cfg.Proxy.Servers)
}

func TestLoadFileAndEnvironment(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "pilot.yaml")
	require.NoError(t, os.WriteFile(file, []byte(`
log:
  level: debug
  format: json
model:
  provider: claude
  primary: claude-opus-4
browser:
  width: 1920
  navigation_timeout: 45s
output:
  format: Markdown
proxy:
  servers:
    - http://10.0.0.1:8080
    - 10.0.0.2:3128
`), 0o644))

	t.Setenv("BROWSERPILOT_BROWSER_HEADLESS", "false")
	t.Setenv("BROWSERPILOT_SERVER_ADDR", "127.0.0.1:9000")

	cfg, err := Load(viper.New(), file)
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.Equal(t, "claude", cfg.Model.Provider)
	assert.Equal(t, "claude-opus-4", cfg.Model.Primary)
	assert.Equal(t, 1920, cfg.Browser.Width)
	assert.Equal(t, 800, cfg.Browser.Height)
	assert.Equal(t, 45*time.Second, cfg.Browser.NavigationTimeout)
	assert.False(t, cfg.Browser.Headless)
	assert.Equal(t, "md", cfg.Output.Format)
	assert.Equal(t, []string{"http://10.0.0.1:8080", "10.0.0.2:3128"}, cfg.Proxy.Servers)
	assert.Equal(t, "127.0.0.1:9000", cfg.Server.Addr)
}

func TestLoadMissingExplicitFile(t *testing.T) {
	_, err := Load(viper.New(), filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}

func TestUnknownOutputFormatBecomesText(t *testing.T) {
	v := viper.New()
	SetDefaults(v)
	v.Set("output.format", "docx")

	cfg, err := NewFromViper(v)
	require.NoError(t, err)
	assert.Equal(t, "txt", cfg.Output.Format)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name string
		key  string
		val  any
	}{
		{"log format", "log.format", "xml"},
		{"provider", "model.provider", "llama"},
		{"viewport", "browser.width", 0},
		{"navigation timeout", "browser.navigation_timeout", "0s"},
		{"poll interval", "agent.poll_interval", "0s"},
		{"output dir", "output.dir", ""},
		{"server addr", "server.addr", ""},
		{"stream quality", "server.stream_quality", 101},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := viper.New()
			SetDefaults(v)
			v.Set(tt.key, tt.val)

			_, err := NewFromViper(v)
			assert.ErrorContains(t, err, "invalid configuration")
		})
	}
}
