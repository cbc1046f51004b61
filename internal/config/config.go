// Package config loads browserpilot settings from a YAML file, BROWSERPILOT_*
// environment variables and command line flags, in increasing precedence.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/v0xg/browserpilot/internal/artifact"
)

// EnvPrefix namespaces environment overrides: log.level is BROWSERPILOT_LOG_LEVEL.
const EnvPrefix = "BROWSERPILOT"

// DefaultFile is looked up in the working directory when no --config is given.
const DefaultFile = "browserpilot"

type Config struct {
	Log     LogConfig     `mapstructure:"log" yaml:"log"`
	Model   ModelConfig   `mapstructure:"model" yaml:"model"`
	Browser BrowserConfig `mapstructure:"browser" yaml:"browser"`
	Agent   AgentConfig   `mapstructure:"agent" yaml:"agent"`
	Output  OutputConfig  `mapstructure:"output" yaml:"output"`
	Proxy   ProxyConfig   `mapstructure:"proxy" yaml:"proxy"`
	Server  ServerConfig  `mapstructure:"server" yaml:"server"`
}

// LogConfig drives logging.New.
type LogConfig struct {
	Level       string      `mapstructure:"level" yaml:"level"`
	Format      string      `mapstructure:"format" yaml:"format"` // console or json
	ServiceName string      `mapstructure:"service_name" yaml:"service_name"`
	AddSource   bool        `mapstructure:"add_source" yaml:"add_source"`
	File        string      `mapstructure:"file" yaml:"file"`
	MaxSize     int         `mapstructure:"max_size" yaml:"max_size"` // megabytes
	MaxBackups  int         `mapstructure:"max_backups" yaml:"max_backups"`
	MaxAge      int         `mapstructure:"max_age" yaml:"max_age"` // days
	Compress    bool        `mapstructure:"compress" yaml:"compress"`
	Colors      ColorConfig `mapstructure:"colors" yaml:"colors"`
}

// ColorConfig names the console color of each level.
type ColorConfig struct {
	Debug string `mapstructure:"debug" yaml:"debug"`
	Info  string `mapstructure:"info" yaml:"info"`
	Warn  string `mapstructure:"warn" yaml:"warn"`
	Error string `mapstructure:"error" yaml:"error"`
}

type ModelConfig struct {
	Provider string `mapstructure:"provider" yaml:"provider"`
	Primary  string `mapstructure:"primary" yaml:"primary"`
	Fallback string `mapstructure:"fallback" yaml:"fallback"`
	// APIKey overrides the provider's own environment variables.
	APIKey    string `mapstructure:"api_key" yaml:"-"`
	MaxTokens int    `mapstructure:"max_tokens" yaml:"max_tokens"`
}

type BrowserConfig struct {
	Headless          bool          `mapstructure:"headless" yaml:"headless"`
	Width             int           `mapstructure:"width" yaml:"width"`
	Height            int           `mapstructure:"height" yaml:"height"`
	NavigationTimeout time.Duration `mapstructure:"navigation_timeout" yaml:"navigation_timeout"`
	ProfileDir        string        `mapstructure:"profile_dir" yaml:"profile_dir"`
	Bin               string        `mapstructure:"bin" yaml:"bin"`
}

type AgentConfig struct {
	AntiBot        bool          `mapstructure:"anti_bot" yaml:"anti_bot"`
	PollInterval   time.Duration `mapstructure:"poll_interval" yaml:"poll_interval"`
	ClearTimeout   time.Duration `mapstructure:"clear_timeout" yaml:"clear_timeout"`
	ClickSettle    time.Duration `mapstructure:"click_settle" yaml:"click_settle"`
	TypeSettle     time.Duration `mapstructure:"type_settle" yaml:"type_settle"`
	KeySettle      time.Duration `mapstructure:"key_settle" yaml:"key_settle"`
	NavigateSettle time.Duration `mapstructure:"navigate_settle" yaml:"navigate_settle"`
	Trace          bool          `mapstructure:"trace" yaml:"trace"`
	TraceDelay     int           `mapstructure:"trace_delay" yaml:"trace_delay"` // 1/100 s per frame
}

type OutputConfig struct {
	Dir    string `mapstructure:"dir" yaml:"dir"`
	Format string `mapstructure:"format" yaml:"format"`
}

type ProxyConfig struct {
	Servers []string `mapstructure:"servers" yaml:"servers"`
}

type ServerConfig struct {
	Addr            string        `mapstructure:"addr" yaml:"addr"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout"`
	// EventRetention is how long a finished job's events stay available to
	// late WebSocket subscribers.
	EventRetention time.Duration `mapstructure:"event_retention" yaml:"event_retention"`
	// StreamQuality is the JPEG quality of live view frames.
	StreamQuality int `mapstructure:"stream_quality" yaml:"stream_quality"`
	// StreamWait is how long a live viewer waits for its session to open.
	StreamWait time.Duration `mapstructure:"stream_wait" yaml:"stream_wait"`
	// AllowedOrigins are passed to the WebSocket handshake; empty means same origin.
	AllowedOrigins []string `mapstructure:"allowed_origins" yaml:"allowed_origins"`
}

// SetDefaults registers every key so that environment overrides apply even
// when no config file sets them.
func SetDefaults(v *viper.Viper) {
	// -- Log --
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")
	v.SetDefault("log.service_name", "browserpilot")
	v.SetDefault("log.add_source", false)
	v.SetDefault("log.file", "")
	v.SetDefault("log.max_size", 100)
	v.SetDefault("log.max_backups", 5)
	v.SetDefault("log.max_age", 30)
	v.SetDefault("log.compress", true)
	v.SetDefault("log.colors.debug", "cyan")
	v.SetDefault("log.colors.info", "green")
	v.SetDefault("log.colors.warn", "yellow")
	v.SetDefault("log.colors.error", "red")

	// -- Model --
	v.SetDefault("model.provider", "gemini")
	v.SetDefault("model.primary", "")
	v.SetDefault("model.fallback", "")
	v.SetDefault("model.api_key", "")
	v.SetDefault("model.max_tokens", 1024)

	// -- Browser --
	v.SetDefault("browser.headless", true)
	v.SetDefault("browser.width", 1280)
	v.SetDefault("browser.height", 800)
	v.SetDefault("browser.navigation_timeout", "30s")
	v.SetDefault("browser.profile_dir", "")
	v.SetDefault("browser.bin", "")

	// -- Agent --
	v.SetDefault("agent.anti_bot", false)
	v.SetDefault("agent.poll_interval", "2s")
	v.SetDefault("agent.clear_timeout", "120s")
	v.SetDefault("agent.click_settle", "2s")
	v.SetDefault("agent.type_settle", "1s")
	v.SetDefault("agent.key_settle", "2s")
	v.SetDefault("agent.navigate_settle", "2s")
	v.SetDefault("agent.trace", false)
	v.SetDefault("agent.trace_delay", 100)

	// -- Output --
	v.SetDefault("output.dir", "outputs")
	v.SetDefault("output.format", string(artifact.TXT))

	// -- Proxy --
	v.SetDefault("proxy.servers", []string{})

	// -- Server --
	v.SetDefault("server.addr", ":8000")
	v.SetDefault("server.shutdown_timeout", "10s")
	v.SetDefault("server.event_retention", "5m")
	v.SetDefault("server.stream_quality", 80)
	v.SetDefault("server.stream_wait", "30s")
	v.SetDefault("server.allowed_origins", []string{})
}

// Setup points v at the config file and the environment. An empty file
// searches the working directory for browserpilot.yaml.
func Setup(v *viper.Viper, file string) {
	SetDefaults(v)
	if file != "" {
		v.SetConfigFile(file)
	} else {
		v.AddConfigPath(".")
		v.SetConfigName(DefaultFile)
		v.SetConfigType("yaml")
	}
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
}

// Load reads the config file, if any, and returns the validated settings.
// A missing default file is not an error; a missing explicit file is.
func Load(v *viper.Viper, file string) (*Config, error) {
	Setup(v, file)
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if file != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}
	return NewFromViper(v)
}

// NewFromViper unmarshals and validates the settings held by v.
func NewFromViper(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}
	cfg.Output.Format = string(artifact.Normalize(cfg.Output.Format))
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// Validate checks the settings for values the program cannot run with.
func (c *Config) Validate() error {
	switch c.Log.Format {
	case "console", "json":
	default:
		return fmt.Errorf("log.format must be console or json, got %q", c.Log.Format)
	}
	switch c.Model.Provider {
	case "gemini", "google", "claude", "anthropic", "openai", "gpt":
	default:
		return fmt.Errorf("model.provider %q is not supported (gemini, claude, openai)", c.Model.Provider)
	}
	if c.Browser.Width <= 0 || c.Browser.Height <= 0 {
		return fmt.Errorf("browser viewport must be positive, got %dx%d", c.Browser.Width, c.Browser.Height)
	}
	if c.Browser.NavigationTimeout <= 0 {
		return fmt.Errorf("browser.navigation_timeout must be positive")
	}
	if c.Agent.PollInterval <= 0 || c.Agent.ClearTimeout <= 0 {
		return fmt.Errorf("agent.poll_interval and agent.clear_timeout must be positive")
	}
	if c.Output.Dir == "" {
		return fmt.Errorf("output.dir is a required configuration field")
	}
	if c.Server.Addr == "" {
		return fmt.Errorf("server.addr is a required configuration field")
	}
	if c.Server.StreamQuality < 1 || c.Server.StreamQuality > 100 {
		return fmt.Errorf("server.stream_quality must be between 1 and 100, got %d", c.Server.StreamQuality)
	}
	return nil
}
