package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/v0xg/browserpilot/internal/config"
	"github.com/v0xg/browserpilot/internal/logging"
)

// app carries what every subcommand needs once the root has loaded it.
type app struct {
	v       *viper.Viper
	cfgFile string
	verbose bool
	cfg     *config.Config
	logger  *zap.Logger
}

// flagKeys maps command line flags to the config keys they override.
var flagKeys = map[string]string{
	"format":         "output.format",
	"output-dir":     "output.dir",
	"provider":       "model.provider",
	"model":          "model.primary",
	"fallback-model": "model.fallback",
	"headless":       "browser.headless",
	"profile":        "browser.profile_dir",
	"anti-bot":       "agent.anti_bot",
	"trace":          "agent.trace",
	"addr":           "server.addr",
}

func main() {
	// Load .env file if present (silently ignore if not found)
	_ = godotenv.Load()

	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	a := &app{v: viper.New()}

	root := &cobra.Command{
		Use:   "browserpilot",
		Short: "Drive a browser with AI until a goal is met and save what it found",
		Long: `browserpilot opens a browser, lets a model decide one action at a time
toward a natural language goal, and extracts the final page into a file.

Example:
  browserpilot run "find the top 5 laptops under $1000 on amazon and save as csv"`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.load(cmd)
		},
		PersistentPostRun: func(*cobra.Command, []string) {
			if a.logger != nil {
				_ = a.logger.Sync()
			}
		},
	}

	root.PersistentFlags().StringVarP(&a.cfgFile, "config", "c", "", "config file (default is ./browserpilot.yaml)")
	root.PersistentFlags().BoolVarP(&a.verbose, "verbose", "v", false, "Show detailed progress")

	root.AddCommand(newRunCmd(a), newServeCmd(a))
	return root
}

// load binds the command's flags, reads the configuration and builds the
// logger.
func (a *app) load(cmd *cobra.Command) error {
	for name, key := range flagKeys {
		if f := cmd.Flags().Lookup(name); f != nil {
			if err := a.v.BindPFlag(key, f); err != nil {
				return fmt.Errorf("bind --%s: %w", name, err)
			}
		}
	}

	cfg, err := config.Load(a.v, a.cfgFile)
	if err != nil {
		return err
	}
	if a.verbose {
		cfg.Log.Level = "debug"
	}
	a.cfg = cfg
	a.logger = logging.New(cfg.Log)
	a.logger.Debug("Configuration loaded",
		zap.String("file", a.v.ConfigFileUsed()),
		zap.String("provider", cfg.Model.Provider),
		zap.String("output_dir", cfg.Output.Dir))
	return nil
}
