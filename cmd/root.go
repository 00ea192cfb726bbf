package cmd

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/shou/vigilare/internal/config"
	"github.com/shou/vigilare/internal/ui"
)

var (
	flagConfig   string
	flagLogLevel string
)

var rootCmd = &cobra.Command{
	Use:   "vigilare",
	Short: "Vigilare keeps the machine awake until a deadline",
	Long: `Vigilare runs a small daemon on the session bus that holds the machine
awake until a wake deadline passes. Other commands move the deadline,
print its status or follow it as it changes.

The daemon picks an inhibit mechanism at startup (logind, a desktop screen
saver, xset, mouse jitter and more); see "vigilare list-modes".`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagConfig, "config", "", "config file (default $XDG_CONFIG_HOME/vigilare/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&flagLogLevel, "log-level", "", "log level: debug, info, warn or error")
}

// loadConfig resolves configuration with the persistent flags applied.
func loadConfig(flags config.Flags) (*config.Config, error) {
	flags.ConfigPath = flagConfig
	flags.LogLevel = flagLogLevel
	return config.Load(flags)
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		ui.Error("%v", err)
		os.Exit(1)
	}
}
