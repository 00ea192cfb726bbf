package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/shou/vigilare/internal/bus"
	"github.com/shou/vigilare/internal/client"
	"github.com/shou/vigilare/internal/config"
)

var flagFeed string

func init() {
	monitorCmd.Flags().StringVar(&flagFeed, "feed", "", "follow a websocket status feed (e.g. ws://127.0.0.1:7878/status) instead of the bus")
	rootCmd.AddCommand(monitorCmd)
}

var monitorCmd = &cobra.Command{
	Use:   "monitor",
	Short: "Print the daemon status as JSON lines whenever it changes",
	Long: `Prints one JSON line with the current status, then another each time the
deadline moves or the remaining minute count changes.

While the daemon is unreachable the monitor keeps retrying.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(config.Flags{})
		if err != nil {
			return err
		}
		log := newLogger(cfg.Level())

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		wcfg := client.WatcherConfig{Out: os.Stdout, Logger: log}
		if flagFeed != "" {
			wcfg.Dial = client.FeedDialer(flagFeed, log)
			wcfg.Transient = client.IsFeedTransport
			wcfg.Retry = client.NewReconnector()
		} else {
			wcfg.Dial = dialBus
			wcfg.Transient = bus.IsTransport
			wcfg.Retry = client.FixedReconnector(cfg.RetryDelay.Std())
		}
		return client.NewWatcher(wcfg).Run(ctx)
	},
}

func dialBus(context.Context) (client.Source, error) {
	c, err := bus.Dial()
	if err != nil {
		return nil, err
	}
	return c, nil
}
