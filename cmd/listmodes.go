package cmd

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/shou/vigilare/internal/config"
	"github.com/shou/vigilare/internal/power"
	"github.com/shou/vigilare/internal/ui"
)

const probeTimeout = 3 * time.Second

func init() {
	rootCmd.AddCommand(listModesCmd)
}

var listModesCmd = &cobra.Command{
	Use:   "list-modes",
	Short: "List inhibit modes and whether they work here",
	Long: `Lists every inhibit mode in the order "auto" tries them. Modes marked
with a filled dot are available on this system.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(config.Flags{})
		if err != nil {
			return err
		}
		opts := cfg.PowerOptions(newLogger(cfg.Level()))

		fmt.Fprintln(os.Stderr)
		for _, m := range power.Modes() {
			inh, err := power.New(m.Mode, opts)
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), probeTimeout)
			ui.Mode(string(m.Mode), m.Description, inh.Available(ctx))
			cancel()
		}
		ui.Separator()
		ui.KeyValue("Configured", cfg.Mode)
		return nil
	},
}
