package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/shou/vigilare/internal/bus"
	"github.com/shou/vigilare/internal/protocol"
)

const requestTimeout = 10 * time.Second

func init() {
	rootCmd.AddCommand(msgCmd)
}

var msgCmd = &cobra.Command{
	Use:   "msg <[+|-]DURATION>",
	Short: "Move the wake deadline of the running daemon",
	Long: `Sends a duration update to the daemon.

  +DURATION  extend the deadline (or start one from now)
  -DURATION  shorten the deadline
  DURATION   set the deadline to now + DURATION; 0 clears it

Durations combine a number and a unit: ns, us, ms, s, m, h, d, w, y.
Terms can be chained, for example 1h30m.`,
	Example: `  vigilare msg +30m
  vigilare msg -15m
  vigilare msg 2h
  vigilare msg 0`,
	// "-15m" is a value here, not a flag.
	DisableFlagParsing: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		if len(args) == 1 && (args[0] == "-h" || args[0] == "--help") {
			return cmd.Help()
		}
		if len(args) == 2 && args[0] == "--" {
			args = args[1:]
		}
		if len(args) != 1 {
			return fmt.Errorf("expected exactly one duration, got %d arguments", len(args))
		}

		u, err := protocol.ParseUpdate(args[0])
		if err != nil {
			return err
		}

		c, err := bus.Dial()
		if err != nil {
			return err
		}
		defer c.Close()

		ctx, cancel := context.WithTimeout(cmd.Context(), requestTimeout)
		defer cancel()
		if err := c.Update(ctx, u); err != nil {
			return fmt.Errorf("sending %s: %w", u, err)
		}
		return nil
	},
}
