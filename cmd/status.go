package cmd

import (
	"context"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/shou/vigilare/internal/bus"
	"github.com/shou/vigilare/internal/client"
	"github.com/shou/vigilare/internal/protocol"
)

func init() {
	rootCmd.AddCommand(statusCmd)
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Print the daemon status once as JSON",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := bus.Dial()
		if err != nil {
			return err
		}
		defer c.Close()

		ctx, cancel := context.WithTimeout(cmd.Context(), requestTimeout)
		defer cancel()
		st, err := c.Status(ctx)
		if err != nil {
			return err
		}
		return client.WriteReport(os.Stdout, protocol.NewReport(st, time.Now()))
	},
}
