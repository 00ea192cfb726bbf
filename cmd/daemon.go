package cmd

import (
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/godbus/dbus/v5"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/shou/vigilare/internal/bus"
	"github.com/shou/vigilare/internal/config"
	"github.com/shou/vigilare/internal/daemon"
	"github.com/shou/vigilare/internal/power"
	"github.com/shou/vigilare/internal/protocol"
	"github.com/shou/vigilare/internal/statusws"
	"github.com/shou/vigilare/internal/ui"
)

var (
	flagMode       string
	flagStatusAddr string
)

func init() {
	daemonCmd.Flags().StringVar(&flagMode, "mode", "", `inhibit mode, or "auto" (see list-modes)`)
	daemonCmd.Flags().StringVar(&flagStatusAddr, "status-addr", "", "serve the websocket status feed on this address (e.g. 127.0.0.1:7878)")
	rootCmd.AddCommand(daemonCmd)
}

var daemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "Run the wake daemon on the session bus",
	Long: `Claims ` + protocol.BusName + ` on the session bus and keeps the machine awake
while a wake deadline is set. Only one daemon can run per session.

The daemon exits on SIGINT or SIGTERM, or when the bus connection closes,
releasing any inhibitor it holds.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(config.Flags{Mode: flagMode, StatusAddr: flagStatusAddr})
		if err != nil {
			return err
		}
		log := newLogger(cfg.Level())

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		ui.Banner(version)

		inh, err := power.Select(ctx, cfg.InhibitMode(), cfg.PowerOptions(log))
		if err != nil {
			return fmt.Errorf("selecting inhibit mode: %w", err)
		}

		conn, err := dbus.ConnectSessionBus()
		if err != nil {
			return fmt.Errorf("%w: connecting to session bus: %v", bus.ErrTransport, err)
		}
		defer conn.Close()

		d := daemon.New(daemon.Config{Inhibitor: inh, Logger: log})
		svc := bus.NewService(d, conn, log)
		d.Subscribe(svc)

		var feed *statusws.Server
		if cfg.StatusAddr != "" {
			feed = statusws.New(d, log)
			d.Subscribe(feed)
		}

		if err := bus.Serve(conn, svc); err != nil {
			if errors.Is(err, bus.ErrAlreadyRunning) {
				return fmt.Errorf("%w; is another vigilare daemon running?", err)
			}
			return err
		}

		fmt.Fprintln(os.Stderr)
		ui.Success("Serving %s", ui.Dim(protocol.BusName))
		ui.KeyValue("Mode", inh.Name())
		if feed != nil {
			ui.KeyValue("Feed", "ws://"+cfg.StatusAddr+statusws.Path)
		}
		ui.Separator()
		ui.Info("Press Ctrl+C to stop")

		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() error {
			return d.Run(gctx)
		})
		g.Go(func() error {
			select {
			case <-conn.Context().Done():
				return fmt.Errorf("%w: session bus connection closed", bus.ErrTransport)
			case <-gctx.Done():
				return nil
			}
		})
		if feed != nil {
			g.Go(func() error {
				return feed.Serve(gctx, cfg.StatusAddr)
			})
		}

		err = g.Wait()
		fmt.Fprintln(os.Stderr)
		ui.Warn("Shutting down...")
		return err
	},
}
