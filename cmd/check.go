package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/hupe1980/neurallink"
	"github.com/hupe1980/neurallink/logging"
	"github.com/hupe1980/neurallink/transport"
)

func newCheckCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "check",
		Short: "Validate the configuration, room overrides and plugins without connecting",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			// A configured token must survive; a generated one is not printed.
			configuredToken := cfg.AdminToken != ""

			bus := transport.NewBus()
			srv, err := neurallink.New(func(o *neurallink.Options) {
				o.Config = cfg
				o.Transport = bus
				o.Logger = logging.NoOpLogger{}
			})
			if err != nil {
				return err
			}
			defer srv.Close()

			snap := srv.Router().Snapshot()
			out := cmd.OutOrStdout()
			if cfg.Offline {
				fmt.Fprintln(out, "broker: offline")
			} else {
				fmt.Fprintf(out, "broker: %s\n", cfg.MQTT.URL())
			}
			fmt.Fprintf(out, "ai_id: %s\n", snap.AIID)
			fmt.Fprintf(out, "provider: %s\n", cfg.Provider.Resolve())
			fmt.Fprintf(out, "room: %s\n", snap.Room)
			fmt.Fprintf(out, "window: %d\n", snap.WindowCap)
			fmt.Fprintf(out, "plugins: %d (%s)\n", snap.Plugins, cfg.Plugins.Isolation)
			fmt.Fprintf(out, "memory: %s\n", cfg.Memory.Driver)
			fmt.Fprintf(out, "admin token configured: %t\n", configuredToken)
			return nil
		},
	}
	addServerFlags(cmd.Flags())
	return cmd
}
