package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/hupe1980/neurallink"
	"github.com/hupe1980/neurallink/config"
)

// addServerFlags registers the flags config.Load binds to config keys.
func addServerFlags(fs *pflag.FlagSet) {
	fs.String("log-level", "info", "log level: debug, info, warn or error")
	fs.String("log-format", "json", "log format: json or text")
	fs.Bool("offline", false, "use an in-process bus instead of the MQTT broker")
	fs.String("broker", "", "MQTT broker host or URL")
	fs.String("provider", config.ProviderAuto, "completion provider: auto, groq, openai, anthropic, gemini, mock or none")
	fs.String("model", "", "provider model name")
	fs.String("plugins-dir", "", "directory of plugin manifests to load and watch")
	fs.Int("health-port", 10000, "health endpoint port, 0 disables it")
}

func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, err := cmd.Flags().GetString("config")
	if err != nil {
		return nil, err
	}
	return config.Load(path, cmd.Flags())
}

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Connect to the broker and serve the chat",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}

			srv, err := neurallink.New(func(o *neurallink.Options) { o.Config = cfg })
			if err != nil {
				return fmt.Errorf("build server: %w", err)
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			if err := srv.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			return nil
		},
	}
	addServerFlags(cmd.Flags())
	return cmd
}
