// Package cmd is the neurallink command line.
package cmd

import "github.com/spf13/cobra"

// Execute runs the root command.
func Execute() error {
	return newRootCmd().Execute()
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "neurallink",
		Short: "AI participant and room orchestrator for MQTT terminal chat",
		Long: "neurallink joins a terminal chat over MQTT, answers triggered messages with a " +
			"completion provider, keeps per-room conversation memory, runs sandboxed " +
			"plugins and accepts token-authenticated admin commands.",
		SilenceUsage:  true,
		SilenceErrors: false,
	}

	rootCmd.PersistentFlags().StringP("config", "c", "", "config file (default ./neurallink.{yaml,toml,json})")

	rootCmd.AddCommand(
		newVersionCmd(),
		newServeCmd(),
		newCheckCmd(),
		newTokenCmd(),
		newPluginExecCmd(),
	)

	return rootCmd
}
