package cmd

import (
	"github.com/spf13/cobra"

	"github.com/hupe1980/neurallink/plugin"
)

// newPluginExecCmd is the child side of process isolated plugins. The
// parent starts this binary with "plugin-exec" and talks to it over
// stdin and stdout.
func newPluginExecCmd() *cobra.Command {
	return &cobra.Command{
		Use:    "plugin-exec",
		Short:  "Run one sandboxed plugin request from stdin",
		Hidden: true,
		Args:   cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return plugin.ServeExec(cmd.Context(), cmd.InOrStdin(), cmd.OutOrStdout())
		},
	}
}
