package main

import (
	"github.com/spf13/cobra"

	"github.com/runweave/runweave/internal/logger"
	"github.com/runweave/runweave/internal/tool"
)

type rootFlags struct {
	verbose bool
}

func newRootCmd(log *logger.Logger, registry *tool.Registry) *cobra.Command {
	flags := &rootFlags{}

	cmd := &cobra.Command{
		Use:           "runweave",
		Short:         "Runweave executes tool-step plans with approval gates and undo tracking",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	cmd.PersistentFlags().BoolVarP(&flags.verbose, "verbose", "v", false, "Enable verbose logging")

	cmd.AddCommand(newRunCmd(flags, log, registry))
	cmd.AddCommand(newServeCmd(flags, log, registry))
	cmd.AddCommand(newVersionCmd())

	return cmd
}
