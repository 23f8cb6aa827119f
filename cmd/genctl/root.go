package main

import (
	"github.com/spf13/cobra"
)

func newRootCommand(open openFunc) *cobra.Command {
	ctx := newCommandContext(open)

	rootCmd := &cobra.Command{
		Use:           "genctl",
		Short:         "Inspect and manage image generation jobs",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	rootCmd.AddCommand(newJobsCommand(ctx))
	rootCmd.AddCommand(newQueueCommand(ctx))

	return rootCmd
}
