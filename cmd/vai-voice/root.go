package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/vango-go/vai-voice/pkg/core/session"
)

func newRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "vai-voice",
		Short: "Real-time voice session server",
		Long: `vai-voice runs voice sessions over WebSocket (/v1/live) and REST
(/v1/sessions): speech in, transcripts and agent plans, background tool
tasks, and spoken replies with barge-in.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.AddCommand(newServeCommand(defaultServeDeps()))
	cmd.AddCommand(newVersionCommand())
	return cmd
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the binary and session protocol versions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			_, err := fmt.Fprintf(cmd.OutOrStdout(), "vai-voice %s (session protocol %s)\n", version, session.Version)
			return err
		},
	}
}
