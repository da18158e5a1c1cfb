// Package cmd implements the floworc command line: the orchestrator, worker,
// and reaper services plus the operator commands for submitting, triggering,
// inspecting, and cancelling executions.
package cmd

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

// Execute runs the root command.
func Execute() error {
	return NewRootCommand().Execute()
}

// NewRootCommand builds the full command tree.
func NewRootCommand() *cobra.Command {
	var configFile string

	cmd := &cobra.Command{
		Use:           "floworc",
		Short:         "Distributed DAG workflow orchestration engine",
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	cmd.PersistentFlags().StringVar(&configFile, "config", "", "path to configuration file")

	cmd.AddCommand(
		orchestratorCommand(&configFile),
		workerCommand(&configFile),
		reaperCommand(&configFile),
		submitCommand(&configFile),
		triggerCommand(&configFile),
		statusCommand(&configFile),
		resultsCommand(&configFile),
		cancelCommand(&configFile),
		dlqCommand(&configFile),
		versionCommand(),
	)
	return cmd
}

// signalContext returns a context cancelled on SIGINT or SIGTERM.
func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
}
