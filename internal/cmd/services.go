package cmd

import (
	"github.com/spf13/cobra"

	"github.com/floworc/floworc/internal/orchestrator"
	"github.com/floworc/floworc/internal/reaper"
	"github.com/floworc/floworc/internal/worker"
)

func orchestratorCommand(configFile *string) *cobra.Command {
	return &cobra.Command{
		Use:   "orchestrator",
		Short: "Run an orchestrator replica",
		Long:  "Consumes completion events, evaluates node readiness, resolves templates, and dispatches ready tasks.",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signalContext(cmd.Context())
			defer stop()

			rt, ctx, err := newRuntime(ctx, *configFile)
			if err != nil {
				return err
			}
			defer rt.close()

			o := orchestrator.New(rt.store, rt.broker, rt.repo, rt.dags,
				rt.cfg.Orchestrator, consumerName("orchestrator"))
			return o.Run(ctx)
		},
	}
}

func workerCommand(configFile *string) *cobra.Command {
	return &cobra.Command{
		Use:   "worker",
		Short: "Run a worker replica",
		Long:  "Consumes task events and executes handlers with idempotency, retry, and circuit breaking.",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signalContext(cmd.Context())
			defer stop()

			rt, ctx, err := newRuntime(ctx, *configFile)
			if err != nil {
				return err
			}
			defer rt.close()

			registry := worker.NewRegistry()
			worker.RegisterBuiltins(registry)

			w := worker.New(rt.store, rt.broker, rt.dlq, registry, rt.dags,
				rt.cfg.Worker, consumerName("worker"))
			return w.Run(ctx)
		},
	}
}

func reaperCommand(configFile *string) *cobra.Command {
	return &cobra.Command{
		Use:   "reaper",
		Short: "Run the zombie-recovery service",
		Long:  "Reclaims stalled in-flight messages from both streams and requeues them.",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signalContext(cmd.Context())
			defer stop()

			rt, ctx, err := newRuntime(ctx, *configFile)
			if err != nil {
				return err
			}
			defer rt.close()

			rp := reaper.New(rt.broker, rt.dlq, rt.cfg.Reaper, consumerName("reaper"))
			return rp.Run(ctx)
		},
	}
}
