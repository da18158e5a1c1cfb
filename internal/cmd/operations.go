package cmd

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func submitCommand(configFile *string) *cobra.Command {
	var name string

	cmd := &cobra.Command{
		Use:   "submit <definition.json>",
		Short: "Validate and store a workflow, creating a pending execution",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			definition, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("read definition: %w", err)
			}

			rt, ctx, err := newRuntime(cmd.Context(), *configFile)
			if err != nil {
				return err
			}
			defer rt.close()

			workflowID, executionID, err := rt.engine().Submit(ctx, name, definition)
			if err != nil {
				return err
			}
			fmt.Printf("workflow:  %s\nexecution: %s\n", workflowID, executionID)
			return nil
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "workflow name (defaults to the definition's own name)")
	return cmd
}

func triggerCommand(configFile *string) *cobra.Command {
	var params string

	cmd := &cobra.Command{
		Use:   "trigger <execution-id>",
		Short: "Start a pending execution",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, ctx, err := newRuntime(cmd.Context(), *configFile)
			if err != nil {
				return err
			}
			defer rt.close()

			var raw json.RawMessage
			if params != "" {
				if !json.Valid([]byte(params)) {
					return fmt.Errorf("params must be valid JSON")
				}
				raw = json.RawMessage(params)
			}
			return rt.engine().Trigger(ctx, args[0], raw)
		},
	}
	cmd.Flags().StringVar(&params, "params", "", "trigger parameters as a JSON object")
	return cmd
}

func statusCommand(configFile *string) *cobra.Command {
	return &cobra.Command{
		Use:   "status <execution-id>",
		Short: "Show the status of an execution and its nodes",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, ctx, err := newRuntime(cmd.Context(), *configFile)
			if err != nil {
				return err
			}
			defer rt.close()

			report, err := rt.engine().Status(ctx, args[0])
			if err != nil {
				return err
			}
			return printJSON(report)
		},
	}
}

func resultsCommand(configFile *string) *cobra.Command {
	return &cobra.Command{
		Use:   "results <execution-id>",
		Short: "Show the per-node outputs of an execution",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, ctx, err := newRuntime(cmd.Context(), *configFile)
			if err != nil {
				return err
			}
			defer rt.close()

			outputs, err := rt.engine().Results(ctx, args[0])
			if err != nil {
				return err
			}
			return printJSON(outputs)
		},
	}
}

func cancelCommand(configFile *string) *cobra.Command {
	return &cobra.Command{
		Use:   "cancel <execution-id>",
		Short: "Cancel a running or pending execution",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, ctx, err := newRuntime(cmd.Context(), *configFile)
			if err != nil {
				return err
			}
			defer rt.close()

			return rt.engine().Cancel(ctx, args[0])
		},
	}
}

func dlqCommand(configFile *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "dlq",
		Short: "Inspect and manage the dead-letter queue",
	}

	var limit int
	list := &cobra.Command{
		Use:   "list",
		Short: "List dead-letter entries",
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, ctx, err := newRuntime(cmd.Context(), *configFile)
			if err != nil {
				return err
			}
			defer rt.close()

			entries, err := rt.engine().DeadLetters(ctx, limit)
			if err != nil {
				return err
			}
			return printJSON(entries)
		},
	}
	list.Flags().IntVar(&limit, "limit", 100, "maximum entries to list")

	count := &cobra.Command{
		Use:   "count",
		Short: "Count dead-letter entries",
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, ctx, err := newRuntime(cmd.Context(), *configFile)
			if err != nil {
				return err
			}
			defer rt.close()

			n, err := rt.engine().DeadLetterCount(ctx)
			if err != nil {
				return err
			}
			fmt.Println(n)
			return nil
		},
	}

	del := &cobra.Command{
		Use:   "delete <entry-id>",
		Short: "Delete one dead-letter entry",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, ctx, err := newRuntime(cmd.Context(), *configFile)
			if err != nil {
				return err
			}
			defer rt.close()

			found, err := rt.engine().DeleteDeadLetter(ctx, args[0])
			if err != nil {
				return err
			}
			if !found {
				return fmt.Errorf("entry %s not found", args[0])
			}
			return nil
		},
	}

	cmd.AddCommand(list, count, del)
	return cmd
}

func printJSON(v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(data))
	return nil
}
