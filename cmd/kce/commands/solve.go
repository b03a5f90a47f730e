package commands

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/kce-engine/kce/pkg/audit"
	"github.com/kce-engine/kce/pkg/definitions"
	"github.com/kce-engine/kce/pkg/engine"
	"github.com/kce-engine/kce/pkg/knowledge"
	"github.com/kce-engine/kce/pkg/telemetry"
)

func newSolveCommand() *cobra.Command {
	var (
		definitionFiles []string
		problemFile     string
		auditDB         string
		maxIterations   int
		stepTimeout     time.Duration
		jsonOutput      bool
	)

	cmd := &cobra.Command{
		Use:   "solve",
		Short: "Run the planner until the goal holds or the run fails",
		Long: `Solve loads operation and rule definitions, merges the initial facts from
the problem file, and drives the planning loop: check goal, pick the first
eligible operation, execute it, stabilize, repeat.`,
		Example: `  # Solve a goal against a definitions file
  kce solve --definitions defs.yaml --problem problem.yaml

  # Persist the audit trail and cap the planning depth
  kce solve -d defs.yaml -p problem.yaml --audit-db runs.db --max-iterations 50`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			log, err := newCLILogger()
			if err != nil {
				return fmt.Errorf("creating logger: %w", err)
			}

			loader := definitions.NewLoader(log)
			kl := knowledge.NewStore()
			for _, path := range definitionFiles {
				stmts, err := loader.LoadFile(path)
				if err != nil {
					return err
				}
				if _, err := kl.Merge(stmts, "urn:kce:definitions"); err != nil {
					return fmt.Errorf("merging definitions from %s: %w", path, err)
				}
			}

			problem, err := loader.LoadProblemFile(problemFile)
			if err != nil {
				return err
			}

			runID := uuid.NewString()
			auditor := audit.MultiLogger{audit.NewLogSink(log)}

			var store *audit.Store
			if auditDB != "" {
				store, err = audit.NewStore(auditDB)
				if err != nil {
					return err
				}
				if err := store.Init(ctx); err != nil {
					return err
				}
				defer store.Close()
				if err := store.StartRun(ctx, runID); err != nil {
					return err
				}
				auditor = append(auditor, store)
			}

			metrics := telemetry.NewMetrics("kce")
			node := engine.NewNodeExecutor(log,
				engine.WithSubprocessTimeout(stepTimeout),
				engine.WithNodeExecutorAuditor(auditor),
				engine.WithNodeExecutorMetrics(metrics),
			)
			rules := engine.NewRuleEngine(log,
				engine.WithRuleEngineAuditor(auditor),
				engine.WithRuleEngineMetrics(metrics),
			)
			planner := engine.NewPlanner(log,
				engine.WithPlannerAuditor(auditor),
				engine.WithPlannerMetrics(metrics),
			)

			result := planner.Solve(ctx, engine.SolveRequest{
				RunID:     runID,
				Goal:      problem.Goal,
				Initial:   problem.Initial,
				Knowledge: kl,
				Executor: engine.NewPlanExecutor(node, log,
					engine.WithPlanExecutorRules(rules),
					engine.WithPlanExecutorAuditor(auditor),
					engine.WithPlanExecutorMetrics(metrics)),
				Rules:         rules,
				MaxIterations: maxIterations,
			})

			if store != nil {
				if err := store.FinishRun(ctx, runID, string(result.Status), result.Message); err != nil {
					log.WithError(err).Warn("recording run outcome failed")
				}
			}

			if err := printResult(result, jsonOutput); err != nil {
				return err
			}
			if !result.Succeeded() {
				return fmt.Errorf("solve failed: %s", result.Message)
			}
			return nil
		},
	}

	cmd.Flags().StringSliceVarP(&definitionFiles, "definitions", "d", nil, "definitions YAML file (repeatable)")
	cmd.Flags().StringVarP(&problemFile, "problem", "p", "", "problem YAML file with goal and initial facts")
	cmd.Flags().StringVar(&auditDB, "audit-db", "", "SQLite database path for the audit trail")
	cmd.Flags().IntVar(&maxIterations, "max-iterations", engine.DefaultMaxIterations, "planning iteration budget")
	cmd.Flags().DurationVar(&stepTimeout, "step-timeout", engine.DefaultSubprocessTimeout, "per-operation subprocess timeout")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "print the result as JSON")
	_ = cmd.MarkFlagRequired("definitions")
	_ = cmd.MarkFlagRequired("problem")

	return cmd
}

func printResult(result engine.ExecutionResult, jsonOutput bool) error {
	if jsonOutput {
		plan := make([]string, len(result.Plan))
		for i, step := range result.Plan {
			plan[i] = step.OperationID.IRI
		}
		return json.NewEncoder(os.Stdout).Encode(map[string]any{
			"run_id":      result.RunID,
			"status":      result.Status,
			"message":     result.Message,
			"iterations":  result.Iterations,
			"plan":        plan,
			"failed_step": result.FailedStep,
		})
	}

	fmt.Printf("Run:        %s\n", result.RunID)
	fmt.Printf("Status:     %s\n", result.Status)
	fmt.Printf("Message:    %s\n", result.Message)
	fmt.Printf("Iterations: %d\n", result.Iterations)
	fmt.Printf("Plan (%d steps):\n", len(result.Plan))
	for i, step := range result.Plan {
		marker := " "
		if i == result.FailedStep {
			marker = "x"
		}
		fmt.Printf("  %s %2d. %s\n", marker, i+1, step.OperationID.IRI)
	}
	return nil
}
