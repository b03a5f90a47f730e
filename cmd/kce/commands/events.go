package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/kce-engine/kce/pkg/audit"
)

func newEventsCommand() *cobra.Command {
	var auditDB string

	cmd := &cobra.Command{
		Use:     "events <run-id>",
		Short:   "Show the audit trail of a recorded run",
		Example: "  kce events --audit-db runs.db 2f9d9a3e-...",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			runID := args[0]

			store, err := audit.NewStore(auditDB)
			if err != nil {
				return err
			}
			if err := store.Init(ctx); err != nil {
				return err
			}
			defer store.Close()

			run, err := store.GetRun(ctx, runID)
			if err != nil {
				return err
			}
			fmt.Printf("Run %s: %s", run.ID, run.Status)
			if run.Message != "" {
				fmt.Printf(" (%s)", run.Message)
			}
			fmt.Println()

			events, err := store.Events(ctx, runID)
			if err != nil {
				return err
			}
			for _, e := range events {
				ref := e.OperationRef
				if ref == "" {
					ref = "-"
				}
				fmt.Printf("%s  %-10s %-10s %s", e.CreatedAt.Format("15:04:05.000"), e.Type, e.Status, ref)
				if e.Message != "" {
					fmt.Printf("  %s", e.Message)
				}
				fmt.Println()
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&auditDB, "audit-db", "", "SQLite database path")
	_ = cmd.MarkFlagRequired("audit-db")
	return cmd
}
