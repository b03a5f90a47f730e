package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/kce-engine/kce/pkg/definitions"
	"github.com/kce-engine/kce/pkg/engine"
	"github.com/kce-engine/kce/pkg/knowledge"
)

func newValidateCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate <file>...",
		Short: "Validate definitions files without running anything",
		Long: `Validate parses the given definitions files, materializes them as
statements, and decodes every operation and rule back, so schema errors and
undecodable definitions surface before a solve.`,
		Example: `  kce validate defs.yaml
  kce validate base.yaml overrides.yaml`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			log, err := newCLILogger()
			if err != nil {
				return fmt.Errorf("creating logger: %w", err)
			}

			loader := definitions.NewLoader(log)
			kl := knowledge.NewStore()
			for _, path := range args {
				stmts, err := loader.LoadFile(path)
				if err != nil {
					return fmt.Errorf("%s: %w", path, err)
				}
				if _, err := kl.Merge(stmts, ""); err != nil {
					return fmt.Errorf("%s: %w", path, err)
				}
			}

			ids, err := engine.ListOperationIDs(kl)
			if err != nil {
				return err
			}
			for _, id := range ids {
				if _, err := engine.LoadOperation(kl, id); err != nil {
					return err
				}
			}
			rules, err := engine.ListRules(kl)
			if err != nil {
				return err
			}

			fmt.Printf("OK: %d operations, %d rules\n", len(ids), len(rules))
			for _, id := range ids {
				fmt.Printf("  operation %s\n", id.IRI)
			}
			for _, r := range rules {
				fmt.Printf("  rule %s (priority %d, %s)\n", r.ID.IRI, r.Priority, r.Kind)
			}
			return nil
		},
	}
	return cmd
}
