package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/sells-group/crm-rules/internal/catalog"
)

var catalogCmd = &cobra.Command{
	Use:   "catalog",
	Short: "Manage assignment rules and workflows from YAML",
}

var catalogLoadCmd = &cobra.Command{
	Use:   "load <file.yaml>",
	Short: "Validate a catalog file and upsert its rules and workflows",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		c, err := catalog.Load(args[0])
		if err != nil {
			return err
		}

		dryRun, _ := cmd.Flags().GetBool("dry-run")
		out := cmd.OutOrStdout()
		if dryRun {
			fmt.Fprintf(out, "Valid: %d assignment rules, %d workflows.\n", len(c.AssignmentRules), len(c.Workflows))
			return nil
		}

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		applied, err := catalog.Apply(ctx, st, c)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "Loaded %d assignment rules, %d workflows.\n", applied.AssignmentRules, applied.Workflows)
		return nil
	},
}

func init() {
	catalogLoadCmd.Flags().Bool("dry-run", false, "validate only")
	catalogCmd.AddCommand(catalogLoadCmd)
	rootCmd.AddCommand(catalogCmd)
}
