package main

import (
	"fmt"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/crm-rules/internal/merge"
	"github.com/sells-group/crm-rules/internal/model"
)

var mergeCmd = &cobra.Command{
	Use:   "merge <entity-type> <primary-id> <duplicate-id>...",
	Short: "Merge duplicate records into a primary record",
	Long: `Copies selected fields from duplicates onto the primary, saves it, and
soft-deletes the duplicates. Select fields with --field name=source-id.`,
	Args: cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		et, err := model.ParseEntityType(args[0])
		if err != nil {
			return err
		}
		fields, _ := cmd.Flags().GetStringSlice("field")
		selections, err := parseSelections(fields)
		if err != nil {
			return err
		}

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		req := model.MergeRequest{
			PrimaryID:       args[1],
			DuplicateIDs:    args[2:],
			EntityType:      et,
			FieldSelections: selections,
		}
		res, err := merge.NewResolver(st).Merge(ctx, req)
		if res != nil {
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Primary:    %s (%s)\n", res.Primary.EntityID(), res.Primary.DisplayName())
			fmt.Fprintf(out, "Duplicates: %d soft-deleted\n", res.DuplicatesProcessed)
			fmt.Fprintf(out, "Copied:     %s\n", orNone(res.CopiedFields))
			fmt.Fprintf(out, "Skipped:    %s\n", orNone(res.SkippedFields))
		}
		return err
	},
}

// parseSelections turns "name=source-id" pairs into a selection map.
func parseSelections(pairs []string) (map[string]string, error) {
	out := make(map[string]string, len(pairs))
	for _, p := range pairs {
		name, id, ok := strings.Cut(p, "=")
		name, id = strings.TrimSpace(name), strings.TrimSpace(id)
		if !ok || name == "" || id == "" {
			return nil, eris.Wrapf(model.ErrInvalidInput, "merge: field selection %q must be name=source-id", p)
		}
		out[name] = id
	}
	return out, nil
}

func orNone(items []string) string {
	if len(items) == 0 {
		return "-"
	}
	return strings.Join(items, ", ")
}

func init() {
	mergeCmd.Flags().StringSlice("field", nil, "field to copy, as name=source-id (repeatable)")
	rootCmd.AddCommand(mergeCmd)
}
