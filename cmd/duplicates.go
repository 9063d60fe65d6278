package main

import (
	"fmt"
	"io"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/crm-rules/internal/dedupe"
	"github.com/sells-group/crm-rules/internal/model"
	"github.com/sells-group/crm-rules/internal/report"
	"github.com/sells-group/crm-rules/internal/store"
)

var duplicatesCmd = &cobra.Command{
	Use:   "duplicates <entity-type>",
	Short: "Find likely duplicate records",
	Long:  "Compares every pair of non-deleted records of one type and reports pairs scoring at or above the threshold, as a table, CSV, or XLSX workbook.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		if err := cfg.Validate("dedupe"); err != nil {
			return err
		}

		et, err := model.ParseEntityType(args[0])
		if err != nil {
			return err
		}

		threshold, _ := cmd.Flags().GetInt("threshold")
		if !cmd.Flags().Changed("threshold") {
			threshold = cfg.Dedupe.Threshold
		}
		format, _ := cmd.Flags().GetString("format")
		outPath, _ := cmd.Flags().GetString("out")
		groups, _ := cmd.Flags().GetBool("groups")

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		records, err := st.ListEntities(ctx, store.EntityFilter{Type: et, Limit: cfg.Dedupe.MaxRecords})
		if err != nil {
			return eris.Wrap(err, "duplicates: list records")
		}

		d := &dedupe.Detector{Workers: cfg.Dedupe.Workers}
		candidates := d.Find(records, threshold)
		zap.L().Info("duplicate scan complete",
			zap.String("entity_type", string(et)),
			zap.Int("records", len(records)),
			zap.Int("candidates", len(candidates)),
		)

		out := cmd.OutOrStdout()
		if outPath != "" {
			f, err := os.Create(outPath)
			if err != nil {
				return eris.Wrap(err, "duplicates: create output")
			}
			defer f.Close() //nolint:errcheck
			out = f
		}

		return writeDuplicates(out, format, groups, candidates)
	},
}

// writeDuplicates renders candidates in the requested format. For "table",
// groups switches the output to connected groups.
func writeDuplicates(out io.Writer, format string, groups bool, candidates []model.DuplicateCandidate) error {
	switch format {
	case "table", "":
		if groups {
			return report.WriteGroupsTable(out, dedupe.GroupCandidates(candidates))
		}
		if len(candidates) == 0 {
			fmt.Fprintln(out, "No duplicates found.")
			return nil
		}
		return report.WriteCandidatesTable(out, candidates)
	case "csv":
		return report.WriteCandidatesCSV(out, candidates)
	case "xlsx":
		return report.WriteXLSX(out, candidates, dedupe.GroupCandidates(candidates))
	default:
		return eris.Errorf("duplicates: unknown format %q (want table, csv, or xlsx)", format)
	}
}

func init() {
	duplicatesCmd.Flags().Int("threshold", 80, "minimum composite score, 0-100 (default from config)")
	duplicatesCmd.Flags().String("format", "table", "output format: table, csv, xlsx")
	duplicatesCmd.Flags().String("out", "", "write output to a file instead of stdout")
	duplicatesCmd.Flags().Bool("groups", false, "print connected groups instead of pairs (table format)")
	rootCmd.AddCommand(duplicatesCmd)
}
