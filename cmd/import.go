package main

import (
	"context"
	"fmt"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/crm-rules/internal/assignment"
	"github.com/sells-group/crm-rules/internal/model"
	"github.com/sells-group/crm-rules/internal/scoring"
	"github.com/sells-group/crm-rules/internal/store"
	sfpkg "github.com/sells-group/crm-rules/pkg/salesforce"
)

var importCmd = &cobra.Command{
	Use:   "import",
	Short: "Import records from external systems",
}

var importSalesforceCmd = &cobra.Command{
	Use:   "salesforce",
	Short: "Import Salesforce leads, scoring and routing each one",
	Long:  "Fetches leads from Salesforce, scores them, assigns owners from the active rules, and bulk-writes them to the store keyed by Salesforce Id. With --push-scores the scores are written back to Salesforce.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		limit, _ := cmd.Flags().GetInt("limit")
		push, _ := cmd.Flags().GetBool("push-scores")

		sf, err := initSalesforce()
		if err != nil {
			return err
		}

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		res, err := importLeads(ctx, sf, st, limit, push)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Imported %d leads (%d routed, %d scores pushed).\n", res.Imported, res.Routed, res.Pushed)
		return nil
	},
}

type importResult struct {
	Imported int64
	Routed   int
	Pushed   int
}

// importLeads fetches, scores, routes, and stores Salesforce leads.
func importLeads(ctx context.Context, sf sfpkg.Client, st store.Store, limit int, push bool) (importResult, error) {
	var res importResult

	leads, err := sfpkg.FetchLeads(ctx, sf, limit)
	if err != nil {
		return res, err
	}
	rules, err := st.ListAssignmentRules(ctx)
	if err != nil {
		return res, eris.Wrap(err, "import: load assignment rules")
	}
	rules = assignment.ForEntity(rules, model.EntityLead)

	scorer := scoring.NewScorer(cfg.Scoring)
	entities := make([]model.Entity, 0, len(leads))
	updates := make([]sfpkg.ScoreUpdate, 0, len(leads))
	for _, l := range leads {
		l.Score = scorer.Score(l.Scorable())
		if owner, ok := assignment.Match(l, rules); ok {
			l.AssignedTo = owner
			res.Routed++
		}
		entities = append(entities, l)
		updates = append(updates, sfpkg.ScoreUpdate{ID: l.ID, Score: l.Score})
	}

	res.Imported, err = st.ImportEntities(ctx, entities)
	if err != nil {
		return res, eris.Wrap(err, "import: write leads")
	}
	zap.L().Info("salesforce leads imported",
		zap.Int64("imported", res.Imported),
		zap.Int("routed", res.Routed),
	)

	if !push {
		return res, nil
	}
	results, err := sfpkg.BulkUpdateLeadScores(ctx, sf, updates)
	for _, r := range results {
		if r.Success {
			res.Pushed++
			continue
		}
		zap.L().Warn("salesforce score update failed", zap.String("lead_id", r.ID), zap.Strings("errors", r.Errors))
	}
	if err != nil {
		return res, eris.Wrap(err, "import: push scores")
	}
	return res, nil
}

func init() {
	importSalesforceCmd.Flags().Int("limit", 0, "max leads to fetch (0 = all)")
	importSalesforceCmd.Flags().Bool("push-scores", false, "write computed scores back to Salesforce")
	importCmd.AddCommand(importSalesforceCmd)
	rootCmd.AddCommand(importCmd)
}
