package main

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/crm-rules/internal/model"
	"github.com/sells-group/crm-rules/internal/scoring"
	"github.com/sells-group/crm-rules/internal/store"
)

var scoreCmd = &cobra.Command{
	Use:   "score [lead-id...]",
	Short: "Score leads with the configured point table",
	Long:  "Scores the given leads, or every non-deleted lead when no ids are given. With --save the new scores are written back.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		if err := scoring.ValidateConfig(cfg.Scoring); err != nil {
			return err
		}

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		save, _ := cmd.Flags().GetBool("save")
		limit, _ := cmd.Flags().GetInt("limit")

		leads, err := loadLeads(cmd, st, args, limit)
		if err != nil {
			return err
		}

		scorer := scoring.NewScorer(cfg.Scoring)
		rows := make([]scoredLead, 0, len(leads))
		changed := 0
		for _, l := range leads {
			b := scorer.Breakdown(l.Scorable())
			rows = append(rows, scoredLead{Lead: l, Breakdown: b, Previous: l.Score})
			if !save || b.Total == l.Score {
				continue
			}
			l.Score = b.Total
			if err := st.SaveEntity(ctx, l); err != nil {
				return eris.Wrapf(err, "score: save lead %s", l.ID)
			}
			changed++
		}

		formatScores(cmd.OutOrStdout(), rows)
		if save {
			zap.L().Info("scores saved", zap.Int("leads", len(rows)), zap.Int("changed", changed))
		}
		return nil
	},
}

type scoredLead struct {
	Lead      *model.Lead
	Breakdown scoring.Breakdown
	Previous  int
}

// loadLeads returns the leads named by ids, or every non-deleted lead.
func loadLeads(cmd *cobra.Command, st store.Store, ids []string, limit int) ([]*model.Lead, error) {
	ctx := cmd.Context()
	var leads []*model.Lead
	if len(ids) > 0 {
		for _, id := range ids {
			e, err := st.GetEntity(ctx, model.EntityLead, id)
			if err != nil {
				return nil, eris.Wrapf(err, "load lead %s", id)
			}
			leads = append(leads, e.(*model.Lead))
		}
		return leads, nil
	}

	all, err := st.ListEntities(ctx, store.EntityFilter{Type: model.EntityLead, Limit: limit})
	if err != nil {
		return nil, eris.Wrap(err, "list leads")
	}
	for _, e := range all {
		if l, ok := e.(*model.Lead); ok {
			leads = append(leads, l)
		}
	}
	return leads, nil
}

func formatScores(w io.Writer, rows []scoredLead) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tNAME\tTITLE\tREVENUE\tSOURCE\tCONTACT\tTOTAL\tPREVIOUS")
	for _, r := range rows {
		b := r.Breakdown
		fmt.Fprintf(tw, "%s\t%s\t%d\t%d\t%d\t%d\t%d\t%d\n",
			r.Lead.ID,
			truncate(r.Lead.DisplayName(), 30),
			b.Title,
			b.Revenue,
			b.Source,
			b.Email+b.Phone+b.Website,
			b.Total,
			r.Previous,
		)
	}
	_ = tw.Flush()
}

// truncate shortens s to n runes, ending with "..." when cut.
func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	if n <= 3 {
		return string(r[:n])
	}
	return string(r[:n-3]) + "..."
}

func init() {
	scoreCmd.Flags().Bool("save", false, "write computed scores back to the store")
	scoreCmd.Flags().Int("limit", 0, "max leads to score when no ids are given (0 = all)")
	rootCmd.AddCommand(scoreCmd)
}
