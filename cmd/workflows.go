package main

import (
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/crm-rules/internal/model"
	"github.com/sells-group/crm-rules/internal/notify"
	"github.com/sells-group/crm-rules/internal/store"
	"github.com/sells-group/crm-rules/internal/workflow"
)

var workflowsCmd = &cobra.Command{
	Use:   "workflows",
	Short: "List and run trigger-based workflows",
}

// -- workflows list --

var workflowsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List workflows",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		filter, err := workflowFilterFromFlags(cmd)
		if err != nil {
			return err
		}

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		wfs, err := st.ListWorkflows(ctx, filter)
		if err != nil {
			return eris.Wrap(err, "workflows list")
		}
		if len(wfs) == 0 {
			fmt.Fprintln(os.Stderr, "No workflows found.")
			return nil
		}
		formatWorkflowList(cmd.OutOrStdout(), wfs)
		return nil
	},
}

func workflowFilterFromFlags(cmd *cobra.Command) (store.WorkflowFilter, error) {
	var f store.WorkflowFilter
	if s, _ := cmd.Flags().GetString("type"); s != "" {
		et, err := model.ParseEntityType(s)
		if err != nil {
			return f, err
		}
		f.EntityType = et
	}
	if s, _ := cmd.Flags().GetString("trigger"); s != "" {
		tt, err := model.ParseTriggerType(s)
		if err != nil {
			return f, err
		}
		f.TriggerType = tt
	}
	f.ActiveOnly, _ = cmd.Flags().GetBool("active")
	return f, nil
}

func formatWorkflowList(w io.Writer, wfs []model.Workflow) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tNAME\tTYPE\tTRIGGER\tACTIVE\tACTIONS\tRUNS\tLAST RUN")
	for _, wf := range wfs {
		last := "-"
		if wf.LastExecuted != nil {
			last = wf.LastExecuted.Format(time.DateTime)
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%t\t%d\t%d\t%s\n",
			wf.ID,
			truncate(wf.Name, 40),
			wf.EntityType,
			wf.TriggerType,
			wf.IsActive,
			len(wf.Actions),
			wf.ExecutionCount,
			last,
		)
	}
	_ = tw.Flush()
}

// -- workflows run --

var workflowsRunCmd = &cobra.Command{
	Use:   "run <entity-type> <id>",
	Short: "Run the active workflows for one record and trigger",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		if err := cfg.Validate("notify"); err != nil {
			return err
		}

		et, err := model.ParseEntityType(args[0])
		if err != nil {
			return err
		}
		trig, _ := cmd.Flags().GetString("trigger")
		tt, err := model.ParseTriggerType(trig)
		if err != nil {
			return err
		}
		changes, _ := cmd.Flags().GetStringSlice("changed")

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		n, err := notify.New(cfg.Notify)
		if err != nil {
			return err
		}
		engine := workflow.NewEngine(st,
			workflow.WithNotifier(n),
			workflow.WithDefaultDueDays(cfg.Workflow.DefaultTaskDueDays),
		)

		summary, runErr := engine.RunWorkflows(ctx, et, args[1], tt, changes)
		if summary != nil {
			formatRunSummary(cmd.OutOrStdout(), summary)
		}
		return runErr
	},
}

func formatRunSummary(w io.Writer, s *workflow.RunSummary) {
	if len(s.Results) == 0 {
		fmt.Fprintf(w, "No active %s workflows for %s.\n", s.Trigger, s.EntityType)
		return
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "WORKFLOW\tNAME\tOUTCOME\tACTIONS\tERROR")
	for _, r := range s.Results {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%s\n", r.WorkflowID, truncate(r.Name, 40), r.Outcome, r.Actions, r.Error)
	}
	_ = tw.Flush()
	fmt.Fprintf(w, "\n%d done, %d skipped, %d failed\n",
		s.Count(workflow.OutcomeDone), s.Count(workflow.OutcomeSkipped), s.Count(workflow.OutcomeFailed))
}

func init() {
	workflowsListCmd.Flags().String("type", "", "filter by entity type")
	workflowsListCmd.Flags().String("trigger", "", "filter by trigger type")
	workflowsListCmd.Flags().Bool("active", false, "only active workflows")

	workflowsRunCmd.Flags().String("trigger", string(model.TriggerOnUpdate), "trigger type")
	workflowsRunCmd.Flags().StringSlice("changed", nil, "changed field names (for onFieldChange)")

	workflowsCmd.AddCommand(workflowsListCmd)
	workflowsCmd.AddCommand(workflowsRunCmd)
	rootCmd.AddCommand(workflowsCmd)
}
