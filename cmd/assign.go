package main

import (
	"fmt"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/crm-rules/internal/assignment"
	"github.com/sells-group/crm-rules/internal/model"
)

var assignCmd = &cobra.Command{
	Use:   "assign <entity-type> <id>",
	Short: "Match a record against the active assignment rules",
	Long:  "Prints the first matching rule and owner. With --save the owner is written to the record.",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		et, err := model.ParseEntityType(args[0])
		if err != nil {
			return err
		}

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		e, err := st.GetEntity(ctx, et, args[1])
		if err != nil {
			return eris.Wrap(err, "assign")
		}
		rules, err := st.ListAssignmentRules(ctx)
		if err != nil {
			return eris.Wrap(err, "assign: load rules")
		}

		out := cmd.OutOrStdout()
		rule, ok := assignment.Explain(e, assignment.ForEntity(rules, et))
		if !ok {
			fmt.Fprintf(out, "No rule matched %s %s.\n", et, e.EntityID())
			return nil
		}
		fmt.Fprintf(out, "Rule %s (priority %d): %s %s %q -> %s\n",
			rule.ID, rule.Priority, rule.CriteriaField, rule.CriteriaOperator, rule.CriteriaValue, rule.AssignedTo)

		save, _ := cmd.Flags().GetBool("save")
		if !save {
			return nil
		}
		if err := e.SetField("assigned_to", rule.AssignedTo); err != nil {
			return eris.Wrap(err, "assign: set owner")
		}
		if err := st.SaveEntity(ctx, e); err != nil {
			return eris.Wrap(err, "assign: save")
		}
		zap.L().Info("owner assigned",
			zap.String("entity_type", string(et)),
			zap.String("entity_id", e.EntityID()),
			zap.String("assigned_to", rule.AssignedTo),
		)
		return nil
	},
}

func init() {
	assignCmd.Flags().Bool("save", false, "write the matched owner to the record")
	rootCmd.AddCommand(assignCmd)
}
