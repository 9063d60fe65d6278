package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/crm-rules/internal/intake"
	"github.com/sells-group/crm-rules/internal/model"
)

var leadsCmd = &cobra.Command{
	Use:   "leads",
	Short: "Create, update, and convert leads",
	Long:  "Lead lifecycle commands. Each change is scored, routed, audited, and runs the matching workflows before the command exits.",
}

// -- leads create --

var leadsCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Create a lead",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		lead, err := leadFromFlags(cmd)
		if err != nil {
			return err
		}

		env, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		created, err := env.Intake.CreateLead(ctx, lead)
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), created)
	},
}

var leadFlagFields = []string{
	"first_name", "last_name", "company", "title", "email", "phone",
	"website", "source", "industry", "annual_revenue", "city", "state", "country",
}

func leadFromFlags(cmd *cobra.Command) (*model.Lead, error) {
	lead := &model.Lead{}
	for _, name := range leadFlagFields {
		v, _ := cmd.Flags().GetString(strings.ReplaceAll(name, "_", "-"))
		if v == "" {
			continue
		}
		if err := lead.SetField(name, v); err != nil {
			return nil, eris.Wrapf(err, "leads: --%s", strings.ReplaceAll(name, "_", "-"))
		}
	}
	if owner, _ := cmd.Flags().GetString("assigned-to"); owner != "" {
		lead.AssignedTo = owner
	}
	return lead, nil
}

// -- leads update --

var leadsUpdateCmd = &cobra.Command{
	Use:   "update <lead-id>",
	Short: "Update lead fields",
	Long:  "Applies --set name=value pairs, rescores, and runs onUpdate, onFieldChange, and onStatusChange workflows.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		pairs, _ := cmd.Flags().GetStringSlice("set")
		changes, err := parseAssignments(pairs)
		if err != nil {
			return err
		}

		env, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		lead, changed, err := env.Intake.UpdateLead(ctx, args[0], changes)
		if err != nil {
			return err
		}
		if len(changed) == 0 {
			fmt.Fprintln(cmd.ErrOrStderr(), "No changes.")
		}
		return printJSON(cmd.OutOrStdout(), lead)
	},
}

// parseAssignments turns "name=value" pairs into a change map.
func parseAssignments(pairs []string) (map[string]any, error) {
	if len(pairs) == 0 {
		return nil, eris.Wrap(model.ErrInvalidInput, "leads: at least one --set name=value is required")
	}
	out := make(map[string]any, len(pairs))
	for _, p := range pairs {
		name, value, ok := strings.Cut(p, "=")
		name = strings.TrimSpace(name)
		if !ok || name == "" {
			return nil, eris.Wrapf(model.ErrInvalidInput, "leads: %q must be name=value", p)
		}
		out[name] = value
	}
	return out, nil
}

// -- leads convert --

var leadsConvertCmd = &cobra.Command{
	Use:   "convert <lead-id>",
	Short: "Convert a lead into an account and optional opportunity",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		var opts intake.ConvertOptions
		opts.CreateOpportunity, _ = cmd.Flags().GetBool("opportunity")
		opts.OpportunityName, _ = cmd.Flags().GetString("opportunity-name")
		opts.Amount, _ = cmd.Flags().GetFloat64("amount")

		env, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		res, err := env.Intake.ConvertLead(ctx, args[0], opts)
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), res)
	},
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return eris.Wrap(enc.Encode(v), "encode output")
}

func init() {
	for _, name := range leadFlagFields {
		flag := strings.ReplaceAll(name, "_", "-")
		leadsCreateCmd.Flags().String(flag, "", "lead "+strings.ReplaceAll(name, "_", " "))
	}
	leadsCreateCmd.Flags().String("assigned-to", "", "owner; skips assignment rules")

	leadsUpdateCmd.Flags().StringSlice("set", nil, "field change as name=value (repeatable)")

	leadsConvertCmd.Flags().Bool("opportunity", false, "also create an opportunity")
	leadsConvertCmd.Flags().String("opportunity-name", "", "opportunity name (default \"<account> - New Business\")")
	leadsConvertCmd.Flags().Float64("amount", 0, "opportunity amount")

	leadsCmd.AddCommand(leadsCreateCmd)
	leadsCmd.AddCommand(leadsUpdateCmd)
	leadsCmd.AddCommand(leadsConvertCmd)
	rootCmd.AddCommand(leadsCmd)
}
