package catalog

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/crm-rules/internal/assignment"
	"github.com/sells-group/crm-rules/internal/model"
	"github.com/sells-group/crm-rules/internal/store"
)

func TestLoad(t *testing.T) {
	t.Parallel()

	c, err := Load(filepath.Join("testdata", "rules.yaml"))
	require.NoError(t, err)
	require.Len(t, c.AssignmentRules, 2)
	require.Len(t, c.Workflows, 2)

	assert.Equal(t, model.OpContains, c.AssignmentRules[1].CriteriaOperator)
	assert.Equal(t, model.TriggerOnStatusChange, c.Workflows[1].TriggerType)
	require.NotNil(t, c.Workflows[1].TriggerConditions)
	assert.Equal(t, "status", c.Workflows[1].TriggerConditions.Field)

	actions, err := c.Workflows[0].DecodeActions()
	require.NoError(t, err)
	task, ok := actions[0].(model.CreateTaskAction)
	require.True(t, ok)
	assert.Equal(t, model.PriorityHigh, task.Priority)
	assert.Equal(t, 2, task.DueInDays)
}

func TestLoad_MissingFile(t *testing.T) {
	t.Parallel()
	_, err := Load(filepath.Join("testdata", "nope.yaml"))
	require.Error(t, err)
}

func TestParse_Empty(t *testing.T) {
	t.Parallel()
	c, err := Parse(nil)
	require.NoError(t, err)
	assert.Empty(t, c.AssignmentRules)
	assert.Empty(t, c.Workflows)
}

func TestParse_Invalid(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		yaml string
		msg  string
	}{
		{
			name: "unknown key",
			yaml: "assignment_rules:\n  - id: r1\n    colour: blue\n",
			msg:  "colour",
		},
		{
			name: "bad operator",
			yaml: "assignment_rules:\n  - id: r1\n    criteria_field: source\n    criteria_operator: Regex\n    assigned_to: a\n",
			msg:  "Regex",
		},
		{
			name: "missing id",
			yaml: "assignment_rules:\n  - criteria_field: source\n    criteria_operator: Equals\n    assigned_to: a\n",
			msg:  "id is required",
		},
		{
			name: "duplicate workflow id",
			yaml: "workflows:\n  - {id: w, name: a, entity_type: Lead, trigger_type: onCreate}\n  - {id: w, name: b, entity_type: Lead, trigger_type: onCreate}\n",
			msg:  "duplicate id",
		},
		{
			name: "bad trigger",
			yaml: "workflows:\n  - {id: w, name: a, entity_type: Lead, trigger_type: onSave}\n",
			msg:  "TriggerType",
		},
		{
			name: "malformed action config",
			yaml: "workflows:\n  - id: w\n    name: a\n    entity_type: Lead\n    trigger_type: onCreate\n    actions:\n      - type: createTask\n        config: {dueInDays: soon}\n",
			msg:  "dueInDays",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := Parse([]byte(tt.yaml))
			require.ErrorIs(t, err, model.ErrInvalidInput)
			assert.Contains(t, err.Error(), tt.msg)
		})
	}
}

func TestApply(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	s, err := store.NewSQLite(filepath.Join(t.TempDir(), "catalog.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() }) //nolint:errcheck
	require.NoError(t, s.Migrate(ctx))

	c, err := Load(filepath.Join("testdata", "rules.yaml"))
	require.NoError(t, err)
	applied, err := Apply(ctx, s, c)
	require.NoError(t, err)
	assert.Equal(t, Applied{AssignmentRules: 2, Workflows: 2}, applied)

	// reloading updates in place
	c, err = Load(filepath.Join("testdata", "rules.yaml"))
	require.NoError(t, err)
	_, err = Apply(ctx, s, c)
	require.NoError(t, err)

	rules, err := s.ListAssignmentRules(ctx)
	require.NoError(t, err)
	require.Len(t, rules, 2)
	owner, ok := assignment.Match(&model.Lead{Source: model.SourceReferral}, rules)
	require.True(t, ok)
	assert.Equal(t, "rep-a", owner)

	wfs, err := s.ListWorkflows(ctx, store.WorkflowFilter{EntityType: model.EntityLead, ActiveOnly: true})
	require.NoError(t, err)
	assert.Len(t, wfs, 2)

	wf, err := s.GetWorkflow(ctx, "qualified-notify")
	require.NoError(t, err)
	require.Len(t, wf.Actions, 2)
	assert.Equal(t, model.ActionUpdateField, wf.Actions[1].Type)
}
