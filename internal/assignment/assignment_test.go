package assignment

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/crm-rules/internal/model"
)

func rule(id string, priority int, field string, op model.Operator, value, owner string) model.AssignmentRule {
	return model.AssignmentRule{
		ID:               id,
		Priority:         priority,
		CriteriaField:    field,
		CriteriaOperator: op,
		CriteriaValue:    value,
		AssignedTo:       owner,
		IsActive:         true,
	}
}

func TestMatch_ReferralExample(t *testing.T) {
	t.Parallel()

	rules := []model.AssignmentRule{
		rule("r1", 1, "source", model.OpEquals, "Referral", "A"),
		rule("r2", 2, "source", model.OpContains, "ref", "B"),
	}
	owner, ok := Match(&model.Lead{Source: model.SourceReferral}, rules)
	require.True(t, ok)
	assert.Equal(t, "A", owner)
}

func TestMatch_LowerPriorityWinsRegardlessOfInputOrder(t *testing.T) {
	t.Parallel()

	rules := []model.AssignmentRule{
		rule("r2", 2, "source", model.OpContains, "ref", "B"),
		rule("r1", 1, "source", model.OpEquals, "Referral", "A"),
	}
	owner, ok := Match(&model.Lead{Source: model.SourceReferral}, rules)
	require.True(t, ok)
	assert.Equal(t, "A", owner)
}

func TestMatch_TieBrokenByID(t *testing.T) {
	t.Parallel()

	rules := []model.AssignmentRule{
		rule("b", 1, "state", model.OpEquals, "TX", "second"),
		rule("a", 1, "state", model.OpEquals, "TX", "first"),
	}
	owner, ok := Match(&model.Lead{State: "TX"}, rules)
	require.True(t, ok)
	assert.Equal(t, "first", owner)
}

func TestMatch_InactiveSkipped(t *testing.T) {
	t.Parallel()

	inactive := rule("r1", 1, "source", model.OpEquals, "Referral", "A")
	inactive.IsActive = false
	rules := []model.AssignmentRule{inactive, rule("r2", 5, "source", model.OpStartsWith, "REF", "B")}

	owner, ok := Match(&model.Lead{Source: model.SourceReferral}, rules)
	require.True(t, ok)
	assert.Equal(t, "B", owner)
}

func TestMatch_Operators(t *testing.T) {
	t.Parallel()

	lead := &model.Lead{Company: "Acme Logistics", Email: "Jane@Acme.com"}
	tests := []struct {
		name string
		r    model.AssignmentRule
		want bool
	}{
		{"equals case-insensitive", rule("1", 1, "company", model.OpEquals, "acme logistics", "x"), true},
		{"equals partial", rule("1", 1, "company", model.OpEquals, "acme", "x"), false},
		{"contains", rule("1", 1, "email", model.OpContains, "@ACME.", "x"), true},
		{"starts with", rule("1", 1, "company", model.OpStartsWith, "ACME", "x"), true},
		{"starts with miss", rule("1", 1, "company", model.OpStartsWith, "logistics", "x"), false},
		{"lower-case operator spelling", rule("1", 1, "company", "contains", "logis", "x"), true},
		{"unknown operator", rule("1", 1, "company", "Regex", "acme.*", "x"), false},
		{"camelCase field", rule("1", 1, "firstName", model.OpEquals, "", "x"), true},
		{"unknown field reads empty", rule("1", 1, "shoe_size", model.OpEquals, "", "x"), true},
		{"unknown field with value", rule("1", 1, "shoe_size", model.OpEquals, "9", "x"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, ok := Match(lead, []model.AssignmentRule{tt.r})
			assert.Equal(t, tt.want, ok)
		})
	}
}

func TestMatch_NoRules(t *testing.T) {
	t.Parallel()

	owner, ok := Match(&model.Lead{}, nil)
	assert.False(t, ok)
	assert.Empty(t, owner)
}

func TestExplain(t *testing.T) {
	t.Parallel()

	rules := []model.AssignmentRule{
		rule("west", 10, "state", model.OpEquals, "CA", "pat"),
		rule("big", 1, "annual_revenue", model.OpStartsWith, "5", "sam"),
	}
	r, ok := Explain(&model.Lead{State: "CA", AnnualRevenue: 5_000_000}, rules)
	require.True(t, ok)
	assert.Equal(t, "big", r.ID)
	assert.Equal(t, "sam", r.AssignedTo)
}

func TestOrdered_DoesNotMutateInput(t *testing.T) {
	t.Parallel()

	rules := []model.AssignmentRule{
		rule("c", 3, "f", model.OpEquals, "", "x"),
		rule("a", 1, "f", model.OpEquals, "", "x"),
		rule("b", 2, "f", model.OpEquals, "", "x"),
	}
	ordered := Ordered(rules)
	assert.Equal(t, []string{"a", "b", "c"}, []string{ordered[0].ID, ordered[1].ID, ordered[2].ID})
	assert.Equal(t, "c", rules[0].ID)
}

func TestForEntity(t *testing.T) {
	t.Parallel()

	global := rule("any", 1, "f", model.OpEquals, "", "x")
	lead := rule("lead", 1, "f", model.OpEquals, "", "x")
	lead.EntityType = model.EntityLead
	acct := rule("acct", 1, "f", model.OpEquals, "", "x")
	acct.EntityType = model.EntityAccount

	got := ForEntity([]model.AssignmentRule{global, lead, acct}, model.EntityLead)
	require.Len(t, got, 2)
	assert.Equal(t, "any", got[0].ID)
	assert.Equal(t, "lead", got[1].ID)
}
