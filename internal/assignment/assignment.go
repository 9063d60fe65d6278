// Package assignment routes records to owners with ordered, first-match rules.
package assignment

import (
	"cmp"
	"slices"
	"strings"

	"github.com/sells-group/crm-rules/internal/model"
)

// Match returns the owner of the first active rule, in ascending priority
// order, whose criteria the candidate satisfies. Rules with equal priority
// are ordered by ID. An unknown operator never matches.
func Match(candidate model.FieldGetter, rules []model.AssignmentRule) (string, bool) {
	r, ok := Explain(candidate, rules)
	if !ok {
		return "", false
	}
	return r.AssignedTo, true
}

// Explain is Match but returns the winning rule.
func Explain(candidate model.FieldGetter, rules []model.AssignmentRule) (model.AssignmentRule, bool) {
	for _, r := range Ordered(rules) {
		if matches(candidate, r) {
			return r, true
		}
	}
	return model.AssignmentRule{}, false
}

// Ordered returns the active rules in evaluation order. The input is not
// modified.
func Ordered(rules []model.AssignmentRule) []model.AssignmentRule {
	active := make([]model.AssignmentRule, 0, len(rules))
	for _, r := range rules {
		if r.IsActive {
			active = append(active, r)
		}
	}
	slices.SortStableFunc(active, func(a, b model.AssignmentRule) int {
		return cmp.Or(cmp.Compare(a.Priority, b.Priority), cmp.Compare(a.ID, b.ID))
	})
	return active
}

// ForEntity keeps the rules that apply to entity type t. Rules without an
// entity type apply to every type.
func ForEntity(rules []model.AssignmentRule, t model.EntityType) []model.AssignmentRule {
	out := make([]model.AssignmentRule, 0, len(rules))
	for _, r := range rules {
		if r.EntityType == "" || r.EntityType == t {
			out = append(out, r)
		}
	}
	return out
}

func matches(candidate model.FieldGetter, r model.AssignmentRule) bool {
	got, _ := candidate.Field(r.CriteriaField)
	got = strings.ToLower(got)
	want := strings.ToLower(r.CriteriaValue)

	op, err := model.ParseOperator(string(r.CriteriaOperator))
	if err != nil {
		return false
	}
	switch op {
	case model.OpEquals:
		return got == want
	case model.OpContains:
		return strings.Contains(got, want)
	case model.OpStartsWith:
		return strings.HasPrefix(got, want)
	default:
		return false
	}
}
