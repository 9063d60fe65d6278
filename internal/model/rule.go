package model

import (
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/rotisserie/eris"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// Operator is the comparison an assignment rule applies to its criteria field.
type Operator string

const (
	OpEquals     Operator = "Equals"
	OpContains   Operator = "Contains"
	OpStartsWith Operator = "StartsWith"
)

// ParseOperator resolves an operator name, accepting any case and the
// snake_case spellings ("starts_with").
func ParseOperator(s string) (Operator, error) {
	switch strings.ToLower(strings.ReplaceAll(strings.TrimSpace(s), "_", "")) {
	case "equals", "eq":
		return OpEquals, nil
	case "contains":
		return OpContains, nil
	case "startswith":
		return OpStartsWith, nil
	default:
		return "", eris.Wrapf(ErrInvalidInput, "unknown operator %q", s)
	}
}

// AssignmentRule routes matching records to an owner. Lower priority runs first.
type AssignmentRule struct {
	ID               string     `json:"id" yaml:"id"`
	Name             string     `json:"name" yaml:"name"`
	EntityType       EntityType `json:"entity_type" yaml:"entity_type" validate:"omitempty,oneof=Lead Account Opportunity Case"`
	Priority         int        `json:"priority" yaml:"priority"`
	CriteriaField    string     `json:"criteria_field" yaml:"criteria_field" validate:"required"`
	CriteriaOperator Operator   `json:"criteria_operator" yaml:"criteria_operator" validate:"required"`
	CriteriaValue    string     `json:"criteria_value" yaml:"criteria_value"`
	AssignedTo       string     `json:"assigned_to" yaml:"assigned_to" validate:"required"`
	IsActive         bool       `json:"is_active" yaml:"is_active"`
	CreatedAt        time.Time  `json:"created_at" yaml:"-"`
	UpdatedAt        time.Time  `json:"updated_at" yaml:"-"`
}

// Validate checks required fields and normalizes the operator spelling.
func (r *AssignmentRule) Validate() error {
	if err := validate.Struct(r); err != nil {
		return eris.Wrapf(ErrInvalidInput, "assignment rule %q: %v", r.Name, err)
	}
	op, err := ParseOperator(string(r.CriteriaOperator))
	if err != nil {
		return eris.Wrapf(err, "assignment rule %q", r.Name)
	}
	r.CriteriaOperator = op
	return nil
}
