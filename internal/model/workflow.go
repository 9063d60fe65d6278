package model

import (
	"strings"
	"time"

	"github.com/rotisserie/eris"
)

// TriggerType is the lifecycle event that activates a workflow.
type TriggerType string

const (
	TriggerOnCreate       TriggerType = "onCreate"
	TriggerOnUpdate       TriggerType = "onUpdate"
	TriggerOnDelete       TriggerType = "onDelete"
	TriggerOnStatusChange TriggerType = "onStatusChange"
	TriggerOnFieldChange  TriggerType = "onFieldChange"
)

// ParseTriggerType resolves a trigger name case-insensitively.
func ParseTriggerType(s string) (TriggerType, error) {
	for _, t := range []TriggerType{
		TriggerOnCreate, TriggerOnUpdate, TriggerOnDelete,
		TriggerOnStatusChange, TriggerOnFieldChange,
	} {
		if strings.EqualFold(string(t), strings.TrimSpace(s)) {
			return t, nil
		}
	}
	return "", eris.Wrapf(ErrInvalidInput, "unknown trigger type %q", s)
}

// TriggerCondition is a single field equality predicate.
type TriggerCondition struct {
	Field string `json:"field" yaml:"field" validate:"required"`
	Value any    `json:"value" yaml:"value"`
}

// Matches reports whether the record's field text equals the condition value
// exactly. Unknown fields never match.
func (c *TriggerCondition) Matches(rec FieldGetter) bool {
	if c == nil {
		return true
	}
	got, ok := rec.Field(c.Field)
	if !ok {
		return false
	}
	return got == Text(c.Value)
}

// Workflow reacts to an entity lifecycle event with an ordered action list.
type Workflow struct {
	ID                string            `json:"id" yaml:"id"`
	Name              string            `json:"name" yaml:"name" validate:"required"`
	Description       string            `json:"description,omitempty" yaml:"description,omitempty"`
	EntityType        EntityType        `json:"entity_type" yaml:"entity_type" validate:"required,oneof=Lead Account Opportunity Case"`
	TriggerType       TriggerType       `json:"trigger_type" yaml:"trigger_type" validate:"required,oneof=onCreate onUpdate onDelete onStatusChange onFieldChange"`
	TriggerConditions *TriggerCondition `json:"trigger_conditions,omitempty" yaml:"trigger_conditions,omitempty"`
	Actions           []ActionSpec      `json:"actions" yaml:"actions" validate:"dive"`
	IsActive          bool              `json:"is_active" yaml:"is_active"`
	ExecutionCount    int64             `json:"execution_count" yaml:"-"`
	LastExecuted      *time.Time        `json:"last_executed,omitempty" yaml:"-"`
	CreatedAt         time.Time         `json:"created_at" yaml:"-"`
	UpdatedAt         time.Time         `json:"updated_at" yaml:"-"`
}

// Validate checks required fields and that every action config decodes.
func (w *Workflow) Validate() error {
	if err := validate.Struct(w); err != nil {
		return eris.Wrapf(ErrInvalidInput, "workflow %q: %v", w.Name, err)
	}
	if _, err := w.DecodeActions(); err != nil {
		return eris.Wrapf(err, "workflow %q", w.Name)
	}
	return nil
}

// DecodeActions converts the stored action specs into typed actions.
func (w *Workflow) DecodeActions() ([]Action, error) {
	actions := make([]Action, 0, len(w.Actions))
	for i, spec := range w.Actions {
		a, err := ParseAction(spec)
		if err != nil {
			return nil, eris.Wrapf(err, "action %d", i)
		}
		actions = append(actions, a)
	}
	return actions, nil
}
