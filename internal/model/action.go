package model

import (
	"time"

	"github.com/rotisserie/eris"
)

// ActionType names an action variant.
type ActionType string

const (
	ActionCreateTask       ActionType = "createTask"
	ActionUpdateField      ActionType = "updateField"
	ActionSendEmail        ActionType = "sendEmail"
	ActionAssignTo         ActionType = "assignTo"
	ActionSendNotification ActionType = "sendNotification"
)

// ActionSpec is the stored form of an action: a type tag plus its config.
type ActionSpec struct {
	Type   ActionType     `json:"type" yaml:"type" validate:"required"`
	Config map[string]any `json:"config,omitempty" yaml:"config,omitempty"`
}

// Action is one step of a workflow. The concrete types below are the only
// implementations.
type Action interface {
	Kind() ActionType
}

// CreateTaskAction creates a follow-up Task for the triggering entity.
type CreateTaskAction struct {
	Title       string
	Description string
	Priority    TaskPriority
	DueDate     *time.Time
	DueInDays   int
	AssignTo    string
}

// UpdateFieldAction sets one field on the triggering entity. An empty
// Field or nil Value makes the action a no-op.
type UpdateFieldAction struct {
	Field string
	Value any
}

// AssignToAction changes the owner of the triggering entity.
type AssignToAction struct {
	UserID string
}

// SendEmailAction hands an email to the notification collaborator.
type SendEmailAction struct {
	To       string
	Subject  string
	Body     string
	Template string
}

// SendNotificationAction hands an in-app notification to the notification
// collaborator.
type SendNotificationAction struct {
	UserID  string
	Title   string
	Message string
}

// UnknownAction preserves an action whose type this engine does not know.
// It is skipped at execution time.
type UnknownAction struct {
	Type   ActionType
	Config map[string]any
}

func (CreateTaskAction) Kind() ActionType       { return ActionCreateTask }
func (UpdateFieldAction) Kind() ActionType      { return ActionUpdateField }
func (AssignToAction) Kind() ActionType         { return ActionAssignTo }
func (SendEmailAction) Kind() ActionType        { return ActionSendEmail }
func (SendNotificationAction) Kind() ActionType { return ActionSendNotification }
func (a UnknownAction) Kind() ActionType        { return a.Type }

// ParseAction decodes a spec into its typed variant. Config values with the
// wrong shape are rejected with ErrInvalidInput; missing optional values are
// left zero.
func ParseAction(spec ActionSpec) (Action, error) {
	cfg := actionConfig(spec.Config)
	var err error
	switch spec.Type {
	case ActionCreateTask:
		a := CreateTaskAction{}
		if a.Title, err = cfg.text("title"); err != nil {
			return nil, err
		}
		if a.Description, err = cfg.text("description"); err != nil {
			return nil, err
		}
		var p string
		if p, err = cfg.text("priority"); err != nil {
			return nil, err
		}
		if p != "" {
			a.Priority = ParseTaskPriority(p)
		}
		if a.DueDate, err = cfg.date("dueDate", "due_date"); err != nil {
			return nil, err
		}
		if a.DueInDays, err = cfg.integer("dueInDays", "due_in_days"); err != nil {
			return nil, err
		}
		if a.AssignTo, err = cfg.text("assignTo", "assigned_to", "userId"); err != nil {
			return nil, err
		}
		return a, nil
	case ActionUpdateField:
		a := UpdateFieldAction{Value: cfg.raw("value")}
		if a.Field, err = cfg.text("field"); err != nil {
			return nil, err
		}
		if _, ok := a.Value.(map[string]any); ok {
			return nil, eris.Wrap(ErrInvalidInput, "updateField: value must be a scalar")
		}
		return a, nil
	case ActionAssignTo:
		a := AssignToAction{}
		if a.UserID, err = cfg.text("userId", "user_id"); err != nil {
			return nil, err
		}
		return a, nil
	case ActionSendEmail:
		a := SendEmailAction{}
		if a.To, err = cfg.text("to"); err != nil {
			return nil, err
		}
		if a.Subject, err = cfg.text("subject"); err != nil {
			return nil, err
		}
		if a.Body, err = cfg.text("body"); err != nil {
			return nil, err
		}
		if a.Template, err = cfg.text("template"); err != nil {
			return nil, err
		}
		return a, nil
	case ActionSendNotification:
		a := SendNotificationAction{}
		if a.UserID, err = cfg.text("userId", "user_id"); err != nil {
			return nil, err
		}
		if a.Title, err = cfg.text("title"); err != nil {
			return nil, err
		}
		if a.Message, err = cfg.text("message"); err != nil {
			return nil, err
		}
		return a, nil
	default:
		return UnknownAction{Type: spec.Type, Config: spec.Config}, nil
	}
}

type actionConfig map[string]any

// raw returns the first present key.
func (c actionConfig) raw(keys ...string) any {
	for _, k := range keys {
		if v, ok := c[k]; ok && v != nil {
			return v
		}
	}
	return nil
}

func (c actionConfig) text(keys ...string) (string, error) {
	switch v := c.raw(keys...).(type) {
	case nil:
		return "", nil
	case string:
		return v, nil
	default:
		return "", eris.Wrapf(ErrInvalidInput, "config %q must be text, got %T", keys[0], v)
	}
}

func (c actionConfig) integer(keys ...string) (int, error) {
	v := c.raw(keys...)
	if v == nil {
		return 0, nil
	}
	f, err := ToFloat(v)
	if err != nil {
		return 0, eris.Wrapf(err, "config %q", keys[0])
	}
	if f < 0 {
		return 0, eris.Wrapf(ErrInvalidInput, "config %q must not be negative", keys[0])
	}
	return int(f), nil
}

func (c actionConfig) date(keys ...string) (*time.Time, error) {
	t, err := ToTime(c.raw(keys...))
	if err != nil {
		return nil, eris.Wrapf(err, "config %q", keys[0])
	}
	return t, nil
}
