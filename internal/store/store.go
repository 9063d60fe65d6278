// Package store persists entities, tasks, assignment rules, and workflows.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"

	"github.com/sells-group/crm-rules/internal/model"
)

// EntityFilter specifies criteria for listing entities.
type EntityFilter struct {
	Type           model.EntityType `json:"type,omitempty"`
	IncludeDeleted bool             `json:"include_deleted,omitempty"`
	Limit          int              `json:"limit,omitempty"`
}

// TaskFilter specifies criteria for listing tasks.
type TaskFilter struct {
	RelatedType model.EntityType `json:"related_type,omitempty"`
	RelatedID   string           `json:"related_id,omitempty"`
	WorkflowID  string           `json:"workflow_id,omitempty"`
	Limit       int              `json:"limit,omitempty"`
}

// WorkflowFilter specifies criteria for listing workflows. Results are
// ordered by creation time, then id.
type WorkflowFilter struct {
	EntityType  model.EntityType  `json:"entity_type,omitempty"`
	TriggerType model.TriggerType `json:"trigger_type,omitempty"`
	ActiveOnly  bool              `json:"active_only,omitempty"`
}

// Store defines the persistence interface for CRM records and rules.
// Lookups of absent records return errors wrapping model.ErrNotFound.
type Store interface {
	// Entities
	GetEntity(ctx context.Context, t model.EntityType, id string) (model.Entity, error)
	ListEntities(ctx context.Context, filter EntityFilter) ([]model.Entity, error)
	SaveEntity(ctx context.Context, e model.Entity) error
	ImportEntities(ctx context.Context, entities []model.Entity) (int64, error)
	SoftDeleteEntity(ctx context.Context, t model.EntityType, id string) error
	DeleteEntity(ctx context.Context, t model.EntityType, id string) error

	// Tasks
	CreateTask(ctx context.Context, task *model.Task) error
	ListTasks(ctx context.Context, filter TaskFilter) ([]model.Task, error)

	// Assignment rules
	ListAssignmentRules(ctx context.Context) ([]model.AssignmentRule, error)
	SaveAssignmentRule(ctx context.Context, rule *model.AssignmentRule) error

	// Workflows
	ListWorkflows(ctx context.Context, filter WorkflowFilter) ([]model.Workflow, error)
	GetWorkflow(ctx context.Context, id string) (*model.Workflow, error)
	SaveWorkflow(ctx context.Context, wf *model.Workflow) error
	RecordWorkflowExecution(ctx context.Context, id string, at time.Time) error

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}

// workflowDoc is the JSON column holding a workflow's definition.
type workflowDoc struct {
	Description       string                  `json:"description,omitempty"`
	TriggerConditions *model.TriggerCondition `json:"trigger_conditions,omitempty"`
	Actions           []model.ActionSpec      `json:"actions"`
}

func encodeWorkflowDoc(wf *model.Workflow) ([]byte, error) {
	doc, err := json.Marshal(workflowDoc{
		Description:       wf.Description,
		TriggerConditions: wf.TriggerConditions,
		Actions:           wf.Actions,
	})
	return doc, eris.Wrap(err, "store: marshal workflow definition")
}

func decodeWorkflowDoc(data []byte, wf *model.Workflow) error {
	var doc workflowDoc
	if err := json.Unmarshal(data, &doc); err != nil {
		return eris.Wrapf(err, "store: unmarshal workflow %s definition", wf.ID)
	}
	wf.Description = doc.Description
	wf.TriggerConditions = doc.TriggerConditions
	wf.Actions = doc.Actions
	return nil
}

// entityRow is the column projection of an entity.
type entityRow struct {
	entityType model.EntityType
	id         string
	doc        []byte
	assignedTo string
	isDeleted  bool
	createdAt  time.Time
	updatedAt  time.Time
}

// prepareEntity assigns an id to new records, stamps timestamps, and
// serializes the document.
func prepareEntity(e model.Entity, now time.Time, newID func() string) (entityRow, error) {
	meta := e.Metadata()
	if meta.ID == "" {
		meta.ID = newID()
	}
	e.Touch(now)

	doc, err := json.Marshal(e)
	if err != nil {
		return entityRow{}, eris.Wrapf(err, "store: marshal %s %s", e.Type(), meta.ID)
	}
	return entityRow{
		entityType: e.Type(),
		id:         meta.ID,
		doc:        doc,
		assignedTo: meta.AssignedTo,
		isDeleted:  meta.IsDeleted,
		createdAt:  meta.CreatedAt,
		updatedAt:  meta.UpdatedAt,
	}, nil
}

func notFound(kind, id string) error {
	return eris.Wrapf(model.ErrNotFound, "%s %s", kind, id)
}

type scannable interface {
	Scan(dest ...any) error
}

func isNoRows(err error) bool {
	return errors.Is(err, sql.ErrNoRows) || errors.Is(err, pgx.ErrNoRows)
}
