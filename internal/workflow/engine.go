// Package workflow runs the active workflows that match an entity lifecycle
// event.
package workflow

import (
	"context"
	"slices"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/crm-rules/internal/model"
	"github.com/sells-group/crm-rules/internal/notify"
	"github.com/sells-group/crm-rules/internal/store"
)

// Store is the persistence the engine needs.
type Store interface {
	GetEntity(ctx context.Context, t model.EntityType, id string) (model.Entity, error)
	SaveEntity(ctx context.Context, e model.Entity) error
	CreateTask(ctx context.Context, task *model.Task) error
	ListWorkflows(ctx context.Context, filter store.WorkflowFilter) ([]model.Workflow, error)
	RecordWorkflowExecution(ctx context.Context, id string, at time.Time) error
}

// Outcome is the terminal state of one workflow for one event.
type Outcome string

const (
	OutcomeDone    Outcome = "done"
	OutcomeSkipped Outcome = "skipped"
	OutcomeFailed  Outcome = "failed"
)

// Result reports what happened to one selected workflow.
type Result struct {
	WorkflowID string  `json:"workflow_id"`
	Name       string  `json:"name"`
	Outcome    Outcome `json:"outcome"`
	Actions    int     `json:"actions"`
	Error      string  `json:"error,omitempty"`
}

// RunSummary lists the result of every workflow selected for an event, in
// execution order.
type RunSummary struct {
	EntityType model.EntityType  `json:"entity_type"`
	EntityID   string            `json:"entity_id"`
	Trigger    model.TriggerType `json:"trigger"`
	Results    []Result          `json:"results"`
}

// Count returns how many workflows ended with outcome o.
func (s *RunSummary) Count(o Outcome) int {
	n := 0
	for _, r := range s.Results {
		if r.Outcome == o {
			n++
		}
	}
	return n
}

// Option configures an Engine.
type Option func(*Engine)

// WithNotifier sets where sendEmail and sendNotification actions land.
func WithNotifier(n notify.Notifier) Option {
	return func(e *Engine) { e.notifier = n }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithDefaultDueDays sets the due date offset for tasks that give none.
func WithDefaultDueDays(days int) Option {
	return func(e *Engine) {
		if days > 0 {
			e.dueDays = days
		}
	}
}

// Engine evaluates and executes workflows. It holds no per-event state and
// is safe for concurrent use on different entities.
type Engine struct {
	store    Store
	notifier notify.Notifier
	now      func() time.Time
	dueDays  int
}

// NewEngine creates an engine backed by s.
func NewEngine(s Store, opts ...Option) *Engine {
	e := &Engine{
		store:    s,
		notifier: notify.LogNotifier{},
		now:      func() time.Time { return time.Now().UTC() },
		dueDays:  7,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// RunWorkflows executes every active workflow for (entityType, trigger)
// against the entity, in creation order. changes names the fields that
// changed; it gates onFieldChange conditions.
//
// A missing entity or a failed workflow lookup is returned as an error with
// no summary. Failures inside individual workflows are isolated: the
// summary is always complete and the error is a *model.PartialFailure when
// at least one workflow failed.
func (e *Engine) RunWorkflows(ctx context.Context, entityType model.EntityType, entityID string, trigger model.TriggerType, changes []string) (*RunSummary, error) {
	start := time.Now()
	defer func() { runDuration.WithLabelValues(string(trigger)).Observe(time.Since(start).Seconds()) }()

	entity, err := e.store.GetEntity(ctx, entityType, entityID)
	if err != nil {
		return nil, eris.Wrapf(err, "workflow: load %s %s", entityType, entityID)
	}

	wfs, err := e.store.ListWorkflows(ctx, store.WorkflowFilter{
		EntityType:  entityType,
		TriggerType: trigger,
		ActiveOnly:  true,
	})
	if err != nil {
		return nil, eris.Wrapf(err, "workflow: select %s %s", entityType, trigger)
	}

	summary := &RunSummary{EntityType: entityType, EntityID: entityID, Trigger: trigger}
	var failures []error
	for i := range wfs {
		wf := &wfs[i]
		res, err := e.runOne(ctx, wf, entity, changes)
		if err != nil {
			res.Outcome = OutcomeFailed
			res.Error = err.Error()
			failures = append(failures, eris.Wrapf(err, "workflow %s", wf.ID))
			zap.L().Warn("workflow: execution failed",
				zap.String("workflow_id", wf.ID),
				zap.String("workflow", wf.Name),
				zap.String("entity_id", entityID),
				zap.Error(err),
			)
		}
		executionsTotal.WithLabelValues(string(entityType), string(res.Outcome)).Inc()
		summary.Results = append(summary.Results, res)
	}

	zap.L().Debug("workflow: run complete",
		zap.String("entity_type", string(entityType)),
		zap.String("entity_id", entityID),
		zap.String("trigger", string(trigger)),
		zap.Int("selected", len(wfs)),
		zap.Int("done", summary.Count(OutcomeDone)),
		zap.Int("failed", len(failures)),
	)
	return summary, model.NewPartialFailure("run workflows", failures)
}

func (e *Engine) runOne(ctx context.Context, wf *model.Workflow, entity model.Entity, changes []string) (Result, error) {
	res := Result{WorkflowID: wf.ID, Name: wf.Name, Outcome: OutcomeSkipped}

	if !conditionMet(wf, entity, changes) {
		return res, nil
	}

	actions, err := wf.DecodeActions()
	if err != nil {
		return res, err
	}
	for i, a := range actions {
		if err := e.execute(ctx, wf, entity, a); err != nil {
			actionsTotal.WithLabelValues(string(a.Kind()), "error").Inc()
			return res, eris.Wrapf(err, "action %d (%s)", i, a.Kind())
		}
		res.Actions++
	}

	if err := e.store.RecordWorkflowExecution(ctx, wf.ID, e.now()); err != nil {
		return res, err
	}
	res.Outcome = OutcomeDone
	return res, nil
}

// conditionMet applies the optional single-field equality. For onFieldChange
// workflows the condition field must also be among the changed fields.
func conditionMet(wf *model.Workflow, entity model.Entity, changes []string) bool {
	cond := wf.TriggerConditions
	if cond == nil {
		return true
	}
	if wf.TriggerType == model.TriggerOnFieldChange {
		field := model.CanonicalField(cond.Field)
		if !slices.ContainsFunc(changes, func(c string) bool { return model.CanonicalField(c) == field }) {
			return false
		}
	}
	return cond.Matches(entity)
}
