package workflow

import (
	"context"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/crm-rules/internal/model"
	"github.com/sells-group/crm-rules/internal/notify"
)

// execute runs one action against the shared entity instance, so later
// actions see earlier updates.
func (e *Engine) execute(ctx context.Context, wf *model.Workflow, entity model.Entity, action model.Action) error {
	status := "ok"
	switch a := action.(type) {
	case model.CreateTaskAction:
		if err := e.createTask(ctx, wf, entity, a); err != nil {
			return err
		}

	case model.UpdateFieldAction:
		if a.Field == "" || model.Text(a.Value) == "" {
			status = "noop"
			break
		}
		if err := entity.SetField(a.Field, a.Value); err != nil {
			return err
		}
		if err := e.store.SaveEntity(ctx, entity); err != nil {
			return eris.Wrap(err, "workflow: persist updated field")
		}

	case model.AssignToAction:
		if a.UserID == "" {
			status = "noop"
			break
		}
		if err := entity.SetField("assigned_to", a.UserID); err != nil {
			return err
		}
		if err := e.store.SaveEntity(ctx, entity); err != nil {
			return eris.Wrap(err, "workflow: persist assignment")
		}

	case model.SendEmailAction:
		status = e.send(ctx, notify.Message{
			Kind:     notify.KindEmail,
			To:       a.To,
			Subject:  a.Subject,
			Body:     a.Body,
			Template: a.Template,
		}, wf, entity)

	case model.SendNotificationAction:
		userID := a.UserID
		if userID == "" {
			userID = entity.Metadata().AssignedTo
		}
		status = e.send(ctx, notify.Message{
			Kind:    notify.KindNotification,
			UserID:  userID,
			Subject: a.Title,
			Body:    a.Message,
		}, wf, entity)

	default:
		status = "skipped"
		zap.L().Warn("workflow: unknown action type, skipping",
			zap.String("workflow_id", wf.ID),
			zap.String("type", string(action.Kind())),
		)
	}
	actionsTotal.WithLabelValues(string(action.Kind()), status).Inc()
	return nil
}

func (e *Engine) createTask(ctx context.Context, wf *model.Workflow, entity model.Entity, a model.CreateTaskAction) error {
	now := e.now()
	task := &model.Task{
		Title:       a.Title,
		Description: a.Description,
		Priority:    a.Priority,
		Status:      model.TaskOpen,
		AssignedTo:  a.AssignTo,
		RelatedType: entity.Type(),
		RelatedID:   entity.EntityID(),
		WorkflowID:  wf.ID,
		CreatedAt:   now,
	}
	if task.Title == "" {
		task.Title = "Follow up: " + entity.DisplayName()
	}
	if task.Priority == "" {
		task.Priority = model.PriorityMedium
	}
	if task.AssignedTo == "" {
		task.AssignedTo = entity.Metadata().AssignedTo
	}
	switch {
	case a.DueDate != nil:
		task.DueDate = *a.DueDate
	case a.DueInDays > 0:
		task.DueDate = now.AddDate(0, 0, a.DueInDays)
	default:
		task.DueDate = now.AddDate(0, 0, e.dueDays)
	}

	if err := e.store.CreateTask(ctx, task); err != nil {
		return eris.Wrap(err, "workflow: create task")
	}
	return nil
}

// send delivers a message. Delivery failures are logged and never fail the
// workflow.
func (e *Engine) send(ctx context.Context, msg notify.Message, wf *model.Workflow, entity model.Entity) string {
	msg.EntityType = entity.Type()
	msg.EntityID = entity.EntityID()
	msg.WorkflowID = wf.ID
	msg.SentAt = e.now()
	if err := e.notifier.Send(ctx, msg); err != nil {
		zap.L().Warn("workflow: notification not delivered",
			zap.String("workflow_id", wf.ID),
			zap.String("kind", string(msg.Kind)),
			zap.Error(err),
		)
		return "undelivered"
	}
	return "ok"
}
