// Package audit records lead lifecycle events.
package audit

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/sells-group/crm-rules/internal/model"
)

// Actions recorded by the intake service.
const (
	ActionLeadCreated   = "lead.created"
	ActionLeadUpdated   = "lead.updated"
	ActionLeadConverted = "lead.converted"
)

// Event is one audit trail entry.
type Event struct {
	Action     string           `json:"action"`
	EntityType model.EntityType `json:"entity_type"`
	EntityID   string           `json:"entity_id"`
	Actor      string           `json:"actor,omitempty"`
	Details    map[string]any   `json:"details,omitempty"`
	At         time.Time        `json:"at"`
}

// Logger writes audit events.
type Logger interface {
	Record(ctx context.Context, ev Event) error
}

// ZapLogger writes audit events to a named zap logger.
type ZapLogger struct {
	log *zap.Logger
}

// NewZapLogger returns a Logger on the global zap logger, named "audit".
func NewZapLogger() *ZapLogger {
	return &ZapLogger{log: zap.L().Named("audit")}
}

// Record logs ev at info level.
func (l *ZapLogger) Record(_ context.Context, ev Event) error {
	l.log.Info(ev.Action,
		zap.String("entity_type", string(ev.EntityType)),
		zap.String("entity_id", ev.EntityID),
		zap.String("actor", ev.Actor),
		zap.Any("details", ev.Details),
		zap.Time("at", ev.At),
	)
	return nil
}
