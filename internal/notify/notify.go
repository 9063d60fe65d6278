// Package notify delivers the emails and in-app notifications that workflow
// actions produce.
package notify

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/crm-rules/internal/config"
	"github.com/sells-group/crm-rules/internal/model"
)

// Kind distinguishes the two notification actions.
type Kind string

const (
	KindEmail        Kind = "email"
	KindNotification Kind = "notification"
)

// Message is one outbound email or notification.
type Message struct {
	Kind       Kind             `json:"kind"`
	To         string           `json:"to,omitempty"`
	UserID     string           `json:"user_id,omitempty"`
	Subject    string           `json:"subject,omitempty"`
	Body       string           `json:"body,omitempty"`
	Template   string           `json:"template,omitempty"`
	EntityType model.EntityType `json:"entity_type"`
	EntityID   string           `json:"entity_id"`
	WorkflowID string           `json:"workflow_id,omitempty"`
	SentAt     time.Time        `json:"sent_at"`
}

// Notifier delivers messages.
type Notifier interface {
	Send(ctx context.Context, msg Message) error
}

// LogNotifier writes messages to the global logger instead of delivering them.
type LogNotifier struct{}

// Send logs msg at info level.
func (LogNotifier) Send(_ context.Context, msg Message) error {
	zap.L().Info("notify: message",
		zap.String("kind", string(msg.Kind)),
		zap.String("to", msg.To),
		zap.String("user_id", msg.UserID),
		zap.String("subject", msg.Subject),
		zap.String("template", msg.Template),
		zap.String("entity_type", string(msg.EntityType)),
		zap.String("entity_id", msg.EntityID),
		zap.String("workflow_id", msg.WorkflowID),
	)
	return nil
}

// New builds the notifier selected by cfg.Driver ("log" or "webhook").
func New(cfg config.NotifyConfig) (Notifier, error) {
	switch cfg.Driver {
	case "", "log":
		return LogNotifier{}, nil
	case "webhook":
		if cfg.WebhookURL == "" {
			return nil, eris.New("notify: webhook driver requires notify.webhook_url")
		}
		opts := []Option{WithRateLimit(cfg.RateLimit)}
		if cfg.TimeoutSecs > 0 {
			opts = append(opts, WithTimeout(time.Duration(cfg.TimeoutSecs)*time.Second))
		}
		return NewWebhookNotifier(cfg.WebhookURL, opts...), nil
	default:
		return nil, eris.Errorf("notify: unknown driver %q", cfg.Driver)
	}
}
