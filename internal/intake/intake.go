// Package intake is the lead lifecycle around the rule engine: it scores and
// routes new leads, persists them, writes the audit trail, and queues
// workflow events.
package intake

import (
	"context"
	"maps"
	"slices"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/crm-rules/internal/assignment"
	"github.com/sells-group/crm-rules/internal/audit"
	"github.com/sells-group/crm-rules/internal/config"
	"github.com/sells-group/crm-rules/internal/model"
	"github.com/sells-group/crm-rules/internal/scoring"
	"github.com/sells-group/crm-rules/internal/workflow"
)

// Store is the persistence the service needs.
type Store interface {
	GetEntity(ctx context.Context, t model.EntityType, id string) (model.Entity, error)
	SaveEntity(ctx context.Context, e model.Entity) error
	ListAssignmentRules(ctx context.Context) ([]model.AssignmentRule, error)
}

// Dispatcher queues workflow events. *workflow.Dispatcher implements it.
type Dispatcher interface {
	Dispatch(ctx context.Context, ev workflow.Event) error
}

// Service runs lead create, update, and convert.
type Service struct {
	store  Store
	scorer *scoring.Scorer
	audit  audit.Logger
	events Dispatcher
	now    func() time.Time
}

// Option configures a Service.
type Option func(*Service)

// WithScoring replaces the default point table.
func WithScoring(cfg config.ScoringConfig) Option {
	return func(s *Service) { s.scorer = scoring.NewScorer(cfg) }
}

// WithAudit sets the audit collaborator.
func WithAudit(l audit.Logger) Option {
	return func(s *Service) { s.audit = l }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// NewService creates a lead service. events may be nil, in which case no
// workflows run.
func NewService(store Store, events Dispatcher, opts ...Option) *Service {
	s := &Service{
		store:  store,
		scorer: scoring.NewScorer(config.DefaultScoringConfig()),
		audit:  audit.NewZapLogger(),
		events: events,
		now:    func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// CreateLead scores the lead, assigns an owner from the active rules when it
// has none, saves it, and queues onCreate.
func (s *Service) CreateLead(ctx context.Context, lead *model.Lead) (*model.Lead, error) {
	if strings.TrimSpace(lead.LastName) == "" && strings.TrimSpace(lead.Company) == "" {
		return nil, eris.Wrap(model.ErrInvalidInput, "intake: lead needs a last name or company")
	}
	if lead.Status == "" {
		lead.Status = model.LeadNew
	}
	lead.Score = s.scorer.Score(lead.Scorable())

	if lead.AssignedTo == "" {
		owner, err := s.route(ctx, lead)
		if err != nil {
			return nil, err
		}
		lead.AssignedTo = owner
	}

	if err := s.store.SaveEntity(ctx, lead); err != nil {
		return nil, eris.Wrap(err, "intake: save lead")
	}

	s.record(ctx, audit.ActionLeadCreated, lead, map[string]any{
		"score":       lead.Score,
		"assigned_to": lead.AssignedTo,
		"source":      string(lead.Source),
	})
	s.dispatch(ctx, workflow.Event{EntityType: model.EntityLead, EntityID: lead.ID, Trigger: model.TriggerOnCreate})
	return lead, nil
}

// UpdateLead applies field changes, rescores, saves, and queues onUpdate,
// onFieldChange, and (when the status moved) onStatusChange. Changes that
// leave a field's text unchanged are not reported as changed.
func (s *Service) UpdateLead(ctx context.Context, id string, changes map[string]any) (*model.Lead, []string, error) {
	lead, err := s.loadLead(ctx, id)
	if err != nil {
		return nil, nil, err
	}

	var changed []string
	for _, name := range slices.Sorted(maps.Keys(changes)) {
		before, _ := lead.Field(name)
		if err := lead.SetField(name, changes[name]); err != nil {
			return nil, nil, eris.Wrapf(err, "intake: update lead %s", id)
		}
		if after, _ := lead.Field(name); after != before {
			changed = append(changed, model.CanonicalField(name))
		}
	}
	if len(changed) == 0 {
		return lead, nil, nil
	}

	if score := s.scorer.Score(lead.Scorable()); score != lead.Score {
		lead.Score = score
		changed = append(changed, "score")
	}

	if err := s.store.SaveEntity(ctx, lead); err != nil {
		return nil, nil, eris.Wrap(err, "intake: save lead")
	}

	s.record(ctx, audit.ActionLeadUpdated, lead, map[string]any{"changed": changed})
	s.dispatch(ctx, workflow.Event{EntityType: model.EntityLead, EntityID: id, Trigger: model.TriggerOnUpdate, Changes: changed})
	s.dispatch(ctx, workflow.Event{EntityType: model.EntityLead, EntityID: id, Trigger: model.TriggerOnFieldChange, Changes: changed})
	if slices.Contains(changed, "status") {
		s.dispatch(ctx, workflow.Event{EntityType: model.EntityLead, EntityID: id, Trigger: model.TriggerOnStatusChange, Changes: changed})
	}
	return lead, changed, nil
}

// ConvertOptions controls lead conversion.
type ConvertOptions struct {
	CreateOpportunity bool    `json:"create_opportunity"`
	OpportunityName   string  `json:"opportunity_name,omitempty"`
	Amount            float64 `json:"amount,omitempty"`
}

// ConvertResult holds the records a conversion produced.
type ConvertResult struct {
	Lead        *model.Lead        `json:"lead"`
	Account     *model.Account     `json:"account"`
	Opportunity *model.Opportunity `json:"opportunity,omitempty"`
}

// ConvertLead turns a lead into an account (and optionally an opportunity)
// and marks it Converted. Converting twice is an invalid input.
func (s *Service) ConvertLead(ctx context.Context, id string, opts ConvertOptions) (*ConvertResult, error) {
	lead, err := s.loadLead(ctx, id)
	if err != nil {
		return nil, err
	}
	if lead.Status == model.LeadConverted {
		return nil, eris.Wrapf(model.ErrInvalidInput, "intake: lead %s already converted", id)
	}

	acct := &model.Account{
		Meta:           model.Meta{AssignedTo: lead.AssignedTo},
		Name:           lead.Company,
		Industry:       lead.Industry,
		Website:        lead.Website,
		Phone:          lead.Phone,
		Email:          lead.Email,
		AnnualRevenue:  lead.AnnualRevenue,
		BillingCity:    lead.City,
		BillingState:   lead.State,
		BillingCountry: lead.Country,
	}
	if acct.Name == "" {
		acct.Name = lead.DisplayName()
	}
	if err := s.store.SaveEntity(ctx, acct); err != nil {
		return nil, eris.Wrap(err, "intake: save account")
	}
	res := &ConvertResult{Lead: lead, Account: acct}

	if opts.CreateOpportunity {
		opp := &model.Opportunity{
			Meta:       model.Meta{AssignedTo: lead.AssignedTo},
			Name:       opts.OpportunityName,
			AccountID:  acct.ID,
			Amount:     opts.Amount,
			Stage:      model.StageProspecting,
			LeadSource: lead.Source,
		}
		if opp.Name == "" {
			opp.Name = acct.Name + " - New Business"
		}
		if err := s.store.SaveEntity(ctx, opp); err != nil {
			return nil, eris.Wrap(err, "intake: save opportunity")
		}
		res.Opportunity = opp
	}

	lead.Status = model.LeadConverted
	lead.ConvertedAccountID = acct.ID
	if err := s.store.SaveEntity(ctx, lead); err != nil {
		return nil, eris.Wrap(err, "intake: save converted lead")
	}

	details := map[string]any{"account_id": acct.ID}
	if res.Opportunity != nil {
		details["opportunity_id"] = res.Opportunity.ID
	}
	s.record(ctx, audit.ActionLeadConverted, lead, details)

	s.dispatch(ctx, workflow.Event{EntityType: model.EntityLead, EntityID: id, Trigger: model.TriggerOnStatusChange, Changes: []string{"status"}})
	s.dispatch(ctx, workflow.Event{EntityType: model.EntityAccount, EntityID: acct.ID, Trigger: model.TriggerOnCreate})
	if res.Opportunity != nil {
		s.dispatch(ctx, workflow.Event{EntityType: model.EntityOpportunity, EntityID: res.Opportunity.ID, Trigger: model.TriggerOnCreate})
	}
	return res, nil
}

func (s *Service) loadLead(ctx context.Context, id string) (*model.Lead, error) {
	e, err := s.store.GetEntity(ctx, model.EntityLead, id)
	if err != nil {
		return nil, eris.Wrapf(err, "intake: load lead %s", id)
	}
	lead, ok := e.(*model.Lead)
	if !ok || lead.Deleted() {
		return nil, eris.Wrapf(model.ErrNotFound, "intake: lead %s", id)
	}
	return lead, nil
}

func (s *Service) route(ctx context.Context, lead *model.Lead) (string, error) {
	rules, err := s.store.ListAssignmentRules(ctx)
	if err != nil {
		return "", eris.Wrap(err, "intake: load assignment rules")
	}
	owner, _ := assignment.Match(lead, assignment.ForEntity(rules, model.EntityLead))
	return owner, nil
}

// record writes an audit event. Audit failures are logged only.
func (s *Service) record(ctx context.Context, action string, lead *model.Lead, details map[string]any) {
	ev := audit.Event{
		Action:     action,
		EntityType: model.EntityLead,
		EntityID:   lead.ID,
		Details:    details,
		At:         s.now(),
	}
	if err := s.audit.Record(ctx, ev); err != nil {
		zap.L().Warn("intake: audit failed", zap.String("action", action), zap.String("lead_id", lead.ID), zap.Error(err))
	}
}

// dispatch queues a workflow event. Queue failures are logged only; the
// lead change itself is already saved.
func (s *Service) dispatch(ctx context.Context, ev workflow.Event) {
	if s.events == nil {
		return
	}
	if err := s.events.Dispatch(ctx, ev); err != nil {
		zap.L().Warn("intake: workflow event not queued",
			zap.String("entity_id", ev.EntityID),
			zap.String("trigger", string(ev.Trigger)),
			zap.Error(err),
		)
	}
}
