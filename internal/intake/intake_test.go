package intake

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/crm-rules/internal/audit"
	"github.com/sells-group/crm-rules/internal/config"
	"github.com/sells-group/crm-rules/internal/model"
	"github.com/sells-group/crm-rules/internal/notify"
	"github.com/sells-group/crm-rules/internal/store"
	"github.com/sells-group/crm-rules/internal/workflow"
)

type recordingDispatcher struct {
	mu     sync.Mutex
	events []workflow.Event
	err    error
}

func (r *recordingDispatcher) Dispatch(_ context.Context, ev workflow.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	return r.err
}

func (r *recordingDispatcher) triggers() []model.TriggerType {
	var out []model.TriggerType
	for _, ev := range r.events {
		out = append(out, ev.Trigger)
	}
	return out
}

type recordingAudit struct {
	events []audit.Event
}

func (r *recordingAudit) Record(_ context.Context, ev audit.Event) error {
	r.events = append(r.events, ev)
	return nil
}

func newTestStore(t *testing.T) store.Store {
	t.Helper()
	s, err := store.NewSQLite(filepath.Join(t.TempDir(), "intake.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() }) //nolint:errcheck
	require.NoError(t, s.Migrate(context.Background()))
	return s
}

func newTestService(t *testing.T) (*Service, store.Store, *recordingDispatcher, *recordingAudit) {
	t.Helper()
	s := newTestStore(t)
	d := &recordingDispatcher{}
	a := &recordingAudit{}
	svc := NewService(s, d, WithAudit(a), WithClock(func() time.Time {
		return time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)
	}))
	return svc, s, d, a
}

func TestCreateLead_ScoresRoutesAndDispatches(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	svc, s, d, a := newTestService(t)

	for _, r := range []model.AssignmentRule{
		{ID: "r1", Priority: 1, CriteriaField: "source", CriteriaOperator: model.OpEquals, CriteriaValue: "Referral", AssignedTo: "A", IsActive: true},
		{ID: "r2", Priority: 2, CriteriaField: "source", CriteriaOperator: model.OpContains, CriteriaValue: "ref", AssignedTo: "B", IsActive: true},
	} {
		require.NoError(t, s.SaveAssignmentRule(ctx, &r))
	}

	lead, err := svc.CreateLead(ctx, &model.Lead{
		FirstName:     "Jane",
		LastName:      "Doe",
		Title:         "VP of Sales",
		AnnualRevenue: 2_000_000,
		Source:        model.SourceReferral,
		Email:         "x@y.com",
	})
	require.NoError(t, err)
	assert.NotEmpty(t, lead.ID)
	assert.Equal(t, 65, lead.Score)
	assert.Equal(t, "A", lead.AssignedTo)
	assert.Equal(t, model.LeadNew, lead.Status)

	stored, err := s.GetEntity(ctx, model.EntityLead, lead.ID)
	require.NoError(t, err)
	assert.Equal(t, 65, stored.(*model.Lead).Score)

	require.Len(t, d.events, 1)
	assert.Equal(t, workflow.Event{EntityType: model.EntityLead, EntityID: lead.ID, Trigger: model.TriggerOnCreate}, d.events[0])

	require.Len(t, a.events, 1)
	assert.Equal(t, audit.ActionLeadCreated, a.events[0].Action)
	assert.Equal(t, 65, a.events[0].Details["score"])
}

func TestCreateLead_KeepsExplicitOwner(t *testing.T) {
	t.Parallel()
	svc, s, _, _ := newTestService(t)
	r := model.AssignmentRule{ID: "r1", CriteriaField: "source", CriteriaOperator: model.OpEquals, CriteriaValue: "Referral", AssignedTo: "A", IsActive: true}
	require.NoError(t, s.SaveAssignmentRule(context.Background(), &r))

	lead, err := svc.CreateLead(context.Background(), &model.Lead{LastName: "Doe", Source: model.SourceReferral, Meta: model.Meta{AssignedTo: "me"}})
	require.NoError(t, err)
	assert.Equal(t, "me", lead.AssignedTo)
}

func TestCreateLead_RequiresNameOrCompany(t *testing.T) {
	t.Parallel()
	svc, _, d, _ := newTestService(t)
	_, err := svc.CreateLead(context.Background(), &model.Lead{FirstName: "Jane", Email: "jane@x.com"})
	require.ErrorIs(t, err, model.ErrInvalidInput)
	assert.Empty(t, d.events)
}

func TestCreateLead_DispatchFailureNotFatal(t *testing.T) {
	t.Parallel()
	svc, _, d, _ := newTestService(t)
	d.err = errors.New("queue full")
	lead, err := svc.CreateLead(context.Background(), &model.Lead{Company: "Acme"})
	require.NoError(t, err)
	assert.NotEmpty(t, lead.ID)
}

func TestUpdateLead(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	svc, _, d, a := newTestService(t)

	lead, err := svc.CreateLead(ctx, &model.Lead{LastName: "Doe", Company: "Acme", Source: model.SourceWebsite})
	require.NoError(t, err)
	assert.Equal(t, 10, lead.Score)
	d.events = nil

	updated, changed, err := svc.UpdateLead(ctx, lead.ID, map[string]any{
		"status":  "Qualified",
		"email":   "doe@acme.com",
		"company": "Acme",
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"email", "status", "score"}, changed)
	assert.Equal(t, model.LeadQualified, updated.Status)
	assert.Equal(t, 15, updated.Score)

	assert.Equal(t, []model.TriggerType{
		model.TriggerOnUpdate, model.TriggerOnFieldChange, model.TriggerOnStatusChange,
	}, d.triggers())
	assert.Equal(t, changed, d.events[0].Changes)
	assert.Equal(t, audit.ActionLeadUpdated, a.events[len(a.events)-1].Action)
}

func TestUpdateLead_NoChanges(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	svc, _, d, _ := newTestService(t)
	lead, err := svc.CreateLead(ctx, &model.Lead{LastName: "Doe", Phone: "555"})
	require.NoError(t, err)
	d.events = nil

	_, changed, err := svc.UpdateLead(ctx, lead.ID, map[string]any{"phone": "555"})
	require.NoError(t, err)
	assert.Empty(t, changed)
	assert.Empty(t, d.events)
}

func TestUpdateLead_Errors(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	svc, s, _, _ := newTestService(t)

	_, _, err := svc.UpdateLead(ctx, "ghost", map[string]any{"phone": "1"})
	require.ErrorIs(t, err, model.ErrNotFound)

	lead, err := svc.CreateLead(ctx, &model.Lead{LastName: "Doe"})
	require.NoError(t, err)
	_, _, err = svc.UpdateLead(ctx, lead.ID, map[string]any{"shoe_size": 9})
	require.ErrorIs(t, err, model.ErrInvalidInput)

	require.NoError(t, s.SoftDeleteEntity(ctx, model.EntityLead, lead.ID))
	_, _, err = svc.UpdateLead(ctx, lead.ID, map[string]any{"phone": "1"})
	require.ErrorIs(t, err, model.ErrNotFound)
}

func TestConvertLead(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	svc, s, d, a := newTestService(t)

	lead, err := svc.CreateLead(ctx, &model.Lead{
		FirstName: "Jane", LastName: "Doe", Company: "Acme", Email: "jane@acme.com",
		City: "Austin", State: "TX", AnnualRevenue: 750_000, Source: model.SourceEvent,
		Meta: model.Meta{AssignedTo: "rep-1"},
	})
	require.NoError(t, err)
	d.events = nil

	res, err := svc.ConvertLead(ctx, lead.ID, ConvertOptions{CreateOpportunity: true, Amount: 50_000})
	require.NoError(t, err)

	assert.Equal(t, "Acme", res.Account.Name)
	assert.Equal(t, "Austin", res.Account.BillingCity)
	assert.Equal(t, "rep-1", res.Account.AssignedTo)
	require.NotNil(t, res.Opportunity)
	assert.Equal(t, "Acme - New Business", res.Opportunity.Name)
	assert.Equal(t, res.Account.ID, res.Opportunity.AccountID)
	assert.Equal(t, model.StageProspecting, res.Opportunity.Stage)
	assert.Equal(t, model.SourceEvent, res.Opportunity.LeadSource)

	stored, err := s.GetEntity(ctx, model.EntityLead, lead.ID)
	require.NoError(t, err)
	assert.Equal(t, model.LeadConverted, stored.(*model.Lead).Status)
	assert.Equal(t, res.Account.ID, stored.(*model.Lead).ConvertedAccountID)

	_, err = s.GetEntity(ctx, model.EntityAccount, res.Account.ID)
	require.NoError(t, err)

	assert.Equal(t, []model.TriggerType{
		model.TriggerOnStatusChange, model.TriggerOnCreate, model.TriggerOnCreate,
	}, d.triggers())
	assert.Equal(t, model.EntityOpportunity, d.events[2].EntityType)
	assert.Equal(t, audit.ActionLeadConverted, a.events[len(a.events)-1].Action)

	_, err = svc.ConvertLead(ctx, lead.ID, ConvertOptions{})
	require.ErrorIs(t, err, model.ErrInvalidInput)
}

func TestConvertLead_AccountNameFallsBackToPerson(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	svc, _, _, _ := newTestService(t)
	lead, err := svc.CreateLead(ctx, &model.Lead{FirstName: "Jane", LastName: "Doe"})
	require.NoError(t, err)

	res, err := svc.ConvertLead(ctx, lead.ID, ConvertOptions{})
	require.NoError(t, err)
	assert.Equal(t, "Jane Doe", res.Account.Name)
	assert.Nil(t, res.Opportunity)
}

// End to end: a real dispatcher and engine run the onCreate workflow.
func TestCreateLead_RunsWorkflows(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := newTestStore(t)
	wf := model.Workflow{
		Name:        "follow up",
		EntityType:  model.EntityLead,
		TriggerType: model.TriggerOnCreate,
		IsActive:    true,
		Actions:     []model.ActionSpec{{Type: model.ActionCreateTask}},
	}
	require.NoError(t, s.SaveWorkflow(ctx, &wf))

	engine := workflow.NewEngine(s, workflow.WithNotifier(notify.LogNotifier{}))
	d := workflow.NewDispatcher(ctx, engine, 2, 4)
	svc := NewService(s, d, WithScoring(config.DefaultScoringConfig()))

	lead, err := svc.CreateLead(ctx, &model.Lead{FirstName: "Jane", LastName: "Doe"})
	require.NoError(t, err)
	require.NoError(t, d.Close())

	tasks, err := s.ListTasks(ctx, store.TaskFilter{RelatedID: lead.ID})
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	assert.Equal(t, "Follow up: Jane Doe", tasks[0].Title)

	got, err := s.GetWorkflow(ctx, wf.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), got.ExecutionCount)
}
