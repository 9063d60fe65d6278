package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/crm-rules/internal/config"
	"github.com/sells-group/crm-rules/internal/model"
	"github.com/sells-group/crm-rules/internal/notify"
	"github.com/sells-group/crm-rules/internal/store"
)

func testConfig() *config.Config {
	return &config.Config{
		Store:    config.StoreConfig{Driver: "sqlite"},
		Log:      config.LogConfig{Level: "info", Format: "json"},
		Server:   config.ServerConfig{AllowedOrigins: []string{"*"}},
		Scoring:  config.DefaultScoringConfig(),
		Dedupe:   config.DedupeConfig{Threshold: 80, Workers: 2, MaxRecords: 100},
		Workflow: config.WorkflowConfig{Workers: 2, QueueSize: 16, DefaultTaskDueDays: 7},
		Notify:   config.NotifyConfig{Driver: "log"},
	}
}

// newTestRouter builds the API over a temp SQLite store. It sets the package
// config, so tests using it do not run in parallel.
func newTestRouter(t *testing.T) (http.Handler, store.Store) {
	t.Helper()
	cfg = testConfig()

	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "api.db"))
	require.NoError(t, err)
	require.NoError(t, st.Migrate(context.Background()))

	env := newEnv(context.Background(), st, notify.LogNotifier{})
	t.Cleanup(env.Close)
	return buildRouter(newAPI(env), cfg.Server.AllowedOrigins), st
}

func do(t *testing.T, h http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func decode[T any](t *testing.T, rr *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &v), rr.Body.String())
	return v
}

func TestAPI_Health(t *testing.T) {
	h, _ := newTestRouter(t)
	rr := do(t, h, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Header().Get("Content-Type"), "application/json")
	assert.Equal(t, "ok", decode[map[string]string](t, rr)["status"])
}

func TestAPI_Metrics(t *testing.T) {
	h, _ := newTestRouter(t)
	rr := do(t, h, http.MethodGet, "/metrics", nil)
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), "crm_workflow_dispatch_queue_depth")
}

func TestAPI_LeadLifecycle(t *testing.T) {
	h, _ := newTestRouter(t)

	rr := do(t, h, http.MethodPost, "/api/leads", map[string]any{
		"last_name": "Doe",
		"company":   "Acme",
		"source":    "Referral",
		"email":     "doe@acme.com",
	})
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	lead := decode[model.Lead](t, rr)
	require.NotEmpty(t, lead.ID)
	assert.Equal(t, 25, lead.Score)
	assert.Equal(t, model.LeadNew, lead.Status)

	rr = do(t, h, http.MethodGet, "/api/leads/"+lead.ID+"/score", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	bd := decode[map[string]int](t, rr)
	assert.Equal(t, 20, bd["source"])
	assert.Equal(t, 25, bd["total"])

	rr = do(t, h, http.MethodPatch, "/api/leads/"+lead.ID, map[string]any{"status": "Qualified"})
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	upd := decode[struct {
		Lead    model.Lead `json:"lead"`
		Changed []string   `json:"changed"`
	}](t, rr)
	assert.Equal(t, []string{"status"}, upd.Changed)
	assert.Equal(t, model.LeadQualified, upd.Lead.Status)

	rr = do(t, h, http.MethodPost, "/api/leads/"+lead.ID+"/convert", map[string]any{"create_opportunity": true, "amount": 1000})
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	conv := decode[map[string]map[string]any](t, rr)
	assert.Equal(t, "Acme", conv["account"]["name"])
	assert.Equal(t, "Acme - New Business", conv["opportunity"]["name"])

	rr = do(t, h, http.MethodPost, "/api/leads/"+lead.ID+"/convert", nil)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestAPI_LeadErrors(t *testing.T) {
	h, _ := newTestRouter(t)

	rr := do(t, h, http.MethodPost, "/api/leads", map[string]any{"first_name": "Jane"})
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	req := httptest.NewRequest(http.MethodPost, "/api/leads", bytes.NewBufferString("{not json"))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "invalid request body", decode[map[string]string](t, rec)["error"])

	rr = do(t, h, http.MethodPatch, "/api/leads/ghost", map[string]any{"phone": "1"})
	assert.Equal(t, http.StatusNotFound, rr.Code)

	rr = do(t, h, http.MethodGet, "/api/leads/ghost/score", nil)
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestAPI_Assignment(t *testing.T) {
	h, st := newTestRouter(t)
	ctx := context.Background()

	rule := model.AssignmentRule{ID: "r1", CriteriaField: "source", CriteriaOperator: model.OpEquals, CriteriaValue: "Referral", AssignedTo: "A", IsActive: true}
	require.NoError(t, st.SaveAssignmentRule(ctx, &rule))
	lead := &model.Lead{LastName: "Doe", Source: model.SourceReferral}
	require.NoError(t, st.SaveEntity(ctx, lead))

	rr := do(t, h, http.MethodGet, "/api/Lead/"+lead.ID+"/assignment", nil)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	got := decode[map[string]any](t, rr)
	assert.Equal(t, true, got["matched"])
	assert.Equal(t, "A", got["assigned_to"])

	rr = do(t, h, http.MethodGet, "/api/widget/x/assignment", nil)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestAPI_DuplicatesAndMerge(t *testing.T) {
	h, st := newTestRouter(t)
	ctx := context.Background()

	for _, a := range []*model.Account{
		{Meta: model.Meta{ID: "a1"}, Name: "Acme Corp", Email: "a@x.com"},
		{Meta: model.Meta{ID: "a2"}, Name: "Acme Corp.", Email: "a@x.com", Phone: "555-0100"},
		{Meta: model.Meta{ID: "a3"}, Name: "Globex", Email: "g@globex.com"},
	} {
		require.NoError(t, st.SaveEntity(ctx, a))
	}

	rr := do(t, h, http.MethodGet, "/api/account/duplicates?threshold=70", nil)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	pairs := decode[[]map[string]any](t, rr)
	require.Len(t, pairs, 1)
	assert.Equal(t, "Account", pairs[0]["entity_type"])

	rr = do(t, h, http.MethodGet, "/api/account/duplicates?threshold=70&groups=true", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	groups := decode[[]map[string]any](t, rr)
	require.Len(t, groups, 1)
	assert.Equal(t, []any{"a1", "a2"}, groups[0]["ids"])

	rr = do(t, h, http.MethodGet, "/api/account/duplicates?threshold=abc", nil)
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rr = do(t, h, http.MethodPost, "/api/merge", model.MergeRequest{
		PrimaryID:       "a1",
		DuplicateIDs:    []string{"a2"},
		EntityType:      model.EntityAccount,
		FieldSelections: map[string]string{"phone": "a2"},
	})
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	res := decode[map[string]any](t, rr)
	assert.InDelta(t, 1, res["duplicates_processed"], 0)

	merged, err := st.GetEntity(ctx, model.EntityAccount, "a1")
	require.NoError(t, err)
	assert.Equal(t, "555-0100", merged.(*model.Account).Phone)

	rr = do(t, h, http.MethodPost, "/api/merge", model.MergeRequest{PrimaryID: "nope", EntityType: model.EntityAccount})
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestAPI_Workflows(t *testing.T) {
	h, st := newTestRouter(t)
	ctx := context.Background()

	wf := model.Workflow{
		Name:        "follow up",
		EntityType:  model.EntityLead,
		TriggerType: model.TriggerOnCreate,
		IsActive:    true,
		Actions:     []model.ActionSpec{{Type: model.ActionCreateTask}},
	}
	require.NoError(t, st.SaveWorkflow(ctx, &wf))
	lead := &model.Lead{FirstName: "Jane", LastName: "Doe"}
	require.NoError(t, st.SaveEntity(ctx, lead))

	rr := do(t, h, http.MethodGet, "/api/workflows?entity_type=Lead&active=true", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Len(t, decode[[]model.Workflow](t, rr), 1)

	rr = do(t, h, http.MethodPost, "/api/workflows/run", map[string]any{
		"entity_type": "Lead",
		"entity_id":   lead.ID,
		"trigger":     "onCreate",
	})
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	summary := decode[struct {
		Results []struct {
			Outcome string `json:"outcome"`
			Actions int    `json:"actions"`
		} `json:"results"`
	}](t, rr)
	require.Len(t, summary.Results, 1)
	assert.Equal(t, "done", summary.Results[0].Outcome)
	assert.Equal(t, 1, summary.Results[0].Actions)

	rr = do(t, h, http.MethodGet, "/api/tasks?related_id="+lead.ID, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	tasks := decode[[]model.Task](t, rr)
	require.Len(t, tasks, 1)
	assert.Equal(t, "Follow up: Jane Doe", tasks[0].Title)

	rr = do(t, h, http.MethodPost, "/api/workflows/run", map[string]any{
		"entity_type": "Lead", "entity_id": "ghost", "trigger": "onCreate",
	})
	assert.Equal(t, http.StatusNotFound, rr.Code)

	rr = do(t, h, http.MethodPost, "/api/workflows/run", map[string]any{
		"entity_type": "Lead", "entity_id": lead.ID, "trigger": "onLunch",
	})
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestAPI_WorkflowPartialFailure(t *testing.T) {
	h, st := newTestRouter(t)
	ctx := context.Background()

	bad := model.Workflow{
		Name:        "bad",
		EntityType:  model.EntityLead,
		TriggerType: model.TriggerOnUpdate,
		IsActive:    true,
		Actions: []model.ActionSpec{{
			Type:   model.ActionCreateTask,
			Config: map[string]any{"title": 42},
		}},
	}
	require.NoError(t, st.SaveWorkflow(ctx, &bad))
	lead := &model.Lead{LastName: "Doe"}
	require.NoError(t, st.SaveEntity(ctx, lead))

	rr := do(t, h, http.MethodPost, "/api/workflows/run", map[string]any{
		"entity_type": "Lead", "entity_id": lead.ID, "trigger": "onUpdate",
	})
	require.Equal(t, http.StatusMultiStatus, rr.Code, rr.Body.String())
	body := decode[map[string]any](t, rr)
	assert.Len(t, body["failures"], 1)
}
