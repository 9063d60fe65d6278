package main

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/sells-group/crm-rules/internal/assignment"
	"github.com/sells-group/crm-rules/internal/config"
	"github.com/sells-group/crm-rules/internal/dedupe"
	"github.com/sells-group/crm-rules/internal/intake"
	"github.com/sells-group/crm-rules/internal/merge"
	"github.com/sells-group/crm-rules/internal/model"
	"github.com/sells-group/crm-rules/internal/scoring"
	"github.com/sells-group/crm-rules/internal/store"
	"github.com/sells-group/crm-rules/internal/workflow"
)

// api holds the collaborators behind the HTTP handlers.
type api struct {
	store  store.Store
	engine *workflow.Engine
	intake *intake.Service
	scorer *scoring.Scorer
	merger *merge.Resolver
	dedupe config.DedupeConfig
}

func newAPI(env *crmEnv) *api {
	return &api{
		store:  env.Store,
		engine: env.Engine,
		intake: env.Intake,
		scorer: scoring.NewScorer(cfg.Scoring),
		merger: merge.NewResolver(env.Store),
		dedupe: cfg.Dedupe,
	}
}

// buildRouter mounts health, metrics, and the /api routes.
func buildRouter(a *api, allowedOrigins []string) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: allowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodPatch, http.MethodOptions},
		AllowedHeaders: []string{"Content-Type", "Authorization"},
		MaxAge:         300,
	}))

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Post("/leads", a.createLead)
		r.Patch("/leads/{id}", a.updateLead)
		r.Post("/leads/{id}/convert", a.convertLead)
		r.Get("/leads/{id}/score", a.scoreLead)

		r.Get("/{type}/{id}/assignment", a.explainAssignment)
		r.Get("/{type}/duplicates", a.findDuplicates)
		r.Post("/merge", a.mergeRecords)

		r.Get("/workflows", a.listWorkflows)
		r.Post("/workflows/run", a.runWorkflows)
		r.Get("/tasks", a.listTasks)
	})
	return r
}

func (a *api) createLead(w http.ResponseWriter, r *http.Request) {
	var lead model.Lead
	if !decodeBody(w, r, &lead) {
		return
	}
	created, err := a.intake.CreateLead(r.Context(), &lead)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

func (a *api) updateLead(w http.ResponseWriter, r *http.Request) {
	var changes map[string]any
	if !decodeBody(w, r, &changes) {
		return
	}
	lead, changed, err := a.intake.UpdateLead(r.Context(), chi.URLParam(r, "id"), changes)
	if err != nil {
		writeError(w, err)
		return
	}
	if changed == nil {
		changed = []string{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"lead": lead, "changed": changed})
}

func (a *api) convertLead(w http.ResponseWriter, r *http.Request) {
	var opts intake.ConvertOptions
	if r.ContentLength != 0 && !decodeBody(w, r, &opts) {
		return
	}
	res, err := a.intake.ConvertLead(r.Context(), chi.URLParam(r, "id"), opts)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (a *api) scoreLead(w http.ResponseWriter, r *http.Request) {
	e, err := a.store.GetEntity(r.Context(), model.EntityLead, chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, a.scorer.Breakdown(e.(*model.Lead).Scorable()))
}

func (a *api) explainAssignment(w http.ResponseWriter, r *http.Request) {
	et, err := model.ParseEntityType(chi.URLParam(r, "type"))
	if err != nil {
		writeError(w, err)
		return
	}
	e, err := a.store.GetEntity(r.Context(), et, chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	rules, err := a.store.ListAssignmentRules(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	rule, ok := assignment.Explain(e, assignment.ForEntity(rules, et))
	if !ok {
		writeJSON(w, http.StatusOK, map[string]any{"matched": false})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"matched": true, "assigned_to": rule.AssignedTo, "rule": rule})
}

func (a *api) findDuplicates(w http.ResponseWriter, r *http.Request) {
	et, err := model.ParseEntityType(chi.URLParam(r, "type"))
	if err != nil {
		writeError(w, err)
		return
	}
	threshold := a.dedupe.Threshold
	if s := r.URL.Query().Get("threshold"); s != "" {
		if threshold, err = strconv.Atoi(s); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "threshold must be an integer"})
			return
		}
	}
	records, err := a.store.ListEntities(r.Context(), store.EntityFilter{Type: et, Limit: a.dedupe.MaxRecords})
	if err != nil {
		writeError(w, err)
		return
	}
	candidates := (&dedupe.Detector{Workers: a.dedupe.Workers}).Find(records, threshold)
	if r.URL.Query().Get("groups") == "true" {
		writeJSON(w, http.StatusOK, dedupe.GroupCandidates(candidates))
		return
	}
	if candidates == nil {
		candidates = []model.DuplicateCandidate{}
	}
	writeJSON(w, http.StatusOK, candidates)
}

func (a *api) mergeRecords(w http.ResponseWriter, r *http.Request) {
	var req model.MergeRequest
	if !decodeBody(w, r, &req) {
		return
	}
	res, err := a.merger.Merge(r.Context(), req)
	if err != nil && res == nil {
		writeError(w, err)
		return
	}
	writePartial(w, res, err)
}

func (a *api) listWorkflows(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := store.WorkflowFilter{ActiveOnly: q.Get("active") == "true"}
	if s := q.Get("entity_type"); s != "" {
		et, err := model.ParseEntityType(s)
		if err != nil {
			writeError(w, err)
			return
		}
		filter.EntityType = et
	}
	if s := q.Get("trigger_type"); s != "" {
		tt, err := model.ParseTriggerType(s)
		if err != nil {
			writeError(w, err)
			return
		}
		filter.TriggerType = tt
	}
	wfs, err := a.store.ListWorkflows(r.Context(), filter)
	if err != nil {
		writeError(w, err)
		return
	}
	if wfs == nil {
		wfs = []model.Workflow{}
	}
	writeJSON(w, http.StatusOK, wfs)
}

type runRequest struct {
	EntityType model.EntityType  `json:"entity_type"`
	EntityID   string            `json:"entity_id"`
	Trigger    model.TriggerType `json:"trigger"`
	Changes    []string          `json:"changes,omitempty"`
}

func (a *api) runWorkflows(w http.ResponseWriter, r *http.Request) {
	var req runRequest
	if !decodeBody(w, r, &req) {
		return
	}
	et, err := model.ParseEntityType(string(req.EntityType))
	if err != nil {
		writeError(w, err)
		return
	}
	tt, err := model.ParseTriggerType(string(req.Trigger))
	if err != nil {
		writeError(w, err)
		return
	}
	summary, err := a.engine.RunWorkflows(r.Context(), et, req.EntityID, tt, req.Changes)
	if err != nil && summary == nil {
		writeError(w, err)
		return
	}
	writePartial(w, summary, err)
}

func (a *api) listTasks(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := store.TaskFilter{
		RelatedID:  q.Get("related_id"),
		WorkflowID: q.Get("workflow_id"),
	}
	if s := q.Get("related_type"); s != "" {
		et, err := model.ParseEntityType(s)
		if err != nil {
			writeError(w, err)
			return
		}
		filter.RelatedType = et
	}
	if s := q.Get("limit"); s != "" {
		filter.Limit, _ = strconv.Atoi(s)
	}
	tasks, err := a.store.ListTasks(r.Context(), filter)
	if err != nil {
		writeError(w, err)
		return
	}
	if tasks == nil {
		tasks = []model.Task{}
	}
	writeJSON(w, http.StatusOK, tasks)
}

// writePartial writes v with 200, or with 207 and the failure messages when
// err is a partial failure.
func writePartial(w http.ResponseWriter, v any, err error) {
	if err == nil {
		writeJSON(w, http.StatusOK, v)
		return
	}
	var pf *model.PartialFailure
	if !errors.As(err, &pf) {
		writeError(w, err)
		return
	}
	msgs := make([]string, len(pf.Failures))
	for i, f := range pf.Failures {
		msgs[i] = f.Error()
	}
	writeJSON(w, http.StatusMultiStatus, map[string]any{"result": v, "failures": msgs})
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return false
	}
	return true
}

// writeError maps error kinds to status codes.
func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, model.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, model.ErrInvalidInput):
		status = http.StatusBadRequest
	default:
		zap.L().Error("api: request failed", zap.Error(err))
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
