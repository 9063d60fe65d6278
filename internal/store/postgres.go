package store

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/sells-group/crm-rules/internal/db"
	"github.com/sells-group/crm-rules/internal/model"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

const (
	pgGetEntity = `SELECT doc FROM entities WHERE entity_type = $1 AND id = $2`

	pgUpsertEntity = `INSERT INTO entities (entity_type, id, doc, assigned_to, is_deleted, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7)
ON CONFLICT (entity_type, id) DO UPDATE SET
	doc = EXCLUDED.doc,
	assigned_to = EXCLUDED.assigned_to,
	is_deleted = EXCLUDED.is_deleted,
	updated_at = EXCLUDED.updated_at`

	pgRecordExecution = `UPDATE workflows SET execution_count = execution_count + 1, last_executed = $1, updated_at = $1 WHERE id = $2`

	pgWorkflowColumns = `id, name, entity_type, trigger_type, definition, is_active, execution_count, last_executed, created_at, updated_at`
)

// preparedStatements lists queries to prepare on each new connection for
// faster execution of the most frequently used store operations.
var preparedStatements = map[string]string{
	"get_entity":       pgGetEntity,
	"upsert_entity":    pgUpsertEntity,
	"record_execution": pgRecordExecution,
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pgxCfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		for name, sql := range preparedStatements {
			if _, err := conn.Prepare(ctx, name, sql); err != nil {
				return eris.Wrapf(err, "postgres: prepare %s", name)
			}
		}
		return nil
	}

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

// Pool returns the underlying database pool.
func (s *PostgresStore) Pool() db.Pool {
	return s.pool
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS entities (
	entity_type TEXT NOT NULL,
	id          TEXT NOT NULL,
	doc         JSONB NOT NULL,
	assigned_to TEXT NOT NULL DEFAULT '',
	is_deleted  BOOLEAN NOT NULL DEFAULT false,
	created_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (entity_type, id)
);

CREATE TABLE IF NOT EXISTS tasks (
	id           TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	title        TEXT NOT NULL,
	description  TEXT NOT NULL DEFAULT '',
	priority     TEXT NOT NULL,
	status       TEXT NOT NULL,
	due_date     TIMESTAMPTZ NOT NULL,
	assigned_to  TEXT NOT NULL DEFAULT '',
	related_type TEXT NOT NULL,
	related_id   TEXT NOT NULL,
	workflow_id  TEXT NOT NULL DEFAULT '',
	created_at   TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS assignment_rules (
	id                TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	name              TEXT NOT NULL DEFAULT '',
	entity_type       TEXT NOT NULL DEFAULT '',
	priority          INTEGER NOT NULL DEFAULT 0,
	criteria_field    TEXT NOT NULL,
	criteria_operator TEXT NOT NULL,
	criteria_value    TEXT NOT NULL DEFAULT '',
	assigned_to       TEXT NOT NULL,
	is_active         BOOLEAN NOT NULL DEFAULT true,
	created_at        TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at        TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS workflows (
	id              TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	name            TEXT NOT NULL,
	entity_type     TEXT NOT NULL,
	trigger_type    TEXT NOT NULL,
	definition      JSONB NOT NULL,
	is_active       BOOLEAN NOT NULL DEFAULT true,
	execution_count BIGINT NOT NULL DEFAULT 0,
	last_executed   TIMESTAMPTZ,
	created_at      TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at      TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_entities_type_deleted ON entities(entity_type, is_deleted);
CREATE INDEX IF NOT EXISTS idx_tasks_related ON tasks(related_type, related_id);
CREATE INDEX IF NOT EXISTS idx_workflows_trigger ON workflows(entity_type, trigger_type) WHERE is_active;
`

func (s *PostgresStore) Ping(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, "SELECT 1")
	return eris.Wrap(err, "postgres: ping")
}

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

// --- Entities ---

func (s *PostgresStore) GetEntity(ctx context.Context, t model.EntityType, id string) (model.Entity, error) {
	var doc []byte
	err := s.pool.QueryRow(ctx, pgGetEntity, string(t), id).Scan(&doc)
	if isNoRows(err) {
		return nil, notFound(string(t), id)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get %s %s", t, id)
	}
	return model.DecodeEntity(t, doc)
}

func (s *PostgresStore) ListEntities(ctx context.Context, filter EntityFilter) ([]model.Entity, error) {
	query := `SELECT entity_type, doc FROM entities WHERE true`
	args := []any{}
	argIdx := 1

	if filter.Type != "" {
		query += fmt.Sprintf(` AND entity_type = $%d`, argIdx)
		args = append(args, string(filter.Type))
		argIdx++
	}
	if !filter.IncludeDeleted {
		query += ` AND NOT is_deleted`
	}
	query += ` ORDER BY created_at, id`
	if filter.Limit > 0 {
		query += fmt.Sprintf(` LIMIT $%d`, argIdx)
		args = append(args, filter.Limit)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list entities")
	}
	defer rows.Close()

	var out []model.Entity
	for rows.Next() {
		var et string
		var doc []byte
		if err := rows.Scan(&et, &doc); err != nil {
			return nil, eris.Wrap(err, "postgres: scan entity")
		}
		e, err := model.DecodeEntity(model.EntityType(et), doc)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list entities iterate")
}

func (s *PostgresStore) SaveEntity(ctx context.Context, e model.Entity) error {
	row, err := prepareEntity(e, time.Now().UTC(), uuid.NewString)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx, pgUpsertEntity,
		string(row.entityType), row.id, row.doc, row.assignedTo, row.isDeleted, row.createdAt, row.updatedAt,
	)
	return eris.Wrapf(err, "postgres: save %s %s", row.entityType, row.id)
}

// ImportEntities bulk-upserts entities through a COPY into a temp table.
func (s *PostgresStore) ImportEntities(ctx context.Context, entities []model.Entity) (int64, error) {
	now := time.Now().UTC()
	rows := make([][]any, 0, len(entities))
	for _, e := range entities {
		row, err := prepareEntity(e, now, uuid.NewString)
		if err != nil {
			return 0, err
		}
		rows = append(rows, []any{
			string(row.entityType), row.id, row.doc, row.assignedTo, row.isDeleted, row.createdAt, row.updatedAt,
		})
	}

	n, err := db.BulkUpsert(ctx, s.pool, db.UpsertConfig{
		Table:        "entities",
		Columns:      []string{"entity_type", "id", "doc", "assigned_to", "is_deleted", "created_at", "updated_at"},
		ConflictKeys: []string{"entity_type", "id"},
		UpdateCols:   []string{"doc", "assigned_to", "is_deleted", "updated_at"},
	}, rows)
	return n, eris.Wrap(err, "postgres: import entities")
}

func (s *PostgresStore) SoftDeleteEntity(ctx context.Context, t model.EntityType, id string) error {
	now := time.Now().UTC()
	tag, err := s.pool.Exec(ctx,
		`UPDATE entities SET
			is_deleted = true,
			updated_at = $1,
			doc = doc || jsonb_build_object('is_deleted', true, 'deleted_at', $2::text, 'updated_at', $2::text)
		 WHERE entity_type = $3 AND id = $4`,
		now, now.Format(time.RFC3339Nano), string(t), id,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: soft delete %s %s", t, id)
	}
	if tag.RowsAffected() == 0 {
		return notFound(string(t), id)
	}
	return nil
}

func (s *PostgresStore) DeleteEntity(ctx context.Context, t model.EntityType, id string) error {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM entities WHERE entity_type = $1 AND id = $2`,
		string(t), id,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: delete %s %s", t, id)
	}
	if tag.RowsAffected() == 0 {
		return notFound(string(t), id)
	}
	return nil
}

// --- Tasks ---

func (s *PostgresStore) CreateTask(ctx context.Context, task *model.Task) error {
	if task.ID == "" {
		task.ID = uuid.NewString()
	}
	if task.CreatedAt.IsZero() {
		task.CreatedAt = time.Now().UTC()
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO tasks (id, title, description, priority, status, due_date, assigned_to, related_type, related_id, workflow_id, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		task.ID, task.Title, task.Description, string(task.Priority), string(task.Status), task.DueDate,
		task.AssignedTo, string(task.RelatedType), task.RelatedID, task.WorkflowID, task.CreatedAt,
	)
	return eris.Wrapf(err, "postgres: insert task for %s %s", task.RelatedType, task.RelatedID)
}

func (s *PostgresStore) ListTasks(ctx context.Context, filter TaskFilter) ([]model.Task, error) {
	query := `SELECT id, title, description, priority, status, due_date, assigned_to, related_type, related_id, workflow_id, created_at
		FROM tasks WHERE true`
	args := []any{}
	argIdx := 1

	if filter.RelatedType != "" {
		query += fmt.Sprintf(` AND related_type = $%d`, argIdx)
		args = append(args, string(filter.RelatedType))
		argIdx++
	}
	if filter.RelatedID != "" {
		query += fmt.Sprintf(` AND related_id = $%d`, argIdx)
		args = append(args, filter.RelatedID)
		argIdx++
	}
	if filter.WorkflowID != "" {
		query += fmt.Sprintf(` AND workflow_id = $%d`, argIdx)
		args = append(args, filter.WorkflowID)
		argIdx++
	}
	query += ` ORDER BY created_at, id`
	if filter.Limit > 0 {
		query += fmt.Sprintf(` LIMIT $%d`, argIdx)
		args = append(args, filter.Limit)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list tasks")
	}
	defer rows.Close()

	var tasks []model.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, *t)
	}
	return tasks, eris.Wrap(rows.Err(), "postgres: list tasks iterate")
}

// --- Assignment rules ---

func (s *PostgresStore) ListAssignmentRules(ctx context.Context) ([]model.AssignmentRule, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, name, entity_type, priority, criteria_field, criteria_operator, criteria_value, assigned_to, is_active, created_at, updated_at
		 FROM assignment_rules ORDER BY priority, id`,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list assignment rules")
	}
	defer rows.Close()

	var rules []model.AssignmentRule
	for rows.Next() {
		r, err := scanRule(rows)
		if err != nil {
			return nil, err
		}
		rules = append(rules, *r)
	}
	return rules, eris.Wrap(rows.Err(), "postgres: list assignment rules iterate")
}

func (s *PostgresStore) SaveAssignmentRule(ctx context.Context, r *model.AssignmentRule) error {
	now := time.Now().UTC()
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = now
	}
	r.UpdatedAt = now

	_, err := s.pool.Exec(ctx,
		`INSERT INTO assignment_rules (id, name, entity_type, priority, criteria_field, criteria_operator, criteria_value, assigned_to, is_active, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		 ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			entity_type = EXCLUDED.entity_type,
			priority = EXCLUDED.priority,
			criteria_field = EXCLUDED.criteria_field,
			criteria_operator = EXCLUDED.criteria_operator,
			criteria_value = EXCLUDED.criteria_value,
			assigned_to = EXCLUDED.assigned_to,
			is_active = EXCLUDED.is_active,
			updated_at = EXCLUDED.updated_at`,
		r.ID, r.Name, string(r.EntityType), r.Priority, r.CriteriaField, string(r.CriteriaOperator),
		r.CriteriaValue, r.AssignedTo, r.IsActive, r.CreatedAt, r.UpdatedAt,
	)
	return eris.Wrapf(err, "postgres: save assignment rule %s", r.ID)
}

// --- Workflows ---

func (s *PostgresStore) ListWorkflows(ctx context.Context, filter WorkflowFilter) ([]model.Workflow, error) {
	query := `SELECT ` + pgWorkflowColumns + ` FROM workflows WHERE true`
	args := []any{}
	argIdx := 1

	if filter.EntityType != "" {
		query += fmt.Sprintf(` AND entity_type = $%d`, argIdx)
		args = append(args, string(filter.EntityType))
		argIdx++
	}
	if filter.TriggerType != "" {
		query += fmt.Sprintf(` AND trigger_type = $%d`, argIdx)
		args = append(args, string(filter.TriggerType))
	}
	if filter.ActiveOnly {
		query += ` AND is_active`
	}
	query += ` ORDER BY created_at, id`

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list workflows")
	}
	defer rows.Close()

	var wfs []model.Workflow
	for rows.Next() {
		wf, err := scanWorkflow(rows)
		if err != nil {
			return nil, err
		}
		wfs = append(wfs, *wf)
	}
	return wfs, eris.Wrap(rows.Err(), "postgres: list workflows iterate")
}

func (s *PostgresStore) GetWorkflow(ctx context.Context, id string) (*model.Workflow, error) {
	wf, err := scanWorkflow(s.pool.QueryRow(ctx,
		`SELECT `+pgWorkflowColumns+` FROM workflows WHERE id = $1`, id,
	))
	if isNoRows(err) {
		return nil, notFound("workflow", id)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get workflow %s", id)
	}
	return wf, nil
}

// SaveWorkflow upserts a workflow definition. Execution counters are only
// changed by RecordWorkflowExecution.
func (s *PostgresStore) SaveWorkflow(ctx context.Context, wf *model.Workflow) error {
	now := time.Now().UTC()
	if wf.ID == "" {
		wf.ID = uuid.NewString()
	}
	if wf.CreatedAt.IsZero() {
		wf.CreatedAt = now
	}
	wf.UpdatedAt = now

	doc, err := encodeWorkflowDoc(wf)
	if err != nil {
		return err
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO workflows (id, name, entity_type, trigger_type, definition, is_active, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		 ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			entity_type = EXCLUDED.entity_type,
			trigger_type = EXCLUDED.trigger_type,
			definition = EXCLUDED.definition,
			is_active = EXCLUDED.is_active,
			updated_at = EXCLUDED.updated_at`,
		wf.ID, wf.Name, string(wf.EntityType), string(wf.TriggerType), doc, wf.IsActive, wf.CreatedAt, wf.UpdatedAt,
	)
	return eris.Wrapf(err, "postgres: save workflow %s", wf.ID)
}

// RecordWorkflowExecution increments the execution counter in a single
// statement so concurrent runs never lose an increment.
func (s *PostgresStore) RecordWorkflowExecution(ctx context.Context, id string, at time.Time) error {
	tag, err := s.pool.Exec(ctx, pgRecordExecution, at.UTC(), id)
	if err != nil {
		return eris.Wrapf(err, "postgres: record execution of workflow %s", id)
	}
	if tag.RowsAffected() == 0 {
		return notFound("workflow", id)
	}
	return nil
}
