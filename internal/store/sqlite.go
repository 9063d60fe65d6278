package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/crm-rules/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close() //nolint:errcheck
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	// Pragmas are per-connection and SQLite has a single writer.
	db.SetMaxOpenConns(1)
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS entities (
	entity_type TEXT NOT NULL,
	id          TEXT NOT NULL,
	doc         TEXT NOT NULL,
	assigned_to TEXT NOT NULL DEFAULT '',
	is_deleted  INTEGER NOT NULL DEFAULT 0,
	created_at  DATETIME NOT NULL,
	updated_at  DATETIME NOT NULL,
	PRIMARY KEY (entity_type, id)
);

CREATE TABLE IF NOT EXISTS tasks (
	id           TEXT PRIMARY KEY,
	title        TEXT NOT NULL,
	description  TEXT NOT NULL DEFAULT '',
	priority     TEXT NOT NULL,
	status       TEXT NOT NULL,
	due_date     DATETIME NOT NULL,
	assigned_to  TEXT NOT NULL DEFAULT '',
	related_type TEXT NOT NULL,
	related_id   TEXT NOT NULL,
	workflow_id  TEXT NOT NULL DEFAULT '',
	created_at   DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS assignment_rules (
	id                TEXT PRIMARY KEY,
	name              TEXT NOT NULL DEFAULT '',
	entity_type       TEXT NOT NULL DEFAULT '',
	priority          INTEGER NOT NULL DEFAULT 0,
	criteria_field    TEXT NOT NULL,
	criteria_operator TEXT NOT NULL,
	criteria_value    TEXT NOT NULL DEFAULT '',
	assigned_to       TEXT NOT NULL,
	is_active         INTEGER NOT NULL DEFAULT 1,
	created_at        DATETIME NOT NULL,
	updated_at        DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS workflows (
	id              TEXT PRIMARY KEY,
	name            TEXT NOT NULL,
	entity_type     TEXT NOT NULL,
	trigger_type    TEXT NOT NULL,
	definition      TEXT NOT NULL,
	is_active       INTEGER NOT NULL DEFAULT 1,
	execution_count INTEGER NOT NULL DEFAULT 0,
	last_executed   DATETIME,
	created_at      DATETIME NOT NULL,
	updated_at      DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_entities_type_deleted ON entities(entity_type, is_deleted);
CREATE INDEX IF NOT EXISTS idx_tasks_related ON tasks(related_type, related_id);
CREATE INDEX IF NOT EXISTS idx_workflows_trigger ON workflows(entity_type, trigger_type, is_active);
`

const sqliteUpsertEntity = `INSERT INTO entities (entity_type, id, doc, assigned_to, is_deleted, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?)
ON CONFLICT (entity_type, id) DO UPDATE SET
	doc = excluded.doc,
	assigned_to = excluded.assigned_to,
	is_deleted = excluded.is_deleted,
	updated_at = excluded.updated_at`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// --- Entities ---

func (s *SQLiteStore) GetEntity(ctx context.Context, t model.EntityType, id string) (model.Entity, error) {
	var doc string
	err := s.db.QueryRowContext(ctx,
		`SELECT doc FROM entities WHERE entity_type = ? AND id = ?`,
		string(t), id,
	).Scan(&doc)
	if isNoRows(err) {
		return nil, notFound(string(t), id)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get %s %s", t, id)
	}
	return model.DecodeEntity(t, []byte(doc))
}

func (s *SQLiteStore) ListEntities(ctx context.Context, filter EntityFilter) ([]model.Entity, error) {
	query := `SELECT entity_type, doc FROM entities WHERE 1=1`
	var args []any

	if filter.Type != "" {
		query += ` AND entity_type = ?`
		args = append(args, string(filter.Type))
	}
	if !filter.IncludeDeleted {
		query += ` AND is_deleted = 0`
	}
	query += ` ORDER BY created_at, id`
	if filter.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list entities")
	}
	defer rows.Close() //nolint:errcheck

	var out []model.Entity
	for rows.Next() {
		var et, doc string
		if err := rows.Scan(&et, &doc); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan entity")
		}
		e, err := model.DecodeEntity(model.EntityType(et), []byte(doc))
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list entities iterate")
}

func (s *SQLiteStore) SaveEntity(ctx context.Context, e model.Entity) error {
	row, err := prepareEntity(e, time.Now().UTC(), uuid.NewString)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, sqliteUpsertEntity, row.args()...)
	return eris.Wrapf(err, "sqlite: save %s %s", row.entityType, row.id)
}

// ImportEntities upserts entities in one transaction.
func (s *SQLiteStore) ImportEntities(ctx context.Context, entities []model.Entity) (int64, error) {
	if len(entities) == 0 {
		return 0, nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: import begin tx")
	}
	defer tx.Rollback() //nolint:errcheck

	stmt, err := tx.PrepareContext(ctx, sqliteUpsertEntity)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: import prepare")
	}
	defer stmt.Close() //nolint:errcheck

	now := time.Now().UTC()
	var n int64
	for _, e := range entities {
		row, err := prepareEntity(e, now, uuid.NewString)
		if err != nil {
			return 0, err
		}
		if _, err := stmt.ExecContext(ctx, row.args()...); err != nil {
			return 0, eris.Wrapf(err, "sqlite: import %s %s", row.entityType, row.id)
		}
		n++
	}
	if err := tx.Commit(); err != nil {
		return 0, eris.Wrap(err, "sqlite: import commit")
	}
	return n, nil
}

func (s *SQLiteStore) SoftDeleteEntity(ctx context.Context, t model.EntityType, id string) error {
	now := time.Now().UTC()
	stamp := now.Format(time.RFC3339Nano)
	res, err := s.db.ExecContext(ctx,
		`UPDATE entities SET
			is_deleted = 1,
			updated_at = ?,
			doc = json_set(doc, '$.is_deleted', json('true'), '$.deleted_at', ?, '$.updated_at', ?)
		 WHERE entity_type = ? AND id = ?`,
		now, stamp, stamp, string(t), id,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: soft delete %s %s", t, id)
	}
	return checkRowsAffected(res, string(t), id)
}

func (s *SQLiteStore) DeleteEntity(ctx context.Context, t model.EntityType, id string) error {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM entities WHERE entity_type = ? AND id = ?`,
		string(t), id,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: delete %s %s", t, id)
	}
	return checkRowsAffected(res, string(t), id)
}

// --- Tasks ---

func (s *SQLiteStore) CreateTask(ctx context.Context, task *model.Task) error {
	if task.ID == "" {
		task.ID = uuid.NewString()
	}
	if task.CreatedAt.IsZero() {
		task.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO tasks (id, title, description, priority, status, due_date, assigned_to, related_type, related_id, workflow_id, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		task.ID, task.Title, task.Description, string(task.Priority), string(task.Status), task.DueDate,
		task.AssignedTo, string(task.RelatedType), task.RelatedID, task.WorkflowID, task.CreatedAt,
	)
	return eris.Wrapf(err, "sqlite: insert task for %s %s", task.RelatedType, task.RelatedID)
}

func (s *SQLiteStore) ListTasks(ctx context.Context, filter TaskFilter) ([]model.Task, error) {
	query := `SELECT id, title, description, priority, status, due_date, assigned_to, related_type, related_id, workflow_id, created_at
		FROM tasks WHERE 1=1`
	var args []any

	if filter.RelatedType != "" {
		query += ` AND related_type = ?`
		args = append(args, string(filter.RelatedType))
	}
	if filter.RelatedID != "" {
		query += ` AND related_id = ?`
		args = append(args, filter.RelatedID)
	}
	if filter.WorkflowID != "" {
		query += ` AND workflow_id = ?`
		args = append(args, filter.WorkflowID)
	}
	query += ` ORDER BY created_at, id`
	if filter.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list tasks")
	}
	defer rows.Close() //nolint:errcheck

	var tasks []model.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, *t)
	}
	return tasks, eris.Wrap(rows.Err(), "sqlite: list tasks iterate")
}

// --- Assignment rules ---

func (s *SQLiteStore) ListAssignmentRules(ctx context.Context) ([]model.AssignmentRule, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, entity_type, priority, criteria_field, criteria_operator, criteria_value, assigned_to, is_active, created_at, updated_at
		 FROM assignment_rules ORDER BY priority, id`,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list assignment rules")
	}
	defer rows.Close() //nolint:errcheck

	var rules []model.AssignmentRule
	for rows.Next() {
		r, err := scanRule(rows)
		if err != nil {
			return nil, err
		}
		rules = append(rules, *r)
	}
	return rules, eris.Wrap(rows.Err(), "sqlite: list assignment rules iterate")
}

func (s *SQLiteStore) SaveAssignmentRule(ctx context.Context, r *model.AssignmentRule) error {
	now := time.Now().UTC()
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = now
	}
	r.UpdatedAt = now

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO assignment_rules (id, name, entity_type, priority, criteria_field, criteria_operator, criteria_value, assigned_to, is_active, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (id) DO UPDATE SET
			name = excluded.name,
			entity_type = excluded.entity_type,
			priority = excluded.priority,
			criteria_field = excluded.criteria_field,
			criteria_operator = excluded.criteria_operator,
			criteria_value = excluded.criteria_value,
			assigned_to = excluded.assigned_to,
			is_active = excluded.is_active,
			updated_at = excluded.updated_at`,
		r.ID, r.Name, string(r.EntityType), r.Priority, r.CriteriaField, string(r.CriteriaOperator),
		r.CriteriaValue, r.AssignedTo, r.IsActive, r.CreatedAt, r.UpdatedAt,
	)
	return eris.Wrapf(err, "sqlite: save assignment rule %s", r.ID)
}

// --- Workflows ---

const sqliteWorkflowColumns = `id, name, entity_type, trigger_type, definition, is_active, execution_count, last_executed, created_at, updated_at`

func (s *SQLiteStore) ListWorkflows(ctx context.Context, filter WorkflowFilter) ([]model.Workflow, error) {
	query := `SELECT ` + sqliteWorkflowColumns + ` FROM workflows WHERE 1=1`
	var args []any

	if filter.EntityType != "" {
		query += ` AND entity_type = ?`
		args = append(args, string(filter.EntityType))
	}
	if filter.TriggerType != "" {
		query += ` AND trigger_type = ?`
		args = append(args, string(filter.TriggerType))
	}
	if filter.ActiveOnly {
		query += ` AND is_active = 1`
	}
	query += ` ORDER BY created_at, id`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list workflows")
	}
	defer rows.Close() //nolint:errcheck

	var wfs []model.Workflow
	for rows.Next() {
		wf, err := scanWorkflow(rows)
		if err != nil {
			return nil, err
		}
		wfs = append(wfs, *wf)
	}
	return wfs, eris.Wrap(rows.Err(), "sqlite: list workflows iterate")
}

func (s *SQLiteStore) GetWorkflow(ctx context.Context, id string) (*model.Workflow, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+sqliteWorkflowColumns+` FROM workflows WHERE id = ?`, id,
	)
	wf, err := scanWorkflow(row)
	if isNoRows(err) {
		return nil, notFound("workflow", id)
	}
	return wf, err
}

// SaveWorkflow upserts a workflow definition. Execution counters are only
// changed by RecordWorkflowExecution.
func (s *SQLiteStore) SaveWorkflow(ctx context.Context, wf *model.Workflow) error {
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

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO workflows (id, name, entity_type, trigger_type, definition, is_active, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (id) DO UPDATE SET
			name = excluded.name,
			entity_type = excluded.entity_type,
			trigger_type = excluded.trigger_type,
			definition = excluded.definition,
			is_active = excluded.is_active,
			updated_at = excluded.updated_at`,
		wf.ID, wf.Name, string(wf.EntityType), string(wf.TriggerType), string(doc), wf.IsActive, wf.CreatedAt, wf.UpdatedAt,
	)
	return eris.Wrapf(err, "sqlite: save workflow %s", wf.ID)
}

// RecordWorkflowExecution increments the execution counter in a single
// statement so concurrent runs never lose an increment.
func (s *SQLiteStore) RecordWorkflowExecution(ctx context.Context, id string, at time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE workflows SET execution_count = execution_count + 1, last_executed = ?, updated_at = ? WHERE id = ?`,
		at.UTC(), at.UTC(), id,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: record execution of workflow %s", id)
	}
	return checkRowsAffected(res, "workflow", id)
}

// helpers

func (r entityRow) args() []any {
	return []any{string(r.entityType), r.id, string(r.doc), r.assignedTo, r.isDeleted, r.createdAt, r.updatedAt}
}

func checkRowsAffected(res sql.Result, kind, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "rows affected")
	}
	if n == 0 {
		return notFound(kind, id)
	}
	return nil
}

func scanTask(row scannable) (*model.Task, error) {
	var t model.Task
	var priority, status, relatedType string
	err := row.Scan(&t.ID, &t.Title, &t.Description, &priority, &status, &t.DueDate,
		&t.AssignedTo, &relatedType, &t.RelatedID, &t.WorkflowID, &t.CreatedAt)
	if err != nil {
		return nil, eris.Wrap(err, "scan task")
	}
	t.Priority = model.TaskPriority(priority)
	t.Status = model.TaskStatus(status)
	t.RelatedType = model.EntityType(relatedType)
	return &t, nil
}

func scanRule(row scannable) (*model.AssignmentRule, error) {
	var r model.AssignmentRule
	var entityType, op string
	err := row.Scan(&r.ID, &r.Name, &entityType, &r.Priority, &r.CriteriaField, &op,
		&r.CriteriaValue, &r.AssignedTo, &r.IsActive, &r.CreatedAt, &r.UpdatedAt)
	if err != nil {
		return nil, eris.Wrap(err, "scan assignment rule")
	}
	r.EntityType = model.EntityType(entityType)
	r.CriteriaOperator = model.Operator(op)
	return &r, nil
}

func scanWorkflow(row scannable) (*model.Workflow, error) {
	var wf model.Workflow
	var entityType, triggerType, doc string
	var lastExecuted sql.NullTime
	err := row.Scan(&wf.ID, &wf.Name, &entityType, &triggerType, &doc, &wf.IsActive,
		&wf.ExecutionCount, &lastExecuted, &wf.CreatedAt, &wf.UpdatedAt)
	if isNoRows(err) {
		return nil, err
	}
	if err != nil {
		return nil, eris.Wrap(err, "scan workflow")
	}
	wf.EntityType = model.EntityType(entityType)
	wf.TriggerType = model.TriggerType(triggerType)
	if lastExecuted.Valid {
		t := lastExecuted.Time
		wf.LastExecuted = &t
	}
	if err := decodeWorkflowDoc([]byte(doc), &wf); err != nil {
		return nil, err
	}
	return &wf, nil
}
