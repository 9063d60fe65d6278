package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/crm-rules/internal/model"
)

// newMockPostgresStore creates a PostgresStore backed by pgxmock for unit testing.
func newMockPostgresStore(t *testing.T) (*PostgresStore, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool(pgxmock.QueryMatcherOption(pgxmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { mock.Close() })

	s := &PostgresStore{pool: mock}
	return s, mock
}

func TestPostgresStore_GetEntity(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`SELECT doc FROM entities WHERE entity_type = \$1 AND id = \$2`).
		WithArgs("Lead", "L1").
		WillReturnRows(pgxmock.NewRows([]string{"doc"}).
			AddRow([]byte(`{"id":"L1","first_name":"Jane","source":"Referral","score":65}`)))

	e, err := s.GetEntity(context.Background(), model.EntityLead, "L1")
	require.NoError(t, err)
	lead, ok := e.(*model.Lead)
	require.True(t, ok)
	assert.Equal(t, "Jane", lead.FirstName)
	assert.Equal(t, 65, lead.Score)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_GetEntity_NotFound(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`SELECT doc FROM entities`).
		WithArgs("Account", "nope").
		WillReturnError(pgx.ErrNoRows)

	_, err := s.GetEntity(context.Background(), model.EntityAccount, "nope")
	require.Error(t, err)
	assert.True(t, errors.Is(err, model.ErrNotFound))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_SaveEntity_Upsert(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`INSERT INTO entities .* ON CONFLICT \(entity_type, id\) DO UPDATE`).
		WithArgs("Account", "A1", pgxmock.AnyArg(), "owner-1", false, pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	acct := &model.Account{Meta: model.Meta{ID: "A1", AssignedTo: "owner-1"}, Name: "Acme"}
	require.NoError(t, s.SaveEntity(context.Background(), acct))
	assert.False(t, acct.UpdatedAt.IsZero())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_SaveEntity_AssignsID(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`INSERT INTO entities`).
		WithArgs("Case", pgxmock.AnyArg(), pgxmock.AnyArg(), "", false, pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	c := &model.Case{Subject: "Broken"}
	require.NoError(t, s.SaveEntity(context.Background(), c))
	assert.NotEmpty(t, c.ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_ListEntities(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`SELECT entity_type, doc FROM entities WHERE true AND entity_type = \$1 AND NOT is_deleted ORDER BY created_at, id LIMIT \$2`).
		WithArgs("Account", 50).
		WillReturnRows(pgxmock.NewRows([]string{"entity_type", "doc"}).
			AddRow("Account", []byte(`{"id":"A1","name":"Acme"}`)).
			AddRow("Account", []byte(`{"id":"A2","name":"Globex"}`)))

	got, err := s.ListEntities(context.Background(), EntityFilter{Type: model.EntityAccount, Limit: 50})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "Globex", got[1].DisplayName())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_SoftDeleteEntity(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`UPDATE entities SET\s+is_deleted = true`).
		WithArgs(pgxmock.AnyArg(), pgxmock.AnyArg(), "Lead", "L1").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectExec(`UPDATE entities SET\s+is_deleted = true`).
		WithArgs(pgxmock.AnyArg(), pgxmock.AnyArg(), "Lead", "gone").
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	require.NoError(t, s.SoftDeleteEntity(context.Background(), model.EntityLead, "L1"))
	err := s.SoftDeleteEntity(context.Background(), model.EntityLead, "gone")
	assert.True(t, errors.Is(err, model.ErrNotFound))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_DeleteEntity_NotFound(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`DELETE FROM entities`).
		WithArgs("Opportunity", "O1").
		WillReturnResult(pgxmock.NewResult("DELETE", 0))

	err := s.DeleteEntity(context.Background(), model.EntityOpportunity, "O1")
	assert.True(t, errors.Is(err, model.ErrNotFound))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_ImportEntities(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectBegin()
	mock.ExpectExec(`CREATE TEMP TABLE`).WillReturnResult(pgxmock.NewResult("CREATE TABLE", 0))
	mock.ExpectCopyFrom(pgx.Identifier{"_tmp_upsert_entities"},
		[]string{"entity_type", "id", "doc", "assigned_to", "is_deleted", "created_at", "updated_at"}).
		WillReturnResult(2)
	mock.ExpectExec(`INSERT INTO "entities" .* ON CONFLICT \("entity_type", "id"\)`).
		WillReturnResult(pgxmock.NewResult("INSERT", 2))
	mock.ExpectCommit()

	n, err := s.ImportEntities(context.Background(), []model.Entity{
		&model.Lead{Meta: model.Meta{ID: "sf-1"}, Company: "Acme"},
		&model.Lead{Meta: model.Meta{ID: "sf-2"}, Company: "Globex"},
	})
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_CreateTask(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	due := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	mock.ExpectExec(`INSERT INTO tasks`).
		WithArgs(pgxmock.AnyArg(), "Call", "", "High", "Open", due, "u1", "Lead", "L1", "wf-1", pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	task := &model.Task{
		Title: "Call", Priority: model.PriorityHigh, Status: model.TaskOpen, DueDate: due,
		AssignedTo: "u1", RelatedType: model.EntityLead, RelatedID: "L1", WorkflowID: "wf-1",
	}
	require.NoError(t, s.CreateTask(context.Background(), task))
	assert.NotEmpty(t, task.ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_ListAssignmentRules(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	now := time.Now().UTC()
	mock.ExpectQuery(`FROM assignment_rules ORDER BY priority, id`).
		WillReturnRows(pgxmock.NewRows([]string{
			"id", "name", "entity_type", "priority", "criteria_field", "criteria_operator",
			"criteria_value", "assigned_to", "is_active", "created_at", "updated_at",
		}).AddRow("r1", "referral", "Lead", 1, "source", "Equals", "Referral", "A", true, now, now))

	rules, err := s.ListAssignmentRules(context.Background())
	require.NoError(t, err)
	require.Len(t, rules, 1)
	assert.Equal(t, model.OpEquals, rules[0].CriteriaOperator)
	assert.Equal(t, model.EntityLead, rules[0].EntityType)
	assert.Equal(t, 1, rules[0].Priority)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_ListWorkflows_Query(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`FROM workflows WHERE true AND entity_type = \$1 AND trigger_type = \$2 AND is_active ORDER BY created_at, id`).
		WithArgs("Lead", "onCreate").
		WillReturnRows(pgxmock.NewRows([]string{
			"id", "name", "entity_type", "trigger_type", "definition", "is_active",
			"execution_count", "last_executed", "created_at", "updated_at",
		}))

	wfs, err := s.ListWorkflows(context.Background(), WorkflowFilter{
		EntityType: model.EntityLead, TriggerType: model.TriggerOnCreate, ActiveOnly: true,
	})
	require.NoError(t, err)
	assert.Empty(t, wfs)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_GetWorkflow_NotFound(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`FROM workflows WHERE id = \$1`).
		WithArgs("wf-x").
		WillReturnError(pgx.ErrNoRows)

	_, err := s.GetWorkflow(context.Background(), "wf-x")
	assert.True(t, errors.Is(err, model.ErrNotFound))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_SaveWorkflow_KeepsCounters(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`INSERT INTO workflows \(id, name, entity_type, trigger_type, definition, is_active, created_at, updated_at\)`).
		WithArgs(pgxmock.AnyArg(), "welcome", "Lead", "onCreate", pgxmock.AnyArg(), true, pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	wf := &model.Workflow{Name: "welcome", EntityType: model.EntityLead, TriggerType: model.TriggerOnCreate, IsActive: true}
	require.NoError(t, s.SaveWorkflow(context.Background(), wf))
	assert.NotEmpty(t, wf.ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_RecordWorkflowExecution(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	at := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	mock.ExpectExec(`UPDATE workflows SET execution_count = execution_count \+ 1, last_executed = \$1`).
		WithArgs(at, "wf-1").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectExec(`UPDATE workflows SET execution_count = execution_count \+ 1`).
		WithArgs(at, "wf-missing").
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	require.NoError(t, s.RecordWorkflowExecution(context.Background(), "wf-1", at))
	err := s.RecordWorkflowExecution(context.Background(), "wf-missing", at)
	assert.True(t, errors.Is(err, model.ErrNotFound))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_Migrate(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`CREATE TABLE IF NOT EXISTS entities`).
		WillReturnResult(pgxmock.NewResult("CREATE", 0))

	require.NoError(t, s.Migrate(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}
