package inventory

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/require"

	domain "github.com/oshokin/alarm-sink/internal/domain/alarm"
)

var errTestDB = errors.New("test db error")

func newMockRepository(t *testing.T) (*PostgresRepository, sqlmock.Sqlmock) {
	t.Helper()

	db, mock, err := sqlmock.New()
	require.NoError(t, err)

	t.Cleanup(func() {
		_ = db.Close()
	})

	return NewPostgresRepository(db, "fm_"), mock
}

// TestPostgresRepository_EnsureSchema verifies both tables are created with the prefix.
func TestPostgresRepository_EnsureSchema(t *testing.T) {
	t.Parallel()

	repo, mock := newMockRepository(t)

	mock.ExpectExec(regexp.QuoteMeta(`CREATE TABLE IF NOT EXISTS "fm_alarms"`)).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(regexp.QuoteMeta(`CREATE TABLE IF NOT EXISTS "fm_alarm_status_changes"`)).
		WillReturnResult(sqlmock.NewResult(0, 0))

	require.NoError(t, repo.EnsureSchema(context.Background()))
	require.NoError(t, mock.ExpectationsWereMet())
}

// TestPostgresRepository_Save inserts only the history entries the table does not hold yet.
func TestPostgresRepository_Save(t *testing.T) {
	t.Parallel()

	repo, mock := newMockRepository(t)

	a := newTestAlarm("foo")
	a.Apply(domain.Decision{Outcome: domain.OutcomeAppendUpdate, State: domain.StateUpdated},
		domain.SeverityMajor, "new-text", time.Unix(200, 0).UTC())

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO "fm_alarms"`)).
		WithArgs("foo", a.Key.ManagedObject, "test-alarm", "", int(domain.SeverityMajor), "new-text",
			int(domain.SeverityMajor), false, sqlmock.AnyArg(), nil, nil, nil).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT COALESCE(MAX(seq), -1) FROM "fm_alarm_status_changes"`)).
		WithArgs("foo", a.Key.ManagedObject, "test-alarm", "").
		WillReturnRows(sqlmock.NewRows([]string{"max"}).AddRow(0))
	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO "fm_alarm_status_changes"`)).
		WithArgs("foo", a.Key.ManagedObject, "test-alarm", "", 1, sqlmock.AnyArg(),
			int(domain.SeverityMajor), "new-text", "updated").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	require.NoError(t, repo.Save(context.Background(), a))
	require.NoError(t, mock.ExpectationsWereMet())
}

// TestPostgresRepository_SaveRelations writes object references as text arrays.
func TestPostgresRepository_SaveRelations(t *testing.T) {
	t.Parallel()

	repo, mock := newMockRepository(t)

	a := newTestAlarm("foo")
	a.SetRelations([]string{"svc-1"}, []string{"eth0"},
		[]domain.Key{{Device: "r2", ManagedObject: "eth1", Type: "link-down"}})

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO "fm_alarms"`)).
		WithArgs("foo", a.Key.ManagedObject, "test-alarm", "", int(domain.SeverityWarning), "test",
			int(domain.SeverityWarning), false, sqlmock.AnyArg(),
			`{"svc-1"}`, `{"eth0"}`, "{\"r2\x1feth1\x1flink-down\x1f\"}").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT COALESCE(MAX(seq), -1) FROM "fm_alarm_status_changes"`)).
		WithArgs("foo", a.Key.ManagedObject, "test-alarm", "").
		WillReturnRows(sqlmock.NewRows([]string{"max"}).AddRow(0))
	mock.ExpectCommit()

	require.NoError(t, repo.Save(context.Background(), a))
	require.NoError(t, mock.ExpectationsWereMet())
}

// TestPostgresRepository_SaveRollback ensures a failed upsert rolls the transaction back.
func TestPostgresRepository_SaveRollback(t *testing.T) {
	t.Parallel()

	repo, mock := newMockRepository(t)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO "fm_alarms"`)).WillReturnError(errTestDB)
	mock.ExpectRollback()

	err := repo.Save(context.Background(), newTestAlarm("foo"))
	require.ErrorIs(t, err, errTestDB)
	require.NoError(t, mock.ExpectationsWereMet())
}

// TestPostgresRepository_LoadAll attaches ordered history rows to their alarms.
func TestPostgresRepository_LoadAll(t *testing.T) {
	t.Parallel()

	repo, mock := newMockRepository(t)
	ts := time.Unix(100, 0).UTC()

	mock.ExpectQuery(regexp.QuoteMeta(`FROM "fm_alarms"`)).
		WillReturnRows(sqlmock.NewRows([]string{
			"device", "managed_object", "alarm_type", "specific_problem", "current_severity",
			"last_alarm_text", "last_perceived_severity", "is_cleared", "last_status_change",
			"impacted_objects", "root_cause_objects", "related_alarms",
		}).AddRow("foo", "mo", "test-alarm", "", int64(domain.SeverityCleared), "all-clear",
			int64(domain.SeverityWarning), true, ts.Add(time.Second),
			[]byte(`{"svc-1","svc-2"}`), nil, []byte("{\"r2\x1feth1\x1flink-down\x1f\"}")))
	mock.ExpectQuery(regexp.QuoteMeta(`FROM "fm_alarm_status_changes"`)).
		WillReturnRows(sqlmock.NewRows([]string{
			"device", "managed_object", "alarm_type", "specific_problem",
			"changed_at", "severity", "alarm_text", "state",
		}).
			AddRow("foo", "mo", "test-alarm", "", ts, int64(domain.SeverityWarning), "test", "raised").
			AddRow("foo", "mo", "test-alarm", "", ts.Add(time.Second), int64(domain.SeverityCleared), "all-clear", "cleared"))

	alarms, err := repo.LoadAll(context.Background())
	require.NoError(t, err)
	require.Len(t, alarms, 1)

	got := alarms[0]
	require.True(t, got.IsCleared)
	require.Equal(t, domain.SeverityWarning, got.LastPerceivedSeverity)
	require.Equal(t, domain.SeverityCleared, got.CurrentSeverity)
	require.Len(t, got.StatusChanges, 2)
	require.Equal(t, domain.StateCleared, got.StatusChanges[1].State)
	require.Equal(t, []string{"svc-1", "svc-2"}, got.ImpactedObjects)
	require.Nil(t, got.RootCauseObjects)
	require.Equal(t, []domain.Key{{Device: "r2", ManagedObject: "eth1", Type: "link-down"}}, got.RelatedAlarms)
	require.NoError(t, mock.ExpectationsWereMet())
}

// TestPostgresRepository_Delete removes each key inside one transaction.
func TestPostgresRepository_Delete(t *testing.T) {
	t.Parallel()

	repo, mock := newMockRepository(t)
	keys := []domain.Key{
		{Device: "foo", ManagedObject: "mo", Type: "t"},
		{Device: "bar", ManagedObject: "mo", Type: "t"},
	}

	mock.ExpectBegin()

	for _, key := range keys {
		mock.ExpectExec(regexp.QuoteMeta(`DELETE FROM "fm_alarms"`)).
			WithArgs(key.Device, key.ManagedObject, key.Type, key.SpecificProblem).
			WillReturnResult(sqlmock.NewResult(0, 1))
	}

	mock.ExpectCommit()

	require.NoError(t, repo.Delete(context.Background(), keys))
	require.NoError(t, repo.Delete(context.Background(), nil))
	require.NoError(t, mock.ExpectationsWereMet())
}

// TestPostgresRepository_NilDB verifies every operation rejects a missing connection.
func TestPostgresRepository_NilDB(t *testing.T) {
	t.Parallel()

	repo := NewPostgresRepository((*sql.DB)(nil), "")
	ctx := context.Background()

	_, err := repo.LoadAll(ctx)
	require.ErrorIs(t, err, errNilDB)
	require.ErrorIs(t, repo.Save(ctx, newTestAlarm("foo")), errNilDB)
	require.ErrorIs(t, repo.Delete(ctx, []domain.Key{{}}), errNilDB)
	require.ErrorIs(t, repo.EnsureSchema(ctx), errNilDB)
}
