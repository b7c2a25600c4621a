package inventory

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	domain "github.com/oshokin/alarm-sink/internal/domain/alarm"
)

// PostgresRepository stores alarms in PostgreSQL.
// History rows are only ever inserted, matching the append-only status change list.
type PostgresRepository struct {
	db *sql.DB
	// alarmsTable and changesTable are quoted identifiers.
	alarmsTable  string
	changesTable string
}

// errNilDB is returned when the repository has no connection.
var errNilDB = errors.New("postgres repository: nil db")

// OpenPostgres opens and pings a PostgreSQL connection pool.
func OpenPostgres(ctx context.Context, dsn string, timeout time.Duration) (*sql.DB, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if err = db.PingContext(pingCtx); err != nil {
		_ = db.Close()

		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	return db, nil
}

// NewPostgresRepository creates a repository using tables named with the given prefix.
func NewPostgresRepository(db *sql.DB, tablePrefix string) *PostgresRepository {
	return &PostgresRepository{
		db:           db,
		alarmsTable:  pq.QuoteIdentifier(tablePrefix + "alarms"),
		changesTable: pq.QuoteIdentifier(tablePrefix + "alarm_status_changes"),
	}
}

// EnsureSchema creates the tables when they do not exist.
func (r *PostgresRepository) EnsureSchema(ctx context.Context) error {
	if r == nil || r.db == nil {
		return errNilDB
	}

	statements := []string{
		`CREATE TABLE IF NOT EXISTS ` + r.alarmsTable + ` (
	device                  TEXT        NOT NULL,
	managed_object          TEXT        NOT NULL,
	alarm_type              TEXT        NOT NULL,
	specific_problem        TEXT        NOT NULL DEFAULT '',
	current_severity        SMALLINT    NOT NULL,
	last_alarm_text         TEXT        NOT NULL,
	last_perceived_severity SMALLINT    NOT NULL,
	is_cleared              BOOLEAN     NOT NULL,
	last_status_change      TIMESTAMPTZ,
	impacted_objects        TEXT[],
	root_cause_objects      TEXT[],
	related_alarms          TEXT[],
	PRIMARY KEY (device, managed_object, alarm_type, specific_problem)
)`,
		`CREATE TABLE IF NOT EXISTS ` + r.changesTable + ` (
	device           TEXT        NOT NULL,
	managed_object   TEXT        NOT NULL,
	alarm_type       TEXT        NOT NULL,
	specific_problem TEXT        NOT NULL DEFAULT '',
	seq              INTEGER     NOT NULL,
	changed_at       TIMESTAMPTZ NOT NULL,
	severity         SMALLINT    NOT NULL,
	alarm_text       TEXT        NOT NULL,
	state            TEXT        NOT NULL,
	PRIMARY KEY (device, managed_object, alarm_type, specific_problem, seq),
	FOREIGN KEY (device, managed_object, alarm_type, specific_problem)
		REFERENCES ` + r.alarmsTable + ` ON DELETE CASCADE
)`,
	}

	for _, statement := range statements {
		if _, err := r.db.ExecContext(ctx, statement); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}

	return nil
}

// LoadAll reads every alarm and its history.
func (r *PostgresRepository) LoadAll(ctx context.Context) ([]*domain.Alarm, error) {
	if r == nil || r.db == nil {
		return nil, errNilDB
	}

	rows, err := r.db.QueryContext(ctx, `
SELECT device, managed_object, alarm_type, specific_problem, current_severity,
	last_alarm_text, last_perceived_severity, is_cleared, last_status_change,
	impacted_objects, root_cause_objects, related_alarms
FROM `+r.alarmsTable)
	if err != nil {
		return nil, fmt.Errorf("query alarms: %w", err)
	}

	defer func() {
		_ = rows.Close()
	}()

	var (
		result []*domain.Alarm
		byKey  = make(map[domain.Key]*domain.Alarm)
	)

	for rows.Next() {
		var (
			a          domain.Alarm
			lastChange sql.NullTime
			related    []string
		)

		if err = rows.Scan(
			&a.Key.Device,
			&a.Key.ManagedObject,
			&a.Key.Type,
			&a.Key.SpecificProblem,
			&a.CurrentSeverity,
			&a.LastAlarmText,
			&a.LastPerceivedSeverity,
			&a.IsCleared,
			&lastChange,
			pq.Array(&a.ImpactedObjects),
			pq.Array(&a.RootCauseObjects),
			pq.Array(&related),
		); err != nil {
			return nil, fmt.Errorf("scan alarm: %w", err)
		}

		if lastChange.Valid {
			a.LastStatusChange = lastChange.Time
		}

		a.ImpactedObjects = nilIfEmpty(a.ImpactedObjects)
		a.RootCauseObjects = nilIfEmpty(a.RootCauseObjects)

		for _, raw := range related {
			key, parseErr := domain.ParseKey(raw)
			if parseErr != nil {
				return nil, fmt.Errorf("alarm %s: related alarm %q: %w", a.Key, raw, parseErr)
			}

			a.RelatedAlarms = append(a.RelatedAlarms, key)
		}

		result = append(result, &a)
		byKey[a.Key] = &a
	}

	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate alarms: %w", err)
	}

	if err = r.loadChanges(ctx, byKey); err != nil {
		return nil, err
	}

	return result, nil
}

func (r *PostgresRepository) loadChanges(ctx context.Context, byKey map[domain.Key]*domain.Alarm) error {
	rows, err := r.db.QueryContext(ctx, `
SELECT device, managed_object, alarm_type, specific_problem, changed_at, severity, alarm_text, state
FROM `+r.changesTable+`
ORDER BY device, managed_object, alarm_type, specific_problem, seq`)
	if err != nil {
		return fmt.Errorf("query status changes: %w", err)
	}

	defer func() {
		_ = rows.Close()
	}()

	for rows.Next() {
		var (
			key    domain.Key
			change domain.StatusChange
			state  string
		)

		if err = rows.Scan(
			&key.Device,
			&key.ManagedObject,
			&key.Type,
			&key.SpecificProblem,
			&change.Timestamp,
			&change.Severity,
			&change.AlarmText,
			&state,
		); err != nil {
			return fmt.Errorf("scan status change: %w", err)
		}

		var ok bool
		if change.State, ok = domain.ParseChangeState(state); !ok {
			return fmt.Errorf("alarm %s: unknown status change state %q", key, state)
		}

		if a, exists := byKey[key]; exists {
			a.StatusChanges = append(a.StatusChanges, change)
		}
	}

	if err = rows.Err(); err != nil {
		return fmt.Errorf("iterate status changes: %w", err)
	}

	return nil
}

// Save upserts the alarm row and inserts the history entries not stored yet.
func (r *PostgresRepository) Save(ctx context.Context, alarm *domain.Alarm) (err error) {
	if r == nil || r.db == nil {
		return errNilDB
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}

	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	key := alarm.Key

	var lastChange sql.NullTime
	if !alarm.LastStatusChange.IsZero() {
		lastChange = sql.NullTime{Time: alarm.LastStatusChange, Valid: true}
	}

	if _, err = tx.ExecContext(ctx, `
INSERT INTO `+r.alarmsTable+` (
	device, managed_object, alarm_type, specific_problem, current_severity,
	last_alarm_text, last_perceived_severity, is_cleared, last_status_change,
	impacted_objects, root_cause_objects, related_alarms
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
ON CONFLICT (device, managed_object, alarm_type, specific_problem) DO UPDATE SET
	current_severity = EXCLUDED.current_severity,
	last_alarm_text = EXCLUDED.last_alarm_text,
	last_perceived_severity = EXCLUDED.last_perceived_severity,
	is_cleared = EXCLUDED.is_cleared,
	last_status_change = EXCLUDED.last_status_change,
	impacted_objects = EXCLUDED.impacted_objects,
	root_cause_objects = EXCLUDED.root_cause_objects,
	related_alarms = EXCLUDED.related_alarms`,
		key.Device,
		key.ManagedObject,
		key.Type,
		key.SpecificProblem,
		int(alarm.CurrentSeverity),
		alarm.LastAlarmText,
		int(alarm.LastPerceivedSeverity),
		alarm.IsCleared,
		lastChange,
		pq.Array(alarm.ImpactedObjects),
		pq.Array(alarm.RootCauseObjects),
		pq.Array(keyStrings(alarm.RelatedAlarms)),
	); err != nil {
		return fmt.Errorf("upsert alarm: %w", err)
	}

	var lastSeq int
	if err = tx.QueryRowContext(ctx, `
SELECT COALESCE(MAX(seq), -1) FROM `+r.changesTable+`
WHERE device = $1 AND managed_object = $2 AND alarm_type = $3 AND specific_problem = $4`,
		key.Device, key.ManagedObject, key.Type, key.SpecificProblem,
	).Scan(&lastSeq); err != nil {
		return fmt.Errorf("query last status change: %w", err)
	}

	for seq := lastSeq + 1; seq < len(alarm.StatusChanges); seq++ {
		change := alarm.StatusChanges[seq]

		if _, err = tx.ExecContext(ctx, `
INSERT INTO `+r.changesTable+` (
	device, managed_object, alarm_type, specific_problem, seq, changed_at, severity, alarm_text, state
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
			key.Device,
			key.ManagedObject,
			key.Type,
			key.SpecificProblem,
			seq,
			change.Timestamp,
			int(change.Severity),
			change.AlarmText,
			change.State.String(),
		); err != nil {
			return fmt.Errorf("insert status change %d: %w", seq, err)
		}
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}

	return nil
}

// Delete removes alarms; their history goes with them through ON DELETE CASCADE.
func (r *PostgresRepository) Delete(ctx context.Context, keys []domain.Key) (err error) {
	if r == nil || r.db == nil {
		return errNilDB
	}

	if len(keys) == 0 {
		return nil
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}

	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	for _, key := range keys {
		if _, err = tx.ExecContext(ctx, `
DELETE FROM `+r.alarmsTable+`
WHERE device = $1 AND managed_object = $2 AND alarm_type = $3 AND specific_problem = $4`,
			key.Device, key.ManagedObject, key.Type, key.SpecificProblem,
		); err != nil {
			return fmt.Errorf("delete alarm %s: %w", key, err)
		}
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}

	return nil
}

// keyStrings renders keys in the form accepted by domain.ParseKey.
func keyStrings(keys []domain.Key) []string {
	if len(keys) == 0 {
		return nil
	}

	result := make([]string, 0, len(keys))
	for _, key := range keys {
		result = append(result, key.String())
	}

	return result
}

func nilIfEmpty(items []string) []string {
	if len(items) == 0 {
		return nil
	}

	return items
}
