package store

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/directory-cli/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db  *sql.DB
	now func() time.Time
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	// One writer keeps read-modify-write transactions serialized.
	db.SetMaxOpenConns(1)
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
	return &SQLiteStore{db: db, now: func() time.Time { return time.Now().UTC() }}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS entities (
	id                TEXT PRIMARY KEY,
	entity_type       TEXT NOT NULL,
	external_place_id TEXT NOT NULL UNIQUE,
	search_query      TEXT NOT NULL DEFAULT '',
	slug              TEXT NOT NULL DEFAULT '',
	overall_status    TEXT NOT NULL DEFAULT 'pending',
	failure_reason    TEXT NOT NULL DEFAULT '',
	progress          TEXT NOT NULL DEFAULT '{}',
	verified          INTEGER NOT NULL DEFAULT 0,
	active            INTEGER NOT NULL DEFAULT 0,
	fields            TEXT NOT NULL DEFAULT '{}',
	field_updated_at  TEXT NOT NULL DEFAULT '{}',
	version           INTEGER NOT NULL DEFAULT 1,
	created_at        TEXT NOT NULL,
	updated_at        TEXT NOT NULL,
	started_at        TEXT,
	finished_at       TEXT
);

CREATE INDEX IF NOT EXISTS idx_entities_status ON entities(overall_status);
CREATE INDEX IF NOT EXISTS idx_entities_type ON entities(entity_type);
CREATE INDEX IF NOT EXISTS idx_entities_status_updated ON entities(overall_status, updated_at);
`

func (s *SQLiteStore) Ping(ctx context.Context) error {
	return eris.Wrap(s.db.PingContext(ctx), "sqlite: ping")
}

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) GetEntity(ctx context.Context, id string) (*model.Entity, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+entityColumns+` FROM entities WHERE id = ?`, id)
	e, err := scanSQLiteEntity(row)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get entity %s", id)
	}
	return e, nil
}

func (s *SQLiteStore) FindByExternalID(ctx context.Context, externalPlaceID string) (*model.Entity, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+entityColumns+` FROM entities WHERE external_place_id = ?`, externalPlaceID)
	e, err := scanSQLiteEntity(row)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: find entity by external id %s", externalPlaceID)
	}
	return e, nil
}

func (s *SQLiteStore) CreateEntity(ctx context.Context, e *model.Entity) error {
	if err := prepareNew(e, uuid.New().String(), s.now()); err != nil {
		return err
	}
	progress, fields, stamps, err := marshalEntityJSON(e)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO entities (`+entityColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, string(e.Type), e.ExternalPlaceID, e.SearchQuery, e.Slug, string(e.Status), e.FailureReason,
		string(progress), e.Verified, e.Active, string(fields), string(stamps), e.Version,
		formatTime(e.CreatedAt), formatTime(e.UpdatedAt), formatTimePtr(e.StartedAt), formatTimePtr(e.FinishedAt),
	)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return eris.Wrapf(ErrDuplicate, "external place id %s", e.ExternalPlaceID)
		}
		return eris.Wrap(err, "sqlite: insert entity")
	}
	return nil
}

func (s *SQLiteStore) Reopen(ctx context.Context, id string, in ReopenInput) (*model.Entity, error) {
	e, err := s.mutate(ctx, id, applyReopen(in))
	return e, eris.Wrap(err, "sqlite: reopen")
}

func (s *SQLiteStore) MergeProgress(ctx context.Context, id string, steps map[string]model.StepState) (*model.Entity, error) {
	e, err := s.mutate(ctx, id, applyProgress(steps))
	return e, eris.Wrap(err, "sqlite: merge progress")
}

func (s *SQLiteStore) ResetSteps(ctx context.Context, id string, steps []string) (*model.Entity, error) {
	e, err := s.mutate(ctx, id, applyReset(steps))
	return e, eris.Wrap(err, "sqlite: reset steps")
}

func (s *SQLiteStore) MergeFields(ctx context.Context, id string, update *model.PartialUpdate, asOf time.Time) ([]string, error) {
	if update.IsEmpty() {
		return nil, nil
	}
	var written []string
	if _, err := s.mutate(ctx, id, applyFields(update, asOf, &written)); err != nil {
		return nil, eris.Wrap(err, "sqlite: merge fields")
	}
	return written, nil
}

func (s *SQLiteStore) UpdateFields(ctx context.Context, id string, expectedVersion int64, update *model.PartialUpdate) (*model.Entity, error) {
	var written []string
	e, err := s.mutate(ctx, id, chain(checkVersion(expectedVersion), applyFields(update, time.Time{}, &written)))
	return e, eris.Wrap(err, "sqlite: update fields")
}

func (s *SQLiteStore) SetOverallStatus(ctx context.Context, id string, change StatusChange) (*model.Entity, error) {
	e, err := s.mutate(ctx, id, applyStatus(change))
	return e, eris.Wrap(err, "sqlite: set overall status")
}

func (s *SQLiteStore) ListEntities(ctx context.Context, filter EntityFilter) ([]model.Entity, error) {
	query := `SELECT ` + entityColumns + ` FROM entities WHERE 1=1`
	var args []any

	if filter.Type != "" {
		query += ` AND entity_type = ?`
		args = append(args, string(filter.Type))
	}
	if filter.Status != "" {
		query += ` AND overall_status = ?`
		args = append(args, string(filter.Status))
	}
	if filter.Active != nil {
		query += ` AND active = ?`
		args = append(args, *filter.Active)
	}

	query += ` ORDER BY created_at DESC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += ` LIMIT ?`
	args = append(args, limit)
	if filter.Offset > 0 {
		query += ` OFFSET ?`
		args = append(args, filter.Offset)
	}

	return s.queryEntities(ctx, query, args...)
}

func (s *SQLiteStore) ListStale(ctx context.Context, olderThan time.Time, limit int) ([]model.Entity, error) {
	if limit <= 0 {
		limit = 100
	}
	return s.queryEntities(ctx,
		`SELECT `+entityColumns+` FROM entities WHERE overall_status = ? AND updated_at < ? ORDER BY updated_at LIMIT ?`,
		string(model.StatusProcessing), formatTime(olderThan.UTC()), limit,
	)
}

func (s *SQLiteStore) queryEntities(ctx context.Context, query string, args ...any) ([]model.Entity, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list entities")
	}
	defer rows.Close() //nolint:errcheck

	var out []model.Entity
	for rows.Next() {
		e, err := scanSQLiteEntity(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: list entities")
		}
		out = append(out, *e)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list entities")
}

func (s *SQLiteStore) mutate(ctx context.Context, id string, m mutation) (*model.Entity, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, eris.Wrap(err, "begin tx")
	}
	defer tx.Rollback() //nolint:errcheck

	row := tx.QueryRowContext(ctx, `SELECT `+entityColumns+` FROM entities WHERE id = ?`, id)
	e, err := scanSQLiteEntity(row)
	if err != nil {
		return nil, err
	}

	now := s.now()
	if err := m(e, now); err != nil {
		return nil, err
	}
	prev := e.Version
	e.Version++
	e.UpdatedAt = now

	progress, fields, stamps, err := marshalEntityJSON(e)
	if err != nil {
		return nil, err
	}
	res, err := tx.ExecContext(ctx,
		`UPDATE entities SET entity_type = ?, search_query = ?, slug = ?, overall_status = ?, failure_reason = ?, progress = ?, verified = ?, active = ?, fields = ?, field_updated_at = ?, version = ?, updated_at = ?, started_at = ?, finished_at = ? WHERE id = ? AND version = ?`,
		string(e.Type), e.SearchQuery, e.Slug, string(e.Status), e.FailureReason, string(progress),
		e.Verified, e.Active, string(fields), string(stamps), e.Version, formatTime(e.UpdatedAt),
		formatTimePtr(e.StartedAt), formatTimePtr(e.FinishedAt), e.ID, prev,
	)
	if err != nil {
		return nil, eris.Wrap(err, "update entity")
	}
	if err := checkRowsAffected(res, id); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, eris.Wrap(err, "commit")
	}
	return e, nil
}

func checkRowsAffected(res sql.Result, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "rows affected")
	}
	if n == 0 {
		return eris.Wrapf(ErrStaleVersion, "entity %s changed concurrently", id)
	}
	return nil
}

type scannable interface {
	Scan(dest ...any) error
}

func scanSQLiteEntity(row scannable) (*model.Entity, error) {
	var e model.Entity
	var progress, fields, stamps string
	var created, updated string
	var started, finished sql.NullString

	err := row.Scan(
		&e.ID, &e.Type, &e.ExternalPlaceID, &e.SearchQuery, &e.Slug, &e.Status, &e.FailureReason,
		&progress, &e.Verified, &e.Active, &fields, &stamps, &e.Version,
		&created, &updated, &started, &finished,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, eris.Wrap(err, "scan entity")
	}

	if e.CreatedAt, err = parseTime(created); err != nil {
		return nil, err
	}
	if e.UpdatedAt, err = parseTime(updated); err != nil {
		return nil, err
	}
	if e.StartedAt, err = parseTimePtr(started); err != nil {
		return nil, err
	}
	if e.FinishedAt, err = parseTimePtr(finished); err != nil {
		return nil, err
	}
	if err := unmarshalEntityJSON(&e, []byte(progress), []byte(fields), []byte(stamps)); err != nil {
		return nil, err
	}
	return &e, nil
}

// Timestamps are stored as fixed-width RFC3339 text so lexical order matches
// chronological order in ListStale.
const sqliteTimeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t time.Time) string {
	return t.UTC().Format(sqliteTimeLayout)
}

func formatTimePtr(t *time.Time) any {
	if t == nil {
		return nil
	}
	return formatTime(*t)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, eris.Wrapf(err, "parse time %q", s)
	}
	return t.UTC(), nil
}

func parseTimePtr(ns sql.NullString) (*time.Time, error) {
	if !ns.Valid || ns.String == "" {
		return nil, nil
	}
	t, err := parseTime(ns.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}
