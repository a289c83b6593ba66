package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/sells-group/directory-cli/internal/db"
	"github.com/sells-group/directory-cli/internal/model"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool db.Pool
	now  func() time.Time
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

const entityColumns = `id, entity_type, external_place_id, search_query, slug, overall_status, failure_reason, progress, verified, active, fields, field_updated_at, version, created_at, updated_at, started_at, finished_at`

// uniqueViolation is the Postgres SQLSTATE for unique_violation.
const uniqueViolation = "23505"

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

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return NewPostgresFromPool(pool), nil
}

// NewPostgresFromPool wraps an existing pool.
func NewPostgresFromPool(pool db.Pool) *PostgresStore {
	return &PostgresStore{pool: pool, now: func() time.Time { return time.Now().UTC() }}
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS entities (
	id                TEXT PRIMARY KEY,
	entity_type       TEXT NOT NULL,
	external_place_id TEXT NOT NULL UNIQUE,
	search_query      TEXT NOT NULL DEFAULT '',
	slug              TEXT NOT NULL DEFAULT '',
	overall_status    TEXT NOT NULL DEFAULT 'pending',
	failure_reason    TEXT NOT NULL DEFAULT '',
	progress          JSONB NOT NULL DEFAULT '{}'::jsonb,
	verified          BOOLEAN NOT NULL DEFAULT false,
	active            BOOLEAN NOT NULL DEFAULT false,
	fields            JSONB NOT NULL DEFAULT '{}'::jsonb,
	field_updated_at  JSONB NOT NULL DEFAULT '{}'::jsonb,
	version           BIGINT NOT NULL DEFAULT 1,
	created_at        TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at        TIMESTAMPTZ NOT NULL DEFAULT now(),
	started_at        TIMESTAMPTZ,
	finished_at       TIMESTAMPTZ
);

CREATE INDEX IF NOT EXISTS idx_entities_status ON entities(overall_status);
CREATE INDEX IF NOT EXISTS idx_entities_type ON entities(entity_type);
CREATE INDEX IF NOT EXISTS idx_entities_status_updated ON entities(overall_status, updated_at);
`

func (s *PostgresStore) Ping(ctx context.Context) error {
	return eris.Wrap(s.pool.Ping(ctx), "postgres: ping")
}

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

func (s *PostgresStore) GetEntity(ctx context.Context, id string) (*model.Entity, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+entityColumns+` FROM entities WHERE id = $1`, id)
	e, err := scanPgEntity(row)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get entity %s", id)
	}
	return e, nil
}

func (s *PostgresStore) FindByExternalID(ctx context.Context, externalPlaceID string) (*model.Entity, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+entityColumns+` FROM entities WHERE external_place_id = $1`, externalPlaceID)
	e, err := scanPgEntity(row)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: find entity by external id %s", externalPlaceID)
	}
	return e, nil
}

func (s *PostgresStore) CreateEntity(ctx context.Context, e *model.Entity) error {
	if err := prepareNew(e, uuid.New().String(), s.now()); err != nil {
		return err
	}
	args, err := pgEntityArgs(e)
	if err != nil {
		return err
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO entities (`+entityColumns+`) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)`,
		args...,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return eris.Wrapf(ErrDuplicate, "external place id %s", e.ExternalPlaceID)
		}
		return eris.Wrap(err, "postgres: insert entity")
	}
	return nil
}

func (s *PostgresStore) Reopen(ctx context.Context, id string, in ReopenInput) (*model.Entity, error) {
	e, err := s.mutate(ctx, id, applyReopen(in))
	return e, eris.Wrap(err, "postgres: reopen")
}

func (s *PostgresStore) MergeProgress(ctx context.Context, id string, steps map[string]model.StepState) (*model.Entity, error) {
	e, err := s.mutate(ctx, id, applyProgress(steps))
	return e, eris.Wrap(err, "postgres: merge progress")
}

func (s *PostgresStore) ResetSteps(ctx context.Context, id string, steps []string) (*model.Entity, error) {
	e, err := s.mutate(ctx, id, applyReset(steps))
	return e, eris.Wrap(err, "postgres: reset steps")
}

func (s *PostgresStore) MergeFields(ctx context.Context, id string, update *model.PartialUpdate, asOf time.Time) ([]string, error) {
	if update.IsEmpty() {
		return nil, nil
	}
	var written []string
	_, err := s.mutate(ctx, id, applyFields(update, asOf, &written))
	if err != nil {
		return nil, eris.Wrap(err, "postgres: merge fields")
	}
	return written, nil
}

func (s *PostgresStore) UpdateFields(ctx context.Context, id string, expectedVersion int64, update *model.PartialUpdate) (*model.Entity, error) {
	var written []string
	e, err := s.mutate(ctx, id, chain(checkVersion(expectedVersion), applyFields(update, time.Time{}, &written)))
	return e, eris.Wrap(err, "postgres: update fields")
}

func (s *PostgresStore) SetOverallStatus(ctx context.Context, id string, change StatusChange) (*model.Entity, error) {
	e, err := s.mutate(ctx, id, applyStatus(change))
	return e, eris.Wrap(err, "postgres: set overall status")
}

func (s *PostgresStore) ListEntities(ctx context.Context, filter EntityFilter) ([]model.Entity, error) {
	query := `SELECT ` + entityColumns + ` FROM entities WHERE 1=1`
	var args []any
	argN := 1

	if filter.Type != "" {
		query += fmt.Sprintf(` AND entity_type = $%d`, argN)
		args = append(args, string(filter.Type))
		argN++
	}
	if filter.Status != "" {
		query += fmt.Sprintf(` AND overall_status = $%d`, argN)
		args = append(args, string(filter.Status))
		argN++
	}
	if filter.Active != nil {
		query += fmt.Sprintf(` AND active = $%d`, argN)
		args = append(args, *filter.Active)
		argN++
	}

	query += ` ORDER BY created_at DESC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += fmt.Sprintf(` LIMIT $%d`, argN)
	args = append(args, limit)
	argN++

	if filter.Offset > 0 {
		query += fmt.Sprintf(` OFFSET $%d`, argN)
		args = append(args, filter.Offset)
	}

	return s.queryEntities(ctx, query, args...)
}

func (s *PostgresStore) ListStale(ctx context.Context, olderThan time.Time, limit int) ([]model.Entity, error) {
	if limit <= 0 {
		limit = 100
	}
	return s.queryEntities(ctx,
		`SELECT `+entityColumns+` FROM entities WHERE overall_status = $1 AND updated_at < $2 ORDER BY updated_at LIMIT $3`,
		string(model.StatusProcessing), olderThan, limit,
	)
}

func (s *PostgresStore) queryEntities(ctx context.Context, query string, args ...any) ([]model.Entity, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list entities")
	}
	defer rows.Close()

	var out []model.Entity
	for rows.Next() {
		e, err := scanPgEntity(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: list entities")
		}
		out = append(out, *e)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list entities")
}

// mutate loads the entity under a row lock, applies m and writes it back
// with a version compare-and-swap.
func (s *PostgresStore) mutate(ctx context.Context, id string, m mutation) (*model.Entity, error) {
	var out *model.Entity
	err := db.WithTx(ctx, s.pool, func(tx pgx.Tx) error {
		row := tx.QueryRow(ctx, `SELECT `+entityColumns+` FROM entities WHERE id = $1 FOR UPDATE`, id)
		e, err := scanPgEntity(row)
		if err != nil {
			return err
		}

		now := s.now()
		if err := m(e, now); err != nil {
			return err
		}
		prev := e.Version
		e.Version++
		e.UpdatedAt = now

		progress, fields, stamps, err := marshalEntityJSON(e)
		if err != nil {
			return err
		}
		tag, err := tx.Exec(ctx,
			`UPDATE entities SET entity_type = $1, search_query = $2, slug = $3, overall_status = $4, failure_reason = $5, progress = $6, verified = $7, active = $8, fields = $9, field_updated_at = $10, version = $11, updated_at = $12, started_at = $13, finished_at = $14 WHERE id = $15 AND version = $16`,
			string(e.Type), e.SearchQuery, e.Slug, string(e.Status), e.FailureReason, progress,
			e.Verified, e.Active, fields, stamps, e.Version, e.UpdatedAt, e.StartedAt, e.FinishedAt,
			e.ID, prev,
		)
		if err != nil {
			return eris.Wrap(err, "update entity")
		}
		if tag.RowsAffected() == 0 {
			return eris.Wrapf(ErrStaleVersion, "entity %s changed concurrently", id)
		}
		out = e
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func pgEntityArgs(e *model.Entity) ([]any, error) {
	progress, fields, stamps, err := marshalEntityJSON(e)
	if err != nil {
		return nil, err
	}
	return []any{
		e.ID, string(e.Type), e.ExternalPlaceID, e.SearchQuery, e.Slug, string(e.Status), e.FailureReason,
		progress, e.Verified, e.Active, fields, stamps, e.Version, e.CreatedAt, e.UpdatedAt, e.StartedAt, e.FinishedAt,
	}, nil
}

func scanPgEntity(row pgx.Row) (*model.Entity, error) {
	var e model.Entity
	var progress, fields, stamps []byte
	err := row.Scan(
		&e.ID, &e.Type, &e.ExternalPlaceID, &e.SearchQuery, &e.Slug, &e.Status, &e.FailureReason,
		&progress, &e.Verified, &e.Active, &fields, &stamps, &e.Version,
		&e.CreatedAt, &e.UpdatedAt, &e.StartedAt, &e.FinishedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, eris.Wrap(err, "scan entity")
	}
	if err := unmarshalEntityJSON(&e, progress, fields, stamps); err != nil {
		return nil, err
	}
	return &e, nil
}

func marshalEntityJSON(e *model.Entity) (progress, fields, stamps []byte, err error) {
	if progress, err = json.Marshal(e.Progress); err != nil {
		return nil, nil, nil, eris.Wrap(err, "marshal progress")
	}
	if fields, err = json.Marshal(e.Fields); err != nil {
		return nil, nil, nil, eris.Wrap(err, "marshal fields")
	}
	if stamps, err = json.Marshal(e.FieldUpdatedAt); err != nil {
		return nil, nil, nil, eris.Wrap(err, "marshal field timestamps")
	}
	return progress, fields, stamps, nil
}

func unmarshalEntityJSON(e *model.Entity, progress, fields, stamps []byte) error {
	e.Progress = make(model.Progress)
	if len(progress) > 0 {
		if err := json.Unmarshal(progress, &e.Progress); err != nil {
			return eris.Wrap(err, "unmarshal progress")
		}
	}
	if len(fields) > 0 {
		if err := json.Unmarshal(fields, &e.Fields); err != nil {
			return eris.Wrap(err, "unmarshal fields")
		}
	}
	e.FieldUpdatedAt = make(map[string]time.Time)
	if len(stamps) > 0 {
		if err := json.Unmarshal(stamps, &e.FieldUpdatedAt); err != nil {
			return eris.Wrap(err, "unmarshal field timestamps")
		}
	}
	return nil
}
