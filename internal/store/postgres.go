package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/ciplastic/funnel-dashboard/internal/db"
	"github.com/ciplastic/funnel-dashboard/internal/model"
	"github.com/ciplastic/funnel-dashboard/internal/resilience"
)

var psql = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
	now     func() time.Time
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
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

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	ping := resilience.TransientPolicy()
	ping.Retryable = func(error) bool { return true }
	ping.OnRetry = resilience.LogRetries("postgres", "ping")
	if _, err := resilience.Retry(ctx, ping, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, pool.Ping(ctx)
	}); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close, now: time.Now}, nil
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS opportunities (
	id                TEXT PRIMARY KEY,
	name              TEXT NOT NULL DEFAULT '',
	pipeline_stage_id TEXT NOT NULL DEFAULT '',
	status            TEXT NOT NULL DEFAULT '',
	created_at        TIMESTAMPTZ,
	updated_at        TIMESTAMPTZ,
	monetary_value    DOUBLE PRECISION NOT NULL DEFAULT 0,
	source            TEXT NOT NULL DEFAULT '',
	contact_id        TEXT NOT NULL DEFAULT '',
	contact_name      TEXT NOT NULL DEFAULT '',
	contact_tags      TEXT[] NOT NULL DEFAULT '{}',
	synced_at         TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_opportunities_created_at ON opportunities(created_at);
CREATE INDEX IF NOT EXISTS idx_opportunities_stage ON opportunities(pipeline_stage_id);

CREATE TABLE IF NOT EXISTS metrics_cache (
	start_date TEXT NOT NULL,
	end_date   TEXT NOT NULL,
	data       JSONB NOT NULL,
	fetched_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (start_date, end_date)
);

CREATE TABLE IF NOT EXISTS sync_runs (
	id          TEXT PRIMARY KEY,
	provider    TEXT NOT NULL,
	status      TEXT NOT NULL,
	fetched     INTEGER NOT NULL DEFAULT 0,
	new_count   INTEGER NOT NULL DEFAULT 0,
	updated     INTEGER NOT NULL DEFAULT 0,
	error       TEXT NOT NULL DEFAULT '',
	started_at  TIMESTAMPTZ NOT NULL,
	finished_at TIMESTAMPTZ
);

CREATE INDEX IF NOT EXISTS idx_sync_runs_started_at ON sync_runs(started_at DESC);
`

// Ping checks connectivity with a trivial query.
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

// ReadRecords returns opportunities created within [from, to].
func (s *PostgresStore) ReadRecords(ctx context.Context, from, to time.Time) ([]model.Opportunity, error) {
	query, args, err := psql.Select(opportunityColumns[:11]...).
		From("opportunities").
		Where(sq.GtOrEq{"created_at": from.UTC()}).
		Where(sq.LtOrEq{"created_at": to.UTC()}).
		OrderBy("created_at", "id").
		ToSql()
	if err != nil {
		return nil, eris.Wrap(err, "postgres: build read records")
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: read records")
	}
	defer rows.Close()

	var out []model.Opportunity
	for rows.Next() {
		var (
			o                  model.Opportunity
			created, updated   pgtype.Timestamptz
			contactID, contact string
		)
		if err := rows.Scan(
			&o.ID, &o.Name, &o.PipelineStageID, &o.Status, &created, &updated,
			&o.MonetaryValue, &o.Source, &contactID, &contact, &o.Contact.Tags,
		); err != nil {
			return nil, eris.Wrap(err, "postgres: scan opportunity")
		}
		if created.Valid {
			o.CreatedAt = created.Time
		}
		if updated.Valid {
			o.UpdatedAt = updated.Time
		}
		o.Contact.ID = contactID
		o.Contact.Name = contact
		out = append(out, o)
	}
	return out, eris.Wrap(rows.Err(), "postgres: iterate records")
}

// WriteRecords upserts opportunities by id through a COPY-staged merge.
func (s *PostgresStore) WriteRecords(ctx context.Context, opps []model.Opportunity) (WriteResult, error) {
	opps = dedupe(opps)
	if len(opps) == 0 {
		return WriteResult{}, nil
	}

	syncedAt := s.clock().UTC()
	rows := make([][]any, len(opps))
	for i, o := range opps {
		tags := o.Contact.Tags
		if tags == nil {
			tags = []string{}
		}
		rows[i] = []any{
			o.ID, o.Name, o.PipelineStageID, o.Status, nullableTime(o.CreatedAt), nullableTime(o.UpdatedAt),
			o.MonetaryValue, o.Source, o.Contact.ID, o.Contact.Name, tags, syncedAt,
		}
	}

	res, err := db.BulkUpsert(ctx, s.pool, db.UpsertConfig{
		Table:        "opportunities",
		Columns:      opportunityColumns,
		ConflictKeys: []string{"id"},
	}, rows)
	if err != nil {
		return WriteResult{}, eris.Wrap(err, "postgres: write records")
	}
	return WriteResult{New: res.Inserted, Updated: res.Updated}, nil
}

// Count returns the number of stored opportunities.
func (s *PostgresStore) Count(ctx context.Context) (int, error) {
	query, args, err := psql.Select("COUNT(*)").From("opportunities").ToSql()
	if err != nil {
		return 0, eris.Wrap(err, "postgres: build count")
	}
	var n int
	if err := s.pool.QueryRow(ctx, query, args...).Scan(&n); err != nil {
		return 0, eris.Wrap(err, "postgres: count opportunities")
	}
	return n, nil
}

// ReadSnapshot returns the stored snapshot for key, or nil if none exists.
func (s *PostgresStore) ReadSnapshot(ctx context.Context, key SnapshotKey) (*Snapshot, error) {
	query, args, err := psql.Select("data", "fetched_at").
		From("metrics_cache").
		Where(sq.Eq{"start_date": key.StartDate}).
		Where(sq.Eq{"end_date": key.EndDate}).
		ToSql()
	if err != nil {
		return nil, eris.Wrap(err, "postgres: build read snapshot")
	}

	var (
		raw       []byte
		fetchedAt time.Time
	)
	err = s.pool.QueryRow(ctx, query, args...).Scan(&raw, &fetchedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "postgres: read snapshot")
	}

	var result model.MetricsResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, eris.Wrap(err, "postgres: unmarshal snapshot")
	}
	return &Snapshot{Key: key, Data: &result, FetchedAt: fetchedAt}, nil
}

// WriteSnapshot upserts the snapshot for key.
func (s *PostgresStore) WriteSnapshot(ctx context.Context, key SnapshotKey, result *model.MetricsResult) error {
	if result == nil {
		return eris.New("postgres: write snapshot: nil result")
	}
	raw, err := json.Marshal(result)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal snapshot")
	}
	fetchedAt := result.Meta.FetchedAt
	if fetchedAt.IsZero() {
		fetchedAt = s.clock()
	}

	query, args, err := psql.Insert("metrics_cache").
		Columns("start_date", "end_date", "data", "fetched_at").
		Values(key.StartDate, key.EndDate, raw, fetchedAt.UTC()).
		Suffix("ON CONFLICT (start_date, end_date) DO UPDATE SET data = EXCLUDED.data, fetched_at = EXCLUDED.fetched_at").
		ToSql()
	if err != nil {
		return eris.Wrap(err, "postgres: build write snapshot")
	}
	_, err = s.pool.Exec(ctx, query, args...)
	return eris.Wrap(err, "postgres: write snapshot")
}

// RecordSync inserts or updates a sync run by id.
func (s *PostgresStore) RecordSync(ctx context.Context, run model.SyncRun) error {
	query, args, err := psql.Insert("sync_runs").
		Columns("id", "provider", "status", "fetched", "new_count", "updated", "error", "started_at", "finished_at").
		Values(run.ID, run.Provider, string(run.Status), run.Fetched, run.New, run.Updated, run.Error,
			run.StartedAt.UTC(), nullableTime(run.FinishedAt)).
		Suffix("ON CONFLICT (id) DO UPDATE SET status = EXCLUDED.status, fetched = EXCLUDED.fetched, " +
			"new_count = EXCLUDED.new_count, updated = EXCLUDED.updated, error = EXCLUDED.error, finished_at = EXCLUDED.finished_at").
		ToSql()
	if err != nil {
		return eris.Wrap(err, "postgres: build record sync")
	}
	_, err = s.pool.Exec(ctx, query, args...)
	return eris.Wrapf(err, "postgres: record sync %s", run.ID)
}

// LastSync returns the most recently started sync run, or nil.
func (s *PostgresStore) LastSync(ctx context.Context) (*model.SyncRun, error) {
	query, args, err := psql.Select(syncColumns...).
		From("sync_runs").
		OrderBy("started_at DESC").
		Limit(1).
		ToSql()
	if err != nil {
		return nil, eris.Wrap(err, "postgres: build last sync")
	}

	var (
		run      model.SyncRun
		status   string
		finished pgtype.Timestamptz
	)
	err = s.pool.QueryRow(ctx, query, args...).Scan(
		&run.ID, &run.Provider, &status, &run.Fetched, &run.New, &run.Updated, &run.Error, &run.StartedAt, &finished,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "postgres: last sync")
	}
	run.Status = model.SyncStatus(status)
	if finished.Valid {
		run.FinishedAt = finished.Time
	}
	return &run, nil
}

// ListSyncs returns sync runs started at or after since, newest first. A
// non-positive limit returns every match.
func (s *PostgresStore) ListSyncs(ctx context.Context, since time.Time, limit int) ([]model.SyncRun, error) {
	q := psql.Select(syncColumns...).
		From("sync_runs").
		Where(sq.GtOrEq{"started_at": since.UTC()}).
		OrderBy("started_at DESC")
	if limit > 0 {
		q = q.Limit(uint64(limit))
	}
	query, args, err := q.ToSql()
	if err != nil {
		return nil, eris.Wrap(err, "postgres: build list syncs")
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list syncs")
	}
	defer rows.Close()

	var runs []model.SyncRun
	for rows.Next() {
		var (
			run      model.SyncRun
			status   string
			finished pgtype.Timestamptz
		)
		if err := rows.Scan(&run.ID, &run.Provider, &status, &run.Fetched, &run.New, &run.Updated, &run.Error, &run.StartedAt, &finished); err != nil {
			return nil, eris.Wrap(err, "postgres: scan sync run")
		}
		run.Status = model.SyncStatus(status)
		if finished.Valid {
			run.FinishedAt = finished.Time
		}
		runs = append(runs, run)
	}
	return runs, eris.Wrap(rows.Err(), "postgres: iterate sync runs")
}

func (s *PostgresStore) clock() time.Time {
	if s.now != nil {
		return s.now()
	}
	return time.Now()
}
