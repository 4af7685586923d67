package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/rotisserie/eris"
	"github.com/samber/lo"
	_ "modernc.org/sqlite"

	"github.com/ciplastic/funnel-dashboard/internal/model"
)

// sqliteBatch bounds rows per INSERT so bound variables stay well under
// SQLite's limit.
const sqliteBatch = 200

// SQLiteStore implements Store using modernc.org/sqlite. Timestamps are kept
// as unix milliseconds so range predicates compare numerically.
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
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db, now: time.Now}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS opportunities (
	id                TEXT PRIMARY KEY,
	name              TEXT NOT NULL DEFAULT '',
	pipeline_stage_id TEXT NOT NULL DEFAULT '',
	status            TEXT NOT NULL DEFAULT '',
	created_at        INTEGER,
	updated_at        INTEGER,
	monetary_value    REAL NOT NULL DEFAULT 0,
	source            TEXT NOT NULL DEFAULT '',
	contact_id        TEXT NOT NULL DEFAULT '',
	contact_name      TEXT NOT NULL DEFAULT '',
	contact_tags      TEXT NOT NULL DEFAULT '[]',
	synced_at         INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_opportunities_created_at ON opportunities(created_at);

CREATE TABLE IF NOT EXISTS metrics_cache (
	start_date TEXT NOT NULL,
	end_date   TEXT NOT NULL,
	data       TEXT NOT NULL,
	fetched_at INTEGER NOT NULL,
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
	started_at  INTEGER NOT NULL,
	finished_at INTEGER
);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Ping(ctx context.Context) error {
	return eris.Wrap(s.db.PingContext(ctx), "sqlite: ping")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) ReadRecords(ctx context.Context, from, to time.Time) ([]model.Opportunity, error) {
	query, args, err := sq.Select(opportunityColumns[:11]...).
		From("opportunities").
		Where(sq.GtOrEq{"created_at": from.UnixMilli()}).
		Where(sq.LtOrEq{"created_at": to.UnixMilli()}).
		OrderBy("created_at", "id").
		ToSql()
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: build read records")
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: read records")
	}
	defer rows.Close()

	var out []model.Opportunity
	for rows.Next() {
		var (
			o                model.Opportunity
			created, updated sql.NullInt64
			tags             string
		)
		if err := rows.Scan(
			&o.ID, &o.Name, &o.PipelineStageID, &o.Status, &created, &updated,
			&o.MonetaryValue, &o.Source, &o.Contact.ID, &o.Contact.Name, &tags,
		); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan opportunity")
		}
		o.CreatedAt = fromMillis(created)
		o.UpdatedAt = fromMillis(updated)
		if err := json.Unmarshal([]byte(tags), &o.Contact.Tags); err != nil {
			return nil, eris.Wrapf(err, "sqlite: unmarshal tags for %s", o.ID)
		}
		out = append(out, o)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: iterate records")
}

// WriteRecords upserts opportunities by id in one transaction. Existing ids
// are looked up first so the result separates new from updated rows.
func (s *SQLiteStore) WriteRecords(ctx context.Context, opps []model.Opportunity) (WriteResult, error) {
	opps = dedupe(opps)
	if len(opps) == 0 {
		return WriteResult{}, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return WriteResult{}, eris.Wrap(err, "sqlite: begin tx")
	}
	defer tx.Rollback() //nolint:errcheck

	existing := make(map[string]bool, len(opps))
	for _, chunk := range lo.Chunk(opps, sqliteBatch) {
		ids := lo.Map(chunk, func(o model.Opportunity, _ int) string { return o.ID })
		query, args, err := sq.Select("id").From("opportunities").Where(sq.Eq{"id": ids}).ToSql()
		if err != nil {
			return WriteResult{}, eris.Wrap(err, "sqlite: build existing ids")
		}
		rows, err := tx.QueryContext(ctx, query, args...)
		if err != nil {
			return WriteResult{}, eris.Wrap(err, "sqlite: query existing ids")
		}
		for rows.Next() {
			var id string
			if err := rows.Scan(&id); err != nil {
				rows.Close()
				return WriteResult{}, eris.Wrap(err, "sqlite: scan id")
			}
			existing[id] = true
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return WriteResult{}, eris.Wrap(err, "sqlite: iterate ids")
		}
	}

	syncedAt := s.clock().UnixMilli()
	for _, chunk := range lo.Chunk(opps, sqliteBatch) {
		ins := sq.Insert("opportunities").Columns(opportunityColumns...)
		for _, o := range chunk {
			tags := o.Contact.Tags
			if tags == nil {
				tags = []string{}
			}
			rawTags, err := json.Marshal(tags)
			if err != nil {
				return WriteResult{}, eris.Wrap(err, "sqlite: marshal tags")
			}
			ins = ins.Values(
				o.ID, o.Name, o.PipelineStageID, o.Status, toMillis(o.CreatedAt), toMillis(o.UpdatedAt),
				o.MonetaryValue, o.Source, o.Contact.ID, o.Contact.Name, string(rawTags), syncedAt,
			)
		}
		query, args, err := ins.Suffix(`ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			pipeline_stage_id = excluded.pipeline_stage_id,
			status = excluded.status,
			created_at = excluded.created_at,
			updated_at = excluded.updated_at,
			monetary_value = excluded.monetary_value,
			source = excluded.source,
			contact_id = excluded.contact_id,
			contact_name = excluded.contact_name,
			contact_tags = excluded.contact_tags,
			synced_at = excluded.synced_at`).ToSql()
		if err != nil {
			return WriteResult{}, eris.Wrap(err, "sqlite: build upsert")
		}
		if _, err := tx.ExecContext(ctx, query, args...); err != nil {
			return WriteResult{}, eris.Wrap(err, "sqlite: upsert opportunities")
		}
	}

	if err := tx.Commit(); err != nil {
		return WriteResult{}, eris.Wrap(err, "sqlite: commit")
	}
	return WriteResult{New: len(opps) - len(existing), Updated: len(existing)}, nil
}

func (s *SQLiteStore) Count(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM opportunities").Scan(&n)
	return n, eris.Wrap(err, "sqlite: count opportunities")
}

func (s *SQLiteStore) ReadSnapshot(ctx context.Context, key SnapshotKey) (*Snapshot, error) {
	query, args, err := sq.Select("data", "fetched_at").
		From("metrics_cache").
		Where(sq.Eq{"start_date": key.StartDate}).
		Where(sq.Eq{"end_date": key.EndDate}).
		ToSql()
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: build read snapshot")
	}

	var (
		raw       string
		fetchedAt int64
	)
	err = s.db.QueryRowContext(ctx, query, args...).Scan(&raw, &fetchedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: read snapshot")
	}

	var result model.MetricsResult
	if err := json.Unmarshal([]byte(raw), &result); err != nil {
		return nil, eris.Wrap(err, "sqlite: unmarshal snapshot")
	}
	return &Snapshot{Key: key, Data: &result, FetchedAt: time.UnixMilli(fetchedAt)}, nil
}

func (s *SQLiteStore) WriteSnapshot(ctx context.Context, key SnapshotKey, result *model.MetricsResult) error {
	if result == nil {
		return eris.New("sqlite: write snapshot: nil result")
	}
	raw, err := json.Marshal(result)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal snapshot")
	}
	fetchedAt := result.Meta.FetchedAt
	if fetchedAt.IsZero() {
		fetchedAt = s.clock()
	}

	query, args, err := sq.Insert("metrics_cache").
		Columns("start_date", "end_date", "data", "fetched_at").
		Values(key.StartDate, key.EndDate, string(raw), fetchedAt.UnixMilli()).
		Suffix("ON CONFLICT(start_date, end_date) DO UPDATE SET data = excluded.data, fetched_at = excluded.fetched_at").
		ToSql()
	if err != nil {
		return eris.Wrap(err, "sqlite: build write snapshot")
	}
	_, err = s.db.ExecContext(ctx, query, args...)
	return eris.Wrap(err, "sqlite: write snapshot")
}

func (s *SQLiteStore) RecordSync(ctx context.Context, run model.SyncRun) error {
	query, args, err := sq.Insert("sync_runs").
		Columns("id", "provider", "status", "fetched", "new_count", "updated", "error", "started_at", "finished_at").
		Values(run.ID, run.Provider, string(run.Status), run.Fetched, run.New, run.Updated, run.Error,
			run.StartedAt.UnixMilli(), toMillis(run.FinishedAt)).
		Suffix("ON CONFLICT(id) DO UPDATE SET status = excluded.status, fetched = excluded.fetched, " +
			"new_count = excluded.new_count, updated = excluded.updated, error = excluded.error, finished_at = excluded.finished_at").
		ToSql()
	if err != nil {
		return eris.Wrap(err, "sqlite: build record sync")
	}
	_, err = s.db.ExecContext(ctx, query, args...)
	return eris.Wrapf(err, "sqlite: record sync %s", run.ID)
}

func (s *SQLiteStore) LastSync(ctx context.Context) (*model.SyncRun, error) {
	var (
		run       model.SyncRun
		status    string
		startedAt int64
		finished  sql.NullInt64
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT id, provider, status, fetched, new_count, updated, error, started_at, finished_at
		 FROM sync_runs ORDER BY started_at DESC LIMIT 1`).
		Scan(&run.ID, &run.Provider, &status, &run.Fetched, &run.New, &run.Updated, &run.Error, &startedAt, &finished)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: last sync")
	}
	run.Status = model.SyncStatus(status)
	run.StartedAt = time.UnixMilli(startedAt)
	run.FinishedAt = fromMillis(finished)
	return &run, nil
}

// ListSyncs returns sync runs started at or after since, newest first.
func (s *SQLiteStore) ListSyncs(ctx context.Context, since time.Time, limit int) ([]model.SyncRun, error) {
	q := sq.Select(syncColumns...).
		From("sync_runs").
		Where(sq.GtOrEq{"started_at": since.UnixMilli()}).
		OrderBy("started_at DESC")
	if limit > 0 {
		q = q.Limit(uint64(limit))
	}
	query, args, err := q.ToSql()
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: build list syncs")
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list syncs")
	}
	defer rows.Close() //nolint:errcheck

	var runs []model.SyncRun
	for rows.Next() {
		var (
			run       model.SyncRun
			status    string
			startedAt int64
			finished  sql.NullInt64
		)
		if err := rows.Scan(&run.ID, &run.Provider, &status, &run.Fetched, &run.New, &run.Updated, &run.Error, &startedAt, &finished); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan sync run")
		}
		run.Status = model.SyncStatus(status)
		run.StartedAt = time.UnixMilli(startedAt)
		run.FinishedAt = fromMillis(finished)
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "sqlite: iterate sync runs")
	}
	return runs, nil
}

func (s *SQLiteStore) clock() time.Time {
	if s.now != nil {
		return s.now()
	}
	return time.Now()
}

func toMillis(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t.UnixMilli()
}

func fromMillis(v sql.NullInt64) time.Time {
	if !v.Valid {
		return time.Time{}
	}
	return time.UnixMilli(v.Int64)
}
