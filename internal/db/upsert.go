package db

import (
	"context"
	"fmt"
	"strings"

	sq "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"
	"github.com/samber/lo"
)

// UpsertConfig names the target table and how rows collide.
type UpsertConfig struct {
	Table        string // may be schema qualified
	Columns      []string
	ConflictKeys []string
	// UpdateCols are overwritten on conflict. Nil means every column that is
	// not a conflict key.
	UpdateCols []string
}

// UpsertResult splits affected rows into fresh inserts and updates.
type UpsertResult struct {
	Inserted int
	Updated  int
}

func (c UpsertConfig) validate() error {
	switch {
	case len(c.Columns) == 0:
		return eris.New("db: upsert: no columns specified")
	case len(c.ConflictKeys) == 0:
		return eris.New("db: upsert: no conflict keys specified")
	}
	return nil
}

func (c UpsertConfig) updateCols() []string {
	if c.UpdateCols != nil {
		return c.UpdateCols
	}
	return lo.Without(c.Columns, c.ConflictKeys...)
}

// BulkUpsert stages rows with COPY into a transaction-scoped temp table and
// merges them into the target in one INSERT ... ON CONFLICT. Rows whose
// xmax is zero after the merge were created by it.
func BulkUpsert(ctx context.Context, pool Pool, cfg UpsertConfig, rows [][]any) (UpsertResult, error) {
	if len(rows) == 0 {
		return UpsertResult{}, nil
	}
	if err := cfg.validate(); err != nil {
		return UpsertResult{}, err
	}

	tx, err := pool.Begin(ctx)
	if err != nil {
		return UpsertResult{}, eris.Wrap(err, "db: upsert: begin tx")
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	staging := TempTableName(cfg.Table)
	ddl := fmt.Sprintf("CREATE TEMP TABLE %s (LIKE %s INCLUDING DEFAULTS) ON COMMIT DROP",
		pgx.Identifier{staging}.Sanitize(), sanitizeTable(cfg.Table))
	if _, err := tx.Exec(ctx, ddl); err != nil {
		return UpsertResult{}, eris.Wrapf(err, "db: upsert: create staging table for %s", cfg.Table)
	}
	if _, err := tx.CopyFrom(ctx, pgx.Identifier{staging}, cfg.Columns, pgx.CopyFromRows(rows)); err != nil {
		return UpsertResult{}, eris.Wrapf(err, "db: upsert: COPY into temp table for %s", cfg.Table)
	}

	merge, args, err := upsertSQL(cfg, staging)
	if err != nil {
		return UpsertResult{}, eris.Wrap(err, "db: upsert: build merge")
	}
	res, err := tx.Query(ctx, merge, args...)
	if err != nil {
		return UpsertResult{}, eris.Wrapf(err, "db: upsert: merge into %s", cfg.Table)
	}
	inserted, err := pgx.CollectRows(res, pgx.RowTo[bool])
	if err != nil {
		return UpsertResult{}, eris.Wrapf(err, "db: upsert: merge into %s", cfg.Table)
	}

	if err := tx.Commit(ctx); err != nil {
		return UpsertResult{}, eris.Wrap(err, "db: upsert: commit tx")
	}
	n := lo.Count(inserted, true)
	return UpsertResult{Inserted: n, Updated: len(inserted) - n}, nil
}

// TempTableName is the staging table used for table.
func TempTableName(table string) string {
	return "_tmp_upsert_" + strings.ReplaceAll(table, ".", "_")
}

func upsertSQL(cfg UpsertConfig, staging string) (string, []any, error) {
	cols := quoteAll(cfg.Columns)
	set := lo.Map(cfg.updateCols(), func(col string, _ int) string {
		q := pgx.Identifier{col}.Sanitize()
		return q + " = EXCLUDED." + q
	})

	return sq.Insert(sanitizeTable(cfg.Table)).
		Columns(cols...).
		Select(sq.Select(cols...).From(pgx.Identifier{staging}.Sanitize())).
		Suffix(fmt.Sprintf("ON CONFLICT (%s) DO UPDATE SET %s RETURNING (xmax = 0) AS inserted",
			strings.Join(quoteAll(cfg.ConflictKeys), ", "), strings.Join(set, ", "))).
		ToSql()
}

// sanitizeTable quotes a table name, splitting an optional schema prefix.
func sanitizeTable(table string) string {
	return pgx.Identifier(strings.SplitN(table, ".", 2)).Sanitize()
}

func quoteAll(cols []string) []string {
	return lo.Map(cols, func(c string, _ int) string { return pgx.Identifier{c}.Sanitize() })
}
