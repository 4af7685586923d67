package db

import (
	"context"
	"errors"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testCfg = UpsertConfig{
	Table:        "opportunities",
	Columns:      []string{"id", "source"},
	ConflictKeys: []string{"id"},
}

func newMockPool(t *testing.T) pgxmock.PgxPoolIface {
	t.Helper()
	mock, err := pgxmock.NewPool(pgxmock.QueryMatcherOption(pgxmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { mock.Close() })
	return mock
}

func TestBulkUpsert_EmptyRows(t *testing.T) {
	res, err := BulkUpsert(context.Background(), nil, testCfg, nil)
	assert.NoError(t, err)
	assert.Equal(t, UpsertResult{}, res)
}

func TestBulkUpsert_NoColumns(t *testing.T) {
	_, err := BulkUpsert(context.Background(), nil, UpsertConfig{
		Table:        "opportunities",
		ConflictKeys: []string{"id"},
	}, [][]any{{1, "a"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no columns specified")
}

func TestBulkUpsert_NoConflictKeys(t *testing.T) {
	_, err := BulkUpsert(context.Background(), nil, UpsertConfig{
		Table:   "opportunities",
		Columns: []string{"id", "source"},
	}, [][]any{{1, "a"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no conflict keys specified")
}

func TestBulkUpsert_CountsInsertsAndUpdates(t *testing.T) {
	mock := newMockPool(t)
	rows := [][]any{{"a", "facebook"}, {"b", "google"}, {"c", ""}}

	mock.ExpectBegin()
	mock.ExpectExec(`CREATE TEMP TABLE "_tmp_upsert_opportunities" \(LIKE "opportunities"`).
		WillReturnResult(pgxmock.NewResult("CREATE TABLE", 0))
	mock.ExpectCopyFrom(pgx.Identifier{"_tmp_upsert_opportunities"}, testCfg.Columns).
		WillReturnResult(3)
	mock.ExpectQuery(`INSERT INTO "opportunities" .* ON CONFLICT \("id"\) DO UPDATE SET "source" = EXCLUDED."source" RETURNING \(xmax = 0\)`).
		WillReturnRows(pgxmock.NewRows([]string{"inserted"}).AddRow(true).AddRow(false).AddRow(true))
	mock.ExpectCommit()

	res, err := BulkUpsert(context.Background(), mock, testCfg, rows)
	require.NoError(t, err)
	assert.Equal(t, UpsertResult{Inserted: 2, Updated: 1}, res)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestBulkUpsert_CopyFails(t *testing.T) {
	mock := newMockPool(t)

	mock.ExpectBegin()
	mock.ExpectExec(`CREATE TEMP TABLE`).WillReturnResult(pgxmock.NewResult("CREATE TABLE", 0))
	mock.ExpectCopyFrom(pgx.Identifier{"_tmp_upsert_opportunities"}, testCfg.Columns).
		WillReturnError(errors.New("copy failed"))
	mock.ExpectRollback()

	_, err := BulkUpsert(context.Background(), mock, testCfg, [][]any{{"a", "x"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "COPY into temp table")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpsertSQL_ExplicitUpdateCols(t *testing.T) {
	cfg := UpsertConfig{
		Table:        "public.opportunities",
		Columns:      []string{"id", "source", "status"},
		ConflictKeys: []string{"id"},
		UpdateCols:   []string{"status"},
	}
	got, args, err := upsertSQL(cfg, TempTableName(cfg.Table))
	require.NoError(t, err)
	assert.Empty(t, args)
	assert.Regexp(t, `^INSERT INTO "public"."opportunities" \("id", ?"source", ?"status"\) `+
		`SELECT "id", "source", "status" FROM "_tmp_upsert_public_opportunities" `+
		`ON CONFLICT \("id"\) DO UPDATE SET "status" = EXCLUDED."status" RETURNING \(xmax = 0\) AS inserted$`, got)
}

func TestUpsertConfig_DefaultUpdateCols(t *testing.T) {
	cfg := UpsertConfig{Columns: []string{"id", "pipeline_id", "stage", "value"}, ConflictKeys: []string{"id", "pipeline_id"}}
	assert.Equal(t, []string{"stage", "value"}, cfg.updateCols())
}

func TestBulkUpsert_MergeFails(t *testing.T) {
	mock := newMockPool(t)

	mock.ExpectBegin()
	mock.ExpectExec(`CREATE TEMP TABLE`).WillReturnResult(pgxmock.NewResult("CREATE TABLE", 0))
	mock.ExpectCopyFrom(pgx.Identifier{"_tmp_upsert_opportunities"}, testCfg.Columns).WillReturnResult(1)
	mock.ExpectQuery(`INSERT INTO`).WillReturnError(errors.New("deadlock"))
	mock.ExpectRollback()

	_, err := BulkUpsert(context.Background(), mock, testCfg, [][]any{{"a", "x"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "merge into opportunities")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSanitizeTable(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"simple", `"simple"`},
		{"public.metrics_cache", `"public"."metrics_cache"`},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			assert.Equal(t, tt.expected, sanitizeTable(tt.input))
		})
	}
}

func TestQuoteAll(t *testing.T) {
	assert.Equal(t, []string{`"id"`, `"weird""col"`}, quoteAll([]string{"id", `weird"col`}))
}
