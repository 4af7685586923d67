package importer

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ciplastic/funnel-dashboard/internal/funnel"
	"github.com/ciplastic/funnel-dashboard/internal/model"
	"github.com/ciplastic/funnel-dashboard/internal/store"
)

func newTestStore(t *testing.T) store.Store {
	t.Helper()
	s, err := store.NewSQLite(filepath.Join(t.TempDir(), "funnel.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	require.NoError(t, s.Migrate(context.Background()))
	return s
}

func writeCSV(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "export.csv")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

const exportCSV = `Opportunity ID,Stage,Created on,Lead Value,source
o1,E1. NUEVO LEAD,2025-03-01 10:00:00,,Facebook
o2,E9. DEPOSITO REALIZADO,2025-03-02 11:00:00,"$30,000",Facebook
o3,Perdido,2025-03-03 12:00:00,,Google
`

func TestLoad_WritesRecordsAndRun(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	path := writeCSV(t, exportCSV)

	sum, err := Load(ctx, st, path, funnel.DefaultTaxonomy(), time.UTC)
	require.NoError(t, err)
	assert.Equal(t, 3, sum.Rows)
	assert.Equal(t, 2, sum.Imported)
	assert.Equal(t, 2, sum.New)
	assert.Zero(t, sum.Updated)
	require.Len(t, sum.Skipped, 1)
	assert.Equal(t, 4, sum.Skipped[0].Row)

	n, err := st.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	last, err := st.LastSync(ctx)
	require.NoError(t, err)
	require.NotNil(t, last)
	assert.Equal(t, sum.RunID, last.ID)
	assert.Equal(t, Provider, last.Provider)
	assert.Equal(t, model.SyncSucceeded, last.Status)
	assert.Equal(t, 2, last.Fetched)

	again, err := Load(ctx, st, path, funnel.DefaultTaxonomy(), time.UTC)
	require.NoError(t, err)
	assert.Zero(t, again.New)
	assert.Equal(t, 2, again.Updated)
}

type failingWriter struct {
	runs []model.SyncRun
}

func (f *failingWriter) WriteRecords(context.Context, []model.Opportunity) (store.WriteResult, error) {
	return store.WriteResult{}, errors.New("disk full")
}

func (f *failingWriter) RecordSync(_ context.Context, run model.SyncRun) error {
	f.runs = append(f.runs, run)
	return nil
}

func TestLoad_RecordsFailure(t *testing.T) {
	w := &failingWriter{}

	_, err := Load(context.Background(), w, writeCSV(t, exportCSV), nil, time.UTC)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "importer: write records")
	require.Len(t, w.runs, 1)
	assert.Equal(t, model.SyncFailed, w.runs[0].Status)
	assert.Contains(t, w.runs[0].Error, "disk full")

	w.runs = nil
	_, err = Load(context.Background(), w, writeCSV(t, "name\nx\n"), nil, time.UTC)
	require.Error(t, err)
	require.Len(t, w.runs, 1)
	assert.Equal(t, model.SyncFailed, w.runs[0].Status)
}
