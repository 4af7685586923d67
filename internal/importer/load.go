package importer

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/ciplastic/funnel-dashboard/internal/funnel"
	"github.com/ciplastic/funnel-dashboard/internal/model"
	"github.com/ciplastic/funnel-dashboard/internal/store"
)

// Provider is the sync run provider recorded for file imports.
const Provider = "import"

// Writer is the subset of the store an import writes to.
type Writer interface {
	WriteRecords(ctx context.Context, opps []model.Opportunity) (store.WriteResult, error)
	RecordSync(ctx context.Context, run model.SyncRun) error
}

// Summary reports what one import did.
type Summary struct {
	RunID    string     `json:"runId"`
	Rows     int        `json:"rows"`
	Imported int        `json:"imported"`
	New      int        `json:"new"`
	Updated  int        `json:"updated"`
	Skipped  []RowError `json:"skipped,omitempty"`
}

// Load reads the export at path, upserts its opportunities and records the
// run in the sync history.
func Load(ctx context.Context, w Writer, path string, tax *funnel.Taxonomy, loc *time.Location) (*Summary, error) {
	log := zap.L().With(zap.String("file", path))
	run := model.SyncRun{
		ID:        uuid.NewString(),
		Provider:  Provider,
		Status:    model.SyncRunning,
		StartedAt: time.Now().UTC(),
	}

	fail := func(err error) (*Summary, error) {
		run.Status = model.SyncFailed
		run.Error = err.Error()
		run.FinishedAt = time.Now().UTC()
		if rerr := w.RecordSync(context.WithoutCancel(ctx), run); rerr != nil {
			log.Warn("importer: record failed run", zap.Error(rerr))
		}
		return nil, err
	}

	rows, err := ReadFile(ctx, path)
	if err != nil {
		return fail(err)
	}
	parsed, err := Parse(rows, tax, loc)
	if err != nil {
		return fail(err)
	}
	for _, s := range parsed.Skipped {
		log.Debug("importer: row skipped", zap.Int("row", s.Row), zap.String("reason", s.Reason))
	}

	res, err := w.WriteRecords(ctx, parsed.Opportunities)
	if err != nil {
		return fail(eris.Wrap(err, "importer: write records"))
	}

	run.Status = model.SyncSucceeded
	run.Fetched = len(parsed.Opportunities)
	run.New = res.New
	run.Updated = res.Updated
	run.FinishedAt = time.Now().UTC()
	if err := w.RecordSync(ctx, run); err != nil {
		log.Warn("importer: record run", zap.Error(err))
	}

	log.Info("importer: file loaded",
		zap.Int("rows", len(rows)-1),
		zap.Int("imported", run.Fetched),
		zap.Int("skipped", len(parsed.Skipped)),
		zap.Int("new", res.New),
		zap.Int("updated", res.Updated),
	)
	return &Summary{
		RunID:    run.ID,
		Rows:     len(rows) - 1,
		Imported: run.Fetched,
		New:      res.New,
		Updated:  res.Updated,
		Skipped:  parsed.Skipped,
	}, nil
}
