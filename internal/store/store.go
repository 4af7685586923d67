package store

import (
	"context"
	"time"

	"github.com/ciplastic/funnel-dashboard/internal/model"
)

// SnapshotKey identifies a cached MetricsResult by its inclusive date range.
type SnapshotKey struct {
	StartDate string `json:"startDate"`
	EndDate   string `json:"endDate"`
}

// Snapshot is a persisted MetricsResult.
type Snapshot struct {
	Key       SnapshotKey          `json:"key"`
	Data      *model.MetricsResult `json:"data"`
	FetchedAt time.Time            `json:"fetchedAt"`
}

// WriteResult counts how many written records were new versus replaced.
type WriteResult struct {
	New     int `json:"new"`
	Updated int `json:"updated"`
}

// Store defines the persistence interface for opportunities and metric snapshots.
type Store interface {
	// Opportunities
	ReadRecords(ctx context.Context, from, to time.Time) ([]model.Opportunity, error)
	WriteRecords(ctx context.Context, opps []model.Opportunity) (WriteResult, error)
	Count(ctx context.Context) (int, error)

	// Snapshots. ReadSnapshot returns nil, nil when no snapshot exists;
	// freshness is left to the caller.
	ReadSnapshot(ctx context.Context, key SnapshotKey) (*Snapshot, error)
	WriteSnapshot(ctx context.Context, key SnapshotKey, result *model.MetricsResult) error

	// Sync runs
	RecordSync(ctx context.Context, run model.SyncRun) error
	LastSync(ctx context.Context) (*model.SyncRun, error)
	ListSyncs(ctx context.Context, since time.Time, limit int) ([]model.SyncRun, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Ping(ctx context.Context) error
	Close() error
}

// opportunityColumns is the column order shared by both backends.
var opportunityColumns = []string{
	"id", "name", "pipeline_stage_id", "status", "created_at", "updated_at",
	"monetary_value", "source", "contact_id", "contact_name", "contact_tags", "synced_at",
}

var syncColumns = []string{
	"id", "provider", "status", "fetched", "new_count", "updated", "error", "started_at", "finished_at",
}

// dedupe keeps the last occurrence of each id, preserving first-seen order.
func dedupe(opps []model.Opportunity) []model.Opportunity {
	idx := make(map[string]int, len(opps))
	out := make([]model.Opportunity, 0, len(opps))
	for _, o := range opps {
		if o.ID == "" {
			continue
		}
		if i, ok := idx[o.ID]; ok {
			out[i] = o
			continue
		}
		idx[o.ID] = len(out)
		out = append(out, o)
	}
	return out
}

func nullableTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t.UTC()
}
