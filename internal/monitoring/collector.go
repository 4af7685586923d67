package monitoring

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/ciplastic/funnel-dashboard/internal/model"
)

// HealthSnapshot holds a point-in-time view of sync health.
type HealthSnapshot struct {
	// Sync runs within the lookback window.
	SyncTotal     int     `json:"sync_total"`
	SyncSucceeded int     `json:"sync_succeeded"`
	SyncFailed    int     `json:"sync_failed"`
	SyncRunning   int     `json:"sync_running"`
	SyncFailRate  float64 `json:"sync_fail_rate"`

	// Most recent run regardless of window.
	LastStatus  model.SyncStatus `json:"last_status,omitempty"`
	LastError   string           `json:"last_error,omitempty"`
	LastSuccess time.Time        `json:"last_success,omitempty"`

	StoredOpportunities int `json:"stored_opportunities"`

	LookbackHours int       `json:"lookback_hours"`
	CollectedAt   time.Time `json:"collected_at"`
}

// SinceLastSuccess is the age of the newest succeeded run, or -1 when none
// was seen in the window.
func (h *HealthSnapshot) SinceLastSuccess() time.Duration {
	if h.LastSuccess.IsZero() {
		return -1
	}
	return h.CollectedAt.Sub(h.LastSuccess)
}

// SyncReader is the part of the store the collector reads.
type SyncReader interface {
	Count(ctx context.Context) (int, error)
	ListSyncs(ctx context.Context, since time.Time, limit int) ([]model.SyncRun, error)
	LastSync(ctx context.Context) (*model.SyncRun, error)
}

// Collector gathers sync health from the store.
type Collector struct {
	store SyncReader
	now   func() time.Time
}

// NewCollector creates a new health collector.
func NewCollector(st SyncReader) *Collector {
	return &Collector{store: st, now: time.Now}
}

// Collect gathers a snapshot of sync health over the given lookback window.
func (c *Collector) Collect(ctx context.Context, lookbackHours int) (*HealthSnapshot, error) {
	now := c.now().UTC()
	snap := &HealthSnapshot{
		LookbackHours: lookbackHours,
		CollectedAt:   now,
	}

	cutoff := now.Add(-time.Duration(lookbackHours) * time.Hour)
	runs, err := c.store.ListSyncs(ctx, cutoff, 1000)
	if err != nil {
		return nil, eris.Wrap(err, "monitoring: list syncs")
	}

	snap.SyncTotal = len(runs)
	for _, r := range runs {
		switch r.Status {
		case model.SyncSucceeded:
			snap.SyncSucceeded++
			if r.StartedAt.After(snap.LastSuccess) {
				snap.LastSuccess = r.StartedAt
			}
		case model.SyncFailed:
			snap.SyncFailed++
		case model.SyncRunning:
			snap.SyncRunning++
		}
	}
	if finished := snap.SyncSucceeded + snap.SyncFailed; finished > 0 {
		snap.SyncFailRate = float64(snap.SyncFailed) / float64(finished)
	}

	last, err := c.store.LastSync(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "monitoring: last sync")
	}
	if last != nil {
		snap.LastStatus = last.Status
		snap.LastError = last.Error
	}

	count, err := c.store.Count(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "monitoring: count opportunities")
	}
	snap.StoredOpportunities = count

	return snap, nil
}
