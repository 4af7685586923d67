package dashboard

import (
	"context"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ciplastic/funnel-dashboard/internal/model"
)

// SyncResult summarizes one full CRM sync.
type SyncResult struct {
	RunID   string `json:"runId"`
	Fetched int    `json:"fetched"`
	New     int    `json:"new"`
	Updated int    `json:"updated"`
}

// Sync re-fetches the whole pipeline into the store and records the run.
// A sync started while a live fetch is in flight joins that fetch.
func (s *Service) Sync(ctx context.Context) (*SyncResult, error) {
	run := model.SyncRun{
		ID:        uuid.NewString(),
		Provider:  s.source.Provider(),
		Status:    model.SyncRunning,
		StartedAt: s.now().UTC(),
	}
	log := zap.L().With(zap.String("run_id", run.ID), zap.String("provider", run.Provider))
	s.recordRun(ctx, log, run)

	fetched, err := s.fetchLive(ctx)
	run.FinishedAt = s.now().UTC()
	if err != nil {
		run.Status = model.SyncFailed
		run.Error = err.Error()
		s.recordRun(context.WithoutCancel(ctx), log, run)
		return nil, err
	}

	run.Status = model.SyncSucceeded
	run.Fetched = len(fetched.opps)
	run.New = fetched.written.New
	run.Updated = fetched.written.Updated
	s.recordRun(ctx, log, run)

	log.Info("dashboard: sync complete",
		zap.Int("fetched", run.Fetched),
		zap.Int("new", run.New),
		zap.Int("updated", run.Updated),
		zap.Duration("elapsed", run.FinishedAt.Sub(run.StartedAt)),
	)
	return &SyncResult{RunID: run.ID, Fetched: run.Fetched, New: run.New, Updated: run.Updated}, nil
}

// LastSync returns the most recent recorded run, or nil.
func (s *Service) LastSync(ctx context.Context) (*model.SyncRun, error) {
	return s.store.LastSync(ctx)
}

// recordRun persists run bookkeeping. Failures here never fail the sync.
func (s *Service) recordRun(ctx context.Context, log *zap.Logger, run model.SyncRun) {
	if err := s.store.RecordSync(ctx, run); err != nil {
		log.Warn("dashboard: record sync run", zap.String("status", string(run.Status)), zap.Error(err))
	}
}

