// Package dashboard answers metrics requests from the cheapest fresh tier:
// process memory, persisted snapshot, persisted records, then the CRM.
package dashboard

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/ciplastic/funnel-dashboard/internal/cache"
	"github.com/ciplastic/funnel-dashboard/internal/funnel"
	"github.com/ciplastic/funnel-dashboard/internal/model"
	"github.com/ciplastic/funnel-dashboard/internal/monitoring"
	"github.com/ciplastic/funnel-dashboard/internal/store"
)

const (
	DefaultTTL        = 5 * time.Minute
	DefaultBufferDays = 1
)

// ErrAdsNotConfigured is returned by ad routes when no Meta credentials are set.
var ErrAdsNotConfigured = eris.New("dashboard: meta ads not configured")

// Source is a CRM that can list every opportunity of one pipeline.
type Source interface {
	Provider() string
	Fetch(ctx context.Context) ([]model.Opportunity, error)
	Stages(ctx context.Context) ([]model.Stage, error)
}

// AdsSource supplies ad account data.
type AdsSource interface {
	Configured() bool
	AccountSummary(ctx context.Context, since, until string) (*model.AccountSummary, error)
	ActiveCampaigns(ctx context.Context) ([]model.ActiveCampaign, error)
}

// Options tune a single Metrics call.
type Options struct {
	// ForceRefresh skips every cached tier and re-fetches from the CRM.
	ForceRefresh bool
}

// Service owns the in-memory tier and coordinates the store and CRM.
type Service struct {
	store      store.Store
	source     Source
	ads        AdsSource
	calc       *funnel.Calculator
	mode       funnel.CrossRefMode
	ttl        time.Duration
	bufferDays int
	now        cache.Clock
	metrics    *monitoring.Metrics

	memory *cache.TTL[*model.MetricsResult]
	live   singleflight.Group
}

// Option configures a Service.
type Option func(*Service)

// WithAds enables the campaign routes.
func WithAds(a AdsSource) Option { return func(s *Service) { s.ads = a } }

// WithTTL sets the freshness window shared by the memory and snapshot tiers.
func WithTTL(ttl time.Duration) Option {
	return func(s *Service) {
		if ttl > 0 {
			s.ttl = ttl
		}
	}
}

// WithBufferDays widens store reads on each side of the requested range.
func WithBufferDays(d int) Option {
	return func(s *Service) {
		if d >= 0 {
			s.bufferDays = d
		}
	}
}

// WithCrossRefMode selects how CRM outcomes are attributed to ads.
func WithCrossRefMode(m funnel.CrossRefMode) Option {
	return func(s *Service) { s.mode = m }
}

// WithClock injects the time source used for snapshot and memory freshness.
func WithClock(now cache.Clock) Option { return func(s *Service) { s.now = now } }

// WithMetrics records tier hits and fetch timings.
func WithMetrics(m *monitoring.Metrics) Option { return func(s *Service) { s.metrics = m } }

// New creates a Service. calc may be nil for the default taxonomy in local time.
func New(st store.Store, src Source, calc *funnel.Calculator, opts ...Option) *Service {
	s := &Service{
		store:      st,
		source:     src,
		calc:       calc,
		mode:       funnel.CrossRefProportional,
		ttl:        DefaultTTL,
		bufferDays: DefaultBufferDays,
		now:        time.Now,
	}
	for _, o := range opts {
		o(s)
	}
	if s.calc == nil {
		s.calc = funnel.NewCalculator(nil, nil)
	}
	s.memory = cache.New[*model.MetricsResult](s.ttl, cache.WithClock(s.now))
	return s
}

// Calculator exposes the calculator shared with other consumers.
func (s *Service) Calculator() *funnel.Calculator { return s.calc }

// Metrics returns the full result for r.
func (s *Service) Metrics(ctx context.Context, r funnel.DateRange, opts Options) (*model.MetricsResult, error) {
	res, _, err := s.Lookup(ctx, r, opts)
	return res, err
}

// Lookup returns the result for r and the tier that served it. Results are
// cached exactly as first served, so repeated calls within the TTL return
// identical payloads.
func (s *Service) Lookup(ctx context.Context, r funnel.DateRange, opts Options) (*model.MetricsResult, model.ResultSource, error) {
	log := zap.L().With(zap.String("range", r.Key()))

	if !opts.ForceRefresh {
		if res, ok := s.memory.Get(r.Key()); ok {
			return s.served(res, model.SourceMemory)
		}

		snap, err := s.store.ReadSnapshot(ctx, snapshotKey(r))
		if err != nil {
			return nil, "", eris.Wrap(err, "dashboard: read snapshot")
		}
		if snap != nil && snap.Data != nil && s.now().Sub(snap.FetchedAt) < s.ttl {
			s.memory.Set(r.Key(), snap.Data)
			return s.served(snap.Data, model.SourceSnapshot)
		}

		count, err := s.store.Count(ctx)
		if err != nil {
			return nil, "", eris.Wrap(err, "dashboard: count records")
		}
		if count > 0 {
			opps, err := s.readRange(ctx, r)
			if err != nil {
				return nil, "", err
			}
			res := s.calc.ComputeRange(opps, r)
			if err := s.persist(ctx, r, res); err != nil {
				return nil, "", err
			}
			log.Debug("dashboard: computed from store", zap.Int("records", len(opps)))
			return s.served(res, model.SourceStore)
		}
		log.Info("dashboard: store empty, bootstrapping from crm")
	}

	fetched, err := s.fetchLive(ctx)
	if err != nil {
		return nil, "", err
	}
	res := s.calc.ComputeRange(fetched.opps, r)
	if err := s.persist(ctx, r, res); err != nil {
		return nil, "", err
	}
	return s.served(res, model.SourceLive)
}

func (s *Service) served(res *model.MetricsResult, tier model.ResultSource) (*model.MetricsResult, model.ResultSource, error) {
	s.metrics.Tier(string(tier))
	return res, tier, nil
}

// Records returns the stored opportunities created inside r.
func (s *Service) Records(ctx context.Context, r funnel.DateRange) ([]model.Opportunity, error) {
	opps, err := s.readRange(ctx, r)
	if err != nil {
		return nil, err
	}
	return funnel.FilterByDateRange(opps, r), nil
}

// Stages lists the CRM pipeline stages.
func (s *Service) Stages(ctx context.Context) ([]model.Stage, error) {
	stages, err := s.source.Stages(ctx)
	if err != nil {
		s.metrics.UpstreamError(s.source.Provider())
		return nil, eris.Wrap(err, "dashboard: stages")
	}
	return stages, nil
}

// StoredCount reports how many opportunities are persisted.
func (s *Service) StoredCount(ctx context.Context) (int, error) {
	n, err := s.store.Count(ctx)
	return n, eris.Wrap(err, "dashboard: count records")
}

// fetchLive pulls every opportunity from the CRM and persists it. Concurrent
// callers share one in-flight fetch, which runs to completion even if the
// caller that started it goes away.
func (s *Service) fetchLive(ctx context.Context) (liveFetch, error) {
	ctx = context.WithoutCancel(ctx)
	v, err, shared := s.live.Do("live", func() (any, error) {
		start := time.Now()
		opps, err := s.source.Fetch(ctx)
		if err != nil {
			s.metrics.UpstreamError(s.source.Provider())
			return nil, eris.Wrapf(err, "dashboard: fetch from %s", s.source.Provider())
		}
		s.metrics.LiveFetch(time.Since(start))

		res, err := s.store.WriteRecords(ctx, opps)
		if err != nil {
			return nil, eris.Wrap(err, "dashboard: write records")
		}
		s.metrics.SyncRecords(res.New, res.Updated)
		s.memory.Purge()
		zap.L().Info("dashboard: live fetch stored",
			zap.String("provider", s.source.Provider()),
			zap.Int("fetched", len(opps)),
			zap.Int("new", res.New),
			zap.Int("updated", res.Updated),
			zap.Duration("elapsed", time.Since(start)),
		)
		return liveFetch{opps: opps, written: res}, nil
	})
	if err != nil {
		return liveFetch{}, err
	}
	if shared {
		zap.L().Debug("dashboard: joined in-flight fetch")
	}
	return v.(liveFetch), nil
}

type liveFetch struct {
	opps    []model.Opportunity
	written store.WriteResult
}

func (s *Service) readRange(ctx context.Context, r funnel.DateRange) ([]model.Opportunity, error) {
	from, to := r.Buffered(s.bufferDays)
	opps, err := s.store.ReadRecords(ctx, from, to)
	if err != nil {
		return nil, eris.Wrap(err, "dashboard: read records")
	}
	return opps, nil
}

func (s *Service) persist(ctx context.Context, r funnel.DateRange, res *model.MetricsResult) error {
	if err := s.store.WriteSnapshot(ctx, snapshotKey(r), res); err != nil {
		return eris.Wrap(err, "dashboard: write snapshot")
	}
	s.memory.Set(r.Key(), res)
	return nil
}

func snapshotKey(r funnel.DateRange) store.SnapshotKey {
	return store.SnapshotKey{StartDate: r.Start, EndDate: r.End}
}
