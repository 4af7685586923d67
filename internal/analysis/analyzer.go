// Package analysis produces a narrative diagnosis of funnel metrics with an LLM.
package analysis

import (
	"context"
	"encoding/json"
	"regexp"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/ciplastic/funnel-dashboard/internal/cache"
	"github.com/ciplastic/funnel-dashboard/internal/funnel"
	"github.com/ciplastic/funnel-dashboard/internal/model"
	"github.com/ciplastic/funnel-dashboard/internal/store"
	"github.com/ciplastic/funnel-dashboard/pkg/anthropic"
)

const (
	DefaultModel     = "claude-sonnet-4-5-20250929"
	DefaultMaxTokens = 4000
	DefaultCacheTTL  = 10 * time.Minute
	DefaultBuffer    = 1
)

var (
	// ErrNotConfigured is returned when no API key was provided.
	ErrNotConfigured = eris.New("analysis: anthropic api key not configured")
	// ErrInvalidResponse is returned when the reply holds no parseable JSON object.
	ErrInvalidResponse = eris.New("analysis: model did not return valid JSON")
)

var jsonObjectRe = regexp.MustCompile(`\{[\s\S]*\}`)

// RecordSource is the subset of the store the analyzer reads from.
type RecordSource interface {
	ReadSnapshot(ctx context.Context, key store.SnapshotKey) (*store.Snapshot, error)
	ReadRecords(ctx context.Context, from, to time.Time) ([]model.Opportunity, error)
}

// AdsSummarizer supplies optional ad account data for the prompt.
type AdsSummarizer interface {
	AccountSummary(ctx context.Context, since, until string) (*model.AccountSummary, error)
}

// Analyzer builds prompts from stored metrics and caches the model's reply
// per date range.
type Analyzer struct {
	client     anthropic.Client
	records    RecordSource
	calc       *funnel.Calculator
	ads        AdsSummarizer
	model      string
	maxTokens  int64
	bufferDays int
	cache      *cache.TTL[model.Analysis]
}

// Option configures an Analyzer.
type Option func(*Analyzer)

// WithAds enables the ad account section of the prompt.
func WithAds(a AdsSummarizer) Option {
	return func(an *Analyzer) { an.ads = a }
}

// WithModel overrides the model id.
func WithModel(m string) Option {
	return func(an *Analyzer) {
		if m != "" {
			an.model = m
		}
	}
}

// WithMaxTokens overrides the response token cap.
func WithMaxTokens(n int64) Option {
	return func(an *Analyzer) {
		if n > 0 {
			an.maxTokens = n
		}
	}
}

// WithBufferDays widens store reads around the requested range.
func WithBufferDays(d int) Option {
	return func(an *Analyzer) {
		if d >= 0 {
			an.bufferDays = d
		}
	}
}

// WithCache replaces the result cache TTL and options.
func WithCache(ttl time.Duration, opts ...cache.Option) Option {
	return func(an *Analyzer) { an.cache = cache.New[model.Analysis](ttl, opts...) }
}

// New creates an Analyzer. A nil client leaves it unconfigured.
func New(client anthropic.Client, records RecordSource, calc *funnel.Calculator, opts ...Option) *Analyzer {
	a := &Analyzer{
		client:     client,
		records:    records,
		calc:       calc,
		model:      DefaultModel,
		maxTokens:  DefaultMaxTokens,
		bufferDays: DefaultBuffer,
		cache:      cache.New[model.Analysis](DefaultCacheTTL),
	}
	for _, o := range opts {
		o(a)
	}
	if a.calc == nil {
		a.calc = funnel.NewCalculator(nil, nil)
	}
	return a
}

// Configured reports whether an LLM client is available.
func (a *Analyzer) Configured() bool { return a.client != nil }

// Analyze returns the model's diagnosis of the metrics for r.
func (a *Analyzer) Analyze(ctx context.Context, r funnel.DateRange) (*model.AnalysisResult, error) {
	if !a.Configured() {
		return nil, ErrNotConfigured
	}
	log := zap.L().With(zap.String("range", r.Key()))

	if cached, ok := a.cache.Get(r.Key()); ok {
		return &model.AnalysisResult{Analysis: cached, Cached: true}, nil
	}

	data, err := a.metrics(ctx, r)
	if err != nil {
		return nil, err
	}

	var ads *model.AccountSummary
	if a.ads != nil {
		ads, err = a.ads.AccountSummary(ctx, r.Start, r.End)
		if err != nil {
			log.Warn("analysis: ad data unavailable, continuing without it", zap.Error(err))
			ads = nil
		}
	}

	resp, err := a.client.Complete(ctx, anthropic.Prompt{
		Model:          a.model,
		MaxTokens:      a.maxTokens,
		System:         systemPrompt,
		SystemCacheTTL: "5m",
		User:           buildDataPrompt(data, ads, r),
	})
	if err != nil {
		return nil, eris.Wrap(err, "analysis: request")
	}
	resp.Usage.Log(a.model, "analysis")

	out, err := parseAnalysis(resp.Text)
	if err != nil {
		return nil, err
	}
	a.cache.Set(r.Key(), out)
	log.Info("analysis: complete", zap.Int("health", out.PuntuacionSalud), zap.Int("alerts", len(out.Alertas)))
	return &model.AnalysisResult{Analysis: out}, nil
}

// metrics prefers the stored snapshot for r and otherwise computes from
// stored records.
func (a *Analyzer) metrics(ctx context.Context, r funnel.DateRange) (*model.MetricsResult, error) {
	snap, err := a.records.ReadSnapshot(ctx, store.SnapshotKey{StartDate: r.Start, EndDate: r.End})
	if err != nil {
		zap.L().Warn("analysis: snapshot read failed", zap.String("range", r.Key()), zap.Error(err))
	} else if snap != nil && snap.Data != nil {
		return snap.Data, nil
	}

	from, to := r.Buffered(a.bufferDays)
	opps, err := a.records.ReadRecords(ctx, from, to)
	if err != nil {
		return nil, eris.Wrap(err, "analysis: read records")
	}
	return a.calc.ComputeRange(opps, r), nil
}

// parseAnalysis decodes the reply, falling back to the outermost {...} span
// when the model wrapped its JSON in prose or fences.
func parseAnalysis(text string) (model.Analysis, error) {
	var out model.Analysis
	if err := json.Unmarshal([]byte(strings.TrimSpace(text)), &out); err == nil {
		return out, nil
	}
	match := jsonObjectRe.FindString(text)
	if match == "" {
		return model.Analysis{}, ErrInvalidResponse
	}
	out = model.Analysis{}
	if err := json.Unmarshal([]byte(match), &out); err != nil {
		return model.Analysis{}, eris.Wrap(ErrInvalidResponse, err.Error())
	}
	return out, nil
}
