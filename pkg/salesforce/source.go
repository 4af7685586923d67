package salesforce

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/ciplastic/funnel-dashboard/internal/model"
)

// sfTimeLayout is the REST datetime format ("+0000" offset).
const sfTimeLayout = "2006-01-02T15:04:05.000-0700"

// StageMapper resolves a StageName to a pipeline stage id. An empty result
// keeps the StageName itself as the id.
type StageMapper func(stageName string) string

// Source adapts a Client to the dashboard's CRM record source.
type Source struct {
	client Client
	mapper StageMapper
	since  time.Time
}

// SourceOption configures a Source.
type SourceOption func(*Source)

// WithStageMapper sets how StageName values become stage ids.
func WithStageMapper(m StageMapper) SourceOption {
	return func(s *Source) { s.mapper = m }
}

// WithSince restricts fetches to opportunities created at or after t.
func WithSince(t time.Time) SourceOption {
	return func(s *Source) { s.since = t }
}

// NewSource returns a record source backed by c.
func NewSource(c Client, opts ...SourceOption) *Source {
	s := &Source{client: c}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Provider names the CRM backing this source.
func (s *Source) Provider() string { return "salesforce" }

// Fetch returns every opportunity normalised to the dashboard model.
func (s *Source) Fetch(ctx context.Context) ([]model.Opportunity, error) {
	recs, err := s.client.Opportunities(ctx, s.since)
	if err != nil {
		return nil, err
	}
	out := make([]model.Opportunity, len(recs))
	for i, r := range recs {
		out[i] = s.normalize(r)
	}
	zap.L().Info("sf: fetched opportunities", zap.Int("total", len(out)))
	return out, nil
}

// Stages lists the active StageName values in picklist order.
func (s *Source) Stages(ctx context.Context) ([]model.Stage, error) {
	values, err := s.client.StagePicklist(ctx)
	if err != nil {
		return nil, err
	}
	var out []model.Stage
	for _, v := range values {
		if !v.Active {
			continue
		}
		out = append(out, model.Stage{ID: s.stageID(v.Label, v.Value), DisplayName: v.Label, Ordinal: len(out)})
	}
	return out, nil
}

func (s *Source) stageID(name, fallback string) string {
	if s.mapper != nil {
		if id := s.mapper(name); id != "" {
			return id
		}
	}
	return fallback
}

func (s *Source) normalize(r Opportunity) model.Opportunity {
	status := "open"
	switch {
	case r.IsWon:
		status = "won"
	case r.IsClosed:
		status = "lost"
	}
	o := model.Opportunity{
		ID:              r.ID,
		Name:            r.Name,
		PipelineStageID: s.stageID(r.StageName, r.StageName),
		Status:          status,
		CreatedAt:       parseSFTime(r.CreatedDate),
		UpdatedAt:       parseSFTime(r.LastModifiedDate),
		Source:          r.LeadSource,
		Contact:         model.Contact{ID: r.AccountID, Tags: []string{}},
	}
	if r.Amount != nil {
		o.MonetaryValue = *r.Amount
	}
	return o
}

func parseSFTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	for _, layout := range []string{sfTimeLayout, time.RFC3339Nano} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC()
		}
	}
	return time.Time{}
}
