package funnel

import (
	"time"

	"github.com/ciplastic/funnel-dashboard/internal/model"
)

// Calculator runs every metric builder over one filtered record set.
type Calculator struct {
	Taxonomy *Taxonomy
	Rules    ChannelRules
	Location *time.Location
	Now      func() time.Time
}

// NewCalculator returns a Calculator with default rules and the given
// taxonomy and timezone.
func NewCalculator(tax *Taxonomy, loc *time.Location) *Calculator {
	if tax == nil {
		tax = DefaultTaxonomy()
	}
	if loc == nil {
		loc = time.Local
	}
	return &Calculator{Taxonomy: tax, Rules: DefaultChannelRules, Location: loc, Now: time.Now}
}

// Compute builds the full result for opps, which must already be filtered
// to the requested range.
func (c *Calculator) Compute(opps []model.Opportunity) *model.MetricsResult {
	now := time.Now
	if c.Now != nil {
		now = c.Now
	}
	return &model.MetricsResult{
		Funnel:  BuildFunnel(opps, c.Taxonomy),
		Stages:  BuildStageDistribution(opps, c.Taxonomy),
		Times:   BuildTimeStats(opps, c.Taxonomy),
		Sources: BuildSourceMetrics(opps, c.Taxonomy, c.Rules),
		Trend:   BuildDailyTrend(opps, c.Taxonomy, c.Location),
		Meta: model.ResultMeta{
			TotalOpportunities: len(opps),
			FetchedAt:          now().UTC(),
		},
	}
}

// ComputeRange filters opps to r and computes the result.
func (c *Calculator) ComputeRange(opps []model.Opportunity, r DateRange) *model.MetricsResult {
	return c.Compute(FilterByDateRange(opps, r))
}
