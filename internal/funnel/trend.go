package funnel

import (
	"sort"
	"time"

	"github.com/ciplastic/funnel-dashboard/internal/model"
)

// BuildDailyTrend buckets records by local calendar day of creation. Days
// without records are omitted; the result is sorted by date ascending.
func BuildDailyTrend(opps []model.Opportunity, tax *Taxonomy, loc *time.Location) []model.TrendPoint {
	if loc == nil {
		loc = time.Local
	}
	days := make(map[string]*model.TrendPoint)
	for _, o := range opps {
		if !o.HasCreatedAt() {
			continue
		}
		key := o.CreatedAt.In(loc).Format(DateLayout)
		p, ok := days[key]
		if !ok {
			p = &model.TrendPoint{Date: key}
			days[key] = p
		}
		p.Leads++
		if tax.IsQuoted(o.PipelineStageID) {
			p.Valoraciones++
		}
		if tax.IsClosed(o.PipelineStageID) {
			p.Depositos++
		}
	}

	out := make([]model.TrendPoint, 0, len(days))
	for _, p := range days {
		out = append(out, *p)
	}
	// YYYY-MM-DD sorts lexically in date order.
	sort.Slice(out, func(i, j int) bool { return out[i].Date < out[j].Date })
	return out
}
