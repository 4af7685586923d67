package funnel

import (
	"time"

	"github.com/ciplastic/funnel-dashboard/internal/model"
)

var testLoc = time.FixedZone("CST", -6*60*60)

func at(y int, m time.Month, d, h int) time.Time {
	return time.Date(y, m, d, h, 0, 0, 0, testLoc)
}

type oppOpt func(*model.Opportunity)

func withValue(v float64) oppOpt { return func(o *model.Opportunity) { o.MonetaryValue = v } }

func withSource(s string) oppOpt { return func(o *model.Opportunity) { o.Source = s } }

func withTags(tags ...string) oppOpt {
	return func(o *model.Opportunity) { o.Contact.Tags = tags }
}

func withCreated(t time.Time) oppOpt { return func(o *model.Opportunity) { o.CreatedAt = t } }

func withUpdated(t time.Time) oppOpt { return func(o *model.Opportunity) { o.UpdatedAt = t } }

// newOpp builds an opportunity at the stage with the given key, created
// 2025-03-10 12:00 local unless overridden.
func newOpp(id, stageKey string, opts ...oppOpt) model.Opportunity {
	o := model.Opportunity{
		ID:              id,
		PipelineStageID: DefaultTaxonomy().StageID(stageKey),
		CreatedAt:       at(2025, time.March, 10, 12),
	}
	if stageKey != "" && o.PipelineStageID == "" {
		o.PipelineStageID = stageKey
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}
