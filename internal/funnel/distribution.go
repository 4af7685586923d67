package funnel

import "github.com/ciplastic/funnel-dashboard/internal/model"

// BuildStageDistribution returns one bucket per known stage in pipeline
// order. Records with unknown stage ids are dropped.
func BuildStageDistribution(opps []model.Opportunity, tax *Taxonomy) []model.StageBucket {
	stages := tax.Stages()
	out := make([]model.StageBucket, len(stages))
	for i, s := range stages {
		out[i] = model.StageBucket{StageID: s.ID, Key: s.Key, Stage: s.DisplayName}
	}
	for _, o := range opps {
		s, ok := tax.Lookup(o.PipelineStageID)
		if !ok {
			continue
		}
		out[s.Ordinal].Count++
		out[s.Ordinal].Value += o.MonetaryValue
	}
	return out
}
