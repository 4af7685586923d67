package funnel

import (
	"math"

	"github.com/rotisserie/eris"

	"github.com/ciplastic/funnel-dashboard/internal/model"
)

// CrossRefMode selects how clinic-side closes are attributed to ads.
type CrossRefMode string

const (
	// CrossRefProportional scales the period's closes by the ad-attributed
	// share of leads. Leads tend to lose their ad tags as they move through
	// the pipeline, so a literal count under-reports ad closes.
	CrossRefProportional CrossRefMode = "proportional"
	// CrossRefFlat counts closes among records that still carry ad markers.
	CrossRefFlat CrossRefMode = "flat"
)

// ParseCrossRefMode validates a configured mode; empty means proportional.
func ParseCrossRefMode(s string) (CrossRefMode, error) {
	switch CrossRefMode(s) {
	case "", CrossRefProportional:
		return CrossRefProportional, nil
	case CrossRefFlat:
		return CrossRefFlat, nil
	default:
		return "", eris.Errorf("funnel: unknown cross-reference mode %q", s)
	}
}

// CRMTotalsFor computes the clinic-side outcomes attributable to paid social
// ads for an already filtered record set.
func CRMTotalsFor(opps []model.Opportunity, tax *Taxonomy, mode CrossRefMode) model.CRMTotals {
	var (
		t                         model.CRMTotals
		adClosed, allClosed       int
		adClosedVal, allClosedVal float64
	)
	for _, o := range opps {
		closed := tax.IsClosed(o.PipelineStageID)
		if closed {
			allClosed++
			allClosedVal += o.MonetaryValue
		}
		if !IsAdAttributed(o) {
			continue
		}
		t.Total++
		if tax.IsQualified(o.PipelineStageID) {
			t.Calificados++
		}
		if closed {
			adClosed++
			adClosedVal += o.MonetaryValue
		}
	}

	switch mode {
	case CrossRefFlat:
		t.Cierres = adClosed
		t.Valor = adClosedVal
	default:
		if len(opps) == 0 {
			return t
		}
		share := float64(t.Total) / float64(len(opps))
		t.Cierres = int(math.Round(float64(allClosed) * share))
		t.Valor = math.Round(allClosedVal * share)
	}
	return t
}

// AllocateToCampaigns distributes clinic totals across campaigns in
// proportion to each campaign's share of ad-platform leads. It is an
// allocation estimate, not a per-campaign join: the CRM does not record
// which campaign produced a lead.
func AllocateToCampaigns(summary *model.AccountSummary, totals model.CRMTotals) {
	if summary == nil {
		return
	}
	adLeads := summary.Leads
	if adLeads == 0 {
		adLeads = 1
	}
	for i := range summary.Campaigns {
		c := &summary.Campaigns[i]
		share := float64(c.Leads) / float64(adLeads)
		c.GHLLeads = int(math.Round(float64(totals.Total) * share))
		c.GHLCalificados = int(math.Round(float64(totals.Calificados) * share))
		c.GHLCierres = int(math.Round(float64(totals.Cierres) * share))
		c.GHLValor = int(math.Round(totals.Valor * share))
		c.GHLConversion = conversion1(c.GHLCierres, c.GHLLeads)
	}
	t := totals
	summary.GHLTotals = &t
}

// ZeroAllocation clears cross-reference fields when the CRM side is
// unavailable.
func ZeroAllocation(summary *model.AccountSummary) {
	if summary == nil {
		return
	}
	for i := range summary.Campaigns {
		c := &summary.Campaigns[i]
		c.GHLLeads, c.GHLCalificados, c.GHLCierres, c.GHLValor = 0, 0, 0, 0
		c.GHLConversion = "0.0"
	}
	summary.GHLTotals = &model.CRMTotals{}
}

func conversion1(part, total int) string {
	if total <= 0 {
		return "0.0"
	}
	return ratio(part, total).Round(1).StringFixed(1)
}
