package funnel

import (
	"github.com/shopspring/decimal"

	"github.com/ciplastic/funnel-dashboard/internal/model"
)

// HighValueThreshold splits closing opportunities into high and medium value.
const HighValueThreshold = 50000

var hundred = decimal.NewFromInt(100)

// Percent returns part/total as a percentage with two decimals, or "0" when
// total is zero.
func Percent(part, total int) string {
	if total <= 0 {
		return "0"
	}
	return ratio(part, total).StringFixed(2)
}

func ratio(part, total int) decimal.Decimal {
	return decimal.NewFromInt(int64(part)).Mul(hundred).Div(decimal.NewFromInt(int64(total)))
}

// BuildFunnel computes the headline funnel for an already filtered set.
func BuildFunnel(opps []model.Opportunity, tax *Taxonomy) model.FunnelMetrics {
	f := model.FunnelMetrics{
		TotalLeads: len(opps),
		PorEtapa:   make(map[string]int, StageCount),
	}
	for _, s := range tax.Stages() {
		f.PorEtapa[s.Key] = 0
	}

	for _, o := range opps {
		id := o.PipelineStageID
		if s, ok := tax.Lookup(id); ok {
			f.PorEtapa[s.Key]++
		}
		if tax.IsQualified(id) {
			f.LeadsCalificados++
		}
		if tax.IsScheduled(id) {
			f.AgendadasValoracion++
		}
		if tax.IsQuoted(id) {
			f.ValoradasCotizacion++
		}
		if tax.IsNoAnswer(id) {
			f.NoContactoValoracion++
		}
		if tax.IsClosing(id) {
			f.OportunidadesCierreTotal++
			switch v := o.MonetaryValue; {
			case v > HighValueThreshold:
				f.OportunidadesCierreAlta++
			case v > 0:
				f.OportunidadesCierreMedia++
			}
		}
		if tax.IsClosed(id) {
			f.DepositosRealizados++
			f.TotalDepositos += o.MonetaryValue
			if IsCampaignDeposit(o) {
				f.DepositosCampanas++
				f.TotalDepositosCampanas += o.MonetaryValue
			}
		}
	}

	f.TasaConversion = Percent(f.DepositosRealizados, f.TotalLeads)
	f.TasaContacto = Percent(f.LeadsCalificados, f.TotalLeads)
	return f
}
