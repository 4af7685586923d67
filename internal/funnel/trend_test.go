package funnel

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/ciplastic/funnel-dashboard/internal/model"
)

func TestBuildDailyTrend(t *testing.T) {
	t.Parallel()

	opps := []model.Opportunity{
		newOpp("1", KeyNuevoLead, withCreated(at(2025, time.March, 12, 9))),
		newOpp("2", KeyValoracionRealizada, withCreated(at(2025, time.March, 12, 18))),
		newOpp("3", KeyDeposito, withCreated(at(2025, time.March, 3, 10))),
		// 02:00 UTC on the 6th is the evening of the 5th locally.
		newOpp("4", KeyFechaCirugia, withCreated(time.Date(2025, 3, 6, 2, 0, 0, 0, time.UTC))),
		newOpp("5", KeyNuevoLead, withCreated(time.Time{})),
	}

	got := BuildDailyTrend(opps, DefaultTaxonomy(), testLoc)
	assert.Equal(t, []model.TrendPoint{
		{Date: "2025-03-03", Leads: 1, Valoraciones: 1, Depositos: 1},
		{Date: "2025-03-05", Leads: 1, Valoraciones: 1, Depositos: 1},
		{Date: "2025-03-12", Leads: 2, Valoraciones: 1, Depositos: 0},
	}, got)
}

func TestBuildDailyTrend_SparseOverRange(t *testing.T) {
	t.Parallel()

	r := MustDateRange("2025-03-01", "2025-03-31", testLoc)
	opps := FilterByDateRange([]model.Opportunity{
		newOpp("1", KeyInteres, withCreated(at(2025, time.March, 1, 8))),
		newOpp("2", KeyInteres, withCreated(at(2025, time.March, 31, 20))),
	}, r)

	got := BuildDailyTrend(opps, DefaultTaxonomy(), testLoc)
	assert.Len(t, got, 2)
	for _, p := range got {
		assert.Positive(t, p.Leads)
	}
}
