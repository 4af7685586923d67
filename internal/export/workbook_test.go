package export

import (
	"bytes"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tealeg/xlsx/v2"

	"github.com/ciplastic/funnel-dashboard/internal/funnel"
	"github.com/ciplastic/funnel-dashboard/internal/model"
)

func sampleResult() *model.MetricsResult {
	return &model.MetricsResult{
		Funnel: model.FunnelMetrics{
			TotalLeads:          12,
			LeadsCalificados:    8,
			DepositosRealizados: 2,
			TotalDepositos:      45000,
			TasaConversion:      "16.67",
			TasaContacto:        "80.00",
		},
		Stages: []model.StageBucket{
			{Stage: "E1. NUEVO LEAD", Key: funnel.KeyNuevoLead, Count: 4},
			{Stage: "E9. DEPOSITO", Key: funnel.KeyDeposito, Count: 2, Value: 45000},
		},
		Times: model.TimeStats{PromedioTiempoCierre: 9, TiempoMinimoCierre: 3, TiempoMaximoCierre: 15, OportunidadesAnalizadas: 2},
		Sources: []model.ChannelMetrics{{
			Source: "Facebook", Total: 7, Depositos: 2, ValorTotal: 45000, TasaConversion: "28.6",
			Campaigns: []model.CampaignMetrics{{Name: "lipo-marzo", Total: 5, Depositos: 2, TasaConversion: "40.0"}},
		}},
		Trend: []model.TrendPoint{{Date: "2025-03-01", Leads: 3}, {Date: "2025-03-02", Leads: 1, Depositos: 1}},
	}
}

// sheetRows flattens a sheet to its formatted cell strings.
func sheetRows(t *testing.T, sheet *xlsx.Sheet) [][]string {
	t.Helper()
	var out [][]string
	for _, row := range sheet.Rows {
		var cells []string
		for _, c := range row.Cells {
			cells = append(cells, c.Value)
		}
		out = append(out, cells)
	}
	return out
}

func TestWriteWorkbook_Sheets(t *testing.T) {
	r := funnel.MustDateRange("2025-03-01", "2025-03-31", nil)
	var buf bytes.Buffer
	require.NoError(t, WriteWorkbook(&buf, r, sampleResult(), nil))

	f, err := xlsx.OpenBinary(buf.Bytes())
	require.NoError(t, err)

	var names []string
	for _, s := range f.Sheets {
		names = append(names, s.Name)
	}
	assert.Equal(t, []string{SheetSummary, SheetStages, SheetSources, SheetTrend}, names)

	summary := sheetRows(t, f.Sheet[SheetSummary])
	assert.Equal(t, []string{"Métrica", "Valor"}, summary[0])
	assert.Equal(t, []string{"Periodo", "2025-03-01 al 2025-03-31"}, summary[1])
	assert.Equal(t, []string{"Total Leads", "12"}, summary[2])

	stages := sheetRows(t, f.Sheet[SheetStages])
	require.Len(t, stages, 3)
	assert.Equal(t, "E9. DEPOSITO", stages[2][0])
	assert.Equal(t, "2", stages[2][2])

	sources := sheetRows(t, f.Sheet[SheetSources])
	require.Len(t, sources, 3, "header, channel, campaign")
	assert.Equal(t, "Facebook", sources[1][0])
	assert.Equal(t, "lipo-marzo", sources[2][1])
	assert.Equal(t, "40.0", sources[2][7])

	trend := sheetRows(t, f.Sheet[SheetTrend])
	require.Len(t, trend, 3)
	assert.Equal(t, []string{"2025-03-02", "1", "0", "1"}, trend[2])
}

func TestWriteWorkbook_Campaigns(t *testing.T) {
	r := funnel.MustDateRange("2025-03-01", "2025-03-31", nil)
	ads := &model.AccountSummary{
		Spend: 1200, Impressions: 50000, Clicks: 900, Leads: 30, CTR: "1.80",
		GHLTotals: &model.CRMTotals{Total: 7, Calificados: 5, Cierres: 2, Valor: 45000},
		Campaigns: []model.CampaignInsight{
			{CampaignName: "Lipo", Status: "ACTIVE", Spend: 800, Leads: 20, GHLLeads: 5, GHLCierres: 1, GHLValor: 30000, GHLConversion: "20.0"},
		},
	}

	path := filepath.Join(t.TempDir(), "funnel.xlsx")
	require.NoError(t, SaveWorkbook(path, r, sampleResult(), ads))

	f, err := xlsx.OpenFile(path)
	require.NoError(t, err)
	sheet, ok := f.Sheet[SheetCampaigns]
	require.True(t, ok)

	rows := sheetRows(t, sheet)
	require.Len(t, rows, 3, "header, campaign, total")
	assert.Equal(t, "Lipo", rows[1][0])
	assert.Equal(t, "ACTIVE", rows[1][1])
	assert.Equal(t, "5", rows[1][8])
	assert.Equal(t, "20.0", rows[1][12])
	assert.Equal(t, "Total", rows[2][0])
	assert.Equal(t, "30", rows[2][6])
	assert.Equal(t, "7", rows[2][8])

	spend, err := sheet.Rows[1].Cells[2].Float()
	require.NoError(t, err)
	assert.InDelta(t, 800, spend, 0.001)
}

func TestWriteWorkbook_NilResult(t *testing.T) {
	var buf bytes.Buffer
	err := WriteWorkbook(&buf, funnel.DateRange{}, nil, nil)
	require.Error(t, err)
	assert.Zero(t, buf.Len())
}
