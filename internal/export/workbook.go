// Package export renders funnel results as spreadsheet workbooks.
package export

import (
	"io"
	"os"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"

	"github.com/ciplastic/funnel-dashboard/internal/funnel"
	"github.com/ciplastic/funnel-dashboard/internal/model"
)

// Sheet names, in workbook order.
const (
	SheetSummary   = "Resumen"
	SheetStages    = "Etapas"
	SheetSources   = "Fuentes"
	SheetTrend     = "Tendencia"
	SheetCampaigns = "Campañas"
)

const moneyFormat = "$#,##0.00"

// WriteWorkbook writes result, and the ad summary when non-nil, as an xlsx
// workbook to w.
func WriteWorkbook(w io.Writer, r funnel.DateRange, result *model.MetricsResult, ads *model.AccountSummary) error {
	if result == nil {
		return eris.New("export: nil metrics result")
	}
	f, err := Build(r, result, ads)
	if err != nil {
		return err
	}
	return eris.Wrap(f.Write(w), "export: write workbook")
}

// SaveWorkbook writes the workbook to path.
func SaveWorkbook(path string, r funnel.DateRange, result *model.MetricsResult, ads *model.AccountSummary) error {
	out, err := os.Create(path)
	if err != nil {
		return eris.Wrap(err, "export: create file")
	}
	if err := WriteWorkbook(out, r, result, ads); err != nil {
		out.Close() //nolint:errcheck
		return err
	}
	return eris.Wrap(out.Close(), "export: close file")
}

// Build assembles the workbook in memory.
func Build(r funnel.DateRange, result *model.MetricsResult, ads *model.AccountSummary) (*xlsx.File, error) {
	f := xlsx.NewFile()
	builders := []struct {
		name string
		fill func(*xlsx.Sheet)
	}{
		{SheetSummary, func(s *xlsx.Sheet) { fillSummary(s, r, result) }},
		{SheetStages, func(s *xlsx.Sheet) { fillStages(s, result.Stages) }},
		{SheetSources, func(s *xlsx.Sheet) { fillSources(s, result.Sources) }},
		{SheetTrend, func(s *xlsx.Sheet) { fillTrend(s, result.Trend) }},
	}
	if ads != nil {
		builders = append(builders, struct {
			name string
			fill func(*xlsx.Sheet)
		}{SheetCampaigns, func(s *xlsx.Sheet) { fillCampaigns(s, ads) }})
	}

	for _, b := range builders {
		sheet, err := f.AddSheet(b.name)
		if err != nil {
			return nil, eris.Wrapf(err, "export: add sheet %s", b.name)
		}
		b.fill(sheet)
	}
	return f, nil
}

func fillSummary(s *xlsx.Sheet, r funnel.DateRange, res *model.MetricsResult) {
	fm := res.Funnel
	header(s, "Métrica", "Valor")
	str(s.AddRow(), "Periodo", r.Start+" al "+r.End)
	intRow(s, "Total Leads", fm.TotalLeads)
	intRow(s, "Leads Calificados", fm.LeadsCalificados)
	intRow(s, "Agendadas para Valoración", fm.AgendadasValoracion)
	intRow(s, "Valoradas con Cotización", fm.ValoradasCotizacion)
	intRow(s, "No Contacto en Valoración", fm.NoContactoValoracion)
	intRow(s, "Oportunidades de Cierre", fm.OportunidadesCierreTotal)
	intRow(s, "Depósitos Realizados", fm.DepositosRealizados)
	moneyRow(s, "Valor Total Depósitos", fm.TotalDepositos)
	intRow(s, "Depósitos de Campañas", fm.DepositosCampanas)
	moneyRow(s, "Valor Depósitos de Campañas", fm.TotalDepositosCampanas)
	str(s.AddRow(), "Tasa de Contacto (%)", fm.TasaContacto)
	str(s.AddRow(), "Tasa de Conversión (%)", fm.TasaConversion)
	intRow(s, "Tiempo Promedio de Cierre (días)", res.Times.PromedioTiempoCierre)
	intRow(s, "Tiempo Mínimo de Cierre (días)", res.Times.TiempoMinimoCierre)
	intRow(s, "Tiempo Máximo de Cierre (días)", res.Times.TiempoMaximoCierre)
	intRow(s, "Oportunidades Analizadas", res.Times.OportunidadesAnalizadas)
}

func fillStages(s *xlsx.Sheet, stages []model.StageBucket) {
	header(s, "Etapa", "Clave", "Oportunidades", "Valor")
	for _, b := range stages {
		row := s.AddRow()
		row.AddCell().SetString(b.Stage)
		row.AddCell().SetString(b.Key)
		row.AddCell().SetInt(b.Count)
		row.AddCell().SetFloatWithFormat(b.Value, moneyFormat)
	}
}

func fillSources(s *xlsx.Sheet, sources []model.ChannelMetrics) {
	header(s, "Fuente", "Campaña", "Leads", "Calificados", "Valoraciones", "Depósitos", "Valor", "Conversión (%)")
	for _, c := range sources {
		row := s.AddRow()
		row.AddCell().SetString(c.Source)
		row.AddCell().SetString("")
		row.AddCell().SetInt(c.Total)
		row.AddCell().SetInt(c.Calificados)
		row.AddCell().SetInt(c.Valoraciones)
		row.AddCell().SetInt(c.Depositos)
		row.AddCell().SetFloatWithFormat(c.ValorTotal, moneyFormat)
		row.AddCell().SetString(c.TasaConversion)
		for _, camp := range c.Campaigns {
			row := s.AddRow()
			row.AddCell().SetString(c.Source)
			row.AddCell().SetString(camp.Name)
			row.AddCell().SetInt(camp.Total)
			row.AddCell().SetInt(camp.Calificados)
			row.AddCell().SetString("")
			row.AddCell().SetInt(camp.Depositos)
			row.AddCell().SetFloatWithFormat(camp.ValorTotal, moneyFormat)
			row.AddCell().SetString(camp.TasaConversion)
		}
	}
}

func fillTrend(s *xlsx.Sheet, trend []model.TrendPoint) {
	header(s, "Fecha", "Leads", "Valoraciones", "Depósitos")
	for _, p := range trend {
		row := s.AddRow()
		row.AddCell().SetString(p.Date)
		row.AddCell().SetInt(p.Leads)
		row.AddCell().SetInt(p.Valoraciones)
		row.AddCell().SetInt(p.Depositos)
	}
}

func fillCampaigns(s *xlsx.Sheet, ads *model.AccountSummary) {
	header(s, "Campaña", "Estado", "Gasto", "Impresiones", "Clics", "CTR (%)", "Leads Meta", "CPL",
		"Leads CRM", "Calificados CRM", "Cierres CRM", "Valor CRM", "Conversión CRM (%)")
	for _, c := range ads.Campaigns {
		row := s.AddRow()
		row.AddCell().SetString(c.CampaignName)
		row.AddCell().SetString(c.Status)
		row.AddCell().SetFloatWithFormat(c.Spend, moneyFormat)
		row.AddCell().SetInt(c.Impressions)
		row.AddCell().SetInt(c.Clicks)
		row.AddCell().SetString(c.CTR)
		row.AddCell().SetInt(c.Leads)
		row.AddCell().SetFloatWithFormat(c.CostPerLead, moneyFormat)
		row.AddCell().SetInt(c.GHLLeads)
		row.AddCell().SetInt(c.GHLCalificados)
		row.AddCell().SetInt(c.GHLCierres)
		row.AddCell().SetFloatWithFormat(float64(c.GHLValor), moneyFormat)
		row.AddCell().SetString(c.GHLConversion)
	}

	total := s.AddRow()
	total.AddCell().SetString("Total")
	total.AddCell().SetString("")
	total.AddCell().SetFloatWithFormat(ads.Spend, moneyFormat)
	total.AddCell().SetInt(ads.Impressions)
	total.AddCell().SetInt(ads.Clicks)
	total.AddCell().SetString(ads.CTR)
	total.AddCell().SetInt(ads.Leads)
	total.AddCell().SetFloatWithFormat(ads.AvgCostPerLead, moneyFormat)
	if t := ads.GHLTotals; t != nil {
		total.AddCell().SetInt(t.Total)
		total.AddCell().SetInt(t.Calificados)
		total.AddCell().SetInt(t.Cierres)
		total.AddCell().SetFloatWithFormat(t.Valor, moneyFormat)
	}
}

func header(s *xlsx.Sheet, titles ...string) {
	row := s.AddRow()
	for _, t := range titles {
		row.AddCell().SetString(t)
	}
}

func str(row *xlsx.Row, label, value string) {
	row.AddCell().SetString(label)
	row.AddCell().SetString(value)
}

func intRow(s *xlsx.Sheet, label string, v int) {
	row := s.AddRow()
	row.AddCell().SetString(label)
	row.AddCell().SetInt(v)
}

func moneyRow(s *xlsx.Sheet, label string, v float64) {
	row := s.AddRow()
	row.AddCell().SetString(label)
	row.AddCell().SetFloatWithFormat(v, moneyFormat)
}
