package notion

import (
	"context"
	"fmt"
	"strconv"

	"github.com/jomei/notionapi"
	"github.com/rotisserie/eris"

	"github.com/ciplastic/funnel-dashboard/internal/funnel"
	"github.com/ciplastic/funnel-dashboard/internal/model"
)

// Report property names in the reports database.
const (
	PropTitle       = "Nombre"
	PropPeriod      = "Periodo"
	PropLeads       = "Leads"
	PropQualified   = "Calificados"
	PropDeposits    = "Depósitos"
	PropDepositSum  = "Valor Depósitos"
	PropConversion  = "Conversión"
	PropContactRate = "Contacto"
	PropAdSpend     = "Gasto Meta"
	PropHealth      = "Salud"
)

// Report is one period's funnel summary to publish. Ads and Analysis are
// optional.
type Report struct {
	Range    funnel.DateRange
	Metrics  *model.MetricsResult
	Ads      *model.AccountSummary
	Analysis *model.Analysis
}

// Title is the page title used to find an existing report for the period.
func (r Report) Title() string {
	return fmt.Sprintf("Funnel %s al %s", r.Range.Start, r.Range.End)
}

// PublishReport writes r to the database, updating the period's page when
// one already exists.
func PublishReport(ctx context.Context, c Client, dbID string, r Report) (*notionapi.Page, error) {
	if r.Metrics == nil {
		return nil, eris.New("notion: report has no metrics")
	}

	existing, err := c.FindPage(ctx, dbID, PropTitle, r.Title())
	if err != nil {
		return nil, eris.Wrap(err, "notion: find report")
	}

	props := reportProperties(r)
	if existing != nil {
		page, err := c.UpdatePage(ctx, string(existing.ID), &notionapi.PageUpdateRequest{Properties: props})
		if err != nil {
			return nil, eris.Wrap(err, "notion: update report")
		}
		return page, nil
	}

	page, err := c.CreatePage(ctx, &notionapi.PageCreateRequest{
		Parent: notionapi.Parent{
			Type:       notionapi.ParentTypeDatabaseID,
			DatabaseID: notionapi.DatabaseID(dbID),
		},
		Properties: props,
		Children:   reportBlocks(r),
	})
	if err != nil {
		return nil, eris.Wrap(err, "notion: create report")
	}
	return page, nil
}

func reportProperties(r Report) notionapi.Properties {
	f := r.Metrics.Funnel
	start, end := notionapi.Date(r.Range.From), notionapi.Date(r.Range.To)
	props := notionapi.Properties{
		PropTitle: notionapi.TitleProperty{
			Type:  notionapi.PropertyTypeTitle,
			Title: []notionapi.RichText{text(r.Title())},
		},
		PropPeriod: notionapi.DateProperty{
			Date: &notionapi.DateObject{Start: &start, End: &end},
		},
		PropLeads:       notionapi.NumberProperty{Number: float64(f.TotalLeads)},
		PropQualified:   notionapi.NumberProperty{Number: float64(f.LeadsCalificados)},
		PropDeposits:    notionapi.NumberProperty{Number: float64(f.DepositosRealizados)},
		PropDepositSum:  notionapi.NumberProperty{Number: f.TotalDepositos},
		PropConversion:  notionapi.NumberProperty{Number: percent(f.TasaConversion)},
		PropContactRate: notionapi.NumberProperty{Number: percent(f.TasaContacto)},
	}
	if r.Ads != nil {
		props[PropAdSpend] = notionapi.NumberProperty{Number: r.Ads.Spend}
	}
	if r.Analysis != nil {
		props[PropHealth] = notionapi.NumberProperty{Number: float64(r.Analysis.PuntuacionSalud)}
	}
	return props
}

func reportBlocks(r Report) []notionapi.Block {
	var blocks []notionapi.Block
	if r.Analysis != nil {
		blocks = append(blocks, heading("Resumen"), paragraph(r.Analysis.ResumenEjecutivo))
		if len(r.Analysis.Alertas) > 0 {
			blocks = append(blocks, heading("Alertas"))
			for _, a := range r.Analysis.Alertas {
				blocks = append(blocks, bullet(fmt.Sprintf("[%s] %s: %s", a.Tipo, a.Titulo, a.Detalle)))
			}
		}
		if len(r.Analysis.Recomendaciones) > 0 {
			blocks = append(blocks, heading("Recomendaciones"))
			for _, rec := range r.Analysis.Recomendaciones {
				blocks = append(blocks, bullet(fmt.Sprintf("(%s) %s", rec.Prioridad, rec.Accion)))
			}
		}
	}

	if len(r.Metrics.Sources) > 0 {
		blocks = append(blocks, heading("Fuentes"))
		for _, s := range r.Metrics.Sources {
			blocks = append(blocks, bullet(fmt.Sprintf("%s: %d leads, %d depósitos, %s%% conversión",
				s.Source, s.Total, s.Depositos, s.TasaConversion)))
		}
	}
	return blocks
}

// percent parses a rate string such as "12.50"; unparseable input is 0.
func percent(s string) float64 {
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0
	}
	return v
}

func text(s string) notionapi.RichText {
	return notionapi.RichText{Type: notionapi.ObjectTypeText, Text: &notionapi.Text{Content: s}}
}

func heading(s string) notionapi.Block {
	return &notionapi.Heading2Block{
		BasicBlock: notionapi.BasicBlock{Object: notionapi.ObjectTypeBlock, Type: notionapi.BlockTypeHeading2},
		Heading2:   notionapi.Heading{RichText: []notionapi.RichText{text(s)}},
	}
}

func paragraph(s string) notionapi.Block {
	return &notionapi.ParagraphBlock{
		BasicBlock: notionapi.BasicBlock{Object: notionapi.ObjectTypeBlock, Type: notionapi.BlockTypeParagraph},
		Paragraph:  notionapi.Paragraph{RichText: []notionapi.RichText{text(s)}},
	}
}

func bullet(s string) notionapi.Block {
	return &notionapi.BulletedListItemBlock{
		BasicBlock:       notionapi.BasicBlock{Object: notionapi.ObjectTypeBlock, Type: notionapi.BlockTypeBulletedListItem},
		BulletedListItem: notionapi.ListItem{RichText: []notionapi.RichText{text(s)}},
	}
}
