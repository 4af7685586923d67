package analysis

import (
	"fmt"
	"slices"
	"strings"

	"github.com/samber/lo"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"golang.org/x/text/number"

	"github.com/ciplastic/funnel-dashboard/internal/funnel"
	"github.com/ciplastic/funnel-dashboard/internal/model"
)

const systemPrompt = `Eres un analista de ventas experto para Ciplastic, una clínica de cirugía plástica en México.
Tu trabajo es analizar las métricas del funnel de ventas y proporcionar un diagnóstico claro y accionable.

CONTEXTO DEL NEGOCIO:
- Ciplastic es una clínica de cirugía plástica que capta leads por Meta Ads (Facebook/Instagram), WhatsApp, Google, etc.
- El pipeline tiene 11 etapas: desde Nuevo Lead hasta Fecha de Cirugía Seleccionada
- "Calificados" = leads que avanzaron más allá de E1 (Nuevo Lead)
- "Cierres" = leads que llegaron a E9 (Depósito Realizado) o E10 (Fecha de Cirugía)
- Las valoraciones virtuales (VV) son el paso clave donde se evalúa al paciente y se envía cotización

ETAPAS DEL PIPELINE (en orden):
1. E1. NUEVO LEAD
2. E2. INTERES EN VV - PENDIENTE ENVIO DE FOTOS
3. E3. SEGUIMIENTO - FOTOS NO ENVIADAS
4. E4. FOTOS RECIBIDAS - PENDIENTE VV
5. E5. VALORACION VIRTUAL AGENDADA
6. VV RE AGENDADA
7. E6. VV AGENDADA - NO CONTESTO
8. E7. VALORACION REALIZADA - COTIZACION ENVIADA
9. E8. SEGUIMIENTO PARA CIERRE
10. E9. DEPOSITO REALIZADO - SIN FECHA DE CIRUGIA
11. E10. FECHA DE CIRUGIA SELECCIONADA

INSTRUCCIONES:
- Analiza los datos proporcionados para detectar focos rojos, cuellos de botella, y oportunidades
- Sé específico con números y porcentajes
- Da recomendaciones prácticas y accionables
- Responde en español
- Responde ÚNICAMENTE con JSON válido (sin markdown, sin backticks, sin texto adicional)

ESTRUCTURA DE RESPUESTA (JSON):
{
  "resumenEjecutivo": "2-3 oraciones del estado general del funnel",
  "puntuacionSalud": <número 0-100>,
  "alertas": [
    {
      "tipo": "critico|advertencia|info",
      "titulo": "Título corto",
      "detalle": "Explicación detallada del problema o hallazgo",
      "metrica": "Valor de la métrica relevante",
      "recomendacion": "Qué hacer al respecto"
    }
  ],
  "insights": [
    {
      "categoria": "funnel|fuentes|campanas|tiempos|tendencia",
      "titulo": "Título del insight",
      "detalle": "Análisis detallado"
    }
  ],
  "recomendaciones": [
    {
      "prioridad": "alta|media|baja",
      "accion": "Qué hacer",
      "impactoEsperado": "Resultado esperado"
    }
  ]
}

CRITERIOS DE EVALUACIÓN:
- Tasa de contacto (calificados/total) saludable: >60%
- Tasa de conversión (cierres/total) saludable: >5%
- Tiempo promedio de cierre saludable: <30 días
- CPL (costo por lead de Meta) preocupante: >$15 USD
- Si hay días sin leads en la tendencia, es un foco rojo
- Si una fuente tiene muchos leads pero 0 cierres, es un cuello de botella
- Si E3 o E6 tienen muchos leads, el seguimiento está fallando`

var printer = message.NewPrinter(language.AmericanEnglish)

// amount renders a money value with grouping and at most two decimals.
func amount(v float64) string {
	return printer.Sprint(number.Decimal(v, number.MaxFractionDigits(2)))
}

// buildDataPrompt serializes a metrics result, plus optional ad data, into
// the user message sent to the model.
func buildDataPrompt(data *model.MetricsResult, ads *model.AccountSummary, r funnel.DateRange) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Analiza las siguientes métricas del funnel de ventas de Ciplastic para el periodo %s al %s:\n\n", r.Start, r.End)

	f := data.Funnel
	b.WriteString("## MÉTRICAS DEL FUNNEL\n")
	fmt.Fprintf(&b, "- Total Leads: %d\n", f.TotalLeads)
	fmt.Fprintf(&b, "- Leads Calificados: %d\n", f.LeadsCalificados)
	fmt.Fprintf(&b, "- Agendadas para Valoración: %d\n", f.AgendadasValoracion)
	fmt.Fprintf(&b, "- Valoradas con Cotización: %d\n", f.ValoradasCotizacion)
	fmt.Fprintf(&b, "- No Contacto en Valoración: %d\n", f.NoContactoValoracion)
	fmt.Fprintf(&b, "- Oportunidades de Cierre: %d\n", f.OportunidadesCierreTotal)
	fmt.Fprintf(&b, "- Depósitos Realizados: %d\n", f.DepositosRealizados)
	fmt.Fprintf(&b, "- Valor Total Depósitos: $%s\n", amount(f.TotalDepositos))
	fmt.Fprintf(&b, "- Tasa de Contacto: %s%%\n", orZero(f.TasaContacto))
	fmt.Fprintf(&b, "- Tasa de Conversión: %s%%\n", orZero(f.TasaConversion))
	b.WriteString("\nDesglose por etapa:\n")
	for _, key := range stageKeysOf(f.PorEtapa) {
		fmt.Fprintf(&b, "  %s: %d\n", key, f.PorEtapa[key])
	}
	b.WriteString("\n")

	if len(data.Sources) > 0 {
		b.WriteString("## RENDIMIENTO POR FUENTE\n")
		for _, s := range data.Sources {
			fmt.Fprintf(&b, "- %s: %d leads, %d calificados, %d cierres, $%s valor, %s%% conversión\n",
				s.Source, s.Total, s.Calificados, s.Depositos, amount(s.ValorTotal), orZero(s.TasaConversion))
		}
		b.WriteString("\n")
	}

	if len(data.Stages) > 0 {
		b.WriteString("## DISTRIBUCIÓN POR ETAPAS\n")
		for _, s := range data.Stages {
			fmt.Fprintf(&b, "- %s: %d oportunidades, $%s valor\n", s.Stage, s.Count, amount(s.Value))
		}
		b.WriteString("\n")
	}

	if len(data.Trend) > 0 {
		fmt.Fprintf(&b, "## TENDENCIA DIARIA (últimos %d días con actividad)\n", len(data.Trend))
		for _, d := range data.Trend {
			fmt.Fprintf(&b, "- %s: %d leads, %d valoraciones, %d cierres\n", d.Date, d.Leads, d.Valoraciones, d.Depositos)
		}
		b.WriteString("\n")
	}

	t := data.Times
	b.WriteString("## TIEMPOS DE CIERRE\n")
	fmt.Fprintf(&b, "- Promedio: %d días\n", t.PromedioTiempoCierre)
	fmt.Fprintf(&b, "- Mínimo: %d días\n", t.TiempoMinimoCierre)
	fmt.Fprintf(&b, "- Máximo: %d días\n", t.TiempoMaximoCierre)
	fmt.Fprintf(&b, "- Oportunidades analizadas: %d\n", t.OportunidadesAnalizadas)
	b.WriteString("\n")

	if ads != nil {
		b.WriteString("## META ADS (Facebook/Instagram)\n")
		fmt.Fprintf(&b, "- Campañas activas: %d\n", ads.TotalCampaigns)
		fmt.Fprintf(&b, "- Gasto total: $%s\n", amount(ads.Spend))
		fmt.Fprintf(&b, "- Leads generados: %d\n", ads.Leads)
		fmt.Fprintf(&b, "- Conversaciones: %d\n", ads.Conversations)
		fmt.Fprintf(&b, "- Costo por lead promedio: $%.2f\n", ads.AvgCostPerLead)
		fmt.Fprintf(&b, "- CTR: %s%%\n", orZero(ads.CTR))
		if len(ads.Campaigns) > 0 {
			b.WriteString("\nDesglose por campaña:\n")
			for _, c := range ads.Campaigns {
				fmt.Fprintf(&b, "  - %s: gasto $%s, %d leads, CPL $%.2f, %d conversaciones\n",
					c.CampaignName, amount(c.Spend), c.Leads, c.CostPerLead, c.Conversations)
			}
		}
		b.WriteString("\n")
	}

	b.WriteString("\nProporciona tu análisis completo en formato JSON.")
	return b.String()
}

// stageKeysOf lists known stage keys in pipeline order, then any others
// sorted.
func stageKeysOf(m map[string]int) []string {
	known := lo.Filter(funnel.StageKeys(), func(k string, _ int) bool {
		_, ok := m[k]
		return ok
	})
	extra := lo.Filter(lo.Keys(m), func(k string, _ int) bool {
		return !slices.Contains(known, k)
	})
	slices.Sort(extra)
	return append(known, extra...)
}

func orZero(s string) string {
	if s == "" {
		return "0"
	}
	return s
}
