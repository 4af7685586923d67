package model

import "time"

// ResultSource identifies the tier that produced a MetricsResult.
type ResultSource string

const (
	SourceMemory   ResultSource = "memory"
	SourceSnapshot ResultSource = "snapshot"
	SourceStore    ResultSource = "store"
	SourceLive     ResultSource = "live"
)

// FunnelMetrics holds the headline funnel counts and rates.
type FunnelMetrics struct {
	TotalLeads               int            `json:"totalLeads"`
	LeadsCalificados         int            `json:"leadsCalificados"`
	AgendadasValoracion      int            `json:"agendadasValoracion"`
	ValoradasCotizacion      int            `json:"valoradasCotizacion"`
	NoContactoValoracion     int            `json:"noContactoValoracion"`
	OportunidadesCierreTotal int            `json:"oportunidadesCierreTotal"`
	OportunidadesCierreAlta  int            `json:"oportunidadesCierreAlta"`
	OportunidadesCierreMedia int            `json:"oportunidadesCierreMedia"`
	DepositosRealizados      int            `json:"depositosRealizados"`
	TotalDepositos           float64        `json:"totalDepositos"`
	DepositosCampanas        int            `json:"depositosCampanas"`
	TotalDepositosCampanas   float64        `json:"totalDepositosCampanas"`
	TasaConversion           string         `json:"tasaConversion"`
	TasaContacto             string         `json:"tasaContacto"`
	PorEtapa                 map[string]int `json:"porEtapa"`
}

// StageBucket is the count and summed value of one pipeline stage.
type StageBucket struct {
	StageID string  `json:"stageId"`
	Key     string  `json:"key"`
	Stage   string  `json:"stage"`
	Count   int     `json:"count"`
	Value   float64 `json:"value"`
}

// TimeStats summarizes days-to-close over closed opportunities.
type TimeStats struct {
	PromedioTiempoCierre    int `json:"promedioTiempoCierre"`
	TiempoMinimoCierre      int `json:"tiempoMinimoCierre"`
	TiempoMaximoCierre      int `json:"tiempoMaximoCierre"`
	OportunidadesAnalizadas int `json:"oportunidadesAnalizadas"`
}

// CampaignMetrics is the rollup of one raw campaign (source string) inside a channel.
type CampaignMetrics struct {
	Name           string  `json:"campaign"`
	Total          int     `json:"total"`
	Calificados    int     `json:"calificados"`
	Depositos      int     `json:"depositos"`
	ValorTotal     float64 `json:"valorTotal"`
	TasaConversion string  `json:"tasaConversion"`
}

// ChannelMetrics is the rollup of one acquisition channel.
type ChannelMetrics struct {
	Source         string            `json:"source"`
	Total          int               `json:"total"`
	Calificados    int               `json:"calificados"`
	Valoraciones   int               `json:"valoraciones"`
	Depositos      int               `json:"depositos"`
	ValorTotal     float64           `json:"valorTotal"`
	TasaConversion string            `json:"tasaConversion"`
	Campaigns      []CampaignMetrics `json:"campaigns"`
}

// TrendPoint is the activity of one local calendar day.
type TrendPoint struct {
	Date         string `json:"date"`
	Leads        int    `json:"leads"`
	Valoraciones int    `json:"valoraciones"`
	Depositos    int    `json:"depositos"`
}

// ResultMeta carries provenance of a computed result.
type ResultMeta struct {
	TotalOpportunities int       `json:"totalOpportunities"`
	FetchedAt          time.Time `json:"fetchedAt"`
}

// MetricsResult is the combined output of all funnel builders for one date range.
type MetricsResult struct {
	Funnel  FunnelMetrics    `json:"funnel"`
	Stages  []StageBucket    `json:"stages"`
	Times   TimeStats        `json:"times"`
	Sources []ChannelMetrics `json:"sources"`
	Trend   []TrendPoint     `json:"trend"`
	Meta    ResultMeta       `json:"meta"`
}
