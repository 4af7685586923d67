package model

// Analysis is the structured commentary returned by the LLM narrator.
type Analysis struct {
	ResumenEjecutivo string           `json:"resumenEjecutivo"`
	PuntuacionSalud  int              `json:"puntuacionSalud"`
	Alertas          []Alert          `json:"alertas"`
	Insights         []Insight        `json:"insights"`
	Recomendaciones  []Recommendation `json:"recomendaciones"`
}

// Alert severities.
const (
	AlertCritical = "critico"
	AlertWarning  = "advertencia"
	AlertInfo     = "info"
)

// Alert flags a problem or finding.
type Alert struct {
	Tipo          string `json:"tipo"`
	Titulo        string `json:"titulo"`
	Detalle       string `json:"detalle"`
	Metrica       string `json:"metrica"`
	Recomendacion string `json:"recomendacion"`
}

// Insight is a free-form observation in one category.
type Insight struct {
	Categoria string `json:"categoria"`
	Titulo    string `json:"titulo"`
	Detalle   string `json:"detalle"`
}

// Recommendation is a prioritized action.
type Recommendation struct {
	Prioridad       string `json:"prioridad"`
	Accion          string `json:"accion"`
	ImpactoEsperado string `json:"impactoEsperado"`
}

// AnalysisResult wraps an Analysis with cache provenance.
type AnalysisResult struct {
	Analysis Analysis `json:"analysis"`
	Cached   bool     `json:"cached"`
}
