package model

// CampaignInsight is one ad campaign's performance for a date range, plus the
// CRM outcomes allocated to it by the cross-reference.
type CampaignInsight struct {
	CampaignID     string  `json:"campaignId"`
	CampaignName   string  `json:"campaignName"`
	Status         string  `json:"status"`
	Impressions    int     `json:"impressions"`
	Clicks         int     `json:"clicks"`
	Spend          float64 `json:"spend"`
	SpendFormatted string  `json:"spendFormatted"`
	Leads          int     `json:"leads"`
	Conversations  int     `json:"conversations"`
	Replies        int     `json:"replies"`
	Connections    int     `json:"connections"`
	FormLeads      int     `json:"formLeads"`
	CostPerLead    float64 `json:"costPerLead"`
	CTR            string  `json:"ctr"`

	GHLLeads       int    `json:"ghlLeads"`
	GHLCalificados int    `json:"ghlCalificados"`
	GHLCierres     int    `json:"ghlCierres"`
	GHLValor       int    `json:"ghlValor"`
	GHLConversion  string `json:"ghlConversion"`
}

// CRMTotals are the clinic-side outcomes attributed to paid social ads.
type CRMTotals struct {
	Total       int     `json:"total"`
	Calificados int     `json:"calificados"`
	Cierres     int     `json:"cierres"`
	Valor       float64 `json:"valor"`
}

// AccountSummary aggregates all campaigns of an ad account for a date range.
type AccountSummary struct {
	TotalCampaigns  int               `json:"totalCampaigns"`
	ActiveCampaigns int               `json:"activeCampaigns"`
	Impressions     int               `json:"impressions"`
	Clicks          int               `json:"clicks"`
	Spend           float64           `json:"spend"`
	SpendFormatted  string            `json:"spendFormatted"`
	Leads           int               `json:"leads"`
	Conversations   int               `json:"conversations"`
	Replies         int               `json:"replies"`
	Connections     int               `json:"connections"`
	AvgCostPerLead  float64           `json:"avgCostPerLead"`
	CTR             string            `json:"ctr"`
	GHLTotals       *CRMTotals        `json:"ghlTotals,omitempty"`
	Campaigns       []CampaignInsight `json:"campaigns"`
}

// ActiveCampaign is a currently running campaign definition.
type ActiveCampaign struct {
	ID             string `json:"id"`
	Name           string `json:"name"`
	Status         string `json:"status"`
	Objective      string `json:"objective,omitempty"`
	DailyBudget    string `json:"daily_budget,omitempty"`
	LifetimeBudget string `json:"lifetime_budget,omitempty"`
	StartTime      string `json:"start_time,omitempty"`
}
