package meta

import (
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/ciplastic/funnel-dashboard/internal/model"
)

// Action types as reported in the Graph API actions arrays.
const (
	ActionConversationStarted = "onsite_conversion.messaging_conversation_started_7d"
	ActionFirstReply          = "onsite_conversion.messaging_first_reply"
	ActionMessagingConnection = "onsite_conversion.total_messaging_connection"
	ActionLead                = "lead"
)

var usd = message.NewPrinter(language.AmericanEnglish)

type actionValue struct {
	ActionType string `json:"action_type"`
	Value      string `json:"value"`
}

type rawInsight struct {
	CampaignID        string        `json:"campaign_id"`
	CampaignName      string        `json:"campaign_name"`
	Impressions       string        `json:"impressions"`
	Clicks            string        `json:"clicks"`
	Spend             string        `json:"spend"`
	Actions           []actionValue `json:"actions"`
	CostPerActionType []actionValue `json:"cost_per_action_type"`
}

func processInsight(item rawInsight) model.CampaignInsight {
	impressions := atoi(item.Impressions)
	clicks := atoi(item.Clicks)
	spend := parseDecimal(item.Spend)

	leads := actionInt(item.Actions, ActionConversationStarted, ActionLead)
	costPerLead := actionDecimal(item.CostPerActionType, ActionConversationStarted, ActionLead)
	if !costPerLead.IsPositive() {
		costPerLead = decimal.Zero
		if leads > 0 {
			costPerLead = spend.Div(decimal.NewFromInt(int64(leads)))
		}
	}

	return model.CampaignInsight{
		CampaignID:     item.CampaignID,
		CampaignName:   item.CampaignName,
		Impressions:    impressions,
		Clicks:         clicks,
		Spend:          spend.InexactFloat64(),
		SpendFormatted: FormatUSD(spend.InexactFloat64()),
		Leads:          leads,
		Conversations:  actionInt(item.Actions, ActionConversationStarted),
		Replies:        actionInt(item.Actions, ActionFirstReply),
		Connections:    actionInt(item.Actions, ActionMessagingConnection),
		FormLeads:      actionInt(item.Actions, ActionLead),
		CostPerLead:    costPerLead.InexactFloat64(),
		CTR:            ctr(clicks, impressions),
	}
}

// Summarize aggregates campaigns into account totals. Campaigns with any
// spend count as active.
func Summarize(campaigns []model.CampaignInsight) *model.AccountSummary {
	s := &model.AccountSummary{TotalCampaigns: len(campaigns), Campaigns: campaigns}
	if s.Campaigns == nil {
		s.Campaigns = []model.CampaignInsight{}
	}
	spend := decimal.Zero
	for _, c := range campaigns {
		s.Impressions += c.Impressions
		s.Clicks += c.Clicks
		spend = spend.Add(decimal.NewFromFloat(c.Spend))
		s.Leads += c.Leads
		s.Conversations += c.Conversations
		s.Replies += c.Replies
		s.Connections += c.Connections
		if c.Spend > 0 {
			s.ActiveCampaigns++
		}
	}
	s.Spend = spend.InexactFloat64()
	s.SpendFormatted = FormatUSD(s.Spend)
	if s.Leads > 0 {
		s.AvgCostPerLead = spend.Div(decimal.NewFromInt(int64(s.Leads))).InexactFloat64()
	}
	s.CTR = ctr(s.Clicks, s.Impressions)
	return s
}

// FormatUSD renders an amount as "$1,234.50".
func FormatUSD(amount float64) string {
	return "$" + usd.Sprintf("%.2f", amount)
}

func ctr(clicks, impressions int) string {
	if impressions <= 0 {
		return "0.00"
	}
	return decimal.NewFromInt(int64(clicks)).
		Div(decimal.NewFromInt(int64(impressions))).
		Mul(decimal.NewFromInt(100)).
		StringFixed(2)
}

// actionInt returns the value of the first listed action type present.
func actionInt(actions []actionValue, types ...string) int {
	for _, t := range types {
		for _, a := range actions {
			if a.ActionType == t {
				return atoi(a.Value)
			}
		}
	}
	return 0
}

func actionDecimal(actions []actionValue, types ...string) decimal.Decimal {
	for _, t := range types {
		for _, a := range actions {
			if a.ActionType == t {
				return parseDecimal(a.Value)
			}
		}
	}
	return decimal.Zero
}

func atoi(s string) int {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '.'); i >= 0 {
		s = s[:i]
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0
	}
	return n
}

func parseDecimal(s string) decimal.Decimal {
	d, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil {
		return decimal.Zero
	}
	return d
}
