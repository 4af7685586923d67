package funnel

import (
	"sort"
	"strings"

	"github.com/samber/lo"

	"github.com/ciplastic/funnel-dashboard/internal/model"
)

// Channel labels.
const (
	ChannelFacebookAds  = "Facebook Ads"
	ChannelInstagramAds = "Instagram Ads"
	ChannelGoogle       = "Google"
	ChannelTikTok       = "TikTok"
	ChannelWhatsApp     = "WhatsApp"
	ChannelCorreo       = "Correo"
	ChannelOtros        = "Otros"
	ChannelSinFuente    = "Sin fuente"
)

// NoCampaign names the campaign bucket of records without a source.
const NoCampaign = "Sin campaña"

// Signals are the lower-cased inputs every channel rule sees.
type Signals struct {
	Source string
	Tags   string
	// RawSource is the untouched source, used only for the non-empty check.
	RawSource string
}

// SignalsOf extracts classification signals from an opportunity.
func SignalsOf(o model.Opportunity) Signals {
	return Signals{Source: o.SourceLower(), Tags: o.TagsLower(), RawSource: o.Source}
}

// ChannelRule maps a predicate to a channel label.
type ChannelRule struct {
	Label string
	Match func(Signals) bool
}

// ChannelRules is evaluated in order; the first matching rule wins.
type ChannelRules []ChannelRule

func containsAny(s string, markers ...string) bool {
	return lo.SomeBy(markers, func(m string) bool { return strings.Contains(s, m) })
}

// DefaultChannelRules encodes the clinic's attribution policy. Paid ad tags
// outrank every source string so a WhatsApp chat started from a Facebook ad
// stays a Facebook Ads lead.
var DefaultChannelRules = ChannelRules{
	{ChannelFacebookAds, func(s Signals) bool { return containsAny(s.Tags, "fb-ad-lead", "fb-ad") }},
	{ChannelInstagramAds, func(s Signals) bool { return containsAny(s.Tags, "instagram-ad-lead", "instagram-ad") }},
	{ChannelFacebookAds, func(s Signals) bool { return containsAny(s.Source, "facebook", "fb") }},
	{ChannelInstagramAds, func(s Signals) bool { return containsAny(s.Source, "instagram") }},
	{ChannelGoogle, func(s Signals) bool { return containsAny(s.Source, "google") }},
	{ChannelTikTok, func(s Signals) bool { return containsAny(s.Source, "tiktok") || containsAny(s.Tags, "tiktok") }},
	{ChannelWhatsApp, func(s Signals) bool {
		return containsAny(s.Source, "whatsapp") || containsAny(s.Tags, "inbound whatsapp", "wa:", "wazz", "whatsapp")
	}},
	{ChannelCorreo, func(s Signals) bool { return containsAny(s.Source, "email", "correo") || containsAny(s.Tags, "correo") }},
	{ChannelOtros, func(s Signals) bool { return s.RawSource != "" }},
}

// Classify returns the channel label of o, or ChannelSinFuente.
func (rs ChannelRules) Classify(o model.Opportunity) string {
	sig := SignalsOf(o)
	for _, r := range rs {
		if r.Match(sig) {
			return r.Label
		}
	}
	return ChannelSinFuente
}

// ClassifyChannel applies DefaultChannelRules.
func ClassifyChannel(o model.Opportunity) string {
	return DefaultChannelRules.Classify(o)
}

// IsAdAttributed reports whether o carries a Facebook or Instagram ad marker
// in its tags or source.
func IsAdAttributed(o model.Opportunity) bool {
	return containsAny(o.TagsLower(), "fb-ad-lead", "fb-ad", "instagram-ad-lead", "instagram-ad") ||
		containsAny(o.SourceLower(), "facebook", "fb", "instagram")
}

// IsCampaignDeposit reports whether a closed record came from a paid
// campaign or landing page.
func IsCampaignDeposit(o model.Opportunity) bool {
	return containsAny(o.SourceLower(), "facebook", "instagram", "form", "landing") ||
		containsAny(o.TagsLower(), "fb-ad", "instagram-ad")
}

type channelAcc struct {
	m         model.ChannelMetrics
	campaigns map[string]*model.CampaignMetrics
}

// BuildSourceMetrics rolls records up per channel and, inside each channel,
// per raw campaign name. Both levels are sorted by total descending.
func BuildSourceMetrics(opps []model.Opportunity, tax *Taxonomy, rules ChannelRules) []model.ChannelMetrics {
	if rules == nil {
		rules = DefaultChannelRules
	}
	acc := make(map[string]*channelAcc)
	for _, o := range opps {
		label := rules.Classify(o)
		ch, ok := acc[label]
		if !ok {
			ch = &channelAcc{
				m:         model.ChannelMetrics{Source: label},
				campaigns: make(map[string]*model.CampaignMetrics),
			}
			acc[label] = ch
		}

		name := o.Source
		if name == "" {
			name = NoCampaign
		}
		cm, ok := ch.campaigns[name]
		if !ok {
			cm = &model.CampaignMetrics{Name: name}
			ch.campaigns[name] = cm
		}

		id := o.PipelineStageID
		ch.m.Total++
		cm.Total++
		if tax.IsQualified(id) {
			ch.m.Calificados++
			cm.Calificados++
		}
		if tax.IsQuoted(id) {
			ch.m.Valoraciones++
		}
		if tax.IsClosed(id) {
			ch.m.Depositos++
			ch.m.ValorTotal += o.MonetaryValue
			cm.Depositos++
			cm.ValorTotal += o.MonetaryValue
		}
	}

	out := make([]model.ChannelMetrics, 0, len(acc))
	for _, ch := range acc {
		m := ch.m
		m.TasaConversion = Percent(m.Depositos, m.Total)
		m.Campaigns = make([]model.CampaignMetrics, 0, len(ch.campaigns))
		for _, cm := range ch.campaigns {
			c := *cm
			c.TasaConversion = Percent(c.Depositos, c.Total)
			m.Campaigns = append(m.Campaigns, c)
		}
		sort.Slice(m.Campaigns, func(i, j int) bool {
			a, b := m.Campaigns[i], m.Campaigns[j]
			if a.Total != b.Total {
				return a.Total > b.Total
			}
			return a.Name < b.Name
		})
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Total != out[j].Total {
			return out[i].Total > out[j].Total
		}
		return out[i].Source < out[j].Source
	})
	return out
}
