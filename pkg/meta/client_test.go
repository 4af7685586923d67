package meta

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ciplastic/funnel-dashboard/internal/cache"
	"github.com/ciplastic/funnel-dashboard/internal/resilience"
)

const insightsPage1 = `{
	"data": [
		{"campaign_id": "c1", "campaign_name": "Lipo Marzo", "impressions": "10000", "clicks": "250", "spend": "500.00",
		 "actions": [{"action_type": "onsite_conversion.messaging_conversation_started_7d", "value": "40"}, {"action_type": "lead", "value": "5"}],
		 "cost_per_action_type": [{"action_type": "onsite_conversion.messaging_conversation_started_7d", "value": "12.5"}]}
	],
	"paging": {"next": "%s/page2"}
}`

const insightsPage2 = `{
	"data": [
		{"campaign_id": "c2", "campaign_name": "Rino Abril", "impressions": "4000", "clicks": "40", "spend": "1234.5",
		 "actions": [{"action_type": "lead", "value": "10"}]},
		{"campaign_id": "c3", "campaign_name": "Pausada", "impressions": "0", "clicks": "0", "spend": "0"}
	]
}`

func newInsightsServer(t *testing.T, calls *atomic.Int32) *httptest.Server {
	t.Helper()
	var srv *httptest.Server
	srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.URL.Path == "/act_1/insights":
			calls.Add(1)
			assert.Equal(t, "tok", r.URL.Query().Get("access_token"))
			assert.Equal(t, "campaign", r.URL.Query().Get("level"))
			assert.Equal(t, `{"since":"2025-03-01","until":"2025-03-31"}`, r.URL.Query().Get("time_range"))
			_, _ = w.Write([]byte(strings.Replace(insightsPage1, "%s", srv.URL, 1)))
		case r.URL.Path == "/page2":
			_, _ = w.Write([]byte(insightsPage2))
		case r.URL.Path == "/act_1/campaigns" && r.URL.Query().Get("fields") == "id,status":
			_, _ = w.Write([]byte(`{"data": [{"id": "c1", "status": "ACTIVE"}, {"id": "c3", "status": "PAUSED"}]}`))
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestCampaignInsights_PaginatesAndSorts(t *testing.T) {
	var calls atomic.Int32
	srv := newInsightsServer(t, &calls)

	got, err := NewClient("tok", "act_1", WithBaseURL(srv.URL)).CampaignInsights(context.Background(), "2025-03-01", "2025-03-31")
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, []string{"c2", "c1", "c3"}, []string{got[0].CampaignID, got[1].CampaignID, got[2].CampaignID})

	c1 := got[1]
	assert.Equal(t, 40, c1.Leads)
	assert.Equal(t, 40, c1.Conversations)
	assert.Equal(t, 5, c1.FormLeads)
	assert.Equal(t, 12.5, c1.CostPerLead)
	assert.Equal(t, "2.50", c1.CTR)
	assert.Equal(t, "$500.00", c1.SpendFormatted)

	c2 := got[0]
	assert.Equal(t, 10, c2.Leads, "falls back to form leads")
	assert.InDelta(t, 123.45, c2.CostPerLead, 1e-9, "spend / leads when no cost per action")
	assert.Equal(t, "$1,234.50", c2.SpendFormatted)
	assert.Equal(t, "0.00", got[2].CTR)
}

func TestCampaignInsights_Cached(t *testing.T) {
	var calls atomic.Int32
	srv := newInsightsServer(t, &calls)
	now := time.Date(2025, 3, 15, 12, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }
	client := NewClient("tok", "act_1", WithBaseURL(srv.URL), WithCacheTTL(5*time.Minute, cache.WithClock(clock)))

	first, err := client.CampaignInsights(context.Background(), "2025-03-01", "2025-03-31")
	require.NoError(t, err)
	first[0].Status = "MUTATED"

	second, err := client.CampaignInsights(context.Background(), "2025-03-01", "2025-03-31")
	require.NoError(t, err)
	assert.Equal(t, int32(1), calls.Load())
	assert.Empty(t, second[0].Status, "cached slice is not shared with callers")

	now = now.Add(5 * time.Minute)
	_, err = client.CampaignInsights(context.Background(), "2025-03-01", "2025-03-31")
	require.NoError(t, err)
	assert.Equal(t, int32(2), calls.Load())
}

func TestAccountSummary(t *testing.T) {
	var calls atomic.Int32
	srv := newInsightsServer(t, &calls)

	s, err := NewClient("tok", "act_1", WithBaseURL(srv.URL)).AccountSummary(context.Background(), "2025-03-01", "2025-03-31")
	require.NoError(t, err)
	assert.Equal(t, 3, s.TotalCampaigns)
	assert.Equal(t, 2, s.ActiveCampaigns)
	assert.Equal(t, 14000, s.Impressions)
	assert.Equal(t, 290, s.Clicks)
	assert.Equal(t, 50, s.Leads)
	assert.InDelta(t, 1734.5, s.Spend, 1e-9)
	assert.Equal(t, "$1,734.50", s.SpendFormatted)
	assert.InDelta(t, 34.69, s.AvgCostPerLead, 1e-9)
	assert.Equal(t, "2.07", s.CTR)

	statuses := map[string]string{}
	for _, c := range s.Campaigns {
		statuses[c.CampaignID] = c.Status
	}
	assert.Equal(t, map[string]string{"c1": "ACTIVE", "c2": StatusUnknown, "c3": "PAUSED"}, statuses)
}

func TestAccountSummary_StatusFailureTolerated(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/act_1/campaigns" {
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte(`{"error": {"message": "bad field", "code": 100}}`))
			return
		}
		_, _ = w.Write([]byte(`{"data": [{"campaign_id": "c1", "spend": "10"}]}`))
	}))
	defer srv.Close()

	s, err := NewClient("tok", "act_1", WithBaseURL(srv.URL)).AccountSummary(context.Background(), "2025-03-01", "2025-03-31")
	require.NoError(t, err)
	require.Len(t, s.Campaigns, 1)
	assert.Equal(t, StatusUnknown, s.Campaigns[0].Status)
}

func TestAccountSummary_InsightsFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error": {"message": "Invalid OAuth access token", "code": 190}}`))
	}))
	defer srv.Close()

	_, err := NewClient("tok", "act_1", WithBaseURL(srv.URL)).AccountSummary(context.Background(), "2025-03-01", "2025-03-31")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Invalid OAuth access token")
}

func TestErrorClassification(t *testing.T) {
	tests := []struct {
		name            string
		status          int
		body            string
		wantRateLimited bool
		wantUnavailable bool
	}{
		{"http 429", http.StatusTooManyRequests, `{}`, true, false},
		{"throttle code", http.StatusBadRequest, `{"error": {"message": "User request limit reached", "code": 17}}`, true, false},
		{"server error", http.StatusServiceUnavailable, `{"error": {"message": "down", "code": 2}}`, false, true},
		{"client error", http.StatusBadRequest, `{"error": {"message": "bad", "code": 100}}`, false, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			_, err := NewClient("tok", "act_1", WithBaseURL(srv.URL)).ActiveCampaigns(context.Background())
			require.Error(t, err)
			_, limited := resilience.IsRateLimited(err)
			assert.Equal(t, tt.wantRateLimited, limited)
			assert.Equal(t, tt.wantUnavailable, resilience.IsUnavailable(err))
		})
	}
}

func TestActiveCampaigns(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/act_1/campaigns", r.URL.Path)
		assert.Equal(t, "50", r.URL.Query().Get("limit"))
		var filter []map[string]any
		require.NoError(t, json.Unmarshal([]byte(r.URL.Query().Get("filtering")), &filter))
		assert.Equal(t, "status", filter[0]["field"])
		_, _ = w.Write([]byte(`{"data": [{"id": "c1", "name": "Lipo", "status": "ACTIVE", "objective": "MESSAGES", "daily_budget": "50000"}]}`))
	}))
	defer srv.Close()

	got, err := NewClient("tok", "act_1", WithBaseURL(srv.URL)).ActiveCampaigns(context.Background())
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "MESSAGES", got[0].Objective)
	assert.Equal(t, "50000", got[0].DailyBudget)
}

func TestBreakerOpens(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	cb := resilience.NewBreaker("meta", resilience.WithThreshold(2), resilience.WithCooldown(time.Hour))
	client := NewClient("tok", "act_1", WithBaseURL(srv.URL), WithBreaker(cb), WithCacheTTL(0))

	for i := 0; i < 4; i++ {
		_, err := client.CampaignInsights(context.Background(), "2025-03-01", "2025-03-31")
		require.Error(t, err)
		assert.True(t, resilience.IsUnavailable(err))
	}
	assert.Equal(t, int32(2), calls.Load())
	assert.Equal(t, resilience.StateOpen, cb.State())
}

func TestConfigured(t *testing.T) {
	assert.True(t, NewClient("tok", "act_1").Configured())
	assert.False(t, NewClient("", "act_1").Configured())
}
