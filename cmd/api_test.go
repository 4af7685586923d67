package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ciplastic/funnel-dashboard/internal/analysis"
	"github.com/ciplastic/funnel-dashboard/internal/dashboard"
	"github.com/ciplastic/funnel-dashboard/internal/funnel"
	"github.com/ciplastic/funnel-dashboard/internal/model"
	"github.com/ciplastic/funnel-dashboard/internal/monitoring"
	"github.com/ciplastic/funnel-dashboard/internal/resilience"
)

type fakeService struct {
	result    *model.MetricsResult
	err       error
	gotRange  funnel.DateRange
	gotOpts   dashboard.Options
	count     int
	countErr  error
	summary   *model.AccountSummary
	active    []model.ActiveCampaign
	stages    []model.Stage
	records   []model.Opportunity
	syncRes   *dashboard.SyncResult
	syncCalls int
	tier      model.ResultSource
}

func (f *fakeService) Lookup(_ context.Context, r funnel.DateRange, opts dashboard.Options) (*model.MetricsResult, model.ResultSource, error) {
	f.gotRange, f.gotOpts = r, opts
	if f.err != nil {
		return nil, "", f.err
	}
	return f.result, f.tier, nil
}

func (f *fakeService) Records(_ context.Context, r funnel.DateRange) ([]model.Opportunity, error) {
	f.gotRange = r
	return f.records, f.err
}

func (f *fakeService) StoredCount(context.Context) (int, error) { return f.count, f.countErr }

func (f *fakeService) Campaigns(_ context.Context, r funnel.DateRange) (*model.AccountSummary, error) {
	f.gotRange = r
	return f.summary, f.err
}

func (f *fakeService) ActiveCampaigns(context.Context) ([]model.ActiveCampaign, error) {
	return f.active, f.err
}

func (f *fakeService) Stages(context.Context) ([]model.Stage, error) { return f.stages, f.err }

func (f *fakeService) Sync(context.Context) (*dashboard.SyncResult, error) {
	f.syncCalls++
	return f.syncRes, f.err
}

type fakeAnalyzer struct {
	res *model.AnalysisResult
	err error
}

func (f *fakeAnalyzer) Analyze(context.Context, funnel.DateRange) (*model.AnalysisResult, error) {
	return f.res, f.err
}

var apiNow = time.Date(2025, 3, 15, 12, 0, 0, 0, time.UTC)

func newTestRouter(svc *fakeService, an *fakeAnalyzer) (http.Handler, *monitoring.Metrics) {
	if an == nil {
		an = &fakeAnalyzer{err: analysis.ErrNotConfigured}
	}
	m := monitoring.NewMetrics()
	h := buildRouter(&api{
		svc:      svc,
		analyzer: an,
		metrics:  m,
		loc:      time.UTC,
		now:      func() time.Time { return apiNow },
	}, []string{"*"})
	return h, m
}

func do(t *testing.T, h http.Handler, method, target string, body string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	var out map[string]any
	if strings.Contains(rr.Header().Get("Content-Type"), "application/json") {
		require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &out))
	}
	return rr, out
}

func TestHealth(t *testing.T) {
	h, _ := newTestRouter(&fakeService{count: 42}, nil)

	rr, body := do(t, h, http.MethodGet, "/api/health", "")
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, "2025-03-15T12:00:00Z", body["timestamp"])
	assert.EqualValues(t, 42, body["storedOpportunities"])
	assert.NotEmpty(t, rr.Header().Get("X-Request-ID"))
}

func TestHealth_StoreError(t *testing.T) {
	h, _ := newTestRouter(&fakeService{countErr: errors.New("db down")}, nil)

	rr, body := do(t, h, http.MethodGet, "/api/health", "")
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "degraded", body["status"])
	assert.NotContains(t, body, "storedOpportunities")
}

func TestRequestID_Propagated(t *testing.T) {
	h, _ := newTestRouter(&fakeService{}, nil)

	req := httptest.NewRequest(http.MethodGet, "/api/health", nil)
	req.Header.Set("X-Request-ID", "abc-123")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	assert.Equal(t, "abc-123", rr.Header().Get("X-Request-ID"))
}

func TestMetricsSummary_DefaultsToCurrentMonth(t *testing.T) {
	svc := &fakeService{result: &model.MetricsResult{Funnel: model.FunnelMetrics{TotalLeads: 7}}, tier: model.SourceStore}
	h, _ := newTestRouter(svc, nil)

	rr, body := do(t, h, http.MethodGet, "/api/metrics/summary", "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "store", rr.Header().Get(metricsSourceHeader))
	assert.NotContains(t, rr.Body.String(), `"source":"store"`)
	assert.Equal(t, true, body["success"])
	assert.Equal(t, map[string]any{"startDate": "2025-03-01", "endDate": "2025-03-31"}, body["dateRange"])
	assert.Equal(t, "2025-03-01", svc.gotRange.Start)
	assert.False(t, svc.gotOpts.ForceRefresh)

	data := body["data"].(map[string]any)
	assert.EqualValues(t, 7, data["funnel"].(map[string]any)["totalLeads"])
}

func TestMetricsSummary_RefreshAndRange(t *testing.T) {
	svc := &fakeService{result: &model.MetricsResult{}}
	h, _ := newTestRouter(svc, nil)

	rr, _ := do(t, h, http.MethodGet, "/api/metrics/summary?startDate=2025-02-01&endDate=2025-02-14&refresh=true", "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "2025-02-01", svc.gotRange.Start)
	assert.Equal(t, "2025-02-14", svc.gotRange.End)
	assert.True(t, svc.gotOpts.ForceRefresh)
}

func TestMetricsSubroutes(t *testing.T) {
	svc := &fakeService{result: &model.MetricsResult{
		Funnel:  model.FunnelMetrics{TotalLeads: 3},
		Stages:  []model.StageBucket{{Key: funnel.KeyNuevoLead, Count: 3}},
		Times:   model.TimeStats{PromedioTiempoCierre: 5},
		Sources: []model.ChannelMetrics{{Source: "Facebook", Total: 3}},
		Trend:   []model.TrendPoint{{Date: "2025-03-01", Leads: 3}},
	}}
	h, _ := newTestRouter(svc, nil)

	_, body := do(t, h, http.MethodGet, "/api/metrics/funnel", "")
	assert.EqualValues(t, 3, body["data"].(map[string]any)["totalLeads"])

	_, body = do(t, h, http.MethodGet, "/api/metrics/stages", "")
	assert.Len(t, body["data"], 1)

	_, body = do(t, h, http.MethodGet, "/api/metrics/times", "")
	assert.EqualValues(t, 5, body["data"].(map[string]any)["promedioTiempoCierre"])

	_, body = do(t, h, http.MethodGet, "/api/metrics/sources", "")
	assert.Equal(t, "Facebook", body["data"].([]any)[0].(map[string]any)["source"])

	_, body = do(t, h, http.MethodGet, "/api/metrics/trend", "")
	assert.Equal(t, "2025-03-01", body["data"].([]any)[0].(map[string]any)["date"])
}

func TestMetrics_BadRange(t *testing.T) {
	svc := &fakeService{result: &model.MetricsResult{}}
	h, _ := newTestRouter(svc, nil)

	for _, q := range []string{
		"?startDate=2025-03-01",
		"?startDate=2025-13-01&endDate=2025-03-31",
		"?startDate=2025-03-31&endDate=2025-03-01",
	} {
		rr, body := do(t, h, http.MethodGet, "/api/metrics/summary"+q, "")
		assert.Equal(t, http.StatusBadRequest, rr.Code, q)
		assert.Equal(t, false, body["success"], q)
		assert.NotEmpty(t, body["error"], q)
	}
}

func TestErrorMapping(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
	}{
		{"rate limited", eris.Wrap(resilience.NewRateLimitedError("ghl", 30*time.Second, nil), "dashboard: fetch"), http.StatusTooManyRequests},
		{"unavailable", eris.Wrap(resilience.NewUnavailableError("ghl", errors.New("503")), "dashboard: fetch"), http.StatusServiceUnavailable},
		{"other", errors.New("disk full"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h, _ := newTestRouter(&fakeService{err: tt.err}, nil)
			rr, body := do(t, h, http.MethodGet, "/api/metrics/summary", "")
			assert.Equal(t, tt.status, rr.Code)
			assert.Equal(t, false, body["success"])
		})
	}
}

func TestErrorMapping_RetryAfter(t *testing.T) {
	err := resilience.NewRateLimitedError("ghl", 1500*time.Millisecond, nil)
	h, _ := newTestRouter(&fakeService{err: err}, nil)

	rr, _ := do(t, h, http.MethodGet, "/api/metrics/summary", "")
	assert.Equal(t, http.StatusTooManyRequests, rr.Code)
	assert.Equal(t, "2", rr.Header().Get("Retry-After"))
}

func TestCampaigns_RequiresDates(t *testing.T) {
	svc := &fakeService{summary: &model.AccountSummary{}}
	h, _ := newTestRouter(svc, nil)

	rr, body := do(t, h, http.MethodGet, "/api/meta/campaigns?startDate=2025-03-01", "")
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Equal(t, false, body["success"])
}

func TestStatusFor_WrappedMissingDates(t *testing.T) {
	assert.Equal(t, http.StatusBadRequest, statusFor(eris.Wrap(errMissingDates, "campaigns")))
	assert.Equal(t, "startDate y endDate son requeridos", eris.Cause(errMissingDates).Error())
}

func TestCampaigns(t *testing.T) {
	svc := &fakeService{summary: &model.AccountSummary{
		Spend:     1200,
		GHLTotals: &model.CRMTotals{Total: 2},
		Campaigns: []model.CampaignInsight{{CampaignName: "Lipo", GHLLeads: 2}},
	}}
	h, _ := newTestRouter(svc, nil)

	rr, body := do(t, h, http.MethodGet, "/api/meta/campaigns?startDate=2025-03-01&endDate=2025-03-31", "")
	require.Equal(t, http.StatusOK, rr.Code)
	data := body["data"].(map[string]any)
	assert.EqualValues(t, 1200, data["spend"])
	assert.EqualValues(t, 2, data["campaigns"].([]any)[0].(map[string]any)["ghlLeads"])
	assert.Equal(t, "2025-03-31", svc.gotRange.End)
}

func TestCampaigns_NotConfigured(t *testing.T) {
	h, _ := newTestRouter(&fakeService{err: dashboard.ErrAdsNotConfigured}, nil)

	rr, _ := do(t, h, http.MethodGet, "/api/meta/campaigns?startDate=2025-03-01&endDate=2025-03-31", "")
	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)

	rr, _ = do(t, h, http.MethodGet, "/api/meta/active", "")
	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
}

func TestActiveCampaigns(t *testing.T) {
	svc := &fakeService{active: []model.ActiveCampaign{{ID: "c1", Name: "Lipo", Status: "ACTIVE"}}}
	h, _ := newTestRouter(svc, nil)

	rr, body := do(t, h, http.MethodGet, "/api/meta/active", "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Len(t, body["data"], 1)
}

func TestAnalyze(t *testing.T) {
	an := &fakeAnalyzer{res: &model.AnalysisResult{
		Analysis: model.Analysis{ResumenEjecutivo: "Todo bien", PuntuacionSalud: 80},
	}}
	h, m := newTestRouter(&fakeService{}, an)

	rr, body := do(t, h, http.MethodPost, "/api/ai/analyze?startDate=2025-03-01&endDate=2025-03-31", "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, true, body["success"])
	assert.Equal(t, false, body["cached"])
	assert.Equal(t, "Todo bien", body["data"].(map[string]any)["resumenEjecutivo"])

	rr, _ = do(t, h, http.MethodGet, "/api/ai/analyze?startDate=2025-03-01&endDate=2025-03-31", "")
	assert.Equal(t, http.StatusOK, rr.Code)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Contains(t, rec.Body.String(), "funnel_analysis_requests_total 2")
}

func TestAnalyze_JSONBody(t *testing.T) {
	an := &fakeAnalyzer{res: &model.AnalysisResult{Cached: true}}
	h, _ := newTestRouter(&fakeService{}, an)

	rr, body := do(t, h, http.MethodPost, "/api/ai/analyze", `{"startDate":"2025-03-01","endDate":"2025-03-31"}`)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, true, body["cached"])
}

func TestAnalyze_Errors(t *testing.T) {
	h, _ := newTestRouter(&fakeService{}, nil)

	rr, _ := do(t, h, http.MethodPost, "/api/ai/analyze", "")
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rr, body := do(t, h, http.MethodPost, "/api/ai/analyze?startDate=2025-03-01&endDate=2025-03-31", "")
	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
	assert.Contains(t, body["error"], "not configured")
}

func TestStagesAndSync(t *testing.T) {
	svc := &fakeService{
		stages:  []model.Stage{{ID: "s1", DisplayName: "E1. NUEVO LEAD"}},
		syncRes: &dashboard.SyncResult{RunID: "r1", Fetched: 10, New: 4, Updated: 6},
	}
	h, _ := newTestRouter(svc, nil)

	rr, body := do(t, h, http.MethodGet, "/api/ghl/stages", "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "s1", body["data"].([]any)[0].(map[string]any)["id"])

	rr, body = do(t, h, http.MethodPost, "/api/ghl/sync", "")
	require.Equal(t, http.StatusOK, rr.Code)
	data := body["data"].(map[string]any)
	assert.EqualValues(t, 10, data["fetched"])
	assert.EqualValues(t, 4, data["new"])
	assert.Equal(t, 1, svc.syncCalls)

	rr, _ = do(t, h, http.MethodGet, "/api/ghl/sync", "")
	assert.Equal(t, http.StatusMethodNotAllowed, rr.Code)
}

func TestOpportunities(t *testing.T) {
	svc := &fakeService{records: []model.Opportunity{{ID: "o1"}, {ID: "o2"}}}
	h, _ := newTestRouter(svc, nil)

	rr, body := do(t, h, http.MethodGet, "/api/ghl/opportunities?startDate=2025-03-01&endDate=2025-03-10", "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Len(t, body["data"], 2)
	assert.Equal(t, "2025-03-10", svc.gotRange.End)
}

func TestPrometheusEndpoint(t *testing.T) {
	h, _ := newTestRouter(&fakeService{result: &model.MetricsResult{}}, nil)

	do(t, h, http.MethodGet, "/api/metrics/summary", "")
	rr, _ := do(t, h, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), `funnel_http_requests_total{code="200",route="/api/metrics/summary"} 1`)
}

func TestCORS(t *testing.T) {
	h, _ := newTestRouter(&fakeService{}, nil)

	req := httptest.NewRequest(http.MethodOptions, "/api/health", nil)
	req.Header.Set("Origin", "http://localhost:5173")
	req.Header.Set("Access-Control-Request-Method", http.MethodGet)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	assert.Equal(t, "*", rr.Header().Get("Access-Control-Allow-Origin"))
}
