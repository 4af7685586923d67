package main

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/ciplastic/funnel-dashboard/internal/analysis"
	"github.com/ciplastic/funnel-dashboard/internal/dashboard"
	"github.com/ciplastic/funnel-dashboard/internal/funnel"
	"github.com/ciplastic/funnel-dashboard/internal/model"
	"github.com/ciplastic/funnel-dashboard/internal/monitoring"
	"github.com/ciplastic/funnel-dashboard/internal/resilience"
)

// metricsService is the part of dashboard.Service the API serves.
type metricsService interface {
	Lookup(ctx context.Context, r funnel.DateRange, opts dashboard.Options) (*model.MetricsResult, model.ResultSource, error)
	Records(ctx context.Context, r funnel.DateRange) ([]model.Opportunity, error)
	StoredCount(ctx context.Context) (int, error)
	Campaigns(ctx context.Context, r funnel.DateRange) (*model.AccountSummary, error)
	ActiveCampaigns(ctx context.Context) ([]model.ActiveCampaign, error)
	Stages(ctx context.Context) ([]model.Stage, error)
	Sync(ctx context.Context) (*dashboard.SyncResult, error)
}

type analyzer interface {
	Analyze(ctx context.Context, r funnel.DateRange) (*model.AnalysisResult, error)
}

// api holds the handlers' dependencies.
type api struct {
	svc      metricsService
	analyzer analyzer
	metrics  *monitoring.Metrics
	loc      *time.Location
	now      func() time.Time
}

type ctxKey string

const (
	requestIDKey ctxKey = "request_id"

	// metricsSourceHeader names the cache tier that answered a metrics request.
	metricsSourceHeader = "X-Metrics-Source"
)

// buildRouter wires every route onto a chi mux.
func buildRouter(a *api, corsOrigins []string) http.Handler {
	if a.now == nil {
		a.now = time.Now
	}
	if a.loc == nil {
		a.loc = time.Local
	}

	r := chi.NewRouter()
	r.Use(requestID)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: corsOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type", "X-Request-ID"},
		ExposedHeaders: []string{"X-Request-ID", "Retry-After"},
		MaxAge:         300,
	}))
	r.Use(a.observe)

	r.Get("/api/health", a.health)
	r.Handle("/metrics", a.metrics.Handler())

	r.Route("/api/metrics", func(r chi.Router) {
		r.Get("/summary", a.metricsSlice(func(m *model.MetricsResult) any { return m }))
		r.Get("/funnel", a.metricsSlice(func(m *model.MetricsResult) any { return m.Funnel }))
		r.Get("/stages", a.metricsSlice(func(m *model.MetricsResult) any { return m.Stages }))
		r.Get("/times", a.metricsSlice(func(m *model.MetricsResult) any { return m.Times }))
		r.Get("/sources", a.metricsSlice(func(m *model.MetricsResult) any { return m.Sources }))
		r.Get("/trend", a.metricsSlice(func(m *model.MetricsResult) any { return m.Trend }))
	})

	r.Route("/api/meta", func(r chi.Router) {
		r.Get("/campaigns", a.campaigns)
		r.Get("/active", a.activeCampaigns)
	})

	r.Get("/api/ai/analyze", a.analyze)
	r.Post("/api/ai/analyze", a.analyze)

	r.Route("/api/ghl", func(r chi.Router) {
		r.Get("/stages", a.stages)
		r.Get("/opportunities", a.opportunities)
		r.Post("/sync", a.sync)
	})

	return r
}

// requestID tags each request with a uuid, reusing an inbound X-Request-ID.
func requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rid := r.Header.Get("X-Request-ID")
		if rid == "" {
			rid = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", rid)
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), requestIDKey, rid)))
	})
}

func requestIDFrom(ctx context.Context) string {
	rid, _ := ctx.Value(requestIDKey).(string)
	return rid
}

type statusRecorder struct {
	http.ResponseWriter
	code int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.code = code
	s.ResponseWriter.WriteHeader(code)
}

// observe logs each request and records it under its route pattern.
func (a *api) observe(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, code: http.StatusOK}
		next.ServeHTTP(rec, r)

		route := ""
		if rc := chi.RouteContext(r.Context()); rc != nil {
			route = rc.RoutePattern()
		}
		elapsed := time.Since(start)
		a.metrics.ObserveHTTP(route, rec.code, elapsed)
		zap.L().Debug("http",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", rec.code),
			zap.String("request_id", requestIDFrom(r.Context())),
			zap.Duration("latency", elapsed),
		)
	})
}

func (a *api) health(w http.ResponseWriter, r *http.Request) {
	body := map[string]any{
		"status":    "ok",
		"timestamp": a.now().UTC().Format(time.RFC3339),
	}
	n, err := a.svc.StoredCount(r.Context())
	if err != nil {
		zap.L().Warn("health: count stored opportunities", zap.Error(err))
		body["status"] = "degraded"
	} else {
		body["storedOpportunities"] = n
	}
	writeJSON(w, http.StatusOK, body)
}

// metricsSlice serves one projection of the metrics result. Missing dates
// default to the current month.
func (a *api) metricsSlice(project func(*model.MetricsResult) any) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		rng, err := a.rangeOrCurrentMonth(q.Get("startDate"), q.Get("endDate"))
		if err != nil {
			writeError(w, r, err)
			return
		}
		refresh, _ := strconv.ParseBool(q.Get("refresh"))

		res, tier, err := a.svc.Lookup(r.Context(), rng, dashboard.Options{ForceRefresh: refresh})
		if err != nil {
			writeError(w, r, err)
			return
		}
		w.Header().Set(metricsSourceHeader, string(tier))
		writeData(w, rng, project(res))
	}
}

func (a *api) campaigns(w http.ResponseWriter, r *http.Request) {
	rng, err := a.requiredRange(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	summary, err := a.svc.Campaigns(r.Context(), rng)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeData(w, rng, summary)
}

func (a *api) activeCampaigns(w http.ResponseWriter, r *http.Request) {
	campaigns, err := a.svc.ActiveCampaigns(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "data": campaigns})
}

func (a *api) analyze(w http.ResponseWriter, r *http.Request) {
	rng, err := a.requiredRange(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	res, err := a.analyzer.Analyze(r.Context(), rng)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if !res.Cached {
		a.metrics.Analysis()
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success":   true,
		"dateRange": rangeBody(rng),
		"data":      res.Analysis,
		"cached":    res.Cached,
	})
}

func (a *api) stages(w http.ResponseWriter, r *http.Request) {
	stages, err := a.svc.Stages(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "data": stages})
}

func (a *api) opportunities(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	rng, err := a.rangeOrCurrentMonth(q.Get("startDate"), q.Get("endDate"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	opps, err := a.svc.Records(r.Context(), rng)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeData(w, rng, opps)
}

func (a *api) sync(w http.ResponseWriter, r *http.Request) {
	res, err := a.svc.Sync(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "data": res})
}

func (a *api) rangeOrCurrentMonth(start, end string) (funnel.DateRange, error) {
	if start == "" && end == "" {
		return funnel.CurrentMonth(a.now(), a.loc), nil
	}
	return funnel.ParseDateRange(start, end, a.loc)
}

// requiredRange reads startDate/endDate from the query string, falling
// back to a JSON body on POST.
func (a *api) requiredRange(r *http.Request) (funnel.DateRange, error) {
	start, end := r.URL.Query().Get("startDate"), r.URL.Query().Get("endDate")
	if (start == "" || end == "") && r.Method == http.MethodPost && r.Body != nil {
		var body struct {
			StartDate string `json:"startDate"`
			EndDate   string `json:"endDate"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err == nil {
			start, end = body.StartDate, body.EndDate
		}
	}
	if start == "" || end == "" {
		return funnel.DateRange{}, errMissingDates
	}
	return funnel.ParseDateRange(start, end, a.loc)
}

var errMissingDates = eris.New("startDate y endDate son requeridos")

func rangeBody(r funnel.DateRange) map[string]string {
	return map[string]string{"startDate": r.Start, "endDate": r.End}
}

func writeData(w http.ResponseWriter, r funnel.DateRange, data any) {
	writeJSON(w, http.StatusOK, map[string]any{
		"success":   true,
		"dateRange": rangeBody(r),
		"data":      data,
	})
}

// writeError maps err to a status code and writes the failure envelope.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if rl, ok := resilience.IsRateLimited(err); ok && rl.RetryAfter > 0 {
		w.Header().Set("Retry-After", strconv.Itoa(int(math.Ceil(rl.RetryAfter.Seconds()))))
	}
	if status >= http.StatusInternalServerError {
		zap.L().Error("api: request failed",
			zap.String("path", r.URL.Path),
			zap.String("request_id", requestIDFrom(r.Context())),
			zap.Int("status", status),
			zap.Error(err),
		)
	}
	writeJSON(w, status, map[string]any{"success": false, "error": err.Error()})
}

func statusFor(err error) int {
	if _, ok := resilience.IsRateLimited(err); ok {
		return http.StatusTooManyRequests
	}
	switch {
	case errors.Is(err, errMissingDates), errors.Is(err, funnel.ErrBadDateRange):
		return http.StatusBadRequest
	case errors.Is(err, dashboard.ErrAdsNotConfigured),
		errors.Is(err, analysis.ErrNotConfigured),
		resilience.IsUnavailable(err):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
