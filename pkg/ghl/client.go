// Package ghl reads sales pipeline opportunities from the GoHighLevel v1 REST API.
package ghl

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/ciplastic/funnel-dashboard/internal/model"
	"github.com/ciplastic/funnel-dashboard/internal/resilience"
)

const (
	defaultBaseURL    = "https://rest.gohighlevel.com/v1"
	defaultPageDelay  = 500 * time.Millisecond
	defaultRetryBase  = 2 * time.Second
	defaultMaxRetries = 3

	// PageSize is the number of opportunities requested per page. A shorter
	// page ends pagination.
	PageSize = 100
)

// Option configures the client.
type Option func(*Client)

// WithBaseURL overrides the default API base URL.
func WithBaseURL(u string) Option {
	return func(c *Client) {
		c.baseURL = u
	}
}

// WithHTTPClient overrides the default http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.http = hc
	}
}

// WithPageDelay sets the minimum spacing between requests.
func WithPageDelay(d time.Duration) Option {
	return func(c *Client) {
		if d <= 0 {
			c.limiter = rate.NewLimiter(rate.Inf, 1)
			return
		}
		c.limiter = rate.NewLimiter(rate.Every(d), 1)
	}
}

// WithRetry sets the 429 backoff base and the number of retries.
func WithRetry(base time.Duration, maxRetries int) Option {
	return func(c *Client) {
		c.retryBase = base
		c.maxRetries = maxRetries
	}
}

// Client talks to the GoHighLevel API.
type Client struct {
	token      string
	baseURL    string
	http       *http.Client
	limiter    *rate.Limiter
	retryBase  time.Duration
	maxRetries int
}

// NewClient creates a GoHighLevel API client authenticated with a bearer token.
func NewClient(token string, opts ...Option) *Client {
	c := &Client{
		token:   token,
		baseURL: defaultBaseURL,
		http: &http.Client{
			Timeout: 60 * time.Second,
			Transport: &http.Transport{
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		limiter:    rate.NewLimiter(rate.Every(defaultPageDelay), 1),
		retryBase:  defaultRetryBase,
		maxRetries: defaultMaxRetries,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

type pageMeta struct {
	StartAfterID string          `json:"startAfterId"`
	StartAfter   json.RawMessage `json:"startAfter"`
	NextPage     json.RawMessage `json:"nextPage"`
	Total        int             `json:"total"`
}

type opportunitiesPage struct {
	Opportunities []rawOpportunity `json:"opportunities"`
	Meta          *pageMeta        `json:"meta"`
}

// FetchOpportunities returns every opportunity of a pipeline, following the
// startAfterId/startAfter cursor until a short page or a missing cursor.
func (c *Client) FetchOpportunities(ctx context.Context, pipelineID string) ([]model.Opportunity, error) {
	if pipelineID == "" {
		return nil, eris.New("ghl: pipeline id is required")
	}
	log := zap.L().With(zap.String("service", "ghl"), zap.String("pipeline_id", pipelineID))

	var (
		out          []model.Opportunity
		startAfterID string
		startAfter   string
	)
	for page := 1; ; page++ {
		q := url.Values{}
		q.Set("limit", "100")
		if startAfterID != "" {
			q.Set("startAfterId", startAfterID)
			if startAfter != "" {
				q.Set("startAfter", startAfter)
			}
		}

		var resp opportunitiesPage
		if err := c.get(ctx, "/pipelines/"+url.PathEscape(pipelineID)+"/opportunities", q, &resp); err != nil {
			return nil, eris.Wrapf(err, "ghl: fetch opportunities page %d", page)
		}
		for _, raw := range resp.Opportunities {
			out = append(out, raw.normalize())
		}
		log.Debug("fetched opportunities page",
			zap.Int("page", page),
			zap.Int("count", len(resp.Opportunities)),
			zap.Int("total", len(out)),
		)

		if len(resp.Opportunities) < PageSize || resp.Meta == nil || resp.Meta.StartAfterID == "" || isNull(resp.Meta.NextPage) {
			break
		}
		startAfterID = resp.Meta.StartAfterID
		startAfter = rawScalar(resp.Meta.StartAfter)
	}

	log.Info("fetched opportunities", zap.Int("total", len(out)))
	return out, nil
}

type rawStage struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Position int    `json:"position"`
}

type pipelineResponse struct {
	ID        string     `json:"id"`
	Stages    []rawStage `json:"stages"`
	Pipelines []struct {
		ID     string     `json:"id"`
		Stages []rawStage `json:"stages"`
	} `json:"pipelines"`
}

// FetchPipelineStages returns the stages of a pipeline in position order.
func (c *Client) FetchPipelineStages(ctx context.Context, pipelineID string) ([]model.Stage, error) {
	if pipelineID == "" {
		return nil, eris.New("ghl: pipeline id is required")
	}
	var resp pipelineResponse
	if err := c.get(ctx, "/pipelines/"+url.PathEscape(pipelineID), nil, &resp); err != nil {
		return nil, eris.Wrap(err, "ghl: fetch pipeline stages")
	}

	stages := resp.Stages
	if len(stages) == 0 {
		for _, p := range resp.Pipelines {
			if p.ID == pipelineID {
				stages = p.Stages
				break
			}
		}
	}

	out := make([]model.Stage, len(stages))
	for i, s := range stages {
		out[i] = model.Stage{ID: s.ID, DisplayName: s.Name, Ordinal: s.Position}
	}
	return out, nil
}

// get performs a rate-limited GET, retrying 429 responses with exponential
// backoff. Exhausted retries surface as *resilience.RateLimitedError.
func (c *Client) get(ctx context.Context, path string, query url.Values, dst any) error {
	policy := resilience.RateLimitPolicy(c.retryBase, c.maxRetries)
	policy.OnRetry = resilience.LogRetries("ghl", path)

	body, err := resilience.Retry(ctx, policy, func(ctx context.Context) ([]byte, error) {
		return c.doOnce(ctx, path, query)
	})
	if err != nil {
		return err
	}
	return eris.Wrap(json.Unmarshal(body, dst), "ghl: unmarshal response")
}

func (c *Client) doOnce(ctx context.Context, path string, query url.Values) ([]byte, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, eris.Wrap(err, "ghl: rate limiter")
	}

	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, eris.Wrap(err, "ghl: create request")
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, resilience.NewUnavailableError("ghl", resilience.NewTransientError(eris.Wrap(err, "ghl: send request"), 0))
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, eris.Wrap(err, "ghl: read response")
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		retryAfter := resilience.ParseRetryAfter(resp.Header.Get("Retry-After"), c.retryBase)
		return nil, resilience.NewRateLimitedError("ghl", retryAfter,
			eris.Errorf("ghl: unexpected status 429: %s", string(body)))
	case resp.StatusCode >= 500:
		return nil, resilience.NewUnavailableError("ghl", resilience.NewTransientError(
			eris.Errorf("ghl: unexpected status %d: %s", resp.StatusCode, string(body)), resp.StatusCode))
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		return nil, eris.Errorf("ghl: unexpected status %d: %s", resp.StatusCode, string(body))
	}
	return body, nil
}

// Pipeline binds a client to one pipeline id.
type Pipeline struct {
	client *Client
	id     string
}

// Pipeline returns a handle for the given pipeline.
func (c *Client) Pipeline(id string) *Pipeline {
	return &Pipeline{client: c, id: id}
}

// Provider names the CRM backing this source.
func (p *Pipeline) Provider() string { return "ghl" }

// Fetch returns all opportunities of the pipeline.
func (p *Pipeline) Fetch(ctx context.Context) ([]model.Opportunity, error) {
	return p.client.FetchOpportunities(ctx, p.id)
}

// Stages returns the pipeline stages.
func (p *Pipeline) Stages(ctx context.Context) ([]model.Stage, error) {
	return p.client.FetchPipelineStages(ctx, p.id)
}
