// Package meta reads campaign performance from the Meta (Facebook) Graph
// Marketing API.
package meta

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"slices"
	"sort"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/ciplastic/funnel-dashboard/internal/cache"
	"github.com/ciplastic/funnel-dashboard/internal/model"
	"github.com/ciplastic/funnel-dashboard/internal/resilience"
)

const (
	defaultBaseURL  = "https://graph.facebook.com/v21.0"
	defaultCacheTTL = 5 * time.Minute

	insightFields = "campaign_name,campaign_id,impressions,clicks,spend,actions,cost_per_action_type"
	activeFields  = "name,status,objective,daily_budget,lifetime_budget,start_time"

	// StatusUnknown is assigned to campaigns missing from the status listing.
	StatusUnknown = "UNKNOWN"
)

// Graph API error codes that signal throttling rather than a bad request.
var throttleCodes = map[int]bool{4: true, 17: true, 32: true, 613: true, 80004: true}

// Option configures the client.
type Option func(*Client)

// WithBaseURL overrides the default Graph API base URL.
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

// WithBreaker routes every Graph API request through cb.
func WithBreaker(cb *resilience.Breaker) Option {
	return func(c *Client) {
		c.breaker = cb
	}
}

// WithCacheTTL sets how long campaign insights are reused per date range.
// Zero disables caching.
func WithCacheTTL(ttl time.Duration, opts ...cache.Option) Option {
	return func(c *Client) {
		if ttl <= 0 {
			c.insights = nil
			return
		}
		c.insights = cache.New[[]model.CampaignInsight](ttl, opts...)
	}
}

// Client is a Graph API client bound to one ad account.
type Client struct {
	token     string
	accountID string
	baseURL   string
	http      *http.Client
	breaker   *resilience.Breaker
	insights  *cache.TTL[[]model.CampaignInsight]
}

// NewClient creates a Graph API client for the ad account (e.g. "act_123").
func NewClient(token, accountID string, opts ...Option) *Client {
	c := &Client{
		token:     token,
		accountID: accountID,
		baseURL:   defaultBaseURL,
		http: &http.Client{
			Timeout: 60 * time.Second,
			Transport: &http.Transport{
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		insights: cache.New[[]model.CampaignInsight](defaultCacheTTL),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Configured reports whether credentials are present.
func (c *Client) Configured() bool {
	return c.token != "" && c.accountID != ""
}

type paging struct {
	Next string `json:"next"`
}

type graphError struct {
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
		Code    int    `json:"code"`
	} `json:"error"`
}

// CampaignInsights returns campaign-level insights for the inclusive date
// range (YYYY-MM-DD), sorted by spend descending. Results are cached per range.
func (c *Client) CampaignInsights(ctx context.Context, since, until string) ([]model.CampaignInsight, error) {
	key := since + "_" + until
	if c.insights != nil {
		if cached, ok := c.insights.Get(key); ok {
			zap.L().Debug("meta: insights cache hit", zap.String("range", key), zap.Int("campaigns", len(cached)))
			return slices.Clone(cached), nil
		}
	}

	timeRange, err := json.Marshal(map[string]string{"since": since, "until": until})
	if err != nil {
		return nil, eris.Wrap(err, "meta: marshal time range")
	}
	q := url.Values{}
	q.Set("fields", insightFields)
	q.Set("time_range", string(timeRange))
	q.Set("level", "campaign")
	q.Set("limit", "100")

	var out []model.CampaignInsight
	next := c.endpoint("/"+c.accountID+"/insights", q)
	for next != "" {
		var resp struct {
			Data   []rawInsight `json:"data"`
			Paging *paging      `json:"paging"`
		}
		if err := c.get(ctx, next, &resp); err != nil {
			return nil, eris.Wrap(err, "meta: campaign insights")
		}
		for _, item := range resp.Data {
			out = append(out, processInsight(item))
		}
		next = ""
		if resp.Paging != nil {
			next = resp.Paging.Next
		}
	}

	sort.SliceStable(out, func(i, j int) bool { return out[i].Spend > out[j].Spend })
	zap.L().Info("meta: fetched campaign insights",
		zap.String("since", since), zap.String("until", until), zap.Int("campaigns", len(out)))

	if c.insights != nil {
		c.insights.Set(key, slices.Clone(out))
	}
	return out, nil
}

// CampaignStatuses maps campaign id to its delivery status.
func (c *Client) CampaignStatuses(ctx context.Context) (map[string]string, error) {
	q := url.Values{}
	q.Set("fields", "id,status")
	q.Set("limit", "200")

	var resp struct {
		Data []struct {
			ID     string `json:"id"`
			Status string `json:"status"`
		} `json:"data"`
	}
	if err := c.get(ctx, c.endpoint("/"+c.accountID+"/campaigns", q), &resp); err != nil {
		return nil, eris.Wrap(err, "meta: campaign statuses")
	}
	out := make(map[string]string, len(resp.Data))
	for _, d := range resp.Data {
		out[d.ID] = d.Status
	}
	return out, nil
}

// ActiveCampaigns lists campaigns whose status is ACTIVE.
func (c *Client) ActiveCampaigns(ctx context.Context) ([]model.ActiveCampaign, error) {
	filtering, err := json.Marshal([]map[string]any{{"field": "status", "operator": "IN", "value": []string{"ACTIVE"}}})
	if err != nil {
		return nil, eris.Wrap(err, "meta: marshal filtering")
	}
	q := url.Values{}
	q.Set("fields", activeFields)
	q.Set("filtering", string(filtering))
	q.Set("limit", "50")

	var resp struct {
		Data []model.ActiveCampaign `json:"data"`
	}
	if err := c.get(ctx, c.endpoint("/"+c.accountID+"/campaigns", q), &resp); err != nil {
		return nil, eris.Wrap(err, "meta: active campaigns")
	}
	if resp.Data == nil {
		resp.Data = []model.ActiveCampaign{}
	}
	return resp.Data, nil
}

// AccountSummary fetches insights and statuses concurrently and aggregates
// account totals. A failed status lookup leaves every campaign UNKNOWN.
func (c *Client) AccountSummary(ctx context.Context, since, until string) (*model.AccountSummary, error) {
	var (
		campaigns []model.CampaignInsight
		statuses  map[string]string
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		campaigns, err = c.CampaignInsights(gctx, since, until)
		return err
	})
	g.Go(func() error {
		var err error
		statuses, err = c.CampaignStatuses(gctx)
		if err != nil {
			zap.L().Warn("meta: campaign statuses unavailable", zap.Error(err))
			statuses = map[string]string{}
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	for i := range campaigns {
		if s, ok := statuses[campaigns[i].CampaignID]; ok && s != "" {
			campaigns[i].Status = s
		} else {
			campaigns[i].Status = StatusUnknown
		}
	}
	return Summarize(campaigns), nil
}

func (c *Client) endpoint(path string, q url.Values) string {
	q.Set("access_token", c.token)
	return c.baseURL + path + "?" + q.Encode()
}

// get fetches an absolute URL and decodes the JSON body into dst.
func (c *Client) get(ctx context.Context, rawURL string, dst any) error {
	body, err := resilience.Call(ctx, c.breaker, func(ctx context.Context) ([]byte, error) {
		return c.doOnce(ctx, rawURL)
	})
	if err != nil {
		return err
	}
	return eris.Wrap(json.Unmarshal(body, dst), "meta: unmarshal response")
}

func (c *Client) doOnce(ctx context.Context, rawURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, eris.Wrap(err, "meta: create request")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, resilience.NewUnavailableError("meta", resilience.NewTransientError(eris.Wrap(err, "meta: send request"), 0))
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, eris.Wrap(err, "meta: read response")
	}
	if resp.StatusCode >= 200 && resp.StatusCode <= 299 {
		return body, nil
	}

	var ge graphError
	_ = json.Unmarshal(body, &ge)
	msg := string(body)
	code := 0
	if ge.Error != nil {
		msg = ge.Error.Message
		code = ge.Error.Code
	}
	apiErr := eris.Errorf("meta: api error (status %d, code %d): %s", resp.StatusCode, code, msg)

	switch {
	case resp.StatusCode == http.StatusTooManyRequests || throttleCodes[code]:
		return nil, resilience.NewRateLimitedError("meta",
			resilience.ParseRetryAfter(resp.Header.Get("Retry-After"), time.Minute), apiErr)
	case resp.StatusCode >= 500:
		return nil, resilience.NewUnavailableError("meta", resilience.NewTransientError(apiErr, resp.StatusCode))
	}
	return nil, apiErr
}
