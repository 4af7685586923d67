// Package anthropic sends single-turn narration prompts to the Claude
// Messages API.
package anthropic

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/rotisserie/eris"

	"github.com/ciplastic/funnel-dashboard/internal/resilience"
)

// Client completes one prompt.
type Client interface {
	Complete(ctx context.Context, p Prompt) (*Completion, error)
}

// Prompt is a system instruction plus one user turn.
type Prompt struct {
	Model     string
	MaxTokens int64
	System    string
	// SystemCacheTTL marks the system prompt as a cache breakpoint ("5m" or
	// "1h"). Empty leaves it uncached.
	SystemCacheTTL string
	User           string
	Temperature    *float64
}

// Completion is the model's answer. Text joins every text block.
type Completion struct {
	ID         string
	Model      string
	StopReason string
	Text       string
	Usage      Usage
}

type sdkClient struct {
	client sdk.Client
}

// Option configures the SDK-backed client.
type Option = option.RequestOption

// WithBaseURL points the client at a different API host.
func WithBaseURL(u string) Option {
	return option.WithBaseURL(u)
}

// WithMaxRetries overrides the SDK retry count for 429 and 5xx responses.
func WithMaxRetries(n int) Option {
	return option.WithMaxRetries(n)
}

// NewClient returns a Client authenticated with apiKey.
func NewClient(apiKey string, opts ...Option) Client {
	return &sdkClient{
		client: sdk.NewClient(append([]option.RequestOption{option.WithAPIKey(apiKey)}, opts...)...),
	}
}

func (c *sdkClient) Complete(ctx context.Context, p Prompt) (*Completion, error) {
	params := sdk.MessageNewParams{
		Model:     sdk.Model(p.Model),
		MaxTokens: p.MaxTokens,
		Messages:  []sdk.MessageParam{sdk.NewUserMessage(sdk.NewTextBlock(p.User))},
	}
	if p.System != "" {
		params.System = []sdk.TextBlockParam{systemBlock(p.System, p.SystemCacheTTL)}
	}
	if p.Temperature != nil {
		params.Temperature = sdk.Float(*p.Temperature)
	}

	msg, err := c.client.Messages.New(ctx, params)
	if err != nil {
		return nil, classify(err)
	}
	return completion(msg), nil
}

func systemBlock(text, ttl string) sdk.TextBlockParam {
	b := sdk.TextBlockParam{Text: text}
	if ttl != "" {
		cc := sdk.NewCacheControlEphemeralParam()
		cc.TTL = sdk.CacheControlEphemeralTTL(ttl)
		b.CacheControl = cc
	}
	return b
}

func completion(msg *sdk.Message) *Completion {
	var text strings.Builder
	for _, b := range msg.Content {
		if b.Type == "" || b.Type == "text" {
			text.WriteString(b.Text)
		}
	}
	return &Completion{
		ID:         msg.ID,
		Model:      string(msg.Model),
		StopReason: string(msg.StopReason),
		Text:       text.String(),
		Usage: Usage{
			Input:      msg.Usage.InputTokens,
			Output:     msg.Usage.OutputTokens,
			CacheWrite: msg.Usage.CacheCreationInputTokens,
			CacheRead:  msg.Usage.CacheReadInputTokens,
		},
	}
}

// classify maps SDK failures onto the resilience error kinds so the HTTP
// layer can answer 429 or 503.
func classify(err error) error {
	wrapped := eris.Wrap(err, "anthropic: complete")
	var apiErr *sdk.Error
	if !errors.As(err, &apiErr) {
		if resilience.IsTransient(err) {
			return resilience.NewUnavailableError("anthropic", wrapped)
		}
		return wrapped
	}
	switch {
	case apiErr.StatusCode == http.StatusTooManyRequests:
		var retryAfter time.Duration
		if apiErr.Response != nil {
			retryAfter = resilience.ParseRetryAfter(apiErr.Response.Header.Get("Retry-After"), 0)
		}
		return resilience.NewRateLimitedError("anthropic", retryAfter, wrapped)
	case apiErr.StatusCode >= 500:
		return resilience.NewUnavailableError("anthropic", resilience.NewTransientError(wrapped, apiErr.StatusCode))
	}
	return wrapped
}
