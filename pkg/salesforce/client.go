// Package salesforce reads Opportunity records from Salesforce as an
// alternate CRM source.
package salesforce

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/k-capehart/go-salesforce/v3"
	"github.com/rotisserie/eris"
	"golang.org/x/time/rate"
)

// Opportunity is the Opportunity SObject as selected by this package.
type Opportunity struct {
	ID               string   `json:"Id" salesforce:"Id"`
	Name             string   `json:"Name" salesforce:"Name"`
	StageName        string   `json:"StageName" salesforce:"StageName"`
	IsClosed         bool     `json:"IsClosed" salesforce:"IsClosed"`
	IsWon            bool     `json:"IsWon" salesforce:"IsWon"`
	CreatedDate      string   `json:"CreatedDate" salesforce:"CreatedDate"`
	LastModifiedDate string   `json:"LastModifiedDate" salesforce:"LastModifiedDate"`
	Amount           *float64 `json:"Amount" salesforce:"Amount"`
	LeadSource       string   `json:"LeadSource" salesforce:"LeadSource"`
	AccountID        string   `json:"AccountId" salesforce:"AccountId"`
}

var opportunityFields = []string{
	"Id", "Name", "StageName", "IsClosed", "IsWon",
	"CreatedDate", "LastModifiedDate", "Amount", "LeadSource", "AccountId",
}

// PicklistValue is one StageName option.
type PicklistValue struct {
	Value  string `json:"value"`
	Label  string `json:"label"`
	Active bool   `json:"active"`
}

// Client is the Salesforce surface the CRM source reads through.
type Client interface {
	// Opportunities returns every Opportunity created at or after since,
	// oldest first. A zero since returns all of them.
	Opportunities(ctx context.Context, since time.Time) ([]Opportunity, error)
	// StagePicklist returns the StageName picklist in org order.
	StagePicklist(ctx context.Context) ([]PicklistValue, error)
}

// ClientOption configures the Salesforce client.
type ClientOption func(*sfClient)

// WithRateLimit caps API calls per second. Zero or less disables the cap.
func WithRateLimit(rps float64) ClientOption {
	return func(c *sfClient) {
		c.limiter = nil
		if rps > 0 {
			c.limiter = rate.NewLimiter(rate.Limit(rps), max(int(rps), 1))
		}
	}
}

// go-salesforce takes no context, so ctx only bounds the limiter wait.
type sfClient struct {
	sf      *salesforce.Salesforce
	limiter *rate.Limiter
}

// NewClient wraps an initialised go-salesforce session, limited to 5
// calls per second by default.
func NewClient(sf *salesforce.Salesforce, opts ...ClientOption) Client {
	c := &sfClient{sf: sf, limiter: rate.NewLimiter(5, 5)}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Credentials are the JWT bearer-flow settings.
type Credentials struct {
	LoginURL   string
	Username   string
	ClientID   string
	PrivateKey string
}

// Connect authenticates with the JWT bearer flow.
func Connect(creds Credentials, opts ...ClientOption) (Client, error) {
	if creds.ClientID == "" {
		return nil, eris.New("sf: client id is required")
	}
	sf, err := salesforce.Init(salesforce.Creds{
		Domain:         creds.LoginURL,
		Username:       creds.Username,
		ConsumerKey:    creds.ClientID,
		ConsumerRSAPem: creds.PrivateKey,
	})
	if err != nil {
		return nil, eris.Wrap(err, "sf: init")
	}
	return NewClient(sf, opts...), nil
}

func (c *sfClient) wait(ctx context.Context) error {
	if c.limiter == nil {
		return ctx.Err()
	}
	return eris.Wrap(c.limiter.Wait(ctx), "sf: rate limit")
}

func (c *sfClient) Opportunities(ctx context.Context, since time.Time) ([]Opportunity, error) {
	if err := c.wait(ctx); err != nil {
		return nil, err
	}
	var recs []Opportunity
	if err := c.sf.Query(opportunitySOQL(since), &recs); err != nil {
		return nil, eris.Wrap(err, "sf: query opportunities")
	}
	return recs, nil
}

func opportunitySOQL(since time.Time) string {
	soql := fmt.Sprintf("SELECT %s FROM Opportunity", strings.Join(opportunityFields, ", "))
	if !since.IsZero() {
		soql += " WHERE CreatedDate >= " + since.UTC().Format("2006-01-02T15:04:05Z")
	}
	return soql + " ORDER BY CreatedDate"
}

func (c *sfClient) StagePicklist(ctx context.Context) ([]PicklistValue, error) {
	if err := c.wait(ctx); err != nil {
		return nil, err
	}
	resp, err := c.sf.DoRequest("GET", "/sobjects/Opportunity/describe", nil)
	if err != nil {
		return nil, eris.Wrap(err, "sf: describe opportunity")
	}
	defer resp.Body.Close() //nolint:errcheck

	var desc struct {
		Fields []struct {
			Name           string          `json:"name"`
			PicklistValues []PicklistValue `json:"picklistValues"`
		} `json:"fields"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&desc); err != nil {
		return nil, eris.Wrap(err, "sf: decode describe")
	}
	for _, f := range desc.Fields {
		if f.Name == "StageName" {
			return f.PicklistValues, nil
		}
	}
	return nil, eris.New("sf: opportunity has no StageName field")
}
