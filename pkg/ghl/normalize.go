package ghl

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/ciplastic/funnel-dashboard/internal/model"
)

// rawOpportunity mirrors the upstream JSON. Timestamps and amounts arrive in
// more than one shape and are resolved by normalize.
type rawOpportunity struct {
	ID                 string          `json:"id"`
	Name               string          `json:"name"`
	PipelineStageID    string          `json:"pipelineStageId"`
	Status             string          `json:"status"`
	CreatedAt          json.RawMessage `json:"createdAt"`
	DateAdded          json.RawMessage `json:"dateAdded"`
	UpdatedAt          json.RawMessage `json:"updatedAt"`
	LastStatusChangeAt json.RawMessage `json:"lastStatusChangeAt"`
	MonetaryValue      json.RawMessage `json:"monetaryValue"`
	Source             string          `json:"source"`
	Contact            *struct {
		ID   string   `json:"id"`
		Name string   `json:"name"`
		Tags []string `json:"tags"`
	} `json:"contact"`
}

func (r rawOpportunity) normalize() model.Opportunity {
	o := model.Opportunity{
		ID:              r.ID,
		Name:            r.Name,
		PipelineStageID: r.PipelineStageID,
		Status:          r.Status,
		CreatedAt:       firstTime(r.CreatedAt, r.DateAdded),
		UpdatedAt:       firstTime(r.UpdatedAt, r.LastStatusChangeAt),
		MonetaryValue:   parseMoney(r.MonetaryValue),
		Source:          r.Source,
	}
	if r.Contact != nil {
		o.Contact = model.Contact{ID: r.Contact.ID, Name: r.Contact.Name, Tags: r.Contact.Tags}
	}
	if o.Contact.Tags == nil {
		o.Contact.Tags = []string{}
	}
	return o
}

func firstTime(candidates ...json.RawMessage) time.Time {
	for _, raw := range candidates {
		if t := parseTime(raw); !t.IsZero() {
			return t
		}
	}
	return time.Time{}
}

// parseTime accepts RFC 3339 strings and epoch milliseconds (number or
// numeric string). Anything else is unknown.
func parseTime(raw json.RawMessage) time.Time {
	s := rawScalar(raw)
	if s == "" {
		return time.Time{}
	}
	if ms, err := strconv.ParseInt(s, 10, 64); err == nil {
		return time.UnixMilli(ms).UTC()
	}
	for _, layout := range []string{time.RFC3339Nano, "2006-01-02T15:04:05.000Z07:00", "2006-01-02 15:04:05", "2006-01-02"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC()
		}
	}
	return time.Time{}
}

// parseMoney reads a number or numeric string. Unparseable values are 0.
func parseMoney(raw json.RawMessage) float64 {
	s := strings.TrimSpace(rawScalar(raw))
	if s == "" {
		return 0
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0
	}
	return d.InexactFloat64()
}

// rawScalar returns a JSON string's contents or a number's literal text.
// null, objects and arrays yield "".
func rawScalar(raw json.RawMessage) string {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || isNull(raw) {
		return ""
	}
	switch raw[0] {
	case '"':
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return ""
		}
		return s
	case '{', '[':
		return ""
	}
	return string(raw)
}

func isNull(raw json.RawMessage) bool {
	return bytes.Equal(bytes.TrimSpace(raw), []byte("null"))
}
