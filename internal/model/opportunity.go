package model

import (
	"strings"
	"time"
)

// Contact is the CRM contact attached to an opportunity.
type Contact struct {
	ID   string   `json:"id,omitempty"`
	Name string   `json:"name,omitempty"`
	Tags []string `json:"tags"`
}

// Opportunity is one normalized CRM pipeline record. Upstream shape
// differences (fallback timestamp fields, string amounts) are resolved by the
// CRM clients before a value of this type is built.
type Opportunity struct {
	ID              string    `json:"id"`
	Name            string    `json:"name,omitempty"`
	PipelineStageID string    `json:"pipelineStageId"`
	Status          string    `json:"status,omitempty"`
	CreatedAt       time.Time `json:"createdAt"`
	UpdatedAt       time.Time `json:"updatedAt"` // zero when unknown
	MonetaryValue   float64   `json:"monetaryValue"`
	Source          string    `json:"source,omitempty"`
	Contact         Contact   `json:"contact"`
}

// HasCreatedAt reports whether the creation timestamp is known.
func (o Opportunity) HasCreatedAt() bool {
	return !o.CreatedAt.IsZero()
}

// HasUpdatedAt reports whether the last stage-change timestamp is known.
func (o Opportunity) HasUpdatedAt() bool {
	return !o.UpdatedAt.IsZero()
}

// SourceLower returns the lower-cased source label.
func (o Opportunity) SourceLower() string {
	return strings.ToLower(o.Source)
}

// TagsLower returns all contact tags joined by a space and lower-cased.
func (o Opportunity) TagsLower() string {
	return strings.ToLower(strings.Join(o.Contact.Tags, " "))
}

// Stage is one position in the sales pipeline.
type Stage struct {
	ID          string `json:"id" yaml:"id"`
	Key         string `json:"key" yaml:"key"`
	DisplayName string `json:"name" yaml:"name"`
	Ordinal     int    `json:"position" yaml:"-"`
}
