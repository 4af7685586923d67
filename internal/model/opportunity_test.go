package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestOpportunityLowerHelpers(t *testing.T) {
	t.Parallel()

	o := Opportunity{
		Source:  "Facebook Lead Form",
		Contact: Contact{Tags: []string{"FB-Ad-Lead", "Inbound WhatsApp"}},
	}

	assert.Equal(t, "facebook lead form", o.SourceLower())
	assert.Equal(t, "fb-ad-lead inbound whatsapp", o.TagsLower())
}

func TestOpportunityTimestamps(t *testing.T) {
	t.Parallel()

	var o Opportunity
	assert.False(t, o.HasCreatedAt())
	assert.False(t, o.HasUpdatedAt())

	o.CreatedAt = time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	assert.True(t, o.HasCreatedAt())
	assert.False(t, o.HasUpdatedAt())
}
