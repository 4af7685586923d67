package importer

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/samber/lo"
	"github.com/shopspring/decimal"

	"github.com/ciplastic/funnel-dashboard/internal/funnel"
	"github.com/ciplastic/funnel-dashboard/internal/model"
)

type column int

const (
	colID column = iota
	colName
	colStageID
	colStageName
	colStatus
	colCreated
	colUpdated
	colValue
	colSource
	colContactID
	colContactName
	colTags
	colCount
)

// headerAliases lists accepted header names per column, lower-cased.
var headerAliases = [colCount][]string{
	colID:          {"opportunity id", "id"},
	colName:        {"opportunity name", "name"},
	colStageID:     {"pipeline stage id", "stage id", "pipelinestageid"},
	colStageName:   {"stage", "pipeline stage", "stage name"},
	colStatus:      {"status"},
	colCreated:     {"created on", "created at", "createdat", "created"},
	colUpdated:     {"last stage change", "updated on", "updated at", "updatedat"},
	colValue:       {"lead value", "monetary value", "monetaryvalue", "value"},
	colSource:      {"source"},
	colContactID:   {"contact id", "contactid"},
	colContactName: {"contact name", "contact"},
	colTags:        {"tags"},
}

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
	"Jan 2 2006 03:04 PM",
	"Jan 02 2006 03:04 PM",
	"2006-01-02",
}

// RowError explains why a data row was skipped. Row is 1-based and counts
// the header.
type RowError struct {
	Row    int    `json:"row"`
	Reason string `json:"reason"`
}

// Result is the outcome of parsing one export.
type Result struct {
	Opportunities []model.Opportunity `json:"-"`
	Skipped       []RowError          `json:"skipped"`
}

// Parse maps export rows to opportunities. The first row must be a header
// naming at least an id column and a stage (id or name) column. Stage names
// are resolved through tax; timestamps without a zone are read in loc.
func Parse(rows [][]string, tax *funnel.Taxonomy, loc *time.Location) (*Result, error) {
	if len(rows) == 0 {
		return nil, eris.New("importer: empty file")
	}
	if tax == nil {
		tax = funnel.DefaultTaxonomy()
	}
	if loc == nil {
		loc = time.Local
	}

	idx := indexHeader(rows[0])
	if idx[colID] < 0 {
		return nil, eris.New("importer: no opportunity id column")
	}
	if idx[colStageID] < 0 && idx[colStageName] < 0 {
		return nil, eris.New("importer: no pipeline stage column")
	}

	res := &Result{}
	for i, row := range rows[1:] {
		line := i + 2
		get := func(c column) string {
			j := idx[c]
			if j < 0 || j >= len(row) {
				return ""
			}
			return row[j]
		}

		if lo.EveryBy(row, func(s string) bool { return s == "" }) {
			continue
		}
		id := get(colID)
		if id == "" {
			res.Skipped = append(res.Skipped, RowError{Row: line, Reason: "missing id"})
			continue
		}

		stageID := get(colStageID)
		if stageID == "" {
			name := get(colStageName)
			st, ok := tax.LookupByName(name)
			if !ok {
				res.Skipped = append(res.Skipped, RowError{Row: line, Reason: fmt.Sprintf("unknown stage %q", name)})
				continue
			}
			stageID = st.ID
		}

		res.Opportunities = append(res.Opportunities, model.Opportunity{
			ID:              id,
			Name:            get(colName),
			PipelineStageID: stageID,
			Status:          strings.ToLower(get(colStatus)),
			CreatedAt:       parseTime(get(colCreated), loc),
			UpdatedAt:       parseTime(get(colUpdated), loc),
			MonetaryValue:   parseMoney(get(colValue)),
			Source:          get(colSource),
			Contact: model.Contact{
				ID:   get(colContactID),
				Name: get(colContactName),
				Tags: splitTags(get(colTags)),
			},
		})
	}
	return res, nil
}

func indexHeader(header []string) [colCount]int {
	norm := lo.Map(header, func(h string, _ int) string {
		return strings.ToLower(strings.TrimSpace(strings.TrimPrefix(h, "\ufeff")))
	})
	var idx [colCount]int
	for c := column(0); c < colCount; c++ {
		idx[c] = -1
		for _, alias := range headerAliases[c] {
			if j := lo.IndexOf(norm, alias); j >= 0 {
				idx[c] = j
				break
			}
		}
	}
	return idx
}

// parseTime accepts RFC 3339, common spreadsheet layouts and epoch millis.
// Unparseable values are the zero time.
func parseTime(s string, loc *time.Location) time.Time {
	if s == "" {
		return time.Time{}
	}
	if ms, err := strconv.ParseInt(s, 10, 64); err == nil && ms > 1e11 {
		return time.UnixMilli(ms).UTC()
	}
	for _, layout := range timeLayouts {
		if t, err := time.ParseInLocation(layout, s, loc); err == nil {
			return t.UTC()
		}
	}
	return time.Time{}
}

// parseMoney strips currency symbols and thousands separators.
func parseMoney(s string) float64 {
	s = strings.NewReplacer("$", "", ",", "", "MXN", "", "USD", "", " ", "").Replace(s)
	if s == "" {
		return 0
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0
	}
	return d.InexactFloat64()
}

func splitTags(s string) []string {
	if s == "" {
		return nil
	}
	return lo.Compact(lo.Map(strings.Split(s, ","), func(t string, _ int) string {
		return strings.TrimSpace(t)
	}))
}
