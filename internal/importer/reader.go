// Package importer backfills the store from CRM opportunity exports in CSV
// or XLSX form.
package importer

import (
	"bufio"
	"context"
	"encoding/csv"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/samber/lo"
	"github.com/tealeg/xlsx/v2"
)

// PreferredSheet is read from workbooks that have it; otherwise the first
// sheet is used.
const PreferredSheet = "Opportunities"

var delimiters = []rune{',', ';', '\t'}

// ReadFile loads every row, header included, of a .csv or .xlsx export.
// Cells are trimmed.
func ReadFile(ctx context.Context, path string) ([][]string, error) {
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".csv", ".tsv":
		f, err := os.Open(path)
		if err != nil {
			return nil, eris.Wrap(err, "importer: open csv")
		}
		defer f.Close() //nolint:errcheck
		return ReadCSV(ctx, f)
	case ".xlsx":
		return ReadXLSX(path, PreferredSheet)
	default:
		return nil, eris.Errorf("importer: unsupported file type %q", ext)
	}
}

// ReadCSV parses r, guessing the delimiter from the header line.
func ReadCSV(ctx context.Context, r io.Reader) ([][]string, error) {
	br := bufio.NewReader(r)
	head, err := br.Peek(4096)
	if err != nil && err != io.EOF && err != bufio.ErrBufferFull {
		return nil, eris.Wrap(err, "importer: read csv")
	}

	cr := csv.NewReader(br)
	cr.Comma = sniffDelimiter(string(head))
	cr.LazyQuotes = true
	cr.FieldsPerRecord = -1

	var rows [][]string
	for {
		if err := ctx.Err(); err != nil {
			return nil, eris.Wrap(err, "importer: read csv")
		}
		rec, err := cr.Read()
		if err == io.EOF {
			return rows, nil
		}
		if err != nil {
			return nil, eris.Wrap(err, "importer: parse csv")
		}
		rows = append(rows, trimCells(rec))
	}
}

// sniffDelimiter picks the candidate that splits the first line into the
// most fields.
func sniffDelimiter(head string) rune {
	first, _, _ := strings.Cut(head, "\n")
	return lo.MaxBy(delimiters, func(a, b rune) bool {
		return strings.Count(first, string(a)) > strings.Count(first, string(b))
	})
}

// ReadXLSX returns the rows of the named sheet, or of the first sheet when
// sheet is empty or absent from the workbook.
func ReadXLSX(path, sheet string) ([][]string, error) {
	f, err := xlsx.OpenFile(path)
	if err != nil {
		return nil, eris.Wrap(err, "importer: open xlsx")
	}
	if len(f.Sheets) == 0 {
		return nil, eris.Errorf("importer: %s has no sheets", filepath.Base(path))
	}

	sh, ok := f.Sheet[sheet]
	if !ok {
		sh = f.Sheets[0]
	}
	return lo.Map(sh.Rows, func(row *xlsx.Row, _ int) []string {
		return trimCells(lo.Map(row.Cells, func(c *xlsx.Cell, _ int) string { return c.String() }))
	}), nil
}

func trimCells(cells []string) []string {
	for i, c := range cells {
		cells[i] = strings.TrimSpace(c)
	}
	return cells
}
