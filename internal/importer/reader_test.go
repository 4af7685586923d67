package importer

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tealeg/xlsx/v2"
)

func writeWorkbook(t *testing.T, sheets ...string) string {
	t.Helper()
	f := xlsx.NewFile()
	for _, name := range sheets {
		sh, err := f.AddSheet(name)
		require.NoError(t, err)
		for _, cells := range [][]string{{"Opportunity ID", "Stage"}, {" " + name + "-1 ", "Depósito"}} {
			row := sh.AddRow()
			for _, c := range cells {
				row.AddCell().SetString(c)
			}
		}
	}
	path := filepath.Join(t.TempDir(), "export.xlsx")
	require.NoError(t, f.Save(path))
	return path
}

func TestReadCSV(t *testing.T) {
	tests := []struct {
		name  string
		input string
	}{
		{"comma", "id , stage\n o1 , s1 \n"},
		{"semicolon", "id;stage\no1;s1\n"},
		{"tab", "id\tstage\no1\ts1\n"},
		{"no trailing newline", "id,stage\no1,s1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rows, err := ReadCSV(context.Background(), strings.NewReader(tt.input))
			require.NoError(t, err)
			require.Len(t, rows, 2)
			assert.Equal(t, []string{"id", "stage"}, rows[0])
			assert.Equal(t, []string{"o1", "s1"}, rows[1])
		})
	}
}

func TestReadCSV_QuotedDelimiter(t *testing.T) {
	rows, err := ReadCSV(context.Background(), strings.NewReader("id,name\no1,\"Pérez, Ana\"\n"))
	require.NoError(t, err)
	assert.Equal(t, "Pérez, Ana", rows[1][1])
}

func TestReadCSV_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := ReadCSV(ctx, strings.NewReader("a\nb\n"))
	require.ErrorIs(t, err, context.Canceled)
}

func TestSniffDelimiter(t *testing.T) {
	assert.Equal(t, ';', sniffDelimiter("a;b;c,d\n1;2;3"))
	assert.Equal(t, ',', sniffDelimiter("single"))
	assert.Equal(t, '\t', sniffDelimiter("a\tb\tc"))
}

func TestReadXLSX_SheetSelection(t *testing.T) {
	path := writeWorkbook(t, "Resumen", PreferredSheet)

	rows, err := ReadXLSX(path, PreferredSheet)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, []string{PreferredSheet + "-1", "Depósito"}, rows[1])

	rows, err = ReadXLSX(path, "Missing")
	require.NoError(t, err)
	assert.Equal(t, "Resumen-1", rows[1][0])

	_, err = ReadXLSX(filepath.Join(t.TempDir(), "nope.xlsx"), "")
	require.Error(t, err)
}

func TestReadFile_Dispatch(t *testing.T) {
	dir := t.TempDir()
	csvPath := filepath.Join(dir, "export.CSV")
	require.NoError(t, os.WriteFile(csvPath, []byte("id,stage\no1,s1\n"), 0o644))

	rows, err := ReadFile(context.Background(), csvPath)
	require.NoError(t, err)
	assert.Len(t, rows, 2)

	rows, err = ReadFile(context.Background(), writeWorkbook(t, "Sheet1"))
	require.NoError(t, err)
	assert.Len(t, rows, 2)

	_, err = ReadFile(context.Background(), filepath.Join(dir, "export.json"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported file type")

	_, err = ReadFile(context.Background(), filepath.Join(dir, "missing.csv"))
	require.Error(t, err)
}
