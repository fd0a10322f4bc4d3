package tabular_test

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fairyhunter13/ai-table-enricher/internal/tabular"
)

func TestParse_StripsBOMAndTrimsHeaders(t *testing.T) {
	data := []byte("\uFEFF name , country\nA,US\nB,CA\n")
	headers, rows, err := tabular.Parse(data)
	require.NoError(t, err)
	assert.Equal(t, []string{"name", "country"}, headers)
	require.Len(t, rows, 2)
	assert.Equal(t, "A", rows[0]["name"])
	assert.Equal(t, "CA", rows[1]["country"])
}

func TestParse_ShortRecordsLeaveEmptyCells(t *testing.T) {
	headers, rows, err := tabular.Parse([]byte("a,b,c\n1,2\n"))
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c"}, headers)
	assert.Equal(t, "", rows[0]["c"])
}

func TestSerialize_BOMQuotingAndLF(t *testing.T) {
	headers := []string{"name", "note"}
	rows := []map[string]string{
		{"name": "A", "note": `say "hi"`},
		{"name": "B,C", "note": "line1\nline2"},
	}
	out := string(tabular.Serialize(headers, rows))
	require.True(t, strings.HasPrefix(out, "\uFEFF"))
	assert.NotContains(t, out, "\r\n")
	assert.Contains(t, out, `"say ""hi"""`)
	assert.Contains(t, out, `"B,C"`)
	assert.Contains(t, out, "\"line1\nline2\"")
}

func TestSerializeParse_RoundTrip(t *testing.T) {
	headers := []string{"h1", "h2"}
	rows := []map[string]string{
		{"h1": "plain", "h2": `with "quotes", commas`},
		{"h1": "multi\nline", "h2": ""},
	}
	out := tabular.Serialize(headers, rows)
	gotHeaders, gotRows, err := tabular.Parse(out)
	require.NoError(t, err)
	assert.Equal(t, headers, gotHeaders)
	assert.Equal(t, rows, gotRows)
}

func TestSerialize_HeadersOnly(t *testing.T) {
	out := string(tabular.Serialize([]string{"a", "b"}, nil))
	assert.Equal(t, "\uFEFFa,b\n", out)
}

func TestCellString(t *testing.T) {
	assert.Equal(t, "plain", tabular.CellString("plain"))
	assert.Equal(t, `{"k":"v"}`, tabular.CellString(map[string]string{"k": "v"}))
	assert.Equal(t, "42", tabular.CellString(42))
}
