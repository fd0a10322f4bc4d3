// Package tabular parses and serializes the CSV tables the enrichment
// pipeline consumes and produces.
//
// Serialization is pinned byte-for-byte: a UTF-8 BOM prefix, LF line
// separators, and RFC 4180 quoting (fields containing quote, comma, or
// newline are wrapped in double quotes with inner quotes doubled). The
// stdlib csv.Writer quotes conditionally but cannot emit this exact shape,
// so writing is done by hand; parsing builds on encoding/csv.
package tabular

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"strings"
)

// BOM is the UTF-8 byte-order mark prefixed to every serialized table.
const BOM = "\uFEFF"

// Parse decodes CSV bytes into trimmed headers and one map per data row.
// The first header has any byte-order mark stripped; all headers are trimmed.
// Short records leave the missing cells empty; long records drop the excess.
func Parse(data []byte) ([]string, []map[string]string, error) {
	r := csv.NewReader(bytes.NewReader(data))
	r.FieldsPerRecord = -1
	records, err := r.ReadAll()
	if err != nil {
		return nil, nil, fmt.Errorf("op=tabular.Parse: %w", err)
	}
	if len(records) == 0 {
		return nil, nil, nil
	}
	headers := make([]string, len(records[0]))
	for i, h := range records[0] {
		if i == 0 {
			h = strings.TrimPrefix(h, BOM)
		}
		headers[i] = strings.TrimSpace(h)
	}
	rows := make([]map[string]string, 0, len(records)-1)
	for _, rec := range records[1:] {
		row := make(map[string]string, len(headers))
		for i, h := range headers {
			if i < len(rec) {
				row[h] = rec[i]
			} else {
				row[h] = ""
			}
		}
		rows = append(rows, row)
	}
	return headers, rows, nil
}

// Serialize encodes rows under the given header order.
func Serialize(headers []string, rows []map[string]string) []byte {
	var b bytes.Buffer
	b.WriteString(BOM)
	writeRecord(&b, headers)
	for _, row := range rows {
		rec := make([]string, len(headers))
		for i, h := range headers {
			rec[i] = row[h]
		}
		writeRecord(&b, rec)
	}
	return b.Bytes()
}

func writeRecord(b *bytes.Buffer, fields []string) {
	for i, f := range fields {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(quoteField(f))
	}
	b.WriteByte('\n')
}

func quoteField(f string) string {
	if !strings.ContainsAny(f, "\",\n\r") {
		return f
	}
	return `"` + strings.ReplaceAll(f, `"`, `""`) + `"`
}

// CellString converts an arbitrary cell value to its serialized form.
// Strings pass through; everything else is JSON-encoded to preserve
// structure.
func CellString(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(raw)
}
