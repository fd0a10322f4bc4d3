package worker

import "strings"

// emptyLiterals are cell values treated as "not filled" by the
// skip-if-existing-value check, compared after trimming and uppercasing.
// The Excel error literals are included verbatim.
var emptyLiterals = map[string]struct{}{
	"LLM_ERROR": {},
	"ROW_ERROR": {},
	"NA":        {},
	"N/A":       {},
	"#N/A":      {},
	"#N/A!":     {},
	"#NA":       {},
	"#VALUE!":   {},
	"#REF!":     {},
	"#DIV/0!":   {},
	"#NUM!":     {},
	"#NAME?":    {},
	"#NULL!":    {},
}

// isFilledCell reports whether an output cell already holds a usable value.
func isFilledCell(v string) bool {
	t := strings.TrimSpace(v)
	if t == "" {
		return false
	}
	_, placeholder := emptyLiterals[strings.ToUpper(t)]
	return !placeholder
}

// isEmptyRow reports whether every cell of an input row is empty or
// whitespace-only.
func isEmptyRow(row map[string]string, headers []string) bool {
	for _, h := range headers {
		if strings.TrimSpace(row[h]) != "" {
			return false
		}
	}
	return true
}
