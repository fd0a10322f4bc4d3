package worker

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsFilledCell(t *testing.T) {
	filled := []string{"hello", "0", "false", "  padded  ", "n/applicable"}
	for _, v := range filled {
		assert.True(t, isFilledCell(v), "expected filled: %q", v)
	}

	empty := []string{"", "   ", "LLM_ERROR", "llm_error", "ROW_ERROR", "NA", "n/a", "#N/A", "#VALUE!", "#DIV/0!", "#NAME?", " #REF! "}
	for _, v := range empty {
		assert.False(t, isFilledCell(v), "expected not filled: %q", v)
	}
}

func TestIsEmptyRow(t *testing.T) {
	headers := []string{"a", "b"}
	assert.True(t, isEmptyRow(map[string]string{"a": "", "b": "  "}, headers))
	assert.True(t, isEmptyRow(map[string]string{}, headers))
	assert.False(t, isEmptyRow(map[string]string{"a": "x"}, headers))
	// Values under headers the table does not declare are ignored.
	assert.True(t, isEmptyRow(map[string]string{"c": "x"}, headers))
}
