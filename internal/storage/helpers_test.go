package storage

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStripSummaryKeys_ExtractsAndStrips(t *testing.T) {
	tier3 := map[string]any{
		"summary":        "bare summary",
		"summary_short":  "short",
		"summary_medium": "medium",
		"summary_long":   "long",
		"_error":         map[string]any{"message": "stale record"},
		"keywords":       []any{"a", "b"},
	}

	clean, summary, short, medium, long := stripSummaryKeys(tier3)

	a := assert.New(t)
	a.Equal("bare summary", *summary)
	a.Equal("short", *short)
	a.Equal("medium", *medium)
	a.Equal("long", *long)
	a.NotContains(clean, "summary")
	a.NotContains(clean, "summary_short")
	a.NotContains(clean, "summary_medium")
	a.NotContains(clean, "summary_long")
	a.NotContains(clean, "_error")
	a.Contains(clean, "keywords")
}

func TestStripSummaryKeys_NilInput(t *testing.T) {
	clean, summary, short, medium, long := stripSummaryKeys(nil)
	assert.Nil(t, clean)
	assert.Nil(t, summary)
	assert.Nil(t, short)
	assert.Nil(t, medium)
	assert.Nil(t, long)
}

func TestStripSummaryKeys_NoSummaryFields(t *testing.T) {
	clean, summary, short, medium, long := stripSummaryKeys(map[string]any{"entities": []any{}})
	assert.Nil(t, summary)
	assert.Nil(t, short)
	assert.Nil(t, medium)
	assert.Nil(t, long)
	assert.Contains(t, clean, "entities")
}
