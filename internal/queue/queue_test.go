package queue

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseChunkID_Valid(t *testing.T) {
	p, err := ParseChunkID("docs/readme.md:3")
	require.NoError(t, err)
	assert.Equal(t, "docs/readme.md", p.BaseID)
	assert.Equal(t, 3, p.Index)
}

func TestParseChunkID_BaseIDContainsColons(t *testing.T) {
	p, err := ParseChunkID("repo:branch:path/to/file.go:12")
	require.NoError(t, err)
	assert.Equal(t, "repo:branch:path/to/file.go", p.BaseID)
	assert.Equal(t, 12, p.Index)
}

func TestParseChunkID_NoSeparator(t *testing.T) {
	_, err := ParseChunkID("no-colon-here")
	require.ErrorIs(t, err, ErrChunkIDInvalid)
}

func TestParseChunkID_EmptyBaseID(t *testing.T) {
	_, err := ParseChunkID(":5")
	require.ErrorIs(t, err, ErrChunkIDInvalid)
}

func TestParseChunkID_NonIntegerIndex(t *testing.T) {
	_, err := ParseChunkID("doc:abc")
	require.ErrorIs(t, err, ErrChunkIDInvalid)
}

func TestParseChunkID_NegativeIndex(t *testing.T) {
	_, err := ParseChunkID("doc:-1")
	require.ErrorIs(t, err, ErrChunkIDInvalid)
}

func TestParseChunkID_TrailingColon(t *testing.T) {
	_, err := ParseChunkID("doc:")
	require.ErrorIs(t, err, ErrChunkIDInvalid)
}

func TestService_Clear_RejectsStatusOutsideAllowList(t *testing.T) {
	s := &Service{}
	_, err := s.Clear(nil, "docs", []string{"completed"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "completed")
}

func TestService_Clear_RejectsUnknownStatus(t *testing.T) {
	s := &Service{}
	_, err := s.Clear(nil, "docs", []string{"bogus"})
	require.Error(t, err)
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, 3, cfg.MaxAttempts)
	assert.Equal(t, 1000, cfg.EnqueuePageSize)
	assert.Positive(t, cfg.LeaseDuration)
	assert.Positive(t, cfg.RetryDelay)
}

func TestDecodeMentions_Entities(t *testing.T) {
	tier2 := map[string]any{
		"entities": []any{
			map[string]any{"name": "Ada Lovelace", "type": "person", "description": "mathematician"},
			map[string]any{"name": "Analytical Engine", "type": "artifact"},
		},
	}

	mentions := decodeMentions[entityMention](tier2, "entities")
	require.Len(t, mentions, 2)
	assert.Equal(t, "Ada Lovelace", mentions[0].Name)
	assert.Equal(t, "person", mentions[0].Type)
	assert.Equal(t, "mathematician", mentions[0].Description)
	assert.Equal(t, "Analytical Engine", mentions[1].Name)
	assert.Empty(t, mentions[1].Description)
}

func TestDecodeMentions_Relationships(t *testing.T) {
	tier2 := map[string]any{
		"relationships": []any{
			map[string]any{"source": "Ada Lovelace", "target": "Analytical Engine", "type": "programmed"},
		},
	}

	mentions := decodeMentions[relationshipMention](tier2, "relationships")
	require.Len(t, mentions, 1)
	assert.Equal(t, "Ada Lovelace", mentions[0].Source)
	assert.Equal(t, "Analytical Engine", mentions[0].Target)
	assert.Equal(t, "programmed", mentions[0].Type)
}

func TestDecodeMentions_MissingKey(t *testing.T) {
	assert.Nil(t, decodeMentions[entityMention](map[string]any{}, "entities"))
	assert.Nil(t, decodeMentions[entityMention](nil, "entities"))
}
