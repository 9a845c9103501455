package query

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/spherical-ai/raged/internal/storage"
)

func TestResolveStrategy_ExplicitWins(t *testing.T) {
	assert.Equal(t, "fulltext", resolveStrategy("fulltext", "some query"))
}

func TestResolveStrategy_DefaultsToSemanticWhenQueryPresent(t *testing.T) {
	assert.Equal(t, "semantic", resolveStrategy("", "find the thing"))
}

func TestResolveStrategy_DefaultsToMetadataWhenQueryEmpty(t *testing.T) {
	assert.Equal(t, "metadata", resolveStrategy("", "   "))
}

func TestClampTopK_DefaultsWhenZero(t *testing.T) {
	assert.Equal(t, DefaultTopK, clampTopK(0))
}

func TestClampTopK_ClampsAboveMax(t *testing.T) {
	assert.Equal(t, MaxTopK, clampTopK(500))
}

func TestClampTopK_PassesThroughValidValue(t *testing.T) {
	assert.Equal(t, 42, clampTopK(42))
}

func TestAutoMinScore_ByTermCount(t *testing.T) {
	assert.Equal(t, 0.3, autoMinScore("solo"))
	assert.Equal(t, 0.3, autoMinScore(""))
	assert.Equal(t, 0.4, autoMinScore("two terms"))
	assert.Equal(t, 0.5, autoMinScore("three four term count"))
	assert.Equal(t, 0.6, autoMinScore("this query has five whole terms"))
}

func TestConfidence_EmptyResultsIsZero(t *testing.T) {
	assert.Equal(t, 0.0, confidence(nil))
}

func TestConfidence_UsesTopScore(t *testing.T) {
	items := []ResultItem{{Score: 0.91}, {Score: 0.2}}
	assert.Equal(t, 0.91, confidence(items))
}

func TestPayloadChecksum_StableForIdenticalInput(t *testing.T) {
	c := storage.Chunk{Text: "hello", Tier1Meta: json.RawMessage(`{"a":1}`)}
	assert.Equal(t, payloadChecksum(c), payloadChecksum(c))
}

func TestPayloadChecksum_DiffersWhenTextChanges(t *testing.T) {
	a := storage.Chunk{Text: "hello"}
	b := storage.Chunk{Text: "goodbye"}
	assert.NotEqual(t, payloadChecksum(a), payloadChecksum(b))
}

func TestOtherEndpoint_Outbound(t *testing.T) {
	rel := storage.Relationship{SourceEntity: "alice", TargetEntity: "bob"}
	name, dir := otherEndpoint(rel, "alice")
	assert.Equal(t, "bob", name)
	assert.Equal(t, "out", dir)
}

func TestOtherEndpoint_Inbound(t *testing.T) {
	rel := storage.Relationship{SourceEntity: "alice", TargetEntity: "bob"}
	name, dir := otherEndpoint(rel, "bob")
	assert.Equal(t, "alice", name)
	assert.Equal(t, "in", dir)
}

func TestOtherEndpoint_UnrelatedNameYieldsEmpty(t *testing.T) {
	rel := storage.Relationship{SourceEntity: "alice", TargetEntity: "bob"}
	name, _ := otherEndpoint(rel, "carol")
	assert.Equal(t, "", name)
}
