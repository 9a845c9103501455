package chunker

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSplit_ShortTextIsOneChunk(t *testing.T) {
	chunks := Split("hello world", Config{})
	require.Len(t, chunks, 1)
	assert.Equal(t, "hello world", chunks[0])
}

func TestSplit_Empty(t *testing.T) {
	assert.Empty(t, Split("", Config{}))
	assert.Empty(t, Split("   \n\n  ", Config{}))
}

func TestSplit_ParagraphBoundaries(t *testing.T) {
	p1 := strings.Repeat("alpha ", 100)
	p2 := strings.Repeat("beta ", 100)
	text := p1 + "\n\n" + p2
	chunks := Split(text, Config{TargetBytes: 400, OverlapBytes: 20})
	require.NotEmpty(t, chunks)
	for _, c := range chunks {
		assert.LessOrEqual(t, len(c), 500)
	}
}

func TestSplit_Deterministic(t *testing.T) {
	text := strings.Repeat("The quick brown fox jumps over the lazy dog. ", 200)
	a := Split(text, Config{TargetBytes: 300, OverlapBytes: 30})
	b := Split(text, Config{TargetBytes: 300, OverlapBytes: 30})
	assert.Equal(t, a, b)
}

func TestSplit_SentenceFallthrough(t *testing.T) {
	sentence := strings.Repeat("word ", 20) + "."
	paragraph := strings.Repeat(sentence+" ", 30)
	chunks := Split(paragraph, Config{TargetBytes: 200, OverlapBytes: 10})
	require.NotEmpty(t, chunks)
}

func TestSplit_HardCutOnUnbrokenText(t *testing.T) {
	text := strings.Repeat("x", 5000)
	chunks := Split(text, Config{TargetBytes: 300, OverlapBytes: 0})
	require.NotEmpty(t, chunks)
	for _, c := range chunks {
		assert.LessOrEqual(t, len(c), 350)
	}
}

func TestSplit_HardCutPreservesMultiByteRunes(t *testing.T) {
	text := strings.Repeat("héllo wörld ", 500)
	chunks := Split(text, Config{TargetBytes: 100, OverlapBytes: 5})
	for _, c := range chunks {
		assert.True(t, len(c) > 0)
		assert.Equal(t, c, strings.ToValidUTF8(c, ""))
	}
}

func TestSplit_OverlapCarriesContext(t *testing.T) {
	text := strings.Repeat("alpha beta gamma delta epsilon zeta eta theta. ", 100)
	chunks := Split(text, Config{TargetBytes: 300, OverlapBytes: 50})
	require.Greater(t, len(chunks), 1)
}
