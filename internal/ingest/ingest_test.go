package ingest

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassifyDocType_ExplicitWins(t *testing.T) {
	assert.Equal(t, "custom", classifyDocType("custom", "http://x/a.go", "package main", "a.go"))
}

func TestClassifyDocType_URLExtensionHint(t *testing.T) {
	assert.Equal(t, "markdown", classifyDocType("", "https://example.com/docs/readme.md", "plain text", ""))
}

func TestClassifyDocType_ContentSniffJSON(t *testing.T) {
	assert.Equal(t, "json", classifyDocType("", "", `{"a":1}`, "payload.txt"))
}

func TestClassifyDocType_ContentSniffCode(t *testing.T) {
	assert.Equal(t, "code", classifyDocType("", "", "package main\n\nfunc main() {}\n", "notes"))
}

func TestClassifyDocType_ContentSniffMarkdown(t *testing.T) {
	assert.Equal(t, "markdown", classifyDocType("", "", "# Title\n\nbody text", "notes"))
}

func TestClassifyDocType_SourceExtensionFallback(t *testing.T) {
	assert.Equal(t, "yaml", classifyDocType("", "", "a: 1", "config.yaml"))
}

func TestClassifyDocType_DefaultsToText(t *testing.T) {
	assert.Equal(t, "text", classifyDocType("", "", "just some prose, nothing special", "notes"))
}

func TestIdentityKeyFor_URLDiscardsQueryAndFragment(t *testing.T) {
	key := identityKeyFor("https://example.com/path/page?utm=1#section", "")
	assert.Equal(t, "https://example.com/path/page", key)
}

func TestIdentityKeyFor_NonURLUsesSourceVerbatim(t *testing.T) {
	key := identityKeyFor("", "docs/readme.md")
	assert.Equal(t, "docs/readme.md", key)
}

func TestExtractTier1_CountsWordsAndLines(t *testing.T) {
	meta := extractTier1("text", "hello world\nsecond line")
	assert.Equal(t, "text", meta.DocType)
	assert.Equal(t, 4, meta.WordCount)
	assert.Equal(t, 2, meta.LineCount)
}
