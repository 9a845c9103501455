package filterdsl

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCompile_Empty(t *testing.T) {
	sql, params, err := Compile(nil, 1)
	require.NoError(t, err)
	assert.Empty(t, sql)
	assert.Nil(t, params)
}

func TestCompile_SingleCondition(t *testing.T) {
	f := &Filter{Conditions: []Cond{{Field: "docType", Op: "eq", Value: "code"}}}
	sql, params, err := Compile(f, 1)
	require.NoError(t, err)
	assert.Equal(t, " AND c.doc_type = $1", sql)
	assert.Equal(t, []any{"code"}, params)
}

func TestCompile_MultipleConditionsAnd(t *testing.T) {
	f := &Filter{
		Conditions: []Cond{
			{Field: "docType", Op: "eq", Value: "code"},
			{Field: "collection", Op: "eq", Value: "docs"},
		},
		Combine: "and",
	}
	sql, params, err := Compile(f, 1)
	require.NoError(t, err)
	assert.Equal(t, " AND (c.doc_type = $1 AND d.collection = $2)", sql)
	assert.Equal(t, []any{"code", "docs"}, params)
}

func TestCompile_Or(t *testing.T) {
	f := &Filter{
		Conditions: []Cond{
			{Field: "docType", Op: "eq", Value: "code"},
			{Field: "docType", Op: "eq", Value: "markdown"},
		},
		Combine: "or",
	}
	sql, _, err := Compile(f, 1)
	require.NoError(t, err)
	assert.Equal(t, " AND (c.doc_type = $1 OR c.doc_type = $2)", sql)
}

func TestCompile_ParamOffset(t *testing.T) {
	f := &Filter{Conditions: []Cond{{Field: "docType", Op: "eq", Value: "code"}}}
	sql, _, err := Compile(f, 5)
	require.NoError(t, err)
	assert.Equal(t, " AND c.doc_type = $5", sql)
}

func TestCompile_PathEqRewrittenToPrefixLike(t *testing.T) {
	f := &Filter{Conditions: []Cond{{Field: "path", Op: "eq", Value: "src/"}}}
	sql, params, err := Compile(f, 1)
	require.NoError(t, err)
	assert.Equal(t, " AND c.path LIKE $1 || '%'", sql)
	assert.Equal(t, []any{"src/"}, params)
}

func TestCompile_PathNeRewrittenToNotLike(t *testing.T) {
	f := &Filter{Conditions: []Cond{{Field: "path", Op: "ne", Value: "vendor/"}}}
	sql, _, err := Compile(f, 1)
	require.NoError(t, err)
	assert.Equal(t, " AND c.path NOT LIKE $1 || '%'", sql)
}

func TestCompile_In(t *testing.T) {
	f := &Filter{Conditions: []Cond{{Field: "docType", Op: "in", Values: []any{"code", "markdown"}}}}
	sql, params, err := Compile(f, 1)
	require.NoError(t, err)
	assert.Equal(t, " AND c.doc_type IN ($1, $2)", sql)
	assert.Equal(t, []any{"code", "markdown"}, params)
}

func TestCompile_InEmptyRejected(t *testing.T) {
	f := &Filter{Conditions: []Cond{{Field: "docType", Op: "in", Values: nil}}}
	_, _, err := Compile(f, 1)
	require.Error(t, err)
	var fv *FilterValidationError
	assert.ErrorAs(t, err, &fv)
}

func TestCompile_Between(t *testing.T) {
	f := &Filter{Conditions: []Cond{{Field: "chunkIndex", Op: "between", Range: &Range{From: 0, To: 10}}}}
	sql, params, err := Compile(f, 1)
	require.NoError(t, err)
	assert.Equal(t, " AND c.chunk_index BETWEEN $1 AND $2", sql)
	assert.Equal(t, []any{0, 10}, params)
}

func TestCompile_BetweenMissingBoundsRejected(t *testing.T) {
	f := &Filter{Conditions: []Cond{{Field: "chunkIndex", Op: "between"}}}
	_, _, err := Compile(f, 1)
	require.Error(t, err)
}

func TestCompile_IsNull(t *testing.T) {
	f := &Filter{Conditions: []Cond{{Field: "repoId", Op: "isNull"}}}
	sql, params, err := Compile(f, 1)
	require.NoError(t, err)
	assert.Equal(t, " AND c.repo_id IS NULL", sql)
	assert.Empty(t, params)
}

func TestCompile_UnknownField(t *testing.T) {
	f := &Filter{Conditions: []Cond{{Field: "bogus", Op: "eq", Value: "x"}}}
	_, _, err := Compile(f, 1)
	require.Error(t, err)
}

func TestCompile_DisallowedOperator(t *testing.T) {
	f := &Filter{Conditions: []Cond{{Field: "repoUrl", Op: "in", Values: []any{"a"}}}}
	_, _, err := Compile(f, 1)
	require.Error(t, err)
}

func TestCompile_WrongAliasRejected(t *testing.T) {
	f := &Filter{Conditions: []Cond{{Field: "docType", Op: "eq", Value: "code", Alias: "d"}}}
	_, _, err := Compile(f, 1)
	require.Error(t, err)
}

func TestCompile_InvalidCombineRejected(t *testing.T) {
	f := &Filter{
		Conditions: []Cond{{Field: "docType", Op: "eq", Value: "code"}},
		Combine:    "xor",
	}
	_, _, err := Compile(f, 1)
	require.Error(t, err)
}

func TestCompile_UnknownOperatorRejected(t *testing.T) {
	f := &Filter{Conditions: []Cond{{Field: "docType", Op: "regex", Value: ".*"}}}
	_, _, err := Compile(f, 1)
	require.Error(t, err)
}

func TestParseAndCompile_DSLShape(t *testing.T) {
	body := []byte(`{"conditions":[{"field":"docType","op":"eq","value":"code"}],"combine":"and"}`)
	sql, params, err := ParseAndCompile(body, 1)
	require.NoError(t, err)
	assert.Equal(t, " AND c.doc_type = $1", sql)
	assert.Equal(t, []any{"code"}, params)
}

func TestParseAndCompile_LegacyKeyValueShape(t *testing.T) {
	body := []byte(`{"docType":"code"}`)
	sql, params, err := ParseAndCompile(body, 1)
	require.NoError(t, err)
	assert.Equal(t, " AND c.doc_type = $1", sql)
	assert.Equal(t, []any{"code"}, params)
}

func TestParseAndCompile_LegacyMustShape(t *testing.T) {
	body := []byte(`{"must":[{"docType":"code"},{"collection":"docs"}]}`)
	sql, _, err := ParseAndCompile(body, 1)
	require.NoError(t, err)
	assert.Contains(t, sql, "c.doc_type = $1")
	assert.Contains(t, sql, "d.collection = $2")
}

func TestParseAndCompile_LegacyMustNotShape(t *testing.T) {
	body := []byte(`{"must_not":[{"docType":"code"}]}`)
	sql, params, err := ParseAndCompile(body, 1)
	require.NoError(t, err)
	assert.Equal(t, " AND c.doc_type != $1", sql)
	assert.Equal(t, []any{"code"}, params)
}

func TestParseAndCompile_MixedShapesRejected(t *testing.T) {
	body := []byte(`{"conditions":[{"field":"docType","op":"eq","value":"code"}],"must":[{"collection":"docs"}]}`)
	_, _, err := ParseAndCompile(body, 1)
	require.Error(t, err)
}

func TestParseAndCompile_Empty(t *testing.T) {
	sql, params, err := ParseAndCompile(nil, 1)
	require.NoError(t, err)
	assert.Empty(t, sql)
	assert.Nil(t, params)
}
