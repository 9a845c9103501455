// Package filterdsl compiles the query-filter JSON shape clients send into
// a parameterised SQL fragment against a closed column allow-list. Nothing
// outside the allow-list ever reaches the database as a column or
// operator name.
package filterdsl

import (
	"fmt"
	"strings"
)

// FilterValidationError is raised for any malformed or disallowed filter;
// callers map it to HTTP 400.
type FilterValidationError struct {
	Reason string
}

func (e *FilterValidationError) Error() string {
	return fmt.Sprintf("invalid filter: %s", e.Reason)
}

func invalid(format string, args ...any) error {
	return &FilterValidationError{Reason: fmt.Sprintf(format, args...)}
}

// Cond is a single filter condition.
type Cond struct {
	Field  string `json:"field"`
	Op     string `json:"op"`
	Alias  string `json:"alias,omitempty"`
	Value  any    `json:"value,omitempty"`
	Values []any  `json:"values,omitempty"`
	Range  *Range `json:"range,omitempty"`
}

// Range carries the two bounds of a between/notBetween condition.
type Range struct {
	From any `json:"from"`
	To   any `json:"to"`
}

// Filter is the top-level DSL shape.
type Filter struct {
	Conditions []Cond `json:"conditions"`
	Combine    string `json:"combine"`
}

type columnSpec struct {
	alias string
	col   string
	ops   map[string]bool
}

func opSet(ops ...string) map[string]bool {
	m := make(map[string]bool, len(ops))
	for _, o := range ops {
		m[o] = true
	}
	return m
}

// allowList is the single source of truth for every field the compiler can
// translate. A field absent here can never reach SQL.
var allowList = map[string]columnSpec{
	"docType":           {"c", "doc_type", opSet("eq", "ne", "in", "notIn", "isNull", "isNotNull")},
	"lang":              {"c", "lang", opSet("eq", "ne", "in", "notIn", "isNull", "isNotNull")},
	"path":              {"c", "path", opSet("eq", "ne", "in", "notIn", "isNull", "isNotNull")},
	"source":            {"c", "source", opSet("eq", "ne", "in", "notIn")},
	"repoId":            {"c", "repo_id", opSet("eq", "ne", "in", "notIn", "isNull", "isNotNull")},
	"repoUrl":           {"c", "repo_url", opSet("eq", "ne")},
	"itemUrl":           {"c", "item_url", opSet("eq", "ne", "isNull", "isNotNull")},
	"enrichmentStatus":  {"c", "enrichment_status", opSet("eq", "ne", "in", "notIn")},
	"chunkIndex":        {"c", "chunk_index", opSet("eq", "ne", "gt", "gte", "lt", "lte", "between", "notBetween")},
	"createdAt":         {"c", "created_at", opSet("gt", "gte", "lt", "lte", "between", "notBetween")},
	"mimeType":          {"d", "mime_type", opSet("eq", "ne", "in", "notIn")},
	"collection":        {"d", "collection", opSet("eq", "ne", "in", "notIn")},
	"ingestedAt":        {"d", "ingested_at", opSet("gt", "gte", "lt", "lte", "between", "notBetween")},
	"updatedAt":         {"d", "updated_at", opSet("gt", "gte", "lt", "lte", "between", "notBetween")},
	"lastSeen":          {"d", "last_seen", opSet("gt", "gte", "lt", "lte", "between", "notBetween")},
}

var validOps = opSet("eq", "ne", "gt", "gte", "lt", "lte", "in", "notIn", "between", "notBetween", "isNull", "isNotNull")

// Compile translates a Filter into a SQL fragment of the form
// " AND (<joined>)" (outer parens only with >=2 conditions) plus an
// ordered parameter list. paramOffset is the 1-based index of the first
// placeholder the caller has not already used (e.g. 3 if $1/$2 are taken).
func Compile(f *Filter, paramOffset int) (string, []any, error) {
	if f == nil || len(f.Conditions) == 0 {
		return "", nil, nil
	}

	switch f.Combine {
	case "":
		f.Combine = "and"
	case "and", "or":
	default:
		return "", nil, invalid("combine must be \"and\" or \"or\", got %q", f.Combine)
	}

	joiner := " AND "
	if f.Combine == "or" {
		joiner = " OR "
	}

	var parts []string
	var params []any
	next := paramOffset

	for _, cond := range f.Conditions {
		spec, ok := allowList[cond.Field]
		if !ok {
			return "", nil, invalid("unknown field %q", cond.Field)
		}
		if cond.Alias != "" && cond.Alias != spec.alias {
			return "", nil, invalid("field %q belongs to alias %q, got %q", cond.Field, spec.alias, cond.Alias)
		}
		if !validOps[cond.Op] {
			return "", nil, invalid("unknown operator %q", cond.Op)
		}
		if !spec.ops[cond.Op] {
			return "", nil, invalid("operator %q not allowed on field %q", cond.Op, cond.Field)
		}

		frag, args, err := compileCond(spec, cond, &next)
		if err != nil {
			return "", nil, err
		}
		parts = append(parts, frag)
		params = append(params, args...)
	}

	joined := strings.Join(parts, joiner)
	if len(parts) >= 2 {
		joined = "(" + joined + ")"
	}
	return " AND " + joined, params, nil
}

func compileCond(spec columnSpec, cond Cond, next *int) (string, []any, error) {
	column := spec.alias + "." + spec.col
	isPathEqNe := cond.Field == "path" && (cond.Op == "eq" || cond.Op == "ne")

	switch cond.Op {
	case "isNull":
		return column + " IS NULL", nil, nil
	case "isNotNull":
		return column + " IS NOT NULL", nil, nil
	case "in", "notIn":
		if len(cond.Values) == 0 {
			return "", nil, invalid("operator %q on field %q requires a non-empty values list", cond.Op, cond.Field)
		}
		placeholders := make([]string, len(cond.Values))
		args := make([]any, len(cond.Values))
		for i, v := range cond.Values {
			placeholders[i] = fmt.Sprintf("$%d", *next)
			args[i] = v
			*next++
		}
		op := "IN"
		if cond.Op == "notIn" {
			op = "NOT IN"
		}
		return fmt.Sprintf("%s %s (%s)", column, op, strings.Join(placeholders, ", ")), args, nil
	case "between", "notBetween":
		if cond.Range == nil || cond.Range.From == nil || cond.Range.To == nil {
			return "", nil, invalid("operator %q on field %q requires range.from and range.to", cond.Op, cond.Field)
		}
		fromIdx, toIdx := *next, *next+1
		*next += 2
		if cond.Op == "between" {
			return fmt.Sprintf("%s BETWEEN $%d AND $%d", column, fromIdx, toIdx), []any{cond.Range.From, cond.Range.To}, nil
		}
		return fmt.Sprintf("%s NOT BETWEEN $%d AND $%d", column, fromIdx, toIdx), []any{cond.Range.From, cond.Range.To}, nil
	case "eq", "ne", "gt", "gte", "lt", "lte":
		if cond.Value == nil {
			return "", nil, invalid("operator %q on field %q requires a value", cond.Op, cond.Field)
		}
		idx := *next
		*next++
		if isPathEqNe {
			if cond.Op == "eq" {
				return fmt.Sprintf("%s LIKE $%d || '%%'", column, idx), []any{cond.Value}, nil
			}
			return fmt.Sprintf("%s NOT LIKE $%d || '%%'", column, idx), []any{cond.Value}, nil
		}
		sqlOp := map[string]string{"eq": "=", "ne": "!=", "gt": ">", "gte": ">=", "lt": "<", "lte": "<="}[cond.Op]
		return fmt.Sprintf("%s %s $%d", column, sqlOp, idx), []any{cond.Value}, nil
	default:
		return "", nil, invalid("unknown operator %q", cond.Op)
	}
}
