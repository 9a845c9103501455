package filterdsl

import (
	"encoding/json"
)

// ParseAndCompile accepts either the structured DSL shape
// ({conditions, combine}) or a legacy shape ({key: value}, {must: [...]},
// {must_not: [...]}) and compiles it to SQL. The two shapes are mutually
// exclusive; mixing them in one object is rejected.
func ParseAndCompile(body []byte, paramOffset int) (string, []any, error) {
	if len(body) == 0 {
		return "", nil, nil
	}

	var generic map[string]json.RawMessage
	if err := json.Unmarshal(body, &generic); err != nil {
		return "", nil, invalid("malformed filter body: %v", err)
	}
	if len(generic) == 0 {
		return "", nil, nil
	}

	_, hasConditions := generic["conditions"]
	_, hasMust := generic["must"]
	_, hasMustNot := generic["must_not"]
	isDSLShape := hasConditions
	isLegacyShape := hasMust || hasMustNot || !isDSLShape

	if isDSLShape && (hasMust || hasMustNot) {
		return "", nil, invalid("cannot mix the structured filter shape with the legacy must/must_not shape")
	}

	if isDSLShape {
		var f Filter
		if err := json.Unmarshal(body, &f); err != nil {
			return "", nil, invalid("malformed filter body: %v", err)
		}
		return Compile(&f, paramOffset)
	}

	if !isLegacyShape {
		return "", nil, nil
	}

	f, err := legacyToFilter(generic)
	if err != nil {
		return "", nil, err
	}
	return Compile(f, paramOffset)
}

// legacyToFilter translates the {key: value}, {must: [...]}, {must_not:
// [...]} legacy shapes into the structured Filter the compiler understands.
// The three legacy forms are themselves mutually exclusive.
func legacyToFilter(generic map[string]json.RawMessage) (*Filter, error) {
	mustRaw, hasMust := generic["must"]
	mustNotRaw, hasMustNot := generic["must_not"]

	if hasMust || hasMustNot {
		legacyKeys := 0
		if hasMust {
			legacyKeys++
		}
		if hasMustNot {
			legacyKeys++
		}
		if len(generic) != legacyKeys {
			return nil, invalid("legacy must/must_not shape cannot be combined with other keys")
		}
		var conds []Cond
		if hasMust {
			var clauses []map[string]any
			if err := json.Unmarshal(mustRaw, &clauses); err != nil {
				return nil, invalid("malformed must clause: %v", err)
			}
			eqConds, err := eqCondsFromClauses(clauses, "eq")
			if err != nil {
				return nil, err
			}
			conds = append(conds, eqConds...)
		}
		if hasMustNot {
			var clauses []map[string]any
			if err := json.Unmarshal(mustNotRaw, &clauses); err != nil {
				return nil, invalid("malformed must_not clause: %v", err)
			}
			neConds, err := eqCondsFromClauses(clauses, "ne")
			if err != nil {
				return nil, err
			}
			conds = append(conds, neConds...)
		}
		return &Filter{Conditions: conds, Combine: "and"}, nil
	}

	// Plain {field: value, ...} shape: every key is an eq condition, AND'd.
	clause := make(map[string]any, len(generic))
	for k, raw := range generic {
		var v any
		if err := json.Unmarshal(raw, &v); err != nil {
			return nil, invalid("malformed value for field %q: %v", k, err)
		}
		clause[k] = v
	}
	conds, err := eqCondsFromClauses([]map[string]any{clause}, "eq")
	if err != nil {
		return nil, err
	}
	return &Filter{Conditions: conds, Combine: "and"}, nil
}

func eqCondsFromClauses(clauses []map[string]any, op string) ([]Cond, error) {
	var conds []Cond
	for _, clause := range clauses {
		for field, value := range clause {
			conds = append(conds, Cond{Field: field, Op: op, Value: value})
		}
	}
	return conds, nil
}
