package storage

import "encoding/json"

// summaryKeys are promoted to the parent document row and must never be
// persisted back onto the chunk's tier3_meta. _error is reserved for the
// Fail path's terminal failure record and is likewise never stored by a
// successful submit-result.
var summaryKeys = []string{"summary", "summary_short", "summary_medium", "summary_long", "_error"}

// stripSummaryKeys removes the reserved summary fields (and _error) from a
// tier3 map, returning the cleaned map plus the extracted summary/short/
// medium/long values.
func stripSummaryKeys(tier3 map[string]any) (clean map[string]any, summary, short, medium, long *string) {
	if tier3 == nil {
		return nil, nil, nil, nil, nil
	}
	clean = make(map[string]any, len(tier3))
	for k, v := range tier3 {
		clean[k] = v
	}
	summary = popString(clean, "summary")
	short = popString(clean, "summary_short")
	medium = popString(clean, "summary_medium")
	long = popString(clean, "summary_long")
	delete(clean, "_error")
	return clean, summary, short, medium, long
}

func popString(m map[string]any, key string) *string {
	v, ok := m[key]
	if !ok {
		return nil
	}
	delete(m, key)
	s, ok := v.(string)
	if !ok {
		return nil
	}
	return &s
}

func marshalOrNull(v map[string]any) (json.RawMessage, error) {
	if v == nil {
		return nil, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return b, nil
}
