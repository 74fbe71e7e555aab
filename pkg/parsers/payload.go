package parsers

import "encoding/json"

// ParsedPayload is the generic structural breakdown of an arbitrary tool
// argument payload, used by validators that need to walk nested
// parameters (taint flow, DLP) without knowing the tool's schema.
type ParsedPayload struct {
	Raw       any
	IsJSON    bool
	Strings   []string // every string leaf found by a depth-first walk
	Valid     bool
}

// ParsePayload walks v (already-decoded JSON-like data: map[string]any,
// []any, or scalars) and flattens every string leaf for downstream
// pattern scanning.
func ParsePayload(v any) ParsedPayload {
	if v == nil {
		return ParsedPayload{Raw: v, Valid: false}
	}
	var strs []string
	walkStrings(v, &strs)
	return ParsedPayload{Raw: v, IsJSON: true, Strings: strs, Valid: true}
}

// ParsePayloadString attempts to JSON-decode raw before flattening; if
// decoding fails, raw itself is treated as the single string leaf.
func ParsePayloadString(raw string) ParsedPayload {
	if raw == "" {
		return ParsedPayload{Raw: raw, Valid: false}
	}
	var decoded any
	if err := json.Unmarshal([]byte(raw), &decoded); err == nil {
		p := ParsePayload(decoded)
		return p
	}
	return ParsedPayload{Raw: raw, IsJSON: false, Strings: []string{raw}, Valid: true}
}

func walkStrings(v any, out *[]string) {
	switch t := v.(type) {
	case string:
		*out = append(*out, t)
	case map[string]any:
		for _, val := range t {
			walkStrings(val, out)
		}
	case []any:
		for _, val := range t {
			walkStrings(val, out)
		}
	}
}
