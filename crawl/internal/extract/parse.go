// CLAUDE:SUMMARY Tolerant model-output parser: locate a JSON array in free text, repair truncation, decode element-wise.
package extract

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/hazyhaar/boothcrawl/crawl/internal/record"
)

// ParseError reports model output that holds no usable JSON array.
type ParseError struct {
	Reason  string
	Snippet string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("extract: parse: %s (output starts %q)", e.Reason, e.Snippet)
}

// wrapperKeys are object keys under which models nest the record array.
var wrapperKeys = []string{"booths", "locations", "results", "data", "items"}

// ParseCandidates finds the record array in model output and decodes it.
// Elements that are not objects are skipped. An empty array is a valid,
// zero-candidate result; no array at all is a *ParseError.
func ParseCandidates(text string) ([]record.Candidate, error) {
	elems, err := locateArray(text)
	if err != nil {
		return nil, err
	}
	out := make([]record.Candidate, 0, len(elems))
	for _, raw := range elems {
		var m map[string]any
		if err := json.Unmarshal(raw, &m); err != nil || m == nil {
			continue
		}
		out = append(out, toCandidate(m))
	}
	return out, nil
}

func locateArray(text string) ([]json.RawMessage, error) {
	body := strings.TrimSpace(stripFences(text))
	if body == "" {
		return nil, &ParseError{Reason: "empty output"}
	}

	if elems, ok := decodeArrayOrWrapper(body, true); ok {
		return elems, nil
	}

	// Scan for the first balanced array or wrapper object inside prose.
	if elems, ok := scanBalanced(body, false); ok {
		return elems, nil
	}

	// Output cut off mid-array: keep the complete elements.
	if start := strings.IndexByte(body, '['); start >= 0 {
		if repaired, ok := repairTruncated(body[start:]); ok {
			if elems, ok := decodeArrayOrWrapper(repaired, false); ok && len(elems) > 0 {
				return elems, nil
			}
		}
	}

	// Last resort: a single record object somewhere in the text.
	if elems, ok := scanBalanced(body, true); ok {
		return elems, nil
	}

	return nil, &ParseError{Reason: "no JSON array found", Snippet: snippet(body)}
}

// stripFences returns the content of the first ``` fenced block, or text.
func stripFences(text string) string {
	start := strings.Index(text, "```")
	if start < 0 {
		return text
	}
	rest := text[start+3:]
	if nl := strings.IndexByte(rest, '\n'); nl >= 0 && !strings.ContainsAny(rest[:nl], "[{") {
		rest = rest[nl+1:] // drop the language tag
	}
	if end := strings.Index(rest, "```"); end >= 0 {
		return rest[:end]
	}
	return rest
}

func scanBalanced(body string, allowLone bool) ([]json.RawMessage, bool) {
	for i := 0; i < len(body); i++ {
		if body[i] != '[' && body[i] != '{' {
			continue
		}
		end := matchBracket(body, i)
		if end < 0 {
			continue
		}
		if elems, ok := decodeArrayOrWrapper(body[i:end+1], allowLone); ok && (len(elems) == 0 || hasObject(elems)) {
			return elems, true
		}
	}
	return nil, false
}

// decodeArrayOrWrapper decodes s as an array, an object wrapping an array
// under a known key, or, when allowLone is set, a single record object.
func decodeArrayOrWrapper(s string, allowLone bool) ([]json.RawMessage, bool) {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "[") {
		var elems []json.RawMessage
		if json.Unmarshal([]byte(s), &elems) == nil {
			return elems, true
		}
		return nil, false
	}
	if strings.HasPrefix(s, "{") {
		var obj map[string]json.RawMessage
		if json.Unmarshal([]byte(s), &obj) != nil {
			return nil, false
		}
		for _, k := range wrapperKeys {
			if raw, ok := obj[k]; ok {
				var elems []json.RawMessage
				if json.Unmarshal(raw, &elems) == nil {
					return elems, true
				}
			}
		}
		if _, ok := obj["name"]; ok && allowLone {
			return []json.RawMessage{json.RawMessage(s)}, true
		}
	}
	return nil, false
}

func hasObject(elems []json.RawMessage) bool {
	for _, e := range elems {
		if t := strings.TrimSpace(string(e)); strings.HasPrefix(t, "{") {
			return true
		}
	}
	return false
}

// matchBracket returns the index of the bracket closing s[open], or -1.
func matchBracket(s string, open int) int {
	depth := 0
	inStr := false
	esc := false
	for i := open; i < len(s); i++ {
		c := s[i]
		if inStr {
			switch {
			case esc:
				esc = false
			case c == '\\':
				esc = true
			case c == '"':
				inStr = false
			}
			continue
		}
		switch c {
		case '"':
			inStr = true
		case '[', '{':
			depth++
		case ']', '}':
			depth--
			if depth == 0 {
				return i
			}
		}
	}
	return -1
}

// repairTruncated closes an array cut off after its last complete element.
func repairTruncated(s string) (string, bool) {
	depth := 0
	inStr := false
	esc := false
	lastComplete := -1
	for i := 0; i < len(s); i++ {
		c := s[i]
		if inStr {
			switch {
			case esc:
				esc = false
			case c == '\\':
				esc = true
			case c == '"':
				inStr = false
			}
			continue
		}
		switch c {
		case '"':
			inStr = true
		case '[', '{':
			depth++
		case ']', '}':
			depth--
			if depth == 1 && c == '}' {
				lastComplete = i
			}
		}
	}
	if lastComplete < 0 {
		return "", false
	}
	return s[:lastComplete+1] + "]", true
}

func snippet(s string) string {
	if len(s) > 80 {
		return cutRunes(s, 80)
	}
	return s
}

func toCandidate(m map[string]any) record.Candidate {
	// Some models nest coordinates.
	for _, k := range []string{"coordinates", "location", "geo"} {
		if sub, ok := m[k].(map[string]any); ok {
			for kk, v := range sub {
				if _, exists := m[kk]; !exists {
					m[kk] = v
				}
			}
		}
	}

	return record.Candidate{
		Name:         str(m, "name", "title", "venue"),
		Address:      optStr(m, "address", "street_address", "street"),
		City:         optStr(m, "city", "locality", "town"),
		Region:       optStr(m, "region", "state", "province"),
		Country:      optStr(m, "country"),
		PostalCode:   optStr(m, "postal_code", "postcode", "zip", "zip_code"),
		Latitude:     optNum(m, "latitude", "lat"),
		Longitude:    optNum(m, "longitude", "lng", "lon", "long"),
		Phone:        optStr(m, "phone", "telephone", "phone_number"),
		Website:      optStr(m, "website", "url", "web"),
		Hours:        optStr(m, "hours", "opening_hours"),
		Cost:         optStr(m, "cost", "price"),
		MachineModel: optStr(m, "machine_model", "machine", "model"),
		BoothType:    optStr(m, "booth_type", "type"),
		PhotoType:    optStr(m, "photo_type"),
		Description:  optStr(m, "description", "notes"),
		Status:       optStr(m, "status"),
		Confidence:   optNum(m, "confidence"),
	}
}

func str(m map[string]any, keys ...string) string {
	if p := optStr(m, keys...); p != nil {
		return *p
	}
	return ""
}

// optStr returns the first non-empty value under keys, rendering numbers
// and booleans as text.
func optStr(m map[string]any, keys ...string) *string {
	for _, k := range keys {
		switch v := m[k].(type) {
		case string:
			if s := strings.TrimSpace(v); s != "" && !isNullWord(s) {
				return &s
			}
		case float64:
			s := strconv.FormatFloat(v, 'f', -1, 64)
			return &s
		case bool:
			s := strconv.FormatBool(v)
			return &s
		}
	}
	return nil
}

// optNum returns the first numeric value under keys; numeric strings count.
func optNum(m map[string]any, keys ...string) *float64 {
	for _, k := range keys {
		switch v := m[k].(type) {
		case float64:
			return &v
		case string:
			if f, err := strconv.ParseFloat(strings.TrimSpace(v), 64); err == nil {
				return &f
			}
		}
	}
	return nil
}

func isNullWord(s string) bool {
	switch strings.ToLower(s) {
	case "null", "none", "n/a", "unknown", "-":
		return true
	}
	return false
}
