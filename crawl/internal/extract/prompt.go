// CLAUDE:SUMMARY Extraction prompt: fixed record schema, per-strategy hints, and the JSON schema handed to structured-output backends.
package extract

import (
	"fmt"
	"strings"
)

// Strategies tag how a source's pages are laid out.
const (
	StrategyDirectory = "directory"
	StrategyVenue     = "venue"
	StrategyMap       = "map"
	StrategyGeneric   = "generic"
)

// Strategies lists the accepted strategy tags.
var Strategies = []string{StrategyDirectory, StrategyVenue, StrategyMap, StrategyGeneric}

// Prompt is one model request.
type Prompt struct {
	System string
	User   string
	// Schema is a JSON schema for backends that support structured output.
	Schema string
}

const systemPrompt = `You extract analog photo booth locations from web content.

Return ONLY JSON: an object {"booths": [...]} whose array holds one object per
physical booth found in the content. Use exactly these keys and omit any key
whose value is not stated in the content:

  name           string   venue or booth name (required)
  address        string   street address
  city           string
  region         string   state, province or region
  country        string
  postal_code    string
  latitude       number   decimal degrees
  longitude      number   decimal degrees
  phone          string
  website        string   absolute URL
  hours          string   opening hours as written
  cost           string   price per strip as written
  machine_model  string   e.g. "Photo-Me Model 9", "Auto-Photo 14"
  booth_type     string   analog | digital | instant
  photo_type     string   black-and-white | color | both
  description    string   one or two sentences
  status         string   active | inactive | closed
  confidence     number   0..1, how sure you are this is a real booth

Rules:
- Never invent values. Do not guess coordinates.
- One entry per booth; merge repeated mentions of the same booth.
- If the content lists no booths, return {"booths": []}.`

var strategyHints = map[string]string{
	StrategyDirectory: "The content is a directory listing many booths. Extract every entry in the list.",
	StrategyVenue:     "The content is a single venue's page. Expect one booth, possibly with opening hours and prices.",
	StrategyMap:       "The content is exported from a map. Entries may carry coordinates and short labels; keep coordinates exactly as given.",
	StrategyGeneric:   "The content may be an article, blog post or forum thread. Extract only booths described with a concrete location.",
}

// responseSchema is the structured-output schema matching systemPrompt.
const responseSchema = `{
  "type": "object",
  "properties": {
    "booths": {
      "type": "array",
      "items": {
        "type": "object",
        "properties": {
          "name": {"type": "string"},
          "address": {"type": "string"},
          "city": {"type": "string"},
          "region": {"type": "string"},
          "country": {"type": "string"},
          "postal_code": {"type": "string"},
          "latitude": {"type": "number"},
          "longitude": {"type": "number"},
          "phone": {"type": "string"},
          "website": {"type": "string"},
          "hours": {"type": "string"},
          "cost": {"type": "string"},
          "machine_model": {"type": "string"},
          "booth_type": {"type": "string"},
          "photo_type": {"type": "string"},
          "description": {"type": "string"},
          "status": {"type": "string"},
          "confidence": {"type": "number"}
        },
        "required": ["name"],
        "additionalProperties": false
      }
    }
  },
  "required": ["booths"],
  "additionalProperties": false
}`

// BuildPrompt assembles the request for one page.
func BuildPrompt(strategy, sourceURL, content string, truncated bool) Prompt {
	hint, ok := strategyHints[strategy]
	if !ok {
		hint = strategyHints[StrategyGeneric]
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%s\n\n", hint)
	if sourceURL != "" {
		fmt.Fprintf(&b, "Source URL: %s\n", sourceURL)
	}
	if truncated {
		b.WriteString("Note: the content was shortened to its most information-dense sections.\n")
	}
	b.WriteString("\nContent:\n<<<\n")
	b.WriteString(content)
	b.WriteString("\n>>>\n")

	return Prompt{System: systemPrompt, User: b.String(), Schema: responseSchema}
}

// ValidStrategy reports whether s is a known strategy tag.
func ValidStrategy(s string) bool {
	_, ok := strategyHints[s]
	return ok
}
