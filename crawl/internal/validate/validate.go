// CLAUDE:SUMMARY Candidate validation: required fields, HTML stripping, SQL-injection flagging, coordinate/URL/phone checks, length caps.
// Package validate sanitizes candidate records into Validated records.
//
// Validate never fails and never panics on data-quality problems: bad fields
// are dropped or trimmed and reported as Issues. Only a record without a name
// or without any location signal is Rejected. A record with a field that
// looked like an injection attempt is flagged NeedsReview.
package validate

import (
	"fmt"
	"html"
	"math"
	"net/url"
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/hazyhaar/boothcrawl/crawl/internal/record"
	"github.com/microcosm-cc/bluemonday"
)

// DefaultConfidence applies when the model gave none.
const DefaultConfidence = 0.5

// Length caps in bytes per field.
var maxLen = map[string]int{
	"name":          200,
	"address":       300,
	"city":          100,
	"region":        100,
	"country":       100,
	"postal_code":   20,
	"phone":         40,
	"website":       500,
	"hours":         500,
	"cost":          100,
	"machine_model": 100,
	"booth_type":    50,
	"photo_type":    50,
	"description":   2000,
	"status":        50,
}

var injectionPatterns = []*regexp.Regexp{
	// ' OR 1=1, " and 'a'='a
	regexp.MustCompile(`(?i)['"` + "`" + `]\s*\)?\s*(or|and)\s+['"\w]+\s*(=|like)`),
	// '; DROP TABLE, "; select
	regexp.MustCompile(`(?i)['"` + "`" + `]\s*\)?\s*;\s*(drop|delete|insert|update|select|alter|create|truncate|exec)\b`),
	// ' UNION SELECT, ' OR ...
	regexp.MustCompile(`(?i)['"` + "`" + `]\s*\)?\s*(union|select|drop|insert|delete)\s`),
	regexp.MustCompile(`(?i)\bunion\s+(all\s+)?select\b`),
	regexp.MustCompile(`(?i);\s*(drop|delete|truncate|alter)\s+(table|database|from)\b`),
	// trailing comment after a quote: admin'--
	regexp.MustCompile(`['"]\s*(--|/\*)`),
}

var strict = bluemonday.StrictPolicy()

// phoneLabel matches a leading "Tel:", "Phone -", "Telefon", "Tél." or "☎" label.
var phoneLabel = regexp.MustCompile(`(?i)^(?:☎\s*|(?:tel(?:ephone|efon|éfono)?|t[ée]l|phone|ph|fon|call|mobile|mob|handy)\b\.?\s*(?:[:\-–]\s*)?)`)

var validStatus = map[string]bool{"active": true, "inactive": true, "closed": true}

type checker struct {
	issues      []record.Issue
	needsReview bool
}

func (c *checker) add(field, code, format string, args ...any) {
	c.issues = append(c.issues, record.Issue{Field: field, Code: code, Message: fmt.Sprintf(format, args...)})
}

// Validate sanitizes a candidate. The result is always usable; check Verdict.
func Validate(cand record.Candidate) record.Validated {
	c := &checker{}
	out := record.Validated{
		SourceID:    cand.SourceID,
		SourceURL:   cand.SourceURL,
		ExtractedAt: cand.ExtractedAt,
		Confidence:  DefaultConfidence,
	}
	f := &out.Fields

	// Free text: HTML stripped, injection flagged and dropped, length capped.
	// The name is required, so only the injected fragment is cut from it.
	f.Name = deref(c.name(cand.Name))
	f.Address = c.text("address", cand.Address, true)
	f.City = c.text("city", cand.City, true)
	f.Region = c.text("region", cand.Region, true)
	f.Country = c.text("country", cand.Country, true)
	f.PostalCode = c.text("postal_code", cand.PostalCode, true)
	f.Hours = c.text("hours", cand.Hours, true)
	f.Cost = c.text("cost", cand.Cost, true)
	f.MachineModel = c.text("machine_model", cand.MachineModel, true)
	f.BoothType = lower(c.text("booth_type", cand.BoothType, true))
	f.PhotoType = lower(c.text("photo_type", cand.PhotoType, true))
	f.Description = c.text("description", cand.Description, false)

	if s := lower(c.text("status", cand.Status, true)); s != nil {
		if validStatus[*s] {
			f.Status = s
		} else {
			c.add("status", record.IssueMalformed, "unknown status %q dropped", *s)
		}
	}

	f.Latitude, f.Longitude = c.coordinates(cand.Latitude, cand.Longitude)
	f.Website = c.website(cand.Website)
	f.Phone = c.phone(cand.Phone)

	if cand.Confidence != nil && !math.IsNaN(*cand.Confidence) {
		out.Confidence = math.Max(0, math.Min(1, *cand.Confidence))
	}

	switch {
	case f.Name == "":
		c.add("name", record.IssueMissing, "name is required")
		out.Verdict = record.Rejected
	case f.Address == nil && f.City == nil && !f.HasCoordinates():
		c.add("location", record.IssueMissing, "no address, city or coordinates")
		out.Verdict = record.Rejected
	case c.needsReview:
		out.Verdict = record.NeedsReview
	default:
		out.Verdict = record.Accepted
	}
	out.Issues = c.issues
	return out
}

// text cleans one free-text field. singleLine collapses all whitespace.
func (c *checker) text(field string, in *string, singleLine bool) *string {
	return c.sanitize(field, in, singleLine, false)
}

// name cleans the booth name. An injected fragment is cut out and the rest
// kept for review.
func (c *checker) name(in string) *string {
	return c.sanitize("name", &in, true, true)
}

func (c *checker) sanitize(field string, in *string, singleLine, cutInjection bool) *string {
	if in == nil {
		return nil
	}
	s := stripHTML(*in)
	if s != strings.TrimSpace(*in) {
		c.add(field, record.IssueHTML, "markup removed")
	}
	s = clean(s, singleLine)
	if s == "" {
		return nil
	}
	if looksLikeInjection(s) {
		c.needsReview = true
		if !cutInjection {
			c.add(field, record.IssueInjection, "SQL-like pattern, field dropped")
			return nil
		}
		s = clean(removeInjection(s), singleLine)
		c.add(field, record.IssueInjection, "SQL-like fragment removed")
		if s == "" {
			return nil
		}
	}
	if max := maxLen[field]; max > 0 && len(s) > max {
		s = strings.TrimSpace(cutRunes(s, max))
		c.add(field, record.IssueTruncated, "cut to %d bytes", max)
	}
	return &s
}

// stripHTML removes all tags, and the content of script/style elements, then
// decodes entities. It repeats until stable so encoded markup cannot survive.
func stripHTML(s string) string {
	s = strings.TrimSpace(s)
	for range 3 {
		next := strings.TrimSpace(html.UnescapeString(strict.Sanitize(s)))
		if next == s {
			break
		}
		s = next
	}
	return s
}

func looksLikeInjection(s string) bool {
	for _, re := range injectionPatterns {
		if re.MatchString(s) {
			return true
		}
	}
	return false
}

// removeInjection cuts s at the first SQL-like fragment, which runs to the
// end of the value, then trims the quotes and statement punctuation left
// dangling at either end.
func removeInjection(s string) string {
	for looksLikeInjection(s) {
		cut := len(s)
		for _, re := range injectionPatterns {
			if loc := re.FindStringIndex(s); loc != nil && loc[0] < cut {
				cut = loc[0]
			}
		}
		if cut == len(s) {
			break
		}
		s = s[:cut]
	}
	return strings.TrimFunc(s, func(r rune) bool {
		return unicode.IsSpace(r) || strings.ContainsRune(`'"`+"`"+`;-=()*/`, r)
	})
}

// clean drops control characters and normalizes whitespace.
func clean(s string, singleLine bool) string {
	s = strings.Map(func(r rune) rune {
		if r == '\n' || r == '\t' {
			return r
		}
		if unicode.IsControl(r) || r == utf8.RuneError {
			return -1
		}
		return r
	}, s)
	if singleLine {
		return strings.Join(strings.Fields(s), " ")
	}
	lines := strings.Split(s, "\n")
	for i, l := range lines {
		lines[i] = strings.Join(strings.Fields(l), " ")
	}
	return strings.TrimSpace(strings.Join(lines, "\n"))
}

func (c *checker) coordinates(lat, lng *float64) (*float64, *float64) {
	if lat == nil && lng == nil {
		return nil, nil
	}
	if lat == nil || lng == nil {
		c.add("coordinates", record.IssueMalformed, "latitude and longitude must both be present")
		return nil, nil
	}
	la, lo := *lat, *lng
	switch {
	case math.IsNaN(la) || math.IsNaN(lo) || math.IsInf(la, 0) || math.IsInf(lo, 0):
		c.add("coordinates", record.IssueMalformed, "non-finite coordinates dropped")
		return nil, nil
	case la < -90 || la > 90:
		c.add("latitude", record.IssueRange, "latitude %v out of range, coordinates dropped", la)
		return nil, nil
	case lo < -180 || lo > 180:
		c.add("longitude", record.IssueRange, "longitude %v out of range, coordinates dropped", lo)
		return nil, nil
	case la == 0 && lo == 0:
		c.add("coordinates", record.IssueNullIsland, "(0,0) is a placeholder, coordinates dropped")
		return nil, nil
	}
	return &la, &lo
}

func (c *checker) website(in *string) *string {
	if in == nil {
		return nil
	}
	s := strings.TrimSpace(stripHTML(*in))
	if s == "" {
		return nil
	}
	if strings.HasPrefix(strings.ToLower(s), "www.") {
		s = "https://" + s
	}
	u, err := url.Parse(s)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") ||
		u.Host == "" || !strings.Contains(u.Hostname(), ".") ||
		strings.ContainsAny(s, " \t\n<>\"'") || len(s) > maxLen["website"] {
		c.add("website", record.IssueMalformed, "invalid URL %q dropped", cutRunes(s, 80))
		return nil
	}
	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)
	out := u.String()
	return &out
}

// phone keeps numbers made of digits and common separators, 7 to 15 digits.
func (c *checker) phone(in *string) *string {
	if in == nil {
		return nil
	}
	s := strings.Join(strings.Fields(stripHTML(*in)), " ")
	s = phoneLabel.ReplaceAllString(s, "")
	if s == "" {
		return nil
	}
	digits := 0
	for i, r := range s {
		switch {
		case r >= '0' && r <= '9':
			digits++
		case r == '+' && i == 0:
		case strings.ContainsRune(" -()./", r):
		default:
			c.add("phone", record.IssueMalformed, "unparseable phone %q dropped", cutRunes(s, 40))
			return nil
		}
	}
	if digits < 7 || digits > 15 {
		c.add("phone", record.IssueMalformed, "phone has %d digits, dropped", digits)
		return nil
	}
	return &s
}

func cutRunes(s string, max int) string {
	if len(s) <= max {
		return s
	}
	cut := max
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}


func deref(p *string) string {
	if p == nil {
		return ""
	}
	return *p
}

func lower(p *string) *string {
	if p == nil {
		return nil
	}
	s := strings.ToLower(*p)
	return &s
}
