// CLAUDE:SUMMARY Field-wise merge: never null-overwrite, refreshable fields take newer values, durable fields only fill gaps unless confidence is higher.
package dedup

import (
	"strings"

	"github.com/hazyhaar/boothcrawl/crawl/internal/record"
	"github.com/hazyhaar/boothcrawl/crawl/internal/store"
)

// Refreshable fields change legitimately over time; a newer non-null value
// replaces the stored one.
var Refreshable = map[string]bool{
	"hours":         true,
	"cost":          true,
	"description":   true,
	"status":        true,
	"machine_model": true,
	"photo_type":    true,
}

type textField struct {
	name string
	get  func(*record.Fields) **string
}

var textFields = []textField{
	{"address", func(f *record.Fields) **string { return &f.Address }},
	{"city", func(f *record.Fields) **string { return &f.City }},
	{"region", func(f *record.Fields) **string { return &f.Region }},
	{"country", func(f *record.Fields) **string { return &f.Country }},
	{"postal_code", func(f *record.Fields) **string { return &f.PostalCode }},
	{"phone", func(f *record.Fields) **string { return &f.Phone }},
	{"website", func(f *record.Fields) **string { return &f.Website }},
	{"hours", func(f *record.Fields) **string { return &f.Hours }},
	{"cost", func(f *record.Fields) **string { return &f.Cost }},
	{"machine_model", func(f *record.Fields) **string { return &f.MachineModel }},
	{"booth_type", func(f *record.Fields) **string { return &f.BoothType }},
	{"photo_type", func(f *record.Fields) **string { return &f.PhotoType }},
	{"description", func(f *record.Fields) **string { return &f.Description }},
	{"status", func(f *record.Fields) **string { return &f.Status }},
}

// Merge applies v onto a copy of existing and lists the fields that changed.
// existing is not modified. An absent incoming value never clears a stored
// one.
func Merge(existing *store.Booth, v *record.Validated) (*store.Booth, []string) {
	out := *existing
	out.Sources = nil
	var changed []string
	higher := v.Confidence > existing.Confidence

	if v.Name != "" && !sameText(v.Name, out.Name) && higher {
		out.Name = v.Name
		changed = append(changed, "name")
	}

	for _, tf := range textFields {
		cur := tf.get(&out.Fields)
		in := *tf.get(&v.Fields)
		if in == nil {
			continue
		}
		switch {
		case *cur == nil:
			*cur = copyStr(in)
		case Refreshable[tf.name]:
			if **cur == *in {
				continue
			}
			*cur = copyStr(in)
		case higher && !sameText(**cur, *in):
			*cur = copyStr(in)
		default:
			continue
		}
		changed = append(changed, tf.name)
	}

	if v.HasCoordinates() && (!out.HasCoordinates() || higher && coordsDiffer(&out.Fields, &v.Fields)) {
		lat, lng := *v.Latitude, *v.Longitude
		out.Latitude, out.Longitude = &lat, &lng
		changed = append(changed, "coordinates")
	}

	if v.Verdict == record.NeedsReview && !out.NeedsReview {
		out.NeedsReview = true
		out.ReviewNotes = joinNotes(out.ReviewNotes, ReviewNote(v))
		changed = append(changed, "needs_review")
	}

	if len(changed) > 0 {
		if higher {
			out.Confidence = v.Confidence
		}
		k := KeyOf(&out.Fields)
		out.NormName, out.NormCity, out.NormAddress = k.Name, k.City, k.Address
	}
	return &out, changed
}

// ReviewNote summarizes the issues that put v under review.
func ReviewNote(v *record.Validated) string {
	var parts []string
	for _, is := range v.Issues {
		if is.Code == record.IssueInjection {
			parts = append(parts, is.Field+": "+is.Message)
		}
	}
	if len(parts) == 0 {
		return ""
	}
	note := strings.Join(parts, "; ")
	if v.SourceID != "" {
		note = v.SourceID + ": " + note
	}
	return note
}

func joinNotes(a, b string) string {
	switch {
	case a == "":
		return b
	case b == "":
		return a
	}
	return a + "\n" + b
}

// sameText compares durable values by their normalized form, so casing or
// punctuation differences do not count as new information.
func sameText(a, b string) bool {
	return NormalizeAddress(a) == NormalizeAddress(b)
}

// coordsDiffer treats points under a meter apart as equal.
func coordsDiffer(a, b *record.Fields) bool {
	return Distance(*a.Latitude, *a.Longitude, *b.Latitude, *b.Longitude) > 1
}

func copyStr(p *string) *string {
	s := *p
	return &s
}
