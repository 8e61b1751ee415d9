// Package record defines the typed records that flow between pipeline stages:
//
//	raw content → Candidate → Validated → (dedup) Resolution → (persist) Outcome
//
// Each stage produces a distinct type, so a stage cannot read a field a
// previous stage never populated. Optional values are pointers; nil means
// "absent", never "empty string".
package record

import "time"

// Candidate is one location as the model produced it. Ephemeral: it lives
// between extraction and validation only.
type Candidate struct {
	Name         string
	Address      *string
	City         *string
	Region       *string
	Country      *string
	PostalCode   *string
	Latitude     *float64
	Longitude    *float64
	Phone        *string
	Website      *string
	Hours        *string
	Cost         *string
	MachineModel *string
	BoothType    *string
	PhotoType    *string
	Description  *string
	Status       *string
	// Confidence is the model's self-reported confidence in [0,1]; nil if absent.
	Confidence *float64

	SourceID    string
	SourceURL   string
	ExtractedAt time.Time
}

// Verdict is the validation outcome of a candidate.
type Verdict string

const (
	Accepted    Verdict = "accepted"
	NeedsReview Verdict = "needs_review"
	Rejected    Verdict = "rejected"
)

// Issue describes one validation finding. Issues never abort validation.
type Issue struct {
	Field   string `json:"field"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Issue codes.
const (
	IssueMissing    = "missing"
	IssueHTML       = "html_stripped"
	IssueInjection  = "injection"
	IssueRange      = "out_of_range"
	IssueMalformed  = "malformed"
	IssueTruncated  = "truncated"
	IssueNullIsland = "null_island"
)

// Fields are the sanitized location attributes shared by Validated records
// and stored booths. Pointer fields are nil when absent.
type Fields struct {
	Name         string   `json:"name"`
	Address      *string  `json:"address,omitempty"`
	City         *string  `json:"city,omitempty"`
	Region       *string  `json:"region,omitempty"`
	Country      *string  `json:"country,omitempty"`
	PostalCode   *string  `json:"postal_code,omitempty"`
	Latitude     *float64 `json:"latitude,omitempty"`
	Longitude    *float64 `json:"longitude,omitempty"`
	Phone        *string  `json:"phone,omitempty"`
	Website      *string  `json:"website,omitempty"`
	Hours        *string  `json:"hours,omitempty"`
	Cost         *string  `json:"cost,omitempty"`
	MachineModel *string  `json:"machine_model,omitempty"`
	BoothType    *string  `json:"booth_type,omitempty"`
	PhotoType    *string  `json:"photo_type,omitempty"`
	Description  *string  `json:"description,omitempty"`
	Status       *string  `json:"status,omitempty"`
}

// HasCoordinates reports whether both latitude and longitude are present.
func (f *Fields) HasCoordinates() bool {
	return f.Latitude != nil && f.Longitude != nil
}

// Completeness returns the fraction of optional attributes that are present.
func (f *Fields) Completeness() float64 {
	present := 0
	for _, set := range f.presence() {
		if set {
			present++
		}
	}
	return float64(present) / float64(len(f.presence()))
}

// NonNullCount returns how many optional attributes are present.
func (f *Fields) NonNullCount() int {
	n := 0
	for _, set := range f.presence() {
		if set {
			n++
		}
	}
	return n
}

func (f *Fields) presence() []bool {
	return []bool{
		f.Address != nil, f.City != nil, f.Region != nil, f.Country != nil,
		f.PostalCode != nil, f.HasCoordinates(), f.Phone != nil, f.Website != nil,
		f.Hours != nil, f.Cost != nil, f.MachineModel != nil, f.BoothType != nil,
		f.PhotoType != nil, f.Description != nil,
	}
}

// Validated is a Candidate after sanitization.
type Validated struct {
	Fields
	Verdict    Verdict
	Issues     []Issue
	Confidence float64

	SourceID    string
	SourceName  string
	SourceURL   string
	ExtractedAt time.Time
}

// Persistable reports whether the record may be written to the store.
func (v *Validated) Persistable() bool {
	return v.Verdict == Accepted || v.Verdict == NeedsReview
}

// Str returns a pointer to s, or nil when s is empty.
func Str(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// Float returns a pointer to f.
func Float(f float64) *float64 {
	return &f
}

// Deref returns *p or "" for nil.
func Deref(p *string) string {
	if p == nil {
		return ""
	}
	return *p
}
