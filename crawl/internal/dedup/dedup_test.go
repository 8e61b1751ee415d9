package dedup

import (
	"math"
	"reflect"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/hazyhaar/boothcrawl/crawl/internal/record"
	"github.com/hazyhaar/boothcrawl/crawl/internal/store"
)

func validated(f record.Fields) *record.Validated {
	return &record.Validated{Fields: f, Verdict: record.Accepted, Confidence: 0.5, SourceID: "src"}
}

// stored turns a record into a booth the way persist does on insert.
func stored(id string, created int64, f record.Fields) *store.Booth {
	k := KeyOf(&f)
	return &store.Booth{
		ID: id, Slug: id, Fields: f,
		NormName: k.Name, NormCity: k.City, NormAddress: k.Address,
		Confidence: 0.5, Version: 1, CreatedAt: created,
	}
}

func TestNormalize(t *testing.T) {
	tests := []struct {
		fn   func(string) string
		in   string
		want string
	}{
		{NormalizeName, "  Lomo   Booth!! ", "lomo booth"},
		{NormalizeName, "Café d'Ôr", "cafe d or"},
		{NormalizeName, "PHOTO-AUTOMAT", "photo automat"},
		{NormalizeAddress, "123 Main Street", "123 main st"},
		{NormalizeAddress, "123 Main St.", "123 main st"},
		{NormalizeAddress, "Kastanienallee 12", "kastanienallee 12"},
		{NormalizeAddress, "Warschauer Straße 30", "warschauer str 30"},
		{NormalizeAddress, "Warschauerstr. 30", "warschauer str 30"},
		{NormalizeCity, "São Paulo", "sao paulo"},
	}
	for _, tt := range tests {
		if got := tt.fn(tt.in); got != tt.want {
			t.Errorf("normalize(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestNamesSimilar(t *testing.T) {
	tests := []struct {
		a, b string
		want bool
	}{
		{"lomo booth", "lomo photo booth", true},
		{"photoautomat", "photoautomat", true},
		{"photoautomat kastanienallee", "photoautomat warschauer", false},
		{"a b c", "a b d", true},
		{"bar", "cafe", false},
		{"", "cafe", false},
	}
	for _, tt := range tests {
		if got := NamesSimilar(tt.a, tt.b, 0.5); got != tt.want {
			t.Errorf("NamesSimilar(%q, %q) = %v, want %v", tt.a, tt.b, got, tt.want)
		}
	}
}

func TestDistanceAndBox(t *testing.T) {
	d := Distance(52.52, 13.40, 52.5201, 13.4001)
	if d < 10 || d > 20 {
		t.Errorf("distance = %.1f m, want ~13", d)
	}
	if d := Distance(0, 0, 0, 1); math.Abs(d-111195) > 100 {
		t.Errorf("1 degree at equator = %.0f", d)
	}
	box := BoundingBox(52.52, 13.40, 50)
	if !(box.MinLat < 52.5201 && 52.5201 < box.MaxLat && box.MinLng < 13.4001 && 13.4001 < box.MaxLng) {
		t.Errorf("box %+v misses nearby point", box)
	}
	if box.MaxLat-box.MinLat > 0.002 {
		t.Errorf("box too large: %+v", box)
	}
}

func TestResolve_LomoScenario(t *testing.T) {
	// WHAT: A differently named listing at the same spot merges and fills phone.
	// WHY: Directories name the same venue differently.
	r := New(Config{})
	a := stored("bth_a", 100, record.Fields{
		Name: "Lomo Booth", City: record.Str("Berlin"),
		Latitude: record.Float(52.52), Longitude: record.Float(13.40),
	})
	b := validated(record.Fields{
		Name: "Lomo Photo Booth", City: record.Str("Berlin"),
		Latitude: record.Float(52.5201), Longitude: record.Float(13.4001),
		Phone: record.Str("+49 30 1234567"),
	})

	res := r.Resolve(b, []*store.Booth{a})
	if res.Action != MergeInto || res.Target.ID != "bth_a" || res.Tier != TierProximity {
		t.Fatalf("resolution = %+v", res)
	}
	if res.Merged.Name != "Lomo Booth" {
		t.Errorf("name = %q, want original kept", res.Merged.Name)
	}
	if record.Deref(res.Merged.Phone) != "+49 30 1234567" {
		t.Errorf("phone not merged")
	}
	if diff := cmp.Diff([]string{"phone"}, res.Changed); diff != "" {
		t.Errorf("changed (-want +got):\n%s", diff)
	}
	if a.Phone != nil {
		t.Error("Merge modified the existing booth")
	}
}

func TestResolve_NoDuplicateVenues(t *testing.T) {
	// WHAT: Equal normalized name+city with compatible addresses never inserts twice.
	r := New(Config{})
	first := record.Fields{Name: "Photoautomat", City: record.Str("Berlin"), Address: record.Str("Kastanienallee 12")}
	tests := []struct {
		name string
		in   record.Fields
		tier Tier
	}{
		{"same address different casing", record.Fields{Name: "PHOTOAUTOMAT", City: record.Str("berlin"), Address: record.Str("kastanienallee 12."), Hours: record.Str("24h")}, TierStrong},
		{"no address", record.Fields{Name: "Photoautomat", City: record.Str("Berlin"), Hours: record.Str("24h")}, TierNameCity},
		{"city appended to address", record.Fields{Name: "Photoautomat", City: record.Str("Berlin"), Address: record.Str("Kastanienallee 12, Berlin"), Hours: record.Str("24h")}, TierNameCity},
		{"street without number", record.Fields{Name: "Photoautomat", City: record.Str("Berlin"), Address: record.Str("Kastanienallee"), Hours: record.Str("24h")}, TierNameCity},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := r.Resolve(validated(tt.in), []*store.Booth{stored("bth_1", 1, first)})
			if res.Action == Insert || res.Tier != tt.tier {
				t.Errorf("action=%s tier=%s", res.Action, res.Tier)
			}
		})
	}

	// Same name, same city, different street: two real booths.
	res := r.Resolve(validated(record.Fields{
		Name: "Photoautomat", City: record.Str("Berlin"), Address: record.Str("Warschauer Str. 30"),
	}), []*store.Booth{stored("bth_1", 1, first)})
	if res.Action != Insert {
		t.Errorf("distinct address resolved to %s", res.Action)
	}

	res = r.Resolve(validated(record.Fields{
		Name: "Photoautomat", City: record.Str("Berlin"), Address: record.Str("Kastanienallee 120"),
	}), []*store.Booth{stored("bth_1", 1, first)})
	if res.Action != Insert {
		t.Errorf("different house number resolved to %s", res.Action)
	}
}

func TestAddressesCompatible(t *testing.T) {
	tests := []struct {
		a, b string
		want bool
	}{
		{"kastanienallee 5", "kastanienallee 5", true},
		{"kastanienallee 5", "kastanienallee 5 berlin", true},
		{"kastanienallee 5 berlin", "kastanienallee", true},
		{"", "kastanienallee 5", true},
		{"kastanienallee 5", "kastanienallee 7", false},
		{"kastanienallee 5", "warschauer str 30", false},
	}
	for _, tt := range tests {
		if got := AddressesCompatible(tt.a, tt.b); got != tt.want {
			t.Errorf("AddressesCompatible(%q, %q) = %v, want %v", tt.a, tt.b, got, tt.want)
		}
	}
}

func TestResolve_TargetChoice(t *testing.T) {
	// WHAT: Among equal matches the most complete wins, then the oldest.
	// WHY: Keeps slugs stable and merges into the richest record.
	r := New(Config{})
	base := record.Fields{Name: "Booth", City: record.Str("Paris")}
	rich := base
	rich.Phone = record.Str("0102030405")
	in := validated(record.Fields{Name: "Booth", City: record.Str("Paris"), Hours: record.Str("9-5")})

	res := r.Resolve(in, []*store.Booth{stored("new", 200, base), stored("rich", 300, rich), stored("old", 100, base)})
	if res.Target.ID != "rich" {
		t.Errorf("target = %s, want rich", res.Target.ID)
	}
	res = r.Resolve(in, []*store.Booth{stored("new", 200, base), stored("old", 100, base)})
	if res.Target.ID != "old" {
		t.Errorf("target = %s, want old", res.Target.ID)
	}
}

func TestResolve_SkipAndRejected(t *testing.T) {
	r := New(Config{})
	ex := stored("bth_1", 1, record.Fields{Name: "Booth", City: record.Str("Rome"), Phone: record.Str("123 4567")})
	res := r.Resolve(validated(record.Fields{Name: "booth", City: record.Str("ROME")}), []*store.Booth{ex})
	if res.Action != Skip || res.Target == nil {
		t.Errorf("subset resolution = %+v", res)
	}

	rej := validated(record.Fields{Name: "Booth"})
	rej.Verdict = record.Rejected
	if res := r.Resolve(rej, nil); res.Action != Skip || res.Target != nil {
		t.Errorf("rejected resolution = %+v", res)
	}
	if res := r.Resolve(validated(record.Fields{Name: "Booth", City: record.Str("Milan")}), []*store.Booth{ex}); res.Action != Insert {
		t.Errorf("other city = %s", res.Action)
	}
}

func TestMerge_NeverRegresses(t *testing.T) {
	// WHAT: Merging a record with any field absent leaves the stored value intact.
	ex := stored("bth_1", 1, record.Fields{
		Name: "Booth", Address: record.Str("1 Main St"), City: record.Str("Oslo"),
		Region: record.Str("Oslo"), Country: record.Str("Norway"), PostalCode: record.Str("0150"),
		Latitude: record.Float(59.9), Longitude: record.Float(10.7), Phone: record.Str("22 33 44 55"),
		Website: record.Str("https://b.no"), Hours: record.Str("24h"), Cost: record.Str("40 NOK"),
		MachineModel: record.Str("Model 11"), BoothType: record.Str("analog"), PhotoType: record.Str("bw"),
		Description: record.Str("old"), Status: record.Str("active"),
	})
	merged, changed := Merge(ex, validated(record.Fields{Name: "Booth"}))
	if len(changed) != 0 {
		t.Errorf("changed = %v", changed)
	}
	if !reflect.DeepEqual(merged.Fields, ex.Fields) {
		t.Errorf("fields regressed:\n%s", cmp.Diff(ex.Fields, merged.Fields))
	}
}

func TestMerge_Policy(t *testing.T) {
	ex := stored("bth_1", 1, record.Fields{
		Name: "Booth", Address: record.Str("1 Main St"), City: record.Str("Oslo"), Hours: record.Str("9-17"),
	})

	// Refreshable replaced, durable kept at equal confidence.
	in := validated(record.Fields{Name: "Booth", Address: record.Str("2 Other Rd"), City: record.Str("Oslo"), Hours: record.Str("10-18")})
	m, changed := Merge(ex, in)
	if record.Deref(m.Hours) != "10-18" || record.Deref(m.Address) != "1 Main St" {
		t.Errorf("hours=%q address=%q", record.Deref(m.Hours), record.Deref(m.Address))
	}
	if diff := cmp.Diff([]string{"hours"}, changed); diff != "" {
		t.Errorf("changed (-want +got):\n%s", diff)
	}

	// Higher confidence may correct a durable field.
	in.Confidence = 0.9
	m, _ = Merge(ex, in)
	if record.Deref(m.Address) != "2 Other Rd" || m.Confidence != 0.9 || m.NormAddress != "2 other rd" {
		t.Errorf("address=%q confidence=%v norm=%q", record.Deref(m.Address), m.Confidence, m.NormAddress)
	}

	// Needs-review records flag the booth with a note.
	rv := validated(record.Fields{Name: "Booth", City: record.Str("Oslo")})
	rv.Verdict = record.NeedsReview
	rv.Issues = []record.Issue{{Field: "description", Code: record.IssueInjection, Message: "SQL-like pattern"}}
	m, changed = Merge(ex, rv)
	if !m.NeedsReview || m.ReviewNotes == "" || len(changed) != 1 {
		t.Errorf("review merge: %+v %v", m, changed)
	}
}
