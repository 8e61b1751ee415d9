// CLAUDE:SUMMARY Identity resolution: match tiers (strong, proximity, name-city), best-target choice, Insert/Merge/Skip decision.
// Package dedup decides whether a validated record is a new booth, an update
// to an existing one, or adds nothing.
//
// Matching follows one policy everywhere: normalized name + city, plus
// geographic proximity when coordinates are known. Resolve and Merge are pure;
// the persist package loads candidates and applies the result.
package dedup

import (
	"cmp"

	"github.com/hazyhaar/boothcrawl/crawl/internal/record"
	"github.com/hazyhaar/boothcrawl/crawl/internal/store"
)

// Config tunes matching.
type Config struct {
	// RadiusMeters is the proximity radius for "same venue". Default 50.
	RadiusMeters float64 `yaml:"radius_meters"`
	// NameSimilarity is the minimum token Jaccard index for proximity
	// matches. Default 0.5.
	NameSimilarity float64 `yaml:"name_similarity"`
	// ConflictMeters is the distance beyond which two records with the same
	// name and city are different booths. Default 1000.
	ConflictMeters float64 `yaml:"conflict_meters"`
}

func (c *Config) defaults() {
	if c.RadiusMeters <= 0 {
		c.RadiusMeters = 50
	}
	if c.NameSimilarity <= 0 {
		c.NameSimilarity = 0.5
	}
	if c.ConflictMeters <= 0 {
		c.ConflictMeters = 1000
	}
}

// Action is the resolution decision.
type Action string

const (
	Insert    Action = "insert"
	MergeInto Action = "merge"
	Skip      Action = "skip"
)

// Tier ranks how strongly an existing booth matches.
type Tier int

const (
	NoMatch Tier = iota
	TierNameCity
	TierProximity
	TierStrong
)

func (t Tier) String() string {
	switch t {
	case TierStrong:
		return "strong"
	case TierProximity:
		return "proximity"
	case TierNameCity:
		return "name_city"
	}
	return "none"
}

// Key holds the normalized identity of a record.
type Key struct {
	Name, City, Address string
}

// KeyOf normalizes the identity fields of f.
func KeyOf(f *record.Fields) Key {
	return Key{
		Name:    NormalizeName(f.Name),
		City:    NormalizeCity(record.Deref(f.City)),
		Address: NormalizeAddress(record.Deref(f.Address)),
	}
}

// Resolution is the outcome of Resolve.
type Resolution struct {
	Action Action
	Tier   Tier
	// Target is the matched booth as read, for Merge and matched Skip.
	Target *store.Booth
	// Merged is Target with the incoming fields applied, for Merge.
	Merged  *store.Booth
	Changed []string
	Reason  string
}

// Resolver holds matching settings.
type Resolver struct {
	cfg Config
}

// New creates a Resolver.
func New(cfg Config) *Resolver {
	cfg.defaults()
	return &Resolver{cfg: cfg}
}

// Config returns the effective settings.
func (r *Resolver) Config() Config { return r.cfg }

// LookupBox returns the bounding box for candidate lookup, or nil without
// coordinates.
func (r *Resolver) LookupBox(f *record.Fields) *store.Box {
	if !f.HasCoordinates() {
		return nil
	}
	return BoundingBox(*f.Latitude, *f.Longitude, r.cfg.RadiusMeters)
}

// Resolve decides what to do with v given the existing booths that may match.
func (r *Resolver) Resolve(v *record.Validated, existing []*store.Booth) Resolution {
	if !v.Persistable() {
		return Resolution{Action: Skip, Reason: "rejected by validation"}
	}
	key := KeyOf(&v.Fields)

	var best *store.Booth
	bestTier := NoMatch
	for _, b := range existing {
		t := r.Match(key, &v.Fields, b)
		if t == NoMatch {
			continue
		}
		if best == nil || t > bestTier || (t == bestTier && better(b, best)) {
			best, bestTier = b, t
		}
	}
	if best == nil {
		return Resolution{Action: Insert}
	}

	merged, changed := Merge(best, v)
	if len(changed) == 0 {
		return Resolution{Action: Skip, Tier: bestTier, Target: best, Reason: "no new information"}
	}
	return Resolution{Action: MergeInto, Tier: bestTier, Target: best, Merged: merged, Changed: changed}
}

// Match classifies how b matches the incoming record.
func (r *Resolver) Match(key Key, f *record.Fields, b *store.Booth) Tier {
	sameName := key.Name != "" && key.Name == b.NormName
	sameCity := key.City != "" && key.City == b.NormCity
	sameAddr := key.Address != "" && key.Address == b.NormAddress && (sameCity || key.City == "" || b.NormCity == "")

	dist, haveDist := -1.0, false
	if f.HasCoordinates() && b.HasCoordinates() {
		dist, haveDist = Distance(*f.Latitude, *f.Longitude, *b.Latitude, *b.Longitude), true
	}
	near := haveDist && dist <= r.cfg.RadiusMeters

	switch {
	case sameName && (sameAddr || near):
		return TierStrong
	case (near || sameAddr) && NamesSimilar(key.Name, b.NormName, r.cfg.NameSimilarity):
		return TierProximity
	case sameName && sameCity:
		addrConflict := !AddressesCompatible(key.Address, b.NormAddress)
		geoConflict := haveDist && dist > r.cfg.ConflictMeters
		if !addrConflict && !geoConflict {
			return TierNameCity
		}
	}
	return NoMatch
}

// better reports whether a is a preferable merge target to b at equal tier:
// more populated fields first, then the oldest booth so slugs stay stable.
func better(a, b *store.Booth) bool {
	if c := cmp.Compare(a.NonNullCount(), b.NonNullCount()); c != 0 {
		return c > 0
	}
	if a.CreatedAt != b.CreatedAt {
		return a.CreatedAt < b.CreatedAt
	}
	return a.ID < b.ID
}
