// CLAUDE:SUMMARY Transactional commit of resolved records: re-resolve inside the tx, unique slug insert, versioned merge, provenance append, one retry on conflict.
// Package persist writes validated booth records.
//
// Every Commit runs in one immediate transaction that re-reads the match
// candidates and resolves again, so a record that raced with another
// source's insert turns into a merge instead of a duplicate. Slug collisions
// and lost version races are retried once with a fresh read.
package persist

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/hazyhaar/boothcrawl/crawl/internal/dedup"
	"github.com/hazyhaar/boothcrawl/crawl/internal/record"
	"github.com/hazyhaar/boothcrawl/crawl/internal/store"
	"github.com/hazyhaar/boothcrawl/idgen"
)

// ErrConflict is returned when a write still conflicts after its retry.
var ErrConflict = errors.New("persist: conflict")

const (
	maxSlugLen      = 80
	maxSlugSuffix   = 1000
	conflictRetries = 1
)

// Kind is what a commit did.
type Kind string

const (
	Inserted Kind = "inserted"
	Updated  Kind = "updated"
	Skipped  Kind = "skipped"
)

// Outcome describes one committed record.
type Outcome struct {
	Kind        Kind
	BoothID     string
	Slug        string
	Tier        dedup.Tier
	Changed     []string
	Reason      string
	NeedsReview bool
}

// Committer writes records to the store.
type Committer struct {
	db       *store.Store
	resolver *dedup.Resolver
	newID    func() string
	logger   *slog.Logger
}

// New creates a Committer.
func New(db *store.Store, resolver *dedup.Resolver, logger *slog.Logger) *Committer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Committer{db: db, resolver: resolver, newID: idgen.Booth, logger: logger}
}

// Resolve reads the current match candidates and resolves v against them.
// The result is advisory: Commit resolves again inside its transaction.
func (c *Committer) Resolve(ctx context.Context, v *record.Validated) (dedup.Resolution, error) {
	cands, err := c.candidates(ctx, c.db, v)
	if err != nil {
		return dedup.Resolution{}, err
	}
	return c.resolver.Resolve(v, cands), nil
}

// Commit applies v. hint is the resolution computed before the transaction;
// when the fresh resolution inside the transaction differs, the fresh one wins.
func (c *Committer) Commit(ctx context.Context, v *record.Validated, hint dedup.Resolution) (*Outcome, error) {
	if !v.Persistable() {
		return &Outcome{Kind: Skipped, Reason: "rejected by validation"}, nil
	}

	var out *Outcome
	var err error
	for attempt := 0; attempt <= conflictRetries; attempt++ {
		err = c.db.RunTx(ctx, func(tx *store.Store) error {
			var txErr error
			out, txErr = c.commitTx(ctx, tx, v, hint)
			return txErr
		})
		if err == nil {
			return out, nil
		}
		if !errors.Is(err, store.ErrVersionConflict) && !store.IsUniqueViolation(err) {
			return nil, err
		}
		c.logger.Info("persist: conflict, retrying with fresh read",
			"source_id", v.SourceID, "name", v.Name, "attempt", attempt+1, "error", err)
	}
	return nil, fmt.Errorf("%w: %s: %v", ErrConflict, v.Name, err)
}

func (c *Committer) commitTx(ctx context.Context, tx *store.Store, v *record.Validated, hint dedup.Resolution) (*Outcome, error) {
	cands, err := c.candidates(ctx, tx, v)
	if err != nil {
		return nil, err
	}
	res := c.resolver.Resolve(v, cands)
	if res.Action != hint.Action || targetID(res) != targetID(hint) {
		c.logger.Debug("persist: resolution changed under transaction",
			"name", v.Name, "hint", hint.Action, "fresh", res.Action, "target", targetID(res))
	}

	switch res.Action {
	case dedup.Insert:
		return c.insert(ctx, tx, v)
	case dedup.MergeInto:
		return c.merge(ctx, tx, v, res)
	default:
		return c.skip(ctx, tx, v, res)
	}
}

func (c *Committer) insert(ctx context.Context, tx *store.Store, v *record.Validated) (*Outcome, error) {
	key := dedup.KeyOf(&v.Fields)
	slug, err := uniqueSlug(ctx, tx, Slug(v.Name, record.Deref(v.City)))
	if err != nil {
		return nil, err
	}
	b := &store.Booth{
		ID:          c.newID(),
		Slug:        slug,
		Fields:      v.Fields,
		NormName:    key.Name,
		NormCity:    key.City,
		NormAddress: key.Address,
		Confidence:  v.Confidence,
		NeedsReview: v.Verdict == record.NeedsReview,
		ReviewNotes: dedup.ReviewNote(v),
	}
	if err := tx.InsertBooth(ctx, b); err != nil {
		return nil, err
	}
	if err := addProvenance(ctx, tx, b.ID, v); err != nil {
		return nil, err
	}
	return &Outcome{Kind: Inserted, BoothID: b.ID, Slug: b.Slug, NeedsReview: b.NeedsReview}, nil
}

func (c *Committer) merge(ctx context.Context, tx *store.Store, v *record.Validated, res dedup.Resolution) (*Outcome, error) {
	// Candidates were read in this transaction, so Merged carries the
	// current version; a mismatch means a writer outside it got in first.
	m := res.Merged
	if !v.ExtractedAt.IsZero() {
		m.LastVerifiedAt = v.ExtractedAt.UnixMilli()
	}
	if err := tx.UpdateBooth(ctx, m); err != nil {
		return nil, err
	}
	if err := addProvenance(ctx, tx, m.ID, v); err != nil {
		return nil, err
	}
	return &Outcome{
		Kind: Updated, BoothID: m.ID, Slug: m.Slug, Tier: res.Tier,
		Changed: res.Changed, NeedsReview: m.NeedsReview,
	}, nil
}

// skip records a new source's corroboration without touching booth data.
func (c *Committer) skip(ctx context.Context, tx *store.Store, v *record.Validated, res dedup.Resolution) (*Outcome, error) {
	out := &Outcome{Kind: Skipped, Tier: res.Tier, Reason: res.Reason}
	if res.Target == nil {
		return out, nil
	}
	out.BoothID, out.Slug = res.Target.ID, res.Target.Slug
	known, err := tx.HasProvenance(ctx, res.Target.ID, v.SourceID)
	if err != nil {
		return nil, err
	}
	if !known {
		if err := addProvenance(ctx, tx, res.Target.ID, v); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func (c *Committer) candidates(ctx context.Context, db *store.Store, v *record.Validated) ([]*store.Booth, error) {
	key := dedup.KeyOf(&v.Fields)
	return db.MatchCandidates(ctx, key.Name, key.City, key.Address, c.resolver.LookupBox(&v.Fields))
}

func addProvenance(ctx context.Context, tx *store.Store, boothID string, v *record.Validated) error {
	p := &store.Provenance{
		BoothID:    boothID,
		SourceID:   v.SourceID,
		SourceName: v.SourceName,
		SourceURL:  v.SourceURL,
		Confidence: v.Confidence,
	}
	if !v.ExtractedAt.IsZero() {
		p.FirstSeenAt = v.ExtractedAt.UnixMilli()
	}
	return tx.AddProvenance(ctx, p)
}

func targetID(r dedup.Resolution) string {
	if r.Target == nil {
		return ""
	}
	return r.Target.ID
}

// Slug builds a URL slug from name and city: ASCII letters and digits joined
// by hyphens, "booth" when nothing usable remains.
func Slug(name, city string) string {
	base := dedup.NormalizeName(name)
	if c := dedup.NormalizeCity(city); c != "" && !strings.HasSuffix(base, c) {
		base += " " + c
	}
	var b strings.Builder
	for _, r := range base {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == ' ':
			b.WriteByte('-')
		}
	}
	slug := strings.Trim(b.String(), "-")
	for strings.Contains(slug, "--") {
		slug = strings.ReplaceAll(slug, "--", "-")
	}
	if len(slug) > maxSlugLen {
		slug = strings.TrimRight(slug[:maxSlugLen], "-")
	}
	if slug == "" {
		return "booth"
	}
	return slug
}

// uniqueSlug returns base, or base-2, base-3, ... for the first free slug.
func uniqueSlug(ctx context.Context, tx *store.Store, base string) (string, error) {
	for n := 1; n <= maxSlugSuffix; n++ {
		slug := base
		if n > 1 {
			slug = base + "-" + strconv.Itoa(n)
		}
		taken, err := tx.SlugExists(ctx, slug)
		if err != nil {
			return "", err
		}
		if !taken {
			return slug, nil
		}
	}
	return "", fmt.Errorf("persist: no free slug for %q", base)
}
