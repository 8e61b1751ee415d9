// CLAUDE:SUMMARY Content-addressed raw page storage: normalized SHA-256, unchanged short-circuit, extraction markers.
// Package rawstore persists fetched pages keyed by (source, url, content hash).
//
// Put compares the normalized body's hash with the most recently seen row for
// the same (source, url). An equal hash whose row was already extracted is
// Unchanged and the caller skips extraction. Anything else is Stored: a new
// immutable row, a revisit of an older hash, or a row whose previous
// extraction never completed.
package rawstore

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/hazyhaar/boothcrawl/crawl/internal/store"
	"github.com/hazyhaar/boothcrawl/idgen"
)

// Outcome is the result of Put.
type Outcome string

const (
	Unchanged Outcome = "unchanged"
	Stored    Outcome = "stored"
)

// ErrEmptyBody is returned when a body is blank after normalization.
var ErrEmptyBody = errors.New("rawstore: empty body")

// Page is one fetched body to persist.
type Page struct {
	URL        string
	Body       string
	Format     string // markdown | html
	StatusCode int
	FetchedAt  time.Time
}

// Put is the result of storing one page.
type Put struct {
	Outcome Outcome
	ID      string
	Hash    string
	Content *store.RawContent
}

// Store wraps the raw_content table.
type Store struct {
	db    *store.Store
	newID func() string
}

// New creates a raw content store.
func New(db *store.Store) *Store {
	return &Store{db: db, newID: idgen.Raw}
}

// Normalize canonicalizes a body before hashing: CRLF becomes LF, trailing
// whitespace is trimmed from each line and from the whole body.
func Normalize(body string) string {
	body = strings.ReplaceAll(body, "\r\n", "\n")
	body = strings.ReplaceAll(body, "\r", "\n")
	lines := strings.Split(body, "\n")
	for i, l := range lines {
		lines[i] = strings.TrimRight(l, " \t")
	}
	return strings.TrimSpace(strings.Join(lines, "\n"))
}

// Hash returns the hex SHA-256 of the normalized body.
func Hash(body string) string {
	h := sha256.Sum256([]byte(Normalize(body)))
	return hex.EncodeToString(h[:])
}

// Put stores p for sourceID unless its content is unchanged and already extracted.
func (r *Store) Put(ctx context.Context, sourceID string, p Page) (*Put, error) {
	norm := Normalize(p.Body)
	if norm == "" {
		return nil, ErrEmptyBody
	}
	sum := sha256.Sum256([]byte(norm))
	hash := hex.EncodeToString(sum[:])
	ts := p.FetchedAt.UnixMilli()
	if p.FetchedAt.IsZero() {
		ts = time.Now().UnixMilli()
	}
	format := p.Format
	if format == "" {
		format = "markdown"
	}

	var out *Put
	err := r.db.RunTx(ctx, func(tx *store.Store) error {
		latest, err := tx.LatestRaw(ctx, sourceID, p.URL)
		if err != nil {
			return err
		}
		if latest != nil && latest.ContentHash == hash {
			if err := tx.TouchRaw(ctx, latest.ID, ts); err != nil {
				return err
			}
			latest.LastSeenAt = ts
			outcome := Stored
			if latest.ExtractedAt != nil {
				outcome = Unchanged
			}
			out = &Put{Outcome: outcome, ID: latest.ID, Hash: hash, Content: latest}
			return nil
		}

		// Content reverted to a body seen before: make that row current again.
		prior, err := tx.RawByHash(ctx, sourceID, p.URL, hash)
		if err != nil {
			return err
		}
		if prior != nil {
			if err := tx.TouchRaw(ctx, prior.ID, ts); err != nil {
				return err
			}
			prior.LastSeenAt = ts
			out = &Put{Outcome: Stored, ID: prior.ID, Hash: hash, Content: prior}
			return nil
		}

		rc := &store.RawContent{
			ID:          r.newID(),
			SourceID:    sourceID,
			URL:         p.URL,
			ContentHash: hash,
			Body:        p.Body,
			Format:      format,
			StatusCode:  p.StatusCode,
			Size:        len(p.Body),
			FetchedAt:   ts,
			LastSeenAt:  ts,
		}
		if err := tx.InsertRaw(ctx, rc); err != nil {
			return err
		}
		out = &Put{Outcome: Stored, ID: rc.ID, Hash: hash, Content: rc}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("rawstore: put %s: %w", p.URL, err)
	}
	return out, nil
}

// MarkExtracted records that extraction ran on a stored row. It is called
// after parse failures too; only transport failures leave a row pending.
func (r *Store) MarkExtracted(ctx context.Context, id, note string) error {
	return r.db.MarkRawExtracted(ctx, id, note, time.Now().UnixMilli())
}

// Latest returns the current row per URL of a source, for re-extraction
// without re-fetching.
func (r *Store) Latest(ctx context.Context, sourceID string) ([]*store.RawContent, error) {
	return r.db.LatestRawBySource(ctx, sourceID)
}
