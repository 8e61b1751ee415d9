// CLAUDE:SUMMARY Raw content rows: latest-by-url lookup, immutable insert, last-seen touch, extraction marker.
package store

import (
	"context"
	"database/sql"
	"fmt"
)

const rawColumns = `id, source_id, url, content_hash, body, format, status_code, size,
	fetched_at, last_seen_at, extracted_at, extract_note`

// LatestRaw returns the most recently seen row for (source, url), or nil.
func (s *Store) LatestRaw(ctx context.Context, sourceID, url string) (*RawContent, error) {
	row := s.DB.QueryRowContext(ctx,
		`SELECT `+rawColumns+` FROM raw_content
		WHERE source_id = ? AND url = ?
		ORDER BY last_seen_at DESC, fetched_at DESC LIMIT 1`, sourceID, url)
	rc, err := scanRaw(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return rc, err
}

// RawByHash returns the row for (source, url, hash), or nil.
func (s *Store) RawByHash(ctx context.Context, sourceID, url, hash string) (*RawContent, error) {
	row := s.DB.QueryRowContext(ctx,
		`SELECT `+rawColumns+` FROM raw_content
		WHERE source_id = ? AND url = ? AND content_hash = ?`, sourceID, url, hash)
	rc, err := scanRaw(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return rc, err
}

// InsertRaw stores a new immutable raw content row.
func (s *Store) InsertRaw(ctx context.Context, rc *RawContent) error {
	if rc.LastSeenAt == 0 {
		rc.LastSeenAt = rc.FetchedAt
	}
	_, err := s.DB.ExecContext(ctx,
		`INSERT INTO raw_content (`+rawColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rc.ID, rc.SourceID, rc.URL, rc.ContentHash, rc.Body, rc.Format, rc.StatusCode,
		rc.Size, rc.FetchedAt, rc.LastSeenAt, rc.ExtractedAt, rc.ExtractNote,
	)
	if err != nil {
		return fmt.Errorf("store: insert raw content: %w", err)
	}
	return nil
}

// TouchRaw records that a row's content was seen again at ts.
func (s *Store) TouchRaw(ctx context.Context, id string, ts int64) error {
	_, err := s.DB.ExecContext(ctx,
		`UPDATE raw_content SET last_seen_at = ? WHERE id = ?`, ts, id)
	if err != nil {
		return fmt.Errorf("store: touch raw content: %w", err)
	}
	return nil
}

// MarkRawExtracted records that extraction ran on a row. note carries a
// parse error or candidate count for diagnosis.
func (s *Store) MarkRawExtracted(ctx context.Context, id, note string, ts int64) error {
	_, err := s.DB.ExecContext(ctx,
		`UPDATE raw_content SET extracted_at = ?, extract_note = ? WHERE id = ?`,
		ts, note, id)
	if err != nil {
		return fmt.Errorf("store: mark extracted: %w", err)
	}
	return nil
}

// LatestRawBySource returns the most recently seen row per URL of a source.
func (s *Store) LatestRawBySource(ctx context.Context, sourceID string) ([]*RawContent, error) {
	rows, err := s.DB.QueryContext(ctx,
		`SELECT `+rawColumns+` FROM raw_content r
		WHERE source_id = ?
		  AND id = (SELECT id FROM raw_content r2
		            WHERE r2.source_id = r.source_id AND r2.url = r.url
		            ORDER BY last_seen_at DESC, fetched_at DESC LIMIT 1)
		ORDER BY url`, sourceID)
	if err != nil {
		return nil, fmt.Errorf("store: latest raw by source: %w", err)
	}
	defer rows.Close()

	var out []*RawContent
	for rows.Next() {
		rc, err := scanRaw(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rc)
	}
	return out, rows.Err()
}

func scanRaw(sc scanner) (*RawContent, error) {
	var rc RawContent
	var extracted sql.NullInt64
	err := sc.Scan(&rc.ID, &rc.SourceID, &rc.URL, &rc.ContentHash, &rc.Body, &rc.Format,
		&rc.StatusCode, &rc.Size, &rc.FetchedAt, &rc.LastSeenAt, &extracted, &rc.ExtractNote)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("scan raw content: %w", err)
	}
	if extracted.Valid {
		v := extracted.Int64
		rc.ExtractedAt = &v
	}
	return &rc, nil
}
