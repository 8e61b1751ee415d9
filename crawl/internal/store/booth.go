// CLAUDE:SUMMARY Booth CRUD with optimistic versioning, slug lookups, dedup candidate query, and provenance.
package store

import (
	"context"
	"database/sql"
	"fmt"
)

const boothColumns = `id, slug, name, address, city, region, country, postal_code,
	latitude, longitude, phone, website, hours, cost, machine_model, booth_type,
	photo_type, description, status, norm_name, norm_city, norm_address,
	confidence, completeness, needs_review, review_notes, version,
	created_at, updated_at, last_verified_at`

// Box is a latitude/longitude bounding box.
type Box struct {
	MinLat, MaxLat, MinLng, MaxLng float64
}

// InsertBooth writes a new booth with version 1.
func (s *Store) InsertBooth(ctx context.Context, b *Booth) error {
	now := nowMs()
	if b.CreatedAt == 0 {
		b.CreatedAt = now
	}
	b.UpdatedAt = now
	if b.LastVerifiedAt == 0 {
		b.LastVerifiedAt = now
	}
	b.Version = 1
	b.Completeness = b.Fields.Completeness()
	status := "active"
	if b.Status != nil {
		status = *b.Status
	}

	_, err := s.DB.ExecContext(ctx,
		`INSERT INTO booths (`+boothColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		b.ID, b.Slug, b.Name, b.Address, b.City, b.Region, b.Country, b.PostalCode,
		b.Latitude, b.Longitude, b.Phone, b.Website, b.Hours, b.Cost, b.MachineModel,
		b.BoothType, b.PhotoType, b.Description, status, b.NormName, b.NormCity,
		b.NormAddress, b.Confidence, b.Completeness, boolInt(b.NeedsReview), b.ReviewNotes,
		b.Version, b.CreatedAt, b.UpdatedAt, b.LastVerifiedAt,
	)
	if err != nil {
		return fmt.Errorf("store: insert booth %s: %w", b.Slug, err)
	}
	return nil
}

// UpdateBooth writes all mutable fields of b if its version is still current,
// then bumps b.Version. A lost race returns ErrVersionConflict.
func (s *Store) UpdateBooth(ctx context.Context, b *Booth) error {
	b.UpdatedAt = nowMs()
	b.Completeness = b.Fields.Completeness()
	status := "active"
	if b.Status != nil {
		status = *b.Status
	}

	res, err := s.DB.ExecContext(ctx,
		`UPDATE booths SET name=?, address=?, city=?, region=?, country=?, postal_code=?,
		latitude=?, longitude=?, phone=?, website=?, hours=?, cost=?, machine_model=?,
		booth_type=?, photo_type=?, description=?, status=?, norm_name=?, norm_city=?,
		norm_address=?, confidence=?, completeness=?, needs_review=?, review_notes=?,
		version=version+1, updated_at=?, last_verified_at=?
		WHERE id=? AND version=?`,
		b.Name, b.Address, b.City, b.Region, b.Country, b.PostalCode,
		b.Latitude, b.Longitude, b.Phone, b.Website, b.Hours, b.Cost, b.MachineModel,
		b.BoothType, b.PhotoType, b.Description, status, b.NormName, b.NormCity,
		b.NormAddress, b.Confidence, b.Completeness, boolInt(b.NeedsReview), b.ReviewNotes,
		b.UpdatedAt, b.LastVerifiedAt, b.ID, b.Version,
	)
	if err != nil {
		return fmt.Errorf("store: update booth %s: %w", b.ID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrVersionConflict
	}
	b.Version++
	return nil
}

// VerifyBooth bumps last_verified_at without touching data or version.
func (s *Store) VerifyBooth(ctx context.Context, id string, ts int64) error {
	_, err := s.DB.ExecContext(ctx,
		`UPDATE booths SET last_verified_at = ? WHERE id = ?`, ts, id)
	if err != nil {
		return fmt.Errorf("store: verify booth %s: %w", id, err)
	}
	return nil
}

// GetBooth returns a booth by id, or nil.
func (s *Store) GetBooth(ctx context.Context, id string) (*Booth, error) {
	return s.getBooth(ctx, `WHERE id = ?`, id)
}

// GetBoothBySlug returns a booth by slug with its provenance, or nil.
func (s *Store) GetBoothBySlug(ctx context.Context, slug string) (*Booth, error) {
	b, err := s.getBooth(ctx, `WHERE slug = ?`, slug)
	if err != nil || b == nil {
		return b, err
	}
	b.Sources, err = s.ListProvenance(ctx, b.ID)
	return b, err
}

func (s *Store) getBooth(ctx context.Context, where string, args ...any) (*Booth, error) {
	row := s.DB.QueryRowContext(ctx, `SELECT `+boothColumns+` FROM booths `+where, args...)
	b, err := scanBooth(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return b, err
}

// SlugExists reports whether a slug is taken.
func (s *Store) SlugExists(ctx context.Context, slug string) (bool, error) {
	var n int
	err := s.DB.QueryRowContext(ctx, `SELECT COUNT(*) FROM booths WHERE slug = ?`, slug).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("store: slug exists: %w", err)
	}
	return n > 0, nil
}

// MatchCandidates returns booths that may be the same venue: same normalized
// (name, city), same normalized (address, city), or inside box when given.
func (s *Store) MatchCandidates(ctx context.Context, normName, normCity, normAddress string, box *Box) ([]*Booth, error) {
	query := `SELECT ` + boothColumns + ` FROM booths
		WHERE (norm_name = ? AND norm_city = ?)
		   OR (? != '' AND norm_address = ? AND norm_city = ?)`
	args := []any{normName, normCity, normAddress, normAddress, normCity}
	if box != nil {
		query += ` OR (latitude BETWEEN ? AND ? AND longitude BETWEEN ? AND ?)`
		args = append(args, box.MinLat, box.MaxLat, box.MinLng, box.MaxLng)
	}
	query += ` ORDER BY created_at ASC, id ASC LIMIT 50`
	return s.queryBooths(ctx, query, args...)
}

// ListBooths returns booths newest first. needsReview filters when non-nil.
func (s *Store) ListBooths(ctx context.Context, limit, offset int, needsReview *bool) ([]*Booth, error) {
	if limit <= 0 {
		limit = 100
	}
	query := `SELECT ` + boothColumns + ` FROM booths`
	var args []any
	if needsReview != nil {
		query += ` WHERE needs_review = ?`
		args = append(args, boolInt(*needsReview))
	}
	query += ` ORDER BY created_at DESC, id DESC LIMIT ? OFFSET ?`
	args = append(args, limit, offset)
	return s.queryBooths(ctx, query, args...)
}

// CountBooths returns the number of stored booths.
func (s *Store) CountBooths(ctx context.Context) (int, error) {
	var n int
	err := s.DB.QueryRowContext(ctx, `SELECT COUNT(*) FROM booths`).Scan(&n)
	return n, err
}

// AddProvenance appends a source contribution, or refreshes last_seen_at and
// confidence when the same (booth, source, url) was already recorded.
func (s *Store) AddProvenance(ctx context.Context, p *Provenance) error {
	if p.FirstSeenAt == 0 {
		p.FirstSeenAt = nowMs()
	}
	if p.LastSeenAt == 0 {
		p.LastSeenAt = p.FirstSeenAt
	}
	_, err := s.DB.ExecContext(ctx,
		`INSERT INTO booth_provenance (booth_id, source_id, source_name, source_url,
		confidence, first_seen_at, last_seen_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(booth_id, source_id, source_url) DO UPDATE SET
			source_name = excluded.source_name,
			confidence = MAX(booth_provenance.confidence, excluded.confidence),
			last_seen_at = excluded.last_seen_at`,
		p.BoothID, p.SourceID, p.SourceName, p.SourceURL, p.Confidence,
		p.FirstSeenAt, p.LastSeenAt,
	)
	if err != nil {
		return fmt.Errorf("store: add provenance %s: %w", p.BoothID, err)
	}
	return nil
}

// HasProvenance reports whether sourceID already contributed to a booth.
func (s *Store) HasProvenance(ctx context.Context, boothID, sourceID string) (bool, error) {
	var n int
	err := s.DB.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM booth_provenance WHERE booth_id = ? AND source_id = ?`,
		boothID, sourceID).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("store: has provenance: %w", err)
	}
	return n > 0, nil
}

// ListProvenance returns a booth's contributing sources, oldest first.
func (s *Store) ListProvenance(ctx context.Context, boothID string) ([]Provenance, error) {
	rows, err := s.DB.QueryContext(ctx,
		`SELECT booth_id, source_id, source_name, source_url, confidence, first_seen_at, last_seen_at
		FROM booth_provenance WHERE booth_id = ?
		ORDER BY first_seen_at ASC, source_id ASC`, boothID)
	if err != nil {
		return nil, fmt.Errorf("store: list provenance: %w", err)
	}
	defer rows.Close()

	var out []Provenance
	for rows.Next() {
		var p Provenance
		if err := rows.Scan(&p.BoothID, &p.SourceID, &p.SourceName, &p.SourceURL,
			&p.Confidence, &p.FirstSeenAt, &p.LastSeenAt); err != nil {
			return nil, fmt.Errorf("scan provenance: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *Store) queryBooths(ctx context.Context, query string, args ...any) ([]*Booth, error) {
	rows, err := s.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("store: query booths: %w", err)
	}
	defer rows.Close()

	var out []*Booth
	for rows.Next() {
		b, err := scanBooth(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

func scanBooth(sc scanner) (*Booth, error) {
	var b Booth
	var status string
	var review int
	err := sc.Scan(
		&b.ID, &b.Slug, &b.Name, &b.Address, &b.City, &b.Region, &b.Country, &b.PostalCode,
		&b.Latitude, &b.Longitude, &b.Phone, &b.Website, &b.Hours, &b.Cost, &b.MachineModel,
		&b.BoothType, &b.PhotoType, &b.Description, &status, &b.NormName, &b.NormCity,
		&b.NormAddress, &b.Confidence, &b.Completeness, &review, &b.ReviewNotes, &b.Version,
		&b.CreatedAt, &b.UpdatedAt, &b.LastVerifiedAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("scan booth: %w", err)
	}
	b.Status = &status
	b.NeedsReview = review != 0
	return &b, nil
}
