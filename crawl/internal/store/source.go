// CLAUDE:SUMMARY Source CRUD, seeding upsert, DueSources scheduling query, and health persistence.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
)

const sourceColumns = `id, name, urls_json, strategy, fetch_mode, priority, enabled,
	cadence_ms, page_limit, needs_review, review_reason, last_run_at, last_success_at,
	last_status, last_error, consecutive_failures, total_found, total_added, total_updated,
	created_at, updated_at`

// UpsertSource inserts a source or updates its configuration fields.
// Health fields of an existing source are preserved. A source flagged for
// review stays disabled until reset, whatever the configuration says.
func (s *Store) UpsertSource(ctx context.Context, src *Source) error {
	now := nowMs()
	if src.CreatedAt == 0 {
		src.CreatedAt = now
	}
	src.UpdatedAt = now
	if src.Strategy == "" {
		src.Strategy = "generic"
	}
	if src.FetchMode == "" {
		src.FetchMode = "scrape"
	}
	if src.CadenceMs == 0 {
		src.CadenceMs = 86_400_000
	}
	if src.LastStatus == "" {
		src.LastStatus = "pending"
	}
	urls, err := json.Marshal(src.URLs)
	if err != nil {
		return fmt.Errorf("store: marshal urls: %w", err)
	}

	_, err = s.DB.ExecContext(ctx,
		`INSERT INTO crawl_sources (`+sourceColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, 0, '', NULL, NULL, ?, '', 0, 0, 0, 0, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			urls_json = excluded.urls_json,
			strategy = excluded.strategy,
			fetch_mode = excluded.fetch_mode,
			priority = excluded.priority,
			cadence_ms = excluded.cadence_ms,
			page_limit = excluded.page_limit,
			enabled = CASE
				WHEN excluded.enabled = 0 THEN 0
				WHEN crawl_sources.needs_review = 1 THEN crawl_sources.enabled
				ELSE 1 END,
			updated_at = excluded.updated_at`,
		src.ID, src.Name, string(urls), src.Strategy, src.FetchMode, src.Priority,
		boolInt(src.Enabled), src.CadenceMs, src.PageLimit, src.LastStatus,
		src.CreatedAt, src.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("store: upsert source %s: %w", src.ID, err)
	}
	return nil
}

// GetSource retrieves a source by ID. Returns nil, nil when absent.
func (s *Store) GetSource(ctx context.Context, id string) (*Source, error) {
	row := s.DB.QueryRowContext(ctx,
		`SELECT `+sourceColumns+` FROM crawl_sources WHERE id = ?`, id)
	src, err := scanSource(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return src, err
}

// ListSources returns all sources, highest priority first.
func (s *Store) ListSources(ctx context.Context) ([]*Source, error) {
	return s.querySources(ctx,
		`SELECT `+sourceColumns+` FROM crawl_sources ORDER BY priority DESC, id ASC`)
}

// DueSources returns enabled, non-review sources whose cadence has elapsed at now.
// Sources never run are always due.
func (s *Store) DueSources(ctx context.Context, now int64) ([]*Source, error) {
	return s.querySources(ctx,
		`SELECT `+sourceColumns+` FROM crawl_sources
		WHERE enabled = 1
		  AND needs_review = 0
		  AND (last_run_at IS NULL OR last_run_at + cadence_ms <= ?)
		ORDER BY priority DESC, last_run_at ASC NULLS FIRST`, now)
}

// SaveHealth persists a source's health state.
func (s *Store) SaveHealth(ctx context.Context, id string, h Health) error {
	res, err := s.DB.ExecContext(ctx,
		`UPDATE crawl_sources SET enabled=?, needs_review=?, review_reason=?,
		last_run_at=?, last_success_at=?, last_status=?, last_error=?,
		consecutive_failures=?, total_found=?, total_added=?, total_updated=?, updated_at=?
		WHERE id=?`,
		boolInt(h.Enabled), boolInt(h.NeedsReview), h.ReviewReason,
		h.LastRunAt, h.LastSuccessAt, h.LastStatus, h.LastError,
		h.ConsecutiveFailures, h.TotalFound, h.TotalAdded, h.TotalUpdated, nowMs(), id,
	)
	if err != nil {
		return fmt.Errorf("store: save health %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("store: save health %s: %w", id, sql.ErrNoRows)
	}
	return nil
}

// UpdateHealth applies fn to the stored health of a source and saves the
// result in one transaction, so operator changes made since the source was
// loaded are the base of the update. It returns the previous and new health.
func (s *Store) UpdateHealth(ctx context.Context, id string, fn func(Health) Health) (prev, next Health, err error) {
	err = s.RunTx(ctx, func(tx *Store) error {
		src, err := tx.GetSource(ctx, id)
		if err != nil {
			return fmt.Errorf("store: update health %s: %w", id, err)
		}
		if src == nil {
			return fmt.Errorf("store: update health %s: %w", id, sql.ErrNoRows)
		}
		prev = src.Health
		next = fn(prev)
		return tx.SaveHealth(ctx, id, next)
	})
	return prev, next, err
}

// ResetSource clears failure counters and the review flag, and re-enables the source.
func (s *Store) ResetSource(ctx context.Context, id string) (bool, error) {
	res, err := s.DB.ExecContext(ctx,
		`UPDATE crawl_sources SET enabled=1, needs_review=0, review_reason='',
		consecutive_failures=0, last_error='', updated_at=?
		WHERE id=?`, nowMs(), id)
	if err != nil {
		return false, fmt.Errorf("store: reset source %s: %w", id, err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// SetSourceEnabled toggles a source's enabled flag.
func (s *Store) SetSourceEnabled(ctx context.Context, id string, enabled bool) (bool, error) {
	res, err := s.DB.ExecContext(ctx,
		`UPDATE crawl_sources SET enabled=?, updated_at=? WHERE id=?`,
		boolInt(enabled), nowMs(), id)
	if err != nil {
		return false, fmt.Errorf("store: set enabled %s: %w", id, err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

func (s *Store) querySources(ctx context.Context, query string, args ...any) ([]*Source, error) {
	rows, err := s.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("store: query sources: %w", err)
	}
	defer rows.Close()

	var sources []*Source
	for rows.Next() {
		src, err := scanSource(rows)
		if err != nil {
			return nil, err
		}
		sources = append(sources, src)
	}
	return sources, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanSource(sc scanner) (*Source, error) {
	var src Source
	var urls string
	var enabled, review int
	var lastRun, lastSuccess sql.NullInt64
	err := sc.Scan(
		&src.ID, &src.Name, &urls, &src.Strategy, &src.FetchMode, &src.Priority, &enabled,
		&src.CadenceMs, &src.PageLimit, &review, &src.ReviewReason, &lastRun, &lastSuccess,
		&src.LastStatus, &src.LastError, &src.ConsecutiveFailures,
		&src.TotalFound, &src.TotalAdded, &src.TotalUpdated,
		&src.CreatedAt, &src.UpdatedAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("scan source: %w", err)
	}
	if err := json.Unmarshal([]byte(urls), &src.URLs); err != nil {
		return nil, fmt.Errorf("scan source %s urls: %w", src.ID, err)
	}
	src.Enabled = enabled != 0
	src.NeedsReview = review != 0
	if lastRun.Valid {
		v := lastRun.Int64
		src.LastRunAt = &v
	}
	if lastSuccess.Valid {
		v := lastSuccess.Int64
		src.LastSuccessAt = &v
	}
	return &src, nil
}
