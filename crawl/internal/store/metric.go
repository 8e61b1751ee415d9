// CLAUDE:SUMMARY Append-only crawl_metrics rows and aggregate stats.
package store

import (
	"context"
	"fmt"
)

// InsertMetric appends one run record.
func (s *Store) InsertMetric(ctx context.Context, m *Metric) error {
	_, err := s.DB.ExecContext(ctx,
		`INSERT INTO crawl_metrics (id, source_id, started_at, completed_at, duration_ms,
		status, failed_stage, attempts, pages, unchanged_pages, found, added, updated,
		skipped, rejected, needs_review, error_message)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		m.ID, m.SourceID, m.StartedAt, m.CompletedAt, m.DurationMs, m.Status,
		m.FailedStage, m.Attempts, m.Pages, m.UnchangedPages, m.Found, m.Added,
		m.Updated, m.Skipped, m.Rejected, m.NeedsReview, m.ErrorMessage,
	)
	if err != nil {
		return fmt.Errorf("store: insert metric: %w", err)
	}
	return nil
}

// ListMetrics returns run records for a source, newest first.
func (s *Store) ListMetrics(ctx context.Context, sourceID string, limit int) ([]*Metric, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.DB.QueryContext(ctx,
		`SELECT id, source_id, started_at, completed_at, duration_ms, status, failed_stage,
		attempts, pages, unchanged_pages, found, added, updated, skipped, rejected,
		needs_review, error_message
		FROM crawl_metrics WHERE source_id = ?
		ORDER BY started_at DESC, id DESC LIMIT ?`, sourceID, limit)
	if err != nil {
		return nil, fmt.Errorf("store: list metrics: %w", err)
	}
	defer rows.Close()

	var out []*Metric
	for rows.Next() {
		var m Metric
		if err := rows.Scan(&m.ID, &m.SourceID, &m.StartedAt, &m.CompletedAt, &m.DurationMs,
			&m.Status, &m.FailedStage, &m.Attempts, &m.Pages, &m.UnchangedPages, &m.Found,
			&m.Added, &m.Updated, &m.Skipped, &m.Rejected, &m.NeedsReview,
			&m.ErrorMessage); err != nil {
			return nil, fmt.Errorf("scan metric: %w", err)
		}
		out = append(out, &m)
	}
	return out, rows.Err()
}

// Stats returns aggregate counters across the database.
func (s *Store) Stats(ctx context.Context) (*Stats, error) {
	st := &Stats{RunsByStatus: make(map[string]int)}
	err := s.DB.QueryRowContext(ctx,
		`SELECT
			(SELECT COUNT(*) FROM crawl_sources),
			(SELECT COUNT(*) FROM crawl_sources WHERE enabled = 1 AND needs_review = 0),
			(SELECT COUNT(*) FROM crawl_sources WHERE needs_review = 1),
			(SELECT COUNT(*) FROM booths),
			(SELECT COUNT(*) FROM booths WHERE needs_review = 1),
			(SELECT COUNT(*) FROM raw_content),
			(SELECT COALESCE(AVG(completeness), 0) FROM booths)`).Scan(
		&st.Sources, &st.EnabledSources, &st.ReviewSources, &st.Booths,
		&st.ReviewBooths, &st.RawContent, &st.AvgCompleteness)
	if err != nil {
		return nil, fmt.Errorf("store: stats: %w", err)
	}

	rows, err := s.DB.QueryContext(ctx,
		`SELECT status, COUNT(*) FROM crawl_metrics GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("store: stats by status: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("scan stats: %w", err)
		}
		st.RunsByStatus[status] = n
		st.Runs += n
	}
	return st, rows.Err()
}
