// CLAUDE:SUMMARY Applies the boothcrawl SQL schema: sources, raw content, booths, provenance, run metrics.
package store

import (
	"context"
	"fmt"
)

// Schema is the complete boothcrawl schema. Every statement is idempotent.
const Schema = `
-- Crawl targets and their health
CREATE TABLE IF NOT EXISTS crawl_sources (
    id                   TEXT PRIMARY KEY,
    name                 TEXT NOT NULL,
    urls_json            TEXT NOT NULL DEFAULT '[]',
    strategy             TEXT NOT NULL DEFAULT 'generic',
    fetch_mode           TEXT NOT NULL DEFAULT 'scrape',
    priority             INTEGER NOT NULL DEFAULT 0,
    enabled              INTEGER NOT NULL DEFAULT 1,
    cadence_ms           INTEGER NOT NULL DEFAULT 86400000,
    page_limit           INTEGER NOT NULL DEFAULT 0,
    needs_review         INTEGER NOT NULL DEFAULT 0,
    review_reason        TEXT NOT NULL DEFAULT '',
    last_run_at          INTEGER,
    last_success_at      INTEGER,
    last_status          TEXT NOT NULL DEFAULT 'pending',
    last_error           TEXT NOT NULL DEFAULT '',
    consecutive_failures INTEGER NOT NULL DEFAULT 0,
    total_found          INTEGER NOT NULL DEFAULT 0,
    total_added          INTEGER NOT NULL DEFAULT 0,
    total_updated        INTEGER NOT NULL DEFAULT 0,
    created_at           INTEGER NOT NULL,
    updated_at           INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_crawl_sources_due ON crawl_sources(enabled, needs_review, last_run_at);

-- Fetched bodies, immutable once written. A new hash supersedes, never overwrites.
CREATE TABLE IF NOT EXISTS raw_content (
    id            TEXT PRIMARY KEY,
    source_id     TEXT NOT NULL REFERENCES crawl_sources(id),
    url           TEXT NOT NULL,
    content_hash  TEXT NOT NULL,
    body          TEXT NOT NULL,
    format        TEXT NOT NULL DEFAULT 'markdown',
    status_code   INTEGER NOT NULL DEFAULT 0,
    size          INTEGER NOT NULL DEFAULT 0,
    fetched_at    INTEGER NOT NULL,
    last_seen_at  INTEGER NOT NULL,
    extracted_at  INTEGER,
    extract_note  TEXT NOT NULL DEFAULT '',
    UNIQUE(source_id, url, content_hash)
);
CREATE INDEX IF NOT EXISTS idx_raw_content_latest ON raw_content(source_id, url, last_seen_at DESC);

-- Deduplicated booths. No uniqueness on name/address: dedup decides identity.
CREATE TABLE IF NOT EXISTS booths (
    id               TEXT PRIMARY KEY,
    slug             TEXT NOT NULL UNIQUE,
    name             TEXT NOT NULL,
    address          TEXT,
    city             TEXT,
    region           TEXT,
    country          TEXT,
    postal_code      TEXT,
    latitude         REAL,
    longitude        REAL,
    phone            TEXT,
    website          TEXT,
    hours            TEXT,
    cost             TEXT,
    machine_model    TEXT,
    booth_type       TEXT,
    photo_type       TEXT,
    description      TEXT,
    status           TEXT NOT NULL DEFAULT 'active',
    norm_name        TEXT NOT NULL DEFAULT '',
    norm_city        TEXT NOT NULL DEFAULT '',
    norm_address     TEXT NOT NULL DEFAULT '',
    confidence       REAL NOT NULL DEFAULT 0,
    completeness     REAL NOT NULL DEFAULT 0,
    needs_review     INTEGER NOT NULL DEFAULT 0,
    review_notes     TEXT NOT NULL DEFAULT '',
    version          INTEGER NOT NULL DEFAULT 1,
    created_at       INTEGER NOT NULL,
    updated_at       INTEGER NOT NULL,
    last_verified_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_booths_name_city ON booths(norm_name, norm_city);
CREATE INDEX IF NOT EXISTS idx_booths_geo ON booths(latitude, longitude);
CREATE INDEX IF NOT EXISTS idx_booths_review ON booths(needs_review) WHERE needs_review = 1;
CREATE INDEX IF NOT EXISTS idx_booths_created ON booths(created_at DESC);

-- Which sources contributed to a booth. Appended, never replaced.
CREATE TABLE IF NOT EXISTS booth_provenance (
    booth_id      TEXT NOT NULL REFERENCES booths(id),
    source_id     TEXT NOT NULL,
    source_name   TEXT NOT NULL DEFAULT '',
    source_url    TEXT NOT NULL DEFAULT '',
    confidence    REAL NOT NULL DEFAULT 0,
    first_seen_at INTEGER NOT NULL,
    last_seen_at  INTEGER NOT NULL,
    PRIMARY KEY (booth_id, source_id, source_url)
);
CREATE INDEX IF NOT EXISTS idx_booth_provenance_source ON booth_provenance(source_id);

-- One row per source run. Append-only.
CREATE TABLE IF NOT EXISTS crawl_metrics (
    id              TEXT PRIMARY KEY,
    source_id       TEXT NOT NULL,
    started_at      INTEGER NOT NULL,
    completed_at    INTEGER NOT NULL,
    duration_ms     INTEGER NOT NULL DEFAULT 0,
    status          TEXT NOT NULL,
    failed_stage    TEXT NOT NULL DEFAULT '',
    attempts        INTEGER NOT NULL DEFAULT 0,
    pages           INTEGER NOT NULL DEFAULT 0,
    unchanged_pages INTEGER NOT NULL DEFAULT 0,
    found           INTEGER NOT NULL DEFAULT 0,
    added           INTEGER NOT NULL DEFAULT 0,
    updated         INTEGER NOT NULL DEFAULT 0,
    skipped         INTEGER NOT NULL DEFAULT 0,
    rejected        INTEGER NOT NULL DEFAULT 0,
    needs_review    INTEGER NOT NULL DEFAULT 0,
    error_message   TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_crawl_metrics_source ON crawl_metrics(source_id, started_at DESC);
`

// ApplySchema creates all tables and indexes.
func (s *Store) ApplySchema(ctx context.Context) error {
	if _, err := s.DB.ExecContext(ctx, Schema); err != nil {
		return fmt.Errorf("store: apply schema: %w", err)
	}
	return nil
}
