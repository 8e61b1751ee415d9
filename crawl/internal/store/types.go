// CLAUDE:SUMMARY All store data types: Source, Health, RawContent, Booth, Provenance, Metric, Stats.
package store

import "github.com/hazyhaar/boothcrawl/crawl/internal/record"

// Source is a configured crawl target.
type Source struct {
	ID        string   `json:"id"`
	Name      string   `json:"name"`
	URLs      []string `json:"urls"`
	Strategy  string   `json:"strategy"`   // directory | venue | map | generic
	FetchMode string   `json:"fetch_mode"` // scrape | crawl | direct | browser
	Priority  int      `json:"priority"`
	CadenceMs int64    `json:"cadence_ms"`
	PageLimit int      `json:"page_limit"`
	CreatedAt int64    `json:"created_at"`
	UpdatedAt int64    `json:"updated_at"`
	Health
}

// Health is the mutable run state of a source. It is loaded with the source,
// recomputed by the coordinator at the end of a run and saved back whole.
type Health struct {
	Enabled             bool   `json:"enabled"`
	NeedsReview         bool   `json:"needs_review"`
	ReviewReason        string `json:"review_reason,omitempty"`
	LastRunAt           *int64 `json:"last_run_at,omitempty"`
	LastSuccessAt       *int64 `json:"last_success_at,omitempty"`
	LastStatus          string `json:"last_status"`
	LastError           string `json:"last_error,omitempty"`
	ConsecutiveFailures int    `json:"consecutive_failures"`
	TotalFound          int64  `json:"total_found"`
	TotalAdded          int64  `json:"total_added"`
	TotalUpdated        int64  `json:"total_updated"`
}

// State summarises health for operators: ok, error, disabled, review or pending.
func (h Health) State() string {
	switch {
	case h.NeedsReview:
		return "review"
	case !h.Enabled:
		return "disabled"
	case h.LastRunAt == nil:
		return "pending"
	case h.ConsecutiveFailures > 0:
		return "error"
	default:
		return "ok"
	}
}

// RawContent is one fetched body for a (source, url, hash).
type RawContent struct {
	ID          string `json:"id"`
	SourceID    string `json:"source_id"`
	URL         string `json:"url"`
	ContentHash string `json:"content_hash"`
	Body        string `json:"-"`
	Format      string `json:"format"`
	StatusCode  int    `json:"status_code"`
	Size        int    `json:"size"`
	FetchedAt   int64  `json:"fetched_at"`
	LastSeenAt  int64  `json:"last_seen_at"`
	ExtractedAt *int64 `json:"extracted_at,omitempty"`
	ExtractNote string `json:"extract_note,omitempty"`
}

// Booth is the durable, deduplicated record of one physical booth.
type Booth struct {
	ID   string `json:"id"`
	Slug string `json:"slug"`
	record.Fields

	NormName    string `json:"-"`
	NormCity    string `json:"-"`
	NormAddress string `json:"-"`

	Confidence     float64      `json:"confidence"`
	Completeness   float64      `json:"completeness"`
	NeedsReview    bool         `json:"needs_review"`
	ReviewNotes    string       `json:"review_notes,omitempty"`
	Version        int64        `json:"version"`
	CreatedAt      int64        `json:"created_at"`
	UpdatedAt      int64        `json:"updated_at"`
	LastVerifiedAt int64        `json:"last_verified_at"`
	Sources        []Provenance `json:"sources,omitempty"`
}

// Provenance records one source's contribution to a booth.
type Provenance struct {
	BoothID     string  `json:"-"`
	SourceID    string  `json:"source_id"`
	SourceName  string  `json:"source_name"`
	SourceURL   string  `json:"source_url"`
	Confidence  float64 `json:"confidence"`
	FirstSeenAt int64   `json:"first_seen_at"`
	LastSeenAt  int64   `json:"last_seen_at"`
}

// Metric is one source run record.
type Metric struct {
	ID             string `json:"id"`
	SourceID       string `json:"source_id"`
	StartedAt      int64  `json:"started_at"`
	CompletedAt    int64  `json:"completed_at"`
	DurationMs     int64  `json:"duration_ms"`
	Status         string `json:"status"`
	FailedStage    string `json:"failed_stage,omitempty"`
	Attempts       int    `json:"attempts"`
	Pages          int    `json:"pages"`
	UnchangedPages int    `json:"unchanged_pages"`
	Found          int    `json:"found"`
	Added          int    `json:"added"`
	Updated        int    `json:"updated"`
	Skipped        int    `json:"skipped"`
	Rejected       int    `json:"rejected"`
	NeedsReview    int    `json:"needs_review"`
	ErrorMessage   string `json:"error_message,omitempty"`
}

// Stats holds aggregate counters.
type Stats struct {
	Sources         int            `json:"sources"`
	EnabledSources  int            `json:"enabled_sources"`
	ReviewSources   int            `json:"review_sources"`
	Booths          int            `json:"booths"`
	ReviewBooths    int            `json:"review_booths"`
	RawContent      int            `json:"raw_content"`
	Runs            int            `json:"runs"`
	RunsByStatus    map[string]int `json:"runs_by_status"`
	AvgCompleteness float64        `json:"avg_completeness"`
}
