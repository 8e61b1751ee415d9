package coordinator

import (
	"sync"
	"time"
)

// Event types.
const (
	EventSourceStarted  = "source_started"
	EventStage          = "stage"
	EventRetry          = "retry"
	EventSourceFinished = "source_finished"
	EventSummary        = "summary"
)

// Event is one progress notification.
type Event struct {
	Type       string   `json:"type"`
	Time       int64    `json:"time"`
	SourceID   string   `json:"source_id,omitempty"`
	SourceName string   `json:"source_name,omitempty"`
	Stage      State    `json:"stage,omitempty"`
	Attempt    int      `json:"attempt,omitempty"`
	Message    string   `json:"message,omitempty"`
	Report     *Report  `json:"report,omitempty"`
	Summary    *Summary `json:"summary,omitempty"`
}

// Sink receives progress events. It is called from worker goroutines and
// must be safe for concurrent use; it should not block for long.
type Sink func(Event)

func (s Sink) emit(e Event) {
	if s == nil {
		return
	}
	if e.Time == 0 {
		e.Time = time.Now().UnixMilli()
	}
	s(e)
}

// Report is the result of one source run.
type Report struct {
	SourceID       string `json:"source_id"`
	SourceName     string `json:"source_name"`
	MetricID       string `json:"metric_id,omitempty"`
	Status         string `json:"status"`
	State          State  `json:"state"`
	FailedStage    State  `json:"failed_stage,omitempty"`
	Class          Class  `json:"error_class,omitempty"`
	Attempts       int    `json:"attempts"`
	Pages          int    `json:"pages"`
	UnchangedPages int    `json:"unchanged_pages"`
	FailedPages    int    `json:"failed_pages"`
	ParseFailures  int    `json:"parse_failures"`
	Found          int    `json:"found"`
	Added          int    `json:"added"`
	Updated        int    `json:"updated"`
	Skipped        int    `json:"skipped"`
	Rejected       int    `json:"rejected"`
	NeedsReview    int    `json:"needs_review"`
	CommitErrors   int    `json:"commit_errors"`
	StartedAt      int64  `json:"started_at"`
	DurationMs     int64  `json:"duration_ms"`
	Error          string `json:"error,omitempty"`
}

// Summary aggregates the reports of one batch.
type Summary struct {
	StartedAt   int64          `json:"started_at"`
	CompletedAt int64          `json:"completed_at"`
	DurationMs  int64          `json:"duration_ms"`
	Sources     int            `json:"sources"`
	ByStatus    map[string]int `json:"by_status"`
	Pages       int            `json:"pages"`
	Unchanged   int            `json:"unchanged_pages"`
	Found       int            `json:"found"`
	Added       int            `json:"added"`
	Updated     int            `json:"updated"`
	Skipped     int            `json:"skipped"`
	Rejected    int            `json:"rejected"`
	NeedsReview int            `json:"needs_review"`
	Aborted     bool           `json:"aborted"`
	Error       string         `json:"error,omitempty"`
	Reports     []*Report      `json:"reports"`
}

type collector struct {
	mu  sync.Mutex
	sum *Summary
}

func newCollector(start time.Time) *collector {
	return &collector{sum: &Summary{StartedAt: start.UnixMilli(), ByStatus: map[string]int{}}}
}

func (c *collector) add(r *Report) {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := c.sum
	s.Sources++
	s.ByStatus[r.Status]++
	s.Pages += r.Pages
	s.Unchanged += r.UnchangedPages
	s.Found += r.Found
	s.Added += r.Added
	s.Updated += r.Updated
	s.Skipped += r.Skipped
	s.Rejected += r.Rejected
	s.NeedsReview += r.NeedsReview
	s.Reports = append(s.Reports, r)
}

func (c *collector) finish(end time.Time, err error) *Summary {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := c.sum
	s.CompletedAt = end.UnixMilli()
	s.DurationMs = s.CompletedAt - s.StartedAt
	if err != nil {
		s.Aborted = true
		s.Error = err.Error()
	}
	return s
}
