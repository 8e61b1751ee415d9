// CLAUDE:SUMMARY Retry & metrics coordinator: bounded worker pool over due sources, per-source state machine, retry/backoff, health and metric rows.
// Package coordinator runs crawl sources through the pipeline
// fetch → raw store → extract → validate → resolve → commit.
//
// Each source is an independent unit of work with its own deadline. Failures
// are contained to the source; only systemic errors (store unavailable,
// missing scrape service or model) cancel the rest of the batch.
package coordinator

import (
	"cmp"
	"context"
	"errors"
	"log/slog"
	"slices"
	"time"

	"github.com/hazyhaar/boothcrawl/crawl/internal/extract"
	"github.com/hazyhaar/boothcrawl/crawl/internal/fetch"
	"github.com/hazyhaar/boothcrawl/crawl/internal/persist"
	"github.com/hazyhaar/boothcrawl/crawl/internal/rawstore"
	"github.com/hazyhaar/boothcrawl/crawl/internal/store"
	"github.com/hazyhaar/boothcrawl/idgen"
	"golang.org/x/sync/errgroup"
)

// Config configures the coordinator.
type Config struct {
	// Workers bounds concurrent source runs. Default: 4.
	Workers int `yaml:"workers"`
	// RunTimeout is the deadline of one source run. Default: 10 minutes.
	RunTimeout time.Duration `yaml:"run_timeout"`
	// FetchRetries is the number of retries after a transient fetch failure.
	// Nil means the default of 2, which is also the ceiling. Zero disables retries.
	FetchRetries *int `yaml:"fetch_retries"`
	// ExtractRetries is the number of retries after a model transport failure.
	// Nil means the default of 1, which is also the ceiling. Zero disables retries.
	ExtractRetries *int `yaml:"extract_retries"`
	// BackoffBase is the first retry delay, doubled per attempt. Default: 2s.
	BackoffBase time.Duration `yaml:"backoff_base"`
	// BackoffMax caps a single retry delay. Default: 30s.
	BackoffMax time.Duration `yaml:"backoff_max"`
	// FailureThreshold disables a source after this many consecutive failed runs. Default: 5.
	FailureThreshold int `yaml:"failure_threshold"`
}

func (c *Config) defaults() {
	if c.Workers <= 0 {
		c.Workers = 4
	}
	if c.RunTimeout <= 0 {
		c.RunTimeout = 10 * time.Minute
	}
	c.FetchRetries = retries(c.FetchRetries, maxFetchRetries)
	c.ExtractRetries = retries(c.ExtractRetries, maxExtractRetries)
	if c.BackoffBase <= 0 {
		c.BackoffBase = 2 * time.Second
	}
	if c.BackoffMax <= 0 {
		c.BackoffMax = 30 * time.Second
	}
	if c.FailureThreshold <= 0 {
		c.FailureThreshold = 5
	}
}

const (
	maxFetchRetries   = 2
	maxExtractRetries = 1
)

// Retries returns a retry count for Config.
func Retries(n int) *int { return &n }

// retries resolves a configured retry count: nil takes the ceiling and
// anything else is clamped to [0, ceiling].
func retries(n *int, ceiling int) *int {
	v := ceiling
	if n != nil {
		v = min(max(*n, 0), ceiling)
	}
	return &v
}

// Deps are the pipeline stages the coordinator drives.
type Deps struct {
	Store     *store.Store
	Fetcher   fetch.Fetcher
	Raw       *rawstore.Store
	Engine    *extract.Engine
	Committer *persist.Committer
	Logger    *slog.Logger
}

// RunOptions alter a run.
type RunOptions struct {
	// Force re-extracts content whose hash is unchanged.
	Force bool `json:"force"`
	// Replay extracts the latest stored content without fetching.
	Replay bool `json:"replay"`
}

// Coordinator runs sources.
type Coordinator struct {
	cfg    Config
	deps   Deps
	logger *slog.Logger
	now    func() time.Time
	sleep  func(ctx context.Context, d time.Duration) error
}

// New creates a Coordinator.
func New(cfg Config, deps Deps) *Coordinator {
	cfg.defaults()
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Coordinator{cfg: cfg, deps: deps, logger: logger, now: time.Now, sleep: sleepCtx}
}

// Config returns the effective settings.
func (c *Coordinator) Config() Config { return c.cfg }

// RunBatch runs sources with bounded parallelism and returns the aggregated
// summary. A systemic error cancels sources not yet finished; they are
// reported as aborted and the error is returned alongside the summary.
func (c *Coordinator) RunBatch(ctx context.Context, sources []*store.Source, opts RunOptions, sink Sink) (*Summary, error) {
	col := newCollector(c.now())
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.cfg.Workers)

	for _, src := range sources {
		g.Go(func() error {
			rep, err := c.RunSource(gctx, src, opts, sink)
			col.add(rep)
			return err
		})
	}
	err := g.Wait()
	if err != nil {
		c.logger.Error("coordinator: batch aborted", "error", err)
	}

	sum := col.finish(c.now(), err)
	slices.SortFunc(sum.Reports, func(a, b *Report) int { return cmp.Compare(a.SourceID, b.SourceID) })
	sink.emit(Event{Type: EventSummary, Summary: sum})
	c.logger.Info("coordinator: batch done",
		"sources", sum.Sources, "by_status", sum.ByStatus,
		"added", sum.Added, "updated", sum.Updated, "duration_ms", sum.DurationMs)
	return sum, err
}

// RunSource runs one source to a terminal state and records its metric and
// health. The Report is always non-nil; the error is non-nil only for
// systemic failures that should stop a batch.
func (c *Coordinator) RunSource(parent context.Context, src *store.Source, opts RunOptions, sink Sink) (*Report, error) {
	start := c.now()
	r := &run{
		c:      c,
		src:    src,
		opts:   opts,
		sink:   sink,
		state:  Pending,
		seen:   map[State]bool{},
		logger: c.logger.With("source_id", src.ID),
		rep: &Report{
			SourceID:   src.ID,
			SourceName: src.Name,
			StartedAt:  start.UnixMilli(),
		},
	}

	var runErr error
	if err := parent.Err(); err != nil {
		runErr = err
	} else {
		sink.emit(Event{Type: EventSourceStarted, SourceID: src.ID, SourceName: src.Name})
		ctx, cancel := context.WithTimeout(parent, c.cfg.RunTimeout)
		runErr = r.execute(ctx)
		cancel()
	}
	r.conclude(parent, runErr)
	r.rep.DurationMs = c.now().Sub(start).Milliseconds()

	c.record(parent, src, r.rep)

	sink.emit(Event{
		Type: EventSourceFinished, SourceID: src.ID, SourceName: src.Name,
		Stage: r.rep.State, Message: r.rep.Status, Report: r.rep,
	})
	if r.rep.Class == ClassSystemic {
		if errors.Is(runErr, ErrSystemic) {
			return r.rep, runErr
		}
		return r.rep, errors.Join(ErrSystemic, runErr)
	}
	return r.rep, nil
}

// record writes the metric row and the next health. Bookkeeping outlives the
// run deadline and a cancelled caller.
func (c *Coordinator) record(parent context.Context, src *store.Source, rep *Report) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(parent), 10*time.Second)
	defer cancel()
	logger := c.logger.With("source_id", src.ID)

	m := &store.Metric{
		ID:             idgen.Metric(),
		SourceID:       src.ID,
		StartedAt:      rep.StartedAt,
		CompletedAt:    rep.StartedAt + rep.DurationMs,
		DurationMs:     rep.DurationMs,
		Status:         rep.Status,
		FailedStage:    string(rep.FailedStage),
		Attempts:       rep.Attempts,
		Pages:          rep.Pages,
		UnchangedPages: rep.UnchangedPages,
		Found:          rep.Found,
		Added:          rep.Added,
		Updated:        rep.Updated,
		Skipped:        rep.Skipped,
		Rejected:       rep.Rejected,
		NeedsReview:    rep.NeedsReview,
		ErrorMessage:   truncate(rep.Error, maxErrorLen),
	}
	if err := c.deps.Store.InsertMetric(ctx, m); err != nil {
		logger.Error("coordinator: record metric", "error", err)
	} else {
		rep.MetricID = m.ID
	}

	if rep.Status == StatusAborted {
		return
	}
	now := c.now().UnixMilli()
	prev, next, err := c.deps.Store.UpdateHealth(ctx, src.ID, func(h store.Health) store.Health {
		return NextHealth(h, rep, now, c.cfg.FailureThreshold)
	})
	if err != nil {
		logger.Error("coordinator: save health", "error", err)
		return
	}
	if next.NeedsReview && !prev.NeedsReview {
		logger.Warn("coordinator: source disabled for review",
			"reason", next.ReviewReason, "failures", next.ConsecutiveFailures)
	}
	src.Health = next
}

func (c *Coordinator) backoff(attempt int) time.Duration {
	d := c.cfg.BackoffBase << attempt
	if d <= 0 || d > c.cfg.BackoffMax {
		d = c.cfg.BackoffMax
	}
	return d
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
