package coordinator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/hazyhaar/boothcrawl/crawl/internal/extract"
	"github.com/hazyhaar/boothcrawl/crawl/internal/fetch"
	"github.com/hazyhaar/boothcrawl/crawl/internal/persist"
	"github.com/hazyhaar/boothcrawl/crawl/internal/rawstore"
	"github.com/hazyhaar/boothcrawl/crawl/internal/record"
	"github.com/hazyhaar/boothcrawl/crawl/internal/store"
	"github.com/hazyhaar/boothcrawl/crawl/internal/validate"
)

// run is the mutable state of one source run. It never outlives RunSource.
type run struct {
	c      *Coordinator
	src    *store.Source
	opts   RunOptions
	sink   Sink
	logger *slog.Logger

	state State
	seen  map[State]bool
	rep   *Report
	notes []string
}

// pending is one stored page awaiting extraction.
type pending struct {
	rawID  string
	url    string
	body   string
	format string
}

// extracted is a page whose extraction finished, successfully or not.
type extracted struct {
	rawID string
	note  string
}

func (r *run) enter(next State) {
	if r.state == next {
		return
	}
	if !r.state.CanTransition(next) {
		r.logger.Error("coordinator: invalid transition", "from", r.state, "to", next)
	}
	r.state = next
	if !next.Terminal() && !r.seen[next] {
		r.seen[next] = true
		r.sink.emit(Event{Type: EventStage, SourceID: r.src.ID, SourceName: r.src.Name, Stage: next})
	}
}

func (r *run) execute(ctx context.Context) error {
	if err := r.checkConfig(); err != nil {
		return err
	}

	pages, err := r.acquire(ctx)
	if err != nil {
		return err
	}
	if len(pages) == 0 {
		return nil
	}

	r.enter(Extracting)
	var cands []record.Candidate
	var done []extracted
	var lastErr error
	for _, p := range pages {
		ext, err := r.extract(ctx, p)
		if err != nil {
			if c := r.classify(ctx, err); c == ClassSystemic || c == ClassTimeout || c == ClassCanceled {
				return err
			}
			r.rep.FailedPages++
			r.note("extract %s: %v", p.url, err)
			lastErr = err
			continue
		}
		note := fmt.Sprintf("%d candidates", len(ext.Candidates))
		if ext.ParseErr != nil {
			r.rep.ParseFailures++
			note = "parse error: " + ext.ParseErr.Reason
			r.note("extract %s: %s", p.url, note)
		}
		cands = append(cands, ext.Candidates...)
		done = append(done, extracted{rawID: p.rawID, note: note})
	}
	if len(done) == 0 && lastErr != nil {
		return lastErr
	}
	r.rep.Found = len(cands)

	r.enter(Validating)
	valid := make([]record.Validated, 0, len(cands))
	for _, cand := range cands {
		v := validate.Validate(cand)
		v.SourceName = r.src.Name
		switch v.Verdict {
		case record.Rejected:
			r.rep.Rejected++
			r.logger.Debug("coordinator: candidate rejected", "name", cand.Name, "issues", v.Issues)
			continue
		case record.NeedsReview:
			r.rep.NeedsReview++
		}
		valid = append(valid, v)
	}

	for i := range valid {
		if err := r.commit(ctx, &valid[i]); err != nil {
			return err
		}
	}

	// Only now is a page's content fully processed; a run cut short leaves
	// its rows pending so the next run extracts them again.
	for _, d := range done {
		if err := r.c.deps.Raw.MarkExtracted(ctx, d.rawID, d.note); err != nil {
			return err
		}
	}
	return nil
}

func (r *run) checkConfig() error {
	switch {
	case len(r.src.URLs) == 0 && !r.opts.Replay:
		return &ConfigurationError{SourceID: r.src.ID, Reason: "no urls"}
	case !extract.ValidStrategy(r.src.Strategy):
		return &ConfigurationError{SourceID: r.src.ID, Reason: fmt.Sprintf("unknown strategy %q", r.src.Strategy)}
	}
	return nil
}

// acquire returns the pages to extract: freshly fetched content that changed
// (or all of it when forced), or the stored content when replaying.
func (r *run) acquire(ctx context.Context) ([]pending, error) {
	if r.opts.Replay {
		rows, err := r.c.deps.Raw.Latest(ctx, r.src.ID)
		if err != nil {
			return nil, err
		}
		out := make([]pending, 0, len(rows))
		for _, rc := range rows {
			out = append(out, pending{rawID: rc.ID, url: rc.URL, body: rc.Body, format: rc.Format})
		}
		r.rep.Pages = len(out)
		return out, nil
	}

	r.enter(Fetching)
	req := fetch.Request{
		SourceID:  r.src.ID,
		URLs:      r.src.URLs,
		Mode:      r.src.FetchMode,
		PageLimit: r.src.PageLimit,
	}
	var res *fetch.Result
	err := r.retry(ctx, *r.c.cfg.FetchRetries, func() error {
		var err error
		res, err = r.c.deps.Fetcher.Fetch(ctx, req)
		return err
	})
	if err != nil {
		return nil, err
	}
	for _, fe := range res.Failed {
		r.rep.FailedPages++
		r.note("%v", fe)
	}

	var out []pending
	for _, p := range res.Pages {
		put, err := r.c.deps.Raw.Put(ctx, r.src.ID, rawstore.Page{
			URL: p.URL, Body: p.Body, Format: p.Format, StatusCode: p.StatusCode, FetchedAt: p.FetchedAt,
		})
		if errors.Is(err, rawstore.ErrEmptyBody) {
			r.rep.FailedPages++
			r.note("fetch %s: empty body", p.URL)
			continue
		}
		if err != nil {
			return nil, err
		}
		r.rep.Pages++
		if put.Outcome == rawstore.Unchanged && !r.opts.Force {
			r.rep.UnchangedPages++
			continue
		}
		out = append(out, pending{rawID: put.ID, url: p.URL, body: p.Body, format: p.Format})
	}
	if r.rep.UnchangedPages > 0 {
		r.logger.Info("coordinator: unchanged content skipped", "pages", r.rep.UnchangedPages)
	}
	return out, nil
}

func (r *run) extract(ctx context.Context, p pending) (*extract.Extraction, error) {
	var ext *extract.Extraction
	err := r.retry(ctx, *r.c.cfg.ExtractRetries, func() error {
		var err error
		ext, err = r.c.deps.Engine.Extract(ctx, extract.Input{
			SourceID: r.src.ID, URL: p.url, Body: p.body, Format: p.format,
		}, r.src.Strategy)
		return err
	})
	return ext, err
}

// commit resolves and writes one record. Row-level failures are counted and
// the run continues; errors that end the run are returned.
func (r *run) commit(ctx context.Context, v *record.Validated) error {
	r.enter(Resolving)
	res, err := r.c.deps.Committer.Resolve(ctx, v)
	if err == nil {
		r.enter(Committing)
		var out *persist.Outcome
		out, err = r.c.deps.Committer.Commit(ctx, v, res)
		if err == nil {
			switch out.Kind {
			case persist.Inserted:
				r.rep.Added++
			case persist.Updated:
				r.rep.Updated++
			default:
				r.rep.Skipped++
			}
			return nil
		}
	}
	switch r.classify(ctx, err) {
	case ClassSystemic, ClassTimeout, ClassCanceled:
		return err
	}
	r.rep.CommitErrors++
	r.note("commit %q: %v", v.Name, err)
	r.logger.Warn("coordinator: commit failed", "name", v.Name, "error", err)
	return nil
}

// retry runs op, retrying transient failures up to retries times with
// exponential backoff.
func (r *run) retry(ctx context.Context, retries int, op func() error) error {
	for attempt := 0; ; attempt++ {
		r.rep.Attempts++
		err := op()
		if err == nil {
			return nil
		}
		if r.classify(ctx, err) != ClassTransient || attempt >= retries {
			return err
		}
		delay := r.c.backoff(attempt)
		r.logger.Info("coordinator: retrying", "stage", r.state, "attempt", attempt+1, "delay", delay, "error", err)
		r.sink.emit(Event{
			Type: EventRetry, SourceID: r.src.ID, SourceName: r.src.Name,
			Stage: r.state, Attempt: attempt + 1, Message: err.Error(),
		})
		if err := r.c.sleep(ctx, delay); err != nil {
			return err
		}
	}
}

// classify is Classify with the run's own deadline taken into account: a
// deadline error while the run still has time left came from a single
// request timing out and is worth another attempt.
func (r *run) classify(ctx context.Context, err error) Class {
	c := Classify(err)
	if c == ClassTimeout && ctx.Err() == nil {
		return ClassTransient
	}
	return c
}

func (r *run) note(format string, args ...any) {
	r.notes = append(r.notes, fmt.Sprintf(format, args...))
}

// conclude moves the run to its terminal state and fills the report.
func (r *run) conclude(parent context.Context, err error) {
	rep := r.rep
	if err != nil {
		if errors.Is(parent.Err(), context.Canceled) {
			rep.State, rep.Status, rep.Class = r.state, StatusAborted, ClassCanceled
			rep.Error = "aborted: " + err.Error()
			r.logger.Info("coordinator: source aborted", "stage", r.state)
			return
		}
		class := Classify(err)
		if class == ClassCanceled {
			// Cancelled without the caller being cancelled: the run deadline.
			class = ClassTimeout
		}
		rep.FailedStage = r.state
		rep.Class = class
		r.enter(Failed)
		rep.State, rep.Status = Failed, StatusError
		msg := err.Error()
		if class == ClassTimeout {
			msg = "timeout: " + msg
		}
		rep.Error = strings.Join(append([]string{msg}, r.notes...), "; ")
		r.logger.Warn("coordinator: source failed", "stage", rep.FailedStage, "class", class, "error", err)
		return
	}

	committed := rep.Added + rep.Updated
	dropped := rep.Rejected + rep.FailedPages + rep.ParseFailures + rep.CommitErrors
	final := Succeeded
	if (committed > 0 && dropped+rep.Skipped > 0) || (committed == 0 && dropped > 0) {
		final = PartiallySucceeded
	}
	r.enter(final)
	rep.State, rep.Status = final, statusOf(final)
	rep.Error = strings.Join(r.notes, "; ")
	r.logger.Info("coordinator: source done", "status", rep.Status,
		"pages", rep.Pages, "unchanged", rep.UnchangedPages, "found", rep.Found,
		"added", rep.Added, "updated", rep.Updated, "skipped", rep.Skipped, "rejected", rep.Rejected)
}
