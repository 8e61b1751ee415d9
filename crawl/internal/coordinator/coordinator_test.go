package coordinator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/hazyhaar/boothcrawl/crawl/internal/dedup"
	"github.com/hazyhaar/boothcrawl/crawl/internal/extract"
	"github.com/hazyhaar/boothcrawl/crawl/internal/fetch"
	"github.com/hazyhaar/boothcrawl/crawl/internal/persist"
	"github.com/hazyhaar/boothcrawl/crawl/internal/rawstore"
	"github.com/hazyhaar/boothcrawl/crawl/internal/store"
	"go.uber.org/goleak"
)

// fakeFetcher serves fixed pages per source.
type fakeFetcher struct {
	mu    sync.Mutex
	pages map[string][]fetch.Page
	errs  map[string]error
	block map[string]bool
	calls map[string]int
}

func newFakeFetcher() *fakeFetcher {
	return &fakeFetcher{
		pages: map[string][]fetch.Page{},
		errs:  map[string]error{},
		block: map[string]bool{},
		calls: map[string]int{},
	}
}

func (f *fakeFetcher) serve(sourceID string, bodies ...string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var pages []fetch.Page
	for i, b := range bodies {
		pages = append(pages, fetch.Page{
			URL: fmt.Sprintf("https://%s.example/%d", sourceID, i), Body: b,
			Format: fetch.FormatMarkdown, StatusCode: 200, FetchedAt: time.Now(),
		})
	}
	f.pages[sourceID] = pages
}

func (f *fakeFetcher) Fetch(ctx context.Context, req fetch.Request) (*fetch.Result, error) {
	f.mu.Lock()
	f.calls[req.SourceID]++
	err, block, pages := f.errs[req.SourceID], f.block[req.SourceID], f.pages[req.SourceID]
	f.mu.Unlock()
	if block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if err != nil {
		return nil, err
	}
	return &fetch.Result{Pages: pages}, nil
}

func (f *fakeFetcher) count(id string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[id]
}

// fakeModel answers with one booth named after the page URL.
type fakeModel struct {
	mu     sync.Mutex
	calls  int
	fail   int // transport failures before succeeding
	reply  func(p extract.Prompt) string
	always error
}

func (m *fakeModel) Complete(_ context.Context, p extract.Prompt) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	if m.always != nil {
		return "", m.always
	}
	if m.fail > 0 {
		m.fail--
		return "", errors.New("http 503 service unavailable")
	}
	if m.reply != nil {
		return m.reply(p), nil
	}
	return `[{"name":"Booth","city":"Berlin"}]`, nil
}

func (m *fakeModel) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// boothPerSource names the booth after the source host found in the prompt.
func boothPerSource(p extract.Prompt) string {
	for _, id := range []string{"a", "b", "c", "d", "bad"} {
		if strings.Contains(p.User, "https://"+id+".example/") {
			return fmt.Sprintf(`{"booths":[{"name":"Booth %s","city":"City %s","address":"%s Street 1"}]}`, id, id, id)
		}
	}
	return `[]`
}

type harness struct {
	st    *store.Store
	fetch *fakeFetcher
	model *fakeModel
	coord *Coordinator
}

func newHarness(t *testing.T, cfg Config) *harness {
	t.Helper()
	st, err := store.Open(context.Background(), ":memory:")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { st.Close() })
	return buildHarness(st, cfg)
}

func buildHarness(st *store.Store, cfg Config) *harness {
	if cfg.BackoffBase == 0 {
		cfg.BackoffBase = time.Millisecond
	}
	h := &harness{st: st, fetch: newFakeFetcher(), model: &fakeModel{}}
	h.coord = New(cfg, Deps{
		Store:     st,
		Fetcher:   h.fetch,
		Raw:       rawstore.New(st),
		Engine:    extract.NewEngine(h.model, extract.Config{}),
		Committer: persist.New(st, dedup.New(dedup.Config{}), nil),
	})
	return h
}

func (h *harness) source(t *testing.T, id string) *store.Source {
	t.Helper()
	ctx := context.Background()
	src, err := h.st.GetSource(ctx, id)
	if err != nil {
		t.Fatal(err)
	}
	if src == nil {
		src = &store.Source{
			ID: id, Name: "Source " + id, URLs: []string{"https://" + id + ".example/"},
			Strategy: extract.StrategyDirectory, FetchMode: fetch.ModeScrape,
			Health: store.Health{Enabled: true},
		}
		if err := h.st.UpsertSource(ctx, src); err != nil {
			t.Fatal(err)
		}
		src, _ = h.st.GetSource(ctx, id)
	}
	return src
}

func TestRunSource_IdempotentFetch(t *testing.T) {
	// WHAT: Re-running against unchanged content never calls the model again.
	// WHY: LLM calls are the most expensive step; the content hash guards them.
	h := newHarness(t, Config{})
	ctx := context.Background()
	h.fetch.serve("a", "Booth in Berlin, Kastanienallee 12")

	rep, err := h.coord.RunSource(ctx, h.source(t, "a"), RunOptions{}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if rep.Status != StatusSuccess || rep.Added != 1 || h.model.count() != 1 {
		t.Fatalf("first run = %+v, model calls %d", rep, h.model.count())
	}

	rep, _ = h.coord.RunSource(ctx, h.source(t, "a"), RunOptions{}, nil)
	if h.model.count() != 1 {
		t.Errorf("model called again on unchanged content: %d", h.model.count())
	}
	if rep.Status != StatusSuccess || rep.UnchangedPages != 1 || rep.Added+rep.Updated != 0 {
		t.Errorf("second run = %+v", rep)
	}

	// Force re-extracts; the booth is already known, so nothing is written.
	rep, _ = h.coord.RunSource(ctx, h.source(t, "a"), RunOptions{Force: true}, nil)
	if h.model.count() != 2 || rep.Skipped != 1 || rep.Status != StatusSuccess {
		t.Errorf("forced run = %+v, model calls %d", rep, h.model.count())
	}

	// Replay uses stored content without fetching.
	before := h.fetch.count("a")
	rep, _ = h.coord.RunSource(ctx, h.source(t, "a"), RunOptions{Replay: true}, nil)
	if h.fetch.count("a") != before || h.model.count() != 3 || rep.Pages != 1 {
		t.Errorf("replay = %+v, fetch calls %d", rep, h.fetch.count("a"))
	}

	if n, _ := h.st.CountBooths(ctx); n != 1 {
		t.Errorf("booths = %d, want 1", n)
	}
	metrics, _ := h.st.ListMetrics(ctx, "a", 10)
	if len(metrics) != 4 {
		t.Errorf("metric rows = %d, want 4", len(metrics))
	}
	src := h.source(t, "a")
	if src.TotalAdded != 1 || src.ConsecutiveFailures != 0 || src.LastSuccessAt == nil {
		t.Errorf("health = %+v", src.Health)
	}
}

func TestRunBatch_FailureIsolation(t *testing.T) {
	// WHAT: One source whose fetch always fails does not affect the others.
	// WHY: Failure isolation is per source, not per batch.
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	st, err := store.Open(context.Background(), ":memory:")
	if err != nil {
		t.Fatal(err)
	}
	defer st.Close()
	h := buildHarness(st, Config{Workers: 3})
	h.model.reply = boothPerSource

	var sources []*store.Source
	for _, id := range []string{"a", "b", "bad", "c", "d"} {
		h.fetch.serve(id, "listing for "+id)
		sources = append(sources, h.source(t, id))
	}
	h.fetch.errs["bad"] = &fetch.FetchError{URL: "https://bad.example/", StatusCode: 503, Kind: fetch.KindStatus}

	var mu sync.Mutex
	var events []Event
	sink := func(e Event) {
		mu.Lock()
		events = append(events, e)
		mu.Unlock()
	}

	sum, err := h.coord.RunBatch(context.Background(), sources, RunOptions{}, sink)
	if err != nil {
		t.Fatalf("batch err = %v", err)
	}
	if sum.ByStatus[StatusSuccess] != 4 || sum.ByStatus[StatusError] != 1 || sum.Added != 4 {
		t.Errorf("summary = %+v", sum)
	}
	for _, rep := range sum.Reports {
		switch rep.SourceID {
		case "bad":
			if rep.FailedStage != Fetching || rep.Attempts != 3 || h.fetch.count("bad") != 3 {
				t.Errorf("bad report = %+v, fetch calls %d", rep, h.fetch.count("bad"))
			}
		default:
			if rep.Status != StatusSuccess || rep.Added != 1 {
				t.Errorf("%s report = %+v", rep.SourceID, rep)
			}
		}
	}
	if bad := h.source(t, "bad"); bad.ConsecutiveFailures != 1 || !bad.Enabled {
		t.Errorf("bad health = %+v", bad.Health)
	}

	mu.Lock()
	last := events[len(events)-1]
	mu.Unlock()
	if last.Type != EventSummary || last.Summary != sum {
		t.Errorf("last event = %+v", last)
	}
}

func TestRunSource_ThresholdDisables(t *testing.T) {
	// WHAT: A source failing FailureThreshold runs in a row is disabled for review.
	// WHY: Broken sources must not be retried forever.
	h := newHarness(t, Config{FailureThreshold: 2})
	ctx := context.Background()
	h.fetch.errs["a"] = &fetch.FetchError{URL: "https://a.example/", StatusCode: 404, Kind: fetch.KindStatus}

	rep, _ := h.coord.RunSource(ctx, h.source(t, "a"), RunOptions{}, nil)
	if rep.Attempts != 1 {
		t.Errorf("404 retried: attempts = %d", rep.Attempts)
	}
	if src := h.source(t, "a"); !src.Enabled || src.ConsecutiveFailures != 1 {
		t.Fatalf("after 1 failure: %+v", src.Health)
	}
	h.coord.RunSource(ctx, h.source(t, "a"), RunOptions{}, nil)
	src := h.source(t, "a")
	if src.Enabled || !src.NeedsReview || src.State() != "review" {
		t.Errorf("after 2 failures: %+v", src.Health)
	}
	due, _ := h.st.DueSources(ctx, time.Now().Add(48*time.Hour).UnixMilli())
	if len(due) != 0 {
		t.Errorf("disabled source still due")
	}
}

func TestRunSource_HealthBuildsOnStoredRow(t *testing.T) {
	// WHAT: Health is computed from the stored row at the end of the run, not
	// from the source as loaded when the run started.
	// WHY: An operator may disable or reset a source while it runs.
	h := newHarness(t, Config{FailureThreshold: 5})
	ctx := context.Background()
	h.fetch.serve("a", "Booth in Berlin, Kastanienallee 12")

	loaded := h.source(t, "a")
	h.st.SetSourceEnabled(ctx, "a", false)
	if _, err := h.coord.RunSource(ctx, loaded, RunOptions{}, nil); err != nil {
		t.Fatal(err)
	}
	if src := h.source(t, "a"); src.Enabled || src.LastRunAt == nil || src.TotalAdded != 1 {
		t.Errorf("disable during run lost: %+v", src.Health)
	}

	h.fetch.errs["b"] = &fetch.FetchError{URL: "https://b.example/", StatusCode: 404, Kind: fetch.KindStatus}
	h.source(t, "b")
	failed := store.Health{Enabled: true, ConsecutiveFailures: 3, LastStatus: StatusError}
	if err := h.st.SaveHealth(ctx, "b", failed); err != nil {
		t.Fatal(err)
	}
	loaded = h.source(t, "b")
	h.st.ResetSource(ctx, "b")
	h.coord.RunSource(ctx, loaded, RunOptions{}, nil)
	if src := h.source(t, "b"); src.ConsecutiveFailures != 1 || !src.Enabled {
		t.Errorf("reset during run lost: %+v", src.Health)
	}
}

func TestRunSource_Timeout(t *testing.T) {
	// WHAT: A run exceeding its deadline ends Failed with a timeout error.
	h := newHarness(t, Config{RunTimeout: 50 * time.Millisecond})
	h.fetch.block["a"] = true

	rep, err := h.coord.RunSource(context.Background(), h.source(t, "a"), RunOptions{}, nil)
	if err != nil {
		t.Fatalf("timeout must not be systemic: %v", err)
	}
	if rep.Status != StatusError || rep.Class != ClassTimeout || !strings.HasPrefix(rep.Error, "timeout:") {
		t.Errorf("report = %+v", rep)
	}
	if h.fetch.count("a") != 1 {
		t.Errorf("fetch retried after deadline: %d", h.fetch.count("a"))
	}
}

func TestConfig_RetryBounds(t *testing.T) {
	// WHAT: Retry counts keep an explicit zero and are clamped to their ceilings.
	cases := []struct {
		name           string
		fetch, extract *int
		wantF, wantE   int
	}{
		{"unset", nil, nil, 2, 1},
		{"zero", Retries(0), Retries(0), 0, 0},
		{"above ceiling", Retries(9), Retries(5), 2, 1},
		{"negative", Retries(-1), Retries(-3), 0, 0},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := New(Config{FetchRetries: tc.fetch, ExtractRetries: tc.extract}, Deps{}).Config()
			if *cfg.FetchRetries != tc.wantF || *cfg.ExtractRetries != tc.wantE {
				t.Errorf("retries = %d/%d, want %d/%d", *cfg.FetchRetries, *cfg.ExtractRetries, tc.wantF, tc.wantE)
			}
		})
	}
}

func TestRunSource_ZeroRetries(t *testing.T) {
	// WHAT: With retries set to zero a transient failure is attempted exactly once.
	h := newHarness(t, Config{FetchRetries: Retries(0), ExtractRetries: Retries(0)})
	ctx := context.Background()
	h.fetch.errs["a"] = &fetch.FetchError{URL: "https://a.example/", StatusCode: 503, Kind: fetch.KindStatus}

	rep, _ := h.coord.RunSource(ctx, h.source(t, "a"), RunOptions{}, nil)
	if rep.Attempts != 1 || h.fetch.count("a") != 1 {
		t.Errorf("fetch attempts = %d, calls %d", rep.Attempts, h.fetch.count("a"))
	}

	h.fetch.serve("b", "Booth page")
	h.model.fail = 1
	rep, _ = h.coord.RunSource(ctx, h.source(t, "b"), RunOptions{}, nil)
	if rep.FailedStage != Extracting || h.model.count() != 1 {
		t.Errorf("extract run = %+v, calls %d", rep, h.model.count())
	}
}

func TestRunSource_ExtractionRetry(t *testing.T) {
	// WHAT: A model transport failure is retried once; a persistent one leaves content pending.
	// WHY: Pending content must be extracted by the next run even though its hash is unchanged.
	h := newHarness(t, Config{})
	ctx := context.Background()
	h.fetch.serve("a", "Booth page")

	h.model.fail = 1
	rep, _ := h.coord.RunSource(ctx, h.source(t, "a"), RunOptions{}, nil)
	if rep.Status != StatusSuccess || h.model.count() != 2 {
		t.Fatalf("retry run = %+v, calls %d", rep, h.model.count())
	}

	h.fetch.serve("b", "Other page")
	h.model.always = errors.New("http 502 bad gateway")
	rep, _ = h.coord.RunSource(ctx, h.source(t, "b"), RunOptions{}, nil)
	if rep.Status != StatusError || rep.FailedStage != Extracting || h.model.count() != 4 {
		t.Fatalf("failing run = %+v, calls %d", rep, h.model.count())
	}

	h.model.always = nil
	rep, _ = h.coord.RunSource(ctx, h.source(t, "b"), RunOptions{}, nil)
	if rep.Added != 1 || rep.UnchangedPages != 0 {
		t.Errorf("pending content not re-extracted: %+v", rep)
	}
}

func TestRunSource_ParseFailureNotRetried(t *testing.T) {
	h := newHarness(t, Config{})
	ctx := context.Background()
	h.fetch.serve("a", "page")
	h.model.reply = func(extract.Prompt) string { return "I could not find any booths." }

	rep, _ := h.coord.RunSource(ctx, h.source(t, "a"), RunOptions{}, nil)
	if h.model.count() != 1 || rep.ParseFailures != 1 || rep.Status != StatusPartial {
		t.Errorf("report = %+v, calls %d", rep, h.model.count())
	}
	rep, _ = h.coord.RunSource(ctx, h.source(t, "a"), RunOptions{}, nil)
	if h.model.count() != 1 || rep.UnchangedPages != 1 {
		t.Errorf("parse failure re-extracted: %+v", rep)
	}
}

func TestRunSource_ConfigurationError(t *testing.T) {
	// WHAT: A source with an unusable configuration goes straight to review.
	h := newHarness(t, Config{})
	src := h.source(t, "a")
	src.Strategy = "telepathy"

	rep, err := h.coord.RunSource(context.Background(), src, RunOptions{}, nil)
	if err != nil {
		t.Fatalf("configuration error must stay source-level: %v", err)
	}
	if rep.Class != ClassConfig || h.fetch.count("a") != 0 {
		t.Errorf("report = %+v", rep)
	}
	if got := h.source(t, "a"); got.Enabled || !got.NeedsReview {
		t.Errorf("health = %+v", got.Health)
	}
}

func TestRunBatch_SystemicAborts(t *testing.T) {
	// WHAT: A missing scrape service aborts the batch; unstarted sources are aborted without penalty.
	// WHY: Systemic problems are not any one source's fault.
	h := newHarness(t, Config{Workers: 1})
	h.fetch.errs["a"] = fmt.Errorf("scrape: %w", fetch.ErrNotConfigured)
	h.fetch.serve("b", "page")
	sources := []*store.Source{h.source(t, "a"), h.source(t, "b")}

	sum, err := h.coord.RunBatch(context.Background(), sources, RunOptions{}, nil)
	if !errors.Is(err, ErrSystemic) {
		t.Fatalf("err = %v, want ErrSystemic", err)
	}
	if !sum.Aborted || sum.ByStatus[StatusAborted] != 1 || sum.ByStatus[StatusError] != 1 {
		t.Errorf("summary = %+v", sum)
	}
	if h.fetch.count("b") != 0 {
		t.Error("source b ran after abort")
	}
	if b := h.source(t, "b"); b.LastRunAt != nil || b.ConsecutiveFailures != 0 {
		t.Errorf("aborted source health changed: %+v", b.Health)
	}
}

func TestNextHealth(t *testing.T) {
	now := int64(1000)
	base := store.Health{Enabled: true, ConsecutiveFailures: 2, TotalAdded: 5}
	tests := []struct {
		name   string
		rep    Report
		check  func(h store.Health) bool
		review bool
	}{
		{"success resets", Report{Status: StatusSuccess, Added: 3}, func(h store.Health) bool {
			return h.ConsecutiveFailures == 0 && *h.LastSuccessAt == now && h.TotalAdded == 8
		}, false},
		{"partial resets", Report{Status: StatusPartial, Error: "1 rejected"}, func(h store.Health) bool {
			return h.ConsecutiveFailures == 0 && h.LastError == "1 rejected"
		}, false},
		{"failure below threshold", Report{Status: StatusError, Error: "boom"}, func(h store.Health) bool {
			return h.ConsecutiveFailures == 3 && h.Enabled && h.LastSuccessAt == nil
		}, false},
		{"config error", Report{Status: StatusError, Class: ClassConfig, Error: "no urls"}, func(h store.Health) bool {
			return !h.Enabled && strings.Contains(h.ReviewReason, "configuration")
		}, true},
		{"aborted untouched", Report{Status: StatusAborted}, func(h store.Health) bool {
			return h.LastRunAt == nil && h.ConsecutiveFailures == 2
		}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := NextHealth(base, &tt.rep, now, 5)
			if !tt.check(got) || got.NeedsReview != tt.review {
				t.Errorf("health = %+v", got)
			}
		})
	}
	if h := NextHealth(store.Health{Enabled: true, ConsecutiveFailures: 4}, &Report{Status: StatusError}, now, 5); h.Enabled || !h.NeedsReview {
		t.Errorf("threshold not applied: %+v", h)
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		err  error
		want Class
	}{
		{&fetch.FetchError{Kind: fetch.KindStatus, StatusCode: 503}, ClassTransient},
		{&fetch.FetchError{Kind: fetch.KindStatus, StatusCode: 429}, ClassTransient},
		{&fetch.FetchError{Kind: fetch.KindStatus, StatusCode: 404}, ClassPermanent},
		{&fetch.FetchError{Kind: fetch.KindEmpty}, ClassPermanent},
		{&fetch.FetchError{Kind: fetch.KindTimeout, Err: context.DeadlineExceeded}, ClassTimeout},
		{&extract.ExtractionError{Transport: true, Err: errors.New("anthropic: status code 529")}, ClassTransient},
		{&extract.ExtractionError{Transport: true, Err: errors.New("anthropic: 401 invalid x-api-key")}, ClassPermanent},
		{&extract.ExtractionError{Transport: true, Err: errors.New("read: connection reset by peer")}, ClassTransient},
		{fmt.Errorf("fetch: %w", fetch.ErrNotConfigured), ClassSystemic},
		{extract.ErrNoModel, ClassSystemic},
		{errors.New("sql: database is closed"), ClassSystemic},
		{fetch.ErrUnknownMode, ClassConfig},
		{&ConfigurationError{SourceID: "x", Reason: "no urls"}, ClassConfig},
		{context.Canceled, ClassCanceled},
	}
	for _, tt := range tests {
		if got := Classify(tt.err); got != tt.want {
			t.Errorf("Classify(%v) = %s, want %s", tt.err, got, tt.want)
		}
	}
}

func TestStateTransitions(t *testing.T) {
	path := []State{Pending, Fetching, Extracting, Validating, Resolving, Committing, Resolving, Committing, PartiallySucceeded}
	for i := 1; i < len(path); i++ {
		if !path[i-1].CanTransition(path[i]) {
			t.Errorf("%s -> %s rejected", path[i-1], path[i])
		}
	}
	if Fetching.CanTransition(Committing) || Succeeded.CanTransition(Fetching) {
		t.Error("illegal transition accepted")
	}
	// A run whose last record fails to resolve concludes from Resolving.
	for _, to := range []State{Succeeded, PartiallySucceeded, Failed} {
		if !Resolving.CanTransition(to) {
			t.Errorf("%s -> %s rejected", Resolving, to)
		}
	}
	if !Failed.Terminal() || Committing.Terminal() {
		t.Error("Terminal mismatch")
	}
}
