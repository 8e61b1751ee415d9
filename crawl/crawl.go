// CLAUDE:SUMMARY Main Service orchestrator: wires store, fetchers, extraction model, dedup, persistence, coordinator and scheduler; exposes the trigger and registry operations.
// Package crawl is the booth ingestion service. It keeps a registry of crawl
// sources, runs them through fetch, extraction, validation, deduplication
// and persistence, and exposes on-demand and scheduled runs over Go, HTTP
// (with server-sent progress events) and MCP.
package crawl

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/hazyhaar/boothcrawl/crawl/internal/coordinator"
	"github.com/hazyhaar/boothcrawl/crawl/internal/dedup"
	"github.com/hazyhaar/boothcrawl/crawl/internal/extract"
	"github.com/hazyhaar/boothcrawl/crawl/internal/fetch"
	"github.com/hazyhaar/boothcrawl/crawl/internal/persist"
	"github.com/hazyhaar/boothcrawl/crawl/internal/rawstore"
	"github.com/hazyhaar/boothcrawl/crawl/internal/scheduler"
	"github.com/hazyhaar/boothcrawl/crawl/internal/store"
)

// Service is the booth crawl orchestrator.
type Service struct {
	config    *Config
	store     *store.Store
	ownStore  bool
	fetcher   fetch.Fetcher
	browser   *fetch.Browser
	model     extract.Model
	coord     *coordinator.Coordinator
	scheduler *scheduler.Scheduler
	logger    *slog.Logger

	mu      sync.Mutex
	running map[string]bool
}

// ServiceOption configures a Service during creation.
type ServiceOption func(*Service)

// WithStore uses an already opened store instead of opening Config.DBPath.
// The caller keeps ownership and closes it.
func WithStore(s *store.Store) ServiceOption {
	return func(svc *Service) { svc.store = s }
}

// WithFetcher replaces the mode router built from Config.Fetch.
func WithFetcher(f fetch.Fetcher) ServiceOption {
	return func(svc *Service) { svc.fetcher = f }
}

// WithModel replaces the model built from Config.LLM.
func WithModel(m extract.Model) ServiceOption {
	return func(svc *Service) { svc.model = m }
}

// New creates a crawl Service. A missing LLM key or scrape endpoint is not an
// error here: runs that need them abort the batch as misconfigured.
func New(ctx context.Context, cfg *Config, logger *slog.Logger, opts ...ServiceOption) (*Service, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	cfg.defaults()
	if logger == nil {
		logger = slog.Default()
	}

	svc := &Service{config: cfg, logger: logger, running: make(map[string]bool)}
	for _, opt := range opts {
		opt(svc)
	}

	if svc.store == nil {
		st, err := store.Open(ctx, cfg.DBPath)
		if err != nil {
			return nil, err
		}
		svc.store, svc.ownStore = st, true
	}

	if svc.fetcher == nil {
		svc.fetcher = svc.buildRouter()
	}

	if svc.model == nil {
		m, err := extract.NewModel(ctx, cfg.LLM.Provider, extract.ModelConfig{
			APIKey:      cfg.LLM.APIKey,
			Model:       cfg.LLM.Model,
			MaxTokens:   cfg.LLM.MaxTokens,
			Temperature: cfg.LLM.Temperature,
		})
		if err != nil {
			logger.Warn("crawl: extraction model unavailable", "provider", cfg.LLM.Provider, "error", err)
		} else {
			svc.model = m
		}
	}

	engine := extract.NewEngine(svc.model, extract.Config{
		MaxInputChars: cfg.LLM.MaxInputChars,
		Logger:        logger,
	})
	committer := persist.New(svc.store, dedup.New(cfg.Dedup), logger)
	svc.coord = coordinator.New(cfg.Coordinator, coordinator.Deps{
		Store:     svc.store,
		Fetcher:   svc.fetcher,
		Raw:       rawstore.New(svc.store),
		Engine:    engine,
		Committer: committer,
		Logger:    logger,
	})

	svc.scheduler = scheduler.New(svc.store, func(ctx context.Context, sources []*store.Source) error {
		_, err := svc.runBatch(ctx, sources, RunOptions{}, nil)
		return err
	}, cfg.Scheduler, logger)

	return svc, nil
}

func (svc *Service) buildRouter() *fetch.Router {
	fc := svc.config.Fetch
	router := fetch.NewRouter(fc.PageLimit)

	scrape := fetch.NewScrape(fetch.ScrapeConfig{
		Endpoint:     fc.ScrapeEndpoint,
		APIKey:       fc.ScrapeAPIKey,
		Timeout:      fc.Timeout,
		PollInterval: fc.PollInterval,
		MaxBytes:     fc.MaxBytes,
		Logger:       svc.logger,
	})
	router.Register(fetch.ModeScrape, scrape.Sync())
	router.Register(fetch.ModeCrawl, scrape.Crawl())
	router.Register(fetch.ModeDirect, fetch.NewDirect(fetch.DirectConfig{
		Timeout:   fc.Timeout,
		MaxBytes:  fc.MaxBytes,
		UserAgent: fc.UserAgent,
	}))
	svc.browser = fetch.NewBrowser(fetch.BrowserConfig{
		RemoteURL:  fc.BrowserURL,
		NavTimeout: fc.BrowserTimeout,
		Logger:     svc.logger,
	})
	router.Register(fetch.ModeBrowser, svc.browser)
	return router
}

// Config returns the effective configuration.
func (svc *Service) Config() *Config { return svc.config }

// Start launches the background scheduler. Non-blocking.
func (svc *Service) Start(ctx context.Context) {
	go svc.scheduler.Run(ctx)
	svc.logger.Info("crawl: started", "model", svc.model != nil)
}

// Close releases the browser and the store when the Service opened it.
func (svc *Service) Close() error {
	var errs []error
	if svc.browser != nil {
		errs = append(errs, svc.browser.Close())
	}
	if svc.ownStore {
		errs = append(errs, svc.store.Close())
	}
	svc.logger.Info("crawl: closed")
	return errors.Join(errs...)
}

// --- Registry ---

// SeedSources upserts the given source declarations. Configuration fields
// are updated; health is preserved. Sources absent from the list are left
// untouched: sources are never deleted, only disabled.
func (svc *Service) SeedSources(ctx context.Context, decls []SourceConfig) (int, error) {
	n := 0
	for i, d := range decls {
		src := &store.Source{
			ID:        d.ID,
			Name:      d.Name,
			URLs:      d.URLs,
			Strategy:  d.Strategy,
			FetchMode: d.FetchMode,
			Priority:  d.Priority,
			CadenceMs: d.Cadence.Milliseconds(),
			PageLimit: d.PageLimit,
			Health:    store.Health{Enabled: d.Enabled == nil || *d.Enabled},
		}
		if err := svc.UpsertSource(ctx, src); err != nil {
			return n, fmt.Errorf("crawl: seed source %d (%s): %w", i, d.ID, err)
		}
		n++
	}
	if n > 0 {
		svc.logger.Info("crawl: sources seeded", "count", n)
	}
	return n, nil
}

// UpsertSource validates and stores a source's configuration.
func (svc *Service) UpsertSource(ctx context.Context, src *Source) error {
	if err := validateSource(src); err != nil {
		return err
	}
	return svc.store.UpsertSource(ctx, src)
}

// ListSources returns all sources, highest priority first.
func (svc *Service) ListSources(ctx context.Context) ([]*Source, error) {
	return svc.store.ListSources(ctx)
}

// GetSource returns a source or ErrSourceNotFound.
func (svc *Service) GetSource(ctx context.Context, id string) (*Source, error) {
	src, err := svc.store.GetSource(ctx, id)
	if err != nil {
		return nil, err
	}
	if src == nil {
		return nil, fmt.Errorf("%w: %s", ErrSourceNotFound, id)
	}
	return src, nil
}

// SourceHealth returns a source's operator state: ok, error, disabled,
// review or pending.
func (svc *Service) SourceHealth(ctx context.Context, id string) (string, error) {
	src, err := svc.GetSource(ctx, id)
	if err != nil {
		return "", err
	}
	return src.State(), nil
}

// ResetSource clears a source's failure count and review flag and enables it.
func (svc *Service) ResetSource(ctx context.Context, id string) (*Source, error) {
	ok, err := svc.store.ResetSource(ctx, id)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrSourceNotFound, id)
	}
	svc.logger.Info("crawl: source reset", "source_id", id)
	return svc.GetSource(ctx, id)
}

// SetSourceEnabled enables or disables a source.
func (svc *Service) SetSourceEnabled(ctx context.Context, id string, enabled bool) error {
	ok, err := svc.store.SetSourceEnabled(ctx, id, enabled)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: %s", ErrSourceNotFound, id)
	}
	return nil
}

// --- Runs ---

// RunSource runs one source now, regardless of its cadence. A disabled or
// review-flagged source runs only with opts.Force.
func (svc *Service) RunSource(ctx context.Context, id string, opts RunOptions, sink Sink) (*Summary, error) {
	src, err := svc.GetSource(ctx, id)
	if err != nil {
		return nil, err
	}
	if (!src.Enabled || src.NeedsReview) && !opts.Force {
		return nil, fmt.Errorf("%w: %s (%s)", ErrSourceDisabled, id, src.State())
	}
	if !svc.claim(id) {
		return nil, fmt.Errorf("%w: %s", ErrSourceBusy, id)
	}
	defer svc.release([]*store.Source{src})
	return svc.coord.RunBatch(ctx, []*store.Source{src}, opts, sink)
}

// RunDue runs every enabled source whose cadence has elapsed. Sources
// already running are skipped.
func (svc *Service) RunDue(ctx context.Context, opts RunOptions, sink Sink) (*Summary, error) {
	due, err := svc.store.DueSources(ctx, time.Now().UnixMilli())
	if err != nil {
		return nil, err
	}
	return svc.runBatch(ctx, due, opts, sink)
}

func (svc *Service) runBatch(ctx context.Context, sources []*store.Source, opts RunOptions, sink Sink) (*Summary, error) {
	claimed := sources[:0:0]
	for _, src := range sources {
		if svc.claim(src.ID) {
			claimed = append(claimed, src)
		} else {
			svc.logger.Info("crawl: source already running, skipped", "source_id", src.ID)
		}
	}
	defer svc.release(claimed)
	return svc.coord.RunBatch(ctx, claimed, opts, sink)
}

func (svc *Service) claim(id string) bool {
	svc.mu.Lock()
	defer svc.mu.Unlock()
	if svc.running[id] {
		return false
	}
	svc.running[id] = true
	return true
}

func (svc *Service) release(sources []*store.Source) {
	svc.mu.Lock()
	defer svc.mu.Unlock()
	for _, src := range sources {
		delete(svc.running, src.ID)
	}
}

// --- Read side ---

// ListBooths returns stored booths, newest first. needsReview filters by the
// review flag when non-nil.
func (svc *Service) ListBooths(ctx context.Context, limit, offset int, needsReview *bool) ([]*Booth, error) {
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	return svc.store.ListBooths(ctx, limit, offset, needsReview)
}

// GetBooth returns a booth with its provenance by slug, or ErrNotFound.
func (svc *Service) GetBooth(ctx context.Context, slug string) (*Booth, error) {
	b, err := svc.store.GetBoothBySlug(ctx, slug)
	if err != nil {
		return nil, err
	}
	if b == nil {
		return nil, fmt.Errorf("%w: booth %s", ErrNotFound, slug)
	}
	return b, nil
}

// SourceMetrics returns a source's most recent run records.
func (svc *Service) SourceMetrics(ctx context.Context, id string, limit int) ([]*Metric, error) {
	if _, err := svc.GetSource(ctx, id); err != nil {
		return nil, err
	}
	if limit <= 0 || limit > 500 {
		limit = 20
	}
	return svc.store.ListMetrics(ctx, id, limit)
}

// Stats returns aggregate counters.
func (svc *Service) Stats(ctx context.Context) (*Stats, error) {
	return svc.store.Stats(ctx)
}

// Ping checks the store.
func (svc *Service) Ping(ctx context.Context) error {
	return svc.store.Ping(ctx)
}
