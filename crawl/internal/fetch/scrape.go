// CLAUDE:SUMMARY Scrape-service client: synchronous /v1/scrape per URL and asynchronous /v1/crawl jobs with polling and pagination.
package fetch

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// ScrapeConfig configures the scrape service client.
type ScrapeConfig struct {
	Endpoint     string        // base URL, e.g. https://api.scrape.example
	APIKey       string        // sent as Bearer token when set
	Timeout      time.Duration // per HTTP call. Default: 60s.
	PollInterval time.Duration // crawl job polling. Default: 2s.
	MaxBytes     int64         // response body cap. Default: 20MB.
	Logger       *slog.Logger
}

func (c *ScrapeConfig) defaults() {
	c.Endpoint = strings.TrimRight(c.Endpoint, "/")
	if c.Timeout <= 0 {
		c.Timeout = 60 * time.Second
	}
	if c.PollInterval <= 0 {
		c.PollInterval = 2 * time.Second
	}
	if c.MaxBytes <= 0 {
		c.MaxBytes = 20 * 1024 * 1024
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Scrape talks to the external scrape service. Sync serves ModeScrape and
// Crawl serves ModeCrawl; both share one client.
type Scrape struct {
	client *http.Client
	cfg    ScrapeConfig
}

// NewScrape creates a scrape service client.
func NewScrape(cfg ScrapeConfig) *Scrape {
	cfg.defaults()
	return &Scrape{client: &http.Client{Timeout: cfg.Timeout}, cfg: cfg}
}

// Sync returns the Fetcher for synchronous single-page scrapes.
func (s *Scrape) Sync() Fetcher { return syncScrape{s} }

// Crawl returns the Fetcher for asynchronous crawl jobs.
func (s *Scrape) Crawl() Fetcher { return asyncCrawl{s} }

type scrapeRequest struct {
	URL             string   `json:"url"`
	Formats         []string `json:"formats"`
	OnlyMainContent bool     `json:"onlyMainContent"`
}

type crawlRequest struct {
	URL           string        `json:"url"`
	Limit         int           `json:"limit"`
	ScrapeOptions scrapeOptions `json:"scrapeOptions"`
}

type scrapeOptions struct {
	Formats []string `json:"formats"`
}

type document struct {
	Markdown string `json:"markdown"`
	HTML     string `json:"html"`
	Metadata struct {
		SourceURL  string `json:"sourceURL"`
		URL        string `json:"url"`
		StatusCode int    `json:"statusCode"`
	} `json:"metadata"`
}

type scrapeResponse struct {
	Success bool     `json:"success"`
	Error   string   `json:"error"`
	Data    document `json:"data"`
}

type crawlStartResponse struct {
	Success bool   `json:"success"`
	ID      string `json:"id"`
	Error   string `json:"error"`
}

type crawlStatusResponse struct {
	Status string     `json:"status"` // scraping | completed | failed | cancelled
	Total  int        `json:"total"`
	Data   []document `json:"data"`
	Next   string     `json:"next"`
	Error  string     `json:"error"`
}

type syncScrape struct{ s *Scrape }

func (f syncScrape) Fetch(ctx context.Context, req Request) (*Result, error) {
	if f.s.cfg.Endpoint == "" {
		return nil, ErrNotConfigured
	}
	return fetchEach(ctx, req, func(ctx context.Context, u string) (*Page, error) {
		start := time.Now()
		var resp scrapeResponse
		code, err := f.s.call(ctx, http.MethodPost, f.s.cfg.Endpoint+"/v1/scrape", u,
			scrapeRequest{URL: u, Formats: []string{req.Format}, OnlyMainContent: true}, &resp)
		if err != nil {
			return nil, err
		}
		if !resp.Success {
			return nil, &FetchError{URL: u, StatusCode: code, Kind: KindJob, Err: fmt.Errorf("%s", resp.Error)}
		}
		p, ok := toPage(resp.Data, u, req.Format)
		if !ok {
			if p.StatusCode >= 300 {
				return nil, &FetchError{URL: u, StatusCode: p.StatusCode, Kind: KindStatus}
			}
			return nil, &FetchError{URL: u, StatusCode: p.StatusCode, Kind: KindEmpty}
		}
		p.Duration = time.Since(start)
		return &p, nil
	})
}

type asyncCrawl struct{ s *Scrape }

// Fetch starts one crawl job per URL while under the page limit and polls
// each to completion. The job's own limit is set to the remaining budget.
func (f asyncCrawl) Fetch(ctx context.Context, req Request) (*Result, error) {
	if f.s.cfg.Endpoint == "" {
		return nil, ErrNotConfigured
	}
	res := &Result{}
	for _, u := range req.URLs {
		remaining := req.PageLimit - len(res.Pages)
		if remaining <= 0 {
			break
		}
		pages, err := f.crawlOne(ctx, u, req.Format, remaining)
		if err != nil {
			var fe *FetchError
			if !errors.As(err, &fe) {
				fe = transportError(ctx, u, err)
			}
			if ctx.Err() != nil {
				return nil, fe
			}
			res.Failed = append(res.Failed, fe)
			continue
		}
		res.Pages = append(res.Pages, pages...)
	}
	if len(res.Pages) > req.PageLimit {
		res.Pages = res.Pages[:req.PageLimit]
	}
	if len(res.Pages) == 0 && len(res.Failed) > 0 {
		return nil, res.Failed[0]
	}
	return res, nil
}

func (f asyncCrawl) crawlOne(ctx context.Context, u, format string, limit int) ([]Page, error) {
	log := f.s.cfg.Logger.With("url", u)
	start := time.Now()

	var started crawlStartResponse
	code, err := f.s.call(ctx, http.MethodPost, f.s.cfg.Endpoint+"/v1/crawl", u,
		crawlRequest{URL: u, Limit: limit, ScrapeOptions: scrapeOptions{Formats: []string{format}}}, &started)
	if err != nil {
		return nil, err
	}
	if !started.Success || started.ID == "" {
		return nil, &FetchError{URL: u, StatusCode: code, Kind: KindJob, Err: fmt.Errorf("crawl not started: %s", started.Error)}
	}
	log.Debug("fetch: crawl job started", "job_id", started.ID, "limit", limit)

	statusURL := f.s.cfg.Endpoint + "/v1/crawl/" + started.ID
	ticker := time.NewTicker(f.s.cfg.PollInterval)
	defer ticker.Stop()

	for {
		var st crawlStatusResponse
		if _, err := f.s.call(ctx, http.MethodGet, statusURL, u, nil, &st); err != nil {
			return nil, err
		}
		switch st.Status {
		case "completed":
			pages, err := f.collect(ctx, u, format, limit, st)
			if err != nil {
				return nil, err
			}
			for i := range pages {
				pages[i].Duration = time.Since(start)
			}
			log.Debug("fetch: crawl job completed", "job_id", started.ID, "pages", len(pages))
			return pages, nil
		case "failed", "cancelled":
			return nil, &FetchError{URL: u, Kind: KindJob, Err: fmt.Errorf("crawl job %s %s: %s", started.ID, st.Status, st.Error)}
		}

		select {
		case <-ctx.Done():
			return nil, transportError(ctx, u, ctx.Err())
		case <-ticker.C:
		}
	}
}

// collect gathers the documents of a completed job, following next links
// until the limit is reached or pagination ends.
func (f asyncCrawl) collect(ctx context.Context, u, format string, limit int, st crawlStatusResponse) ([]Page, error) {
	var pages []Page
	seen := make(map[string]bool)
	for {
		for _, d := range st.Data {
			if len(pages) >= limit {
				return pages, nil
			}
			if p, ok := toPage(d, u, format); ok {
				pages = append(pages, p)
			}
		}
		if st.Next == "" || len(pages) >= limit || seen[st.Next] {
			return pages, nil
		}
		seen[st.Next] = true
		next := st.Next
		st = crawlStatusResponse{}
		if _, err := f.s.call(ctx, http.MethodGet, next, u, nil, &st); err != nil {
			return nil, err
		}
	}
}

// call performs one JSON request against the scrape service. target is the
// crawl URL the call is about, used in errors.
func (s *Scrape) call(ctx context.Context, method, endpoint, target string, body, out any) (int, error) {
	var rd *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return 0, &FetchError{URL: target, Kind: KindDecode, Err: err}
		}
		rd = bytes.NewReader(data)
	}

	var req *http.Request
	var err error
	if rd != nil {
		req, err = http.NewRequestWithContext(ctx, method, endpoint, rd)
	} else {
		req, err = http.NewRequestWithContext(ctx, method, endpoint, nil)
	}
	if err != nil {
		return 0, &FetchError{URL: target, Kind: KindBlocked, Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	if s.cfg.APIKey != "" && s.sameOrigin(req.URL) {
		req.Header.Set("Authorization", "Bearer "+s.cfg.APIKey)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return 0, transportError(ctx, target, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return resp.StatusCode, &FetchError{URL: target, StatusCode: resp.StatusCode, Kind: KindStatus}
	}
	data, err := limitedReadAll(resp.Body, s.cfg.MaxBytes)
	if err != nil {
		return resp.StatusCode, &FetchError{URL: target, StatusCode: resp.StatusCode, Kind: KindDecode, Err: err}
	}
	if err := json.Unmarshal(data, out); err != nil {
		return resp.StatusCode, &FetchError{URL: target, StatusCode: resp.StatusCode, Kind: KindDecode, Err: err}
	}
	return resp.StatusCode, nil
}

// sameOrigin reports whether u points at the configured service. Pagination
// links come from the response body and may name any host; the key stays
// with the service.
func (s *Scrape) sameOrigin(u *url.URL) bool {
	base, err := url.Parse(s.cfg.Endpoint)
	if err != nil {
		return false
	}
	return strings.EqualFold(u.Scheme, base.Scheme) && strings.EqualFold(u.Host, base.Host)
}

// toPage converts a service document, reporting false for an empty body or
// an upstream non-2xx status.
func toPage(d document, fallbackURL, format string) (Page, bool) {
	p := Page{
		URL:        d.Metadata.SourceURL,
		Body:       d.Markdown,
		Format:     FormatMarkdown,
		StatusCode: d.Metadata.StatusCode,
		FetchedAt:  time.Now(),
	}
	if p.URL == "" {
		p.URL = d.Metadata.URL
	}
	if p.URL == "" {
		p.URL = fallbackURL
	}
	if format == FormatHTML || p.Body == "" {
		if d.HTML != "" {
			p.Body = d.HTML
			p.Format = FormatHTML
		}
	}
	if p.StatusCode == 0 {
		p.StatusCode = http.StatusOK
	}
	if p.StatusCode >= 300 || strings.TrimSpace(p.Body) == "" {
		return p, false
	}
	return p, true
}
