// CLAUDE:SUMMARY Content fetcher contract: Request/Result/Page, FetchError taxonomy, mode Router with hard page limit.
// Package fetch retrieves raw page content for crawl sources.
//
// Four modes are supported, each behind the Fetcher interface:
//
//	scrape   synchronous call to the external scrape service, one URL at a time
//	crawl    asynchronous scrape-service crawl job, polled until done
//	direct   plain HTTP GET with SSRF guard, HTML converted to markdown
//	browser  headless Chrome render (rod + stealth), HTML converted to markdown
//
// The page limit in a Request is a hard ceiling: no Fetcher returns more pages.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"
)

// Fetch modes.
const (
	ModeScrape  = "scrape"
	ModeCrawl   = "crawl"
	ModeDirect  = "direct"
	ModeBrowser = "browser"
)

// Output formats.
const (
	FormatMarkdown = "markdown"
	FormatHTML     = "html"
)

// DefaultPageLimit applies when neither the request nor the router sets one.
const DefaultPageLimit = 20

// Request asks for the content of a source's URLs.
type Request struct {
	SourceID  string
	URLs      []string
	Mode      string
	Format    string // markdown (default) | html
	PageLimit int
}

// Page is one fetched document.
type Page struct {
	URL        string
	Body       string
	Format     string
	StatusCode int
	Duration   time.Duration
	FetchedAt  time.Time
}

// Result is the outcome of a fetch. Failed lists per-URL errors that did not
// prevent other pages from being returned.
type Result struct {
	Pages  []Page
	Failed []*FetchError
}

// Fetcher retrieves content for a request.
type Fetcher interface {
	Fetch(ctx context.Context, req Request) (*Result, error)
}

// ErrUnknownMode is returned by Router for a mode with no registered Fetcher.
var ErrUnknownMode = errors.New("fetch: unknown fetch mode")

// ErrNotConfigured is returned when a mode's backing service is not configured.
var ErrNotConfigured = errors.New("fetch: service not configured")

// ErrNoURLs is returned for a request without URLs.
var ErrNoURLs = errors.New("fetch: request has no urls")

// Kind classifies a fetch failure.
type Kind string

const (
	KindTimeout Kind = "timeout"
	KindNetwork Kind = "network"
	KindStatus  Kind = "status"
	KindEmpty   Kind = "empty_body"
	KindBlocked Kind = "blocked"
	KindJob     Kind = "job_failed"
	KindDecode  Kind = "decode"
)

// FetchError describes a failed fetch of one URL.
type FetchError struct {
	URL        string
	StatusCode int
	Kind       Kind
	Err        error
}

func (e *FetchError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "fetch %s: %s", e.URL, e.Kind)
	if e.StatusCode != 0 {
		fmt.Fprintf(&b, " (http %d)", e.StatusCode)
	}
	if e.Err != nil {
		fmt.Fprintf(&b, ": %v", e.Err)
	}
	return b.String()
}

func (e *FetchError) Unwrap() error { return e.Err }

// Retryable reports whether another attempt may succeed: timeouts, network
// errors, 5xx, 429 and failed crawl jobs. Other 4xx, empty bodies, blocked
// URLs and undecodable responses are permanent for this run.
func (e *FetchError) Retryable() bool {
	switch e.Kind {
	case KindTimeout, KindNetwork, KindJob:
		return true
	case KindStatus:
		return e.StatusCode >= 500 || e.StatusCode == 429
	default:
		return false
	}
}

// transportError wraps a client.Do failure into a FetchError.
func transportError(ctx context.Context, url string, err error) *FetchError {
	kind := KindNetwork
	var ne net.Error
	if errors.Is(err, context.DeadlineExceeded) || ctx.Err() == context.DeadlineExceeded ||
		(errors.As(err, &ne) && ne.Timeout()) {
		kind = KindTimeout
	}
	return &FetchError{URL: url, Kind: kind, Err: err}
}

// Router dispatches requests to a Fetcher by mode and enforces the page limit.
type Router struct {
	modes     map[string]Fetcher
	pageLimit int
}

// NewRouter creates a Router. defaultLimit applies to requests with no limit.
func NewRouter(defaultLimit int) *Router {
	if defaultLimit <= 0 {
		defaultLimit = DefaultPageLimit
	}
	return &Router{modes: make(map[string]Fetcher), pageLimit: defaultLimit}
}

// Register binds a Fetcher to a mode.
func (r *Router) Register(mode string, f Fetcher) {
	r.modes[mode] = f
}

// Supports reports whether mode has a registered Fetcher.
func (r *Router) Supports(mode string) bool {
	_, ok := r.modes[mode]
	return ok
}

// Fetch routes req to its mode's Fetcher.
func (r *Router) Fetch(ctx context.Context, req Request) (*Result, error) {
	f, ok := r.modes[req.Mode]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownMode, req.Mode)
	}
	if len(req.URLs) == 0 {
		return nil, ErrNoURLs
	}
	if req.PageLimit <= 0 {
		req.PageLimit = r.pageLimit
	}
	if req.Format == "" {
		req.Format = FormatMarkdown
	}
	res, err := f.Fetch(ctx, req)
	if err != nil {
		return nil, err
	}
	if len(res.Pages) > req.PageLimit {
		res.Pages = res.Pages[:req.PageLimit]
	}
	return res, nil
}

// fetchEach fetches req.URLs one by one, stopping at the page limit.
// It fails only when no page could be fetched.
func fetchEach(ctx context.Context, req Request, one func(ctx context.Context, url string) (*Page, error)) (*Result, error) {
	res := &Result{}
	for _, u := range req.URLs {
		if req.PageLimit > 0 && len(res.Pages) >= req.PageLimit {
			break
		}
		if err := ctx.Err(); err != nil {
			return nil, transportError(ctx, u, err)
		}
		p, err := one(ctx, u)
		if err != nil {
			var fe *FetchError
			if !errors.As(err, &fe) {
				fe = transportError(ctx, u, err)
			}
			res.Failed = append(res.Failed, fe)
			continue
		}
		res.Pages = append(res.Pages, *p)
	}
	if len(res.Pages) == 0 && len(res.Failed) > 0 {
		return nil, res.Failed[0]
	}
	return res, nil
}
