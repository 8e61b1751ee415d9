// CLAUDE:SUMMARY Headless Chrome fetcher: lazy rod launch or remote connect, stealth tabs, outer HTML to markdown.
package fetch

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/JohannesKaufmann/html-to-markdown/v2/converter"
	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/stealth"
)

// BrowserConfig configures the headless browser fetcher.
type BrowserConfig struct {
	// RemoteURL is the WebSocket URL of an external Chrome instance.
	// Empty = launch a local Chrome via launcher on first use.
	RemoteURL string

	// NavTimeout bounds navigation plus load per page. Default: 30s.
	NavTimeout time.Duration

	// URLValidator validates URLs before navigation. Default: ValidateURL.
	URLValidator func(string) error

	Logger *slog.Logger
}

func (c *BrowserConfig) defaults() {
	if c.NavTimeout <= 0 {
		c.NavTimeout = 30 * time.Second
	}
	if c.URLValidator == nil {
		c.URLValidator = ValidateURL
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Browser renders JavaScript-heavy directories in headless Chrome.
type Browser struct {
	cfg  BrowserConfig
	conv *converter.Converter

	mu      sync.Mutex
	browser *rod.Browser
	lnch    *launcher.Launcher
	closed  bool
}

// NewBrowser creates a Browser fetcher. Chrome is started on first Fetch.
func NewBrowser(cfg BrowserConfig) *Browser {
	cfg.defaults()
	return &Browser{cfg: cfg, conv: newMarkdownConverter()}
}

// Fetch implements Fetcher.
func (b *Browser) Fetch(ctx context.Context, req Request) (*Result, error) {
	br, err := b.connect()
	if err != nil {
		return nil, err
	}
	return fetchEach(ctx, req, func(ctx context.Context, u string) (*Page, error) {
		return b.render(ctx, br, u, req.Format)
	})
}

func (b *Browser) render(ctx context.Context, br *rod.Browser, u, format string) (*Page, error) {
	if err := b.cfg.URLValidator(u); err != nil {
		return nil, &FetchError{URL: u, Kind: KindBlocked, Err: err}
	}

	start := time.Now()
	page, err := stealth.Page(br)
	if err != nil {
		return nil, &FetchError{URL: u, Kind: KindNetwork, Err: fmt.Errorf("create tab: %w", err)}
	}
	defer page.Close()

	navCtx, cancel := context.WithTimeout(ctx, b.cfg.NavTimeout)
	defer cancel()

	if err := page.Context(navCtx).Navigate(u); err != nil {
		return nil, transportError(navCtx, u, fmt.Errorf("navigate: %w", err))
	}
	if err := page.Context(navCtx).WaitLoad(); err != nil {
		b.cfg.Logger.Warn("fetch: browser wait load timeout", "url", u, "error", err)
	}

	res, err := page.Context(navCtx).Eval(`() => document.documentElement.outerHTML`)
	if err != nil {
		return nil, transportError(navCtx, u, fmt.Errorf("get DOM: %w", err))
	}
	html := res.Value.Str()
	if strings.TrimSpace(html) == "" {
		return nil, &FetchError{URL: u, Kind: KindEmpty}
	}

	p := &Page{
		URL:        u,
		Body:       html,
		Format:     FormatHTML,
		StatusCode: 200,
		Duration:   time.Since(start),
		FetchedAt:  time.Now(),
	}
	if format != FormatHTML {
		if md, err := b.conv.ConvertString(html, converter.WithDomain(u)); err == nil && strings.TrimSpace(md) != "" {
			p.Body = md
			p.Format = FormatMarkdown
		}
	}
	return p, nil
}

// connect launches or attaches to Chrome once and reuses the handle.
func (b *Browser) connect() (*rod.Browser, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil, fmt.Errorf("fetch: browser is closed")
	}
	if b.browser != nil {
		return b.browser, nil
	}

	wsURL := b.cfg.RemoteURL
	if wsURL == "" {
		l := launcher.New().Headless(true).
			Set("disable-blink-features", "AutomationControlled")
		u, err := l.Launch()
		if err != nil {
			return nil, fmt.Errorf("%w: browser launch: %v", ErrNotConfigured, err)
		}
		wsURL = u
		b.lnch = l
		b.cfg.Logger.Info("fetch: launched local chrome", "url", wsURL)
	} else {
		b.cfg.Logger.Info("fetch: connecting to remote chrome", "url", wsURL)
	}

	br := rod.New().ControlURL(wsURL)
	if err := br.Connect(); err != nil {
		if b.lnch != nil {
			b.lnch.Cleanup()
			b.lnch = nil
		}
		return nil, fmt.Errorf("%w: browser connect: %v", ErrNotConfigured, err)
	}
	b.browser = br
	return br, nil
}

// Close shuts down Chrome if it was started.
func (b *Browser) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	var err error
	if b.browser != nil {
		err = b.browser.Close()
		b.browser = nil
	}
	if b.lnch != nil {
		b.lnch.Cleanup()
		b.lnch = nil
	}
	return err
}
