// Package headless renders county pages with headless Chrome via chromedp.
//
// Browsers are scoped to a lookup: Open starts a browser, every Fetch on the
// returned session opens a tab in it, and Close tears the browser down. A
// slot channel caps how many browsers run at once.
package headless

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"slices"
	"sync"
	"time"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"

	"github.com/JakeFAU/pinellas-property-scraper/internal/metrics"
	"github.com/JakeFAU/pinellas-property-scraper/internal/property"
)

const mode = "headless"

// Config controls the behavior of the headless fetcher.
type Config struct {
	MaxParallel       int
	UserAgent         string
	NavigationTimeout time.Duration
	// WaitSelector must be ready before the DOM is captured.
	WaitSelector string
	// SettleDelay gives late scripts time to fill the page after WaitSelector.
	SettleDelay time.Duration
	// ExecPath overrides Chrome discovery.
	ExecPath string
}

// Fetcher hands out browser sessions backed by chromedp.
type Fetcher struct {
	cfg      Config
	browsers slots
	opts     []chromedp.ExecAllocatorOption
}

// NewChromedp creates a headless fetcher backed by chromedp. No browser is
// started until Open.
func NewChromedp(cfg Config) (*Fetcher, error) {
	if cfg.MaxParallel < 0 {
		return nil, fmt.Errorf("max parallel must be >= 0")
	}
	if cfg.NavigationTimeout <= 0 {
		cfg.NavigationTimeout = 45 * time.Second
	}
	if cfg.WaitSelector == "" {
		cfg.WaitSelector = "body"
	}
	if cfg.SettleDelay < 0 {
		cfg.SettleDelay = 0
	}
	var browsers slots
	if cfg.MaxParallel > 0 {
		browsers = make(slots, cfg.MaxParallel)
	}

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", "new"),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("hide-scrollbars", true),
		chromedp.Flag("enable-automation", false),
	)
	if cfg.UserAgent != "" {
		opts = append(opts, chromedp.UserAgent(cfg.UserAgent))
	}
	if cfg.ExecPath != "" {
		opts = append(opts, chromedp.ExecPath(cfg.ExecPath))
	}

	return &Fetcher{cfg: cfg, browsers: browsers, opts: opts}, nil
}

// Open waits for a browser slot and starts a browser for one lookup.
func (f *Fetcher) Open(ctx context.Context) (property.Session, error) {
	if err := f.browsers.take(ctx); err != nil {
		return nil, err
	}
	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), f.opts...)
	browserCtx, browserCancel := chromedp.NewContext(allocCtx)
	return &Session{
		fetcher: f,
		browser: browserCtx,
		cancel: func() {
			browserCancel()
			allocCancel()
		},
	}, nil
}

// Fetch renders a single page in a throwaway browser.
func (f *Fetcher) Fetch(ctx context.Context, request property.FetchRequest) (property.Page, error) {
	session, err := f.Open(ctx)
	if err != nil {
		return property.Page{}, err
	}
	defer session.Close() //nolint:errcheck // Close never fails
	return session.Fetch(ctx, request) //nolint:wrapcheck // already classified
}

// Session is one browser owned by a single lookup.
type Session struct {
	fetcher *Fetcher
	browser context.Context
	cancel  context.CancelFunc
	once    sync.Once
}

// Close shuts the browser down and frees its slot. It is safe to call twice.
func (s *Session) Close() error {
	s.once.Do(func() {
		s.cancel()
		s.fetcher.browsers.give()
	})
	return nil
}

// Fetch navigates a new tab and returns the rendered DOM.
func (s *Session) Fetch(ctx context.Context, request property.FetchRequest) (property.Page, error) {
	start := time.Now()
	page, err := s.fetch(ctx, request, start)
	metrics.ObserveFetch(mode, metrics.FetchOutcome(err), time.Since(start))
	return page, err
}

func (s *Session) fetch(ctx context.Context, request property.FetchRequest, start time.Time) (property.Page, error) {
	tabCtx, tabCancel := chromedp.NewContext(s.browser)
	defer tabCancel()

	tabCtx, cancel := context.WithTimeout(tabCtx, s.fetcher.cfg.NavigationTimeout)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	var doc documentResponse
	chromedp.ListenTarget(tabCtx, doc.observe)

	html, finalURL, err := s.fetcher.runHeadless(tabCtx, request)
	if err != nil {
		return property.Page{}, classify(ctx, tabCtx, err)
	}

	status, headers, responseURL := doc.resolve(finalURL, request.URL)
	if status >= http.StatusBadRequest {
		return property.Page{}, fmt.Errorf("%w: status %d from %s", property.ErrTransport, status, request.URL)
	}

	return property.Page{
		URL:          request.URL,
		FinalURL:     responseURL,
		StatusCode:   status,
		Headers:      headers,
		HTML:         []byte(html),
		Duration:     time.Since(start),
		UsedHeadless: true,
	}, nil
}

// classify reports the caller's own cancellation as is, a tab deadline as
// ErrTimeout, and anything else as ErrTransport.
func classify(ctx, tabCtx context.Context, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return fmt.Errorf("chromedp run: %w", ctxErr)
	}
	if errors.Is(tabCtx.Err(), context.DeadlineExceeded) || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %w", property.ErrTimeout, err)
	}
	return fmt.Errorf("%w: %w", property.ErrTransport, err)
}

func (f *Fetcher) runHeadless(ctx context.Context, request property.FetchRequest) (string, string, error) {
	var (
		html     string
		finalURL string
	)
	actions := []chromedp.Action{
		f.networkSetupAction(request.Headers),
		chromedp.Navigate(request.URL),
		chromedp.WaitReady(f.cfg.WaitSelector, chromedp.ByQuery),
	}
	if f.cfg.SettleDelay > 0 {
		actions = append(actions, chromedp.Sleep(f.cfg.SettleDelay))
	}
	actions = append(actions,
		chromedp.Location(&finalURL),
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
	)
	if err := chromedp.Run(ctx, actions...); err != nil {
		return "", "", fmt.Errorf("chromedp run: %w", err)
	}
	return html, finalURL, nil
}

func (f *Fetcher) networkSetupAction(headers http.Header) chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		if err := network.Enable().Do(ctx); err != nil {
			return fmt.Errorf("enable network domain: %w", err)
		}
		if f.cfg.UserAgent != "" {
			if err := emulation.SetUserAgentOverride(f.cfg.UserAgent).Do(ctx); err != nil {
				return fmt.Errorf("set user-agent: %w", err)
			}
		}
		if len(headers) > 0 {
			if err := network.SetExtraHTTPHeaders(extraHeaders(headers)).Do(ctx); err != nil {
				return fmt.Errorf("set extra headers: %w", err)
			}
		}
		return nil
	})
}

// slots caps concurrent browsers. A nil slots never blocks.
type slots chan struct{}

func (s slots) take(ctx context.Context) error {
	if s == nil {
		return nil
	}
	select {
	case s <- struct{}{}:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("headless slot wait canceled: %w", ctx.Err())
	}
}

func (s slots) give() {
	if s == nil {
		return
	}
	select {
	case <-s:
	default:
	}
}

// documentResponse remembers the last top-level document response seen in a
// tab. After redirects that is the page the caller asked for.
type documentResponse struct {
	mu      sync.Mutex
	status  int
	headers http.Header
	url     string
}

func (d *documentResponse) observe(ev any) {
	resp, ok := ev.(*network.EventResponseReceived)
	if !ok || resp.Type != network.ResourceTypeDocument || resp.Response == nil {
		return
	}
	headers := make(http.Header, len(resp.Response.Headers))
	for key, value := range resp.Response.Headers {
		for _, v := range headerValues(value) {
			headers.Add(key, v)
		}
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.status = int(resp.Response.Status)
	d.headers = headers
	d.url = resp.Response.URL
}

// resolve returns what was observed. A tab that never reported a document
// response is treated as 200 and takes the first non-empty fallback URL.
func (d *documentResponse) resolve(fallbackURLs ...string) (int, http.Header, string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	status, url := d.status, d.url
	headers := d.headers.Clone()
	if headers == nil {
		headers = http.Header{}
	}
	if status == 0 {
		status = http.StatusOK
	}
	for _, candidate := range fallbackURLs {
		if url != "" {
			break
		}
		url = candidate
	}
	return status, headers, url
}

// headerValues flattens the loosely typed values the DevTools protocol uses
// for response headers.
func headerValues(v any) []string {
	switch v := v.(type) {
	case string:
		return []string{v}
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, entry := range v {
			out = append(out, fmt.Sprint(entry))
		}
		return out
	default:
		return []string{fmt.Sprint(v)}
	}
}

func extraHeaders(h http.Header) network.Headers {
	out := make(network.Headers, len(h))
	for key, values := range h {
		switch len(values) {
		case 0:
		case 1:
			out[key] = values[0]
		default:
			out[key] = slices.Clone(values)
		}
	}
	return out
}
