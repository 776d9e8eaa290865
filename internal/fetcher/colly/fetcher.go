// Package collyfetcher implements the static Fetcher using gocolly.
package collyfetcher

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gocolly/colly/v2"

	"github.com/JakeFAU/pinellas-property-scraper/internal/metrics"
	"github.com/JakeFAU/pinellas-property-scraper/internal/property"
)

// DefaultUserAgent mimics a desktop browser; the county site rejects obvious bots.
const DefaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 " +
	"(KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"

const mode = "static"

// Config controls collector behavior.
type Config struct {
	UserAgent     string
	RespectRobots bool
	Timeout       time.Duration
}

// Fetcher implements property.Fetcher using the Colly collector.
type Fetcher struct {
	cfg           Config
	transport     http.RoundTripper
	baseCollector *colly.Collector
}

// New builds a Fetcher.
func New(cfg Config) *Fetcher {
	if cfg.UserAgent == "" {
		cfg.UserAgent = DefaultUserAgent
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	c := colly.NewCollector(colly.Async(false), colly.AllowURLRevisit())
	transport := newHTTPTransport()
	c.WithTransport(transport)

	return &Fetcher{
		cfg:           cfg,
		transport:     transport,
		baseCollector: c,
	}
}

// Open returns a session over the shared collector. Static sessions hold no
// resources, so Close is a no-op.
func (f *Fetcher) Open(_ context.Context) (property.Session, error) {
	return session{f}, nil
}

type session struct{ *Fetcher }

func (session) Close() error { return nil }

// Fetch executes a single HTTP GET using Colly. Anything other than a 200
// response is reported as property.ErrTransport.
func (f *Fetcher) Fetch(ctx context.Context, request property.FetchRequest) (property.Page, error) {
	v := &visit{request: request, start: time.Now()}
	err := f.run(ctx, f.collector(v), v)
	if err == nil && v.page.StatusCode != http.StatusOK {
		err = fmt.Errorf("%w: unexpected status %d from %s", property.ErrTransport, v.page.StatusCode, request.URL)
	}
	metrics.ObserveFetch(mode, metrics.FetchOutcome(err), time.Since(v.start))
	if err != nil {
		return property.Page{}, err
	}
	return v.page, nil
}

// collector clones the shared collector and points its callbacks at v.
func (f *Fetcher) collector(v *visit) *colly.Collector {
	c := f.baseCollector.Clone()
	c.UserAgent = f.cfg.UserAgent
	c.IgnoreRobotsTxt = !f.cfg.RespectRobots
	c.SetRequestTimeout(f.cfg.Timeout)
	c.WithTransport(f.transport)
	c.OnRequest(v.onRequest)
	c.OnResponse(v.onResponse)
	c.OnError(v.onError)
	return c
}

func (f *Fetcher) run(ctx context.Context, c *colly.Collector, v *visit) error {
	done := make(chan error, 1)
	go func() {
		done <- c.Visit(v.request.URL)
	}()

	select {
	case <-ctx.Done():
		return fmt.Errorf("colly fetch canceled: %w", ctx.Err())
	case err := <-done:
		if v.err != nil {
			return fmt.Errorf("colly response failed: %w", v.err)
		}
		if err != nil {
			return fmt.Errorf("colly visit failed: %w", classify(err))
		}
		return nil
	}
}

// visit collects the outcome of one request through colly callbacks.
type visit struct {
	request property.FetchRequest
	start   time.Time
	page    property.Page
	err     error
}

func (v *visit) onRequest(r *colly.Request) {
	for key, values := range v.request.Headers {
		for _, value := range values {
			r.Headers.Add(key, value)
		}
	}
}

func (v *visit) onResponse(r *colly.Response) {
	v.page = property.Page{
		URL:        v.request.URL,
		FinalURL:   r.Request.URL.String(),
		StatusCode: r.StatusCode,
		Headers:    r.Headers.Clone(),
		HTML:       append([]byte(nil), r.Body...),
		Duration:   time.Since(v.start),
	}
}

func (v *visit) onError(r *colly.Response, err error) {
	if r != nil && r.StatusCode != 0 {
		v.err = fmt.Errorf("%w: status %d: %w", property.ErrTransport, r.StatusCode, err)
		return
	}
	v.err = classify(err)
}

// classify maps a client error to ErrTimeout or ErrTransport.
func classify(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, property.ErrTimeout) || errors.Is(err, property.ErrTransport) {
		return err
	}
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		return fmt.Errorf("%w: %w", property.ErrTimeout, err)
	}
	return fmt.Errorf("%w: %w", property.ErrTransport, err)
}

func newHTTPTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
	}
}
