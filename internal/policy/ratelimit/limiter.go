// Package ratelimit implements a token bucket limiter that keeps outbound
// traffic to the county site polite.
package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/JakeFAU/pinellas-property-scraper/internal/metrics"
	"github.com/JakeFAU/pinellas-property-scraper/internal/property"
)

// Config holds rate limiter configuration. A non-positive RPS disables limiting.
type Config struct {
	DefaultRPS   float64
	DefaultBurst int
}

// Limiter keeps one token bucket per host.
type Limiter struct {
	mu    sync.Mutex
	hosts map[string]*rate.Limiter
	every rate.Limit
	burst int
}

// New creates a new Limiter.
func New(cfg Config) *Limiter {
	every := rate.Inf
	if cfg.DefaultRPS > 0 {
		every = rate.Limit(cfg.DefaultRPS)
	}
	return &Limiter{
		hosts: make(map[string]*rate.Limiter),
		every: every,
		burst: max(cfg.DefaultBurst, 1),
	}
}

func (l *Limiter) bucket(host string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()
	b, ok := l.hosts[host]
	if !ok {
		b = rate.NewLimiter(l.every, l.burst)
		l.hosts[host] = b
	}
	return b
}

// Wait blocks until a token is available for the URL's host, respecting ctx.
// A wait the deadline cannot cover fails at once with
// context.DeadlineExceeded so callers classify it as a timeout.
func (l *Limiter) Wait(ctx context.Context, rawURL string) error {
	host := metrics.SanitizeSite(rawURL)
	start := time.Now()
	if err := l.bucket(host).Wait(ctx); err != nil {
		switch {
		case ctx.Err() != nil:
			err = ctx.Err()
		case hasDeadline(ctx):
			err = context.DeadlineExceeded
		}
		return fmt.Errorf("rate limit wait for %s: %w", host, err)
	}
	if waited := time.Since(start); waited > time.Millisecond {
		metrics.ObserveRateLimitDelay(host, waited)
	}
	return nil
}

func hasDeadline(ctx context.Context) bool {
	_, ok := ctx.Deadline()
	return ok
}

// Opener wraps a SessionOpener so every fetch of every session waits on the limiter.
type Opener struct {
	next    property.SessionOpener
	limiter *Limiter
}

// Wrap returns next unchanged when limiter is nil.
func Wrap(next property.SessionOpener, limiter *Limiter) property.SessionOpener {
	if limiter == nil {
		return next
	}
	return &Opener{next: next, limiter: limiter}
}

// Open opens a session on the wrapped opener.
func (o *Opener) Open(ctx context.Context) (property.Session, error) {
	session, err := o.next.Open(ctx)
	if err != nil {
		return nil, err //nolint:wrapcheck // opener errors are already classified
	}
	return &limitedSession{Session: session, limiter: o.limiter}, nil
}

type limitedSession struct {
	property.Session
	limiter *Limiter
}

func (s *limitedSession) Fetch(ctx context.Context, req property.FetchRequest) (property.Page, error) {
	if err := s.limiter.Wait(ctx, req.URL); err != nil {
		return property.Page{}, err
	}
	return s.Session.Fetch(ctx, req) //nolint:wrapcheck // fetch errors are already classified
}
