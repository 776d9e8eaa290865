package lookup

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/JakeFAU/pinellas-property-scraper/internal/property"
)

// boundedFetcher enforces the per-fetch timeout. It returns as soon as the
// bound elapses even if the wrapped fetcher ignores its context.
type boundedFetcher struct {
	next    property.Fetcher
	timeout time.Duration
}

type fetchResult struct {
	page property.Page
	err  error
}

func (b boundedFetcher) Fetch(ctx context.Context, request property.FetchRequest) (property.Page, error) {
	fetchCtx, cancel := ctx, context.CancelFunc(func() {})
	if b.timeout > 0 {
		fetchCtx, cancel = context.WithTimeout(ctx, b.timeout)
	}
	defer cancel()

	done := make(chan fetchResult, 1)
	go func() {
		page, err := b.next.Fetch(fetchCtx, request)
		done <- fetchResult{page: page, err: err}
	}()

	select {
	case <-fetchCtx.Done():
		return property.Page{}, boundErr(ctx, fetchCtx.Err(), request.URL)
	case res := <-done:
		if res.err != nil {
			return property.Page{}, classifyFetchErr(ctx, res.err)
		}
		return res.page, nil
	}
}

func boundErr(parent context.Context, err error, url string) error {
	if errors.Is(parent.Err(), context.Canceled) {
		return fmt.Errorf("fetch %s: %w", url, parent.Err())
	}
	return fmt.Errorf("%w: fetch %s: %w", property.ErrTimeout, url, err)
}

func classifyFetchErr(parent context.Context, err error) error {
	switch {
	case errors.Is(err, property.ErrTimeout), errors.Is(err, property.ErrTransport):
		return err
	case errors.Is(parent.Err(), context.Canceled):
		return fmt.Errorf("fetch: %w", parent.Err())
	case errors.Is(err, context.DeadlineExceeded):
		return fmt.Errorf("%w: %w", property.ErrTimeout, err)
	default:
		return fmt.Errorf("%w: %w", property.ErrTransport, err)
	}
}
