// Package batch runs many address lookups through a bounded worker pool.
package batch

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/pinellas-property-scraper/internal/lookup"
)

// Looker runs one lookup.
type Looker interface {
	Lookup(ctx context.Context, raw string) lookup.Result
}

// Item is one address and its outcome. Index is the input position; Done is
// false when the run ended before the address was looked up.
type Item struct {
	Index   int
	Address string
	Result  lookup.Result
	Done    bool
}

// Summary counts outcomes for a run.
type Summary struct {
	Succeeded int
	Failed    int
	Skipped   int
}

// Runner fans addresses out to Workers goroutines.
type Runner struct {
	looker  Looker
	workers int
	logger  *zap.Logger
}

// New builds a Runner. workers below one is treated as one.
func New(looker Looker, workers int, logger *zap.Logger) *Runner {
	if workers < 1 {
		workers = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Runner{looker: looker, workers: workers, logger: logger}
}

// Run looks up every address and returns the items in input order. Addresses
// not started before ctx ends are counted as skipped.
func (r *Runner) Run(ctx context.Context, addresses []string) ([]Item, Summary) {
	items := make([]Item, len(addresses))
	for i, addr := range addresses {
		items[i] = Item{Index: i, Address: addr}
	}

	queue := make(chan int)

	g, gctx := errgroup.WithContext(ctx)
	for w := 0; w < r.workers; w++ {
		g.Go(func() error {
			for idx := range queue {
				items[idx].Result = r.looker.Lookup(gctx, items[idx].Address)
				items[idx].Done = true
				r.logger.Debug("batch item finished",
					zap.Int("index", idx),
					zap.String("lookup_id", items[idx].Result.LookupID),
					zap.String("status", string(items[idx].Result.Status())),
				)
			}
			return nil
		})
	}

	g.Go(func() error {
		defer close(queue)
		for i := range items {
			if gctx.Err() != nil {
				return nil
			}
			select {
			case <-gctx.Done():
				return nil
			case queue <- i:
			}
		}
		return nil
	})
	_ = g.Wait()

	var sum Summary
	for i := range items {
		switch {
		case !items[i].Done:
			sum.Skipped++
		case items[i].Result.OK():
			sum.Succeeded++
		default:
			sum.Failed++
		}
	}
	r.logger.Info("batch finished",
		zap.Int("succeeded", sum.Succeeded),
		zap.Int("failed", sum.Failed),
		zap.Int("skipped", sum.Skipped),
	)
	return items, sum
}

// ReadAddresses reads one address per line. Blank lines and lines starting
// with '#' are ignored.
func ReadAddresses(r io.Reader) ([]string, error) {
	var out []string
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		out = append(out, line)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read addresses: %w", err)
	}
	return out, nil
}
