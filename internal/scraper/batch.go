package scraper

import (
	"context"
	"log/slog"
	"sync"

	"github.com/TheBoringRats/ratcrowler/internal/model"
	"github.com/TheBoringRats/ratcrowler/pkg/ratelimit"
	"golang.org/x/sync/errgroup"
)

// BatchConfig tunes a Batch run. Unlike the discoverer's priority BFS,
// Batch does not follow links: it fetches exactly the URLs it is handed
// and reports one Outcome per URL, for re-crawling a known URL set in
// resumable pages (spec.md §4.4/§4.6).
type BatchConfig struct {
	Concurrency int
	RPS         float64
	Jitter      float64
}

func (c BatchConfig) withDefaults() BatchConfig {
	if c.Concurrency <= 0 {
		c.Concurrency = 10
	}
	return c
}

// Batch drives a PageFetcher over a fixed URL slice with a bounded worker
// pool, grounded on the teacher's Crawler.Run channel/errgroup/waitgroup
// shape but stripped of link-following and domain scoping, which belong
// to the discoverer now.
type Batch struct {
	fetcher *PageFetcher
	cfg     BatchConfig
	limiter *ratelimit.Limiter
	logger  *slog.Logger
}

// NewBatch builds a Batch runner around fetcher.
func NewBatch(fetcher *PageFetcher, cfg BatchConfig, logger *slog.Logger) *Batch {
	if logger == nil {
		logger = slog.Default()
	}
	cfg = cfg.withDefaults()
	return &Batch{
		fetcher: fetcher,
		cfg:     cfg,
		limiter: ratelimit.NewLimiter(cfg.RPS, cfg.Jitter),
		logger:  logger,
	}
}

// Result pairs a URL with its fetch Outcome.
type Result struct {
	URL     string
	Outcome Outcome
}

// Run fetches every url in urls using cfg.Concurrency workers, calling
// emit for each completed Result. Calls to emit are serialized by a
// mutex, so emit is never called concurrently. Run returns the first
// worker error (typically ctx cancellation); individual fetch failures
// are reported through Outcome.Err, not as a Run error.
func (b *Batch) Run(ctx context.Context, sessionID int64, urls []string, emit func(Result)) error {
	jobs := make(chan string)
	var emitMu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)

	for i := 0; i < b.cfg.Concurrency; i++ {
		g.Go(func() error {
			for {
				select {
				case <-gctx.Done():
					return gctx.Err()
				case url, ok := <-jobs:
					if !ok {
						return nil
					}
					if err := b.limiter.Wait(gctx); err != nil {
						return err
					}
					outcome := b.fetcher.Fetch(gctx, sessionID, url)

					emitMu.Lock()
					emit(Result{URL: url, Outcome: outcome})
					emitMu.Unlock()
				}
			}
		})
	}

	g.Go(func() error {
		defer close(jobs)
		for _, url := range urls {
			select {
			case jobs <- url:
			case <-gctx.Done():
				return gctx.Err()
			}
		}
		return nil
	})

	return g.Wait()
}

// Outcomes splits a slice of Results into successful pages and errors,
// for handing straight to internal/store.
func Outcomes(results []Result) (pages []model.CrawledPage, errs []model.CrawlError) {
	for _, r := range results {
		switch {
		case r.Outcome.Err != nil:
			errs = append(errs, *r.Outcome.Err)
		case r.Outcome.Page != nil:
			pages = append(pages, *r.Outcome.Page)
		}
	}
	return pages, errs
}
