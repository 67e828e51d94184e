// Package discoverer performs a priority-ordered BFS from the seed URLs
// over the outbound links of fetched pages, emitting model.Backlink records for every outbound link whose host
// belongs to the seed set's target domains (C9). Each depth is drained by
// a bounded worker pool, grounded on scraper.Batch.Run's channel/errgroup
// shape, with a full generation barrier between depths so that depth d+1
// is only ever built from depth d's completed results; the priority
// ordering and backlink emission are new.
package discoverer

import (
	"container/heap"
	"context"
	"log/slog"
	"math/rand"
	"sync"
	"time"

	"github.com/TheBoringRats/ratcrowler/internal/model"
	"github.com/TheBoringRats/ratcrowler/internal/normalize"
	"github.com/TheBoringRats/ratcrowler/internal/parser"
	"github.com/TheBoringRats/ratcrowler/internal/scraper"
	"golang.org/x/sync/errgroup"
)

// Priority levels from spec.md §4.9: lower values are served first.
const (
	PrioritySeed      = 0
	PriorityInternal  = 1
	PriorityExternal  = 2
	PriorityBacklinks = 3
)

type job struct {
	url      string
	depth    int
	priority int
	seq      int // insertion order, used to break priority ties
}

// priorityQueue implements container/heap.Interface ordered by (priority
// ascending, seq ascending).
type priorityQueue []job

func (pq priorityQueue) Len() int { return len(pq) }
func (pq priorityQueue) Less(i, j int) bool {
	if pq[i].priority != pq[j].priority {
		return pq[i].priority < pq[j].priority
	}
	return pq[i].seq < pq[j].seq
}
func (pq priorityQueue) Swap(i, j int) { pq[i], pq[j] = pq[j], pq[i] }
func (pq *priorityQueue) Push(x any)   { *pq = append(*pq, x.(job)) }
func (pq *priorityQueue) Pop() any {
	old := *pq
	n := len(old)
	item := old[n-1]
	*pq = old[:n-1]
	return item
}

// Config tunes the discoverer run.
type Config struct {
	MaxDepth      int
	MaxConcurrent int // worker pool bound for each depth's generation; default 10, same as the fetcher's batch concurrency
	Fetcher       *scraper.PageFetcher
	TargetDomains []string // hosts of the seed URLs; outbound links to these hosts become backlinks
}

// Discoverer runs the BFS pass described in spec.md §4.9.
type Discoverer struct {
	cfg    Config
	logger *slog.Logger

	mu      sync.Mutex
	queue   priorityQueue
	visited map[string]struct{}
	seq     int
}

// New builds a Discoverer.
func New(cfg Config, logger *slog.Logger) *Discoverer {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.MaxDepth <= 0 {
		cfg.MaxDepth = 3
	}
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = 10
	}
	return &Discoverer{
		cfg:     cfg,
		logger:  logger,
		visited: make(map[string]struct{}),
	}
}

// Result is everything discovered from a single fetched URL.
type Result struct {
	Page      *model.CrawledPage
	Backlinks []model.Backlink
}

// Run performs the BFS from seeds, one full depth at a time: every URL at
// depth d is fetched by a bounded worker pool before any depth d+1 URL is
// dispatched, matching spec.md's depth-sequential ordering guarantee.
// Within a depth, workers race freely; calls to emit are serialized by a
// mutex, so emit is never called concurrently.
func (d *Discoverer) Run(ctx context.Context, sessionID int64, seeds []string, emit func(Result)) error {
	d.seedQueue(seeds)

	for depth := 0; depth <= d.cfg.MaxDepth; depth++ {
		generation := d.drainAll()
		if len(generation) == 0 {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}

		if err := d.runGeneration(ctx, sessionID, generation, emit); err != nil {
			return err
		}

		if depth < d.cfg.MaxDepth {
			d.sleepDepthDelay(ctx)
			if ctx.Err() != nil {
				return ctx.Err()
			}
		}
	}
	return nil
}

// runGeneration fetches every job in one depth generation through a bounded
// worker pool, mirroring scraper.Batch.Run's channel/errgroup shape.
func (d *Discoverer) runGeneration(ctx context.Context, sessionID int64, generation []job, emit func(Result)) error {
	jobs := make(chan job)
	var emitMu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)

	for i := 0; i < d.cfg.MaxConcurrent; i++ {
		g.Go(func() error {
			for {
				select {
				case <-gctx.Done():
					return gctx.Err()
				case j, ok := <-jobs:
					if !ok {
						return nil
					}
					d.processJob(gctx, sessionID, j, func(r Result) {
						emitMu.Lock()
						emit(r)
						emitMu.Unlock()
					})
				}
			}
		})
	}

	g.Go(func() error {
		defer close(jobs)
		for _, j := range generation {
			select {
			case jobs <- j:
			case <-gctx.Done():
				return gctx.Err()
			}
		}
		return nil
	})

	return g.Wait()
}

// processJob fetches one URL and hands its result and newly discovered
// links to emit/enqueueNext. Safe for concurrent use across workers.
func (d *Discoverer) processJob(ctx context.Context, sessionID int64, j job, emit func(Result)) {
	outcome := d.cfg.Fetcher.Fetch(ctx, sessionID, j.url)
	if outcome.Err != nil {
		d.logger.Debug("discoverer fetch error", "url", j.url, "error", outcome.Err.ErrorMsg)
		return
	}
	if outcome.Skipped || outcome.Page == nil {
		return
	}

	result := Result{Page: outcome.Page}
	result.Backlinks = d.extractBacklinks(j.url, outcome.Page, outcome.ParsedLinks)
	emit(result)

	d.enqueueNext(j, outcome.ParsedLinks)
}

func (d *Discoverer) seedQueue(seeds []string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, s := range seeds {
		normalized, err := normalize.URL(s)
		if err != nil {
			continue
		}
		if _, seen := d.visited[normalized]; seen {
			continue
		}
		d.visited[normalized] = struct{}{}
		d.seq++
		heap.Push(&d.queue, job{url: normalized, depth: 0, priority: PrioritySeed, seq: d.seq})
	}
}

// drainAll pops every job currently queued, in priority order, for the
// caller to dispatch as one depth generation.
func (d *Discoverer) drainAll() []job {
	d.mu.Lock()
	defer d.mu.Unlock()
	batch := make([]job, 0, d.queue.Len())
	for d.queue.Len() > 0 {
		batch = append(batch, heap.Pop(&d.queue).(job))
	}
	return batch
}

func (d *Discoverer) enqueueNext(current job, links []parser.Link) {
	d.mu.Lock()
	defer d.mu.Unlock()

	for _, l := range links {
		if _, seen := d.visited[l.URL]; seen {
			continue
		}
		d.visited[l.URL] = struct{}{}

		priority := PriorityInternal
		if l.External {
			priority = PriorityExternal
		}
		d.seq++
		heap.Push(&d.queue, job{url: l.URL, depth: current.depth + 1, priority: priority, seq: d.seq})
	}
}

// extractBacklinks emits a Backlink for every outbound link whose host
// belongs to the configured target domains.
func (d *Discoverer) extractBacklinks(sourceURL string, page *model.CrawledPage, links []parser.Link) []model.Backlink {
	if len(d.cfg.TargetDomains) == 0 {
		return nil
	}

	var out []model.Backlink
	for _, l := range links {
		host := normalize.Host(l.URL)
		matches := false
		for _, domain := range d.cfg.TargetDomains {
			if normalize.SameOrSubdomain(host, domain) {
				matches = true
				break
			}
		}
		if !matches {
			continue
		}
		out = append(out, model.Backlink{
			SourceURL:  sourceURL,
			TargetURL:  l.URL,
			AnchorText: l.AnchorText,
			Context:    l.Context,
			PageTitle:  page.Title,
			IsNofollow: l.IsNofollow,
			CrawlDate:  time.Now().UTC(),
		})
	}
	return out
}

// EnqueueFromBacklinks seeds the queue with URLs inferred from already
// known backlinks (priority 3), used to widen discovery beyond the pages
// reachable by direct crawling.
func (d *Discoverer) EnqueueFromBacklinks(urls []string) {
	d.enqueueAt(urls, PriorityBacklinks)
}

// EnqueueFromSitemap seeds the queue with URLs listed in a site's
// sitemap.xml, at the same low priority as EnqueueFromBacklinks. The URLs
// are queued at depth 0, so Run dispatches them in the first generation,
// after the explicit seeds and before any link found on a seed page.
func (d *Discoverer) EnqueueFromSitemap(urls []string) {
	d.enqueueAt(urls, PriorityBacklinks)
}

func (d *Discoverer) enqueueAt(urls []string, priority int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, u := range urls {
		normalized, err := normalize.URL(u)
		if err != nil {
			continue
		}
		if _, seen := d.visited[normalized]; seen {
			continue
		}
		d.visited[normalized] = struct{}{}
		d.seq++
		heap.Push(&d.queue, job{url: normalized, depth: 0, priority: priority, seq: d.seq})
	}
}

func (d *Discoverer) sleepDepthDelay(ctx context.Context) {
	delay := time.Duration(3+rand.Float64()*4) * time.Second
	select {
	case <-time.After(delay):
	case <-ctx.Done():
	}
}
