// Package app wires config, quota, router, migrate, progress, urlsource,
// scraper, discoverer, graph, and store into the single crawl run the CLI
// drives, grounded on the teacher's own straight-line main() composition
// (constructors called directly in dependency order, no DI framework).
package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/TheBoringRats/ratcrowler/internal/config"
	"github.com/TheBoringRats/ratcrowler/internal/discoverer"
	"github.com/TheBoringRats/ratcrowler/internal/fingerprint"
	"github.com/TheBoringRats/ratcrowler/internal/graph"
	"github.com/TheBoringRats/ratcrowler/internal/metrics"
	"github.com/TheBoringRats/ratcrowler/internal/migrate"
	"github.com/TheBoringRats/ratcrowler/internal/model"
	"github.com/TheBoringRats/ratcrowler/internal/normalize"
	"github.com/TheBoringRats/ratcrowler/internal/progress"
	"github.com/TheBoringRats/ratcrowler/internal/quota"
	"github.com/TheBoringRats/ratcrowler/internal/report"
	"github.com/TheBoringRats/ratcrowler/internal/router"
	"github.com/TheBoringRats/ratcrowler/internal/scraper"
	"github.com/TheBoringRats/ratcrowler/internal/store"
	"github.com/TheBoringRats/ratcrowler/internal/urlsource"
	"github.com/TheBoringRats/ratcrowler/pkg/useragent"
)

// batchConcurrency bounds both the batch re-crawl pool and the discoverer's
// per-depth worker pool, per spec.md §6's "semaphore of the same bound".
const batchConcurrency = 10

// Exit codes from spec.md §6.
const (
	ExitSuccess            = 0
	ExitConfigOrAbort      = 1
	ExitNoAvailableBackend = 2
)

// Options are the resolved CLI flags for one invocation.
type Options struct {
	DatabasesPath string
	SeedsPath     string
	ProgressPath  string

	Reset     bool
	Status    bool
	StartPage int // 0 means "unset"
	MaxPages  int // 0 means unlimited
	BatchSize int // 0 means "use stored/default"

	MetricsPort int // 0 disables the Prometheus /metrics server
}

const defaultBatchSize = 50

// Run executes one CLI invocation and returns the process exit code.
func Run(ctx context.Context, opts Options, logger *slog.Logger) int {
	if logger == nil {
		logger = slog.Default()
	}

	if opts.Reset {
		if err := progress.Reset(opts.ProgressPath); err != nil {
			logger.Error("reset failed", "error", err)
			return ExitConfigOrAbort
		}
		fmt.Println("progress reset")
		return ExitSuccess
	}

	pools, err := config.LoadDatabases(opts.DatabasesPath)
	if err != nil {
		logger.Error("load databases", "error", err)
		return ExitConfigOrAbort
	}

	monitor := quota.NewMonitor(http.DefaultClient)
	rt := router.New(pools, monitor)

	if err := migrateAll(pools); err != nil {
		logger.Error("migrate", "error", err)
		return ExitConfigOrAbort
	}

	if opts.Status {
		return runStatus(ctx, opts, rt, logger)
	}

	return runCrawl(ctx, opts, rt, logger)
}

func migrateAll(pools config.Pools) error {
	for _, db := range pools.Crawl {
		if err := migrateOne(db, migrate.Crawl); err != nil {
			return fmt.Errorf("migrate crawl backend %s: %w", db.Name, err)
		}
	}
	for _, db := range pools.Backlink {
		if err := migrateOne(db, migrate.Backlink); err != nil {
			return fmt.Errorf("migrate backlink backend %s: %w", db.Name, err)
		}
	}
	return nil
}

func migrateOne(db model.BackendDatabase, migrations []migrate.Migration) error {
	conn, err := store.Open(db)
	if err != nil {
		return err
	}
	defer conn.Close()
	return migrate.Apply(conn, migrations)
}

func runStatus(ctx context.Context, opts Options, rt *router.Router, logger *slog.Logger) int {
	state, err := progress.Load(opts.ProgressPath)
	if err != nil {
		logger.Error("load progress", "error", err)
		return ExitConfigOrAbort
	}

	var backendSummary store.Summary
	if state.DBName != "" {
		if crawlDB, err := rt.SessionFor(state.DBName, model.KindCrawl); err == nil {
			if conn, err := store.Open(crawlDB); err == nil {
				defer conn.Close()

				var backlinkConn *sql.DB
				if bdb, err := rt.Choose(ctx, model.KindBacklink); err == nil {
					if bc, err := store.Open(bdb); err == nil {
						backlinkConn = bc
						defer backlinkConn.Close()
					}
				}

				backendSummary, _ = store.BuildSummary(ctx, conn, backlinkConn)
			}
		}
	}

	summary := report.Build(state, backendSummary)
	if err := report.WriteText(stdout{}, summary); err != nil {
		logger.Error("write status", "error", err)
		return ExitConfigOrAbort
	}
	return ExitSuccess
}

// stdout adapts fmt.Print to an io.Writer so report.WriteText can target
// the terminal without pulling os.Stdout through every call site.
type stdout struct{}

func (stdout) Write(p []byte) (int, error) {
	return fmt.Print(string(p))
}

func runCrawl(ctx context.Context, opts Options, rt *router.Router, logger *slog.Logger) int {
	state, err := progress.Load(opts.ProgressPath)
	if err != nil {
		logger.Error("load progress", "error", err)
		return ExitConfigOrAbort
	}

	if opts.StartPage > 0 {
		state.CurrentPage = opts.StartPage
	}
	if opts.BatchSize > 0 {
		state.BatchSize = opts.BatchSize
	}
	if state.BatchSize <= 0 {
		state.BatchSize = defaultBatchSize
	}

	seeds, err := config.LoadSeeds(opts.SeedsPath)
	if err != nil {
		logger.Error("load seeds", "error", err)
		return ExitConfigOrAbort
	}

	var crawlDB model.BackendDatabase
	if state.DBName != "" {
		crawlDB, err = rt.SessionFor(state.DBName, model.KindCrawl)
	} else {
		crawlDB, err = rt.Choose(ctx, model.KindCrawl)
	}
	if err != nil {
		return exitForRouterError(err, logger)
	}

	crawlConn, err := store.Open(crawlDB)
	if err != nil {
		logger.Error("open crawl backend", "error", err)
		return ExitConfigOrAbort
	}
	defer crawlConn.Close()

	backlinkDB, err := rt.Choose(ctx, model.KindBacklink)
	if err != nil {
		return exitForRouterError(err, logger)
	}
	backlinkConn, err := store.Open(backlinkDB)
	if err != nil {
		logger.Error("open backlink backend", "error", err)
		return ExitConfigOrAbort
	}
	defer backlinkConn.Close()

	if state.SessionID == 0 {
		sessionID, err := store.CreateSession(ctx, crawlConn, model.CrawlSession{
			DBName:    crawlDB.Name,
			StartTime: time.Now().UTC(),
			SeedURLs:  seeds,
			Config:    "{}",
			Status:    model.SessionRunning,
		})
		if err != nil {
			logger.Error("create session", "error", err)
			return ExitConfigOrAbort
		}
		state.SessionID = sessionID
		state.DBName = crawlDB.Name
	}
	state.IsRunning = true
	if err := progress.Save(opts.ProgressPath, state); err != nil {
		logger.Error("save progress", "error", err)
	}

	if opts.MetricsPort > 0 {
		metricsSrv := metrics.Start(opts.MetricsPort)
		defer func() {
			stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := metricsSrv.Stop(stopCtx); err != nil {
				logger.Error("stop metrics server", "error", err)
			}
		}()
	}

	fetcher, err := scraper.NewFetcher(scraper.FetchConfig{
		Timeout:     30 * time.Second,
		Fingerprint: fingerprint.ProfileGo,
		UAPool:      useragent.NewPool(nil),
	})
	if err != nil {
		logger.Error("build fetcher", "error", err)
		return ExitConfigOrAbort
	}
	robots := scraper.NewRobotsTxtAuditor(fetcher, logger)
	pf := scraper.NewPageFetcher(fetcher, robots, scraper.PageFetchConfig{}, logger)
	batch := scraper.NewBatch(pf, scraper.BatchConfig{Concurrency: batchConcurrency}, logger)

	if total, err := urlsource.Total(ctx, backlinkConn); err == nil {
		state.TotalURLs = total
	}

	runBatchLoop(ctx, opts, &state, opts.ProgressPath, batch, crawlConn, backlinkConn, logger)

	sitemapSeeds := discoverSitemapSeeds(ctx, scraper.NewSitemapFetcher(fetcher, logger), seeds, logger)

	targetDomains := seedHosts(seeds)
	d := discoverer.New(discoverer.Config{
		Fetcher:       pf,
		TargetDomains: targetDomains,
		MaxConcurrent: batchConcurrency,
	}, logger)
	if len(sitemapSeeds) > 0 {
		d.EnqueueFromSitemap(sitemapSeeds)
	}
	err = d.Run(ctx, state.SessionID, seeds, func(res discoverer.Result) {
		if res.Page != nil {
			if err := store.StorePage(ctx, crawlConn, *res.Page); err != nil {
				logger.Error("store discovered page", "url", res.Page.URL, "error", err)
			}
		}
		if len(res.Backlinks) > 0 {
			if _, err := store.StoreBacklinks(ctx, backlinkConn, res.Backlinks); err != nil {
				logger.Error("store backlinks", "error", err)
			}
		}
	})
	if err != nil && !errors.Is(err, context.Canceled) {
		logger.Warn("discovery run ended early", "error", err)
	}

	backlinks, err := store.LoadBacklinks(ctx, backlinkConn)
	if err != nil {
		logger.Error("load backlinks for scoring", "error", err)
	} else if len(backlinks) > 0 {
		g := graph.New(backlinks)
		if _, err := store.StorePageRankScores(ctx, backlinkConn, g.PageRank()); err != nil {
			logger.Error("store pagerank scores", "error", err)
		}
		if _, err := store.StoreDomainScores(ctx, backlinkConn, graph.DomainAuthority(backlinks)); err != nil {
			logger.Error("store domain scores", "error", err)
		}
		logFlaggedSpam(backlinks, logger)
	}

	state.IsRunning = false
	if err := progress.Save(opts.ProgressPath, state); err != nil {
		logger.Error("save final progress", "error", err)
	}
	if err := store.CloseSession(ctx, crawlConn, state.SessionID, model.SessionCompleted, time.Now().UTC()); err != nil {
		logger.Error("close session", "error", err)
	}

	return ExitSuccess
}

// runBatchLoop drives the content re-crawl pass: paging through known
// URLs via urlsource and fetching each with Batch, persisting pages and
// errors and saving progress after every batch (spec.md §4.4/§4.6).
func runBatchLoop(ctx context.Context, opts Options, state *progress.State, progressPath string, batch *scraper.Batch, crawlConn, backlinkConn *sql.DB, logger *slog.Logger) {
	processed := 0
	for {
		if ctx.Err() != nil {
			return
		}
		if opts.MaxPages > 0 && processed >= opts.MaxPages {
			return
		}

		urls, err := urlsource.Page(ctx, backlinkConn, state.CurrentPage, state.BatchSize)
		if err != nil {
			logger.Error("load url page", "error", err)
			return
		}
		if len(urls) == 0 {
			return
		}

		var results []scraper.Result
		if err := batch.Run(ctx, state.SessionID, urls, func(r scraper.Result) {
			results = append(results, r)
		}); err != nil {
			logger.Warn("batch run interrupted", "error", err)
		}

		pages, errs := scraper.Outcomes(results)
		for _, page := range pages {
			if err := store.StorePage(ctx, crawlConn, page); err != nil {
				logger.Error("store page", "url", page.URL, "error", err)
			}
		}
		for _, e := range errs {
			if err := store.StoreCrawlError(ctx, crawlConn, e); err != nil {
				logger.Error("store crawl error", "url", e.URL, "error", err)
			}
		}

		state.URLsProcessed += len(urls)
		state.SuccessfulCrawls += len(pages)
		state.FailedCrawls += len(errs)
		state.CurrentPage++
		processed += len(urls)

		if err := progress.Save(progressPath, *state); err != nil {
			logger.Error("save progress", "error", err)
		}
	}
}

// logFlaggedSpam reports backlinks whose spam score crosses the flag
// threshold, with the matched watch terms as evidence (spec.md §4.10).
func logFlaggedSpam(backlinks []model.Backlink, logger *slog.Logger) {
	for _, bl := range backlinks {
		score, flagged, matches := graph.SpamEvidence(bl)
		if !flagged {
			continue
		}
		terms := make([]string, len(matches))
		for i, m := range matches {
			terms[i] = m.Term
		}
		logger.Warn("backlink flagged as spam",
			"source", bl.SourceURL, "target", bl.TargetURL,
			"score", score, "terms", terms)
	}
}

// discoverSitemapSeeds fetches /sitemap.xml for every unique seed host and
// returns the URLs it lists, supplementing the BFS frontier the way a
// crawler typically seeds itself from a site's own sitemap before falling
// back to plain link-following. A missing or unparsable sitemap is routine
// (most hosts don't serve one) and only logged at debug level.
func discoverSitemapSeeds(ctx context.Context, sm *scraper.SitemapFetcher, seeds []string, logger *slog.Logger) []string {
	seenHost := make(map[string]struct{})
	var urls []string
	for _, seed := range seeds {
		u, err := url.Parse(seed)
		if err != nil || u.Host == "" {
			continue
		}
		if _, ok := seenHost[u.Host]; ok {
			continue
		}
		seenHost[u.Host] = struct{}{}

		sitemapURL := u.Scheme + "://" + u.Host + "/sitemap.xml"
		found, err := sm.FetchSitemap(ctx, sitemapURL)
		if err != nil {
			logger.Debug("sitemap fetch failed", "url", sitemapURL, "error", err)
			continue
		}
		urls = append(urls, found...)
	}
	return urls
}

func seedHosts(seeds []string) []string {
	hosts := make([]string, 0, len(seeds))
	seen := make(map[string]struct{}, len(seeds))
	for _, s := range seeds {
		h := normalize.Host(s)
		if h == "" {
			continue
		}
		if _, ok := seen[h]; ok {
			continue
		}
		seen[h] = struct{}{}
		hosts = append(hosts, h)
	}
	return hosts
}

func exitForRouterError(err error, logger *slog.Logger) int {
	if errors.Is(err, router.ErrNoAvailableBackend) {
		logger.Error("no available backend")
		return ExitNoAvailableBackend
	}
	logger.Error("router error", "error", err)
	return ExitConfigOrAbort
}
