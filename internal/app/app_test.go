package app

import (
	"context"
	"database/sql"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/TheBoringRats/ratcrowler/internal/config"
	"github.com/TheBoringRats/ratcrowler/internal/model"
	"github.com/TheBoringRats/ratcrowler/internal/router"
	"github.com/TheBoringRats/ratcrowler/internal/store"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func writeSeeds(t *testing.T, urls []string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "seeds.json")
	raw, err := json.Marshal(urls)
	if err != nil {
		t.Fatalf("marshal seeds: %v", err)
	}
	if err := os.WriteFile(path, raw, 0644); err != nil {
		t.Fatalf("write seeds: %v", err)
	}
	return path
}

func testPools(t *testing.T) (config.Pools, *sql.DB, *sql.DB) {
	t.Helper()
	crawlPath := filepath.Join(t.TempDir(), "crawl.db")
	backlinkPath := filepath.Join(t.TempDir(), "backlink.db")

	pools := config.Pools{
		Crawl:    []model.BackendDatabase{{Name: "crawl-1", URL: crawlPath, Kind: model.KindCrawl}},
		Backlink: []model.BackendDatabase{{Name: "back-1", URL: backlinkPath, Kind: model.KindBacklink}},
	}
	if err := migrateAll(pools); err != nil {
		t.Fatalf("migrateAll: %v", err)
	}

	crawlConn, err := store.Open(pools.Crawl[0])
	if err != nil {
		t.Fatalf("open crawl: %v", err)
	}
	t.Cleanup(func() { crawlConn.Close() })

	backlinkConn, err := store.Open(pools.Backlink[0])
	if err != nil {
		t.Fatalf("open backlink: %v", err)
	}
	t.Cleanup(func() { backlinkConn.Close() })

	return pools, crawlConn, backlinkConn
}

func TestRunCrawl_DiscoversLinksAndScoresGraph(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`<html><body><a href="/page2">next</a></body></html>`))
	})
	mux.HandleFunc("/page2", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`<html><body>leaf page</body></html>`))
	})
	mux.HandleFunc("/robots.txt", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	pools, crawlConn, backlinkConn := testPools(t)
	rt := router.New(pools, nil)

	opts := Options{
		SeedsPath:    writeSeeds(t, []string{server.URL + "/"}),
		ProgressPath: filepath.Join(t.TempDir(), "progress.json"),
		BatchSize:    10,
	}

	code := runCrawl(context.Background(), opts, rt, testLogger())
	if code != ExitSuccess {
		t.Fatalf("runCrawl exit = %d, want %d", code, ExitSuccess)
	}

	var pageCount int
	if err := crawlConn.QueryRow(`SELECT COUNT(*) FROM crawled_pages`).Scan(&pageCount); err != nil {
		t.Fatalf("count pages: %v", err)
	}
	if pageCount < 1 {
		t.Errorf("expected at least one crawled page, got %d", pageCount)
	}

	var backlinkCount int
	if err := backlinkConn.QueryRow(`SELECT COUNT(*) FROM backlinks`).Scan(&backlinkCount); err != nil {
		t.Fatalf("count backlinks: %v", err)
	}
	if backlinkCount < 1 {
		t.Errorf("expected at least one backlink from the discovered link, got %d", backlinkCount)
	}

	var sessionStatus string
	if err := crawlConn.QueryRow(`SELECT status FROM crawl_sessions`).Scan(&sessionStatus); err != nil {
		t.Fatalf("query session status: %v", err)
	}
	if sessionStatus != string(model.SessionCompleted) {
		t.Errorf("session status = %q, want %q", sessionStatus, model.SessionCompleted)
	}
}

func TestRunCrawl_BatchesKnownURLsFromBacklinkTable(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/known", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`<html><body>known page</body></html>`))
	})
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})
	mux.HandleFunc("/robots.txt", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	pools, crawlConn, backlinkConn := testPools(t)
	rt := router.New(pools, nil)

	if _, err := store.StoreBacklinks(context.Background(), backlinkConn, []model.Backlink{
		{SourceURL: server.URL + "/", TargetURL: server.URL + "/known", AnchorText: "known", CrawlDate: time.Now()},
	}); err != nil {
		t.Fatalf("seed backlink: %v", err)
	}

	opts := Options{
		SeedsPath:    writeSeeds(t, []string{server.URL + "/missing-seed"}),
		ProgressPath: filepath.Join(t.TempDir(), "progress.json"),
		BatchSize:    10,
	}

	code := runCrawl(context.Background(), opts, rt, testLogger())
	if code != ExitSuccess {
		t.Fatalf("runCrawl exit = %d, want %d", code, ExitSuccess)
	}

	var knownURL string
	err := crawlConn.QueryRow(`SELECT url FROM crawled_pages WHERE url = ?`, server.URL+"/known").Scan(&knownURL)
	if err != nil {
		t.Fatalf("expected the known backlink URL to have been batch-fetched: %v", err)
	}
}

func TestRunStatus_ReportsLoadedProgress(t *testing.T) {
	pools, _, _ := testPools(t)
	rt := router.New(pools, nil)

	progressPath := filepath.Join(t.TempDir(), "progress.json")
	opts := Options{DatabasesPath: "unused", ProgressPath: progressPath}

	code := runStatus(context.Background(), opts, rt, testLogger())
	if code != ExitSuccess {
		t.Fatalf("runStatus exit = %d, want %d", code, ExitSuccess)
	}
}

func TestExitForRouterError_MapsNoAvailableBackend(t *testing.T) {
	if got := exitForRouterError(router.ErrNoAvailableBackend, testLogger()); got != ExitNoAvailableBackend {
		t.Errorf("exit = %d, want %d", got, ExitNoAvailableBackend)
	}
}

func TestSeedHosts_DedupsAndSkipsInvalid(t *testing.T) {
	hosts := seedHosts([]string{"https://a.com/x", "https://a.com/y", "https://b.com", "not a url"})
	if len(hosts) != 2 {
		t.Fatalf("hosts = %v, want 2 entries", hosts)
	}
}
