// Package store writes crawled pages, errors, backlinks, and graph scores
// to a backend database, chunking bulk writes and skipping failed chunks
// rather than aborting the whole batch (C11). Grounded on the teacher's
// storage/sqlite and storage/postgres backend constructors and their
// prepared-statement Save methods, generalized from a single
// scrape_results table to the crawler's full schema.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/TheBoringRats/ratcrowler/internal/model"
	_ "modernc.org/sqlite"
)

const (
	backlinkChunkSize = 5000
	scoreChunkSize    = 1000
)

// Open opens a pure-Go SQLite connection to db's URL, matching the
// teacher's modernc.org/sqlite-backed storage/sqlite.New. The remote
// SQLite-compatible provider's connection string is passed through as the
// driver DSN unchanged.
func Open(db model.BackendDatabase) (*sql.DB, error) {
	conn, err := sql.Open("sqlite", db.URL)
	if err != nil {
		return nil, fmt.Errorf("store: open %s: %w", db.Name, err)
	}
	return conn, nil
}

// StorePage pins page to the backend that owns its session. If the URL
// already exists there, fields are updated in place and the original
// session_id is preserved (spec.md §4.11).
func StorePage(ctx context.Context, conn *sql.DB, page model.CrawledPage) error {
	var existingSessionID int64
	err := conn.QueryRowContext(ctx, `SELECT session_id FROM crawled_pages WHERE url = ?`, page.URL).Scan(&existingSessionID)
	switch {
	case err == sql.ErrNoRows:
		// first time seeing this URL, keep page.SessionID as-is
	case err != nil:
		return fmt.Errorf("store: lookup existing page %s: %w", page.URL, err)
	default:
		page.SessionID = existingSessionID
	}

	_, err = conn.ExecContext(ctx, `
		INSERT INTO crawled_pages (
			url, session_id, original_url, redirect_chain, title, meta_description,
			content_text, content_html, content_hash, word_count, page_size, http_status,
			response_time_ms, language, charset, h1_tags, h2_tags, meta_keywords,
			canonical_url, robots_meta, internal_links_count, external_links_count,
			images_count, content_type, file_extension, crawl_time
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(url) DO UPDATE SET
			original_url=excluded.original_url,
			redirect_chain=excluded.redirect_chain,
			title=excluded.title,
			meta_description=excluded.meta_description,
			content_text=excluded.content_text,
			content_html=excluded.content_html,
			content_hash=excluded.content_hash,
			word_count=excluded.word_count,
			page_size=excluded.page_size,
			http_status=excluded.http_status,
			response_time_ms=excluded.response_time_ms,
			language=excluded.language,
			charset=excluded.charset,
			h1_tags=excluded.h1_tags,
			h2_tags=excluded.h2_tags,
			meta_keywords=excluded.meta_keywords,
			canonical_url=excluded.canonical_url,
			robots_meta=excluded.robots_meta,
			internal_links_count=excluded.internal_links_count,
			external_links_count=excluded.external_links_count,
			images_count=excluded.images_count,
			content_type=excluded.content_type,
			file_extension=excluded.file_extension,
			crawl_time=excluded.crawl_time
	`,
		page.URL, page.SessionID, page.OriginalURL, joinCSV(page.RedirectChain), page.Title, page.MetaDescription,
		page.ContentText, page.ContentHTML, page.ContentHash, page.WordCount, page.PageSize, page.HTTPStatus,
		page.ResponseTimeMs, page.Language, page.Charset, joinCSV(page.H1Tags), joinCSV(page.H2Tags), joinCSV(page.MetaKeywords),
		page.CanonicalURL, page.RobotsMeta, page.InternalLinksCount, page.ExternalLinksCount,
		page.ImagesCount, string(page.ContentType), page.FileExtension, page.CrawlTime,
	)
	if err != nil {
		return fmt.Errorf("store: upsert page %s: %w", page.URL, err)
	}
	return nil
}

// CreateSession inserts a new crawl_sessions row and returns its ID.
func CreateSession(ctx context.Context, conn *sql.DB, session model.CrawlSession) (int64, error) {
	res, err := conn.ExecContext(ctx, `
		INSERT INTO crawl_sessions (db_name, start_time, seed_urls, config, status)
		VALUES (?, ?, ?, ?, ?)
	`, session.DBName, session.StartTime, strings.Join(session.SeedURLs, ","), session.Config, string(session.Status))
	if err != nil {
		return 0, fmt.Errorf("store: create session: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("store: session id: %w", err)
	}
	return id, nil
}

// CloseSession marks a session ended with the given status.
func CloseSession(ctx context.Context, conn *sql.DB, sessionID int64, status model.SessionStatus, endTime time.Time) error {
	_, err := conn.ExecContext(ctx, `
		UPDATE crawl_sessions SET end_time = ?, status = ? WHERE id = ?
	`, endTime, string(status), sessionID)
	if err != nil {
		return fmt.Errorf("store: close session %d: %w", sessionID, err)
	}
	return nil
}

// StoreCrawlError records a failed fetch/parse attempt.
func StoreCrawlError(ctx context.Context, conn *sql.DB, e model.CrawlError) error {
	_, err := conn.ExecContext(ctx, `
		INSERT INTO crawl_errors (session_id, url, error_type, error_msg, status_code, timestamp)
		VALUES (?, ?, ?, ?, ?, ?)
	`, e.SessionID, e.URL, string(e.ErrorType), e.ErrorMsg, e.StatusCode, e.Timestamp)
	if err != nil {
		return fmt.Errorf("store: insert crawl error for %s: %w", e.URL, err)
	}
	return nil
}

// ChunkReport summarizes a chunked bulk write.
type ChunkReport struct {
	TotalInput  int
	Stored      int
	FailedChunks int
}

// StoreBacklinks commits backlinks in chunks of 5,000. A failing chunk is
// skipped (not retried) so later chunks still run; spec.md §4.11.
func StoreBacklinks(ctx context.Context, conn *sql.DB, backlinks []model.Backlink) (ChunkReport, error) {
	report := ChunkReport{TotalInput: len(backlinks)}

	stmt, err := conn.PrepareContext(ctx, `
		INSERT INTO backlinks (source_url, target_url, anchor_text, context, page_title, domain_authority, is_nofollow, crawl_date)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(source_url, target_url, anchor_text) DO UPDATE SET
			context=excluded.context,
			page_title=excluded.page_title,
			domain_authority=excluded.domain_authority,
			is_nofollow=excluded.is_nofollow,
			crawl_date=excluded.crawl_date
	`)
	if err != nil {
		return report, fmt.Errorf("store: prepare backlink insert: %w", err)
	}
	defer stmt.Close()

	for start := 0; start < len(backlinks); start += backlinkChunkSize {
		end := min(start+backlinkChunkSize, len(backlinks))
		chunk := backlinks[start:end]

		if err := storeBacklinkChunk(ctx, conn, stmt, chunk); err != nil {
			report.FailedChunks++
			continue
		}
		report.Stored += len(chunk)
	}

	return report, nil
}

func storeBacklinkChunk(ctx context.Context, conn *sql.DB, stmt *sql.Stmt, chunk []model.Backlink) error {
	tx, err := conn.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	txStmt := tx.StmtContext(ctx, stmt)
	for _, bl := range chunk {
		_, err := txStmt.ExecContext(ctx,
			bl.SourceURL, bl.TargetURL, bl.AnchorText, bl.Context, bl.PageTitle,
			bl.DomainAuthority, bl.IsNofollow, bl.CrawlDate)
		if err != nil {
			return err
		}
	}
	return tx.Commit()
}

// StoreDomainScores upserts domain authority scores in chunks of 1,000.
func StoreDomainScores(ctx context.Context, conn *sql.DB, scores map[string]float64) (ChunkReport, error) {
	now := time.Now().UTC()
	entries := make([]model.DomainAuthority, 0, len(scores))
	for domain, score := range scores {
		entries = append(entries, model.DomainAuthority{Domain: domain, AuthorityScore: score, LastUpdated: now})
	}

	report := ChunkReport{TotalInput: len(entries)}
	for start := 0; start < len(entries); start += scoreChunkSize {
		end := min(start+scoreChunkSize, len(entries))
		chunk := entries[start:end]

		if err := storeDomainScoreChunk(ctx, conn, chunk); err != nil {
			report.FailedChunks++
			continue
		}
		report.Stored += len(chunk)
	}
	return report, nil
}

func storeDomainScoreChunk(ctx context.Context, conn *sql.DB, chunk []model.DomainAuthority) error {
	tx, err := conn.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, d := range chunk {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO domain_authority (domain, authority_score, last_updated)
			VALUES (?, ?, ?)
			ON CONFLICT(domain) DO UPDATE SET authority_score=excluded.authority_score, last_updated=excluded.last_updated
		`, d.Domain, d.AuthorityScore, d.LastUpdated)
		if err != nil {
			return err
		}
	}
	return tx.Commit()
}

// StorePageRankScores upserts PageRank scores in chunks of 1,000.
func StorePageRankScores(ctx context.Context, conn *sql.DB, scores map[string]float64) (ChunkReport, error) {
	now := time.Now().UTC()
	entries := make([]model.PageRankScore, 0, len(scores))
	for url, score := range scores {
		entries = append(entries, model.PageRankScore{URL: url, PageRankScore: score, LastCalculated: now})
	}

	report := ChunkReport{TotalInput: len(entries)}
	for start := 0; start < len(entries); start += scoreChunkSize {
		end := min(start+scoreChunkSize, len(entries))
		chunk := entries[start:end]

		if err := storePageRankChunk(ctx, conn, chunk); err != nil {
			report.FailedChunks++
			continue
		}
		report.Stored += len(chunk)
	}
	return report, nil
}

func storePageRankChunk(ctx context.Context, conn *sql.DB, chunk []model.PageRankScore) error {
	tx, err := conn.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, p := range chunk {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO pagerank_scores (url, pagerank_score, last_calculated)
			VALUES (?, ?, ?)
			ON CONFLICT(url) DO UPDATE SET pagerank_score=excluded.pagerank_score, last_calculated=excluded.last_calculated
		`, p.URL, p.PageRankScore, p.LastCalculated)
		if err != nil {
			return err
		}
	}
	return tx.Commit()
}

// LoadBacklinks reads every backlink row, for feeding internal/graph's
// PageRank and domain-authority computation.
func LoadBacklinks(ctx context.Context, conn *sql.DB) ([]model.Backlink, error) {
	rows, err := conn.QueryContext(ctx, `
		SELECT source_url, target_url, anchor_text, context, page_title, domain_authority, is_nofollow, crawl_date
		FROM backlinks
	`)
	if err != nil {
		return nil, fmt.Errorf("store: load backlinks: %w", err)
	}
	defer rows.Close()

	var out []model.Backlink
	for rows.Next() {
		var bl model.Backlink
		if err := rows.Scan(&bl.SourceURL, &bl.TargetURL, &bl.AnchorText, &bl.Context, &bl.PageTitle, &bl.DomainAuthority, &bl.IsNofollow, &bl.CrawlDate); err != nil {
			return nil, fmt.Errorf("store: scan backlink: %w", err)
		}
		out = append(out, bl)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: backlink rows: %w", err)
	}
	return out, nil
}

// Summary is a read-only run overview, kept internal-only per spec.md's
// Non-goals around a web dashboard (see DESIGN.md).
type Summary struct {
	PagesCrawled int
	ErrorsByType map[string]int
	Backlinks    int
}

// BuildSummary reads aggregate counts for a completed or in-progress run.
func BuildSummary(ctx context.Context, crawlConn, backlinkConn *sql.DB) (Summary, error) {
	var summary Summary
	summary.ErrorsByType = make(map[string]int)

	if err := crawlConn.QueryRowContext(ctx, `SELECT COUNT(*) FROM crawled_pages`).Scan(&summary.PagesCrawled); err != nil {
		return Summary{}, fmt.Errorf("store: count pages: %w", err)
	}

	rows, err := crawlConn.QueryContext(ctx, `SELECT error_type, COUNT(*) FROM crawl_errors GROUP BY error_type`)
	if err != nil {
		return Summary{}, fmt.Errorf("store: count errors: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var errType string
		var count int
		if err := rows.Scan(&errType, &count); err != nil {
			return Summary{}, fmt.Errorf("store: scan error count: %w", err)
		}
		summary.ErrorsByType[errType] = count
	}

	if backlinkConn != nil {
		if err := backlinkConn.QueryRowContext(ctx, `SELECT COUNT(*) FROM backlinks`).Scan(&summary.Backlinks); err != nil {
			return Summary{}, fmt.Errorf("store: count backlinks: %w", err)
		}
	}

	return summary, nil
}

func joinCSV(items []string) string {
	return strings.Join(items, ",")
}
