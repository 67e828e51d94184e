// Package migrate applies the crawl and backlink pool schemas to a backend
// database at startup. Migrations are ordered and idempotent: later ones
// may add columns to tables created by earlier ones, tolerating "already
// exists"/"duplicate column" errors so the same list can run against a
// database that already has some of the schema applied (C4).
package migrate

import (
	"database/sql"
	"fmt"
	"strings"
)

// Migration is one ordered, idempotent schema statement.
type Migration struct {
	Name string
	SQL  string
}

// Crawl is applied to every backend in the crawl pool.
var Crawl = []Migration{
	{
		Name: "create_crawl_sessions",
		SQL: `CREATE TABLE IF NOT EXISTS crawl_sessions (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			db_name TEXT NOT NULL,
			start_time DATETIME NOT NULL,
			end_time DATETIME,
			seed_urls TEXT NOT NULL,
			config TEXT NOT NULL,
			status TEXT NOT NULL
		)`,
	},
	{
		Name: "create_crawled_pages",
		SQL: `CREATE TABLE IF NOT EXISTS crawled_pages (
			url TEXT PRIMARY KEY,
			session_id INTEGER NOT NULL,
			original_url TEXT NOT NULL,
			redirect_chain TEXT,
			title TEXT,
			meta_description TEXT,
			content_text TEXT,
			content_html TEXT,
			content_hash TEXT,
			word_count INTEGER,
			page_size INTEGER,
			http_status INTEGER,
			response_time_ms INTEGER,
			language TEXT,
			charset TEXT,
			h1_tags TEXT,
			h2_tags TEXT,
			meta_keywords TEXT,
			canonical_url TEXT,
			robots_meta TEXT,
			internal_links_count INTEGER,
			external_links_count INTEGER,
			images_count INTEGER,
			content_type TEXT,
			file_extension TEXT,
			crawl_time DATETIME NOT NULL
		)`,
	},
	{
		Name: "create_crawled_pages_content_hash_index",
		SQL:  `CREATE INDEX IF NOT EXISTS idx_crawled_pages_content_hash ON crawled_pages(content_hash)`,
	},
	{
		Name: "create_crawl_errors",
		SQL: `CREATE TABLE IF NOT EXISTS crawl_errors (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			session_id INTEGER NOT NULL,
			url TEXT NOT NULL,
			error_type TEXT NOT NULL,
			error_msg TEXT,
			status_code INTEGER,
			timestamp DATETIME NOT NULL
		)`,
	},
}

// Backlink is applied to every backend in the backlink pool.
var Backlink = []Migration{
	{
		Name: "create_backlinks",
		SQL: `CREATE TABLE IF NOT EXISTS backlinks (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			source_url TEXT NOT NULL,
			target_url TEXT NOT NULL,
			anchor_text TEXT,
			context TEXT,
			page_title TEXT,
			domain_authority REAL,
			is_nofollow BOOLEAN NOT NULL DEFAULT 0,
			crawl_date DATETIME NOT NULL,
			UNIQUE(source_url, target_url, anchor_text)
		)`,
	},
	{
		Name: "create_backlinks_target_index",
		SQL:  `CREATE INDEX IF NOT EXISTS idx_backlinks_target ON backlinks(target_url)`,
	},
	{
		Name: "create_domain_authority",
		SQL: `CREATE TABLE IF NOT EXISTS domain_authority (
			domain TEXT PRIMARY KEY,
			authority_score REAL NOT NULL,
			last_updated DATETIME NOT NULL
		)`,
	},
	{
		Name: "create_pagerank_scores",
		SQL: `CREATE TABLE IF NOT EXISTS pagerank_scores (
			url TEXT PRIMARY KEY,
			pagerank_score REAL NOT NULL,
			last_calculated DATETIME NOT NULL
		)`,
	},
}

// Apply runs migrations in order against db, skipping errors that indicate
// the schema element already exists (idempotent re-run on a partially
// migrated database).
func Apply(db *sql.DB, migrations []Migration) error {
	for _, m := range migrations {
		if _, err := db.Exec(m.SQL); err != nil {
			if isIgnorable(err) {
				continue
			}
			return fmt.Errorf("migrate: %s: %w", m.Name, err)
		}
	}
	return nil
}

// isIgnorable reports whether err is the kind of "already applied" error
// modernc.org/sqlite surfaces for a repeated ALTER TABLE ADD COLUMN or
// CREATE TABLE/INDEX against an already-migrated schema.
func isIgnorable(err error) bool {
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "duplicate column"):
		return true
	case strings.Contains(msg, "already exists"):
		return true
	default:
		return false
	}
}
