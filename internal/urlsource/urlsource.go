// Package urlsource paginates the set of URLs already known to a backlink
// backend, so the discoverer can be fed pages of candidate URLs across
// restarts with a stable ordering (C6).
package urlsource

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/TheBoringRats/ratcrowler/internal/normalize"
)

// Page returns the distinct union of source_url and target_url from the
// backlinks table on db, ordered by URL, for the given 1-based page number
// and page size. URLs that fail basic validation are dropped from a page
// after it is read, so a page can hold fewer than limit URLs; page
// boundaries are computed over every stored URL, so current_page keeps a
// stable meaning across restarts even if bad rows exist.
func Page(ctx context.Context, db *sql.DB, page, limit int) ([]string, error) {
	if page < 1 {
		return nil, fmt.Errorf("urlsource: page must be >= 1, got %d", page)
	}
	if limit <= 0 {
		return nil, fmt.Errorf("urlsource: limit must be > 0, got %d", limit)
	}

	offset := (page - 1) * limit

	rows, err := db.QueryContext(ctx, `
		SELECT url FROM (
			SELECT source_url AS url FROM backlinks
			UNION
			SELECT target_url AS url FROM backlinks
		) AS urls
		ORDER BY url
		LIMIT ? OFFSET ?
	`, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("urlsource: query page %d: %w", page, err)
	}
	defer rows.Close()

	urls := make([]string, 0, limit)
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("urlsource: scan: %w", err)
		}
		if normalize.Valid(raw) {
			urls = append(urls, raw)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("urlsource: rows: %w", err)
	}

	return urls, nil
}

// Total returns the count of distinct URLs across source_url/target_url,
// used to compute total_urls for the progress store.
func Total(ctx context.Context, db *sql.DB) (int, error) {
	var count int
	err := db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM (
			SELECT source_url AS url FROM backlinks
			UNION
			SELECT target_url AS url FROM backlinks
		) AS urls
	`).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("urlsource: count: %w", err)
	}
	return count, nil
}
