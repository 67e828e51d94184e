// Package model defines the data types shared across the crawler and
// backlink-analysis pipeline: sessions, pages, errors, backlinks, and the
// derived graph metrics persisted through the DB router.
package model

import "time"

// ContentType classifies a crawled resource by its file extension.
type ContentType string

const (
	ContentHTML       ContentType = "html"
	ContentPDF        ContentType = "pdf"
	ContentImage      ContentType = "image"
	ContentDocument   ContentType = "document"
	ContentArchive    ContentType = "archive"
	ContentMedia      ContentType = "media"
	ContentStylesheet ContentType = "stylesheet"
	ContentScript     ContentType = "script"
	ContentData       ContentType = "data"
	ContentFont       ContentType = "font"
	ContentOther      ContentType = "other"
)

// SessionStatus is the lifecycle state of a CrawlSession.
type SessionStatus string

const (
	SessionRunning   SessionStatus = "running"
	SessionCompleted SessionStatus = "completed"
	SessionFailed    SessionStatus = "failed"
)

// ErrorType classifies a CrawlError.
type ErrorType string

const (
	ErrRobotsBlocked ErrorType = "ROBOTS_BLOCKED"
	ErrHTTPError     ErrorType = "HTTP_ERROR"
	ErrParseError    ErrorType = "PARSE_ERROR"
	ErrTimeout       ErrorType = "TIMEOUT"
	ErrClientError   ErrorType = "CLIENT_ERROR"
)

// CrawlSession is created once per run and lives in exactly one backend
// database, identified by (ID, DBName).
type CrawlSession struct {
	ID        int64
	DBName    string
	StartTime time.Time
	EndTime   *time.Time
	SeedURLs  []string
	Config    string // opaque JSON
	Status    SessionStatus
}

// CrawledPage is keyed by URL (unique within a backend).
type CrawledPage struct {
	URL                 string
	SessionID           int64
	OriginalURL         string
	RedirectChain       []string
	Title               string
	MetaDescription     string
	ContentText         string
	ContentHTML         string
	ContentHash         string // MD5 of raw bytes
	WordCount           int
	PageSize            int
	HTTPStatus          int
	ResponseTimeMs      int64
	Language            string
	Charset             string
	H1Tags              []string
	H2Tags              []string
	MetaKeywords        []string
	CanonicalURL        string
	RobotsMeta          string
	InternalLinksCount  int
	ExternalLinksCount  int
	ImagesCount         int
	ContentType         ContentType
	FileExtension       string
	CrawlTime           time.Time
}

// CrawlError records a failed fetch/parse attempt.
type CrawlError struct {
	SessionID  int64
	URL        string
	ErrorType  ErrorType
	ErrorMsg   string
	StatusCode int
	Timestamp  time.Time
}

// Backlink is a directed edge from a crawled page to a target-domain URL.
// Uniqueness is by (SourceURL, TargetURL, AnchorText).
type Backlink struct {
	SourceURL       string
	TargetURL       string
	AnchorText      string
	Context         string // up to 250 chars of surrounding text
	PageTitle       string
	DomainAuthority float64
	IsNofollow      bool
	CrawlDate       time.Time
}

// DomainAuthority is keyed by domain.
type DomainAuthority struct {
	Domain        string
	AuthorityScore float64 // [0,100]
	LastUpdated   time.Time
}

// PageRankScore is keyed by URL.
type PageRankScore struct {
	URL            string
	PageRankScore  float64
	LastCalculated time.Time
}

// BackendKind distinguishes the two router pools.
type BackendKind string

const (
	KindCrawl    BackendKind = "crawl"
	KindBacklink BackendKind = "backlink"
)

// BackendDatabase describes one remote SQLite-compatible database in a
// routed pool, as loaded from databases.json.
type BackendDatabase struct {
	Name               string
	URL                string
	AuthToken          string
	Organization       string
	APIKey             string
	Kind               BackendKind
	MonthlyWriteLimit  int64
	StorageQuotaBytes  int64

	// LastUsage is filled in by the quota monitor; zero value means never
	// polled.
	LastUsage Usage
}

// Usage is the raw usage snapshot returned by a backend's usage API.
type Usage struct {
	StorageBytes int64
	RowsWritten  int64
	RowsRead     int64
	FetchedAt    time.Time
}
