// Package parser extracts page metadata and classifies outbound links from
// a fetched HTML document (C8). It is grounded on the teacher's goquery
// link extraction in scraper.Crawler.extractLinks, extended to titles,
// meta tags, headings, language, and content-type classification.
package parser

import (
	"bytes"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"net/url"
	"path"
	"strings"
	"unicode"

	"github.com/PuerkitoBio/goquery"
	"github.com/TheBoringRats/ratcrowler/internal/model"
	"github.com/TheBoringRats/ratcrowler/internal/normalize"
)

// Link is one outbound anchor found on a page, already resolved to an
// absolute URL and classified relative to the page's own host.
type Link struct {
	URL        string
	AnchorText string
	Context    string // up to 250 chars of surrounding text
	IsNofollow bool
	External   bool
}

const contextWindow = 250

// extensionTypes maps a lowercased file extension (no dot) to its
// model.ContentType, per spec.md §4.8.
var extensionTypes = map[string]model.ContentType{
	"pdf":  model.ContentPDF,
	"doc":  model.ContentDocument,
	"docx": model.ContentDocument,
	"txt":  model.ContentDocument,
	"jpg":  model.ContentImage,
	"jpeg": model.ContentImage,
	"png":  model.ContentImage,
	"gif":  model.ContentImage,
	"webp": model.ContentImage,
	"svg":  model.ContentImage,
	"zip":  model.ContentArchive,
	"tar":  model.ContentArchive,
	"gz":   model.ContentArchive,
	"mp4":  model.ContentMedia,
	"mp3":  model.ContentMedia,
	"webm": model.ContentMedia,
	"css":  model.ContentStylesheet,
	"js":   model.ContentScript,
	"json": model.ContentData,
	"xml":  model.ContentData,
	"woff": model.ContentFont,
	"woff2": model.ContentFont,
	"ttf":  model.ContentFont,
}

// ClassifyExtension returns the content type and bare (lowercased,
// no-dot) file extension implied by a URL's path. It returns
// (ContentHTML, "") when the path has no extension or the URL does not
// parse, and (ContentOther, ext) for an extension it does not recognize.
func ClassifyExtension(rawURL string) (model.ContentType, string) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return model.ContentHTML, ""
	}
	ext := strings.TrimPrefix(strings.ToLower(path.Ext(u.Path)), ".")
	if ext == "" {
		return model.ContentHTML, ""
	}
	if ct, ok := extensionTypes[ext]; ok {
		return ct, ext
	}
	return model.ContentOther, ext
}

// ContentHash returns the MD5 hash (hex-encoded) of raw page bytes, used
// for cross-crawl content-change dedup.
func ContentHash(body []byte) string {
	sum := md5.Sum(body)
	return hex.EncodeToString(sum[:])
}

// Result holds the fields parser.Parse derives from a page's HTML body.
type Result struct {
	Title              string
	MetaDescription    string
	MetaKeywords       []string
	H1Tags             []string
	H2Tags             []string
	CanonicalURL       string
	RobotsMeta         string
	Language           string
	ContentText        string
	WordCount          int
	InternalLinksCount int
	ExternalLinksCount int
	ImagesCount        int
	Links              []Link
}

// Parse extracts metadata and outbound links from an HTML document fetched
// from pageURL. Malformed HTML yields a best-effort Result and a non-nil
// error is returned only when the document cannot be parsed at all.
func Parse(pageURL string, body []byte) (Result, error) {
	base, err := url.Parse(pageURL)
	if err != nil {
		return Result{}, fmt.Errorf("parser: invalid page URL %q: %w", pageURL, err)
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return Result{}, fmt.Errorf("parser: parse html for %s: %w", pageURL, err)
	}

	var res Result

	res.Title = strings.TrimSpace(doc.Find("title").First().Text())

	doc.Find("meta").Each(func(_ int, s *goquery.Selection) {
		name, _ := s.Attr("name")
		content, _ := s.Attr("content")
		switch strings.ToLower(strings.TrimSpace(name)) {
		case "description":
			res.MetaDescription = strings.TrimSpace(content)
		case "keywords":
			for _, kw := range strings.Split(content, ",") {
				kw = strings.TrimSpace(kw)
				if kw != "" {
					res.MetaKeywords = append(res.MetaKeywords, kw)
				}
			}
		case "robots":
			res.RobotsMeta = strings.TrimSpace(content)
		}
	})

	if lang, ok := doc.Find("html").First().Attr("lang"); ok {
		res.Language = strings.TrimSpace(lang)
	}

	if href, ok := doc.Find(`link[rel="canonical"]`).First().Attr("href"); ok {
		if u, err := url.Parse(href); err == nil {
			res.CanonicalURL = base.ResolveReference(u).String()
		}
	}

	doc.Find("h1").Each(func(_ int, s *goquery.Selection) {
		if t := strings.TrimSpace(s.Text()); t != "" {
			res.H1Tags = append(res.H1Tags, t)
		}
	})
	doc.Find("h2").Each(func(_ int, s *goquery.Selection) {
		if t := strings.TrimSpace(s.Text()); t != "" {
			res.H2Tags = append(res.H2Tags, t)
		}
	})

	res.ImagesCount = doc.Find("img").Length()

	textDoc := doc.Clone()
	textDoc.Find("script, style, meta, link").Remove()
	bodyText := strings.TrimSpace(textDoc.Find("body").Text())
	res.ContentText = bodyText
	res.WordCount = countWords(bodyText)

	baseHost := normalize.Host(pageURL)

	doc.Find("a[href]").Each(func(_ int, s *goquery.Selection) {
		href, ok := s.Attr("href")
		if !ok {
			return
		}
		href = strings.TrimSpace(href)
		if href == "" || strings.HasPrefix(href, "#") || strings.HasPrefix(href, "javascript:") || strings.HasPrefix(href, "mailto:") {
			return
		}

		u, err := url.Parse(href)
		if err != nil {
			return
		}
		resolved := base.ResolveReference(u)
		if resolved.Scheme != "http" && resolved.Scheme != "https" {
			return
		}

		rel, _ := s.Attr("rel")
		link := Link{
			URL:        resolved.String(),
			AnchorText: strings.TrimSpace(s.Text()),
			Context:    surroundingContext(s),
			IsNofollow: strings.Contains(strings.ToLower(rel), "nofollow"),
		}
		link.External = !normalize.SameOrSubdomain(strings.ToLower(resolved.Hostname()), baseHost)

		if link.External {
			res.ExternalLinksCount++
		} else {
			res.InternalLinksCount++
		}
		res.Links = append(res.Links, link)
	})

	return res, nil
}

// surroundingContext returns up to contextWindow characters of text around
// an anchor, drawn from its parent block element.
func surroundingContext(s *goquery.Selection) string {
	text := strings.TrimSpace(s.Parent().Text())
	if len(text) <= contextWindow {
		return text
	}
	return strings.TrimSpace(text[:contextWindow])
}

func countWords(text string) int {
	return len(strings.FieldsFunc(text, func(r rune) bool {
		return unicode.IsSpace(r)
	}))
}
