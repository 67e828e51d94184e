// Package normalize implements the canonical URL form used for identity
// comparisons throughout the crawler: scheme lowercased, host lowercased,
// fragment stripped, query parameters sorted by name.
package normalize

import (
	"fmt"
	"net/url"
	"sort"
	"strings"
)

// URL normalizes an absolute HTTP(S) URL. It returns an error if the input
// is not a well-formed absolute http(s) URL.
func URL(raw string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return "", fmt.Errorf("normalize: parse %q: %w", raw, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", fmt.Errorf("normalize: unsupported scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return "", fmt.Errorf("normalize: missing host in %q", raw)
	}

	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)
	u.Fragment = ""

	if u.RawQuery != "" {
		values := u.Query()
		names := make([]string, 0, len(values))
		for name := range values {
			names = append(names, name)
		}
		sort.Strings(names)

		var sb strings.Builder
		for i, name := range names {
			for j, v := range values[name] {
				if i > 0 || j > 0 {
					sb.WriteByte('&')
				}
				sb.WriteString(url.QueryEscape(name))
				sb.WriteByte('=')
				sb.WriteString(url.QueryEscape(v))
			}
		}
		u.RawQuery = sb.String()
	}

	return u.String(), nil
}

// Host returns the lowercased hostname of a URL, ignoring port.
func Host(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	return strings.ToLower(u.Hostname())
}

// SameOrSubdomain reports whether host equals domain or is a subdomain of it.
func SameOrSubdomain(host, domain string) bool {
	host = strings.ToLower(host)
	domain = strings.ToLower(domain)
	return host == domain || strings.HasSuffix(host, "."+domain)
}

// Valid reports whether raw looks like a URL this crawler is willing to
// enqueue: absolute, http(s), non-empty.
func Valid(raw string) bool {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return false
	}
	if !strings.HasPrefix(raw, "http://") && !strings.HasPrefix(raw, "https://") {
		return false
	}
	_, err := URL(raw)
	return err == nil
}
