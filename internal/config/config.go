// Package config loads the database registry and seed URL file, and
// partitions backend descriptors into the crawl and backlink pools (C1).
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/TheBoringRats/ratcrowler/internal/model"
	"github.com/spf13/viper"
)

// backendEntry mirrors one element of databases.json.
type backendEntry struct {
	Name              string `json:"name" mapstructure:"name"`
	URL               string `json:"url" mapstructure:"url"`
	AuthToken         string `json:"auth_token" mapstructure:"auth_token"`
	APIKey            string `json:"apikey" mapstructure:"apikey"`
	Organization      string `json:"organization" mapstructure:"organization"`
	Cat               int    `json:"cat" mapstructure:"cat"`
	MonthlyWriteLimit int64  `json:"monthly_write_limit" mapstructure:"monthly_write_limit"`
	StorageQuotaGB    float64 `json:"storage_quota_gb" mapstructure:"storage_quota_gb"`
}

type backendFile struct {
	Databases []backendEntry `json:"databases" mapstructure:"databases"`
}

// Pools holds the two partitioned, immutable backend lists produced at
// construction time. There is no hot reload.
type Pools struct {
	Crawl    []model.BackendDatabase
	Backlink []model.BackendDatabase
}

const bytesPerGB = 1 << 30

// LoadDatabases reads a databases.json file (top-level array or
// {"databases": [...]}) and partitions entries by cat: 1=backlink,
// 2=crawl.
func LoadDatabases(path string) (Pools, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Pools{}, fmt.Errorf("config: read %s: %w", path, err)
	}

	entries, err := parseBackendEntries(raw)
	if err != nil {
		return Pools{}, fmt.Errorf("config: parse %s: %w", path, err)
	}

	var pools Pools
	for _, e := range entries {
		db := model.BackendDatabase{
			Name:              e.Name,
			URL:               e.URL,
			AuthToken:         e.AuthToken,
			APIKey:            e.APIKey,
			Organization:      e.Organization,
			MonthlyWriteLimit: e.MonthlyWriteLimit,
			StorageQuotaBytes: int64(e.StorageQuotaGB * bytesPerGB),
		}
		switch e.Cat {
		case 1:
			db.Kind = model.KindBacklink
			pools.Backlink = append(pools.Backlink, db)
		case 2:
			db.Kind = model.KindCrawl
			pools.Crawl = append(pools.Crawl, db)
		}
	}

	if len(pools.Crawl) == 0 && len(pools.Backlink) == 0 {
		return Pools{}, fmt.Errorf("config: %s defines no usable backend databases", path)
	}

	return pools, nil
}

// parseBackendEntries tolerates both a bare JSON array and an object with a
// "databases" field, per spec.
func parseBackendEntries(raw []byte) ([]backendEntry, error) {
	trimmed := strings.TrimSpace(string(raw))
	if strings.HasPrefix(trimmed, "[") {
		var entries []backendEntry
		if err := json.Unmarshal(raw, &entries); err != nil {
			return nil, err
		}
		return entries, nil
	}

	var wrapped backendFile
	if err := json.Unmarshal(raw, &wrapped); err != nil {
		return nil, err
	}
	return wrapped.Databases, nil
}

// LoadSeeds reads seed_urls.json, which may be a bare array of URL strings
// or an object with one of urls|websites|links|targets|domains|tasks as an
// array field. URLs that do not start with http:// or https:// are
// dropped.
func LoadSeeds(path string) ([]string, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	candidates, err := parseSeedEntries(raw)
	if err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}

	seeds := make([]string, 0, len(candidates))
	for _, s := range candidates {
		s = strings.TrimSpace(s)
		if strings.HasPrefix(s, "http://") || strings.HasPrefix(s, "https://") {
			seeds = append(seeds, s)
		}
	}
	return seeds, nil
}

var seedFields = []string{"urls", "websites", "links", "targets", "domains", "tasks"}

func parseSeedEntries(raw []byte) ([]string, error) {
	trimmed := strings.TrimSpace(string(raw))
	if strings.HasPrefix(trimmed, "[") {
		var list []string
		if err := json.Unmarshal(raw, &list); err != nil {
			return nil, err
		}
		return list, nil
	}

	var obj map[string]json.RawMessage
	if err := json.Unmarshal(raw, &obj); err != nil {
		return nil, err
	}
	for _, field := range seedFields {
		if data, ok := obj[field]; ok {
			var list []string
			if err := json.Unmarshal(data, &list); err != nil {
				continue
			}
			return list, nil
		}
	}
	return nil, fmt.Errorf("no recognized seed field among %v", seedFields)
}

// Env holds the environment-derived knobs from spec.md §6.
type Env struct {
	JSONPath         string
	DashboardPassword string
	DashUser         string
	DashPassword     string
}

// LoadEnv reads the environment variables specified in spec.md §6 via
// viper, so a future RAT_-prefixed config file could override the same
// keys without changing call sites.
func LoadEnv() Env {
	v := viper.New()
	v.AutomaticEnv()
	v.BindEnv("jsonpath", "JSONPATH")
	v.BindEnv("dashboard_password", "DASHBOARD_PASSWORD")
	v.BindEnv("dash_user", "RAT_DASH_USER")
	v.BindEnv("dash_password", "RAT_DASH_PASSWORD")

	return Env{
		JSONPath:          v.GetString("jsonpath"),
		DashboardPassword: v.GetString("dashboard_password"),
		DashUser:          v.GetString("dash_user"),
		DashPassword:      v.GetString("dash_password"),
	}
}
