// Package quota polls each backend database's usage API and classifies it
// as healthy, warning, critical, or unusable (C2).
package quota

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/TheBoringRats/ratcrowler/internal/model"
)

// Status is a quota classification. Warning/Critical are informational;
// only Unusable blocks the router from selecting a backend.
type Status string

const (
	Healthy  Status = "healthy"
	Warning  Status = "warning"
	Critical Status = "critical"
	Unusable Status = "unusable"
)

// Hard provider caps (spec.md §4.2): a backend becomes Unusable once
// either is reached.
const (
	HardRowsReadCap     = 9_000_000
	HardStorageBytesCap = 4_000_000_000
)

// Router thresholds, checked by C3 for routing decisions alongside the hard
// caps. The router's storage cap (5 GiB) is above HardStorageBytesCap; its
// write cap has no hard-cap counterpart.
const (
	RouterStorageBytesCap = 5 * (1 << 30) // 5 GiB
	RouterDailyWriteCap   = 10_000_000
)

const (
	warningFraction  = 0.75
	criticalFraction = 0.90
)

// Doer is satisfied by *http.Client; it exists so tests can substitute a
// fake transport.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Monitor polls backend usage and caches results until ForceRefresh.
type Monitor struct {
	client Doer
	mu     sync.Mutex
	cache  map[string]model.Usage
}

// NewMonitor creates a Monitor using the provided HTTP doer. If doer is nil,
// http.DefaultClient is used.
func NewMonitor(doer Doer) *Monitor {
	if doer == nil {
		doer = http.DefaultClient
	}
	return &Monitor{
		client: doer,
		cache:  make(map[string]model.Usage),
	}
}

type usageResponse struct {
	Database struct {
		Total struct {
			StorageBytes *int64 `json:"storage_bytes"`
			RowsWritten  *int64 `json:"rows_written"`
			RowsRead     *int64 `json:"rows_read"`
		} `json:"total"`
	} `json:"database"`
}

// Usage returns the cached usage for db, fetching it if not yet cached or
// if forceRefresh is set. Missing or null fields default to zero.
func (m *Monitor) Usage(ctx context.Context, db model.BackendDatabase, forceRefresh bool) (model.Usage, error) {
	key := db.Organization + "/" + db.Name

	if !forceRefresh {
		m.mu.Lock()
		cached, ok := m.cache[key]
		m.mu.Unlock()
		if ok {
			return cached, nil
		}
	}

	usage, err := m.fetch(ctx, db)
	if err != nil {
		return model.Usage{}, err
	}

	m.mu.Lock()
	m.cache[key] = usage
	m.mu.Unlock()

	return usage, nil
}

func (m *Monitor) fetch(ctx context.Context, db model.BackendDatabase) (model.Usage, error) {
	url := fmt.Sprintf("https://api.turso.tech/v1/organizations/%s/databases/%s/usage", db.Organization, db.Name)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return model.Usage{}, fmt.Errorf("quota: build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+db.APIKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := m.client.Do(req)
	if err != nil {
		return model.Usage{}, fmt.Errorf("quota: request %s: %w", db.Name, err)
	}
	defer resp.Body.Close()

	var parsed usageResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return model.Usage{}, fmt.Errorf("quota: decode %s: %w", db.Name, err)
	}

	usage := model.Usage{FetchedAt: time.Now().UTC()}
	if parsed.Database.Total.StorageBytes != nil {
		usage.StorageBytes = *parsed.Database.Total.StorageBytes
	}
	if parsed.Database.Total.RowsWritten != nil {
		usage.RowsWritten = *parsed.Database.Total.RowsWritten
	}
	if parsed.Database.Total.RowsRead != nil {
		usage.RowsRead = *parsed.Database.Total.RowsRead
	}
	return usage, nil
}

// Classify applies the hard/soft thresholds from spec.md §4.2 against the
// provider's own unusable caps; the router's selection limits are checked
// separately by PassesRouterLimits.
func Classify(u model.Usage) Status {
	if u.RowsRead >= HardRowsReadCap || u.StorageBytes >= HardStorageBytesCap {
		return Unusable
	}

	storageFrac := float64(u.StorageBytes) / float64(HardStorageBytesCap)
	rowsFrac := float64(u.RowsRead) / float64(HardRowsReadCap)
	frac := storageFrac
	if rowsFrac > frac {
		frac = rowsFrac
	}

	switch {
	case frac >= criticalFraction:
		return Critical
	case frac >= warningFraction:
		return Warning
	default:
		return Healthy
	}
}

// PassesRouterLimits applies the router-selection thresholds
// (spec.md §4.2/§4.3), independent of the provider's own Unusable
// classification.
func PassesRouterLimits(u model.Usage) bool {
	return u.StorageBytes < RouterStorageBytesCap && u.RowsWritten < RouterDailyWriteCap
}
