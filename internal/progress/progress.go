// Package progress persists batch progress to a single local JSON file, so
// a crawl can resume after a restart even when every backend database is
// unreachable (C5).
package progress

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// State mirrors the session record kept in a backend database, plus a
// is_running crash-recovery marker that exists only in this local file.
type State struct {
	CurrentPage      int       `json:"current_page"`
	BatchSize        int       `json:"batch_size"`
	TotalURLs        int       `json:"total_urls"`
	URLsProcessed    int       `json:"urls_processed"`
	SuccessfulCrawls int       `json:"successful_crawls"`
	FailedCrawls     int       `json:"failed_crawls"`
	LastUpdate       time.Time `json:"last_update"`
	SessionID        int64     `json:"session_id"`
	DBName           string    `json:"db_name"`
	IsRunning        bool      `json:"is_running"`
}

// Default returns the zero-progress starting state. CurrentPage starts at 1
// per spec: it names the next page to process, not the last completed.
func Default() State {
	return State{CurrentPage: 1}
}

// Load reads path and merges it onto Default(), so added fields in an
// older file do not zero out the rest of the state. A missing file
// returns Default() with no error. Crash recovery: if the loaded state
// has IsRunning true (the process died mid-run without saving a clean
// stop), it is coerced to false.
func Load(path string) (State, error) {
	state := Default()

	raw, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return state, nil
	}
	if err != nil {
		return State{}, fmt.Errorf("progress: read %s: %w", path, err)
	}

	if err := json.Unmarshal(raw, &state); err != nil {
		return State{}, fmt.Errorf("progress: parse %s: %w", path, err)
	}

	state.IsRunning = false
	return state, nil
}

// Save writes state to path atomically: it writes to a temp file in the
// same directory and renames over the target, so a crash mid-write never
// leaves a truncated progress file.
func Save(path string, state State) error {
	state.LastUpdate = time.Now().UTC()

	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return fmt.Errorf("progress: marshal: %w", err)
	}

	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".progress-*.tmp")
	if err != nil {
		return fmt.Errorf("progress: create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("progress: write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("progress: close temp file: %w", err)
	}

	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("progress: rename into %s: %w", path, err)
	}
	return nil
}

// Reset overwrites path with the default state, used by --reset.
func Reset(path string) error {
	return Save(path, Default())
}
