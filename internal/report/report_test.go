package report

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/TheBoringRats/ratcrowler/internal/progress"
	"github.com/TheBoringRats/ratcrowler/internal/store"
)

func TestBuild_MergesProgressAndStoreSummary(t *testing.T) {
	state := progress.State{
		SessionID:        7,
		DBName:           "crawl-1",
		CurrentPage:      3,
		TotalURLs:        100,
		URLsProcessed:    60,
		SuccessfulCrawls: 55,
		FailedCrawls:     5,
		IsRunning:        true,
		LastUpdate:       time.Now(),
	}
	backend := store.Summary{
		PagesCrawled: 55,
		Backlinks:    200,
		ErrorsByType: map[string]int{"TIMEOUT": 3, "HTTP_ERROR": 2},
	}

	summary := Build(state, backend)

	if summary.SessionID != 7 || summary.DBName != "crawl-1" {
		t.Errorf("unexpected session fields: %+v", summary)
	}
	if summary.PagesCrawled != 55 || summary.Backlinks != 200 {
		t.Errorf("unexpected backend fields: %+v", summary)
	}
	if summary.ErrorsByType["TIMEOUT"] != 3 {
		t.Errorf("unexpected error counts: %+v", summary.ErrorsByType)
	}
}

func TestWriteJSON(t *testing.T) {
	summary := Summary{SessionID: 1, DBName: "crawl-1"}
	var buf bytes.Buffer
	if err := WriteJSON(&buf, summary); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(buf.String(), `"DBName": "crawl-1"`) {
		t.Errorf("expected JSON to contain DBName, got %s", buf.String())
	}
}

func TestWriteText(t *testing.T) {
	summary := Summary{
		SessionID:     1,
		DBName:        "crawl-1",
		CurrentPage:   2,
		TotalURLs:     50,
		URLsProcessed: 20,
		PagesCrawled:  18,
		ErrorsByType:  map[string]int{"TIMEOUT": 2},
	}
	var buf bytes.Buffer
	if err := WriteText(&buf, summary); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	out := buf.String()
	if !strings.Contains(out, "page 2, 20/50 URLs processed") {
		t.Errorf("expected progress line in output, got %q", out)
	}
	if !strings.Contains(out, "TIMEOUT: 2") {
		t.Errorf("expected error line in output, got %q", out)
	}
}
