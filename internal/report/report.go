// Package report renders the crawl batch's progress and aggregate counts
// for the --status CLI surface. It does not render a web dashboard — see
// DESIGN.md for why WriteHTML was dropped from the teacher's version.
package report

import (
	"encoding/json"
	"fmt"
	"io"
	"text/template"
	"time"

	"github.com/TheBoringRats/ratcrowler/internal/progress"
	"github.com/TheBoringRats/ratcrowler/internal/store"
)

// Summary is the combined view of local batch progress and backend
// aggregate counts shown by the --status command.
type Summary struct {
	SessionID        int64
	DBName           string
	CurrentPage      int
	TotalURLs        int
	URLsProcessed    int
	SuccessfulCrawls int
	FailedCrawls     int
	IsRunning        bool
	LastUpdate       time.Time

	PagesCrawled int
	Backlinks    int
	ErrorsByType map[string]int
}

// Build merges a progress.State with a store.Summary into a single report.
func Build(state progress.State, backend store.Summary) Summary {
	return Summary{
		SessionID:        state.SessionID,
		DBName:           state.DBName,
		CurrentPage:      state.CurrentPage,
		TotalURLs:        state.TotalURLs,
		URLsProcessed:    state.URLsProcessed,
		SuccessfulCrawls: state.SuccessfulCrawls,
		FailedCrawls:     state.FailedCrawls,
		IsRunning:        state.IsRunning,
		LastUpdate:       state.LastUpdate,
		PagesCrawled:     backend.PagesCrawled,
		Backlinks:        backend.Backlinks,
		ErrorsByType:     backend.ErrorsByType,
	}
}

// WriteJSON writes the summary to w as indented JSON.
func WriteJSON(w io.Writer, summary Summary) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(summary); err != nil {
		return fmt.Errorf("report: encode json: %w", err)
	}
	return nil
}

const textTmpl = `Crawl Status
------------
Session:       {{.SessionID}} ({{.DBName}})
Running:       {{.IsRunning}}
Last Update:   {{.LastUpdate.Format "2006-01-02 15:04:05"}}

Progress:      page {{.CurrentPage}}, {{.URLsProcessed}}/{{.TotalURLs}} URLs processed
Successful:    {{.SuccessfulCrawls}}
Failed:        {{.FailedCrawls}}

Pages Stored:  {{.PagesCrawled}}
Backlinks:     {{.Backlinks}}

Errors By Type:
{{- range $errType, $count := .ErrorsByType}}
  {{$errType}}: {{$count}}
{{- else}}
  None
{{- end}}
`

// WriteText writes a human-readable text summary to w.
func WriteText(w io.Writer, summary Summary) error {
	t, err := template.New("textReport").Parse(textTmpl)
	if err != nil {
		return fmt.Errorf("report: parse template: %w", err)
	}
	if err := t.Execute(w, summary); err != nil {
		return fmt.Errorf("report: execute template: %w", err)
	}
	return nil
}
