// Package report renders the end-of-run summary and the per-run artefacts
// (summary.csv, broken_urls.txt, failed_pages.txt, records.jsonl).
package report

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"time"
)

// Run kinds recorded in Summary.Kind.
const (
	KindCrawl   = "crawl"
	KindImport  = "import"
	KindReviews = "reviews"
)

// Summary is the per-run report. It is also the run-completion message body.
// Interrupted marks a run stopped by the operator; Aborted marks one stopped
// because the store kept failing. Either way the counts cover a partial run.
type Summary struct {
	RunID             string            `json:"run_id"`
	Kind              string            `json:"kind,omitempty"`
	StartPage         int               `json:"start_page"`
	EndPage           int               `json:"end_page"`
	LastCompletedPage int               `json:"last_completed_page"`
	PagesCompleted    int               `json:"pages_completed"`
	FailedPages       []int             `json:"failed_pages,omitempty"`
	Collected         int64             `json:"collected"`
	Created           int64             `json:"created"`
	Skipped           int64             `json:"skipped"`
	Failed            int64             `json:"failed"`
	NotIngested       int64             `json:"not_ingested"`
	Broken            []string          `json:"broken_urls,omitempty"`
	Interrupted       bool              `json:"interrupted"`
	Aborted           bool              `json:"aborted"`
	Error             string            `json:"error,omitempty"`
	StartedAt         time.Time         `json:"started_at"`
	FinishedAt        time.Time         `json:"finished_at"`
	Artifacts         map[string]string `json:"artifacts,omitempty"`
}

// Elapsed is the wall-clock duration of the run.
func (s Summary) Elapsed() time.Duration {
	if s.FinishedAt.Before(s.StartedAt) {
		return 0
	}
	return s.FinishedAt.Sub(s.StartedAt)
}

// ResumePage is the page a follow-up run should start from.
func (s Summary) ResumePage() int {
	if s.LastCompletedPage >= s.StartPage {
		return s.LastCompletedPage + 1
	}
	return s.StartPage
}

// Rows lists the summary as metric,value pairs in a stable order.
func (s Summary) Rows() [][2]string {
	return [][2]string{
		{"run_id", s.RunID},
		{"kind", s.Kind},
		{"start_page", strconv.Itoa(s.StartPage)},
		{"end_page", strconv.Itoa(s.EndPage)},
		{"pages_completed", strconv.Itoa(s.PagesCompleted)},
		{"last_completed_page", strconv.Itoa(s.LastCompletedPage)},
		{"failed_pages", strconv.Itoa(len(s.FailedPages))},
		{"collected", strconv.FormatInt(s.Collected, 10)},
		{"created", strconv.FormatInt(s.Created, 10)},
		{"skipped", strconv.FormatInt(s.Skipped, 10)},
		{"failed", strconv.FormatInt(s.Failed, 10)},
		{"not_ingested", strconv.FormatInt(s.NotIngested, 10)},
		{"broken", strconv.Itoa(len(s.Broken))},
		{"interrupted", strconv.FormatBool(s.Interrupted)},
		{"aborted", strconv.FormatBool(s.Aborted)},
		{"error", s.Error},
		{"started_at", s.StartedAt.UTC().Format(time.RFC3339)},
		{"finished_at", s.FinishedAt.UTC().Format(time.RFC3339)},
		{"elapsed_seconds", strconv.FormatFloat(s.Elapsed().Seconds(), 'f', 3, 64)},
	}
}

// WriteCSV writes the summary as a two-column metric,value table.
func WriteCSV(w io.Writer, s Summary) error {
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"metric", "value"}); err != nil {
		return fmt.Errorf("write summary header: %w", err)
	}
	for _, row := range s.Rows() {
		if err := cw.Write(row[:]); err != nil {
			return fmt.Errorf("write summary row %s: %w", row[0], err)
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return fmt.Errorf("flush summary: %w", err)
	}
	return nil
}

// WriteLines writes one entry per line.
func WriteLines(w io.Writer, lines []string) error {
	for _, line := range lines {
		if _, err := io.WriteString(w, line+"\n"); err != nil {
			return fmt.Errorf("write line: %w", err)
		}
	}
	return nil
}

// PageLines renders page indexes for WriteLines.
func PageLines(pages []int) []string {
	out := make([]string, len(pages))
	for i, p := range pages {
		out[i] = strconv.Itoa(p)
	}
	return out
}
