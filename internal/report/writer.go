package report

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"path"

	"go.uber.org/zap"

	"github.com/JakeFAU/ludostock-crawler/internal/catalog"
)

// Artefact names written under the run directory.
const (
	SummaryFile     = "summary.csv"
	SummaryJSONFile = "summary.json"
	BrokenFile      = "broken_urls.txt"
	FailedPagesFile = "failed_pages.txt"
	RecordsFile     = "records.jsonl"
	ReviewsFile     = "reviews.jsonl"
)

// Writer persists run artefacts to one or more blob stores.
type Writer struct {
	stores []catalog.BlobStore
	logger *zap.Logger
}

// NewWriter builds a Writer. Every artefact goes to every store; the first
// store is the primary one whose URIs end up in the summary.
func NewWriter(logger *zap.Logger, stores ...catalog.BlobStore) (*Writer, error) {
	if len(stores) == 0 {
		return nil, errors.New("at least one blob store is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Writer{stores: stores, logger: logger}, nil
}

// RunPath returns the object path of name for runID.
func RunPath(runID, name string) string {
	return path.Join(runID, name)
}

// Write stores summary.csv, broken_urls.txt, failed_pages.txt and
// summary.json. It attempts every artefact even when one fails and returns
// the joined errors. s.Artifacts is filled with the primary store's URIs.
func (w *Writer) Write(ctx context.Context, s *Summary) error {
	var csvBuf, brokenBuf, pagesBuf bytes.Buffer
	if err := WriteCSV(&csvBuf, *s); err != nil {
		return err
	}
	if err := WriteLines(&brokenBuf, s.Broken); err != nil {
		return err
	}
	if err := WriteLines(&pagesBuf, PageLines(s.FailedPages)); err != nil {
		return err
	}

	if s.Artifacts == nil {
		s.Artifacts = make(map[string]string)
	}
	var errs []error
	put := func(name, contentType string, body []byte) {
		for i, store := range w.stores {
			uri, err := store.PutObject(ctx, RunPath(s.RunID, name), contentType, bytes.NewReader(body))
			if err != nil {
				errs = append(errs, fmt.Errorf("write %s: %w", name, err))
				continue
			}
			if i == 0 {
				s.Artifacts[name] = uri
			}
		}
	}
	put(SummaryFile, "text/csv", csvBuf.Bytes())
	put(BrokenFile, "text/plain", brokenBuf.Bytes())
	put(FailedPagesFile, "text/plain", pagesBuf.Bytes())

	body, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		errs = append(errs, fmt.Errorf("marshal summary: %w", err))
	} else {
		put(SummaryJSONFile, "application/json", body)
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	w.logger.Info("report written",
		zap.String("run_id", s.RunID),
		zap.String("summary", s.Artifacts[SummaryFile]),
		zap.Int("broken", len(s.Broken)),
	)
	return nil
}

// Upload copies an already written artefact, such as the record export, to
// the secondary stores.
func (w *Writer) Upload(ctx context.Context, runID, name, contentType string, open func() (io.ReadCloser, error)) error {
	var errs []error
	for _, store := range w.stores[1:] {
		rc, err := open()
		if err != nil {
			return fmt.Errorf("open %s: %w", name, err)
		}
		if _, err := store.PutObject(ctx, RunPath(runID, name), contentType, rc); err != nil {
			errs = append(errs, fmt.Errorf("upload %s: %w", name, err))
		}
		_ = rc.Close()
	}
	return errors.Join(errs...)
}
