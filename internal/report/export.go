package report

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/JakeFAU/ludostock-crawler/internal/catalog"
)

// FileCreator opens a file below a report directory.
type FileCreator interface {
	Create(path string) (*os.File, error)
}

// exportFile is a JSON-lines artefact written while a run is in progress.
type exportFile struct {
	f *os.File
}

// Path is the export's file name on disk.
func (e *exportFile) Path() string { return e.f.Name() }

// Close syncs and closes the file.
func (e *exportFile) Close() error {
	if err := e.f.Sync(); err != nil {
		_ = e.f.Close()
		return fmt.Errorf("sync export %s: %w", e.f.Name(), err)
	}
	return e.f.Close()
}

// Open reopens the finished export for reading.
func (e *exportFile) Open() (io.ReadCloser, error) {
	// #nosec G304 -- the path was produced by a FileCreator under the report dir.
	return os.Open(e.f.Name())
}

// Export is the records.jsonl file of one run, written while the crawl runs.
type Export struct {
	*RecordWriter
	exportFile
}

// CreateExport creates <runID>/records.jsonl through fc.
func CreateExport(fc FileCreator, runID string) (*Export, error) {
	f, err := fc.Create(RunPath(runID, RecordsFile))
	if err != nil {
		return nil, fmt.Errorf("create record export: %w", err)
	}
	return &Export{RecordWriter: NewRecordWriter(f), exportFile: exportFile{f: f}}, nil
}

// ReviewExport is the reviews.jsonl file of one review crawl. Writes must be
// serialized by the caller.
type ReviewExport struct {
	exportFile
	enc   *json.Encoder
	count int64
}

// CreateReviewExport creates <runID>/reviews.jsonl through fc.
func CreateReviewExport(fc FileCreator, runID string) (*ReviewExport, error) {
	f, err := fc.Create(RunPath(runID, ReviewsFile))
	if err != nil {
		return nil, fmt.Errorf("create review export: %w", err)
	}
	enc := json.NewEncoder(f)
	enc.SetEscapeHTML(false)
	return &ReviewExport{exportFile: exportFile{f: f}, enc: enc}, nil
}

// Write appends one review.
func (e *ReviewExport) Write(rv catalog.Review) error {
	if err := e.enc.Encode(rv); err != nil {
		return fmt.Errorf("encode review: %w", err)
	}
	e.count++
	return nil
}

// Count reports how many reviews were written.
func (e *ReviewExport) Count() int64 { return e.count }
