package report

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/JakeFAU/ludostock-crawler/internal/catalog"
)

const maxRecordLine = 4 << 20

// RecordWriter appends RawRecords as JSON lines. Safe for concurrent use.
type RecordWriter struct {
	mu    sync.Mutex
	enc   *json.Encoder
	count int64
}

// NewRecordWriter wraps w.
func NewRecordWriter(w io.Writer) *RecordWriter {
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	return &RecordWriter{enc: enc}
}

// Write appends one record.
func (r *RecordWriter) Write(rec catalog.RawRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.enc.Encode(rec); err != nil {
		return fmt.Errorf("encode record %s: %w", rec.URL, err)
	}
	r.count++
	return nil
}

// Count reports how many records were written.
func (r *RecordWriter) Count() int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.count
}

// ReadRecords decodes a JSON-lines export and hands each record to fn in file
// order. Blank lines are ignored. It stops at the first error from fn.
func ReadRecords(ctx context.Context, r io.Reader, fn func(catalog.RawRecord) error) (int, error) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), maxRecordLine)
	n, line := 0, 0
	for sc.Scan() {
		line++
		if err := ctx.Err(); err != nil {
			return n, err
		}
		text := strings.TrimSpace(sc.Text())
		if text == "" {
			continue
		}
		var rec catalog.RawRecord
		if err := json.Unmarshal([]byte(text), &rec); err != nil {
			return n, fmt.Errorf("decode record on line %d: %w", line, err)
		}
		if err := fn(rec); err != nil {
			return n, err
		}
		n++
	}
	if err := sc.Err(); err != nil {
		return n, fmt.Errorf("read records: %w", err)
	}
	return n, nil
}
