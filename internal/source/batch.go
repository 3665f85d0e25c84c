package source

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/ppiankov/sentinel/internal/model"
)

// BatchSource is a finite, pre-loaded sequence of records parsed from a
// JSON document holding an array of log objects.
type BatchSource struct {
	path    string
	records []model.LogRecord
	pos     int
}

// OpenBatch reads and parses the batch document at path.
func OpenBatch(path string) (*BatchSource, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &Error{Op: "read", Path: path, Err: err}
	}
	records, err := ParseBatch(data, time.Now())
	if err != nil {
		return nil, &Error{Op: "parse", Path: path, Err: err}
	}
	return &BatchSource{path: path, records: records}, nil
}

// NewBatch wraps already-materialized records.
func NewBatch(records []model.LogRecord) *BatchSource {
	return &BatchSource{path: "<memory>", records: records}
}

// ParseBatch decodes a JSON array of log entries. Each element's identity
// is its index in the array. Blank string elements are dropped; elements
// that are not structured log objects become fallback records.
func ParseBatch(data []byte, now time.Time) ([]model.LogRecord, error) {
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("batch document must be a JSON array: %w", err)
	}

	records := make([]model.LogRecord, 0, len(raw))
	for i, elem := range raw {
		elem = bytes.TrimSpace(elem)
		var s string
		if len(elem) > 0 && elem[0] == '"' && json.Unmarshal(elem, &s) == nil {
			if len(bytes.TrimSpace([]byte(s))) == 0 {
				continue
			}
			elem = []byte(s)
		}
		if len(elem) == 0 || bytes.Equal(elem, []byte("null")) {
			continue
		}
		records = append(records, parseEntry(elem, int64(i), i+1, now))
	}
	return records, nil
}

// Next returns the next record, or io.EOF once the batch is exhausted.
func (b *BatchSource) Next() (model.LogRecord, error) {
	if b.pos >= len(b.records) {
		return model.LogRecord{}, io.EOF
	}
	rec := b.records[b.pos]
	b.pos++
	return rec, nil
}

// Len returns the number of records in the batch.
func (b *BatchSource) Len() int { return len(b.records) }

// Name identifies the stream for logs and artifacts.
func (b *BatchSource) Name() string { return b.path }
