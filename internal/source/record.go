// Package source produces ordered log records from a finite batch document
// or from a live, append-only log file.
package source

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ppiankov/sentinel/internal/model"
)

// ErrNoData is returned by a watch source when no complete line has been
// appended since the last read. The caller decides how long to idle.
var ErrNoData = errors.New("source: no data yet")

// Error is a stream failure: the file vanished, became unreadable, or the
// batch document could not be loaded.
type Error struct {
	Op   string
	Path string
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("source %s %s: %v", e.Op, e.Path, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// entry is the structured shape of one log object.
type entry struct {
	Timestamp  *string               `json:"timestamp"`
	Role       string                `json:"role"`
	Content    *string               `json:"content"`
	Parameters map[string]any        `json:"parameters"`
	Metadata   *model.RecordMetadata `json:"metadata"`
}

// parseEntry turns raw bytes into a record. Anything that is not a JSON
// object with string timestamp and content is wrapped as a fallback record
// carrying the raw text and the wall-clock time of the read.
func parseEntry(raw []byte, offset int64, line int, now time.Time) model.LogRecord {
	text := strings.ToValidUTF8(strings.TrimSpace(string(raw)), "�")

	var e entry
	if strings.HasPrefix(text, "{") && json.Unmarshal([]byte(text), &e) == nil &&
		e.Timestamp != nil && e.Content != nil {
		return model.LogRecord{
			Offset:     offset,
			Line:       line,
			Timestamp:  *e.Timestamp,
			Role:       e.Role,
			Content:    *e.Content,
			Parameters: e.Parameters,
			Metadata:   e.Metadata,
		}
	}

	return model.LogRecord{
		Offset:    offset,
		Line:      line,
		Timestamp: now.UTC().Format(time.RFC3339Nano),
		Content:   text,
		Fallback:  true,
	}
}
