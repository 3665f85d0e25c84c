package model

import "unicode/utf8"

// LogRecord is one unit of monitored data. Identity is the stream offset at
// read time; a record is never mutated after the source hands it out.
type LogRecord struct {
	Offset     int64           `json:"offset"`
	Line       int             `json:"line,omitempty"`
	Timestamp  string          `json:"timestamp"`
	Role       string          `json:"role,omitempty"`
	Content    string          `json:"content"`
	Parameters map[string]any  `json:"parameters,omitempty"`
	Metadata   *RecordMetadata `json:"metadata,omitempty"`

	// Fallback is set when the raw input was not a well-formed structured
	// entry and Content carries the raw line.
	Fallback bool `json:"-"`
}

// RecordMetadata carries optional agent reasoning attached to a log entry.
type RecordMetadata struct {
	Reasoning string `json:"reasoning,omitempty"`
}

// Preview returns at most n runes of the record content.
func (r LogRecord) Preview(n int) string {
	if utf8.RuneCountInString(r.Content) <= n {
		return r.Content
	}
	runes := []rune(r.Content)
	return string(runes[:n]) + "..."
}
