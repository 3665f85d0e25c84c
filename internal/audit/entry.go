// Package audit keeps a tamper-evident trail of pipeline outcomes. Each
// entry carries the hash of the previous serialized entry, so a removed,
// reordered or edited line breaks the chain.
package audit

// Entry kinds.
const (
	KindClassified = "classified"
	KindSkipped    = "skipped"
	KindLockdown   = "lockdown"
	KindRestart    = "restart"
)

// Entry is one line in the hash-chained audit trail.
// All fields are scalars (no map[string]any) to guarantee deterministic
// json.Marshal field order for reproducible hashing. Record content is
// never stored, only its hash.
type Entry struct {
	Timestamp       string  `json:"ts"`
	Kind            string  `json:"kind"`
	RunID           string  `json:"run_id,omitempty"`
	Stream          string  `json:"stream,omitempty"`
	Offset          int64   `json:"offset"`
	RecordHash      string  `json:"record_hash,omitempty"`
	Status          string  `json:"status,omitempty"`
	Integrity       float64 `json:"integrity"`
	ReasoningHealth float64 `json:"reasoning_health"`
	Findings        int     `json:"findings"`
	Reason          string  `json:"reason,omitempty"`
	PrevHash        string  `json:"prev_hash"`
}

// Recorder appends entries to a chained store.
type Recorder interface {
	Record(entry Entry) error
	Close() error
}
