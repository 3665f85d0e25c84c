package pipeline

import (
	"time"

	"github.com/ppiankov/sentinel/internal/model"
)

// EventKind names a pipeline event.
type EventKind string

const (
	EventClassified EventKind = "classified"
	EventSkipped    EventKind = "skipped"
	EventLockdown   EventKind = "lockdown"
	EventRestart    EventKind = "restart"
	EventOracleCall EventKind = "oracle_call"
)

// Event is emitted to sinks (audit trail, metrics, alerts) as the driver
// works. Every consumed record produces exactly one classified or skipped
// event.
type Event struct {
	Kind     EventKind
	RunID    string
	Stream   string
	Backend  string
	Record   model.LogRecord
	Verdict  *model.RecordVerdict
	Report   *model.AuditReport
	Err      error
	Duration time.Duration
	At       time.Time
}

// Sink consumes pipeline events. Handle must not block for long; the
// driver calls it inline.
type Sink interface {
	Handle(ev Event)
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ev Event)

// Handle calls f(ev).
func (f SinkFunc) Handle(ev Event) { f(ev) }
