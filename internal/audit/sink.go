package audit

import (
	"log/slog"

	"github.com/ppiankov/sentinel/internal/pipeline"
)

// Sink records pipeline events into a Recorder. Write failures are logged
// and never stop the pipeline.
type Sink struct {
	rec    Recorder
	logger *slog.Logger
}

// NewSink wraps rec.
func NewSink(rec Recorder, logger *slog.Logger) *Sink {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Sink{rec: rec, logger: logger}
}

// Handle implements pipeline.Sink.
func (s *Sink) Handle(ev pipeline.Event) {
	entry, ok := EntryFor(ev)
	if !ok {
		return
	}
	if err := s.rec.Record(entry); err != nil {
		s.logger.Error("audit write failed", "kind", entry.Kind, "run_id", entry.RunID, "error", err)
	}
}

// EntryFor maps a pipeline event to an audit entry. Oracle call timing
// events are not audited.
func EntryFor(ev pipeline.Event) (Entry, bool) {
	e := Entry{
		RunID:  ev.RunID,
		Stream: ev.Stream,
		Offset: ev.Record.Offset,
	}
	if !ev.At.IsZero() {
		e.Timestamp = ev.At.UTC().Format(TimestampFormat)
	}
	if ev.Err != nil {
		e.Reason = ev.Err.Error()
	}

	switch ev.Kind {
	case pipeline.EventClassified:
		e.Kind = KindClassified
		e.RecordHash = recordHash(ev)
		if v := ev.Verdict; v != nil {
			e.Offset = v.Offset
			e.Status = string(v.ComplianceStatus)
			e.Integrity = v.IntegrityScore
			e.ReasoningHealth = v.ReasoningHealthScore
			e.Findings = len(v.Findings)
		}
	case pipeline.EventSkipped:
		e.Kind = KindSkipped
		e.RecordHash = recordHash(ev)
	case pipeline.EventLockdown:
		e.Kind = KindLockdown
		e.Offset = -1
		if ev.Report != nil && ev.Report.LockdownArtifact != nil && e.Reason == "" {
			e.Reason = ev.Report.LockdownArtifact.ViolationSummary
		}
	case pipeline.EventRestart:
		e.Kind = KindRestart
		e.Offset = -1
	default:
		return Entry{}, false
	}
	return e, true
}

func recordHash(ev pipeline.Event) string {
	if ev.Record.Content == "" {
		return ""
	}
	return HashLine([]byte(ev.Record.Content))
}
