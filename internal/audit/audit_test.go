package audit

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ppiankov/sentinel/internal/model"
	"github.com/ppiankov/sentinel/internal/oracle"
	"github.com/ppiankov/sentinel/internal/pipeline"
)

func newTestLog(t *testing.T) (*Log, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "audit.jsonl")
	l, err := Open(path)
	if err != nil {
		t.Fatalf("failed to open audit log: %v", err)
	}
	return l, path
}

func testEntry(status string) Entry {
	return Entry{
		Kind:            KindClassified,
		RunID:           "run-test",
		Stream:          "app.log",
		Offset:          42,
		Status:          status,
		Integrity:       90,
		ReasoningHealth: 85,
	}
}

func TestSequentialWritesProduceValidChain(t *testing.T) {
	l, path := newTestLog(t)

	for i := 0; i < 5; i++ {
		if err := l.Record(testEntry("Clean")); err != nil {
			t.Fatalf("record %d: %v", i, err)
		}
	}
	_ = l.Close()

	result := Verify(path)
	if !result.Valid {
		t.Fatalf("expected valid chain, got error at line %d: %s", result.ErrorLine, result.Error)
	}
	if result.Lines != 5 {
		t.Fatalf("expected 5 lines, got %d", result.Lines)
	}
}

func TestVerifyDetectsTamperedEntry(t *testing.T) {
	l, path := newTestLog(t)
	for i := 0; i < 3; i++ {
		if err := l.Record(testEntry("Clean")); err != nil {
			t.Fatalf("record %d: %v", i, err)
		}
	}
	_ = l.Close()

	data, _ := os.ReadFile(path)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	lines[1] = strings.Replace(lines[1], `"Clean"`, `"Drift Detected"`, 1)
	if err := os.WriteFile(path, []byte(strings.Join(lines, "\n")+"\n"), 0o600); err != nil {
		t.Fatal(err)
	}

	result := Verify(path)
	if result.Valid {
		t.Fatal("expected tampered chain to be invalid")
	}
	if result.ErrorLine != 3 {
		t.Fatalf("expected error at line 3, got line %d", result.ErrorLine)
	}
}

func TestVerifyDetectsDeletedEntry(t *testing.T) {
	l, path := newTestLog(t)
	for i := 0; i < 3; i++ {
		if err := l.Record(testEntry("Clean")); err != nil {
			t.Fatal(err)
		}
	}
	_ = l.Close()

	data, _ := os.ReadFile(path)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	kept := []string{lines[0], lines[2]}
	if err := os.WriteFile(path, []byte(strings.Join(kept, "\n")+"\n"), 0o600); err != nil {
		t.Fatal(err)
	}

	result := Verify(path)
	if result.Valid || result.ErrorLine != 2 {
		t.Fatalf("expected break at line 2, got %+v", result)
	}
}

func TestVerifyRejectsMissingGenesis(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.jsonl")
	if err := os.WriteFile(path, []byte(`{"kind":"classified","prev_hash":"sha256:abc"}`+"\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	if result := Verify(path); result.Valid || result.ErrorLine != 1 {
		t.Fatalf("expected genesis failure, got %+v", result)
	}
}

func TestVerifyMissingFile(t *testing.T) {
	if result := Verify(filepath.Join(t.TempDir(), "absent.jsonl")); result.Valid || result.Error == "" {
		t.Fatalf("expected error, got %+v", result)
	}
}

func TestReopenContinuesChain(t *testing.T) {
	l, path := newTestLog(t)
	if err := l.Record(testEntry("Clean")); err != nil {
		t.Fatal(err)
	}
	_ = l.Close()

	l2, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	if err := l2.Record(testEntry("Axiom Violation")); err != nil {
		t.Fatal(err)
	}
	_ = l2.Close()

	if result := Verify(path); !result.Valid || result.Lines != 2 {
		t.Fatalf("chain should span reopen, got %+v", result)
	}
}

func TestConcurrentWritesProduceValidChain(t *testing.T) {
	l, path := newTestLog(t)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = l.Record(testEntry("Clean"))
		}()
	}
	wg.Wait()
	_ = l.Close()

	if result := Verify(path); !result.Valid || result.Lines != 20 {
		t.Fatalf("expected valid 20-line chain, got %+v", result)
	}
}

func TestTailFiltersAndSummarizes(t *testing.T) {
	l, path := newTestLog(t)
	entries := []Entry{
		{Kind: KindClassified, RunID: "run-1", Status: "Clean", ReasoningHealth: 90, Timestamp: "2025-03-01T12:00:00.000Z"},
		{Kind: KindClassified, RunID: "run-2", Status: "Axiom Violation", ReasoningHealth: 3, Timestamp: "2025-03-01T12:00:01.000Z"},
		{Kind: KindSkipped, RunID: "run-3", Reason: "oracle down", Timestamp: "2025-03-01T12:00:02.000Z"},
		{Kind: KindLockdown, RunID: "run-2", Offset: -1, Timestamp: "2025-03-01T12:00:03.000Z"},
	}
	for _, e := range entries {
		if err := l.Record(e); err != nil {
			t.Fatal(err)
		}
	}
	_ = l.Close()

	all, err := Tail(path, 0, Filter{})
	if err != nil {
		t.Fatal(err)
	}
	s := all.Summary
	if s.Total != 4 || s.Classified != 2 || s.Violations != 1 || s.Skipped != 1 || s.Lockdowns != 1 {
		t.Errorf("summary = %+v", s)
	}
	if s.MinHealth != 3 {
		t.Errorf("min health = %v, want 3", s.MinHealth)
	}

	last, _ := Tail(path, 2, Filter{})
	if len(last.Entries) != 2 || last.Entries[1].Kind != KindLockdown {
		t.Errorf("tail 2 = %+v", last.Entries)
	}

	run2, _ := Tail(path, 0, Filter{RunID: "run-2"})
	if len(run2.Entries) != 2 {
		t.Errorf("run-2 filter = %+v", run2.Entries)
	}

	text := FormatTimeline(all)
	for _, want := range []string{"Audit trail | 2025-03-01 12:00:00", "LOCKDOWN", "oracle down", "1 violation", "Min reasoning health: 3"} {
		if !strings.Contains(text, want) {
			t.Errorf("timeline missing %q:\n%s", want, text)
		}
	}
	if got := FormatTimeline(&TailResult{}); got != "No audit entries found.\n" {
		t.Errorf("empty timeline = %q", got)
	}
	if js, err := FormatJSON(all); err != nil || !strings.Contains(js, `"lockdowns": 1`) {
		t.Errorf("json = %s err=%v", js, err)
	}
}

type memRecorder struct {
	entries []Entry
	fail    bool
}

func (m *memRecorder) Record(e Entry) error {
	if m.fail {
		return errors.New("disk full")
	}
	m.entries = append(m.entries, e)
	return nil
}

func (m *memRecorder) Close() error { return nil }

func TestSinkMapsPipelineEvents(t *testing.T) {
	rec := &memRecorder{}
	sink := NewSink(rec, nil)
	at := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	record := model.LogRecord{Offset: 15, Content: "ship to 123 Main St"}

	sink.Handle(pipeline.Event{
		Kind: pipeline.EventClassified, RunID: "run-1", Stream: "app.log", Record: record, At: at,
		Verdict: &model.RecordVerdict{Offset: 15, ComplianceStatus: model.StatusAxiomViolation, ReasoningHealthScore: 3, Findings: []model.Finding{{}}},
	})
	sink.Handle(pipeline.Event{Kind: pipeline.EventSkipped, RunID: "run-2", Record: record, Err: &oracle.Failure{Backend: "http", Reason: oracle.ReasonStatus, Err: errors.New("503")}})
	sink.Handle(pipeline.Event{Kind: pipeline.EventOracleCall, RunID: "run-1"})
	sink.Handle(pipeline.Event{Kind: pipeline.EventLockdown, RunID: "run-1", Report: &model.AuditReport{LockdownArtifact: &model.LockdownArtifact{ViolationSummary: "address"}}})

	if len(rec.entries) != 3 {
		t.Fatalf("expected 3 entries (oracle_call not audited), got %d", len(rec.entries))
	}
	c := rec.entries[0]
	if c.Kind != KindClassified || c.Offset != 15 || c.Status != "Axiom Violation" || c.Findings != 1 || c.Timestamp != "2025-03-01T12:00:00.000Z" {
		t.Errorf("classified entry = %+v", c)
	}
	if c.RecordHash != HashLine([]byte(record.Content)) || strings.Contains(c.RecordHash, "Main St") {
		t.Errorf("record hash = %q", c.RecordHash)
	}
	if s := rec.entries[1]; s.Kind != KindSkipped || !strings.Contains(s.Reason, "503") {
		t.Errorf("skipped entry = %+v", s)
	}
	if l := rec.entries[2]; l.Kind != KindLockdown || l.Reason != "address" || l.Offset != -1 {
		t.Errorf("lockdown entry = %+v", l)
	}

	rec.fail = true
	sink.Handle(pipeline.Event{Kind: pipeline.EventRestart})
}
