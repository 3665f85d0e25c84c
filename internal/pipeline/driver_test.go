package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/ppiankov/sentinel/internal/latch"
	"github.com/ppiankov/sentinel/internal/model"
	"github.com/ppiankov/sentinel/internal/oracle"
	"github.com/ppiankov/sentinel/internal/scan"
	"github.com/ppiankov/sentinel/internal/source"
)

// stubClassifier returns scripted responses per call.
type stubClassifier struct {
	calls   int
	records [][]model.LogRecord
	respond func(req oracle.Request) (*model.AuditReport, error)
}

func (s *stubClassifier) Name() string { return "stub" }

func (s *stubClassifier) Classify(_ context.Context, req oracle.Request) (*model.AuditReport, error) {
	s.calls++
	s.records = append(s.records, req.Records)
	return s.respond(req)
}

// cleanReport judges every record clean.
func cleanReport(req oracle.Request) (*model.AuditReport, error) {
	r := &model.AuditReport{
		RunID:                 req.RunID,
		Mode:                  req.Mode,
		OverallIntegrityScore: 100,
		ReasoningHealthScore:  100,
		TotalLogsProcessed:    len(req.Records),
		ExecutiveSummary:      "clean",
		Compliance:            model.CompliancePass,
	}
	for _, rec := range req.Records {
		r.Results = append(r.Results, model.RecordVerdict{
			Offset: rec.Offset, Timestamp: rec.Timestamp, LogPreview: rec.Preview(40),
			IntegrityScore: 100, ReasoningHealthScore: 100, ComplianceStatus: model.StatusClean,
			Findings: []model.Finding{},
		})
	}
	return r, nil
}

// addressAware flags records mentioning "Main St" as critical violations.
func addressAware(req oracle.Request) (*model.AuditReport, error) {
	r, _ := cleanReport(req)
	for i, rec := range req.Records {
		if strings.Contains(rec.Content, "Main St") {
			r.Results[i].ReasoningHealthScore = 3
			r.Results[i].IntegrityScore = 10
			r.Results[i].ComplianceStatus = model.StatusAxiomViolation
			r.Results[i].Findings = []model.Finding{{
				Timestamp: rec.Timestamp, Kind: model.KindAddress, DriftType: model.DriftConstitutionalViolation,
				Severity: model.SeverityCritical, Description: "street address", Evidence: "12*******St",
				SuggestedCorrection: "remove", AxiomTriggered: model.AxiomPII,
			}}
			r.IsLockdown = true
			r.Compliance = model.ComplianceFail
		}
	}
	return r, nil
}

type recordingReporter struct{ reports []*model.AuditReport }

func (r *recordingReporter) Report(report *model.AuditReport) error {
	r.reports = append(r.reports, report)
	return nil
}

type eventLog struct{ events []Event }

func (l *eventLog) Handle(ev Event) { l.events = append(l.events, ev) }

func (l *eventLog) count(kind EventKind) int {
	n := 0
	for _, ev := range l.events {
		if ev.Kind == kind {
			n++
		}
	}
	return n
}

type harness struct {
	driver   *Driver
	stub     *stubClassifier
	latch    *latch.Latch
	reporter *recordingReporter
	events   *eventLog
	artifact string
}

func newHarness(t *testing.T, mode model.Mode, respond func(oracle.Request) (*model.AuditReport, error)) *harness {
	t.Helper()
	s, err := scan.New(nil)
	if err != nil {
		t.Fatal(err)
	}
	h := &harness{
		stub:     &stubClassifier{respond: respond},
		reporter: &recordingReporter{},
		events:   &eventLog{},
		artifact: filepath.Join(t.TempDir(), "LOCKDOWN_TRACE.md"),
	}
	h.latch = latch.New(h.artifact)
	h.driver, err = New(Config{Mode: mode, IdleInterval: time.Millisecond, Cooldown: time.Millisecond}, Deps{
		Classifier: h.stub,
		Latch:      h.latch,
		Scanner:    s,
		Reporter:   h.reporter,
		Sinks:      []Sink{h.events},
		Waiter:     noWait{},
	})
	if err != nil {
		t.Fatal(err)
	}
	h.driver.sleep = func(context.Context, time.Duration) error { return nil }
	return h
}

type noWait struct{}

func (noWait) Wait(ctx context.Context, _ time.Duration) error { return ctx.Err() }
func (noWait) Close() error { return nil }

func records(contents ...string) []model.LogRecord {
	out := make([]model.LogRecord, len(contents))
	for i, c := range contents {
		out[i] = model.LogRecord{Offset: int64(i), Timestamp: fmt.Sprintf("2025-01-01T00:00:0%dZ", i), Content: c}
	}
	return out
}

// Scenario A: a clean batch passes.
func TestBatchCleanScenario(t *testing.T) {
	h := newHarness(t, model.ModeAnalytical, cleanReport)
	outcome, report, err := h.driver.RunBatch(context.Background(), source.NewBatch(records("a", "b", "c")))
	if err != nil {
		t.Fatalf("RunBatch: %v", err)
	}
	if outcome != OutcomeClean {
		t.Errorf("outcome = %s", outcome)
	}
	if report.IsLockdown || report.Compliance != model.CompliancePass || report.Count(model.StatusClean) != 3 {
		t.Errorf("unexpected report: %+v", report)
	}
	if h.stub.calls != 1 || len(h.stub.records[0]) != 3 {
		t.Errorf("batch should be one call with all records, got %d calls", h.stub.calls)
	}
	if len(h.reporter.reports) != 1 {
		t.Errorf("reporter should receive one report, got %d", len(h.reporter.reports))
	}
	if h.events.count(EventClassified) != 3 {
		t.Errorf("expected 3 classified events, got %d", h.events.count(EventClassified))
	}
}

func TestBatchLockdown(t *testing.T) {
	h := newHarness(t, model.ModeAnalytical, addressAware)
	outcome, report, err := h.driver.RunBatch(context.Background(),
		source.NewBatch(records("ok", "ship to 123 Main St", "also 456 Main St")))
	if err != nil {
		t.Fatal(err)
	}
	if outcome != OutcomeLockdown || !report.IsLockdown {
		t.Fatalf("expected lockdown, got %s", outcome)
	}
	if _, err := os.Stat(h.artifact); err != nil {
		t.Fatalf("artifact not written: %v", err)
	}
	if h.events.count(EventLockdown) != 1 {
		t.Errorf("lockdown event should fire once, got %d", h.events.count(EventLockdown))
	}
}

func TestBatchOracleFailureSkips(t *testing.T) {
	h := newHarness(t, model.ModeAnalytical, func(oracle.Request) (*model.AuditReport, error) {
		return nil, &oracle.Failure{Backend: "stub", Reason: oracle.ReasonTransport, Err: context.DeadlineExceeded}
	})
	outcome, report, err := h.driver.RunBatch(context.Background(), source.NewBatch(records("a", "b")))
	if err != nil || outcome != OutcomeClean || report != nil {
		t.Fatalf("oracle failure must not be fatal: outcome=%s report=%v err=%v", outcome, report, err)
	}
	if h.events.count(EventSkipped) != 2 {
		t.Errorf("each record should be reported skipped, got %d", h.events.count(EventSkipped))
	}
	if h.latch.Locked() {
		t.Error("oracle failure must never lock")
	}
}

func TestBatchSourceErrorIsFatal(t *testing.T) {
	h := newHarness(t, model.ModeAnalytical, cleanReport)
	_, _, err := h.driver.RunBatch(context.Background(), &scriptedSource{steps: []step{{err: &source.Error{Op: "read", Path: "x", Err: io.ErrUnexpectedEOF}}}})
	var serr *source.Error
	if !errors.As(err, &serr) {
		t.Fatalf("expected source error, got %v", err)
	}
}

func TestBatchEmptyDoesNotCallOracle(t *testing.T) {
	h := newHarness(t, model.ModeAnalytical, cleanReport)
	outcome, report, err := h.driver.RunBatch(context.Background(), source.NewBatch(nil))
	if err != nil || outcome != OutcomeClean || report != nil || h.stub.calls != 0 {
		t.Errorf("empty batch: outcome=%s report=%v err=%v calls=%d", outcome, report, err, h.stub.calls)
	}
}

func TestDeterministicModeSendsHints(t *testing.T) {
	var hints [][]scan.Match
	h := newHarness(t, model.ModeDeterministic, func(req oracle.Request) (*model.AuditReport, error) {
		hints = req.Hints
		return cleanReport(req)
	})
	outcome, report, err := h.driver.RunBatch(context.Background(), source.NewBatch(records("ssn 123-45-6789 saved")))
	if err != nil {
		t.Fatal(err)
	}
	if len(hints) != 1 || len(hints[0]) == 0 || hints[0][0].Kind != model.KindSSN {
		t.Errorf("expected ssn hint, got %+v", hints)
	}
	// The oracle called it clean; local enforcement overrides.
	if report.Results[0].ComplianceStatus != model.StatusAxiomViolation || outcome != OutcomeLockdown {
		t.Errorf("deterministic pattern hit must be a violation: %+v outcome=%s", report.Results[0], outcome)
	}
}

// scriptedSource replays a fixed sequence of Next results.
type step struct {
	rec model.LogRecord
	err error
}

type scriptedSource struct {
	steps   []step
	pos     int
	pulls   int
	reopens int
	onPull  func(n int)
}

func (s *scriptedSource) Name() string { return "scripted" }

func (s *scriptedSource) Next() (model.LogRecord, error) {
	s.pulls++
	if s.onPull != nil {
		s.onPull(s.pulls)
	}
	if s.pos >= len(s.steps) {
		return model.LogRecord{}, io.EOF
	}
	st := s.steps[s.pos]
	s.pos++
	return st.rec, st.err
}

func (s *scriptedSource) Reopen() error {
	s.reopens++
	return nil
}

func rec(offset int64, content string) step {
	return step{rec: model.LogRecord{Offset: offset, Timestamp: "t", Content: content}}
}

// Scenario B: an address line trips the latch and nothing further is read.
func TestWatchAddressLockdown(t *testing.T) {
	h := newHarness(t, model.ModeDeterministic, addressAware)
	src := &scriptedSource{steps: []step{
		rec(0, "user logged in"),
		{err: source.ErrNoData},
		rec(15, "shipping to 123 Main St"),
		rec(40, "never read"),
	}}

	outcome, err := h.driver.Watch(context.Background(), src)
	if err != nil {
		t.Fatal(err)
	}
	if outcome != OutcomeLockdown {
		t.Fatalf("outcome = %s, want lockdown", outcome)
	}
	if src.pulls != 3 {
		t.Errorf("no pull may happen after lockdown, pulls = %d", src.pulls)
	}
	if h.stub.calls != 2 {
		t.Errorf("calls = %d, want 2", h.stub.calls)
	}
	last := h.reporter.reports[len(h.reporter.reports)-1]
	if !last.IsLockdown || last.Results[0].Findings[0].Kind != model.KindAddress || last.Results[0].ReasoningHealthScore >= 10 {
		t.Errorf("unexpected lockdown report: %+v", last)
	}
	data, err := os.ReadFile(h.artifact)
	if err != nil {
		t.Fatalf("artifact missing: %v", err)
	}
	if !strings.Contains(string(data), "offset=15") {
		t.Errorf("artifact trace should cite offset 15:\n%s", data)
	}
}

// Scenario C: an oracle timeout skips one record and the stream continues.
func TestWatchOracleFailureContinues(t *testing.T) {
	calls := 0
	h := newHarness(t, model.ModeAnalytical, func(req oracle.Request) (*model.AuditReport, error) {
		calls++
		if calls == 1 {
			return nil, &oracle.Failure{Backend: "stub", Reason: oracle.ReasonTransport, Err: context.DeadlineExceeded}
		}
		return cleanReport(req)
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	src := &scriptedSource{steps: []step{rec(0, "first"), rec(6, "second")}}
	src.onPull = func(n int) {
		if n > 2 {
			cancel()
		}
	}
	// After the scripted steps the source reports no data.
	src.steps = append(src.steps, step{err: source.ErrNoData})

	outcome, err := h.driver.Watch(ctx, src)
	if err != nil || outcome != OutcomeClean {
		t.Fatalf("outcome=%s err=%v", outcome, err)
	}
	if h.latch.State() != latch.Watching {
		t.Error("latch must remain WATCHING")
	}
	if h.events.count(EventSkipped) != 1 || h.events.count(EventClassified) != 1 {
		t.Errorf("skipped=%d classified=%d", h.events.count(EventSkipped), h.events.count(EventClassified))
	}
	if len(h.stub.records) != 2 || h.stub.records[1][0].Content != "second" {
		t.Errorf("second record should still be classified: %+v", h.stub.records)
	}
}

func TestWatchRestartsOnStreamError(t *testing.T) {
	h := newHarness(t, model.ModeAnalytical, cleanReport)
	streamErr := &source.Error{Op: "stat", Path: "x", Err: os.ErrNotExist}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	src := &scriptedSource{steps: []step{{err: streamErr}, {err: streamErr}, rec(0, "after restart"), {err: source.ErrNoData}}}
	src.onPull = func(n int) {
		if n >= 4 {
			cancel()
		}
	}

	outcome, err := h.driver.Watch(ctx, src)
	if err != nil || outcome != OutcomeClean {
		t.Fatalf("outcome=%s err=%v", outcome, err)
	}
	if src.reopens != 2 {
		t.Errorf("reopens = %d, want 2", src.reopens)
	}
	if h.events.count(EventRestart) != 2 || h.events.count(EventClassified) != 1 {
		t.Errorf("restart=%d classified=%d", h.events.count(EventRestart), h.events.count(EventClassified))
	}
}

func TestWatchGivesUpAfterMaxRestarts(t *testing.T) {
	h := newHarness(t, model.ModeAnalytical, cleanReport)
	h.driver.cfg.MaxRestarts = 3
	streamErr := &source.Error{Op: "stat", Path: "x", Err: os.ErrNotExist}
	steps := make([]step, 10)
	for i := range steps {
		steps[i] = step{err: streamErr}
	}
	src := &scriptedSource{steps: steps}

	outcome, err := h.driver.Watch(context.Background(), src)
	if err == nil || outcome != OutcomeClean {
		t.Fatalf("expected give-up error, got outcome=%s err=%v", outcome, err)
	}
	var serr *source.Error
	if !errors.As(err, &serr) {
		t.Errorf("error should wrap the stream error: %v", err)
	}
	if src.pulls != 4 {
		t.Errorf("pulls = %d, want 4", src.pulls)
	}
}

func TestLockedLatchNeverPulls(t *testing.T) {
	h := newHarness(t, model.ModeAnalytical, cleanReport)
	if err := os.WriteFile(h.artifact, []byte("previous lockdown"), 0o600); err != nil {
		t.Fatal(err)
	}
	if locked, err := h.latch.Resume(latch.StayLocked); err != nil || !locked {
		t.Fatalf("Resume: %v", err)
	}

	src := &scriptedSource{steps: []step{rec(0, "x")}}
	outcome, err := h.driver.Watch(context.Background(), src)
	if err != nil || outcome != OutcomeLockdown {
		t.Fatalf("outcome=%s err=%v", outcome, err)
	}
	batchOutcome, _, err := h.driver.RunBatch(context.Background(), src)
	if err != nil || batchOutcome != OutcomeLockdown {
		t.Fatalf("batch outcome=%s err=%v", batchOutcome, err)
	}
	if src.pulls != 0 || h.stub.calls != 0 {
		t.Errorf("locked latch must block source and oracle: pulls=%d calls=%d", src.pulls, h.stub.calls)
	}
}

func TestIndependentPipelines(t *testing.T) {
	a := newHarness(t, model.ModeAnalytical, addressAware)
	b := newHarness(t, model.ModeAnalytical, addressAware)
	if _, _, err := a.driver.RunBatch(context.Background(), source.NewBatch(records("9 Main St"))); err != nil {
		t.Fatal(err)
	}
	if !a.latch.Locked() || b.latch.Locked() {
		t.Error("pipelines must not share latch state")
	}
}
