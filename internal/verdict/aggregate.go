// Package verdict re-derives the authoritative lockdown decision and the
// per-record compliance invariant from an oracle report. The oracle's own
// flags are never trusted; disagreements are corrected and logged.
package verdict

import (
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/ppiankov/sentinel/internal/model"
	"github.com/ppiankov/sentinel/internal/scan"
)

// DefaultCountermeasure is used when the oracle omits its own.
const DefaultCountermeasure = "Halt the writing agent, purge the affected log segments and rotate any exposed identifiers before resuming."

// Discrepancy is a field where the oracle disagreed with local enforcement.
// Offset is -1 for report-level fields.
type Discrepancy struct {
	Offset int64
	Field  string
	Oracle string
	Local  string
}

// Result is an enforced report plus what enforcement changed.
type Result struct {
	Report        *model.AuditReport
	Discrepancies []Discrepancy

	// Trace is the locally computed logic trace, one line per step.
	Trace []string
}

// Aggregator enforces local policy on oracle reports.
type Aggregator struct {
	scanner *scan.Scanner
	logger  *slog.Logger
}

// New returns an aggregator. A nil scanner disables deterministic-mode
// pattern enforcement; a nil logger discards discrepancy logs.
func New(scanner *scan.Scanner, logger *slog.Logger) *Aggregator {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Aggregator{scanner: scanner, logger: logger}
}

// Aggregate enforces the record invariant, recomputes isLockdown from the
// per-record reasoning-health scores and reconciles the artifact. records
// must be the records sent to the oracle, in the same order as the results.
// The report is modified in place.
func (a *Aggregator) Aggregate(report *model.AuditReport, records []model.LogRecord) Result {
	res := Result{Report: report}
	note := func(offset int64, field, oracle, local string) {
		d := Discrepancy{Offset: offset, Field: field, Oracle: oracle, Local: local}
		res.Discrepancies = append(res.Discrepancies, d)
		a.logger.Warn("oracle discrepancy",
			"run_id", report.RunID, "offset", offset, "field", field, "oracle", oracle, "local", local)
	}

	if report.TotalLogsProcessed != len(report.Results) {
		note(-1, "totalLogsProcessed", strconv.Itoa(report.TotalLogsProcessed), strconv.Itoa(len(report.Results)))
		report.TotalLogsProcessed = len(report.Results)
	}

	for i := range report.Results {
		v := &report.Results[i]
		var rec *model.LogRecord
		if i < len(records) {
			rec = &records[i]
		}
		res.Trace = append(res.Trace, a.enforceRecord(report.Mode, i, v, rec, note)...)
	}

	lowest, ok := report.MinReasoningHealth()
	lockdown := report.LockdownRequired()
	if ok {
		cmp := ">="
		if lockdown {
			cmp = "<"
		}
		res.Trace = append(res.Trace, fmt.Sprintf("batch: min(reasoningHealthScore)=%s %s %s -> isLockdown=%t",
			formatScore(lowest), cmp, formatScore(model.LockdownThreshold), lockdown))
	}
	if report.IsLockdown != lockdown {
		note(-1, "isLockdown", strconv.FormatBool(report.IsLockdown), strconv.FormatBool(lockdown))
		report.IsLockdown = lockdown
	}

	violations := report.Count(model.StatusAxiomViolation)
	switch {
	case lockdown && report.Compliance != model.ComplianceFail,
		violations > 0 && report.Compliance == model.CompliancePass:
		note(-1, "abLabsCompliance", string(report.Compliance), string(model.ComplianceFail))
		report.Compliance = model.ComplianceFail
	}

	a.reconcileArtifact(report, res.Trace, note)
	return res
}

type noteFunc func(offset int64, field, oracle, local string)

// enforceRecord applies deterministic-mode pattern enforcement and the
// status invariant to one verdict and returns its trace lines.
func (a *Aggregator) enforceRecord(mode model.Mode, i int, v *model.RecordVerdict, rec *model.LogRecord, note noteFunc) []string {
	trace := []string{fmt.Sprintf("record[%d] offset=%d timestamp=%s", i, v.Offset, v.Timestamp)}

	var matches []scan.Match
	if a.scanner != nil && rec != nil {
		matches = a.scanner.ScanRecord(*rec)
	}
	for _, m := range matches {
		trace = append(trace, fmt.Sprintf("  matcher %s (%s) fired in %s: %s", m.Rule, m.Kind, m.Field, scan.Mask(m.Value)))
	}

	if mode == model.ModeDeterministic && len(matches) > 0 {
		if v.ComplianceStatus != model.StatusAxiomViolation {
			note(v.Offset, "complianceStatus", string(v.ComplianceStatus), string(model.StatusAxiomViolation))
			v.ComplianceStatus = model.StatusAxiomViolation
			trace = append(trace, "  deterministic mode: local pattern hit forces Axiom Violation")
		}
		if !v.HasCritical() && !v.Critical() {
			clamped := model.LockdownThreshold - 1
			note(v.Offset, "reasoningHealthScore", formatScore(v.ReasoningHealthScore), formatScore(clamped))
			v.ReasoningHealthScore = clamped
		}
	}

	critical := v.HasCritical()
	below := v.Critical()
	cmp := ">="
	if below {
		cmp = "<"
	}
	trace = append(trace, fmt.Sprintf("  reasoningHealthScore=%s %s %s critical_findings=%t",
		formatScore(v.ReasoningHealthScore), cmp, formatScore(model.LockdownThreshold), critical))

	want := critical || below
	switch {
	case want && v.ComplianceStatus != model.StatusAxiomViolation:
		note(v.Offset, "complianceStatus", string(v.ComplianceStatus), string(model.StatusAxiomViolation))
		v.ComplianceStatus = model.StatusAxiomViolation
	case !want && v.ComplianceStatus == model.StatusAxiomViolation:
		downgraded := model.StatusClean
		if len(v.Findings) > 0 {
			downgraded = model.StatusDriftDetected
		}
		note(v.Offset, "complianceStatus", string(v.ComplianceStatus), string(downgraded))
		v.ComplianceStatus = downgraded
	}
	trace = append(trace, "  -> "+string(v.ComplianceStatus))
	return trace
}

// reconcileArtifact keeps an artifact only on lockdown, synthesizing one
// from local data when the oracle omitted it, and appends the local trace.
func (a *Aggregator) reconcileArtifact(report *model.AuditReport, trace []string, note noteFunc) {
	if !report.IsLockdown {
		if report.LockdownArtifact != nil {
			note(-1, "lockdownArtifact", "present", "absent")
			report.LockdownArtifact = nil
		}
		return
	}

	local := strings.Join(trace, "\n")
	art := report.LockdownArtifact
	if art == nil {
		note(-1, "lockdownArtifact", "absent", "synthesized")
		report.LockdownArtifact = &model.LockdownArtifact{
			ViolationSummary:          summarize(report),
			LogicTrace:                local,
			RecommendedCountermeasure: DefaultCountermeasure,
		}
		return
	}
	if strings.TrimSpace(art.ViolationSummary) == "" {
		art.ViolationSummary = summarize(report)
	}
	if strings.TrimSpace(art.RecommendedCountermeasure) == "" {
		art.RecommendedCountermeasure = DefaultCountermeasure
	}
	if strings.TrimSpace(art.LogicTrace) == "" {
		art.LogicTrace = local
	} else {
		art.LogicTrace = strings.TrimRight(art.LogicTrace, "\n") + "\n\n--- local enforcement trace ---\n" + local
	}
}

// summarize describes the records that crossed the threshold.
func summarize(report *model.AuditReport) string {
	var parts []string
	for _, v := range report.Results {
		if !v.Critical() {
			continue
		}
		kinds := map[string]bool{}
		var names []string
		for _, f := range v.Findings {
			name := string(f.Kind)
			if name == "" {
				name = string(f.DriftType)
			}
			if !kinds[name] {
				kinds[name] = true
				names = append(names, name)
			}
		}
		desc := "no findings reported"
		if len(names) > 0 {
			desc = strings.Join(names, ", ")
		}
		parts = append(parts, fmt.Sprintf("offset %d (reasoningHealthScore %s: %s)", v.Offset, formatScore(v.ReasoningHealthScore), desc))
	}
	return fmt.Sprintf("%d record(s) crossed the lockdown threshold: %s.", len(parts), strings.Join(parts, "; "))
}

func formatScore(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
