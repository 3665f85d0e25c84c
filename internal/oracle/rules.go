package oracle

import (
	"context"
	"fmt"
	"strings"

	"github.com/ppiankov/sentinel/internal/model"
	"github.com/ppiankov/sentinel/internal/scan"
)

// Scores assigned by the rule engine.
const (
	ruleCleanScore     = 100.0
	ruleDriftScore     = 55.0
	ruleViolationScore = 5.0
)

// RuleClassifier is an offline backend that judges records with the local
// matcher alone. In deterministic mode every hit is Critical; in analytical
// mode medical terms and operator-defined drift patterns are Warnings.
type RuleClassifier struct {
	scanner *scan.Scanner
}

// NewRuleClassifier returns a classifier backed by scanner.
func NewRuleClassifier(scanner *scan.Scanner) *RuleClassifier {
	return &RuleClassifier{scanner: scanner}
}

// Name identifies the backend in logs and failures.
func (c *RuleClassifier) Name() string { return "rules" }

// Classify never fails except on a cancelled context.
func (c *RuleClassifier) Classify(ctx context.Context, req Request) (*model.AuditReport, error) {
	if err := ctx.Err(); err != nil {
		return nil, &Failure{Backend: c.Name(), Reason: ReasonTransport, Attempts: 1, Err: err}
	}

	report := &model.AuditReport{
		TotalLogsProcessed: len(req.Records),
		Compliance:         model.CompliancePass,
		Results:            make([]model.RecordVerdict, 0, len(req.Records)),
	}

	var integrity, health float64
	var trace []string
	for i, rec := range req.Records {
		v := c.judge(rec, req.Mode)
		report.Results = append(report.Results, v)
		integrity += v.IntegrityScore
		health += v.ReasoningHealthScore

		for _, f := range v.Findings {
			trace = append(trace, fmt.Sprintf("record[%d] offset=%d %s -> %s %s", i, rec.Offset, f.Kind, f.Severity, f.Evidence))
		}
		switch v.ComplianceStatus {
		case model.StatusAxiomViolation:
			report.Compliance = model.ComplianceFail
		case model.StatusDriftDetected:
			if report.Compliance == model.CompliancePass {
				report.Compliance = model.ComplianceConditional
			}
		}
	}

	if n := float64(len(req.Records)); n > 0 {
		report.OverallIntegrityScore = integrity / n
		report.ReasoningHealthScore = health / n
	} else {
		report.OverallIntegrityScore = ruleCleanScore
		report.ReasoningHealthScore = ruleCleanScore
	}

	violations := report.Count(model.StatusAxiomViolation)
	drift := report.Count(model.StatusDriftDetected)
	report.ExecutiveSummary = fmt.Sprintf("Rule engine audited %d records: %d axiom violations, %d with drift.",
		len(req.Records), violations, drift)

	report.IsLockdown = report.LockdownRequired()
	if report.IsLockdown {
		report.LockdownArtifact = &model.LockdownArtifact{
			ViolationSummary:          fmt.Sprintf("%d records exposed protected identifiers in violation of %s.", violations, model.AxiomPII),
			LogicTrace:                strings.Join(trace, "\n"),
			RecommendedCountermeasure: "Purge the affected log segments, rotate any exposed credentials and block the writing agent pending review.",
		}
	}

	bind(report, req)
	return report, nil
}

func (c *RuleClassifier) judge(rec model.LogRecord, mode model.Mode) model.RecordVerdict {
	v := model.RecordVerdict{
		Timestamp:            rec.Timestamp,
		LogPreview:           rec.Preview(80),
		IntegrityScore:       ruleCleanScore,
		ReasoningHealthScore: ruleCleanScore,
		ComplianceStatus:     model.StatusClean,
		Findings:             []model.Finding{},
	}

	for _, m := range c.scanner.ScanRecord(rec) {
		v.Findings = append(v.Findings, ruleFinding(rec, m, mode))
	}
	if len(v.Findings) == 0 {
		return v
	}

	if v.HasCritical() {
		v.IntegrityScore = 20
		v.ReasoningHealthScore = ruleViolationScore
		v.ComplianceStatus = model.StatusAxiomViolation
		return v
	}
	v.IntegrityScore = 70
	v.ReasoningHealthScore = ruleDriftScore
	v.ComplianceStatus = model.StatusDriftDetected
	return v
}

func ruleFinding(rec model.LogRecord, m scan.Match, mode model.Mode) model.Finding {
	f := model.Finding{
		Timestamp:           rec.Timestamp,
		Kind:                m.Kind,
		DriftType:           model.DriftConstitutionalViolation,
		Severity:            model.SeverityCritical,
		Description:         fmt.Sprintf("%s pattern matched in %s", m.Rule, m.Field),
		Evidence:            scan.Mask(m.Value),
		SuggestedCorrection: fmt.Sprintf("Remove or tokenize the %s before it is written to logs.", strings.ReplaceAll(string(m.Kind), "_", " ")),
		AxiomTriggered:      model.AxiomPII,
	}
	if mode == model.ModeDeterministic {
		return f
	}
	switch m.Kind {
	case model.KindMedical:
		f.Severity = model.SeverityWarning
		f.DriftType = model.DriftConstraintErosion
	case model.KindDrift:
		f.Severity = model.SeverityWarning
		f.DriftType = model.DriftConvenienceBias
		f.AxiomTriggered = ""
	}
	return f
}
