package oracle

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/ppiankov/sentinel/internal/model"
)

// errSchema marks a decoded response that violates the report schema.
var errSchema = errors.New("schema violation")

// StripWrapping removes exactly one layer of markdown code fence around a
// response. A doubly wrapped response keeps its inner fence and fails to
// decode.
func StripWrapping(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	body := strings.TrimPrefix(s, "```")
	// Drop a language tag such as ```json on the opening line.
	if nl := strings.IndexByte(body, '\n'); nl >= 0 {
		tag := strings.TrimSpace(body[:nl])
		if tag == "" || isFenceTag(tag) {
			body = body[nl+1:]
		}
	} else if strings.HasPrefix(body, "json") {
		body = strings.TrimPrefix(body, "json")
	}
	body = strings.TrimSpace(body)
	body = strings.TrimSuffix(body, "```")
	return strings.TrimSpace(body)
}

func isFenceTag(tag string) bool {
	for _, c := range tag {
		if (c < 'a' || c > 'z') && (c < 'A' || c > 'Z') {
			return false
		}
	}
	return true
}

// wire types use pointers so that missing required fields are detected
// rather than silently zeroed.
type wireReport struct {
	OverallIntegrityScore *float64      `json:"overallIntegrityScore"`
	ReasoningHealthScore  *float64      `json:"reasoningHealthScore"`
	TotalLogsProcessed    *int          `json:"totalLogsProcessed"`
	ExecutiveSummary      *string       `json:"executiveSummary"`
	Compliance            *string       `json:"abLabsCompliance"`
	IsLockdown            *bool         `json:"isLockdown"`
	LockdownArtifact      *wireArtifact `json:"lockdownArtifact"`
	Results               *[]wireResult `json:"results"`
}

type wireArtifact struct {
	ViolationSummary          *string `json:"violationSummary"`
	LogicTrace                *string `json:"logicTrace"`
	RecommendedCountermeasure *string `json:"recommendedCountermeasure"`
}

type wireResult struct {
	Timestamp            *string        `json:"timestamp"`
	LogPreview           *string        `json:"logPreview"`
	IntegrityScore       *float64       `json:"integrityScore"`
	ReasoningHealthScore *float64       `json:"reasoningHealthScore"`
	ComplianceStatus     *string        `json:"complianceStatus"`
	Findings             *[]wireFinding `json:"findings"`
}

type wireFinding struct {
	Timestamp           *string `json:"timestamp"`
	Kind                string  `json:"kind"`
	DriftType           *string `json:"driftType"`
	Severity            *string `json:"severity"`
	Description         *string `json:"description"`
	Evidence            *string `json:"evidence"`
	SuggestedCorrection *string `json:"suggestedCorrection"`
	AxiomTriggered      string  `json:"axiomTriggered"`
}

// Decode strips one layer of wrapping, decodes the envelope and validates
// every required field and closed enumeration. want is the number of
// records sent; a report with a different number of results is rejected.
// Errors are *Failure with ReasonDecode or ReasonSchema.
func Decode(raw string, want int) (*model.AuditReport, error) {
	body := StripWrapping(raw)
	var w wireReport
	if err := json.Unmarshal([]byte(body), &w); err != nil {
		return nil, &Failure{Reason: ReasonDecode, Err: fmt.Errorf("decode report: %w (response: %s)", err, truncate(body, 200))}
	}
	report, err := w.validate(want)
	if err != nil {
		return nil, &Failure{Reason: ReasonSchema, Err: err}
	}
	return report, nil
}

func (w *wireReport) validate(want int) (*model.AuditReport, error) {
	var missing []string
	need := func(ok bool, name string) {
		if !ok {
			missing = append(missing, name)
		}
	}
	need(w.OverallIntegrityScore != nil, "overallIntegrityScore")
	need(w.ReasoningHealthScore != nil, "reasoningHealthScore")
	need(w.TotalLogsProcessed != nil, "totalLogsProcessed")
	need(w.ExecutiveSummary != nil, "executiveSummary")
	need(w.Compliance != nil, "abLabsCompliance")
	need(w.IsLockdown != nil, "isLockdown")
	need(w.Results != nil, "results")
	if len(missing) > 0 {
		return nil, fmt.Errorf("%w: missing %s", errSchema, strings.Join(missing, ", "))
	}

	verdict := model.ComplianceVerdict(*w.Compliance)
	if !verdict.Valid() {
		return nil, fmt.Errorf("%w: abLabsCompliance %q", errSchema, *w.Compliance)
	}
	if err := checkScore("overallIntegrityScore", *w.OverallIntegrityScore); err != nil {
		return nil, err
	}
	if err := checkScore("reasoningHealthScore", *w.ReasoningHealthScore); err != nil {
		return nil, err
	}
	if want > 0 && len(*w.Results) != want {
		return nil, fmt.Errorf("%w: %d results for %d records", errSchema, len(*w.Results), want)
	}

	report := &model.AuditReport{
		OverallIntegrityScore: *w.OverallIntegrityScore,
		ReasoningHealthScore:  *w.ReasoningHealthScore,
		TotalLogsProcessed:    *w.TotalLogsProcessed,
		ExecutiveSummary:      *w.ExecutiveSummary,
		Compliance:            verdict,
		IsLockdown:            *w.IsLockdown,
		Results:               make([]model.RecordVerdict, 0, len(*w.Results)),
	}

	if a := w.LockdownArtifact; a != nil {
		if a.ViolationSummary == nil || a.LogicTrace == nil || a.RecommendedCountermeasure == nil {
			return nil, fmt.Errorf("%w: lockdownArtifact is incomplete", errSchema)
		}
		report.LockdownArtifact = &model.LockdownArtifact{
			ViolationSummary:          *a.ViolationSummary,
			LogicTrace:                *a.LogicTrace,
			RecommendedCountermeasure: *a.RecommendedCountermeasure,
		}
	}

	for i, r := range *w.Results {
		v, err := r.validate()
		if err != nil {
			return nil, fmt.Errorf("results[%d]: %w", i, err)
		}
		report.Results = append(report.Results, v)
	}
	return report, nil
}

func (r wireResult) validate() (model.RecordVerdict, error) {
	if r.Timestamp == nil || r.LogPreview == nil || r.IntegrityScore == nil ||
		r.ReasoningHealthScore == nil || r.ComplianceStatus == nil || r.Findings == nil {
		return model.RecordVerdict{}, fmt.Errorf("%w: result is missing required fields", errSchema)
	}
	status := model.ComplianceStatus(*r.ComplianceStatus)
	if !status.Valid() {
		return model.RecordVerdict{}, fmt.Errorf("%w: complianceStatus %q", errSchema, *r.ComplianceStatus)
	}
	if err := checkScore("integrityScore", *r.IntegrityScore); err != nil {
		return model.RecordVerdict{}, err
	}
	if err := checkScore("reasoningHealthScore", *r.ReasoningHealthScore); err != nil {
		return model.RecordVerdict{}, err
	}

	v := model.RecordVerdict{
		Timestamp:            *r.Timestamp,
		LogPreview:           *r.LogPreview,
		IntegrityScore:       *r.IntegrityScore,
		ReasoningHealthScore: *r.ReasoningHealthScore,
		ComplianceStatus:     status,
		Findings:             make([]model.Finding, 0, len(*r.Findings)),
	}
	for j, f := range *r.Findings {
		finding, err := f.validate()
		if err != nil {
			return model.RecordVerdict{}, fmt.Errorf("findings[%d]: %w", j, err)
		}
		v.Findings = append(v.Findings, finding)
	}
	return v, nil
}

func (f wireFinding) validate() (model.Finding, error) {
	if f.Timestamp == nil || f.DriftType == nil || f.Severity == nil ||
		f.Description == nil || f.Evidence == nil || f.SuggestedCorrection == nil {
		return model.Finding{}, fmt.Errorf("%w: finding is missing required fields", errSchema)
	}
	drift := model.DriftType(*f.DriftType)
	if !drift.Valid() {
		return model.Finding{}, fmt.Errorf("%w: driftType %q", errSchema, *f.DriftType)
	}
	sev := model.Severity(*f.Severity)
	if !sev.Valid() {
		return model.Finding{}, fmt.Errorf("%w: severity %q", errSchema, *f.Severity)
	}
	kind := model.FindingKind(f.Kind)
	if kind != "" && !kind.Valid() {
		return model.Finding{}, fmt.Errorf("%w: kind %q", errSchema, f.Kind)
	}
	return model.Finding{
		Timestamp:           *f.Timestamp,
		Kind:                kind,
		DriftType:           drift,
		Severity:            sev,
		Description:         *f.Description,
		Evidence:            *f.Evidence,
		SuggestedCorrection: *f.SuggestedCorrection,
		AxiomTriggered:      f.AxiomTriggered,
	}, nil
}

func checkScore(name string, v float64) error {
	if v < 0 || v > 100 {
		return fmt.Errorf("%w: %s %v out of range 0-100", errSchema, name, v)
	}
	return nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
