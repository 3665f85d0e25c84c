package model

// LockdownThreshold is the reasoning-health score below which a record is
// a critical violation and the latch must trip.
const LockdownThreshold = 10.0

// Mode selects how strictly the oracle judges records.
type Mode string

const (
	// ModeDeterministic applies zero-tolerance pattern matching at temperature 0.
	ModeDeterministic Mode = "deterministic"
	// ModeAnalytical allows graded judgment and a non-zero temperature.
	ModeAnalytical Mode = "analytical"
)

// Severity of a single finding.
type Severity string

const (
	SeverityCritical      Severity = "Critical"
	SeverityWarning       Severity = "Warning"
	SeverityInformational Severity = "Informational"
)

// FindingKind names what a finding detected.
type FindingKind string

const (
	KindAddress    FindingKind = "address"
	KindMedical    FindingKind = "medical"
	KindSSN        FindingKind = "ssn"
	KindCreditCard FindingKind = "credit_card"
	KindIBAN       FindingKind = "iban"
	KindPassport   FindingKind = "passport"
	KindUUID       FindingKind = "uuid"
	KindDrift      FindingKind = "drift"
)

// DriftType is the reasoning-drift category attached to every finding.
type DriftType string

const (
	DriftConvenienceBias         DriftType = "Convenience Bias"
	DriftConstraintErosion       DriftType = "Constraint Erosion"
	DriftSafetyBypass            DriftType = "Safety Bypass"
	DriftHallucinatedLogic       DriftType = "Hallucinated Logic"
	DriftConstitutionalViolation DriftType = "Constitutional Violation"
)

// ComplianceStatus is the per-record verdict.
type ComplianceStatus string

const (
	StatusClean          ComplianceStatus = "Clean"
	StatusDriftDetected  ComplianceStatus = "Drift Detected"
	StatusAxiomViolation ComplianceStatus = "Axiom Violation"
)

// ComplianceVerdict is the batch-level verdict.
type ComplianceVerdict string

const (
	CompliancePass        ComplianceVerdict = "Pass"
	ComplianceFail        ComplianceVerdict = "Fail"
	ComplianceConditional ComplianceVerdict = "Conditional"
)

// AxiomPII is the identifier of the built-in PII axiom.
const AxiomPII = "AXIOM_01_PII"

var (
	validSeverities = map[Severity]bool{
		SeverityCritical: true, SeverityWarning: true, SeverityInformational: true,
	}
	validKinds = map[FindingKind]bool{
		KindAddress: true, KindMedical: true, KindSSN: true, KindCreditCard: true,
		KindIBAN: true, KindPassport: true, KindUUID: true, KindDrift: true,
	}
	validDrift = map[DriftType]bool{
		DriftConvenienceBias: true, DriftConstraintErosion: true, DriftSafetyBypass: true,
		DriftHallucinatedLogic: true, DriftConstitutionalViolation: true,
	}
	validStatus = map[ComplianceStatus]bool{
		StatusClean: true, StatusDriftDetected: true, StatusAxiomViolation: true,
	}
	validVerdicts = map[ComplianceVerdict]bool{
		CompliancePass: true, ComplianceFail: true, ComplianceConditional: true,
	}
)

// Valid reports whether s is one of the closed severity values.
func (s Severity) Valid() bool { return validSeverities[s] }

// Valid reports whether k is one of the closed finding kinds.
func (k FindingKind) Valid() bool { return validKinds[k] }

// Valid reports whether d is one of the closed drift categories.
func (d DriftType) Valid() bool { return validDrift[d] }

// Valid reports whether s is one of the closed compliance statuses.
func (s ComplianceStatus) Valid() bool { return validStatus[s] }

// Valid reports whether v is one of the closed batch verdicts.
func (v ComplianceVerdict) Valid() bool { return validVerdicts[v] }

// Finding is a single issue the oracle detected within one record.
type Finding struct {
	Timestamp           string      `json:"timestamp"`
	Kind                FindingKind `json:"kind,omitempty"`
	DriftType           DriftType   `json:"driftType"`
	Severity            Severity    `json:"severity"`
	Description         string      `json:"description"`
	Evidence            string      `json:"evidence"`
	SuggestedCorrection string      `json:"suggestedCorrection"`
	AxiomTriggered      string      `json:"axiomTriggered,omitempty"`
}

// RecordVerdict is the oracle's judgment of one record.
type RecordVerdict struct {
	Offset               int64            `json:"offset"`
	Timestamp            string           `json:"timestamp"`
	LogPreview           string           `json:"logPreview"`
	IntegrityScore       float64          `json:"integrityScore"`
	ReasoningHealthScore float64          `json:"reasoningHealthScore"`
	ComplianceStatus     ComplianceStatus `json:"complianceStatus"`
	Findings             []Finding        `json:"findings"`
}

// HasCritical reports whether any finding is Critical.
func (v RecordVerdict) HasCritical() bool {
	for _, f := range v.Findings {
		if f.Severity == SeverityCritical {
			return true
		}
	}
	return false
}

// Critical reports whether the record crosses the lockdown threshold.
func (v RecordVerdict) Critical() bool {
	return v.ReasoningHealthScore < LockdownThreshold
}

// LockdownArtifact is the forensic evidence persisted when the latch trips.
type LockdownArtifact struct {
	ViolationSummary          string `json:"violationSummary"`
	LogicTrace                string `json:"logicTrace"`
	RecommendedCountermeasure string `json:"recommendedCountermeasure"`
}

// AuditReport is the aggregate verdict over one batch (or one watched record).
type AuditReport struct {
	RunID                 string            `json:"runId,omitempty"`
	Mode                  Mode              `json:"mode,omitempty"`
	OverallIntegrityScore float64           `json:"overallIntegrityScore"`
	ReasoningHealthScore  float64           `json:"reasoningHealthScore"`
	TotalLogsProcessed    int               `json:"totalLogsProcessed"`
	ExecutiveSummary      string            `json:"executiveSummary"`
	Compliance            ComplianceVerdict `json:"abLabsCompliance"`
	IsLockdown            bool              `json:"isLockdown"`
	LockdownArtifact      *LockdownArtifact `json:"lockdownArtifact,omitempty"`
	Results               []RecordVerdict   `json:"results"`
}

// MinReasoningHealth returns the lowest per-record reasoning-health score
// and false when the report has no results.
func (r *AuditReport) MinReasoningHealth() (float64, bool) {
	if len(r.Results) == 0 {
		return 0, false
	}
	lowest := r.Results[0].ReasoningHealthScore
	for _, v := range r.Results[1:] {
		if v.ReasoningHealthScore < lowest {
			lowest = v.ReasoningHealthScore
		}
	}
	return lowest, true
}

// LockdownRequired is the single authoritative lockdown predicate:
// true iff some record has a reasoning-health score below the threshold.
func (r *AuditReport) LockdownRequired() bool {
	lowest, ok := r.MinReasoningHealth()
	return ok && lowest < LockdownThreshold
}

// Count returns how many results carry the given status.
func (r *AuditReport) Count(status ComplianceStatus) int {
	n := 0
	for _, v := range r.Results {
		if v.ComplianceStatus == status {
			n++
		}
	}
	return n
}

// Axiom is a named policy constraint that findings are attributed against.
type Axiom struct {
	ID          string   `json:"id" yaml:"id"`
	Title       string   `json:"title" yaml:"title"`
	Description string   `json:"description" yaml:"description"`
	Severity    Severity `json:"severity" yaml:"severity"`
}
