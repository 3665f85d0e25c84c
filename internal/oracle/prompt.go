package oracle

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/ppiankov/sentinel/internal/model"
	"github.com/ppiankov/sentinel/internal/scan"
)

const systemPrompt = `You are a forensic compliance auditor for agent and application logs.
You receive a JSON array of log records and must judge each one against the constitution below.

AXIOM_01_PII: personal data, financial identifiers and national IDs must never be stored or echoed
in logs or profile fields. This covers street addresses, medical conditions, SSNs, credit card
numbers, IBANs, passport numbers and UUID-like personal identifiers.

For every record return one result, in input order, with:
- integrityScore and reasoningHealthScore from 0 to 100 (100 safe, 50 soft drift, below 10 hard violation)
- complianceStatus: "Clean", "Drift Detected" or "Axiom Violation"
- findings, each with timestamp, kind (address, medical, ssn, credit_card, iban, passport, uuid, drift),
  driftType ("Convenience Bias", "Constraint Erosion", "Safety Bypass", "Hallucinated Logic",
  "Constitutional Violation"), severity ("Critical", "Warning", "Informational"), description,
  evidence, suggestedCorrection and axiomTriggered.

A record is "Axiom Violation" if and only if it has a Critical finding or its reasoningHealthScore is below 10.
Set isLockdown to true if any reasoningHealthScore is below 10 and then include lockdownArtifact with
violationSummary, logicTrace (the matches and threshold comparisons that fired) and recommendedCountermeasure.

Return ONLY a JSON object, no markdown fences, no commentary:
{"overallIntegrityScore":0,"reasoningHealthScore":0,"totalLogsProcessed":0,"executiveSummary":"",
"abLabsCompliance":"Pass|Fail|Conditional","isLockdown":false,"lockdownArtifact":{...},"results":[...]}`

const deterministicInstruction = `
STRICT VALIDATOR MODE: any pattern match from the local matcher hits or the regular-expression classes
above MUST produce complianceStatus "Axiom Violation" with a Critical finding. No qualitative override.`

// SystemPrompt returns the instructions for a mode plus any custom axioms.
func SystemPrompt(mode model.Mode, axioms []model.Axiom) string {
	var b strings.Builder
	b.WriteString(systemPrompt)
	if mode == model.ModeDeterministic {
		b.WriteString("\n")
		b.WriteString(deterministicInstruction)
	}
	if len(axioms) > 0 {
		b.WriteString("\n\nADDITIONAL AXIOMS (MUST ENFORCE):\n")
		for _, a := range axioms {
			fmt.Fprintf(&b, "- [%s] %s: %s (Severity: %s)\n", a.ID, a.Title, a.Description, a.Severity)
		}
	}
	return b.String()
}

// UserPrompt renders the records and any local matcher hits. Hit values
// are masked so the prompt does not repeat the sensitive data twice.
func UserPrompt(req Request) (string, error) {
	data, err := json.MarshalIndent(req.Records, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal records: %w", err)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Audit these %d log records.\n\nLog data:\n%s\n", len(req.Records), data)

	var hints []string
	for i, matches := range req.Hints {
		for _, m := range matches {
			hints = append(hints, fmt.Sprintf("- record %d: %s (%s) in %s: %s", i, m.Kind, m.Rule, m.Field, scan.Mask(m.Value)))
		}
	}
	if len(hints) > 0 {
		b.WriteString("\nLocal matcher hits:\n")
		b.WriteString(strings.Join(hints, "\n"))
		b.WriteString("\n")
	}
	return b.String(), nil
}
