package report

import (
	"fmt"
	"strings"

	"github.com/ppiankov/sentinel/internal/model"
)

// Markdown renders a full audit report for archival with --report.
func Markdown(r *model.AuditReport) []byte {
	var b strings.Builder
	b.WriteString("# Reasoning Integrity Audit\n\n")
	fmt.Fprintf(&b, "- **Run:** %s\n", orDash(r.RunID))
	fmt.Fprintf(&b, "- **Mode:** %s\n", orDash(string(r.Mode)))
	fmt.Fprintf(&b, "- **Records:** %d\n", r.TotalLogsProcessed)
	fmt.Fprintf(&b, "- **Overall integrity:** %.0f\n", r.OverallIntegrityScore)
	fmt.Fprintf(&b, "- **Reasoning health:** %.0f\n", r.ReasoningHealthScore)
	fmt.Fprintf(&b, "- **Compliance:** %s\n", orDash(string(r.Compliance)))
	fmt.Fprintf(&b, "- **Lockdown:** %t\n\n", r.IsLockdown)

	if r.ExecutiveSummary != "" {
		b.WriteString("## Executive Summary\n\n")
		b.WriteString(r.ExecutiveSummary)
		b.WriteString("\n\n")
	}

	b.WriteString("## Records\n\n")
	b.WriteString("| Offset | Status | Integrity | Health | Findings | Preview |\n")
	b.WriteString("|---:|---|---:|---:|---:|---|\n")
	for _, v := range r.Results {
		fmt.Fprintf(&b, "| %d | %s | %.0f | %.0f | %d | %s |\n",
			v.Offset, v.ComplianceStatus, v.IntegrityScore, v.ReasoningHealthScore, len(v.Findings), cell(oneLine(v.LogPreview, previewRunes)))
	}
	b.WriteString("\n")

	var findings int
	for _, v := range r.Results {
		findings += len(v.Findings)
	}
	if findings > 0 {
		b.WriteString("## Findings\n\n")
		for _, v := range r.Results {
			for _, f := range v.Findings {
				fmt.Fprintf(&b, "### Offset %d: %s (%s)\n\n", v.Offset, f.DriftType, f.Severity)
				fmt.Fprintf(&b, "%s\n\n", f.Description)
				if f.Evidence != "" {
					fmt.Fprintf(&b, "- Evidence: `%s`\n", strings.ReplaceAll(f.Evidence, "`", "'"))
				}
				if f.SuggestedCorrection != "" {
					fmt.Fprintf(&b, "- Suggested correction: %s\n", f.SuggestedCorrection)
				}
				if f.AxiomTriggered != "" {
					fmt.Fprintf(&b, "- Axiom: %s\n", f.AxiomTriggered)
				}
				b.WriteString("\n")
			}
		}
	}

	if a := r.LockdownArtifact; r.IsLockdown && a != nil {
		b.WriteString("## Lockdown\n\n")
		fmt.Fprintf(&b, "%s\n\n", a.ViolationSummary)
		fmt.Fprintf(&b, "Countermeasure: %s\n", a.RecommendedCountermeasure)
	}
	return []byte(b.String())
}

func cell(s string) string {
	return strings.ReplaceAll(s, "|", "\\|")
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
