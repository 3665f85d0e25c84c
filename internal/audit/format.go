package audit

import (
	"fmt"
	"strings"
	"time"
)

const separator = "──────────────────────────────────────────────────────────────────"

// FormatTimeline renders a TailResult as a human-readable text timeline.
func FormatTimeline(result *TailResult) string {
	if len(result.Entries) == 0 {
		return "No audit entries found.\n"
	}

	var b strings.Builder

	first := formatDateTime(result.Summary.FirstTimestamp)
	last := formatTimeOnly(result.Summary.LastTimestamp)
	fmt.Fprintf(&b, "Audit trail | %s–%s UTC\n", first, last)
	b.WriteString(separator + "\n")

	for _, e := range result.Entries {
		ts := formatTimeOnly(e.Timestamp)
		kind := strings.ToUpper(e.Kind)
		detail := ""
		switch e.Kind {
		case KindClassified:
			detail = fmt.Sprintf("%-16s I=%-3.0f R=%-3.0f findings=%d", e.Status, e.Integrity, e.ReasoningHealth, e.Findings)
		case KindSkipped, KindRestart, KindLockdown:
			detail = truncate(e.Reason, 48)
		}
		fmt.Fprintf(&b, "%-10s %-11s %-14s %-18s @%-8d %s\n",
			ts, kind, truncate(e.RunID, 14), truncate(e.Stream, 18), e.Offset, detail)
	}

	b.WriteString(separator + "\n")
	b.WriteString(formatSummary(result.Summary))
	return b.String()
}

func formatDateTime(ts string) string {
	t, err := time.Parse(TimestampFormat, ts)
	if err != nil {
		return ts
	}
	return t.Format("2006-01-02 15:04:05")
}

func formatTimeOnly(ts string) string {
	t, err := time.Parse(TimestampFormat, ts)
	if err != nil {
		return ts
	}
	return t.Format("15:04:05")
}

func formatSummary(s Summary) string {
	parts := []string{}
	if s.Classified > 0 {
		parts = append(parts, fmt.Sprintf("%d classified", s.Classified))
	}
	if s.Violations > 0 {
		parts = append(parts, fmt.Sprintf("%d violation", s.Violations))
	}
	if s.Skipped > 0 {
		parts = append(parts, fmt.Sprintf("%d skipped", s.Skipped))
	}
	if s.Restarts > 0 {
		parts = append(parts, fmt.Sprintf("%d restart", s.Restarts))
	}
	if s.Lockdowns > 0 {
		parts = append(parts, fmt.Sprintf("%d lockdown", s.Lockdowns))
	}
	if s.Classified == 0 {
		return fmt.Sprintf("Summary: %s\n", strings.Join(parts, ", "))
	}
	return fmt.Sprintf("Summary: %s | Min reasoning health: %.0f\n", strings.Join(parts, ", "), s.MinHealth)
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max-3] + "..."
}
