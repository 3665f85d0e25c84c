package latch

import (
	"bytes"
	"fmt"
	"strconv"
	"time"

	"github.com/ppiankov/sentinel/internal/model"
)

// Render formats the forensic artifact as Markdown.
func Render(ev Event) []byte {
	var b bytes.Buffer
	b.WriteString("# LOCKDOWN TRACE\n\n")
	b.WriteString("- Status: LOCKED\n")
	fmt.Fprintf(&b, "- Triggered: %s\n", ev.At.Format(time.RFC3339))
	if ev.RunID != "" {
		fmt.Fprintf(&b, "- Run: %s\n", ev.RunID)
	}
	if ev.Stream != "" {
		fmt.Fprintf(&b, "- Stream: %s\n", ev.Stream)
	}
	if r := ev.Report; r != nil {
		if r.Mode != "" {
			fmt.Fprintf(&b, "- Mode: %s\n", r.Mode)
		}
		if lowest, ok := r.MinReasoningHealth(); ok {
			fmt.Fprintf(&b, "- Lowest reasoning-health score: %s (threshold %s)\n",
				strconv.FormatFloat(lowest, 'f', -1, 64),
				strconv.FormatFloat(model.LockdownThreshold, 'f', -1, 64))
		}
		fmt.Fprintf(&b, "- Records in cycle: %d\n", r.TotalLogsProcessed)
	}

	b.WriteString("\n## Violation Summary\n\n")
	b.WriteString(orNone(ev.Artifact.ViolationSummary))
	b.WriteString("\n\n## Logic Trace\n\n```text\n")
	b.WriteString(orNone(ev.Artifact.LogicTrace))
	b.WriteString("\n```\n\n## Recommended Countermeasure\n\n")
	b.WriteString(orNone(ev.Artifact.RecommendedCountermeasure))
	b.WriteString("\n")
	return b.Bytes()
}

func orNone(s string) string {
	if s == "" {
		return "(none)"
	}
	return s
}
