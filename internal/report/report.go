// Package report renders audit reports for humans and machines.
package report

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"sync"
	"text/tabwriter"

	"github.com/fatih/color"

	"github.com/ppiankov/sentinel/internal/model"
)

const previewRunes = 60

var (
	colorRed    = color.New(color.FgRed, color.Bold)
	colorGreen  = color.New(color.FgGreen, color.Bold)
	colorYellow = color.New(color.FgYellow)
	colorCyan   = color.New(color.FgCyan)
)

// Console writes a colored summary and a per-record table.
type Console struct {
	mu sync.Mutex
	w  io.Writer
}

// NewConsole writes to w. Color follows fatih/color's terminal detection.
func NewConsole(w io.Writer) *Console {
	return &Console{w: w}
}

// Report implements pipeline.Reporter.
func (c *Console) Report(r *model.AuditReport) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	var b strings.Builder
	fmt.Fprintf(&b, "%s %s  mode=%s  records=%d\n",
		colorCyan.Sprint("audit"), r.RunID, r.Mode, r.TotalLogsProcessed)
	fmt.Fprintf(&b, "integrity=%.0f  reasoning_health=%.0f  compliance=%s\n",
		r.OverallIntegrityScore, r.ReasoningHealthScore, paintVerdict(r.Compliance))
	if r.ExecutiveSummary != "" {
		fmt.Fprintf(&b, "%s\n", r.ExecutiveSummary)
	}

	tw := tabwriter.NewWriter(&b, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "OFFSET\tSTATUS\tINTEGRITY\tHEALTH\tFINDINGS\tPREVIEW")
	for _, v := range r.Results {
		fmt.Fprintf(tw, "%d\t%s\t%.0f\t%.0f\t%d\t%s\n",
			v.Offset, paintStatus(v.ComplianceStatus), v.IntegrityScore, v.ReasoningHealthScore, len(v.Findings), oneLine(v.LogPreview, previewRunes))
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	for _, v := range r.Results {
		for _, f := range v.Findings {
			fmt.Fprintf(&b, "  @%d %s %s: %s\n", v.Offset, paintSeverity(f.Severity), f.DriftType, f.Description)
			if f.AxiomTriggered != "" {
				fmt.Fprintf(&b, "      axiom: %s\n", f.AxiomTriggered)
			}
		}
	}

	if r.IsLockdown {
		fmt.Fprintf(&b, "%s\n", colorRed.Sprint("LOCKDOWN: reasoning health below threshold"))
	}
	_, err := io.WriteString(c.w, b.String())
	return err
}

// JSON writes one report per line.
type JSON struct {
	mu  sync.Mutex
	enc *json.Encoder
}

// NewJSON writes NDJSON to w.
func NewJSON(w io.Writer) *JSON {
	return &JSON{enc: json.NewEncoder(w)}
}

// Report implements pipeline.Reporter.
func (j *JSON) Report(r *model.AuditReport) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.enc.Encode(r)
}

func paintStatus(s model.ComplianceStatus) string {
	switch s {
	case model.StatusAxiomViolation:
		return colorRed.Sprint(s)
	case model.StatusDriftDetected:
		return colorYellow.Sprint(s)
	default:
		return colorGreen.Sprint(s)
	}
}

func paintVerdict(v model.ComplianceVerdict) string {
	if v == model.ComplianceFail {
		return colorRed.Sprint(v)
	}
	return colorGreen.Sprint(v)
}

func paintSeverity(s model.Severity) string {
	switch s {
	case model.SeverityCritical:
		return colorRed.Sprint(s)
	case model.SeverityWarning:
		return colorYellow.Sprint(s)
	default:
		return string(s)
	}
}

func oneLine(s string, n int) string {
	s = strings.Join(strings.Fields(s), " ")
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n]) + "..."
}
