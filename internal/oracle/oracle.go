// Package oracle wraps calls to the external classifier that judges log
// records. Every backend satisfies Classifier; failures of any kind are
// returned as *Failure and never escalate to lockdown.
package oracle

import (
	"context"
	"errors"
	"fmt"

	"github.com/ppiankov/sentinel/internal/model"
	"github.com/ppiankov/sentinel/internal/scan"
)

// Classifier judges a bundle of records and returns the oracle's report.
type Classifier interface {
	Classify(ctx context.Context, req Request) (*model.AuditReport, error)
	Name() string
}

// Request is one classification call. In watch mode Records holds exactly
// one record; in batch mode it holds the whole batch.
type Request struct {
	RunID   string
	Records []model.LogRecord
	Mode    model.Mode
	Axioms  []model.Axiom

	// Hints are local matcher hits aligned with Records. Optional.
	Hints [][]scan.Match
}

// Reason classifies why an oracle call failed.
type Reason string

const (
	ReasonTransport   Reason = "transport"
	ReasonStatus      Reason = "status"
	ReasonDecode      Reason = "decode"
	ReasonSchema      Reason = "schema"
	ReasonRateLimited Reason = "rate_limited"
)

// Failure is an oracle call that produced no usable report.
type Failure struct {
	Backend  string
	Reason   Reason
	Attempts int
	Err      error
}

func (f *Failure) Error() string {
	if f.Attempts > 1 {
		return fmt.Sprintf("oracle %s: %s after %d attempts: %v", f.Backend, f.Reason, f.Attempts, f.Err)
	}
	return fmt.Sprintf("oracle %s: %s: %v", f.Backend, f.Reason, f.Err)
}

func (f *Failure) Unwrap() error { return f.Err }

// IsFailure reports whether err is an oracle failure.
func IsFailure(err error) bool {
	var f *Failure
	return errors.As(err, &f)
}

// bind copies request identity onto a decoded report: run id, mode and
// the stream offset of each result.
func bind(report *model.AuditReport, req Request) {
	report.RunID = req.RunID
	report.Mode = req.Mode
	for i := range report.Results {
		if i < len(req.Records) {
			report.Results[i].Offset = req.Records[i].Offset
		}
	}
}

// temperature returns the sampling temperature for a mode.
func temperature(mode model.Mode, analytical float64) float64 {
	if mode == model.ModeDeterministic {
		return 0
	}
	return analytical
}
