// Package pipeline drives records from a source through the oracle, the
// aggregator and the latch, in batch and watch modes. Records are handled
// strictly in arrival order and the latch is checked before every pull.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/ppiankov/sentinel/internal/latch"
	"github.com/ppiankov/sentinel/internal/model"
	"github.com/ppiankov/sentinel/internal/oracle"
	"github.com/ppiankov/sentinel/internal/scan"
	"github.com/ppiankov/sentinel/internal/source"
	"github.com/ppiankov/sentinel/internal/verdict"
)

// Defaults for the watch loop.
const (
	DefaultIdleInterval = time.Second
	DefaultCooldown     = 5 * time.Second
	DefaultMaxRestarts  = 10
)

// Outcome is how a run ended.
type Outcome int

const (
	// OutcomeClean means the run completed or was stopped without lockdown.
	OutcomeClean Outcome = iota
	// OutcomeLockdown means the latch tripped.
	OutcomeLockdown
)

func (o Outcome) String() string {
	if o == OutcomeLockdown {
		return "lockdown"
	}
	return "clean"
}

// Source yields records in order. Batch sources return io.EOF when
// exhausted; watch sources return source.ErrNoData when idle.
type Source interface {
	Next() (model.LogRecord, error)
	Name() string
}

// WatchSource can reattach after a stream failure.
type WatchSource interface {
	Source
	Reopen() error
}

// Reporter receives every finished report. It owns all human-facing output.
type Reporter interface {
	Report(report *model.AuditReport) error
}

// Config tunes the driver.
type Config struct {
	Mode         model.Mode
	Axioms       []model.Axiom
	IdleInterval time.Duration
	Cooldown     time.Duration

	// MaxRestarts bounds consecutive stream restarts in watch mode.
	// Negative means unbounded.
	MaxRestarts int
}

// Deps are the collaborators a driver orchestrates.
type Deps struct {
	Classifier oracle.Classifier
	Aggregator *verdict.Aggregator
	Latch      *latch.Latch
	Scanner    *scan.Scanner
	Reporter   Reporter
	Sinks      []Sink
	Waiter     source.Waiter
	Logger     *slog.Logger
}

// Driver orchestrates one pipeline instance.
type Driver struct {
	cfg      Config
	deps     Deps
	logger   *slog.Logger
	sleep    func(ctx context.Context, d time.Duration) error
	newRunID func() string
}

// New validates deps and applies defaults.
func New(cfg Config, deps Deps) (*Driver, error) {
	if deps.Classifier == nil {
		return nil, errors.New("pipeline: classifier is required")
	}
	if deps.Latch == nil {
		return nil, errors.New("pipeline: latch is required")
	}
	if cfg.Mode == "" {
		cfg.Mode = model.ModeAnalytical
	}
	if cfg.IdleInterval <= 0 {
		cfg.IdleInterval = DefaultIdleInterval
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = DefaultCooldown
	}
	if cfg.MaxRestarts == 0 {
		cfg.MaxRestarts = DefaultMaxRestarts
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	if deps.Aggregator == nil {
		deps.Aggregator = verdict.New(deps.Scanner, logger)
	}
	if deps.Waiter == nil {
		deps.Waiter = source.PollWaiter{}
	}
	return &Driver{
		cfg:      cfg,
		deps:     deps,
		logger:   logger,
		sleep:    (source.PollWaiter{}).Wait,
		newRunID: func() string { return "run-" + uuid.NewString() },
	}, nil
}

// RunBatch reads the whole source into one request, classifies it once,
// aggregates, checks the latch and reports. An oracle failure skips the
// batch and still returns OutcomeClean. A source error is fatal.
func (d *Driver) RunBatch(ctx context.Context, src Source) (Outcome, *model.AuditReport, error) {
	var records []model.LogRecord
	for {
		if d.deps.Latch.Locked() {
			return OutcomeLockdown, nil, nil
		}
		rec, err := src.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return OutcomeClean, nil, fmt.Errorf("read batch %s: %w", src.Name(), err)
		}
		records = append(records, rec)
	}

	if len(records) == 0 {
		d.logger.Info("batch empty", "stream", src.Name())
		return OutcomeClean, nil, nil
	}

	d.logger.Info("batch loaded", "stream", src.Name(), "records", len(records), "mode", string(d.cfg.Mode))
	report, locked := d.cycle(ctx, src.Name(), records)
	if locked {
		return OutcomeLockdown, report, nil
	}
	return OutcomeClean, report, nil
}

// Watch tails src until the latch trips or ctx is cancelled. Stream errors
// trigger a cool-down and a reopen at the current position, up to
// MaxRestarts consecutive times.
func (d *Driver) Watch(ctx context.Context, src WatchSource) (Outcome, error) {
	d.logger.Info("watch started", "stream", src.Name(), "mode", string(d.cfg.Mode))
	restarts := 0
	for {
		if d.deps.Latch.Locked() {
			return OutcomeLockdown, nil
		}
		if ctx.Err() != nil {
			d.logger.Info("watch stopped", "stream", src.Name())
			return OutcomeClean, nil
		}

		rec, err := src.Next()
		switch {
		case err == nil:
			restarts = 0
			if _, locked := d.cycle(ctx, src.Name(), []model.LogRecord{rec}); locked {
				return OutcomeLockdown, nil
			}

		case errors.Is(err, source.ErrNoData):
			restarts = 0
			if werr := d.deps.Waiter.Wait(ctx, d.cfg.IdleInterval); werr != nil && ctx.Err() == nil {
				d.logger.Warn("idle wait failed", "error", werr)
			}

		default:
			restarts++
			if d.cfg.MaxRestarts > 0 && restarts > d.cfg.MaxRestarts {
				return OutcomeClean, fmt.Errorf("watch %s: giving up after %d restarts: %w", src.Name(), d.cfg.MaxRestarts, err)
			}
			d.logger.Warn("stream error, restarting watch loop",
				"stream", src.Name(), "error", err, "restart", restarts, "cooldown", d.cfg.Cooldown)
			d.emit(Event{Kind: EventRestart, Stream: src.Name(), Err: err, At: time.Now()})
			if serr := d.sleep(ctx, d.cfg.Cooldown); serr != nil {
				continue
			}
			if rerr := src.Reopen(); rerr != nil {
				d.logger.Warn("reopen failed", "stream", src.Name(), "error", rerr)
			}
		}
	}
}

// Classify runs one oracle call and the aggregator without touching the
// latch. Used by tools that want a verdict but no enforcement.
func (d *Driver) Classify(ctx context.Context, records []model.LogRecord) (*model.AuditReport, error) {
	report, _, err := d.classify(ctx, records)
	return report, err
}

// cycle classifies records, enforces, evaluates the latch and reports.
// It returns the enforced report (nil on oracle failure) and whether the
// latch is locked afterwards.
func (d *Driver) cycle(ctx context.Context, stream string, records []model.LogRecord) (*model.AuditReport, bool) {
	report, runID, err := d.classify(ctx, records)
	if err != nil {
		for _, rec := range records {
			d.logger.Warn("record skipped", "run_id", runID, "stream", stream, "offset", rec.Offset, "reason", err.Error())
			d.emit(Event{Kind: EventSkipped, RunID: runID, Stream: stream, Record: rec, Err: err, At: time.Now()})
		}
		return nil, d.deps.Latch.Locked()
	}

	for i, v := range report.Results {
		var rec model.LogRecord
		if i < len(records) {
			rec = records[i]
		}
		d.logger.Info("record classified",
			"run_id", report.RunID, "stream", stream, "offset", v.Offset,
			"status", string(v.ComplianceStatus), "integrity", v.IntegrityScore, "reasoning_health", v.ReasoningHealthScore)
		verdictCopy := v
		d.emit(Event{Kind: EventClassified, RunID: report.RunID, Stream: stream, Record: rec, Verdict: &verdictCopy, At: time.Now()})
	}

	locked, lerr := d.deps.Latch.Evaluate(report, stream)
	if lerr != nil {
		d.logger.Error("lockdown artifact write failed", "path", d.deps.Latch.Path(), "error", lerr)
	}
	if locked && report.IsLockdown {
		d.logger.Error("LOCKDOWN", "run_id", report.RunID, "stream", stream, "artifact", d.deps.Latch.Path())
		d.emit(Event{Kind: EventLockdown, RunID: report.RunID, Stream: stream, Report: report, Err: lerr, At: time.Now()})
	}

	if d.deps.Reporter != nil {
		if rerr := d.deps.Reporter.Report(report); rerr != nil {
			d.logger.Warn("report failed", "run_id", report.RunID, "error", rerr)
		}
	}
	return report, locked
}

func (d *Driver) classify(ctx context.Context, records []model.LogRecord) (*model.AuditReport, string, error) {
	req := oracle.Request{
		RunID:   d.newRunID(),
		Records: records,
		Mode:    d.cfg.Mode,
		Axioms:  d.cfg.Axioms,
	}
	if d.cfg.Mode == model.ModeDeterministic && d.deps.Scanner != nil {
		req.Hints = make([][]scan.Match, len(records))
		for i, rec := range records {
			req.Hints[i] = d.deps.Scanner.ScanRecord(rec)
		}
	}

	start := time.Now()
	report, err := d.deps.Classifier.Classify(ctx, req)
	d.emit(Event{Kind: EventOracleCall, RunID: req.RunID, Err: err, Duration: time.Since(start), At: time.Now(), Backend: d.deps.Classifier.Name()})
	if err != nil {
		if !oracle.IsFailure(err) {
			err = &oracle.Failure{Backend: d.deps.Classifier.Name(), Reason: oracle.ReasonTransport, Attempts: 1, Err: err}
		}
		return nil, req.RunID, err
	}
	if report.RunID == "" {
		report.RunID = req.RunID
	}
	if report.Mode == "" {
		report.Mode = req.Mode
	}
	d.deps.Aggregator.Aggregate(report, records)
	return report, req.RunID, nil
}

func (d *Driver) emit(ev Event) {
	for _, s := range d.deps.Sinks {
		s.Handle(ev)
	}
}
