package alert

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ppiankov/sentinel/internal/latch"
	"github.com/ppiankov/sentinel/internal/oracle"
	"github.com/ppiankov/sentinel/internal/pipeline"
)

// Dispatcher fans out alert events to matching webhook configurations.
type Dispatcher struct {
	configs []AlertConfig
	logger  *slog.Logger
	wg      sync.WaitGroup

	mu      sync.Mutex
	failing map[string]bool // streams in an oracle outage
}

// NewDispatcher creates a Dispatcher from webhook configurations.
// Returns nil if configs is empty (callers should nil-check).
func NewDispatcher(configs []AlertConfig, logger *slog.Logger) *Dispatcher {
	if len(configs) == 0 {
		return nil
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Dispatcher{configs: configs, logger: logger, failing: make(map[string]bool)}
}

// Dispatch sends the event to all webhooks whose Events list matches.
// Fires goroutines and does not block the caller; use Wait before exit.
func (d *Dispatcher) Dispatch(event AlertEvent) {
	if event.Timestamp == "" {
		event.Timestamp = time.Now().UTC().Format(time.RFC3339Nano)
	}
	for _, cfg := range d.configs {
		if !matches(cfg.Events, event) {
			continue
		}
		d.wg.Add(1)
		go func(cfg AlertConfig) {
			defer d.wg.Done()
			if err := Send(cfg, event); err != nil {
				d.logger.Warn("alert delivery failed", "type", event.Type, "url", cfg.URL, "error", err)
			}
		}(cfg)
	}
}

// Wait blocks until every in-flight delivery has finished.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}

// OnLock is a latch hook that raises the lockdown alert.
func (d *Dispatcher) OnLock(ev latch.Event) {
	alert := AlertEvent{
		Timestamp: ev.At.UTC().Format(time.RFC3339Nano),
		Type:      EventLockdown,
		RunID:     ev.RunID,
		Stream:    ev.Stream,
		Summary:   ev.Artifact.ViolationSummary,
		Artifact:  ev.Path,
		Resumed:   ev.Resumed,
	}
	if ev.Report != nil {
		if minScore, ok := ev.Report.MinReasoningHealth(); ok {
			alert.MinReasoningHealth = minScore
		}
	}
	if ev.Resumed {
		alert.Summary = "lockdown artifact present at startup"
	}
	if ev.Err != nil {
		alert.Reason = ev.Err.Error()
	}
	d.Dispatch(alert)
}

// Handle implements pipeline.Sink. Oracle failures alert once per outage:
// the first skip on a stream alerts, later skips stay quiet until a record
// on that stream is classified again. Stream restarts alert every time.
func (d *Dispatcher) Handle(ev pipeline.Event) {
	switch ev.Kind {
	case pipeline.EventClassified:
		d.mu.Lock()
		delete(d.failing, ev.Stream)
		d.mu.Unlock()

	case pipeline.EventSkipped:
		d.mu.Lock()
		ongoing := d.failing[ev.Stream]
		d.failing[ev.Stream] = true
		d.mu.Unlock()
		if ongoing {
			return
		}
		alert := AlertEvent{
			Timestamp: ev.At.UTC().Format(time.RFC3339Nano),
			Type:      EventOracleFailure,
			RunID:     ev.RunID,
			Stream:    ev.Stream,
			Summary:   "oracle call failed, records skipped",
		}
		if ev.Err != nil {
			alert.Reason = ev.Err.Error()
			var f *oracle.Failure
			if errors.As(ev.Err, &f) {
				alert.Summary = fmt.Sprintf("%s oracle failed (%s) after %d attempts, records skipped", f.Backend, f.Reason, f.Attempts)
			}
		}
		d.Dispatch(alert)

	case pipeline.EventRestart:
		alert := AlertEvent{
			Timestamp: ev.At.UTC().Format(time.RFC3339Nano),
			Type:      EventRestart,
			Stream:    ev.Stream,
			Summary:   "stream error, watch loop restarting",
		}
		if ev.Err != nil {
			alert.Reason = ev.Err.Error()
		}
		d.Dispatch(alert)
	}
}

func matches(events []string, event AlertEvent) bool {
	for _, e := range events {
		if e == event.Type {
			return true
		}
	}
	return false
}
