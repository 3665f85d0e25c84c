// Package metrics exposes Prometheus collectors for the audit pipeline and
// a pipeline.Sink that feeds them.
package metrics

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/ppiankov/sentinel/internal/oracle"
	"github.com/ppiankov/sentinel/internal/pipeline"
)

const namespace = "sentinel"

// Oracle call outcomes.
const (
	OutcomeSuccess = "success"
	OutcomeError   = "error"
)

var (
	recordsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "records_total",
			Help:      "Records classified, partitioned by compliance status.",
		},
		[]string{"status"},
	)

	skippedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "records_skipped_total",
			Help:      "Records skipped because the oracle failed, partitioned by failure reason.",
		},
		[]string{"reason"},
	)

	oracleCallSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "oracle_call_seconds",
			Help:      "Oracle call latency in seconds, including retries.",
			Buckets:   []float64{0.25, 0.5, 1, 2, 4, 8, 16, 32, 64, 120},
		},
		[]string{"backend", "outcome"},
	)

	lockdownActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "lockdown",
			Help:      "1 once the lockdown latch has tripped, 0 while watching.",
		},
	)

	restartsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "watch_restarts_total",
			Help:      "Watch loop restarts after stream errors.",
		},
	)
)

// Register attaches sentinel collectors to the supplied Prometheus registerer.
func Register(reg prometheus.Registerer) error {
	collectors := []prometheus.Collector{
		recordsTotal,
		skippedTotal,
		oracleCallSeconds,
		lockdownActive,
		restartsTotal,
	}

	for _, collector := range collectors {
		if err := reg.Register(collector); err != nil {
			var already prometheus.AlreadyRegisteredError
			if errors.As(err, &already) {
				continue
			}
			return err
		}
	}
	return nil
}

// ObserveOracleCall records an oracle call duration and outcome label.
func ObserveOracleCall(backend string, duration time.Duration, err error) {
	outcome := OutcomeSuccess
	if err != nil {
		outcome = OutcomeError
	}
	if duration < 0 {
		duration = 0
	}
	oracleCallSeconds.WithLabelValues(backend, outcome).Observe(duration.Seconds())
}

// SetLocked flips the lockdown gauge.
func SetLocked(locked bool) {
	if locked {
		lockdownActive.Set(1)
		return
	}
	lockdownActive.Set(0)
}

// Sink feeds pipeline events into the collectors.
type Sink struct{}

// Handle implements pipeline.Sink.
func (Sink) Handle(ev pipeline.Event) {
	switch ev.Kind {
	case pipeline.EventClassified:
		if ev.Verdict != nil {
			recordsTotal.WithLabelValues(string(ev.Verdict.ComplianceStatus)).Inc()
		}
	case pipeline.EventSkipped:
		reason := "unknown"
		var f *oracle.Failure
		if errors.As(ev.Err, &f) {
			reason = string(f.Reason)
		}
		skippedTotal.WithLabelValues(reason).Inc()
	case pipeline.EventOracleCall:
		ObserveOracleCall(ev.Backend, ev.Duration, ev.Err)
	case pipeline.EventLockdown:
		SetLocked(true)
	case pipeline.EventRestart:
		restartsTotal.Inc()
	}
}
