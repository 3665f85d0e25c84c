package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/ppiankov/sentinel/internal/alert"
	"github.com/ppiankov/sentinel/internal/audit"
	"github.com/ppiankov/sentinel/internal/audit/sqlstore"
	"github.com/ppiankov/sentinel/internal/config"
	"github.com/ppiankov/sentinel/internal/latch"
	"github.com/ppiankov/sentinel/internal/logging"
	"github.com/ppiankov/sentinel/internal/metrics"
	"github.com/ppiankov/sentinel/internal/model"
	"github.com/ppiankov/sentinel/internal/oracle"
	"github.com/ppiankov/sentinel/internal/pipeline"
	"github.com/ppiankov/sentinel/internal/report"
	"github.com/ppiankov/sentinel/internal/scan"
	"github.com/ppiankov/sentinel/internal/source"
	"github.com/ppiankov/sentinel/internal/status"
	"github.com/ppiankov/sentinel/internal/verdict"
)

const shutdownTimeout = 5 * time.Second

// app holds everything a pipeline command needs, built once from config.
type app struct {
	cfg        config.Config
	logger     *slog.Logger
	out        io.Writer
	scanner    *scan.Scanner
	classifier oracle.Classifier
	latch      *latch.Latch
	alerts     *alert.Dispatcher
	status     *status.Server
	recorder   audit.Recorder
	sinks      []pipeline.Sink
}

func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}

// loadConfig reads the config file and applies command-line overrides.
func loadConfig() (config.Config, error) {
	cfg, err := config.Load(flagConfig)
	if err != nil {
		return config.Config{}, err
	}
	if flagLogLevel != "" {
		cfg.Logging.Level = flagLogLevel
	}
	if flagLogJSON {
		cfg.Logging.JSON = true
	}
	if flagFormat != "" {
		cfg.Report.Format = flagFormat
		if err := cfg.Validate(); err != nil {
			return config.Config{}, err
		}
	}
	return cfg, nil
}

// setup wires config, logging, the classifier, the latch and every sink.
// The latch resume policy is applied last so resumed lockdowns reach the
// alert and status hooks.
func setup(ctx context.Context, cmd *cobra.Command) (*app, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	a := &app{
		cfg:    cfg,
		logger: logging.New(cfg.Logging.Level, cfg.Logging.JSON, cmd.ErrOrStderr()),
		out:    cmd.OutOrStdout(),
	}

	a.scanner, err = scan.New(&cfg.Patterns)
	if err != nil {
		return nil, &config.Error{Field: "patterns", Err: err}
	}
	a.classifier, err = newClassifier(ctx, cfg.Oracle, a.scanner)
	if err != nil {
		return nil, err
	}

	a.latch = latch.New(cfg.Lockdown.ArtifactPath)
	a.latch.OnLock(func(latch.Event) { metrics.SetLocked(true) })
	if err := metrics.Register(prometheus.DefaultRegisterer); err != nil {
		return nil, fmt.Errorf("register metrics: %w", err)
	}

	a.alerts = alert.NewDispatcher(cfg.Alerts, a.logger)
	if a.alerts != nil {
		a.latch.OnLock(a.alerts.OnLock)
	}

	if cfg.Status.GRPCAddress != "" || cfg.Status.MetricsAddress != "" {
		a.status, err = status.New(status.Config{
			GRPCAddress:    cfg.Status.GRPCAddress,
			MetricsAddress: cfg.Status.MetricsAddress,
		}, a.logger)
		if err != nil {
			return nil, &config.Error{Field: "status", Err: err}
		}
		a.latch.OnLock(a.status.OnLock)
	}

	if cfg.Audit.Path != "" {
		a.recorder, err = openRecorder(cfg.Audit)
		if err != nil {
			a.close()
			return nil, &config.Error{Field: "audit.path", Err: err}
		}
		a.sinks = append(a.sinks, audit.NewSink(a.recorder, a.logger))
	}
	a.sinks = append(a.sinks, metrics.Sink{})
	if a.alerts != nil {
		a.sinks = append(a.sinks, a.alerts)
	}

	resumed, err := a.latch.Resume(cfg.Lockdown.Resume)
	if err != nil {
		a.close()
		return nil, &config.Error{Field: "lockdown.artifact_path", Err: err}
	}
	if resumed {
		a.logger.Error("LOCKDOWN", "reason", "artifact from a previous run", "artifact", a.latch.Path(), "policy", string(cfg.Lockdown.Resume))
	}

	if a.status != nil {
		a.status.Start()
		if resumed {
			a.status.SetLocked(true)
		}
	}
	a.logger.Debug("sentinel ready",
		"backend", a.classifier.Name(), "artifact", a.latch.Path(),
		"audit", cfg.Audit.Path, "alerts", len(cfg.Alerts), "rules", len(a.scanner.Rules()))
	return a, nil
}

func newClassifier(ctx context.Context, cfg config.OracleConfig, scanner *scan.Scanner) (oracle.Classifier, error) {
	switch cfg.Backend {
	case config.BackendRules:
		return oracle.NewRuleClassifier(scanner), nil
	case config.BackendBedrock:
		c, err := oracle.NewBedrockClassifier(ctx, oracle.BedrockConfig{
			Region:                cfg.Bedrock.Region,
			ModelID:               cfg.Bedrock.ModelID,
			AccessKeyID:           cfg.Bedrock.AccessKeyID,
			SecretAccessKey:       cfg.Bedrock.SecretAccessKey,
			MaxTokens:             cfg.MaxTokens,
			Timeout:               cfg.Timeout,
			MaxAttempts:           cfg.MaxAttempts,
			Backoff:               cfg.Backoff,
			AnalyticalTemperature: cfg.AnalyticalTemperature,
		})
		if err != nil {
			return nil, &config.Error{Field: "oracle.bedrock", Err: err}
		}
		return c, nil
	default:
		return oracle.NewHTTPClassifier(oracle.HTTPConfig{
			APIURL:                cfg.APIURL,
			APIKey:                cfg.APIKey,
			Model:                 cfg.Model,
			MaxTokens:             cfg.MaxTokens,
			Timeout:               cfg.Timeout,
			MaxAttempts:           cfg.MaxAttempts,
			Backoff:               cfg.Backoff,
			AnalyticalTemperature: cfg.AnalyticalTemperature,
		}), nil
	}
}

func openRecorder(cfg config.AuditConfig) (audit.Recorder, error) {
	if cfg.Driver == "sqlite" {
		store, err := sqlstore.OpenSQLite(cfg.Path)
		if err != nil {
			return nil, err
		}
		return store, nil
	}
	log, err := audit.Open(cfg.Path)
	if err != nil {
		return nil, err
	}
	return log, nil
}

func (a *app) reporter() pipeline.Reporter {
	if a.cfg.Report.Format == "json" {
		return report.NewJSON(a.out)
	}
	return report.NewConsole(a.out)
}

func (a *app) newDriver(mode model.Mode, reporter pipeline.Reporter, waiter source.Waiter) (*pipeline.Driver, error) {
	return pipeline.New(pipeline.Config{
		Mode:         mode,
		Axioms:       a.cfg.Axioms,
		IdleInterval: a.cfg.Watch.IdleInterval,
		Cooldown:     a.cfg.Watch.Cooldown,
		MaxRestarts:  a.cfg.Watch.MaxRestarts,
	}, pipeline.Deps{
		Classifier: a.classifier,
		Aggregator: verdict.New(a.scanner, a.logger),
		Latch:      a.latch,
		Scanner:    a.scanner,
		Reporter:   reporter,
		Sinks:      a.sinks,
		Waiter:     waiter,
		Logger:     a.logger,
	})
}

// close stops listeners, waits for in-flight alerts and closes the audit
// trail.
func (a *app) close() {
	if a.status != nil {
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		a.status.Shutdown(ctx)
		cancel()
	}
	if a.alerts != nil {
		a.alerts.Wait()
	}
	if a.recorder != nil {
		if err := a.recorder.Close(); err != nil {
			a.logger.Warn("close audit trail", "error", err)
		}
	}
}

func modeFor(deterministic bool) model.Mode {
	if deterministic {
		return model.ModeDeterministic
	}
	return model.ModeAnalytical
}

// inputError reports an input path that cannot be opened or parsed at
// startup. It is a configuration error, not a runtime failure.
func inputError(err error) error {
	return &config.Error{Field: "input", Err: err}
}
