// Package config loads the sentinel YAML configuration, expands ${VAR}
// references, applies environment overrides and validates the result.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/ppiankov/sentinel/internal/alert"
	"github.com/ppiankov/sentinel/internal/latch"
	"github.com/ppiankov/sentinel/internal/model"
	"github.com/ppiankov/sentinel/internal/scan"
)

// Oracle backends.
const (
	BackendHTTP    = "http"
	BackendBedrock = "bedrock"
	BackendRules   = "rules"
)

const (
	defaultOpenAIURL   = "https://api.openai.com/v1/chat/completions"
	defaultOpenAIModel = "gpt-4o"
	defaultGeminiURL   = "https://generativelanguage.googleapis.com/v1beta/openai/chat/completions"
	defaultGeminiModel = "gemini-2.5-pro"
)

// Error is a configuration problem: missing credential, unreadable file or
// invalid value. It is fatal at startup.
type Error struct {
	Field string
	Err   error
}

func (e *Error) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("config: %v", e.Err)
	}
	return fmt.Sprintf("config: %s: %v", e.Field, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

func invalid(field, format string, args ...any) error {
	return &Error{Field: field, Err: fmt.Errorf(format, args...)}
}

// Config is the full sentinel configuration.
type Config struct {
	Oracle   OracleConfig        `yaml:"oracle"`
	Axioms   []model.Axiom       `yaml:"axioms"`
	Watch    WatchConfig         `yaml:"watch"`
	Lockdown LockdownConfig      `yaml:"lockdown"`
	Patterns scan.Config         `yaml:"patterns"`
	Audit    AuditConfig         `yaml:"audit"`
	Alerts   []alert.AlertConfig `yaml:"alerts"`
	Status   StatusConfig        `yaml:"status"`
	Logging  LoggingConfig       `yaml:"logging"`
	Report   ReportConfig        `yaml:"report"`
}

// OracleConfig selects and tunes the classifier backend.
type OracleConfig struct {
	Backend               string        `yaml:"backend"`
	APIURL                string        `yaml:"api_url"`
	APIKey                string        `yaml:"api_key"`
	Model                 string        `yaml:"model"`
	Timeout               time.Duration `yaml:"timeout"`
	MaxAttempts           int           `yaml:"max_attempts"`
	Backoff               time.Duration `yaml:"backoff"`
	MaxTokens             int           `yaml:"max_tokens"`
	AnalyticalTemperature float64       `yaml:"analytical_temperature"`
	Bedrock               BedrockConfig `yaml:"bedrock"`
}

// BedrockConfig holds AWS Bedrock settings.
type BedrockConfig struct {
	Region          string `yaml:"region"`
	ModelID         string `yaml:"model_id"`
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
}

// WatchConfig tunes the watch loop.
type WatchConfig struct {
	IdleInterval time.Duration `yaml:"idle_interval"`
	Cooldown     time.Duration `yaml:"cooldown"`
	MaxRestarts  int           `yaml:"max_restarts"`
	UseFsnotify  bool          `yaml:"use_fsnotify"`
}

// LockdownConfig locates the artifact and decides startup behavior.
type LockdownConfig struct {
	ArtifactPath string       `yaml:"artifact_path"`
	Resume       latch.Policy `yaml:"resume"`
}

// AuditConfig enables the audit trail. An empty path disables it.
type AuditConfig struct {
	Path   string `yaml:"path"`
	Driver string `yaml:"driver"`
}

// StatusConfig enables the gRPC health and metrics listeners.
type StatusConfig struct {
	GRPCAddress    string `yaml:"grpc_address"`
	MetricsAddress string `yaml:"metrics_address"`
}

// LoggingConfig controls slog output.
type LoggingConfig struct {
	Level string `yaml:"level"`
	JSON  bool   `yaml:"json"`
}

// ReportConfig selects the reporter.
type ReportConfig struct {
	Format string `yaml:"format"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Oracle: OracleConfig{
			Backend:               BackendHTTP,
			Timeout:               120 * time.Second,
			MaxAttempts:           4,
			Backoff:               2 * time.Second,
			MaxTokens:             8192,
			AnalyticalTemperature: 0.7,
		},
		Watch: WatchConfig{
			IdleInterval: time.Second,
			Cooldown:     5 * time.Second,
			MaxRestarts:  10,
			UseFsnotify:  true,
		},
		Lockdown: LockdownConfig{
			ArtifactPath: latch.DefaultArtifactPath,
			Resume:       latch.StayLocked,
		},
		Audit:   AuditConfig{Driver: "jsonl"},
		Logging: LoggingConfig{Level: "info"},
		Report:  ReportConfig{Format: "console"},
	}
}

// DefaultPath returns the config path used when none is given:
// $SENTINEL_CONFIG, then ~/.sentinel/config.yaml.
func DefaultPath() string {
	if p := os.Getenv("SENTINEL_CONFIG"); p != "" {
		return p
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".sentinel", "config.yaml")
}

// Load reads path (or the default path when empty), applies environment
// overrides and validates. A missing file at the default path yields the
// defaults; a missing explicit path is an error.
func Load(path string) (Config, error) {
	cfg, err := Read(path)
	if err != nil {
		return Config{}, err
	}
	return cfg, cfg.Validate()
}

// Read is Load without validation, for commands that only need part of
// the configuration (patterns, alerts) and must work without credentials.
func Read(path string) (Config, error) {
	explicit := path != ""
	if !explicit {
		path = DefaultPath()
	}

	cfg := Default()
	if path != "" {
		// #nosec G304 -- path is operator-provided config path.
		raw, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := Parse(raw, &cfg); err != nil {
				return Config{}, err
			}
		case errors.Is(err, fs.ErrNotExist) && !explicit:
		default:
			return Config{}, &Error{Field: path, Err: err}
		}
	}

	cfg.ApplyEnv()
	return cfg, nil
}

// Parse expands ${VAR} references and decodes YAML over cfg.
func Parse(raw []byte, cfg *Config) error {
	expanded := os.ExpandEnv(string(raw))
	expanded = strings.ReplaceAll(expanded, "\r\n", "\n")
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return &Error{Err: fmt.Errorf("parse yaml: %w", err)}
	}
	return nil
}

// ApplyEnv resolves credentials and endpoint overrides from the environment.
// The API key falls back through SENTINEL_API_KEY, GEMINI_API_KEY and
// OPENAI_API_KEY; the endpoint defaults follow whichever key was found.
func (c *Config) ApplyEnv() {
	gemini := false
	if c.Oracle.APIKey == "" {
		switch {
		case os.Getenv("SENTINEL_API_KEY") != "":
			c.Oracle.APIKey = os.Getenv("SENTINEL_API_KEY")
		case os.Getenv("GEMINI_API_KEY") != "":
			c.Oracle.APIKey = os.Getenv("GEMINI_API_KEY")
			gemini = true
		case os.Getenv("OPENAI_API_KEY") != "":
			c.Oracle.APIKey = os.Getenv("OPENAI_API_KEY")
		}
	}

	if u := os.Getenv("SENTINEL_API_URL"); u != "" {
		c.Oracle.APIURL = u
	} else if c.Oracle.APIURL == "" {
		c.Oracle.APIURL = defaultOpenAIURL
		if gemini {
			c.Oracle.APIURL = defaultGeminiURL
		}
	}

	if m := os.Getenv("SENTINEL_MODEL"); m != "" {
		c.Oracle.Model = m
	} else if c.Oracle.Model == "" {
		c.Oracle.Model = defaultOpenAIModel
		if c.Oracle.APIURL == defaultGeminiURL {
			c.Oracle.Model = defaultGeminiModel
		}
	}
}

// Validate checks every field. Errors are *Error.
func (c Config) Validate() error {
	switch c.Oracle.Backend {
	case BackendHTTP:
		if c.Oracle.APIURL == "" {
			return invalid("oracle.api_url", "is required for the http backend")
		}
		if c.Oracle.APIKey == "" && !IsLocalURL(c.Oracle.APIURL) {
			return invalid("oracle.api_key", "no credential: set SENTINEL_API_KEY, GEMINI_API_KEY or OPENAI_API_KEY")
		}
	case BackendBedrock:
		if c.Oracle.Bedrock.ModelID == "" {
			return invalid("oracle.bedrock.model_id", "is required for the bedrock backend")
		}
		if (c.Oracle.Bedrock.AccessKeyID == "") != (c.Oracle.Bedrock.SecretAccessKey == "") {
			return invalid("oracle.bedrock", "access_key_id and secret_access_key must be set together")
		}
	case BackendRules:
	default:
		return invalid("oracle.backend", "unknown backend %q (want http, bedrock or rules)", c.Oracle.Backend)
	}
	if c.Oracle.MaxAttempts < 0 {
		return invalid("oracle.max_attempts", "must not be negative")
	}
	if c.Oracle.AnalyticalTemperature < 0 || c.Oracle.AnalyticalTemperature > 2 {
		return invalid("oracle.analytical_temperature", "must be between 0 and 2")
	}

	for i, a := range c.Axioms {
		field := fmt.Sprintf("axioms[%d]", i)
		if a.ID == "" || a.Title == "" {
			return invalid(field, "id and title are required")
		}
		if a.Severity != "" && !a.Severity.Valid() {
			return invalid(field, "unknown severity %q", a.Severity)
		}
	}

	if c.Watch.IdleInterval < 0 || c.Watch.Cooldown < 0 {
		return invalid("watch", "intervals must not be negative")
	}
	if c.Lockdown.ArtifactPath == "" {
		return invalid("lockdown.artifact_path", "is required")
	}
	if !c.Lockdown.Resume.Valid() {
		return invalid("lockdown.resume", "unknown policy %q (want stay_locked or start_fresh)", c.Lockdown.Resume)
	}
	if _, err := scan.New(&c.Patterns); err != nil {
		return &Error{Field: "patterns", Err: err}
	}

	switch c.Audit.Driver {
	case "jsonl", "sqlite":
	default:
		return invalid("audit.driver", "unknown driver %q (want jsonl or sqlite)", c.Audit.Driver)
	}
	for i, a := range c.Alerts {
		field := fmt.Sprintf("alerts[%d]", i)
		if a.URL == "" {
			return invalid(field, "url is required")
		}
		switch a.Format {
		case "", "generic", "slack", "pagerduty":
		default:
			return invalid(field, "unknown format %q", a.Format)
		}
	}
	switch c.Report.Format {
	case "console", "json":
	default:
		return invalid("report.format", "unknown format %q (want console or json)", c.Report.Format)
	}
	return nil
}

// IsLocalURL reports whether u points at this machine, where a local
// model server needs no credential.
func IsLocalURL(u string) bool {
	parsed, err := url.Parse(u)
	if err != nil {
		return false
	}
	switch parsed.Hostname() {
	case "localhost", "127.0.0.1", "::1":
		return true
	}
	return false
}
