package alert

// Event types a webhook can subscribe to.
const (
	EventLockdown      = "lockdown"
	EventOracleFailure = "oracle_failure"
	EventRestart       = "restart"
	EventTamper        = "binary_tamper"
)

// AlertConfig defines a webhook alert destination.
type AlertConfig struct {
	URL     string            `yaml:"url"     json:"url"`
	Format  string            `yaml:"format"  json:"format"` // "generic", "slack", "pagerduty"
	Events  []string          `yaml:"events"  json:"events"` // ["lockdown", "oracle_failure", "restart", "binary_tamper"]
	Headers map[string]string `yaml:"headers" json:"headers"`
}

// AlertEvent is the payload sent to webhook endpoints.
type AlertEvent struct {
	Timestamp          string  `json:"timestamp"`
	Type               string  `json:"type"`
	RunID              string  `json:"run_id,omitempty"`
	Stream             string  `json:"stream,omitempty"`
	Summary            string  `json:"summary"`
	Reason             string  `json:"reason,omitempty"`
	MinReasoningHealth float64 `json:"min_reasoning_health,omitempty"`
	Artifact           string  `json:"artifact,omitempty"`
	Resumed            bool    `json:"resumed,omitempty"`
}
