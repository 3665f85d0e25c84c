package alert

import (
	"encoding/json"
	"fmt"
)

// FormatPayload builds the webhook body for the given format.
func FormatPayload(format string, event AlertEvent) ([]byte, error) {
	switch format {
	case "slack":
		return formatSlack(event)
	case "pagerduty":
		return formatPagerDuty(event)
	default:
		return formatGeneric(event)
	}
}

func formatGeneric(event AlertEvent) ([]byte, error) {
	return json.Marshal(event)
}

func formatSlack(event AlertEvent) ([]byte, error) {
	fields := []any{
		map[string]any{"type": "mrkdwn", "text": fmt.Sprintf("*Stream:* %s", orDash(event.Stream))},
		map[string]any{"type": "mrkdwn", "text": fmt.Sprintf("*Run:* %s", orDash(event.RunID))},
		map[string]any{"type": "mrkdwn", "text": fmt.Sprintf("*Summary:* %s", orDash(event.Summary))},
	}
	if event.Type == EventLockdown {
		fields = append(fields,
			map[string]any{"type": "mrkdwn", "text": fmt.Sprintf("*Min reasoning health:* %.0f", event.MinReasoningHealth)},
			map[string]any{"type": "mrkdwn", "text": fmt.Sprintf("*Artifact:* %s", orDash(event.Artifact))},
		)
	}
	if event.Reason != "" {
		fields = append(fields, map[string]any{"type": "mrkdwn", "text": fmt.Sprintf("*Reason:* %s", event.Reason)})
	}

	payload := map[string]any{
		"blocks": []any{
			map[string]any{
				"type": "header",
				"text": map[string]any{
					"type": "plain_text",
					"text": fmt.Sprintf("sentinel: %s", event.Type),
				},
			},
			map[string]any{
				"type":   "section",
				"fields": fields,
			},
		},
	}
	return json.Marshal(payload)
}

func formatPagerDuty(event AlertEvent) ([]byte, error) {
	payload := map[string]any{
		"event_action": "trigger",
		"payload": map[string]any{
			"summary":  fmt.Sprintf("sentinel %s: %s", event.Type, event.Summary),
			"severity": severityFor(event.Type),
			"source":   "sentinel",
			"custom_details": map[string]any{
				"run_id":               event.RunID,
				"stream":               event.Stream,
				"reason":               event.Reason,
				"min_reasoning_health": event.MinReasoningHealth,
				"artifact":             event.Artifact,
			},
		},
	}
	return json.Marshal(payload)
}

func severityFor(eventType string) string {
	switch eventType {
	case EventLockdown, EventTamper:
		return "critical"
	case EventOracleFailure:
		return "error"
	case EventRestart:
		return "warning"
	default:
		return "info"
	}
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
