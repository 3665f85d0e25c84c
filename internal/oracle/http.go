package oracle

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/ppiankov/neurorouter"

	"github.com/ppiankov/sentinel/internal/model"
)

// HTTPConfig holds parameters for an OpenAI-compatible chat completions
// endpoint.
type HTTPConfig struct {
	APIURL                string
	APIKey                string
	Model                 string
	MaxTokens             int
	Timeout               time.Duration
	MaxAttempts           int
	Backoff               time.Duration
	AnalyticalTemperature float64
}

// HTTPClassifier asks a remote chat completions endpoint for a report.
type HTTPClassifier struct {
	cfg    HTTPConfig
	client *http.Client
	retry  retryPolicy
}

// NewHTTPClassifier applies defaults and returns a classifier.
func NewHTTPClassifier(cfg HTTPConfig) *HTTPClassifier {
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 8192
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 120 * time.Second
	}
	return &HTTPClassifier{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
		retry:  newRetryPolicy(cfg.MaxAttempts, cfg.Backoff),
	}
}

// Name identifies the backend in logs and failures.
func (c *HTTPClassifier) Name() string { return "http" }

// Classify sends one request and decodes the report, retrying transient
// failures.
func (c *HTTPClassifier) Classify(ctx context.Context, req Request) (*model.AuditReport, error) {
	user, err := UserPrompt(req)
	if err != nil {
		return nil, &Failure{Backend: c.Name(), Reason: ReasonTransport, Attempts: 0, Err: err}
	}

	body, _ := json.Marshal(map[string]interface{}{
		"model": c.cfg.Model,
		"messages": []map[string]string{
			{"role": "system", "content": SystemPrompt(req.Mode, req.Axioms)},
			{"role": "user", "content": user},
		},
		"max_tokens":      c.cfg.MaxTokens,
		"temperature":     temperature(req.Mode, c.cfg.AnalyticalTemperature),
		"response_format": map[string]string{"type": "json_object"},
	})

	report, err := c.retry.do(ctx, c.Name(), func(ctx context.Context) (*model.AuditReport, error) {
		content, err := c.post(ctx, body)
		if err != nil {
			return nil, err
		}
		return decodeOnce(content, len(req.Records))
	})
	if err != nil {
		return nil, err
	}
	bind(report, req)
	return report, nil
}

// post performs one round trip and returns the assistant message content.
func (c *HTTPClassifier) post(ctx context.Context, body []byte) (string, error) {
	httpReq, err := http.NewRequestWithContext(ctx, "POST", c.cfg.APIURL, bytes.NewReader(body))
	if err != nil {
		return "", permanent{&Failure{Reason: ReasonTransport, Err: fmt.Errorf("create request: %w", err)}}
	}
	if c.cfg.APIKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return "", &Failure{Reason: ReasonTransport, Err: fmt.Errorf("classify request failed: %w", err)}
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, _ := io.ReadAll(resp.Body)
	detail := strings.TrimSpace(string(respBody))

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return "", &Failure{Reason: ReasonRateLimited, Err: fmt.Errorf("%w: HTTP 429: %s", neurorouter.ErrRateLimited, truncate(detail, 200))}
	case resp.StatusCode >= 500,
		resp.StatusCode != http.StatusOK && strings.Contains(strings.ToLower(detail), "overloaded"):
		return "", &Failure{Reason: ReasonStatus, Err: fmt.Errorf("classify HTTP %d: %s", resp.StatusCode, truncate(detail, 200))}
	case resp.StatusCode != http.StatusOK:
		return "", permanent{&Failure{Reason: ReasonStatus, Err: fmt.Errorf("classify HTTP %d: %s", resp.StatusCode, truncate(detail, 200))}}
	}

	var result struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := json.Unmarshal(respBody, &result); err != nil || len(result.Choices) == 0 {
		return "", &Failure{Reason: ReasonDecode, Err: fmt.Errorf("empty classify response")}
	}
	return result.Choices[0].Message.Content, nil
}
