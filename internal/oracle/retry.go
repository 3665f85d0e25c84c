package oracle

import (
	"context"
	"errors"
	"time"

	"github.com/ppiankov/sentinel/internal/model"
)

const (
	defaultMaxAttempts = 4
	defaultBackoff     = 2 * time.Second
)

// retryPolicy retries transient failures with exponential backoff:
// the wait before attempt n+1 is backoff * 2^n.
type retryPolicy struct {
	maxAttempts int
	backoff     time.Duration
	sleep       func(ctx context.Context, d time.Duration) error
}

func newRetryPolicy(maxAttempts int, backoff time.Duration) retryPolicy {
	if maxAttempts <= 0 {
		maxAttempts = defaultMaxAttempts
	}
	if backoff <= 0 {
		backoff = defaultBackoff
	}
	return retryPolicy{maxAttempts: maxAttempts, backoff: backoff, sleep: sleepCtx}
}

// permanent wraps a failure that must not be retried.
type permanent struct{ err error }

func (p permanent) Error() string { return p.err.Error() }
func (p permanent) Unwrap() error { return p.err }

// do runs fn until it succeeds, returns a permanent error, the context is
// done, or attempts run out. The returned failure carries the attempt count.
func (p retryPolicy) do(ctx context.Context, backend string, fn func(ctx context.Context) (*model.AuditReport, error)) (*model.AuditReport, error) {
	var lastErr error
	attempt := 0
	for attempt < p.maxAttempts {
		if attempt > 0 {
			if err := p.sleep(ctx, p.backoff*time.Duration(1<<(attempt-1))); err != nil {
				return nil, &Failure{Backend: backend, Reason: ReasonTransport, Attempts: attempt, Err: err}
			}
		}
		attempt++

		report, err := fn(ctx)
		if err == nil {
			return report, nil
		}
		lastErr = err
		var perm permanent
		if errors.As(err, &perm) || ctx.Err() != nil {
			break
		}
	}
	return nil, asFailure(backend, attempt, lastErr)
}

// decodeOnce decodes a reply. Undecodable or schema-invalid replies are
// permanent failures.
func decodeOnce(raw string, want int) (*model.AuditReport, error) {
	report, err := Decode(raw, want)
	if err != nil {
		return nil, permanent{err}
	}
	return report, nil
}

func asFailure(backend string, attempts int, err error) error {
	var f *Failure
	if errors.As(err, &f) {
		out := *f
		out.Backend = backend
		out.Attempts = attempts
		return &out
	}
	return &Failure{Backend: backend, Reason: ReasonTransport, Attempts: attempts, Err: err}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
