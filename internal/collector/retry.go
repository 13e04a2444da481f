package collector

import (
	"context"
	"fmt"
	"net/http"
	"time"
)

// RetryPolicy bounds the attempts made for a single request
type RetryPolicy struct {
	// InitialWait is the sleep after the first failed attempt.
	InitialWait time.Duration
	// Limit is the total number of attempts, including the first.
	Limit int
}

// DefaultRetryPolicy mirrors retry_initial_wait_sec=1, retry_limit=5.
var DefaultRetryPolicy = RetryPolicy{
	InitialWait: 1 * time.Second,
	Limit:       5,
}

// Backoff returns the wait after the given failed attempt (1-based):
// InitialWait, 2*InitialWait, 4*InitialWait...
func (p RetryPolicy) Backoff(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	return p.InitialWait * time.Duration(int64(1)<<uint(attempt-1))
}

// attemptState is a state of the request retry machine
type attemptState int

const (
	stateAttempting attemptState = iota
	stateSuccess
	stateFailedFatal
	stateFailedExhausted
)

func (s attemptState) String() string {
	switch s {
	case stateAttempting:
		return "attempting"
	case stateSuccess:
		return "success"
	case stateFailedFatal:
		return "failed_fatal"
	case stateFailedExhausted:
		return "failed_exhausted"
	default:
		return "unknown"
	}
}

// outcome classifies one attempt
type outcome int

const (
	outcomeSuccess outcome = iota
	outcomeRetryable
	outcomeFatal
)

// classifyStatus maps an HTTP status to an attempt outcome. 429 and 5xx are
// transient; any other non-2xx means the request itself is wrong.
func classifyStatus(code int) outcome {
	switch {
	case code >= 200 && code < 300:
		return outcomeSuccess
	case code == http.StatusTooManyRequests:
		return outcomeRetryable
	case code >= 500:
		return outcomeRetryable
	default:
		return outcomeFatal
	}
}

// next is the transition function of the retry machine after attempt n.
func (p RetryPolicy) next(n int, o outcome) attemptState {
	switch o {
	case outcomeSuccess:
		return stateSuccess
	case outcomeFatal:
		return stateFailedFatal
	}
	if n >= p.Limit {
		return stateFailedExhausted
	}
	return stateAttempting
}

// statusError is a non-2xx response
type statusError struct {
	StatusCode int
	Body       string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("mixpanel api status=%d body=%s", e.StatusCode, e.Body)
}

// sleepContext waits for d or until ctx is done.
func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
