package client

import (
	"errors"
	"math"
	"net"
	"os"
	"slices"
	"time"
)

// RetryDecision is the outcome of the §4.5 retry-eligibility check.
type RetryDecision struct {
	Retry         bool
	IsRateLimited bool
}

// classifyOutcome implements the §4.5 "first match wins" retry
// eligibility table. statusCode is 0 for a transport-level failure
// (transportErr set instead).
func classifyOutcome(retries int, statusCode int, transportErr error, opts RetryOptions) RetryDecision {
	if retries >= opts.MaxRetries {
		return RetryDecision{}
	}

	if statusCode == 429 && opts.Retry429s {
		return RetryDecision{Retry: true, IsRateLimited: true}
	}

	if statusCode >= 500 && opts.Retry5xxs {
		return RetryDecision{Retry: true}
	}

	if statusCode != 0 && slices.Contains(opts.RetryStatusCodes, statusCode) {
		return RetryDecision{Retry: true}
	}

	if transportErr != nil && isRetryableTransportError(transportErr) {
		return RetryDecision{Retry: true}
	}

	if opts.RetryHandler != nil && opts.RetryHandler(transportErr) {
		return RetryDecision{Retry: true}
	}

	return RetryDecision{}
}

func isRetryableTransportError(err error) bool {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	if errors.Is(err, os.ErrDeadlineExceeded) {
		return true
	}

	var sysErr *net.OpError
	if errors.As(err, &sysErr) {
		return true
	}

	return false
}

// backoffDuration computes §4.5's waitTime = retries^p × base. p is 2
// for "exponential" (the default) and 1 for "linear". base is the
// token bucket's refill interval for token-bucket clients (so the
// minimum backoff is always at least one refill cycle) or
// retryBackoffBaseTime otherwise.
func backoffDuration(retries int, method string, base time.Duration) time.Duration {
	p := 2.0
	if method == "linear" {
		p = 1.0
	}

	multiplier := math.Pow(float64(retries), p)
	return time.Duration(multiplier * float64(base))
}
