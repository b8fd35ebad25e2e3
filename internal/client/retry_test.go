package client

import (
	"errors"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestClassifyOutcomeMaxRetriesExhausted(t *testing.T) {
	opts := RetryOptions{MaxRetries: 3, Retry5xxs: true}
	d := classifyOutcome(3, 500, nil, opts)
	assert.False(t, d.Retry)
}

func TestClassifyOutcome429MarksRateLimited(t *testing.T) {
	opts := RetryOptions{MaxRetries: 3, Retry429s: true}
	d := classifyOutcome(0, 429, nil, opts)
	assert.True(t, d.Retry)
	assert.True(t, d.IsRateLimited)
}

func TestClassifyOutcome5xxRetries(t *testing.T) {
	opts := RetryOptions{MaxRetries: 3, Retry5xxs: true}
	d := classifyOutcome(0, 503, nil, opts)
	assert.True(t, d.Retry)
	assert.False(t, d.IsRateLimited)
}

func TestClassifyOutcomeExplicitStatusCodeList(t *testing.T) {
	opts := RetryOptions{MaxRetries: 3, RetryStatusCodes: []int{418}}
	d := classifyOutcome(0, 418, nil, opts)
	assert.True(t, d.Retry)
}

func TestClassifyOutcomeTransportTimeoutRetries(t *testing.T) {
	opts := RetryOptions{MaxRetries: 3}
	d := classifyOutcome(0, 0, &net.DNSError{IsTimeout: true}, opts)
	assert.True(t, d.Retry)
}

func TestClassifyOutcomeFallsBackToRetryHandler(t *testing.T) {
	custom := errors.New("some app-specific failure")
	opts := RetryOptions{MaxRetries: 3, RetryHandler: func(err error) bool { return errors.Is(err, custom) }}
	d := classifyOutcome(0, 400, custom, opts)
	assert.True(t, d.Retry)
}

func TestClassifyOutcomeNoMatchDoesNotRetry(t *testing.T) {
	opts := RetryOptions{MaxRetries: 3}
	d := classifyOutcome(0, 400, nil, opts)
	assert.False(t, d.Retry)
}

func TestBackoffDurationExponentialDefault(t *testing.T) {
	// §8 S3: waitTime = 1×1×100 on first retry (retries=1, base=100ms).
	got := backoffDuration(1, "exponential", 100*time.Millisecond)
	assert.Equal(t, 100*time.Millisecond, got)
}

func TestBackoffDurationExponentialGrowsQuadratically(t *testing.T) {
	got := backoffDuration(3, "exponential", 100*time.Millisecond)
	assert.Equal(t, 900*time.Millisecond, got)
}

func TestBackoffDurationLinear(t *testing.T) {
	got := backoffDuration(3, "linear", 100*time.Millisecond)
	assert.Equal(t, 300*time.Millisecond, got)
}
