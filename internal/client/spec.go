// Package client implements the per-named-target coordinator (§3 Client,
// §4.3 admission loop, §4.4 request pipeline, §4.5 freeze/thaw + retry).
package client

import (
	"net/http"

	"github.com/vivo-us/request-handler/internal/authn"
	"github.com/vivo-us/request-handler/internal/recordtypes"
)

// Spec is the generator-authored client specification (§6 External
// Interfaces). One ClientGenerator returns a slice of these; subClients
// are flattened into siblings named "parent:child" before a Client is
// constructed for each (§3 SubClient composition).
type Spec struct {
	Name                  string
	RateLimit             recordtypes.RateLimitSpec
	RateLimitChange       func(old recordtypes.RateLimitSnapshot, resp *http.Response) *recordtypes.RateLimitSpec
	RequestOptions        RequestOptions
	RetryOptions          RetryOptions
	HTTPStatusCodesToMute []int
	HealthCheckIntervalMs int64
	Metadata              map[string]any
	AxiosOptions          map[string]any
	Authentication        *authn.Spec
	SubClients            []Spec
}

// RequestOptions configures the per-request pipeline (§4.4 step 1, 4).
type RequestOptions struct {
	CleanupTimeoutMs     int64
	Metadata             map[string]any
	Defaults             RequestDefaults
	RequestInterceptor   func(*RequestConfig) error
	ResponseInterceptor  func(*http.Response) error
}

// RequestDefaults are shallow-merged *under* the caller's explicit
// request config (§4.4 step 1: "the caller's explicit values win").
type RequestDefaults struct {
	Headers map[string]string
	BaseURL string
	Params  map[string]string
}

// RetryOptions controls retry eligibility and backoff (§4.5).
type RetryOptions struct {
	MaxRetries             int
	RetryBackoffBaseTimeMs int64
	RetryBackoffMethod     string // "exponential" (default) or "linear"
	Retry429s              bool
	Retry5xxs              bool
	RetryHandler           func(err error) bool
	RetryStatusCodes       []int
	ThawRequestCount       int
}

// DefaultRetryOptions matches the §6 generator defaults.
func DefaultRetryOptions() RetryOptions {
	return RetryOptions{
		MaxRetries:             3,
		RetryBackoffBaseTimeMs: 1000,
		RetryBackoffMethod:     "exponential",
		Retry429s:              true,
		Retry5xxs:              true,
		ThawRequestCount:       3,
	}
}

// applyDefaults fills the zero-valued MaxRetries, RetryBackoffBaseTimeMs,
// RetryBackoffMethod and ThawRequestCount of o with the §6 defaults,
// leaving anything the generator explicitly set untouched. Retry429s and
// Retry5xxs are not filled: a false value stays false.
func (o RetryOptions) applyDefaults() RetryOptions {
	d := DefaultRetryOptions()

	if o.MaxRetries == 0 {
		o.MaxRetries = d.MaxRetries
	}

	if o.RetryBackoffBaseTimeMs == 0 {
		o.RetryBackoffBaseTimeMs = d.RetryBackoffBaseTimeMs
	}

	if o.RetryBackoffMethod == "" {
		o.RetryBackoffMethod = d.RetryBackoffMethod
	}

	if o.ThawRequestCount == 0 {
		o.ThawRequestCount = d.ThawRequestCount
	}

	return o
}
