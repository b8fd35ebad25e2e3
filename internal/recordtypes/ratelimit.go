package recordtypes

// RateLimitKind tags which policy variant a RateLimitSnapshot or
// RateLimitSpec carries. Untyped pub/sub payloads in the original design
// gain this explicit discriminator.
type RateLimitKind string

const (
	KindNoLimit         RateLimitKind = "noLimit"
	KindTokenBucket     RateLimitKind = "requestLimit"
	KindConcurrencyGate RateLimitKind = "concurrencyLimit"
	KindShared          RateLimitKind = "sharedLimit"
)

// RateLimitSpec is the generator-authored configuration for a client's
// rate limit, as it appears in a ClientSpec (§6 External Interfaces).
type RateLimitSpec struct {
	Kind RateLimitKind `json:"type"`

	// TokenBucket fields.
	IntervalMs  int64 `json:"interval,omitempty"`
	TokensToAdd int   `json:"tokensToAdd,omitempty"`
	MaxTokens   int   `json:"maxTokens,omitempty"`

	// ConcurrencyGate field.
	MaxConcurrency int `json:"maxConcurrency,omitempty"`

	// Shared field.
	TargetClientName string `json:"clientName,omitempty"`
}

// RateLimitSnapshot is the advisory rate-limit state a client publishes
// on clientTokensUpdated (token bucket, after each admission) and on
// rateLimitUpdated (after a rateLimitChange hook). No instance subscribes
// to either channel: getClientStats reports the local policy's own
// Snapshot, so a worker does not see the controller's token count.
// Workers never admit from it.
type RateLimitSnapshot struct {
	ClientName string        `json:"clientName"`
	Kind       RateLimitKind `json:"type"`
	Tokens     int           `json:"tokens,omitempty"`
	MaxTokens  int           `json:"maxTokens,omitempty"`
	InUseCost  int           `json:"inUseCost,omitempty"`
	MaxConcurrency int       `json:"maxConcurrency,omitempty"`
}
