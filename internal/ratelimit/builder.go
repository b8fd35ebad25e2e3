package ratelimit

import (
	"fmt"
	"time"

	"github.com/vivo-us/request-handler/internal/recordtypes"
)

// FromSpec constructs the Policy variant a ClientSpec's rateLimit field
// describes (§6 External Interfaces). Shared specs need a Resolver since
// their target may not exist yet at construction time.
func FromSpec(spec recordtypes.RateLimitSpec, resolve Resolver) (Policy, error) {
	switch spec.Kind {
	case recordtypes.KindNoLimit, "":
		return NewNoLimit(), nil
	case recordtypes.KindTokenBucket:
		if spec.IntervalMs <= 0 || spec.MaxTokens <= 0 {
			return nil, fmt.Errorf("ratelimit: requestLimit requires interval>0 and maxTokens>0, got %+v", spec)
		}

		return NewTokenBucket(time.Duration(spec.IntervalMs)*time.Millisecond, spec.TokensToAdd, spec.MaxTokens), nil
	case recordtypes.KindConcurrencyGate:
		if spec.MaxConcurrency <= 0 {
			return nil, fmt.Errorf("ratelimit: concurrencyLimit requires maxConcurrency>0, got %+v", spec)
		}

		return NewConcurrencyGate(spec.MaxConcurrency), nil
	case recordtypes.KindShared:
		if spec.TargetClientName == "" {
			return nil, fmt.Errorf("ratelimit: sharedLimit requires clientName, got %+v", spec)
		}

		return NewShared(spec.TargetClientName, resolve), nil
	default:
		return nil, fmt.Errorf("ratelimit: unknown rate limit kind %q", spec.Kind)
	}
}
