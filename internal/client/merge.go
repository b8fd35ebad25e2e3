package client

import "github.com/vivo-us/request-handler/internal/recordtypes"

// FlattenSpecs flattens nested subClients (§3 SubClient composition) into
// a flat slice of siblings, renaming each flattened child "parent:child"
// and removing SubClients from the result.
func FlattenSpecs(specs []Spec) []Spec {
	var out []Spec
	for _, s := range specs {
		out = append(out, flattenOne(s, nil)...)
	}
	return out
}

func flattenOne(s Spec, parent *Spec) []Spec {
	flat := s
	flat.SubClients = nil

	if parent != nil {
		flat.Name = parent.Name + ":" + s.Name
		flat = mergeChild(*parent, flat)
	}

	out := []Spec{flat}
	for _, child := range s.SubClients {
		out = append(out, flattenOne(child, &flat)...)
	}
	return out
}

// mergeChild applies the §3 merge rule: child overrides scalar fields;
// metadata, axiosOptions, requestOptions (incl. defaults), and
// retryOptions are shallow-merged with child values winning. A child
// that declares no rateLimit of its own is given a Shared policy
// forwarding to the parent, so it uses "the parent's... concurrency
// slot" as described for sub-clients.
func mergeChild(parent, child Spec) Spec {
	merged := child
	merged.Name = child.Name

	if child.RateLimit.Kind == "" {
		merged.RateLimit.Kind = recordtypes.KindShared
		merged.RateLimit.TargetClientName = parent.Name
	}

	if child.Authentication == nil {
		merged.Authentication = parent.Authentication
	}

	if child.HealthCheckIntervalMs == 0 {
		merged.HealthCheckIntervalMs = parent.HealthCheckIntervalMs
	}

	if len(child.HTTPStatusCodesToMute) == 0 {
		merged.HTTPStatusCodesToMute = parent.HTTPStatusCodesToMute
	}

	if child.RateLimitChange == nil {
		merged.RateLimitChange = parent.RateLimitChange
	}

	merged.Metadata = mergeStringAnyMaps(parent.Metadata, child.Metadata)
	merged.AxiosOptions = mergeStringAnyMaps(parent.AxiosOptions, child.AxiosOptions)

	merged.RequestOptions = mergeRequestOptions(parent.RequestOptions, child.RequestOptions)
	merged.RetryOptions = mergeRetryOptions(parent.RetryOptions, child.RetryOptions)

	return merged
}

func mergeRequestOptions(parent, child RequestOptions) RequestOptions {
	merged := child

	if child.CleanupTimeoutMs == 0 {
		merged.CleanupTimeoutMs = parent.CleanupTimeoutMs
	}
	if child.RequestInterceptor == nil {
		merged.RequestInterceptor = parent.RequestInterceptor
	}
	if child.ResponseInterceptor == nil {
		merged.ResponseInterceptor = parent.ResponseInterceptor
	}

	merged.Metadata = mergeStringAnyMaps(parent.Metadata, child.Metadata)

	merged.Defaults.Headers = mergeStringStringMaps(parent.Defaults.Headers, child.Defaults.Headers)
	merged.Defaults.Params = mergeStringStringMaps(parent.Defaults.Params, child.Defaults.Params)
	if child.Defaults.BaseURL == "" {
		merged.Defaults.BaseURL = parent.Defaults.BaseURL
	}

	return merged
}

func mergeRetryOptions(parent, child RetryOptions) RetryOptions {
	merged := child

	if child.MaxRetries == 0 {
		merged.MaxRetries = parent.MaxRetries
	}
	if child.RetryBackoffBaseTimeMs == 0 {
		merged.RetryBackoffBaseTimeMs = parent.RetryBackoffBaseTimeMs
	}
	if child.RetryBackoffMethod == "" {
		merged.RetryBackoffMethod = parent.RetryBackoffMethod
	}
	if !child.Retry429s {
		merged.Retry429s = parent.Retry429s
	}
	if !child.Retry5xxs {
		merged.Retry5xxs = parent.Retry5xxs
	}
	if child.RetryHandler == nil {
		merged.RetryHandler = parent.RetryHandler
	}
	if len(child.RetryStatusCodes) == 0 {
		merged.RetryStatusCodes = parent.RetryStatusCodes
	}
	if child.ThawRequestCount == 0 {
		merged.ThawRequestCount = parent.ThawRequestCount
	}

	return merged
}

func mergeStringAnyMaps(parent, child map[string]any) map[string]any {
	if len(parent) == 0 && len(child) == 0 {
		return nil
	}
	out := make(map[string]any, len(parent)+len(child))
	for k, v := range parent {
		out[k] = v
	}
	for k, v := range child {
		out[k] = v
	}
	return out
}

func mergeStringStringMaps(parent, child map[string]string) map[string]string {
	if len(parent) == 0 && len(child) == 0 {
		return nil
	}
	out := make(map[string]string, len(parent)+len(child))
	for k, v := range parent {
		out[k] = v
	}
	for k, v := range child {
		out[k] = v
	}
	return out
}
