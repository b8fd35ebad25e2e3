package ratelimit

import "errors"

// ErrFrozen is returned by Admit when the client froze while a caller was
// waiting for capacity. The admission loop (§4.3 step 3) treats this as
// "abort the iteration; it resumes when unfrozen" rather than a terminal
// failure.
var ErrFrozen = errors.New("ratelimit: client is frozen")

// ErrUnknownTarget is returned by a Shared policy whose target client
// cannot be resolved (e.g. destroyed or never created).
var ErrUnknownTarget = errors.New("ratelimit: shared limit target client not found")
