package client

import "net/http"

// RequestConfig is the caller-supplied description of one outbound call
// (§4.4 step 1). Defaults from RequestOptions.Defaults are shallow-merged
// *under* these fields — the caller's explicit values always win.
type RequestConfig struct {
	Method  string
	URL     string
	BaseURL string
	Headers map[string]string
	Params  map[string]string
	Body    []byte

	Priority int // default 1
	Cost     int // default 1

	Metadata map[string]any
}

// applyDefaults merges d under c, leaving any field c already set
// untouched.
func (c RequestConfig) applyDefaults(d RequestDefaults) RequestConfig {
	merged := c

	if merged.BaseURL == "" {
		merged.BaseURL = d.BaseURL
	}

	merged.Headers = mergeStringStringMaps(d.Headers, c.Headers)
	merged.Params = mergeStringStringMaps(d.Params, c.Params)

	if merged.Priority == 0 {
		merged.Priority = 1
	}
	if merged.Cost == 0 {
		merged.Cost = 1
	}

	return merged
}

// Response is the coordinator's normalized result of one completed HTTP
// call (the teacher's handlers return *http.Response directly; the
// coordinator also needs the decoded body available after the
// connection is closed, hence the separate Body field).
type Response struct {
	StatusCode int
	Headers    http.Header
	Body       []byte
}
