// Package handlers holds the huma request/response types and operation
// methods for the coordinator's management HTTP surface, following the
// teacher's input-struct/output-struct convention (internal/handlers
// in the reference pack).
package handlers

// ClientStatsRequest names the client whose rate-limit snapshot and
// role is being requested.
type ClientStatsRequest struct {
	Client string `doc:"Client name" example:"github-api" path:"client"`
}

// ClientStatsResponse is the response for GET /stats/{client}.
type ClientStatsResponse struct {
	Body struct {
		Client         string `doc:"Client name"                                 json:"client"`
		Role           string `doc:"controller or worker on this instance"       json:"role"`
		Kind           string `doc:"Rate limit policy kind"                      json:"kind"`
		Tokens         int    `doc:"Tokens currently available (token bucket)"   json:"tokens"`
		MaxTokens      int    `doc:"Bucket capacity"                             json:"maxTokens"`
		InUseCost      int    `doc:"In-flight cost (concurrency gate)"           json:"inUseCost"`
		MaxConcurrency int    `doc:"Concurrency gate capacity"                   json:"maxConcurrency"`
	}
}

// RegenerateClientsRequest optionally names which registered generators
// to re-invoke (§6: "regenerateClients(names?) — fleet-wide reload of the
// named generators (all if omitted)").
type RegenerateClientsRequest struct {
	Body struct {
		Names []string `doc:"Generator names to reload (all registered generators if omitted)" json:"names,omitempty"`
	}
}

// RegenerateClientsResponse acknowledges the regenerate request.
type RegenerateClientsResponse struct {
	Body struct {
		Status string `json:"status"`
	}
}

// DestroyClientRequest names the client to remove fleet-wide.
type DestroyClientRequest struct {
	Client string `doc:"Client name" example:"github-api" path:"client"`
}

// DestroyClientResponse acknowledges client removal.
type DestroyClientResponse struct {
	Body struct {
		Status string `json:"status"`
	}
}
