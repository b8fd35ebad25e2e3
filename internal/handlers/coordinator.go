package handlers

import (
	"context"

	"github.com/danielgtaylor/huma/v2"

	"github.com/vivo-us/request-handler/internal/instance"
)

// CoordinatorHandler exposes the instance façade's getClientStats,
// regenerateClients, and destroyClient operations (§6 External
// Interfaces) over HTTP.
type CoordinatorHandler struct {
	handler *instance.RequestHandler
}

// NewCoordinatorHandler wraps a RequestHandler for route registration.
func NewCoordinatorHandler(handler *instance.RequestHandler) *CoordinatorHandler {
	return &CoordinatorHandler{handler: handler}
}

// GetClientStats returns this instance's view of a client's rate limit
// snapshot and role.
func (h *CoordinatorHandler) GetClientStats(ctx context.Context, req *ClientStatsRequest) (*ClientStatsResponse, error) {
	snapshot, role, err := h.handler.GetClientStats(req.Client)
	if err != nil {
		return nil, huma.Error404NotFound("unknown client: " + req.Client)
	}

	resp := &ClientStatsResponse{}
	resp.Body.Client = req.Client
	resp.Body.Role = string(role)
	resp.Body.Kind = string(snapshot.Kind)
	resp.Body.Tokens = snapshot.Tokens
	resp.Body.MaxTokens = snapshot.MaxTokens
	resp.Body.InUseCost = snapshot.InUseCost
	resp.Body.MaxConcurrency = snapshot.MaxConcurrency

	return resp, nil
}

// RegenerateClients re-invokes the named ClientGenerators (all registered
// generators if none are named) on this instance and broadcasts the
// reload fleet-wide.
func (h *CoordinatorHandler) RegenerateClients(_ context.Context, req *RegenerateClientsRequest) (*RegenerateClientsResponse, error) {
	if err := h.handler.RegenerateClients(req.Body.Names...); err != nil {
		return nil, huma.Error500InternalServerError("failed to regenerate clients")
	}

	resp := &RegenerateClientsResponse{}
	resp.Body.Status = "ok"
	return resp, nil
}

// DestroyClient removes a client fleet-wide.
func (h *CoordinatorHandler) DestroyClient(ctx context.Context, req *DestroyClientRequest) (*DestroyClientResponse, error) {
	if err := h.handler.DestroyClient(ctx, req.Client); err != nil {
		return nil, huma.Error500InternalServerError("failed to destroy client")
	}

	resp := &DestroyClientResponse{}
	resp.Body.Status = "ok"
	return resp, nil
}
