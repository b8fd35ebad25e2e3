package health

import (
	"context"

	"github.com/danielgtaylor/huma/v2"
	"github.com/redis/go-redis/v9"

	"github.com/vivo-us/request-handler/internal/instance"
)

// Checker defines the interface for checking service health.
type Checker interface {
	Ping(ctx context.Context) error
}

// RedisChecker adapts redis.Client to Checker interface.
type RedisChecker struct {
	client *redis.Client
}

// NewRedisChecker creates a new Redis health checker.
func NewRedisChecker(client *redis.Client) *RedisChecker {
	return &RedisChecker{client: client}
}

// Ping checks Redis connectivity.
func (r *RedisChecker) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

// FleetReporter surfaces an instance's view of the fleet it belongs to.
// Satisfied by *instance.RequestHandler.
type FleetReporter interface {
	FleetSummary() instance.FleetSummary
}

// Handler handles health check operations.
type Handler struct {
	redis Checker
	fleet FleetReporter
}

// NewHandler creates a new health handler. fleet reports this instance's
// role in the fleet (§5, §6) alongside the bare Redis ping so the
// endpoint carries the coordinator's own domain, not just connectivity.
func NewHandler(redis Checker, fleet FleetReporter) *Handler {
	return &Handler{redis: redis, fleet: fleet}
}

// Response is the response for health check endpoint.
type Response struct {
	Body struct {
		Status            string `json:"status"`
		Redis             string `json:"redis"`
		InstanceID        string `json:"instanceId,omitempty"`
		FleetSize         int    `json:"fleetSize,omitempty"`
		ControlledClients int    `json:"controlledClients,omitempty"`
		TotalClients      int    `json:"totalClients,omitempty"`
	}
}

// Check performs a health check of the application and its dependencies.
func (h *Handler) Check(ctx context.Context, _ *struct{}) (*Response, error) {
	resp := &Response{}
	resp.Body.Status = "ok"

	if err := h.redis.Ping(ctx); err != nil {
		resp.Body.Redis = "unhealthy"
		resp.Body.Status = "degraded"
	} else {
		resp.Body.Redis = "healthy"
	}

	if h.fleet != nil {
		summary := h.fleet.FleetSummary()
		resp.Body.InstanceID = summary.InstanceID
		resp.Body.FleetSize = summary.FleetSize
		resp.Body.ControlledClients = summary.ControlledClients
		resp.Body.TotalClients = summary.TotalClients
	}

	return resp, nil
}

// RegisterRoutes registers health check routes.
func RegisterRoutes(api huma.API, h *Handler) {
	huma.Get(api, "/health", h.Check)
}
