package handlers

import (
	"github.com/danielgtaylor/huma/v2"
)

// RegisterRoutes mounts the coordinator's management operations.
func RegisterRoutes(api huma.API, h *CoordinatorHandler) {
	huma.Get(api, "/stats/{client}", h.GetClientStats)
	huma.Post(api, "/clients/regenerate", h.RegenerateClients)
	huma.Delete(api, "/clients/{client}", h.DestroyClient)
}
