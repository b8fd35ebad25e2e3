// Package instance implements the process-level façade named
// "RequestHandler" in §2: it loads the client set from application
// supplied generators, runs leader election for each client, routes
// pub/sub messages to the right client.Client, and exposes
// handleRequest/destroyClient/regenerateClients/getClientStats.
package instance

import "github.com/vivo-us/request-handler/internal/client"

// ClientGenerator is a pure function returning the client specs an
// application wants registered (§3 Client lifecycle: "created during
// instance bootstrap from a ClientGenerator"). Non-goal collaborator
// per §1 — applications own this function's contents.
type ClientGenerator func() []client.Spec
