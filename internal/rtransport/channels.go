package rtransport

// Channel names are the authoritative list from the wire protocol (§4.1).
// Every instance in the fleet must agree on these regardless of language
// or version, so they are plain string constants rather than an enum that
// could renumber across deploys.
const (
	ChannelInstanceStarted     = "instanceStarted"
	ChannelInstanceUpdated     = "instanceUpdated"
	ChannelInstanceHeartbeat   = "instanceHeartbeat"
	ChannelInstanceStopped     = "instanceStopped"
	ChannelRegenerateClients   = "regenerateClients"
	ChannelDestroyClient       = "destroyClient"
	ChannelClientTokensUpdated = "clientTokensUpdated"
	ChannelRequestAdded        = "requestAdded"
	ChannelRequestHeartbeat    = "requestHeartbeat"
	ChannelRequestReady        = "requestReady"
	ChannelRequestDone         = "requestDone"
	ChannelRateLimitUpdated    = "rateLimitUpdated"
)
