package protocol

// WebSocket event names pushed from server to client.
const (
	EventAgent    = "agent"
	EventChat     = "chat"
	EventHealth   = "health"
	EventHeartbeat = "heartbeat"
	EventShutdown = "shutdown"
	EventPresence = "presence"

	EventDevicePairReq = "device.pair.requested"
	EventDevicePairRes = "device.pair.resolved"

	EventOAuthUpdated = "oauth.updated"

	// EventCacheInvalidate is internal bookkeeping, never forwarded as-is
	// to WebSocket clients.
	EventCacheInvalidate = "cache.invalidate"
)

// Agent run stream discriminants (Stream field of a bus event).
const (
	StreamAssistant = "assistant"
	StreamTool      = "tool"
	StreamLifecycle = "lifecycle"
	StreamError     = "error"
)

// Chat event states (in payload.state).
const (
	ChatStateDelta = "delta"
	ChatStateFinal = "final"
	ChatStateError = "error"
)

// Lifecycle phases (in payload.phase for stream=lifecycle).
const (
	LifecyclePhaseEnd   = "end"
	LifecyclePhaseError = "error"
)

// AgentErrorEvent is the synthetic event emitted when a run's sequence
// number skips ahead of the last observed value.
type AgentErrorEvent struct {
	RunID    string `json:"runId"`
	Stream   string `json:"stream"`
	Reason   string `json:"reason"`
	Expected int    `json:"expected"`
	Received int    `json:"received"`
}

// AgentErrorPayload builds the synthetic gap-error event for runID.
func AgentErrorPayload(runID, reason string, expected, received int) AgentErrorEvent {
	return AgentErrorEvent{RunID: runID, Stream: StreamError, Reason: reason, Expected: expected, Received: received}
}
