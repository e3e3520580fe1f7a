package client

import "github.com/quenchlab/toolwire/pkg/protocol"

// EventType identifies the kind of client lifecycle event.
type EventType int

const (
	// EventConnected fires after a successful connect or reconnect.
	EventConnected EventType = iota
	// EventDisconnected fires when the connection drops.
	EventDisconnected
	// EventToolCall fires for each call sent.
	EventToolCall
	// EventToolResponse fires for each response received.
	EventToolResponse
	// EventToolsUpdated fires when a server_info snapshot arrives.
	EventToolsUpdated
	// EventBroadcast fires for server broadcast messages.
	EventBroadcast
	// EventServerError fires for error envelopes from the server.
	EventServerError
	// EventReconnectFailed is terminal: all reconnect attempts were
	// exhausted. It fires at most once per exhaustion.
	EventReconnectFailed
)

// Event is a client lifecycle notification. Only the fields relevant to
// Type are populated.
type Event struct {
	Type      EventType
	Call      *protocol.ToolCall
	Response  *protocol.ToolResponse
	Tools     []protocol.ToolSchema
	Broadcast any
	Err       string
}

// EventListener receives lifecycle events from the client. Events fire
// from the reader goroutine; implementations must not block.
type EventListener interface {
	OnEvent(event Event)
}
