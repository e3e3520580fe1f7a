package server

import "github.com/quenchlab/toolwire/pkg/protocol"

// EventType identifies the kind of server lifecycle event.
type EventType int

const (
	// EventConnect fires when a client connection is accepted.
	EventConnect EventType = iota
	// EventDisconnect fires when a client connection goes away.
	EventDisconnect
	// EventToolCall fires when a call enters the dispatch path.
	EventToolCall
	// EventToolSuccess fires after a handler completes in time.
	EventToolSuccess
	// EventToolError fires for every failed outcome, timeouts included.
	EventToolError
)

// Event is a server lifecycle notification. Only the fields relevant to
// Type are populated.
type Event struct {
	Type         EventType
	ConnectionID string
	Call         *protocol.ToolCall
	Response     *protocol.ToolResponse
}

// EventListener receives lifecycle events. Implementations must be safe
// for concurrent use; events fire from per-connection goroutines.
type EventListener interface {
	OnEvent(event Event)
}
