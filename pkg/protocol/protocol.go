// Package protocol defines the toolwire wire format shared by the server
// and client transports. This package has zero internal dependencies to
// stay at the bottom of the dependency graph.
package protocol

import "time"

// Message type constants.
const (
	// TypeServerInfo is sent from server to client on connect and lists
	// the registered tool schemas.
	TypeServerInfo = "server_info"
	// TypeToolCall is sent from client to server.
	TypeToolCall = "tool_call"
	// TypeBatchToolCalls is sent from client to server and carries
	// several calls in one envelope.
	TypeBatchToolCalls = "batch_tool_calls"
	// TypeToolResponse is sent from server to client.
	TypeToolResponse = "tool_response"
	// TypeBroadcast is fanned out from server to every connected client.
	TypeBroadcast = "broadcast"
	// TypeError reports a protocol-level error in either direction.
	TypeError = "error"
)

// ToolSchema describes a registered tool: its name, what it does, and the
// JSON-schema properties of its parameters. Immutable once registered.
type ToolSchema struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
	Required    []string       `json:"required,omitempty"`
}

// ToolCall is a single invocation request. It is created when the caller
// issues the call and never mutated afterwards.
type ToolCall struct {
	ID        string         `json:"id"`
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments"`
	Timestamp int64          `json:"timestamp"`
}

// ToolResponse is the terminal outcome of a ToolCall. Exactly one response
// is produced per call; Result and Error are mutually exclusive.
type ToolResponse struct {
	ID            string `json:"id"`
	Result        any    `json:"result"`
	Error         string `json:"error,omitempty"`
	ExecutionTime int64  `json:"executionTime"`
}

// Message is the envelope for all wire traffic. Only the fields relevant
// to Type are populated.
type Message struct {
	Type     string        `json:"type"`
	Tools    []ToolSchema  `json:"tools,omitempty"`
	Call     *ToolCall     `json:"call,omitempty"`
	Calls    []ToolCall    `json:"calls,omitempty"`
	Response *ToolResponse `json:"response,omitempty"`
	Message  any           `json:"message,omitempty"`
	Error    string        `json:"error,omitempty"`
}

// NewToolCall creates a ToolCall stamped with the current time.
func NewToolCall(id, name string, args map[string]any) ToolCall {
	if args == nil {
		args = make(map[string]any)
	}
	return ToolCall{
		ID:        id,
		Name:      name,
		Arguments: args,
		Timestamp: time.Now().UnixMilli(),
	}
}

// NewServerInfo creates a server_info envelope.
func NewServerInfo(tools []ToolSchema) Message {
	return Message{Type: TypeServerInfo, Tools: tools}
}

// NewToolResponseMessage wraps a response in a tool_response envelope.
func NewToolResponseMessage(resp ToolResponse) Message {
	return Message{Type: TypeToolResponse, Response: &resp}
}

// NewBroadcast wraps an arbitrary payload in a broadcast envelope.
func NewBroadcast(payload any) Message {
	return Message{Type: TypeBroadcast, Message: payload}
}

// NewError creates an error envelope with a human-readable message.
func NewError(message string) Message {
	return Message{Type: TypeError, Error: message}
}
