// Package client is the websocket client transport: it correlates calls
// with responses by id, bounds every call with a timeout, and recovers
// dropped connections with a bounded number of reconnect attempts.
package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/quenchlab/toolwire/pkg/logger"
	"github.com/quenchlab/toolwire/pkg/protocol"
)

// Options configures a Client.
type Options struct {
	// URL is the ws:// endpoint of the server.
	URL string
	// CallTimeout bounds each call round trip. Defaults to 30s.
	CallTimeout time.Duration
	// ReconnectInterval is the fixed delay between reconnect attempts.
	// Defaults to 3s.
	ReconnectInterval time.Duration
	// MaxReconnectAttempts bounds reconnection after an unexpected
	// close. Defaults to 10.
	MaxReconnectAttempts int
}

type callOutcome struct {
	result any
	err    error
}

// pendingCall is the client-side record of an in-flight call. At most one
// exists per outstanding id; it is removed when the response arrives or
// the timeout fires, whichever comes first.
type pendingCall struct {
	ch        chan callOutcome
	timestamp time.Time
}

// Client connects to a toolwire server and invokes tools on it.
type Client struct {
	opts   Options
	dialer websocket.Dialer

	mu                sync.Mutex
	ws                *websocket.Conn
	connected         bool
	closed            bool
	reconnectAttempts int
	reconnecting      bool
	pending           map[string]*pendingCall
	tools             []protocol.ToolSchema

	writeMu sync.Mutex

	listenersMu sync.RWMutex
	listeners   []EventListener
}

func New(opts Options) *Client {
	if opts.CallTimeout <= 0 {
		opts.CallTimeout = 30 * time.Second
	}
	if opts.ReconnectInterval <= 0 {
		opts.ReconnectInterval = 3 * time.Second
	}
	if opts.MaxReconnectAttempts <= 0 {
		opts.MaxReconnectAttempts = 10
	}
	return &Client{
		opts: opts,
		dialer: websocket.Dialer{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
		pending: make(map[string]*pendingCall),
	}
}

// AddListener subscribes to client lifecycle events.
func (c *Client) AddListener(listener EventListener) {
	c.listenersMu.Lock()
	defer c.listenersMu.Unlock()
	c.listeners = append(c.listeners, listener)
}

func (c *Client) emit(event Event) {
	c.listenersMu.RLock()
	listeners := c.listeners
	c.listenersMu.RUnlock()
	for _, l := range listeners {
		l.OnEvent(event)
	}
}

// Connect opens the connection. It settles one way or the other: nil on a
// successful open, an error on failure. Success resets the reconnect
// attempt counter.
func (c *Client) Connect(ctx context.Context) error {
	ws, resp, err := c.dialer.DialContext(ctx, c.opts.URL, nil)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		return fmt.Errorf("failed to connect to %s: %w", c.opts.URL, err)
	}

	c.mu.Lock()
	c.ws = ws
	c.connected = true
	c.closed = false
	c.reconnectAttempts = 0
	c.mu.Unlock()

	logger.InfoCF("client", "Connected", map[string]any{"url": c.opts.URL})
	c.emit(Event{Type: EventConnected})

	go c.readLoop(ws)
	return nil
}

func (c *Client) readLoop(ws *websocket.Conn) {
	for {
		_, raw, err := ws.ReadMessage()
		if err != nil {
			break
		}
		c.handleMessage(raw)
	}

	c.mu.Lock()
	wasCurrent := c.ws == ws
	if wasCurrent {
		c.connected = false
	}
	manualClose := c.closed
	c.mu.Unlock()

	if !wasCurrent {
		return
	}

	logger.InfoC("client", "Connection closed")
	c.emit(Event{Type: EventDisconnected})

	if !manualClose {
		go c.attemptReconnect()
	}
}

func (c *Client) handleMessage(raw []byte) {
	var msg protocol.Message
	if err := json.Unmarshal(raw, &msg); err != nil {
		logger.WarnCF("client", "Unparseable message", map[string]any{"error": err.Error()})
		return
	}

	switch msg.Type {
	case protocol.TypeServerInfo:
		c.mu.Lock()
		c.tools = msg.Tools
		c.mu.Unlock()
		c.emit(Event{Type: EventToolsUpdated, Tools: msg.Tools})

	case protocol.TypeToolResponse:
		if msg.Response == nil {
			return
		}
		resp := *msg.Response

		c.mu.Lock()
		pc, ok := c.pending[resp.ID]
		if ok {
			delete(c.pending, resp.ID)
		}
		c.mu.Unlock()

		// A response whose id has no pending entry (it already timed
		// out) is a no-op.
		if !ok {
			return
		}

		if resp.Error != "" {
			pc.ch <- callOutcome{err: errors.New(resp.Error)}
		} else {
			pc.ch <- callOutcome{result: resp.Result}
		}
		c.emit(Event{Type: EventToolResponse, Response: &resp})

	case protocol.TypeBroadcast:
		c.emit(Event{Type: EventBroadcast, Broadcast: msg.Message})

	case protocol.TypeError:
		c.emit(Event{Type: EventServerError, Err: msg.Error})

	default:
		logger.DebugCF("client", "Unknown message type", map[string]any{"type": msg.Type})
	}
}

func (c *Client) attemptReconnect() {
	c.mu.Lock()
	if c.reconnecting {
		c.mu.Unlock()
		return
	}
	c.reconnecting = true
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		c.reconnecting = false
		c.mu.Unlock()
	}()

	for {
		c.mu.Lock()
		if c.closed {
			c.mu.Unlock()
			return
		}
		if c.reconnectAttempts >= c.opts.MaxReconnectAttempts {
			c.mu.Unlock()
			logger.WarnC("client", "Max reconnect attempts reached")
			c.emit(Event{Type: EventReconnectFailed})
			return
		}
		c.reconnectAttempts++
		attempt := c.reconnectAttempts
		c.mu.Unlock()

		logger.InfoCF("client", "Attempting to reconnect", map[string]any{
			"attempt": attempt,
			"max":     c.opts.MaxReconnectAttempts,
		})

		time.Sleep(c.opts.ReconnectInterval)

		if err := c.Connect(context.Background()); err == nil {
			return
		}
	}
}

// IsConnected reports whether the connection is currently open.
func (c *Client) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

// AvailableTools returns the schemas from the most recent server_info.
func (c *Client) AvailableTools() []protocol.ToolSchema {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]protocol.ToolSchema, len(c.tools))
	copy(out, c.tools)
	return out
}

func (c *Client) hasTool(name string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, t := range c.tools {
		if t.Name == name {
			return true
		}
	}
	return false
}

func (c *Client) send(v any) error {
	c.mu.Lock()
	ws := c.ws
	connected := c.connected
	c.mu.Unlock()
	if !connected || ws == nil {
		return errors.New("not connected to server")
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return ws.WriteJSON(v)
}

func (c *Client) register(id string) *pendingCall {
	pc := &pendingCall{ch: make(chan callOutcome, 1), timestamp: time.Now()}
	c.mu.Lock()
	c.pending[id] = pc
	c.mu.Unlock()
	return pc
}

func (c *Client) unregister(id string) {
	c.mu.Lock()
	delete(c.pending, id)
	c.mu.Unlock()
}

// CallTool invokes a tool and blocks until its response arrives, the call
// timeout elapses, or ctx is cancelled. Responses arriving after a
// timeout are discarded.
func (c *Client) CallTool(ctx context.Context, name string, args map[string]any) (any, error) {
	if !c.IsConnected() {
		return nil, errors.New("not connected to server")
	}
	if !c.hasTool(name) {
		return nil, fmt.Errorf("tool not available: %s", name)
	}

	call := protocol.NewToolCall("call_"+uuid.NewString(), name, args)
	pc := c.register(call.ID)

	if err := c.send(protocol.Message{Type: protocol.TypeToolCall, Call: &call}); err != nil {
		c.unregister(call.ID)
		return nil, err
	}
	c.emit(Event{Type: EventToolCall, Call: &call})

	timer := time.NewTimer(c.opts.CallTimeout)
	defer timer.Stop()

	select {
	case out := <-pc.ch:
		return out.result, out.err
	case <-timer.C:
		c.unregister(call.ID)
		return nil, fmt.Errorf("tool call timed out: %s", name)
	case <-ctx.Done():
		c.unregister(call.ID)
		return nil, ctx.Err()
	}
}

// BatchCall names one call inside a batch.
type BatchCall struct {
	Name string
	Args map[string]any
}

// BatchCallTools sends all calls in one batch message and gathers the
// results back into call order. The first failure rejects the entire
// batch and clears every pending entry that belonged to it.
func (c *Client) BatchCallTools(ctx context.Context, calls []BatchCall) ([]any, error) {
	if !c.IsConnected() {
		return nil, errors.New("not connected to server")
	}
	if len(calls) == 0 {
		return nil, nil
	}

	toolCalls := make([]protocol.ToolCall, len(calls))
	pendings := make([]*pendingCall, len(calls))
	for i, bc := range calls {
		toolCalls[i] = protocol.NewToolCall("call_"+uuid.NewString(), bc.Name, bc.Args)
		pendings[i] = c.register(toolCalls[i].ID)
	}

	cleanup := func() {
		for _, tc := range toolCalls {
			c.unregister(tc.ID)
		}
	}

	if err := c.send(protocol.Message{Type: protocol.TypeBatchToolCalls, Calls: toolCalls}); err != nil {
		cleanup()
		return nil, err
	}

	type indexed struct {
		idx int
		out callOutcome
	}
	gathered := make(chan indexed, len(calls))
	done := make(chan struct{})
	defer close(done)

	for i, pc := range pendings {
		go func(idx int, pc *pendingCall) {
			select {
			case out := <-pc.ch:
				gathered <- indexed{idx: idx, out: out}
			case <-done:
			}
		}(i, pc)
	}

	timer := time.NewTimer(c.opts.CallTimeout)
	defer timer.Stop()

	results := make([]any, len(calls))
	remaining := len(calls)
	for remaining > 0 {
		select {
		case in := <-gathered:
			if in.out.err != nil {
				cleanup()
				return nil, in.out.err
			}
			results[in.idx] = in.out.result
			remaining--
		case <-timer.C:
			cleanup()
			return nil, errors.New("batch tool call timed out")
		case <-ctx.Done():
			cleanup()
			return nil, ctx.Err()
		}
	}
	return results, nil
}

// Close shuts the connection down without triggering reconnection.
func (c *Client) Close() {
	c.mu.Lock()
	c.closed = true
	c.connected = false
	ws := c.ws
	c.ws = nil
	c.mu.Unlock()

	if ws != nil {
		ws.Close()
	}
}
