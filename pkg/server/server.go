// Package server is the websocket transport and dispatch path of the
// toolwire runtime. One goroutine serves each connection; all shared
// state (connection map, registry, tracker) is mutex-guarded.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"github.com/quenchlab/toolwire/pkg/logger"
	"github.com/quenchlab/toolwire/pkg/modes"
	"github.com/quenchlab/toolwire/pkg/protocol"
	"github.com/quenchlab/toolwire/pkg/tools"
	"github.com/quenchlab/toolwire/pkg/tracker"
)

// Options configures a Server.
type Options struct {
	// ToolTimeout bounds each handler execution. Defaults to 10s.
	ToolTimeout time.Duration
	// FloodLimit caps messages per second accepted from one connection.
	// Zero disables the guard.
	FloodLimit float64
	// FloodBurst is the guard's burst allowance. Defaults to 10 when the
	// guard is enabled.
	FloodBurst int
}

// connection is the per-client bookkeeping. The write mutex serializes
// frames; gorilla connections permit only one concurrent writer.
type connection struct {
	id      string
	ws      *websocket.Conn
	writeMu sync.Mutex
	flood   *rate.Limiter
}

func (c *connection) writeJSON(v any) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.ws.WriteJSON(v)
}

func (c *connection) writeRaw(data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.ws.WriteMessage(websocket.TextMessage, data)
}

// Server accepts websocket clients, routes their tool calls through the
// dispatcher, and serves /health and /status over the same listener.
type Server struct {
	opts        Options
	registry    *tools.Registry
	callTracker *tracker.Tracker
	modeManager modes.Manager
	upgrader    websocket.Upgrader
	startTime   time.Time

	httpServer *http.Server
	ln         net.Listener

	mu    sync.Mutex
	conns map[string]*connection

	listenersMu sync.RWMutex
	listeners   []EventListener
}

// New creates a Server around the given registry. modeManager may be nil;
// calls are then dispatched without mode enrichment.
func New(registry *tools.Registry, modeManager modes.Manager, opts Options) *Server {
	if opts.ToolTimeout <= 0 {
		opts.ToolTimeout = 10 * time.Second
	}
	if opts.FloodLimit > 0 && opts.FloodBurst <= 0 {
		opts.FloodBurst = 10
	}
	return &Server{
		opts:        opts,
		registry:    registry,
		callTracker: tracker.New(),
		modeManager: modeManager,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// Single trusted local client pair; no origin policy.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		conns: make(map[string]*connection),
	}
}

// RegisterTool adds a tool to the registry. Re-registering a name
// overwrites the previous entry. Clients already connected keep the
// schema list they received on connect.
func (s *Server) RegisterTool(tool tools.Tool) {
	s.registry.Register(tool)
}

// Tracker exposes the call history for external dashboards.
func (s *Server) Tracker() *tracker.Tracker {
	return s.callTracker
}

// AddListener subscribes to server lifecycle events.
func (s *Server) AddListener(listener EventListener) {
	s.listenersMu.Lock()
	defer s.listenersMu.Unlock()
	s.listeners = append(s.listeners, listener)
}

func (s *Server) emit(event Event) {
	s.listenersMu.RLock()
	listeners := s.listeners
	s.listenersMu.RUnlock()
	for _, l := range listeners {
		l.OnEvent(event)
	}
}

// Listen binds addr and begins accepting connections. It returns once the
// listener is bound; serving continues in the background until Stop.
func (s *Server) Listen(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to bind %s: %w", addr, err)
	}
	s.ln = ln
	s.startTime = time.Now()

	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/status", s.handleStatus)
	mux.HandleFunc("/", s.handleRoot)

	s.httpServer = &http.Server{Handler: mux}

	go func() {
		if err := s.httpServer.Serve(ln); err != nil && err != http.ErrServerClosed {
			logger.ErrorCF("server", "Serve error", map[string]any{"error": err.Error()})
		}
	}()

	logger.InfoCF("server", "Listening", map[string]any{"addr": ln.Addr().String()})
	return nil
}

// Addr returns the bound address, useful when listening on port 0.
func (s *Server) Addr() string {
	if s.ln == nil {
		return ""
	}
	return s.ln.Addr().String()
}

// Uptime reports how long the server has been listening.
func (s *Server) Uptime() time.Duration {
	if s.startTime.IsZero() {
		return 0
	}
	return time.Since(s.startTime)
}

// ConnectionCount returns the number of live connections.
func (s *Server) ConnectionCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.conns)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"status":      "ok",
		"uptime":      s.Uptime().Seconds(),
		"tools":       s.registry.List(),
		"toolStats":   s.callTracker.CallStats(),
		"connections": s.ConnectionCount(),
	})
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	if !websocket.IsWebSocketUpgrade(r) {
		http.NotFound(w, r)
		return
	}

	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.ErrorCF("server", "Upgrade failed", map[string]any{"error": err.Error()})
		return
	}

	conn := &connection{id: "conn_" + uuid.NewString(), ws: ws}
	if s.opts.FloodLimit > 0 {
		conn.flood = rate.NewLimiter(rate.Limit(s.opts.FloodLimit), s.opts.FloodBurst)
	}

	s.mu.Lock()
	s.conns[conn.id] = conn
	s.mu.Unlock()

	logger.InfoCF("server", "Client connected", map[string]any{"connection": conn.id})
	s.emit(Event{Type: EventConnect, ConnectionID: conn.id})

	// Schemas registered after this point are not retroactively pushed.
	if err := conn.writeJSON(protocol.NewServerInfo(s.registry.Schemas())); err != nil {
		logger.WarnCF("server", "Failed to send server_info", map[string]any{
			"connection": conn.id,
			"error":      err.Error(),
		})
	}

	go s.readLoop(conn)
}

func (s *Server) readLoop(conn *connection) {
	defer func() {
		conn.ws.Close()
		s.mu.Lock()
		delete(s.conns, conn.id)
		s.mu.Unlock()
		logger.InfoCF("server", "Client disconnected", map[string]any{"connection": conn.id})
		s.emit(Event{Type: EventDisconnect, ConnectionID: conn.id})
	}()

	for {
		_, raw, err := conn.ws.ReadMessage()
		if err != nil {
			return
		}
		s.onMessage(conn, raw)
	}
}

// onMessage parses exactly two client message shapes. Anything else is
// reported as a protocol error without closing the connection.
func (s *Server) onMessage(conn *connection, raw []byte) {
	if conn.flood != nil && !conn.flood.Allow() {
		conn.writeJSON(protocol.NewError("message rate exceeded"))
		return
	}

	var msg protocol.Message
	if err := json.Unmarshal(raw, &msg); err != nil {
		logger.WarnCF("server", "Unparseable message", map[string]any{
			"connection": conn.id,
			"error":      err.Error(),
		})
		conn.writeJSON(protocol.NewError("Failed to parse or process message"))
		return
	}

	switch msg.Type {
	case protocol.TypeToolCall:
		if msg.Call == nil {
			conn.writeJSON(protocol.NewError("tool_call message missing call"))
			return
		}
		resp := s.HandleToolCall(context.Background(), *msg.Call)
		s.sendResponse(conn, resp)

	case protocol.TypeBatchToolCalls:
		if len(msg.Calls) == 0 {
			conn.writeJSON(protocol.NewError("batch_tool_calls message missing calls"))
			return
		}
		// Calls run sequentially in arrival order; clients correlate by
		// id and must not rely on response ordering.
		for _, call := range msg.Calls {
			resp := s.HandleToolCall(context.Background(), call)
			s.sendResponse(conn, resp)
		}

	default:
		conn.writeJSON(protocol.NewError(fmt.Sprintf("unsupported message type: %q", msg.Type)))
	}
}

func (s *Server) sendResponse(conn *connection, resp protocol.ToolResponse) {
	if err := conn.writeJSON(protocol.NewToolResponseMessage(resp)); err != nil {
		logger.WarnCF("server", "Failed to send response", map[string]any{
			"connection": conn.id,
			"call":       resp.ID,
			"error":      err.Error(),
		})
	}
}

// Broadcast serializes message once and fans it out to every open
// connection. Connections that fail the write are dropped silently; the
// broadcaster never sees an error.
func (s *Server) Broadcast(message any) {
	data, err := json.Marshal(protocol.NewBroadcast(message))
	if err != nil {
		logger.ErrorCF("server", "Broadcast marshal failed", map[string]any{"error": err.Error()})
		return
	}

	s.mu.Lock()
	conns := make([]*connection, 0, len(s.conns))
	for _, c := range s.conns {
		conns = append(conns, c)
	}
	s.mu.Unlock()

	for _, c := range conns {
		if err := c.writeRaw(data); err != nil {
			logger.WarnCF("server", "Dropping dead connection", map[string]any{
				"connection": c.id,
				"error":      err.Error(),
			})
			c.ws.Close()
			s.mu.Lock()
			delete(s.conns, c.id)
			s.mu.Unlock()
		}
	}
}

// Stop closes every open connection, clears the connection map, then
// closes the listening socket. It returns only after the listener is
// fully closed.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	conns := make([]*connection, 0, len(s.conns))
	for _, c := range s.conns {
		conns = append(conns, c)
	}
	s.conns = make(map[string]*connection)
	s.mu.Unlock()

	for _, c := range conns {
		c.ws.Close()
	}

	if s.httpServer == nil {
		return nil
	}
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}
	logger.InfoC("server", "Stopped")
	return nil
}
