package client

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quenchlab/toolwire/pkg/protocol"
)

// fakeServer speaks just enough of the wire protocol to exercise the
// client: it greets with server_info and answers tool calls according to
// its configured behavior.
type fakeServer struct {
	*httptest.Server
	upgrader websocket.Upgrader

	mu           sync.Mutex
	conns        []*websocket.Conn
	respond      func(ws *websocket.Conn, wsMu *sync.Mutex, call protocol.ToolCall)
	batchRespond func(ws *websocket.Conn, wsMu *sync.Mutex, calls []protocol.ToolCall)
}

func newFakeServer(t *testing.T) *fakeServer {
	t.Helper()
	fs := &fakeServer{}
	fs.respond = func(ws *websocket.Conn, wsMu *sync.Mutex, call protocol.ToolCall) {
		message, _ := call.Arguments["message"].(string)
		resp := protocol.ToolResponse{ID: call.ID, Result: map[string]any{"echo": message}}
		wsMu.Lock()
		ws.WriteJSON(protocol.NewToolResponseMessage(resp))
		wsMu.Unlock()
	}

	fs.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := fs.upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		fs.mu.Lock()
		fs.conns = append(fs.conns, ws)
		fs.mu.Unlock()

		var wsMu sync.Mutex
		wsMu.Lock()
		ws.WriteJSON(protocol.NewServerInfo([]protocol.ToolSchema{{Name: "echo"}}))
		wsMu.Unlock()

		for {
			var msg protocol.Message
			if err := ws.ReadJSON(&msg); err != nil {
				return
			}
			switch msg.Type {
			case protocol.TypeToolCall:
				if msg.Call != nil {
					fs.mu.Lock()
					respond := fs.respond
					fs.mu.Unlock()
					respond(ws, &wsMu, *msg.Call)
				}
			case protocol.TypeBatchToolCalls:
				fs.mu.Lock()
				batch := fs.batchRespond
				fs.mu.Unlock()
				if batch != nil {
					batch(ws, &wsMu, msg.Calls)
				}
			}
		}
	}))
	t.Cleanup(fs.Close)
	return fs
}

func (fs *fakeServer) wsURL() string {
	return "ws://" + strings.TrimPrefix(fs.URL, "http://")
}

func (fs *fakeServer) closeConns() {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	for _, ws := range fs.conns {
		ws.Close()
	}
	fs.conns = nil
}

type eventRecorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *eventRecorder) OnEvent(e Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *eventRecorder) count(typ EventType) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, e := range r.events {
		if e.Type == typ {
			n++
		}
	}
	return n
}

func waitForCondition(t *testing.T, timeout time.Duration, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("condition not met within %v: %s", timeout, msg)
}

func connectedClient(t *testing.T, fs *fakeServer, opts Options) (*Client, *eventRecorder) {
	t.Helper()
	if opts.URL == "" {
		opts.URL = fs.wsURL()
	}
	recorder := &eventRecorder{}
	c := New(opts)
	c.AddListener(recorder)
	require.NoError(t, c.Connect(context.Background()))
	t.Cleanup(c.Close)

	waitForCondition(t, 2*time.Second, func() bool {
		return len(c.AvailableTools()) > 0
	}, "tools snapshot")
	return c, recorder
}

func TestCallToolNotConnected(t *testing.T) {
	c := New(Options{URL: "ws://127.0.0.1:1"})
	_, err := c.CallTool(context.Background(), "echo", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not connected")
}

func TestCallToolUnknownName(t *testing.T) {
	fs := newFakeServer(t)
	c, _ := connectedClient(t, fs, Options{})

	_, err := c.CallTool(context.Background(), "missing", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not available")
}

func TestCallToolRoundTrip(t *testing.T) {
	fs := newFakeServer(t)
	c, recorder := connectedClient(t, fs, Options{})

	result, err := c.CallTool(context.Background(), "echo", map[string]any{"message": "hi"})
	require.NoError(t, err)
	assert.Equal(t, "hi", result.(map[string]any)["echo"])

	waitForCondition(t, time.Second, func() bool {
		return recorder.count(EventToolResponse) == 1
	}, "tool response event")
}

func TestCallToolTimeoutAndLateResponse(t *testing.T) {
	fs := newFakeServer(t)

	// Hold the response past the client's timeout, then deliver it late.
	release := make(chan struct{})
	fs.mu.Lock()
	fs.respond = func(ws *websocket.Conn, wsMu *sync.Mutex, call protocol.ToolCall) {
		go func() {
			<-release
			resp := protocol.ToolResponse{ID: call.ID, Result: "late"}
			wsMu.Lock()
			ws.WriteJSON(protocol.NewToolResponseMessage(resp))
			wsMu.Unlock()
		}()
	}
	fs.mu.Unlock()

	c, recorder := connectedClient(t, fs, Options{CallTimeout: 50 * time.Millisecond})

	_, err := c.CallTool(context.Background(), "echo", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "timed out")

	// The late response must be swallowed without settling anything.
	close(release)
	time.Sleep(100 * time.Millisecond)
	assert.Zero(t, recorder.count(EventToolResponse))
	assert.True(t, c.IsConnected())
}

func TestBatchCallCollectsInCallOrder(t *testing.T) {
	fs := newFakeServer(t)
	fs.mu.Lock()
	fs.batchRespond = func(ws *websocket.Conn, wsMu *sync.Mutex, calls []protocol.ToolCall) {
		// Deliberately answer in reverse arrival order.
		for i := len(calls) - 1; i >= 0; i-- {
			message, _ := calls[i].Arguments["message"].(string)
			resp := protocol.ToolResponse{ID: calls[i].ID, Result: message}
			wsMu.Lock()
			ws.WriteJSON(protocol.NewToolResponseMessage(resp))
			wsMu.Unlock()
		}
	}
	fs.mu.Unlock()

	c, _ := connectedClient(t, fs, Options{})

	results, err := c.BatchCallTools(context.Background(), []BatchCall{
		{Name: "echo", Args: map[string]any{"message": "a"}},
		{Name: "echo", Args: map[string]any{"message": "b"}},
		{Name: "echo", Args: map[string]any{"message": "c"}},
	})
	require.NoError(t, err)
	assert.Equal(t, []any{"a", "b", "c"}, results)
}

func TestBatchCallFailFast(t *testing.T) {
	fs := newFakeServer(t)
	fs.mu.Lock()
	fs.batchRespond = func(ws *websocket.Conn, wsMu *sync.Mutex, calls []protocol.ToolCall) {
		for i, call := range calls {
			resp := protocol.ToolResponse{ID: call.ID, Result: "ok"}
			if i == 1 {
				resp = protocol.ToolResponse{ID: call.ID, Error: "broken"}
			}
			wsMu.Lock()
			ws.WriteJSON(protocol.NewToolResponseMessage(resp))
			wsMu.Unlock()
		}
	}
	fs.mu.Unlock()

	c, _ := connectedClient(t, fs, Options{})

	_, err := c.BatchCallTools(context.Background(), []BatchCall{
		{Name: "echo"},
		{Name: "echo"},
		{Name: "echo"},
	})
	require.Error(t, err)
	assert.Equal(t, "broken", err.Error())
}

func TestReconnectFailedFiresExactlyOnce(t *testing.T) {
	fs := newFakeServer(t)
	c, recorder := connectedClient(t, fs, Options{
		ReconnectInterval:    10 * time.Millisecond,
		MaxReconnectAttempts: 3,
	})
	require.True(t, c.IsConnected())

	// Take the server away so every reconnect attempt fails.
	fs.CloseClientConnections()
	fs.Close()
	fs.closeConns()

	waitForCondition(t, 3*time.Second, func() bool {
		return recorder.count(EventReconnectFailed) >= 1
	}, "reconnect exhaustion")

	// Give the loop room to misfire before asserting the count.
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, 1, recorder.count(EventReconnectFailed))
	assert.False(t, c.IsConnected())
}

func TestReconnectRecoversAndResetsCounter(t *testing.T) {
	fs := newFakeServer(t)
	c, recorder := connectedClient(t, fs, Options{
		ReconnectInterval:    10 * time.Millisecond,
		MaxReconnectAttempts: 10,
	})

	fs.closeConns()

	waitForCondition(t, 3*time.Second, func() bool {
		return recorder.count(EventConnected) >= 2
	}, "reconnection")

	assert.True(t, c.IsConnected())
	assert.Zero(t, recorder.count(EventReconnectFailed))
}

func TestCloseSuppressesReconnect(t *testing.T) {
	fs := newFakeServer(t)
	c, recorder := connectedClient(t, fs, Options{
		ReconnectInterval:    10 * time.Millisecond,
		MaxReconnectAttempts: 5,
	})

	c.Close()
	time.Sleep(150 * time.Millisecond)

	assert.False(t, c.IsConnected())
	assert.Equal(t, 1, recorder.count(EventConnected), "no reconnection after Close")
	assert.Zero(t, recorder.count(EventReconnectFailed))
}
