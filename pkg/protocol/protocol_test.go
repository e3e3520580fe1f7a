package protocol

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewToolCallStampsTimestamp(t *testing.T) {
	before := time.Now().UnixMilli()
	call := NewToolCall("c1", "echo", map[string]any{"message": "hi"})
	after := time.Now().UnixMilli()

	assert.Equal(t, "c1", call.ID)
	assert.Equal(t, "echo", call.Name)
	assert.GreaterOrEqual(t, call.Timestamp, before)
	assert.LessOrEqual(t, call.Timestamp, after)
}

func TestNewToolCallNilArguments(t *testing.T) {
	call := NewToolCall("c1", "echo", nil)
	assert.NotNil(t, call.Arguments)
	assert.Empty(t, call.Arguments)
}

func TestToolCallEnvelopeRoundTrip(t *testing.T) {
	call := NewToolCall("c1", "echo", map[string]any{"message": "hi"})
	data, err := json.Marshal(Message{Type: TypeToolCall, Call: &call})
	require.NoError(t, err)

	var decoded Message
	require.NoError(t, json.Unmarshal(data, &decoded))

	assert.Equal(t, TypeToolCall, decoded.Type)
	require.NotNil(t, decoded.Call)
	assert.Equal(t, "c1", decoded.Call.ID)
	assert.Equal(t, "hi", decoded.Call.Arguments["message"])
	assert.Nil(t, decoded.Response)
	assert.Empty(t, decoded.Calls)
}

func TestErrorEnvelopeShape(t *testing.T) {
	data, err := json.Marshal(NewError("bad input"))
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"error","error":"bad input"}`, string(data))
}

func TestResponseOmitsEmptyError(t *testing.T) {
	data, err := json.Marshal(NewToolResponseMessage(ToolResponse{ID: "c1", Result: 7}))
	require.NoError(t, err)
	assert.NotContains(t, string(data), `"error"`)
}
