package gateway

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRequest(t *testing.T) {
	frame, err := NewRequest("req-1", "chat.send", map[string]string{"message": "hi"})
	require.NoError(t, err)

	data, err := json.Marshal(frame)
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"req","id":"req-1","method":"chat.send","params":{"message":"hi"}}`, string(data))
}

func TestNewResponse(t *testing.T) {
	frame, err := NewResponse("req-1", map[string]string{"status": "ok"})
	require.NoError(t, err)

	require.NotNil(t, frame.OK)
	assert.True(t, *frame.OK)
	data, err := json.Marshal(frame)
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"res","id":"req-1","ok":true,"payload":{"status":"ok"}}`, string(data))
}

func TestNewErrorResponse(t *testing.T) {
	frame := NewErrorResponse("req-2", ErrorShape{Code: "unauthorized", Message: "invalid token"})

	data, err := json.Marshal(frame)
	require.NoError(t, err)
	// ok:false must survive omitempty because it is a pointer.
	assert.JSONEq(t, `{"type":"res","id":"req-2","ok":false,"error":{"code":"unauthorized","message":"invalid token"}}`, string(data))

	retry := NewErrorResponse("req-3", ErrorShape{Code: "agent_error", Message: "busy", Retryable: true})
	assert.True(t, retry.Error.Retryable)
}

func TestNewEvent(t *testing.T) {
	frame, err := NewEvent(EventAgent, map[string]string{"requestId": "r"}, 7)
	require.NoError(t, err)

	data, err := json.Marshal(frame)
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"event","event":"agent.event","payload":{"requestId":"r"},"seq":7}`, string(data))

	challenge, err := NewEvent(EventConnectChallenge, nil, 0)
	require.NoError(t, err)
	data, err = json.Marshal(challenge)
	require.NoError(t, err)
	assert.NotContains(t, string(data), "seq")
	assert.Equal(t, "null", string(challenge.Payload))
}

func TestConnectParams(t *testing.T) {
	raw := `{"minProtocol":1,"maxProtocol":1,"client":{"id":"cli","version":"0.1.0"},"auth":{"token":"tok"}}`
	var p ConnectParams
	require.NoError(t, json.Unmarshal([]byte(raw), &p))
	assert.Equal(t, "cli", p.Client.ID)
	require.NotNil(t, p.Auth)
	assert.Equal(t, "tok", p.Auth.Token)

	noAuth, err := json.Marshal(ConnectParams{MinProtocol: 1, MaxProtocol: 1})
	require.NoError(t, err)
	assert.NotContains(t, string(noAuth), `"auth"`)
}

func TestHelloOK_Marshal(t *testing.T) {
	hello := HelloOK{
		Protocol: ProtocolVersion,
		Server:   ServerInfo{Version: "1.0.0", ConnID: "conn-1"},
		Features: Features{
			Methods: []string{"chat.send", "health"},
			Events:  []string{EventConnectChallenge, EventAgent, EventTick},
		},
		Policy: ServerPolicy{MaxPayload: maxPayload, TickIntervalMs: tickIntervalMs},
	}

	data, err := json.Marshal(hello)
	require.NoError(t, err)
	assert.JSONEq(t, `{
		"protocol": 1,
		"server": {"version": "1.0.0", "connId": "conn-1"},
		"features": {
			"methods": ["chat.send", "health"],
			"events": ["connect.challenge", "agent.event", "tick"]
		},
		"policy": {"maxPayload": 4194304, "tickIntervalMs": 30000}
	}`, string(data))
}
