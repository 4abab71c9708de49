package api

import (
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tradegate/internal/auth"
	"tradegate/internal/collab"
)

type wsEnv struct {
	*testEnv
	ts *httptest.Server
}

func newWSEnv(t *testing.T) *wsEnv {
	t.Helper()
	env := newTestEnv()
	ts := httptest.NewServer(env.server.ws)
	t.Cleanup(ts.Close)
	env.server.hub.Start()
	t.Cleanup(env.server.hub.Stop)
	return &wsEnv{testEnv: env, ts: ts}
}

func (e *wsEnv) dial(t *testing.T) *websocket.Conn {
	t.Helper()
	url := strings.Replace(e.ts.URL, "http", "ws", 1) + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

// wsFrame keeps the raw bytes so tests can decode frame-root fields of
// spliced frame types like status_update.
type wsFrame struct {
	Type string          `json:"type"`
	OK   bool            `json:"ok"`
	Data json.RawMessage `json:"data"`

	raw []byte
}

// root decodes the whole frame as a flat object.
func (f *wsFrame) root(t *testing.T) map[string]interface{} {
	t.Helper()
	var m map[string]interface{}
	require.NoError(t, json.Unmarshal(f.raw, &m))
	return m
}

// readFrame reads the next frame, failing the test on timeout.
func readFrame(t *testing.T, conn *websocket.Conn) *wsFrame {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, raw, err := conn.ReadMessage()
	require.NoError(t, err)
	var frame wsFrame
	require.NoError(t, json.Unmarshal(raw, &frame))
	frame.raw = raw
	return &frame
}

// readFrameOfType skips interleaved broadcasts until the wanted type arrives.
func readFrameOfType(t *testing.T, conn *websocket.Conn, wanted string) *wsFrame {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		frame := readFrame(t, conn)
		if frame.Type == wanted {
			return frame
		}
	}
	t.Fatalf("no %q frame received", wanted)
	return nil
}

func authenticate(t *testing.T, conn *websocket.Conn, apiKey string) {
	t.Helper()
	require.NoError(t, conn.WriteJSON(map[string]string{"type": "auth", "api_key": apiKey}))
	frame := readFrame(t, conn)
	require.Equal(t, "auth_result", frame.Type)
	require.True(t, frame.OK)
}

func TestWebSocketRejectsUnauthenticatedMessages(t *testing.T) {
	env := newWSEnv(t)
	conn := env.dial(t)

	require.NoError(t, conn.WriteJSON(map[string]string{"type": "get_status"}))

	frame := readFrame(t, conn)
	assert.Equal(t, "error", frame.Type)

	// The connection is closed after the violation.
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err := conn.ReadMessage()
	assert.Error(t, err)
}

func TestWebSocketMalformedJSONCloses(t *testing.T) {
	env := newWSEnv(t)
	conn := env.dial(t)
	authenticate(t, conn, viewerKey)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("{not json")))

	frame := readFrameOfType(t, conn, "error")
	var res struct {
		Code string `json:"code"`
	}
	require.NoError(t, json.Unmarshal(frame.Data, &res))
	assert.Equal(t, "INVALID_PARAMS", res.Code)

	// Protocol violations end the session. Broadcasts queued before the
	// close may still be flushed first.
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var err error
	for err == nil {
		_, _, err = conn.ReadMessage()
	}
	assert.True(t, websocket.IsCloseError(err, websocket.CloseNormalClosure) ||
		websocket.IsUnexpectedCloseError(err), "expected a closed connection, got %v", err)
}

func TestWebSocketAuthFailure(t *testing.T) {
	env := newWSEnv(t)
	conn := env.dial(t)

	require.NoError(t, conn.WriteJSON(map[string]string{"type": "auth", "api_key": "wrong-key-000000"}))

	frame := readFrame(t, conn)
	assert.Equal(t, "auth_result", frame.Type)
	assert.False(t, frame.OK)
	assert.Equal(t, "INVALID_API_KEY", frame.root(t)["code"])

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err := conn.ReadMessage()
	assert.Error(t, err)
}

func TestWebSocketAuthWithAPIKey(t *testing.T) {
	env := newWSEnv(t)
	conn := env.dial(t)

	require.NoError(t, conn.WriteJSON(map[string]string{"type": "auth", "api_key": viewerKey}))

	frame := readFrame(t, conn)
	require.Equal(t, "auth_result", frame.Type)
	require.True(t, frame.OK)

	root := frame.root(t)
	assert.Equal(t, "viewer", root["role"])
	assert.NotEmpty(t, root["client_id"])
}

func TestWebSocketAuthWithBearerToken(t *testing.T) {
	env := newWSEnv(t)
	conn := env.dial(t)

	token, _, err := env.tokens.GenerateToken(auth.RoleTrader)
	require.NoError(t, err)

	require.NoError(t, conn.WriteJSON(map[string]string{"type": "auth", "token": token}))

	frame := readFrame(t, conn)
	require.Equal(t, "auth_result", frame.Type)
	require.True(t, frame.OK)
	assert.Equal(t, "trader", frame.root(t)["role"])
}

func TestWebSocketGetStatus(t *testing.T) {
	env := newWSEnv(t)
	conn := env.dial(t)
	authenticate(t, conn, viewerKey)

	require.NoError(t, conn.WriteJSON(map[string]string{"type": "get_status"}))

	frame := readFrameOfType(t, conn, "status_update")
	// Snapshot fields sit at the frame root.
	assert.Equal(t, collab.StateRunning, frame.root(t)["trading_status"])
}

func TestWebSocketBroadcast(t *testing.T) {
	env := newWSEnv(t)
	conn := env.dial(t)
	authenticate(t, conn, viewerKey)

	// The broadcast loop delivers status updates without a request.
	frame := readFrameOfType(t, conn, "status_update")
	root := frame.root(t)
	assert.Contains(t, root, "cpu_usage")
	assert.Contains(t, root, "api_status")
	assert.Equal(t, collab.StateRunning, root["trading_status"])
}

func TestWebSocketCommand(t *testing.T) {
	env := newWSEnv(t)
	conn := env.dial(t)
	authenticate(t, conn, traderKey)

	require.NoError(t, conn.WriteJSON(map[string]string{"type": "command", "command": "stop_trading"}))

	frame := readFrameOfType(t, conn, "command_result")
	var data struct {
		ID     string `json:"id"`
		Result struct {
			Status  string `json:"status"`
			Message string `json:"message"`
		} `json:"result"`
	}
	require.NoError(t, json.Unmarshal(frame.Data, &data))
	assert.NotEmpty(t, data.ID)
	assert.Equal(t, "ok", data.Result.Status)
	assert.Equal(t, "Trading stopped", data.Result.Message)

	state, _ := env.process.TradingStatus(nil)
	assert.Equal(t, collab.StateStopped, state)
}

func TestWebSocketCommandParameters(t *testing.T) {
	env := newWSEnv(t)
	conn := env.dial(t)
	authenticate(t, conn, traderKey)

	require.NoError(t, conn.WriteJSON(map[string]interface{}{
		"type":       "command",
		"command":    "start_ea",
		"parameters": map[string]interface{}{"ea_name": "trend"},
	}))

	frame := readFrameOfType(t, conn, "command_result")
	var data struct {
		Result struct {
			Status  string `json:"status"`
			Message string `json:"message"`
		} `json:"result"`
	}
	require.NoError(t, json.Unmarshal(frame.Data, &data))
	assert.Equal(t, "ok", data.Result.Status)
	assert.Equal(t, "EA trend started", data.Result.Message)
	assert.Equal(t, "trend", env.process.lastStartedEA())
}

func TestWebSocketViewerCommandForbidden(t *testing.T) {
	env := newWSEnv(t)
	conn := env.dial(t)
	authenticate(t, conn, viewerKey)

	require.NoError(t, conn.WriteJSON(map[string]string{"type": "command", "command": "stop_trading"}))

	frame := readFrameOfType(t, conn, "command_result")
	var data struct {
		Result struct {
			Status  string `json:"status"`
			Message string `json:"message"`
		} `json:"result"`
	}
	require.NoError(t, json.Unmarshal(frame.Data, &data))
	assert.Equal(t, "error", data.Result.Status)
	assert.Equal(t, "forbidden", data.Result.Message)

	state, _ := env.process.TradingStatus(nil)
	assert.Equal(t, collab.StateRunning, state)
}
