package transport

import (
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func dialWS(t *testing.T, srv *HTTPServer, path string) *websocket.Conn {
	t.Helper()
	ts := httptest.NewServer(srv.Router())
	t.Cleanup(ts.Close)

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + path
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func wsCall(t *testing.T, conn *websocket.Conn, frame string) map[string]interface{} {
	t.Helper()
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(frame)))
	_, raw, err := conn.ReadMessage()
	require.NoError(t, err)
	var resp map[string]interface{}
	require.NoError(t, json.Unmarshal(raw, &resp))
	return resp
}

func TestWS_PingAndToolCall(t *testing.T) {
	srv := newTestHTTPServer(t)
	conn := dialWS(t, srv, "/ws")

	resp := wsCall(t, conn, `{"jsonrpc":"2.0","id":1,"method":"ping"}`)
	assert.Equal(t, "2.0", resp["jsonrpc"])
	assert.NotNil(t, resp["result"])

	resp = wsCall(t, conn, `{"jsonrpc":"2.0","id":2,"method":"tools/call","params":{"name":"jive_manage_work_item","arguments":{"action":"create","type":"task","title":"over ws"}}}`)
	result := resp["result"].(map[string]interface{})
	assert.Equal(t, false, result["isError"])
}

func TestWS_PathNamespaceBinding(t *testing.T) {
	srv := newTestHTTPServer(t)

	connA := dialWS(t, srv, "/ws/project-a")
	wsCall(t, connA, `{"jsonrpc":"2.0","id":1,"method":"tools/call","params":{"name":"jive_manage_work_item","arguments":{"action":"create","type":"task","title":"WS-T"}}}`)

	connB := dialWS(t, srv, "/ws/project-b")
	resp := wsCall(t, connB, `{"jsonrpc":"2.0","id":2,"method":"tools/call","params":{"name":"jive_search_content","arguments":{"query":"WS-T","search_type":"keyword"}}}`)
	text := wsEnvelopeText(t, resp)
	assert.Contains(t, text, `"total":0`)

	resp = wsCall(t, connA, `{"jsonrpc":"2.0","id":3,"method":"tools/call","params":{"name":"jive_search_content","arguments":{"query":"WS-T","search_type":"keyword"}}}`)
	text = wsEnvelopeText(t, resp)
	assert.Contains(t, text, `"total":1`)
}

func TestWS_ClientCountTracksConnections(t *testing.T) {
	srv := newTestHTTPServer(t)
	assert.Equal(t, 0, srv.hub.ClientCount())

	conn := dialWS(t, srv, "/ws")
	wsCall(t, conn, `{"jsonrpc":"2.0","id":1,"method":"ping"}`)
	assert.Equal(t, 1, srv.hub.ClientCount())
}

func wsEnvelopeText(t *testing.T, resp map[string]interface{}) string {
	t.Helper()
	result := resp["result"].(map[string]interface{})
	content := result["content"].([]interface{})
	require.NotEmpty(t, content)
	return content[0].(map[string]interface{})["text"].(string)
}
