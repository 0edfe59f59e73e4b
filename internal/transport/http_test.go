package transport

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vuxtra/mcp-jive/internal/analytics"
	"github.com/vuxtra/mcp-jive/internal/config"
	"github.com/vuxtra/mcp-jive/internal/embedding"
	"github.com/vuxtra/mcp-jive/internal/execution"
	"github.com/vuxtra/mcp-jive/internal/protocol"
	"github.com/vuxtra/mcp-jive/internal/repository"
	"github.com/vuxtra/mcp-jive/internal/search"
	"github.com/vuxtra/mcp-jive/internal/storage"
	"github.com/vuxtra/mcp-jive/internal/syncdata"
	"github.com/vuxtra/mcp-jive/internal/tools"
)

func newTestHTTPServer(t *testing.T) *HTTPServer {
	t.Helper()
	log := logrus.New()
	log.SetOutput(io.Discard)

	root := t.TempDir()
	store, err := storage.NewStore(config.StorageConfig{Path: root, BusyTimeout: 5000}, log)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	embedder := embedding.NewHashEmbedder(64)
	engine := search.NewEngine(embedder)
	workItems := repository.NewWorkItemRepository(store, embedder, engine, log, false, 10)
	memory := repository.NewMemoryRepository(store, embedder, engine, log)

	dispatcher, err := tools.NewDispatcher(log,
		tools.NewManageWorkItemTool(workItems),
		tools.NewGetWorkItemTool(workItems),
		tools.NewSearchContentTool(workItems, engine),
		tools.NewHierarchyTool(workItems),
		tools.NewExecuteWorkItemTool(execution.NewManager(store, workItems, log)),
		tools.NewTrackProgressTool(analytics.NewEngine(store, workItems, log)),
		tools.NewSyncDataTool(syncdata.NewService(store, root, log)),
		tools.NewMemoryTool(memory),
	)
	require.NoError(t, err)

	cfg := &config.Config{
		Environment: "development",
		Server:      config.ServerConfig{Host: "127.0.0.1", Port: 0, CORSOrigins: []string{"*"}},
		Limits:      config.LimitsConfig{MaxConcurrentRequests: 4, MaxWSConnections: 4},
		WebSocket: config.WSConfig{
			ReadBufferSize: 1024, WriteBufferSize: 1024,
			PingPeriod: 54e9, PongWait: 60e9, WriteWait: 10e9, MaxMessageSize: 1 << 20,
		},
	}
	handler := protocol.NewHandler(dispatcher, log, "0.0.0-test", "default", 0)
	hub := NewWSHub(cfg.WebSocket, cfg.Limits.MaxWSConnections, handler, log)
	return NewHTTPServer(cfg, handler, hub, store, log, "0.0.0-test")
}

func post(t *testing.T, srv *HTTPServer, path, body string, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	srv.Router().ServeHTTP(w, req)
	return w
}

func TestHTTP_Health(t *testing.T) {
	srv := newTestHTTPServer(t)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	w := httptest.NewRecorder()
	srv.Router().ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "healthy", body["status"])
	assert.Equal(t, "0.0.0-test", body["version"])
}

func TestHTTP_ToolsListing(t *testing.T) {
	srv := newTestHTTPServer(t)

	req := httptest.NewRequest(http.MethodGet, "/tools", nil)
	w := httptest.NewRecorder()
	srv.Router().ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	var body map[string][]string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Len(t, body["tools"], 8)
	assert.Contains(t, body["tools"], "jive_memory")
}

func TestHTTP_MCPEndpoint(t *testing.T) {
	srv := newTestHTTPServer(t)

	w := post(t, srv, "/mcp", `{"jsonrpc":"2.0","id":1,"method":"ping"}`, nil)
	require.Equal(t, http.StatusOK, w.Code)

	var resp map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "2.0", resp["jsonrpc"])
	assert.NotNil(t, resp["result"])
}

func TestHTTP_NotificationReturnsNoContent(t *testing.T) {
	srv := newTestHTTPServer(t)

	w := post(t, srv, "/mcp", `{"jsonrpc":"2.0","method":"ping"}`, nil)
	assert.Equal(t, http.StatusNoContent, w.Code)
}

// items created under /mcp/project-a must be invisible under /mcp/project-b
func TestHTTP_PathNamespaceIsolation(t *testing.T) {
	srv := newTestHTTPServer(t)

	w := post(t, srv, "/mcp/project-a", `{"jsonrpc":"2.0","id":1,"method":"tools/call","params":{"name":"jive_manage_work_item","arguments":{"action":"create","type":"task","title":"T"}}}`, nil)
	require.Equal(t, http.StatusOK, w.Code)

	listBody := `{"jsonrpc":"2.0","id":2,"method":"tools/call","params":{"name":"jive_search_content","arguments":{"query":"T","search_type":"keyword"}}}`

	w = post(t, srv, "/mcp/project-b", listBody, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, envelopeText(t, w.Body.Bytes()), `"total":0`)

	w = post(t, srv, "/mcp/project-a", listBody, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, envelopeText(t, w.Body.Bytes()), `"total":1`)
}

func TestHTTP_HeaderNamespace(t *testing.T) {
	srv := newTestHTTPServer(t)

	create := `{"jsonrpc":"2.0","id":1,"method":"tools/call","params":{"name":"jive_manage_work_item","arguments":{"action":"create","type":"task","title":"H"}}}`
	w := post(t, srv, "/mcp", create, map[string]string{"X-Namespace": "header-ns"})
	require.Equal(t, http.StatusOK, w.Code)

	query := `{"jsonrpc":"2.0","id":2,"method":"tools/call","params":{"name":"jive_search_content","arguments":{"query":"H","search_type":"keyword"}}}`
	w = post(t, srv, "/mcp", query, map[string]string{"X-Namespace": "header-ns"})
	assert.Contains(t, envelopeText(t, w.Body.Bytes()), `"total":1`)

	w = post(t, srv, "/mcp", query, nil)
	assert.Contains(t, envelopeText(t, w.Body.Bytes()), `"total":0`)
}

func TestHTTP_InvalidPathNamespace(t *testing.T) {
	srv := newTestHTTPServer(t)

	w := post(t, srv, "/mcp/bad%20ns", `{"jsonrpc":"2.0","id":1,"method":"tools/call","params":{"name":"jive_get_work_item","arguments":{"work_item_id":"x"}}}`, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, envelopeText(t, w.Body.Bytes()), "INVALID_NAMESPACE")
}

func envelopeText(t *testing.T, raw []byte) string {
	t.Helper()
	var resp struct {
		Result struct {
			Content []struct {
				Text string `json:"text"`
			} `json:"content"`
		} `json:"result"`
	}
	require.NoError(t, json.Unmarshal(raw, &resp))
	require.NotEmpty(t, resp.Result.Content)
	return resp.Result.Content[0].Text
}
