package protocol

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/vuxtra/mcp-jive/internal/namespace"
	"github.com/vuxtra/mcp-jive/internal/tools"
)

// ProtocolVersion is the MCP revision this server was written against. The
// client's requested version is echoed back per the handshake rules.
const ProtocolVersion = "2024-11-05"

// ServerName identifies the server in the initialize handshake.
const ServerName = "mcp-jive"

// TransportMeta carries the namespace hints a transport can supply before
// the body is parsed.
type TransportMeta struct {
	PathNamespace   string
	HeaderNamespace string
}

// Handler implements the MCP JSON-RPC methods over the tool dispatcher,
// independent of transport.
type Handler struct {
	dispatcher       *tools.Dispatcher
	logger           *logrus.Logger
	version          string
	defaultNamespace string
	requestTimeout   time.Duration
	onShutdown       func()
}

// NewHandler creates a protocol handler.
func NewHandler(dispatcher *tools.Dispatcher, log *logrus.Logger, version, defaultNamespace string, requestTimeout time.Duration) *Handler {
	return &Handler{
		dispatcher:       dispatcher,
		logger:           log,
		version:          version,
		defaultNamespace: defaultNamespace,
		requestTimeout:   requestTimeout,
	}
}

// OnShutdown registers the callback run when a client sends shutdown.
func (h *Handler) OnShutdown(fn func()) { h.onShutdown = fn }

// ToolNames returns the catalog names for the debugging surface.
func (h *Handler) ToolNames() []string { return h.dispatcher.Names() }

// HandleRaw parses one frame and produces the response frame, or nil for
// notifications.
func (h *Handler) HandleRaw(ctx context.Context, raw []byte, meta TransportMeta) []byte {
	var req Request
	if err := json.Unmarshal(raw, &req); err != nil {
		return marshalResponse(h.logger, NewError(nil, CodeParseError, "parse error", err.Error()))
	}
	resp := h.Handle(ctx, &req, meta)
	if resp == nil {
		return nil
	}
	return marshalResponse(h.logger, resp)
}

// Handle runs one request through the MCP method table.
func (h *Handler) Handle(ctx context.Context, req *Request, meta TransportMeta) *Response {
	if req.JSONRPC != "2.0" || req.Method == "" {
		if req.IsNotification() {
			return nil
		}
		return NewError(req.ID, CodeInvalidRequest, "invalid request", nil)
	}

	var resp *Response
	switch req.Method {
	case "initialize":
		resp = h.initialize(req)
	case "tools/list":
		resp = h.toolsList(req)
	case "tools/call":
		resp = h.toolsCall(ctx, req, meta)
	case "ping":
		resp = NewResult(req.ID, map[string]interface{}{})
	case "shutdown":
		resp = h.shutdown(req)
	case "notifications/initialized":
		// lifecycle notification, nothing to do
		resp = nil
	default:
		if req.IsNotification() {
			return nil
		}
		resp = NewError(req.ID, CodeMethodNotFound, fmt.Sprintf("method %q not found", req.Method), nil)
	}

	if req.IsNotification() {
		return nil
	}
	return resp
}

type initializeParams struct {
	ProtocolVersion string `json:"protocolVersion"`
	ClientInfo      struct {
		Name    string `json:"name"`
		Version string `json:"version"`
	} `json:"clientInfo"`
}

func (h *Handler) initialize(req *Request) *Response {
	var params initializeParams
	if len(req.Params) > 0 {
		if err := json.Unmarshal(req.Params, &params); err != nil {
			return NewError(req.ID, CodeInvalidParams, "invalid initialize params", err.Error())
		}
	}
	requested := params.ProtocolVersion
	if requested == "" {
		requested = ProtocolVersion
	}
	if !supportedProtocolVersion(requested) {
		return NewError(req.ID, CodeInvalidParams, "unsupported protocol version", map[string]interface{}{
			"requested": requested,
			"supported": []string{ProtocolVersion},
		})
	}

	h.logger.WithFields(logrus.Fields{
		"client":           params.ClientInfo.Name,
		"client_version":   params.ClientInfo.Version,
		"protocol_version": requested,
	}).Info("Client initialized")

	return NewResult(req.ID, map[string]interface{}{
		"protocolVersion": requested,
		"capabilities": map[string]interface{}{
			"tools": map[string]interface{}{"listChanged": false},
		},
		"serverInfo": map[string]interface{}{
			"name":    ServerName,
			"version": h.version,
		},
	})
}

// supportedProtocolVersion accepts any date-formatted MCP revision; the
// wire surface used here is stable across revisions.
func supportedProtocolVersion(v string) bool {
	if len(v) != len("2006-01-02") {
		return false
	}
	_, err := time.Parse("2006-01-02", v)
	return err == nil
}

type toolDescriptor struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	InputSchema json.RawMessage `json:"inputSchema"`
}

func (h *Handler) toolsList(req *Request) *Response {
	catalog := h.dispatcher.Tools()
	descriptors := make([]toolDescriptor, 0, len(catalog))
	for _, t := range catalog {
		descriptors = append(descriptors, toolDescriptor{
			Name:        t.Name(),
			Description: t.Description(),
			InputSchema: json.RawMessage(t.Schema()),
		})
	}
	return NewResult(req.ID, map[string]interface{}{"tools": descriptors})
}

type toolsCallParams struct {
	Name      string                 `json:"name"`
	Arguments map[string]interface{} `json:"arguments"`
	Meta      struct {
		Namespace string `json:"namespace"`
		TimeoutMS int    `json:"timeout_ms"`
	} `json:"_meta"`
}

func (h *Handler) toolsCall(ctx context.Context, req *Request, meta TransportMeta) *Response {
	var params toolsCallParams
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return NewError(req.ID, CodeInvalidParams, "invalid tools/call params", err.Error())
	}
	if params.Name == "" {
		return NewError(req.ID, CodeInvalidParams, "tool name is required", nil)
	}

	argNamespace := ""
	if params.Arguments != nil {
		if v, ok := params.Arguments["namespace"].(string); ok {
			argNamespace = v
		}
	}
	ns, err := namespace.Resolve(namespace.Sources{
		PathParam: meta.PathNamespace,
		Header:    meta.HeaderNamespace,
		Meta:      params.Meta.Namespace,
		Argument:  argNamespace,
	}, h.defaultNamespace)

	start := time.Now()
	var envelope tools.Envelope
	if err != nil {
		envelope = tools.Failure(err, time.Since(start).Milliseconds())
	} else {
		timeout := h.requestTimeout
		if params.Meta.TimeoutMS > 0 {
			timeout = time.Duration(params.Meta.TimeoutMS) * time.Millisecond
		}
		callCtx := ctx
		if timeout > 0 {
			var cancel context.CancelFunc
			callCtx, cancel = context.WithTimeout(ctx, timeout)
			defer cancel()
		}
		rc := tools.RequestContext{Namespace: ns, RequestID: requestID(req)}
		envelope = h.dispatcher.Dispatch(callCtx, rc, params.Name, params.Arguments)
	}

	return NewResult(req.ID, map[string]interface{}{
		"content": []map[string]interface{}{
			{"type": "text", "text": envelope.JSON()},
		},
		"isError": !envelope.Success,
	})
}

func (h *Handler) shutdown(req *Request) *Response {
	h.logger.Info("Shutdown requested by client")
	if h.onShutdown != nil {
		// let the response flush before the process starts tearing down
		go h.onShutdown()
	}
	return NewResult(req.ID, map[string]interface{}{})
}

func requestID(req *Request) string {
	if req.IsNotification() {
		return ""
	}
	return strings.Trim(string(req.ID), `"`)
}

func marshalResponse(log *logrus.Logger, resp *Response) []byte {
	data, err := json.Marshal(resp)
	if err != nil {
		log.WithError(err).Error("Failed to marshal JSON-RPC response")
		fallback := NewError(resp.ID, CodeInternalError, "internal error", nil)
		data, _ = json.Marshal(fallback)
	}
	return data
}
