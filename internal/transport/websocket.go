package transport

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/vuxtra/mcp-jive/internal/config"
	"github.com/vuxtra/mcp-jive/internal/protocol"
)

// WSHub tracks live WebSocket connections and enforces the per-process
// connection cap. Each text frame on a connection is one JSON-RPC message;
// in-flight requests on the same connection run concurrently and responses
// are serialized through the client's send channel.
type WSHub struct {
	cfg     config.WSConfig
	maxConn int
	handler *protocol.Handler
	logger  *logrus.Logger

	mu      sync.Mutex
	clients map[*wsClient]struct{}
	closed  bool
}

// NewWSHub creates the hub.
func NewWSHub(cfg config.WSConfig, maxConn int, handler *protocol.Handler, log *logrus.Logger) *WSHub {
	return &WSHub{
		cfg:     cfg,
		maxConn: maxConn,
		handler: handler,
		logger:  log,
		clients: make(map[*wsClient]struct{}),
	}
}

// Serve upgrades one HTTP request and runs the connection's pumps.
func (h *WSHub) Serve(c *gin.Context, meta protocol.TransportMeta) {
	h.mu.Lock()
	if h.closed || len(h.clients) >= h.maxConn {
		h.mu.Unlock()
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "too many connections"})
		return
	}
	h.mu.Unlock()

	upgrader := websocket.Upgrader{
		ReadBufferSize:  h.cfg.ReadBufferSize,
		WriteBufferSize: h.cfg.WriteBufferSize,
		CheckOrigin:     func(*http.Request) bool { return true },
	}
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.WithError(err).Warn("WebSocket upgrade failed")
		return
	}

	client := &wsClient{
		id:   uuid.New().String(),
		hub:  h,
		conn: conn,
		meta: meta,
		send: make(chan []byte, 256),
	}

	h.mu.Lock()
	h.clients[client] = struct{}{}
	total := len(h.clients)
	h.mu.Unlock()

	h.logger.WithFields(logrus.Fields{
		"client_id":     client.id,
		"remote_addr":   conn.RemoteAddr().String(),
		"total_clients": total,
	}).Info("WebSocket client connected")

	go client.writePump()
	client.readPump(c.Request.Context())
}

// Stop closes every connection.
func (h *WSHub) Stop() {
	h.mu.Lock()
	h.closed = true
	clients := make([]*wsClient, 0, len(h.clients))
	for client := range h.clients {
		clients = append(clients, client)
	}
	h.mu.Unlock()

	for _, client := range clients {
		client.conn.Close()
	}
}

// ClientCount returns the number of live connections.
func (h *WSHub) ClientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

func (h *WSHub) drop(client *wsClient) {
	h.mu.Lock()
	if _, ok := h.clients[client]; ok {
		delete(h.clients, client)
		close(client.send)
	}
	total := len(h.clients)
	h.mu.Unlock()

	h.logger.WithFields(logrus.Fields{
		"client_id":     client.id,
		"total_clients": total,
	}).Info("WebSocket client disconnected")
}

type wsClient struct {
	id   string
	hub  *WSHub
	conn *websocket.Conn
	meta protocol.TransportMeta
	send chan []byte

	wg sync.WaitGroup
}

// readPump pulls frames off the socket and dispatches each in its own
// goroutine; the connection's namespace binding travels with every frame.
func (c *wsClient) readPump(ctx context.Context) {
	defer func() {
		c.wg.Wait()
		c.hub.drop(c)
		c.conn.Close()
	}()

	cfg := c.hub.cfg
	c.conn.SetReadLimit(cfg.MaxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(cfg.PongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(cfg.PongWait))
		return nil
	})

	for {
		_, frame, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				c.hub.logger.WithError(err).WithField("client_id", c.id).Warn("WebSocket read failed")
			}
			return
		}
		if len(frame) == 0 {
			continue
		}

		c.wg.Add(1)
		go func(frame []byte) {
			defer c.wg.Done()
			resp := c.hub.handler.HandleRaw(ctx, frame, c.meta)
			if resp == nil {
				return
			}
			select {
			case c.send <- resp:
			default:
				c.hub.logger.WithField("client_id", c.id).Warn("Dropping response: send buffer full")
			}
		}(frame)
	}
}

// writePump serializes outbound frames and keeps the connection alive with
// pings.
func (c *wsClient) writePump() {
	cfg := c.hub.cfg
	ticker := time.NewTicker(cfg.PingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case frame, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(cfg.WriteWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(cfg.WriteWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
