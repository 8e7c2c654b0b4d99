package server

import (
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/openimaging/upsd/internal/worklist"
	"github.com/openimaging/upsd/pkg/api"
	"github.com/openimaging/upsd/pkg/log"
)

// Client represents a subscriber's WebSocket connection. It is handed to
// the registry as the delivery channel for every subscription the AE
// title holds; a write failure detaches it, which unsubscribes the AE
type Client struct {
	registry *worklist.Registry
	conn     *websocket.Conn
	ae       api.AETitle
	onClose  func(*Client)
	writeMu  sync.Mutex
	closed   chan struct{}
	once     sync.Once
}

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 512
	wsBufferSize   = 1024
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  wsBufferSize,
	WriteBufferSize: wsBufferSize,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

func (s *Server) handleWebSocket(c *gin.Context) {
	ae, ok := subscriberAE(c)
	if !ok {
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		slog.Error("WebSocket upgrade failed",
			log.AETitle(ae),
			log.Error(err))
		return
	}

	client := &Client{
		registry: s.service.Registry(),
		conn:     conn,
		ae:       ae,
		onClose:  s.unregisterWebSocket,
		closed:   make(chan struct{}),
	}
	s.registerWebSocket(client)

	// Attaching flushes any notifications queued before the connection
	// was established
	client.registry.AttachChannel(ae, client)

	go client.run()
}

// Send delivers one notification over the connection. Called by the
// registry's delivery goroutine
func (c *Client) Send(n *api.Notification) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.conn.WriteJSON(n)
}

// Close tears down the connection and its subscriptions
func (c *Client) Close() {
	c.once.Do(func() {
		close(c.closed)
		c.registry.DetachChannel(c.ae)
		_ = c.conn.Close()
		if c.onClose != nil {
			c.onClose(c)
		}
		slog.Info("WebSocket closed",
			log.AETitle(c.ae))
	})
}

func (c *Client) run() {
	defer c.Close()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	done := make(chan struct{})
	go c.readUntilClosed(done)

	for {
		select {
		case <-done:
			return
		case <-c.closed:
			return
		case <-ticker.C:
			if !c.sendPing() {
				return
			}
		}
	}
}

// readUntilClosed drains inbound frames so pongs are processed. The
// notification channel is one-way; client payloads are ignored
func (c *Client) readUntilClosed(done chan struct{}) {
	defer close(done)
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (c *Client) sendPing() bool {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	err := c.conn.WriteMessage(websocket.PingMessage, nil)
	return err == nil
}
