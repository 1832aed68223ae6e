package websocket

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"dominds/internal/gateway/auth"
	"dominds/pkg/logger"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period.
	pingPeriod = 30 * time.Second

	// Maximum message size allowed from peer.
	maxMessageSize = 1024 * 1024 // 1MB
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // CORS is enforced at the HTTP layer; auth.Gate gates the upgrade itself.
	},
}

// Client represents a WebSocket client connection.
type Client struct {
	hub           *Hub
	conn          *websocket.Conn
	send          chan []byte
	subscriptions map[string]bool
	id            string
	connectedAt   time.Time
}

// NewClient creates a new client.
func NewClient(hub *Hub, conn *websocket.Conn) *Client {
	return &Client{
		hub:           hub,
		conn:          conn,
		send:          make(chan []byte, 256),
		subscriptions: make(map[string]bool),
		id:            uuid.New().String(),
		connectedAt:   time.Now(),
	}
}

// ID returns this client's opaque connection id.
func (c *Client) ID() string { return c.id }

// Hub returns the Hub this client is registered with, for dispatcher code
// that needs to Subscribe/Unsubscribe/Send on its behalf.
func (c *Client) Hub() *Hub { return c.hub }

// readPump pumps messages from the WebSocket connection to the hub.
func (c *Client) readPump() {
	defer func() {
		c.hub.Unregister(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				logger.Error().Err(err).Str("client_id", c.id).Msg("WebSocket read error")
			}
			break
		}

		c.handleMessage(message)
	}
}

// handleMessage parses the transport envelope and either answers a
// transport-level ping itself or hands everything else to the hub's
// protocol dispatcher.
func (c *Client) handleMessage(message []byte) {
	var env Envelope
	if err := json.Unmarshal(message, &env); err != nil {
		logger.Error().Err(err).Str("client_id", c.id).Msg("failed to parse WebSocket message")
		c.sendError("invalid message")
		return
	}

	logger.Debug().Str("client_id", c.id).Str("type", env.Type).Msg("received WebSocket message")

	switch env.Type {
	case TypePing:
		c.sendPong()
	default:
		c.hub.dispatch(c, env)
	}
}

// writePump pumps messages from the hub to the WebSocket connection.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				logger.Error().Err(err).Str("client_id", c.id).Msg("WebSocket write error")
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// sendPong sends a pong response.
func (c *Client) sendPong() {
	data, _ := json.Marshal(Envelope{Type: TypePong})
	select {
	case c.send <- data:
	default:
	}
}

// sendError sends a transport-level error frame to this client.
func (c *Client) sendError(message string) {
	payload, _ := json.Marshal(errorPayload{Message: message})
	data, _ := json.Marshal(Envelope{Type: TypeError, Payload: payload})
	select {
	case c.send <- data:
	default:
	}
}

// ServeWs handles WebSocket upgrade requests. If gate is non-nil and
// enabled, the request's offered subprotocols must carry a valid
// dominds-auth.<key> entry or the upgrade is rejected with close code 4401
// (§6 Authentication).
func ServeWs(hub *Hub, gate interface {
	CheckSubprotocol(r *http.Request) (string, bool)
}, w http.ResponseWriter, r *http.Request) {
	up := upgrader
	if gate != nil {
		matched, ok := gate.CheckSubprotocol(r)
		if !ok {
			// Complete the upgrade so the rejection reaches the client as a
			// close frame carrying the unauthorized close code.
			up.Subprotocols = websocket.Subprotocols(r)
			conn, err := up.Upgrade(w, r, nil)
			if err != nil {
				logger.Error().Err(err).Msg("failed to upgrade WebSocket connection")
				return
			}
			_ = auth.RejectUnauthorized(conn, "unauthorized")
			conn.Close()
			return
		}
		if matched != "" {
			up.Subprotocols = []string{matched}
		}
	}

	conn, err := up.Upgrade(w, r, nil)
	if err != nil {
		logger.Error().Err(err).Msg("failed to upgrade WebSocket connection")
		return
	}

	client := NewClient(hub, conn)
	hub.Register(client)

	go client.writePump()
	go client.readPump()
}
