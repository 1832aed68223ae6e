package websocket

import (
	"encoding/json"
	"sync"

	"dominds/pkg/logger"
)

// Dispatcher interprets an inbound Envelope for client and is implemented
// by internal/gateway/protocol, which owns the actual control-protocol
// semantics (create_dialog, drive_dlg_by_user_msg, ...). The transport
// layer only routes bytes to it.
type Dispatcher interface {
	Dispatch(client *Client, env Envelope)
}

// Hub maintains the set of active clients and fans out broadcasts. A
// "subscription key" is an opaque string the dispatcher chooses — in this
// protocol it is a dialog's rootId/selfId pair — the Hub itself attaches no
// meaning to it.
type Hub struct {
	clients map[*Client]bool

	// subscriptions maps a key to its subscriber set, for targeted
	// broadcasts (e.g. "only clients watching this dialog").
	subscriptions map[string]map[*Client]bool

	register   chan *Client
	unregister chan *Client
	broadcast  chan *BroadcastMessage

	mu sync.RWMutex

	dispatcher Dispatcher
}

// NewHub creates a new Hub. SetDispatcher must be called before Run starts
// handling client traffic.
func NewHub() *Hub {
	return &Hub{
		clients:       make(map[*Client]bool),
		subscriptions: make(map[string]map[*Client]bool),
		register:      make(chan *Client),
		unregister:    make(chan *Client),
		broadcast:     make(chan *BroadcastMessage, 256),
	}
}

// SetDispatcher installs the protocol-level message handler.
func (h *Hub) SetDispatcher(d Dispatcher) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.dispatcher = d
}

func (h *Hub) dispatch(client *Client, env Envelope) {
	h.mu.RLock()
	d := h.dispatcher
	h.mu.RUnlock()
	if d == nil {
		logger.Warn().Str("type", env.Type).Msg("websocket: message received before a dispatcher was installed")
		return
	}
	d.Dispatch(client, env)
}

// Run starts the hub's main loop.
func (h *Hub) Run() {
	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			h.mu.Unlock()
			logger.Info().Str("client_id", client.id).Msg("WebSocket client connected")

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
				for key := range client.subscriptions {
					if clients, ok := h.subscriptions[key]; ok {
						delete(clients, client)
						if len(clients) == 0 {
							delete(h.subscriptions, key)
						}
					}
				}
			}
			h.mu.Unlock()
			logger.Info().Str("client_id", client.id).Msg("WebSocket client disconnected")

		case msg := <-h.broadcast:
			h.mu.RLock()
			if msg.Key == "" {
				for client := range h.clients {
					select {
					case client.send <- msg.Data:
					default:
					}
				}
			} else if clients, ok := h.subscriptions[msg.Key]; ok {
				for client := range clients {
					select {
					case client.send <- msg.Data:
					default:
					}
				}
			}
			h.mu.RUnlock()
		}
	}
}

// Register adds a client to the hub.
func (h *Hub) Register(client *Client) {
	h.register <- client
}

// Unregister removes a client from the hub.
func (h *Hub) Unregister(client *Client) {
	h.unregister <- client
}

// Subscribe adds client to key's subscriber set, first clearing any prior
// subscriptions it held: the control protocol's display_dialog replaces a
// client's live subscription rather than adding to it (§6).
func (h *Hub) Subscribe(client *Client, key string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for existing := range client.subscriptions {
		if clients, ok := h.subscriptions[existing]; ok {
			delete(clients, client)
			if len(clients) == 0 {
				delete(h.subscriptions, existing)
			}
		}
	}
	client.subscriptions = map[string]bool{key: true}

	if h.subscriptions[key] == nil {
		h.subscriptions[key] = make(map[*Client]bool)
	}
	h.subscriptions[key][client] = true
}

// Unsubscribe removes client from key's subscriber set.
func (h *Hub) Unsubscribe(client *Client, key string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	delete(client.subscriptions, key)
	if clients, ok := h.subscriptions[key]; ok {
		delete(clients, client)
		if len(clients) == 0 {
			delete(h.subscriptions, key)
		}
	}
}

// Broadcast sends data to every client subscribed to key.
func (h *Hub) Broadcast(key string, data []byte) {
	h.broadcast <- &BroadcastMessage{Key: key, Data: data}
}

// BroadcastAll sends data to every connected client.
func (h *Hub) BroadcastAll(data []byte) {
	h.broadcast <- &BroadcastMessage{Key: "", Data: data}
}

// BroadcastTyped marshals an Envelope{Type, Payload: payload} and sends it
// to every connected client.
func (h *Hub) BroadcastTyped(messageType string, payload any) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		logger.Error().Err(err).Str("type", messageType).Msg("failed to marshal broadcast payload")
		return err
	}
	data, err := json.Marshal(Envelope{Type: messageType, Payload: raw})
	if err != nil {
		return err
	}
	h.broadcast <- &BroadcastMessage{Key: "", Data: data}
	return nil
}

// SendTyped marshals an Envelope and delivers it to one client only, used
// for request-scoped responses (create_dialog_result, display_course
// replay) that must not fan out to every subscriber.
func (h *Hub) SendTyped(client *Client, messageType string, payload any) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	data, err := json.Marshal(Envelope{Type: messageType, Payload: raw})
	if err != nil {
		return err
	}
	select {
	case client.send <- data:
	default:
		logger.Warn().Str("client_id", client.id).Str("type", messageType).Msg("client send buffer full, dropping message")
	}
	return nil
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}
