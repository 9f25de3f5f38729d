package ws

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/gofiber/websocket/v2"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const (
	// Time allowed to write a message to the peer
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer
	pongWait = 60 * time.Second

	// Send pings to peer with this interval (must be < pongWait)
	pingInterval = 30 * time.Second
)

// Event names published to the admin UI
const (
	EventAppMessage     = "appMessage"
	EventTicket         = "ticket"
	EventChannelSession = "whatsappSession"
	EventContact        = "contact"
	EventJoinChatBox    = "joinChatBox"
	EventLeaveChatBox   = "leaveChatBox"
	EventJoinNotify     = "joinNotification"
	EventJoinTickets    = "joinTickets"
	RoomNotification    = "notification"
)

// Message represents a WebSocket message. Room is empty for broadcasts.
type Message struct {
	Event string      `json:"event"`
	Room  string      `json:"room,omitempty"`
	Data  interface{} `json:"data"`
}

// inbound is what a client sends; Data is the room argument
type inbound struct {
	Event string `json:"event"`
	Data  string `json:"data"`
}

// Client represents a connected WebSocket client
type Client struct {
	ID     string
	UserID uuid.UUID
	Conn   *websocket.Conn
	Send   chan []byte
	Hub    *Hub

	rooms map[string]bool
}

// NewClient creates a client bound to hub
func NewClient(hub *Hub, conn *websocket.Conn, userID uuid.UUID) *Client {
	return &Client{
		ID:     uuid.NewString(),
		UserID: userID,
		Conn:   conn,
		Send:   make(chan []byte, 256),
		Hub:    hub,
		rooms:  make(map[string]bool),
	}
}

// Hub maintains the set of active clients and the rooms they joined
type Hub struct {
	// Registered clients
	clients map[*Client]bool

	// Clients indexed by room (ticket id, ticket status or "notification")
	rooms map[string]map[*Client]bool

	// Outbound messages
	broadcast chan *Message

	// Register requests from clients
	register chan *Client

	// Unregister requests from clients
	unregister chan *Client

	mu  sync.RWMutex
	log zerolog.Logger
}

// NewHub creates a new Hub instance
func NewHub(logger zerolog.Logger) *Hub {
	return &Hub{
		clients:    make(map[*Client]bool),
		rooms:      make(map[string]map[*Client]bool),
		broadcast:  make(chan *Message, 256),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		log:        logger.With().Str("component", "ws").Logger(),
	}
}

// Run starts the hub's main loop
func (h *Hub) Run() {
	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			h.mu.Unlock()
			h.log.Debug().Str("client", client.ID).Msg("client registered")

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				for room := range client.rooms {
					h.leaveLocked(client, room)
				}
				close(client.Send)
			}
			h.mu.Unlock()
			h.log.Debug().Str("client", client.ID).Msg("client unregistered")

		case message := <-h.broadcast:
			h.deliver(message)
		}
	}
}

// deliver sends a message to the clients of its room, or to everyone
func (h *Hub) deliver(msg *Message) {
	data, err := json.Marshal(msg)
	if err != nil {
		h.log.Error().Err(err).Str("event", msg.Event).Msg("failed to marshal message")
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	targets := h.clients
	if msg.Room != "" {
		targets = h.rooms[msg.Room]
	}
	for client := range targets {
		select {
		case client.Send <- data:
		default:
			// Client buffer full, remove it
			go func(c *Client) {
				h.unregister <- c
			}(client)
		}
	}
}

// Register adds a client to the hub
func (h *Hub) Register(client *Client) {
	h.register <- client
}

// Unregister removes a client from the hub
func (h *Hub) Unregister(client *Client) {
	h.unregister <- client
}

// Join subscribes a client to a room
func (h *Hub) Join(client *Client, room string) {
	if room == "" {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.rooms[room]; !ok {
		h.rooms[room] = make(map[*Client]bool)
	}
	h.rooms[room][client] = true
	client.rooms[room] = true
}

// Leave unsubscribes a client from a room
func (h *Hub) Leave(client *Client, room string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.leaveLocked(client, room)
}

func (h *Hub) leaveLocked(client *Client, room string) {
	delete(client.rooms, room)
	if members, ok := h.rooms[room]; ok {
		delete(members, client)
		if len(members) == 0 {
			delete(h.rooms, room)
		}
	}
}

// Emit sends an event to every client in room
func (h *Hub) Emit(room, event string, data interface{}) {
	h.broadcast <- &Message{Event: event, Room: room, Data: data}
}

// Broadcast sends an event to all clients
func (h *Hub) Broadcast(event string, data interface{}) {
	h.broadcast <- &Message{Event: event, Data: data}
}

// GetClientCount returns the total number of connected clients
func (h *Hub) GetClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// GetRoomClientCount returns the number of clients in a room
func (h *Hub) GetRoomClientCount(room string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[room])
}

// ReadPump reads messages from the WebSocket connection
func (c *Client) ReadPump() {
	defer func() {
		c.Hub.Unregister(c)
		c.Conn.Close()
	}()

	// Set read deadline, reset on every pong
	c.Conn.SetReadDeadline(time.Now().Add(pongWait))
	c.Conn.SetPongHandler(func(string) error {
		c.Conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure, websocket.CloseNoStatusReceived) {
				c.Hub.log.Warn().Err(err).Str("client", c.ID).Msg("read error")
			}
			break
		}

		var msg inbound
		if err := json.Unmarshal(message, &msg); err != nil {
			c.Hub.log.Warn().Err(err).Str("client", c.ID).Msg("invalid message format")
			continue
		}

		c.handleMessage(&msg)
	}
}

// WritePump writes messages to the WebSocket connection
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.Conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.Send:
			c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// Hub closed the channel
				c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := c.Conn.WriteMessage(websocket.TextMessage, message); err != nil {
				c.Hub.log.Warn().Err(err).Str("client", c.ID).Msg("write error")
				return
			}

		case <-ticker.C:
			c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// handleMessage processes room subscriptions sent by the client
func (c *Client) handleMessage(msg *inbound) {
	switch msg.Event {
	case EventJoinChatBox, EventJoinTickets:
		c.Hub.Join(c, msg.Data)
	case EventLeaveChatBox:
		c.Hub.Leave(c, msg.Data)
	case EventJoinNotify:
		c.Hub.Join(c, RoomNotification)
	case "ping":
		c.Send <- []byte(`{"event":"pong"}`)
	default:
		c.Hub.log.Debug().Str("event", msg.Event).Msg("unknown client event")
	}
}
