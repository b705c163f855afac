// Package realtime pushes events to websocket clients grouped in rooms.
package realtime

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/trezcool/atelier/core"
	"github.com/trezcool/atelier/core/session"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4096
	sendBufferSize = 32

	EventConnected    = "connected"
	EventSubscribed   = "subscribed"
	EventUnsubscribed = "unsubscribed"
	EventError        = "error"
)

// Message is sent to the clients.
type Message struct {
	Event string      `json:"event"`
	Data  interface{} `json:"data,omitempty"`
}

// command is received from the clients.
type command struct {
	Action string `json:"action"` // subscribe | unsubscribe
	Room   string `json:"room"`
}

// RoomAuthorizer tells whether a user may listen to a room; a nil authorizer allows all rooms.
type RoomAuthorizer func(userID, room string) error

type Hub struct {
	mu        sync.RWMutex
	rooms     map[string]map[*client]struct{}
	users     map[string]map[*client]struct{}
	upgrader  websocket.Upgrader
	authorize RoomAuthorizer
	logger    core.Logger
}

var _ session.Broadcaster = (*Hub)(nil)

func NewHub(authorize RoomAuthorizer, logger core.Logger) *Hub {
	return &Hub{
		rooms: make(map[string]map[*client]struct{}),
		users: make(map[string]map[*client]struct{}),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		authorize: authorize,
		logger:    logger,
	}
}

type client struct {
	hub    *Hub
	conn   *websocket.Conn
	userID string
	send   chan []byte
	// guarded by hub.mu
	rooms  map[string]struct{}
	closed bool
}

// Serve upgrades the request and serves the connection of userID until it closes.
func (h *Hub) Serve(w http.ResponseWriter, r *http.Request, userID string) error {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return err
	}
	c := &client{
		hub:    h,
		conn:   conn,
		userID: userID,
		send:   make(chan []byte, sendBufferSize),
		rooms:  make(map[string]struct{}),
	}
	h.register(c)

	go c.writePump()
	c.push(Message{Event: EventConnected, Data: map[string]string{"user_id": userID}})
	c.readPump()
	return nil
}

func (h *Hub) register(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	add(h.users, c.userID, c)
}

func (h *Hub) unregister(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for room := range c.rooms {
		remove(h.rooms, room, c)
	}
	remove(h.users, c.userID, c)
	c.close()
}

// SetAuthorizer replaces the room authorizer.
func (h *Hub) SetAuthorizer(authorize RoomAuthorizer) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.authorize = authorize
}

func (h *Hub) subscribe(c *client, room string) error {
	h.mu.RLock()
	authorize := h.authorize
	h.mu.RUnlock()
	if authorize != nil {
		if err := authorize(c.userID, room); err != nil {
			return err
		}
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	add(h.rooms, room, c)
	c.rooms[room] = struct{}{}
	return nil
}

func (h *Hub) unsubscribe(c *client, room string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	remove(h.rooms, room, c)
	delete(c.rooms, room)
}

func (h *Hub) BroadcastToRoom(room, event string, payload interface{}) {
	data, ok := h.encode(event, payload)
	if !ok {
		return
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.rooms[room] {
		c.enqueue(data)
	}
}

func (h *Hub) SendToUser(userID, event string, payload interface{}) {
	data, ok := h.encode(event, payload)
	if !ok {
		return
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.users[userID] {
		c.enqueue(data)
	}
}

// Connections returns the number of open connections of userID.
func (h *Hub) Connections(userID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.users[userID])
}

// Close disconnects every client.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, clients := range h.users {
		for c := range clients {
			c.close()
		}
	}
	h.rooms = make(map[string]map[*client]struct{})
	h.users = make(map[string]map[*client]struct{})
}

func (h *Hub) encode(event string, payload interface{}) ([]byte, bool) {
	data, err := json.Marshal(Message{Event: event, Data: payload})
	if err != nil {
		h.logger.Error(fmt.Sprintf("encoding %s event: %v", event, err), err)
		return nil, false
	}
	return data, true
}

func add(index map[string]map[*client]struct{}, key string, c *client) {
	set, ok := index[key]
	if !ok {
		set = make(map[*client]struct{})
		index[key] = set
	}
	set[c] = struct{}{}
}

func remove(index map[string]map[*client]struct{}, key string, c *client) {
	if set, ok := index[key]; ok {
		delete(set, c)
		if len(set) == 0 {
			delete(index, key)
		}
	}
}

// close must be called with hub.mu held.
func (c *client) close() {
	if !c.closed {
		c.closed = true
		close(c.send)
	}
}

// enqueue never blocks: a client too slow to drain its buffer misses the message.
// It must be called with hub.mu held.
func (c *client) enqueue(data []byte) {
	if c.closed {
		return
	}
	select {
	case c.send <- data:
	default:
		c.hub.logger.Warn(fmt.Sprintf("dropping message for slow client of user %s", c.userID))
	}
}

func (c *client) push(msg Message) {
	if data, ok := c.hub.encode(msg.Event, msg.Data); ok {
		c.hub.mu.RLock()
		defer c.hub.mu.RUnlock()
		c.enqueue(data)
	}
}

func (c *client) readPump() {
	defer func() {
		c.hub.unregister(c)
		_ = c.conn.Close()
	}()
	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		var cmd command
		if err := c.conn.ReadJSON(&cmd); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.logger.Debug(fmt.Sprintf("websocket of user %s closed: %v", c.userID, err))
			}
			return
		}

		switch cmd.Action {
		case "subscribe":
			if err := c.hub.subscribe(c, cmd.Room); err != nil {
				c.push(Message{Event: EventError, Data: map[string]string{"room": cmd.Room, "error": err.Error()}})
				continue
			}
			c.push(Message{Event: EventSubscribed, Data: map[string]string{"room": cmd.Room}})
		case "unsubscribe":
			c.hub.unsubscribe(c, cmd.Room)
			c.push(Message{Event: EventUnsubscribed, Data: map[string]string{"room": cmd.Room}})
		default:
			c.push(Message{Event: EventError, Data: map[string]string{"error": "unknown action " + cmd.Action}})
		}
	}
}

func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case data, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
