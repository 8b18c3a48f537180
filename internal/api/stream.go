package api

import (
	"encoding/json"
	"log/slog"
	"time"

	"github.com/gorilla/websocket"

	"predix/pkg/types"
)

// SnapshotFunc produces the current book projection for one event. The hub
// calls it when a client subscribes or asks for a refresh.
type SnapshotFunc func(eventID int64) (*types.BookSnapshot, error)

// Hub fans book updates out to WebSocket subscribers, one room per event.
// All room state is owned by the Run goroutine; handlers and the engine talk
// to it through channels only.
type Hub struct {
	rooms      map[int64]map[*Client]bool
	register   chan *Client
	unregister chan *Client
	updates    chan roomMessage
	closings   chan int64
	snapshot   SnapshotFunc
	logger     *slog.Logger
}

type roomMessage struct {
	eventID int64
	payload []byte
}

// Client is one WebSocket subscriber to one event's book feed. The send
// channel is never closed: readPump writes replies to it concurrently with
// the hub, so shutdown is signalled by closing done instead.
type Client struct {
	hub     *Hub
	conn    *websocket.Conn
	send    chan []byte
	done    chan struct{}
	eventID int64
}

// NewHub creates a hub. Call Run in a goroutine before registering clients.
func NewHub(snapshot SnapshotFunc, logger *slog.Logger) *Hub {
	return &Hub{
		rooms:      make(map[int64]map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		updates:    make(chan roomMessage, 256),
		closings:   make(chan int64),
		snapshot:   snapshot,
		logger:     logger.With("component", "ws-hub"),
	}
}

// Run is the hub's main loop (call in a goroutine).
func (h *Hub) Run() {
	for {
		select {
		case client := <-h.register:
			room, ok := h.rooms[client.eventID]
			if !ok {
				room = make(map[*Client]bool)
				h.rooms[client.eventID] = room
			}
			room[client] = true
			h.logger.Info("client subscribed",
				"event_id", client.eventID, "count", len(room))

		case client := <-h.unregister:
			if room, ok := h.rooms[client.eventID]; ok {
				if room[client] {
					delete(room, client)
					close(client.done)
				}
				if len(room) == 0 {
					delete(h.rooms, client.eventID)
				}
			}
			h.logger.Info("client unsubscribed", "event_id", client.eventID)

		case msg := <-h.updates:
			for client := range h.rooms[msg.eventID] {
				select {
				case client.send <- msg.payload:
				default:
					// Client can't keep up, cut it loose
					close(client.done)
					delete(h.rooms[msg.eventID], client)
				}
			}

		case eventID := <-h.closings:
			for client := range h.rooms[eventID] {
				close(client.done)
			}
			delete(h.rooms, eventID)
			h.logger.Info("event feed closed", "event_id", eventID)
		}
	}
}

// PublishUpdate broadcasts a fresh snapshot to the event's room. Implements
// the engine's Notifier.
func (h *Hub) PublishUpdate(eventID int64, snap *types.BookSnapshot) {
	h.publish(eventID, types.MsgUpdate, snap)
}

// CloseEvent disconnects every subscriber of a resolved event. Implements
// the engine's Notifier.
func (h *Hub) CloseEvent(eventID int64) {
	h.closings <- eventID
}

func (h *Hub) publish(eventID int64, msgType string, snap *types.BookSnapshot) {
	data, err := json.Marshal(types.WSMessage{
		Type:      msgType,
		EventID:   eventID,
		Timestamp: time.Now().UTC(),
		Data:      snap,
	})
	if err != nil {
		h.logger.Error("marshal book message", "error", err)
		return
	}
	select {
	case h.updates <- roomMessage{eventID: eventID, payload: data}:
	default:
		h.logger.Warn("update channel full, dropping frame", "event_id", eventID)
	}
}

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4 * 1024
)

// writePump pumps frames from the hub to the websocket connection.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-c.done:
			// Hub dropped the client
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			c.conn.WriteMessage(websocket.CloseMessage, []byte{})
			return

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump handles the two client-initiated frames: ping, answered with an
// application-level pong, and refresh, answered with a fresh snapshot.
func (c *Client) readPump() {
	defer func() {
		c.hub.unregister <- c
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.hub.logger.Error("websocket error", "error", err)
			}
			return
		}

		var msg types.WSMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			continue
		}
		switch msg.Type {
		case types.MsgPing:
			c.enqueue(types.WSMessage{Type: types.MsgPong, Timestamp: time.Now().UTC()})
		case types.MsgRefresh:
			c.sendSnapshot()
		}
	}
}

// sendSnapshot queues a full snapshot frame for this client only.
func (c *Client) sendSnapshot() {
	snap, err := c.hub.snapshot(c.eventID)
	if err != nil {
		c.hub.logger.Warn("snapshot for client failed",
			"event_id", c.eventID, "error", err)
		return
	}
	c.enqueue(types.WSMessage{
		Type:      types.MsgSnapshot,
		EventID:   c.eventID,
		Timestamp: time.Now().UTC(),
		Data:      snap,
	})
}

func (c *Client) enqueue(msg types.WSMessage) {
	data, err := json.Marshal(msg)
	if err != nil {
		c.hub.logger.Error("marshal client frame", "error", err)
		return
	}
	select {
	case c.send <- data:
	case <-c.done:
	default:
		c.hub.logger.Warn("client send buffer full, dropping frame")
	}
}

// NewClient registers a subscriber, starts its pumps, and delivers the
// initial snapshot.
func NewClient(hub *Hub, conn *websocket.Conn, eventID int64) *Client {
	client := &Client{
		hub:     hub,
		conn:    conn,
		send:    make(chan []byte, 64),
		done:    make(chan struct{}),
		eventID: eventID,
	}
	client.hub.register <- client

	go client.writePump()
	go client.readPump()

	client.sendSnapshot()
	return client
}
