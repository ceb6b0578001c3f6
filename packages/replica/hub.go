// Package replica keeps spreadsheets on different processes in sync over
// websockets. A Hub owns the authoritative document and relays every change
// to the connected clients, a Client mirrors a hub into a local spreadsheet.
package replica

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/vogtb/go-spreadsheet/packages/logging"
	"github.com/vogtb/go-spreadsheet/packages/spreadsheet"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 8 << 20
	sendBuffer     = 256
)

// Message types exchanged between hub and clients.
const (
	TypeSnapshot = "snapshot"
	TypeChange   = "change"
	TypeError    = "error"
)

// Message is the envelope of every websocket frame.
type Message struct {
	Type   string              `json:"type"`
	Client string              `json:"client,omitempty"` // id the hub assigned to the receiver, snapshot only
	From   string              `json:"from,omitempty"`   // id of the client that made the change, empty for hub edits
	Change *spreadsheet.Change `json:"change,omitempty"`
	Error  string              `json:"error,omitempty"`
}

type outbound struct {
	data []byte
	from *peer
}

// peer is one websocket connection held by the hub.
type peer struct {
	id   string
	hub  *Hub
	conn *websocket.Conn
	send chan []byte
}

// Hub serves a spreadsheet to websocket clients.
type Hub struct {
	sheet    *spreadsheet.Spreadsheet
	logger   *slog.Logger
	upgrader websocket.Upgrader
	onApply  func(from string, change spreadsheet.Change)

	clients    map[*peer]bool
	broadcast  chan outbound
	register   chan *peer
	unregister chan *peer
	done       chan struct{}
	mu         sync.RWMutex

	// applyMu orders remote applies with their broadcast
	applyMu sync.Mutex
}

// HubOption configures a Hub.
type HubOption func(*Hub)

// WithHubLogger sets the hub logger.
func WithHubLogger(logger *slog.Logger) HubOption {
	return func(h *Hub) { h.logger = logger }
}

// WithOriginCheck replaces the same-origin check of the upgrader.
func WithOriginCheck(fn func(r *http.Request) bool) HubOption {
	return func(h *Hub) { h.upgrader.CheckOrigin = fn }
}

// WithHubApplied registers a callback run after a client change was applied.
func WithHubApplied(fn func(from string, change spreadsheet.Change)) HubOption {
	return func(h *Hub) { h.onApply = fn }
}

// NewHub creates a hub for sheet. local edits made on sheet are broadcast to
// every client once Run is started.
func NewHub(sheet *spreadsheet.Spreadsheet, opts ...HubOption) *Hub {
	h := &Hub{
		sheet:  sheet,
		logger: logging.GetLogger(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
		clients:    make(map[*peer]bool),
		broadcast:  make(chan outbound, sendBuffer),
		register:   make(chan *peer),
		unregister: make(chan *peer),
		done:       make(chan struct{}),
	}
	for _, opt := range opts {
		opt(h)
	}
	sheet.OnChange(func(change spreadsheet.Change) {
		h.publish(nil, change)
	})
	return h
}

// Run handles registration and broadcasting until ctx is cancelled.
func (h *Hub) Run(ctx context.Context) {
	defer func() {
		h.mu.Lock()
		for client := range h.clients {
			delete(h.clients, client)
			close(client.send)
		}
		h.mu.Unlock()
		close(h.done)
	}()

	for {
		select {
		case <-ctx.Done():
			return

		case client := <-h.register:
			// the snapshot is taken inside the loop so no broadcast can slip
			// between it and the registration
			snapshot := h.sheet.Snapshot()
			data, err := json.Marshal(Message{Type: TypeSnapshot, Client: client.id, Change: &snapshot})
			if err != nil {
				h.logger.Error("failed to marshal snapshot", "error", err)
				close(client.send)
				continue
			}
			h.mu.Lock()
			h.clients[client] = true
			count := len(h.clients)
			h.mu.Unlock()
			client.send <- data
			logging.WebSocketEvent(h.logger, "client_connected", count, "client", client.id)

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
			}
			count := len(h.clients)
			h.mu.Unlock()
			logging.WebSocketEvent(h.logger, "client_disconnected", count, "client", client.id)

		case message := <-h.broadcast:
			h.mu.Lock()
			for client := range h.clients {
				if client == message.from {
					continue
				}
				select {
				case client.send <- message.data:
				default:
					// slow client, drop it
					close(client.send)
					delete(h.clients, client)
					h.logger.Warn("dropping slow websocket client", "client", client.id)
				}
			}
			h.mu.Unlock()
		}
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *Hub) publish(from *peer, change spreadsheet.Change) {
	msg := Message{Type: TypeChange, Change: &change}
	if from != nil {
		msg.From = from.id
	}
	data, err := json.Marshal(msg)
	if err != nil {
		h.logger.Error("failed to marshal change", "error", err)
		return
	}
	select {
	case h.broadcast <- outbound{data: data, from: from}:
	case <-h.done:
	default:
		h.logger.Warn("broadcast channel full, dropping change")
	}
}

// apply commits a change sent by a client and relays it to the others.
func (h *Hub) apply(from *peer, change spreadsheet.Change) error {
	h.applyMu.Lock()
	defer h.applyMu.Unlock()
	if err := h.sheet.ApplyChange(change); err != nil {
		return err
	}
	h.publish(from, change)
	if h.onApply != nil {
		h.onApply(from.id, change)
	}
	return nil
}

// ServeHTTP upgrades the request and attaches the connection to the hub.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	select {
	case <-h.done:
		http.Error(w, "replica hub stopped", http.StatusServiceUnavailable)
		return
	default:
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("websocket upgrade failed", "error", err)
		return
	}

	client := &peer{
		id:   uuid.NewString(),
		hub:  h,
		conn: conn,
		send: make(chan []byte, sendBuffer),
	}
	select {
	case h.register <- client:
	case <-h.done:
		conn.Close()
		return
	}

	go client.writePump()
	go client.readPump()
}

func (c *peer) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.logger.Error("websocket unexpected close", "client", c.id, "error", err)
			}
			return
		}
		var msg Message
		if err := json.Unmarshal(data, &msg); err != nil {
			c.reply(Message{Type: TypeError, Error: "malformed message: " + err.Error()})
			continue
		}
		if msg.Type != TypeChange || msg.Change == nil {
			c.reply(Message{Type: TypeError, Error: "unexpected message type " + msg.Type})
			continue
		}
		if err := c.hub.apply(c, *msg.Change); err != nil {
			c.hub.logger.Warn("rejected client change", "client", c.id, "error", err)
			c.reply(Message{Type: TypeError, Error: err.Error()})
		}
	}
}

// reply queues a message for this client only
func (c *peer) reply(msg Message) {
	data, err := json.Marshal(msg)
	if err != nil {
		return
	}
	c.hub.mu.RLock()
	defer c.hub.mu.RUnlock()
	if !c.hub.clients[c] {
		return
	}
	select {
	case c.send <- data:
	default:
	}
}

func (c *peer) writePump() {
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
