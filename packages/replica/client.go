package replica

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/vogtb/go-spreadsheet/packages/logging"
	"github.com/vogtb/go-spreadsheet/packages/spreadsheet"
)

// ErrClosed is returned when sending on a closed client.
var ErrClosed = errors.New("replica client closed")

// Client mirrors a hub document into a local spreadsheet. remote changes are
// applied without notifying listeners, local edits are forwarded to the hub.
type Client struct {
	id      string
	sheet   *spreadsheet.Spreadsheet
	conn    *websocket.Conn
	logger  *slog.Logger
	onApply func(Message)

	send      chan []byte
	quit      chan struct{}
	done      chan struct{}
	closeOnce sync.Once

	mu  sync.Mutex
	err error
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithClientLogger sets the client logger.
func WithClientLogger(logger *slog.Logger) ClientOption {
	return func(c *Client) { c.logger = logger }
}

// WithClientApplied registers a callback run after every message from the
// hub was handled, including errors reported by the hub.
func WithClientApplied(fn func(Message)) ClientOption {
	return func(c *Client) { c.onApply = fn }
}

// Dial connects to the hub at url and loads its snapshot into sheet before
// returning.
func Dial(ctx context.Context, url string, sheet *spreadsheet.Spreadsheet, opts ...ClientOption) (*Client, error) {
	c := &Client{
		sheet:  sheet,
		logger: logging.GetLogger(),
		send:   make(chan []byte, sendBuffer),
		quit:   make(chan struct{}),
		done:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", url, err)
	}
	c.conn = conn
	conn.SetReadLimit(maxMessageSize)

	if deadline, ok := ctx.Deadline(); ok {
		conn.SetReadDeadline(deadline)
	}
	var first Message
	if err := conn.ReadJSON(&first); err != nil {
		conn.Close()
		return nil, fmt.Errorf("read snapshot: %w", err)
	}
	if first.Type != TypeSnapshot || first.Change == nil {
		conn.Close()
		return nil, fmt.Errorf("expected snapshot, got %q", first.Type)
	}
	if err := sheet.ApplyChange(*first.Change); err != nil {
		conn.Close()
		return nil, fmt.Errorf("apply snapshot: %w", err)
	}
	c.id = first.Client
	conn.SetReadDeadline(time.Time{})

	sheet.OnChange(c.forward)
	go c.writePump()
	go c.readPump()
	return c, nil
}

// ID returns the id the hub assigned to this client.
func (c *Client) ID() string {
	return c.id
}

// Err returns the error that ended the connection, if any.
func (c *Client) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// Done is closed when the connection ends.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

// Send pushes a change to the hub without applying it locally.
func (c *Client) Send(change spreadsheet.Change) error {
	data, err := json.Marshal(Message{Type: TypeChange, Change: &change})
	if err != nil {
		return fmt.Errorf("marshal change: %w", err)
	}
	select {
	case <-c.done:
		return ErrClosed
	default:
	}
	select {
	case c.send <- data:
		return nil
	case <-c.done:
		return ErrClosed
	}
}

// forward is the spreadsheet listener for local edits
func (c *Client) forward(change spreadsheet.Change) {
	if err := c.Send(change); err != nil && !errors.Is(err, ErrClosed) {
		c.logger.Error("failed to forward change", "error", err)
	}
}

// Close shuts the connection down and waits for the read loop to stop.
func (c *Client) Close() error {
	c.closeOnce.Do(func() { close(c.quit) })
	select {
	case <-c.done:
	case <-time.After(writeWait):
		c.conn.Close()
		<-c.done
	}
	return nil
}

func (c *Client) fail(err error) {
	c.mu.Lock()
	if c.err == nil {
		c.err = err
	}
	c.mu.Unlock()
}

func (c *Client) readPump() {
	defer func() {
		c.conn.Close()
		close(c.done)
	}()

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.logger.Error("websocket unexpected close", "client", c.id, "error", err)
				c.fail(err)
			}
			return
		}
		var msg Message
		if err := json.Unmarshal(data, &msg); err != nil {
			c.logger.Warn("malformed message from hub", "error", err)
			continue
		}
		switch msg.Type {
		case TypeSnapshot, TypeChange:
			if msg.Change == nil {
				continue
			}
			if err := c.sheet.ApplyChange(*msg.Change); err != nil {
				c.logger.Error("failed to apply remote change", "from", msg.From, "error", err)
			}
		case TypeError:
			c.logger.Warn("hub rejected change", "error", msg.Error)
		}
		if c.onApply != nil {
			c.onApply(msg)
		}
	}
}

func (c *Client) writePump() {
	for {
		select {
		case message := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				c.fail(err)
				return
			}
		case <-c.quit:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			c.conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		case <-c.done:
			return
		}
	}
}
