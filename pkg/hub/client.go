package hub

import (
	"errors"
	"time"

	"github.com/gofiber/contrib/websocket"
)

const (
	// writeWait is how long to wait for a write to complete
	writeWait = 10 * time.Second

	// pongWait is how long to wait for a pong response
	pongWait = 60 * time.Second

	// pingPeriod must be less than pongWait
	pingPeriod = (pongWait * 9) / 10

	// maxMessageSize bounds frames read from subscribers, which only send control traffic.
	maxMessageSize = 4 * 1024
)

// ErrHubStopped is returned when registering with a hub that is not running.
var ErrHubStopped = errors.New("hub: not running")

// Conn is the websocket connection surface a Client needs.
// *websocket.Conn from gofiber/contrib/websocket satisfies it.
type Conn interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	SetReadLimit(limit int64)
	SetReadDeadline(t time.Time) error
	SetWriteDeadline(t time.Time) error
	SetPongHandler(h func(appData string) error)
	Close() error
}

// Client is one websocket subscriber.
type Client struct {
	hub    *Hub
	conn   Conn
	id     string
	topics []string
	send   chan Message
}

// NewClient creates a client subscribed to topics. Call Register before Run.
func NewClient(h *Hub, conn Conn, id string, topics ...string) *Client {
	return &Client{
		hub:    h,
		conn:   conn,
		id:     id,
		topics: topics,
		send:   make(chan Message, clientBuffer), // Buffered channel for backpressure
	}
}

// ID returns the client's session id.
func (c *Client) ID() string { return c.id }

// Topics returns the subscribed topics.
func (c *Client) Topics() []string { return c.topics }

// Enqueue queues a message for this client only. It must be called before
// Register; it reports false when the queue is full.
func (c *Client) Enqueue(msg Message) bool {
	select {
	case c.send <- msg:
		return true
	default:
		return false
	}
}

// Register adds the client to the hub.
func (c *Client) Register() error {
	if !c.hub.IsRunning() {
		return ErrHubStopped
	}
	select {
	case c.hub.register <- c:
		return nil
	case <-c.hub.done:
		return ErrHubStopped
	}
}

// Run starts the client's read and write pumps.
// It blocks until the connection closes; call it from the websocket handler.
func (c *Client) Run() {
	go c.writePump()
	c.readPump()
}

// readPump reads frames to detect disconnection and process pongs.
func (c *Client) readPump() {
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
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			break
		}
	}
}

// writePump is the only goroutine that writes to the connection.
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
				// Hub closed the channel
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			wsType := websocket.TextMessage
			if message.Type == BinaryMessage {
				wsType = websocket.BinaryMessage
			}
			if err := c.conn.WriteMessage(wsType, message.Data); err != nil {
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
