// Package ws carries the live connection surface: the upgraded
// websocket clients, the event router, and the gateway that binds
// inbound events to the chat core.
package ws

import (
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"chatrelay/pkg/logger"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 64 * 1024
	sendQueueSize  = 256
)

// ErrSendQueueFull is returned when a client's outbound buffer is full.
// The caller treats the connection as unreachable.
var ErrSendQueueFull = errors.New("ws: send queue full")

// Event is the wire envelope for both directions.
type Event struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Client wraps one upgraded connection. Writes go through a buffered
// channel drained by a single write pump, so Send is safe from any
// goroutine. It satisfies presence.Conn.
type Client struct {
	UserID string

	conn *websocket.Conn
	send chan []byte

	closeOnce sync.Once
	done      chan struct{}
}

func NewClient(userID string, conn *websocket.Conn) *Client {
	return &Client{
		UserID: userID,
		conn:   conn,
		send:   make(chan []byte, sendQueueSize),
		done:   make(chan struct{}),
	}
}

// Send marshals an envelope onto the outbound queue. A full queue means
// the reader on the other end has stalled; the event is dropped and the
// error reported so the caller can fall back to durable queues.
func (c *Client) Send(event string, payload any) error {
	var raw json.RawMessage
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return err
		}
		raw = b
	}
	frame, err := json.Marshal(Event{Type: event, Payload: raw})
	if err != nil {
		return err
	}
	select {
	case <-c.done:
		return errors.New("ws: connection closed")
	case c.send <- frame:
		return nil
	default:
		return ErrSendQueueFull
	}
}

// Close tears the connection down once; safe to call concurrently.
func (c *Client) Close() error {
	c.closeOnce.Do(func() {
		close(c.done)
		_ = c.conn.Close()
	})
	return nil
}

// WritePump drains the send queue onto the socket and keeps the
// connection alive with pings. One per connection.
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.Close()
	}()
	for {
		select {
		case <-c.done:
			return
		case frame := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
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

// ReadPump reads envelopes off the socket and hands them to handle
// until the peer goes away. It owns the read side of the connection.
func (c *Client) ReadPump(handle func(ev Event)) {
	defer func() { _ = c.Close() }()
	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logger.Debug("ws_read_error", "user", c.UserID, "error", err.Error())
			}
			return
		}
		var ev Event
		if err := json.Unmarshal(data, &ev); err != nil {
			logger.Warn("ws_bad_frame", "user", c.UserID, "error", err.Error())
			continue
		}
		handle(ev)
	}
}
