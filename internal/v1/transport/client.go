// Package transport owns the websocket layer: connection upgrade,
// per-client read/write pumps and the JSON event framing. Everything
// past the framing is the dispatcher's problem.
package transport

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/lumenchat/backend/go/internal/v1/logging"
	"github.com/lumenchat/backend/go/internal/v1/metrics"
	"github.com/lumenchat/backend/go/internal/v1/types"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// wsConnection is the slice of *websocket.Conn the client needs;
// narrowed for tests.
type wsConnection interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	Close() error
	SetWriteDeadline(t time.Time) error
}

// Client is a single websocket connection. It implements
// types.ClientInterface for the dispatcher.
type Client struct {
	conn wsConnection
	sink types.EventSink
	id   types.TransportIDType

	mu        sync.RWMutex
	closed    bool
	closeOnce sync.Once

	send         chan []byte // normal traffic (chat, stats)
	prioritySend chan []byte // control traffic (match_found, ended, signaling, errors)
}

// newClient wraps an upgraded connection.
func newClient(conn wsConnection, sink types.EventSink, id types.TransportIDType) *Client {
	return &Client{
		conn:         conn,
		sink:         sink,
		id:           id,
		send:         make(chan []byte, 256),
		prioritySend: make(chan []byte, 256),
	}
}

// GetID satisfies types.ClientInterface.
func (c *Client) GetID() types.TransportIDType {
	return c.id
}

// Send satisfies types.ClientInterface. It never blocks: a full buffer
// drops the frame, which for priority traffic is logged as an error.
func (c *Client) Send(event types.ServerEvent) {
	c.mu.RLock()
	if c.closed {
		c.mu.RUnlock()
		return
	}
	c.mu.RUnlock()

	data, err := json.Marshal(event)
	if err != nil {
		logging.Error(context.Background(), "Failed to marshal outbound event",
			zap.String("eventType", string(event.Type)), zap.Error(err))
		return
	}

	// Recover if Disconnect closed the channels between the check above
	// and the send below.
	defer func() {
		if r := recover(); r != nil {
			logging.Warn(context.Background(), "Recovered from send on closed client",
				zap.String("transportId", string(c.id)), zap.Any("panic", r))
		}
	}()

	if isPriority(event.Type) {
		select {
		case c.prioritySend <- data:
		default:
			logging.Error(context.Background(), "Priority channel full - dropping control event",
				zap.String("transportId", string(c.id)),
				zap.String("eventType", string(event.Type)))
		}
	} else {
		select {
		case c.send <- data:
		default:
			logging.Warn(context.Background(), "Send channel full - dropping event",
				zap.String("transportId", string(c.id)),
				zap.String("eventType", string(event.Type)))
		}
	}
}

// isPriority routes control-flow events through the priority channel so
// a backlog of chat traffic cannot delay a match_found or an ended.
func isPriority(eventType types.EventType) bool {
	switch eventType {
	case types.EventMatchFound, types.EventEnded, types.EventError,
		types.EventWebRTCOffer, types.EventWebRTCAnswer, types.EventWebRTCICECandidate:
		return true
	}
	return false
}

// Disconnect satisfies types.ClientInterface. Closing the channels makes
// the writePump drain, send a close frame and close the connection.
func (c *Client) Disconnect() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.mu.Unlock()

	c.closeOnce.Do(func() {
		close(c.send)
		close(c.prioritySend)
	})
}

// readPump decodes inbound frames and hands them to the dispatcher.
func (c *Client) readPump() {
	defer func() {
		c.sink.HandleDisconnect(c)
		c.conn.Close()
		metrics.DecConnection()
	}()

	for {
		messageType, data, err := c.conn.ReadMessage()
		if err != nil {
			break
		}
		if messageType != websocket.TextMessage {
			continue
		}

		var event types.ClientEvent
		if err := json.Unmarshal(data, &event); err != nil {
			logging.Warn(context.Background(), "Failed to decode inbound frame",
				zap.String("transportId", string(c.id)), zap.Error(err))
			c.Send(types.ServerEvent{
				Type:    types.EventError,
				Payload: map[string]string{"code": "validation", "message": "malformed frame"},
			})
			continue
		}

		c.sink.HandleEvent(c, event)
	}
}

func (c *Client) writePump() {
	defer c.conn.Close()
	writeWait := 10 * time.Second

	for {
		select {
		case message, ok := <-c.prioritySend:
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				logging.Error(context.Background(), "error writing priority message", zap.Error(err))
				return
			}
		case message, ok := <-c.send:
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				logging.Error(context.Background(), "error writing message", zap.Error(err))
				return
			}
		}
	}
}
