package wshub

import (
	"errors"
	"time"

	"github.com/gofiber/websocket/v2"
	"github.com/google/uuid"
	"github.com/sentinelflight/groundstation/internal/logger"
	"go.uber.org/zap"
)

const sendBufferSize = 256

var errClientClosed = errors.New("client connection closed")

// wsClient adapts one websocket connection to the Subscriber interface.
// Events are enqueued into a bounded channel drained by writePump, so the
// publishing goroutine never waits on a slow consumer; a full buffer drops
// the event for this client only.
type wsClient struct {
	id   string
	conn *websocket.Conn
	hub  *Hub

	send   chan []byte
	closed chan struct{}
}

func (c *wsClient) ID() string { return c.id }

func (c *wsClient) Send(data []byte) error {
	select {
	case <-c.closed:
		return errClientClosed
	default:
	}

	select {
	case c.send <- data:
		return nil
	default:
		// Slow consumer: drop this event rather than stall the pipeline.
		if c.hub.metrics != nil {
			c.hub.metrics.IncEventsDropped()
		}
		return nil
	}
}

func (c *wsClient) Close() {
	select {
	case <-c.closed:
	default:
		close(c.closed)
	}
}

// HandleConnection serves one websocket client: it attaches the client to
// the hub, pumps outbound events, and dispatches inbound commands through
// handler. It returns when the connection drops.
func (h *Hub) HandleConnection(conn *websocket.Conn, handler *CommandHandler) {
	client := &wsClient{
		id:     uuid.New().String(),
		conn:   conn,
		hub:    h,
		send:   make(chan []byte, sendBufferSize),
		closed: make(chan struct{}),
	}

	h.Attach(client)
	go client.writePump()
	client.readPump(handler)
	h.Detach(client.id)
}

// readPump reads command messages until the connection drops. Responses
// are queued on the same bounded send channel as events.
func (c *wsClient) readPump(handler *CommandHandler) {
	defer c.conn.Close()

	for {
		msgType, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				logger.Warn("websocket read failed", zap.String("id", c.id), zap.Error(err))
			}
			return
		}
		if msgType != websocket.TextMessage {
			continue
		}

		response := handler.Handle(data)
		if err := c.Send(response); err != nil {
			return
		}
	}
}

// writePump drains the send channel onto the wire, with keepalive pings.
func (c *wsClient) writePump() {
	ticker := time.NewTicker(30 * time.Second)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case <-c.closed:
			c.conn.WriteMessage(websocket.CloseMessage, []byte{})
			return

		case data := <-c.send:
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				c.Close()
				return
			}

		case <-ticker.C:
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.Close()
				return
			}
		}
	}
}
