package server

import (
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/tiflis/tiflis/internal/common/logger"
	"github.com/tiflis/tiflis/pkg/protocol"
)

const (
	// Time allowed to write a message to the peer
	writeWait = 10 * time.Second

	// Read deadline; refreshed on every inbound frame. Peers send a
	// protocol ping every 20s, so a silent link is dead well before this.
	readWait = 60 * time.Second

	// Maximum message size allowed from peer
	maxMessageSize = 1024 * 1024 // 1MB
)

// conn wraps a WebSocket with a bounded outbound queue. It implements
// forwarder.Link. A full queue fails the Send, which callers treat as
// backpressure and close the link.
type conn struct {
	ws     *websocket.Conn
	send   chan *protocol.Message
	logger *logger.Logger

	closeOnce sync.Once
	closed    chan struct{}
}

func newConn(ws *websocket.Conn, queueSize int, log *logger.Logger) *conn {
	return &conn{
		ws:     ws,
		send:   make(chan *protocol.Message, queueSize),
		logger: log,
		closed: make(chan struct{}),
	}
}

// Send enqueues a message for delivery. It never blocks.
func (c *conn) Send(msg *protocol.Message) error {
	select {
	case <-c.closed:
		return fmt.Errorf("connection closed")
	default:
	}
	select {
	case c.send <- msg:
		return nil
	default:
		return fmt.Errorf("send queue full")
	}
}

// Close tears the connection down. A non-empty code is reported to the
// peer as an error frame before the socket closes.
func (c *conn) Close(code string) {
	c.closeOnce.Do(func() {
		if code != "" {
			data, err := protocol.NewError("", code, "connection closed").Encode()
			if err == nil {
				_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
				_ = c.ws.WriteMessage(websocket.TextMessage, data)
			}
		}
		close(c.closed)
		_ = c.ws.Close()
	})
}

// writePump drains the send queue to the socket. Run as a goroutine; it
// exits when the connection closes.
func (c *conn) writePump() {
	for {
		select {
		case <-c.closed:
			return
		case msg := <-c.send:
			data, err := msg.Encode()
			if err != nil {
				c.logger.Error("failed to encode outbound frame", zap.Error(err))
				continue
			}
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.TextMessage, data); err != nil {
				c.Close("")
				return
			}
		}
	}
}

// readLoop decodes inbound frames and hands them to handle until the
// connection dies. handle returning false terminates the loop.
func (c *conn) readLoop(handle func(msg *protocol.Message) bool) {
	c.ws.SetReadLimit(maxMessageSize)
	for {
		_ = c.ws.SetReadDeadline(time.Now().Add(readWait))
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.logger.Debug("read error", zap.Error(err))
			}
			return
		}

		msg, err := protocol.Decode(data)
		if err != nil {
			_ = c.Send(protocol.NewError("", protocol.ErrInvalidPayload, "malformed frame"))
			continue
		}
		if !handle(msg) {
			return
		}
	}
}

// readFrame reads a single frame with a dedicated deadline. Used for
// handshakes before the regular read loop starts.
func (c *conn) readFrame(timeout time.Duration) (*protocol.Message, error) {
	c.ws.SetReadLimit(maxMessageSize)
	_ = c.ws.SetReadDeadline(time.Now().Add(timeout))
	_, data, err := c.ws.ReadMessage()
	if err != nil {
		return nil, err
	}
	return protocol.Decode(data)
}
