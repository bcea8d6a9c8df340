// Package upstream maintains the workstation's outbound connection to the
// tunnel: registration with identity reclaim, the transport heartbeat, and
// reconnection with exponential backoff.
package upstream

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/tiflis/tiflis/internal/common/config"
	"github.com/tiflis/tiflis/internal/common/logger"
	"github.com/tiflis/tiflis/pkg/protocol"
)

const (
	dialTimeout      = 10 * time.Second
	registerTimeout  = 10 * time.Second
	writeWait        = 10 * time.Second
	pingInterval     = 20 * time.Second
	staleAfter       = 30 * time.Second
	reconnectInitial = time.Second
	reconnectMax     = 30 * time.Second
)

// Handler receives frames forwarded from clients through the tunnel.
type Handler func(msg *protocol.Message)

// Client is the workstation's tunnel link. It implements the hub's Sender.
type Client struct {
	cfg     config.WorkstationConfig
	state   *stateStore
	handler Handler
	logger  *logger.Logger

	// onRegistered fires after every successful registration with the
	// assigned identity.
	onRegistered func(protocol.RegisteredPayload)

	mu       sync.Mutex
	conn     *websocket.Conn
	send     chan *protocol.Message
	lastPong time.Time
}

// New creates the tunnel client. StatePath holds the identity to reclaim
// across restarts.
func New(cfg config.WorkstationConfig, log *logger.Logger) (*Client, error) {
	store, err := newStateStore(cfg.StatePath)
	if err != nil {
		return nil, err
	}
	return &Client{
		cfg:    cfg,
		state:  store,
		logger: log.WithFields(zap.String("component", "upstream")),
	}, nil
}

// SetHandler installs the inbound frame handler. Must be called before Run.
func (c *Client) SetHandler(h Handler) {
	c.handler = h
}

// OnRegistered installs the registration callback. Must be called before
// Run.
func (c *Client) OnRegistered(fn func(protocol.RegisteredPayload)) {
	c.onRegistered = fn
}

// Send queues a frame for the tunnel. It never blocks; frames sent while
// disconnected or while the queue is full are dropped with an error, and
// clients recover through replay.
func (c *Client) Send(msg *protocol.Message) error {
	c.mu.Lock()
	send := c.send
	c.mu.Unlock()

	if send == nil {
		return fmt.Errorf("tunnel disconnected")
	}
	select {
	case send <- msg:
		return nil
	default:
		return fmt.Errorf("upstream queue full")
	}
}

// Run connects and reconnects until the context is cancelled. The backoff
// doubles from 1s to 30s and resets after each successful registration.
func (c *Client) Run(ctx context.Context) error {
	delay := reconnectInitial
	for {
		err := c.runOnce(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err == nil {
			// A session that registered successfully resets the backoff.
			delay = reconnectInitial
			continue
		}

		c.logger.Warn("tunnel connection failed",
			zap.Error(err),
			zap.Duration("retry_in", delay))
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
		delay *= 2
		if delay > reconnectMax {
			delay = reconnectMax
		}
	}
}

// runOnce dials, registers, and serves one connection until it dies. A nil
// return means registration succeeded and the link later dropped; an error
// means the attempt failed before registration.
func (c *Client) runOnce(ctx context.Context) error {
	wsURL, err := workstationEndpoint(c.cfg.TunnelURL)
	if err != nil {
		return err
	}

	dialer := websocket.Dialer{HandshakeTimeout: dialTimeout}
	conn, _, err := dialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		return fmt.Errorf("dial %s: %w", wsURL, err)
	}
	defer conn.Close()

	registered, err := c.register(conn)
	if err != nil {
		return err
	}

	if err := c.state.Save(persistedState{TunnelID: registered.TunnelID}); err != nil {
		c.logger.Warn("failed to persist tunnel identity", zap.Error(err))
	}
	c.logger.Info("registered with tunnel",
		zap.String("tunnel_id", registered.TunnelID),
		zap.Bool("restored", registered.Restored))
	if c.onRegistered != nil {
		c.onRegistered(registered)
	}

	send := make(chan *protocol.Message, c.cfg.SendQueueSize)
	c.mu.Lock()
	c.conn = conn
	c.send = send
	c.lastPong = time.Now()
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		c.conn = nil
		c.send = nil
		c.mu.Unlock()
	}()

	connCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go c.writePump(connCtx, conn, send)
	go c.pingLoop(connCtx, conn)

	return c.readLoop(conn)
}

func (c *Client) register(conn *websocket.Conn) (protocol.RegisteredPayload, error) {
	var registered protocol.RegisteredPayload

	req, err := protocol.NewMessage(protocol.TypeWorkstationRegister, protocol.RegisterPayload{
		APIKey:           c.cfg.TunnelAPIKey,
		Name:             c.cfg.Name,
		AuthKey:          c.cfg.AuthKey,
		PreviousTunnelID: c.state.Load().TunnelID,
		ProtocolVersion:  protocol.Version,
	})
	if err != nil {
		return registered, err
	}
	req.ID = "register"

	data, err := req.Encode()
	if err != nil {
		return registered, err
	}
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return registered, err
	}

	_ = conn.SetReadDeadline(time.Now().Add(registerTimeout))
	_, reply, err := conn.ReadMessage()
	if err != nil {
		return registered, err
	}
	msg, err := protocol.Decode(reply)
	if err != nil {
		return registered, err
	}

	switch msg.Type {
	case protocol.TypeWorkstationRegistered:
		if err := msg.ParsePayload(&registered); err != nil {
			return registered, err
		}
		return registered, nil
	case protocol.TypeError:
		var e protocol.ErrorPayload
		_ = msg.ParsePayload(&e)
		return registered, fmt.Errorf("registration rejected: %s: %s", e.Code, e.Message)
	default:
		return registered, fmt.Errorf("unexpected registration reply %q", msg.Type)
	}
}

func (c *Client) readLoop(conn *websocket.Conn) error {
	for {
		_ = conn.SetReadDeadline(time.Now().Add(staleAfter + pingInterval))
		_, data, err := conn.ReadMessage()
		if err != nil {
			// The link registered fine; report a clean drop so the
			// backoff resets.
			c.logger.Info("tunnel link dropped", zap.Error(err))
			return nil
		}

		msg, err := protocol.Decode(data)
		if err != nil {
			c.logger.Warn("malformed frame from tunnel", zap.Error(err))
			continue
		}
		if msg.Type == protocol.TypePong {
			c.mu.Lock()
			c.lastPong = time.Now()
			c.mu.Unlock()
			continue
		}
		if c.handler != nil {
			c.handler(msg)
		}
	}
}

func (c *Client) writePump(ctx context.Context, conn *websocket.Conn, send <-chan *protocol.Message) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-send:
			data, err := msg.Encode()
			if err != nil {
				c.logger.Error("failed to encode outbound frame", zap.Error(err))
				continue
			}
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
				conn.Close()
				return
			}
		}
	}
}

// pingLoop sends the transport heartbeat and closes the connection when no
// pong arrives within the stale window.
func (c *Client) pingLoop(ctx context.Context, conn *websocket.Conn) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.mu.Lock()
			stale := time.Since(c.lastPong) > staleAfter
			c.mu.Unlock()
			if stale {
				c.logger.Warn("tunnel link stale, forcing reconnect")
				conn.Close()
				return
			}

			ping, err := protocol.NewMessage(protocol.TypePing, protocol.PingPayload{
				Timestamp: time.Now().UnixMilli(),
			})
			if err != nil {
				continue
			}
			if err := c.Send(ping); err != nil {
				return
			}
		}
	}
}

// workstationEndpoint turns the configured tunnel URL into the workstation
// WebSocket endpoint.
func workstationEndpoint(tunnelURL string) (string, error) {
	u, err := url.Parse(tunnelURL)
	if err != nil {
		return "", fmt.Errorf("invalid tunnel url: %w", err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		return "", fmt.Errorf("unsupported tunnel url scheme %q", u.Scheme)
	}
	u.Path = strings.TrimSuffix(u.Path, "/") + "/ws/workstation"
	return u.String(), nil
}
