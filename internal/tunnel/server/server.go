// Package server hosts the tunnel's HTTP surface: the WebSocket endpoints
// for workstations and clients, the health probe, and the long-poll watch
// API.
package server

import (
	"context"
	"crypto/subtle"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/tiflis/tiflis/internal/common/config"
	"github.com/tiflis/tiflis/internal/common/logger"
	"github.com/tiflis/tiflis/internal/common/tracing"
	"github.com/tiflis/tiflis/internal/tunnel/forwarder"
	"github.com/tiflis/tiflis/internal/tunnel/longpoll"
	"github.com/tiflis/tiflis/internal/tunnel/registry"
	"github.com/tiflis/tiflis/pkg/protocol"
)

const handshakeTimeout = 10 * time.Second

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	// The tunnel fronts native apps and watches, not browsers; origin
	// checks stay with the workstation's auth layer.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Server is the tunnel runtime.
type Server struct {
	cfg       config.TunnelConfig
	registry  *registry.Registry
	forwarder *forwarder.Forwarder
	watch     *longpoll.Adapter
	http      *http.Server
	logger    *logger.Logger
}

// New wires the tunnel server from its components.
func New(cfg config.TunnelConfig, reg *registry.Registry, fwd *forwarder.Forwarder, watch *longpoll.Adapter, log *logger.Logger) *Server {
	s := &Server{
		cfg:       cfg,
		registry:  reg,
		forwarder: fwd,
		watch:     watch,
		logger:    log.WithFields(zap.String("component", "tunnel_server")),
	}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())

	router.GET("/health", s.handleHealth)
	router.GET("/ws/workstation", s.handleWorkstation)
	router.GET("/ws/client", s.handleClient)

	watchGroup := router.Group("/api/v1/watch")
	watch.RegisterRoutes(watchGroup)

	s.http = &http.Server{
		Addr:    fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler: router,
	}
	return s
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.http.Handler
}

// Run serves until the context is cancelled.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("tunnel listening", zap.String("addr", s.http.Addr))
		if err := s.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.http.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":       "ok",
		"workstations": s.registry.LiveCount(),
	})
}

// handleWorkstation accepts a workstation socket. The first frame must be
// workstation.register; everything after is fanned out to clients.
func (s *Server) handleWorkstation(c *gin.Context) {
	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		return
	}
	link := newConn(ws, s.cfg.SendQueueSize, s.logger)
	go link.writePump()

	msg, err := link.readFrame(handshakeTimeout)
	if err != nil || msg.Type != protocol.TypeWorkstationRegister {
		link.Close(protocol.ErrRegistrationFailed)
		return
	}

	var reg protocol.RegisterPayload
	if err := msg.ParsePayload(&reg); err != nil {
		link.Close(protocol.ErrInvalidPayload)
		return
	}
	if subtle.ConstantTimeCompare([]byte(reg.APIKey), []byte(s.cfg.RegistrationAPIKey)) != 1 {
		_ = link.Send(protocol.NewError(msg.ID, protocol.ErrInvalidAPIKey, "registration key rejected"))
		link.Close("")
		return
	}

	_, span := tracing.Tracer("tunnel").Start(c.Request.Context(), "workstation.register")
	result, err := s.registry.Register(reg.PreviousTunnelID, reg.Name)
	span.End()
	if err != nil {
		_ = link.Send(protocol.NewError(msg.ID, protocol.ErrRegistrationFailed, err.Error()))
		link.Close("")
		return
	}

	registered, err := protocol.NewMessage(protocol.TypeWorkstationRegistered, protocol.RegisteredPayload{
		TunnelID:  result.TunnelID,
		PublicURL: s.publicURL(),
		Restored:  result.Restored,
	})
	if err == nil {
		registered.ID = msg.ID
		_ = link.Send(registered)
	}

	s.forwarder.BindWorkstation(result.TunnelID, reg.Name, link)
	s.logger.Info("workstation registered",
		zap.String("tunnel_id", result.TunnelID),
		zap.Bool("restored", result.Restored))

	link.readLoop(func(msg *protocol.Message) bool {
		if msg.Type == protocol.TypePing {
			var ping protocol.PingPayload
			_ = msg.ParsePayload(&ping)
			pong, err := protocol.NewMessage(protocol.TypePong, protocol.PongPayload{Timestamp: ping.Timestamp})
			if err == nil {
				_ = link.Send(pong)
			}
			return true
		}
		s.forwarder.FromWorkstation(result.TunnelID, msg)
		return true
	})

	s.forwarder.UnbindWorkstation(result.TunnelID, link)
	s.registry.Release(result.TunnelID)
	link.Close("")
}

// handleClient accepts a client socket. The first frame must be connect;
// everything after is shaped by a token bucket and forwarded upstream.
func (s *Server) handleClient(c *gin.Context) {
	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		return
	}
	link := newConn(ws, s.cfg.SendQueueSize, s.logger)
	go link.writePump()

	msg, err := link.readFrame(handshakeTimeout)
	if err != nil || msg.Type != protocol.TypeConnect {
		link.Close(protocol.ErrInvalidPayload)
		return
	}

	var connect protocol.ConnectPayload
	if err := msg.ParsePayload(&connect); err != nil || connect.TunnelID == "" || connect.DeviceID == "" {
		link.Close(protocol.ErrInvalidPayload)
		return
	}
	if !s.registry.Exists(connect.TunnelID) {
		_ = link.Send(protocol.NewError(msg.ID, protocol.ErrTunnelNotFound, "unknown tunnel id"))
		link.Close("")
		return
	}

	connected, err := protocol.NewMessage(protocol.TypeConnected, protocol.ConnectedPayload{
		TunnelID:          connect.TunnelID,
		WorkstationOnline: s.forwarder.WorkstationOnline(connect.TunnelID),
	})
	if err == nil {
		connected.ID = msg.ID
		_ = link.Send(connected)
	}

	s.forwarder.BindClient(connect.TunnelID, connect.DeviceID, link)
	s.logger.Debug("client connected",
		zap.String("tunnel_id", connect.TunnelID),
		zap.String("device_id", connect.DeviceID))

	limiter := rate.NewLimiter(rate.Limit(s.cfg.RateLimit), s.cfg.RateBurst)

	link.readLoop(func(msg *protocol.Message) bool {
		if !limiter.Allow() {
			s.logger.Warn("client rate limit exceeded",
				zap.String("device_id", connect.DeviceID))
			link.Close(protocol.ErrBackpressureExceeded)
			return false
		}
		if msg.Type == protocol.TypePing {
			var ping protocol.PingPayload
			_ = msg.ParsePayload(&ping)
			pong, err := protocol.NewMessage(protocol.TypePong, protocol.PongPayload{Timestamp: ping.Timestamp})
			if err == nil {
				_ = link.Send(pong)
			}
			return true
		}
		if err := s.forwarder.FromClient(connect.TunnelID, connect.DeviceID, msg); err != nil {
			_ = link.Send(protocol.NewError(msg.ID, err.Error(), "workstation unreachable"))
		}
		return true
	})

	s.forwarder.UnbindClient(connect.TunnelID, connect.DeviceID, link)
	link.Close("")
}

func (s *Server) publicURL() string {
	if s.cfg.PublicURL != "" {
		return s.cfg.PublicURL
	}
	return fmt.Sprintf("ws://%s:%d/ws/client", s.cfg.Host, s.cfg.Port)
}
