// Package longpoll lets devices that cannot hold a persistent socket (watch
// apps, constrained clients) participate in the relay over plain HTTP. Each
// device gets a virtual client bound into the forwarder exactly like a
// WebSocket client; outbound frames accumulate in a sequence-numbered ring
// that the device drains with GET /messages.
package longpoll

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/tiflis/tiflis/internal/common/logger"
	"github.com/tiflis/tiflis/internal/tunnel/forwarder"
	"github.com/tiflis/tiflis/internal/tunnel/registry"
	"github.com/tiflis/tiflis/pkg/protocol"
)

const gcInterval = time.Minute

// Adapter owns the virtual clients and their HTTP surface.
type Adapter struct {
	forwarder  *forwarder.Forwarder
	registry   *registry.Registry
	queueSize  int
	idleExpiry time.Duration
	logger     *logger.Logger

	mu      sync.Mutex
	devices map[string]*virtualClient
}

// New creates the watch adapter.
func New(fwd *forwarder.Forwarder, reg *registry.Registry, queueSize int, idleExpiry time.Duration, log *logger.Logger) *Adapter {
	return &Adapter{
		forwarder:  fwd,
		registry:   reg,
		queueSize:  queueSize,
		idleExpiry: idleExpiry,
		logger:     log.WithFields(zap.String("component", "longpoll")),
		devices:    make(map[string]*virtualClient),
	}
}

// RegisterRoutes mounts the five watch endpoints on a router group.
func (a *Adapter) RegisterRoutes(rg *gin.RouterGroup) {
	rg.POST("/connect", a.handleConnect)
	rg.POST("/command", a.handleCommand)
	rg.GET("/messages", a.handleMessages)
	rg.GET("/state", a.handleState)
	rg.POST("/disconnect", a.handleDisconnect)
}

// Run garbage-collects idle virtual clients until the context is cancelled.
func (a *Adapter) Run(ctx context.Context) {
	ticker := time.NewTicker(gcInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			a.expireIdle()
		}
	}
}

type connectRequest struct {
	TunnelID string `json:"tunnel_id"`
	AuthKey  string `json:"auth_key"`
	DeviceID string `json:"device_id"`
}

func (a *Adapter) handleConnect(c *gin.Context) {
	var req connectRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.TunnelID == "" || req.DeviceID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": protocol.ErrInvalidPayload})
		return
	}
	if !a.registry.Exists(req.TunnelID) {
		c.JSON(http.StatusNotFound, gin.H{"error": protocol.ErrTunnelNotFound})
		return
	}

	vc := newVirtualClient(req.DeviceID, req.TunnelID, a.queueSize)

	a.mu.Lock()
	if old, ok := a.devices[req.DeviceID]; ok {
		a.forwarder.UnbindClient(old.tunnelID, req.DeviceID, old)
	}
	a.devices[req.DeviceID] = vc
	a.mu.Unlock()

	a.forwarder.BindClient(req.TunnelID, req.DeviceID, vc)

	// The workstation authenticates the device itself; forward the auth so
	// the device's subscription state is restored upstream.
	auth, err := protocol.NewMessage(protocol.TypeAuth, protocol.AuthPayload{
		AuthKey:  req.AuthKey,
		DeviceID: req.DeviceID,
	})
	if err == nil {
		if err := a.forwarder.FromClient(req.TunnelID, req.DeviceID, auth); err != nil {
			a.logger.Debug("auth forward deferred, workstation offline",
				zap.String("device_id", req.DeviceID))
		}
	}

	a.logger.Info("watch client connected",
		zap.String("tunnel_id", req.TunnelID),
		zap.String("device_id", req.DeviceID))

	c.JSON(http.StatusOK, gin.H{
		"status":             "connected",
		"tunnel_id":          req.TunnelID,
		"workstation_online": a.forwarder.WorkstationOnline(req.TunnelID),
	})
}

type commandRequest struct {
	DeviceID string          `json:"device_id"`
	Message  json.RawMessage `json:"message"`
}

func (a *Adapter) handleCommand(c *gin.Context) {
	var req commandRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.DeviceID == "" || len(req.Message) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": protocol.ErrInvalidPayload})
		return
	}

	vc := a.lookup(req.DeviceID)
	if vc == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": protocol.ErrTunnelNotFound})
		return
	}
	vc.touch()

	msg, err := protocol.Decode(req.Message)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": protocol.ErrInvalidPayload})
		return
	}
	if err := a.forwarder.FromClient(vc.tunnelID, req.DeviceID, msg); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": protocol.ErrWorkstationOffline})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "sent"})
}

func (a *Adapter) handleMessages(c *gin.Context) {
	deviceID := c.Query("device_id")
	vc := a.lookup(deviceID)
	if vc == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": protocol.ErrTunnelNotFound})
		return
	}
	vc.touch()

	since, _ := strconv.ParseInt(c.DefaultQuery("since", "0"), 10, 64)
	if ackStr := c.Query("ack"); ackStr != "" {
		if ack, err := strconv.ParseInt(ackStr, 10, 64); err == nil {
			vc.acknowledge(ack)
		}
	}

	records, current := vc.after(since)
	c.JSON(http.StatusOK, gin.H{
		"messages":         records,
		"current_sequence": current,
	})
}

func (a *Adapter) handleState(c *gin.Context) {
	deviceID := c.Query("device_id")
	vc := a.lookup(deviceID)
	if vc == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": protocol.ErrTunnelNotFound})
		return
	}
	vc.touch()

	queued, current := vc.stats()
	c.JSON(http.StatusOK, gin.H{
		"device_id":          deviceID,
		"connected":          true,
		"workstation_online": a.forwarder.WorkstationOnline(vc.tunnelID),
		"queue_length":       queued,
		"current_sequence":   current,
	})
}

type disconnectRequest struct {
	DeviceID string `json:"device_id"`
}

func (a *Adapter) handleDisconnect(c *gin.Context) {
	var req disconnectRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.DeviceID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": protocol.ErrInvalidPayload})
		return
	}
	a.remove(req.DeviceID)
	c.JSON(http.StatusOK, gin.H{"status": "disconnected"})
}

func (a *Adapter) lookup(deviceID string) *virtualClient {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.devices[deviceID]
}

func (a *Adapter) remove(deviceID string) {
	a.mu.Lock()
	vc, ok := a.devices[deviceID]
	if ok {
		delete(a.devices, deviceID)
	}
	a.mu.Unlock()
	if ok {
		a.forwarder.UnbindClient(vc.tunnelID, deviceID, vc)
		a.logger.Info("watch client disconnected", zap.String("device_id", deviceID))
	}
}

func (a *Adapter) expireIdle() {
	cutoff := time.Now().Add(-a.idleExpiry)

	a.mu.Lock()
	var expired []*virtualClient
	for deviceID, vc := range a.devices {
		if vc.idleSince().Before(cutoff) {
			delete(a.devices, deviceID)
			expired = append(expired, vc)
		}
	}
	a.mu.Unlock()

	for _, vc := range expired {
		a.forwarder.UnbindClient(vc.tunnelID, vc.deviceID, vc)
		a.logger.Info("watch client expired",
			zap.String("device_id", vc.deviceID))
	}
}

// DeviceCount returns the number of live virtual clients.
func (a *Adapter) DeviceCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.devices)
}
