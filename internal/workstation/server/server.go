// Package server is the workstation's message-handling core: it
// authenticates devices, dispatches every inbound frame to its handler, and
// guarantees exactly one response or error per request id.
package server

import (
	"context"
	"crypto/subtle"
	"time"

	"go.uber.org/zap"

	"github.com/tiflis/tiflis/internal/common/config"
	"github.com/tiflis/tiflis/internal/common/logger"
	"github.com/tiflis/tiflis/internal/workstation/audio"
	"github.com/tiflis/tiflis/internal/workstation/hub"
	"github.com/tiflis/tiflis/internal/workstation/session"
	"github.com/tiflis/tiflis/pkg/protocol"
)

// Version is reported in auth.success.
const Version = "0.4.0"

// Server dispatches inbound frames to the workstation's components.
type Server struct {
	cfg        config.WorkstationConfig
	hub        *hub.Hub
	manager    *session.Manager
	supervisor *session.Supervisor
	audio      *audio.Store
	dispatcher *protocol.Dispatcher
	logger     *logger.Logger
	startedAt  time.Time
}

// New wires the dispatcher.
func New(cfg config.WorkstationConfig, h *hub.Hub, manager *session.Manager, supervisor *session.Supervisor, audioStore *audio.Store, log *logger.Logger) *Server {
	s := &Server{
		cfg:        cfg,
		hub:        h,
		manager:    manager,
		supervisor: supervisor,
		audio:      audioStore,
		dispatcher: protocol.NewDispatcher(),
		logger:     log.WithFields(zap.String("component", "workstation_server")),
		startedAt:  time.Now(),
	}

	d := s.dispatcher
	d.RegisterFunc(protocol.TypeAuth, s.handleAuth)
	d.RegisterFunc(protocol.TypeSync, s.handleSync)
	d.RegisterFunc(protocol.TypeHeartbeat, s.handleHeartbeat)

	d.RegisterFunc(protocol.TypeSupervisorListSessions, s.handleListSessions)
	d.RegisterFunc(protocol.TypeSupervisorCreateSession, s.handleCreateSession)
	d.RegisterFunc(protocol.TypeSupervisorTerminateSession, s.handleTerminateSession)

	d.RegisterFunc(protocol.TypeSupervisorCommand, s.handleSupervisorCommand)
	d.RegisterFunc(protocol.TypeSupervisorCancel, s.handleSupervisorCancel)
	d.RegisterFunc(protocol.TypeSupervisorClearContext, s.handleSupervisorClearContext)

	d.RegisterFunc(protocol.TypeSessionSubscribe, s.handleSubscribe)
	d.RegisterFunc(protocol.TypeSessionUnsubscribe, s.handleUnsubscribe)
	d.RegisterFunc(protocol.TypeSessionInput, s.handleInput)
	d.RegisterFunc(protocol.TypeSessionResize, s.handleResize)
	d.RegisterFunc(protocol.TypeSessionReplay, s.handleReplay)
	d.RegisterFunc(protocol.TypeSessionExecute, s.handleExecute)
	d.RegisterFunc(protocol.TypeSessionCancel, s.handleSessionCancel)

	d.RegisterFunc(protocol.TypeAudioRequest, s.handleAudioRequest)

	return s
}

// HandleFrame processes one frame forwarded from a client through the
// tunnel. Installed as the upstream handler.
func (s *Server) HandleFrame(msg *protocol.Message) {
	if msg.DeviceID == "" {
		s.logger.Warn("frame without device id dropped", zap.String("type", msg.Type))
		return
	}

	// Everything except auth requires an authenticated device.
	if msg.Type != protocol.TypeAuth && !s.hub.IsAuthenticated(msg.DeviceID) {
		s.reply(msg.DeviceID, protocol.NewError(msg.ID, protocol.ErrInvalidAuthKey, "authenticate first"))
		return
	}

	reply, err := s.dispatcher.Dispatch(context.Background(), msg)
	if err != nil {
		s.logger.Error("handler failed",
			zap.String("type", msg.Type),
			zap.Error(err))
		reply = protocol.NewError(msg.ID, protocol.ErrInternal, err.Error())
	}
	if reply != nil {
		s.reply(msg.DeviceID, reply)
	}
}

func (s *Server) reply(deviceID string, msg *protocol.Message) {
	if err := s.hub.SendTo(deviceID, msg); err != nil {
		s.logger.Debug("reply delivery failed",
			zap.String("device_id", deviceID),
			zap.Error(err))
	}
}

func (s *Server) handleAuth(ctx context.Context, msg *protocol.Message) (*protocol.Message, error) {
	var req protocol.AuthPayload
	if err := msg.ParsePayload(&req); err != nil {
		return protocol.NewError(msg.ID, protocol.ErrInvalidPayload, "malformed auth payload"), nil
	}

	if subtle.ConstantTimeCompare([]byte(req.AuthKey), []byte(s.cfg.AuthKey)) != 1 {
		s.logger.Warn("authentication rejected", zap.String("device_id", msg.DeviceID))
		errMsg := protocol.NewError(msg.ID, protocol.ErrInvalidAuthKey, "invalid auth key")
		errMsg.Type = protocol.TypeAuthError
		return errMsg, nil
	}

	restored := s.hub.Authenticate(msg.DeviceID)
	// Drop subscriptions to sessions that died while the device was away.
	valid := restored[:0]
	for _, sessionID := range restored {
		if _, ok := s.manager.Get(sessionID); ok {
			valid = append(valid, sessionID)
		} else {
			s.hub.Unsubscribe(sessionID, msg.DeviceID)
		}
	}

	success, err := protocol.NewMessage(protocol.TypeAuthSuccess, protocol.AuthSuccessPayload{
		DeviceID:              msg.DeviceID,
		WorkstationName:       s.cfg.Name,
		WorkstationVersion:    Version,
		ProtocolVersion:       protocol.Version,
		WorkspacesRoot:        s.cfg.WorkspacesRoot,
		RestoredSubscriptions: valid,
	})
	if err != nil {
		return nil, err
	}
	success.ID = msg.ID
	return success, nil
}

func (s *Server) handleSync(ctx context.Context, msg *protocol.Message) (*protocol.Message, error) {
	state := protocol.SyncStatePayload{
		Sessions:               s.manager.List(),
		Subscriptions:          s.hub.Subscriptions(msg.DeviceID),
		SupervisorHistory:      s.supervisor.History(),
		SupervisorIsExecuting:  s.supervisor.IsExecuting(),
		ExecutingStates:        s.manager.ExecutingStates(),
		CurrentStreamingBlocks: s.manager.StreamingBlocks(),
	}
	if state.Subscriptions == nil {
		state.Subscriptions = []string{}
	}
	if state.SupervisorHistory == nil {
		state.SupervisorHistory = []protocol.HistoryRecord{}
	}
	if blocks := s.supervisor.StreamingBlocks(); len(blocks) > 0 {
		if state.CurrentStreamingBlocks == nil {
			state.CurrentStreamingBlocks = make(map[string][]protocol.ContentBlock)
		}
		state.CurrentStreamingBlocks["supervisor"] = blocks
	}

	reply, err := protocol.NewMessage(protocol.TypeSyncState, state)
	if err != nil {
		return nil, err
	}
	reply.ID = msg.ID
	return reply, nil
}

func (s *Server) handleHeartbeat(ctx context.Context, msg *protocol.Message) (*protocol.Message, error) {
	reply, err := protocol.NewMessage(protocol.TypeHeartbeatAck, protocol.HeartbeatAckPayload{
		Timestamp:           time.Now().UnixMilli(),
		WorkstationUptimeMS: time.Since(s.startedAt).Milliseconds(),
	})
	if err != nil {
		return nil, err
	}
	reply.ID = msg.ID
	return reply, nil
}
