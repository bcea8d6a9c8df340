package server

import (
	"context"

	"github.com/tiflis/tiflis/internal/workstation/audio"
	"github.com/tiflis/tiflis/internal/workstation/session"
	"github.com/tiflis/tiflis/pkg/protocol"
)

func (s *Server) handleListSessions(ctx context.Context, msg *protocol.Message) (*protocol.Message, error) {
	sessions := s.manager.List()
	if sessions == nil {
		sessions = []protocol.SessionInfo{}
	}
	return protocol.NewResponse(msg.ID, protocol.ListSessionsPayload{Sessions: sessions})
}

func (s *Server) handleCreateSession(ctx context.Context, msg *protocol.Message) (*protocol.Message, error) {
	var req protocol.CreateSessionPayload
	if err := msg.ParsePayload(&req); err != nil {
		return protocol.NewError(msg.ID, protocol.ErrInvalidPayload, "malformed create payload"), nil
	}

	sess, err := s.manager.Create(req)
	if err != nil {
		return protocol.NewError(msg.ID, protocol.ErrInvalidPayload, err.Error()), nil
	}

	payload := protocol.SessionCreatedPayload{Session: sess.Info()}
	if term, ok := sess.(*session.Terminal); ok {
		conf := term.Config()
		payload.TerminalConfig = &conf
	}
	return protocol.NewResponse(msg.ID, payload)
}

func (s *Server) handleTerminateSession(ctx context.Context, msg *protocol.Message) (*protocol.Message, error) {
	var req protocol.TerminateSessionPayload
	if err := msg.ParsePayload(&req); err != nil || req.SessionID == "" {
		return protocol.NewError(msg.ID, protocol.ErrInvalidPayload, "malformed terminate payload"), nil
	}

	if err := s.manager.Terminate(req.SessionID); err != nil {
		return protocol.NewError(msg.ID, protocol.ErrSessionNotFound, req.SessionID), nil
	}
	return protocol.NewResponse(msg.ID, protocol.SessionTerminatedPayload{SessionID: req.SessionID})
}

func (s *Server) handleSubscribe(ctx context.Context, msg *protocol.Message) (*protocol.Message, error) {
	sessionID := s.sessionID(msg)
	sess, ok := s.manager.Get(sessionID)
	if !ok {
		return protocol.NewError(msg.ID, protocol.ErrSessionNotFound, sessionID), nil
	}

	snapshot := sess.Subscribe(msg.DeviceID)
	reply, err := protocol.NewSessionMessage(protocol.TypeSessionSubscribed, sessionID, snapshot)
	if err != nil {
		return nil, err
	}
	reply.ID = msg.ID
	return reply, nil
}

func (s *Server) handleUnsubscribe(ctx context.Context, msg *protocol.Message) (*protocol.Message, error) {
	sessionID := s.sessionID(msg)
	sess, ok := s.manager.Get(sessionID)
	if !ok {
		return protocol.NewError(msg.ID, protocol.ErrSessionNotFound, sessionID), nil
	}

	sess.Unsubscribe(msg.DeviceID)
	reply, err := protocol.NewSessionMessage(protocol.TypeSessionUnsubscribed, sessionID, protocol.UnsubscribedPayload{
		SessionID: sessionID,
	})
	if err != nil {
		return nil, err
	}
	reply.ID = msg.ID
	return reply, nil
}

func (s *Server) handleInput(ctx context.Context, msg *protocol.Message) (*protocol.Message, error) {
	term := s.manager.Terminal(s.sessionID(msg))
	if term == nil {
		return protocol.NewError(msg.ID, protocol.ErrSessionNotFound, s.sessionID(msg)), nil
	}

	var req protocol.InputPayload
	if err := msg.ParsePayload(&req); err != nil {
		return protocol.NewError(msg.ID, protocol.ErrInvalidPayload, "malformed input payload"), nil
	}
	if err := term.Input(req.Data); err != nil {
		return protocol.NewError(msg.ID, protocol.ErrInternal, err.Error()), nil
	}
	// Input is fire-and-forget unless the client asked for an ack.
	if msg.ID == "" {
		return nil, nil
	}
	return protocol.NewResponse(msg.ID, nil)
}

func (s *Server) handleResize(ctx context.Context, msg *protocol.Message) (*protocol.Message, error) {
	term := s.manager.Terminal(s.sessionID(msg))
	if term == nil {
		return protocol.NewError(msg.ID, protocol.ErrSessionNotFound, s.sessionID(msg)), nil
	}

	var req protocol.ResizePayload
	if err := msg.ParsePayload(&req); err != nil {
		return protocol.NewError(msg.ID, protocol.ErrInvalidPayload, "malformed resize payload"), nil
	}

	result := term.Resize(msg.DeviceID, req.Cols, req.Rows)
	reply, err := protocol.NewSessionMessage(protocol.TypeSessionResized, term.ID(), result)
	if err != nil {
		return nil, err
	}
	reply.ID = msg.ID
	return reply, nil
}

func (s *Server) handleReplay(ctx context.Context, msg *protocol.Message) (*protocol.Message, error) {
	term := s.manager.Terminal(s.sessionID(msg))
	if term == nil {
		return protocol.NewError(msg.ID, protocol.ErrSessionNotFound, s.sessionID(msg)), nil
	}

	var req protocol.ReplayPayload
	if err := msg.ParsePayload(&req); err != nil {
		return protocol.NewError(msg.ID, protocol.ErrInvalidPayload, "malformed replay payload"), nil
	}

	reply, err := protocol.NewSessionMessage(protocol.TypeSessionReplayData, term.ID(), term.Replay(req))
	if err != nil {
		return nil, err
	}
	reply.ID = msg.ID
	return reply, nil
}

func (s *Server) handleExecute(ctx context.Context, msg *protocol.Message) (*protocol.Message, error) {
	agent := s.manager.Agent(s.sessionID(msg))
	if agent == nil {
		return protocol.NewError(msg.ID, protocol.ErrSessionNotFound, s.sessionID(msg)), nil
	}

	var req protocol.ExecutePayload
	if err := msg.ParsePayload(&req); err != nil {
		return protocol.NewError(msg.ID, protocol.ErrInvalidPayload, "malformed execute payload"), nil
	}

	if err := agent.Execute(context.Background(), req); err != nil {
		if err == session.ErrBusy {
			return protocol.NewError(msg.ID, protocol.ErrSessionBusy, "a turn is already executing"), nil
		}
		return protocol.NewError(msg.ID, protocol.ErrInternal, err.Error()), nil
	}
	return protocol.NewResponse(msg.ID, nil)
}

func (s *Server) handleSessionCancel(ctx context.Context, msg *protocol.Message) (*protocol.Message, error) {
	agent := s.manager.Agent(s.sessionID(msg))
	if agent == nil {
		return protocol.NewError(msg.ID, protocol.ErrSessionNotFound, s.sessionID(msg)), nil
	}
	return protocol.NewResponse(msg.ID, protocol.CancelResultPayload{Cancelled: agent.Cancel()})
}

func (s *Server) handleSupervisorCommand(ctx context.Context, msg *protocol.Message) (*protocol.Message, error) {
	var req protocol.ExecutePayload
	if err := msg.ParsePayload(&req); err != nil {
		// supervisor.command uses {command} where session.execute uses
		// {text}; accept both.
		return protocol.NewError(msg.ID, protocol.ErrInvalidPayload, "malformed command payload"), nil
	}
	if req.Text == "" {
		var alt struct {
			Command string `json:"command"`
		}
		if err := msg.ParsePayload(&alt); err == nil {
			req.Text = alt.Command
		}
	}

	if err := s.supervisor.Command(context.Background(), msg.DeviceID, req); err != nil {
		if err == session.ErrBusy {
			return protocol.NewError(msg.ID, protocol.ErrSessionBusy, "supervisor is already executing"), nil
		}
		return protocol.NewError(msg.ID, protocol.ErrInternal, err.Error()), nil
	}
	return protocol.NewResponse(msg.ID, nil)
}

func (s *Server) handleSupervisorCancel(ctx context.Context, msg *protocol.Message) (*protocol.Message, error) {
	return protocol.NewResponse(msg.ID, protocol.CancelResultPayload{Cancelled: s.supervisor.Cancel()})
}

func (s *Server) handleSupervisorClearContext(ctx context.Context, msg *protocol.Message) (*protocol.Message, error) {
	s.supervisor.ClearContext()
	return protocol.NewResponse(msg.ID, nil)
}

func (s *Server) handleAudioRequest(ctx context.Context, msg *protocol.Message) (*protocol.Message, error) {
	var req protocol.AudioRequestPayload
	if err := msg.ParsePayload(&req); err != nil || req.MessageID == "" {
		return protocol.NewError(msg.ID, protocol.ErrInvalidPayload, "malformed audio request"), nil
	}

	audioType := req.AudioType
	if audioType == "" {
		audioType = audio.TypeOutput
	}

	payload := protocol.AudioResponsePayload{MessageID: req.MessageID}
	if data, ok := s.audio.Get(req.MessageID, audioType); ok {
		payload.Audio = data
	} else {
		payload.Error = "audio not found"
	}

	reply, err := protocol.NewMessage(protocol.TypeAudioResponse, payload)
	if err != nil {
		return nil, err
	}
	reply.ID = msg.ID
	return reply, nil
}

// sessionID reads the routing key, preferring the envelope over any payload
// session_id.
func (s *Server) sessionID(msg *protocol.Message) string {
	if msg.SessionID != "" {
		return msg.SessionID
	}
	var p struct {
		SessionID string `json:"session_id"`
	}
	_ = msg.ParsePayload(&p)
	return p.SessionID
}
