package protocol

// PingPayload and PongPayload carry the transport heartbeat timestamp in
// milliseconds. A pong echoes the ping timestamp it answers.
type PingPayload struct {
	Timestamp int64 `json:"timestamp"`
}

// PongPayload echoes the timestamp of the ping it answers.
type PongPayload struct {
	Timestamp int64 `json:"timestamp"`
}

// HeartbeatPayload is the application-level end-to-end heartbeat.
type HeartbeatPayload struct {
	Timestamp int64 `json:"timestamp"`
}

// HeartbeatAckPayload is the workstation's immediate heartbeat reply.
type HeartbeatAckPayload struct {
	Timestamp           int64 `json:"timestamp"`
	WorkstationUptimeMS int64 `json:"workstation_uptime_ms"`
}

// AuthPayload is the first message a device must send on a new connection.
type AuthPayload struct {
	AuthKey  string `json:"auth_key"`
	DeviceID string `json:"device_id"`
}

// AuthSuccessPayload acknowledges a successful device authentication.
type AuthSuccessPayload struct {
	DeviceID              string   `json:"device_id"`
	WorkstationName       string   `json:"workstation_name"`
	WorkstationVersion    string   `json:"workstation_version"`
	ProtocolVersion       string   `json:"protocol_version"`
	WorkspacesRoot        string   `json:"workspaces_root"`
	RestoredSubscriptions []string `json:"restored_subscriptions"`
}

// RegisterPayload is the workstation's registration request to the tunnel.
type RegisterPayload struct {
	APIKey           string `json:"api_key"`
	Name             string `json:"name"`
	AuthKey          string `json:"auth_key"`
	PreviousTunnelID string `json:"previous_tunnel_id,omitempty"`
	ProtocolVersion  string `json:"protocol_version,omitempty"`
}

// RegisteredPayload is the tunnel's registration reply. Restored is true
// when the workstation got its previous tunnel id back.
type RegisteredPayload struct {
	TunnelID  string `json:"tunnel_id"`
	PublicURL string `json:"public_url"`
	Restored  bool   `json:"restored"`
}

// ConnectPayload binds a client connection to a workstation's tunnel id.
type ConnectPayload struct {
	TunnelID string `json:"tunnel_id"`
	DeviceID string `json:"device_id"`
}

// ConnectedPayload acknowledges a client binding.
type ConnectedPayload struct {
	TunnelID          string `json:"tunnel_id"`
	WorkstationOnline bool   `json:"workstation_online"`
}

// PresencePayload announces workstation online/offline transitions.
type PresencePayload struct {
	TunnelID string `json:"tunnel_id"`
	Name     string `json:"name,omitempty"`
}

// CreateSessionPayload creates a terminal or agent session.
type CreateSessionPayload struct {
	SessionType string `json:"session_type"`
	Agent       string `json:"agent,omitempty"`
	Workspace   string `json:"workspace,omitempty"`
	Project     string `json:"project,omitempty"`
	Worktree    string `json:"worktree,omitempty"`
}

// TerminateSessionPayload terminates a session by id.
type TerminateSessionPayload struct {
	SessionID string `json:"session_id"`
}

// SessionInfo is the shared session descriptor returned by list/sync and
// carried by session.created.
type SessionInfo struct {
	SessionID   string `json:"session_id"`
	SessionType string `json:"session_type"`
	Status      string `json:"status"`
	Agent       string `json:"agent,omitempty"`
	Workspace   string `json:"workspace,omitempty"`
	Project     string `json:"project,omitempty"`
	Worktree    string `json:"worktree,omitempty"`
	WorkingDir  string `json:"working_dir"`
	CreatedAt   int64  `json:"created_at"`
}

// SessionCreatedPayload announces a new session to all devices.
type SessionCreatedPayload struct {
	Session        SessionInfo     `json:"session"`
	TerminalConfig *TerminalConfig `json:"terminal_config,omitempty"`
}

// TerminalConfig carries server-side terminal parameters.
type TerminalConfig struct {
	BufferSize int `json:"buffer_size"`
	Cols       int `json:"cols"`
	Rows       int `json:"rows"`
}

// SessionTerminatedPayload is the last event a session emits.
type SessionTerminatedPayload struct {
	SessionID string `json:"session_id"`
}

// ListSessionsPayload is the reply to supervisor.list_sessions.
type ListSessionsPayload struct {
	Sessions []SessionInfo `json:"sessions"`
}

// SubscribePayload attaches a device to a session's subscriber set.
type SubscribePayload struct {
	SessionID string `json:"session_id"`
}

// SubscribedPayload is the type-aware subscription snapshot.
type SubscribedPayload struct {
	SessionID string `json:"session_id"`

	// Terminal sessions
	IsMaster *bool `json:"is_master,omitempty"`
	Cols     int   `json:"cols,omitempty"`
	Rows     int   `json:"rows,omitempty"`

	// Agent sessions
	History                []HistoryRecord `json:"history,omitempty"`
	IsExecuting            *bool           `json:"is_executing,omitempty"`
	CurrentStreamingBlocks []ContentBlock  `json:"current_streaming_blocks,omitempty"`
}

// UnsubscribedPayload acknowledges an unsubscribe.
type UnsubscribedPayload struct {
	SessionID string `json:"session_id"`
}

// InputPayload writes raw bytes to a terminal session's PTY.
type InputPayload struct {
	Data string `json:"data"`
}

// ResizePayload requests a terminal resize. Only the master device's
// request is honored.
type ResizePayload struct {
	Cols int `json:"cols"`
	Rows int `json:"rows"`
}

// ResizedPayload reports the outcome of a resize and the actual PTY size.
type ResizedPayload struct {
	Success bool   `json:"success"`
	Cols    int    `json:"cols"`
	Rows    int    `json:"rows"`
	Reason  string `json:"reason,omitempty"`
}

// ReplayPayload requests terminal output records after a cursor.
type ReplayPayload struct {
	SinceSequence  *int64 `json:"since_sequence,omitempty"`
	SinceTimestamp *int64 `json:"since_timestamp,omitempty"`
	Limit          int    `json:"limit,omitempty"`
}

// OutputRecord is one buffered chunk of terminal output.
type OutputRecord struct {
	Sequence  int64  `json:"sequence"`
	Timestamp int64  `json:"timestamp"`
	Content   string `json:"content"`
}

// ReplayDataPayload is the replay reply: the records strictly after the
// cursor plus ring boundary information.
type ReplayDataPayload struct {
	SessionID       string         `json:"session_id"`
	Records         []OutputRecord `json:"records"`
	FirstSequence   int64          `json:"first_sequence"`
	LastSequence    int64          `json:"last_sequence"`
	CurrentSequence int64          `json:"current_sequence"`
	HasMore         bool           `json:"has_more"`
}

// ExecutePayload starts an agent turn. Either Text or Audio must be set;
// Audio is base64 and is transcribed before execution.
type ExecutePayload struct {
	Text        string `json:"text,omitempty"`
	Audio       string `json:"audio,omitempty"`
	AudioFormat string `json:"audio_format,omitempty"`
	MessageID   string `json:"message_id,omitempty"`
	Language    string `json:"language,omitempty"`
	TTSEnabled  bool   `json:"tts_enabled,omitempty"`
}

// CancelResultPayload reports whether a cancel interrupted anything.
type CancelResultPayload struct {
	Cancelled bool `json:"cancelled"`
}

// OutputPayload streams session output to subscribers. Agent sessions fill
// ContentBlocks; terminal sessions fill Content with a raw chunk.
type OutputPayload struct {
	ContentType   string         `json:"content_type"`
	Content       string         `json:"content,omitempty"`
	ContentBlocks []ContentBlock `json:"content_blocks,omitempty"`
	IsComplete    bool           `json:"is_complete,omitempty"`
}

// TranscriptionPayload reports the STT result for a voice command.
type TranscriptionPayload struct {
	Text      string `json:"text"`
	MessageID string `json:"message_id,omitempty"`
}

// VoiceOutputPayload carries synthesized speech for an assistant turn.
type VoiceOutputPayload struct {
	Audio     string  `json:"audio"`
	MessageID string  `json:"message_id"`
	Duration  float64 `json:"duration,omitempty"`
}

// UserMessagePayload broadcasts a supervisor user turn to every device so
// peers can reconcile their optimistic local echo.
type UserMessagePayload struct {
	Content      string `json:"content"`
	FromDeviceID string `json:"from_device_id"`
}

// HistoryRecord is one turn of agent or supervisor history.
type HistoryRecord struct {
	Role          string         `json:"role"`
	Content       string         `json:"content"`
	ContentBlocks []ContentBlock `json:"content_blocks,omitempty"`
	Sequence      int64          `json:"sequence"`
	CreatedAt     int64          `json:"created_at"`
}

// SyncStatePayload is the authoritative snapshot returned by sync.
type SyncStatePayload struct {
	Sessions               []SessionInfo             `json:"sessions"`
	Subscriptions          []string                  `json:"subscriptions"`
	SupervisorHistory      []HistoryRecord           `json:"supervisor_history"`
	SupervisorIsExecuting  bool                      `json:"supervisor_is_executing"`
	ExecutingStates        map[string]bool           `json:"executing_states"`
	CurrentStreamingBlocks map[string][]ContentBlock `json:"current_streaming_blocks,omitempty"`
}

// AudioRequestPayload fetches audio bytes for a voice block on demand.
type AudioRequestPayload struct {
	MessageID string `json:"message_id"`
	AudioType string `json:"audio_type,omitempty"`
}

// AudioResponsePayload returns the requested audio or an error code.
type AudioResponsePayload struct {
	MessageID string `json:"message_id"`
	Audio     string `json:"audio,omitempty"`
	Error     string `json:"error,omitempty"`
}
