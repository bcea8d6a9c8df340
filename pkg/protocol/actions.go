package protocol

// Message type constants. The namespace prefix groups related messages;
// direction is client-to-server unless noted.
const (
	// Control
	TypePing         = "ping"
	TypePong         = "pong"
	TypeHeartbeat    = "heartbeat"
	TypeHeartbeatAck = "heartbeat.ack" // server -> client
	TypeAuth         = "auth"
	TypeAuthSuccess  = "auth.success" // server -> client
	TypeAuthError    = "auth.error"   // server -> client
	TypeSync         = "sync"
	TypeSyncState    = "sync.state" // server -> client
	TypeError        = "error"
	TypeResponse     = "response"

	// Tunnel-only
	TypeWorkstationRegister   = "workstation.register"
	TypeWorkstationRegistered = "workstation.registered"
	TypeConnect               = "connect"
	TypeConnected             = "connected"
	TypeWorkstationOnline     = "connection.workstation_online"  // server -> client
	TypeWorkstationOffline    = "connection.workstation_offline" // server -> client

	// Session management
	TypeSupervisorListSessions     = "supervisor.list_sessions"
	TypeSupervisorCreateSession    = "supervisor.create_session"
	TypeSupervisorTerminateSession = "supervisor.terminate_session"
	TypeSessionCreated             = "session.created"    // server -> client
	TypeSessionTerminated          = "session.terminated" // server -> client

	// Supervisor chat
	TypeSupervisorCommand        = "supervisor.command"
	TypeSupervisorClearContext   = "supervisor.clear_context"
	TypeSupervisorCancel         = "supervisor.cancel"
	TypeSupervisorOutput         = "supervisor.output"          // server -> client
	TypeSupervisorUserMessage    = "supervisor.user_message"    // server -> client
	TypeSupervisorContextCleared = "supervisor.context_cleared" // server -> client
	TypeSupervisorTranscription  = "supervisor.transcription"   // server -> client
	TypeSupervisorVoiceOutput    = "supervisor.voice_output"    // server -> client

	// Agent sessions
	TypeSessionExecute       = "session.execute"
	TypeSessionCancel        = "session.cancel"
	TypeSessionOutput        = "session.output"        // server -> client
	TypeSessionTranscription = "session.transcription" // server -> client
	TypeSessionVoiceOutput   = "session.voice_output"  // server -> client

	// Terminal sessions
	TypeSessionInput        = "session.input"
	TypeSessionResize       = "session.resize"
	TypeSessionResized      = "session.resized" // server -> client
	TypeSessionSubscribe    = "session.subscribe"
	TypeSessionSubscribed   = "session.subscribed" // server -> client
	TypeSessionUnsubscribe  = "session.unsubscribe"
	TypeSessionUnsubscribed = "session.unsubscribed" // server -> client
	TypeSessionReplay       = "session.replay"
	TypeSessionReplayData   = "session.replay.data" // server -> client

	// Audio
	TypeAudioRequest  = "audio.request"
	TypeAudioResponse = "audio.response" // server -> client
)

// Error codes.
const (
	ErrInvalidAPIKey        = "INVALID_API_KEY"
	ErrRegistrationFailed   = "REGISTRATION_FAILED"
	ErrWorkstationOffline   = "WORKSTATION_OFFLINE"
	ErrTunnelNotFound       = "TUNNEL_NOT_FOUND"
	ErrInvalidAuthKey       = "INVALID_AUTH_KEY"
	ErrSessionNotFound      = "SESSION_NOT_FOUND"
	ErrSessionBusy          = "SESSION_BUSY"
	ErrInvalidPayload       = "INVALID_PAYLOAD"
	ErrInternal             = "INTERNAL_ERROR"
	ErrQueueOverflow        = "QUEUE_OVERFLOW"
	ErrBackpressureExceeded = "BACKPRESSURE_EXCEEDED"
)
