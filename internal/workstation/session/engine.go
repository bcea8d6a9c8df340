package session

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/tiflis/tiflis/internal/common/logger"
	"github.com/tiflis/tiflis/internal/common/tracing"
	"github.com/tiflis/tiflis/internal/workstation/audio"
	"github.com/tiflis/tiflis/internal/workstation/speech"
	"github.com/tiflis/tiflis/pkg/protocol"
)

// engineConfig parameterizes the chat engine for its two hosts: agent
// sessions broadcast to session subscribers with session.* types, the
// supervisor broadcasts to every device with supervisor.* types.
type engineConfig struct {
	SessionID         string
	Agent             string
	WorkDir           string
	OutputType        string
	TranscriptionType string
	VoiceType         string

	Runner      Runner
	Transcriber speech.Transcriber
	Synthesizer speech.Synthesizer
	AudioStore  *audio.Store
	History     *history

	// Emit broadcasts a frame to the host's audience.
	Emit func(msg *protocol.Message)
	// OnComplete runs after a turn finishes, cancels, or fails.
	OnComplete func()
}

// engine drives one chat-style session: transcribe, spawn, stream blocks,
// finish, synthesize. At most one turn runs at a time.
type engine struct {
	cfg    engineConfig
	logger *logger.Logger

	mu         sync.Mutex
	executing  bool
	turn       Turn
	cancelled  bool
	inProgress []protocol.ContentBlock
	seq        int64
}

func newEngine(cfg engineConfig, log *logger.Logger) *engine {
	return &engine{cfg: cfg, logger: log}
}

// Execute starts a turn. Returns ErrBusy while a previous turn runs. The
// user text (after transcription, when audio was sent) is reported through
// onUserText before any output streams.
func (e *engine) Execute(ctx context.Context, req protocol.ExecutePayload, onUserText func(text string)) error {
	e.mu.Lock()
	if e.executing {
		e.mu.Unlock()
		return ErrBusy
	}
	e.executing = true
	e.cancelled = false
	e.inProgress = nil
	e.mu.Unlock()

	go e.run(ctx, req, onUserText)
	return nil
}

func (e *engine) run(ctx context.Context, req protocol.ExecutePayload, onUserText func(text string)) {
	defer e.finish()

	ctx, span := tracing.Tracer("workstation.session").Start(ctx, "agent.turn")
	defer span.End()

	messageID := req.MessageID
	if messageID == "" {
		messageID = uuid.NewString()
	}

	text := req.Text
	if text == "" && req.Audio != "" {
		transcribed, err := e.transcribe(ctx, req, messageID)
		if err != nil {
			e.emitBlocks([]protocol.ContentBlock{
				protocol.ErrorBlock(uuid.NewString(), protocol.ErrInternal, err.Error()),
			}, true)
			return
		}
		text = transcribed
	}
	if text == "" {
		e.emitBlocks([]protocol.ContentBlock{
			protocol.ErrorBlock(uuid.NewString(), protocol.ErrInvalidPayload, "empty command"),
		}, true)
		return
	}

	if onUserText != nil {
		onUserText(text)
	}
	e.cfg.History.append(RoleUser, text, nil)

	turn, err := e.cfg.Runner.Start(ctx, e.cfg.Agent, e.cfg.WorkDir, text)
	if err != nil {
		e.logger.Error("agent spawn failed", zap.Error(err))
		block := protocol.ErrorBlock(uuid.NewString(), protocol.ErrInternal, err.Error())
		e.appendInProgress(block)
		e.emitBlocks([]protocol.ContentBlock{block}, true)
		return
	}

	e.mu.Lock()
	e.turn = turn
	cancelRequested := e.cancelled
	e.mu.Unlock()
	if cancelRequested {
		turn.Cancel()
	}

	for block := range turn.Blocks() {
		e.appendInProgress(block)
		e.emitBlocks([]protocol.ContentBlock{block}, false)
	}
	err = turn.Wait()

	e.mu.Lock()
	cancelled := e.cancelled
	blocks := append([]protocol.ContentBlock(nil), e.inProgress...)
	e.mu.Unlock()

	switch {
	case cancelled:
		block := protocol.CancelBlock(uuid.NewString())
		blocks = append(blocks, block)
		e.emitBlocks([]protocol.ContentBlock{block}, true)
	case err != nil:
		e.logger.Warn("agent exited with error", zap.Error(err))
		block := protocol.ErrorBlock(uuid.NewString(), protocol.ErrInternal, err.Error())
		blocks = append(blocks, block)
		e.emitBlocks([]protocol.ContentBlock{block}, true)
	default:
		e.emitBlocks(nil, true)
	}

	assistantText := blocksText(blocks)
	e.cfg.History.append(RoleAssistant, assistantText, blocks)

	if !cancelled && err == nil && req.TTSEnabled {
		e.speak(ctx, assistantText, messageID)
	}
}

func (e *engine) transcribe(ctx context.Context, req protocol.ExecutePayload, messageID string) (string, error) {
	if e.cfg.Transcriber == nil {
		return "", errSTTUnavailable
	}
	text, err := e.cfg.Transcriber.Transcribe(ctx, req.Audio, req.AudioFormat, req.Language)
	if err != nil {
		return "", err
	}
	if e.cfg.AudioStore != nil {
		e.cfg.AudioStore.Put(messageID, audio.TypeInput, req.Audio)
	}

	msg, merr := protocol.NewSessionMessage(e.cfg.TranscriptionType, e.cfg.SessionID, protocol.TranscriptionPayload{
		Text:      text,
		MessageID: messageID,
	})
	if merr == nil {
		e.cfg.Emit(msg)
	}
	return text, nil
}

func (e *engine) speak(ctx context.Context, text, messageID string) {
	if e.cfg.Synthesizer == nil || text == "" {
		return
	}
	summary := speech.Summarize(text, 3)
	audioB64, duration, err := e.cfg.Synthesizer.Synthesize(ctx, summary)
	if err != nil {
		e.logger.Warn("tts failed", zap.Error(err))
		return
	}
	if e.cfg.AudioStore != nil {
		e.cfg.AudioStore.Put(messageID, audio.TypeOutput, audioB64)
	}

	msg, merr := protocol.NewSessionMessage(e.cfg.VoiceType, e.cfg.SessionID, protocol.VoiceOutputPayload{
		Audio:     audioB64,
		MessageID: messageID,
		Duration:  duration,
	})
	if merr == nil {
		e.cfg.Emit(msg)
	}
}

// Cancel terminates the running turn. Returns false if nothing was
// executing. A cancel that lands before the subprocess spawns still takes
// effect as soon as it does.
func (e *engine) Cancel() bool {
	e.mu.Lock()
	if !e.executing {
		e.mu.Unlock()
		return false
	}
	e.cancelled = true
	turn := e.turn
	e.mu.Unlock()

	if turn != nil {
		turn.Cancel()
	}
	return true
}

// Snapshot returns the executing flag and a copy of the in-progress blocks
// so joiners can resume mid-generation.
func (e *engine) Snapshot() (bool, []protocol.ContentBlock) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.executing, append([]protocol.ContentBlock(nil), e.inProgress...)
}

func (e *engine) appendInProgress(block protocol.ContentBlock) {
	e.mu.Lock()
	e.inProgress = append(e.inProgress, block)
	e.mu.Unlock()
}

func (e *engine) emitBlocks(blocks []protocol.ContentBlock, complete bool) {
	msg, err := protocol.NewSessionMessage(e.cfg.OutputType, e.cfg.SessionID, protocol.OutputPayload{
		ContentType:   "agent",
		ContentBlocks: blocks,
		IsComplete:    complete,
	})
	if err != nil {
		return
	}
	// Output frames carry a per-session sequence so clients can dedup and
	// detect gaps, same as terminal chunks.
	e.mu.Lock()
	e.seq++
	msg.Sequence = e.seq
	e.mu.Unlock()
	e.cfg.Emit(msg)
}

func (e *engine) finish() {
	e.mu.Lock()
	e.executing = false
	e.turn = nil
	e.inProgress = nil
	e.mu.Unlock()

	if e.cfg.OnComplete != nil {
		e.cfg.OnComplete()
	}
}
