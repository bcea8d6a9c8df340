package session

import (
	"os"
	"os/exec"
	"sync"

	"github.com/creack/pty"
	"go.uber.org/zap"

	"github.com/tiflis/tiflis/internal/common/logger"
	"github.com/tiflis/tiflis/internal/workstation/hub"
	"github.com/tiflis/tiflis/pkg/protocol"
)

const (
	minCols = 40
	minRows = 24

	defaultCols = 80
	defaultRows = 24
)

// Terminal is a PTY-backed session. The first subscribing device becomes
// the master and is the only one whose resize requests are honored; when
// the master unsubscribes, the oldest remaining subscriber is promoted.
type Terminal struct {
	info   protocol.SessionInfo
	hub    *hub.Hub
	ring   *outputRing
	logger *logger.Logger

	mu     sync.Mutex
	ptyF   *os.File
	cmd    *exec.Cmd
	cols   int
	rows   int
	master string
	closed bool
	done   chan struct{}
}

// NewTerminal spawns a shell in a PTY and starts streaming its output.
func NewTerminal(info protocol.SessionInfo, h *hub.Hub, bufferSize int, log *logger.Logger) (*Terminal, error) {
	shell, args := detectShell()
	cmd := exec.Command(shell, args...)
	cmd.Dir = info.WorkingDir
	cmd.Env = append(os.Environ(), "TERM=xterm-256color")

	f, err := pty.StartWithSize(cmd, &pty.Winsize{
		Cols: uint16(defaultCols),
		Rows: uint16(defaultRows),
	})
	if err != nil {
		return nil, err
	}

	t := &Terminal{
		info:   info,
		hub:    h,
		ring:   newOutputRing(bufferSize),
		logger: log.WithFields(zap.String("session_id", info.SessionID)),
		ptyF:   f,
		cmd:    cmd,
		cols:   defaultCols,
		rows:   defaultRows,
		done:   make(chan struct{}),
	}
	go t.readLoop()
	return t, nil
}

func detectShell() (string, []string) {
	if shell := os.Getenv("SHELL"); shell != "" {
		return shell, []string{"-l"}
	}
	for _, sh := range []string{"/bin/bash", "/bin/zsh", "/bin/sh"} {
		if _, err := os.Stat(sh); err == nil {
			return sh, []string{"-l"}
		}
	}
	return "/bin/sh", nil
}

// ID returns the session id.
func (t *Terminal) ID() string { return t.info.SessionID }

// Info returns the session descriptor.
func (t *Terminal) Info() protocol.SessionInfo {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.info
}

// Config returns the terminal parameters announced in session.created.
func (t *Terminal) Config() protocol.TerminalConfig {
	t.mu.Lock()
	defer t.mu.Unlock()
	return protocol.TerminalConfig{
		BufferSize: t.ring.limit,
		Cols:       t.cols,
		Rows:       t.rows,
	}
}

// Subscribe registers the device with the hub and returns the terminal
// snapshot. The first subscriber becomes master.
func (t *Terminal) Subscribe(deviceID string) protocol.SubscribedPayload {
	t.hub.Subscribe(t.info.SessionID, deviceID)

	t.mu.Lock()
	if t.master == "" {
		t.master = deviceID
	}
	isMaster := t.master == deviceID
	cols, rows := t.cols, t.rows
	t.mu.Unlock()

	return protocol.SubscribedPayload{
		SessionID: t.info.SessionID,
		IsMaster:  &isMaster,
		Cols:      cols,
		Rows:      rows,
	}
}

// Unsubscribe detaches the device. If it was the master, the oldest
// remaining subscriber is promoted and told the current size.
func (t *Terminal) Unsubscribe(deviceID string) {
	t.hub.Unsubscribe(t.info.SessionID, deviceID)

	t.mu.Lock()
	if t.master != deviceID {
		t.mu.Unlock()
		return
	}
	t.master = ""
	if remaining := t.hub.Subscribers(t.info.SessionID); len(remaining) > 0 {
		t.master = remaining[0]
	}
	promoted := t.master
	cols, rows := t.cols, t.rows
	t.mu.Unlock()

	if promoted == "" {
		return
	}
	msg, err := protocol.NewSessionMessage(protocol.TypeSessionResized, t.info.SessionID, protocol.ResizedPayload{
		Success: true,
		Cols:    cols,
		Rows:    rows,
	})
	if err != nil {
		return
	}
	if err := t.hub.SendTo(promoted, msg); err != nil {
		t.logger.Debug("master promotion notice failed",
			zap.String("device_id", promoted),
			zap.Error(err))
	}
}

// Master returns the current master device id, empty if none.
func (t *Terminal) Master() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.master
}

// Input writes raw bytes to the PTY. Any subscriber may type.
func (t *Terminal) Input(data string) error {
	t.mu.Lock()
	f := t.ptyF
	closed := t.closed
	t.mu.Unlock()
	if closed {
		return errSessionClosed
	}
	_, err := f.WriteString(data)
	return err
}

// Resize applies a size change if the requester is the master. The reply
// always carries the actual PTY size so rejected devices can sync.
func (t *Terminal) Resize(deviceID string, cols, rows int) protocol.ResizedPayload {
	t.mu.Lock()
	if t.closed || t.master != deviceID {
		reply := protocol.ResizedPayload{
			Success: false,
			Cols:    t.cols,
			Rows:    t.rows,
			Reason:  "not_master",
		}
		t.mu.Unlock()
		return reply
	}

	if cols < minCols {
		cols = minCols
	}
	if rows < minRows {
		rows = minRows
	}
	err := pty.Setsize(t.ptyF, &pty.Winsize{Cols: uint16(cols), Rows: uint16(rows)})
	if err == nil {
		t.cols, t.rows = cols, rows
	}
	reply := protocol.ResizedPayload{
		Success: err == nil,
		Cols:    t.cols,
		Rows:    t.rows,
	}
	if err != nil {
		reply.Reason = err.Error()
	}
	t.mu.Unlock()

	if reply.Success {
		event, eventErr := protocol.NewSessionMessage(protocol.TypeSessionResized, t.info.SessionID, reply)
		if eventErr == nil {
			t.hub.BroadcastSession(t.info.SessionID, event, deviceID)
		}
	}
	return reply
}

// Replay returns buffered output after a cursor.
func (t *Terminal) Replay(req protocol.ReplayPayload) protocol.ReplayDataPayload {
	var data protocol.ReplayDataPayload
	switch {
	case req.SinceSequence != nil:
		data = t.ring.Replay(*req.SinceSequence, req.Limit)
	case req.SinceTimestamp != nil:
		data = t.ring.ReplaySinceTime(*req.SinceTimestamp, req.Limit)
	default:
		data = t.ring.Replay(0, req.Limit)
	}
	data.SessionID = t.info.SessionID
	return data
}

// Terminate kills the shell and closes the PTY.
func (t *Terminal) Terminate() {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return
	}
	t.closed = true
	cmd := t.cmd
	f := t.ptyF
	t.mu.Unlock()

	if cmd.Process != nil {
		_ = cmd.Process.Kill()
	}
	_ = f.Close()
	<-t.done
	_ = cmd.Wait()
}

func (t *Terminal) readLoop() {
	defer close(t.done)
	buf := make([]byte, 4096)
	for {
		n, err := t.ptyF.Read(buf)
		if n > 0 {
			rec := t.ring.Append(string(buf[:n]))
			t.broadcastChunk(rec)
		}
		if err != nil {
			t.logger.Debug("pty read loop ended", zap.Error(err))
			return
		}
	}
}

func (t *Terminal) broadcastChunk(rec protocol.OutputRecord) {
	msg, err := protocol.NewSessionMessage(protocol.TypeSessionOutput, t.info.SessionID, protocol.OutputPayload{
		ContentType: "terminal",
		Content:     rec.Content,
	})
	if err != nil {
		return
	}
	msg.Sequence = rec.Sequence
	msg.Timestamp = rec.Timestamp
	t.hub.BroadcastSession(t.info.SessionID, msg, "")
}
