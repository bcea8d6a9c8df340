package agents

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"os/exec"
	"strings"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/tiflis/tiflis/internal/common/logger"
	"github.com/tiflis/tiflis/pkg/protocol"
)

// maxLineSize bounds a single stdout line; agents emit one JSON object per
// line and tool outputs can get large.
const maxLineSize = 4 * 1024 * 1024

// Execution is one in-flight agent turn. Blocks delivers parsed content
// blocks as they stream; the channel closes when the subprocess exits.
type Execution struct {
	Blocks <-chan protocol.ContentBlock

	cmd      *exec.Cmd
	cancel   context.CancelFunc
	done     chan struct{}
	exitErr  error
	exitOnce sync.Once
	logger   *logger.Logger
}

// Start spawns an agent subprocess for one turn and begins parsing its
// stdout stream.
func (r *Registry) Start(ctx context.Context, agent, workDir, prompt string) (*Execution, error) {
	path, args, err := r.Resolve(agent)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(ctx)
	cmd := exec.CommandContext(ctx, path, append(args, prompt)...)
	cmd.Dir = workDir

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		cancel()
		return nil, err
	}

	if err := cmd.Start(); err != nil {
		cancel()
		return nil, err
	}

	blocks := make(chan protocol.ContentBlock, 64)
	ex := &Execution{
		Blocks: blocks,
		cmd:    cmd,
		cancel: cancel,
		done:   make(chan struct{}),
		logger: r.logger.WithFields(zap.String("agent", agent)),
	}

	go ex.readLoop(stdout, blocks, agent)
	return ex, nil
}

// Cancel terminates the subprocess. Safe to call concurrently with Wait.
func (ex *Execution) Cancel() {
	ex.cancel()
}

// Wait blocks until the subprocess exits and returns its exit error.
func (ex *Execution) Wait() error {
	<-ex.done
	return ex.exitErr
}

func (ex *Execution) readLoop(stdout io.Reader, blocks chan<- protocol.ContentBlock, agent string) {
	defer close(ex.done)
	defer close(blocks)

	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 64*1024), maxLineSize)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		for _, block := range parseLine(agent, line) {
			blocks <- block
		}
	}

	ex.exitOnce.Do(func() {
		ex.exitErr = ex.cmd.Wait()
	})
}

// streamEvent is the common shape of the agents' stream-JSON lines. Claude
// and cursor wrap assistant content in a message; opencode emits flat
// part records.
type streamEvent struct {
	Type    string `json:"type"`
	Subtype string `json:"subtype,omitempty"`
	Message *struct {
		Content []contentPart `json:"content"`
	} `json:"message,omitempty"`
	Part *contentPart `json:"part,omitempty"`
	// result lines
	Result  string `json:"result,omitempty"`
	IsError bool   `json:"is_error,omitempty"`
}

type contentPart struct {
	Type     string          `json:"type"`
	Text     string          `json:"text,omitempty"`
	Thinking string          `json:"thinking,omitempty"`
	Name     string          `json:"name,omitempty"`
	Input    json.RawMessage `json:"input,omitempty"`
}

// parseLine converts one stdout line into content blocks. Lines that are
// not JSON are passed through as plain text so alias agents without a
// structured protocol still stream something usable.
func parseLine(agent, line string) []protocol.ContentBlock {
	var event streamEvent
	if err := json.Unmarshal([]byte(line), &event); err != nil {
		return []protocol.ContentBlock{protocol.TextBlock(uuid.NewString(), line)}
	}

	switch event.Type {
	case "assistant":
		if event.Message == nil {
			return nil
		}
		var out []protocol.ContentBlock
		for _, part := range event.Message.Content {
			if block, ok := partToBlock(part); ok {
				out = append(out, block)
			}
		}
		return out

	case "part":
		if event.Part == nil {
			return nil
		}
		if block, ok := partToBlock(*event.Part); ok {
			return []protocol.ContentBlock{block}
		}
		return nil

	case "result":
		if event.IsError {
			return []protocol.ContentBlock{protocol.ErrorBlock(uuid.NewString(), protocol.ErrInternal, event.Result)}
		}
		// Successful results restate the final text already streamed.
		return nil

	case "system", "user":
		return nil
	}
	return nil
}

func partToBlock(part contentPart) (protocol.ContentBlock, bool) {
	switch part.Type {
	case "text":
		if part.Text == "" {
			return protocol.ContentBlock{}, false
		}
		return protocol.TextBlock(uuid.NewString(), part.Text), true
	case "thinking":
		return protocol.ContentBlock{
			ID:        uuid.NewString(),
			BlockType: protocol.BlockThinking,
			Content:   part.Thinking,
		}, true
	case "tool_use":
		return protocol.ContentBlock{
			ID:         uuid.NewString(),
			BlockType:  protocol.BlockTool,
			ToolName:   part.Name,
			ToolInput:  string(part.Input),
			ToolStatus: protocol.ToolRunning,
		}, true
	}
	return protocol.ContentBlock{}, false
}
