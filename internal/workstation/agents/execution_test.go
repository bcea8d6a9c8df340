package agents

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tiflis/tiflis/internal/common/logger"
	"github.com/tiflis/tiflis/pkg/protocol"
)

func newTestRegistry(t *testing.T, aliases map[string]string) *Registry {
	t.Helper()
	log, err := logger.NewLogger(logger.LoggingConfig{Level: "error", Format: "console"})
	require.NoError(t, err)
	return NewRegistry(aliases, log)
}

func TestRegistryBuiltins(t *testing.T) {
	r := newTestRegistry(t, nil)
	assert.True(t, r.Known(AgentClaude))
	assert.True(t, r.Known(AgentCursor))
	assert.True(t, r.Known(AgentOpenCode))
	assert.False(t, r.Known("gpt"))
}

func TestRegistryAliases(t *testing.T) {
	r := newTestRegistry(t, map[string]string{"mybot": "/usr/local/bin/mybot"})
	require.True(t, r.Known("mybot"))

	path, args, err := r.Resolve("mybot")
	require.NoError(t, err)
	assert.Equal(t, "/usr/local/bin/mybot", path)
	assert.Empty(t, args)

	assert.Contains(t, r.Available(), "mybot")
}

func TestResolveUnknownAgent(t *testing.T) {
	r := newTestRegistry(t, nil)
	_, _, err := r.Resolve("nope")
	assert.Error(t, err)
}

func TestParseAssistantTextLine(t *testing.T) {
	line := `{"type":"assistant","message":{"content":[{"type":"text","text":"hello"}]}}`
	blocks := parseLine(AgentClaude, line)
	require.Len(t, blocks, 1)
	assert.Equal(t, protocol.BlockText, blocks[0].BlockType)
	assert.Equal(t, "hello", blocks[0].Content)
	assert.NotEmpty(t, blocks[0].ID)
}

func TestParseToolUseLine(t *testing.T) {
	line := `{"type":"assistant","message":{"content":[{"type":"tool_use","name":"Bash","input":{"command":"ls"}}]}}`
	blocks := parseLine(AgentClaude, line)
	require.Len(t, blocks, 1)
	assert.Equal(t, protocol.BlockTool, blocks[0].BlockType)
	assert.Equal(t, "Bash", blocks[0].ToolName)
	assert.Equal(t, protocol.ToolRunning, blocks[0].ToolStatus)
	assert.JSONEq(t, `{"command":"ls"}`, blocks[0].ToolInput)
}

func TestParseThinkingLine(t *testing.T) {
	line := `{"type":"assistant","message":{"content":[{"type":"thinking","thinking":"hmm"}]}}`
	blocks := parseLine(AgentClaude, line)
	require.Len(t, blocks, 1)
	assert.Equal(t, protocol.BlockThinking, blocks[0].BlockType)
	assert.Equal(t, "hmm", blocks[0].Content)
}

func TestParsePartLine(t *testing.T) {
	line := `{"type":"part","part":{"type":"text","text":"chunk"}}`
	blocks := parseLine(AgentOpenCode, line)
	require.Len(t, blocks, 1)
	assert.Equal(t, "chunk", blocks[0].Content)
}

func TestParseErrorResult(t *testing.T) {
	line := `{"type":"result","is_error":true,"result":"boom"}`
	blocks := parseLine(AgentClaude, line)
	require.Len(t, blocks, 1)
	assert.Equal(t, protocol.BlockError, blocks[0].BlockType)
	assert.Equal(t, "boom", blocks[0].Content)
}

func TestParseSuccessResultEmitsNothing(t *testing.T) {
	line := `{"type":"result","is_error":false,"result":"done"}`
	assert.Empty(t, parseLine(AgentClaude, line))
}

func TestParseSystemLineEmitsNothing(t *testing.T) {
	line := `{"type":"system","subtype":"init"}`
	assert.Empty(t, parseLine(AgentClaude, line))
}

func TestParseNonJSONLineFallsBackToText(t *testing.T) {
	blocks := parseLine("mybot", "plain output line")
	require.Len(t, blocks, 1)
	assert.Equal(t, protocol.BlockText, blocks[0].BlockType)
	assert.Equal(t, "plain output line", blocks[0].Content)
}
