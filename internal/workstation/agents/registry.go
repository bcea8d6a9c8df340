// Package agents spawns headless coding-agent subprocesses and turns their
// streaming stdout into typed content blocks. The agents themselves are
// external collaborators; this package owns only the spawn/stream/cancel
// contract.
package agents

import (
	"fmt"
	"sort"

	"github.com/tiflis/tiflis/internal/common/logger"
)

// Built-in agent variants. Aliases from configuration extend this set with
// arbitrary commands.
const (
	AgentClaude   = "claude"
	AgentCursor   = "cursor"
	AgentOpenCode = "opencode"
)

type command struct {
	path string
	args []string
}

// builtins maps each known agent to the command line that runs one headless
// turn with streaming JSON output. The prompt is appended as the final
// argument.
var builtins = map[string]command{
	AgentClaude:   {path: "claude", args: []string{"--print", "--output-format", "stream-json", "--verbose"}},
	AgentCursor:   {path: "cursor-agent", args: []string{"--print", "--output-format", "stream-json"}},
	AgentOpenCode: {path: "opencode", args: []string{"run", "--print-logs", "--format", "json"}},
}

// Registry resolves agent names to runnable commands.
type Registry struct {
	commands map[string]command
	logger   *logger.Logger
}

// NewRegistry builds the agent catalog from the built-ins plus the
// configured alias map (name -> shell command).
func NewRegistry(aliases map[string]string, log *logger.Logger) *Registry {
	commands := make(map[string]command, len(builtins)+len(aliases))
	for name, cmd := range builtins {
		commands[name] = cmd
	}
	for name, path := range aliases {
		if path == "" {
			continue
		}
		commands[name] = command{path: path}
	}
	return &Registry{commands: commands, logger: log}
}

// Available returns the sorted agent names.
func (r *Registry) Available() []string {
	names := make([]string, 0, len(r.commands))
	for name := range r.commands {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Resolve returns the command for an agent name.
func (r *Registry) Resolve(agent string) (string, []string, error) {
	cmd, ok := r.commands[agent]
	if !ok {
		return "", nil, fmt.Errorf("unknown agent %q", agent)
	}
	return cmd.path, cmd.args, nil
}

// Known reports whether an agent name is registered.
func (r *Registry) Known(agent string) bool {
	_, ok := r.commands[agent]
	return ok
}
