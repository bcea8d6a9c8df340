package session

import (
	"context"

	"github.com/tiflis/tiflis/internal/workstation/agents"
	"github.com/tiflis/tiflis/pkg/protocol"
)

// Runner starts one agent turn. Satisfied by the agents registry; tests
// substitute scripted runners.
type Runner interface {
	Start(ctx context.Context, agent, workDir, prompt string) (Turn, error)
}

// Turn is one in-flight agent execution.
type Turn interface {
	Blocks() <-chan protocol.ContentBlock
	Cancel()
	Wait() error
}

type agentRunner struct {
	registry *agents.Registry
}

// NewAgentRunner adapts the agents registry to the Runner interface.
func NewAgentRunner(registry *agents.Registry) Runner {
	return agentRunner{registry: registry}
}

func (r agentRunner) Start(ctx context.Context, agent, workDir, prompt string) (Turn, error) {
	ex, err := r.registry.Start(ctx, agent, workDir, prompt)
	if err != nil {
		return nil, err
	}
	return execTurn{ex: ex}, nil
}

type execTurn struct {
	ex *agents.Execution
}

func (t execTurn) Blocks() <-chan protocol.ContentBlock { return t.ex.Blocks }
func (t execTurn) Cancel()                              { t.ex.Cancel() }
func (t execTurn) Wait() error                          { return t.ex.Wait() }
