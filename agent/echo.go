package agent

import (
	"context"
	"sync/atomic"

	"github.com/hupe1980/agentswarm/core"
)

// DefaultEchoResponses are the small-talk replies of the default agent.
var DefaultEchoResponses = []string{
	"Hoi! Alle systemen operationeel. Waarmee kan ik helpen?",
	"Hallo! De Swarm is online en luistert.",
	"Goedendag! Nexus staat stand-by.",
	"Hey! Klaar voor actie.",
}

// EchoAgent is the default agent for input no specialist claims. It answers
// without calling a provider, rotating through a fixed set of replies.
type EchoAgent struct {
	BaseAgent
	responses []string
	next      atomic.Uint64
}

var _ core.Agent = (*EchoAgent)(nil)

// NewEchoAgent creates an EchoAgent named "echo". Without responses it uses
// DefaultEchoResponses.
func NewEchoAgent(responses ...string) *EchoAgent {
	if len(responses) == 0 {
		responses = DefaultEchoResponses
	}
	a := &EchoAgent{
		BaseAgent: NewBaseAgent("echo"),
		responses: append([]string(nil), responses...),
	}
	a.SetDescription("Answers small talk and unclassified input without a model call")
	return a
}

// Process implements core.Agent.
func (a *EchoAgent) Process(ctx context.Context, _ core.Request) ([]core.ResultPayload, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	n := a.next.Add(1) - 1
	reply := a.responses[n%uint64(len(a.responses))]
	return []core.ResultPayload{core.NewTextPayload(a.Name(), reply)}, nil
}
