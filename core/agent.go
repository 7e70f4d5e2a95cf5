package core

import "context"

// Agent defines the uniform worker contract consumed by the dispatcher.
//
// Agents are the primary processing units of a swarm. They receive an
// immutable Request and return zero or more ResultPayloads. Implementations
// must:
//   - Respect context cancellation; the dispatcher enforces a per-agent
//     deadline through ctx and abandons agents that ignore it
//   - Invoke the provider fallback chain themselves if they need generative
//     inference
//   - Be safe for concurrent use, since several requests may select the same
//     agent at once
type Agent interface {
	Name() string
	Description() string
	Process(ctx context.Context, req Request) ([]ResultPayload, error)
}

// AgentFunc adapts an ordinary function to the Agent interface.
type AgentFunc struct {
	AgentName string
	Desc      string
	Fn        func(ctx context.Context, req Request) ([]ResultPayload, error)
}

// Name implements Agent.
func (f AgentFunc) Name() string { return f.AgentName }

// Description implements Agent.
func (f AgentFunc) Description() string { return f.Desc }

// Process implements Agent.
func (f AgentFunc) Process(ctx context.Context, req Request) ([]ResultPayload, error) {
	return f.Fn(ctx, req)
}
