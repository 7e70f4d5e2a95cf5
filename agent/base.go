package agent

import "fmt"

// BaseAgent bundles the identity shared by every agent. Embed it in concrete
// agent implementations and supply a Process method to satisfy core.Agent.
type BaseAgent struct {
	name        string // Routing id, matches the capability profile
	description string // Human-readable purpose
}

// NewBaseAgent constructs a BaseAgent with a generated description
// (customizable via SetDescription).
func NewBaseAgent(name string) BaseAgent {
	return BaseAgent{
		name:        name,
		description: fmt.Sprintf("Agent %s", name),
	}
}

// Name returns the agent id.
func (b *BaseAgent) Name() string { return b.name }

// Description returns a detailed description of this agent's purpose.
func (b *BaseAgent) Description() string { return b.description }

// SetDescription updates the agent's description. Call it before the agent is
// registered; it is not synchronized.
func (b *BaseAgent) SetDescription(desc string) {
	if desc != "" {
		b.description = desc
	}
}
