package agent

import (
	"github.com/hupe1980/agentswarm/core"
	"github.com/hupe1980/agentswarm/logging"
)

// Role describes a model-backed specialist.
type Role struct {
	ID          string
	Description string
	Instruction string
	Kind        core.ContentKind
	Shaper      Shaper
}

// DefaultRoles returns the stock specialists. Their ids match
// router.DefaultProfiles; the archivist is built separately as a
// RetrievalAgent.
func DefaultRoles() []Role {
	return []Role{
		{ID: "engineer", Description: "Writes, reviews and debugs code", Shaper: CodeBlocks,
			Instruction: "You are the engineer of the swarm. Answer with working code in fenced blocks and a short explanation."},
		{ID: "finance", Description: "Crypto, markets and prices", Kind: core.KindMetric,
			Instruction: "You are the finance specialist. Give concise, factual answers about markets, crypto and prices. Never give investment advice."},
		{ID: "health", Description: "Health, sleep and biometrics", Kind: core.KindChart,
			Instruction: "You are the health specialist. Explain health and biometric topics clearly and recommend professional advice where appropriate."},
		{ID: "navigator", Description: "Research and exploration",
			Instruction: "You are the navigator. Research the question and give a concise, factual answer."},
		{ID: "oracle", Description: "Reasoning, logic and philosophy",
			Instruction: "You are the oracle. Reason step by step and state your conclusion plainly."},
		{ID: "creative", Description: "Ideas, design and brainstorming",
			Instruction: "You are the creative specialist. Offer original ideas and keep them practical."},
		{ID: "security", Description: "Security audits and threats",
			Instruction: "You are the security specialist. Identify risks and concrete mitigations."},
		{ID: "data", Description: "Data conversion and cleaning",
			Instruction: "You are the data specialist. Describe transformations precisely; use code blocks for scripts.", Shaper: CodeBlocks},
		{ID: "cleanup", Description: "Housekeeping and cleanup",
			Instruction: "You are the cleanup specialist. Propose safe cleanup steps and never suggest irreversible actions without a warning."},
		{ID: "schedule", Description: "Planning, reminders and deadlines",
			Instruction: "You are the planner. Today is {{.date}}. Turn the request into a concrete schedule."},
	}
}

// RosterOptions configures DefaultRoster.
type RosterOptions struct {
	Retriever core.Retriever
	Memory    Memory
	Logger    logging.Logger
}

// DefaultRoster builds the stock agents: every default role as a ModelAgent,
// the archivist as a RetrievalAgent and the echo agent.
func DefaultRoster(llm Invoker, optFns ...func(o *RosterOptions)) []core.Agent {
	opts := RosterOptions{Logger: logging.NoOpLogger{}}
	for _, fn := range optFns {
		fn(&opts)
	}

	roles := DefaultRoles()
	agents := make([]core.Agent, 0, len(roles)+2)
	for _, r := range roles {
		agents = append(agents, NewModelAgent(r.ID, llm, func(o *ModelAgentOptions) {
			o.Description = r.Description
			o.Instruction = NewInstructionFromText(r.Instruction)
			o.Kind = r.Kind
			o.Shaper = r.Shaper
			o.Logger = opts.Logger
		}))
	}
	agents = append(agents,
		NewRetrievalAgent("archivist", llm, func(o *RetrievalAgentOptions) {
			o.Description = "Answers from the knowledge base and memory"
			o.Retriever = opts.Retriever
			o.Memory = opts.Memory
			o.Logger = opts.Logger
		}),
		NewEchoAgent(),
	)
	return agents
}
