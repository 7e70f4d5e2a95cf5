// Package agent contains the agent implementations dispatched by the swarm.
// The package focuses on three concerns:
//
//  1. Identity plumbing shared by all agents (BaseAgent)
//  2. Role instructions rendered per request (Instruction)
//  3. Concrete agents: EchoAgent, ModelAgent and RetrievalAgent
//
// Design principles:
//   - Agents never talk to a generative backend directly; they go through the
//     provider fallback chain (Invoker)
//   - Provider exhaustion degrades an agent's answer instead of failing it
//   - Agents hold no per-request state and are safe for concurrent use
//
// DefaultRoster wires the stock specialists whose ids match the capability
// table in router.DefaultProfiles.
package agent
