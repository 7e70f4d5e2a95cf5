// Package core provides the foundational domain types and interfaces shared
// by every swarm component. It defines the core abstractions for:
//
//   - Agents (units of work selected by the router and run by the dispatcher)
//   - Requests and ResultPayloads (the immutable input and typed output of
//     one user interaction)
//   - Memory records (episodic events, semantic facts and system stats)
//   - Document retrieval for knowledge-backed agents
//   - Typed errors separating admission rejections from agent failures
//
// The package keeps implementation concerns (persistence, routing, provider
// access, concrete agents) out of scope and exposes small interfaces so that
// custom backends and agents can be plugged in.
package core
