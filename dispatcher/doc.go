// Package dispatcher implements the concurrent fan-out of a request to the
// agents selected by the router.
//
// # Core Responsibilities
//
// Agent Management:
//   - Thread-safe agent registry with name-based lookup
//   - Registration order defines merge priority
//
// Execution:
//   - Bounded worker slots shared by all in-flight dispatches
//   - A per-agent deadline; uncooperative agents are abandoned
//   - A wait-for-all barrier without cancel-on-first-failure
//   - Lifecycle callbacks around every agent call
//
// Results:
//   - One merged payload list per request, ordered by agent priority
//   - Every selected agent contributes at least one payload; failures become
//     core.KindError payloads
//
// Shutdown drains in-flight dispatches and rejects new ones with
// core.ErrShuttingDown.
package dispatcher
