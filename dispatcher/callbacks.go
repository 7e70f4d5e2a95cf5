package dispatcher

import (
	"context"
	"sync"
	"time"

	"github.com/hupe1980/agentswarm/core"
)

// CallbackType defines the lifecycle points where callbacks run.
//
// Available callback types:
//   - BeforeAgent: before an agent is called; an error vetoes the call and
//     becomes that agent's error payload
//   - AfterAgent: after an agent produced its payloads
//   - OnError: after an agent slot resolved to an error payload
type CallbackType string

const (
	CallbackBeforeAgent CallbackType = "before_agent"
	CallbackAfterAgent  CallbackType = "after_agent"
	CallbackOnError     CallbackType = "on_error"
)

// CallbackContext carries what a callback may inspect. It is a copy; changes
// made by a callback do not affect the dispatch.
type CallbackContext struct {
	Request      core.Request
	AgentID      string
	CallbackType CallbackType

	// Set for AfterAgent and OnError.
	Payloads []core.ResultPayload
	Err      error
	Duration time.Duration
}

// Callback is an execution lifecycle hook.
//
// Callbacks run synchronously inside the agent's worker slot and should be
// fast. Only BeforeAgent errors change the outcome; errors from the other
// types are logged.
type Callback interface {
	Type() CallbackType
	Execute(ctx context.Context, cc *CallbackContext) error
}

// FunctionCallback wraps a function as a Callback.
type FunctionCallback struct {
	callbackType CallbackType
	fn           func(ctx context.Context, cc *CallbackContext) error
}

// NewFunctionCallback creates a function-based callback.
func NewFunctionCallback(callbackType CallbackType, fn func(ctx context.Context, cc *CallbackContext) error) *FunctionCallback {
	return &FunctionCallback{callbackType: callbackType, fn: fn}
}

// Type implements Callback.
func (c *FunctionCallback) Type() CallbackType { return c.callbackType }

// Execute implements Callback.
func (c *FunctionCallback) Execute(ctx context.Context, cc *CallbackContext) error {
	return c.fn(ctx, cc)
}

// CallbackManager is a registry of callbacks by type. Callbacks run in
// registration order; the first error stops the chain. Safe for concurrent
// use.
type CallbackManager struct {
	mu        sync.RWMutex
	callbacks map[CallbackType][]Callback
}

// NewCallbackManager creates an empty manager.
func NewCallbackManager() *CallbackManager {
	return &CallbackManager{callbacks: make(map[CallbackType][]Callback)}
}

// RegisterCallback adds a callback for its type.
func (cm *CallbackManager) RegisterCallback(cb Callback) {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	cm.callbacks[cb.Type()] = append(cm.callbacks[cb.Type()], cb)
}

// ExecuteCallbacks runs every callback registered for callbackType.
func (cm *CallbackManager) ExecuteCallbacks(ctx context.Context, callbackType CallbackType, cc *CallbackContext) error {
	if cm == nil {
		return nil
	}
	cm.mu.RLock()
	callbacks := cm.callbacks[callbackType]
	cm.mu.RUnlock()

	cc.CallbackType = callbackType
	for _, cb := range callbacks {
		if err := cb.Execute(ctx, cc); err != nil {
			return err
		}
	}
	return nil
}

// StatRecorder receives tagged metric samples.
// *memory.Store implements it.
type StatRecorder interface {
	RecordStatWithTags(metric string, value float64, tags map[string]string) error
}

// NewLatencyCallback returns an AfterAgent callback that records each agent
// call's latency in milliseconds as the "agent_latency_ms" stat.
func NewLatencyCallback(rec StatRecorder) Callback {
	return NewFunctionCallback(CallbackAfterAgent, func(_ context.Context, cc *CallbackContext) error {
		status := "success"
		if cc.Err != nil {
			status = "error"
		}
		return rec.RecordStatWithTags("agent_latency_ms", float64(cc.Duration.Microseconds())/1000, map[string]string{
			"agent":  cc.AgentID,
			"status": status,
		})
	})
}
