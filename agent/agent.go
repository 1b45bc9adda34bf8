// Package agent defines the agent contract and the model-backed agent
// implementation. An agent consumes conversation context and produces one
// reply per invocation, optionally performing backend operations through the
// bridge while doing so.
package agent

import (
	"context"

	"github.com/hupe1980/agentcouncil/core"
	"github.com/hupe1980/agentcouncil/registry"
)

// Invocation carries everything an agent may consult for one turn. Delegation
// invocations are request-scoped (empty History); coordinator invocations
// carry the full conversation snapshot.
type Invocation struct {
	// Request is the task or prompt for this turn.
	Request string
	// History is a read-only snapshot of the session's conversation.
	History []core.Turn
	// Stage names the session's current workflow stage, if any.
	Stage string
	// State is a read-only view of session state for instruction templating.
	State map[string]any
}

// Reply is the complete output of one agent invocation. Invocations lists the
// backend operations performed while producing it, successes and failures
// alike, in execution order.
type Reply struct {
	Content     string
	Invocations []core.BackendInvocation
}

// Agent is a specialized, independently invokable worker.
//
// Implementations must respect ctx cancellation: a cancelled invocation
// returns promptly with ctx.Err() and its partial output is discarded by the
// caller, never appended to the conversation.
type Agent interface {
	// Name returns the agent's unique name.
	Name() string
	// Descriptor returns the registry descriptor for this agent.
	Descriptor() registry.Descriptor
	// Respond produces the agent's reply for one invocation.
	Respond(ctx context.Context, inv Invocation) (*Reply, error)
}

// FuncAgent adapts a plain function into an Agent. Useful for tests and for
// deterministic specialists that need no language model.
type FuncAgent struct {
	descriptor registry.Descriptor
	fn         func(ctx context.Context, inv Invocation) (*Reply, error)
}

// NewFuncAgent constructs a FuncAgent from a descriptor and a function.
func NewFuncAgent(d registry.Descriptor, fn func(ctx context.Context, inv Invocation) (*Reply, error)) *FuncAgent {
	return &FuncAgent{descriptor: d, fn: fn}
}

// Name implements Agent.
func (a *FuncAgent) Name() string { return a.descriptor.Name }

// Descriptor implements Agent.
func (a *FuncAgent) Descriptor() registry.Descriptor { return a.descriptor }

// Respond implements Agent.
func (a *FuncAgent) Respond(ctx context.Context, inv Invocation) (*Reply, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}
	return a.fn(ctx, inv)
}
