// Package bridge routes agents' backend operation requests (build checks,
// document retrieval, ...) to registered external providers. The bridge is
// the only path between agents and capability backends: it enforces each
// agent's permitted operation set, validates arguments against the declared
// operation schema, applies timeouts and reports failures as typed errors
// carrying the provider diagnostic verbatim.
package bridge

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/hupe1980/agentcouncil/core"
	"github.com/hupe1980/agentcouncil/internal/util"
	"github.com/hupe1980/agentcouncil/logging"
)

// Request is one backend operation request produced by an agent turn.
type Request struct {
	Operation string         `json:"operation"`
	Arguments map[string]any `json:"arguments,omitempty"`
}

// Result is a successful backend operation outcome.
type Result struct {
	Operation string `json:"operation"`
	Provider  string `json:"provider"`
	Payload   any    `json:"payload,omitempty"`
}

// OperationSpec declares one named operation a provider offers. Parameters is
// a minimal JSON schema validated before dispatch.
type OperationSpec struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Parameters  map[string]any `json:"parameters,omitempty"`
}

// SpecFromStruct derives an OperationSpec's parameter schema from a Go struct
// (json tags name the fields, the description tag documents them).
func SpecFromStruct(name, description string, argsType any) OperationSpec {
	return OperationSpec{
		Name:        name,
		Description: description,
		Parameters:  util.SchemaFromStruct(argsType),
	}
}

// Provider is an external capability backend. Transport and process
// lifecycle are the provider's responsibility; the bridge only needs
// name-based operation lookup and a result/error distinction.
type Provider interface {
	// Name identifies the provider in diagnostics.
	Name() string
	// Operations lists the operations this provider serves.
	Operations() []OperationSpec
	// Invoke executes one operation. Implementations should honor ctx
	// cancellation; the bridge abandons invocations that outlive their
	// deadline.
	Invoke(ctx context.Context, operation string, args map[string]any) (any, error)
}

// PermissionChecker answers whether an agent may invoke an operation. The
// session registry implements it over descriptor permitted sets.
type PermissionChecker interface {
	AllowedOperation(agentName, operation string) bool
}

// ProviderOptions configures a provider registration.
type ProviderOptions struct {
	// Stateful serializes all invocations targeting this provider instance.
	// Stateless providers (the default) run concurrently.
	Stateful bool
}

// Options configures a Bridge.
type Options struct {
	// DefaultTimeout bounds invocations whose caller passed no timeout.
	DefaultTimeout time.Duration
	Logger         logging.Logger
}

type registration struct {
	provider Provider
	spec     OperationSpec
	gate     *sync.Mutex // shared by all operations of a stateful provider; nil otherwise
}

// Bridge dispatches operation requests to providers. Safe for concurrent use;
// invocations against different providers never block each other.
type Bridge struct {
	mu             sync.RWMutex
	operations     map[string]*registration
	perms          PermissionChecker
	defaultTimeout time.Duration
	logger         logging.Logger
}

// New constructs a Bridge enforcing permissions through perms.
func New(perms PermissionChecker, optFns ...func(o *Options)) *Bridge {
	opts := Options{
		DefaultTimeout: 30 * time.Second,
		Logger:         logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &Bridge{
		operations:     make(map[string]*registration),
		perms:          perms,
		defaultTimeout: opts.DefaultTimeout,
		logger:         opts.Logger,
	}
}

// RegisterProvider makes every operation the provider declares routable. It
// fails with *core.DuplicateNameError if an operation name is already served.
func (b *Bridge) RegisterProvider(p Provider, optFns ...func(o *ProviderOptions)) error {
	opts := ProviderOptions{}
	for _, fn := range optFns {
		fn(&opts)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	specs := p.Operations()
	for _, spec := range specs {
		if _, exists := b.operations[spec.Name]; exists {
			return &core.DuplicateNameError{Name: spec.Name}
		}
	}

	var gate *sync.Mutex
	if opts.Stateful {
		gate = &sync.Mutex{}
	}
	for _, spec := range specs {
		b.operations[spec.Name] = &registration{provider: p, spec: spec, gate: gate}
	}
	b.logger.Debug("bridge.register_provider", "provider", p.Name(), "operations", len(specs), "stateful", opts.Stateful)
	return nil
}

// Specs returns the operation specs for the given operation names, skipping
// unknown ones. Used to expose an agent's permitted operations to its model.
func (b *Bridge) Specs(names []string) []OperationSpec {
	b.mu.RLock()
	defer b.mu.RUnlock()
	specs := make([]OperationSpec, 0, len(names))
	for _, name := range names {
		if reg, ok := b.operations[name]; ok {
			specs = append(specs, reg.spec)
		}
	}
	return specs
}

// Invoke executes one backend operation on behalf of agentName. It is
// synchronous for the caller but never blocks other agents' invocations
// (except when serializing on the same stateful provider). A timeout of zero
// falls back to the bridge default. On deadline the provider invocation is
// abandoned best-effort and *core.TimeoutError is returned; provider failures
// are wrapped as *core.BackendError with the diagnostic preserved verbatim.
func (b *Bridge) Invoke(ctx context.Context, agentName string, req Request, timeout time.Duration) (*Result, error) {
	if b.perms == nil || !b.perms.AllowedOperation(agentName, req.Operation) {
		return nil, &core.PermissionError{Agent: agentName, Operation: req.Operation}
	}

	b.mu.RLock()
	reg, ok := b.operations[req.Operation]
	b.mu.RUnlock()
	if !ok {
		return nil, &core.NotFoundError{Kind: "operation", Name: req.Operation}
	}

	if err := util.ValidateArguments(req.Arguments, reg.spec.Parameters); err != nil {
		return nil, fmt.Errorf("invalid arguments for operation %q: %w", req.Operation, err)
	}

	if reg.gate != nil {
		reg.gate.Lock()
		defer reg.gate.Unlock()
	}

	if timeout <= 0 {
		timeout = b.defaultTimeout
	}
	invokeCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type outcome struct {
		payload any
		err     error
	}
	done := make(chan outcome, 1) // buffered: an abandoned invocation must not leak its goroutine

	start := time.Now()
	go func() {
		payload, err := reg.provider.Invoke(invokeCtx, req.Operation, req.Arguments)
		done <- outcome{payload: payload, err: err}
	}()

	select {
	case <-invokeCtx.Done():
		if ctx.Err() != nil {
			// Caller cancelled; propagate downward, never invent a timeout.
			return nil, ctx.Err()
		}
		b.logger.Warn("bridge.invoke.timeout", "operation", req.Operation, "provider", reg.provider.Name(), "timeout", timeout)
		return nil, &core.TimeoutError{
			Operation: req.Operation,
			Provider:  reg.provider.Name(),
			Timeout:   timeout,
		}
	case out := <-done:
		if out.err != nil {
			b.logger.Error("bridge.invoke.failed", "operation", req.Operation, "provider", reg.provider.Name(), "error", out.err.Error())
			return nil, &core.BackendError{
				Operation:  req.Operation,
				Provider:   reg.provider.Name(),
				Diagnostic: out.err.Error(),
				Err:        out.err,
			}
		}
		b.logger.Debug("bridge.invoke.ok", "operation", req.Operation, "provider", reg.provider.Name(), "duration_ms", time.Since(start).Milliseconds())
		return &Result{Operation: req.Operation, Provider: reg.provider.Name(), Payload: out.payload}, nil
	}
}

// ProviderFunc adapts a function plus operation specs into a Provider.
type ProviderFunc struct {
	ProviderName string
	Specs        []OperationSpec
	Fn           func(ctx context.Context, operation string, args map[string]any) (any, error)
}

// Name implements Provider.
func (p *ProviderFunc) Name() string { return p.ProviderName }

// Operations implements Provider.
func (p *ProviderFunc) Operations() []OperationSpec { return p.Specs }

// Invoke implements Provider.
func (p *ProviderFunc) Invoke(ctx context.Context, operation string, args map[string]any) (any, error) {
	return p.Fn(ctx, operation, args)
}
