// Package registry catalogs agent descriptors for a session: identity,
// free-text capability description, instruction template and the closed set
// of backend operations the agent may invoke. Descriptors are immutable for
// the session's lifetime once registered.
package registry

import (
	"errors"
	"sort"
	"sync"

	"github.com/hupe1980/agentcouncil/core"
	"github.com/hupe1980/agentcouncil/logging"
)

// Descriptor identifies an agent and declares its capabilities.
type Descriptor struct {
	// Name is unique within a registry.
	Name string `json:"name"`
	// Capability is a free-text description used for delegation matching.
	Capability string `json:"capability"`
	// Instruction is the agent's instruction template, rendered against
	// session state before each invocation.
	Instruction string `json:"instruction,omitempty"`
	// Operations is the closed set of backend operation names the agent is
	// permitted to invoke through the bridge.
	Operations []string `json:"operations,omitempty"`
}

// AllowsOperation reports whether op is in the descriptor's permitted set.
func (d Descriptor) AllowsOperation(op string) bool {
	for _, o := range d.Operations {
		if o == op {
			return true
		}
	}
	return false
}

// Match pairs a descriptor with its capability score for a query.
type Match struct {
	Descriptor Descriptor
	Score      float64
}

// Options configures a Registry.
type Options struct {
	// Matcher scores descriptors against capability queries.
	// Defaults to the lexical matcher.
	Matcher Matcher
	// Logger receives registration events. Defaults to NoOpLogger.
	Logger logging.Logger
}

// Registry holds the agent descriptors of one session. Registration order is
// preserved and used as the deterministic tie-break for equal scores.
type Registry struct {
	mu          sync.RWMutex
	matcher     Matcher
	descriptors map[string]Descriptor
	order       []string
	logger      logging.Logger
}

// New constructs an empty Registry.
func New(optFns ...func(o *Options)) *Registry {
	opts := Options{
		Matcher: NewLexicalMatcher(),
		Logger:  logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &Registry{
		matcher:     opts.Matcher,
		descriptors: make(map[string]Descriptor),
		logger:      opts.Logger,
	}
}

// Register adds a descriptor. It fails with *core.DuplicateNameError if the
// name is taken.
func (r *Registry) Register(d Descriptor) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if d.Name == "" {
		return errors.New("descriptor name must not be empty")
	}
	if _, exists := r.descriptors[d.Name]; exists {
		return &core.DuplicateNameError{Name: d.Name}
	}
	r.descriptors[d.Name] = d
	r.order = append(r.order, d.Name)
	r.logger.Debug("registry.register", "agent", d.Name, "operations", len(d.Operations))
	return nil
}

// Get returns the descriptor registered under name, or *core.NotFoundError.
func (r *Registry) Get(name string) (Descriptor, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.descriptors[name]
	if !ok {
		return Descriptor{}, &core.NotFoundError{Kind: "agent", Name: name}
	}
	return d, nil
}

// Names returns agent names in registration order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, len(r.order))
	copy(names, r.order)
	return names
}

// Len returns the number of registered descriptors.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.order)
}

// FindByCapability ranks all registered descriptors against the query. The
// result is a deterministic total order: descending score, ties broken by
// registration order. Scores come from the configured Matcher strategy.
func (r *Registry) FindByCapability(query string) []Match {
	r.mu.RLock()
	defer r.mu.RUnlock()

	position := make(map[string]int, len(r.order))
	matches := make([]Match, 0, len(r.order))
	for i, name := range r.order {
		d := r.descriptors[name]
		position[name] = i
		matches = append(matches, Match{Descriptor: d, Score: r.matcher.Score(query, d)})
	}

	sort.SliceStable(matches, func(i, j int) bool {
		if matches[i].Score != matches[j].Score {
			return matches[i].Score > matches[j].Score
		}
		return position[matches[i].Descriptor.Name] < position[matches[j].Descriptor.Name]
	})

	return matches
}

// AllowedOperation reports whether the named agent may invoke op. Unknown
// agents are never allowed. Implements the bridge's permission check.
func (r *Registry) AllowedOperation(agentName, op string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.descriptors[agentName]
	if !ok {
		return false
	}
	return d.AllowsOperation(op)
}
