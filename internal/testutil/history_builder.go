// Package testutil contains helper builders used across tests to reduce
// boilerplate when constructing conversation histories. These helpers are
// intentionally minimal and avoid adding third-party dependencies. They are
// not intended for production usage.
package testutil

import (
	"github.com/hupe1980/agentcouncil/core"
)

// HistoryBuilder constructs turn sequences with fluent chaining for tests.
// Example:
//
//	turns := NewHistory().Human("start").Agent("drafter", "done").Build()
//
// Sequence numbers are assigned in order, starting at 1.
type HistoryBuilder struct {
	turns []core.Turn
}

// NewHistory creates an empty builder.
func NewHistory() *HistoryBuilder { return &HistoryBuilder{} }

// Human appends a human request turn (chainable).
func (b *HistoryBuilder) Human(content string) *HistoryBuilder {
	return b.append(core.NewHumanTurn(content))
}

// Agent appends an agent response turn (chainable).
func (b *HistoryBuilder) Agent(name, content string) *HistoryBuilder {
	return b.append(core.NewTurn(name, core.RoleResponse, content))
}

// System appends a system annotation turn (chainable).
func (b *HistoryBuilder) System(author, content string) *HistoryBuilder {
	return b.append(core.NewSystemTurn(author, content))
}

// Turn appends an arbitrary turn (chainable). Its Seq is overwritten to keep
// the sequence gapless.
func (b *HistoryBuilder) Turn(t core.Turn) *HistoryBuilder {
	return b.append(t)
}

func (b *HistoryBuilder) append(t core.Turn) *HistoryBuilder {
	t.Seq = uint64(len(b.turns)) + 1
	b.turns = append(b.turns, t)
	return b
}

// Build returns the accumulated turn sequence.
func (b *HistoryBuilder) Build() []core.Turn {
	turns := make([]core.Turn, len(b.turns))
	copy(turns, b.turns)
	return turns
}
