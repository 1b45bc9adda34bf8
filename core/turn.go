package core

import (
	"time"

	"github.com/google/uuid"
)

// Role classifies the conversational intent of a Turn.
type Role string

const (
	// RoleRequest marks a turn asking for work (typically human-authored).
	RoleRequest Role = "request"
	// RoleResponse marks a turn produced by an agent.
	RoleResponse Role = "response"
	// RoleSystem marks coordinator or operator annotations.
	RoleSystem Role = "system"
)

// HumanAuthor is the reserved author identity for the human participant.
const HumanAuthor = "human"

// BackendInvocation records one backend operation performed while producing a
// turn. Either Result or Error is set; a failed invocation is recorded on the
// turn that requested it and surfaced to the agent, never silently dropped.
type BackendInvocation struct {
	Operation string         `json:"operation"`
	Provider  string         `json:"provider,omitempty"`
	Arguments map[string]any `json:"arguments,omitempty"`
	Result    any            `json:"result,omitempty"`
	Error     string         `json:"error,omitempty"`
}

// Turn is one immutable contribution to a session's conversation. Seq is
// assigned by the ConversationLog on append and is strictly increasing and
// gapless within a session.
type Turn struct {
	ID          string              `json:"id"`
	Seq         uint64              `json:"seq"`
	Author      string              `json:"author"`
	Role        Role                `json:"role"`
	Content     string              `json:"content"`
	Invocations []BackendInvocation `json:"invocations,omitempty"`
	Timestamp   time.Time           `json:"timestamp"`
}

// NewTurn creates an unsequenced turn; Seq is assigned on append.
func NewTurn(author string, role Role, content string) Turn {
	return Turn{
		ID:        NewID(),
		Author:    author,
		Role:      role,
		Content:   content,
		Timestamp: time.Now().UTC(),
	}
}

// NewHumanTurn creates a human-authored request turn.
func NewHumanTurn(content string) Turn {
	return NewTurn(HumanAuthor, RoleRequest, content)
}

// NewSystemTurn creates a coordinator/system annotation turn.
func NewSystemTurn(author, content string) Turn {
	return NewTurn(author, RoleSystem, content)
}

// IsHuman reports whether the turn was authored by the human participant.
func (t Turn) IsHuman() bool { return t.Author == HumanAuthor }

// clone returns a copy whose invocation records share no storage with t, so
// log readers cannot mutate an appended turn in place.
func (t Turn) clone() Turn {
	if len(t.Invocations) == 0 {
		return t
	}
	invs := make([]BackendInvocation, len(t.Invocations))
	for i, inv := range t.Invocations {
		if inv.Arguments != nil {
			inv.Arguments = copyJSONValue(inv.Arguments).(map[string]any)
		}
		inv.Result = copyJSONValue(inv.Result)
		invs[i] = inv
	}
	t.Invocations = invs
	return t
}

// copyJSONValue deep-copies JSON-shaped data (maps, slices, scalars). Other
// types are returned as-is.
func copyJSONValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		m := make(map[string]any, len(val))
		for k, x := range val {
			m[k] = copyJSONValue(x)
		}
		return m
	case []any:
		s := make([]any, len(val))
		for i, x := range val {
			s[i] = copyJSONValue(x)
		}
		return s
	default:
		return v
	}
}

// NewID generates a unique identifier for turns and sessions.
func NewID() string { return uuid.NewString() }
