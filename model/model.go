package model

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
)

// Message is one conversational message presented to a model.
type Message struct {
	// Role is "system", "user", "assistant" or "tool".
	Role string `json:"role"`
	Text string `json:"text,omitempty"`
	// Calls carries assistant-issued operation calls (role "assistant").
	Calls []OperationCall `json:"calls,omitempty"`
	// CallID links a role "tool" message to the call it answers.
	CallID string `json:"call_id,omitempty"`
}

// OperationCall is a structured backend-operation request produced by a model.
type OperationCall struct {
	ID        string          `json:"id,omitempty"`
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments,omitempty"`
}

// DecodeArguments unmarshals the call's argument payload into a mapping.
func (c OperationCall) DecodeArguments() (map[string]any, error) {
	if len(c.Arguments) == 0 {
		return map[string]any{}, nil
	}
	var args map[string]any
	if err := json.Unmarshal(c.Arguments, &args); err != nil {
		return nil, fmt.Errorf("decode arguments for %q: %w", c.Name, err)
	}
	return args, nil
}

// OperationDefinition declaratively exposes a backend operation to the model.
// Parameters is a minimal JSON schema.
type OperationDefinition struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Parameters  map[string]any `json:"parameters,omitempty"`
}

// Request captures the normalized model input produced by an agent turn.
type Request struct {
	Instructions string                `json:"instructions,omitempty"`
	Messages     []Message             `json:"messages"`
	Operations   []OperationDefinition `json:"operations,omitempty"`
}

// Response is the complete payload of one generation.
type Response struct {
	Text         string          `json:"text,omitempty"`
	Calls        []OperationCall `json:"calls,omitempty"`
	FinishReason string          `json:"finish_reason,omitempty"`
}

// Info contains metadata about a model implementation.
type Info struct {
	Name          string `json:"name"`
	Provider      string `json:"provider"`
	SupportsTools bool   `json:"supports_tools"`
}

// Model is the minimal interface agents require to drive generation.
// Generate blocks until a complete payload is available or ctx is done.
type Model interface {
	Generate(ctx context.Context, req Request) (*Response, error)
	Info() Info
}

// MockModel is a scripted in-memory Model for tests and examples. Responses
// can be queued (consumed in order) or keyed on a substring of the last
// message; unmatched requests fall back to a deterministic echo.
type MockModel struct {
	mu        sync.Mutex
	info      Info
	queue     []*Response
	triggered map[string]*Response
}

// NewMockModel constructs a MockModel with tool support enabled.
func NewMockModel(name string) *MockModel {
	return &MockModel{
		info:      Info{Name: name, Provider: "mock", SupportsTools: true},
		triggered: make(map[string]*Response),
	}
}

// Enqueue appends responses consumed in FIFO order before any trigger match.
func (m *MockModel) Enqueue(responses ...*Response) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.queue = append(m.queue, responses...)
}

// RespondTo registers a canned response returned whenever the last message
// contains trigger.
func (m *MockModel) RespondTo(trigger string, resp *Response) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.triggered[trigger] = resp
}

// Generate implements Model.
func (m *MockModel) Generate(ctx context.Context, req Request) (*Response, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.queue) > 0 {
		resp := m.queue[0]
		m.queue = m.queue[1:]
		return resp, nil
	}

	var last string
	if n := len(req.Messages); n > 0 {
		last = req.Messages[n-1].Text
	}
	triggers := make([]string, 0, len(m.triggered))
	for trigger := range m.triggered {
		triggers = append(triggers, trigger)
	}
	sort.Strings(triggers) // deterministic match order
	for _, trigger := range triggers {
		if strings.Contains(last, trigger) {
			return m.triggered[trigger], nil
		}
	}

	return &Response{Text: fmt.Sprintf("Mock response to: %s", last), FinishReason: "stop"}, nil
}

// Info implements Model.
func (m *MockModel) Info() Info { return m.info }
