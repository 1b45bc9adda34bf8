package agent

import (
	"context"
	"fmt"
	"time"

	"github.com/hupe1980/agentcouncil/bridge"
	"github.com/hupe1980/agentcouncil/core"
	"github.com/hupe1980/agentcouncil/internal/util"
	"github.com/hupe1980/agentcouncil/logging"
	"github.com/hupe1980/agentcouncil/model"
	"github.com/hupe1980/agentcouncil/registry"
)

// ModelAgentOptions configures a ModelAgent.
type ModelAgentOptions struct {
	// Bridge routes the agent's backend operations. Without a bridge the
	// agent is generation-only.
	Bridge *bridge.Bridge
	// MaxOperationRounds bounds the generate -> invoke -> generate loop so a
	// misbehaving model cannot spin forever.
	MaxOperationRounds int
	// OperationTimeout bounds each backend invocation.
	OperationTimeout time.Duration
	Logger           logging.Logger
}

// ModelAgent drives a language model, exposing the agent's permitted backend
// operations as callable tools. Operation results (or failures) are fed back
// to the model and recorded on the reply; the agent decides itself whether to
// retry or report a failure upward — nothing is retried on its behalf.
type ModelAgent struct {
	descriptor registry.Descriptor
	mdl        model.Model
	brg        *bridge.Bridge
	maxRounds  int
	opTimeout  time.Duration
	logger     logging.Logger
}

// NewModelAgent constructs a ModelAgent from a descriptor and model backend.
func NewModelAgent(d registry.Descriptor, mdl model.Model, optFns ...func(o *ModelAgentOptions)) *ModelAgent {
	opts := ModelAgentOptions{
		MaxOperationRounds: 4,
		OperationTimeout:   30 * time.Second,
		Logger:             logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &ModelAgent{
		descriptor: d,
		mdl:        mdl,
		brg:        opts.Bridge,
		maxRounds:  opts.MaxOperationRounds,
		opTimeout:  opts.OperationTimeout,
		logger:     opts.Logger,
	}
}

// Name implements Agent.
func (a *ModelAgent) Name() string { return a.descriptor.Name }

// Descriptor implements Agent.
func (a *ModelAgent) Descriptor() registry.Descriptor { return a.descriptor }

// Respond implements Agent. It renders the instruction template against
// session state, presents the conversation history and request to the model
// and serves operation calls through the bridge until the model produces a
// plain completion or the round limit is hit.
func (a *ModelAgent) Respond(ctx context.Context, inv Invocation) (*Reply, error) {
	instructions, err := util.RenderTemplate(a.descriptor.Instruction, inv.State)
	if err != nil {
		return nil, fmt.Errorf("render instruction template: %w", err)
	}

	req := model.Request{
		Instructions: instructions,
		Messages:     a.buildMessages(inv),
	}
	if a.brg != nil {
		for _, spec := range a.brg.Specs(a.descriptor.Operations) {
			req.Operations = append(req.Operations, model.OperationDefinition{
				Name:        spec.Name,
				Description: spec.Description,
				Parameters:  spec.Parameters,
			})
		}
	}

	reply := &Reply{}
	for round := 0; ; round++ {
		resp, err := a.mdl.Generate(ctx, req)
		if err != nil {
			return nil, fmt.Errorf("model generation failed for agent %q: %w", a.descriptor.Name, err)
		}
		if len(resp.Calls) == 0 || a.brg == nil || round >= a.maxRounds {
			reply.Content = resp.Text
			return reply, nil
		}

		req.Messages = append(req.Messages, model.Message{
			Role:  "assistant",
			Text:  resp.Text,
			Calls: resp.Calls,
		})
		for _, call := range resp.Calls {
			record, resultText := a.invokeOperation(ctx, call)
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			reply.Invocations = append(reply.Invocations, record)
			req.Messages = append(req.Messages, model.Message{
				Role:   "tool",
				Text:   resultText,
				CallID: call.ID,
			})
		}
	}
}

// invokeOperation runs one operation call through the bridge, returning the
// invocation record for the reply and the result text fed back to the model.
// Failures are recorded verbatim, not swallowed.
func (a *ModelAgent) invokeOperation(ctx context.Context, call model.OperationCall) (core.BackendInvocation, string) {
	record := core.BackendInvocation{Operation: call.Name}

	args, err := call.DecodeArguments()
	if err != nil {
		record.Error = err.Error()
		return record, "error: " + record.Error
	}
	record.Arguments = args

	res, err := a.brg.Invoke(ctx, a.descriptor.Name, bridge.Request{
		Operation: call.Name,
		Arguments: args,
	}, a.opTimeout)
	if err != nil {
		a.logger.Warn("agent.operation.failed", "agent", a.descriptor.Name, "operation", call.Name, "error", err.Error())
		record.Error = err.Error()
		return record, "error: " + record.Error
	}

	record.Provider = res.Provider
	record.Result = res.Payload
	return record, fmt.Sprintf("%v", res.Payload)
}

// buildMessages maps the conversation snapshot into model messages: human
// turns become user messages, the agent's own prior turns become assistant
// messages and other agents' turns are presented as attributed user messages
// (group-chat convention). The request, when distinct from the last human
// turn, is appended as the final user message.
func (a *ModelAgent) buildMessages(inv Invocation) []model.Message {
	messages := make([]model.Message, 0, len(inv.History)+1)
	for _, turn := range inv.History {
		switch {
		case turn.IsHuman():
			messages = append(messages, model.Message{Role: "user", Text: turn.Content})
		case turn.Author == a.descriptor.Name && turn.Role == core.RoleResponse:
			messages = append(messages, model.Message{Role: "assistant", Text: turn.Content})
		case turn.Role == core.RoleSystem:
			messages = append(messages, model.Message{Role: "system", Text: turn.Content})
		default:
			messages = append(messages, model.Message{
				Role: "user",
				Text: fmt.Sprintf("[%s] %s", turn.Author, turn.Content),
			})
		}
	}

	if inv.Request != "" {
		if n := len(messages); n == 0 || messages[n-1].Text != inv.Request {
			messages = append(messages, model.Message{Role: "user", Text: inv.Request})
		}
	}
	return messages
}
