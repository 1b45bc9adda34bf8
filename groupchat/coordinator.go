// Package groupchat runs a human-in-the-loop session in which multiple agents
// share one conversation under coordinator control. The coordinator owns all
// writes to the conversation log, drives speaker selection and workflow
// advancement, and yields the floor to the human on stop decisions and
// interrupts.
package groupchat

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/hupe1980/agentcouncil/agent"
	"github.com/hupe1980/agentcouncil/core"
	"github.com/hupe1980/agentcouncil/logging"
	"github.com/hupe1980/agentcouncil/registry"
	"github.com/hupe1980/agentcouncil/store"
	"github.com/hupe1980/agentcouncil/workflow"
)

// Phase is the coordinator's control state.
type Phase string

const (
	// PhaseAwaitingHuman means the floor belongs to the human participant.
	PhaseAwaitingHuman Phase = "awaiting_human"
	// PhaseAwaitingNextSpeaker means the coordinator is selecting a speaker.
	PhaseAwaitingNextSpeaker Phase = "awaiting_next_speaker"
	// PhaseAgentActive means an agent invocation is in flight.
	PhaseAgentActive Phase = "agent_active"
	// PhaseTerminated is final; no further turns are accepted.
	PhaseTerminated Phase = "terminated"
)

// ErrTerminated is returned by Submit after the session has terminated.
var ErrTerminated = errors.New("session is terminated")

// CoordinatorName is the author identity used for coordinator annotations.
const CoordinatorName = "coordinator"

// Options configures a Coordinator.
type Options struct {
	// SessionID identifies the session in logs and snapshot storage.
	// Defaults to a fresh unique ID.
	SessionID string
	// Selector decides the next speaker. Defaults to NewRuleSelector().
	Selector SpeakerSelector
	// Workflow, when set, is advanced (unforced) after every successful agent
	// turn and checkpointed to Snapshots.
	Workflow *workflow.StateMachine
	// Snapshots, when set, receives a workflow checkpoint after every
	// successful agent turn.
	Snapshots store.SnapshotStore
	// Policy validates appended turns. Defaults to core.NoBackToBackPolicy.
	Policy core.TurnPolicy
	// TerminateOnStop ends the session on a selector stop decision instead of
	// yielding the floor back to the human (the default).
	TerminateOnStop bool
	Logger          logging.Logger
}

// Coordinator serializes a multi-agent conversation. It is the only writer of
// the session's conversation log; agents never append turns themselves.
type Coordinator struct {
	sessionID string
	log       *core.ConversationLog
	reg       *registry.Registry
	agents    map[string]agent.Agent
	selector  SpeakerSelector
	machine   *workflow.StateMachine
	snapshots store.SnapshotStore
	stopEnds  bool
	logger    logging.Logger

	mu           sync.Mutex
	phase        Phase
	interrupted  bool
	cancelActive context.CancelFunc
	humanInput   chan struct{}
}

// New constructs a Coordinator over a registry and the agents implementing
// its descriptors. The session starts awaiting human input.
func New(reg *registry.Registry, agents []agent.Agent, optFns ...func(o *Options)) *Coordinator {
	opts := Options{
		SessionID: core.NewID(),
		Selector:  NewRuleSelector(),
		Policy:    core.NoBackToBackPolicy,
		Logger:    logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}

	byName := make(map[string]agent.Agent, len(agents))
	for _, a := range agents {
		byName[a.Name()] = a
	}

	return &Coordinator{
		sessionID: opts.SessionID,
		log: core.NewConversationLog(func(o *core.LogOptions) {
			o.Policy = opts.Policy
		}),
		reg:        reg,
		agents:     byName,
		selector:   opts.Selector,
		machine:    opts.Workflow,
		snapshots:  opts.Snapshots,
		stopEnds:   opts.TerminateOnStop,
		logger:     opts.Logger,
		phase:      PhaseAwaitingHuman,
		humanInput: make(chan struct{}, 1),
	}
}

// SessionID returns the session identifier.
func (c *Coordinator) SessionID() string { return c.sessionID }

// Phase returns the coordinator's current control state.
func (c *Coordinator) Phase() Phase {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.phase
}

// History returns a read-only copy of the conversation so far.
func (c *Coordinator) History() []core.Turn { return c.log.Snapshot() }

// Observe streams conversation turns from the given zero-based offset; a
// display surface that lost its place re-attaches with the last offset it saw.
func (c *Coordinator) Observe(ctx context.Context, offset int) <-chan core.Turn {
	return c.log.Observe(ctx, offset)
}

// Submit appends a human turn and hands the floor to the coordinator. It
// fails with ErrTerminated once the session is over.
func (c *Coordinator) Submit(content string) error {
	c.mu.Lock()
	if c.phase == PhaseTerminated {
		c.mu.Unlock()
		return ErrTerminated
	}
	c.mu.Unlock()

	if _, err := c.log.Append(core.NewHumanTurn(content)); err != nil {
		return err
	}
	select {
	case c.humanInput <- struct{}{}:
	default:
	}
	return nil
}

// Interrupt cancels any in-flight agent invocation and returns the floor to
// the human. The interrupted agent's partial output is discarded; the
// conversation log is unchanged by the interrupt.
func (c *Coordinator) Interrupt() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.phase == PhaseTerminated {
		return
	}
	if c.cancelActive != nil {
		c.interrupted = true
		c.cancelActive()
		return
	}
	// Between selection and invocation the interrupt must still win: the
	// flag makes runAgent discard the pending invocation before it starts.
	if c.phase == PhaseAwaitingNextSpeaker {
		c.interrupted = true
	}
	c.phase = PhaseAwaitingHuman
}

// Run drives the session until ctx is cancelled or a session-fatal condition
// occurs. Individual agent failures are recorded as system annotations and
// the session continues; a selection deadlock terminates the session and is
// returned.
func (c *Coordinator) Run(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		switch c.Phase() {
		case PhaseTerminated:
			return nil

		case PhaseAwaitingHuman:
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-c.humanInput:
				// Fresh human input supersedes any pending interrupt.
				c.mu.Lock()
				c.interrupted = false
				if c.phase != PhaseTerminated {
					c.phase = PhaseAwaitingNextSpeaker
				}
				c.mu.Unlock()
			}

		case PhaseAwaitingNextSpeaker:
			name, stop, err := c.selector.Select(c.log.Snapshot(), c.reg, c.stage())
			if err != nil {
				c.setPhase(PhaseTerminated)
				return &core.SelectionDeadlockError{Stage: c.stage(), Reason: err.Error()}
			}
			if stop {
				if c.stopEnds {
					c.logger.Info("groupchat.terminated", "session", c.sessionID)
					c.setPhase(PhaseTerminated)
					return nil
				}
				c.logger.Debug("groupchat.yield", "session", c.sessionID)
				c.setPhase(PhaseAwaitingHuman)
				continue
			}
			a, ok := c.agents[name]
			if !ok {
				c.setPhase(PhaseTerminated)
				return &core.SelectionDeadlockError{
					Stage:  c.stage(),
					Reason: fmt.Sprintf("selected agent %q has no implementation", name),
				}
			}
			c.runAgent(ctx, a)
		}
	}
}

// runAgent invokes one agent turn. Replies are appended atomically after the
// invocation completes; an interrupted or failed invocation appends nothing
// of the agent's output.
func (c *Coordinator) runAgent(ctx context.Context, a agent.Agent) {
	invCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	c.mu.Lock()
	if c.interrupted {
		// Interrupted while the speaker was being selected; the invocation
		// never starts and nothing is appended.
		c.interrupted = false
		c.phase = PhaseAwaitingHuman
		c.mu.Unlock()
		c.logger.Info("groupchat.agent.interrupted", "session", c.sessionID, "agent", a.Name())
		return
	}
	c.phase = PhaseAgentActive
	c.cancelActive = cancel
	c.mu.Unlock()

	inv := agent.Invocation{
		Request: c.lastHumanRequest(),
		History: c.log.Snapshot(),
		Stage:   c.stage(),
	}
	if c.machine != nil {
		inv.State = c.machine.View().StateMap()
	}

	c.logger.Debug("groupchat.agent.start", "session", c.sessionID, "agent", a.Name())
	reply, err := a.Respond(invCtx, inv)

	c.mu.Lock()
	c.cancelActive = nil
	wasInterrupted := c.interrupted
	c.interrupted = false
	c.mu.Unlock()

	if wasInterrupted {
		c.logger.Info("groupchat.agent.interrupted", "session", c.sessionID, "agent", a.Name())
		c.setPhase(PhaseAwaitingHuman)
		return
	}
	if ctx.Err() != nil {
		return // session shutdown; Run's loop reports it
	}
	if err != nil {
		c.logger.Warn("groupchat.agent.failed", "session", c.sessionID, "agent", a.Name(), "error", err.Error())
		annotation := core.NewSystemTurn(CoordinatorName, fmt.Sprintf("agent %q failed: %v", a.Name(), err))
		if _, appendErr := c.log.Append(annotation); appendErr != nil {
			c.logger.Error("groupchat.annotation.rejected", "session", c.sessionID, "error", appendErr.Error())
		}
		c.setPhase(PhaseAwaitingNextSpeaker)
		return
	}

	turn := core.NewTurn(a.Name(), core.RoleResponse, reply.Content)
	turn.Invocations = reply.Invocations
	if _, err := c.log.Append(turn); err != nil {
		c.logger.Warn("groupchat.turn.rejected", "session", c.sessionID, "agent", a.Name(), "error", err.Error())
		c.setPhase(PhaseAwaitingNextSpeaker)
		return
	}

	c.advanceAndCheckpoint(ctx)
	c.setPhase(PhaseAwaitingNextSpeaker)
}

// advanceAndCheckpoint attempts an unforced workflow advance and persists a
// snapshot. An unmet completion predicate is not an error at this level; the
// stage simply stays put until its evidence accumulates.
func (c *Coordinator) advanceAndCheckpoint(ctx context.Context) {
	if c.machine == nil {
		return
	}

	next, err := c.machine.Advance(false)
	switch {
	case err == nil:
		c.logger.Info("groupchat.stage.advanced", "session", c.sessionID, "stage", string(next))
	case errors.Is(err, workflow.ErrTerminalStage):
	default:
		var snc *core.StageNotCompleteError
		if errors.As(err, &snc) {
			c.logger.Debug("groupchat.stage.pending", "session", c.sessionID, "stage", snc.Stage, "reason", snc.Reason)
		}
	}

	if c.snapshots == nil {
		return
	}
	data, err := c.machine.Save()
	if err != nil {
		c.logger.Error("groupchat.checkpoint.failed", "session", c.sessionID, "error", err.Error())
		return
	}
	if err := c.snapshots.Save(ctx, c.sessionID, data); err != nil {
		c.logger.Error("groupchat.checkpoint.failed", "session", c.sessionID, "error", err.Error())
	}
}

func (c *Coordinator) setPhase(p Phase) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.phase == PhaseTerminated {
		return
	}
	c.phase = p
}

func (c *Coordinator) stage() string {
	if c.machine == nil {
		return ""
	}
	return string(c.machine.Current())
}

func (c *Coordinator) lastHumanRequest() string {
	turns := c.log.Snapshot()
	for i := len(turns) - 1; i >= 0; i-- {
		if turns[i].IsHuman() {
			return turns[i].Content
		}
	}
	return ""
}
