// Package agentcouncil provides a high-level façade over the coordination
// primitives (conversation log, registry, bridge, router, group chat and
// workflow tracking) enabling rapid construction of multi-agent sessions.
// Most applications interact with this package by:
//  1. Creating a Council via New() (optionally from a config.Config)
//  2. Registering agents and backend providers
//  3. Starting a group-chat session (Session) or delegating one-off requests
//     (Delegate)
//
// The façade delegates turn taking to groupchat.Coordinator and capability
// matching to router.Router while keeping setup ergonomics concise. All
// defaults are safe for local development and testing; production deployments
// typically supply a durable snapshot store and a structured logger.
package agentcouncil

import (
	"context"
	"fmt"

	"github.com/hupe1980/agentcouncil/agent"
	"github.com/hupe1980/agentcouncil/bridge"
	"github.com/hupe1980/agentcouncil/config"
	"github.com/hupe1980/agentcouncil/groupchat"
	"github.com/hupe1980/agentcouncil/logging"
	"github.com/hupe1980/agentcouncil/registry"
	"github.com/hupe1980/agentcouncil/router"
	"github.com/hupe1980/agentcouncil/store"
	"github.com/hupe1980/agentcouncil/workflow"
)

// Options configures a Council.
type Options struct {
	// Config supplies tuning for the coordinator, router, bridge and store.
	// Defaults to config.Default().
	Config *config.Config
	// Snapshots persists workflow checkpoints. Defaults to an in-memory store;
	// overridden by Config.Store when a Config is given.
	Snapshots store.SnapshotStore
	// Workflow, when set, is advanced and checkpointed by group-chat sessions.
	Workflow *workflow.StateMachine
	// Logger defaults to NoOpLogger.
	Logger logging.Logger
}

// Council is the high-level façade aggregating the registry, the bridge and
// the registered agents of one deployment.
type Council struct {
	cfg       *config.Config
	reg       *registry.Registry
	brg       *bridge.Bridge
	agents    []agent.Agent
	snapshots store.SnapshotStore
	machine   *workflow.StateMachine
	logger    logging.Logger
}

// New creates a Council. Any unset service is initialized with an in-memory
// implementation.
func New(optFns ...func(o *Options)) (*Council, error) {
	opts := Options{
		Config: config.Default(),
		Logger: logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}

	snapshots := opts.Snapshots
	if snapshots == nil {
		var err error
		snapshots, err = openStore(opts.Config.Store)
		if err != nil {
			return nil, err
		}
	}

	machine := opts.Workflow
	if machine == nil && len(opts.Config.Workflow.Stages) > 0 {
		stages := make([]workflow.Stage, len(opts.Config.Workflow.Stages))
		for i, s := range opts.Config.Workflow.Stages {
			stages[i] = workflow.Stage(s)
		}
		reentrant := make(map[workflow.Stage]bool, len(opts.Config.Workflow.Reentrant))
		for _, s := range opts.Config.Workflow.Reentrant {
			reentrant[workflow.Stage(s)] = true
		}
		var err error
		machine, err = workflow.New(stages, func(o *workflow.Options) {
			o.Reentrant = reentrant
			o.Logger = opts.Logger
		})
		if err != nil {
			return nil, err
		}
	}

	reg := registry.New(func(o *registry.Options) {
		o.Logger = opts.Logger
	})
	brg := bridge.New(reg, func(o *bridge.Options) {
		o.DefaultTimeout = opts.Config.Bridge.DefaultTimeout.Std()
		o.Logger = opts.Logger
	})

	return &Council{
		cfg:       opts.Config,
		reg:       reg,
		brg:       brg,
		snapshots: snapshots,
		machine:   machine,
		logger:    opts.Logger,
	}, nil
}

// openStore builds the snapshot backend selected by cfg.
func openStore(cfg config.StoreConfig) (store.SnapshotStore, error) {
	switch cfg.Backend {
	case "", "memory":
		return store.NewMemoryStore(), nil
	case "sqlite":
		return store.NewSQLiteStore(cfg.Path)
	case "redis":
		return store.NewRedisStore(cfg.Addr, func(o *store.RedisStoreOptions) {
			if cfg.KeyPrefix != "" {
				o.KeyPrefix = cfg.KeyPrefix
			}
		})
	default:
		return nil, fmt.Errorf("unknown snapshot backend %q", cfg.Backend)
	}
}

// Registry exposes the council's agent registry.
func (c *Council) Registry() *registry.Registry { return c.reg }

// Bridge exposes the council's capability-provider bridge.
func (c *Council) Bridge() *bridge.Bridge { return c.brg }

// Workflow exposes the council's workflow state machine, if configured.
func (c *Council) Workflow() *workflow.StateMachine { return c.machine }

// RegisterAgent registers an agent's descriptor and keeps its implementation
// for sessions and delegation.
func (c *Council) RegisterAgent(a agent.Agent) error {
	if err := c.reg.Register(a.Descriptor()); err != nil {
		return err
	}
	c.agents = append(c.agents, a)
	return nil
}

// RegisterProvider registers a backend capability provider on the bridge.
func (c *Council) RegisterProvider(p bridge.Provider, optFns ...func(o *bridge.ProviderOptions)) error {
	return c.brg.RegisterProvider(p, optFns...)
}

// Session starts a group-chat coordinator over the registered agents. The
// caller drives it with Coordinator.Run, Submit and Interrupt.
func (c *Council) Session(optFns ...func(o *groupchat.Options)) *groupchat.Coordinator {
	return groupchat.New(c.reg, c.agents, func(o *groupchat.Options) {
		if c.cfg.Session.ID != "" {
			o.SessionID = c.cfg.Session.ID
		}
		o.Selector = groupchat.NewRuleSelector(func(so *groupchat.RuleSelectorOptions) {
			so.MaxAgentTurns = c.cfg.Coordinator.MaxAgentTurns
		})
		o.Workflow = c.machine
		o.Snapshots = c.snapshots
		o.Logger = c.logger
		for _, fn := range optFns {
			fn(o)
		}
	})
}

// Delegate routes a one-off request to the best-matching registered agents.
func (c *Council) Delegate(ctx context.Context, request string) (*router.Outcome, error) {
	var merge router.MergePolicy = router.PrimaryWithNotes{}
	if c.cfg.Router.Merge == "concat" {
		merge = router.Concat{}
	}
	r := router.New(c.reg, c.agents, func(o *router.Options) {
		o.Threshold = c.cfg.Router.Threshold
		o.FanOut = c.cfg.Router.FanOut
		o.MaxConcurrent = c.cfg.Router.MaxConcurrent
		o.Merge = merge
		o.Logger = c.logger
	})
	return r.Route(ctx, request)
}

// RestoreWorkflow replaces the council's workflow state machine with one
// restored from the snapshot stored under sessionID.
func (c *Council) RestoreWorkflow(ctx context.Context, sessionID string) error {
	data, err := c.snapshots.Load(ctx, sessionID)
	if err != nil {
		return err
	}
	machine, err := workflow.Restore(data, func(o *workflow.Options) {
		o.Logger = c.logger
	})
	if err != nil {
		return err
	}
	c.machine = machine
	return nil
}

// Close releases the snapshot store.
func (c *Council) Close() error {
	if c.snapshots == nil {
		return nil
	}
	return c.snapshots.Close()
}
