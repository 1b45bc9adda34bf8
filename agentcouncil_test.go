package agentcouncil

import (
	"context"
	"testing"
	"time"

	"github.com/hupe1980/agentcouncil/agent"
	"github.com/hupe1980/agentcouncil/config"
	"github.com/hupe1980/agentcouncil/core"
	"github.com/hupe1980/agentcouncil/groupchat"
	"github.com/hupe1980/agentcouncil/registry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func funcAgent(name, capability, reply string) agent.Agent {
	d := registry.Descriptor{Name: name, Capability: capability}
	return agent.NewFuncAgent(d, func(context.Context, agent.Invocation) (*agent.Reply, error) {
		return &agent.Reply{Content: reply}, nil
	})
}

func TestCouncil_Delegate(t *testing.T) {
	c, err := New()
	require.NoError(t, err)
	defer c.Close()

	require.NoError(t, c.RegisterAgent(funcAgent("searcher", "literature search and source discovery", "found sources")))
	require.NoError(t, c.RegisterAgent(funcAgent("drafter", "drafting and writing document sections", "wrote section")))

	out, err := c.Delegate(context.Background(), "find recent papers on attention")
	require.NoError(t, err)
	assert.Equal(t, "found sources", out.Content)
	require.Len(t, out.Results, 1)
	assert.Equal(t, "searcher", out.Results[0].Agent)
}

func TestCouncil_DuplicateAgentName(t *testing.T) {
	c, err := New()
	require.NoError(t, err)
	defer c.Close()

	require.NoError(t, c.RegisterAgent(funcAgent("solo", "everything", "x")))
	err = c.RegisterAgent(funcAgent("solo", "everything again", "y"))
	var dup *core.DuplicateNameError
	assert.ErrorAs(t, err, &dup)
}

func TestCouncil_SessionRunsWorkflow(t *testing.T) {
	cfg := config.Default()
	cfg.Session.ID = "facade-session"
	cfg.Coordinator.MaxAgentTurns = 1
	cfg.Workflow.Stages = []string{"initialization", "drafting", "completed"}

	c, err := New(func(o *Options) { o.Config = cfg })
	require.NoError(t, err)
	defer c.Close()

	require.NoError(t, c.RegisterAgent(funcAgent("drafter", "drafting document sections", "the draft")))

	session := c.Session()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go session.Run(ctx)

	require.NoError(t, session.Submit("start drafting"))
	require.Eventually(t, func() bool {
		return session.Phase() == groupchat.PhaseAwaitingHuman && len(session.History()) == 2
	}, 2*time.Second, 10*time.Millisecond)

	assert.Equal(t, "drafter", session.History()[1].Author)
	assert.Equal(t, "drafting", string(c.Workflow().Current()))

	// The checkpoint written by the session restores into the same stage.
	require.NoError(t, c.RestoreWorkflow(context.Background(), "facade-session"))
	assert.Equal(t, "drafting", string(c.Workflow().Current()))
}
