package router

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"

	"github.com/hupe1980/agentcouncil/agent"
	"github.com/hupe1980/agentcouncil/core"
	"github.com/hupe1980/agentcouncil/registry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func echoAgent(d registry.Descriptor, reply string, invoked *atomic.Int32) agent.Agent {
	return agent.NewFuncAgent(d, func(ctx context.Context, inv agent.Invocation) (*agent.Reply, error) {
		if invoked != nil {
			invoked.Add(1)
		}
		return &agent.Reply{Content: reply}, nil
	})
}

func failingAgent(d registry.Descriptor, err error) agent.Agent {
	return agent.NewFuncAgent(d, func(context.Context, agent.Invocation) (*agent.Reply, error) {
		return nil, err
	})
}

func buildRegistry(t *testing.T, descriptors ...registry.Descriptor) *registry.Registry {
	t.Helper()
	reg := registry.New()
	for _, d := range descriptors {
		require.NoError(t, reg.Register(d))
	}
	return reg
}

func TestRoute_SelectsBestMatch(t *testing.T) {
	search := registry.Descriptor{Name: "searcher", Capability: "literature search and source discovery"}
	draft := registry.Descriptor{Name: "drafter", Capability: "drafting and writing document sections"}
	reg := buildRegistry(t, search, draft)

	var searchCalls, draftCalls atomic.Int32
	r := New(reg, []agent.Agent{
		echoAgent(search, "sources found", &searchCalls),
		echoAgent(draft, "section written", &draftCalls),
	})

	out, err := r.Route(context.Background(), "find recent papers on transformers")
	require.NoError(t, err)
	assert.Equal(t, "sources found", out.Content)
	assert.Equal(t, int32(1), searchCalls.Load())
	assert.Equal(t, int32(0), draftCalls.Load(), "only the winner is invoked in single-winner mode")
}

func TestRoute_NoCapableAgent(t *testing.T) {
	d := registry.Descriptor{Name: "drafter", Capability: "drafting document sections"}
	reg := buildRegistry(t, d)

	var calls atomic.Int32
	r := New(reg, []agent.Agent{echoAgent(d, "x", &calls)}, func(o *Options) {
		o.Threshold = 0.9
	})

	_, err := r.Route(context.Background(), "completely unrelated astrophysics question")
	var nca *core.NoCapableAgentError
	require.ErrorAs(t, err, &nca)
	assert.Equal(t, 0.9, nca.Threshold)
	assert.Equal(t, int32(0), calls.Load(), "no agent may be invoked below the threshold")
}

func TestRoute_FanOutCollectsAllResults(t *testing.T) {
	a := registry.Descriptor{Name: "reviewer_a", Capability: "review and editing of drafts"}
	b := registry.Descriptor{Name: "reviewer_b", Capability: "review and proofreading of drafts"}
	reg := buildRegistry(t, a, b)

	r := New(reg, []agent.Agent{
		echoAgent(a, "looks good", nil),
		echoAgent(b, "two typos", nil),
	}, func(o *Options) {
		o.FanOut = 2
	})

	out, err := r.Route(context.Background(), "review the draft")
	require.NoError(t, err)
	require.Len(t, out.Results, 2)
	assert.Contains(t, out.Content, "looks good")
	assert.Contains(t, out.Content, "[reviewer_b] two typos")
}

func TestRoute_PartialFailureIsReportedNotFatal(t *testing.T) {
	a := registry.Descriptor{Name: "reviewer_a", Capability: "review and editing of drafts"}
	b := registry.Descriptor{Name: "reviewer_b", Capability: "review and proofreading of drafts"}
	reg := buildRegistry(t, a, b)

	r := New(reg, []agent.Agent{
		failingAgent(a, errors.New("model unavailable")),
		echoAgent(b, "two typos", nil),
	}, func(o *Options) {
		o.FanOut = 2
	})

	out, err := r.Route(context.Background(), "review the draft")
	require.NoError(t, err)
	require.Len(t, out.Results, 1)
	assert.Equal(t, "reviewer_b", out.Results[0].Agent)
	require.Contains(t, out.Failures, "reviewer_a")
}

func TestRoute_AllDelegatesFailed(t *testing.T) {
	a := registry.Descriptor{Name: "reviewer_a", Capability: "review and editing of drafts"}
	b := registry.Descriptor{Name: "reviewer_b", Capability: "review and proofreading of drafts"}
	reg := buildRegistry(t, a, b)

	r := New(reg, []agent.Agent{
		failingAgent(a, errors.New("down")),
		failingAgent(b, errors.New("also down")),
	}, func(o *Options) {
		o.FanOut = 2
	})

	_, err := r.Route(context.Background(), "review the draft")
	var adf *core.AllDelegatesFailedError
	require.ErrorAs(t, err, &adf)
	assert.Len(t, adf.Failures, 2)
}

func TestRoute_DelegatesAreRequestScoped(t *testing.T) {
	d := registry.Descriptor{Name: "drafter", Capability: "drafting document sections"}
	reg := buildRegistry(t, d)

	var sawHistory bool
	a := agent.NewFuncAgent(d, func(_ context.Context, inv agent.Invocation) (*agent.Reply, error) {
		sawHistory = len(inv.History) > 0
		return &agent.Reply{Content: "ok"}, nil
	})

	_, err := New(reg, []agent.Agent{a}).Route(context.Background(), "draft the abstract")
	require.NoError(t, err)
	assert.False(t, sawHistory, "delegation invocations carry no conversation history")
}

func TestRoute_ConcatMerge(t *testing.T) {
	a := registry.Descriptor{Name: "a", Capability: "review drafts"}
	b := registry.Descriptor{Name: "b", Capability: "review drafts carefully"}
	reg := buildRegistry(t, a, b)

	r := New(reg, []agent.Agent{
		echoAgent(a, "first", nil),
		echoAgent(b, "second", nil),
	}, func(o *Options) {
		o.FanOut = 2
		o.Merge = Concat{}
	})

	out, err := r.Route(context.Background(), "review the draft")
	require.NoError(t, err)
	assert.Contains(t, out.Content, "[a] first")
	assert.Contains(t, out.Content, "[b] second")
}

func TestRoute_Cancellation(t *testing.T) {
	d := registry.Descriptor{Name: "drafter", Capability: "drafting document sections"}
	reg := buildRegistry(t, d)
	r := New(reg, []agent.Agent{echoAgent(d, "x", nil)})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := r.Route(ctx, "draft the abstract")
	assert.ErrorIs(t, err, context.Canceled)
}
