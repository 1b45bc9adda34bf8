// Package router delegates sub-tasks to capability-matched agents. Routing is
// a two-phase operation: rank registered descriptors against the request,
// then invoke the winner (or a bounded fan-out of top candidates) with a
// request-scoped invocation that carries no conversation history.
package router

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/hupe1980/agentcouncil/agent"
	"github.com/hupe1980/agentcouncil/core"
	"github.com/hupe1980/agentcouncil/logging"
	"github.com/hupe1980/agentcouncil/registry"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
)

// MergePolicy combines fan-out results into one delegation outcome.
type MergePolicy interface {
	// Merge receives per-agent results in rank order (best match first).
	// Failed delegates are absent; Merge is never called with zero results.
	Merge(results []DelegateResult) string
}

// DelegateResult is one successful delegate's contribution.
type DelegateResult struct {
	Agent string
	Score float64
	Reply *agent.Reply
}

// PrimaryWithNotes keeps the best-ranked reply as the answer and appends the
// remaining replies as attributed notes.
type PrimaryWithNotes struct{}

// Merge implements MergePolicy.
func (PrimaryWithNotes) Merge(results []DelegateResult) string {
	var sb strings.Builder
	sb.WriteString(results[0].Reply.Content)
	for _, r := range results[1:] {
		sb.WriteString(fmt.Sprintf("\n\n[%s] %s", r.Agent, r.Reply.Content))
	}
	return sb.String()
}

// Concat joins all replies with attribution, in rank order.
type Concat struct{}

// Merge implements MergePolicy.
func (Concat) Merge(results []DelegateResult) string {
	parts := make([]string, 0, len(results))
	for _, r := range results {
		parts = append(parts, fmt.Sprintf("[%s] %s", r.Agent, r.Reply.Content))
	}
	return strings.Join(parts, "\n\n")
}

// Options configures a Router.
type Options struct {
	// Threshold is the minimum capability score an agent must reach to be
	// invoked at all.
	Threshold float64
	// FanOut is the maximum number of top-ranked agents invoked per request.
	// 1 means single-winner delegation.
	FanOut int
	// MaxConcurrent bounds how many delegates run at once during fan-out.
	MaxConcurrent int64
	// Merge combines fan-out results. Defaults to PrimaryWithNotes.
	Merge  MergePolicy
	Logger logging.Logger
}

// Router delegates requests to agents by capability match.
type Router struct {
	registry  *registry.Registry
	agents    map[string]agent.Agent
	threshold float64
	fanOut    int
	maxConc   int64
	merge     MergePolicy
	logger    logging.Logger
}

// Outcome is the result of one routed request.
type Outcome struct {
	// Content is the merged delegation answer.
	Content string
	// Results lists the successful delegates in rank order.
	Results []DelegateResult
	// Failures maps failed delegate names to their errors. Partial failure is
	// reported here, not as a routing error.
	Failures map[string]error
}

// New constructs a Router over a registry and the agents implementing its
// descriptors. Agents are keyed by descriptor name.
func New(reg *registry.Registry, agents []agent.Agent, optFns ...func(o *Options)) *Router {
	opts := Options{
		Threshold:     0.05,
		FanOut:        1,
		MaxConcurrent: 4,
		Merge:         PrimaryWithNotes{},
		Logger:        logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}

	byName := make(map[string]agent.Agent, len(agents))
	for _, a := range agents {
		byName[a.Name()] = a
	}

	return &Router{
		registry:  reg,
		agents:    byName,
		threshold: opts.Threshold,
		fanOut:    opts.FanOut,
		maxConc:   opts.MaxConcurrent,
		merge:     opts.Merge,
		logger:    opts.Logger,
	}
}

// Route delegates request to the best-matching agents. No agent is invoked
// unless it scores above the threshold; an empty candidate set fails fast
// with *core.NoCapableAgentError. When every invoked delegate fails the
// routing fails with *core.AllDelegatesFailedError instead of returning a
// partial aggregate.
//
// Delegate invocations are request-scoped: they see the request text only,
// never the session conversation.
func (r *Router) Route(ctx context.Context, request string) (*Outcome, error) {
	candidates := r.candidates(request)
	if len(candidates) == 0 {
		r.logger.Info("router.no_capable_agent", "request", request, "threshold", r.threshold)
		return nil, &core.NoCapableAgentError{Query: request, Threshold: r.threshold}
	}

	r.logger.Debug("router.route", "request", request, "candidates", len(candidates))
	results, failures := r.invoke(ctx, request, candidates)
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(results) == 0 {
		return nil, &core.AllDelegatesFailedError{Query: request, Failures: failures}
	}

	return &Outcome{
		Content:  r.merge.Merge(results),
		Results:  results,
		Failures: failures,
	}, nil
}

// candidates ranks the registry and keeps the top FanOut matches above the
// threshold that have a registered agent implementation.
func (r *Router) candidates(request string) []registry.Match {
	var candidates []registry.Match
	for _, m := range r.registry.FindByCapability(request) {
		if m.Score < r.threshold {
			break
		}
		if _, ok := r.agents[m.Descriptor.Name]; !ok {
			continue
		}
		candidates = append(candidates, m)
		if len(candidates) == r.fanOut {
			break
		}
	}
	return candidates
}

// invoke runs all candidates concurrently under a semaphore and collects
// every result. Individual failures never terminate the group early; the
// caller decides what a fully failed fan-out means.
func (r *Router) invoke(ctx context.Context, request string, candidates []registry.Match) ([]DelegateResult, map[string]error) {
	type slot struct {
		reply *agent.Reply
		err   error
	}
	slots := make([]slot, len(candidates))

	sem := semaphore.NewWeighted(r.maxConc)
	g, gctx := errgroup.WithContext(ctx)
	var mu sync.Mutex

	for i, m := range candidates {
		i, m := i, m
		g.Go(func() error {
			if err := sem.Acquire(gctx, 1); err != nil {
				mu.Lock()
				slots[i] = slot{err: err}
				mu.Unlock()
				return nil
			}
			defer sem.Release(1)

			reply, err := r.agents[m.Descriptor.Name].Respond(gctx, agent.Invocation{Request: request})
			mu.Lock()
			slots[i] = slot{reply: reply, err: err}
			mu.Unlock()
			if err != nil {
				r.logger.Warn("router.delegate.failed", "agent", m.Descriptor.Name, "error", err.Error())
			}
			return nil // collect all results, never fail the group early
		})
	}
	_ = g.Wait()

	results := make([]DelegateResult, 0, len(candidates))
	failures := map[string]error{}
	for i, m := range candidates {
		if slots[i].err != nil {
			failures[m.Descriptor.Name] = slots[i].err
			continue
		}
		results = append(results, DelegateResult{
			Agent: m.Descriptor.Name,
			Score: m.Score,
			Reply: slots[i].reply,
		})
	}
	return results, failures
}
