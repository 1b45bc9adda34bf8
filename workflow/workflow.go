// Package workflow tracks a session's macro-progress through an ordered,
// closed set of named stages. The state machine owns the session state:
// artifacts and counters are mutated only through its methods, transitions
// move forward only (an explicitly re-enterable revision stage excepted) and
// the whole state round-trips through versioned snapshots.
package workflow

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/hupe1980/agentcouncil/core"
	"github.com/hupe1980/agentcouncil/logging"
)

// Stage is a named phase of macro-progress.
type Stage string

// ErrTerminalStage is returned by Advance on the final stage, which has no
// outgoing transition.
var ErrTerminalStage = errors.New("terminal stage has no outgoing transition")

// Predicate decides whether the current stage is complete. A nil return means
// complete; the error explains what is still missing and is surfaced inside
// StageNotCompleteError.
type Predicate func(view StateView) error

// StateView is a read-only snapshot of session state handed to predicates and
// external readers.
type StateView struct {
	Current   Stage
	Completed []Stage
	Artifacts map[string]string
	Counters  map[string]float64
}

// Artifact returns a named artifact and whether it exists.
func (v StateView) Artifact(name string) (string, bool) {
	a, ok := v.Artifacts[name]
	return a, ok
}

// Counter returns a named counter (zero when absent).
func (v StateView) Counter(name string) float64 { return v.Counters[name] }

// Options configures a StateMachine.
type Options struct {
	// Predicates declares per-stage completion predicates. Stages without a
	// predicate advance unconditionally.
	Predicates map[Stage]Predicate
	// Reentrant marks stages that may be re-entered after completion (e.g.
	// an explicit revision stage).
	Reentrant map[Stage]bool
	Logger    logging.Logger
}

// StateMachine owns one session's workflow state. All methods are safe for
// concurrent use; readers receive copies, never internal references.
type StateMachine struct {
	mu         sync.Mutex
	stages     []Stage
	index      int
	completed  map[Stage]bool
	artifacts  map[string]string
	counters   map[string]float64
	predicates map[Stage]Predicate
	reentrant  map[Stage]bool
	logger     logging.Logger
}

// New constructs a StateMachine positioned at the first stage. The stage set
// is closed and ordered; it needs at least an initial and a terminal stage.
func New(stages []Stage, optFns ...func(o *Options)) (*StateMachine, error) {
	if len(stages) < 2 {
		return nil, fmt.Errorf("workflow needs at least two stages, got %d", len(stages))
	}
	seen := map[Stage]bool{}
	for _, s := range stages {
		if seen[s] {
			return nil, fmt.Errorf("duplicate stage %q", s)
		}
		seen[s] = true
	}

	opts := Options{
		Predicates: map[Stage]Predicate{},
		Reentrant:  map[Stage]bool{},
		Logger:     logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}

	ordered := make([]Stage, len(stages))
	copy(ordered, stages)

	return &StateMachine{
		stages:     ordered,
		completed:  map[Stage]bool{},
		artifacts:  map[string]string{},
		counters:   map[string]float64{},
		predicates: opts.Predicates,
		reentrant:  opts.Reentrant,
		logger:     opts.Logger,
	}, nil
}

// Current returns the current stage.
func (m *StateMachine) Current() Stage {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stages[m.index]
}

// Completed returns the completed stages in stage order.
func (m *StateMachine) Completed() []Stage {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.completedLocked()
}

func (m *StateMachine) completedLocked() []Stage {
	done := make([]Stage, 0, len(m.completed))
	for _, s := range m.stages {
		if m.completed[s] {
			done = append(done, s)
		}
	}
	return done
}

// Progress reports completion as a percentage of the stage set.
func (m *StateMachine) Progress() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return float64(len(m.completed)) / float64(len(m.stages)) * 100
}

// SetArtifact stores a named artifact (partial output, outline, notes).
func (m *StateMachine) SetArtifact(name, value string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.artifacts[name] = value
}

// AddCounter adds delta to a named progress counter and returns the new value.
func (m *StateMachine) AddCounter(name string, delta float64) float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.counters[name] += delta
	return m.counters[name]
}

// View returns a read-only snapshot of the session state.
func (m *StateMachine) View() StateView {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.viewLocked()
}

func (m *StateMachine) viewLocked() StateView {
	artifacts := make(map[string]string, len(m.artifacts))
	for k, v := range m.artifacts {
		artifacts[k] = v
	}
	counters := make(map[string]float64, len(m.counters))
	for k, v := range m.counters {
		counters[k] = v
	}
	return StateView{
		Current:   m.stages[m.index],
		Completed: m.completedLocked(),
		Artifacts: artifacts,
		Counters:  counters,
	}
}

// StateMap exposes the snapshot as a template-friendly mapping.
func (v StateView) StateMap() map[string]any {
	state := map[string]any{"stage": string(v.Current)}
	keys := make([]string, 0, len(v.Artifacts))
	for k := range v.Artifacts {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		state[k] = v.Artifacts[k]
	}
	for k, c := range v.Counters {
		state[k] = c
	}
	return state
}

// Advance moves to the next stage. Without force it first evaluates the
// current stage's completion predicate and fails with
// *core.StageNotCompleteError when unmet. A forced transition bypasses the
// predicate for human override and is logged. The terminal stage has no
// outgoing transition.
func (m *StateMachine) Advance(force bool) (Stage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	current := m.stages[m.index]
	if m.index == len(m.stages)-1 {
		return current, ErrTerminalStage
	}

	if !force {
		if pred, ok := m.predicates[current]; ok && pred != nil {
			if err := pred(m.viewLocked()); err != nil {
				return current, &core.StageNotCompleteError{
					Stage:  string(current),
					Reason: err.Error(),
				}
			}
		}
	} else {
		m.logger.Warn("workflow.advance.forced", "stage", string(current))
	}

	m.completed[current] = true
	m.index++
	next := m.stages[m.index]
	m.logger.Info("workflow.advance", "from", string(current), "to", string(next), "forced", force)
	return next, nil
}

// ReEnter moves back to a previously completed stage. Only stages declared
// re-enterable (by design, a revision stage) accept this; everything else
// keeps the forward-only invariant.
func (m *StateMachine) ReEnter(stage Stage) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.reentrant[stage] {
		return fmt.Errorf("stage %q is not re-enterable", stage)
	}
	if !m.completed[stage] {
		return fmt.Errorf("stage %q has not been completed", stage)
	}
	for i, s := range m.stages {
		if s == stage {
			delete(m.completed, stage)
			m.index = i
			m.logger.Info("workflow.reenter", "stage", string(stage))
			return nil
		}
	}
	return &core.NotFoundError{Kind: "stage", Name: string(stage)}
}

// Stages returns the ordered stage set.
func (m *StateMachine) Stages() []Stage {
	m.mu.Lock()
	defer m.mu.Unlock()
	stages := make([]Stage, len(m.stages))
	copy(stages, m.stages)
	return stages
}
