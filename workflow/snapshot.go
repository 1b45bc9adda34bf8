package workflow

import (
	"encoding/json"
	"fmt"

	"github.com/hupe1980/agentcouncil/core"
)

// SnapshotVersion is the envelope version written by Save. Restore rejects
// any other version rather than guessing at the layout.
const SnapshotVersion = 1

type snapshot struct {
	Version      int                `json:"version"`
	Stages       []Stage            `json:"stages"`
	Current      Stage              `json:"current"`
	Completed    []Stage            `json:"completed"`
	ArtifactKeys []string           `json:"artifact_keys"`
	Artifacts    map[string]string  `json:"artifacts"`
	Counters     map[string]float64 `json:"counters"`
}

// Save serializes the full session state into a versioned snapshot. The
// snapshot is self-contained: restoring it yields a state machine
// observationally equal to this one.
func (m *StateMachine) Save() ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	view := m.viewLocked()
	snap := snapshot{
		Version:   SnapshotVersion,
		Stages:    make([]Stage, len(m.stages)),
		Current:   view.Current,
		Completed: view.Completed,
		Artifacts: view.Artifacts,
		Counters:  view.Counters,
	}
	copy(snap.Stages, m.stages)
	for k := range view.Artifacts {
		snap.ArtifactKeys = append(snap.ArtifactKeys, k)
	}

	data, err := json.Marshal(snap)
	if err != nil {
		return nil, fmt.Errorf("marshal workflow snapshot: %w", err)
	}
	return data, nil
}

// Restore rebuilds a StateMachine from a snapshot produced by Save. The
// snapshot is validated before any state is adopted; a malformed or
// inconsistent one fails with *core.CorruptSnapshotError and nothing is
// restored. Predicates, re-entrancy and logging are runtime configuration and
// are supplied fresh via optFns.
func Restore(data []byte, optFns ...func(o *Options)) (*StateMachine, error) {
	var snap snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, &core.CorruptSnapshotError{Reason: fmt.Sprintf("invalid JSON: %v", err)}
	}
	if snap.Version != SnapshotVersion {
		return nil, &core.CorruptSnapshotError{Reason: fmt.Sprintf("unknown snapshot version %d", snap.Version)}
	}
	if len(snap.Stages) < 2 {
		return nil, &core.CorruptSnapshotError{Reason: "stage set is missing or too small"}
	}

	known := map[Stage]bool{}
	for _, s := range snap.Stages {
		if known[s] {
			return nil, &core.CorruptSnapshotError{Reason: fmt.Sprintf("duplicate stage %q", s)}
		}
		known[s] = true
	}
	if !known[snap.Current] {
		return nil, &core.CorruptSnapshotError{Reason: fmt.Sprintf("current stage %q is not in the stage set", snap.Current)}
	}
	for _, s := range snap.Completed {
		if !known[s] {
			return nil, &core.CorruptSnapshotError{Reason: fmt.Sprintf("completed stage %q is not in the stage set", s)}
		}
	}
	for _, k := range snap.ArtifactKeys {
		if _, ok := snap.Artifacts[k]; !ok {
			return nil, &core.CorruptSnapshotError{Reason: fmt.Sprintf("artifact %q is listed but missing", k)}
		}
	}

	m, err := New(snap.Stages, optFns...)
	if err != nil {
		return nil, &core.CorruptSnapshotError{Reason: err.Error()}
	}
	for i, s := range snap.Stages {
		if s == snap.Current {
			m.index = i
		}
	}
	for _, s := range snap.Completed {
		m.completed[s] = true
	}
	for k, v := range snap.Artifacts {
		m.artifacts[k] = v
	}
	for k, v := range snap.Counters {
		m.counters[k] = v
	}
	return m, nil
}
