package workflow

import (
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"github.com/hupe1980/agentcouncil/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var researchStages = []Stage{
	"initialization",
	"literature_review",
	"drafting",
	"revision",
	"completed",
}

func TestAdvance_PredicateGatesTransition(t *testing.T) {
	m, err := New(researchStages, func(o *Options) {
		o.Predicates = map[Stage]Predicate{
			"literature_review": func(v StateView) error {
				if v.Counter("sources") < 3 {
					return fmt.Errorf("need 3 sources, have %.0f", v.Counter("sources"))
				}
				return nil
			},
		}
	})
	require.NoError(t, err)

	next, err := m.Advance(false)
	require.NoError(t, err)
	assert.Equal(t, Stage("literature_review"), next)

	_, err = m.Advance(false)
	var snc *core.StageNotCompleteError
	require.ErrorAs(t, err, &snc)
	assert.Equal(t, "literature_review", snc.Stage)
	assert.Equal(t, Stage("literature_review"), m.Current(), "failed advance must not move the stage")

	m.AddCounter("sources", 3)
	next, err = m.Advance(false)
	require.NoError(t, err)
	assert.Equal(t, Stage("drafting"), next)
}

func TestAdvance_ForcedBypassesPredicate(t *testing.T) {
	m, err := New([]Stage{"init", "draft", "completed"}, func(o *Options) {
		o.Predicates = map[Stage]Predicate{
			"init":  func(StateView) error { return errors.New("nothing initialized") },
			"draft": func(StateView) error { return errors.New("draft empty") },
		}
	})
	require.NoError(t, err)

	_, err = m.Advance(false)
	var snc *core.StageNotCompleteError
	require.ErrorAs(t, err, &snc)

	next, err := m.Advance(true)
	require.NoError(t, err)
	assert.Equal(t, Stage("draft"), next)

	next, err = m.Advance(true)
	require.NoError(t, err)
	assert.Equal(t, Stage("completed"), next)
	assert.Equal(t, []Stage{"init", "draft"}, m.Completed())
}

func TestAdvance_TerminalStage(t *testing.T) {
	m, err := New([]Stage{"a", "b"})
	require.NoError(t, err)

	_, err = m.Advance(false)
	require.NoError(t, err)

	_, err = m.Advance(false)
	assert.ErrorIs(t, err, ErrTerminalStage)
	_, err = m.Advance(true)
	assert.ErrorIs(t, err, ErrTerminalStage, "force must not create a transition past the terminal stage")
}

func TestReEnter_RevisionStageOnly(t *testing.T) {
	m, err := New(researchStages, func(o *Options) {
		o.Reentrant = map[Stage]bool{"revision": true}
	})
	require.NoError(t, err)

	for m.Current() != "completed" {
		_, err := m.Advance(false)
		require.NoError(t, err)
	}

	require.Error(t, m.ReEnter("drafting"), "non-revision stages stay forward-only")

	require.NoError(t, m.ReEnter("revision"))
	assert.Equal(t, Stage("revision"), m.Current())
	assert.NotContains(t, m.Completed(), Stage("revision"))

	next, err := m.Advance(false)
	require.NoError(t, err)
	assert.Equal(t, Stage("completed"), next)
}

func TestProgress(t *testing.T) {
	m, err := New([]Stage{"a", "b", "c", "d"})
	require.NoError(t, err)

	assert.Equal(t, 0.0, m.Progress())
	_, err = m.Advance(false)
	require.NoError(t, err)
	assert.Equal(t, 25.0, m.Progress())
	_, err = m.Advance(false)
	require.NoError(t, err)
	assert.Equal(t, 50.0, m.Progress())
}

func TestNew_RejectsBadStageSets(t *testing.T) {
	_, err := New([]Stage{"only"})
	assert.Error(t, err)
	_, err = New([]Stage{"a", "b", "a"})
	assert.Error(t, err)
}

func TestSnapshot_RoundTrip(t *testing.T) {
	m, err := New(researchStages)
	require.NoError(t, err)

	_, err = m.Advance(false)
	require.NoError(t, err)
	_, err = m.Advance(false)
	require.NoError(t, err)
	m.SetArtifact("outline", "1. intro 2. methods")
	m.SetArtifact("draft", "partial text")
	m.AddCounter("word_count", 412)
	m.AddCounter("sources", 5)

	data, err := m.Save()
	require.NoError(t, err)

	restored, err := Restore(data)
	require.NoError(t, err)

	assert.Equal(t, m.Current(), restored.Current())
	assert.Equal(t, m.Completed(), restored.Completed())
	assert.Equal(t, m.Stages(), restored.Stages())
	assert.Equal(t, m.View().Artifacts, restored.View().Artifacts)
	assert.Equal(t, m.View().Counters, restored.View().Counters)
	assert.Equal(t, m.Progress(), restored.Progress())
}

func TestRestore_RejectsCorruptSnapshots(t *testing.T) {
	valid := func() snapshot {
		return snapshot{
			Version:      SnapshotVersion,
			Stages:       []Stage{"init", "work", "done"},
			Current:      "work",
			Completed:    []Stage{"init"},
			ArtifactKeys: []string{"notes"},
			Artifacts:    map[string]string{"notes": "n"},
			Counters:     map[string]float64{"items": 2},
		}
	}

	tests := []struct {
		name   string
		mutate func(*snapshot)
	}{
		{"unknown version", func(s *snapshot) { s.Version = 99 }},
		{"current stage outside set", func(s *snapshot) { s.Current = "ghost" }},
		{"completed stage outside set", func(s *snapshot) { s.Completed = []Stage{"ghost"} }},
		{"listed artifact missing", func(s *snapshot) { s.Artifacts = map[string]string{} }},
		{"empty stage set", func(s *snapshot) { s.Stages = nil; s.Current = "" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := valid()
			tt.mutate(&s)
			data, err := json.Marshal(s)
			require.NoError(t, err)

			_, err = Restore(data)
			var cse *core.CorruptSnapshotError
			assert.ErrorAs(t, err, &cse)
		})
	}

	_, err := Restore([]byte("{not json"))
	var cse *core.CorruptSnapshotError
	assert.ErrorAs(t, err, &cse)
}

func TestStateView_StateMap(t *testing.T) {
	m, err := New(researchStages)
	require.NoError(t, err)
	m.SetArtifact("topic", "distributed tracing")
	m.AddCounter("word_count", 100)

	state := m.View().StateMap()
	assert.Equal(t, "initialization", state["stage"])
	assert.Equal(t, "distributed tracing", state["topic"])
	assert.Equal(t, 100.0, state["word_count"])
}
