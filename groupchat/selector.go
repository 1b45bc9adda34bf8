package groupchat

import (
	"errors"
	"strings"
	"unicode"

	"github.com/hupe1980/agentcouncil/core"
	"github.com/hupe1980/agentcouncil/registry"
)

// SpeakerSelector decides who speaks next. Exactly one of the outcomes holds:
// a named agent, a stop decision yielding the floor to the human, or an error
// (treated as a session-fatal selection deadlock by the coordinator).
type SpeakerSelector interface {
	Select(history []core.Turn, reg *registry.Registry, stage string) (name string, stop bool, err error)
}

// SpeakerSelectorFunc adapts a plain function to the SpeakerSelector interface.
type SpeakerSelectorFunc func(history []core.Turn, reg *registry.Registry, stage string) (string, bool, error)

// Select implements SpeakerSelector.
func (f SpeakerSelectorFunc) Select(history []core.Turn, reg *registry.Registry, stage string) (string, bool, error) {
	return f(history, reg, stage)
}

// RuleSelectorOptions configures a RuleSelector.
type RuleSelectorOptions struct {
	// MaxAgentTurns bounds consecutive agent turns between human turns. Once
	// reached, selection stops and the floor returns to the human.
	MaxAgentTurns int
}

// RuleSelector is the default deterministic selector. An explicit agent
// mention in the latest human turn wins; otherwise agents take the floor in
// registration order, never twice in a row, until the per-round turn budget
// is spent.
type RuleSelector struct {
	maxAgentTurns int
}

// NewRuleSelector constructs the default selector.
func NewRuleSelector(optFns ...func(o *RuleSelectorOptions)) *RuleSelector {
	opts := RuleSelectorOptions{
		MaxAgentTurns: 8,
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &RuleSelector{maxAgentTurns: opts.MaxAgentTurns}
}

// Select implements SpeakerSelector.
func (s *RuleSelector) Select(history []core.Turn, reg *registry.Registry, _ string) (string, bool, error) {
	names := reg.Names()
	if len(names) == 0 {
		return "", false, errors.New("no agents registered")
	}

	// Spent turn budget for this round yields the floor back to the human.
	// Failure annotations count against the budget so a failing agent cannot
	// spin the session forever.
	run := 0
	for i := len(history) - 1; i >= 0; i-- {
		if history[i].IsHuman() {
			break
		}
		run++
	}
	if run >= s.maxAgentTurns {
		return "", true, nil
	}

	last := lastResponder(history)

	if mentioned := s.mentionedAgent(history, names); mentioned != "" && mentioned != last {
		return mentioned, false, nil
	}

	// Round-robin in registration order, excluding the previous speaker.
	start := 0
	if last != "" {
		for i, n := range names {
			if n == last {
				start = i + 1
				break
			}
		}
	}
	for i := 0; i < len(names); i++ {
		candidate := names[(start+i)%len(names)]
		if candidate != last {
			return candidate, false, nil
		}
	}

	// Single registered agent that just spoke; yield rather than violate the
	// no-back-to-back ordering.
	return "", true, nil
}

// lastResponder returns the author of the most recent agent response, or ""
// if the last response precedes the latest human turn.
func lastResponder(history []core.Turn) string {
	for i := len(history) - 1; i >= 0; i-- {
		if history[i].IsHuman() {
			return ""
		}
		if history[i].Role == core.RoleResponse {
			return history[i].Author
		}
	}
	return ""
}

// mentionedAgent returns the first registered agent name (registration order)
// appearing as a word in the latest human turn.
func (s *RuleSelector) mentionedAgent(history []core.Turn, names []string) string {
	var content string
	for i := len(history) - 1; i >= 0; i-- {
		if history[i].IsHuman() {
			content = history[i].Content
			break
		}
	}
	if content == "" {
		return ""
	}

	words := map[string]bool{}
	for _, w := range strings.FieldsFunc(strings.ToLower(content), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '_' && r != '-'
	}) {
		words[w] = true
	}
	for _, name := range names {
		if words[strings.ToLower(name)] {
			return name
		}
	}
	return ""
}
