package core

import (
	"context"
	"sync"
)

// TurnPolicy validates a candidate turn against the previous one. prev is nil
// for the first turn of a session. A non-nil error (normally *OrderingError)
// rejects the append.
type TurnPolicy func(prev *Turn, next Turn) error

// NoBackToBackPolicy rejects two consecutive response turns from the same
// non-human author. Human turns and system annotations are always accepted.
func NoBackToBackPolicy(prev *Turn, next Turn) error {
	if prev == nil || next.IsHuman() {
		return nil
	}
	if prev.Author == next.Author && prev.Role == RoleResponse && next.Role == RoleResponse {
		return &OrderingError{
			Author: next.Author,
			Role:   next.Role,
			Reason: "consecutive response turns from the same non-human author",
		}
	}
	return nil
}

// AllowAllPolicy accepts every turn.
func AllowAllPolicy(*Turn, Turn) error { return nil }

// LogOptions configures a ConversationLog.
type LogOptions struct {
	// Policy validates each appended turn. Defaults to NoBackToBackPolicy.
	Policy TurnPolicy
	// NotificationBuffer sets the buffer of the length-notification channel.
	NotificationBuffer int
}

// ConversationLog is the append-only ordered record of turns shared by every
// agent in a session. Sequence numbers start at 1 and are gapless; no turn is
// ever mutated or removed. It is safe for concurrent readers with appends
// driven by a single coordinator.
type ConversationLog struct {
	mu      sync.RWMutex
	turns   []Turn
	policy  TurnPolicy
	updated chan struct{} // closed and replaced on every append
	notify  chan int
}

// NewConversationLog constructs an empty log.
func NewConversationLog(optFns ...func(o *LogOptions)) *ConversationLog {
	opts := LogOptions{
		Policy:             NoBackToBackPolicy,
		NotificationBuffer: 16,
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &ConversationLog{
		policy:  opts.Policy,
		updated: make(chan struct{}),
		notify:  make(chan int, opts.NotificationBuffer),
	}
}

// Append validates the turn against the session policy, assigns the next
// sequence number and appends it. The coordinator is notified of the new
// length without blocking.
func (l *ConversationLog) Append(t Turn) (uint64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	var prev *Turn
	if n := len(l.turns); n > 0 {
		prev = &l.turns[n-1]
	}
	if l.policy != nil {
		if err := l.policy(prev, t); err != nil {
			return 0, err
		}
	}

	if t.ID == "" {
		t.ID = NewID()
	}
	t.Seq = uint64(len(l.turns)) + 1
	l.turns = append(l.turns, t.clone())

	// Wake observers, then notify the coordinator without blocking.
	close(l.updated)
	l.updated = make(chan struct{})
	select {
	case l.notify <- len(l.turns):
	default:
	}

	return t.Seq, nil
}

// Snapshot returns a read-only copy of the full turn sequence. Invocation
// records are deep-copied; mutating a snapshot never alters the log.
func (l *ConversationLog) Snapshot() []Turn {
	l.mu.RLock()
	defer l.mu.RUnlock()
	turns := make([]Turn, len(l.turns))
	for i, t := range l.turns {
		turns[i] = t.clone()
	}
	return turns
}

// Len returns the number of appended turns.
func (l *ConversationLog) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.turns)
}

// Last returns the most recent turn, if any.
func (l *ConversationLog) Last() (Turn, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if len(l.turns) == 0 {
		return Turn{}, false
	}
	return l.turns[len(l.turns)-1].clone(), true
}

// Notifications exposes the non-blocking length-notification channel consumed
// by the coordinator for turn-taking decisions.
func (l *ConversationLog) Notifications() <-chan int { return l.notify }

// Observe streams turns starting at the given zero-based offset. The stream is
// unbounded and restartable: a display surface that lost its place re-attaches
// with the last offset it saw. The channel closes when ctx is done.
func (l *ConversationLog) Observe(ctx context.Context, offset int) <-chan Turn {
	out := make(chan Turn)
	if offset < 0 {
		offset = 0
	}
	go func() {
		defer close(out)
		next := offset
		for {
			l.mu.RLock()
			pending := make([]Turn, 0)
			for next < len(l.turns) {
				pending = append(pending, l.turns[next].clone())
				next++
			}
			wake := l.updated
			l.mu.RUnlock()

			for _, t := range pending {
				select {
				case <-ctx.Done():
					return
				case out <- t:
				}
			}

			select {
			case <-ctx.Done():
				return
			case <-wake:
			}
		}
	}()
	return out
}
