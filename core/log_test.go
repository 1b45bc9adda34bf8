package core

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestConversationLog_SequenceGapless(t *testing.T) {
	l := NewConversationLog()

	authors := []string{HumanAuthor, "drafter", "reviewer", HumanAuthor, "drafter"}
	for i, a := range authors {
		turn := NewTurn(a, RoleResponse, "content")
		if a == HumanAuthor {
			turn = NewHumanTurn("content")
		}
		seq, err := l.Append(turn)
		if err != nil {
			t.Fatalf("append %d: %v", i, err)
		}
		if seq != uint64(i)+1 {
			t.Fatalf("expected seq %d, got %d", i+1, seq)
		}
	}

	snap := l.Snapshot()
	for i, turn := range snap {
		if turn.Seq != uint64(i)+1 {
			t.Fatalf("gap at index %d: seq %d", i, turn.Seq)
		}
	}
}

func TestConversationLog_NoBackToBackPolicy(t *testing.T) {
	l := NewConversationLog()

	if _, err := l.Append(NewTurn("drafter", RoleResponse, "first")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	_, err := l.Append(NewTurn("drafter", RoleResponse, "second"))
	var ordErr *OrderingError
	if !errors.As(err, &ordErr) {
		t.Fatalf("expected OrderingError, got %v", err)
	}
	if ordErr.Author != "drafter" {
		t.Errorf("expected author in error, got %q", ordErr.Author)
	}
	if l.Len() != 1 {
		t.Errorf("rejected turn must not be appended, len=%d", l.Len())
	}

	// Human turns are exempt.
	if _, err := l.Append(NewHumanTurn("hi")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := l.Append(NewHumanTurn("again")); err != nil {
		t.Fatalf("consecutive human turns should be allowed: %v", err)
	}
}

func TestConversationLog_SnapshotIsCopy(t *testing.T) {
	l := NewConversationLog()
	if _, err := l.Append(NewHumanTurn("hello")); err != nil {
		t.Fatal(err)
	}
	snap := l.Snapshot()
	snap[0].Content = "mutated"
	if l.Snapshot()[0].Content != "hello" {
		t.Error("snapshot mutation leaked into the log")
	}
}

func TestConversationLog_InvocationRecordsAreIsolated(t *testing.T) {
	l := NewConversationLog()
	turn := NewTurn("builder", RoleResponse, "checked")
	turn.Invocations = []BackendInvocation{{
		Operation: "build_check",
		Arguments: map[string]any{"target": "all", "opts": map[string]any{"race": true}},
		Result:    map[string]any{"status": "ok"},
	}}
	if _, err := l.Append(turn); err != nil {
		t.Fatal(err)
	}

	snap := l.Snapshot()
	snap[0].Invocations[0].Arguments["target"] = "tampered"
	snap[0].Invocations[0].Arguments["opts"].(map[string]any)["race"] = false
	snap[0].Invocations[0].Result.(map[string]any)["status"] = "tampered"

	fresh := l.Snapshot()
	inv := fresh[0].Invocations[0]
	if inv.Arguments["target"] != "all" {
		t.Errorf("argument mutated through snapshot: %v", inv.Arguments["target"])
	}
	if inv.Arguments["opts"].(map[string]any)["race"] != true {
		t.Errorf("nested argument mutated through snapshot: %v", inv.Arguments["opts"])
	}
	if inv.Result.(map[string]any)["status"] != "ok" {
		t.Errorf("result mutated through snapshot: %v", inv.Result)
	}

	// The appender's own reference is isolated too.
	turn.Invocations[0].Arguments["target"] = "post-append"
	if l.Snapshot()[0].Invocations[0].Arguments["target"] != "all" {
		t.Error("argument mutated through the appender's reference")
	}

	// Last hands out isolated records as well.
	last, ok := l.Last()
	if !ok {
		t.Fatal("expected a last turn")
	}
	last.Invocations[0].Arguments["target"] = "tampered"
	if l.Snapshot()[0].Invocations[0].Arguments["target"] != "all" {
		t.Error("argument mutated through Last")
	}
}

func TestConversationLog_Notifications(t *testing.T) {
	l := NewConversationLog()
	if _, err := l.Append(NewHumanTurn("one")); err != nil {
		t.Fatal(err)
	}
	select {
	case n := <-l.Notifications():
		if n != 1 {
			t.Fatalf("expected length 1, got %d", n)
		}
	default:
		t.Fatal("expected a length notification")
	}
}

func TestConversationLog_ObserveFromOffset(t *testing.T) {
	l := NewConversationLog(func(o *LogOptions) { o.Policy = AllowAllPolicy })
	for i := 0; i < 3; i++ {
		if _, err := l.Append(NewHumanTurn("turn")); err != nil {
			t.Fatal(err)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	stream := l.Observe(ctx, 1)
	first := <-stream
	if first.Seq != 2 {
		t.Fatalf("expected stream to start at seq 2, got %d", first.Seq)
	}
	second := <-stream
	if second.Seq != 3 {
		t.Fatalf("expected seq 3, got %d", second.Seq)
	}

	// A turn appended after attach is delivered too.
	go func() {
		_, _ = l.Append(NewHumanTurn("late"))
	}()
	third := <-stream
	if third.Seq != 4 {
		t.Fatalf("expected seq 4, got %d", third.Seq)
	}
}
