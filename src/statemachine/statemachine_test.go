package statemachine

import (
	"testing"
	"time"
)

var order = []Tag{"a", "b", "c"}

func TestTransitionedToClosesImmediatelyWhenAlreadyThere(t *testing.T) {
	sm := New(order, "b", 0)
	select {
	case <-sm.TransitionedTo("a"):
	default:
		t.Fatal("expected channel for an already-passed tag to be closed immediately")
	}
}

func TestTransitionedToBlocksUntilReached(t *testing.T) {
	sm := New(order, "a", 0)
	ch := sm.TransitionedTo("c")

	select {
	case <-ch:
		t.Fatal("channel closed before the machine transitioned")
	case <-time.After(10 * time.Millisecond):
	}

	sm.TransitionTo("b", 1)
	select {
	case <-ch:
		t.Fatal("channel closed before reaching its target tag")
	case <-time.After(10 * time.Millisecond):
	}

	sm.TransitionTo("c", 2)
	select {
	case <-ch:
	case <-time.After(time.Second):
		t.Fatal("channel did not close after reaching target tag")
	}
}

func TestCurrentReportsLatestValue(t *testing.T) {
	sm := New(order, "a", "first")
	sm.TransitionTo("b", "second")
	tag, value := sm.Current()
	if tag != "b" || value != "second" {
		t.Fatalf("expected (b, second), got (%s, %v)", tag, value)
	}
}

func TestTransitionToEarlierTagPanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic transitioning backward")
		}
	}()
	sm := New(order, "b", 0)
	sm.TransitionTo("a", 0)
}
