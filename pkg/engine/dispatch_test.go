package engine

import (
	"context"
	"testing"
)

func TestDispatcher_RunsInOrder(t *testing.T) {
	disp := NewDispatcher()
	defer disp.Close()

	var order []int
	for i := 0; i < 10; i++ {
		i := i
		disp.Post(func(context.Context) { order = append(order, i) })
	}
	disp.Sync(func(context.Context) {})

	if len(order) != 10 {
		t.Fatalf("Expected 10 executions, got %d", len(order))
	}
	for i, v := range order {
		if v != i {
			t.Errorf("Position %d: expected %d, got %d", i, i, v)
		}
	}
}

func TestDispatcher_ContextMarker(t *testing.T) {
	disp := NewDispatcher()
	defer disp.Close()

	var onLoop bool
	disp.Sync(func(ctx context.Context) { onLoop = OnDispatcher(ctx) })
	if !onLoop {
		t.Error("OnDispatcher should be true inside the loop")
	}
	if OnDispatcher(context.Background()) {
		t.Error("OnDispatcher should be false for a plain context")
	}
}

func TestDispatcher_PostAfterClose(t *testing.T) {
	disp := NewDispatcher()
	disp.Close()

	// Must not panic or block.
	disp.Post(func(context.Context) { t.Error("posted work must not run after Close") })
}
