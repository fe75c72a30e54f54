package comms

import (
	"context"
	"sync/atomic"
	"testing"
)

func makeEvent(taskID string, t EventType) *Event {
	return &Event{Type: t, TaskID: taskID}
}

func TestInMemoryBus_Subscribe_Unsubscribe(t *testing.T) {
	bus := NewInMemoryBus()
	ctx := context.Background()

	var received int32
	unsub := bus.Subscribe("task-a", func(_ context.Context, _ *Event) error {
		atomic.AddInt32(&received, 1)
		return nil
	})

	ev := makeEvent("task-a", TypeTaskStarted)
	if err := bus.Publish(ctx, ev); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if atomic.LoadInt32(&received) != 1 {
		t.Errorf("received = %d, want 1", received)
	}

	// Unsubscribe and verify no more events
	unsub()
	if err := bus.Publish(ctx, makeEvent("task-a", TypeObservation)); err != nil {
		t.Fatalf("Publish after unsub: %v", err)
	}
	if atomic.LoadInt32(&received) != 1 {
		t.Errorf("received after unsub = %d, want 1", received)
	}
}

func TestInMemoryBus_TaskIsolation(t *testing.T) {
	bus := NewInMemoryBus()
	ctx := context.Background()

	var aReceived, bReceived int32
	bus.Subscribe("task-a", func(_ context.Context, _ *Event) error {
		atomic.AddInt32(&aReceived, 1)
		return nil
	})
	bus.Subscribe("task-b", func(_ context.Context, _ *Event) error {
		atomic.AddInt32(&bReceived, 1)
		return nil
	})

	if err := bus.Publish(ctx, makeEvent("task-a", TypeActionChosen)); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	if atomic.LoadInt32(&aReceived) != 1 {
		t.Errorf("task-a received %d, want 1", aReceived)
	}
	if atomic.LoadInt32(&bReceived) != 0 {
		t.Errorf("task-b received %d, want 0", bReceived)
	}
}

func TestInMemoryBus_WildcardSubscriber(t *testing.T) {
	bus := NewInMemoryBus()
	ctx := context.Background()

	var count int32
	bus.Subscribe(AllTasks, func(_ context.Context, _ *Event) error {
		atomic.AddInt32(&count, 1)
		return nil
	})

	bus.Publish(ctx, makeEvent("task-a", TypeTaskStarted))
	bus.Publish(ctx, makeEvent("task-b", TypeTaskStarted))

	if atomic.LoadInt32(&count) != 2 {
		t.Errorf("wildcard received %d events, want 2", count)
	}
}

func TestInMemoryBus_FillsIDAndTimestamp(t *testing.T) {
	bus := NewInMemoryBus()
	ev := makeEvent("task-a", TypeTaskSucceeded)
	if err := bus.Publish(context.Background(), ev); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if ev.ID == "" {
		t.Error("Publish left event ID empty")
	}
	if ev.Timestamp.IsZero() {
		t.Error("Publish left event timestamp zero")
	}
}

func TestInMemoryBus_History(t *testing.T) {
	bus := NewInMemoryBus()
	ctx := context.Background()

	bus.Publish(ctx, makeEvent("task-a", TypeTaskStarted))
	bus.Publish(ctx, makeEvent("task-b", TypeTaskStarted))
	bus.Publish(ctx, makeEvent("task-a", TypeObservation))
	bus.Publish(ctx, makeEvent("task-a", TypeTaskSucceeded))

	hist, err := bus.History("task-a", 100)
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if len(hist) != 3 {
		t.Fatalf("History len = %d, want 3", len(hist))
	}
	if hist[0].Type != TypeTaskStarted || hist[2].Type != TypeTaskSucceeded {
		t.Error("History not in chronological order")
	}

	all, err := bus.History(AllTasks, 100)
	if err != nil {
		t.Fatalf("History all: %v", err)
	}
	if len(all) != 4 {
		t.Errorf("History all len = %d, want 4", len(all))
	}
}

func TestInMemoryBus_History_Limit(t *testing.T) {
	bus := NewInMemoryBus()
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		bus.Publish(ctx, makeEvent("task-a", TypeObservation))
	}

	hist, err := bus.History("task-a", 5)
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if len(hist) != 5 {
		t.Errorf("History with limit 5 returned %d events", len(hist))
	}
}

func TestInMemoryBus_MultipleSubscribers(t *testing.T) {
	bus := NewInMemoryBus()
	ctx := context.Background()

	var count int32
	for i := 0; i < 2; i++ {
		bus.Subscribe("task-a", func(_ context.Context, _ *Event) error {
			atomic.AddInt32(&count, 1)
			return nil
		})
	}

	bus.Publish(ctx, makeEvent("task-a", TypeActionDone))

	if atomic.LoadInt32(&count) != 2 {
		t.Errorf("count = %d, want 2 (both handlers fired)", count)
	}
}
