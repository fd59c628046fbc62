package events

import (
	"testing"
)

func TestBusDispatchesInRegistrationOrder(t *testing.T) {
	bus := NewBus(nil)
	var order []int

	bus.Subscribe(func(e Event) { order = append(order, 1) })
	bus.Subscribe(func(e Event) { order = append(order, 2) })
	bus.Subscribe(func(e Event) { order = append(order, 3) })

	bus.Emit(Event{Type: StepStarted, StepStarted: &StepStartedData{StepID: "a"}})

	if len(order) != 3 || order[0] != 1 || order[1] != 2 || order[2] != 3 {
		t.Errorf("got order %v, want [1 2 3]", order)
	}
}

func TestBusIsolatesSubscriberPanic(t *testing.T) {
	bus := NewBus(nil)
	called := false

	bus.Subscribe(func(e Event) { panic("boom") })
	bus.Subscribe(func(e Event) { called = true })

	bus.Emit(Event{Type: StepStarted, StepStarted: &StepStartedData{StepID: "a"}})

	if !called {
		t.Error("expected second subscriber to still run after first panics")
	}
}

func TestBusSetsTimestampWhenZero(t *testing.T) {
	bus := NewBus(nil)
	var got Event
	bus.Subscribe(func(e Event) { got = e })

	bus.Emit(Event{Type: WorkflowStarted, WorkflowStarted: &WorkflowStartedData{WorkflowName: "demo"}})

	if got.Timestamp.IsZero() {
		t.Error("expected Emit to stamp a non-zero timestamp")
	}
}
