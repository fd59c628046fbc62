package lifecycle

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

type fakeComponent struct {
	name      string
	startErr  error
	stopErr   error
	startedAt int
	stoppedAt int
}

func (c *fakeComponent) Name() string { return c.name }
func (c *fakeComponent) Start(ctx context.Context) error {
	return c.startErr
}
func (c *fakeComponent) Stop(ctx context.Context) error {
	return c.stopErr
}

// orderTracker records the sequence components started/stopped in.
type orderTracker struct {
	mu    sync.Mutex
	order []string
}

func (t *orderTracker) record(event string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.order = append(t.order, event)
}

type trackedComponent struct {
	name    string
	tracker *orderTracker
	failStop bool
}

func (c *trackedComponent) Name() string { return c.name }
func (c *trackedComponent) Start(ctx context.Context) error {
	c.tracker.record("start:" + c.name)
	return nil
}
func (c *trackedComponent) Stop(ctx context.Context) error {
	c.tracker.record("stop:" + c.name)
	if c.failStop {
		return errors.New("boom")
	}
	return nil
}

func TestStartStopOrder(t *testing.T) {
	tracker := &orderTracker{}
	m := NewManager(nil)
	m.Register(&trackedComponent{name: "a", tracker: tracker})
	m.Register(&trackedComponent{name: "b", tracker: tracker})
	m.Register(&trackedComponent{name: "c", tracker: tracker})

	if err := m.Start(context.Background()); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	if m.State() != Running {
		t.Fatalf("got state %v, want Running", m.State())
	}

	if err := m.Stop(context.Background()); err != nil {
		t.Fatalf("stop failed: %v", err)
	}
	if m.State() != Stopped {
		t.Fatalf("got state %v, want Stopped", m.State())
	}

	want := []string{"start:a", "start:b", "start:c", "stop:c", "stop:b", "stop:a"}
	if len(tracker.order) != len(want) {
		t.Fatalf("got order %v, want %v", tracker.order, want)
	}
	for i := range want {
		if tracker.order[i] != want[i] {
			t.Errorf("order[%d] = %q, want %q", i, tracker.order[i], want[i])
		}
	}
}

func TestStartAbortsOnFirstFailure(t *testing.T) {
	m := NewManager(nil)
	started := &fakeComponent{name: "a"}
	failing := &fakeComponent{name: "b", startErr: errors.New("boom")}
	never := &fakeComponent{name: "c"}
	m.Register(started)
	m.Register(failing)
	m.Register(never)

	err := m.Start(context.Background())
	if err == nil {
		t.Fatal("expected Start to fail")
	}
	if m.State() != Errored {
		t.Fatalf("got state %v, want Error", m.State())
	}
}

func TestStopContinuesThroughFailures(t *testing.T) {
	tracker := &orderTracker{}
	m := NewManager(nil)
	m.Register(&trackedComponent{name: "a", tracker: tracker})
	m.Register(&trackedComponent{name: "b", tracker: tracker, failStop: true})
	m.Register(&trackedComponent{name: "c", tracker: tracker})

	if err := m.Start(context.Background()); err != nil {
		t.Fatalf("start failed: %v", err)
	}

	err := m.Stop(context.Background())
	if err == nil {
		t.Fatal("expected Stop to report the failing component's error")
	}

	want := []string{"start:a", "start:b", "start:c", "stop:c", "stop:b", "stop:a"}
	if len(tracker.order) != len(want) {
		t.Fatalf("got order %v, want %v — b's stop failure must not skip a's", tracker.order, want)
	}
}

func TestGracefulShutdownDeadlineExceeded(t *testing.T) {
	m := NewManager(nil)
	m.Register(&slowComponent{delay: 50 * time.Millisecond})
	if err := m.Start(context.Background()); err != nil {
		t.Fatalf("start failed: %v", err)
	}

	err := m.GracefulShutdown(5 * time.Millisecond)
	if err == nil {
		t.Fatal("expected deadline to be exceeded")
	}
	if m.State() != Stopped {
		t.Fatalf("got state %v, want Stopped (forced) after deadline", m.State())
	}
}

type slowComponent struct {
	delay time.Duration
}

func (c *slowComponent) Name() string                    { return "slow" }
func (c *slowComponent) Start(ctx context.Context) error  { return nil }
func (c *slowComponent) Stop(ctx context.Context) error {
	time.Sleep(c.delay)
	return nil
}
