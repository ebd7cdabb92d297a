package tandem

import (
	"sync"
	"testing"
	"time"
)

func recvEvent(t *testing.T, sub *Subscription) ProcessEvent {
	t.Helper()
	select {
	case ev, ok := <-sub.Events():
		if !ok {
			t.Fatal("events channel closed unexpectedly")
		}
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
		return nil
	}
}

func TestBusBroadcastsToAllSubscribers(t *testing.T) {
	bus := NewEventBus()
	defer bus.Close()
	a := bus.Subscribe()
	b := bus.Subscribe()

	bus.Publish(StatusUpdateEvent{Status: "one"})
	bus.Publish(BranchResultEvent{Conclusion: "two"})

	for _, sub := range []*Subscription{a, b} {
		if ev := recvEvent(t, sub); ev.(StatusUpdateEvent).Status != "one" {
			t.Errorf("first event = %+v, want status one", ev)
		}
		if ev := recvEvent(t, sub); ev.(BranchResultEvent).Conclusion != "two" {
			t.Errorf("second event = %+v, want branch result two", ev)
		}
	}
}

func TestBusPublishNeverBlocks(t *testing.T) {
	bus := NewEventBus(BusMaxPending(4))
	defer bus.Close()
	sub := bus.Subscribe() // never read until the end

	done := make(chan struct{})
	go func() {
		for i := 0; i < 100; i++ {
			bus.Publish(ToolStartedEvent{ToolName: "shell_exec"})
		}
		bus.Publish(WorkerCompleteEvent{WorkerID: "w1", Notify: true})
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Publish blocked on a slow subscriber")
	}
	if sub.Dropped() == 0 {
		t.Error("expected observability events to be dropped past the cap")
	}
}

func TestBusNeverDropsTerminalEvents(t *testing.T) {
	bus := NewEventBus(BusMaxPending(1))
	sub := bus.Subscribe()

	const n = 500
	for i := 0; i < n; i++ {
		bus.Publish(ToolCompletedEvent{ToolName: "noise"})
		bus.Publish(BranchResultEvent{BranchID: BranchID(NewID())})
	}
	bus.Close()

	var results int
	for ev := range sub.Events() {
		if _, ok := ev.(BranchResultEvent); ok {
			results++
		}
	}
	if results != n {
		t.Errorf("received %d branch results, want %d", results, n)
	}
}

func TestBusCloseDrainsThenCloses(t *testing.T) {
	bus := NewEventBus()
	sub := bus.Subscribe()
	bus.Publish(WorkerStatusEvent{Status: "a"})
	bus.Publish(WorkerStatusEvent{Status: "b"})
	bus.Close()

	var got []string
	for ev := range sub.Events() {
		got = append(got, ev.(WorkerStatusEvent).Status)
	}
	if len(got) != 2 || got[0] != "a" || got[1] != "b" {
		t.Errorf("drained %v, want [a b]", got)
	}

	// Publishing after close is a no-op; subscribing yields a closed channel.
	bus.Publish(WorkerStatusEvent{Status: "c"})
	late := bus.Subscribe()
	if _, ok := <-late.Events(); ok {
		t.Error("subscription on closed bus should have a closed channel")
	}
}

func TestSubscriptionCloseDetaches(t *testing.T) {
	bus := NewEventBus()
	defer bus.Close()
	sub := bus.Subscribe()
	if bus.Subscribers() != 1 {
		t.Fatalf("Subscribers = %d, want 1", bus.Subscribers())
	}
	sub.Close()
	sub.Close() // idempotent
	if bus.Subscribers() != 0 {
		t.Errorf("Subscribers = %d, want 0", bus.Subscribers())
	}
	select {
	case _, ok := <-sub.Events():
		if ok {
			t.Error("expected closed events channel")
		}
	case <-time.After(time.Second):
		t.Fatal("events channel not closed after Close")
	}
}

func TestBusConcurrentPublishers(t *testing.T) {
	bus := NewEventBus()
	sub := bus.Subscribe()

	var wg sync.WaitGroup
	for p := 0; p < 8; p++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				bus.Publish(WorkerCompleteEvent{WorkerID: NewWorkerID()})
			}
		}()
	}
	wg.Wait()
	bus.Close()

	count := 0
	for range sub.Events() {
		count++
	}
	if count != 400 {
		t.Errorf("received %d events, want 400", count)
	}
}
