package coremon

import (
	"context"
	"testing"
	"time"

	"tzcore-go/bus"
	"tzcore-go/types"
)

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(500 * time.Millisecond)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met")
		}
		time.Sleep(2 * time.Millisecond)
	}
}

func TestTracksCoreStates(t *testing.T) {
	b := bus.NewBus(16)
	conn := b.NewConnection("coremon-test")
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Retained state from before the service started is picked up.
	conn.Publish(conn.NewMessage(bus.T("psci", "core", 0, "state"), types.CoreStateEvent{Core: 0, State: types.CoreOn}, true))

	s := &Service{Interval: -1}
	if err := s.Start(ctx, conn); err != nil {
		t.Fatal(err)
	}
	conn.Publish(conn.NewMessage(bus.T("psci", "core", 1, "state"),
		types.CoreStateEvent{Core: 1, State: types.CoreReleasing, Entry: 0x40000000}, true))
	conn.Publish(conn.NewMessage(bus.T("psci", "core", 1, "other"), "ignored", false))

	waitFor(t, func() bool { return len(s.Snapshot()) == 2 })
	snap := s.Snapshot()
	if snap[0].State != types.CoreOn || snap[1].State != types.CoreReleasing || snap[1].Entry != 0x40000000 {
		t.Fatalf("snapshot %+v", snap)
	}
}

func TestStopsOnCancel(t *testing.T) {
	b := bus.NewBus(4)
	conn := b.NewConnection("coremon-test")
	ctx, cancel := context.WithCancel(context.Background())

	s := &Service{Interval: time.Millisecond}
	s.Start(ctx, conn)
	time.Sleep(5 * time.Millisecond)
	cancel()

	// After the loop exits the subscription is gone; a new event is not seen.
	time.Sleep(20 * time.Millisecond)
	conn.Publish(conn.NewMessage(bus.T("psci", "core", 2, "state"), types.CoreStateEvent{Core: 2, State: types.CoreOn}, false))
	time.Sleep(10 * time.Millisecond)
	if _, ok := s.Snapshot()[2]; ok {
		t.Fatalf("event delivered after stop")
	}
}

func TestStopsOnDisconnect(t *testing.T) {
	b := bus.NewBus(4)
	conn := b.NewConnection("coremon-test")
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	s := &Service{Interval: -1}
	s.Start(ctx, conn)
	conn.Publish(conn.NewMessage(bus.T("psci", "core", 1, "state"), types.CoreStateEvent{Core: 1, State: types.CoreOn}, false))
	waitFor(t, func() bool { return len(s.Snapshot()) == 1 })

	conn.Disconnect()
	time.Sleep(20 * time.Millisecond)

	// The loop has returned; a fresh connection's events are not tracked.
	other := b.NewConnection("publisher")
	other.Publish(other.NewMessage(bus.T("psci", "core", 2, "state"), types.CoreStateEvent{Core: 2, State: types.CoreOn}, false))
	time.Sleep(10 * time.Millisecond)
	if _, ok := s.Snapshot()[2]; ok {
		t.Fatalf("event delivered after disconnect")
	}
}
