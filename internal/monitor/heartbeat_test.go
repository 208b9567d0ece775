package monitor

import (
	"context"
	"sync"
	"testing"
	"time"

	"jordanella.com/natro-go/internal/events"
	"jordanella.com/natro-go/internal/logging"
	"jordanella.com/natro-go/internal/window"
)

type fakeLocator struct {
	mu    sync.Mutex
	alive bool
}

func (p *fakeLocator) Locate() (*window.Handle, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.alive {
		return nil, false
	}
	return &window.Handle{PID: 77, Name: "RobloxPlayerBeta"}, true
}

func (p *fakeLocator) set(alive bool) {
	p.mu.Lock()
	p.alive = alive
	p.mu.Unlock()
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newTestHeartbeat(alive bool) (*Heartbeat, *fakeLocator, *fakeClock) {
	locator := &fakeLocator{alive: alive}
	clock := &fakeClock{now: time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)}
	hb := NewHeartbeat(locator, time.Second).
		WithClock(clock.Now).
		WithLogger(logging.NewLogger("HeartbeatTest").SetOutputs())
	return hb, locator, clock
}

func TestHeartbeatEvents(t *testing.T) {
	hb, locator, _ := newTestHeartbeat(true)

	bus := events.NewEventBus(16)
	var mu sync.Mutex
	var beats []events.Event
	bus.Subscribe(events.EventTypeHeartbeat, func(e events.Event) {
		mu.Lock()
		beats = append(beats, e)
		mu.Unlock()
	})
	hb.WithEventBus(bus)

	hb.Beat()
	locator.set(false)
	hb.Beat()

	bus.Stop()

	mu.Lock()
	defer mu.Unlock()
	if len(beats) != 2 {
		t.Fatalf("Expected 2 heartbeat events, got %d", len(beats))
	}
	if beats[0].Data["window_alive"] != true || beats[0].Data["pid"] != int32(77) {
		t.Errorf("Unexpected first beat %v", beats[0].Data)
	}
	if beats[1].Data["window_alive"] != false || beats[1].Data["beat"] != int64(2) {
		t.Errorf("Unexpected second beat %v", beats[1].Data)
	}
	if hb.Beats() != 2 {
		t.Errorf("Expected 2 beats, got %d", hb.Beats())
	}
}

func TestStalledAfterMissedBeats(t *testing.T) {
	hb, locator, _ := newTestHeartbeat(false)
	hb.WithStallBeats(3)

	bus := events.NewEventBus(16)
	var mu sync.Mutex
	var stalled []events.Event
	bus.Subscribe(events.EventTypeStalled, func(e events.Event) {
		mu.Lock()
		stalled = append(stalled, e)
		mu.Unlock()
	})
	hb.WithEventBus(bus)

	var reasons []string
	hb.WithUnhealthyCallback(func(reason string, err error) {
		reasons = append(reasons, reason)
	})

	hb.Beat()
	hb.Beat()
	locator.set(true) // Streak broken
	hb.Beat()
	locator.set(false)
	for i := 0; i < 3; i++ {
		hb.Beat()
	}

	bus.Stop()

	mu.Lock()
	defer mu.Unlock()
	if len(stalled) != 1 {
		t.Fatalf("Expected 1 stalled event, got %d", len(stalled))
	}
	if stalled[0].Data["missed_beats"] != 3 {
		t.Errorf("Expected 3 missed beats, got %v", stalled[0].Data["missed_beats"])
	}
	if len(reasons) != 1 || reasons[0] != "window_missing" {
		t.Errorf("Expected one window_missing callback, got %v", reasons)
	}
}

func TestStuckDetection(t *testing.T) {
	hb, _, clock := newTestHeartbeat(true)
	hb.WithStuckTimeout(10*time.Second, 2)

	var reasons []string
	hb.WithUnhealthyCallback(func(reason string, err error) {
		reasons = append(reasons, reason)
	})

	clock.Advance(11 * time.Second)
	hb.Beat()
	if len(reasons) != 0 {
		t.Fatalf("Expected no callback after one idle beat, got %v", reasons)
	}
	hb.Beat()
	if len(reasons) != 1 || reasons[0] != "macro_stuck" {
		t.Fatalf("Expected macro_stuck, got %v", reasons)
	}

	hb.RecordActivity()
	hb.Beat()
	hb.Beat()
	if len(reasons) != 1 {
		t.Errorf("Expected activity to reset stuck detection, got %v", reasons)
	}
}

func TestStartStop(t *testing.T) {
	locator := &fakeLocator{alive: true}
	hb := NewHeartbeat(locator, 5*time.Millisecond).
		WithLogger(logging.NewLogger("HeartbeatTest").SetOutputs())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	hb.Start(ctx)
	deadline := time.Now().Add(2 * time.Second)
	for hb.Beats() < 2 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	hb.Stop()

	n := hb.Beats()
	if n < 2 {
		t.Fatalf("Expected at least 2 beats, got %d", n)
	}
	time.Sleep(20 * time.Millisecond)
	if hb.Beats() != n {
		t.Error("Expected no beats after Stop")
	}
}
