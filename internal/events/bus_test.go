package events

import (
	"errors"
	"sync"
	"testing"
)

func TestPublishOrder(t *testing.T) {
	bus := NewEventBus(16)

	var mu sync.Mutex
	var beats []int64
	bus.Subscribe(EventTypeHeartbeat, func(e Event) {
		mu.Lock()
		beats = append(beats, e.Data["beat"].(int64))
		mu.Unlock()
	})

	for i := int64(1); i <= 10; i++ {
		bus.Publish(NewHeartbeatEvent(i, true, 42))
	}
	bus.Stop()

	if len(beats) != 10 {
		t.Fatalf("Expected 10 delivered events after Stop drained the queue, got %d", len(beats))
	}
	for i, b := range beats {
		if b != int64(i+1) {
			t.Fatalf("Expected publish order, got %v", beats)
		}
	}
}

func TestUnsubscribe(t *testing.T) {
	bus := NewEventBus(4)
	defer bus.Stop()

	id := bus.Subscribe(EventTypeWindowFound, func(Event) {})
	bus.Subscribe(EventTypeWindowFound, func(Event) {})
	if n := bus.GetSubscriberCount(EventTypeWindowFound); n != 2 {
		t.Fatalf("Expected 2 subscribers, got %d", n)
	}

	bus.Unsubscribe(id)
	if n := bus.GetSubscriberCount(EventTypeWindowFound); n != 1 {
		t.Errorf("Expected 1 subscriber after unsubscribe, got %d", n)
	}
}

func TestHandlerPanicIsRecovered(t *testing.T) {
	bus := NewEventBus(4)

	var got []EventType
	bus.Subscribe(EventTypeError, func(Event) { panic("boom") })
	bus.Subscribe(EventTypeError, func(e Event) { got = append(got, e.Type) })

	bus.Publish(NewErrorEvent("test", "bus", errors.New("bad"), nil))
	bus.Stop()

	if len(got) != 1 {
		t.Errorf("Expected second handler to run after a panic, got %v", got)
	}
}

func TestPublishAfterStop(t *testing.T) {
	bus := NewEventBus(1)
	called := false
	bus.Subscribe(EventTypeWindowLost, func(Event) { called = true })
	bus.Stop()
	bus.Stop()

	bus.Publish(NewWindowLostEvent(7, "Roblox"))
	if called {
		t.Error("Expected events published after Stop to be dropped")
	}
}

func TestEventConstructors(t *testing.T) {
	tests := []struct {
		name  string
		event Event
		want  EventType
		key   string
	}{
		{"found", NewWindowFoundEvent(1, "Roblox"), EventTypeWindowFound, "pid"},
		{"fallback", NewWindowFallbackEvent(1, 1920, 1080), EventTypeWindowFallback, "width"},
		{"calibration", NewCalibrationCompleteEvent(1, 12, "reference"), EventTypeCalibrationComplete, "offset"},
		{"search", NewSearchFailedEvent("e_button", -1, errors.New("missing")), EventTypeSearchFailed, "needle"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.event.Type != tt.want {
				t.Errorf("Expected type %s, got %s", tt.want, tt.event.Type)
			}
			if tt.event.Timestamp.IsZero() {
				t.Error("Expected timestamp to be set")
			}
			if _, ok := tt.event.Data[tt.key]; !ok {
				t.Errorf("Expected data key %q in %v", tt.key, tt.event.Data)
			}
		})
	}
}
