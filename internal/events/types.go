package events

import "time"

// EventType represents different types of events in the system
type EventType string

const (
	// Window events
	EventTypeWindowFound    EventType = "window.found"
	EventTypeWindowLost     EventType = "window.lost"
	EventTypeWindowFallback EventType = "window.fallback"

	// Calibration events
	EventTypeCalibrationComplete EventType = "calibration.complete"

	// Search events
	EventTypeSearchFailed EventType = "search.failed"

	// Monitor events
	EventTypeHeartbeat EventType = "heartbeat"
	EventTypeStalled   EventType = "heartbeat.stalled"

	// Error events
	EventTypeError EventType = "error"
)

// AllEventTypes lists every event type the core publishes
var AllEventTypes = []EventType{
	EventTypeWindowFound,
	EventTypeWindowLost,
	EventTypeWindowFallback,
	EventTypeCalibrationComplete,
	EventTypeSearchFailed,
	EventTypeHeartbeat,
	EventTypeStalled,
	EventTypeError,
}

// Event represents a system event with metadata
type Event struct {
	Type      EventType              // Type of event
	Source    string                 // Component that emitted event (e.g., "locator", "heartbeat")
	Timestamp time.Time              // When the event occurred
	Data      map[string]interface{} // Event-specific data
}

// EventHandler is a function that processes an event
type EventHandler func(Event)

// SubscriptionID uniquely identifies a subscription
type SubscriptionID int64

// EventBus defines the interface for event pub/sub
type EventBus interface {
	// Subscribe registers a handler for a specific event type
	Subscribe(eventType EventType, handler EventHandler) SubscriptionID

	// Unsubscribe removes a subscription by ID
	Unsubscribe(id SubscriptionID)

	// Publish sends an event to all subscribers (blocking)
	Publish(event Event)

	// Stop stops the event bus and drains remaining events
	Stop()
}

// Helper functions to create common events

// NewWindowFoundEvent creates a window found event
func NewWindowFoundEvent(pid int32, name string) Event {
	return Event{
		Type:      EventTypeWindowFound,
		Source:    "locator",
		Timestamp: time.Now(),
		Data: map[string]interface{}{
			"pid":  pid,
			"name": name,
		},
	}
}

// NewWindowLostEvent creates a window lost event
func NewWindowLostEvent(pid int32, name string) Event {
	return Event{
		Type:      EventTypeWindowLost,
		Source:    "locator",
		Timestamp: time.Now(),
		Data: map[string]interface{}{
			"pid":  pid,
			"name": name,
		},
	}
}

// NewWindowFallbackEvent creates an event for bounds served from the display
func NewWindowFallbackEvent(pid int32, width, height int) Event {
	return Event{
		Type:      EventTypeWindowFallback,
		Source:    "locator",
		Timestamp: time.Now(),
		Data: map[string]interface{}{
			"pid":    pid,
			"width":  width,
			"height": height,
		},
	}
}

// NewCalibrationCompleteEvent creates a calibration complete event
func NewCalibrationCompleteEvent(pid int32, offset int, strategy string) Event {
	return Event{
		Type:      EventTypeCalibrationComplete,
		Source:    "calibration",
		Timestamp: time.Now(),
		Data: map[string]interface{}{
			"pid":      pid,
			"offset":   offset,
			"strategy": strategy,
		},
	}
}

// NewSearchFailedEvent creates an event for a search that could not run
func NewSearchFailedEvent(needle string, status int, err error) Event {
	return Event{
		Type:      EventTypeSearchFailed,
		Source:    "image_search",
		Timestamp: time.Now(),
		Data: map[string]interface{}{
			"needle": needle,
			"status": status,
			"error":  err.Error(),
		},
	}
}

// NewHeartbeatEvent creates a heartbeat event
func NewHeartbeatEvent(beat int64, windowAlive bool, pid int32) Event {
	return Event{
		Type:      EventTypeHeartbeat,
		Source:    "heartbeat",
		Timestamp: time.Now(),
		Data: map[string]interface{}{
			"beat":         beat,
			"window_alive": windowAlive,
			"pid":          pid,
		},
	}
}

// NewStalledEvent creates an event for a window missing across several beats
func NewStalledEvent(missedBeats int, since time.Time) Event {
	return Event{
		Type:      EventTypeStalled,
		Source:    "heartbeat",
		Timestamp: time.Now(),
		Data: map[string]interface{}{
			"missed_beats": missedBeats,
			"since":        since.Format(time.RFC3339),
		},
	}
}

// NewErrorEvent creates an error event
func NewErrorEvent(source, component string, err error, metadata map[string]interface{}) Event {
	data := map[string]interface{}{
		"source":    source,
		"component": component,
		"error":     err.Error(),
	}

	for k, v := range metadata {
		data[k] = v
	}

	return Event{
		Type:      EventTypeError,
		Source:    source,
		Timestamp: time.Now(),
		Data:      data,
	}
}
