package logging

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"jordanella.com/natro-go/internal/events"
)

// EventLogger subscribes to event bus and logs all events
type EventLogger struct {
	logger          *Logger
	eventBus        events.EventBus
	subscriptionIDs []events.SubscriptionID
	logFile         *os.File
}

// NewEventLogger creates a new event logger writing to a timestamped file in logDir
func NewEventLogger(eventBus events.EventBus, logDir string) (*EventLogger, error) {
	if err := os.MkdirAll(logDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}

	timestamp := time.Now().Format("2006-01-02_15-04-05")
	logPath := filepath.Join(logDir, fmt.Sprintf("events_%s.log", timestamp))
	logFile, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to create log file: %w", err)
	}

	logger := NewLogger("EventLogger")
	logger.SetOutputs(logFile)

	el := &EventLogger{
		logger:   logger,
		eventBus: eventBus,
		logFile:  logFile,
	}

	el.subscribeToEvents()

	return el, nil
}

// Path returns the log file path
func (el *EventLogger) Path() string {
	return el.logFile.Name()
}

func (el *EventLogger) subscribeToEvents() {
	for _, eventType := range events.AllEventTypes {
		el.subscriptionIDs = append(el.subscriptionIDs, el.eventBus.Subscribe(eventType, el.handleEvent))
	}
}

// handleEvent handles incoming events and logs them
func (el *EventLogger) handleEvent(event events.Event) {
	context := map[string]interface{}{
		"event_type": string(event.Type),
		"source":     event.Source,
	}

	for k, v := range event.Data {
		context[k] = v
	}

	switch event.Type {
	case events.EventTypeError, events.EventTypeStalled, events.EventTypeSearchFailed:
		el.logger.WarnWithContext(fmt.Sprintf("Event: %s", event.Type), context)
	case events.EventTypeHeartbeat:
		el.logger.DebugWithContext(fmt.Sprintf("Event: %s", event.Type), context)
	default:
		el.logger.InfoWithContext(fmt.Sprintf("Event: %s", event.Type), context)
	}
}

// Close unsubscribes and closes the log file
func (el *EventLogger) Close() error {
	for _, id := range el.subscriptionIDs {
		el.eventBus.Unsubscribe(id)
	}
	el.subscriptionIDs = nil

	if el.logFile != nil {
		return el.logFile.Close()
	}
	return nil
}
