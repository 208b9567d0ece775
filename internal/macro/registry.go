package macro

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// Routine is one unit of automation run against a session
type Routine func(ctx context.Context, s *Session) error

// RoutineRegistry maps routine names to routines, populated at startup
type RoutineRegistry struct {
	mu       sync.RWMutex
	routines map[string]Routine
}

// NewRoutineRegistry creates an empty registry
func NewRoutineRegistry() *RoutineRegistry {
	return &RoutineRegistry{
		routines: make(map[string]Routine),
	}
}

// Register adds a routine. Names are unique.
func (rr *RoutineRegistry) Register(name string, routine Routine) error {
	if name == "" {
		return fmt.Errorf("routine name cannot be empty")
	}
	if routine == nil {
		return fmt.Errorf("routine %s is nil", name)
	}

	rr.mu.Lock()
	defer rr.mu.Unlock()

	if _, exists := rr.routines[name]; exists {
		return fmt.Errorf("routine %s already registered", name)
	}
	rr.routines[name] = routine
	return nil
}

// MustRegister is Register for startup code; it panics on error
func (rr *RoutineRegistry) MustRegister(name string, routine Routine) {
	if err := rr.Register(name, routine); err != nil {
		panic(err)
	}
}

// Get returns a routine by name
func (rr *RoutineRegistry) Get(name string) (Routine, error) {
	rr.mu.RLock()
	defer rr.mu.RUnlock()

	routine, ok := rr.routines[name]
	if !ok {
		return nil, fmt.Errorf("routine %s not found", name)
	}
	return routine, nil
}

// Has checks if a routine exists
func (rr *RoutineRegistry) Has(name string) bool {
	rr.mu.RLock()
	defer rr.mu.RUnlock()
	_, ok := rr.routines[name]
	return ok
}

// List returns the sorted routine names
func (rr *RoutineRegistry) List() []string {
	rr.mu.RLock()
	defer rr.mu.RUnlock()

	names := make([]string, 0, len(rr.routines))
	for name := range rr.routines {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// DefaultRoutines returns a registry holding the built-in routines
func DefaultRoutines() *RoutineRegistry {
	rr := NewRoutineRegistry()
	rr.MustRegister("calibrate", calibrateRoutine)
	rr.MustRegister("report", reportRoutine)
	return rr
}

// calibrateRoutine drops the memoized offset and measures it again
func calibrateRoutine(ctx context.Context, s *Session) error {
	h, ok := s.GetWindow()
	if !ok {
		return fmt.Errorf("calibrate: target window not found")
	}
	s.calibration.Forget(h.PID)

	offset, ok := s.YOffset()
	if !ok {
		return fmt.Errorf("calibrate: offset unavailable for pid %d", h.PID)
	}
	s.logger.InfoWithContext("Calibrated", map[string]interface{}{
		"pid":    h.PID,
		"offset": offset,
	})
	return nil
}

// reportRoutine logs the current window geometry and where its calibrated
// origin lands on screen
func reportRoutine(ctx context.Context, s *Session) error {
	b, ok := s.GetWindowBounds(nil, true)
	if !ok {
		return fmt.Errorf("report: bounds unavailable")
	}
	fields := map[string]interface{}{
		"x":        b.X,
		"y":        b.Y,
		"width":    b.Width,
		"height":   b.Height,
		"fallback": b.Fallback,
	}
	if origin, ok := s.ScreenPoint(0, 0); ok {
		fields["origin_x"] = origin.X
		fields["origin_y"] = origin.Y
	}
	s.logger.InfoWithContext("Window bounds", fields)
	return nil
}
