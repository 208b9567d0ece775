package macro

import (
	"context"
	"sync"
)

// State is the run state of a session loop
type State int32

const (
	StateIdle State = iota
	StateRunning
	StatePaused
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRunning:
		return "running"
	case StatePaused:
		return "paused"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// Controller carries pause/resume/stop signals into the session loop
type Controller struct {
	mu     sync.Mutex
	state  State
	resume chan struct{} // Closed on resume or stop; nil unless paused
}

// NewController creates an idle controller
func NewController() *Controller {
	return &Controller{state: StateIdle}
}

// State returns the current state
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Start moves an idle or stopped controller to running.
// Returns false if it is already running or paused.
func (c *Controller) Start() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state == StateRunning || c.state == StatePaused {
		return false
	}
	c.state = StateRunning
	return true
}

// Pause pauses a running loop.
// Returns true if pause was initiated, false if not running.
func (c *Controller) Pause() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != StateRunning {
		return false
	}
	c.state = StatePaused
	c.resume = make(chan struct{})
	return true
}

// Resume resumes a paused loop.
// Returns true if resume was initiated, false if not paused.
func (c *Controller) Resume() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != StatePaused {
		return false
	}
	c.state = StateRunning
	close(c.resume)
	c.resume = nil
	return true
}

// Stop stops the loop, waking it if paused
func (c *Controller) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state == StatePaused {
		close(c.resume)
		c.resume = nil
	}
	c.state = StateStopped
}

// CheckPauseOrStop returns true if the loop should continue. It blocks
// while paused, until resumed, stopped or ctx is done.
func (c *Controller) CheckPauseOrStop(ctx context.Context) bool {
	for {
		c.mu.Lock()
		state, wake := c.state, c.resume
		c.mu.Unlock()

		switch state {
		case StateStopped:
			return false
		case StatePaused:
			select {
			case <-wake:
				// Re-check: resumed or stopped
			case <-ctx.Done():
				return false
			}
		default:
			return ctx.Err() == nil
		}
	}
}
