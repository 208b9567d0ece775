package monitor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"jordanella.com/natro-go/internal/events"
	"jordanella.com/natro-go/internal/logging"
	"jordanella.com/natro-go/internal/window"
)

// WindowLocator reports whether the target window is present; *window.Locator
// satisfies it
type WindowLocator interface {
	Locate() (*window.Handle, bool)
}

// UnhealthyCallback is called when the macro becomes unhealthy
type UnhealthyCallback func(reason string, err error)

// Heartbeat periodically checks the target window and macro progress,
// publishing a heartbeat event per beat
type Heartbeat struct {
	locator WindowLocator
	bus     events.EventBus
	logger  *logging.Logger
	now     func() time.Time

	interval       time.Duration
	stallBeats     int           // Consecutive missing-window beats before a stalled event
	stuckTimeout   time.Duration // Idle time before a beat counts as stuck
	stuckThreshold int

	onUnhealthy UnhealthyCallback

	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu               sync.Mutex
	beat             int64
	missedBeats      int
	missingSince     time.Time
	lastActivityTime time.Time
	stuckCount       int
}

// NewHeartbeat creates a heartbeat over the given locator
func NewHeartbeat(locator WindowLocator, interval time.Duration) *Heartbeat {
	if interval <= 0 {
		interval = 10 * time.Second
	}
	return &Heartbeat{
		locator:          locator,
		logger:           logging.NewLogger("Heartbeat"),
		now:              time.Now,
		interval:         interval,
		stallBeats:       3,
		stuckTimeout:     30 * time.Second,
		stuckThreshold:   3,
		lastActivityTime: time.Now(),
	}
}

func (hb *Heartbeat) WithEventBus(bus events.EventBus) *Heartbeat {
	hb.bus = bus
	return hb
}

func (hb *Heartbeat) WithLogger(logger *logging.Logger) *Heartbeat {
	hb.logger = logger
	return hb
}

// WithClock replaces the time source
func (hb *Heartbeat) WithClock(now func() time.Time) *Heartbeat {
	hb.now = now
	hb.lastActivityTime = now()
	return hb
}

// WithStallBeats sets how many missing-window beats raise a stalled event
func (hb *Heartbeat) WithStallBeats(n int) *Heartbeat {
	if n > 0 {
		hb.stallBeats = n
	}
	return hb
}

// WithStuckTimeout sets the idle time after which beats count toward stuck
func (hb *Heartbeat) WithStuckTimeout(timeout time.Duration, threshold int) *Heartbeat {
	hb.stuckTimeout = timeout
	if threshold > 0 {
		hb.stuckThreshold = threshold
	}
	return hb
}

// WithUnhealthyCallback sets the callback for unhealthy conditions
func (hb *Heartbeat) WithUnhealthyCallback(callback UnhealthyCallback) *Heartbeat {
	hb.onUnhealthy = callback
	return hb
}

// Start begins beating until ctx is done or Stop is called
func (hb *Heartbeat) Start(ctx context.Context) {
	ctx, hb.cancel = context.WithCancel(ctx)

	hb.wg.Add(1)
	go func() {
		defer hb.wg.Done()

		ticker := time.NewTicker(hb.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				hb.Beat()
			}
		}
	}()
}

// Stop stops the heartbeat and waits for the loop to exit
func (hb *Heartbeat) Stop() {
	if hb.cancel != nil {
		hb.cancel()
	}
	hb.wg.Wait()
}

// RecordActivity marks progress, resetting stuck detection
func (hb *Heartbeat) RecordActivity() {
	hb.mu.Lock()
	defer hb.mu.Unlock()
	hb.lastActivityTime = hb.now()
	hb.stuckCount = 0
}

// Beats returns the number of beats so far
func (hb *Heartbeat) Beats() int64 {
	hb.mu.Lock()
	defer hb.mu.Unlock()
	return hb.beat
}

// Beat runs one check. The ticker loop calls it; it is exported so a
// caller can force a beat.
func (hb *Heartbeat) Beat() {
	h, alive := hb.locator.Locate()
	var pid int32
	if alive {
		pid = h.PID
	}

	hb.mu.Lock()
	hb.beat++
	beat := hb.beat
	now := hb.now()

	var stalled bool
	var missed int
	var since time.Time
	if alive {
		hb.missedBeats = 0
	} else {
		if hb.missedBeats == 0 {
			hb.missingSince = now
		}
		hb.missedBeats++
		if hb.missedBeats%hb.stallBeats == 0 {
			stalled, missed, since = true, hb.missedBeats, hb.missingSince
		}
	}

	var stuck bool
	idle := now.Sub(hb.lastActivityTime)
	if idle > hb.stuckTimeout {
		hb.stuckCount++
		if hb.stuckCount >= hb.stuckThreshold {
			stuck = true
			// Reset counter after triggering
			hb.stuckCount = 0
		}
	} else {
		hb.stuckCount = 0
	}
	hb.mu.Unlock()

	hb.publish(events.NewHeartbeatEvent(beat, alive, pid))

	if stalled {
		hb.logger.WarnWithContext("Target window missing", map[string]interface{}{
			"missed_beats": missed,
		})
		hb.publish(events.NewStalledEvent(missed, since))
		if hb.onUnhealthy != nil {
			hb.onUnhealthy("window_missing", fmt.Errorf("window missing for %d beats", missed))
		}
	}

	if stuck && hb.onUnhealthy != nil {
		hb.onUnhealthy("macro_stuck", fmt.Errorf("no activity for %v", idle))
	}
}

func (hb *Heartbeat) publish(e events.Event) {
	if hb.bus != nil {
		hb.bus.Publish(e)
	}
}
