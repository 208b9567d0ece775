package calibration

import (
	"sync"
	"time"

	"jordanella.com/natro-go/internal/events"
	"jordanella.com/natro-go/internal/logging"
	"jordanella.com/natro-go/internal/window"
)

// Resolver locates the target window; *window.Locator satisfies it
type Resolver interface {
	Locate() (*window.Handle, bool)
	Bounds(h *window.Handle, force bool) (window.Bounds, bool)
}

// Recorder persists calibration outcomes
type Recorder interface {
	RecordCalibration(pid int32, offset int, strategy string, calErr error) error
}

// Entry is a memoized calibration result
type Entry struct {
	PID          int32
	Offset       int
	Strategy     string
	CalibratedAt time.Time
}

// Cache memoizes the calibration offset per process. Entries are dropped
// when the target process changes.
type Cache struct {
	resolver Resolver
	strategy Strategy

	logger   *logging.Logger
	bus      events.EventBus
	recorder Recorder
	now      func() time.Time

	mu      sync.Mutex
	entries map[int32]Entry
	lastPID int32
}

// NewCache creates a calibration cache
func NewCache(resolver Resolver, strategy Strategy) *Cache {
	if strategy == nil {
		strategy = ZeroStrategy{}
	}
	return &Cache{
		resolver: resolver,
		strategy: strategy,
		logger:   logging.NewLogger("Calibration"),
		now:      time.Now,
		entries:  make(map[int32]Entry),
	}
}

// WithLogger replaces the cache logger
func (c *Cache) WithLogger(logger *logging.Logger) *Cache {
	c.logger = logger
	return c
}

// WithEventBus publishes calibration.complete events to bus
func (c *Cache) WithEventBus(bus events.EventBus) *Cache {
	c.bus = bus
	return c
}

// WithRecorder persists every calibration attempt
func (c *Cache) WithRecorder(r Recorder) *Cache {
	c.recorder = r
	return c
}

// OffsetFor returns the offset for h, calibrating on first use. A nil h is
// resolved through the locator. ok is false when no window exists or
// calibration failed; the offset is then 0 and nothing is cached.
func (c *Cache) OffsetFor(h *window.Handle) (int, bool) {
	if h == nil {
		var found bool
		if h, found = c.resolver.Locate(); !found {
			return 0, false
		}
	}

	c.mu.Lock()
	if c.lastPID != 0 && c.lastPID != h.PID {
		c.entries = make(map[int32]Entry)
	}
	c.lastPID = h.PID
	if e, ok := c.entries[h.PID]; ok {
		c.mu.Unlock()
		return e.Offset, true
	}
	c.mu.Unlock()

	b, ok := c.resolver.Bounds(h, false)
	if !ok {
		return 0, false
	}

	offset, err := c.strategy.Calibrate(h, b)
	c.record(h.PID, offset, err)
	if err != nil {
		c.logger.WarnWithContext("Calibration failed", map[string]interface{}{
			"pid":      h.PID,
			"strategy": c.strategy.Name(),
			"error":    err.Error(),
		})
		return 0, false
	}

	entry := Entry{
		PID:          h.PID,
		Offset:       offset,
		Strategy:     c.strategy.Name(),
		CalibratedAt: c.now(),
	}

	c.mu.Lock()
	// The target may have changed while calibrating
	if c.lastPID == h.PID {
		c.entries[h.PID] = entry
	}
	c.mu.Unlock()

	c.logger.InfoWithContext("Calibrated window offset", map[string]interface{}{
		"pid":      h.PID,
		"offset":   offset,
		"strategy": entry.Strategy,
	})
	if c.bus != nil {
		c.bus.Publish(events.NewCalibrationCompleteEvent(h.PID, offset, entry.Strategy))
	}

	return offset, true
}

// Entry returns the cached entry for pid
func (c *Cache) Entry(pid int32) (Entry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[pid]
	return e, ok
}

// Forget drops the entry for pid
func (c *Cache) Forget(pid int32) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, pid)
}

// Reset drops every entry
func (c *Cache) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[int32]Entry)
	c.lastPID = 0
}

func (c *Cache) record(pid int32, offset int, err error) {
	if c.recorder == nil {
		return
	}
	if recErr := c.recorder.RecordCalibration(pid, offset, c.strategy.Name(), err); recErr != nil {
		c.logger.Error("Failed to record calibration", recErr)
	}
}
