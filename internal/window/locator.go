package window

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"jordanella.com/natro-go/internal/events"
	"jordanella.com/natro-go/internal/logging"
)

// Config controls how the target window is found and cached
type Config struct {
	TargetNames   []string      // Process/window names to look for, in priority order
	CacheDuration time.Duration // How long bounds are served without requerying
	WarnInterval  time.Duration // Minimum gap between repeated fallback warnings
	Retries       int           // Attempts per OS enumeration
	RetryDelay    time.Duration
}

// DefaultConfig returns the stock locator configuration
func DefaultConfig() Config {
	return Config{
		TargetNames:   []string{"RobloxPlayerBeta", "RobloxPlayer", "Roblox"},
		CacheDuration: 2 * time.Second,
		WarnInterval:  30 * time.Second,
		Retries:       2,
		RetryDelay:    50 * time.Millisecond,
	}
}

// Locator finds the target process and its on-screen window
type Locator struct {
	cfg      Config
	procs    ProcessLister
	server   Server
	display  Display
	geometry *Geometry

	logger   *logging.Logger
	throttle *logging.Throttle
	bus      events.EventBus
	now      func() time.Time

	mu        sync.Mutex
	cached    Bounds
	cachedPID int32
	hasCache  bool
	current   *Handle // Last handle seen by Locate, for found/lost events
}

// NewLocator creates a locator over the given OS collaborators
func NewLocator(cfg Config, procs ProcessLister, server Server, display Display) *Locator {
	defaults := DefaultConfig()
	if len(cfg.TargetNames) == 0 {
		cfg.TargetNames = defaults.TargetNames
	}
	if cfg.CacheDuration <= 0 {
		cfg.CacheDuration = defaults.CacheDuration
	}
	if cfg.WarnInterval <= 0 {
		cfg.WarnInterval = defaults.WarnInterval
	}
	if cfg.Retries < 1 {
		cfg.Retries = 1
	}

	return &Locator{
		cfg:      cfg,
		procs:    procs,
		server:   server,
		display:  display,
		geometry: &Geometry{},
		logger:   logging.NewLogger("WindowLocator"),
		throttle: logging.NewThrottle(cfg.WarnInterval),
		now:      time.Now,
	}
}

// NewSystemLocator wires the locator to the real OS
func NewSystemLocator(cfg Config) *Locator {
	return NewLocator(cfg, SystemProcesses{}, NewServer(), ScreenDisplay{})
}

// WithLogger replaces the locator logger
func (l *Locator) WithLogger(logger *logging.Logger) *Locator {
	l.logger = logger
	return l
}

// WithEventBus publishes window found/lost/fallback events to bus
func (l *Locator) WithEventBus(bus events.EventBus) *Locator {
	l.bus = bus
	return l
}

// WithClock overrides the time source used for cache ageing and throttling
func (l *Locator) WithClock(now func() time.Time) *Locator {
	l.now = now
	l.throttle.WithClock(now)
	return l
}

// Geometry returns the shared current-window geometry
func (l *Locator) Geometry() *Geometry {
	return l.geometry
}

// Config returns the locator configuration
func (l *Locator) Config() Config {
	return l.cfg
}

// Locate finds the first process whose name equals a target name, falling
// back to the first whose name contains one. Not found is (nil, false).
func (l *Locator) Locate() (*Handle, bool) {
	procs, err := retry(l.cfg.Retries, l.cfg.RetryDelay, l.procs.Processes)
	if err != nil {
		if l.throttle.Allow("locate-error") {
			l.logger.Error("Process enumeration failed", err)
		}
		l.noteHandle(nil)
		return nil, false
	}

	h := l.match(procs)
	l.noteHandle(h)
	return h, h != nil
}

func (l *Locator) match(procs []Process) *Handle {
	for _, target := range l.cfg.TargetNames {
		for _, p := range procs {
			if strings.EqualFold(trimExe(p.Name), trimExe(target)) {
				return &Handle{PID: p.PID, Name: p.Name}
			}
		}
	}

	for _, target := range l.cfg.TargetNames {
		needle := strings.ToLower(trimExe(target))
		for _, p := range procs {
			if strings.Contains(strings.ToLower(p.Name), needle) {
				return &Handle{PID: p.PID, Name: p.Name}
			}
		}
	}

	return nil
}

// Bounds returns the window rectangle for h, locating the target first when
// h is nil. Cached bounds are served while younger than the cache duration,
// owned by the same live process, and force is false. When no precise window
// can be resolved the full display is returned with Fallback set. ok is
// false only when even the display could not be read.
func (l *Locator) Bounds(h *Handle, force bool) (Bounds, bool) {
	if h == nil {
		h, _ = l.Locate()
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()

	if h != nil && !force && l.hasCache && l.cachedPID == h.PID &&
		now.Sub(l.cached.UpdatedAt) < l.cfg.CacheDuration && l.alive(h.PID) {
		return l.cached, true
	}

	if h != nil {
		if info, ok := l.findWindow(h); ok {
			b := Bounds{
				X:         info.X,
				Y:         info.Y,
				Width:     info.Width,
				Height:    info.Height,
				UpdatedAt: now,
			}
			l.cached = b
			l.cachedPID = h.PID
			l.hasCache = true
			l.geometry.Set(b)
			return b, true
		}
	}

	l.hasCache = false
	return l.fallback(h, now)
}

// Invalidate drops the cached bounds so the next Bounds call requeries
func (l *Locator) Invalidate() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.hasCache = false
}

// IsFocused reports whether the target owns the focused window
func (l *Locator) IsFocused(h *Handle) bool {
	if h == nil {
		var ok bool
		if h, ok = l.Locate(); !ok {
			return false
		}
	}

	pid, err := l.server.ActivePID()
	if err != nil {
		return false
	}
	return pid == h.PID
}

func (l *Locator) alive(pid int32) bool {
	ok, err := l.procs.Exists(pid)
	return err == nil && ok
}

// findWindow picks the first window owned by h's process whose title or
// owner overlaps a target name or the process name
func (l *Locator) findWindow(h *Handle) (Info, bool) {
	windows, err := retry(l.cfg.Retries, l.cfg.RetryDelay, l.server.Windows)
	if err != nil {
		if l.throttle.Allow("windows-error") {
			l.logger.WarnWithContext("Window enumeration failed", map[string]interface{}{
				"pid":   h.PID,
				"error": err.Error(),
			})
		}
		return Info{}, false
	}

	names := make([]string, 0, len(l.cfg.TargetNames)+1)
	for _, n := range l.cfg.TargetNames {
		names = append(names, strings.ToLower(trimExe(n)))
	}
	if h.Name != "" {
		names = append(names, strings.ToLower(trimExe(h.Name)))
	}

	for _, w := range windows {
		if w.PID != h.PID || w.Width <= 0 || w.Height <= 0 {
			continue
		}
		title, owner := strings.ToLower(w.Title), strings.ToLower(w.Owner)
		for _, n := range names {
			if n != "" && (strings.Contains(title, n) || strings.Contains(owner, n)) {
				return w, true
			}
		}
	}

	return Info{}, false
}

func (l *Locator) fallback(h *Handle, now time.Time) (Bounds, bool) {
	rect, err := l.display.Bounds()
	if err != nil {
		l.logger.Error("Could not read display bounds", err)
		l.geometry.Clear()
		return Bounds{}, false
	}

	b := Bounds{
		Width:     rect.Dx(),
		Height:    rect.Dy(),
		UpdatedAt: now,
		Fallback:  true,
	}
	l.geometry.Set(b)

	var pid int32
	if h != nil {
		pid = h.PID
	}
	if l.throttle.Allow("fallback") {
		l.logger.WarnWithContext("Could not get exact window bounds, using display", map[string]interface{}{
			"pid":    pid,
			"width":  b.Width,
			"height": b.Height,
		})
		l.publish(events.NewWindowFallbackEvent(pid, b.Width, b.Height))
	}

	return b, true
}

func (l *Locator) noteHandle(h *Handle) {
	l.mu.Lock()
	prev := l.current
	if h != nil {
		cp := *h
		l.current = &cp
	} else {
		l.current = nil
	}
	l.mu.Unlock()

	switch {
	case prev != nil && (h == nil || h.PID != prev.PID):
		l.logger.InfoWithContext("Target window lost", map[string]interface{}{"pid": prev.PID})
		l.publish(events.NewWindowLostEvent(prev.PID, prev.Name))
		if h != nil {
			l.publishFound(h)
		}
	case prev == nil && h != nil:
		l.publishFound(h)
	}
}

func (l *Locator) publishFound(h *Handle) {
	l.logger.InfoWithContext("Target window found", map[string]interface{}{
		"pid":  h.PID,
		"name": h.Name,
	})
	l.publish(events.NewWindowFoundEvent(h.PID, h.Name))
}

func (l *Locator) publish(e events.Event) {
	if l.bus != nil {
		l.bus.Publish(e)
	}
}

func trimExe(name string) string {
	if len(name) > 4 && strings.EqualFold(name[len(name)-4:], ".exe") {
		return name[:len(name)-4]
	}
	return name
}

// retry calls fn up to attempts times, sleeping delay between failures
func retry[T any](attempts int, delay time.Duration, fn func() (T, error)) (T, error) {
	var (
		out T
		err error
	)
	for i := 0; i < attempts; i++ {
		if i > 0 && delay > 0 {
			time.Sleep(delay)
		}
		if out, err = fn(); err == nil {
			return out, nil
		}
	}
	return out, fmt.Errorf("after %d attempts: %w", attempts, err)
}
