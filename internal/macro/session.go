package macro

import (
	"context"
	"fmt"
	"image"
	"image/color"
	"time"

	"github.com/google/uuid"

	"jordanella.com/natro-go/internal/calibration"
	"jordanella.com/natro-go/internal/config"
	"jordanella.com/natro-go/internal/cv"
	"jordanella.com/natro-go/internal/database"
	"jordanella.com/natro-go/internal/events"
	"jordanella.com/natro-go/internal/logging"
	"jordanella.com/natro-go/internal/monitor"
	"jordanella.com/natro-go/internal/window"
	"jordanella.com/natro-go/pkg/templates"
)

// Dependencies are the collaborators a session runs on. Nil fields are
// built from settings against the real OS.
type Dependencies struct {
	Locator  *window.Locator
	Capturer cv.Capturer
	Catalog  *templates.TemplateRegistry
	Journal  *database.DB
	Bus      events.EventBus
	Routines *RoutineRegistry
	Strategy calibration.Strategy
	Logger   *logging.Logger
}

// Session is the caller-facing facade over window location, image search
// and calibration. Nothing it exposes panics or returns raw errors to
// automation code; failures become sentinel values.
type Session struct {
	settings *config.Settings
	runID    string

	locator     *window.Locator
	engine      *cv.Engine
	catalog     *templates.TemplateRegistry
	calibration *calibration.Cache
	journal     *database.DB
	heartbeat   *monitor.Heartbeat
	routines    *RoutineRegistry
	controller  *Controller

	bus     events.EventBus
	ownsBus bool
	logger  *logging.Logger
}

// NewSession wires a session from settings
func NewSession(settings *config.Settings, deps Dependencies) (*Session, error) {
	if settings == nil {
		settings = config.NewDefaultSettings()
	}

	s := &Session{
		settings:   settings,
		runID:      uuid.New().String(),
		routines:   deps.Routines,
		controller: NewController(),
		bus:        deps.Bus,
		logger:     deps.Logger,
	}
	if s.logger == nil {
		s.logger = logging.NewLogger("Session")
	}
	if s.routines == nil {
		s.routines = DefaultRoutines()
	}
	if s.bus == nil {
		s.bus = events.NewEventBus(100)
		s.ownsBus = true
	}

	// Asset catalog
	s.catalog = deps.Catalog
	if s.catalog == nil {
		s.catalog = templates.NewTemplateRegistry(settings.AssetDir)
		if err := s.catalog.LoadFromDirectory(settings.AssetDir); err != nil {
			// Needles can still be addressed by file path
			s.logger.WarnWithContext("Asset catalog not loaded", map[string]interface{}{
				"dir":   settings.AssetDir,
				"error": err.Error(),
			})
		}
	}

	// Journal
	s.journal = deps.Journal
	if s.journal == nil && settings.JournalPath != "" {
		db, err := database.Open(settings.JournalPath)
		if err != nil {
			return nil, fmt.Errorf("failed to open journal: %w", err)
		}
		if err := db.RunMigrations(); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to run journal migrations: %w", err)
		}
		s.journal = db
	}
	if s.journal != nil {
		s.journal.WithRunID(s.runID)
	}

	// Window locator
	s.locator = deps.Locator
	if s.locator == nil {
		s.locator = window.NewLocator(LocatorConfig(settings),
			window.SystemProcesses{}, window.NewServer(), window.ScreenDisplay{Index: settings.DisplayIndex})
	}
	s.locator.WithEventBus(s.bus)

	// Search engine
	capturer := deps.Capturer
	if capturer == nil {
		capturer = cv.NewScreenCapturer(settings.DisplayIndex)
	}
	s.engine = cv.NewEngine(capturer).
		WithNeedleSource(s.catalog).
		WithCaptureRetry(settings.CaptureAttempts, settings.CaptureDelay()).
		WithPollInterval(settings.PollInterval()).
		WithObserver(s.observeSearch)

	// Calibration
	strategy := deps.Strategy
	if strategy == nil {
		strategy = StrategyFor(settings, s.engine)
	}
	s.calibration = calibration.NewCache(s.locator, strategy).WithEventBus(s.bus)
	if s.journal != nil {
		s.calibration.WithRecorder(s.journal)
	}

	// Heartbeat
	s.heartbeat = monitor.NewHeartbeat(s.locator, settings.HeartbeatInterval()).
		WithEventBus(s.bus).
		WithStallBeats(settings.HeartbeatStallBeat).
		WithUnhealthyCallback(func(reason string, err error) {
			s.logger.WarnWithContext("Health check failed", map[string]interface{}{
				"reason": reason,
				"error":  err.Error(),
			})
			s.bus.Publish(events.NewErrorEvent("heartbeat", "Session", err, map[string]interface{}{
				"reason": reason,
			}))
		})

	return s, nil
}

// LocatorConfig maps settings onto the window locator configuration
func LocatorConfig(settings *config.Settings) window.Config {
	return window.Config{
		TargetNames:   settings.TargetNames,
		CacheDuration: settings.BoundsCacheDuration(),
		WarnInterval:  settings.FallbackWarnInterval(),
		Retries:       settings.LocatorRetries,
		RetryDelay:    settings.LocatorRetryDelayDuration(),
	}
}

// StrategyFor picks the calibration strategy named by settings
func StrategyFor(settings *config.Settings, finder calibration.Finder) calibration.Strategy {
	if settings.CalibrationNeedle == "" {
		return calibration.ZeroStrategy{}
	}
	return calibration.ReferenceStrategy{
		Finder:     finder,
		Needle:     settings.CalibrationNeedle,
		ExpectedY:  settings.CalibrationExpectedY,
		BandHeight: settings.CalibrationBand,
		Variation:  settings.CalibrationVariation,
	}
}

// Accessors

func (s *Session) Engine() *cv.Engine                   { return s.engine }
func (s *Session) Locator() *window.Locator             { return s.locator }
func (s *Session) Catalog() *templates.TemplateRegistry { return s.catalog }
func (s *Session) Journal() *database.DB                { return s.journal }
func (s *Session) Calibration() *calibration.Cache      { return s.calibration }
func (s *Session) Heartbeat() *monitor.Heartbeat        { return s.heartbeat }
func (s *Session) Routines() *RoutineRegistry           { return s.routines }
func (s *Session) Controller() *Controller              { return s.controller }
func (s *Session) EventBus() events.EventBus            { return s.bus }
func (s *Session) Settings() *config.Settings           { return s.settings }
func (s *Session) RunID() string                        { return s.runID }

// CatalogVariation asks a search to use the needle's catalog variation, or
// the configured default for needles outside the catalog
const CatalogVariation = -1

// ImageSearch searches the screen, or region when non-nil, for needle.
// The count is the number of matches, 0 for none, or a negative sentinel
// when the search could not run. A variation of 0 is an exact search.
func (s *Session) ImageSearch(needle string, region *cv.Region, variation int) (int, []image.Point) {
	return s.engine.Search(needle, s.searchOptions(region, variation)...)
}

// WaitForImage polls until needle appears or timeout elapses
func (s *Session) WaitForImage(ctx context.Context, needle string, timeout time.Duration, region *cv.Region, variation int) (image.Point, bool) {
	p, ok := s.engine.WaitForImage(ctx, needle, timeout, s.searchOptions(region, variation)...)
	if ok {
		s.heartbeat.RecordActivity()
	}
	return p, ok
}

// MultiImageSearch returns the index and position of the first needle
// found, trying needles in order
func (s *Session) MultiImageSearch(needles []string, region *cv.Region, variation int) (int, image.Point, bool) {
	return s.engine.MultiImageSearch(needles, s.searchOptions(region, variation)...)
}

// PixelSearch returns the screen pixels in region, or the whole screen when
// region is nil, within tolerance of target
func (s *Session) PixelSearch(target color.RGBA, tolerance uint8, region *cv.Region) ([]image.Point, bool) {
	var r cv.Region
	if region != nil {
		r = *region
	}
	points, err := s.engine.PixelSearch(target, tolerance, r)
	if err != nil {
		s.logger.ErrorWithContext("Pixel search failed", err, map[string]interface{}{
			"region": r,
		})
		return nil, false
	}
	return points, len(points) > 0
}

// GetWindow locates the target process
func (s *Session) GetWindow() (*window.Handle, bool) {
	return s.locator.Locate()
}

// GetWindowBounds returns the window rectangle, or the display with
// Fallback set when the window cannot be resolved
func (s *Session) GetWindowBounds(h *window.Handle, force bool) (window.Bounds, bool) {
	return s.locator.Bounds(h, force)
}

// WindowRegion returns the current window bounds as a search region
func (s *Session) WindowRegion() (cv.Region, bool) {
	b, ok := s.locator.Bounds(nil, false)
	if !ok {
		return cv.Region{}, false
	}
	return cv.RegionFromRect(b.Rect()), true
}

// YOffset returns the calibration offset of the current window
func (s *Session) YOffset() (int, bool) {
	return s.calibration.OffsetFor(nil)
}

// ScreenPoint converts window-relative coordinates to screen coordinates
// using the current window bounds and calibration offset
func (s *Session) ScreenPoint(x, y int) (image.Point, bool) {
	if _, ok := s.locator.Bounds(nil, false); !ok {
		return image.Point{}, false
	}
	offset, ok := s.YOffset()
	if !ok {
		return image.Point{}, false
	}
	return s.locator.Geometry().Translate(x, y, offset), true
}

// IsFocused reports whether the target window has focus
func (s *Session) IsFocused() bool {
	return s.locator.IsFocused(nil)
}

// RunRoutine runs a registered routine by name
func (s *Session) RunRoutine(ctx context.Context, name string) error {
	routine, err := s.routines.Get(name)
	if err != nil {
		return err
	}
	if err := routine(ctx, s); err != nil {
		return fmt.Errorf("routine %s: %w", name, err)
	}
	s.heartbeat.RecordActivity()
	return nil
}

// Run is the main loop: locate the window, refresh its bounds, run the
// start routine if one is configured, sleep. It waits longer while the
// window is missing. Returns nil when ctx is cancelled or Stop is called.
func (s *Session) Run(ctx context.Context) error {
	if !s.controller.Start() {
		return fmt.Errorf("session already running")
	}
	defer s.controller.Stop()

	if s.settings.StartRoutine != "" && !s.routines.Has(s.settings.StartRoutine) {
		return fmt.Errorf("start routine %s not registered", s.settings.StartRoutine)
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	s.heartbeat.Start(ctx)
	defer s.heartbeat.Stop()

	if s.settings.WatchAssets {
		watcher := templates.NewWatcher(s.catalog, s.settings.AssetDir).
			WithLogger(s.logger).
			WithOnReload(s.engine.ClearNeedleCache)
		if err := watcher.Start(ctx); err != nil {
			s.logger.Error("Asset watcher disabled", err)
		}
	}

	s.logger.InfoWithContext("Macro started", map[string]interface{}{
		"run_id": s.runID,
	})

	for s.controller.CheckPauseOrStop(ctx) {
		delay := s.settings.LoopInterval()

		if h, ok := s.GetWindow(); !ok {
			s.logger.Warn("Target window not found, waiting...")
			delay = s.settings.MissingWindowDelay()
		} else {
			s.GetWindowBounds(h, false)
			s.heartbeat.RecordActivity()

			if s.settings.StartRoutine != "" {
				if err := s.RunRoutine(ctx, s.settings.StartRoutine); err != nil {
					s.logger.Error("Routine failed", err)
					s.bus.Publish(events.NewErrorEvent("routine", "Session", err, map[string]interface{}{
						"routine": s.settings.StartRoutine,
					}))
				}
			}
		}

		if !sleep(ctx, delay) {
			break
		}
	}

	s.logger.Info("Macro stopped")
	return nil
}

// Stop ends Run after its current iteration
func (s *Session) Stop() {
	s.controller.Stop()
}

// Close stops the session and releases the journal. The event bus is
// stopped only if the session created it.
func (s *Session) Close() error {
	s.controller.Stop()

	var err error
	if s.journal != nil {
		err = s.journal.Close()
		s.journal = nil
	}
	if s.ownsBus {
		s.bus.Stop()
	}
	return err
}

func (s *Session) searchOptions(region *cv.Region, variation int) []cv.Option {
	opts := []cv.Option{cv.WithDefaultVariation(s.settings.DefaultVariation)}
	if variation != CatalogVariation {
		opts = append(opts, cv.WithVariation(variation))
	}
	if region != nil {
		opts = append(opts, cv.WithRegion(*region))
	}
	return opts
}

// observeSearch journals every search and publishes failures
func (s *Session) observeSearch(needle string, res *cv.SearchResult, err error, elapsed time.Duration) {
	if s.journal != nil {
		s.journal.ObserveSearch(needle, res, err, elapsed)
	}
	if err != nil {
		s.bus.Publish(events.NewSearchFailedEvent(needle, cv.StatusCode(err), err))
	}
}

// sleep waits for d or until ctx is done; false means ctx ended
func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}
