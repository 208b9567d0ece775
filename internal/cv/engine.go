package cv

import (
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"os"
	"sync"
	"time"

	"jordanella.com/natro-go/internal/logging"
)

// NeedleSource resolves needle keys to images (the asset catalog)
type NeedleSource interface {
	Has(key string) bool
	Needle(key string) (*Needle, error)
}

// TemplateSource optionally supplies per-needle search defaults
type TemplateSource interface {
	Get(name string) (Template, bool)
}

// SearchObserver is notified after every search, successful or not
type SearchObserver func(needle string, res *SearchResult, err error, elapsed time.Duration)

// SearchResult is the outcome of a search that ran. Points are absolute
// screen coordinates in scan order.
type SearchResult struct {
	Needle     string
	Points     []image.Point
	Scores     []float64
	NeedleSize image.Point
	Searched   image.Rectangle // Screen rectangle that was captured
	Threshold  float64
}

// Count returns the number of accepted matches
func (r *SearchResult) Count() int {
	return len(r.Points)
}

// First returns the first match in scan order
func (r *SearchResult) First() (image.Point, bool) {
	if r == nil || len(r.Points) == 0 {
		return image.Point{}, false
	}
	return r.Points[0], true
}

// Engine answers "is this needle visible, and where"
type Engine struct {
	capturer Capturer
	source   NeedleSource
	observer SearchObserver

	logger   *logging.Logger
	throttle *logging.Throttle

	needleCache map[string]*Needle

	captureAttempts int
	retryDelay      time.Duration
	pollInterval    time.Duration

	mu sync.RWMutex
}

// NewEngine creates a search engine over a capturer
func NewEngine(capturer Capturer) *Engine {
	return &Engine{
		capturer:        capturer,
		logger:          logging.NewLogger("ImageSearch"),
		throttle:        logging.NewThrottle(30 * time.Second),
		needleCache:     make(map[string]*Needle),
		captureAttempts: 2,
		retryDelay:      50 * time.Millisecond,
		pollInterval:    500 * time.Millisecond,
	}
}

// WithNeedleSource sets the asset catalog used to resolve needle keys
func (e *Engine) WithNeedleSource(source NeedleSource) *Engine {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.source = source
	return e
}

// WithLogger replaces the engine logger
func (e *Engine) WithLogger(logger *logging.Logger) *Engine {
	e.logger = logger
	return e
}

// WithObserver sets the callback invoked after each search
func (e *Engine) WithObserver(observer SearchObserver) *Engine {
	e.observer = observer
	return e
}

// WithCaptureRetry sets the total capture attempts and the delay between them
func (e *Engine) WithCaptureRetry(attempts int, delay time.Duration) *Engine {
	if attempts < 1 {
		attempts = 1
	}
	e.captureAttempts = attempts
	e.retryDelay = delay
	return e
}

// WithPollInterval sets the WaitForImage poll interval
func (e *Engine) WithPollInterval(interval time.Duration) *Engine {
	if interval > 0 {
		e.pollInterval = interval
	}
	return e
}

// Search runs a search and returns the match count and absolute coordinates.
// A negative count reports a search that could not run (see StatusCode);
// zero is a legitimate no-match.
func (e *Engine) Search(needle string, opts ...Option) (int, []image.Point) {
	res, err := e.Find(needle, opts...)
	if err != nil {
		return StatusCode(err), nil
	}
	return res.Count(), res.Points
}

// SearchInto runs a search and replaces *dst with the matches. On error
// *dst is left untouched.
func (e *Engine) SearchInto(dst *[]image.Point, needle string, opts ...Option) int {
	count, points := e.Search(needle, opts...)
	if count < 0 {
		return count
	}
	if dst != nil {
		*dst = append((*dst)[:0], points...)
	}
	return count
}

// SearchInRegion returns the first match inside region
func (e *Engine) SearchInRegion(needle string, region Region, variation int) (image.Point, bool) {
	count, points := e.Search(needle, WithRegion(region), WithVariation(variation))
	if count <= 0 {
		return image.Point{}, false
	}
	return points[0], true
}

// SearchOnScreen returns the first match anywhere on screen
func (e *Engine) SearchOnScreen(needle string, variation int) (image.Point, bool) {
	count, points := e.Search(needle, WithVariation(variation))
	if count <= 0 {
		return image.Point{}, false
	}
	return points[0], true
}

// WaitForImage polls until needle appears or timeout elapses. At least one
// search is always made. It never interrupts a capture in flight; ctx is
// only checked between polls.
func (e *Engine) WaitForImage(ctx context.Context, needle string, timeout time.Duration, opts ...Option) (image.Point, bool) {
	deadline := time.Now().Add(timeout)

	for {
		count, points := e.Search(needle, opts...)
		if count > 0 {
			return points[0], true
		}

		remaining := time.Until(deadline)
		if remaining <= 0 {
			return image.Point{}, false
		}

		wait := e.pollInterval
		if wait > remaining {
			wait = remaining
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return image.Point{}, false
		case <-timer.C:
		}
	}
}

// MultiImageSearch tries needles in order and returns the index and location
// of the first one found.
func (e *Engine) MultiImageSearch(needles []string, opts ...Option) (int, image.Point, bool) {
	for i, needle := range needles {
		count, points := e.Search(needle, opts...)
		if count > 0 {
			return i, points[0], true
		}
	}
	return -1, image.Point{}, false
}

// Find runs a search by needle key (catalog key or file path)
func (e *Engine) Find(needleKey string, opts ...Option) (res *SearchResult, err error) {
	start := time.Now()
	defer func() {
		if err != nil {
			e.logFailure(needleKey, err)
		}
		if e.observer != nil {
			e.observer(needleKey, res, err, time.Since(start))
		}
	}()

	o := newSearchOptions(opts)

	needle, err := e.loadNeedle(needleKey)
	if err != nil {
		return nil, err
	}
	e.applyTemplateDefaults(needleKey, o)

	return e.search(needle, o)
}

// FindNeedle runs a search with an already-loaded needle
func (e *Engine) FindNeedle(needle *Needle, opts ...Option) (*SearchResult, error) {
	if needle == nil || needle.Image == nil {
		return nil, fmt.Errorf("%w: nil needle", ErrInvalidArgument)
	}
	o := newSearchOptions(opts)
	if !o.variationSet {
		o.variation = o.fallback
	}
	return e.search(needle, o)
}

func (e *Engine) search(needle *Needle, o *searchOptions) (*SearchResult, error) {
	if err := o.validate(); err != nil {
		return nil, err
	}

	rect, haystack, err := e.captureRegion(o.region)
	if err != nil {
		return nil, err
	}

	transparent := needle.Transparent
	if o.transparent != nil {
		transparent = o.transparent
	}

	sm, err := MatchTemplate(haystack, needle.Image, transparent)
	if err != nil {
		return nil, err
	}

	size := needle.Size()
	threshold := o.threshold()
	kept := Suppress(sm.Candidates(threshold), size.X, size.Y, o.direction)

	res := &SearchResult{
		Needle:     needle.Name,
		Points:     make([]image.Point, 0, len(kept)),
		Scores:     make([]float64, 0, len(kept)),
		NeedleSize: size,
		Searched:   rect,
		Threshold:  threshold,
	}
	for _, c := range kept {
		p := c.Point.Add(rect.Min)
		if o.center {
			p = p.Add(image.Point{X: size.X / 2, Y: size.Y / 2})
		}
		res.Points = append(res.Points, p)
		res.Scores = append(res.Scores, c.Score)
	}

	return res, nil
}

// captureRegion grabs region clipped to the screen, or the whole screen
// when region is empty
func (e *Engine) captureRegion(region Region) (image.Rectangle, *image.RGBA, error) {
	screen, err := e.screenBounds()
	if err != nil {
		return image.Rectangle{}, nil, err
	}

	rect := screen
	if !region.Empty() {
		rect = region.Rect().Intersect(screen)
		if rect.Empty() {
			return image.Rectangle{}, nil, fmt.Errorf("%w: region %v outside screen %v", ErrInvalidArgument, region, screen)
		}
	}

	img, err := e.capture(rect)
	if err != nil {
		return image.Rectangle{}, nil, err
	}
	return rect, img, nil
}

// PixelSearch returns every pixel in region within tolerance of target, in
// absolute screen coordinates and row-major order
func (e *Engine) PixelSearch(target color.RGBA, tolerance uint8, region Region) ([]image.Point, error) {
	rect, img, err := e.captureRegion(region)
	if err != nil {
		return nil, err
	}

	offset := rect.Min.Sub(img.Bounds().Min)
	matches := ColorMatch(img, target, tolerance)
	for i := range matches {
		matches[i] = matches[i].Add(offset)
	}
	return matches, nil
}

// RegionColor returns the average color of region
func (e *Engine) RegionColor(region Region) (color.RGBA, error) {
	_, img, err := e.captureRegion(region)
	if err != nil {
		return color.RGBA{}, err
	}
	return RegionAverage(img, img.Bounds()), nil
}

// CheckColor checks if a screen pixel is within tolerance of expected
func (e *Engine) CheckColor(x, y int, expected color.Color, tolerance uint8) (bool, error) {
	actual, err := e.PixelColor(x, y)
	if err != nil {
		return false, err
	}

	r1, g1, b1, _ := actual.RGBA()
	r2, g2, b2, _ := expected.RGBA()

	// Convert to 8-bit
	r1, g1, b1 = r1>>8, g1>>8, b1>>8
	r2, g2, b2 = r2>>8, g2>>8, b2>>8

	distance := colorDistance(uint8(r1), uint8(g1), uint8(b1), uint8(r2), uint8(g2), uint8(b2))
	return distance <= tolerance, nil
}

// PixelColor returns the color of a screen pixel
func (e *Engine) PixelColor(x, y int) (color.RGBA, error) {
	screen, err := e.screenBounds()
	if err != nil {
		return color.RGBA{}, err
	}
	if !(image.Point{X: x, Y: y}).In(screen) {
		return color.RGBA{}, fmt.Errorf("%w: pixel (%d,%d) outside screen", ErrInvalidArgument, x, y)
	}

	img, err := e.capture(image.Rect(x, y, x+1, y+1))
	if err != nil {
		return color.RGBA{}, err
	}
	return img.RGBAAt(img.Bounds().Min.X, img.Bounds().Min.Y), nil
}

// Needle management

func (e *Engine) loadNeedle(key string) (*Needle, error) {
	if key == "" {
		return nil, fmt.Errorf("%w: empty needle key", ErrInvalidArgument)
	}

	e.mu.RLock()
	source := e.source
	e.mu.RUnlock()

	// Catalog needles are cached by the catalog itself, which drops them
	// when assets reload
	if source != nil && source.Has(key) {
		return source.Needle(key)
	}

	e.mu.RLock()
	cached, ok := e.needleCache[key]
	e.mu.RUnlock()
	if ok {
		return cached, nil
	}

	if _, err := os.Stat(key); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrAssetNotFound, key)
	}
	needle, err := LoadNeedleFile(key)
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	e.needleCache[key] = needle
	e.mu.Unlock()

	return needle, nil
}

// ClearNeedleCache drops needles loaded from file paths
func (e *Engine) ClearNeedleCache() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.needleCache = make(map[string]*Needle)
}

// applyTemplateDefaults fills region and variation from the catalog when the
// caller did not set them. Needles outside the catalog get the fallback
// variation.
func (e *Engine) applyTemplateDefaults(key string, o *searchOptions) {
	if !o.variationSet {
		o.variation = o.fallback
	}

	e.mu.RLock()
	ts, ok := e.source.(TemplateSource)
	e.mu.RUnlock()
	if !ok {
		return
	}

	tmpl, found := ts.Get(key)
	if !found {
		return
	}
	if !o.regionSet && tmpl.Region != nil {
		o.region = *tmpl.Region
	}
	if !o.variationSet {
		o.variation = tmpl.Variation
	}
}

// Capture with bounded retry

func (e *Engine) screenBounds() (image.Rectangle, error) {
	var lastErr error
	for attempt := 0; attempt < e.captureAttempts; attempt++ {
		if attempt > 0 {
			time.Sleep(e.retryDelay)
		}
		rect, err := e.capturer.ScreenBounds()
		if err == nil && !rect.Empty() {
			return rect, nil
		}
		if err == nil {
			err = fmt.Errorf("%w: empty screen bounds", ErrCaptureFailed)
		}
		lastErr = err
	}
	return image.Rectangle{}, wrapCapture(lastErr)
}

func (e *Engine) capture(rect image.Rectangle) (*image.RGBA, error) {
	var lastErr error
	for attempt := 0; attempt < e.captureAttempts; attempt++ {
		if attempt > 0 {
			time.Sleep(e.retryDelay)
		}
		img, err := e.capturer.Capture(rect)
		if err == nil {
			return img, nil
		}
		lastErr = err
	}
	return nil, wrapCapture(lastErr)
}

func wrapCapture(err error) error {
	if errors.Is(err, ErrCaptureFailed) {
		return err
	}
	return fmt.Errorf("%w: %v", ErrCaptureFailed, err)
}

func (e *Engine) logFailure(needle string, err error) {
	key := fmt.Sprintf("%s|%d", needle, StatusCode(err))
	if !e.throttle.Allow(key) {
		return
	}
	e.logger.ErrorWithContext("Image search could not run", err, map[string]interface{}{
		"needle": needle,
		"status": StatusCode(err),
	})
}
