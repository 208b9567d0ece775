package cv

import (
	"fmt"
	"image"
	"sync"

	"github.com/kbinani/screenshot"
)

// Capturer grabs pixel data from the display
type Capturer interface {
	// Capture returns the pixels of rect (screen coordinates), anchored at (0,0)
	Capture(rect image.Rectangle) (*image.RGBA, error)
	// ScreenBounds returns the capturable screen rectangle
	ScreenBounds() (image.Rectangle, error)
}

// ScreenCapturer captures the live desktop
type ScreenCapturer struct {
	display int
}

// NewScreenCapturer creates a capturer for the given display index (0 = primary)
func NewScreenCapturer(display int) *ScreenCapturer {
	return &ScreenCapturer{display: display}
}

// ScreenBounds returns the bounds of the configured display
func (sc *ScreenCapturer) ScreenBounds() (image.Rectangle, error) {
	n := screenshot.NumActiveDisplays()
	if n == 0 {
		return image.Rectangle{}, fmt.Errorf("%w: no active display", ErrCaptureFailed)
	}
	if sc.display < 0 || sc.display >= n {
		return image.Rectangle{}, fmt.Errorf("%w: display %d out of range (%d active)", ErrCaptureFailed, sc.display, n)
	}
	return screenshot.GetDisplayBounds(sc.display), nil
}

// Capture grabs rect from the screen
func (sc *ScreenCapturer) Capture(rect image.Rectangle) (*image.RGBA, error) {
	img, err := screenshot.CaptureRect(rect)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCaptureFailed, err)
	}
	if img == nil {
		return nil, fmt.Errorf("%w: empty capture", ErrCaptureFailed)
	}
	return ToRGBA(img), nil
}

// StaticCapturer serves captures from a fixed image, as if it were the screen.
// Used for offline needle debugging and tests.
type StaticCapturer struct {
	mu     sync.RWMutex
	screen *image.RGBA
	err    error
}

// NewStaticCapturer creates a capturer over img
func NewStaticCapturer(img image.Image) *StaticCapturer {
	return &StaticCapturer{screen: ToRGBA(img)}
}

// SetScreen replaces the image served as the screen
func (sc *StaticCapturer) SetScreen(img image.Image) {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	sc.screen = ToRGBA(img)
}

// SetError makes every subsequent capture fail with err (nil clears it)
func (sc *StaticCapturer) SetError(err error) {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	sc.err = err
}

// ScreenBounds returns the bounds of the served image
func (sc *StaticCapturer) ScreenBounds() (image.Rectangle, error) {
	sc.mu.RLock()
	defer sc.mu.RUnlock()
	if sc.screen == nil {
		return image.Rectangle{}, fmt.Errorf("%w: no screen image", ErrCaptureFailed)
	}
	return sc.screen.Bounds(), nil
}

// Capture copies rect out of the served image
func (sc *StaticCapturer) Capture(rect image.Rectangle) (*image.RGBA, error) {
	sc.mu.RLock()
	defer sc.mu.RUnlock()
	if sc.err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCaptureFailed, sc.err)
	}
	if sc.screen == nil {
		return nil, fmt.Errorf("%w: no screen image", ErrCaptureFailed)
	}
	return CropRegion(sc.screen, rect), nil
}
