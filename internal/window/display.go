package window

import (
	"fmt"
	"image"

	"github.com/kbinani/screenshot"
)

// ScreenDisplay reports a physical display's bounds
type ScreenDisplay struct {
	Index int
}

// Bounds returns the display rectangle, re-anchored at the origin
func (d ScreenDisplay) Bounds() (image.Rectangle, error) {
	n := screenshot.NumActiveDisplays()
	if n == 0 {
		return image.Rectangle{}, fmt.Errorf("no active display")
	}
	if d.Index < 0 || d.Index >= n {
		return image.Rectangle{}, fmt.Errorf("display %d out of range (%d active)", d.Index, n)
	}
	b := screenshot.GetDisplayBounds(d.Index)
	return image.Rect(0, 0, b.Dx(), b.Dy()), nil
}
