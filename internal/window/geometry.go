package window

import (
	"image"
	"sync"
)

// Geometry is the current window geometry shared by everything that does
// window-relative coordinate math. One Geometry belongs to one Locator.
type Geometry struct {
	mu     sync.RWMutex
	bounds Bounds
	valid  bool
}

// Set records new bounds
func (g *Geometry) Set(b Bounds) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.bounds = b
	g.valid = true
}

// Clear marks the geometry unknown
func (g *Geometry) Clear() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.bounds = Bounds{}
	g.valid = false
}

// Get returns the last recorded bounds
func (g *Geometry) Get() (Bounds, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.bounds, g.valid
}

// Translate converts window-relative coordinates to absolute screen
// coordinates, applying a vertical calibration offset.
func (g *Geometry) Translate(x, y, yOffset int) image.Point {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return image.Pt(g.bounds.X+x, g.bounds.Y+y+yOffset)
}
