package window

import (
	"errors"
	"fmt"
	"image"
	"time"
)

var (
	// ErrWindowNotFound is returned when no target process or window exists
	ErrWindowNotFound = errors.New("target window not found")
	// ErrUnsupported is returned by window servers on platforms without one
	ErrUnsupported = errors.New("window enumeration not supported on this platform")
)

// Handle identifies the target application's process
type Handle struct {
	PID  int32
	Name string
}

func (h *Handle) String() string {
	if h == nil {
		return "<nil>"
	}
	return fmt.Sprintf("%s (pid %d)", h.Name, h.PID)
}

// Bounds is the on-screen rectangle of the target window
type Bounds struct {
	X, Y          int
	Width, Height int
	UpdatedAt     time.Time
	Fallback      bool // True when the window could not be resolved and the display was used
}

// Rect returns the bounds as an image.Rectangle
func (b Bounds) Rect() image.Rectangle {
	return image.Rect(b.X, b.Y, b.X+b.Width, b.Y+b.Height)
}

// Empty reports whether the bounds have no area
func (b Bounds) Empty() bool {
	return b.Width <= 0 || b.Height <= 0
}

// Process is a running OS process
type Process struct {
	PID  int32
	Name string
}

// Info describes a top-level window reported by the window server
type Info struct {
	ID     uint64
	PID    int32
	Title  string
	Owner  string // Owning application name or WM_CLASS
	X, Y   int
	Width  int
	Height int
}

// Rect returns the window rectangle
func (w Info) Rect() image.Rectangle {
	return image.Rect(w.X, w.Y, w.X+w.Width, w.Y+w.Height)
}

// ProcessLister enumerates running processes
type ProcessLister interface {
	Processes() ([]Process, error)
	Exists(pid int32) (bool, error)
}

// Server enumerates on-screen windows
type Server interface {
	Windows() ([]Info, error)
	// ActivePID returns the PID owning the focused window
	ActivePID() (int32, error)
}

// Display reports the size of the display used for fallback bounds
type Display interface {
	Bounds() (image.Rectangle, error)
}
