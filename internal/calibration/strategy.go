package calibration

import (
	"errors"
	"fmt"

	"jordanella.com/natro-go/internal/cv"
	"jordanella.com/natro-go/internal/window"
)

// ErrReferenceNotFound is returned when the reference sprite is not visible
var ErrReferenceNotFound = errors.New("calibration reference not visible")

// Strategy derives the vertical UI offset of a window
type Strategy interface {
	Name() string
	Calibrate(h *window.Handle, b window.Bounds) (int, error)
}

// ZeroStrategy always reports no offset
type ZeroStrategy struct{}

func (ZeroStrategy) Name() string { return "zero" }

func (ZeroStrategy) Calibrate(*window.Handle, window.Bounds) (int, error) {
	return 0, nil
}

// Finder runs an image search; *cv.Engine satisfies it
type Finder interface {
	Find(needle string, opts ...cv.Option) (*cv.SearchResult, error)
}

// ReferenceStrategy finds a known sprite near the top of the window and
// reports how far it sits from where it is expected
type ReferenceStrategy struct {
	Finder     Finder
	Needle     string // Catalog key of the reference sprite
	ExpectedY  int    // Window-relative y where the sprite sits with no offset
	BandHeight int    // Height of the top band searched; 0 searches the whole window
	Variation  int
}

func (s ReferenceStrategy) Name() string { return "reference:" + s.Needle }

// Calibrate returns foundY - (windowY + ExpectedY)
func (s ReferenceStrategy) Calibrate(_ *window.Handle, b window.Bounds) (int, error) {
	if s.Finder == nil || s.Needle == "" {
		return 0, fmt.Errorf("%w: reference strategy not configured", cv.ErrInvalidArgument)
	}

	band := b.Height
	if s.BandHeight > 0 && s.BandHeight < band {
		band = s.BandHeight
	}
	region := cv.NewRegion(b.X, b.Y, b.X+b.Width, b.Y+band)

	res, err := s.Finder.Find(s.Needle, cv.WithRegion(region), cv.WithVariation(s.Variation))
	if err != nil {
		return 0, fmt.Errorf("reference search failed: %w", err)
	}

	p, ok := res.First()
	if !ok {
		return 0, ErrReferenceNotFound
	}
	return p.Y - (b.Y + s.ExpectedY), nil
}
