package cv

import (
	"fmt"
	"image"
	"sort"
)

// Candidate is a scored needle placement
type Candidate struct {
	Point image.Point
	Score float64
}

// Direction selects the order in which accepted placements are scanned.
// Values follow the classic ImageSearch numbering (1-8).
type Direction int

const (
	// ScanTopLeft scans rows top to bottom, each left to right
	ScanTopLeft Direction = iota + 1
	// ScanBottomLeft scans rows bottom to top, each left to right
	ScanBottomLeft
	// ScanBottomRight scans rows bottom to top, each right to left
	ScanBottomRight
	// ScanTopRight scans rows top to bottom, each right to left
	ScanTopRight
	// ScanLeftTop scans columns left to right, each top to bottom
	ScanLeftTop
	// ScanLeftBottom scans columns left to right, each bottom to top
	ScanLeftBottom
	// ScanRightBottom scans columns right to left, each bottom to top
	ScanRightBottom
	// ScanRightTop scans columns right to left, each top to bottom
	ScanRightTop
)

// Valid reports whether d is one of the eight scan orders
func (d Direction) Valid() bool {
	return d >= ScanTopLeft && d <= ScanRightTop
}

func (d Direction) String() string {
	switch d {
	case ScanTopLeft:
		return "top-left"
	case ScanBottomLeft:
		return "bottom-left"
	case ScanBottomRight:
		return "bottom-right"
	case ScanTopRight:
		return "top-right"
	case ScanLeftTop:
		return "left-top"
	case ScanLeftBottom:
		return "left-bottom"
	case ScanRightBottom:
		return "right-bottom"
	case ScanRightTop:
		return "right-top"
	default:
		return fmt.Sprintf("Direction(%d)", int(d))
	}
}

// key returns the (primary, secondary) sort key of p under d
func (d Direction) key(p image.Point) (int, int) {
	switch d {
	case ScanBottomLeft:
		return -p.Y, p.X
	case ScanBottomRight:
		return -p.Y, -p.X
	case ScanTopRight:
		return p.Y, -p.X
	case ScanLeftTop:
		return p.X, p.Y
	case ScanLeftBottom:
		return p.X, -p.Y
	case ScanRightBottom:
		return -p.X, -p.Y
	case ScanRightTop:
		return -p.X, p.Y
	default:
		return p.Y, p.X
	}
}

// Less orders a before b under d
func (d Direction) Less(a, b image.Point) bool {
	a1, a2 := d.key(a)
	b1, b2 := d.key(b)
	if a1 != b1 {
		return a1 < b1
	}
	return a2 < b2
}

// Suppress sorts candidates by direction and greedily keeps each one whose
// needle box (w x h) does not overlap a box already kept. The result is an
// independent set ordered by direction.
func Suppress(cands []Candidate, w, h int, dir Direction) []Candidate {
	if len(cands) == 0 {
		return nil
	}
	if !dir.Valid() {
		dir = ScanTopLeft
	}
	if w < 1 {
		w = 1
	}
	if h < 1 {
		h = 1
	}

	sorted := make([]Candidate, len(cands))
	copy(sorted, cands)
	sort.SliceStable(sorted, func(i, j int) bool {
		return dir.Less(sorted[i].Point, sorted[j].Point)
	})

	// Kept boxes are bucketed on a w x h grid. Two boxes can only overlap
	// when their cells are at most one apart on each axis.
	grid := make(map[image.Point][]image.Point)
	cell := func(p image.Point) image.Point {
		return image.Point{X: floorDiv(p.X, w), Y: floorDiv(p.Y, h)}
	}

	kept := make([]Candidate, 0, 8)
	for _, c := range sorted {
		if overlapsKept(grid, cell(c.Point), c.Point, w, h) {
			continue
		}
		kept = append(kept, c)
		k := cell(c.Point)
		grid[k] = append(grid[k], c.Point)
	}

	return kept
}

func overlapsKept(grid map[image.Point][]image.Point, at, p image.Point, w, h int) bool {
	for dy := -1; dy <= 1; dy++ {
		for dx := -1; dx <= 1; dx++ {
			for _, q := range grid[image.Point{X: at.X + dx, Y: at.Y + dy}] {
				if abs(p.X-q.X) < w && abs(p.Y-q.Y) < h {
					return true
				}
			}
		}
	}
	return false
}

func floorDiv(a, b int) int {
	q := a / b
	if (a%b != 0) && ((a < 0) != (b < 0)) {
		q--
	}
	return q
}
