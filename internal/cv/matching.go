package cv

import (
	"fmt"
	"image"
	"image/color"
	"math"
	"runtime"
	"sync"
)

// scoreEpsilon absorbs float rounding when comparing scores to a threshold,
// so an exact copy always passes a threshold of 1.0.
const scoreEpsilon = 1e-9

// minParallelRows is the placement row count below which matching stays on
// the calling goroutine.
const minParallelRows = 32

// SimilarityMap holds a score for every top-left placement of a needle
// within a haystack. Scores are in [0,1].
type SimilarityMap struct {
	Width  int // Placements along x (haystack width - needle width + 1)
	Height int // Placements along y
	Scores []float64
}

// At returns the score for the placement with top-left corner (x, y)
func (m *SimilarityMap) At(x, y int) float64 {
	return m.Scores[y*m.Width+x]
}

// Max returns the best placement and its score
func (m *SimilarityMap) Max() (image.Point, float64) {
	best := -1.0
	var loc image.Point
	for y := 0; y < m.Height; y++ {
		row := m.Scores[y*m.Width : (y+1)*m.Width]
		for x, s := range row {
			if s > best {
				best = s
				loc = image.Point{X: x, Y: y}
			}
		}
	}
	return loc, best
}

// Candidates returns every placement scoring at or above threshold, in
// row-major order.
func (m *SimilarityMap) Candidates(threshold float64) []Candidate {
	var out []Candidate
	cutoff := threshold - scoreEpsilon
	for y := 0; y < m.Height; y++ {
		row := m.Scores[y*m.Width : (y+1)*m.Width]
		for x, s := range row {
			if s >= cutoff {
				out = append(out, Candidate{Point: image.Point{X: x, Y: y}, Score: s})
			}
		}
	}
	return out
}

// needleModel is the needle flattened to the samples that take part in
// scoring, with haystack byte offsets precomputed for one haystack stride.
type needleModel struct {
	offsets []int   // Byte offset of each included pixel relative to the placement origin
	values  []int64 // R,G,B per included pixel
	n       int64   // Sample count (3 per included pixel)
	sum     int64
	varN    int64 // n*sum(v^2) - sum(v)^2
}

func buildNeedleModel(needle *image.RGBA, transparent *color.RGBA, haystackStride int) *needleModel {
	b := needle.Bounds()
	w, h := b.Dx(), b.Dy()
	m := &needleModel{
		offsets: make([]int, 0, w*h),
		values:  make([]int64, 0, w*h*3),
	}

	var sumSq int64
	for ny := 0; ny < h; ny++ {
		for nx := 0; nx < w; nx++ {
			idx := ny*needle.Stride + nx*4
			r, g, bl := needle.Pix[idx], needle.Pix[idx+1], needle.Pix[idx+2]
			if transparent != nil && r == transparent.R && g == transparent.G && bl == transparent.B {
				continue
			}
			m.offsets = append(m.offsets, ny*haystackStride+nx*4)
			for _, v := range [3]int64{int64(r), int64(g), int64(bl)} {
				m.values = append(m.values, v)
				m.sum += v
				sumSq += v * v
			}
		}
	}

	m.n = int64(len(m.values))
	m.varN = m.n*sumSq - m.sum*m.sum
	return m
}

// MatchTemplate scores every placement of needle within haystack using
// zero-mean normalized cross-correlation over the RGB channels. The score is
// invariant to uniform brightness scaling and offset. Needle pixels equal to
// transparent are masked out of the computation. Large searches correlate
// in the frequency domain; both paths recover the same integer window sums,
// so they produce identical scores.
func MatchTemplate(haystack, needle *image.RGBA, transparent *color.RGBA) (*SimilarityMap, error) {
	if haystack == nil || needle == nil {
		return nil, fmt.Errorf("%w: nil image", ErrInvalidArgument)
	}
	haystack = ToRGBA(haystack)
	needle = ToRGBA(needle)

	hb, nb := haystack.Bounds(), needle.Bounds()
	if nb.Empty() {
		return nil, fmt.Errorf("%w: empty needle", ErrInvalidArgument)
	}
	if nb.Dx() > hb.Dx() || nb.Dy() > hb.Dy() {
		// Needle cannot be placed anywhere; an empty map means no candidates.
		return &SimilarityMap{}, nil
	}

	model := buildNeedleModel(needle, transparent, haystack.Stride)
	if model.n == 0 {
		return nil, fmt.Errorf("%w: needle is fully transparent", ErrInvalidArgument)
	}

	sm := newSimilarityMap(hb, nb)
	work := int64(sm.Width) * int64(sm.Height) * int64(len(model.offsets))
	if work <= directWorkLimit {
		matchDirect(haystack, model, sm)
	} else {
		matchSpectral(haystack, needle, transparent, model, sm)
	}
	return sm, nil
}

func newSimilarityMap(haystack, needle image.Rectangle) *SimilarityMap {
	sm := &SimilarityMap{
		Width:  haystack.Dx() - needle.Dx() + 1,
		Height: haystack.Dy() - needle.Dy() + 1,
	}
	sm.Scores = make([]float64, sm.Width*sm.Height)
	return sm
}

// matchDirect sums every window in place
func matchDirect(haystack *image.RGBA, model *needleModel, sm *SimilarityMap) {
	parallelRange(sm.Height, func(y0, y1 int) {
		for y := y0; y < y1; y++ {
			for x := 0; x < sm.Width; x++ {
				sm.Scores[y*sm.Width+x] = model.score(haystack.Pix, y*haystack.Stride+x*4)
			}
		}
	})
}

// parallelRange splits [0,n) into one band per CPU and runs fn on each band.
// Short ranges run on the calling goroutine.
func parallelRange(n int, fn func(lo, hi int)) {
	workers := runtime.GOMAXPROCS(0)
	if n < minParallelRows || workers < 2 {
		fn(0, n)
		return
	}

	band := (n + workers - 1) / workers
	var wg sync.WaitGroup
	for lo := 0; lo < n; lo += band {
		hi := min(lo+band, n)
		wg.Add(1)
		go func(lo, hi int) {
			defer wg.Done()
			fn(lo, hi)
		}(lo, hi)
	}
	wg.Wait()
}

// score computes the correlation of the needle with the haystack window whose
// top-left pixel starts at byte offset base. Sums are kept in integers so an
// exact copy scores exactly 1.
func (m *needleModel) score(pix []uint8, base int) float64 {
	var s, s2, q int64
	for k, off := range m.offsets {
		p := base + off
		h0, h1, h2 := int64(pix[p]), int64(pix[p+1]), int64(pix[p+2])
		v := m.values[k*3 : k*3+3]
		s += h0 + h1 + h2
		s2 += h0*h0 + h1*h1 + h2*h2
		q += h0*v[0] + h1*v[1] + h2*v[2]
	}
	return m.scoreSums(s, s2, q)
}

// scoreSums turns the window sums into a score: s is the sum of haystack
// samples, s2 the sum of their squares and q the sum of haystack*needle.
func (m *needleModel) scoreSums(s, s2, q int64) float64 {
	varH := m.n*s2 - s*s
	switch {
	case varH == 0 && m.varN == 0:
		// Both windows are flat: compare their levels instead.
		diff := math.Abs(float64(s-m.sum)) / float64(m.n)
		return 1 - diff/255
	case varH == 0 || m.varN == 0:
		return 0
	}

	num := m.n*q - m.sum*s
	r := float64(num) / math.Sqrt(float64(varH)*float64(m.varN))
	if r < 0 {
		return 0
	}
	if r > 1 {
		return 1
	}
	return r
}

// Helper functions

func abs(x int) int {
	if x < 0 {
		return -x
	}
	return x
}

// ColorMatch returns every pixel whose color is within tolerance of target
func ColorMatch(haystack *image.RGBA, targetColor color.RGBA, tolerance uint8) []image.Point {
	bounds := haystack.Bounds()
	var matches []image.Point

	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			c := haystack.RGBAAt(x, y)
			if colorDistance(c.R, c.G, c.B, targetColor.R, targetColor.G, targetColor.B) <= tolerance {
				matches = append(matches, image.Point{X: x, Y: y})
			}
		}
	}

	return matches
}

func colorDistance(r1, g1, b1, r2, g2, b2 uint8) uint8 {
	dr := abs(int(r1) - int(r2))
	dg := abs(int(g1) - int(g2))
	db := abs(int(b1) - int(b2))
	return uint8((dr + dg + db) / 3)
}

// RegionAverage calculates average color in a region
func RegionAverage(img *image.RGBA, rect image.Rectangle) color.RGBA {
	rect = rect.Intersect(img.Bounds())
	var r, g, b uint64
	count := 0

	for y := rect.Min.Y; y < rect.Max.Y; y++ {
		for x := rect.Min.X; x < rect.Max.X; x++ {
			c := img.RGBAAt(x, y)
			r += uint64(c.R)
			g += uint64(c.G)
			b += uint64(c.B)
			count++
		}
	}

	if count == 0 {
		return color.RGBA{0, 0, 0, 255}
	}

	return color.RGBA{
		R: uint8(r / uint64(count)),
		G: uint8(g / uint64(count)),
		B: uint8(b / uint64(count)),
		A: 255,
	}
}

// CropRegion extracts a rectangular region from an image, anchored at (0,0)
func CropRegion(img *image.RGBA, rect image.Rectangle) *image.RGBA {
	rect = rect.Intersect(img.Bounds())
	cropped := image.NewRGBA(image.Rect(0, 0, rect.Dx(), rect.Dy()))

	for y := rect.Min.Y; y < rect.Max.Y; y++ {
		for x := rect.Min.X; x < rect.Max.X; x++ {
			cropped.SetRGBA(x-rect.Min.X, y-rect.Min.Y, img.RGBAAt(x, y))
		}
	}

	return cropped
}

// DebugMatch returns a copy of haystack with a red box drawn around each
// match. Points are haystack-local top-left corners.
func DebugMatch(haystack *image.RGBA, points []image.Point, needleSize image.Point) *image.RGBA {
	debug := image.NewRGBA(haystack.Bounds())
	copy(debug.Pix, haystack.Pix)

	for _, p := range points {
		rect := image.Rectangle{Min: p, Max: p.Add(needleSize)}
		drawRect(debug, rect, color.RGBA{255, 0, 0, 255})
	}

	return debug
}

func drawRect(img *image.RGBA, rect image.Rectangle, col color.RGBA) {
	// Top and bottom
	for x := rect.Min.X; x < rect.Max.X; x++ {
		img.SetRGBA(x, rect.Min.Y, col)
		img.SetRGBA(x, rect.Max.Y-1, col)
	}
	// Left and right
	for y := rect.Min.Y; y < rect.Max.Y; y++ {
		img.SetRGBA(rect.Min.X, y, col)
		img.SetRGBA(rect.Max.X-1, y, col)
	}
}
