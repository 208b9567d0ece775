package cv

import (
	"image"
	"image/color"
	"math"
	"math/cmplx"

	"gonum.org/v1/gonum/dsp/fourier"
)

// directWorkLimit is the placement count times needle pixel count up to
// which windows are summed directly. Beyond it the FFT path is cheaper.
const directWorkLimit = 1 << 22

// matchSpectral computes the three window sums for every placement as
// cross-correlations in the frequency domain:
//
//	q  = sum over channels of corr(haystack_c, needle_c)
//	s  = corr(sum over channels of haystack_c, mask)
//	s2 = corr(sum over channels of haystack_c^2, mask)
//
// Masked needle pixels are zero in both needle and mask. Every sum is an
// integer far below 2^53 and the transform error for screen-sized inputs
// stays orders of magnitude under 0.5, so rounding recovers the exact sums.
// The haystack is never padded beyond its own size: a valid placement
// never reads past the haystack edge, so the circular wrap is never seen.
func matchSpectral(haystack, needle *image.RGBA, transparent *color.RGBA, model *needleModel, sm *SimilarityMap) {
	p := newPlan2D(fftSize(haystack.Bounds().Dx()), fftSize(haystack.Bounds().Dy()))

	masked := func(px []uint8) bool {
		return transparent != nil && px[0] == transparent.R && px[1] == transparent.G && px[2] == transparent.B
	}

	q := make([]complex128, p.spectrumLen())
	sum := make([]complex128, p.spectrumLen())
	for c := 0; c < 3; c++ {
		fh := p.forward(p.load(haystack, func(px []uint8) float64 {
			return float64(px[c])
		}))
		fn := p.forward(p.load(needle, func(px []uint8) float64 {
			if masked(px) {
				return 0
			}
			return float64(px[c])
		}))
		for k := range q {
			q[k] += fh[k] * cmplx.Conj(fn[k])
			sum[k] += fh[k]
		}
	}

	fm := p.forward(p.load(needle, func(px []uint8) float64 {
		if masked(px) {
			return 0
		}
		return 1
	}))
	sq := p.forward(p.load(haystack, func(px []uint8) float64 {
		r, g, b := float64(px[0]), float64(px[1]), float64(px[2])
		return r*r + g*g + b*b
	}))
	for k, m := range fm {
		m = cmplx.Conj(m)
		sum[k] *= m
		sq[k] *= m
	}

	qs := p.inverse(q)
	ss := p.inverse(sum)
	s2s := p.inverse(sq)

	scale := float64(p.w * p.h)
	exact := func(v float64) int64 { return int64(math.Round(v / scale)) }

	parallelRange(sm.Height, func(y0, y1 int) {
		for y := y0; y < y1; y++ {
			for x := 0; x < sm.Width; x++ {
				i := y*p.w + x
				sm.Scores[y*sm.Width+x] = model.scoreSums(exact(ss[i]), exact(s2s[i]), exact(qs[i]))
			}
		}
	})
}

// fftSize returns the smallest n' >= n whose only prime factors are 2, 3
// and 5, which the transform handles efficiently
func fftSize(n int) int {
	if n < 1 {
		return 1
	}
	for ; ; n++ {
		m := n
		for _, f := range [...]int{2, 3, 5} {
			for m%f == 0 {
				m /= f
			}
		}
		if m == 1 {
			return n
		}
	}
}

// plan2D transforms real w x h planes. Rows go through a real FFT, leaving
// w/2+1 complex columns that are then transformed in turn. Spectra are
// stored column-major: spec[x*h+y].
type plan2D struct {
	w, h int
	cw   int
}

func newPlan2D(w, h int) *plan2D {
	return &plan2D{w: w, h: h, cw: w/2 + 1}
}

func (p *plan2D) spectrumLen() int {
	return p.cw * p.h
}

// load copies img into a zeroed row-major w x h plane, one value per pixel
func (p *plan2D) load(img *image.RGBA, value func(px []uint8) float64) []float64 {
	b := img.Bounds()
	plane := make([]float64, p.w*p.h)
	for y := 0; y < b.Dy(); y++ {
		row := img.Pix[y*img.Stride : y*img.Stride+b.Dx()*4]
		dst := plane[y*p.w : y*p.w+b.Dx()]
		for x := range dst {
			dst[x] = value(row[x*4 : x*4+3])
		}
	}
	return plane
}

// forward returns the spectrum of a row-major plane
func (p *plan2D) forward(plane []float64) []complex128 {
	spec := make([]complex128, p.spectrumLen())
	parallelRange(p.h, func(y0, y1 int) {
		fft := fourier.NewFFT(p.w)
		row := make([]complex128, p.cw)
		for y := y0; y < y1; y++ {
			fft.Coefficients(row, plane[y*p.w:(y+1)*p.w])
			for x, c := range row {
				spec[x*p.h+y] = c
			}
		}
	})
	p.columns(spec, true)
	return spec
}

// inverse returns the row-major plane of spec, scaled by w*h. spec is
// overwritten.
func (p *plan2D) inverse(spec []complex128) []float64 {
	p.columns(spec, false)
	plane := make([]float64, p.w*p.h)
	parallelRange(p.h, func(y0, y1 int) {
		fft := fourier.NewFFT(p.w)
		row := make([]complex128, p.cw)
		for y := y0; y < y1; y++ {
			for x := range row {
				row[x] = spec[x*p.h+y]
			}
			fft.Sequence(plane[y*p.w:(y+1)*p.w], row)
		}
	})
	return plane
}

func (p *plan2D) columns(spec []complex128, forward bool) {
	parallelRange(p.cw, func(x0, x1 int) {
		fft := fourier.NewCmplxFFT(p.h)
		buf := make([]complex128, p.h)
		for x := x0; x < x1; x++ {
			col := spec[x*p.h : (x+1)*p.h]
			copy(buf, col)
			if forward {
				fft.Coefficients(col, buf)
			} else {
				fft.Sequence(col, buf)
			}
		}
	})
}
