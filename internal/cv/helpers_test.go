package cv

import (
	"image"
	"image/color"
)

var (
	gray = color.RGBA{128, 128, 128, 255}
	red  = color.RGBA{255, 0, 0, 255}
)

func solid(w, h int, c color.RGBA) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetRGBA(x, y, c)
		}
	}
	return img
}

// textured returns a needle with enough structure that shifted placements
// never correlate perfectly. Channel values are even.
func textured(w, h int) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetRGBA(x, y, color.RGBA{
				R: uint8((x*37 + y*11) % 100 * 2),
				G: uint8((x*13 + y*29) % 100 * 2),
				B: uint8((x*7 + y*3) % 100 * 2),
				A: 255,
			})
		}
	}
	return img
}

// paste copies src onto dst with its top-left corner at p
func paste(dst, src *image.RGBA, p image.Point) {
	b := src.Bounds()
	for y := 0; y < b.Dy(); y++ {
		for x := 0; x < b.Dx(); x++ {
			dst.SetRGBA(p.X+x, p.Y+y, src.RGBAAt(b.Min.X+x, b.Min.Y+y))
		}
	}
}

// fakeSource is an in-memory needle catalog
type fakeSource struct {
	needles   map[string]*Needle
	templates map[string]Template
}

func newFakeSource() *fakeSource {
	return &fakeSource{
		needles:   make(map[string]*Needle),
		templates: make(map[string]Template),
	}
}

func (f *fakeSource) add(name string, img *image.RGBA) {
	f.needles[name] = NewNeedle(name, img, nil)
}

func (f *fakeSource) Has(key string) bool {
	_, ok := f.needles[key]
	return ok
}

func (f *fakeSource) Needle(key string) (*Needle, error) {
	n, ok := f.needles[key]
	if !ok {
		return nil, ErrAssetNotFound
	}
	return n, nil
}

func (f *fakeSource) Get(name string) (Template, bool) {
	t, ok := f.templates[name]
	return t, ok
}
