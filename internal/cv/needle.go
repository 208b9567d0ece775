package cv

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"os"
	"strconv"
	"strings"

	_ "golang.org/x/image/bmp"
)

// Needle is an immutable reference image searched for on screen.
type Needle struct {
	Name        string
	Image       *image.RGBA
	Transparent *color.RGBA // Optional: pixels of this color are ignored
}

// Width returns the needle width in pixels
func (n *Needle) Width() int {
	return n.Image.Bounds().Dx()
}

// Height returns the needle height in pixels
func (n *Needle) Height() int {
	return n.Image.Bounds().Dy()
}

// Size returns the needle dimensions as a point
func (n *Needle) Size() image.Point {
	return n.Image.Bounds().Size()
}

// NewNeedle wraps an image as a needle
func NewNeedle(name string, img image.Image, transparent *color.RGBA) *Needle {
	return &Needle{
		Name:        name,
		Image:       ToRGBA(img),
		Transparent: transparent,
	}
}

// LoadNeedleFile reads a needle from a PNG, BMP, GIF or JPEG file
func LoadNeedleFile(path string) (*Needle, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrAssetNotFound, path)
		}
		return nil, fmt.Errorf("%w: %s: %v", ErrImageDecode, path, err)
	}
	return DecodeNeedle(path, data, nil)
}

// DecodeNeedle decodes encoded image bytes into a needle
func DecodeNeedle(name string, data []byte, transparent *color.RGBA) (*Needle, error) {
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrImageDecode, name, err)
	}
	if img.Bounds().Empty() {
		return nil, fmt.Errorf("%w: %s: empty image", ErrImageDecode, name)
	}
	return NewNeedle(name, img, transparent), nil
}

// ToRGBA converts any image to an *image.RGBA anchored at (0,0)
func ToRGBA(img image.Image) *image.RGBA {
	bounds := img.Bounds()
	if rgba, ok := img.(*image.RGBA); ok && bounds.Min == (image.Point{}) {
		return rgba
	}
	rgba := image.NewRGBA(image.Rect(0, 0, bounds.Dx(), bounds.Dy()))
	draw.Draw(rgba, rgba.Bounds(), img, bounds.Min, draw.Src)
	return rgba
}

// ParseColorKey parses "#RRGGBB", "0xRRGGBB" or "RRGGBB" into a color key.
// An empty string returns nil.
func ParseColorKey(s string) (*color.RGBA, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	s = strings.TrimPrefix(s, "#")
	s = strings.TrimPrefix(strings.TrimPrefix(s, "0x"), "0X")
	if len(s) != 6 {
		return nil, fmt.Errorf("%w: color key %q", ErrInvalidArgument, s)
	}
	v, err := strconv.ParseUint(s, 16, 32)
	if err != nil {
		return nil, fmt.Errorf("%w: color key %q", ErrInvalidArgument, s)
	}
	return &color.RGBA{R: uint8(v >> 16), G: uint8(v >> 8), B: uint8(v), A: 255}, nil
}
