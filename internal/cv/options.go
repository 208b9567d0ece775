package cv

import (
	"fmt"
	"image/color"
)

// Option configures a single search
type Option func(*searchOptions)

type searchOptions struct {
	region       Region
	regionSet    bool
	variation    int
	variationSet bool
	fallback     int
	direction    Direction
	center       bool
	transparent  *color.RGBA
}

func newSearchOptions(opts []Option) *searchOptions {
	o := &searchOptions{direction: ScanTopLeft}
	for _, opt := range opts {
		if opt != nil {
			opt(o)
		}
	}
	return o
}

func (o *searchOptions) validate() error {
	if o.variation < 0 || o.variation > 100 {
		return fmt.Errorf("%w: variation %d outside 0-100", ErrInvalidArgument, o.variation)
	}
	if !o.direction.Valid() {
		return fmt.Errorf("%w: direction %d", ErrInvalidArgument, int(o.direction))
	}
	return nil
}

// threshold converts variation into a similarity acceptance threshold
func (o *searchOptions) threshold() float64 {
	return float64(100-o.variation) / 100
}

// WithRegion limits the search to a screen rectangle. An empty region
// searches the whole screen.
func WithRegion(r Region) Option {
	return func(opts *searchOptions) {
		opts.region = r
		opts.regionSet = true
	}
}

// WithVariation sets the 0-100 tolerance; threshold = (100-variation)/100
func WithVariation(v int) Option {
	return func(opts *searchOptions) {
		opts.variation = v
		opts.variationSet = true
	}
}

// WithDefaultVariation sets the variation used when neither the caller nor
// the needle's catalog entry supplies one
func WithDefaultVariation(v int) Option {
	return func(opts *searchOptions) {
		opts.fallback = v
	}
}

// WithDirection sets the scan order used to rank overlapping matches
func WithDirection(d Direction) Option {
	return func(opts *searchOptions) {
		opts.direction = d
	}
}

// WithCenter returns needle centers instead of top-left corners
func WithCenter(center bool) Option {
	return func(opts *searchOptions) {
		opts.center = center
	}
}

// WithTransparent masks needle pixels of this color, overriding the needle's own key
func WithTransparent(c color.RGBA) Option {
	return func(opts *searchOptions) {
		opts.transparent = &c
	}
}
