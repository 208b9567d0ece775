package cv

import "image/color"

// Template describes a catalog needle and its default search parameters
type Template struct {
	Name        string
	Category    string
	Path        string      // File path, if the needle lives on disk
	Data        []byte      // Encoded image bytes, if embedded in the catalog
	Transparent *color.RGBA // Optional transparent color key
	Region      *Region     // Optional default search region
	Variation   int         // Default variation (0-100)
}

// Builder methods

// InRegion sets the default search region for the template
func (t Template) InRegion(x1, y1, x2, y2 int) Template {
	region := NewRegion(x1, y1, x2, y2)
	t.Region = &region
	return t
}

// WithVariation sets the default variation
func (t Template) WithVariation(variation int) Template {
	t.Variation = variation
	return t
}

// WithTransparent sets the transparent color key
func (t Template) WithTransparent(c color.RGBA) Template {
	t.Transparent = &c
	return t
}
